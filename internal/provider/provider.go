// Package provider wraps language-model backends behind a small
// request-response contract and layers retry and circuit-breaking over the
// upstream calls.
package provider

import (
	"context"
	"encoding/json"
)

// Role identifies who produced a conversation message.
type Role string

const (
	// RoleUser is a message from the caller, including tool results.
	RoleUser Role = "user"
	// RoleAssistant is a message from the model.
	RoleAssistant Role = "assistant"
)

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its result.
	ID string
	// Name is the tool to invoke.
	Name string
	// Input is the raw JSON input for the tool.
	Input json.RawMessage
}

// ToolResult is the outcome of one tool call, fed back into the conversation.
type ToolResult struct {
	// CallID is the ID of the ToolCall this answers.
	CallID string
	// Content is the tool output or error message.
	Content string
	// IsError marks the result as a failure.
	IsError bool
}

// Message is one turn of a conversation.
type Message struct {
	Role Role
	// Text is the message content.
	Text string
	// ToolCalls carries tool invocations on assistant turns.
	ToolCalls []ToolCall
	// ToolResults carries tool outcomes on user turns.
	ToolResults []ToolResult
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	// InputSchema is the JSON-schema properties map for the tool input.
	InputSchema map[string]interface{}
	// Required lists the required input fields.
	Required []string
}

// Usage is the token consumption reported for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Request is one completion call: conversation history, system instruction,
// and the tools the model may call.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
	// MaxTokens caps the response size; zero uses the provider default.
	MaxTokens int64
}

// Response is the model's reply: text content, zero or more tool-call
// requests, and the token usage for the call.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider is the consumed model-backend contract. Errors it returns are
// classified by the resilience layer as retryable or fatal.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
