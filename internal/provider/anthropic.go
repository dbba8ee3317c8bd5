package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/squire/internal/resilience"
)

// defaultMaxTokens caps response size when the request does not specify one.
const defaultMaxTokens = 8192

// AnthropicProvider implements Provider on the Anthropic SDK, with optional
// AWS Bedrock routing. Every call goes through the retry policy, and each
// attempt through the circuit breaker, so transient upstream failures are
// retried while persistent ones are short-circuited.
type AnthropicProvider struct {
	client  anthropic.Client
	model   anthropic.Model
	tracker *TokenTracker
	retrier *resilience.Retrier
	breaker *resilience.CircuitBreaker
}

// NewAnthropic creates a provider for the configured model. retrier and
// breaker may be nil to disable the corresponding layer.
func NewAnthropic(cfg ClientConfig, retrier *resilience.Retrier, breaker *resilience.CircuitBreaker) (*AnthropicProvider, error) {
	client, model, err := newSDKClient(cfg)
	if err != nil {
		return nil, err
	}

	return &AnthropicProvider{
		client:  client,
		model:   model,
		tracker: NewTokenTracker(),
		retrier: retrier,
		breaker: breaker,
	}, nil
}

// Model returns the configured model name.
func (p *AnthropicProvider) Model() anthropic.Model {
	return p.model
}

// Tracker returns the token tracker for this provider.
func (p *AnthropicProvider) Tracker() *TokenTracker {
	return p.tracker
}

// Complete sends the conversation to the API and returns the model's reply.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params := p.buildParams(req)

	var msg *anthropic.Message
	call := func(ctx context.Context) error {
		var err error
		msg, err = p.client.Messages.New(ctx, params)
		return err
	}

	wrapped := call
	if p.breaker != nil {
		inner := wrapped
		wrapped = func(ctx context.Context) error {
			return p.breaker.Execute(ctx, inner)
		}
	}

	var err error
	if p.retrier != nil {
		err = p.retrier.Do(ctx, wrapped)
	} else {
		err = wrapped(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("anthropic call failed: %w", err)
	}

	resp := &Response{
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	p.tracker.Add(msg.Usage.InputTokens, msg.Usage.OutputTokens)

	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: variant.Input,
			})
		}
	}

	return resp, nil
}

// buildParams converts a Request into SDK message parameters.
func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages:  convertMessages(req.Messages),
		Tools:     convertTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	return params
}

// convertMessages maps conversation turns onto SDK message params.
func convertMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		var blocks []anthropic.ContentBlockParamUnion

		for _, tr := range m.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(tr.CallID, tr.Content, tr.IsError))
		}
		if m.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Text))
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
		}

		if len(blocks) == 0 {
			continue
		}

		switch m.Role {
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}

	return out
}

// convertTools maps tool specs onto SDK tool definitions.
func convertTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.InputSchema,
					Required:   t.Required,
				},
			},
		})
	}

	return out
}
