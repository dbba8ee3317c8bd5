package session

import (
	"fmt"
	"log"
	"sync"

	"github.com/ShayCichocki/squire/internal/provider"
)

// Default head/tail retention for compaction.
const (
	defaultKeepHead = 2
	defaultKeepTail = 6
)

// Session owns one conversation history and its context budget. Turn usage
// is recorded as rounds complete; when the budget crosses its threshold the
// session compacts the history before it is handed to the lifecycle manager.
type Session struct {
	mu       sync.Mutex
	messages []provider.Message
	budget   *ContextBudget

	// keepHead/keepTail control how much history survives compaction.
	keepHead int
	keepTail int
}

// New creates a session with the given budget.
func New(budget *ContextBudget) *Session {
	return &Session{
		budget:   budget,
		keepHead: defaultKeepHead,
		keepTail: defaultKeepTail,
	}
}

// Budget returns the session's context budget tracker.
func (s *Session) Budget() *ContextBudget {
	return s.budget
}

// Append adds a message to the history.
func (s *Session) Append(msg provider.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns a copy of the conversation history.
func (s *Session) Messages() []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.Message{}, s.messages...)
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// RecordUsage adds a turn's token usage to the budget.
func (s *Session) RecordUsage(usage provider.Usage) {
	s.budget.AddTokens(usage.Total())
}

// MaybeCompact compacts the history if the budget says it is due. Returns
// true if compaction ran.
func (s *Session) MaybeCompact() bool {
	if !s.budget.ShouldCompact() {
		return false
	}
	s.Compact()
	return true
}

// Compact drops the middle of the conversation, keeping the head (task
// framing) and tail (recent work), and resets the budget to the estimated
// size of what remains.
func (s *Session) Compact() {
	s.mu.Lock()

	if len(s.messages) <= s.keepHead+s.keepTail {
		s.mu.Unlock()
		s.budget.SetUsedTokens(s.estimateAll())
		return
	}

	dropped := len(s.messages) - s.keepHead - s.keepTail
	head := append([]provider.Message{}, s.messages[:s.keepHead]...)
	tail := s.messages[len(s.messages)-s.keepTail:]

	marker := provider.Message{
		Role: provider.RoleUser,
		Text: fmt.Sprintf("[%d earlier messages removed to stay within the context window]", dropped),
	}

	s.messages = append(append(head, marker), tail...)
	s.mu.Unlock()

	used := s.estimateAll()
	s.budget.SetUsedTokens(used)
	log.Printf("[session] compacted history: dropped %d messages, ~%d tokens remain", dropped, used)
}

// estimateAll estimates the token size of the current history.
func (s *Session) estimateAll() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, m := range s.messages {
		total += EstimateTokens(m.Text)
		for _, tr := range m.ToolResults {
			total += EstimateTokens(tr.Content)
		}
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(string(tc.Input))
		}
	}
	return total
}

// EstimateTokens gives a soft token estimate from content length, roughly
// four characters per token.
func EstimateTokens(text string) int64 {
	return int64(len(text) / 4)
}
