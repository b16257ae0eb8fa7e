package adapters

import (
	"context"
	"fmt"
)

// LLMClient is the advisory text-generation collaborator. The heartbeat
// sends one system message and one user message per advisor invocation and
// expects a single JSON object somewhere in the reply.
type LLMClient interface {
	Complete(ctx context.Context, messages []Message, opts CompleteOpts) (string, error)
	Close() error
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// CompleteOpts bounds one completion. Temperature stays at or below 0.3 so
// the advisor's JSON stays parseable.
type CompleteOpts struct {
	Temperature float64
	MaxTokens   int
}

// LLMError classifies completion failures.
type LLMError struct {
	Type      string // "network", "timeout", "api_error", "empty"
	Message   string
	Retriable bool
	Cause     error
}

func (e *LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm %s error: %s (%v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm %s error: %s", e.Type, e.Message)
}

func (e *LLMError) Unwrap() error { return e.Cause }

func NewLLMNetworkError(message string, cause error) *LLMError {
	return &LLMError{Type: "network", Message: message, Retriable: true, Cause: cause}
}

func NewLLMTimeoutError(message string) *LLMError {
	return &LLMError{Type: "timeout", Message: message, Retriable: true}
}

func NewLLMAPIError(message string, cause error) *LLMError {
	return &LLMError{Type: "api_error", Message: message, Cause: cause}
}

func NewLLMEmptyError() *LLMError {
	return &LLMError{Type: "empty", Message: "empty completion"}
}

// ContextProvider supplies optional advisory context: the thesis recorded
// when the position was entered and coarse day-trading stats. A nil or
// stub implementation is fine; the prompt renders absent data as such.
type ContextProvider interface {
	Thesis(symbol string) string
	DayStats() DayStats
}

// DayStats is the account block of the advisor prompt.
type DayStats struct {
	EntriesToday int    `json:"entries_today"`
	EntryCap     int    `json:"entry_cap"`
	Streak       string `json:"streak"` // e.g. "2W-1L", "none recorded"
}

// StaticContext is the no-op ContextProvider used when nothing tracks
// theses or day stats.
type StaticContext struct{}

func (StaticContext) Thesis(string) string { return "" }
func (StaticContext) DayStats() DayStats   { return DayStats{Streak: "none recorded"} }
