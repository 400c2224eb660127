package llm

import (
	"context"
	"time"
	"unicode/utf8"
)

// Defaults applied when a caller passes no options.
const (
	// DefaultMaxTokens caps completion length for agent calls.
	DefaultMaxTokens = 4096

	// DefaultTemperature keeps agent output focused and mostly deterministic.
	DefaultTemperature = 0.2

	// DefaultTimeout is the per-request timeout for chat completions.
	DefaultTimeout = 60 * time.Second
)

// ChatClient is the standard interface for any chat-completion backend.
//
// Implementations must handle request timeouts and context cancellation,
// and must map provider failures onto this package's sentinel errors so
// callers can make retry decisions with IsRetryable.
//
// Thread Safety: implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends a system prompt and a user message and returns the
	// completion. The system prompt may be empty.
	Chat(ctx context.Context, system, user string, opts ...ChatOption) (*ChatResponse, error)

	// Name identifies the backend (e.g. "openai", "gemini") for logs
	// and metrics.
	Name() string
}

// ChatResponse is a completed chat turn.
type ChatResponse struct {
	// Text is the generated completion text.
	Text string `json:"text"`

	// TokensUsed is the total tokens consumed (input + output). Backends
	// that do not report usage estimate it at ~4 characters per token.
	TokensUsed int `json:"tokens_used"`
}

// chatOptions holds per-request configuration.
type chatOptions struct {
	maxTokens   int
	temperature float32
	stop        []string
}

func defaultChatOptions() *chatOptions {
	return &chatOptions{
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
}

// ChatOption is a functional option for configuring a chat request.
type ChatOption func(*chatOptions)

// WithMaxTokens sets the maximum completion tokens.
// If n <= 0, this option is ignored.
func WithMaxTokens(n int) ChatOption {
	return func(o *chatOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
//
// Lower values (0.0-0.3) produce focused, deterministic output; the
// routing agent uses 0 so identical prompts classify identically.
// If t < 0, this option is ignored.
func WithTemperature(t float32) ChatOption {
	return func(o *chatOptions) {
		if t >= 0 {
			o.temperature = t
		}
	}
}

// WithStop sets stop sequences for the completion.
func WithStop(stop ...string) ChatOption {
	return func(o *chatOptions) {
		if len(stop) > 0 {
			o.stop = stop
		}
	}
}

// applyChatOptions resolves options against defaults.
func applyChatOptions(opts ...ChatOption) *chatOptions {
	o := defaultChatOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EstimateTokens approximates the token count of text at ~4 characters
// per token. Used when a backend omits usage metadata.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	est := n / 4
	if est == 0 {
		est = 1
	}
	return est
}
