// Package llm is the model invocation boundary. It exposes a
// provider-agnostic completion interface plus the typed rate-limit
// condition the retry controller classifies on. The rest of the pipeline
// treats the model as opaque: prompt in, text out.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g. "openai/gpt-4o-mini").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-2.0 (0 = deterministic)
	JSON        bool    // request structured JSON output
	System      string  // system prompt (optional)
}

// RateLimitError signals a transient rate-limit condition. It is always
// recoverable up to the retry bound and never surfaced past it as a
// failure; the unit of work degrades to "no result" instead.
type RateLimitError struct {
	RetryAfter time.Duration // 0 when the provider gave no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return "rate limited"
}

// Config holds provider configuration.
type Config struct {
	Provider string // "openai" or any OpenAI-compatible endpoint
	Model    string
	APIKey   string // empty = read from env
	BaseURL  string // optional URL override
	Timeout  time.Duration
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai provider requires an API key (config or OPENAI_API_KEY)")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return newOpenAIProvider(key, model, cfg.BaseURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: openai)", cfg.Provider)
	}
}
