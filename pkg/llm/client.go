// Package llm defines the model-client abstraction used by every pipeline
// stage and the OpenAI-compatible HTTP adapter behind it. Stages depend on
// the Client interface only; tests substitute scripted clients.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrTimeout means the call exceeded its context deadline.
	ErrTimeout = errors.New("llm call timed out")

	// ErrAuth means the provider rejected the API key.
	ErrAuth = errors.New("llm authentication failed")

	// ErrRateLimited means the provider throttled the call.
	ErrRateLimited = errors.New("llm rate limited")

	// ErrProvider covers all other provider-side failures.
	ErrProvider = errors.New("llm provider error")

	// ErrNotJSON means the model response did not contain a JSON document.
	ErrNotJSON = errors.New("llm response is not valid JSON")
)

// Request is one completion call. Purpose selects the per-stage model and
// timeout and labels metrics; it never reaches the wire.
type Request struct {
	Purpose     string
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	// ForceJSON asks the provider for a JSON-object response format.
	ForceJSON bool
}

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completed text plus provenance.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Client completes prompts. Implementations must honor the context deadline
// and map provider failures onto the package sentinels.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
