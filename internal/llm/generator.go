// Package llm wraps the generation service behind a small interface
// and classifies its failures.
package llm

import (
	"context"
)

// Request is one complete generation exchange: the fixed system
// instruction plus a single user message. Feedback context travels
// entirely inside the user message, so every call is self-contained.
type Request struct {
	System string
	User   string
}

// Generator produces raw response text for a composed request.
// Implementations classify failures: authentication and credential
// errors come back as fatal domain.ClassifiedError values, everything
// else as retryable ones.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Ensure OpenAIClient implements Generator.
var _ Generator = (*OpenAIClient)(nil)
