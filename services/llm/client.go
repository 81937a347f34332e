// Package llm wraps the upstream completion provider behind a small
// interface so the orchestrator can be tested against a mock.
package llm

import (
	"context"
	"fmt"
)

// Message is one turn sent to the completion provider.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest carries everything one completion call needs. The API
// key travels per request because each end user supplies their own.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	APIKey      string
}

// CompletionClient defines the interface for a completion backend.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// FailureKind classifies a completion failure for the caller.
type FailureKind string

const (
	// FailureTransport covers connection, TLS and redirect-policy errors.
	// No HTTP response was obtained.
	FailureTransport FailureKind = "transport"

	// FailureHTTP covers non-2xx responses without a parseable error body.
	FailureHTTP FailureKind = "http"

	// FailureMalformed covers 2xx responses that cannot be used: bad JSON
	// or an empty choice list.
	FailureMalformed FailureKind = "malformed"

	// FailureService covers structured error responses from the provider,
	// for example an invalid API key or an exhausted quota.
	FailureService FailureKind = "service"
)

// Error is a classified completion failure.
type Error struct {
	Kind FailureKind

	// Message holds the provider's own error text for FailureService,
	// empty otherwise. Never contains credentials.
	Message string

	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("completion failed (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("completion failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
