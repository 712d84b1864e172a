package llm

import (
	"context"
)

// Provider performs a single completion attempt against a reasoning service.
// Retries, timeouts and error classification belong to the Gateway.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (string, error)
}
