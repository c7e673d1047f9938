package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"resilient/internal/models"
)

// Request is a single outbound call.
type Request struct {
	Method  models.Method
	Target  string
	Body    json.RawMessage
	Headers map[string]string
}

// RequestFromQueued rebuilds the call a queued operation stands for.
func RequestFromQueued(op *models.QueuedOperation) Request {
	return Request{
		Method:  op.Method,
		Target:  op.Target,
		Body:    op.Body,
		Headers: op.Headers,
	}
}

// Response is what the upstream answered.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport executes a request. Non-2xx answers are returned as *StatusError.
type Transport interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req Request) (*Response, error)

func (f Func) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// StatusError carries a response whose status signals failure.
type StatusError struct {
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d", e.Response.StatusCode)
}

// StatusCode is a nil-safe accessor.
func (e *StatusError) StatusCode() int {
	if e == nil || e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}
