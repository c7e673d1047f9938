package client

import (
	"encoding/json"
	"errors"
	"net/http"

	"resilient/internal/connectivity"
	"resilient/internal/events"
	"resilient/internal/queue"
	"resilient/internal/retry"
	"resilient/internal/storage"
	"resilient/internal/transport"
	"resilient/internal/worker"

	"github.com/rs/zerolog"
)

// Options configure a Client. Only Transport is required.
type Options struct {
	Transport   transport.Transport
	Store       storage.KeyValueStore
	Source      connectivity.Source
	Queue       queue.Config
	Retry       retry.Policy
	Sync        worker.SyncConfig
	Classifier  queue.Classifier
	Notifier    Notifier
	Events      *events.EventBus
	DeadLetters worker.DeadLetterSink
	Logger      *zerolog.Logger
}

// CallOption tunes a single facade call.
type CallOption func(*callOptions)

type callOptions struct {
	skipRetry        bool
	skipNotification bool
	headers          map[string]string
	policy           *retry.Policy
}

// WithoutRetry executes the call once.
func WithoutRetry() CallOption {
	return func(o *callOptions) { o.skipRetry = true }
}

// WithoutNotification suppresses the user notification for this call.
func WithoutNotification() CallOption {
	return func(o *callOptions) { o.skipNotification = true }
}

func WithHeaders(headers map[string]string) CallOption {
	return func(o *callOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			o.headers[k] = v
		}
	}
}

// WithPolicy overrides the retry policy, e.g. to allow retrying a POST.
func WithPolicy(p retry.Policy) CallOption {
	return func(o *callOptions) { o.policy = &p }
}

// Result is the outcome of a call. Queued results carry only the id of the
// deferred operation.
type Result struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	Queued      bool
	OperationID string
}

// ErrNoBody is returned by Decode for queued or empty results.
var ErrNoBody = errors.New("result has no body")

// Decode unmarshals the JSON body into out.
func (r *Result) Decode(out any) error {
	if r.Queued || len(r.Body) == 0 {
		return ErrNoBody
	}
	return json.Unmarshal(r.Body, out)
}
