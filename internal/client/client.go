// Package client is the single entry point for application code. Calls made
// while offline are queued and replayed later; calls made while online go
// through the retry interceptor.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"resilient/internal/apierr"
	"resilient/internal/connectivity"
	"resilient/internal/events"
	"resilient/internal/logging"
	"resilient/internal/metrics"
	"resilient/internal/models"
	"resilient/internal/queue"
	"resilient/internal/retry"
	"resilient/internal/storage"
	"resilient/internal/transport"
	"resilient/internal/worker"

	"github.com/rs/zerolog"
)

var ErrNoTransport = errors.New("client: transport is required")

// ErrInvalidRequest is returned for an unknown method, an empty target or an
// unencodable body. Nothing is sent or queued.
var ErrInvalidRequest = errors.New("client: invalid request")

type Client struct {
	bus         *events.EventBus
	monitor     *connectivity.Monitor
	queue       *queue.Queue
	interceptor *retry.Interceptor
	engine      *worker.SyncEngine
	notifier    Notifier
	deadLetters worker.DeadLetterSink
	logger      zerolog.Logger
	stats       counters

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New assembles the pipeline. The persisted queue is loaded before New
// returns and reconnect handling is active immediately.
func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStore(0)
	}
	if opts.Source == nil {
		opts.Source = connectivity.NewManual(true)
	}
	if opts.Queue == (queue.Config{}) {
		opts.Queue = queue.DefaultConfig()
	}
	if isZeroPolicy(opts.Retry) {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.Classifier == nil {
		opts.Classifier = queue.DefaultClassifier
	}
	if opts.Events == nil {
		opts.Events = events.NewEventBus()
	}
	if opts.Sync.DeadLetters == nil {
		opts.Sync.DeadLetters = opts.DeadLetters
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier(opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		bus:         opts.Events,
		notifier:    opts.Notifier,
		deadLetters: opts.Sync.DeadLetters,
		logger:      logging.Component(opts.Logger, "client"),
		cancel:      cancel,
	}
	c.monitor = connectivity.NewMonitor(opts.Source, c.bus, opts.Logger)
	c.queue = queue.New(ctx, opts.Queue, opts.Store,
		queue.WithClassifier(opts.Classifier),
		queue.WithLogger(opts.Logger),
		queue.WithEvents(c.bus),
	)
	c.interceptor = retry.NewInterceptor(opts.Transport, opts.Retry, opts.Logger)
	c.engine = worker.NewSyncEngine(c.queue, opts.Transport, c.monitor, opts.Sync, c.bus, opts.Logger)
	c.engine.Start(ctx)

	c.logger.Info().
		Bool("online", c.monitor.Online()).
		Int("queued", c.queue.Len()).
		Int("max_queue_size", opts.Queue.MaxSize).
		Msg("client ready")
	return c, nil
}

func isZeroPolicy(p retry.Policy) bool {
	return p.MaxRetries == 0 && p.BaseDelay == 0 && p.MaxDelay == 0 && p.MaxJitter == 0 &&
		p.RetryableStatusCodes == nil && p.RetryableMethods == nil
}

func (c *Client) Get(ctx context.Context, target string, opts ...CallOption) (*Result, error) {
	return c.Request(ctx, models.MethodGet, target, nil, opts...)
}

func (c *Client) Delete(ctx context.Context, target string, opts ...CallOption) (*Result, error) {
	return c.Request(ctx, models.MethodDelete, target, nil, opts...)
}

func (c *Client) Post(ctx context.Context, target string, body any, opts ...CallOption) (*Result, error) {
	return c.Request(ctx, models.MethodPost, target, body, opts...)
}

func (c *Client) Put(ctx context.Context, target string, body any, opts ...CallOption) (*Result, error) {
	return c.Request(ctx, models.MethodPut, target, body, opts...)
}

func (c *Client) Patch(ctx context.Context, target string, body any, opts ...CallOption) (*Result, error) {
	return c.Request(ctx, models.MethodPatch, target, body, opts...)
}

// Request executes or queues a call depending on connectivity. A queued call
// returns a Result with Queued set and a nil error. Terminal failures are
// returned as *apierr.Error.
func (c *Client) Request(ctx context.Context, method models.Method, target string, body any, opts ...CallOption) (*Result, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	m, ok := models.ParseMethod(string(method))
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidRequest, method)
	}
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidRequest)
	}
	payload, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	c.stats.total.Add(1)

	if !c.monitor.Online() {
		return c.enqueue(ctx, models.Operation{Method: m, Target: target, Body: payload, Headers: co.headers}, co)
	}

	resp, err := c.interceptor.Execute(ctx, transport.Request{
		Method:  m,
		Target:  target,
		Body:    payload,
		Headers: co.headers,
	}, retry.CallOptions{SkipRetry: co.skipRetry, Policy: co.policy})
	if err != nil {
		apiErr := apierr.Classify(err)
		c.stats.failed.Add(1)
		metrics.IncRequest(string(m), "failed")
		c.logger.Warn().
			Str("method", string(m)).
			Str("target", target).
			Str("code", string(apiErr.Code)).
			Int("status", apiErr.StatusCode).
			Int("attempts", apiErr.Attempts).
			Msg("request failed")
		if !co.skipNotification {
			c.notifier.Notify(ctx, Notification{Code: apiErr.Code, Message: apiErr.UserMessage, Level: LevelError})
		}
		return nil, apiErr
	}

	metrics.IncRequest(string(m), "ok")
	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

func (c *Client) enqueue(ctx context.Context, op models.Operation, co callOptions) (*Result, error) {
	id, err := c.queue.Enqueue(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	c.stats.queued.Add(1)
	metrics.IncRequest(string(op.Method), "queued")
	if !co.skipNotification {
		c.notifier.Notify(ctx, Notification{
			Code:    apierr.CodeQueuedOffline,
			Message: apierr.UserMessage(apierr.CodeQueuedOffline),
			Level:   LevelInfo,
		})
	}
	return &Result{Queued: true, OperationID: id}, nil
}

func encodeBody(body any) (json.RawMessage, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("body is not valid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("body is not valid JSON")
		}
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return raw, nil
	}
}

// QueueStatus returns a snapshot of connectivity and the queue.
func (c *Client) QueueStatus() models.QueueStatus {
	entries := c.queue.Entries()
	return models.QueueStatus{
		Online:     c.monitor.Online(),
		Length:     len(entries),
		InProgress: c.engine.InProgress(),
		Entries:    entries,
	}
}

// QueuedOperations returns full copies of the queued operations.
func (c *Client) QueuedOperations() []models.QueuedOperation {
	return c.queue.Snapshot()
}

func (c *Client) ClearQueue(ctx context.Context) {
	c.queue.Clear(ctx)
}

// Sync drains the queue now. See worker.SyncEngine.Sync.
func (c *Client) Sync(ctx context.Context) models.SyncResult {
	return c.engine.Sync(ctx)
}

func (c *Client) Online() bool {
	return c.monitor.Online()
}

func (c *Client) OnOnline(fn func()) func() {
	return c.monitor.OnOnline(fn)
}

func (c *Client) OnOffline(fn func()) func() {
	return c.monitor.OnOffline(fn)
}

// Events exposes the pipeline event bus.
func (c *Client) Events() *events.EventBus {
	return c.bus
}

// DeadLetters returns the sink for exhausted operations, or nil.
func (c *Client) DeadLetters() worker.DeadLetterSink {
	return c.deadLetters
}

func (c *Client) Stats() Stats {
	return c.stats.snapshot()
}

func (c *Client) ResetStats() {
	c.stats.reset()
}

// Close stops background drains and detaches from the connectivity source.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.engine.Close()
		c.monitor.Close()
		c.logger.Info().Int("queued", c.queue.Len()).Msg("client closed")
	})
	return nil
}
