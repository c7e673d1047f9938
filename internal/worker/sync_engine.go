// Package worker replays the offline queue against the upstream.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"resilient/internal/events"
	"resilient/internal/logging"
	"resilient/internal/metrics"
	"resilient/internal/models"
	"resilient/internal/queue"
	"resilient/internal/transport"

	"github.com/rs/zerolog"
)

const DefaultMaxRetries = 3

// DeadLetterSink receives operations dropped after exhausting their retries.
type DeadLetterSink interface {
	Push(ctx context.Context, op models.QueuedOperation) error
}

// OnlineChecker reports the current connectivity state.
type OnlineChecker interface {
	Online() bool
}

type SyncConfig struct {
	MaxRetries      int
	SyncOnReconnect bool
	DeadLetters     DeadLetterSink
}

// SyncEngine drains the queue one operation at a time. At most one drain
// runs at any moment; overlapping triggers return an empty result.
type SyncEngine struct {
	queue     *queue.Queue
	transport transport.Transport
	online    OnlineChecker
	cfg       SyncConfig
	bus       *events.EventBus
	logger    zerolog.Logger

	draining atomic.Bool
	wg       sync.WaitGroup

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closed      bool
}

// NewSyncEngine wires the engine. Replays go straight to t, bypassing the
// retry interceptor.
func NewSyncEngine(q *queue.Queue, t transport.Transport, online OnlineChecker, cfg SyncConfig, bus *events.EventBus, logger *zerolog.Logger) *SyncEngine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if bus == nil {
		bus = events.NewEventBus()
	}
	return &SyncEngine{
		queue:     q,
		transport: t,
		online:    online,
		cfg:       cfg,
		bus:       bus,
		logger:    logging.Component(logger, "sync"),
	}
}

// Start subscribes to reconnect events. Drains triggered by a reconnect run
// in their own goroutine under ctx.
func (e *SyncEngine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.unsubscribe != nil {
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.unsubscribe = e.bus.Subscribe(events.EventOnline, e.onOnline)
	e.logger.Info().Bool("sync_on_reconnect", e.cfg.SyncOnReconnect).Int("max_retries", e.cfg.MaxRetries).Msg("sync engine started")
}

func (e *SyncEngine) onOnline(*events.Event) error {
	if !e.cfg.SyncOnReconnect || e.queue.Len() == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.ctx == nil {
		return nil
	}
	ctx := e.ctx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Sync(ctx)
	}()
	return nil
}

// Sync drains the queue while online. It returns {0,0} when offline or when
// another drain is running.
func (e *SyncEngine) Sync(ctx context.Context) models.SyncResult {
	if !e.online.Online() {
		e.logger.Debug().Msg("sync skipped: offline")
		return models.SyncResult{}
	}
	if !e.draining.CompareAndSwap(false, true) {
		e.logger.Debug().Msg("sync skipped: drain in progress")
		return models.SyncResult{}
	}
	defer e.draining.Store(false)

	return e.drain(ctx)
}

func (e *SyncEngine) drain(ctx context.Context) models.SyncResult {
	started := time.Now()
	e.logger.Info().Int("queued", e.queue.Len()).Msg("sync started")

	var res models.SyncResult
	for ctx.Err() == nil && e.online.Online() {
		op, ok := e.queue.Front()
		if !ok {
			break
		}

		_, err := e.transport.Execute(ctx, transport.RequestFromQueued(op))
		if err == nil {
			e.queue.Remove(ctx, op.ID)
			res.Success++
			metrics.IncSynced("success")
			e.publish(events.EventOperationSynced, op, "")
			continue
		}
		if ctx.Err() != nil {
			// Interrupted by the caller, not a failure of the operation.
			break
		}

		op.Retries++
		if op.Retries >= e.cfg.MaxRetries {
			e.queue.Remove(ctx, op.ID)
			res.Failed++
			e.drop(ctx, op, err)
			continue
		}

		if e.queue.Replace(ctx, op) {
			metrics.IncSynced("requeued")
			e.logger.Debug().Err(err).Str("id", op.ID).Int("retries", op.Retries).Msg("replay failed, requeued")
		}
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := e.queue.Persist(persistCtx); err != nil {
		e.logger.Warn().Err(err).Msg("persist after sync")
	}

	remaining := e.queue.Len()
	if err := e.bus.PublishJSON(events.EventSyncCompleted, events.SyncEventPayload{
		Success:   res.Success,
		Failed:    res.Failed,
		Remaining: remaining,
	}); err != nil {
		e.logger.Error().Err(err).Msg("publish sync summary")
	}

	e.logger.Info().
		Int("success", res.Success).
		Int("failed", res.Failed).
		Int("remaining", remaining).
		Dur("duration", time.Since(started)).
		Msg("sync finished")
	return res
}

func (e *SyncEngine) drop(ctx context.Context, op *models.QueuedOperation, cause error) {
	metrics.IncSynced("failed")
	metrics.IncDropped(events.DropReasonRetries)
	e.logger.Warn().
		Err(cause).
		Str("id", op.ID).
		Str("method", string(op.Method)).
		Str("target", op.Target).
		Int("retries", op.Retries).
		Msg("operation dropped after max retries")
	e.publish(events.EventOperationDropped, op, events.DropReasonRetries)

	if e.cfg.DeadLetters == nil {
		return
	}
	if err := e.cfg.DeadLetters.Push(context.WithoutCancel(ctx), *op); err != nil {
		e.logger.Error().Err(err).Str("id", op.ID).Msg("push dead letter")
	}
}

func (e *SyncEngine) publish(eventType string, op *models.QueuedOperation, reason string) {
	if err := e.bus.PublishJSON(eventType, queue.PayloadFor(op, reason)); err != nil {
		e.logger.Error().Err(err).Str("event", eventType).Msg("publish sync event")
	}
}

// InProgress reports whether a drain is running.
func (e *SyncEngine) InProgress() bool {
	return e.draining.Load()
}

// Close stops reconnect handling and waits for background drains.
func (e *SyncEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info().Msg("sync engine stopped")
}
