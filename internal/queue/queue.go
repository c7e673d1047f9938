// Package queue holds operations issued while offline until they can be
// replayed. The queue is bounded, priority ordered and mirrored to a
// key-value store after every mutation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"resilient/internal/events"
	"resilient/internal/logging"
	"resilient/internal/metrics"
	"resilient/internal/models"
	"resilient/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxSize    = 50
	DefaultStorageKey = "resilient_offline_queue"
)

// ErrInvalidOperation is returned by Enqueue for a descriptor without a known
// method or a target.
var ErrInvalidOperation = errors.New("invalid operation")

type Config struct {
	MaxSize    int
	Persist    bool
	StorageKey string
}

func DefaultConfig() Config {
	return Config{MaxSize: DefaultMaxSize, Persist: true, StorageKey: DefaultStorageKey}
}

type Option func(*Queue)

func WithClassifier(c Classifier) Option {
	return func(q *Queue) {
		if c != nil {
			q.classify = c
		}
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(q *Queue) {
		q.logger = logging.Component(logger, "queue")
	}
}

func WithEvents(bus *events.EventBus) Option {
	return func(q *Queue) {
		q.bus = bus
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue is safe for concurrent use. Storage writes happen under the lock so
// the persisted array always matches the in-memory order.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	store    storage.KeyValueStore
	classify Classifier
	logger   zerolog.Logger
	bus      *events.EventBus
	now      func() time.Time
	items    []*models.QueuedOperation
	nextSeq  uint64
}

// New builds the queue and rehydrates it from store. Missing or unreadable
// state yields an empty queue.
func New(ctx context.Context, cfg Config, store storage.KeyValueStore, opts ...Option) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	if store == nil {
		cfg.Persist = false
	}

	q := &Queue{
		cfg:      cfg,
		store:    store,
		classify: DefaultClassifier,
		logger:   zerolog.Nop(),
		now:      time.Now,
		nextSeq:  1,
	}
	for _, opt := range opts {
		opt(q)
	}

	if cfg.Persist {
		q.load(ctx)
	}
	metrics.SetQueueLength(q.Len())
	return q
}

func (q *Queue) load(ctx context.Context) {
	raw, err := q.store.Get(ctx, q.cfg.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		q.logger.Warn().Err(err).Str("key", q.cfg.StorageKey).Msg("load persisted queue")
		return
	}

	var persisted []models.QueuedOperation
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		q.logger.Warn().Err(err).Str("key", q.cfg.StorageKey).Msg("persisted queue is corrupt, starting empty")
		return
	}

	var dropped []*models.QueuedOperation
	q.mu.Lock()
	for i := range persisted {
		op := persisted[i]
		if err := normalizePersisted(&op); err != nil {
			q.logger.Warn().Err(err).Str("id", op.ID).Msg("skip invalid persisted operation")
			dropped = append(dropped, &op)
			continue
		}
		q.items = append(q.items, &op)
	}
	q.sortLocked()
	for i, op := range q.items {
		op.Sequence = uint64(i + 1)
	}
	q.nextSeq = uint64(len(q.items) + 1)

	var evicted []*models.QueuedOperation
	for len(q.items) > q.cfg.MaxSize {
		evicted = append(evicted, q.evictLocked())
	}
	if len(evicted) > 0 {
		_ = q.persistLocked(ctx)
	}
	n := len(q.items)
	q.mu.Unlock()

	for _, op := range dropped {
		q.publishDropped(op, events.DropReasonInvalidStore)
	}
	for _, op := range evicted {
		q.publishDropped(op, events.DropReasonCapacity)
	}
	q.logger.Info().Int("length", n).Msg("offline queue restored")
}

func normalizePersisted(op *models.QueuedOperation) error {
	method, ok := models.ParseMethod(string(op.Method))
	switch {
	case op.ID == "":
		return errors.New("missing id")
	case !ok:
		return fmt.Errorf("unknown method %q", op.Method)
	case strings.TrimSpace(op.Target) == "":
		return errors.New("missing target")
	case !op.Priority.Valid():
		return fmt.Errorf("unknown priority %q", op.Priority)
	case op.Retries < 0:
		return errors.New("negative retries")
	}
	op.Method = method
	op.Headers = models.CopyHeaders(op.Headers)
	return nil
}

// Enqueue stores op and returns its id. At capacity the oldest low, then
// the oldest normal, then the oldest entry overall is evicted first.
// Storage failures are logged and never returned.
func (q *Queue) Enqueue(ctx context.Context, op models.Operation) (string, error) {
	method, ok := models.ParseMethod(string(op.Method))
	if !ok {
		return "", fmt.Errorf("%w: unknown method %q", ErrInvalidOperation, op.Method)
	}
	if strings.TrimSpace(op.Target) == "" {
		return "", fmt.Errorf("%w: empty target", ErrInvalidOperation)
	}
	if len(op.Body) > 0 && !json.Valid(op.Body) {
		return "", fmt.Errorf("%w: body is not valid JSON", ErrInvalidOperation)
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	queued := &models.QueuedOperation{
		ID:       id.String(),
		Method:   method,
		Target:   op.Target,
		Headers:  models.CopyHeaders(op.Headers),
		Priority: q.classify(method, op.Target),
	}
	if len(op.Body) > 0 {
		queued.Body = append(json.RawMessage(nil), op.Body...)
	}

	q.mu.Lock()
	queued.CreatedAt = q.now().UTC()
	queued.Sequence = q.nextSeq
	q.nextSeq++

	var evicted *models.QueuedOperation
	if len(q.items) >= q.cfg.MaxSize {
		evicted = q.evictLocked()
	}
	q.insertLocked(queued)
	_ = q.persistLocked(ctx)
	n := len(q.items)
	q.mu.Unlock()

	metrics.SetQueueLength(n)
	if evicted != nil {
		q.publishDropped(evicted, events.DropReasonCapacity)
	}
	q.logger.Info().
		Str("id", queued.ID).
		Str("method", string(queued.Method)).
		Str("target", queued.Target).
		Str("priority", string(queued.Priority)).
		Int("length", n).
		Msg("operation queued")
	q.publish(events.EventOperationQueued, queued, "")
	return queued.ID, nil
}

// DequeueFront removes and returns the highest-priority, oldest entry.
func (q *Queue) DequeueFront(ctx context.Context) (*models.QueuedOperation, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	op := q.items[0]
	q.items = q.items[1:]
	_ = q.persistLocked(ctx)
	n := len(q.items)
	q.mu.Unlock()

	metrics.SetQueueLength(n)
	return op.Clone(), true
}

// Front returns a copy of the next entry without removing it.
func (q *Queue) Front() (*models.QueuedOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0].Clone(), true
}

// Remove deletes the entry with id and reports whether it was present.
func (q *Queue) Remove(ctx context.Context, id string) bool {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	_ = q.persistLocked(ctx)
	n := len(q.items)
	q.mu.Unlock()

	metrics.SetQueueLength(n)
	return true
}

// Requeue replaces the entry with op.ID by op and moves it to the tail of
// its priority class. A missing entry is inserted under the capacity rule.
func (q *Queue) Requeue(ctx context.Context, op *models.QueuedOperation) {
	q.requeue(ctx, op, true)
}

// Replace is Requeue restricted to entries still present. It reports false
// when the entry was removed in the meantime, for example by Clear.
func (q *Queue) Replace(ctx context.Context, op *models.QueuedOperation) bool {
	return q.requeue(ctx, op, false)
}

func (q *Queue) requeue(ctx context.Context, op *models.QueuedOperation, insertMissing bool) bool {
	if op == nil {
		return false
	}
	cp := op.Clone()

	q.mu.Lock()
	var evicted *models.QueuedOperation
	idx := q.indexLocked(cp.ID)
	switch {
	case idx >= 0:
		q.items = append(q.items[:idx], q.items[idx+1:]...)
	case !insertMissing:
		q.mu.Unlock()
		return false
	case len(q.items) >= q.cfg.MaxSize:
		evicted = q.evictLocked()
	}
	cp.Sequence = q.nextSeq
	q.nextSeq++
	q.insertLocked(cp)
	_ = q.persistLocked(ctx)
	n := len(q.items)
	q.mu.Unlock()

	metrics.SetQueueLength(n)
	if evicted != nil {
		q.publishDropped(evicted, events.DropReasonCapacity)
	}
	return idx >= 0
}

// Clear empties the queue and removes the persisted key.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	if q.cfg.Persist {
		if err := q.store.Remove(ctx, q.cfg.StorageKey); err != nil {
			q.logger.Error().Err(err).Str("key", q.cfg.StorageKey).Msg("remove persisted queue")
		}
	}
	q.mu.Unlock()

	metrics.SetQueueLength(0)
	q.logger.Info().Int("cleared", n).Msg("offline queue cleared")
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Entries returns the queue in replay order without bodies or headers.
func (q *Queue) Entries() []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueueEntry, 0, len(q.items))
	for _, op := range q.items {
		out = append(out, op.Entry())
	}
	return out
}

// Snapshot returns deep copies of all entries in replay order.
func (q *Queue) Snapshot() []models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedOperation, 0, len(q.items))
	for _, op := range q.items {
		out = append(out, *op.Clone())
	}
	return out
}

// Persist writes the current state to the store.
func (q *Queue) Persist(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persistLocked(ctx)
}

func (q *Queue) persistLocked(ctx context.Context) error {
	if !q.cfg.Persist {
		return nil
	}
	snapshot := make([]models.QueuedOperation, 0, len(q.items))
	for _, op := range q.items {
		snapshot = append(snapshot, *op)
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		q.logger.Error().Err(err).Msg("encode queue")
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.store.Set(ctx, q.cfg.StorageKey, string(raw)); err != nil {
		q.logger.Error().Err(err).Str("key", q.cfg.StorageKey).Int("length", len(snapshot)).Msg("persist queue")
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

func (q *Queue) insertLocked(op *models.QueuedOperation) {
	q.items = append(q.items, op)
	q.sortLocked()
}

func (q *Queue) sortLocked() {
	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		return a.Sequence < b.Sequence
	})
}

func (q *Queue) indexLocked(id string) int {
	for i, op := range q.items {
		if op.ID == id {
			return i
		}
	}
	return -1
}

// evictLocked removes the oldest low entry, else the oldest normal one, else
// the oldest entry of any class.
func (q *Queue) evictLocked() *models.QueuedOperation {
	if len(q.items) == 0 {
		return nil
	}
	victim := q.oldestLocked(models.PriorityLow)
	if victim < 0 {
		victim = q.oldestLocked(models.PriorityNormal)
	}
	if victim < 0 {
		victim = q.oldestLocked("")
	}
	op := q.items[victim]
	q.items = append(q.items[:victim], q.items[victim+1:]...)
	q.logger.Warn().
		Str("id", op.ID).
		Str("priority", string(op.Priority)).
		Int("max_size", q.cfg.MaxSize).
		Msg("queue full, evicting operation")
	return op
}

// oldestLocked finds the earliest created entry of class p; empty p matches all.
func (q *Queue) oldestLocked(p models.Priority) int {
	best := -1
	for i, op := range q.items {
		if p != "" && op.Priority != p {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		cur := q.items[best]
		if op.CreatedAt.Before(cur.CreatedAt) || (op.CreatedAt.Equal(cur.CreatedAt) && op.Sequence < cur.Sequence) {
			best = i
		}
	}
	return best
}

func (q *Queue) publishDropped(op *models.QueuedOperation, reason string) {
	metrics.IncDropped(reason)
	q.publish(events.EventOperationDropped, op, reason)
}

func (q *Queue) publish(eventType string, op *models.QueuedOperation, reason string) {
	if q.bus == nil {
		return
	}
	if err := q.bus.PublishJSON(eventType, PayloadFor(op, reason)); err != nil {
		q.logger.Error().Err(err).Str("event", eventType).Msg("publish queue event")
	}
}

// PayloadFor builds the event payload describing op.
func PayloadFor(op *models.QueuedOperation, reason string) events.OperationEventPayload {
	return events.OperationEventPayload{
		ID:       op.ID,
		Method:   string(op.Method),
		Target:   op.Target,
		Priority: string(op.Priority),
		Retries:  op.Retries,
		Reason:   reason,
	}
}
