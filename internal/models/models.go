package models

import (
	"encoding/json"
	"net/http"
	"time"
)

// Operation describes a request before it is queued or executed.
type Operation struct {
	Method  Method
	Target  string
	Body    json.RawMessage
	Headers map[string]string
}

// QueuedOperation is one pending unit of work held by the offline queue.
type QueuedOperation struct {
	ID        string            `json:"id"`
	Method    Method            `json:"method"`
	Target    string            `json:"target"`
	Body      json.RawMessage   `json:"body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Priority  Priority          `json:"priority"`
	CreatedAt time.Time         `json:"created_at"`
	Sequence  uint64            `json:"seq"`
	Retries   int               `json:"retries"`
}

// Clone returns a deep copy so callers never alias queue internals.
func (op *QueuedOperation) Clone() *QueuedOperation {
	if op == nil {
		return nil
	}
	cp := *op
	if op.Body != nil {
		cp.Body = append(json.RawMessage(nil), op.Body...)
	}
	cp.Headers = CopyHeaders(op.Headers)
	return &cp
}

// Entry strips body and headers for status snapshots.
func (op *QueuedOperation) Entry() QueueEntry {
	return QueueEntry{
		ID:        op.ID,
		Method:    op.Method,
		Target:    op.Target,
		Priority:  op.Priority,
		CreatedAt: op.CreatedAt,
		Retries:   op.Retries,
	}
}

// QueueEntry is the observable view of a queued operation.
type QueueEntry struct {
	ID        string    `json:"id"`
	Method    Method    `json:"method"`
	Target    string    `json:"target"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	Retries   int       `json:"retries"`
}

// QueueStatus is a read-only snapshot of the offline pipeline.
type QueueStatus struct {
	Online     bool         `json:"online"`
	Length     int          `json:"length"`
	InProgress bool         `json:"in_progress"`
	Entries    []QueueEntry `json:"entries"`
}

// SyncResult aggregates one drain pass.
type SyncResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// CopyHeaders copies headers dropping the authorization header in any casing.
func CopyHeaders(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if http.CanonicalHeaderKey(k) == AuthorizationHeader {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
