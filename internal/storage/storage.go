// Package storage provides the key-value stores that back the offline queue.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("key not found")

// ErrQuotaExceeded is returned when a write does not fit the store.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// KeyValueStore is a string store addressed by key.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
