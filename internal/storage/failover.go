package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FailoverStore writes to primary and switches to fallback while primary is
// failing. After recoveryInterval the primary is tried again.
type FailoverStore struct {
	primary          KeyValueStore
	fallback         KeyValueStore
	logger           *zerolog.Logger
	recoveryInterval time.Duration

	mu        sync.Mutex
	isDown    bool
	lastCheck time.Time
}

func NewFailoverStore(primary, fallback KeyValueStore, recoveryInterval time.Duration, logger *zerolog.Logger) *FailoverStore {
	if recoveryInterval <= 0 {
		recoveryInterval = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverStore{
		primary:          primary,
		fallback:         fallback,
		logger:           logger,
		recoveryInterval: recoveryInterval,
	}
}

// usePrimary reports whether the primary should be attempted now.
func (s *FailoverStore) usePrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.isDown || time.Since(s.lastCheck) > s.recoveryInterval
}

func (s *FailoverStore) markDown(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isDown {
		s.logger.Error().Err(err).Msg("Primary store failed, falling back")
	}
	s.isDown = true
	s.lastCheck = time.Now()
}

func (s *FailoverStore) markUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isDown {
		s.logger.Info().Msg("Primary store recovered")
	}
	s.isDown = false
}

// Down reports whether the fallback is currently serving.
func (s *FailoverStore) Down() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDown
}

func (s *FailoverStore) Get(ctx context.Context, key string) (string, error) {
	if s.usePrimary() {
		val, err := s.primary.Get(ctx, key)
		if err == nil || err == ErrNotFound {
			s.markUp()
			return val, err
		}
		s.markDown(err)
	}
	return s.fallback.Get(ctx, key)
}

func (s *FailoverStore) Set(ctx context.Context, key, value string) error {
	if s.usePrimary() {
		err := s.primary.Set(ctx, key, value)
		if err == nil {
			s.markUp()
			return nil
		}
		s.markDown(err)
	}
	return s.fallback.Set(ctx, key, value)
}

func (s *FailoverStore) Remove(ctx context.Context, key string) error {
	if s.usePrimary() {
		err := s.primary.Remove(ctx, key)
		if err == nil {
			s.markUp()
			return s.fallback.Remove(ctx, key)
		}
		s.markDown(err)
	}
	return s.fallback.Remove(ctx, key)
}
