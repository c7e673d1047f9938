package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"resilient/internal/config"
	"resilient/internal/models"
	"resilient/internal/queue"
	"resilient/internal/retry"
	"resilient/internal/storage"
	"resilient/internal/transport"
	"resilient/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

func retryPolicy(cfg config.RetryConfig) (retry.Policy, error) {
	p := retry.Policy{
		MaxRetries:           cfg.MaxRetries,
		BaseDelay:            cfg.BaseDelay.Std(),
		MaxDelay:             cfg.MaxDelay.Std(),
		MaxJitter:            cfg.MaxJitter.Std(),
		RetryableStatusCodes: cfg.RetryableStatusCodes,
	}
	for _, raw := range cfg.RetryableMethods {
		m, ok := models.ParseMethod(raw)
		if !ok {
			return retry.Policy{}, fmt.Errorf("retry: unknown method %q", raw)
		}
		p.RetryableMethods = append(p.RetryableMethods, m)
	}
	return p, nil
}

func queueConfig(cfg config.QueueConfig) queue.Config {
	return queue.Config{
		MaxSize:    cfg.MaxSize,
		Persist:    cfg.Persist == nil || *cfg.Persist,
		StorageKey: cfg.StorageKey,
	}
}

func syncConfig(cfg config.QueueConfig, dead worker.DeadLetterSink) worker.SyncConfig {
	return worker.SyncConfig{
		MaxRetries:      cfg.MaxSyncRetries,
		SyncOnReconnect: cfg.SyncOnReconnect == nil || *cfg.SyncOnReconnect,
		DeadLetters:     dead,
	}
}

func classifier(cfg config.QueueConfig) queue.Classifier {
	if len(cfg.HighPriorityPatterns) == 0 && len(cfg.LowPriorityPatterns) == 0 {
		return queue.DefaultClassifier
	}
	return queue.PatternClassifier{High: cfg.HighPriorityPatterns, Low: cfg.LowPriorityPatterns}.Classify
}

// initRedis connects when an address is configured. A failed ping is logged
// and yields nil so the service runs without redis.
func initRedis(ctx context.Context, cfg config.RedisConfig, logger *zerolog.Logger) *redis.Client {
	if cfg.Address == "" {
		return nil
	}
	rdb := storage.NewRedisClient(cfg)
	if err := storage.Ping(ctx, rdb); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Address).Msg("redis connection failed, continuing without redis")
		_ = rdb.Close()
		return nil
	}
	logger.Info().Str("addr", cfg.Address).Msg("redis connected")
	return rdb
}

type storeHandle struct {
	store  storage.KeyValueStore
	closer io.Closer
	ping   func(ctx context.Context) error
}

func (h storeHandle) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}

// buildStore picks the queue backend. With fallback_to_memory the backend is
// wrapped in a FailoverStore, and a missing redis degrades to memory.
func buildStore(cfg config.StorageConfig, rcfg config.RedisConfig, rdb *redis.Client, logger *zerolog.Logger) (storeHandle, error) {
	var primary storeHandle
	switch cfg.Backend {
	case config.BackendMemory:
		return storeHandle{store: storage.NewMemoryStore(0)}, nil
	case config.BackendSQLite:
		s, err := storage.NewSQLiteStore(cfg.SQLitePath, logger)
		if err != nil {
			return storeHandle{}, fmt.Errorf("open sqlite store: %w", err)
		}
		primary = storeHandle{store: s, closer: s, ping: s.PingContext}
	case config.BackendRedis:
		if rdb == nil {
			if !cfg.FallbackToMemory {
				return storeHandle{}, errors.New("redis backend selected but redis is unavailable")
			}
			logger.Warn().Msg("redis unavailable, queue falls back to memory")
			return storeHandle{store: storage.NewMemoryStore(0)}, nil
		}
		primary = storeHandle{
			store: storage.NewRedisStore(rdb, rcfg.KeyPrefix),
			ping:  func(ctx context.Context) error { return storage.Ping(ctx, rdb) },
		}
	default:
		return storeHandle{}, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}

	if cfg.FallbackToMemory {
		primary.store = storage.NewFailoverStore(primary.store, storage.NewMemoryStore(0), cfg.RecoveryInterval.Std(), logger)
	}
	return primary, nil
}

func tokenSource(ctx context.Context, cfg config.UpstreamConfig) oauth2.TokenSource {
	if cfg.OAuth.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		return cc.TokenSource(ctx)
	}
	if cfg.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	}
	return nil
}

func buildTransport(ctx context.Context, cfg config.UpstreamConfig) *transport.HTTPTransport {
	opts := []transport.HTTPOption{
		transport.WithTimeout(cfg.Timeout.Std()),
		transport.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
	if ts := tokenSource(ctx, cfg); ts != nil {
		opts = append(opts, transport.WithTokenSource(ts))
	}
	return transport.NewHTTPTransport(cfg.BaseURL, opts...)
}
