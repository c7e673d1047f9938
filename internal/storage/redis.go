package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"resilient/internal/config"
	"resilient/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps values under prefixed Redis keys without expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get value from redis: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set value in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete value from redis: %w", err)
	}
	return nil
}

// RedisDeadLetters records abandoned operations in a Redis list.
type RedisDeadLetters struct {
	client *redis.Client
	key    string
}

func NewRedisDeadLetters(client *redis.Client, key string) *RedisDeadLetters {
	if key == "" {
		key = "resilient:deadletter"
	}
	return &RedisDeadLetters{client: client, key: key}
}

// Push prepends op to the dead-letter list.
func (d *RedisDeadLetters) Push(ctx context.Context, op models.QueuedOperation) error {
	if d.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode deadletter: %w", err)
	}
	if err := d.client.LPush(ctx, d.key, data).Err(); err != nil {
		return fmt.Errorf("deadletter push: %w", err)
	}
	return nil
}

// List returns up to limit dead letters, newest first.
func (d *RedisDeadLetters) List(ctx context.Context, limit int64) ([]models.QueuedOperation, error) {
	if d.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 {
		limit = 100
	}
	raw, err := d.client.LRange(ctx, d.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter list: %w", err)
	}
	out := make([]models.QueuedOperation, 0, len(raw))
	for _, item := range raw {
		var op models.QueuedOperation
		if err := json.Unmarshal([]byte(item), &op); err != nil {
			continue
		}
		out = append(out, op)
	}
	return out, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
