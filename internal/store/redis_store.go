package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore implements CacheStore on Redis string keys
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "gridcache"
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

// buildKey creates a Redis key from the cache identity and key identity
func (s *RedisStore) buildKey(cache model.CacheID, keyID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, cache.Scope, cache.Name, keyID)
}

// Load reads a value
func (s *RedisStore) Load(ctx context.Context, cache model.CacheID, keyID string) (any, bool, error) {
	data, err := s.client.Get(ctx, s.buildKey(cache, keyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load entry: %w", err)
	}

	v, err := DecodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Store writes a value without expiry; the grid owns entry expiry
func (s *RedisStore) Store(ctx context.Context, cache model.CacheID, keyID string, _ any, val any) error {
	data, err := EncodeValue(val)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.buildKey(cache, keyID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	return nil
}

// Erase deletes a value
func (s *RedisStore) Erase(ctx context.Context, cache model.CacheID, keyID string) error {
	if err := s.client.Del(ctx, s.buildKey(cache, keyID)).Err(); err != nil {
		return fmt.Errorf("failed to erase entry: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
