// Package store connects caches to external systems of record.
//
// A CacheStore is consulted on a cache miss (read-through) and written
// before a mutation commits in memory (write-through).
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
	TypeRedis    = "redis"
)

// CacheStore is the external system of record for one or more caches
type CacheStore interface {
	// Load returns the stored value of key; found is false when none exists
	Load(ctx context.Context, cache model.CacheID, keyID string) (val any, found bool, err error)
	// Store writes key and value
	Store(ctx context.Context, cache model.CacheID, keyID string, key, val any) error
	// Erase removes key; erasing a missing key is not an error
	Erase(ctx context.Context, cache model.CacheID, keyID string) error
	Ping(ctx context.Context) error
	Close() error
}

// EncodeValue renders a canonical value as JSON text
func EncodeValue(v any) ([]byte, error) {
	data, err := json.Marshal(value.Wire(v))
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return data, nil
}

// DecodeValue parses JSON text produced by EncodeValue
func DecodeValue(data []byte) (any, error) {
	v, err := value.DecodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return v, nil
}
