package store

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/devrev/pairdb/gridcache/internal/model"
	"go.uber.org/zap"
)

type binding struct {
	pattern string
	store   CacheStore
}

// Resolver maps cache names to cache stores by glob pattern.
// The first matching binding wins.
type Resolver struct {
	mu       sync.RWMutex
	bindings []binding
	logger   *zap.Logger
}

// NewResolver creates a resolver with no bindings
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Bind attaches s to every cache whose name matches pattern
func (r *Resolver) Bind(pattern string, s CacheStore) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid cache name pattern %q: %w", pattern, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, binding{pattern: pattern, store: s})
	r.logger.Info("Cache store bound", zap.String("pattern", pattern))
	return nil
}

// For returns the store bound to cache, or nil
func (r *Resolver) For(cache model.CacheID) CacheStore {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bindings {
		if ok, _ := path.Match(b.pattern, cache.Name); ok {
			return b.store
		}
	}
	return nil
}

func (r *Resolver) stores() []CacheStore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[CacheStore]bool)
	var out []CacheStore
	for _, b := range r.bindings {
		if !seen[b.store] {
			seen[b.store] = true
			out = append(out, b.store)
		}
	}
	return out
}

// Ping checks every bound store
func (r *Resolver) Ping(ctx context.Context) error {
	for _, s := range r.stores() {
		if err := s.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every bound store once
func (r *Resolver) Close() error {
	var first error
	for _, s := range r.stores() {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
