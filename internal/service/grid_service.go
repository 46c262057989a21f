package service

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/partition"
	"github.com/devrev/pairdb/gridcache/internal/store"
	"go.uber.org/zap"
)

// GridConfig holds entry processing and cache configuration
type GridConfig struct {
	LockTimeout         time.Duration
	MaxRetries          int
	RetryBackoff        time.Duration
	Parallelism         int
	ExpirySweepInterval time.Duration
	StoreTimeout        time.Duration
}

// GridService owns the caches of a member and runs their transactions
type GridService struct {
	config     *GridConfig
	partitions *partition.Map
	locks      *LockManager
	events     *EventService
	stores     *store.Resolver
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu     sync.RWMutex
	caches map[model.CacheID]*Cache

	txSeq    atomic.Uint64
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewGridService creates a grid service. stores may be nil when no cache
// store is configured.
func NewGridService(
	cfg *GridConfig,
	partitions *partition.Map,
	events *EventService,
	stores *store.Resolver,
	m *metrics.Metrics,
	logger *zap.Logger,
) *GridService {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Millisecond
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}

	return &GridService{
		config:     cfg,
		partitions: partitions,
		locks:      NewLockManager(&LockConfig{LockTimeout: cfg.LockTimeout}, logger),
		events:     events,
		stores:     stores,
		metrics:    m,
		logger:     logger,
		caches:     make(map[model.CacheID]*Cache),
		stopCh:     make(chan struct{}),
	}
}

// Partitions returns the partition map
func (g *GridService) Partitions() *partition.Map {
	return g.partitions
}

// Events returns the event hub
func (g *GridService) Events() *EventService {
	return g.events
}

// Locks returns the lock manager
func (g *GridService) Locks() *LockManager {
	return g.locks
}

// EnsureCache returns the active cache named name in scope, creating it
// when it does not exist or was destroyed
func (g *GridService) EnsureCache(scope, name string) (*Cache, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.InvalidArgument("cache name is required", nil)
	}
	id := model.CacheID{Scope: scope, Name: name}

	g.mu.RLock()
	c, ok := g.caches[id]
	g.mu.RUnlock()
	if ok {
		return c, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.caches[id]; ok {
		return c, nil
	}
	c = newCache(id, g)
	g.caches[id] = c
	g.logger.Info("Cache created",
		zap.String("cache", id.String()),
		zap.Bool("cache_store", c.store != nil))
	return c, nil
}

// Cache returns an existing active cache
func (g *GridService) Cache(scope, name string) (*Cache, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.caches[model.CacheID{Scope: scope, Name: name}]
	return c, ok
}

// Caches returns every active cache ordered by qualified name
func (g *GridService) Caches() []*Cache {
	g.mu.RLock()
	out := make([]*Cache, 0, len(g.caches))
	for _, c := range g.caches {
		out = append(out, c)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id.String() < out[j].id.String() })
	return out
}

func (g *GridService) removeCache(c *Cache) {
	g.mu.Lock()
	if cur, ok := g.caches[c.id]; ok && cur == c {
		delete(g.caches, c.id)
	}
	g.mu.Unlock()
	g.metrics.DeleteCache(c.id.String())
}

// execute runs fn in a fresh transaction and commits it. Transactions
// aborted by a deadlock or lock timeout are retried with jittered backoff;
// when retries run out the caller gets Conflict.
func (g *GridService) execute(ctx context.Context, scope string, fn func(tx *Transaction) error) error {
	for attempt := 0; ; attempt++ {
		tx := g.newTransaction(ctx, scope)
		err := fn(tx)
		if err == nil {
			err = tx.commit()
		}
		tx.release()
		if err == nil {
			return nil
		}

		g.metrics.RecordRollback()
		if !errors.IsRetryable(err) {
			return err
		}
		g.metrics.RecordConflict()
		if attempt >= g.config.MaxRetries {
			g.logger.Warn("Transaction retries exhausted",
				zap.Uint64("tx_id", tx.id),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return errors.Conflict(fmt.Sprintf("transaction aborted after %d attempts", attempt+1), err)
		}

		g.metrics.RecordRetry()
		if err := g.backoff(ctx, attempt); err != nil {
			return err
		}
	}
}

func (g *GridService) backoff(ctx context.Context, attempt int) error {
	base := g.config.RetryBackoff << uint(min(attempt, 6))
	delay := base/2 + time.Duration(rand.Int63n(int64(base)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.Timeout("request cancelled during retry backoff", ctx.Err())
	}
}

// Start launches the expiry sweeper
func (g *GridService) Start() {
	if g.config.ExpirySweepInterval <= 0 {
		return
	}
	g.wg.Add(1)
	go g.sweepLoop()
}

// Stop halts background work
func (g *GridService) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})
	g.wg.Wait()
}

// Running reports whether Stop has not been called
func (g *GridService) Running() bool {
	select {
	case <-g.stopCh:
		return false
	default:
		return true
	}
}

// Stats summarizes the grid for health reporting
func (g *GridService) Stats() (caches int, entries int64) {
	now := time.Now()
	for _, c := range g.Caches() {
		caches++
		entries += int64(c.backing.Size(now))
	}
	return caches, entries
}
