package service

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"go.uber.org/zap"
)

// LockConfig holds lock manager configuration
type LockConfig struct {
	LockTimeout time.Duration
}

// errLockCancelled is returned when the cancel channel closes during a wait
var errLockCancelled = errors.Unavailable("lock wait cancelled", nil)

type keyLock struct {
	holder   uint64
	released chan struct{}
}

// LockManager grants exclusive per-entry locks to transactions. Waits are
// tracked in a wait-for graph; a request that would close a cycle is refused
// with a Deadlock error instead of blocking. One transaction may wait on
// several holders at once when its entries are processed in parallel.
type LockManager struct {
	config *LockConfig
	logger *zap.Logger

	mu       sync.Mutex
	locks    map[string]*keyLock
	waitsFor map[uint64]map[uint64]int
	held     map[uint64][]string
}

// NewLockManager creates a lock manager
func NewLockManager(cfg *LockConfig, logger *zap.Logger) *LockManager {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	return &LockManager{
		config:   cfg,
		logger:   logger,
		locks:    make(map[string]*keyLock),
		waitsFor: make(map[uint64]map[uint64]int),
		held:     make(map[uint64][]string),
	}
}

// Acquire locks key for tx, waiting while another transaction holds it.
// Locks are reentrant. The wait ends early when ctx is done or cancel closes.
func (lm *LockManager) Acquire(ctx context.Context, tx uint64, key string, cancel <-chan struct{}) error {
	timer := time.NewTimer(lm.config.LockTimeout)
	defer timer.Stop()

	var waitingOn uint64
	waiting := false
	for {
		lm.mu.Lock()
		if waiting {
			lm.removeWait(tx, waitingOn)
			waiting = false
		}
		l, ok := lm.locks[key]
		if !ok {
			lm.locks[key] = &keyLock{holder: tx, released: make(chan struct{})}
			lm.held[tx] = append(lm.held[tx], key)
			lm.mu.Unlock()
			return nil
		}
		if l.holder == tx {
			lm.mu.Unlock()
			return nil
		}
		if lm.closesCycle(tx, l.holder) {
			lm.mu.Unlock()
			lm.logger.Debug("Deadlock detected",
				zap.Uint64("tx_id", tx),
				zap.Uint64("holder", l.holder),
				zap.String("key", key))
			return errors.Deadlock(tx, l.holder)
		}
		waitingOn, waiting = l.holder, true
		lm.addWait(tx, waitingOn)
		released := l.released
		lm.mu.Unlock()

		select {
		case <-released:
		case <-timer.C:
			lm.stopWaiting(tx, waitingOn)
			return errors.LockTimeout(key)
		case <-ctx.Done():
			lm.stopWaiting(tx, waitingOn)
			return errors.Timeout("request cancelled while waiting for lock", ctx.Err())
		case <-cancel:
			lm.stopWaiting(tx, waitingOn)
			return errLockCancelled
		}
	}
}

// closesCycle reports whether tx waiting on holder would close a cycle.
// The caller holds lm.mu.
func (lm *LockManager) closesCycle(tx, holder uint64) bool {
	seen := make(map[uint64]bool)
	stack := []uint64{holder}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == tx {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for next := range lm.waitsFor[cur] {
			stack = append(stack, next)
		}
	}
	return false
}

// addWait records one waiter of tx on holder. The caller holds lm.mu.
func (lm *LockManager) addWait(tx, holder uint64) {
	edges, ok := lm.waitsFor[tx]
	if !ok {
		edges = make(map[uint64]int)
		lm.waitsFor[tx] = edges
	}
	edges[holder]++
}

// removeWait drops one waiter of tx on holder. The caller holds lm.mu.
func (lm *LockManager) removeWait(tx, holder uint64) {
	edges, ok := lm.waitsFor[tx]
	if !ok {
		return
	}
	if edges[holder]--; edges[holder] <= 0 {
		delete(edges, holder)
	}
	if len(edges) == 0 {
		delete(lm.waitsFor, tx)
	}
}

func (lm *LockManager) stopWaiting(tx, holder uint64) {
	lm.mu.Lock()
	lm.removeWait(tx, holder)
	lm.mu.Unlock()
}

// ReleaseAll releases every lock held by tx and wakes its waiters
func (lm *LockManager) ReleaseAll(tx uint64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, key := range lm.held[tx] {
		if l, ok := lm.locks[key]; ok && l.holder == tx {
			delete(lm.locks, key)
			close(l.released)
		}
	}
	delete(lm.held, tx)
}

// Holder returns the transaction holding key
func (lm *LockManager) Holder(key string) (uint64, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.locks[key]
	if !ok {
		return 0, false
	}
	return l.holder, true
}

// LockCount returns the number of held locks
func (lm *LockManager) LockCount() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}
