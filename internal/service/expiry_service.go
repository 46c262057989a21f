package service

import (
	"context"
	"runtime"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/model"
	"go.uber.org/zap"
)

func (g *GridService) sweepLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.config.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			if n := g.SweepExpired(context.Background()); n > 0 {
				g.logger.Debug("Expired entries removed", zap.Int("count", n))
			}
			g.updateGauges()
		}
	}
}

func (g *GridService) updateGauges() {
	now := time.Now()
	for _, c := range g.Caches() {
		g.metrics.UpdateCacheEntries(c.id.String(), c.backing.Size(now))
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	g.metrics.UpdateSystemStats(int64(mem.Alloc), runtime.NumGoroutine())
}

// SweepExpired removes every expired entry and returns how many were removed.
// Each removal emits a synthetic Deleted event flagged Expired.
func (g *GridService) SweepExpired(ctx context.Context) int {
	removed := 0
	for _, c := range g.Caches() {
		for p := 0; p < c.backing.PartitionCount(); p++ {
			for _, keyID := range c.backing.Partition(p).Expired(time.Now()) {
				ok, err := c.expire(ctx, p, keyID)
				if err != nil {
					c.logger.Debug("Skipped expiring entry", zap.String("key", keyID), zap.Error(err))
					continue
				}
				if ok {
					removed++
				}
			}
		}
	}
	g.metrics.RecordExpired(removed)
	return removed
}

// expire removes one entry under its entry lock if it is still expired
func (c *Cache) expire(ctx context.Context, p int, keyID string) (bool, error) {
	locks := c.grid.locks
	tx := c.grid.txSeq.Add(1)
	if err := locks.Acquire(ctx, tx, lockKey(c.id, keyID), c.destroyed); err != nil {
		return false, err
	}
	defer locks.ReleaseAll(tx)

	part := c.backing.Partition(p)
	part.Lock()
	e, ok := part.GetLocked(keyID)
	if !ok || !e.IsExpired(time.Now()) || !c.IsActive() {
		part.Unlock()
		return false, nil
	}
	part.DeleteLocked(keyID)
	c.reindex(keyID, nil, nil, false)
	part.Unlock()

	c.grid.events.Publish([]*model.MapEvent{{
		Cache:     c.id,
		Type:      model.EventDeleted,
		Key:       e.Key,
		Partition: p,
		OldValue:  e.Value,
		HasOld:    true,
		Synthetic: true,
		Expired:   true,
		Version:   e.Version + 1,
	}})
	return true, nil
}
