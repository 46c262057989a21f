package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"go.uber.org/zap"
)

// Lanes runs tasks on a fixed number of ordered lanes. Tasks submitted to
// the same lane run one at a time in submission order.
type Lanes struct {
	name     string
	lanes    []chan Task
	logger   *zap.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewLanes starts count lanes, each buffering up to depth tasks
func NewLanes(name string, count, depth int, logger *zap.Logger) *Lanes {
	if count <= 0 {
		count = 1
	}
	if depth <= 0 {
		depth = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Lanes{
		name:     name,
		lanes:    make([]chan Task, count),
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	for i := range l.lanes {
		l.lanes[i] = make(chan Task, depth)
		l.wg.Add(1)
		go l.run(l.lanes[i])
	}
	return l
}

// Count returns the number of lanes
func (l *Lanes) Count() int {
	return len(l.lanes)
}

// Lane maps a partition to its lane
func (l *Lanes) Lane(partition int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % len(l.lanes)
}

func (l *Lanes) run(ch chan Task) {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopChan:
			return
		case task := <-ch:
			if err := safeExecute(l.logger, l.name, task); err != nil {
				l.logger.Debug("Lane task failed",
					zap.String("lanes", l.name),
					zap.String("task", task.Name),
					zap.Error(err))
			}
		}
	}
}

// Submit queues task on lane, blocking while the lane is full
func (l *Lanes) Submit(ctx context.Context, lane int, task Task) error {
	select {
	case <-l.stopChan:
		return errors.Unavailable(fmt.Sprintf("lanes %q are stopped", l.name), nil)
	default:
	}
	select {
	case <-l.stopChan:
		return errors.Unavailable(fmt.Sprintf("lanes %q are stopped", l.name), nil)
	case <-ctx.Done():
		return errors.Timeout("lane submission cancelled", ctx.Err())
	case l.lanes[lane%len(l.lanes)] <- task:
		return nil
	}
}

// Stop stops every lane, waiting up to timeout for running tasks. Queued
// tasks that have not started are dropped.
func (l *Lanes) Stop(timeout time.Duration) error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopChan)
		if !waitGroup(&l.wg, timeout) {
			err = fmt.Errorf("lanes %q stop timeout after %v", l.name, timeout)
		}
	})
	return err
}
