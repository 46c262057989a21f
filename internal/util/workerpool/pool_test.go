package workerpool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/util/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupPool(t *testing.T, workers, queue int) *workerpool.WorkerPool {
	t.Helper()
	p := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "test",
		MaxWorkers: workers,
		QueueSize:  queue,
		Logger:     zap.NewNop(),
	})
	t.Cleanup(func() { _ = p.Stop(time.Second) })
	return p
}

func TestWorkerPool_RunsTasks(t *testing.T) {
	p := setupPool(t, 4, 16)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(workerpool.Task{Name: "count", Fn: func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			seen++
			mu.Unlock()
			return nil
		}}))
	}
	wg.Wait()
	assert.Equal(t, 10, seen)
	assert.Eventually(t, func() bool { return p.Stats().CompletedTasks == 10 }, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	p := setupPool(t, 1, 4)

	require.NoError(t, p.Submit(workerpool.Task{Name: "boom", Fn: func(context.Context) error { panic("boom") }}))
	assert.Eventually(t, func() bool { return p.Stats().FailedTasks == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	require.NoError(t, p.Submit(workerpool.Task{Name: "after", Fn: func(context.Context) error {
		close(done)
		return nil
	}}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestWorkerPool_RejectsWhenFull(t *testing.T) {
	p := setupPool(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(workerpool.Task{Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.NoError(t, p.Submit(workerpool.Task{Fn: func(context.Context) error { return nil }}))

	err := p.Submit(workerpool.Task{Fn: func(context.Context) error { return nil }})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResourceExhausted, errors.GetCode(err))
	close(release)
}

func TestWorkerPool_StoppedRejects(t *testing.T) {
	p := setupPool(t, 1, 1)
	require.NoError(t, p.Stop(time.Second))

	err := p.Submit(workerpool.Task{Fn: func(context.Context) error { return nil }})
	assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(err))
}

func TestLanes_PreserveOrderPerLane(t *testing.T) {
	lanes := workerpool.NewLanes("test", 4, 8, zap.NewNop())
	t.Cleanup(func() { _ = lanes.Stop(time.Second) })

	var mu sync.Mutex
	order := make(map[int][]int)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		i := i
		lane := lanes.Lane(i % 3)
		wg.Add(1)
		require.NoError(t, lanes.Submit(context.Background(), lane, workerpool.Task{Fn: func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			order[lane] = append(order[lane], i)
			mu.Unlock()
			return nil
		}}))
	}
	wg.Wait()

	for lane, seq := range order {
		for j := 1; j < len(seq); j++ {
			assert.Less(t, seq[j-1], seq[j], "lane %d out of order", lane)
		}
	}
	assert.Equal(t, 2, lanes.Lane(6))
	assert.Equal(t, 4, lanes.Count())
}
