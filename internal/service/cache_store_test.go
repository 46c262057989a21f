package service_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/service"
	"github.com/devrev/pairdb/gridcache/internal/store"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

// MockCacheStore is a mock implementation of store.CacheStore
type MockCacheStore struct {
	mock.Mock
}

func (m *MockCacheStore) Load(ctx context.Context, cache model.CacheID, keyID string) (any, bool, error) {
	args := m.Called(ctx, cache, keyID)
	return args.Get(0), args.Bool(1), args.Error(2)
}

func (m *MockCacheStore) Store(ctx context.Context, cache model.CacheID, keyID string, key, val any) error {
	args := m.Called(ctx, cache, keyID, key, val)
	return args.Error(0)
}

func (m *MockCacheStore) Erase(ctx context.Context, cache model.CacheID, keyID string) error {
	args := m.Called(ctx, cache, keyID)
	return args.Error(0)
}

func (m *MockCacheStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCacheStore) Close() error {
	return m.Called().Error(0)
}

func setupStoreGrid(t *testing.T, s store.CacheStore) *service.GridService {
	t.Helper()
	resolver := store.NewResolver(zap.NewNop())
	require.NoError(t, resolver.Bind("stored-*", s))
	return setupGrid(t, resolver)
}

func TestCacheStore_WriteThrough(t *testing.T) {
	ms := new(MockCacheStore)
	grid := setupStoreGrid(t, ms)
	c := ensure(t, grid, "stored-orders")
	ctx := context.Background()
	keyID := value.KeyOf("o1")

	ms.On("Load", mock.Anything, c.ID(), keyID).Return(nil, false, nil).Once()
	ms.On("Store", mock.Anything, c.ID(), keyID, "o1", "placed").Return(nil).Once()
	ms.On("Erase", mock.Anything, c.ID(), keyID).Return(nil).Once()

	_, err := c.Put(ctx, "o1", "placed", 0)
	require.NoError(t, err)
	_, err = c.Remove(ctx, "o1")
	require.NoError(t, err)
	// removing an absent entry does not reach the store
	ms.On("Load", mock.Anything, c.ID(), keyID).Return(nil, false, nil).Once()
	_, err = c.Remove(ctx, "o1")
	require.NoError(t, err)

	ms.AssertExpectations(t)
}

func TestCacheStore_WriteFailureLeavesCacheUnchanged(t *testing.T) {
	ms := new(MockCacheStore)
	grid := setupStoreGrid(t, ms)
	c := ensure(t, grid, "stored-orders")
	ctx := context.Background()

	rec := &recorder{}
	_, err := c.AddMapListener(ctx, service.ListenerOptions{Synchronous: true}, rec)
	require.NoError(t, err)

	ms.On("Load", mock.Anything, c.ID(), mock.Anything).Return(nil, false, nil)
	ms.On("Store", mock.Anything, c.ID(), mock.Anything, mock.Anything, mock.Anything).
		Return(stderrors.New("database is down"))

	_, err = c.Put(ctx, "o1", "placed", 0)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIncompleteRequest, errors.GetCode(err))

	size, err := c.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Zero(t, rec.len())
	assert.Zero(t, grid.Locks().LockCount())
}

func TestCacheStore_ReadThrough(t *testing.T) {
	ms := new(MockCacheStore)
	grid := setupStoreGrid(t, ms)
	c := ensure(t, grid, "stored-people")
	ctx := context.Background()

	rec := &recorder{}
	_, err := c.AddMapListener(ctx, service.ListenerOptions{Synchronous: true}, rec)
	require.NoError(t, err)

	ms.On("Load", mock.Anything, c.ID(), value.KeyOf("ann")).Return(person("Ann", 25), true, nil).Once()
	ms.On("Load", mock.Anything, c.ID(), value.KeyOf("zed")).Return(nil, false, nil).Once()

	v, present, err := c.Get(ctx, "ann")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, person("Ann", 25), v)

	// the loaded entry is now resident and announced as a synthetic insert
	v, _, err = c.Get(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, person("Ann", 25), v)
	require.Equal(t, 1, rec.len())
	ev := rec.snapshot()[0]
	assert.Equal(t, model.EventInserted, ev.Type)
	assert.True(t, ev.Synthetic)

	_, present, err = c.Get(ctx, "zed")
	require.NoError(t, err)
	assert.False(t, present)

	ms.AssertExpectations(t)
}

func TestCacheStore_LoadFailure(t *testing.T) {
	ms := new(MockCacheStore)
	grid := setupStoreGrid(t, ms)
	c := ensure(t, grid, "stored-people")

	ms.On("Load", mock.Anything, c.ID(), mock.Anything).Return(nil, false, stderrors.New("timeout"))

	_, _, err := c.Get(context.Background(), "ann")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIncompleteRequest, errors.GetCode(err))
}

func TestCacheStore_UnboundCachesSkipTheStore(t *testing.T) {
	ms := new(MockCacheStore)
	grid := setupStoreGrid(t, ms)
	c := ensure(t, grid, "plain")

	_, err := c.Put(context.Background(), "k", "v", 0)
	require.NoError(t, err)
	ms.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
