package store_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/store"
	"github.com/devrev/pairdb/gridcache/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStore_LoadStoreErase(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	cache := model.CacheID{Scope: "s", Name: "orders"}

	_, found, err := s.Load(ctx, cache, `"k"`)
	require.NoError(t, err)
	assert.False(t, found)

	val := map[string]any{"total": value.MustDecimal("10.50"), "n": new(big.Int).Lsh(big.NewInt(1), 70)}
	require.NoError(t, s.Store(ctx, cache, `"k"`, "k", val))

	got, found, err := s.Load(ctx, cache, `"k"`)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, value.Equal(val, got))
	assert.Equal(t, "10.50", got.(map[string]any)["total"].(value.Decimal).String())

	require.NoError(t, s.Erase(ctx, cache, `"k"`))
	require.NoError(t, s.Erase(ctx, cache, `"k"`))
	assert.Equal(t, 0, s.Len(cache))
}

func TestMemoryStore_NullValue(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	cache := model.CacheID{Name: "c"}

	require.NoError(t, s.Store(ctx, cache, "1", int64(1), nil))
	got, found, err := s.Load(ctx, cache, "1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, got)
}

func TestResolver_FirstMatchWins(t *testing.T) {
	r := store.NewResolver(zap.NewNop())
	orders := store.NewMemoryStore()
	rest := store.NewMemoryStore()
	require.NoError(t, r.Bind("orders-*", orders))
	require.NoError(t, r.Bind("*", rest))

	assert.Same(t, orders, r.For(model.CacheID{Name: "orders-eu"}))
	assert.Same(t, rest, r.For(model.CacheID{Name: "people"}))

	assert.Error(t, r.Bind("[", orders))
	require.NoError(t, r.Ping(context.Background()))
	require.NoError(t, r.Close())

	var nilResolver *store.Resolver
	assert.Nil(t, nilResolver.For(model.CacheID{Name: "x"}))
}
