package service_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/partition"
	"github.com/devrev/pairdb/gridcache/internal/service"
)

func newGossip(t *testing.T, cfg *service.GossipConfig, member, proxy string) (*service.GossipService, *partition.Map) {
	t.Helper()
	logger := zap.NewNop()
	pm := partition.NewMap(&partition.Config{PartitionCount: 31, LocalMember: member}, logger)
	gs, err := service.NewGossipService(cfg, member, proxy, pm,
		metrics.NewMetrics(member, prometheus.NewRegistry()), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gs.Shutdown() })
	return gs, pm
}

func TestGossipService_Disabled(t *testing.T) {
	gs, pm := newGossip(t, &service.GossipConfig{}, "member-1", "localhost:1408")

	assert.False(t, gs.Enabled())
	assert.Empty(t, gs.GossipAddress())
	assert.Equal(t, "member-1", gs.LocalMember())
	assert.Equal(t, []string{"localhost:1408"}, gs.ProxyEndpoints())
	assert.Equal(t, []model.Member{{ID: "member-1", ProxyAddress: "localhost:1408", Local: true}}, gs.Members())
	assert.Len(t, pm.OwnedBy("member-1"), 31)

	gs.UpdateHealthStatus(model.NodeStatusDegraded)
}

func TestGossipService_Join(t *testing.T) {
	if testing.Short() {
		t.Skip("starts gossip listeners")
	}
	cfg := func(seeds ...string) *service.GossipConfig {
		return &service.GossipConfig{
			Enabled:        true,
			BindAddr:       "127.0.0.1",
			SeedNodes:      seeds,
			GossipInterval: 20 * time.Millisecond,
			ProbeInterval:  100 * time.Millisecond,
		}
	}
	first, firstMap := newGossip(t, cfg(), "member-1", "localhost:1408")
	require.True(t, first.Enabled())
	second, _ := newGossip(t, cfg(first.GossipAddress()), "member-2", "localhost:1409")

	require.Eventually(t, func() bool {
		return len(first.Members()) == 2 && len(second.Members()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"localhost:1408", "localhost:1409"}, first.ProxyEndpoints())
	assert.Equal(t, []string{"localhost:1409", "localhost:1408"}, second.ProxyEndpoints())

	owned := firstMap.Ownership()
	assert.Equal(t, 31, owned["member-1"]+owned["member-2"])
	assert.Positive(t, owned["member-2"])
}
