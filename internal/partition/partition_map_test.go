package partition_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/partition"
)

// setupMap creates a partition map for tests
func setupMap(t *testing.T, deferCheck bool) *partition.Map {
	t.Helper()
	return partition.NewMap(&partition.Config{
		PartitionCount:           31,
		DeferKeyAssociationCheck: deferCheck,
		LocalMember:              "member-1",
	}, zap.NewNop())
}

func TestMap_AssociatedKeysCollocate(t *testing.T) {
	m := setupMap(t, false)

	expected, err := m.PartitionFor("order-group")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		key := partition.NewAssociatedKey(fmt.Sprintf("line-%d", i), "order-group")
		p, err := m.PartitionFor(key)
		require.NoError(t, err)
		assert.Equal(t, expected, p)
	}
}

func TestMap_RoutingPrecedence(t *testing.T) {
	m := setupMap(t, false)
	seven := 7

	tests := []struct {
		name     string
		key      any
		hint     *partition.Hint
		expected int
	}{
		{
			name:     "partition aware key",
			key:      partition.NewPartitionAwareKey("k", 5),
			expected: 5,
		},
		{
			name:     "hint partition",
			key:      "k",
			hint:     &partition.Hint{Partition: &seven},
			expected: 7,
		},
		{
			name:     "hint associated key",
			key:      "child",
			hint:     &partition.Hint{AssociatedKey: "parent", HasAssociatedKey: true},
			expected: mustPartition(t, m, "parent"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := m.Route(tt.key, tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func mustPartition(t *testing.T, m *partition.Map, key any) int {
	p, err := m.PartitionFor(key)
	require.NoError(t, err)
	return p
}

func TestMap_StrictRejectsOutOfRange(t *testing.T) {
	strict := setupMap(t, false)
	_, err := strict.PartitionFor(partition.NewPartitionAwareKey("k", 40))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))

	three := 3
	_, err = strict.Route(partition.NewPartitionAwareKey("k", 5), &partition.Hint{Partition: &three})
	assert.Error(t, err)

	deferred := setupMap(t, true)
	p, err := deferred.PartitionFor(partition.NewPartitionAwareKey("k", 40))
	require.NoError(t, err)
	assert.Equal(t, 40%31, p)
}

func TestMap_Ownership(t *testing.T) {
	m := setupMap(t, false)
	assert.Len(t, m.OwnedBy("member-1"), 31)
	assert.True(t, m.IsLocal(0))

	v := m.Version()
	m.AddMember("member-2")
	assert.Greater(t, m.Version(), v)
	owned := m.Ownership()
	assert.Equal(t, 31, owned["member-1"]+owned["member-2"])
	assert.ElementsMatch(t, []string{"member-1", "member-2"}, m.Members())

	m.RemoveMember("member-2")
	assert.Len(t, m.OwnedBy("member-1"), 31)
}
