// Package partition maps keys to partitions and partitions to members.
package partition

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

const (
	// ClassAssociatedKey tags a key that routes by its associated key
	ClassAssociatedKey = "key.Associated"
	// ClassPartitionAwareKey tags a key that names its partition directly
	ClassPartitionAwareKey = "key.PartitionAware"

	DefaultPartitionCount = 257
	DefaultVirtualNodes   = 64
)

// Config holds partition map configuration
type Config struct {
	PartitionCount           int
	VirtualNodes             int
	DeferKeyAssociationCheck bool
	LocalMember              string
}

// Hint carries routing information sent alongside a key
type Hint struct {
	AssociatedKey    any
	HasAssociatedKey bool
	Partition        *int
}

// Map resolves keys to partitions and tracks partition ownership
type Map struct {
	count        int
	virtualNodes int
	deferCheck   bool
	localMember  string
	ring         *ConsistentHasher
	logger       *zap.Logger

	mu      sync.RWMutex
	owners  []string
	version uint64
}

// NewMap creates a partition map owned entirely by the local member
func NewMap(cfg *Config, logger *zap.Logger) *Map {
	count := cfg.PartitionCount
	if count <= 0 {
		count = DefaultPartitionCount
	}
	vnodes := cfg.VirtualNodes
	if vnodes <= 0 {
		vnodes = DefaultVirtualNodes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Map{
		count:        count,
		virtualNodes: vnodes,
		deferCheck:   cfg.DeferKeyAssociationCheck,
		localMember:  cfg.LocalMember,
		ring:         NewConsistentHasher(),
		logger:       logger,
		owners:       make([]string, count),
	}
	m.SetMembers([]string{cfg.LocalMember})
	return m
}

// Count returns the number of partitions
func (m *Map) Count() int {
	return m.count
}

// DeferKeyAssociationCheck reports whether routing validation is relaxed
func (m *Map) DeferKeyAssociationCheck() bool {
	return m.deferCheck
}

// HashKey hashes a canonical key identity
func HashKey(keyID string) uint64 {
	return xxhash.Sum64String(keyID)
}

// PartitionFor returns the partition owning key
func (m *Map) PartitionFor(key any) (int, error) {
	return m.Route(key, nil)
}

// Route resolves the partition for key. Explicit partitions win over
// association, which wins over the key's own hash.
func (m *Map) Route(key any, hint *Hint) (int, error) {
	if p, ok := PartitionAwarePartition(key); ok {
		if hint != nil && hint.Partition != nil && *hint.Partition != p && !m.deferCheck {
			return 0, errors.InvalidArgument(
				fmt.Sprintf("partition hint %d disagrees with key partition %d", *hint.Partition, p), nil)
		}
		return m.explicit(p)
	}
	if hint != nil && hint.Partition != nil {
		return m.explicit(*hint.Partition)
	}

	routing := key
	if assoc, ok := AssociatedKey(key); ok {
		if hint != nil && hint.HasAssociatedKey && !value.Equal(hint.AssociatedKey, assoc) && !m.deferCheck {
			return 0, errors.InvalidArgument("associated key hint disagrees with key association", nil)
		}
		routing = assoc
	} else if hint != nil && hint.HasAssociatedKey {
		routing = hint.AssociatedKey
	}

	return int(HashKey(value.KeyOf(routing)) % uint64(m.count)), nil
}

func (m *Map) explicit(p int) (int, error) {
	if p >= 0 && p < m.count {
		return p, nil
	}
	if !m.deferCheck {
		return 0, errors.InvalidArgument(
			fmt.Sprintf("partition %d out of range [0, %d)", p, m.count), nil).
			WithDetail("partition", p)
	}
	p %= m.count
	if p < 0 {
		p += m.count
	}
	return p, nil
}

// AssociatedKey returns the associated key carried by an associated key
func AssociatedKey(key any) (any, bool) {
	m, ok := key.(map[string]any)
	if !ok || m[value.ClassKey] != ClassAssociatedKey {
		return nil, false
	}
	assoc, ok := m["associatedKey"]
	return assoc, ok
}

// PartitionAwarePartition returns the partition named by a partition-aware key
func PartitionAwarePartition(key any) (int, bool) {
	m, ok := key.(map[string]any)
	if !ok || m[value.ClassKey] != ClassPartitionAwareKey {
		return 0, false
	}
	p, ok := value.ToInt64(m["partition"])
	if !ok {
		return 0, false
	}
	return int(p), true
}

// NewAssociatedKey builds the canonical form of an associated key
func NewAssociatedKey(key, associatedKey any) map[string]any {
	return map[string]any{
		value.ClassKey:  ClassAssociatedKey,
		"key":           key,
		"associatedKey": associatedKey,
	}
}

// NewPartitionAwareKey builds the canonical form of a partition-aware key
func NewPartitionAwareKey(key any, partition int) map[string]any {
	return map[string]any{
		value.ClassKey: ClassPartitionAwareKey,
		"key":          key,
		"partition":    int64(partition),
	}
}

// SetMembers replaces the member set and recomputes ownership
func (m *Map) SetMembers(members []string) {
	current := make(map[string]bool)
	for _, id := range m.ring.Members() {
		current[id] = true
	}

	wanted := make(map[string]bool, len(members))
	for _, id := range members {
		if id == "" {
			continue
		}
		wanted[id] = true
		if !current[id] {
			m.ring.AddMember(id, m.virtualNodes)
		}
	}
	for id := range current {
		if !wanted[id] {
			m.ring.RemoveMember(id)
		}
	}

	m.reassign()
}

// AddMember adds a member to the ownership ring
func (m *Map) AddMember(memberID string) {
	m.ring.AddMember(memberID, m.virtualNodes)
	m.reassign()
}

// RemoveMember removes a member from the ownership ring
func (m *Map) RemoveMember(memberID string) {
	m.ring.RemoveMember(memberID)
	m.reassign()
}

func (m *Map) reassign() {
	owners := make([]string, m.count)
	for p := 0; p < m.count; p++ {
		owner, ok := m.ring.Owner(m.ring.Hash(fmt.Sprintf("partition-%d", p)))
		if !ok {
			owner = m.localMember
		}
		owners[p] = owner
	}

	m.mu.Lock()
	changed := 0
	for p := range owners {
		if m.owners[p] != owners[p] {
			changed++
		}
	}
	m.owners = owners
	if changed > 0 {
		m.version++
	}
	version := m.version
	m.mu.Unlock()

	if changed > 0 {
		m.logger.Info("Partition ownership updated",
			zap.Int("changed_partitions", changed),
			zap.Int("members", m.ring.MemberCount()),
			zap.Uint64("version", version))
	}
}

// Owner returns the member owning partition p
func (m *Map) Owner(p int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p < 0 || p >= len(m.owners) {
		return ""
	}
	return m.owners[p]
}

// IsLocal reports whether partition p is owned by the local member
func (m *Map) IsLocal(p int) bool {
	return m.Owner(p) == m.localMember
}

// OwnedBy returns the partitions owned by member, in ascending order
func (m *Map) OwnedBy(member string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owned := make([]int, 0)
	for p, owner := range m.owners {
		if owner == member {
			owned = append(owned, p)
		}
	}
	return owned
}

// Ownership returns the number of partitions each member owns
func (m *Map) Ownership() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, owner := range m.owners {
		counts[owner]++
	}
	return counts
}

// Members returns the members on the ring
func (m *Map) Members() []string {
	members := m.ring.Members()
	sort.Strings(members)
	return members
}

// Version returns the ownership version, bumped on every change
func (m *Map) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}
