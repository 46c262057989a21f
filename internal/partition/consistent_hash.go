package partition

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const vnodeSuffix = "-vnode-"

// ConsistentHasher places members on a hash ring with virtual nodes and
// answers which member owns a given hash
type ConsistentHasher struct {
	ring         []uint64            // Sorted hash values
	ringMap      map[uint64]string   // Hash -> VNodeID
	memberVNodes map[string][]uint64 // MemberID -> VNode hashes
	mu           sync.RWMutex
}

// NewConsistentHasher creates a new consistent hasher
func NewConsistentHasher() *ConsistentHasher {
	return &ConsistentHasher{
		ring:         make([]uint64, 0),
		ringMap:      make(map[uint64]string),
		memberVNodes: make(map[string][]uint64),
	}
}

// AddMember adds a member with virtual nodes
func (ch *ConsistentHasher) AddMember(memberID string, virtualNodeCount int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, exists := ch.memberVNodes[memberID]; exists {
		return
	}

	vnodeHashes := make([]uint64, 0, virtualNodeCount)
	for i := 0; i < virtualNodeCount; i++ {
		vnodeID := fmt.Sprintf("%s%s%d", memberID, vnodeSuffix, i)
		hash := ch.hash(vnodeID)
		if _, taken := ch.ringMap[hash]; taken {
			continue
		}

		ch.ring = append(ch.ring, hash)
		ch.ringMap[hash] = vnodeID
		vnodeHashes = append(vnodeHashes, hash)
	}

	ch.memberVNodes[memberID] = vnodeHashes
	sort.Slice(ch.ring, func(i, j int) bool { return ch.ring[i] < ch.ring[j] })
}

// RemoveMember removes a member and its virtual nodes
func (ch *ConsistentHasher) RemoveMember(memberID string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	vnodeHashes, exists := ch.memberVNodes[memberID]
	if !exists {
		return
	}

	hashSet := make(map[uint64]bool, len(vnodeHashes))
	for _, hash := range vnodeHashes {
		hashSet[hash] = true
		delete(ch.ringMap, hash)
	}

	newRing := make([]uint64, 0, len(ch.ring)-len(vnodeHashes))
	for _, hash := range ch.ring {
		if !hashSet[hash] {
			newRing = append(newRing, hash)
		}
	}
	ch.ring = newRing

	delete(ch.memberVNodes, memberID)
}

// Owner returns the member owning the first virtual node at or after hash
func (ch *ConsistentHasher) Owner(hash uint64) (string, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	if len(ch.ring) == 0 {
		return "", false
	}

	idx := sort.Search(len(ch.ring), func(i int) bool {
		return ch.ring[i] >= hash
	})
	if idx >= len(ch.ring) {
		idx = 0
	}

	return extractMemberID(ch.ringMap[ch.ring[idx]]), true
}

// Members returns the member IDs on the ring in sorted order
func (ch *ConsistentHasher) Members() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	members := make([]string, 0, len(ch.memberVNodes))
	for id := range ch.memberVNodes {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// MemberCount returns the number of members on the ring
func (ch *ConsistentHasher) MemberCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.memberVNodes)
}

// Hash computes the ring hash for a label
func (ch *ConsistentHasher) Hash(label string) uint64 {
	return ch.hash(label)
}

// hash computes SHA-256 hash and converts to uint64
func (ch *ConsistentHasher) hash(label string) uint64 {
	sum := sha256.Sum256([]byte(label))
	return binary.BigEndian.Uint64(sum[:8])
}

// extractMemberID extracts the member ID from a virtual node ID
// Format: memberID-vnode-X
func extractMemberID(vnodeID string) string {
	if idx := strings.LastIndex(vnodeID, vnodeSuffix); idx >= 0 {
		return vnodeID[:idx]
	}
	return vnodeID
}
