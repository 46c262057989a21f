package client

// AssociatedKey is a key that is stored in the partition of another key.
// Entries sharing an associated key can be updated in one invokeAll
// transaction.
type AssociatedKey[K any, A any] struct {
	Class         string `json:"@class"`
	Key           K      `json:"key"`
	AssociatedKey A      `json:"associatedKey"`
}

// NewAssociatedKey returns key routed by associated
func NewAssociatedKey[K any, A any](key K, associated A) AssociatedKey[K, A] {
	return AssociatedKey[K, A]{Class: "key.Associated", Key: key, AssociatedKey: associated}
}

// PartitionAwareKey is a key that names its partition
type PartitionAwareKey[K any] struct {
	Class     string `json:"@class"`
	Key       K      `json:"key"`
	Partition int    `json:"partition"`
}

// NewPartitionAwareKey returns key pinned to partition
func NewPartitionAwareKey[K any](key K, partition int) PartitionAwareKey[K] {
	return PartitionAwareKey[K]{Class: "key.PartitionAware", Key: key, Partition: partition}
}
