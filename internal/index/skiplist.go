package index

import (
	"math/rand"
)

const (
	MaxLevel    = 16
	Probability = 0.5
)

// SkipListNode represents a node in the skip list
type SkipListNode struct {
	Key     any
	Value   any
	Forward []*SkipListNode
}

// SkipList keeps distinct keys ordered by a comparison function
type SkipList struct {
	Head    *SkipListNode
	Level   int
	Size    int
	compare func(a, b any) int
}

// NewSkipList creates a skip list ordered by compare
func NewSkipList(compare func(a, b any) int) *SkipList {
	head := &SkipListNode{
		Forward: make([]*SkipListNode, MaxLevel),
	}
	return &SkipList{
		Head:    head,
		Level:   0,
		compare: compare,
	}
}

// randomLevel generates a random level for a new node
func (sl *SkipList) randomLevel() int {
	level := 0
	for rand.Float64() < Probability && level < MaxLevel-1 {
		level++
	}
	return level
}

// findPredecessors fills update with the last node before key on each level
func (sl *SkipList) findPredecessors(key any, update []*SkipListNode) *SkipListNode {
	current := sl.Head
	for i := sl.Level; i >= 0; i-- {
		for current.Forward[i] != nil && sl.compare(current.Forward[i].Key, key) < 0 {
			current = current.Forward[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current
}

// Insert adds or updates a key-value pair
func (sl *SkipList) Insert(key any, value any) {
	update := make([]*SkipListNode, MaxLevel)
	current := sl.findPredecessors(key, update)

	// Check if key already exists
	current = current.Forward[0]
	if current != nil && sl.compare(current.Key, key) == 0 {
		current.Value = value
		return
	}

	newLevel := sl.randomLevel()
	if newLevel > sl.Level {
		for i := sl.Level + 1; i <= newLevel; i++ {
			update[i] = sl.Head
		}
		sl.Level = newLevel
	}

	newNode := &SkipListNode{
		Key:     key,
		Value:   value,
		Forward: make([]*SkipListNode, newLevel+1),
	}
	for i := 0; i <= newLevel; i++ {
		newNode.Forward[i] = update[i].Forward[i]
		update[i].Forward[i] = newNode
	}

	sl.Size++
}

// Search finds a value by key
func (sl *SkipList) Search(key any) (any, bool) {
	current := sl.findPredecessors(key, nil).Forward[0]
	if current != nil && sl.compare(current.Key, key) == 0 {
		return current.Value, true
	}
	return nil, false
}

// Delete removes a key from the skip list
func (sl *SkipList) Delete(key any) bool {
	update := make([]*SkipListNode, MaxLevel)
	current := sl.findPredecessors(key, update).Forward[0]
	if current == nil || sl.compare(current.Key, key) != 0 {
		return false
	}

	for i := 0; i <= sl.Level; i++ {
		if update[i].Forward[i] != current {
			break
		}
		update[i].Forward[i] = current.Forward[i]
	}

	for sl.Level > 0 && sl.Head.Forward[sl.Level] == nil {
		sl.Level--
	}

	sl.Size--
	return true
}

// Len returns the number of elements in the skip list
func (sl *SkipList) Len() int {
	return sl.Size
}

// Iterator returns an iterator positioned before the first element
func (sl *SkipList) Iterator() *SkipListIterator {
	return &SkipListIterator{current: sl.Head}
}

// Seek returns an iterator positioned before the first key not less than key
func (sl *SkipList) Seek(key any) *SkipListIterator {
	return &SkipListIterator{current: sl.findPredecessors(key, nil)}
}

// SkipListIterator iterates over skip list entries in order
type SkipListIterator struct {
	current *SkipListNode
}

// Next moves to the next element
func (it *SkipListIterator) Next() bool {
	if it.current == nil {
		return false
	}
	it.current = it.current.Forward[0]
	return it.current != nil
}

// Key returns the current key
func (it *SkipListIterator) Key() any {
	if it.current == nil {
		return nil
	}
	return it.current.Key
}

// Value returns the current value
func (it *SkipListIterator) Value() any {
	if it.current == nil {
		return nil
	}
	return it.current.Value
}
