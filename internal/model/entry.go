package model

import "time"

// CacheID identifies a cache within the grid
type CacheID struct {
	Scope string
	Name  string
}

// String returns the qualified cache name
func (c CacheID) String() string {
	if c.Scope == "" {
		return c.Name
	}
	return c.Scope + "/" + c.Name
}

// Entry represents a stored key-value mapping with metadata
type Entry struct {
	Key       any    // Canonical key
	KeyID     string // Canonical identity of Key
	Value     any    // Canonical value; nil is a legal mapped value
	Partition int
	Expiry    time.Time // Zero when the entry never expires
	Version   uint64
	Created   time.Time
	Updated   time.Time
}

// IsExpired reports whether the entry has passed its expiry at now
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.Expiry.IsZero() && !now.Before(e.Expiry)
}

// Clone returns a shallow copy of the entry
func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}

// ExpiryMillis returns the absolute expiry as epoch milliseconds, or 0
func (e *Entry) ExpiryMillis() int64 {
	if e.Expiry.IsZero() {
		return 0
	}
	return e.Expiry.UnixMilli()
}

// KeyValue is a key paired with its value
type KeyValue struct {
	Key   any
	Value any
}
