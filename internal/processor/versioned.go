package processor

import (
	"github.com/devrev/pairdb/gridcache/internal/value"
)

// VersionField carries the version indicator of a versioned value
const VersionField = "@version"

func versionOf(v any) int64 {
	m, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	n, _ := value.ToInt64(m[VersionField])
	return n
}

func withVersion(v any, version int64) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m)+1)
	for k, e := range m {
		out[k] = e
	}
	out[VersionField] = version
	return out
}

// versionedSet stores v when its version matches the current one, or when
// the entry is absent and inserts are allowed. The stored value carries
// the next version.
func versionedSet(e Entry, v any, insert, ret bool) any {
	matches := false
	if e.IsPresent() {
		matches = versionOf(e.Value()) == versionOf(v)
	} else {
		matches = insert
	}

	if matches {
		e.SetValue(withVersion(v, versionOf(v)+1))
		return Skip
	}
	if ret {
		return e.Value()
	}
	return Skip
}

// VersionedPutProcessor performs an optimistic versioned update
type VersionedPutProcessor struct {
	Value  any
	Insert bool
	Return bool
}

func newVersionedPut(d map[string]any) (Processor, error) {
	return &VersionedPutProcessor{Value: d["value"], Insert: boolField(d, "insert"), Return: boolField(d, "return")}, nil
}

// Process implements Processor
func (p *VersionedPutProcessor) Process(e Entry) (any, error) {
	return versionedSet(e, p.Value, p.Insert, p.Return), nil
}

// VersionedPutAllProcessor performs versioned updates for several keys
type VersionedPutAllProcessor struct {
	Entries map[string]any
	Insert  bool
	Return  bool
}

func newVersionedPutAll(d map[string]any) (Processor, error) {
	return &VersionedPutAllProcessor{Entries: parseEntries(d["entries"]), Insert: boolField(d, "insert"), Return: boolField(d, "return")}, nil
}

// Process implements Processor
func (p *VersionedPutAllProcessor) Process(e Entry) (any, error) {
	v, ok := p.Entries[value.KeyOf(e.Key())]
	if !ok {
		return Skip, nil
	}
	return versionedSet(e, v, p.Insert, p.Return), nil
}
