package filter

import (
	"github.com/devrev/pairdb/gridcache/internal/partition"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

type logicalOp int

const (
	logicalAll logicalOp = iota
	logicalAny
	logicalXor
)

// LogicalFilter combines child filters
type LogicalFilter struct {
	Op      logicalOp
	Filters []Filter
}

func logicalFactory(op logicalOp) Factory {
	return func(d map[string]any) (Filter, error) {
		filters, err := parseList(d)
		if err != nil {
			return nil, err
		}
		return &LogicalFilter{Op: op, Filters: filters}, nil
	}
}

// AllOf matches entries every filter matches
func AllOf(filters ...Filter) Filter {
	return &LogicalFilter{Op: logicalAll, Filters: filters}
}

// AnyOf matches entries any filter matches
func AnyOf(filters ...Filter) Filter {
	return &LogicalFilter{Op: logicalAny, Filters: filters}
}

// Evaluate implements Filter
func (l *LogicalFilter) Evaluate(e Entry) (bool, error) {
	switch l.Op {
	case logicalAll:
		for _, f := range l.Filters {
			ok, err := f.Evaluate(e)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case logicalAny:
		for _, f := range l.Filters {
			ok, err := f.Evaluate(e)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		count := 0
		for _, f := range l.Filters {
			ok, err := f.Evaluate(e)
			if err != nil {
				return false, err
			}
			if ok {
				count++
			}
		}
		return count%2 == 1, nil
	}
}

// NotFilter negates a filter
type NotFilter struct {
	Filter Filter
}

func newNot(d map[string]any) (Filter, error) {
	inner, err := Parse(d["filter"])
	if err != nil {
		return nil, err
	}
	return &NotFilter{Filter: inner}, nil
}

// Evaluate implements Filter
func (n *NotFilter) Evaluate(e Entry) (bool, error) {
	ok, err := n.Filter.Evaluate(e)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// InKeySetFilter limits a filter to a set of keys
type InKeySetFilter struct {
	Filter Filter
	Keys   map[string]struct{}
}

func newInKeySet(d map[string]any) (Filter, error) {
	inner, err := Parse(d["filter"])
	if err != nil {
		return nil, err
	}
	raw, _ := d["keys"].([]any)
	keys := make(map[string]struct{}, len(raw))
	for _, k := range raw {
		keys[value.KeyOf(k)] = struct{}{}
	}
	return &InKeySetFilter{Filter: inner, Keys: keys}, nil
}

// Evaluate implements Filter
func (f *InKeySetFilter) Evaluate(e Entry) (bool, error) {
	if _, ok := f.Keys[value.KeyOf(e.Key())]; !ok {
		return false, nil
	}
	return f.Filter.Evaluate(e)
}

// KeyAssociatedFilter limits a filter to keys associated with a host key
type KeyAssociatedFilter struct {
	Filter  Filter
	HostKey any
}

func newKeyAssociated(d map[string]any) (Filter, error) {
	inner, err := Parse(d["filter"])
	if err != nil {
		return nil, err
	}
	return &KeyAssociatedFilter{Filter: inner, HostKey: d["hostKey"]}, nil
}

func routingKey(key any) any {
	if assoc, ok := partition.AssociatedKey(key); ok {
		return assoc
	}
	return key
}

// Evaluate implements Filter
func (f *KeyAssociatedFilter) Evaluate(e Entry) (bool, error) {
	if !value.Equal(routingKey(e.Key()), routingKey(f.HostKey)) {
		return false, nil
	}
	return f.Filter.Evaluate(e)
}
