package extractor

import (
	"fmt"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

const (
	SafeComparator      = "comparator.SafeComparator"
	InverseComparator   = "comparator.InverseComparator"
	ExtractorComparator = "comparator.ExtractorComparator"
	ChainedComparator   = "comparator.ChainedComparator"
)

// Comparator orders two canonical values
type Comparator interface {
	Compare(a, b any) int
}

// ComparatorFunc adapts a function to Comparator
type ComparatorFunc func(a, b any) int

// Compare implements Comparator
func (f ComparatorFunc) Compare(a, b any) int {
	return f(a, b)
}

// Natural orders values by their canonical ordering
var Natural Comparator = ComparatorFunc(value.Compare)

// ParseComparator builds a comparator; nil yields natural ordering
func ParseComparator(desc any) (Comparator, error) {
	if desc == nil {
		return Natural, nil
	}
	d, ok := desc.(map[string]any)
	if !ok {
		return nil, errors.InvalidArgument(fmt.Sprintf("comparator descriptor of type %T", desc), nil)
	}

	switch d[value.ClassKey] {
	case SafeComparator:
		inner, err := ParseComparator(d["comparator"])
		if err != nil {
			return nil, err
		}
		return safe{inner}, nil
	case InverseComparator:
		inner, err := ParseComparator(d["comparator"])
		if err != nil {
			return nil, err
		}
		return ComparatorFunc(func(a, b any) int { return -inner.Compare(a, b) }), nil
	case ExtractorComparator:
		e, err := Parse(d["extractor"])
		if err != nil {
			return nil, err
		}
		return ComparatorFunc(func(a, b any) int {
			ea, errA := e.Extract(a)
			eb, errB := e.Extract(b)
			if errA != nil || errB != nil {
				return 0
			}
			return value.Compare(ea, eb)
		}), nil
	case ChainedComparator:
		raw, _ := d["comparators"].([]any)
		chain := make([]Comparator, 0, len(raw))
		for _, r := range raw {
			c, err := ParseComparator(r)
			if err != nil {
				return nil, err
			}
			chain = append(chain, c)
		}
		return ComparatorFunc(func(a, b any) int {
			for _, c := range chain {
				if r := c.Compare(a, b); r != 0 {
					return r
				}
			}
			return 0
		}), nil
	}
	return nil, errors.UnknownClass("comparator", fmt.Sprint(d[value.ClassKey]))
}

// safe orders nil before any other value
type safe struct {
	inner Comparator
}

func (s safe) Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return s.inner.Compare(a, b)
}
