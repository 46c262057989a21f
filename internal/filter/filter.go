// Package filter evaluates query and event filters against cache entries.
package filter

import (
	"fmt"
	"sync"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

const classPrefix = "util.filter."

// Filter class names
const (
	Always          = classPrefix + "AlwaysFilter"
	Never           = classPrefix + "NeverFilter"
	Present         = classPrefix + "PresentFilter"
	Equals          = classPrefix + "EqualsFilter"
	NotEquals       = classPrefix + "NotEqualsFilter"
	Greater         = classPrefix + "GreaterFilter"
	GreaterEquals   = classPrefix + "GreaterEqualsFilter"
	Less            = classPrefix + "LessFilter"
	LessEquals      = classPrefix + "LessEqualsFilter"
	Between         = classPrefix + "BetweenFilter"
	In              = classPrefix + "InFilter"
	IsNull          = classPrefix + "IsNullFilter"
	IsNotNull       = classPrefix + "IsNotNullFilter"
	Like            = classPrefix + "LikeFilter"
	Regex           = classPrefix + "RegexFilter"
	Contains        = classPrefix + "ContainsFilter"
	ContainsAll     = classPrefix + "ContainsAllFilter"
	ContainsAny     = classPrefix + "ContainsAnyFilter"
	And             = classPrefix + "AndFilter"
	All             = classPrefix + "AllFilter"
	Or              = classPrefix + "OrFilter"
	Any             = classPrefix + "AnyFilter"
	Xor             = classPrefix + "XorFilter"
	Not             = classPrefix + "NotFilter"
	InKeySet        = classPrefix + "InKeySetFilter"
	KeyAssociated   = classPrefix + "KeyAssociatedFilter"
	MapEventFilterC = classPrefix + "MapEventFilter"
)

// Entry is the view of a cache entry a filter evaluates
type Entry interface {
	Key() any
	Value() any
	IsPresent() bool
}

// Filter selects entries
type Filter interface {
	Evaluate(e Entry) (bool, error)
}

type simpleEntry struct {
	key     any
	val     any
	present bool
}

func (s simpleEntry) Key() any        { return s.key }
func (s simpleEntry) Value() any      { return s.val }
func (s simpleEntry) IsPresent() bool { return s.present }

// NewEntry returns a present entry view
func NewEntry(key, val any) Entry {
	return simpleEntry{key: key, val: val, present: true}
}

// AbsentEntry returns a view of a key with no mapping
func AbsentEntry(key any) Entry {
	return simpleEntry{key: key}
}

// Factory builds a filter from its descriptor
type Factory func(desc map[string]any) (Filter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a filter class
func Register(class string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[class] = f
}

// Parse builds a filter from a canonical descriptor. A nil descriptor
// selects every entry.
func Parse(desc any) (Filter, error) {
	if desc == nil {
		return AlwaysFilter{}, nil
	}
	d, ok := desc.(map[string]any)
	if !ok {
		return nil, errors.InvalidArgument(fmt.Sprintf("filter descriptor of type %T", desc), nil)
	}
	class, _ := d[value.ClassKey].(string)

	registryMu.RLock()
	f, ok := registry[class]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.UnknownClass("filter", class)
	}
	return f(d)
}

func parseList(d map[string]any) ([]Filter, error) {
	raw, _ := d["filters"].([]any)
	out := make([]Filter, 0, len(raw))
	for _, r := range raw {
		f, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func init() {
	Register(Always, func(map[string]any) (Filter, error) { return AlwaysFilter{}, nil })
	Register(Never, func(map[string]any) (Filter, error) { return NeverFilter{}, nil })
	Register(Present, func(map[string]any) (Filter, error) { return PresentFilter{}, nil })

	for class, op := range map[string]compareOp{
		Equals:        opEquals,
		NotEquals:     opNotEquals,
		Greater:       opGreater,
		GreaterEquals: opGreaterEquals,
		Less:          opLess,
		LessEquals:    opLessEquals,
		IsNull:        opIsNull,
		IsNotNull:     opIsNotNull,
		Contains:      opContains,
	} {
		Register(class, comparisonFactory(op))
	}
	for class, op := range map[string]setOp{
		In:          opIn,
		ContainsAll: opContainsAll,
		ContainsAny: opContainsAny,
	} {
		Register(class, setFactory(op))
	}
	Register(Like, newLike)
	Register(Regex, newRegex)

	Register(And, logicalFactory(logicalAll))
	Register(All, logicalFactory(logicalAll))
	Register(Between, logicalFactory(logicalAll))
	Register(Or, logicalFactory(logicalAny))
	Register(Any, logicalFactory(logicalAny))
	Register(Xor, logicalFactory(logicalXor))
	Register(Not, newNot)
	Register(InKeySet, newInKeySet)
	Register(KeyAssociated, newKeyAssociated)
	Register(MapEventFilterC, newMapEventFilter)
}

// AlwaysFilter matches every entry
type AlwaysFilter struct{}

// Evaluate implements Filter
func (AlwaysFilter) Evaluate(Entry) (bool, error) { return true, nil }

// NeverFilter matches nothing
type NeverFilter struct{}

// Evaluate implements Filter
func (NeverFilter) Evaluate(Entry) (bool, error) { return false, nil }

// PresentFilter matches entries that exist
type PresentFilter struct{}

// Evaluate implements Filter
func (PresentFilter) Evaluate(e Entry) (bool, error) { return e.IsPresent(), nil }
