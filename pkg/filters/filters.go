// Package filters builds filter descriptors for queries, conditional
// processors and listener registrations.
package filters

import (
	"github.com/devrev/pairdb/gridcache/pkg/extractors"
)

const (
	filterPackage = "util.filter."

	allFilterType           = filterPackage + "AllFilter"
	alwaysFilterType        = filterPackage + "AlwaysFilter"
	andFilterType           = filterPackage + "AndFilter"
	anyFilterType           = filterPackage + "AnyFilter"
	betweenFilterType       = filterPackage + "BetweenFilter"
	containsAllFilterType   = filterPackage + "ContainsAllFilter"
	containsAnyFilterType   = filterPackage + "ContainsAnyFilter"
	containsFilterType      = filterPackage + "ContainsFilter"
	equalsFilterType        = filterPackage + "EqualsFilter"
	greaterEqualsFilterType = filterPackage + "GreaterEqualsFilter"
	greaterFilterType       = filterPackage + "GreaterFilter"
	inFilterType            = filterPackage + "InFilter"
	inKeySetFilterType      = filterPackage + "InKeySetFilter"
	isNilFilterType         = filterPackage + "IsNullFilter"
	isNotNilFilterType      = filterPackage + "IsNotNullFilter"
	keyAssociatedFilterType = filterPackage + "KeyAssociatedFilter"
	lessEqualsFilterType    = filterPackage + "LessEqualsFilter"
	lessFilterType          = filterPackage + "LessFilter"
	likeFilterType          = filterPackage + "LikeFilter"
	mapEventFilterType      = filterPackage + "MapEventFilter"
	neverFilterType         = filterPackage + "NeverFilter"
	notEqualsFilterType     = filterPackage + "NotEqualsFilter"
	notFilterType           = filterPackage + "NotFilter"
	orFilterType            = filterPackage + "OrFilter"
	presentFilterType       = filterPackage + "PresentFilter"
	regexFilterType         = filterPackage + "RegexFilter"
	xorFilterType           = filterPackage + "XorFilter"
)

// Filter is a filter descriptor. Filters compose with And, Or and Xor.
type Filter interface {
	Class() string
	And(other Filter) Filter
	Or(other Filter) Filter
	Xor(other Filter) Filter
	// AssociatedWith limits the filter to the partition of key
	AssociatedWith(key any) Filter
}

// filter is the descriptor shared by every variant. Unset fields are
// omitted from the encoded form.
type filter struct {
	Type       string   `json:"@class"`
	Extractor  any      `json:"extractor,omitempty"`
	Value      any      `json:"value,omitempty"`
	Filters    []Filter `json:"filters,omitempty"`
	Filter     Filter   `json:"filter,omitempty"`
	Keys       []any    `json:"keys,omitempty"`
	HostKey    any      `json:"hostKey,omitempty"`
	IgnoreCase bool     `json:"ignoreCase,omitempty"`
	Mask       int      `json:"mask,omitempty"`
}

func (f *filter) Class() string { return f.Type }

func (f *filter) And(other Filter) Filter { return And(f, other) }

func (f *filter) Or(other Filter) Filter { return Or(f, other) }

func (f *filter) Xor(other Filter) Filter { return Xor(f, other) }

func (f *filter) AssociatedWith(key any) Filter {
	return &filter{Type: keyAssociatedFilterType, Filter: f, HostKey: key}
}

// comparison keeps Value even when it is the zero value of its type
type comparison struct {
	filter
	Value any `json:"value"`
}

func compare[V any](typeName string, e extractors.ValueExtractor[V], value V) Filter {
	c := &comparison{Value: value}
	c.filter = filter{Type: typeName, Extractor: e}
	return c
}

func (c *comparison) And(other Filter) Filter { return And(c, other) }

func (c *comparison) Or(other Filter) Filter { return Or(c, other) }

func (c *comparison) Xor(other Filter) Filter { return Xor(c, other) }

func (c *comparison) AssociatedWith(key any) Filter {
	return &filter{Type: keyAssociatedFilterType, Filter: c, HostKey: key}
}

func list[V any](values []V) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func combine(typeName string, filters []Filter) Filter {
	return &filter{Type: typeName, Filters: filters}
}

// Always matches every entry
func Always() Filter { return &filter{Type: alwaysFilterType} }

// Never matches nothing
func Never() Filter { return &filter{Type: neverFilterType} }

// Present matches entries that exist. It is meant for conditional processors.
func Present() Filter { return &filter{Type: presentFilterType} }

// Equal matches entries whose extracted value equals value
func Equal[V any](e extractors.ValueExtractor[V], value V) Filter {
	return compare(equalsFilterType, e, value)
}

// NotEqual matches entries whose extracted value differs from value
func NotEqual[V any](e extractors.ValueExtractor[V], value V) Filter {
	return compare(notEqualsFilterType, e, value)
}

// Greater matches entries whose extracted value is greater than value.
// A nil on either side never matches.
func Greater[V any](e extractors.ValueExtractor[V], value V) Filter {
	return compare(greaterFilterType, e, value)
}

// GreaterEqual matches entries whose extracted value is at least value
func GreaterEqual[V any](e extractors.ValueExtractor[V], value V) Filter {
	return compare(greaterEqualsFilterType, e, value)
}

// Less matches entries whose extracted value is less than value
func Less[V any](e extractors.ValueExtractor[V], value V) Filter {
	return compare(lessFilterType, e, value)
}

// LessEqual matches entries whose extracted value is at most value
func LessEqual[V any](e extractors.ValueExtractor[V], value V) Filter {
	return compare(lessEqualsFilterType, e, value)
}

// Between matches entries whose extracted value lies in [from, to]
func Between[V any](e extractors.ValueExtractor[V], from, to V) Filter {
	return combine(betweenFilterType, []Filter{GreaterEqual(e, from), LessEqual(e, to)})
}

// In matches entries whose extracted value is one of values
func In[V any](e extractors.ValueExtractor[V], values ...V) Filter {
	return &filter{Type: inFilterType, Extractor: e, Value: list(values)}
}

// IsNil matches entries whose extracted value is nil
func IsNil[V any](e extractors.ValueExtractor[V]) Filter {
	return &filter{Type: isNilFilterType, Extractor: e}
}

// IsNotNil matches entries whose extracted value is not nil
func IsNotNil[V any](e extractors.ValueExtractor[V]) Filter {
	return &filter{Type: isNotNilFilterType, Extractor: e}
}

// Contains matches entries whose extracted list contains value
func Contains[V any](e extractors.ValueExtractor[[]V], value V) Filter {
	return &comparison{filter: filter{Type: containsFilterType, Extractor: e}, Value: value}
}

// ContainsAll matches entries whose extracted list contains every value
func ContainsAll[V any](e extractors.ValueExtractor[[]V], values ...V) Filter {
	return &filter{Type: containsAllFilterType, Extractor: e, Value: list(values)}
}

// ContainsAny matches entries whose extracted list contains any value
func ContainsAny[V any](e extractors.ValueExtractor[[]V], values ...V) Filter {
	return &filter{Type: containsAnyFilterType, Extractor: e, Value: list(values)}
}

// Like matches extracted strings against a pattern where '_' matches one
// character and '%' matches any run of characters
func Like(e extractors.ValueExtractor[string], pattern string, ignoreCase bool) Filter {
	return &filter{Type: likeFilterType, Extractor: e, Value: pattern, IgnoreCase: ignoreCase}
}

// Regex matches extracted strings against a regular expression that must
// match the whole string
func Regex(e extractors.ValueExtractor[string], pattern string) Filter {
	return &filter{Type: regexFilterType, Extractor: e, Value: pattern}
}

// And matches entries both filters match
func And(left, right Filter) Filter {
	return combine(andFilterType, []Filter{left, right})
}

// All matches entries every filter matches
func All(filters ...Filter) Filter {
	return combine(allFilterType, filters)
}

// Or matches entries either filter matches
func Or(left, right Filter) Filter {
	return combine(orFilterType, []Filter{left, right})
}

// Any matches entries any filter matches
func Any(filters ...Filter) Filter {
	return combine(anyFilterType, filters)
}

// Xor matches entries exactly one of the filters matches
func Xor(left, right Filter) Filter {
	return combine(xorFilterType, []Filter{left, right})
}

// Not negates a filter
func Not(f Filter) Filter {
	return &filter{Type: notFilterType, Filter: f}
}

// InKeySet limits a filter to a set of keys
func InKeySet[K any](f Filter, keys ...K) Filter {
	return &filter{Type: inKeySetFilterType, Filter: f, Keys: list(keys)}
}
