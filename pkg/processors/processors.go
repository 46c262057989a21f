// Package processors builds entry processor descriptors. A processor runs
// on the server with exclusive access to one entry.
package processors

import (
	"time"

	"github.com/devrev/pairdb/gridcache/pkg/extractors"
	"github.com/devrev/pairdb/gridcache/pkg/filters"
)

const (
	processorPackage = "processor."

	compositeProcessorType   = processorPackage + "CompositeProcessor"
	conditionalProcessorType = processorPackage + "ConditionalProcessor"
	conditionalPutType       = processorPackage + "ConditionalPut"
	conditionalPutAllType    = processorPackage + "ConditionalPutAll"
	conditionalRemoveType    = processorPackage + "ConditionalRemove"
	extractorProcessorType   = processorPackage + "ExtractorProcessor"
	numberIncrementorType    = processorPackage + "NumberIncrementor"
	numberMultiplierType     = processorPackage + "NumberMultiplier"
	preloadType              = processorPackage + "PreloadRequest"
	touchType                = processorPackage + "TouchProcessor"
	updaterProcessorType     = processorPackage + "UpdaterProcessor"
	versionedPutType         = processorPackage + "VersionedPut"
	versionedPutAllType      = processorPackage + "VersionedPutAll"
	expiryProcessorType      = processorPackage + "ExpiryProcessor"
	enlistPutType            = processorPackage + "EnlistPut"
)

// Processor is an entry processor descriptor
type Processor interface {
	Class() string
	// AndThen runs next on the same entry after this processor. The
	// combined result is the list of both results.
	AndThen(next Processor) Processor
	// When runs the processor only on entries matching f
	When(f filters.Filter) Processor
}

// Number is any numeric type a processor can operate on
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

type processor struct {
	Type       string         `json:"@class"`
	Processors []Processor    `json:"processors,omitempty"`
	Processor  Processor      `json:"processor,omitempty"`
	Filter     filters.Filter `json:"filter,omitempty"`
	Extractor  any            `json:"extractor,omitempty"`
	Updater    any            `json:"updater,omitempty"`
	Entries    []entry        `json:"entries,omitempty"`
	Insert     bool           `json:"insert,omitempty"`
	Return     bool           `json:"return,omitempty"`
}

func (p *processor) Class() string { return p.Type }

func (p *processor) AndThen(next Processor) Processor { return andThen(p, next) }

func (p *processor) When(f filters.Filter) Processor { return when(p, f) }

// valued is a processor whose value must be sent even when it is a zero
// value
type valued struct {
	processor
	Value any `json:"value"`
}

func (p *valued) AndThen(next Processor) Processor { return andThen(p, next) }

func (p *valued) When(f filters.Filter) Processor { return when(p, f) }

type entry struct {
	Key   any `json:"key"`
	Value any `json:"value"`
}

func entries[K comparable, V any](m map[K]V) []entry {
	out := make([]entry, 0, len(m))
	for k, v := range m {
		out = append(out, entry{Key: k, Value: v})
	}
	return out
}

func andThen(p, next Processor) Processor {
	if c, ok := p.(*processor); ok && c.Type == compositeProcessorType {
		list := append(append([]Processor{}, c.Processors...), next)
		return &processor{Type: compositeProcessorType, Processors: list}
	}
	return &processor{Type: compositeProcessorType, Processors: []Processor{p, next}}
}

func when(p Processor, f filters.Filter) Processor {
	return &processor{Type: conditionalProcessorType, Filter: f, Processor: p}
}

// ConditionalPut sets value on entries matching f. With returnCurrent the
// result for a non-matching entry is its current value.
func ConditionalPut[V any](f filters.Filter, value V, returnCurrent ...bool) Processor {
	p := &valued{Value: value}
	p.processor = processor{Type: conditionalPutType, Filter: f, Return: first(returnCurrent)}
	return p
}

// ConditionalPutAll sets the value given for each matching entry's key
func ConditionalPutAll[K comparable, V any](f filters.Filter, values map[K]V) Processor {
	return &processor{Type: conditionalPutAllType, Filter: f, Entries: entries(values)}
}

// ConditionalRemove removes entries matching f
func ConditionalRemove(f filters.Filter, returnCurrent ...bool) Processor {
	return &processor{Type: conditionalRemoveType, Filter: f, Return: first(returnCurrent)}
}

// Extractor returns an extracted property without modifying the entry
func Extractor[E any](property string) Processor {
	return &processor{Type: extractorProcessorType, Extractor: extractors.Extract[E](property)}
}

// ExtractorOf returns the result of e without modifying the entry
func ExtractorOf[E any](e extractors.ValueExtractor[E]) Processor {
	return &processor{Type: extractorProcessorType, Extractor: e}
}

type numeric struct {
	processor
	Increment          any    `json:"increment,omitempty"`
	Multiplier         any    `json:"multiplier,omitempty"`
	PostInc            bool   `json:"postInc,omitempty"`
	PostMultiplication bool   `json:"postMultiplication,omitempty"`
	Manipulator        string `json:"manipulator,omitempty"`
}

func (p *numeric) AndThen(next Processor) Processor { return andThen(p, next) }

func (p *numeric) When(f filters.Filter) Processor { return when(p, f) }

// Increment adds value to a numeric property, or to the value itself when
// property is empty. The result is the new value, or the old one when
// postInc is set.
func Increment[N Number](property string, value N, postInc ...bool) Processor {
	return &numeric{
		processor:   processor{Type: numberIncrementorType},
		Increment:   value,
		PostInc:     first(postInc),
		Manipulator: property,
	}
}

// Multiply multiplies a numeric property, or the value itself when property
// is empty
func Multiply[N Number](property string, value N, postMultiplication ...bool) Processor {
	return &numeric{
		processor:          processor{Type: numberMultiplierType},
		Multiplier:         value,
		PostMultiplication: first(postMultiplication),
		Manipulator:        property,
	}
}

// Preload loads an entry through the cache store
func Preload() Processor {
	return &processor{Type: preloadType}
}

// Touch marks an entry as accessed
func Touch() Processor {
	return &processor{Type: touchType}
}

// Update sets a property of the value. A dotted property sets a nested
// property.
func Update[V any](property string, value V) Processor {
	p := &valued{Value: value}
	p.processor = processor{Type: updaterProcessorType, Updater: extractors.Update(property)}
	return p
}

// VersionedPut stores value when its "@version" matches the current one.
// The stored value carries the next version.
func VersionedPut[V any](value V, allowInsert, returnCurrent bool) Processor {
	p := &valued{Value: value}
	p.processor = processor{Type: versionedPutType, Insert: allowInsert, Return: returnCurrent}
	return p
}

// VersionedPutAll applies VersionedPut with the value given for each key
func VersionedPutAll[K comparable, V any](values map[K]V, allowInsert, returnCurrent bool) Processor {
	return &processor{
		Type:    versionedPutAllType,
		Entries: entries(values),
		Insert:  allowInsert,
		Return:  returnCurrent,
	}
}

type expiry struct {
	processor
	TTL *int64 `json:"ttl,omitempty"`
}

func (p *expiry) AndThen(next Processor) Processor { return andThen(p, next) }

func (p *expiry) When(f filters.Filter) Processor { return when(p, f) }

// Expiry sets the time to live of a present entry. Zero clears the expiry.
// The result is the absolute expiry in epoch milliseconds, or 0.
func Expiry(ttl time.Duration) Processor {
	ms := ttl.Milliseconds()
	return &expiry{processor: processor{Type: expiryProcessorType}, TTL: &ms}
}

// GetExpiry returns the absolute expiry in epoch milliseconds, or 0
func GetExpiry() Processor {
	return &expiry{processor: processor{Type: expiryProcessorType}}
}

type enlistPut struct {
	processor
	Cache string `json:"cache"`
	Key   any    `json:"key"`
	Value any    `json:"value"`
}

func (p *enlistPut) AndThen(next Processor) Processor { return andThen(p, next) }

func (p *enlistPut) When(f filters.Filter) Processor { return when(p, f) }

// EnlistPut writes value under key in another cache of the same scope in
// the same transaction as the invoked entry. Both keys must map to the same
// partition. The result is the previous value of the written entry.
func EnlistPut[K, V any](cache string, key K, value V) Processor {
	return &enlistPut{processor: processor{Type: enlistPutType}, Cache: cache, Key: key, Value: value}
}

func first(flags []bool) bool {
	return len(flags) > 0 && flags[0]
}
