// Package processor implements entry processors: units of logic that run
// against one entry with exclusive access inside a transaction.
package processor

import (
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

const classPrefix = "processor."

// Processor class names
const (
	Composite         = classPrefix + "CompositeProcessor"
	Conditional       = classPrefix + "ConditionalProcessor"
	ConditionalPut    = classPrefix + "ConditionalPut"
	ConditionalPutAll = classPrefix + "ConditionalPutAll"
	ConditionalRemove = classPrefix + "ConditionalRemove"
	Extractor         = classPrefix + "ExtractorProcessor"
	NumberIncrementor = classPrefix + "NumberIncrementor"
	NumberMultiplier  = classPrefix + "NumberMultiplier"
	Preload           = classPrefix + "PreloadRequest"
	Touch             = classPrefix + "TouchProcessor"
	Updater           = classPrefix + "UpdaterProcessor"
	VersionedPut      = classPrefix + "VersionedPut"
	VersionedPutAll   = classPrefix + "VersionedPutAll"
	Expiry            = classPrefix + "ExpiryProcessor"
	EnlistPut         = classPrefix + "EnlistPut"
)

// Entry is the mutable view of a cache entry handed to a processor.
// Changes are buffered and applied when the enclosing transaction commits.
type Entry interface {
	Key() any
	Value() any
	IsPresent() bool
	SetValue(v any)
	// SetExpiry sets the time to live from now; zero clears the expiry
	SetExpiry(ttl time.Duration)
	Expiry() time.Time
	Remove(synthetic bool)
	OriginalValue() any
	IsOriginalPresent() bool
	// Enlist joins another entry, possibly in another cache of the same
	// scope, to the transaction. The entry must share this entry's partition.
	Enlist(cache string, key any) (Entry, error)
}

// Processor runs against one entry
type Processor interface {
	Process(e Entry) (any, error)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(e Entry) (any, error)

// Process implements Processor
func (f ProcessorFunc) Process(e Entry) (any, error) {
	return f(e)
}

type skip struct{}

// Skip is returned by processors whose entry must be left out of a
// multi-entry result. Single entry invocations report it as nil.
var Skip any = skip{}

// IsSkip reports whether r is the Skip marker
func IsSkip(r any) bool {
	_, ok := r.(skip)
	return ok
}

// Result converts Skip to nil
func Result(r any) any {
	if IsSkip(r) {
		return nil
	}
	return r
}

// Factory builds a processor from its descriptor
type Factory func(desc map[string]any) (Processor, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a processor class
func Register(class string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[class] = f
}

// Parse builds a processor from a canonical descriptor
func Parse(desc any) (Processor, error) {
	d, ok := desc.(map[string]any)
	if !ok {
		return nil, errors.InvalidArgument(fmt.Sprintf("processor descriptor of type %T", desc), nil)
	}
	class, _ := d[value.ClassKey].(string)

	registryMu.RLock()
	f, ok := registry[class]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.UnknownClass("processor", class)
	}
	return f(d)
}

func init() {
	Register(Composite, newComposite)
	Register(Conditional, newConditional)
	Register(ConditionalPut, newConditionalPut)
	Register(ConditionalPutAll, newConditionalPutAll)
	Register(ConditionalRemove, newConditionalRemove)
	Register(Extractor, newExtractorProcessor)
	Register(NumberIncrementor, newNumeric(false))
	Register(NumberMultiplier, newNumeric(true))
	Register(Preload, func(map[string]any) (Processor, error) { return PreloadProcessor{}, nil })
	Register(Touch, func(map[string]any) (Processor, error) { return TouchProcessor{}, nil })
	Register(Updater, newUpdaterProcessor)
	Register(VersionedPut, newVersionedPut)
	Register(VersionedPutAll, newVersionedPutAll)
	Register(Expiry, newExpiry)
	Register(EnlistPut, newEnlistPut)
}

func boolField(d map[string]any, name string) bool {
	b, _ := d[name].(bool)
	return b
}
