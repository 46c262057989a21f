// Package extractors builds value extractor, updater and comparator
// descriptors for use in queries, indexes, processors and aggregators.
package extractors

const (
	extractorPackage  = "extractor."
	comparatorPackage = "comparator."

	universalExtractorType = extractorPackage + "UniversalExtractor"
	chainedExtractorType   = extractorPackage + "ChainedExtractor"
	identityExtractorType  = extractorPackage + "IdentityExtractor"
	multiExtractorType     = extractorPackage + "MultiExtractor"
	keyExtractorType       = extractorPackage + "KeyExtractor"

	universalUpdaterType = extractorPackage + "UniversalUpdater"
	compositeUpdaterType = extractorPackage + "CompositeUpdater"

	safeComparatorType      = comparatorPackage + "SafeComparator"
	inverseComparatorType   = comparatorPackage + "InverseComparator"
	extractorComparatorType = comparatorPackage + "ExtractorComparator"
	chainedComparatorType   = comparatorPackage + "ChainedComparator"

	targetKey = 1
)

// ValueExtractor derives a value of type E from a cached value. The
// extraction runs on the server; the client only carries the descriptor.
type ValueExtractor[E any] interface {
	Class() string
	describe() descriptor
	extracts() E
}

// descriptor is the serialized form shared by every extractor
type descriptor struct {
	Type       string `json:"@class"`
	Name       string `json:"name,omitempty"`
	Extractors []any  `json:"extractors,omitempty"`
	Extractor  any    `json:"extractor,omitempty"`
	Target     int    `json:"target,omitempty"`
}

type extractor[E any] struct {
	descriptor
}

func (e *extractor[E]) Class() string        { return e.Type }
func (e *extractor[E]) describe() descriptor { return e.descriptor }

func (*extractor[E]) extracts() (zero E) { return }

func newExtractor[E any](d descriptor) ValueExtractor[E] {
	return &extractor[E]{descriptor: d}
}

// Extract returns an extractor for a property. A dotted path such as
// "address.city" navigates nested values.
func Extract[E any](property string) ValueExtractor[E] {
	return newExtractor[E](descriptor{Type: universalExtractorType, Name: property})
}

// KeyProperty extracts a property of the entry key rather than the value
func KeyProperty[E any](property string) ValueExtractor[E] {
	return newExtractor[E](descriptor{Type: universalExtractorType, Name: property, Target: targetKey})
}

// Chained applies extractors in sequence, each to the previous result
func Chained[E any](extractors ...ValueExtractor[any]) ValueExtractor[E] {
	list := make([]any, len(extractors))
	for i, e := range extractors {
		list[i] = e
	}
	return newExtractor[E](descriptor{Type: chainedExtractorType, Extractors: list})
}

// Identity returns the cached value itself
func Identity[E any]() ValueExtractor[E] {
	return newExtractor[E](descriptor{Type: identityExtractorType})
}

// Multi returns the results of several extractors as a list
func Multi(extractors ...ValueExtractor[any]) ValueExtractor[[]any] {
	list := make([]any, len(extractors))
	for i, e := range extractors {
		list[i] = e
	}
	return newExtractor[[]any](descriptor{Type: multiExtractorType, Extractors: list})
}

// Key applies an extractor to the entry key
func Key[E any](delegate ValueExtractor[E]) ValueExtractor[E] {
	return newExtractor[E](descriptor{Type: keyExtractorType, Extractor: delegate})
}

// Any widens an extractor for use where the extracted type does not matter.
// The descriptor is unchanged.
func Any[E any](e ValueExtractor[E]) ValueExtractor[any] {
	return newExtractor[any](e.describe())
}

// ValueUpdater sets a property on a cached value
type ValueUpdater interface {
	Class() string
}

type updater struct {
	Type      string `json:"@class"`
	Name      string `json:"name,omitempty"`
	Extractor any    `json:"extractor,omitempty"`
	Updater   any    `json:"updater,omitempty"`
}

func (u *updater) Class() string { return u.Type }

// Update returns an updater for a property. A dotted path sets a nested
// property, creating intermediate objects.
func Update(property string) ValueUpdater {
	parent, leaf := splitLast(property)
	if parent == "" {
		return &updater{Type: universalUpdaterType, Name: leaf}
	}
	return &updater{
		Type:      compositeUpdaterType,
		Extractor: Extract[any](parent),
		Updater:   &updater{Type: universalUpdaterType, Name: leaf},
	}
}

func splitLast(path string) (string, string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}

// Comparator orders values on the server
type Comparator interface {
	Class() string
}

type comparator struct {
	Type        string `json:"@class"`
	Comparator  any    `json:"comparator,omitempty"`
	Extractor   any    `json:"extractor,omitempty"`
	Comparators []any  `json:"comparators,omitempty"`
}

func (c *comparator) Class() string { return c.Type }

// Comparing orders values by an extracted property
func Comparing[E any](e ValueExtractor[E]) Comparator {
	return &comparator{Type: extractorComparatorType, Extractor: e}
}

// Ascending orders values by an extracted property, tolerating nil values
func Ascending[E any](e ValueExtractor[E]) Comparator {
	return &comparator{Type: safeComparatorType, Comparator: Comparing(e)}
}

// Descending reverses Ascending
func Descending[E any](e ValueExtractor[E]) Comparator {
	return Reverse(Ascending(e))
}

// Reverse inverts a comparator
func Reverse(c Comparator) Comparator {
	return &comparator{Type: inverseComparatorType, Comparator: c}
}

// Then orders by each comparator in turn until one decides
func Then(comparators ...Comparator) Comparator {
	list := make([]any, len(comparators))
	for i, c := range comparators {
		list[i] = c
	}
	return &comparator{Type: chainedComparatorType, Comparators: list}
}
