// Package extractor evaluates value extractors, updaters and comparators
// described by tagged descriptors.
package extractor

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

const (
	Universal = "extractor.UniversalExtractor"
	Chained   = "extractor.ChainedExtractor"
	Identity  = "extractor.IdentityExtractor"
	Multi     = "extractor.MultiExtractor"
	Key       = "extractor.KeyExtractor"

	UniversalUpdater = "extractor.UniversalUpdater"
	CompositeUpdater = "extractor.CompositeUpdater"

	// TargetKey selects the entry key rather than the value
	TargetKey = 1
)

// Extractor pulls a derived value out of a target
type Extractor interface {
	Extract(target any) (any, error)
}

// EntryExtractor is implemented by extractors that may read the entry key
type EntryExtractor interface {
	ExtractFromEntry(key, val any) (any, error)
}

// Updater sets a derived value on a target and returns the new target.
// Targets are never modified in place.
type Updater interface {
	Update(target any, v any) (any, error)
}

// FromEntry applies e to an entry, honouring key targeting
func FromEntry(e Extractor, key, val any) (any, error) {
	if ee, ok := e.(EntryExtractor); ok {
		return ee.ExtractFromEntry(key, val)
	}
	return e.Extract(val)
}

// Factory builds an extractor from its descriptor
type Factory func(desc map[string]any) (Extractor, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds an extractor class
func Register(class string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[class] = f
}

func init() {
	Register(Universal, newUniversal)
	Register(Chained, newChained)
	Register(Identity, func(map[string]any) (Extractor, error) { return IdentityExtractor{}, nil })
	Register(Multi, newMulti)
	Register(Key, newKey)
}

// Parse builds an extractor from a canonical descriptor. A plain string is
// shorthand for a property path such as "address.city".
func Parse(desc any) (Extractor, error) {
	switch d := desc.(type) {
	case nil:
		return IdentityExtractor{}, nil
	case string:
		return fromPath(d), nil
	case map[string]any:
		class, _ := d[value.ClassKey].(string)
		registryMu.RLock()
		f, ok := registry[class]
		registryMu.RUnlock()
		if !ok {
			return nil, errors.UnknownClass("extractor", class)
		}
		return f(d)
	}
	return nil, errors.InvalidArgument(fmt.Sprintf("extractor descriptor of type %T", desc), nil)
}

// ID returns the identity used to key indexes by extractor
func ID(desc any) string {
	return value.KeyOf(desc)
}

func fromPath(path string) Extractor {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return &UniversalExtractor{Name: propertyName(parts[0])}
	}
	chain := make([]Extractor, len(parts))
	for i, p := range parts {
		chain[i] = &UniversalExtractor{Name: propertyName(p)}
	}
	return &ChainedExtractor{Extractors: chain}
}

func target(desc map[string]any) int {
	t, _ := value.ToInt64(desc["target"])
	return int(t)
}

// UniversalExtractor reads a named property
type UniversalExtractor struct {
	Name   string
	Target int
}

func newUniversal(desc map[string]any) (Extractor, error) {
	name, _ := desc["name"].(string)
	if name == "" {
		return nil, errors.InvalidArgument("universal extractor requires a name", nil)
	}
	if strings.Contains(name, ".") {
		e := fromPath(name)
		if c, ok := e.(*ChainedExtractor); ok {
			c.Target = target(desc)
		}
		return e, nil
	}
	return &UniversalExtractor{Name: propertyName(name), Target: target(desc)}, nil
}

// propertyName maps accessor forms like "getAge()" to "age"
func propertyName(name string) string {
	name = strings.TrimSuffix(name, "()")
	for _, prefix := range []string{"get", "is"} {
		if len(name) > len(prefix) && strings.HasPrefix(name, prefix) {
			rest := []rune(name[len(prefix):])
			if unicode.IsUpper(rest[0]) {
				rest[0] = unicode.ToLower(rest[0])
				return string(rest)
			}
		}
	}
	return name
}

// Extract implements Extractor
func (u *UniversalExtractor) Extract(target any) (any, error) {
	return Property(target, u.Name), nil
}

// ExtractFromEntry implements EntryExtractor
func (u *UniversalExtractor) ExtractFromEntry(key, val any) (any, error) {
	if u.Target == TargetKey {
		return u.Extract(key)
	}
	return u.Extract(val)
}

// Property reads a named property from a canonical map. Lookups fall back to
// a case-insensitive match. Missing properties read as nil.
func Property(target any, name string) any {
	m, ok := target.(map[string]any)
	if !ok {
		return nil
	}
	if v, ok := m[name]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// ChainedExtractor applies extractors in sequence
type ChainedExtractor struct {
	Extractors []Extractor
	Target     int
}

func parseList(desc map[string]any, field string) ([]Extractor, error) {
	raw, _ := desc[field].([]any)
	out := make([]Extractor, 0, len(raw))
	for _, r := range raw {
		e, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func newChained(desc map[string]any) (Extractor, error) {
	chain, err := parseList(desc, "extractors")
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		if name, ok := desc["name"].(string); ok && name != "" {
			c := fromPath(name)
			if ce, ok := c.(*ChainedExtractor); ok {
				ce.Target = target(desc)
				return ce, nil
			}
			return c, nil
		}
		return nil, errors.InvalidArgument("chained extractor requires extractors", nil)
	}
	return &ChainedExtractor{Extractors: chain, Target: target(desc)}, nil
}

// Extract implements Extractor
func (c *ChainedExtractor) Extract(target any) (any, error) {
	current := target
	for _, e := range c.Extractors {
		v, err := e.Extract(current)
		if err != nil {
			return nil, err
		}
		current = v
	}
	return current, nil
}

// ExtractFromEntry implements EntryExtractor
func (c *ChainedExtractor) ExtractFromEntry(key, val any) (any, error) {
	if c.Target == TargetKey {
		return c.Extract(key)
	}
	if len(c.Extractors) > 0 {
		first, err := FromEntry(c.Extractors[0], key, val)
		if err != nil {
			return nil, err
		}
		return (&ChainedExtractor{Extractors: c.Extractors[1:]}).Extract(first)
	}
	return val, nil
}

// IdentityExtractor returns its target
type IdentityExtractor struct{}

// Extract implements Extractor
func (IdentityExtractor) Extract(target any) (any, error) {
	return target, nil
}

// MultiExtractor returns the results of several extractors as a list
type MultiExtractor struct {
	Extractors []Extractor
}

func newMulti(desc map[string]any) (Extractor, error) {
	list, err := parseList(desc, "extractors")
	if err != nil {
		return nil, err
	}
	return &MultiExtractor{Extractors: list}, nil
}

// Extract implements Extractor
func (m *MultiExtractor) Extract(target any) (any, error) {
	return m.ExtractFromEntry(nil, target)
}

// ExtractFromEntry implements EntryExtractor
func (m *MultiExtractor) ExtractFromEntry(key, val any) (any, error) {
	out := make([]any, len(m.Extractors))
	for i, e := range m.Extractors {
		v, err := FromEntry(e, key, val)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// KeyExtractor applies its delegate to the entry key
type KeyExtractor struct {
	Delegate Extractor
}

func newKey(desc map[string]any) (Extractor, error) {
	inner, err := Parse(desc["extractor"])
	if err != nil {
		return nil, err
	}
	return &KeyExtractor{Delegate: inner}, nil
}

// Extract implements Extractor
func (k *KeyExtractor) Extract(target any) (any, error) {
	return k.Delegate.Extract(target)
}

// ExtractFromEntry implements EntryExtractor
func (k *KeyExtractor) ExtractFromEntry(key, _ any) (any, error) {
	return k.Delegate.Extract(key)
}
