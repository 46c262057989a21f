package extractor

import (
	"fmt"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

// ParseUpdater builds an updater from a canonical descriptor
func ParseUpdater(desc any) (Updater, error) {
	switch d := desc.(type) {
	case string:
		return &PropertyUpdater{Path: splitPath(d)}, nil
	case map[string]any:
		switch d[value.ClassKey] {
		case UniversalUpdater:
			name, _ := d["name"].(string)
			if name == "" {
				return nil, errors.InvalidArgument("universal updater requires a name", nil)
			}
			return &PropertyUpdater{Path: []string{propertyName(name)}}, nil
		case CompositeUpdater:
			return parseComposite(d)
		}
		return nil, errors.UnknownClass("updater", fmt.Sprint(d[value.ClassKey]))
	}
	return nil, errors.InvalidArgument(fmt.Sprintf("updater descriptor of type %T", desc), nil)
}

// parseComposite handles an (extractor, updater) pair where the extractor
// navigates to the parent of the property being set
func parseComposite(d map[string]any) (Updater, error) {
	inner, err := ParseUpdater(d["updater"])
	if err != nil {
		return nil, err
	}
	pu, ok := inner.(*PropertyUpdater)
	if !ok {
		return inner, nil
	}

	path := make([]string, 0)
	if ed, ok := d["extractor"]; ok && ed != nil {
		e, err := Parse(ed)
		if err != nil {
			return nil, err
		}
		path = append(path, pathOf(e)...)
	}
	return &PropertyUpdater{Path: append(path, pu.Path...)}, nil
}

func pathOf(e Extractor) []string {
	switch t := e.(type) {
	case *UniversalExtractor:
		return []string{t.Name}
	case *ChainedExtractor:
		path := make([]string, 0, len(t.Extractors))
		for _, inner := range t.Extractors {
			path = append(path, pathOf(inner)...)
		}
		return path
	}
	return nil
}

// UpdaterFor returns an updater writing the property e reads, when e is a
// property path
func UpdaterFor(e Extractor) (Updater, bool) {
	path := pathOf(e)
	if len(path) == 0 {
		return nil, false
	}
	return &PropertyUpdater{Path: path}, true
}

func splitPath(p string) []string {
	e := fromPath(p)
	return pathOf(e)
}

// PropertyUpdater sets a property, creating intermediate maps as needed
type PropertyUpdater struct {
	Path []string
}

// Update implements Updater
func (u *PropertyUpdater) Update(target any, v any) (any, error) {
	if len(u.Path) == 0 {
		return v, nil
	}
	return setPath(target, u.Path, v)
}

func setPath(target any, path []string, v any) (any, error) {
	var m map[string]any
	switch t := target.(type) {
	case nil:
		m = map[string]any{}
	case map[string]any:
		m = make(map[string]any, len(t)+1)
		for k, e := range t {
			m[k] = e
		}
	default:
		return nil, errors.InvalidArgument(fmt.Sprintf("cannot set property %q on %T", path[0], target), nil)
	}

	name := path[0]
	for k := range m {
		if k != name && equalFold(k, name) {
			name = k
			break
		}
	}

	if len(path) == 1 {
		m[name] = v
		return m, nil
	}
	child, err := setPath(m[name], path[1:], v)
	if err != nil {
		return nil, err
	}
	m[name] = child
	return m, nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
