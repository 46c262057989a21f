package filter

// KeySet is a set of canonical key identities
type KeySet map[string]struct{}

// Index answers lookups over one extracted attribute
type Index interface {
	// Equal returns keys whose extracted value equals v
	Equal(v any) []string
	// Range returns keys whose extracted value lies between the bounds. A nil
	// bound is open. Nil extracted values never match.
	Range(lower any, lowerInclusive bool, upper any, upperInclusive bool) []string
}

// Indexes looks up the index for an extractor identity
type Indexes interface {
	Index(extractorID string) (Index, bool)
}

// IndexAware is implemented by filters that can narrow a candidate set
// from indexes. The result must contain every candidate the filter would
// match; exact reports that it contains nothing else.
type IndexAware interface {
	ApplyIndex(ix Indexes, candidates KeySet) (narrowed KeySet, exact bool)
}

// Narrow returns the candidates f may match. Filters that cannot use an
// index leave the set unchanged.
func Narrow(f Filter, ix Indexes, candidates KeySet) KeySet {
	narrowed, _ := narrow(f, ix, candidates)
	return narrowed
}

func narrow(f Filter, ix Indexes, candidates KeySet) (KeySet, bool) {
	if ia, ok := f.(IndexAware); ok && ix != nil {
		return ia.ApplyIndex(ix, candidates)
	}
	return candidates, false
}

func intersect(candidates KeySet, keys []string) KeySet {
	out := make(KeySet, len(keys))
	for _, k := range keys {
		if _, ok := candidates[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func subtract(candidates, remove KeySet) KeySet {
	out := make(KeySet, len(candidates))
	for k := range candidates {
		if _, ok := remove[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// ApplyIndex implements IndexAware
func (AlwaysFilter) ApplyIndex(_ Indexes, candidates KeySet) (KeySet, bool) {
	return candidates, true
}

// ApplyIndex implements IndexAware
func (NeverFilter) ApplyIndex(Indexes, KeySet) (KeySet, bool) {
	return KeySet{}, true
}

// ApplyIndex implements IndexAware
func (c *ComparisonFilter) ApplyIndex(ix Indexes, candidates KeySet) (KeySet, bool) {
	idx, ok := ix.Index(c.ExtractorID)
	if !ok {
		return candidates, false
	}

	switch c.Op {
	case opEquals:
		if c.Operand == nil {
			return candidates, false
		}
		return intersect(candidates, idx.Equal(c.Operand)), true
	case opNotEquals:
		if c.Operand == nil {
			return candidates, false
		}
		return subtract(candidates, intersect(candidates, idx.Equal(c.Operand))), true
	case opGreater, opGreaterEquals, opLess, opLessEquals:
		if c.Operand == nil {
			return KeySet{}, true
		}
	default:
		return candidates, false
	}

	var keys []string
	switch c.Op {
	case opGreater:
		keys = idx.Range(c.Operand, false, nil, false)
	case opGreaterEquals:
		keys = idx.Range(c.Operand, true, nil, false)
	case opLess:
		keys = idx.Range(nil, false, c.Operand, false)
	case opLessEquals:
		keys = idx.Range(nil, false, c.Operand, true)
	}
	return intersect(candidates, keys), true
}

// ApplyIndex implements IndexAware
func (s *SetFilter) ApplyIndex(ix Indexes, candidates KeySet) (KeySet, bool) {
	if s.Op != opIn {
		return candidates, false
	}
	idx, ok := ix.Index(s.ExtractorID)
	if !ok {
		return candidates, false
	}
	out := make(KeySet)
	for _, o := range s.Operands {
		if o == nil {
			return candidates, false
		}
		for k := range intersect(candidates, idx.Equal(o)) {
			out[k] = struct{}{}
		}
	}
	return out, true
}

// ApplyIndex implements IndexAware
func (l *LogicalFilter) ApplyIndex(ix Indexes, candidates KeySet) (KeySet, bool) {
	switch l.Op {
	case logicalAll:
		exact := true
		current := candidates
		for _, f := range l.Filters {
			next, e := narrow(f, ix, current)
			current = next
			exact = exact && e
			if len(current) == 0 {
				return current, true
			}
		}
		return current, exact
	case logicalAny:
		out := make(KeySet)
		exact := true
		for _, f := range l.Filters {
			if _, ok := f.(IndexAware); !ok {
				return candidates, false
			}
			next, e := narrow(f, ix, candidates)
			exact = exact && e
			for k := range next {
				out[k] = struct{}{}
			}
		}
		return out, exact
	}
	return candidates, false
}

// ApplyIndex implements IndexAware
func (n *NotFilter) ApplyIndex(ix Indexes, candidates KeySet) (KeySet, bool) {
	inner, exact := narrow(n.Filter, ix, candidates)
	if !exact {
		return candidates, false
	}
	return subtract(candidates, inner), true
}
