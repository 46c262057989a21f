package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/extractor"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

type compareOp int

const (
	opEquals compareOp = iota
	opNotEquals
	opGreater
	opGreaterEquals
	opLess
	opLessEquals
	opIsNull
	opIsNotNull
	opContains
)

// extracting is embedded by filters that test an extracted value
type extracting struct {
	Extractor   extractor.Extractor
	ExtractorID string
}

func newExtracting(d map[string]any) (extracting, error) {
	e, err := extractor.Parse(d["extractor"])
	if err != nil {
		return extracting{}, err
	}
	return extracting{Extractor: e, ExtractorID: extractor.ID(d["extractor"])}, nil
}

func (x extracting) extract(e Entry) (any, error) {
	if !e.IsPresent() {
		return nil, nil
	}
	return extractor.FromEntry(x.Extractor, e.Key(), e.Value())
}

// ComparisonFilter compares an extracted value against an operand
type ComparisonFilter struct {
	extracting
	Op      compareOp
	Operand any
}

func comparisonFactory(op compareOp) Factory {
	return func(d map[string]any) (Filter, error) {
		x, err := newExtracting(d)
		if err != nil {
			return nil, err
		}
		return &ComparisonFilter{extracting: x, Op: op, Operand: d["value"]}, nil
	}
}

// Evaluate implements Filter
func (c *ComparisonFilter) Evaluate(e Entry) (bool, error) {
	if !e.IsPresent() && c.Op != opIsNull {
		return false, nil
	}
	v, err := c.extract(e)
	if err != nil {
		return false, err
	}
	return c.test(v), nil
}

func (c *ComparisonFilter) test(v any) bool {
	switch c.Op {
	case opEquals:
		return value.Equal(v, c.Operand)
	case opNotEquals:
		return !value.Equal(v, c.Operand)
	case opIsNull:
		return v == nil
	case opIsNotNull:
		return v != nil
	case opContains:
		return contains(v, c.Operand)
	}

	if v == nil || c.Operand == nil {
		return false
	}
	cmp := value.Compare(v, c.Operand)
	switch c.Op {
	case opGreater:
		return cmp > 0
	case opGreaterEquals:
		return cmp >= 0
	case opLess:
		return cmp < 0
	case opLessEquals:
		return cmp <= 0
	}
	return false
}

func contains(collection, item any) bool {
	list, ok := collection.([]any)
	if !ok {
		return false
	}
	for _, e := range list {
		if value.Equal(e, item) {
			return true
		}
	}
	return false
}

type setOp int

const (
	opIn setOp = iota
	opContainsAll
	opContainsAny
)

// SetFilter tests an extracted value against a set of operands
type SetFilter struct {
	extracting
	Op       setOp
	Operands []any
}

func setFactory(op setOp) Factory {
	return func(d map[string]any) (Filter, error) {
		x, err := newExtracting(d)
		if err != nil {
			return nil, err
		}
		operands, _ := d["value"].([]any)
		return &SetFilter{extracting: x, Op: op, Operands: operands}, nil
	}
}

// Evaluate implements Filter
func (s *SetFilter) Evaluate(e Entry) (bool, error) {
	if !e.IsPresent() {
		return false, nil
	}
	v, err := s.extract(e)
	if err != nil {
		return false, err
	}

	switch s.Op {
	case opIn:
		return contains(s.Operands, v), nil
	case opContainsAll:
		for _, o := range s.Operands {
			if !contains(v, o) {
				return false, nil
			}
		}
		return true, nil
	default:
		for _, o := range s.Operands {
			if contains(v, o) {
				return true, nil
			}
		}
		return false, nil
	}
}

// PatternFilter matches extracted strings against a regular expression
type PatternFilter struct {
	extracting
	Pattern *regexp.Regexp
}

// Evaluate implements Filter
func (p *PatternFilter) Evaluate(e Entry) (bool, error) {
	if !e.IsPresent() {
		return false, nil
	}
	v, err := p.extract(e)
	if err != nil {
		return false, err
	}
	s, ok := v.(string)
	if !ok {
		return false, nil
	}
	return p.Pattern.MatchString(s), nil
}

func newRegex(d map[string]any) (Filter, error) {
	x, err := newExtracting(d)
	if err != nil {
		return nil, err
	}
	pattern, _ := d["value"].(string)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.InvalidArgument(fmt.Sprintf("invalid regex %q", pattern), err)
	}
	return &PatternFilter{extracting: x, Pattern: re}, nil
}

func newLike(d map[string]any) (Filter, error) {
	x, err := newExtracting(d)
	if err != nil {
		return nil, err
	}
	pattern, _ := d["value"].(string)
	ignoreCase, _ := d["ignoreCase"].(bool)
	escape := '\\'
	if s, ok := d["escapeChar"].(string); ok && s != "" {
		escape = []rune(s)[0]
	}

	re, err := regexp.Compile(likeToRegex(pattern, escape, ignoreCase))
	if err != nil {
		return nil, errors.InvalidArgument(fmt.Sprintf("invalid like pattern %q", pattern), err)
	}
	return &PatternFilter{extracting: x, Pattern: re}, nil
}

// likeToRegex translates a LIKE pattern: % matches any run, _ one character
func likeToRegex(pattern string, escape rune, ignoreCase bool) string {
	var b strings.Builder
	if ignoreCase {
		b.WriteString("(?i)")
	}
	b.WriteString("(?s)^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == escape:
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}
