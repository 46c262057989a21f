package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/model"
)

func prop(name string) map[string]any {
	return map[string]any{"@class": "extractor.UniversalExtractor", "name": name}
}

func cmp(class, name string, v any) map[string]any {
	return map[string]any{"@class": class, "extractor": prop(name), "value": v}
}

func person(name string, age int64) map[string]any {
	return map[string]any{"name": name, "age": age, "tags": []any{"a", "b"}}
}

func TestParse_Evaluate(t *testing.T) {
	ann := filter.NewEntry("k1", person("Ann", 25))

	tests := []struct {
		name     string
		desc     any
		expected bool
	}{
		{name: "nil is always", desc: nil, expected: true},
		{name: "equals", desc: cmp(filter.Equals, "age", int64(25)), expected: true},
		{name: "equals across numeric kinds", desc: cmp(filter.Equals, "age", 25.0), expected: true},
		{name: "not equals", desc: cmp(filter.NotEquals, "age", int64(25)), expected: false},
		{name: "greater", desc: cmp(filter.Greater, "age", int64(20)), expected: true},
		{name: "less equals", desc: cmp(filter.LessEquals, "age", int64(25)), expected: true},
		{name: "greater against nil", desc: cmp(filter.Greater, "missing", int64(1)), expected: false},
		{name: "is null", desc: cmp(filter.IsNull, "missing", nil), expected: true},
		{name: "is not null", desc: cmp(filter.IsNotNull, "name", nil), expected: true},
		{name: "in", desc: cmp(filter.In, "name", []any{"Bob", "Ann"}), expected: true},
		{name: "contains", desc: cmp(filter.Contains, "tags", "a"), expected: true},
		{name: "contains all", desc: cmp(filter.ContainsAll, "tags", []any{"a", "c"}), expected: false},
		{name: "contains any", desc: cmp(filter.ContainsAny, "tags", []any{"c", "b"}), expected: true},
		{name: "like", desc: map[string]any{"@class": filter.Like, "extractor": prop("name"), "value": "a_n", "ignoreCase": true}, expected: true},
		{name: "like percent", desc: cmp(filter.Like, "name", "A%"), expected: true},
		{name: "regex", desc: cmp(filter.Regex, "name", "^A.n$"), expected: true},
		{name: "present", desc: map[string]any{"@class": filter.Present}, expected: true},
		{name: "never", desc: map[string]any{"@class": filter.Never}, expected: false},
		{
			name: "between",
			desc: map[string]any{"@class": filter.Between, "filters": []any{
				cmp(filter.GreaterEquals, "age", int64(20)),
				cmp(filter.LessEquals, "age", int64(30)),
			}},
			expected: true,
		},
		{
			name: "or",
			desc: map[string]any{"@class": filter.Or, "filters": []any{
				cmp(filter.Equals, "name", "Bob"),
				cmp(filter.Equals, "age", int64(25)),
			}},
			expected: true,
		},
		{
			name: "xor both true",
			desc: map[string]any{"@class": filter.Xor, "filters": []any{
				cmp(filter.Equals, "name", "Ann"),
				cmp(filter.Equals, "age", int64(25)),
			}},
			expected: false,
		},
		{
			name:     "not",
			desc:     map[string]any{"@class": filter.Not, "filter": cmp(filter.Equals, "age", int64(25))},
			expected: false,
		},
		{
			name:     "in key set",
			desc:     map[string]any{"@class": filter.InKeySet, "filter": nil, "keys": []any{"k1", "k2"}},
			expected: true,
		},
		{
			name:     "key extractor",
			desc:     map[string]any{"@class": filter.Equals, "extractor": map[string]any{"@class": "extractor.IdentityExtractor"}, "value": person("Ann", 25)},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := filter.Parse(tt.desc)
			require.NoError(t, err)
			ok, err := f.Evaluate(ann)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestParse_UnknownClass(t *testing.T) {
	_, err := filter.Parse(map[string]any{"@class": "util.filter.MysteryFilter"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownClass, errors.GetCode(err))
}

func TestKeyAssociatedFilter(t *testing.T) {
	f, err := filter.Parse(map[string]any{
		"@class":  filter.KeyAssociated,
		"filter":  map[string]any{"@class": filter.Always},
		"hostKey": "order-1",
	})
	require.NoError(t, err)

	associated := map[string]any{"@class": "key.Associated", "key": "line-1", "associatedKey": "order-1"}
	ok, err := f.Evaluate(filter.NewEntry(associated, "x"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Evaluate(filter.NewEntry("line-2", "x"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMapEventFilter_Masks(t *testing.T) {
	ageOver30 := cmp(filter.Greater, "age", int64(30))
	update := func(oldAge, newAge int64) *model.MapEvent {
		return &model.MapEvent{
			Type: model.EventUpdated, Key: "k",
			OldValue: person("Ann", oldAge), HasOld: true,
			NewValue: person("Ann", newAge), HasNew: true,
		}
	}

	tests := []struct {
		name     string
		mask     int64
		event    *model.MapEvent
		expected bool
	}{
		{name: "insert matching", mask: filter.MaskInserted, event: &model.MapEvent{Type: model.EventInserted, Key: "k", NewValue: person("Ann", 40), HasNew: true}, expected: true},
		{name: "insert not matching", mask: filter.MaskInserted, event: &model.MapEvent{Type: model.EventInserted, Key: "k", NewValue: person("Ann", 20), HasNew: true}, expected: false},
		{name: "delete uses old value", mask: filter.MaskDeleted, event: &model.MapEvent{Type: model.EventDeleted, Key: "k", OldValue: person("Ann", 40), HasOld: true}, expected: true},
		{name: "insert masked out", mask: filter.MaskDeleted, event: &model.MapEvent{Type: model.EventInserted, Key: "k", NewValue: person("Ann", 40), HasNew: true}, expected: false},
		{name: "updated either side", mask: filter.MaskUpdated, event: update(40, 20), expected: true},
		{name: "entered", mask: filter.MaskUpdatedEntered, event: update(20, 40), expected: true},
		{name: "entered rejects left", mask: filter.MaskUpdatedEntered, event: update(40, 20), expected: false},
		{name: "left", mask: filter.MaskUpdatedLeft, event: update(40, 20), expected: true},
		{name: "within", mask: filter.MaskUpdatedWithin, event: update(40, 50), expected: true},
		{name: "key set ignores within", mask: filter.MaskKeySet, event: update(40, 50), expected: false},
		{name: "key set sees entered", mask: filter.MaskKeySet, event: update(20, 50), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := filter.Parse(map[string]any{"@class": filter.MapEventFilterC, "mask": tt.mask, "filter": ageOver30})
			require.NoError(t, err)
			mef := filter.ForEvents(f)
			ok, err := mef.EvaluateEvent(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestForEvents_WrapsPlainFilter(t *testing.T) {
	f, err := filter.Parse(cmp(filter.Equals, "name", "Ann"))
	require.NoError(t, err)

	mef := filter.ForEvents(f)
	assert.Equal(t, filter.MaskAll, mef.Mask)

	ok, err := mef.EvaluateEvent(&model.MapEvent{Type: model.EventDeleted, Key: "k", OldValue: person("Ann", 1), HasOld: true})
	require.NoError(t, err)
	assert.True(t, ok)

	all := filter.ForEvents(nil)
	ok, err = all.EvaluateEvent(&model.MapEvent{Type: model.EventInserted, Key: "k", HasNew: true})
	require.NoError(t, err)
	assert.True(t, ok)
}
