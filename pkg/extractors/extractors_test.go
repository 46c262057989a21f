package extractors_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/gridcache/pkg/extractors"
)

func marshal(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestExtractors_Descriptors(t *testing.T) {
	age := extractors.Extract[int]("age")

	tests := []struct {
		name string
		v    any
		want string
	}{
		{"extract", age, `{"@class":"extractor.UniversalExtractor","name":"age"}`},
		{"key property", extractors.KeyProperty[string]("id"), `{"@class":"extractor.UniversalExtractor","name":"id","target":1}`},
		{"identity", extractors.Identity[string](), `{"@class":"extractor.IdentityExtractor"}`},
		{"key", extractors.Key(extractors.Identity[string]()),
			`{"@class":"extractor.KeyExtractor","extractor":{"@class":"extractor.IdentityExtractor"}}`},
		{"chained", extractors.Chained[string](extractors.Any(extractors.Extract[map[string]any]("address")), extractors.Any(extractors.Extract[string]("city"))),
			`{"@class":"extractor.ChainedExtractor","extractors":[{"@class":"extractor.UniversalExtractor","name":"address"},{"@class":"extractor.UniversalExtractor","name":"city"}]}`},
		{"multi", extractors.Multi(extractors.Any(age), extractors.Any(extractors.Extract[string]("name"))),
			`{"@class":"extractor.MultiExtractor","extractors":[{"@class":"extractor.UniversalExtractor","name":"age"},{"@class":"extractor.UniversalExtractor","name":"name"}]}`},
		{"descending", extractors.Descending(age),
			`{"@class":"comparator.InverseComparator","comparator":{"@class":"comparator.SafeComparator","comparator":{"@class":"comparator.ExtractorComparator","extractor":{"@class":"extractor.UniversalExtractor","name":"age"}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, marshal(t, tt.v))
		})
	}
}

func TestExtractors_AnyKeepsDescriptor(t *testing.T) {
	age := extractors.KeyProperty[int]("age")
	widened := extractors.Any(age)

	assert.Equal(t, age.Class(), widened.Class())
	assert.JSONEq(t, marshal(t, age), marshal(t, widened))

	// an extractor's type argument flows into generic callers
	var typed extractors.ValueExtractor[int] = extractors.Key(age)
	assert.Equal(t, "extractor.KeyExtractor", typed.Class())
}

func TestExtractors_Update(t *testing.T) {
	assert.JSONEq(t, `{"@class":"extractor.UniversalUpdater","name":"age"}`, marshal(t, extractors.Update("age")))
	assert.JSONEq(t,
		`{"@class":"extractor.CompositeUpdater","extractor":{"@class":"extractor.UniversalExtractor","name":"address"},"updater":{"@class":"extractor.UniversalUpdater","name":"city"}}`,
		marshal(t, extractors.Update("address.city")))
}
