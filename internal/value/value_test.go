package value_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/gridcache/internal/value"
)

func TestDecimal_ScaleGrowth(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		multiply bool
		expected string
	}{
		{name: "multiply sums scales", a: "1.0", b: "2.0", multiply: true, expected: "2.00"},
		{name: "multiply integers", a: "3", b: "4", multiply: true, expected: "12"},
		{name: "add keeps larger scale", a: "1.5", b: "2.25", expected: "3.75"},
		{name: "add with trailing zeros", a: "1.10", b: "1", expected: "2.10"},
		{name: "negative", a: "-1.5", b: "0.5", expected: "-1.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := value.MustDecimal(tt.a)
			b := value.MustDecimal(tt.b)
			var got value.Decimal
			if tt.multiply {
				got = a.Mul(b)
			} else {
				got = a.Add(b)
			}
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := value.ParseDecimal("2.5e3")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Cmp(value.MustDecimal("2500")))

	d, err = value.ParseDecimal("0.05")
	require.NoError(t, err)
	assert.Equal(t, "0.05", d.String())

	_, err = value.ParseDecimal("abc")
	assert.Error(t, err)
	_, err = value.ParseDecimal("")
	assert.Error(t, err)
}

func TestArithmetic_Promotion(t *testing.T) {
	sum, err := value.Add(int64(1), int64(2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum)

	sum, err = value.Add(int64(1), 1.5)
	require.NoError(t, err)
	assert.Equal(t, 2.5, sum)

	sum, err = value.Add(nil, int64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum)

	sum, err = value.Add(int64(9223372036854775807), int64(1))
	require.NoError(t, err)
	b, ok := sum.(*big.Int)
	require.True(t, ok)
	assert.Equal(t, "9223372036854775808", b.String())

	product, err := value.Multiply(value.MustDecimal("1.0"), int64(2))
	require.NoError(t, err)
	assert.Equal(t, "2.0", product.(value.Decimal).String())

	_, err = value.Add("text", int64(1))
	assert.Error(t, err)
}

func TestNormalize_JSONNumbers(t *testing.T) {
	v, err := value.DecodeJSON([]byte(`{"a":1,"b":1.5,"c":123456789012345678901234567890,"d":{"@class":"math.BigDec","value":"1.00"}}`))
	require.NoError(t, err)

	m := v.(map[string]any)
	assert.Equal(t, int64(1), m["a"])
	assert.Equal(t, 1.5, m["b"])
	_, isBig := m["c"].(*big.Int)
	assert.True(t, isBig)
	assert.Equal(t, "1.00", m["d"].(value.Decimal).String())
}

func TestNormalize_Struct(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	v := value.Normalize(person{Name: "Ann", Age: 25})
	assert.Equal(t, map[string]any{"name": "Ann", "age": int64(25)}, v)
}

func TestKeyOf_Deterministic(t *testing.T) {
	a := map[string]any{"x": int64(1), "y": "two"}
	b := map[string]any{"y": "two", "x": int64(1)}
	assert.Equal(t, value.KeyOf(a), value.KeyOf(b))
	assert.NotEqual(t, value.KeyOf("1"), value.KeyOf(int64(1)))
}

func TestEqualAndCompare(t *testing.T) {
	assert.True(t, value.Equal(int64(2), 2.0))
	assert.True(t, value.Equal(value.MustDecimal("2.00"), int64(2)))
	assert.False(t, value.Equal(nil, int64(0)))
	assert.True(t, value.Equal([]any{int64(1), "a"}, []any{1.0, "a"}))

	assert.Equal(t, -1, value.Compare(nil, false))
	assert.Equal(t, -1, value.Compare(int64(5), "a"))
	assert.Equal(t, 1, value.Compare(int64(10), 9.5))
	assert.Equal(t, 0, value.Compare("b", "b"))

	values := []any{int64(3), int64(1), int64(2)}
	value.SortValues(values, nil)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, values)
}

func TestWire_TagsBigNumbers(t *testing.T) {
	w := value.Wire([]any{big.NewInt(7), value.MustDecimal("1.5")})
	list := w.([]any)
	assert.Equal(t, map[string]any{"@class": "math.BigInt", "value": "7"}, list[0])
	assert.Equal(t, map[string]any{"@class": "math.BigDec", "value": "1.5"}, list[1])
}
