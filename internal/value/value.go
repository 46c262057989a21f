// Package value defines the canonical form of cached keys and values.
//
// Every serializer decodes into the same small set of Go types so that data
// written through one format is visible through any other:
// nil, bool, string, int64, float64, *big.Int, Decimal, []any and map[string]any.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const (
	// ClassKey is the type tag carried by polymorphic values
	ClassKey = "@class"

	ClassBigDecimal = "math.BigDec"
	ClassBigInteger = "math.BigInt"
)

// Normalize converts a decoded wire value into canonical form
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, string, int64, float64, Decimal:
		return t
	case *big.Int:
		if t == nil {
			return nil
		}
		return t
	case json.Number:
		return parseNumber(string(t))
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		return normalizeMap(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[keyString(k)] = e
		}
		return normalizeMap(m)
	}
	return normalizeReflect(v)
}

func normalizeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return new(big.Int).SetUint64(u)
}

func normalizeReflect(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[keyString(iter.Key().Interface())] = iter.Value().Interface()
		}
		return normalizeMap(m)
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
	}

	// Structs and other named types round-trip through JSON so field tags apply
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	decoded, err := DecodeJSON(data)
	if err != nil {
		return fmt.Sprint(v)
	}
	return decoded
}

func normalizeMap(in map[string]any) any {
	m := make(map[string]any, len(in))
	for k, e := range in {
		m[k] = Normalize(e)
	}

	cls, ok := m[ClassKey].(string)
	if !ok {
		return m
	}
	switch cls {
	case ClassBigDecimal:
		if text, ok := numberText(m["value"]); ok {
			if d, err := ParseDecimal(text); err == nil {
				return d
			}
		}
	case ClassBigInteger:
		if text, ok := numberText(m["value"]); ok {
			if b, ok := new(big.Int).SetString(text, 10); ok {
				return b
			}
		}
	}
	return m
}

func numberText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case *big.Int:
		return t.String(), true
	case Decimal:
		return t.String(), true
	}
	return "", false
}

func keyString(k any) string {
	switch t := k.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(k)
}

func parseNumber(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if !strings.ContainsAny(s, ".eE") {
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return b
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return f
}

// DecodeJSON decodes JSON text into canonical form, keeping integer precision
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

// Wire converts a canonical value into a form every encoder understands,
// replacing big numbers with their tagged representation.
func Wire(v any) any {
	switch t := v.(type) {
	case Decimal:
		return map[string]any{ClassKey: ClassBigDecimal, "value": t.String()}
	case *big.Int:
		if t == nil {
			return nil
		}
		return map[string]any{ClassKey: ClassBigInteger, "value": t.String()}
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Wire(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Wire(e)
		}
		return out
	}
	return v
}

// KeyOf returns the canonical identity of a value. Two values with the same
// identity address the same cache entry.
func KeyOf(v any) string {
	data, err := json.Marshal(Wire(v))
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}

// IsNumber reports whether v is a canonical number
func IsNumber(v any) bool {
	_, ok := kindOf(v)
	return ok
}

// Equal compares two canonical values. Numbers compare by numeric value.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if IsNumber(a) && IsNumber(b) {
		return compareNumbers(a, b) == 0
	}

	switch x := a.(type) {
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return KeyOf(a) == KeyOf(b)
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	case []any:
		return 4
	case map[string]any:
		return 5
	}
	if IsNumber(v) {
		return 2
	}
	return 6
}

// Compare orders canonical values. Values of different kinds order by kind:
// nil, bool, number, string, list, map.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case string:
		return strings.Compare(x, b.(string))
	case []any:
		y := b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return compareInts(int64(len(x)), int64(len(y)))
	}
	if ra == 2 {
		return compareNumbers(a, b)
	}
	return strings.Compare(KeyOf(a), KeyOf(b))
}

// SortValues sorts values in place using cmp, or natural order when cmp is nil
func SortValues(values []any, cmp func(a, b any) int) {
	if cmp == nil {
		cmp = Compare
	}
	sort.SliceStable(values, func(i, j int) bool {
		return cmp(values[i], values[j]) < 0
	})
}
