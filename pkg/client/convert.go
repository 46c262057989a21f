package client

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/devrev/pairdb/gridcache/internal/serialization"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

// codec encodes typed values with the session serializer and decodes
// canonical results back into Go types
type codec struct {
	ser serialization.Serializer
}

func (c codec) encode(v any) ([]byte, error) {
	data, err := c.ser.Serialize(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

func (c codec) encodeAll(values []any) ([][]byte, error) {
	out := make([][]byte, len(values))
	for i, v := range values {
		data, err := c.encode(v)
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

func (c codec) decode(data []byte) (any, error) {
	v, err := c.ser.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return v, nil
}

func decodeAs[T any](c codec, data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, nil
	}
	v, err := c.decode(data)
	if err != nil {
		return zero, err
	}
	return convert[T](v)
}

// convert turns a canonical value into T. Values that are not already a T
// go through JSON so struct field tags apply.
func convert[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}

	switch target := any(&zero).(type) {
	case **big.Rat:
		if r, ok := toRat(v); ok {
			*target = r
			return zero, nil
		}
	case *big.Rat:
		if r, ok := toRat(v); ok {
			target.Set(r)
			return zero, nil
		}
	case *float64:
		if f, ok := value.ToFloat64(v); ok {
			*target = f
			return zero, nil
		}
	}

	// decimals first as numbers, then as text for big.Rat fields
	var err error
	for _, asText := range []bool{false, true} {
		var data []byte
		data, err = json.Marshal(plain(v, asText))
		if err != nil {
			break
		}
		var out T
		if err = json.Unmarshal(data, &out); err == nil {
			return out, nil
		}
	}
	return zero, fmt.Errorf("convert %T to %T: %w", v, zero, err)
}

func toRat(v any) (*big.Rat, bool) {
	switch t := v.(type) {
	case value.Decimal:
		return t.Rat(), true
	case *big.Int:
		return new(big.Rat).SetInt(t), true
	case int64:
		return new(big.Rat).SetInt64(t), true
	case float64:
		r := new(big.Rat)
		if r.SetFloat64(t) == nil {
			return nil, false
		}
		return r, true
	}
	return nil, false
}

// plain prepares a canonical value for encoding/json. Decimals become bare
// numbers, or strings when asText is set.
func plain(v any, asText bool) any {
	switch t := v.(type) {
	case value.Decimal:
		if asText {
			return t.String()
		}
		return json.Number(t.String())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e, asText)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e, asText)
		}
		return out
	}
	return v
}
