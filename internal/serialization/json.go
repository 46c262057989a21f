package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/devrev/pairdb/gridcache/internal/value"
)

// JSONPrefix is the leading byte of every JSON encoded payload
const JSONPrefix byte = 21

// JSON encodes values as prefixed JSON text
type JSON struct{}

// Format implements Serializer
func (JSON) Format() string { return FormatJSON }

// Serialize implements Serializer
func (JSON) Serialize(v any) ([]byte, error) {
	data, err := json.Marshal(value.Wire(value.Normalize(v)))
	if err != nil {
		return nil, fmt.Errorf("json serialize: %w", err)
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, JSONPrefix)
	return append(out, data...), nil
}

// Deserialize implements Serializer
func (JSON) Deserialize(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] != JSONPrefix {
		return nil, fmt.Errorf("json deserialize: missing format prefix, got 0x%02x", data[0])
	}
	v, err := value.DecodeJSON(data[1:])
	if err != nil {
		return nil, fmt.Errorf("json deserialize: %w", err)
	}
	return v, nil
}
