package serialization

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-msgpack/codec"

	"github.com/devrev/pairdb/gridcache/internal/value"
)

// Msgpack encodes values as MessagePack
type Msgpack struct{}

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.WriteExt = true
	return h
}

// Format implements Serializer
func (Msgpack) Format() string { return FormatMsgpack }

// Serialize implements Serializer
func (Msgpack) Serialize(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, newHandle())
	if err := enc.Encode(value.Wire(value.Normalize(v))); err != nil {
		return nil, fmt.Errorf("msgpack serialize: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize implements Serializer
func (Msgpack) Deserialize(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out any
	dec := codec.NewDecoder(bytes.NewReader(data), newHandle())
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("msgpack deserialize: %w", err)
	}
	return value.Normalize(out), nil
}
