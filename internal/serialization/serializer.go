// Package serialization converts canonical values to and from the wire
// formats a session may negotiate.
package serialization

import (
	"sort"
	"sync"

	"github.com/devrev/pairdb/gridcache/internal/errors"
)

const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"

	// DefaultFormat is used when a session does not name one
	DefaultFormat = FormatMsgpack
)

// Serializer encodes canonical values in one named format
type Serializer interface {
	Format() string
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// Registry holds the serializers available to sessions
type Registry struct {
	mu          sync.RWMutex
	serializers map[string]Serializer
}

// NewRegistry creates a registry with the built-in formats
func NewRegistry() *Registry {
	r := &Registry{serializers: make(map[string]Serializer)}
	r.Register(JSON{})
	r.Register(Msgpack{})
	return r
}

// Register adds or replaces a serializer
func (r *Registry) Register(s Serializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serializers[s.Format()] = s
}

// Get returns the serializer for format. An empty format selects the default.
func (r *Registry) Get(format string) (Serializer, error) {
	if format == "" {
		format = DefaultFormat
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.serializers[format]
	if !ok {
		return nil, errors.UnsupportedFormat(format)
	}
	return s, nil
}

// Formats lists registered format names
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]string, 0, len(r.serializers))
	for f := range r.serializers {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}
