package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
)

const (
	MaxKeySize       = 64 * 1024        // 64 KB
	MaxValueSize     = 10 * 1024 * 1024 // 10 MB
	MaxCacheNameSize = 256
	MaxScopeSize     = 256
	MaxBatchSize     = 100000
)

// Validator checks sub-channel requests before they reach the grid
type Validator struct {
	maxKeySize   int
	maxValueSize int
	maxBatchSize int
}

// NewValidator creates a validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxKeySize:   MaxKeySize,
		maxValueSize: MaxValueSize,
		maxBatchSize: MaxBatchSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits. A
// non-positive limit keeps the default.
func NewValidatorWithLimits(maxKeySize, maxValueSize, maxBatchSize int) *Validator {
	v := NewValidator()
	if maxKeySize > 0 {
		v.maxKeySize = maxKeySize
	}
	if maxValueSize > 0 {
		v.maxValueSize = maxValueSize
	}
	if maxBatchSize > 0 {
		v.maxBatchSize = maxBatchSize
	}
	return v
}

// ValidateCacheName validates a cache name
func (v *Validator) ValidateCacheName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.InvalidArgument("cache name cannot be empty", nil)
	}
	if len(name) > MaxCacheNameSize {
		return errors.InvalidArgument(
			fmt.Sprintf("cache name exceeds maximum size of %d bytes", MaxCacheNameSize), nil)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.InvalidArgument("cache name cannot contain control characters", nil).
				WithDetail("cache", name)
		}
	}
	return nil
}

// ValidateScope validates a session scope. An empty scope is the default scope.
func (v *Validator) ValidateScope(scope string) error {
	if len(scope) > MaxScopeSize {
		return errors.InvalidArgument(
			fmt.Sprintf("scope exceeds maximum size of %d bytes", MaxScopeSize), nil)
	}
	if strings.ContainsAny(scope, "/\x00") {
		return errors.InvalidArgument("scope cannot contain '/' or null bytes", nil)
	}
	return nil
}

// ValidateKey validates a serialized key
func (v *Validator) ValidateKey(key []byte) error {
	if len(key) == 0 {
		return errors.InvalidKey("key cannot be empty")
	}
	if len(key) > v.maxKeySize {
		return errors.InvalidKey(fmt.Sprintf("key size %d exceeds maximum %d", len(key), v.maxKeySize))
	}
	return nil
}

// ValidateValue validates a serialized value. A nil value is allowed.
func (v *Validator) ValidateValue(value []byte) error {
	if len(value) > v.maxValueSize {
		return errors.ValueTooLarge(len(value), v.maxValueSize)
	}
	return nil
}

// ValidateRequest checks that req carries what its type needs
func (v *Validator) ValidateRequest(req *pb.NamedCacheRequest) error {
	if req == nil {
		return errors.InvalidArgument("request is empty", nil)
	}
	if err := v.ValidateCacheName(req.Cache); err != nil {
		return err
	}
	if req.TTLMillis < 0 {
		return errors.InvalidArgument("ttl cannot be negative", nil).WithDetail("ttl_millis", req.TTLMillis)
	}
	if req.TimeoutMillis < 0 {
		return errors.InvalidArgument("timeout cannot be negative", nil)
	}
	if len(req.Keys) > v.maxBatchSize || len(req.Entries) > v.maxBatchSize {
		return errors.InvalidArgument(fmt.Sprintf("batch exceeds maximum of %d entries", v.maxBatchSize), nil)
	}

	switch req.Type {
	case pb.RequestGet, pb.RequestGetOrDefault, pb.RequestRemove, pb.RequestContainsKey, pb.RequestInvoke:
		if err := v.ValidateKey(req.Key); err != nil {
			return err
		}
	case pb.RequestPut, pb.RequestPutIfAbsent, pb.RequestReplace, pb.RequestRemoveMapping,
		pb.RequestReplaceMapping, pb.RequestContainsEntry:
		if err := v.ValidateKey(req.Key); err != nil {
			return err
		}
		if err := v.ValidateValue(req.Value); err != nil {
			return err
		}
		if err := v.ValidateValue(req.Expected); err != nil {
			return err
		}
	case pb.RequestPutAll:
		for _, e := range req.Entries {
			if e == nil {
				return errors.InvalidArgument("put all entry is empty", nil)
			}
			if err := v.ValidateKey(e.Key); err != nil {
				return err
			}
			if err := v.ValidateValue(e.Value); err != nil {
				return err
			}
		}
	case pb.RequestGetAll:
		for _, k := range req.Keys {
			if err := v.ValidateKey(k); err != nil {
				return err
			}
		}
	case pb.RequestAddIndex, pb.RequestRemoveIndex:
		if len(req.Extractor) == 0 {
			return errors.InvalidArgument("extractor is required", nil)
		}
	case pb.RequestAggregate:
		if len(req.Aggregator) == 0 {
			return errors.InvalidArgument("aggregator is required", nil)
		}
	case pb.RequestInvokeAll:
		if len(req.Processor) == 0 {
			return errors.InvalidArgument("processor is required", nil)
		}
	case pb.RequestRemoveMapListener:
		if req.RegistrationID == "" {
			return errors.InvalidArgument("registration id is required", nil)
		}
	case pb.RequestUnknown:
		return errors.InvalidArgument("request type is required", nil)
	}
	if req.Type == pb.RequestInvoke && len(req.Processor) == 0 {
		return errors.InvalidArgument("processor is required", nil)
	}
	return nil
}
