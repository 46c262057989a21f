package validation_test

import (
	"strings"
	"testing"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/validation"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
	"github.com/stretchr/testify/assert"
)

func TestValidator_ValidateRequest(t *testing.T) {
	v := validation.NewValidatorWithLimits(8, 16, 2)

	tests := []struct {
		name string
		req  *pb.NamedCacheRequest
		code errors.ErrorCode
	}{
		{"nil request", nil, errors.ErrCodeInvalidArgument},
		{"missing cache", &pb.NamedCacheRequest{Type: pb.RequestSize}, errors.ErrCodeInvalidArgument},
		{"unknown type", &pb.NamedCacheRequest{Cache: "c"}, errors.ErrCodeInvalidArgument},
		{"size ok", &pb.NamedCacheRequest{Type: pb.RequestSize, Cache: "c"}, errors.ErrCodeOK},
		{"get without key", &pb.NamedCacheRequest{Type: pb.RequestGet, Cache: "c"}, errors.ErrCodeInvalidKey},
		{"key too large", &pb.NamedCacheRequest{Type: pb.RequestGet, Cache: "c", Key: []byte("123456789")}, errors.ErrCodeInvalidKey},
		{"value too large", &pb.NamedCacheRequest{Type: pb.RequestPut, Cache: "c", Key: []byte("k"), Value: []byte(strings.Repeat("v", 17))}, errors.ErrCodeValueTooLarge},
		{"put ok", &pb.NamedCacheRequest{Type: pb.RequestPut, Cache: "c", Key: []byte("k"), Value: []byte("v")}, errors.ErrCodeOK},
		{"negative ttl", &pb.NamedCacheRequest{Type: pb.RequestPut, Cache: "c", Key: []byte("k"), TTLMillis: -1}, errors.ErrCodeInvalidArgument},
		{"batch too large", &pb.NamedCacheRequest{Type: pb.RequestGetAll, Cache: "c", Keys: [][]byte{{1}, {2}, {3}}}, errors.ErrCodeInvalidArgument},
		{"invoke without processor", &pb.NamedCacheRequest{Type: pb.RequestInvoke, Cache: "c", Key: []byte("k")}, errors.ErrCodeInvalidArgument},
		{"aggregate without aggregator", &pb.NamedCacheRequest{Type: pb.RequestAggregate, Cache: "c"}, errors.ErrCodeInvalidArgument},
		{"remove listener without id", &pb.NamedCacheRequest{Type: pb.RequestRemoveMapListener, Cache: "c"}, errors.ErrCodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRequest(tt.req)
			if tt.code == errors.ErrCodeOK {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestValidator_ValidateScope(t *testing.T) {
	v := validation.NewValidator()
	assert.NoError(t, v.ValidateScope(""))
	assert.NoError(t, v.ValidateScope("tenant-a"))
	assert.Error(t, v.ValidateScope("a/b"))
	assert.Error(t, v.ValidateCacheName("bad\x01name"))
}
