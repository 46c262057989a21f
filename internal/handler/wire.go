package handler

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/model"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
)

func (c *channel) decode(data []byte, what string) (any, error) {
	if len(data) == 0 {
		return nil, errors.InvalidArgument(what+" is required", nil)
	}
	return c.decodeOptional(data, what)
}

// decodeOptional decodes data with the session serializer. Empty data is nil.
func (c *channel) decodeOptional(data []byte, what string) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	v, err := c.session.Serializer.Deserialize(data)
	if err != nil {
		return nil, errors.InvalidArgument("cannot decode "+what, err).
			WithDetail("format", c.session.Format)
	}
	return v, nil
}

func (c *channel) decodeAll(data [][]byte, what string) ([]any, error) {
	out := make([]any, len(data))
	for i, d := range data {
		v, err := c.decode(d, what)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *channel) encode(v any) ([]byte, error) {
	data, err := c.session.Serializer.Serialize(v)
	if err != nil {
		return nil, errors.InternalError("cannot encode result", err)
	}
	return data, nil
}

// reply sends a single-message response
func (c *channel) reply(id int64, msg *pb.ResponseMessage) error {
	c.send(&pb.ProxyResponse{ID: id, Message: msg, Complete: true})
	return nil
}

func (c *channel) replyValue(id int64, v any, present bool) error {
	msg := &pb.ResponseMessage{Present: present}
	if present {
		data, err := c.encode(v)
		if err != nil {
			return err
		}
		msg.Value = data
	}
	return c.reply(id, msg)
}

// streamEntries sends entries in pages followed by a Complete response
func (c *channel) streamEntries(id int64, kvs []model.KeyValue) error {
	entries := make([]*pb.BinaryEntry, 0, len(kvs))
	for _, kv := range kvs {
		k, err := c.encode(kv.Key)
		if err != nil {
			return err
		}
		v, err := c.encode(kv.Value)
		if err != nil {
			return err
		}
		entries = append(entries, &pb.BinaryEntry{Key: k, Value: v})
	}
	size := c.server.config.PageSize
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		c.send(&pb.ProxyResponse{ID: id, Message: &pb.ResponseMessage{Entries: entries[start:end]}})
	}
	c.send(&pb.ProxyResponse{ID: id, Complete: true})
	return nil
}

func (c *channel) streamKeys(id int64, keys []any) error {
	return c.streamList(id, keys, func(page [][]byte) *pb.ResponseMessage {
		return &pb.ResponseMessage{Keys: page}
	})
}

func (c *channel) streamValues(id int64, vals []any) error {
	return c.streamList(id, vals, func(page [][]byte) *pb.ResponseMessage {
		return &pb.ResponseMessage{Values: page}
	})
}

func (c *channel) streamList(id int64, items []any, wrap func([][]byte) *pb.ResponseMessage) error {
	encoded := make([][]byte, 0, len(items))
	for _, it := range items {
		data, err := c.encode(it)
		if err != nil {
			return err
		}
		encoded = append(encoded, data)
	}
	size := c.server.config.PageSize
	for start := 0; start < len(encoded); start += size {
		end := min(start+size, len(encoded))
		c.send(&pb.ProxyResponse{ID: id, Message: wrap(encoded[start:end])})
	}
	c.send(&pb.ProxyResponse{ID: id, Complete: true})
	return nil
}

func (c *channel) encodeEvent(regID, cache string, ev *model.MapEvent) (*pb.MapEventMessage, error) {
	msg := &pb.MapEventMessage{
		RegistrationID: regID,
		Cache:          cache,
		Type:           int32(ev.Type),
		HasOld:         ev.HasOld,
		HasNew:         ev.HasNew,
		Synthetic:      ev.Synthetic,
		Priming:        ev.Priming,
		Expired:        ev.Expired,
		Version:        ev.Version,
	}
	var err error
	if msg.Key, err = c.encode(ev.Key); err != nil {
		return nil, err
	}
	if ev.HasOld {
		if msg.OldValue, err = c.encode(ev.OldValue); err != nil {
			return nil, err
		}
	}
	if ev.HasNew {
		if msg.NewValue, err = c.encode(ev.NewValue); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// wireCode maps an error to the code the client sees
func wireCode(err error) int32 {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		if !errors.IsCacheError(err) {
			return pb.CodeTimeout
		}
	}
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidArgument, errors.ErrCodeInvalidKey, errors.ErrCodeValueTooLarge,
		errors.ErrCodeUnknownClass:
		return pb.CodeInvalidArgument
	case errors.ErrCodeUnsupportedFormat:
		return pb.CodeUnsupportedFormat
	case errors.ErrCodeNotActive:
		return pb.CodeNotActive
	case errors.ErrCodeIncompleteRequest, errors.ErrCodeCacheStoreFailed:
		return pb.CodeIncompleteRequest
	case errors.ErrCodeConflict, errors.ErrCodeDeadlock, errors.ErrCodeLockTimeout:
		return pb.CodeConflict
	case errors.ErrCodeTimeout:
		return pb.CodeTimeout
	case errors.ErrCodeUnavailable, errors.ErrCodeResourceExhausted:
		return pb.CodeUnavailable
	}
	return pb.CodeInternal
}

func outcomeOf(err error) string {
	switch wireCode(err) {
	case pb.CodeInvalidArgument, pb.CodeUnsupportedFormat:
		return "invalid"
	case pb.CodeNotActive:
		return "not_active"
	case pb.CodeIncompleteRequest:
		return "incomplete"
	case pb.CodeConflict:
		return "conflict"
	case pb.CodeTimeout:
		return "timeout"
	case pb.CodeUnavailable:
		return "unavailable"
	}
	return "error"
}

func errorResponse(id int64, err error) *pb.ProxyResponse {
	msg := &pb.ErrorMessage{Code: wireCode(err), Message: err.Error()}
	var ce *errors.CacheError
	if stderrors.As(err, &ce) && len(ce.Details) > 0 {
		msg.Details = make(map[string]string, len(ce.Details))
		for k, v := range ce.Details {
			msg.Details[k] = fmt.Sprint(v)
		}
	}
	return &pb.ProxyResponse{ID: id, Error: msg}
}
