package service

import (
	"time"

	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/processor"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

// The cache operations below run as processors so they share the locking
// and commit path of client processors.

func putProcessor(val any, ttl time.Duration) processor.Processor {
	return processor.ProcessorFunc(func(e processor.Entry) (any, error) {
		prev := e.Value()
		e.SetValue(val)
		e.SetExpiry(ttl)
		return prev, nil
	})
}

func putIfAbsentProcessor(val any) processor.Processor {
	return processor.ProcessorFunc(func(e processor.Entry) (any, error) {
		if e.IsPresent() && e.Value() != nil {
			return e.Value(), nil
		}
		e.SetValue(val)
		return nil, nil
	})
}

func putAllProcessor(values map[string]any, ttl time.Duration) processor.Processor {
	return processor.ProcessorFunc(func(e processor.Entry) (any, error) {
		e.SetValue(values[value.KeyOf(e.Key())])
		e.SetExpiry(ttl)
		return processor.Skip, nil
	})
}

func removeProcessor() processor.Processor {
	return processor.ProcessorFunc(func(e processor.Entry) (any, error) {
		if !e.IsPresent() {
			return nil, nil
		}
		prev := e.Value()
		e.Remove(false)
		return prev, nil
	})
}

func removeMappingProcessor(expected any) processor.Processor {
	expected = value.Normalize(expected)
	return processor.ProcessorFunc(func(e processor.Entry) (any, error) {
		if !e.IsPresent() || !value.Equal(e.Value(), expected) {
			return false, nil
		}
		e.Remove(false)
		return true, nil
	})
}

func replaceProcessor(val any) processor.Processor {
	return processor.ProcessorFunc(func(e processor.Entry) (any, error) {
		if !e.IsPresent() {
			return nil, nil
		}
		prev := e.Value()
		e.SetValue(val)
		return prev, nil
	})
}

func replaceMappingProcessor(expected, val any) processor.Processor {
	expected = value.Normalize(expected)
	return processor.ProcessorFunc(func(e processor.Entry) (any, error) {
		if !e.IsPresent() || !value.Equal(e.Value(), expected) {
			return false, nil
		}
		e.SetValue(val)
		return true, nil
	})
}

func remapProcessor(f filter.Filter, fn RemapFunc) processor.Processor {
	return processor.ProcessorFunc(func(e processor.Entry) (any, error) {
		if !e.IsPresent() {
			return nil, nil
		}
		if f != nil {
			ok, err := f.Evaluate(filter.NewEntry(e.Key(), e.Value()))
			if err != nil || !ok {
				return nil, err
			}
		}
		next, err := fn(e.Key(), e.Value())
		if err != nil {
			return nil, err
		}
		e.SetValue(next)
		return nil, nil
	})
}
