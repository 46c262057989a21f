package processor

import (
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/extractor"
	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

// CompositeProcessor applies processors in order and returns their results
type CompositeProcessor struct {
	Processors []Processor
}

func newComposite(d map[string]any) (Processor, error) {
	raw, _ := d["processors"].([]any)
	list := make([]Processor, 0, len(raw))
	for _, r := range raw {
		p, err := Parse(r)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return &CompositeProcessor{Processors: list}, nil
}

// Process implements Processor
func (c *CompositeProcessor) Process(e Entry) (any, error) {
	results := make([]any, 0, len(c.Processors))
	for _, p := range c.Processors {
		r, err := p.Process(e)
		if err != nil {
			return nil, err
		}
		results = append(results, Result(r))
	}
	return results, nil
}

// ConditionalProcessor runs its processor only on entries matching a filter
type ConditionalProcessor struct {
	Filter    filter.Filter
	Processor Processor
}

func newConditional(d map[string]any) (Processor, error) {
	f, err := filter.Parse(d["filter"])
	if err != nil {
		return nil, err
	}
	p, err := Parse(d["processor"])
	if err != nil {
		return nil, err
	}
	return &ConditionalProcessor{Filter: f, Processor: p}, nil
}

// Process implements Processor
func (c *ConditionalProcessor) Process(e Entry) (any, error) {
	ok, err := c.Filter.Evaluate(e)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Skip, nil
	}
	return c.Processor.Process(e)
}

// ConditionalPutProcessor sets a value when the entry matches a filter.
// A failed condition yields the current value when Return is set.
type ConditionalPutProcessor struct {
	Filter filter.Filter
	Value  any
	Return bool
}

func newConditionalPut(d map[string]any) (Processor, error) {
	f, err := filter.Parse(d["filter"])
	if err != nil {
		return nil, err
	}
	return &ConditionalPutProcessor{Filter: f, Value: d["value"], Return: boolField(d, "return")}, nil
}

// Process implements Processor
func (c *ConditionalPutProcessor) Process(e Entry) (any, error) {
	return conditionalSet(e, c.Filter, c.Value, c.Return)
}

func conditionalSet(e Entry, f filter.Filter, v any, ret bool) (any, error) {
	ok, err := f.Evaluate(e)
	if err != nil {
		return nil, err
	}
	if ok {
		e.SetValue(v)
		return Skip, nil
	}
	if ret {
		return e.Value(), nil
	}
	return Skip, nil
}

// parseEntries accepts {"entries":[{"key":k,"value":v}]} or a bare list
func parseEntries(raw any) map[string]any {
	if m, ok := raw.(map[string]any); ok {
		raw = m["entries"]
	}
	list, _ := raw.([]any)
	out := make(map[string]any, len(list))
	for _, item := range list {
		kv, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out[value.KeyOf(kv["key"])] = kv["value"]
	}
	return out
}

// ConditionalPutAllProcessor sets per-key values on entries matching a filter
type ConditionalPutAllProcessor struct {
	Filter  filter.Filter
	Entries map[string]any
	Return  bool
}

func newConditionalPutAll(d map[string]any) (Processor, error) {
	f, err := filter.Parse(d["filter"])
	if err != nil {
		return nil, err
	}
	return &ConditionalPutAllProcessor{Filter: f, Entries: parseEntries(d["entries"]), Return: boolField(d, "return")}, nil
}

// Process implements Processor
func (c *ConditionalPutAllProcessor) Process(e Entry) (any, error) {
	v, ok := c.Entries[value.KeyOf(e.Key())]
	if !ok {
		return Skip, nil
	}
	return conditionalSet(e, c.Filter, v, c.Return)
}

// ConditionalRemoveProcessor removes entries matching a filter
type ConditionalRemoveProcessor struct {
	Filter filter.Filter
	Return bool
}

func newConditionalRemove(d map[string]any) (Processor, error) {
	f, err := filter.Parse(d["filter"])
	if err != nil {
		return nil, err
	}
	return &ConditionalRemoveProcessor{Filter: f, Return: boolField(d, "return")}, nil
}

// Process implements Processor
func (c *ConditionalRemoveProcessor) Process(e Entry) (any, error) {
	ok, err := c.Filter.Evaluate(e)
	if err != nil {
		return nil, err
	}
	if ok {
		e.Remove(false)
		return Skip, nil
	}
	if c.Return {
		return e.Value(), nil
	}
	return Skip, nil
}

// ExtractorProcessor returns an extracted value without modifying the entry
type ExtractorProcessor struct {
	Extractor extractor.Extractor
}

func newExtractorProcessor(d map[string]any) (Processor, error) {
	desc, ok := d["extractor"]
	if !ok || desc == nil {
		if name, ok := d["name"].(string); ok && name != "" {
			desc = map[string]any{value.ClassKey: extractor.Universal, "name": name, "target": d["target"]}
		}
	}
	e, err := extractor.Parse(desc)
	if err != nil {
		return nil, err
	}
	return &ExtractorProcessor{Extractor: e}, nil
}

// Process implements Processor
func (p *ExtractorProcessor) Process(e Entry) (any, error) {
	if !e.IsPresent() {
		return nil, nil
	}
	return extractor.FromEntry(p.Extractor, e.Key(), e.Value())
}

// PreloadProcessor loads an entry through the cache store, returning nothing
type PreloadProcessor struct{}

// Process implements Processor
func (PreloadProcessor) Process(e Entry) (any, error) {
	e.Value()
	return nil, nil
}

// TouchProcessor reads an entry to mark it accessed
type TouchProcessor struct{}

// Process implements Processor
func (TouchProcessor) Process(e Entry) (any, error) {
	e.IsPresent()
	return nil, nil
}

// UpdaterProcessor sets a property of the value through an updater
type UpdaterProcessor struct {
	Updater extractor.Updater
	Value   any
}

func newUpdaterProcessor(d map[string]any) (Processor, error) {
	u, err := extractor.ParseUpdater(d["updater"])
	if err != nil {
		return nil, err
	}
	return &UpdaterProcessor{Updater: u, Value: d["value"]}, nil
}

// Process implements Processor
func (p *UpdaterProcessor) Process(e Entry) (any, error) {
	updated, err := p.Updater.Update(e.Value(), p.Value)
	if err != nil {
		return nil, err
	}
	e.SetValue(updated)
	return true, nil
}

// ExpiryProcessor optionally sets a time to live, then returns the
// absolute expiry in epoch milliseconds (0 when the entry never expires)
type ExpiryProcessor struct {
	TTL    time.Duration
	HasTTL bool
}

func newExpiry(d map[string]any) (Processor, error) {
	p := &ExpiryProcessor{}
	if ms, ok := value.ToInt64(d["ttl"]); ok {
		p.TTL = time.Duration(ms) * time.Millisecond
		p.HasTTL = true
	}
	return p, nil
}

// Process implements Processor
func (p *ExpiryProcessor) Process(e Entry) (any, error) {
	if !e.IsPresent() {
		return int64(0), nil
	}
	if p.HasTTL {
		e.SetExpiry(p.TTL)
	}
	exp := e.Expiry()
	if exp.IsZero() {
		return int64(0), nil
	}
	return exp.UnixMilli(), nil
}

// EnlistPutProcessor writes a value to an entry of another cache within the
// same transaction and returns that entry's previous value
type EnlistPutProcessor struct {
	Cache string
	Key   any
	Value any
}

func newEnlistPut(d map[string]any) (Processor, error) {
	name, _ := d["cache"].(string)
	if name == "" {
		return nil, errors.InvalidArgument("enlist put requires a cache name", nil)
	}
	return &EnlistPutProcessor{Cache: name, Key: d["key"], Value: d["value"]}, nil
}

// Process implements Processor
func (p *EnlistPutProcessor) Process(e Entry) (any, error) {
	other, err := e.Enlist(p.Cache, p.Key)
	if err != nil {
		return nil, err
	}
	prev := other.Value()
	other.SetValue(p.Value)
	return prev, nil
}
