package filter

import (
	"fmt"

	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

// Event masks select which mutations a MapEventFilter passes
const (
	MaskInserted       = 0x0001
	MaskUpdated        = 0x0002
	MaskDeleted        = 0x0004
	MaskUpdatedEntered = 0x0008
	MaskUpdatedLeft    = 0x0010
	MaskUpdatedWithin  = 0x0020
	MaskAll            = MaskInserted | MaskUpdated | MaskDeleted
	MaskKeySet         = MaskInserted | MaskDeleted | MaskUpdatedEntered | MaskUpdatedLeft
)

// MapEventFilter selects events by type and by a filter applied to the old
// and new values
type MapEventFilter struct {
	Mask   int
	Filter Filter // nil passes every event allowed by Mask
}

func newMapEventFilter(d map[string]any) (Filter, error) {
	mask := int64(MaskAll)
	if m, ok := value.ToInt64(d["mask"]); ok {
		mask = m
	}
	var inner Filter
	if raw, ok := d["filter"]; ok && raw != nil {
		f, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		inner = f
	}
	return &MapEventFilter{Mask: int(mask), Filter: inner}, nil
}

// ForEvents wraps a filter for event selection. A MapEventFilter is
// returned as is; any other filter is applied with the All mask.
func ForEvents(f Filter) *MapEventFilter {
	if mef, ok := f.(*MapEventFilter); ok {
		return mef
	}
	if _, ok := f.(AlwaysFilter); ok || f == nil {
		return &MapEventFilter{Mask: MaskAll}
	}
	return &MapEventFilter{Mask: MaskAll, Filter: f}
}

// Evaluate applies the inner filter to the entry itself
func (m *MapEventFilter) Evaluate(e Entry) (bool, error) {
	if m.Filter == nil {
		return true, nil
	}
	return m.Filter.Evaluate(e)
}

func (m *MapEventFilter) matches(key, val any, present bool) (bool, error) {
	if m.Filter == nil {
		return true, nil
	}
	if !present {
		return false, nil
	}
	return m.Filter.Evaluate(NewEntry(key, val))
}

// EvaluateEvent reports whether ev passes the filter
func (m *MapEventFilter) EvaluateEvent(ev *model.MapEvent) (bool, error) {
	switch ev.Type {
	case model.EventInserted:
		if m.Mask&MaskInserted == 0 {
			return false, nil
		}
		return m.matches(ev.Key, ev.NewValue, ev.HasNew)
	case model.EventDeleted:
		if m.Mask&MaskDeleted == 0 {
			return false, nil
		}
		return m.matches(ev.Key, ev.OldValue, ev.HasOld)
	case model.EventUpdated:
		fOld, err := m.matches(ev.Key, ev.OldValue, ev.HasOld)
		if err != nil {
			return false, err
		}
		fNew, err := m.matches(ev.Key, ev.NewValue, ev.HasNew)
		if err != nil {
			return false, err
		}
		switch {
		case m.Mask&MaskUpdated != 0 && (fOld || fNew):
			return true, nil
		case m.Mask&MaskUpdatedEntered != 0 && !fOld && fNew:
			return true, nil
		case m.Mask&MaskUpdatedLeft != 0 && fOld && !fNew:
			return true, nil
		case m.Mask&MaskUpdatedWithin != 0 && fOld && fNew:
			return true, nil
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown event type %d", ev.Type)
}
