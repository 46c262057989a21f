package filters

// MapEventMask selects which entry events a MapEventFilter passes
type MapEventMask int

const (
	MaskInserted       MapEventMask = 0x0001
	MaskUpdated        MapEventMask = 0x0002
	MaskDeleted        MapEventMask = 0x0004
	MaskUpdatedEntered MapEventMask = 0x0008
	MaskUpdatedLeft    MapEventMask = 0x0010
	MaskUpdatedWithin  MapEventMask = 0x0020

	MaskAll    = MaskInserted | MaskUpdated | MaskDeleted
	MaskKeySet = MaskInserted | MaskDeleted | MaskUpdatedEntered | MaskUpdatedLeft
)

func (m MapEventMask) String() string {
	switch m {
	case MaskAll:
		return "ALL"
	case MaskKeySet:
		return "KEYSET"
	case MaskInserted:
		return "INSERTED"
	case MaskUpdated:
		return "UPDATED"
	case MaskDeleted:
		return "DELETED"
	case MaskUpdatedEntered:
		return "UPDATED_ENTERED"
	case MaskUpdatedLeft:
		return "UPDATED_LEFT"
	case MaskUpdatedWithin:
		return "UPDATED_WITHIN"
	}
	return "UNKNOWN"
}

// NewEventFilter selects events by mask and by a filter applied to the old
// and new values. A nil filter passes every event the mask allows.
func NewEventFilter(mask MapEventMask, f Filter) Filter {
	return &filter{Type: mapEventFilterType, Mask: int(mask), Filter: f}
}

// NewEventFilterFromMask selects events by mask only
func NewEventFilterFromMask(mask MapEventMask) Filter {
	return NewEventFilter(mask, nil)
}
