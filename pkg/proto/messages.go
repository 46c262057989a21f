// Package proto defines the wire contract of the gridcache proxy service:
// the sub-channel request and response envelopes, the service descriptor
// and the codec that carries them.
package proto

// RequestType identifies a named cache operation
type RequestType int32

const (
	RequestUnknown RequestType = iota
	RequestEnsureCache
	RequestGet
	RequestGetAll
	RequestPut
	RequestPutIfAbsent
	RequestPutAll
	RequestRemove
	RequestRemoveMapping
	RequestReplace
	RequestReplaceMapping
	RequestContainsKey
	RequestContainsValue
	RequestContainsEntry
	RequestSize
	RequestIsEmpty
	RequestClear
	RequestTruncate
	RequestDestroy
	RequestAddIndex
	RequestRemoveIndex
	RequestInvoke
	RequestInvokeAll
	RequestAggregate
	RequestKeySet
	RequestEntrySet
	RequestValues
	RequestAddMapListener
	RequestRemoveMapListener
	RequestGetOrDefault
	RequestIsReady
)

var requestNames = map[RequestType]string{
	RequestEnsureCache:       "ensure_cache",
	RequestGet:               "get",
	RequestGetAll:            "get_all",
	RequestPut:               "put",
	RequestPutIfAbsent:       "put_if_absent",
	RequestPutAll:            "put_all",
	RequestRemove:            "remove",
	RequestRemoveMapping:     "remove_mapping",
	RequestReplace:           "replace",
	RequestReplaceMapping:    "replace_mapping",
	RequestContainsKey:       "contains_key",
	RequestContainsValue:     "contains_value",
	RequestContainsEntry:     "contains_entry",
	RequestSize:              "size",
	RequestIsEmpty:           "is_empty",
	RequestClear:             "clear",
	RequestTruncate:          "truncate",
	RequestDestroy:           "destroy",
	RequestAddIndex:          "add_index",
	RequestRemoveIndex:       "remove_index",
	RequestInvoke:            "invoke",
	RequestInvokeAll:         "invoke_all",
	RequestAggregate:         "aggregate",
	RequestKeySet:            "key_set",
	RequestEntrySet:          "entry_set",
	RequestValues:            "values",
	RequestAddMapListener:    "add_map_listener",
	RequestRemoveMapListener: "remove_map_listener",
	RequestGetOrDefault:      "get_or_default",
	RequestIsReady:           "is_ready",
}

// String returns the request type name
func (t RequestType) String() string {
	if n, ok := requestNames[t]; ok {
		return n
	}
	return "unknown"
}

// Wire error codes carried by ErrorMessage
const (
	CodeInvalidArgument   int32 = 1000
	CodeNotActive         int32 = 1001
	CodeIncompleteRequest int32 = 1002
	CodeUnsupportedFormat int32 = 1004
	CodeInternal          int32 = 2000
	CodeUnavailable       int32 = 2001
	CodeConflict          int32 = 2002
	CodeTimeout           int32 = 2005
)

// ProxyRequest is the envelope a client sends on the sub-channel. Exactly
// one of Init, Message and Heartbeat is set.
type ProxyRequest struct {
	ID        int64              `json:"id"`
	Init      *InitRequest       `json:"init,omitempty"`
	Message   *NamedCacheRequest `json:"message,omitempty"`
	Heartbeat *Heartbeat         `json:"heartbeat,omitempty"`
}

// InitRequest opens a session
type InitRequest struct {
	ProtocolVersion     int32  `json:"protocol_version"`
	Scope               string `json:"scope,omitempty"`
	Format              string `json:"format,omitempty"`
	HeartbeatMillis     int64  `json:"heartbeat_millis,omitempty"`
	RequireHeartbeatAck bool   `json:"require_heartbeat_ack,omitempty"`
	ClientID            string `json:"client_id,omitempty"`
}

// InitResponse confirms a session
type InitResponse struct {
	SessionID           string   `json:"session_id"`
	MemberID            string   `json:"member_id"`
	ProtocolVersion     int32    `json:"protocol_version"`
	Format              string   `json:"format"`
	HeartbeatMillis     int64    `json:"heartbeat_millis"`
	RequireHeartbeatAck bool     `json:"require_heartbeat_ack"`
	PartitionCount      int32    `json:"partition_count"`
	ProxyEndpoints      []string `json:"proxy_endpoints,omitempty"`
}

// BinaryEntry is a serialized key and value
type BinaryEntry struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// NamedCacheRequest is one cache operation. Keys, values and plugin
// descriptors are encoded with the session serializer.
type NamedCacheRequest struct {
	Type           RequestType    `json:"type"`
	Cache          string         `json:"cache"`
	Key            []byte         `json:"key,omitempty"`
	Value          []byte         `json:"value,omitempty"`
	Expected       []byte         `json:"expected,omitempty"`
	Keys           [][]byte       `json:"keys,omitempty"`
	Entries        []*BinaryEntry `json:"entries,omitempty"`
	Filter         []byte         `json:"filter,omitempty"`
	Processor      []byte         `json:"processor,omitempty"`
	Aggregator     []byte         `json:"aggregator,omitempty"`
	Extractor      []byte         `json:"extractor,omitempty"`
	Comparator     []byte         `json:"comparator,omitempty"`
	Sorted         bool           `json:"sorted,omitempty"`
	TTLMillis      int64          `json:"ttl_millis,omitempty"`
	Lite           bool           `json:"lite,omitempty"`
	Priming        bool           `json:"priming,omitempty"`
	Synchronous    bool           `json:"synchronous,omitempty"`
	RegistrationID string         `json:"registration_id,omitempty"`
	AssociatedKey  []byte         `json:"associated_key,omitempty"`
	Partition      *int32         `json:"partition,omitempty"`
	TimeoutMillis  int64          `json:"timeout_millis,omitempty"`
}

// ProxyResponse is the envelope the server sends on the sub-channel. ID
// echoes the request; events and server heartbeats carry ID 0.
type ProxyResponse struct {
	ID        int64             `json:"id"`
	Init      *InitResponse     `json:"init,omitempty"`
	Message   *ResponseMessage  `json:"message,omitempty"`
	Event     *MapEventMessage  `json:"event,omitempty"`
	Lifecycle *LifecycleMessage `json:"lifecycle,omitempty"`
	Error     *ErrorMessage     `json:"error,omitempty"`
	Heartbeat *Heartbeat        `json:"heartbeat,omitempty"`
	Complete  bool              `json:"complete,omitempty"`
}

// ResponseMessage carries a result or one page of a streamed result
type ResponseMessage struct {
	Value          []byte         `json:"value,omitempty"`
	Present        bool           `json:"present,omitempty"`
	Bool           bool           `json:"bool,omitempty"`
	Int            int64          `json:"int,omitempty"`
	Entries        []*BinaryEntry `json:"entries,omitempty"`
	Keys           [][]byte       `json:"keys,omitempty"`
	Values         [][]byte       `json:"values,omitempty"`
	RegistrationID string         `json:"registration_id,omitempty"`
}

// MapEventMessage delivers one entry event to one registration
type MapEventMessage struct {
	RegistrationID string `json:"registration_id"`
	Cache          string `json:"cache"`
	Type           int32  `json:"type"`
	Key            []byte `json:"key,omitempty"`
	OldValue       []byte `json:"old_value,omitempty"`
	NewValue       []byte `json:"new_value,omitempty"`
	HasOld         bool   `json:"has_old,omitempty"`
	HasNew         bool   `json:"has_new,omitempty"`
	Synthetic      bool   `json:"synthetic,omitempty"`
	Priming        bool   `json:"priming,omitempty"`
	Expired        bool   `json:"expired,omitempty"`
	Version        uint64 `json:"version,omitempty"`
}

// LifecycleMessage reports that a cache was truncated or destroyed
type LifecycleMessage struct {
	Cache string `json:"cache"`
	Type  string `json:"type"`
}

// ErrorMessage is a failed request
type ErrorMessage struct {
	Code    int32             `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Heartbeat is sent by either side. A client heartbeat with Ack set asks
// the server to answer.
type Heartbeat struct {
	Ack             bool  `json:"ack,omitempty"`
	TimestampMillis int64 `json:"timestamp_millis,omitempty"`
}
