// internal/protocol/types.go
package protocol

// RequestSenderData is the request name the collector expects for trapper pushes
const RequestSenderData = "sender data"

// ItemData is one item as it appears on the wire
type ItemData struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Clock int64  `json:"clock"`
}

// SenderRequest is the JSON body sent to the collector
type SenderRequest struct {
	Request string     `json:"request"`
	Data    []ItemData `json:"data"`
	Clock   int64      `json:"clock"`
}

// ServerReply is the JSON body the collector answers with.
// Info is a pointer so a missing field can be told apart from an empty one.
type ServerReply struct {
	Response string  `json:"response,omitempty"`
	Info     *string `json:"info"`
}

// DiscoveryValue is the value of a low-level discovery item, itself JSON-encoded
type DiscoveryValue struct {
	Data []map[string]string `json:"data"`
}
