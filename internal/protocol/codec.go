// internal/protocol/codec.go
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// HeaderMagic opens every frame in both directions
	HeaderMagic = "ZBXD\x01"
	// HeaderLen is the size of HeaderMagic on the wire
	HeaderLen = 5
	// LengthFieldLen is the size of the body length field that follows the header
	LengthFieldLen = 8
	// DefaultMaxReplyBytes caps the reply body; collector acknowledgements are tiny
	DefaultMaxReplyBytes = 1 << 20
)

// Codec builds outbound frames and reads inbound ones.
// A Codec is immutable after construction and safe for concurrent use.
type Codec struct {
	Header        string
	Now           func() time.Time
	MaxReplyBytes int64
}

// NewCodec returns a codec speaking the standard trapper header
func NewCodec() *Codec {
	return &Codec{
		Header:        HeaderMagic,
		Now:           time.Now,
		MaxReplyBytes: DefaultMaxReplyBytes,
	}
}

func (c *Codec) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// EncodeEnvelope wraps entries in a sender-data request and frames the JSON body
func (c *Codec) EncodeEnvelope(entries []ItemData) ([]byte, error) {
	if entries == nil {
		entries = []ItemData{}
	}
	body, err := json.Marshal(SenderRequest{
		Request: RequestSenderData,
		Data:    entries,
		Clock:   c.now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return c.EncodeFrame(body), nil
}

// EncodeFrame prefixes body with the header and its 8-byte little-endian length
func (c *Codec) EncodeFrame(body []byte) []byte {
	frame := make([]byte, 0, len(c.Header)+LengthFieldLen+len(body))
	frame = append(frame, c.Header...)
	frame = binary.LittleEndian.AppendUint64(frame, uint64(int64(len(body))))
	return append(frame, body...)
}

// ReadReply reads one reply frame and returns its body.
// The header is validated before anything else is read. Only the low-order
// 4 bytes of the length field are used as the body length.
func (c *Codec) ReadReply(r io.Reader) ([]byte, error) {
	header := make([]byte, len(c.Header))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(header) != c.Header {
		return nil, &InvalidHeaderError{Header: header}
	}

	var lenField [LengthFieldLen]byte
	if _, err := io.ReadFull(r, lenField[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	n := int64(binary.LittleEndian.Uint32(lenField[:4]))

	maxBytes := c.MaxReplyBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxReplyBytes
	}
	if n > maxBytes {
		return nil, &InvalidResponseError{Err: fmt.Errorf("reply length %d exceeds max %d", n, maxBytes)}
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// DecodeEnvelope extracts the info status line from a reply body
func DecodeEnvelope(raw []byte) (string, error) {
	var reply ServerReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", &InvalidResponseError{Raw: string(raw), Err: err}
	}
	if reply.Info == nil {
		return "", &InvalidResponseError{Raw: string(raw), Err: errors.New("missing info field")}
	}
	return *reply.Info, nil
}
