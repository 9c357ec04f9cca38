// internal/protocol/codec_test.go
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedCodec() *Codec {
	c := NewCodec()
	c.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func replyFrame(header string, body string) []byte {
	var buf bytes.Buffer
	buf.WriteString(header)
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(body)))
	buf.Write(n[:])
	buf.WriteString(body)
	return buf.Bytes()
}

func TestEncodeEnvelopeFrameLayout(t *testing.T) {
	c := fixedCodec()
	frame, err := c.EncodeEnvelope([]ItemData{
		{Host: "cdn-1", Key: "probe.last[42]", Value: "12.5", Clock: 1699999999},
	})
	require.NoError(t, err)

	require.Equal(t, HeaderMagic, string(frame[:HeaderLen]))
	n := int64(binary.LittleEndian.Uint64(frame[HeaderLen : HeaderLen+LengthFieldLen]))
	body := frame[HeaderLen+LengthFieldLen:]
	assert.Equal(t, int64(len(body)), n)

	var req SenderRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "sender data", req.Request)
	assert.Equal(t, int64(1700000000), req.Clock)
	require.Len(t, req.Data, 1)
	assert.Equal(t, ItemData{Host: "cdn-1", Key: "probe.last[42]", Value: "12.5", Clock: 1699999999}, req.Data[0])
}

func TestEncodeEnvelopeEmptyDataIsArray(t *testing.T) {
	frame, err := fixedCodec().EncodeEnvelope(nil)
	require.NoError(t, err)
	assert.Contains(t, string(frame[HeaderLen+LengthFieldLen:]), `"data":[]`)
}

func TestEncodeFrameLengthMatchesMultibyteBody(t *testing.T) {
	body := []byte(`{"info":"données – ✓"}`)
	frame := NewCodec().EncodeFrame(body)

	n := binary.LittleEndian.Uint64(frame[HeaderLen : HeaderLen+LengthFieldLen])
	assert.Equal(t, uint64(len(body)), n)

	got, err := NewCodec().ReadReply(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestReadReplyUsesLowOrderLengthBytes(t *testing.T) {
	body := `{"response":"success","info":"processed: 1; failed: 0; total: 1; seconds spent: 0.000055"}`
	frame := replyFrame(HeaderMagic, body)
	// garbage in the upper half of the length field must be ignored
	frame[HeaderLen+5] = 0xff
	frame[HeaderLen+7] = 0x7f

	got, err := NewCodec().ReadReply(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestReadReplyRejectsBadMagicBeforeBody(t *testing.T) {
	frame := replyFrame("ZBXX\x01", `{"info":"x"}`)
	r := &countingReader{r: bytes.NewReader(frame)}

	_, err := NewCodec().ReadReply(r)
	var hdrErr *InvalidHeaderError
	require.True(t, errors.As(err, &hdrErr), "expected InvalidHeaderError, got %v", err)
	assert.Equal(t, []byte("ZBXX\x01"), hdrErr.Header)
	assert.ErrorIs(t, err, ErrInvalidHeader)
	assert.LessOrEqual(t, r.read, HeaderLen+1, "body must not be consumed")
}

func TestReadReplyShortHeader(t *testing.T) {
	_, err := NewCodec().ReadReply(bytes.NewReader([]byte("ZB")))
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadReplyTruncatedBody(t *testing.T) {
	frame := replyFrame(HeaderMagic, `{"info":"processed: 1"}`)
	_, err := NewCodec().ReadReply(bytes.NewReader(frame[:len(frame)-3]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadReplyTooLarge(t *testing.T) {
	c := NewCodec()
	c.MaxReplyBytes = 8
	_, err := c.ReadReply(bytes.NewReader(replyFrame(HeaderMagic, `{"info":"0123456789"}`)))
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestDecodeEnvelope(t *testing.T) {
	info, err := DecodeEnvelope([]byte(`{"response":"success","info":"processed: 2; failed: 0; total: 2; seconds spent: 0.1"}`))
	require.NoError(t, err)
	assert.Equal(t, "processed: 2; failed: 0; total: 2; seconds spent: 0.1", info)
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":     "ZBXD garbage",
		"missing info": `{"response":"success"}`,
		"null info":    `{"info":null}`,
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(raw))
			var respErr *InvalidResponseError
			require.True(t, errors.As(err, &respErr), "got %v", err)
			assert.Equal(t, raw, respErr.Raw)
		})
	}
}
