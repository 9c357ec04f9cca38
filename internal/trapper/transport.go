// internal/trapper/transport.go
package trapper

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/signalnine/trapsender/internal/protocol"
)

// DefaultTimeout bounds connect, write and read of a single exchange
const DefaultTimeout = 60 * time.Second

// Transport performs one synchronous request/response round trip per call.
// Connections are never pooled or reused.
type Transport struct {
	Timeout time.Duration
	Codec   *protocol.Codec
}

// NewTransport creates a transport with the given timeout and codec
func NewTransport(timeout time.Duration, codec *protocol.Codec) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if codec == nil {
		codec = protocol.NewCodec()
	}
	return &Transport{Timeout: timeout, Codec: codec}
}

// Exchange dials addr, writes frame and returns the reply body.
// Framing errors (*protocol.InvalidHeaderError, *protocol.InvalidResponseError)
// are returned as is; everything else is wrapped in *TransportError.
func (t *Transport) Exchange(ctx context.Context, addr string, frame []byte) ([]byte, error) {
	deadline := time.Now().Add(t.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := &net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Addr: addr, Err: err}
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, &TransportError{Op: "set deadline", Addr: addr, Err: err}
	}

	// Unblock the read if ctx is cancelled before the deadline
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := conn.Write(frame); err != nil {
		return nil, &TransportError{Op: "write", Addr: addr, Err: ctxErr(ctx, err)}
	}

	body, err := t.Codec.ReadReply(conn)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidHeader) || errors.Is(err, protocol.ErrInvalidResponse) {
			return nil, err
		}
		return nil, &TransportError{Op: "read", Addr: addr, Err: ctxErr(ctx, err)}
	}
	return body, nil
}

// ctxErr prefers the context's error over the i/o timeout it caused
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}
