// internal/trapper/errors.go
package trapper

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches any *TransportError
	ErrTransport = errors.New("error talking to server")
	// ErrTotalSend matches any *TotalSendError
	ErrTotalSend = errors.New("all traps failed to be processed")
	// ErrPartialSend matches any *PartialSendError
	ErrPartialSend = errors.New("some traps failed to be processed")
)

// TransportError wraps a connect, write or read failure of one exchange
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrTransport, e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// TotalSendError reports that the collector rejected every item of an exchange
type TotalSendError struct {
	Response *Response
}

func (e *TotalSendError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTotalSend, e.Response.Raw)
}

func (e *TotalSendError) Is(target error) bool {
	return target == ErrTotalSend
}

// PartialSendError reports that the collector rejected some items of an exchange
type PartialSendError struct {
	Response *Response
}

func (e *PartialSendError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPartialSend, e.Response.Raw)
}

func (e *PartialSendError) Is(target error) bool {
	return target == ErrPartialSend
}
