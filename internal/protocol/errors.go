// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHeader matches any *InvalidHeaderError
	ErrInvalidHeader = errors.New("invalid header during response from server")
	// ErrInvalidResponse matches any *InvalidResponseError
	ErrInvalidResponse = errors.New("invalid response from server")
)

// InvalidHeaderError is returned when a reply does not start with the protocol magic.
// Header holds the bytes actually received.
type InvalidHeaderError struct {
	Header []byte
}

func (e *InvalidHeaderError) Error() string {
	return fmt.Sprintf("%s: got %q", ErrInvalidHeader, e.Header)
}

func (e *InvalidHeaderError) Is(target error) bool {
	return target == ErrInvalidHeader
}

// InvalidResponseError is returned when the reply body cannot be decoded into counts.
// Raw holds the undecoded body for diagnostics.
type InvalidResponseError struct {
	Raw string
	Err error
}

func (e *InvalidResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v (raw=%q)", ErrInvalidResponse, e.Err, e.Raw)
	}
	return fmt.Sprintf("%s (raw=%q)", ErrInvalidResponse, e.Raw)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

func (e *InvalidResponseError) Is(target error) bool {
	return target == ErrInvalidResponse
}
