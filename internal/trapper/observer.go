// internal/trapper/observer.go
package trapper

import (
	"context"
	"time"
)

// Exchange describes one finished round trip, successful or not
type Exchange struct {
	ID       string
	At       time.Time
	Addr     string
	Items    int
	Duration time.Duration
	Response *Response // nil when Err is set
	Err      error
}

// Observer is notified after every exchange a Sender performs.
// Implementations must not block for long; they run on the sending goroutine.
type Observer interface {
	ObserveExchange(ctx context.Context, ex Exchange)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, ex Exchange)

func (f ObserverFunc) ObserveExchange(ctx context.Context, ex Exchange) {
	f(ctx, ex)
}
