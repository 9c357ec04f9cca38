// internal/trapper/response.go
package trapper

import (
	"context"
	"errors"
	"fmt"
)

// Response is the decoded acknowledgement of one exchange.
// Items holds the items implicated in a failure; the collector does not say
// which ones it rejected, so for a batch this is the whole chunk.
type Response struct {
	Processed int
	Failed    int
	Total     int
	Seconds   float64
	Raw       string
	Items     []Item

	sender *Sender
}

// RaiseForFailure turns collector-reported failures into an error.
// It returns *TotalSendError when every item was rejected, *PartialSendError
// when some were, and nil when none were.
func (r *Response) RaiseForFailure() error {
	if r.Total > 0 && r.Failed == r.Total {
		return &TotalSendError{Response: r}
	}
	if r.Failed > 0 {
		return &PartialSendError{Response: r}
	}
	return nil
}

// ResendAsSingles sends each attached item again in its own exchange.
// It makes one pass; items that fail again stay failed.
func (r *Response) ResendAsSingles(ctx context.Context) ([]*Response, error) {
	if len(r.Items) == 0 {
		return nil, nil
	}
	if r.sender == nil {
		return nil, errors.New("response has no sender to resend with")
	}

	var results []*Response
	var errs []error
	for _, item := range r.Items {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		resp, err := item.Send(ctx, r.sender)
		if err != nil {
			errs = append(errs, fmt.Errorf("resend %s/%s: %w", item.Host, item.Key, err))
			continue
		}
		results = append(results, resp)
	}
	return results, errors.Join(errs...)
}

func (r *Response) String() string {
	if r.Failed > 0 && len(r.Items) == 1 {
		return fmt.Sprintf("%s %s", r.Raw, r.Items[0])
	}
	return r.Raw
}
