// internal/trapper/items.go
package trapper

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Items accumulates items and sends them in chunks of at most
// Sender.MaxItems per exchange. Not safe for concurrent mutation.
type Items struct {
	sender *Sender
	items  []Item
}

// NewItems creates an empty batch bound to s
func NewItems(s *Sender) *Items {
	return &Items{sender: s}
}

// AddItem appends one item
func (b *Items) AddItem(it Item) *Items {
	b.items = append(b.items, it)
	return b
}

// AddItems appends items in order
func (b *Items) AddItems(items []Item) *Items {
	b.items = append(b.items, items...)
	return b
}

// Len returns the number of accumulated items
func (b *Items) Len() int {
	return len(b.items)
}

// All returns the accumulated items
func (b *Items) All() []Item {
	return b.items
}

// Chunks partitions the items into consecutive slices of at most MaxItems.
// Concatenating the chunks gives back the original order.
func (b *Items) Chunks() [][]Item {
	size := b.sender.MaxItems()
	var chunks [][]Item
	for i := 0; i < len(b.items); i += size {
		end := min(i+size, len(b.items))
		chunks = append(chunks, b.items[i:end:end])
	}
	return chunks
}

// Send sends every chunk in order, one exchange each. A chunk the collector
// partly or fully rejects gets its items attached and does not stop later
// chunks. A transport or framing error stops the loop; the responses
// gathered so far are returned along with it.
func (b *Items) Send(ctx context.Context) ([]*Response, error) {
	chunks := b.Chunks()
	results := make([]*Response, 0, len(chunks))
	for i, chunk := range chunks {
		resp, err := b.sendChunk(ctx, chunk)
		if err != nil {
			return results, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		results = append(results, resp)
	}
	return results, nil
}

// SendConcurrent sends chunks in parallel, at most limit at a time (limit <= 0
// means unbounded). Results keep chunk order; a chunk whose exchange failed
// has a nil entry and its error is joined into the returned error.
func (b *Items) SendConcurrent(ctx context.Context, limit int) ([]*Response, error) {
	chunks := b.Chunks()
	results := make([]*Response, len(chunks))
	errs := make([]error, len(chunks))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			resp, err := b.sendChunk(ctx, chunk)
			if err != nil {
				errs[i] = fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
				return nil
			}
			results[i] = resp
			return nil
		})
	}
	g.Wait()
	return results, errors.Join(errs...)
}

func (b *Items) sendChunk(ctx context.Context, chunk []Item) (*Response, error) {
	resp, err := b.sender.SendItems(ctx, chunk)
	if err != nil {
		return nil, err
	}
	if resp.Failed > 0 {
		resp.Items = chunk
	}
	return resp, nil
}
