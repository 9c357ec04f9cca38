// internal/trapper/host.go
package trapper

import "context"

// Host collects items for one monitored host name
type Host struct {
	Name  string
	items *Items
}

// NewHost binds a host name to a new batch on s
func NewHost(s *Sender, name string) *Host {
	return &Host{Name: name, items: NewItems(s)}
}

// AddItem adds a value for key on this host. A zero clock means now.
func (h *Host) AddItem(key string, value any, clock int64) *Host {
	h.items.AddItem(NewItem(h.Name, key, value, clock))
	return h
}

// Items returns the underlying batch
func (h *Host) Items() *Items {
	return h.items
}

// Send sends the accumulated items, chunked
func (h *Host) Send(ctx context.Context) ([]*Response, error) {
	return h.items.Send(ctx)
}
