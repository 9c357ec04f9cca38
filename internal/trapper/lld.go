// internal/trapper/lld.go
package trapper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/signalnine/trapsender/internal/protocol"
)

// DefaultKeyTemplate wraps a plain field name in discovery macro syntax
const DefaultKeyTemplate = "{#%s}"

// LLDOptions controls how row keys are rewritten
type LLDOptions struct {
	KeyTemplate string
	FormatKeys  bool
}

// DefaultLLDOptions formats keys as {#NAME}
func DefaultLLDOptions() LLDOptions {
	return LLDOptions{KeyTemplate: DefaultKeyTemplate, FormatKeys: true}
}

// LLD is a low-level discovery record: one item whose value is the JSON
// list of its rows. Not safe for concurrent mutation.
type LLD struct {
	Host  string
	Key   string
	Clock int64
	Rows  []map[string]string

	opts LLDOptions
}

// NewLLD creates an empty discovery record
func NewLLD(host, key string, opts LLDOptions) *LLD {
	if opts.KeyTemplate == "" {
		opts.KeyTemplate = DefaultKeyTemplate
	}
	return &LLD{Host: host, Key: key, opts: opts}
}

// AddRow appends a row, rewriting its keys through the key template when
// formatting is enabled, and stamps the record with the current time.
func (l *LLD) AddRow(row map[string]string) *LLD {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[l.formatKey(k)] = v
	}
	l.Rows = append(l.Rows, out)
	l.Clock = time.Now().Unix()
	return l
}

// AddRows appends rows in order
func (l *LLD) AddRows(rows []map[string]string) *LLD {
	for _, row := range rows {
		l.AddRow(row)
	}
	return l
}

func (l *LLD) formatKey(k string) string {
	if !l.opts.FormatKeys {
		return k
	}
	return fmt.Sprintf(l.opts.KeyTemplate, k)
}

// Value returns the JSON text sent as the item value
func (l *LLD) Value() (string, error) {
	rows := l.Rows
	if rows == nil {
		rows = []map[string]string{}
	}
	b, err := json.Marshal(protocol.DiscoveryValue{Data: rows})
	if err != nil {
		return "", fmt.Errorf("encode discovery rows: %w", err)
	}
	return string(b), nil
}

// Item packages the record as a single item
func (l *LLD) Item() (Item, error) {
	value, err := l.Value()
	if err != nil {
		return Item{}, err
	}
	clock := l.Clock
	if clock == 0 {
		clock = time.Now().Unix()
	}
	return Item{Host: l.Host, Key: l.Key, Value: value, Clock: clock}, nil
}

// Send pushes the whole record in one exchange
func (l *LLD) Send(ctx context.Context, s *Sender) (*Response, error) {
	it, err := l.Item()
	if err != nil {
		return nil, err
	}
	resp, err := s.SendItems(ctx, []Item{it})
	if err != nil {
		return nil, err
	}
	if resp.Failed > 0 {
		s.logger.Error("sending failed", "response", resp.Raw, "host", l.Host, "key", l.Key, "rows", len(l.Rows))
		resp.Items = append(resp.Items, it)
	}
	return resp, nil
}

func (l *LLD) String() string {
	return fmt.Sprintf("%s:%s", l.Host, l.Key)
}
