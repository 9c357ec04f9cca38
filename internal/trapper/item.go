// internal/trapper/item.go
package trapper

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/signalnine/trapsender/internal/protocol"
)

// Item is one timestamped value for one host/key pair
type Item struct {
	Host  string
	Key   string
	Value string
	Clock int64
}

// NewItem creates an item, formatting value as the collector expects.
// A zero clock means now.
func NewItem(host, key string, value any, clock int64) Item {
	if clock == 0 {
		clock = time.Now().Unix()
	}
	return Item{Host: host, Key: key, Value: FormatValue(value), Clock: clock}
}

// FormatValue renders a measurement as the string sent on the wire
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Send pushes the item alone. When the collector rejects it, the item is
// attached to the response and logged; the caller decides whether to escalate.
func (it Item) Send(ctx context.Context, s *Sender) (*Response, error) {
	resp, err := s.SendItems(ctx, []Item{it})
	if err != nil {
		return nil, err
	}
	if resp.Failed > 0 {
		s.logger.Error("item failed", "response", resp.Raw, "host", it.Host, "key", it.Key, "value", it.Value, "clock", it.Clock)
		resp.Items = append(resp.Items, it)
	}
	return resp, nil
}

func (it Item) String() string {
	return fmt.Sprintf("%s:%s=%q@%d", it.Host, it.Key, it.Value, it.Clock)
}

func (it Item) data(now func() time.Time) protocol.ItemData {
	clock := it.Clock
	if clock == 0 {
		clock = now().Unix()
	}
	return protocol.ItemData{Host: it.Host, Key: it.Key, Value: it.Value, Clock: clock}
}
