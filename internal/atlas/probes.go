// internal/atlas/probes.go
package atlas

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/signalnine/trapsender/internal/trapper"
)

// Item keys, one set per probe id
const (
	KeyLast           = "probe.last[%s]"
	KeyAlert          = "probe.alert[%s]"
	KeyLastPacketLoss = "probe.last_packet_loss[%s]"
)

// ProbeIDs returns the probe ids of sc in ascending numeric order
func ProbeIDs(sc *StatusCheck) []string {
	ids := make([]string, 0, len(sc.Probes))
	for id := range sc.Probes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
	return ids
}

// Items maps every probe to its last, alert and last_packet_loss items.
// Values a probe has not reported yet are skipped.
func Items(host string, sc *StatusCheck, clock int64) []trapper.Item {
	var items []trapper.Item
	for _, id := range ProbeIDs(sc) {
		p := sc.Probes[id]
		if p.Last != nil {
			items = append(items, trapper.NewItem(host, fmt.Sprintf(KeyLast, id), *p.Last, clock))
		}
		items = append(items, trapper.NewItem(host, fmt.Sprintf(KeyAlert, id), AlertValue(p.Alert), clock))
		if p.LastPacketLoss != nil {
			items = append(items, trapper.NewItem(host, fmt.Sprintf(KeyLastPacketLoss, id), *p.LastPacketLoss, clock))
		}
	}
	return items
}

// AlertValue renders the alert flag as "True" or "False", the text existing
// triggers and value maps on the alert items match against
func AlertValue(alert bool) string {
	if alert {
		return "True"
	}
	return "False"
}

// DiscoveryRows returns one discovery row per probe, keyed by macro
func DiscoveryRows(sc *StatusCheck, macro string) []map[string]string {
	ids := ProbeIDs(sc)
	rows := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, map[string]string{macro: id})
	}
	return rows
}
