package bridge

import (
	"sort"
	"strings"

	"broadcastnet/internal/aio"
	"broadcastnet/internal/measurement"
)

// Tracker remembers the last sequence number seen from every sender and
// derives how many broadcasts were missed in between. Not safe for
// concurrent use; it is owned by the bridge loop.
type Tracker struct {
	last map[measurement.Address]uint8
}

func NewTracker() *Tracker {
	return &Tracker{last: make(map[measurement.Address]uint8)}
}

// Observe records seq for addr and returns the number of broadcasts missed
// since the previous observation. The first observation of a sender always
// yields 0. More than 255 consecutive losses are undercounted.
func (t *Tracker) Observe(addr measurement.Address, seq uint8) uint8 {
	last, ok := t.last[addr]
	if !ok {
		last = seq - 1
	}
	t.last[addr] = seq
	return seq - last - 1
}

// Last returns the last sequence number seen from addr.
func (t *Tracker) Last(addr measurement.Address) (uint8, bool) {
	seq, ok := t.last[addr]
	return seq, ok
}

// Registry is the set of feeds known to exist remotely, per sender. A sender
// present in the registry has its group. Entries only ever grow.
type Registry struct {
	feeds map[measurement.Address]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{feeds: make(map[measurement.Address]map[string]struct{})}
}

func (r *Registry) HasGroup(addr measurement.Address) bool {
	_, ok := r.feeds[addr]
	return ok
}

func (r *Registry) AddGroup(addr measurement.Address) {
	if _, ok := r.feeds[addr]; !ok {
		r.feeds[addr] = make(map[string]struct{})
	}
}

func (r *Registry) Has(addr measurement.Address, key string) bool {
	_, ok := r.feeds[addr][key]
	return ok
}

func (r *Registry) Add(addr measurement.Address, key string) {
	r.AddGroup(addr)
	r.feeds[addr][key] = struct{}{}
}

// Feeds returns the sorted feed keys of addr.
func (r *Registry) Feeds(addr measurement.Address) []string {
	set := r.feeds[addr]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of senders with a group.
func (r *Registry) Len() int {
	return len(r.feeds)
}

// Restore adopts the groups this bridge created earlier. Group keys look like
// "bridge-<bridge>-sensor-<sender>" and feed keys like "<group>.<feed>".
// Groups of other bridges or with a malformed sender are ignored.
func (r *Registry) Restore(bridgeAddr string, groups []aio.Group) int {
	prefix := groupKeyPrefix(bridgeAddr)
	n := 0
	for _, g := range groups {
		if !strings.HasPrefix(g.Key, prefix) {
			continue
		}
		addr, err := measurement.ParseAddress(strings.TrimPrefix(g.Key, prefix))
		if err != nil {
			continue
		}
		r.AddGroup(addr)
		for _, f := range g.Feeds {
			key := f.Key
			if i := strings.LastIndex(key, "."); i >= 0 {
				key = key[i+1:]
			}
			r.Add(addr, key)
		}
		n++
	}
	return n
}

func groupKeyPrefix(bridgeAddr string) string {
	return "bridge-" + bridgeAddr + "-sensor-"
}

// GroupKey is the remote group key of a sender as seen by this bridge.
func GroupKey(bridgeAddr string, sender measurement.Address) string {
	return groupKeyPrefix(bridgeAddr) + sender.String()
}

// GroupName is the display name the group key is derived from.
func GroupName(bridgeAddr string, sender measurement.Address) string {
	return "Bridge " + bridgeAddr + " Sensor " + sender.String()
}

func feedName(key string) string {
	if key == measurement.MissedMessageCountKey {
		return "Missed Message Count"
	}
	return key
}
