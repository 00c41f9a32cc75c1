package feed

import (
	"sort"
	"time"

	"github.com/ptgott/one-calendar/storage"
)

// eventCache holds the events of one feed, keyed by ID and kept sorted by the
// storage key each event lives under.
type eventCache struct {
	prefix storage.Key
	order  *keyOrdering
	events map[string]Event
	sorted []string
}

func newEventCache(prefix storage.Key, order *keyOrdering) *eventCache {
	return &eventCache{
		prefix: prefix,
		order:  order,
		events: make(map[string]Event),
	}
}

// less orders IDs by their full keys. IDs that collate equally fall back to
// byte order so that the order is total.
func (c *eventCache) less(a, b string) bool {
	if n := c.order.compare(c.prefix.Append(a), c.prefix.Append(b)); n != 0 {
		return n < 0
	}
	return a < b
}

// upsert stores e, replacing any event with the same ID.
func (c *eventCache) upsert(e Event) {
	if _, ok := c.events[e.ID]; ok {
		c.events[e.ID] = e
		return
	}
	c.events[e.ID] = e
	i := sort.Search(len(c.sorted), func(i int) bool {
		return !c.less(c.sorted[i], e.ID)
	})
	c.sorted = append(c.sorted, "")
	copy(c.sorted[i+1:], c.sorted[i:])
	c.sorted[i] = e.ID
}

// remove drops the event with the given ID and reports whether it was there.
func (c *eventCache) remove(id string) bool {
	if _, ok := c.events[id]; !ok {
		return false
	}
	delete(c.events, id)
	i := sort.Search(len(c.sorted), func(i int) bool {
		return !c.less(c.sorted[i], id)
	})
	// The ID is in sorted, so Search lands on it
	c.sorted = append(c.sorted[:i], c.sorted[i+1:]...)
	return true
}

func (c *eventCache) get(id string) (Event, bool) {
	e, ok := c.events[id]
	if !ok {
		return Event{}, false
	}
	return e.Clone(), true
}

func (c *eventCache) has(id string) bool {
	_, ok := c.events[id]
	return ok
}

func (c *eventCache) len() int {
	return len(c.sorted)
}

// ids returns the cached IDs in order.
func (c *eventCache) ids() []string {
	return append([]string(nil), c.sorted...)
}

// snapshot returns copies of the cached events in order.
func (c *eventCache) snapshot() []Event {
	out := make([]Event, len(c.sorted))
	for i, id := range c.sorted {
		out[i] = c.events[id].Clone()
	}
	return out
}

// applyExpiry drops every event that isn't live at now and returns how many
// were dropped. Nothing is deleted from storage.
func (c *eventCache) applyExpiry(now time.Time) int {
	kept := c.sorted[:0]
	for _, id := range c.sorted {
		if IsLive(c.events[id], now) {
			kept = append(kept, id)
			continue
		}
		delete(c.events, id)
	}
	n := len(c.sorted) - len(kept)
	// Clear the tail so dropped IDs can be collected
	for i := len(kept); i < len(c.sorted); i++ {
		c.sorted[i] = ""
	}
	c.sorted = kept
	return n
}
