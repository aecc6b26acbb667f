package normalize

import (
	"unicode/utf8"

	"itevents/internal/model"
)

// MinKeyLen is the shortest canonical key accepted; shorter titles are noise.
const MinKeyLen = 10

// Deduplicator is an order-preserving set keyed by canonical title. The first
// occurrence of a key wins. It is not safe for concurrent use.
type Deduplicator struct {
	seen   map[string]struct{}
	events []model.Event
	noise  int
	dups   int
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Add offers e and reports whether it was kept.
func (d *Deduplicator) Add(e model.Event) bool {
	key := model.CanonicalTitle(e.Title)
	if utf8.RuneCountInString(key) < MinKeyLen {
		d.noise++
		return false
	}
	if _, ok := d.seen[key]; ok {
		d.dups++
		return false
	}
	d.seen[key] = struct{}{}
	d.events = append(d.events, e)
	return true
}

// Events returns the kept events in first-seen order.
func (d *Deduplicator) Events() []model.Event {
	out := make([]model.Event, len(d.events))
	copy(out, d.events)
	return out
}

// Dropped reports how many records were discarded as noise or duplicates.
func (d *Deduplicator) Dropped() (noise, duplicates int) {
	return d.noise, d.dups
}

// Dedup collapses duplicates in one pass.
func Dedup(events []model.Event) []model.Event {
	d := NewDeduplicator()
	for _, e := range events {
		d.Add(e)
	}
	return d.Events()
}
