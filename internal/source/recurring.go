package source

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/teambition/rrule-go"

	appLog "itevents/internal/log"
	"itevents/internal/model"
)

// Recurring is a community event that follows a fixed schedule, described by
// an RRULE body such as "FREQ=MONTHLY;BYDAY=+2TH".
type Recurring struct {
	Template
	Rule string
}

// RecurringGenerator emits the next occurrence of each recurring event within
// the horizon. Only the next one is emitted because later ones share the title
// and would be collapsed by deduplication anyway.
type RecurringGenerator struct {
	id       string
	category string
	items    []Recurring
	horizon  int
	now      func() time.Time
	loc      *time.Location
}

func NewRecurringGenerator(id, category string, items []Recurring, horizonDays int, now func() time.Time, loc *time.Location) *RecurringGenerator {
	if horizonDays <= 0 {
		horizonDays = 365
	}
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RecurringGenerator{id: id, category: category, items: items, horizon: horizonDays, now: now, loc: loc}
}

func (g *RecurringGenerator) Source() string   { return g.id }
func (g *RecurringGenerator) Category() string { return g.category }

func (g *RecurringGenerator) Fetch(ctx context.Context) []model.PartialEvent {
	today := civil.DateOf(g.now().In(g.loc))
	from := today.AddDays(1).In(g.loc)
	until := today.AddDays(g.horizon).In(g.loc)

	var out []model.PartialEvent
	for _, it := range g.items {
		if ctx.Err() != nil {
			break
		}
		next, ok := nextOccurrence(it.Rule, today.In(g.loc), from)
		if !ok {
			appLog.Error("recurring rule unusable", nil, "source", g.id, "title", it.Title, "rule", it.Rule)
			continue
		}
		if next.After(until) {
			continue
		}
		out = append(out, it.partial(g.id, civil.DateOf(next)))
	}
	return out
}

// nextOccurrence returns the first occurrence of rule at or after from.
func nextOccurrence(rule string, dtstart, from time.Time) (time.Time, bool) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return time.Time{}, false
	}
	r.DTStart(dtstart)
	next := r.After(from, true)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
