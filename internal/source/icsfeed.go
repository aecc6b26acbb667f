package source

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"itevents/internal/ics"
	appLog "itevents/internal/log"
	"itevents/internal/model"
)

// Source formats accepted in configuration.
const (
	FormatHTML = "html"
	FormatICS  = "ics"
)

// ICSFeed reads events from published iCalendar feeds. Each VEVENT yields
// its next occurrence inside the horizon.
type ICSFeed struct {
	id       string
	category string
	urls     []string
	fetcher  PageFetcher
	horizon  int
	now      func() time.Time
	loc      *time.Location
}

func NewICSFeed(id, category string, urls []string, fetcher PageFetcher, horizonDays int, now func() time.Time, loc *time.Location) *ICSFeed {
	if category == "" {
		category = CategoryCommunities
	}
	if horizonDays <= 0 {
		horizonDays = 365
	}
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ICSFeed{id: id, category: category, urls: urls, fetcher: fetcher, horizon: horizonDays, now: now, loc: loc}
}

func (f *ICSFeed) Source() string   { return f.id }
func (f *ICSFeed) Category() string { return f.category }

func (f *ICSFeed) Fetch(ctx context.Context) []model.PartialEvent {
	today := civil.DateOf(f.now().In(f.loc))
	from := today.In(f.loc)
	until := today.AddDays(f.horizon + 1).In(f.loc).Add(-time.Nanosecond)

	var out []model.PartialEvent
	for _, u := range f.urls {
		if ctx.Err() != nil {
			break
		}
		body, err := f.fetcher.FetchPage(ctx, u)
		if err != nil {
			appLog.Error("ics feed fetch failed", err, "source", f.id, "url", redactURL(u))
			continue
		}
		entries, err := ics.Parse(body, f.loc)
		if err != nil {
			appLog.Error("ics feed parse failed", err, "source", f.id, "url", redactURL(u))
			continue
		}
		n := 0
		for _, e := range entries {
			if n >= MaxCardsPerURL {
				break
			}
			start, ok := ics.NextOccurrence(e, from, until)
			if !ok || e.Summary == "" {
				continue
			}
			out = append(out, model.PartialEvent{
				Title:       e.Summary,
				Date:        civil.DateOf(start.In(f.loc)).String(),
				Location:    e.Location,
				Description: e.Description,
				URL:         e.URL,
				Source:      f.id,
			})
			n++
		}
		appLog.Debug("ics feed parsed", "source", f.id, "url", redactURL(u), "entries", len(entries), "emitted", n)
	}
	return out
}
