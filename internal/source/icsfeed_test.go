package source

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"itevents/internal/config"
)

type pages map[string]string

func (p pages) FetchPage(_ context.Context, url string) ([]byte, error) {
	body, ok := p[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(body), nil
}

var communityFeed = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//gophers//EN",
	"BEGIN:VEVENT",
	"UID:monthly@gophers",
	"DTSTART:20240110T160000Z",
	"RRULE:FREQ=MONTHLY;BYMONTHDAY=10",
	"SUMMARY:Gophers monthly\\, SPb",
	"LOCATION:Санкт-Петербург",
	"URL:https://gophers.example/monthly",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:past@gophers",
	"DTSTART:20240101T160000Z",
	"SUMMARY:Already happened",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func TestICSFeedEmitsNextOccurrences(t *testing.T) {
	t.Parallel()

	feed := NewICSFeed("gophers", "", []string{"https://gophers.example/cal.ics", "https://gophers.example/missing.ics"},
		pages{"https://gophers.example/cal.ics": communityFeed}, 90, pinnedNow, time.UTC)
	require.Equal(t, CategoryCommunities, feed.Category())

	got := feed.Fetch(context.Background())
	require.Len(t, got, 1)
	require.Equal(t, "Gophers monthly, SPb", got[0].Title)
	require.Equal(t, "2024-08-10", got[0].Date)
	require.Equal(t, "Санкт-Петербург", got[0].Location)
	require.Equal(t, "https://gophers.example/monthly", got[0].URL)
	require.Equal(t, "gophers", got[0].Source)
}

func TestBuildAdaptersWiresICSFeeds(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Sources = append(cfg.Sources, config.SourceConfig{ID: "gophers", Category: "communities", Format: FormatICS, URLs: []string{"https://gophers.example/cal.ics"}})
	adapters := BuildAdapters(cfg, Deps{Page: pages{}, Now: pinnedNow, Location: time.UTC})

	var found bool
	for _, a := range adapters {
		if a.Source() == "gophers" {
			_, found = a.(*ICSFeed)
		}
	}
	require.True(t, found)
}
