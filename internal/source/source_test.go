package source

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itevents/internal/config"
	"itevents/internal/model"
)

var pinned = time.Date(2024, 8, 10, 12, 0, 0, 0, time.UTC)

func pinnedNow() time.Time { return pinned }

const listingHTML = `<html><body>
<div class="events">
  <article class="event">
    <h3 class="title">  Go Meetup
      SPb #42 </h3>
    <time datetime="2024-09-12T19:00:00+03:00">12 сентября</time>
    <span class="location">Санкт-Петербург</span>
    <a href="/events/go-42">Подробнее</a>
  </article>
  <article class="event">
    <h3 class="title">Data Science Breakfast</h3>
    <span class="date">Когда: 05.10.2024</span>
    <a href="https://other.example/ds">link</a>
  </article>
  <article class="event"></article>
</div>
</body></html>`

func TestListingScraperExtractsCards(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, listingHTML)
	}))
	t.Cleanup(srv.Close)

	s := NewListingScraper("test", "", []string{srv.URL + "/list"}, Selectors{}, NewHTTPFetcher(time.Second, "test-agent", ""))
	require.Equal(t, CategoryAggregators, s.Category())

	got := s.Fetch(context.Background())
	require.Len(t, got, 2)

	assert.Equal(t, "Go Meetup SPb #42", got[0].Title)
	assert.Equal(t, "2024-09-12", got[0].Date)
	assert.Equal(t, "Санкт-Петербург", got[0].Location)
	assert.Equal(t, srv.URL+"/events/go-42", got[0].URL)
	assert.Equal(t, "test", got[0].Source)

	assert.Equal(t, "Data Science Breakfast", got[1].Title)
	assert.Equal(t, "05.10.2024", got[1].Date)
	assert.Equal(t, "https://other.example/ds", got[1].URL)
}

func TestListingScraperBoundsCardsPerURL(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, `<article><h2>Conference number %d</h2></article>`, i)
	}
	b.WriteString("</body></html>")
	page := b.String()

	s := NewListingScraper("many", "x", []string{"https://a.example/"}, Selectors{}, staticFetcher(page))
	require.Len(t, s.Fetch(context.Background()), MaxCardsPerURL)
}

type staticFetcher string

func (s staticFetcher) FetchPage(context.Context, string) ([]byte, error) { return []byte(s), nil }

type failingFetcher struct{}

func (failingFetcher) FetchPage(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("connection refused")
}

func TestListingScraperSwallowsFailures(t *testing.T) {
	t.Parallel()

	s := NewListingScraper("down", "x", []string{"https://down.example/"}, Selectors{}, failingFetcher{})
	require.Empty(t, s.Fetch(context.Background()))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	s = NewListingScraper("bad", "x", []string{srv.URL}, Selectors{}, NewHTTPFetcher(time.Second, "", ""))
	require.Empty(t, s.Fetch(context.Background()))
}

func TestHTTPFetcherConditionalCache(t *testing.T) {
	t.Parallel()

	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, "<html>cached</html>")
	}))
	t.Cleanup(srv.Close)

	f := NewHTTPFetcher(time.Second, "", t.TempDir())
	body, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "<html>cached</html>", string(body))

	body, err = f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "<html>cached</html>", string(body))
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, int32(1), notModified.Load())
}

func TestTemplateGeneratorIsSeeded(t *testing.T) {
	t.Parallel()

	templates := []Template{{Title: "Yandex Cloud Conf {year}", Type: "conference"}, {Title: "Sber Tech Talks"}}
	gen := func() []model.PartialEvent {
		g := NewTemplateGenerator("company-x", CategoryCompanies, templates, rand.New(rand.NewSource(99)), pinnedNow, time.UTC)
		return g.Fetch(context.Background())
	}
	a, b := gen(), gen()
	require.Equal(t, a, b)
	require.Len(t, a, 2)

	today := civil.DateOf(pinned)
	for _, p := range a {
		d, err := civil.ParseDate(p.Date)
		require.NoError(t, err)
		days := d.DaysSince(today)
		require.GreaterOrEqual(t, days, 1)
		require.LessOrEqual(t, days, 365)
		require.Equal(t, "company-x", p.Source)
	}
	require.NotContains(t, a[0].Title, "{year}")
}

func TestRecurringGeneratorNextOccurrence(t *testing.T) {
	t.Parallel()

	items := []Recurring{
		{Rule: "FREQ=MONTHLY;BYDAY=+2TH", Template: Template{Title: "Go SPb Community Meetup"}},
		{Rule: "NOT A RULE", Template: Template{Title: "Broken schedule meetup"}},
	}
	g := NewRecurringGenerator("communities", CategoryCommunities, items, 365, pinnedNow, time.UTC)
	got := g.Fetch(context.Background())
	require.Len(t, got, 1)
	// 2024-08-10 is a Saturday; the second Thursday of September is the 12th.
	require.Equal(t, "2024-09-12", got[0].Date)
}

func TestCuratedRollsToNextYear(t *testing.T) {
	t.Parallel()

	c := NewCurated([]Annual{
		{Month: time.November, Day: 20, Template: Template{Title: "AI Journey {year}"}},
		{Month: time.March, Day: 1, Template: Template{Title: "Spring Conf {year}"}},
		{Month: time.August, Day: 10, Template: Template{Title: "Today Conf {year}"}},
	}, pinnedNow, time.UTC)
	got := c.Fetch(context.Background())
	require.Len(t, got, 3)
	require.Equal(t, "AI Journey 2024", got[0].Title)
	require.Equal(t, "2024-11-20", got[0].Date)
	require.Equal(t, "2025-03-01", got[1].Date)
	require.Equal(t, "2025-08-10", got[2].Date)
	require.GreaterOrEqual(t, len(CuratedBase), 15)
}

func TestBuildAdapters(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	adapters := BuildAdapters(cfg, Deps{Page: failingFetcher{}, Rand: rand.New(rand.NewSource(1)), Now: pinnedNow, Location: time.UTC})

	ids := make(map[string]string)
	for _, a := range adapters {
		ids[a.Source()] = a.Category()
	}
	require.Equal(t, "aggregators", ids["it-events"])
	require.Equal(t, "ticketing", ids["timepad"])
	require.Equal(t, CategoryCompanies, ids["company-yandex"])
	require.Equal(t, CategoryCommunities, ids["communities"])
	require.Equal(t, CategoryCurated, ids["curated"])
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://habr.com/...(redacted)", redactURL("https://habr.com/ru/events/?token=x"))
	require.Equal(t, "page://...(redacted)", redactURL("not a url"))
}
