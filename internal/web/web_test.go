package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"itevents/internal/clock"
	"itevents/internal/config"
	"itevents/internal/model"
	"itevents/internal/rank"
)

type staticCorpus struct{ c model.Corpus }

func (s *staticCorpus) Corpus() model.Corpus { return s.c }

type users int

func (u users) Count() int { return int(u) }

type queue map[model.UserID]int

func (q queue) QueueSizes() map[model.UserID]int { return q }

func event(title string, d civil.Date, source string, typ model.EventType) model.Event {
	return model.Event{
		Title:    title,
		Date:     d,
		Locality: model.LocalityOther,
		Type:     typ,
		Themes:   []model.Theme{model.ThemeDev},
		Source:   source,
	}
}

func newTestServer(auth *config.BasicAuthConfig) (*Server, *staticCorpus) {
	clk := clock.NewFake(time.Date(2024, time.August, 10, 12, 0, 0, 0, time.UTC))
	corpus := &staticCorpus{c: model.Corpus{
		Metadata: model.CorpusMetadata{UpdatedAt: time.Date(2024, time.August, 10, 6, 0, 0, 0, time.UTC), Count: 3},
		Events: []model.Event{
			event("Autumn Conference", civil.Date{Year: 2024, Month: time.October, Day: 1}, "a", model.TypeConference),
			event("Next Week Meetup", civil.Date{Year: 2024, Month: time.August, Day: 15}, "a", model.TypeMeetup),
			event("Last Year Forum", civil.Date{Year: 2023, Month: time.May, Day: 1}, "b", model.TypeForum),
		},
	}}
	s := NewServer(Options{
		Corpus:    corpus,
		Filter:    rank.Filter{Now: clk.Now, Location: time.UTC},
		Users:     users(4),
		Queue:     queue{10: 2, 11: 1},
		BasicAuth: auth,
	})
	return s, corpus
}

func get(t *testing.T, h http.Handler, target string, auth ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(nil)
	rec := get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestEventsRankedAndLimited(t *testing.T) {
	s, _ := newTestServer(nil)

	rec := get(t, s.Handler(), "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	require.Len(t, resp.Events, 2)
	require.Equal(t, "Next Week Meetup", resp.Events[0].Title)
	require.Equal(t, 1, resp.Rejected[rank.RejectPast])
	require.Greater(t, resp.Events[0].PriorityScore, 0.0)

	rec = get(t, s.Handler(), "/api/events?limit=1")
	resp = eventsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	require.Len(t, resp.Events, 1)
}

func TestEventsCacheFollowsCorpus(t *testing.T) {
	s, corpus := newTestServer(nil)
	get(t, s.Handler(), "/api/events")

	corpus.c.Events = corpus.c.Events[:1]
	corpus.c.Metadata.UpdatedAt = corpus.c.Metadata.UpdatedAt.Add(time.Hour)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal(get(t, s.Handler(), "/api/events").Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	require.Equal(t, "Autumn Conference", resp.Events[0].Title)
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(nil)
	rec := get(t, s.Handler(), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events   int `json:"events"`
		BySource []struct {
			Key string `json:"key"`
			N   int    `json:"n"`
		} `json:"by_source"`
		Users  int `json:"users"`
		Queued int `json:"queued_notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Events)
	require.Equal(t, "a", resp.BySource[0].Key)
	require.Equal(t, 2, resp.BySource[0].N)
	require.Equal(t, 4, resp.Users)
	require.Equal(t, 3, resp.Queued)
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(&config.BasicAuthConfig{Username: "ops", Password: "pw"})
	h := s.Handler()

	require.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	rec := get(t, h, "/api/stats")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	require.Equal(t, http.StatusUnauthorized, get(t, h, "/api/stats", "ops", "nope").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/api/stats", "ops", "pw").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
