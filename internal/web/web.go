package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"itevents/internal/acquire"
	"itevents/internal/config"
	appLog "itevents/internal/log"
	"itevents/internal/model"
	"itevents/internal/rank"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Corpus is the read side of the acquisition orchestrator.
type Corpus interface {
	Corpus() model.Corpus
}

// UserCounter reports directory size.
type UserCounter interface {
	Count() int
}

// QueueReporter reports deferred manager notifications.
type QueueReporter interface {
	QueueSizes() map[model.UserID]int
}

// Options wires a Server. Users and Queue may be nil.
type Options struct {
	Corpus        Corpus
	Filter        rank.Filter
	MaxFutureDays int
	MinAudience   int
	Users         UserCounter
	Queue         QueueReporter
	BasicAuth     *config.BasicAuthConfig
}

// Server exposes read-only diagnostics over HTTP: /health, /api/events and
// /api/stats.
type Server struct {
	opts Options
	mux  *http.ServeMux

	// Ranking depends only on the corpus snapshot and the current date, so
	// the last result is reused until either changes.
	eventsMu    sync.Mutex
	eventsCache *eventsCache
}

type eventsCache struct {
	updatedAt time.Time
	today     civil.Date
	result    rank.Result
}

func NewServer(opts Options) *Server {
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	a := s.opts.BasicAuth
	return a != nil && a.Username != "" && a.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="itevents", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/stats", s.handleStats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	UpdatedAt time.Time      `json:"updated_at"`
	Total     int            `json:"total"`
	Events    []model.Event  `json:"events"`
	Rejected  map[string]int `json:"rejected,omitempty"`
}

// handleEvents returns the corpus ranked for an anonymous profile.
//
// GET /api/events?limit=50
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	c := s.opts.Corpus.Corpus()
	res := s.ranked(c)
	events := res.Events
	if len(events) > limit {
		events = events[:limit]
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		UpdatedAt: c.Metadata.UpdatedAt,
		Total:     len(res.Events),
		Events:    events,
		Rejected:  res.Rejected,
	})
}

func (s *Server) ranked(c model.Corpus) rank.Result {
	today := s.opts.Filter.Today()

	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if ec := s.eventsCache; ec != nil && ec.updatedAt.Equal(c.Metadata.UpdatedAt) && ec.today == today {
		return ec.result
	}
	crit := rank.CriteriaFor(nil, s.opts.MaxFutureDays, s.opts.MinAudience)
	res := rank.Apply(c.Events, crit, nil, today)
	s.eventsCache = &eventsCache{updatedAt: c.Metadata.UpdatedAt, today: today, result: res}
	return res
}

// statsResponse is the JSON response shape for /api/stats.
type statsResponse struct {
	UpdatedAt   time.Time       `json:"updated_at"`
	Events      int             `json:"events"`
	BySource    []acquire.Count `json:"by_source"`
	ByType      []acquire.Count `json:"by_type"`
	Users       *int            `json:"users,omitempty"`
	QueuedNotes *int            `json:"queued_notifications,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	c := s.opts.Corpus.Corpus()
	resp := statsResponse{
		UpdatedAt: c.Metadata.UpdatedAt,
		Events:    len(c.Events),
		BySource:  acquire.SourceCounts(c.Events),
		ByType:    acquire.TypeCounts(c.Events),
	}
	if s.opts.Users != nil {
		n := s.opts.Users.Count()
		resp.Users = &n
	}
	if s.opts.Queue != nil {
		n := 0
		for _, v := range s.opts.Queue.QueueSizes() {
			n += v
		}
		resp.QueuedNotes = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
