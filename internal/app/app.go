// Package app assembles the runtime from configuration: stores, the event
// pipeline, the directory, approvals and the schedules that drive them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"itevents/internal/acquire"
	"itevents/internal/approval"
	"itevents/internal/bot"
	"itevents/internal/clock"
	"itevents/internal/config"
	"itevents/internal/directory"
	"itevents/internal/ics"
	appLog "itevents/internal/log"
	"itevents/internal/model"
	"itevents/internal/normalize"
	"itevents/internal/rank"
	"itevents/internal/source"
	"itevents/internal/store"
	"itevents/internal/telegram"
	"itevents/internal/web"
)

// Options override process-level inputs, mainly for tests.
type Options struct {
	Now  func() time.Time
	Seed int64
	// Transport delivers chat messages. Without one, manager notifications
	// stay queued.
	Transport bot.Transport
	// Adapters replaces the configured source set.
	Adapters []source.Adapter
}

// App is the wired runtime.
type App struct {
	Config   *config.Config
	Location *time.Location
	Now      func() time.Time

	Docs      store.Documents
	Events    *acquire.Orchestrator
	Users     *directory.Directory
	Approvals *approval.Service
	Filter    rank.Filter
	Calendar  ics.ExportOptions

	transport *lateTransport
	closer    io.Closer
}

// New builds every component and restores persisted state.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	cfg.Normalize()
	// An unloadable timezone keeps the bot up: dates fall back to UTC and the
	// work window never opens, so manager notifications queue.
	loc, err := cfg.Location()
	windowLoc := loc
	if err != nil {
		appLog.Error("timezone not loadable, holding manager notifications", err, "timezone", cfg.Timezone)
		loc, windowLoc = time.UTC, nil
	}
	now := opts.Now
	if now == nil {
		now = clock.NowFunc(clock.Real{})
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	docs, closer, err := OpenStore(ctx, cfg, now)
	if err != nil {
		return nil, err
	}

	adapters := opts.Adapters
	if adapters == nil {
		timeout := cfg.AdapterTimeoutDuration()
		adapters = source.BuildAdapters(cfg, source.Deps{
			Page:     source.NewHTTPFetcher(timeout, cfg.UserAgent, filepath.Join(cfg.DataDir, "page-cache")),
			Rendered: source.NewRenderedFetcher(timeout),
			Rand:     rand.New(rand.NewSource(seed + 1)),
			Now:      now,
			Location: loc,
		})
	}
	lo, hi := cfg.Politeness()
	events := acquire.New(adapters, normalize.New(now, loc, rand.New(rand.NewSource(seed+2))), docs, acquire.Options{
		Parallelism:    cfg.AcquisitionParallelism,
		AdapterTimeout: cfg.AdapterTimeoutDuration(),
		PolitenessMin:  lo,
		PolitenessMax:  hi,
		Rand:           rand.New(rand.NewSource(seed + 3)),
		Now:            now,
	})

	window, err := workWindow(cfg, windowLoc)
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}

	lt := &lateTransport{}
	if opts.Transport != nil {
		lt.set(opts.Transport)
	}
	users := directory.New(docs, directory.Secrets{Manager: cfg.ManagerSecret, Admin: cfg.AdminSecret}, now)
	approvals := approval.NewService(users, bot.Notifier{Transport: lt}, docs, window, now)

	for _, l := range []interface{ Load(context.Context) error }{events, users, approvals} {
		if err := l.Load(ctx); err != nil {
			closeQuietly(closer)
			return nil, err
		}
	}

	h, m := cfg.DefaultEventClock()
	a := &App{
		Config:    cfg,
		Location:  loc,
		Now:       now,
		Docs:      docs,
		Events:    events,
		Users:     users,
		Approvals: approvals,
		Filter:    rank.Filter{Now: now, Location: loc},
		Calendar:  ics.ExportOptions{Location: loc, Hour: h, Minute: m, Duration: cfg.EventDuration(), Now: now},
		transport: lt,
		closer:    closer,
	}
	appLog.Info("runtime ready",
		"store_backend", cfg.StoreBackend,
		"adapters", len(adapters),
		"events", len(events.Corpus().Events),
		"users", users.Count(),
		"has_admin", users.HasAdmin(),
	)
	return a, nil
}

// OpenStore opens the configured document backend under DataDir.
func OpenStore(ctx context.Context, cfg *config.Config, now func() time.Time) (store.Documents, io.Closer, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, err
		}
		s, err := store.OpenSQLite(ctx, filepath.Join(cfg.DataDir, "itevents.db"), now)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		return store.NewMemory(), nil, nil
	default:
		s, err := store.NewFileStore(filepath.Join(cfg.DataDir, "documents"), now)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

func workWindow(cfg *config.Config, loc *time.Location) (approval.WorkWindow, error) {
	start, err := config.ParseClock(cfg.WorkHours.Start)
	if err != nil {
		return approval.WorkWindow{}, fmt.Errorf("work_hours.start: %w", err)
	}
	end, err := config.ParseClock(cfg.WorkHours.End)
	if err != nil {
		return approval.WorkWindow{}, fmt.Errorf("work_hours.end: %w", err)
	}
	days, err := cfg.Weekdays()
	if err != nil {
		return approval.WorkWindow{}, fmt.Errorf("work_hours.weekdays: %w", err)
	}
	return approval.NewWorkWindow(
		int(start/time.Hour), int(start%time.Hour/time.Minute),
		int(end/time.Hour), int(end%time.Hour/time.Minute),
		days, loc,
	), nil
}

// Close releases the store.
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// Runtime is the handle set the chat controller works with.
func (a *App) Runtime() *bot.Runtime {
	return &bot.Runtime{
		Transport:     a.transport,
		Users:         a.Users,
		Approvals:     a.Approvals,
		Events:        a.Events,
		Filter:        a.Filter,
		Calendar:      a.Calendar,
		MaxFutureDays: a.Config.MaxFutureDays,
		MinAudience:   a.Config.MinAudience,
		Location:      a.Location,
	}
}

// SetTransport attaches the chat transport once it is connected.
func (a *App) SetTransport(t bot.Transport) {
	a.transport.set(t)
}

// Schedule registers the acquisition and notification sweep jobs. The caller
// starts and stops the returned scheduler.
func (a *App) Schedule(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(a.Location))
	if _, err := c.AddFunc(a.Config.AcquireCron, func() { a.acquire(ctx) }); err != nil {
		return nil, fmt.Errorf("acquire_cron %q: %w", a.Config.AcquireCron, err)
	}
	if _, err := c.AddFunc(a.Config.SweepCron, func() { a.sweep(ctx) }); err != nil {
		return nil, fmt.Errorf("sweep_cron %q: %w", a.Config.SweepCron, err)
	}
	return c, nil
}

func (a *App) acquire(ctx context.Context) {
	rep, err := a.Events.Run(ctx)
	if err != nil {
		appLog.Error("scheduled acquisition failed", err)
		return
	}
	if rep.Skipped {
		appLog.Info("scheduled acquisition skipped; previous cycle still running")
	}
}

func (a *App) sweep(ctx context.Context) {
	if n := a.Approvals.Sweep(ctx); n > 0 {
		appLog.Info("queued notifications delivered", "count", n)
	}
}

// Serve runs the chat loop, the schedules and, when configured, the
// diagnostics server until ctx is cancelled.
func (a *App) Serve(ctx context.Context, tg *telegram.Client) error {
	a.SetTransport(tg)
	controller := bot.New(a.Runtime())

	sched, err := a.Schedule(ctx)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	g, gctx := errgroup.WithContext(ctx)
	if len(a.Events.Corpus().Events) == 0 {
		g.Go(func() error {
			a.acquire(gctx)
			return nil
		})
	}
	// Deliver whatever queued up while the process was down.
	g.Go(func() error {
		a.sweep(gctx)
		return nil
	})
	g.Go(func() error { return tg.Run(gctx, controller) })
	if a.Config.Listen != "" {
		srv := web.NewServer(web.Options{
			Corpus:        a.Events,
			Filter:        a.Filter,
			MaxFutureDays: a.Config.MaxFutureDays,
			MinAudience:   a.Config.MinAudience,
			Users:         a.Users,
			Queue:         a.Approvals,
			BasicAuth:     a.Config.BasicAuth,
		})
		g.Go(func() error { return srv.Serve(gctx, a.Config.Listen) })
	}
	return g.Wait()
}

var errNoTransport = errors.New("chat transport not connected")

// lateTransport lets the approval service be built before the chat
// transport exists.
type lateTransport struct {
	mu sync.RWMutex
	t  bot.Transport
}

func (l *lateTransport) set(t bot.Transport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.t = t
}

func (l *lateTransport) get() (bot.Transport, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.t == nil {
		return nil, errNoTransport
	}
	return l.t, nil
}

func (l *lateTransport) Send(ctx context.Context, to model.UserID, n model.Notification) error {
	t, err := l.get()
	if err != nil {
		return err
	}
	return t.Send(ctx, to, n)
}

func (l *lateTransport) SendDocument(ctx context.Context, to model.UserID, filename string, data []byte, caption string) error {
	t, err := l.get()
	if err != nil {
		return err
	}
	return t.SendDocument(ctx, to, filename, data, caption)
}
