package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"itevents/internal/clock"
	"itevents/internal/config"
	"itevents/internal/directory"
	"itevents/internal/model"
	"itevents/internal/source"
)

type oneShot struct{}

func (oneShot) Source() string   { return "fixture" }
func (oneShot) Category() string { return "fixture" }
func (oneShot) Fetch(context.Context) []model.PartialEvent {
	return []model.PartialEvent{{
		Title:    "Go Conference Saint Petersburg",
		Date:     "2024-09-20",
		Location: "Санкт-Петербург",
		Type:     "конференция",
		Audience: "300",
		Themes:   []string{"Dev"},
		Source:   "fixture",
	}}
}

type captured struct {
	mu   sync.Mutex
	sent []model.UserID
}

func (c *captured) Send(_ context.Context, to model.UserID, _ model.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to)
	return nil
}

func (c *captured) SendDocument(context.Context, model.UserID, string, []byte, string) error {
	return nil
}

func testConfig(t *testing.T, backend string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.StoreBackend = backend
	cfg.ManagerSecret = "m"
	cfg.PolitenessMin, cfg.PolitenessMax = "1ms", "1ms"
	return cfg
}

func TestNewWiresAndPersistsAcrossRestarts(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			clk := clock.NewFake(time.Date(2024, time.August, 10, 12, 0, 0, 0, time.UTC))
			cfg := testConfig(t, backend)
			opts := Options{Now: clk.Now, Seed: 7, Adapters: []source.Adapter{oneShot{}}}

			a, err := New(ctx, cfg, opts)
			require.NoError(t, err)
			rep, err := a.Events.Run(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, rep.Count)
			require.NoError(t, a.Close())

			b, err := New(ctx, cfg, opts)
			require.NoError(t, err)
			defer b.Close()
			events := b.Events.Corpus().Events
			require.Len(t, events, 1)
			require.Equal(t, model.LocalitySPb, events[0].Locality)
			require.Equal(t, model.TypeConference, events[0].Type)
		})
	}
}

func TestNewRejectsBadWorkHours(t *testing.T) {
	cfg := testConfig(t, "file")
	cfg.WorkHours.Weekdays = []string{"someday"}
	_, err := New(context.Background(), cfg, Options{Adapters: []source.Adapter{}})
	require.ErrorContains(t, err, "work_hours.weekdays")
}

func TestUnknownTimezoneQueuesManagerNotifications(t *testing.T) {
	ctx := context.Background()
	// Wednesday noon in any plausible office timezone.
	clk := clock.NewFake(time.Date(2024, time.August, 14, 9, 0, 0, 0, time.UTC))
	cfg := testConfig(t, "memory")
	cfg.Timezone = "Mars/Olympus"
	tr := &captured{}
	a, err := New(ctx, cfg, Options{Now: clk.Now, Transport: tr, Adapters: []source.Adapter{}})
	require.NoError(t, err)
	require.Equal(t, time.UTC, a.Location)

	mgr, emp := model.UserID(10), model.UserID(1)
	_, err = a.Users.Create(ctx, directoryRegistration(mgr, model.RoleManager), "m")
	require.NoError(t, err)
	_, err = a.Users.Create(ctx, directoryRegistration(emp, model.RoleEmployee), "")
	require.NoError(t, err)
	require.NoError(t, a.Users.Assign(ctx, emp, &mgr))

	sub, err := a.Approvals.Submit(ctx, emp, model.Event{Title: "Go Conference", Type: model.TypeConference, Source: "fixture"})
	require.NoError(t, err)
	require.True(t, sub.Queued)
	require.True(t, sub.DeliverAt.IsZero())
	a.sweep(ctx)
	require.Empty(t, tr.sent)
}

func TestMemoryBackendStartsEmpty(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "memory")
	opts := Options{Seed: 7, Adapters: []source.Adapter{oneShot{}}}

	a, err := New(ctx, cfg, opts)
	require.NoError(t, err)
	_, err = a.Events.Run(ctx)
	require.NoError(t, err)
	require.Len(t, a.Events.Corpus().Events, 1)
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg, opts)
	require.NoError(t, err)
	require.Empty(t, b.Events.Corpus().Events)
}

func TestScheduleValidatesSpecs(t *testing.T) {
	cfg := testConfig(t, "file")
	a, err := New(context.Background(), cfg, Options{Adapters: []source.Adapter{}})
	require.NoError(t, err)

	c, err := a.Schedule(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Entries(), 2)

	a.Config.SweepCron = "every five minutes"
	_, err = a.Schedule(context.Background())
	require.ErrorContains(t, err, "sweep_cron")
}

func TestNotificationsWaitForTransport(t *testing.T) {
	ctx := context.Background()
	// Wednesday 12:00 in Moscow, inside the default work window.
	clk := clock.NewFake(time.Date(2024, time.August, 14, 9, 0, 0, 0, time.UTC))
	cfg := testConfig(t, "file")
	a, err := New(ctx, cfg, Options{Now: clk.Now, Adapters: []source.Adapter{}})
	require.NoError(t, err)

	mgr, emp := model.UserID(10), model.UserID(1)
	_, err = a.Users.Create(ctx, directoryRegistration(mgr, model.RoleManager), "m")
	require.NoError(t, err)
	_, err = a.Users.Create(ctx, directoryRegistration(emp, model.RoleEmployee), "")
	require.NoError(t, err)
	require.NoError(t, a.Users.Assign(ctx, emp, &mgr))

	ev := model.Event{
		Title:    "Go Conference",
		Locality: model.LocalityOther,
		Type:     model.TypeConference,
		Themes:   []model.Theme{model.ThemeDev},
		Source:   "fixture",
	}
	sub, err := a.Approvals.Submit(ctx, emp, ev)
	require.NoError(t, err)
	require.True(t, sub.Queued)

	tr := &captured{}
	a.SetTransport(tr)
	a.sweep(ctx)
	require.Equal(t, []model.UserID{mgr}, tr.sent)
	require.Empty(t, a.Approvals.QueueSizes())
}

func directoryRegistration(uid model.UserID, role model.Role) directory.Registration {
	return directory.Registration{UserID: uid, DisplayName: "User", Position: "Engineer", Role: role}
}
