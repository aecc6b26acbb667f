package acquire

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"itevents/internal/model"
	"itevents/internal/normalize"
	"itevents/internal/source"
	"itevents/internal/store"
)

var pinned = time.Date(2024, 8, 10, 12, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	id, category string
	fetch        func(ctx context.Context) []model.PartialEvent
}

func (f *fakeAdapter) Source() string   { return f.id }
func (f *fakeAdapter) Category() string { return f.category }
func (f *fakeAdapter) Fetch(ctx context.Context) []model.PartialEvent {
	return f.fetch(ctx)
}

func static(id, category string, titles ...string) *fakeAdapter {
	return &fakeAdapter{id: id, category: category, fetch: func(context.Context) []model.PartialEvent {
		out := make([]model.PartialEvent, 0, len(titles))
		for _, t := range titles {
			out = append(out, model.PartialEvent{Title: t, Date: "2024-09-01"})
		}
		return out
	}}
}

func newOrchestrator(adapters []source.Adapter, docs store.Documents, opts Options) *Orchestrator {
	n := normalize.New(func() time.Time { return pinned }, time.UTC, rand.New(rand.NewSource(1)))
	opts.Now = func() time.Time { return pinned }
	if opts.Sleep == nil {
		opts.Sleep = func(context.Context, time.Duration) {}
	}
	return New(adapters, n, docs, opts)
}

func TestRunNormalizesDedupsAndPersists(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	o := newOrchestrator([]source.Adapter{
		static("a", "one", "AI Meetup SPb", "Go Conference 2024", "x"),
		static("b", "two", "ai-meetup spb!", "<b>noise</b>"),
	}, docs, Options{})

	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.Count)
	require.Equal(t, 1, rep.Duplicates)
	require.Equal(t, map[string]int{"a": 3, "b": 2}, rep.Raw)
	require.Equal(t, 2, rep.Rejected[normalize.ReasonShortTitle]+rep.Rejected[normalize.ReasonMarkup])

	raw, ok := docs.Raw(store.DocEvents)
	require.True(t, ok)
	var doc struct {
		Metadata struct {
			UpdatedAt time.Time `json:"updated_at"`
			Count     int       `json:"count"`
		} `json:"metadata"`
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, 2, doc.Metadata.Count)
	require.True(t, doc.Metadata.UpdatedAt.Equal(pinned))
	require.Len(t, doc.Events, 2)

	require.Len(t, o.Corpus().Events, 2)
}

func TestRunWithNoEventsStillCommits(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	o := newOrchestrator([]source.Adapter{static("empty", "x")}, docs, Options{})
	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, rep.Count)

	raw, ok := docs.Raw(store.DocEvents)
	require.True(t, ok)
	require.JSONEq(t, `{"metadata":{"updated_at":"2024-08-10T12:00:00Z","count":0},"events":[]}`, string(raw))
}

func TestCancelledRunKeepsCommittedCorpus(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	o := newOrchestrator([]source.Adapter{
		static("a", "one", "AI Meetup SPb", "Go Conference 2024"),
	}, docs, Options{})
	_, err := o.Run(context.Background())
	require.NoError(t, err)
	before, ok := docs.Raw(store.DocEvents)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, o.Corpus().Events, 2)
	after, ok := docs.Raw(store.DocEvents)
	require.True(t, ok)
	require.JSONEq(t, string(before), string(after))
}

func TestRunAbandonsSlowAndPanickingAdapters(t *testing.T) {
	t.Parallel()

	slow := &fakeAdapter{id: "slow", category: "s", fetch: func(ctx context.Context) []model.PartialEvent {
		time.Sleep(2 * time.Second)
		return []model.PartialEvent{{Title: "Too late conference"}}
	}}
	boom := &fakeAdapter{id: "boom", category: "p", fetch: func(context.Context) []model.PartialEvent {
		panic("schema drift")
	}}
	o := newOrchestrator([]source.Adapter{slow, boom, static("ok", "k", "Mobile Dev Meetup SPb")}, store.NewMemory(), Options{AdapterTimeout: 50 * time.Millisecond})

	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Count)
	require.Equal(t, "ok", o.Corpus().Events[0].Source)
}

func TestGroupsRunSequentiallyInsideAndInParallelAcross(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		active   = map[string]int{}
		overlap  bool
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)
	mk := func(id, cat string) *fakeAdapter {
		return &fakeAdapter{id: id, category: cat, fetch: func(context.Context) []model.PartialEvent {
			mu.Lock()
			active[cat]++
			if active[cat] > 1 {
				overlap = true
			}
			mu.Unlock()
			n := inFlight.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			mu.Lock()
			active[cat]--
			mu.Unlock()
			return nil
		}}
	}

	var sleeps atomic.Int32
	var adapters []source.Adapter
	for _, cat := range []string{"a", "b", "c"} {
		for i := 0; i < 3; i++ {
			adapters = append(adapters, mk(cat+string(rune('0'+i)), cat))
		}
	}
	o := newOrchestrator(adapters, store.NewMemory(), Options{
		Parallelism: 2,
		Sleep:       func(context.Context, time.Duration) { sleeps.Add(1) },
	})
	_, err := o.Run(context.Background())
	require.NoError(t, err)
	require.False(t, overlap)
	require.LessOrEqual(t, maxSeen.Load(), int32(2))
	require.Equal(t, int32(6), sleeps.Load())
}

func TestLoadRestoresCorpus(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	first := newOrchestrator([]source.Adapter{static("a", "x", "Cloud Native Meetup")}, docs, Options{})
	_, err := first.Run(context.Background())
	require.NoError(t, err)

	second := newOrchestrator(nil, docs, Options{})
	require.NoError(t, second.Load(context.Background()))
	require.Len(t, second.Corpus().Events, 1)
}

func TestPolitenessWithinBounds(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(nil, store.NewMemory(), Options{PolitenessMin: 500 * time.Millisecond, PolitenessMax: 2 * time.Second})
	for i := 0; i < 100; i++ {
		d := o.politeness()
		require.GreaterOrEqual(t, d, 500*time.Millisecond)
		require.Less(t, d, 2*time.Second)
	}
}

func TestCounts(t *testing.T) {
	t.Parallel()

	events := []model.Event{
		{Source: "b", Type: model.TypeMeetup},
		{Source: "a", Type: model.TypeMeetup},
		{Source: "b", Type: model.TypeConference},
	}
	require.Equal(t, []Count{{"b", 2}, {"a", 1}}, SourceCounts(events))
	require.Equal(t, []Count{{"meetup", 2}, {"conference", 1}}, TypeCounts(events))
}
