// Package acquire runs the source adapters, normalizes and deduplicates their
// output and replaces the persisted event corpus.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "itevents/internal/log"
	"itevents/internal/model"
	"itevents/internal/normalize"
	"itevents/internal/source"
	"itevents/internal/store"
)

// Options tune an Orchestrator. Zero values get defaults.
type Options struct {
	Parallelism    int
	AdapterTimeout time.Duration
	PolitenessMin  time.Duration
	PolitenessMax  time.Duration
	Rand           *rand.Rand
	Now            func() time.Time
	// Sleep waits between adapters of one group; tests replace it.
	Sleep func(ctx context.Context, d time.Duration)
}

// Report summarizes one acquisition cycle.
type Report struct {
	Started    time.Time
	Finished   time.Time
	Raw        map[string]int
	Accepted   int
	Rejected   map[string]int
	Noise      int
	Duplicates int
	Count      int
	// Skipped is set when another cycle was already running.
	Skipped bool
}

// Orchestrator owns the event corpus.
type Orchestrator struct {
	adapters   []source.Adapter
	normalizer *normalize.Normalizer
	docs       store.Documents
	opts       Options

	randMu sync.Mutex
	runMu  sync.Mutex

	mu     sync.RWMutex
	corpus model.Corpus
}

func New(adapters []source.Adapter, n *normalize.Normalizer, docs store.Documents, opts Options) *Orchestrator {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = 15 * time.Second
	}
	if opts.PolitenessMax < opts.PolitenessMin {
		opts.PolitenessMax = opts.PolitenessMin
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Orchestrator{adapters: adapters, normalizer: n, docs: docs, opts: opts}
}

// Load restores the last committed corpus.
func (o *Orchestrator) Load(ctx context.Context) error {
	var c model.Corpus
	found, err := o.docs.Load(ctx, store.DocEvents, &c)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	if !found {
		return nil
	}
	o.mu.Lock()
	o.corpus = c
	o.mu.Unlock()
	appLog.Info("corpus loaded", "count", len(c.Events), "updated_at", c.Metadata.UpdatedAt)
	return nil
}

// Corpus returns a copy of the last committed corpus.
func (o *Orchestrator) Corpus() model.Corpus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c := o.corpus
	c.Events = append([]model.Event(nil), o.corpus.Events...)
	return c
}

// Run executes one acquisition cycle. It fails when ctx is cancelled before
// the commit or when the new corpus cannot be persisted; in both cases the
// previous corpus stays visible.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	if !o.runMu.TryLock() {
		appLog.Info("acquisition already running, skipping")
		return Report{Skipped: true}, nil
	}
	defer o.runMu.Unlock()

	rep := Report{
		Started:  o.opts.Now(),
		Raw:      make(map[string]int),
		Rejected: make(map[string]int),
	}

	var (
		collectMu sync.Mutex
		dedup     = normalize.NewDeduplicator()
	)
	// Batches are fed in completion order; the first canonical key seen wins.
	collect := func(src string, batch []model.PartialEvent) {
		events, st := o.normalizer.NormalizeAll(batch)
		collectMu.Lock()
		defer collectMu.Unlock()
		rep.Raw[src] += len(batch)
		rep.Accepted += st.Accepted
		for reason, n := range st.Rejected {
			rep.Rejected[reason] += n
		}
		for _, e := range events {
			dedup.Add(e)
		}
	}

	var g errgroup.Group
	g.SetLimit(o.opts.Parallelism)
	for _, group := range groupByCategory(o.adapters) {
		group := group
		g.Go(func() error {
			for i, a := range group {
				if i > 0 {
					o.opts.Sleep(ctx, o.politeness())
				}
				if ctx.Err() != nil {
					return nil
				}
				collect(a.Source(), o.runAdapter(ctx, a))
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		appLog.Info("acquisition cancelled, keeping previous corpus")
		return rep, err
	}

	events := dedup.Events()
	rep.Noise, rep.Duplicates = dedup.Dropped()
	rep.Count = len(events)

	corpus := model.Corpus{
		Metadata: model.CorpusMetadata{UpdatedAt: o.opts.Now().UTC(), Count: len(events)},
		Events:   events,
	}
	if corpus.Events == nil {
		corpus.Events = []model.Event{}
	}
	if err := o.docs.Save(ctx, store.DocEvents, corpus); err != nil {
		appLog.Error("corpus save failed", err, "count", len(events))
		return rep, fmt.Errorf("save corpus: %w", err)
	}

	o.mu.Lock()
	o.corpus = corpus
	o.mu.Unlock()

	rep.Finished = o.opts.Now()
	appLog.Info("acquisition finished",
		"count", rep.Count,
		"accepted", rep.Accepted,
		"rejected", sum(rep.Rejected),
		"noise", rep.Noise,
		"duplicates", rep.Duplicates,
		"adapters", len(o.adapters),
		"took", rep.Finished.Sub(rep.Started).String(),
	)
	return rep, nil
}

var errAdapterTimeout = errors.New("adapter timed out")

// runAdapter enforces the hard timeout and swallows panics; a misbehaving
// adapter contributes nothing.
func (o *Orchestrator) runAdapter(parent context.Context, a source.Adapter) (out []model.PartialEvent) {
	ctx, cancel := context.WithTimeout(parent, o.opts.AdapterTimeout)
	defer cancel()

	done := make(chan []model.PartialEvent, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				appLog.Error("adapter panicked", fmt.Errorf("%v", r), "source", a.Source())
				done <- nil
			}
		}()
		done <- a.Fetch(ctx)
	}()

	select {
	case batch := <-done:
		for i := range batch {
			if batch[i].Source == "" {
				batch[i].Source = a.Source()
			}
		}
		appLog.Debug("adapter finished", "source", a.Source(), "records", len(batch))
		return batch
	case <-ctx.Done():
		appLog.Error("adapter abandoned", errAdapterTimeout, "source", a.Source(), "timeout", o.opts.AdapterTimeout.String())
		return nil
	}
}

func (o *Orchestrator) politeness() time.Duration {
	lo, hi := o.opts.PolitenessMin, o.opts.PolitenessMax
	if hi <= lo {
		return lo
	}
	o.randMu.Lock()
	defer o.randMu.Unlock()
	return lo + time.Duration(o.opts.Rand.Int63n(int64(hi-lo)))
}

// groupByCategory partitions adapters, keeping first-seen category order and
// adapter order inside each group.
func groupByCategory(adapters []source.Adapter) [][]source.Adapter {
	index := make(map[string]int)
	var groups [][]source.Adapter
	for _, a := range adapters {
		i, ok := index[a.Category()]
		if !ok {
			i = len(groups)
			index[a.Category()] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], a)
	}
	return groups
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// SourceCounts tallies corpus events per source, most frequent first.
func SourceCounts(events []model.Event) []Count {
	m := make(map[string]int)
	for _, e := range events {
		m[e.Source]++
	}
	return sortedCounts(m)
}

// TypeCounts tallies corpus events per type.
func TypeCounts(events []model.Event) []Count {
	m := make(map[string]int)
	for _, e := range events {
		m[string(e.Type)]++
	}
	return sortedCounts(m)
}

// Count is one row of a tally.
type Count struct {
	Key string `json:"key"`
	N   int    `json:"n"`
}

func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, N: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].N != out[j].N {
			return out[i].N > out[j].N
		}
		return out[i].Key < out[j].Key
	})
	return out
}
