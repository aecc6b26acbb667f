package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"itevents/internal/model"
)

func titles(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Title)
	}
	return out
}

func TestDedupKeepsFirstOccurrence(t *testing.T) {
	t.Parallel()

	in := []model.Event{
		{Title: "AI Meetup SPb ", Source: "a"},
		{Title: "ai-meetup spb", Source: "b"},
		{Title: "AI Meetup SPb!", Source: "c"},
	}
	out := Dedup(in)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].Source)
}

func TestDedupDropsNoise(t *testing.T) {
	t.Parallel()

	d := NewDeduplicator()
	require.False(t, d.Add(model.Event{Title: "Go Meetup"}))
	require.True(t, d.Add(model.Event{Title: "Go Meetup SPb"}))
	require.False(t, d.Add(model.Event{Title: "go meetup, spb"}))
	noise, dups := d.Dropped()
	require.Equal(t, 1, noise)
	require.Equal(t, 1, dups)
}

func TestDedupIdempotentAndOrdered(t *testing.T) {
	t.Parallel()

	xs := []model.Event{
		{Title: "Highload++ Moscow 2025"},
		{Title: "Data Fest Online 2025"},
		{Title: "highload moscow 2025"},
		{Title: "PiterPy Conference"},
	}
	once := Dedup(xs)
	require.Equal(t, []string{"Highload++ Moscow 2025", "Data Fest Online 2025", "PiterPy Conference"}, titles(once))

	twice := Dedup(append(append([]model.Event{}, xs...), xs...))
	require.Equal(t, titles(once), titles(twice))
	require.Equal(t, titles(once), titles(Dedup(once)))
}
