package model

import (
	"encoding/json"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"
)

func TestCanonicalTitle(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"AI Meetup SPb ":         "ai meetup spb",
		"ai-meetup spb":          "ai meetup spb",
		"AI Meetup SPb!":         "ai meetup spb",
		"  Митап   «Go» — СПб  ": "митап go спб",
		"HighLoad++ 2025":        "highload 2025",
		"...":                    "",
	}
	for in, want := range cases {
		require.Equal(t, want, CanonicalTitle(in), in)
	}
}

func TestAudienceBandContains(t *testing.T) {
	t.Parallel()

	require.True(t, BandSmall.Contains(99))
	require.False(t, BandSmall.Contains(100))
	require.True(t, BandMedium.Contains(100))
	require.False(t, BandMedium.Contains(500))
	require.True(t, BandLarge.Contains(500))
	require.True(t, BandAny.Contains(0))
	require.True(t, AudienceBand("").Contains(10000))
}

func TestClosedSets(t *testing.T) {
	t.Parallel()

	require.Len(t, EventTypes, 16)
	require.True(t, TypeDemoDay.Valid())
	require.False(t, EventType("party").Valid())
	require.True(t, ThemeGenericIT.Valid())
	require.False(t, Theme("Gaming").Valid())
	require.True(t, RoleAdmin.Elevated())
	require.False(t, RoleEmployee.Elevated())
	require.True(t, StatusRejected.Terminal())
	require.False(t, StatusPending.Terminal())
}

func TestEventKeyAndJSON(t *testing.T) {
	t.Parallel()

	d := civil.Date{Year: 2025, Month: 3, Day: 7}
	a := Event{Title: "Data Fest SPb!", Date: d}
	b := Event{Title: "data-fest spb", Date: d}
	require.Equal(t, a.Key(), b.Key())

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"date":"2025-03-07"`)

	var back Event
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, d, back.Date)
}
