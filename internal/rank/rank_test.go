package rank

import (
	"math/rand"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"itevents/internal/model"
	"itevents/internal/normalize"
)

var today = civil.Date{Year: 2024, Month: time.August, Day: 10}

func intp(n int) *int { return &n }

func event(title string, days int) model.Event {
	return model.Event{
		Title:    title,
		Date:     today.AddDays(days),
		Location: "санкт-петербург",
		Locality: model.LocalitySPb,
		Type:     model.TypeMeetup,
		Themes:   []model.Theme{model.ThemeDev},
		Source:   "test",
	}
}

func TestScoreDeterministicScenario(t *testing.T) {
	t.Parallel()

	n := normalize.New(func() time.Time {
		return time.Date(2024, 8, 10, 9, 0, 0, 0, time.UTC)
	}, time.UTC, rand.New(rand.NewSource(1)))
	e, err := n.Normalize(model.PartialEvent{
		Title:    "AI Journey 2024",
		Date:     "2024-09-01",
		Location: "Калининград",
		Audience: "500",
		Type:     "конференция",
		Themes:   []string{"искусственный интеллект"},
		Source:   "curated",
	})
	require.NoError(t, err)

	b := Explain(e, nil, today)
	require.Equal(t, Breakdown{Theme: 30, Date: 20, Location: 5, Audience: 12, Type: 10}, b)
	require.Equal(t, 7.7, Score(e, nil, today))
}

func TestThemeScoreTiers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		title  string
		themes []model.Theme
		want   int
	}{
		{"Machine Learning Day", nil, 30},
		{"Big Data Summit", nil, 25},
		{"Highload Conference", nil, 20},
		{"Python Meetup", nil, 15},
		{"Frontend Party", nil, 10},
		{"Career Fair", nil, 5},
		{"Google Developer Day", nil, 5},
		{"Weekly gathering", []model.Theme{model.ThemeCloud}, 20},
		{"Weekly gathering", []model.Theme{model.ThemeGenericIT}, 5},
	}
	for _, tc := range cases {
		e := model.Event{Title: tc.title, Themes: tc.themes}
		require.Equal(t, tc.want, themeScore(e), tc.title)
	}
}

func TestInterestsDoNotChangeScore(t *testing.T) {
	t.Parallel()

	e := event("Startup pitch night", 10)
	e.Themes = []model.Theme{model.ThemeStartup}
	require.Equal(t, 5, themeScore(e))

	p := &model.UserProfile{Preferences: model.Preferences{Interests: []model.Theme{model.ThemeStartup}}}
	require.Equal(t, Explain(e, nil, today), Explain(e, p, today))
	require.Equal(t, Score(e, nil, today), Score(e, p, today))
}

func TestDateAndAudienceBuckets(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, dateScore(today.AddDays(-1), today))
	require.Equal(t, 25, dateScore(today, today))
	require.Equal(t, 25, dateScore(today.AddDays(7), today))
	require.Equal(t, 20, dateScore(today.AddDays(8), today))
	require.Equal(t, 15, dateScore(today.AddDays(90), today))
	require.Equal(t, 10, dateScore(today.AddDays(180), today))
	require.Equal(t, 5, dateScore(today.AddDays(181), today))
	require.Equal(t, 3, dateScore(civil.Date{}, today))

	require.Equal(t, 5, audienceScore(nil))
	require.Equal(t, 15, audienceScore(intp(1000)))
	require.Equal(t, 8, audienceScore(intp(100)))
	require.Equal(t, 4, audienceScore(intp(10)))
}

func TestScoreBoundsAndMonotonicity(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(7))
	localities := []model.Locality{model.LocalitySPb, model.LocalityOnline, model.LocalityMoscow, model.LocalityOther}
	for i := 0; i < 500; i++ {
		e := event("Random event number", r.Intn(500)-50)
		e.Locality = localities[r.Intn(len(localities))]
		e.Online = r.Intn(2) == 0
		e.Type = model.EventTypes[r.Intn(len(model.EventTypes))]
		e.Themes = []model.Theme{model.Themes[r.Intn(len(model.Themes))]}
		if r.Intn(2) == 0 {
			e.Audience = intp(r.Intn(3000))
		}
		s := Score(e, nil, today)
		require.GreaterOrEqual(t, s, 0.0)
		require.LessOrEqual(t, s, 10.0)

		later := e
		later.Date = e.Date.AddDays(1 + r.Intn(200))
		if !e.Date.Before(today) {
			require.LessOrEqual(t, Score(later, nil, today), s)
		}
	}
}

func TestApplyFiltersAndSorts(t *testing.T) {
	t.Parallel()

	near := event("Go Meetup Saint Petersburg", 3)
	far := event("Go Meetup in autumn", 100)
	sameA := event("Alpha frontend night", 20)
	sameB := event("Beta frontend night", 20)
	past := event("Yesterday conference", -1)
	tooFar := event("Next year conference", 400)
	moscow := event("Moscow Python conf", 5)
	moscow.Locality, moscow.Location = model.LocalityMoscow, "москва"
	noPlace := event("Unplaced devops talk", 5)
	noPlace.Location, noPlace.Locality = "", model.LocalityOther
	crowded := event("Huge mobile forum", 5)
	crowded.Audience = intp(2000)
	bad := event("x", 5)

	in := []model.Event{far, sameB, past, near, tooFar, moscow, noPlace, crowded, sameA, bad}
	c := Criteria{Location: model.LocalitySPb, Band: model.BandMedium, MaxFutureDays: 365}
	res := Apply(in, c, nil, today)

	require.Equal(t, map[string]int{
		RejectPast:     1,
		RejectHorizon:  1,
		RejectLocality: 1,
		RejectAudience: 1,
		RejectInvalid:  1,
	}, res.Rejected)

	var titles []string
	for _, e := range res.Events {
		titles = append(titles, e.Title)
		require.Empty(t, Check(e, c, today))
	}
	require.Equal(t, []string{
		"Go Meetup Saint Petersburg",
		"Unplaced devops talk",
		"Alpha frontend night",
		"Beta frontend night",
		"Go Meetup in autumn",
	}, titles)
	for i := 1; i < len(res.Events); i++ {
		require.GreaterOrEqual(t, res.Events[i-1].PriorityScore, res.Events[i].PriorityScore)
	}
	require.Zero(t, in[0].PriorityScore)
}

func TestCriteriaNarrowing(t *testing.T) {
	t.Parallel()

	a := event("Hackathon on cloud things", 5)
	a.Type, a.Themes = model.TypeHackathon, []model.Theme{model.ThemeCloud}
	b := event("Meetup on cloud things", 5)
	b.Themes = []model.Theme{model.ThemeCloud}
	c := event("Meetup on web things", 5)
	c.Themes = []model.Theme{model.ThemeWeb}

	res := Apply([]model.Event{a, b, c}, Criteria{
		Types:  []model.EventType{model.TypeMeetup},
		Themes: []model.Theme{model.ThemeCloud},
	}, nil, today)
	require.Len(t, res.Events, 1)
	require.Equal(t, b.Title, res.Events[0].Title)
	require.Equal(t, 1, res.Rejected[RejectType])
	require.Equal(t, 1, res.Rejected[RejectTheme])
}

func TestLocalityAllowed(t *testing.T) {
	t.Parallel()

	hybrid := model.Event{Location: "спб + онлайн", Locality: model.LocalitySPb, Online: true}
	other := model.Event{Location: "калининград", Locality: model.LocalityOther}
	blank := model.Event{Locality: model.LocalityOther}

	require.True(t, LocalityAllowed(hybrid, model.LocalityOnline))
	require.True(t, LocalityAllowed(hybrid, model.LocalitySPb))
	require.False(t, LocalityAllowed(hybrid, model.LocalityMoscow))
	require.False(t, LocalityAllowed(other, model.LocalitySPb))
	require.True(t, LocalityAllowed(other, model.LocalityOther))
	require.True(t, LocalityAllowed(other, model.LocalityAny))
	require.True(t, LocalityAllowed(blank, model.LocalityMoscow))
}

func TestCriteriaForProfile(t *testing.T) {
	t.Parallel()

	require.Equal(t, model.LocalityAny, CriteriaFor(nil, 365, 0).Location)

	p := &model.UserProfile{Preferences: model.Preferences{LocationTag: model.LocalityMoscow, AudienceBand: model.BandLarge}}
	c := CriteriaFor(p, 30, 10)
	require.Equal(t, model.LocalityMoscow, c.Location)
	require.Equal(t, model.BandLarge, c.Band)
	require.Equal(t, 30, c.MaxFutureDays)
	require.Equal(t, 10, c.MinAudience)
}

func TestFilterToday(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("MSK", 3*3600)
	f := Filter{Now: func() time.Time { return time.Date(2024, 8, 9, 22, 30, 0, 0, time.UTC) }, Location: loc}
	require.Equal(t, today, f.Today())
}
