package rank

import (
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"itevents/internal/model"
	"itevents/internal/normalize"
)

// DefaultMaxFutureDays bounds how far ahead a search looks.
const DefaultMaxFutureDays = 365

// Rejection reasons recorded by Apply.
const (
	RejectInvalid     = "invalid"
	RejectType        = "type"
	RejectLocality    = "locality"
	RejectPast        = "past"
	RejectHorizon     = "horizon"
	RejectAudience    = "audience_band"
	RejectMinAudience = "min_audience"
	RejectTheme       = "theme"
)

// Criteria are the hard rules for one search. Empty Types or Themes allow
// everything.
type Criteria struct {
	Location      model.Locality
	Band          model.AudienceBand
	Types         []model.EventType
	Themes        []model.Theme
	MaxFutureDays int
	MinAudience   int
}

// CriteriaFor derives search criteria from stored preferences. A nil profile
// accepts any location and audience.
func CriteriaFor(profile *model.UserProfile, maxFutureDays, minAudience int) Criteria {
	c := Criteria{
		Location:      model.LocalityAny,
		Band:          model.BandAny,
		MaxFutureDays: maxFutureDays,
		MinAudience:   minAudience,
	}
	if profile != nil {
		if profile.Preferences.LocationTag != "" {
			c.Location = profile.Preferences.LocationTag
		}
		if profile.Preferences.AudienceBand != "" {
			c.Band = profile.Preferences.AudienceBand
		}
	}
	return c
}

// Result is the ranked output of a search.
type Result struct {
	Events   []model.Event
	Rejected map[string]int
}

// Filter ranks events against criteria relative to the local date.
type Filter struct {
	Now      func() time.Time
	Location *time.Location
}

// Today is the current date in the filter's timezone.
func (f Filter) Today() civil.Date {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(now().In(loc))
}

func (f Filter) Apply(events []model.Event, c Criteria, profile *model.UserProfile) Result {
	return Apply(events, c, profile, f.Today())
}

// Apply keeps events that satisfy every rule in c, scores them and sorts them
// by descending score, then ascending date and title. Input is not modified.
func Apply(events []model.Event, c Criteria, profile *model.UserProfile, today civil.Date) Result {
	res := Result{Rejected: make(map[string]int)}
	for _, e := range events {
		if reason := Check(e, c, today); reason != "" {
			res.Rejected[reason]++
			continue
		}
		e.PriorityScore = Score(e, profile, today)
		res.Events = append(res.Events, e)
	}
	sort.SliceStable(res.Events, func(i, j int) bool {
		a, b := res.Events[i], res.Events[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		return a.Title < b.Title
	})
	return res
}

// Check returns the first rule e violates, or "" if it is admissible.
func Check(e model.Event, c Criteria, today civil.Date) string {
	// Validate also bounds the score, which is recomputed anyway.
	probe := e
	probe.PriorityScore = normalize.ProvisionalScore
	if normalize.Validate(probe) != nil {
		return RejectInvalid
	}
	if len(c.Types) > 0 && !containsType(c.Types, e.Type) {
		return RejectType
	}
	if !LocalityAllowed(e, c.Location) {
		return RejectLocality
	}
	if e.Date.Before(today) {
		return RejectPast
	}
	horizon := c.MaxFutureDays
	if horizon <= 0 {
		horizon = DefaultMaxFutureDays
	}
	if e.Date.After(today.AddDays(horizon)) {
		return RejectHorizon
	}
	if e.Audience != nil {
		if c.Band != "" && !c.Band.Contains(*e.Audience) {
			return RejectAudience
		}
		if *e.Audience < c.MinAudience {
			return RejectMinAudience
		}
	}
	if len(c.Themes) > 0 && !anyTheme(e, c.Themes) {
		return RejectTheme
	}
	return ""
}

// LocalityAllowed applies the location preference. Events without location
// text pass for every preference.
func LocalityAllowed(e model.Event, pref model.Locality) bool {
	switch {
	case pref == "" || pref == model.LocalityAny:
		return true
	case strings.TrimSpace(e.Location) == "":
		return true
	case e.Locality == pref:
		return true
	case pref == model.LocalityOnline && e.Online:
		return true
	}
	return false
}

func containsType(types []model.EventType, t model.EventType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func anyTheme(e model.Event, themes []model.Theme) bool {
	for _, t := range themes {
		if e.HasTheme(t) {
			return true
		}
	}
	return false
}
