package model

import (
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// EventType is a tag from the closed set of event formats.
type EventType string

const (
	TypeConference       EventType = "conference"
	TypeMeetup           EventType = "meetup"
	TypeHackathon        EventType = "hackathon"
	TypeSeminar          EventType = "seminar"
	TypeWorkshop         EventType = "workshop"
	TypeLecture          EventType = "lecture"
	TypeForum            EventType = "forum"
	TypeRoundtable       EventType = "roundtable"
	TypeStrategicSession EventType = "strategic-session"
	TypeNetworking       EventType = "networking"
	TypeExhibition       EventType = "exhibition"
	TypeDemoDay          EventType = "demo-day"
	TypePitch            EventType = "pitch"
	TypeMasterclass      EventType = "masterclass"
	TypeEducational      EventType = "educational"
	TypeGeneric          EventType = "generic"
)

// EventTypes lists every type in classifier priority order.
var EventTypes = []EventType{
	TypeConference, TypeMeetup, TypeHackathon, TypeSeminar, TypeWorkshop,
	TypeLecture, TypeForum, TypeRoundtable, TypeStrategicSession, TypeNetworking,
	TypeExhibition, TypeDemoDay, TypePitch, TypeMasterclass, TypeEducational,
	TypeGeneric,
}

func (t EventType) Valid() bool {
	for _, v := range EventTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Theme is a subject tag from the closed theme vocabulary.
type Theme string

const (
	ThemeAI          Theme = "AI"
	ThemeDataScience Theme = "Data Science"
	ThemeDev         Theme = "Dev"
	ThemeWeb         Theme = "Web"
	ThemeMobile      Theme = "Mobile"
	ThemeSecurity    Theme = "Security"
	ThemeCloud       Theme = "Cloud"
	ThemeDevOps      Theme = "DevOps"
	ThemeBlockchain  Theme = "Blockchain"
	ThemeStartup     Theme = "Startup"
	ThemeGenericIT   Theme = "generic-IT"
)

// Themes lists the vocabulary; generic-IT is the fallback and comes last.
var Themes = []Theme{
	ThemeAI, ThemeDataScience, ThemeDev, ThemeWeb, ThemeMobile, ThemeSecurity,
	ThemeCloud, ThemeDevOps, ThemeBlockchain, ThemeStartup, ThemeGenericIT,
}

func (t Theme) Valid() bool {
	for _, v := range Themes {
		if v == t {
			return true
		}
	}
	return false
}

// Locality is the normalized place token derived from free-text location.
type Locality string

const (
	LocalitySPb    Locality = "spb"
	LocalityOnline Locality = "online"
	LocalityMoscow Locality = "moscow"
	LocalityOther  Locality = "other"
	// LocalityAny is only meaningful as a preference.
	LocalityAny Locality = "any"
)

// AudienceBand is a preferred audience size range.
type AudienceBand string

const (
	BandAny    AudienceBand = "any"
	BandSmall  AudienceBand = "small"  // fewer than 100
	BandMedium AudienceBand = "medium" // 100..499
	BandLarge  AudienceBand = "large"  // 500 and more
)

// AudienceBands lists bands in display order.
var AudienceBands = []AudienceBand{BandAny, BandSmall, BandMedium, BandLarge}

// Contains reports whether n falls inside the band. BandAny and unknown
// bands contain everything.
func (b AudienceBand) Contains(n int) bool {
	switch b {
	case BandSmall:
		return n < 100
	case BandMedium:
		return n >= 100 && n < 500
	case BandLarge:
		return n >= 500
	default:
		return true
	}
}

// PartialEvent is what a source adapter yields. Only Title and Source are
// guaranteed; everything else is raw text awaiting normalization.
type PartialEvent struct {
	Title            string
	Date             string
	Location         string
	Type             string
	Audience         string
	Themes           []string
	Speakers         []string
	Description      string
	RegistrationInfo string
	URL              string
	Source           string
}

// Event is the canonical record produced by normalization.
type Event struct {
	Title    string     `json:"title"`
	Date     civil.Date `json:"date"`
	Location string     `json:"location,omitempty"`
	// Locality is the primary place token; Online marks events that are also
	// (or only) streamed.
	Locality         Locality  `json:"locality"`
	Online           bool      `json:"online,omitempty"`
	Type             EventType `json:"type"`
	Audience         *int      `json:"audience,omitempty"`
	Themes           []Theme   `json:"themes"`
	Speakers         []string  `json:"speakers,omitempty"`
	Description      string    `json:"description,omitempty"`
	RegistrationInfo string    `json:"registration_info,omitempty"`
	// URL is an absolute http(s) URL or empty, meaning none.
	URL           string  `json:"url,omitempty"`
	Source        string  `json:"source"`
	PriorityScore float64 `json:"priority_score"`
}

// EventKey identifies an event across snapshots: canonical title plus date.
type EventKey struct {
	Title string
	Date  civil.Date
}

func (e Event) Key() EventKey {
	return EventKey{Title: CanonicalTitle(e.Title), Date: e.Date}
}

// HasTheme reports whether the event carries t.
func (e Event) HasTheme(t Theme) bool {
	for _, v := range e.Themes {
		if v == t {
			return true
		}
	}
	return false
}

// StartTime places the event date at the given clock time in loc.
func (e Event) StartTime(hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(e.Date.Year, e.Date.Month, e.Date.Day, hour, minute, 0, 0, loc)
}

// CanonicalTitle is the deduplication identity of a title: case-folded, every
// non-alphanumeric rune replaced by a space, whitespace collapsed.
func CanonicalTitle(title string) string {
	// Casers are stateful; build one per call.
	s := cases.Fold().String(norm.NFC.String(title))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// CorpusMetadata describes one persisted acquisition result.
type CorpusMetadata struct {
	UpdatedAt time.Time `json:"updated_at"`
	Count     int       `json:"count"`
}

// Corpus is the events_store document.
type Corpus struct {
	Metadata CorpusMetadata `json:"metadata"`
	Events   []Event        `json:"events"`
}
