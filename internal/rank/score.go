// Package rank scores events for a user and applies the hard admissibility
// rules used by searches.
package rank

import (
	"math"
	"strings"
	"unicode"

	"cloud.google.com/go/civil"

	"itevents/internal/model"
)

// Sub-score caps. They add up to 100.
const (
	MaxTheme    = 30
	MaxDate     = 25
	MaxLocation = 20
	MaxAudience = 15
	MaxType     = 10
)

// Breakdown is the per-component view of a score.
type Breakdown struct {
	Theme    int
	Date     int
	Location int
	Audience int
	Type     int
}

func (b Breakdown) Sum() int {
	return b.Theme + b.Date + b.Location + b.Audience + b.Type
}

// Score maps the breakdown onto [0,10] with one decimal.
func (b Breakdown) Score() float64 {
	return math.Round(float64(b.Sum())/100*10*10) / 10
}

type themeWeight struct {
	keys   []string
	weight int
}

// Ordered by weight; the first tier with a hit wins. Keys of two letters only
// match whole words.
var themeWeights = []themeWeight{
	{[]string{"ai", "ml", "искусств", "machine learning", "artificial intelligence"}, 30},
	{[]string{"data science", "big data", "cv", "computer vision", "нейросет"}, 25},
	{[]string{"highload", "db", "database", "баз данных", "devops", "cloud", "облачн"}, 20},
	{[]string{"qa", "testing", "тестирован", "js", "javascript", "python", "go", "golang"}, 15},
	{[]string{"frontend", "backend", "mobile", "мобильн", "security", "безопасност"}, 10},
	{[]string{"education", "образован", "career", "карьер", "startup", "стартап"}, 5},
}

const noThemeMatch = 5

// Score returns the priority of e in [0,10]. profile may be nil.
func Score(e model.Event, profile *model.UserProfile, today civil.Date) float64 {
	return Explain(e, profile, today).Score()
}

// Explain computes the sub-scores behind Score. Every sub-score comes from
// the event alone; the profile does not change the weights.
func Explain(e model.Event, _ *model.UserProfile, today civil.Date) Breakdown {
	return Breakdown{
		Theme:    themeScore(e),
		Date:     dateScore(e.Date, today),
		Location: locationScore(e),
		Audience: audienceScore(e.Audience),
		Type:     typeScore(e.Type),
	}
}

func themeScore(e model.Event) int {
	var b strings.Builder
	for _, t := range e.Themes {
		b.WriteString(string(t))
		b.WriteByte(' ')
	}
	b.WriteString(e.Title)
	text := strings.ToLower(b.String())
	words := wordSet(text)

	for _, tier := range themeWeights {
		for _, k := range tier.keys {
			if len(k) <= 2 {
				if words[k] {
					return tier.weight
				}
				continue
			}
			if strings.Contains(text, k) {
				return tier.weight
			}
		}
	}
	return noThemeMatch
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = true
	}
	return out
}

func dateScore(d, today civil.Date) int {
	if !d.IsValid() {
		return 3
	}
	days := d.DaysSince(today)
	switch {
	case days < 0:
		return 0
	case days <= 7:
		return 25
	case days <= 30:
		return 20
	case days <= 90:
		return 15
	case days <= 180:
		return 10
	default:
		return 5
	}
}

func locationScore(e model.Event) int {
	switch {
	case e.Locality == model.LocalitySPb && e.Online:
		return 20
	case e.Locality == model.LocalitySPb:
		return 18
	case e.Locality == model.LocalityOnline:
		return 16
	case e.Locality == model.LocalityMoscow && e.Online:
		return 14
	case e.Locality == model.LocalityMoscow:
		return 8
	default:
		return 5
	}
}

func audienceScore(n *int) int {
	if n == nil {
		return 5
	}
	switch {
	case *n >= 1000:
		return 15
	case *n >= 500:
		return 12
	case *n >= 200:
		return 10
	case *n >= 100:
		return 8
	case *n >= 50:
		return 6
	default:
		return 4
	}
}

func typeScore(t model.EventType) int {
	switch t {
	case model.TypeConference:
		return 10
	case model.TypeHackathon:
		return 9
	case model.TypeMeetup, model.TypeForum:
		return 8
	case model.TypeSeminar, model.TypeRoundtable:
		return 7
	case model.TypeLecture, model.TypeEducational:
		return 6
	default:
		return 5
	}
}
