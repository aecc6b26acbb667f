// Package normalize turns raw adapter output into canonical events and
// collapses duplicates.
package normalize

import (
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/civil"

	"itevents/internal/model"
)

const (
	MinTitleLen = 5
	MaxTitleLen = 300

	// ProvisionalScore is stored until ranking recomputes the score.
	ProvisionalScore = 5.0
)

// ErrInvalidEvent is returned for records that cannot become events.
var ErrInvalidEvent = errors.New("invalid event")

// Rejection reasons, also used as diagnostic counter keys.
const (
	ReasonEmptyTitle = "empty_title"
	ReasonShortTitle = "short_title"
	ReasonLongTitle  = "long_title"
	ReasonMarkup     = "markup"
	ReasonURLTitle   = "url_title"
	ReasonNoDate     = "no_date"
	ReasonNoThemes   = "no_themes"
	ReasonBadType    = "bad_type"
	ReasonBadScore   = "bad_score"
)

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, reason)
}

// Reason extracts the rejection reason from an error returned by Normalize or
// Validate.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	_, reason, ok := strings.Cut(err.Error(), ErrInvalidEvent.Error()+": ")
	if !ok {
		return "unknown"
	}
	return reason
}

var markupMarkers = []string{"<", ">", "&lt;", "&gt;", "javascript:", "{{", "}}"}

// CheckTitle applies the title rules to an already trimmed title.
func CheckTitle(title string) error {
	n := utf8.RuneCountInString(title)
	switch {
	case n == 0:
		return invalid(ReasonEmptyTitle)
	case n < MinTitleLen:
		return invalid(ReasonShortTitle)
	case n > MaxTitleLen:
		return invalid(ReasonLongTitle)
	}
	lower := strings.ToLower(title)
	for _, m := range markupMarkers {
		if strings.Contains(lower, m) {
			return invalid(ReasonMarkup)
		}
	}
	if looksLikeURL(lower) {
		return invalid(ReasonURLTitle)
	}
	return nil
}

func looksLikeURL(s string) bool {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "www.") {
		return true
	}
	if strings.ContainsAny(s, " \t") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks the canonical event invariants.
func Validate(e model.Event) error {
	if err := CheckTitle(strings.TrimSpace(e.Title)); err != nil {
		return err
	}
	if !e.Date.IsValid() {
		return invalid(ReasonNoDate)
	}
	if len(e.Themes) == 0 {
		return invalid(ReasonNoThemes)
	}
	for _, t := range e.Themes {
		if !t.Valid() {
			return invalid(ReasonNoThemes)
		}
	}
	if !e.Type.Valid() {
		return invalid(ReasonBadType)
	}
	if e.PriorityScore < 0 || e.PriorityScore > 10 {
		return invalid(ReasonBadScore)
	}
	return nil
}

var dateLayouts = []string{"2006-01-02", "02.01.2006", "02/01/2006"}

// ParseDate accepts YYYY-MM-DD, DD.MM.YYYY and DD/MM/YYYY.
func ParseDate(s string) (civil.Date, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

var firstInt = regexp.MustCompile(`\d+`)

// ParseAudience extracts the first integer from s.
func ParseAudience(s string) *int {
	m := firstInt.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

// Normalizer converts partial records to events. Dates that fail to parse are
// replaced with a random date in [today+1, today+365].
type Normalizer struct {
	now func() time.Time
	loc *time.Location

	mu  sync.Mutex
	rnd *rand.Rand
}

// New builds a Normalizer. rnd is used only for fallback dates.
func New(now func() time.Time, loc *time.Location, rnd *rand.Rand) *Normalizer {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Normalizer{now: now, loc: loc, rnd: rnd}
}

// Normalize returns the canonical event for p or an error wrapping
// ErrInvalidEvent.
func (n *Normalizer) Normalize(p model.PartialEvent) (model.Event, error) {
	title := strings.Join(strings.Fields(p.Title), " ")
	if err := CheckTitle(title); err != nil {
		return model.Event{}, err
	}

	date, ok := ParseDate(p.Date)
	if !ok {
		date = n.randomDate()
	}

	typ := model.EventType(strings.ToLower(strings.TrimSpace(p.Type)))
	if !typ.Valid() {
		if strings.TrimSpace(p.Type) != "" {
			typ = ClassifyType(p.Type)
		}
		if !typ.Valid() || typ == model.TypeGeneric {
			typ = ClassifyType(title)
		}
	}

	themes := resolveThemes(p.Themes)
	if len(themes) == 0 {
		themes = ClassifyThemes(title)
	}
	if len(themes) == 0 {
		themes = []model.Theme{model.ThemeGenericIT}
	}

	location := strings.ToLower(strings.TrimSpace(p.Location))
	locality, online := ClassifyLocation(location)

	ev := model.Event{
		Title:            title,
		Date:             date,
		Location:         location,
		Locality:         locality,
		Online:           online,
		Type:             typ,
		Audience:         ParseAudience(p.Audience),
		Themes:           themes,
		Speakers:         cleanList(p.Speakers),
		Description:      strings.TrimSpace(p.Description),
		RegistrationInfo: strings.TrimSpace(p.RegistrationInfo),
		URL:              cleanURL(p.URL),
		Source:           p.Source,
		PriorityScore:    ProvisionalScore,
	}
	return ev, nil
}

// Stats counts the outcome of a batch normalization.
type Stats struct {
	Accepted int
	Rejected map[string]int
}

// NormalizeAll normalizes a batch, dropping invalid records.
func (n *Normalizer) NormalizeAll(ps []model.PartialEvent) ([]model.Event, Stats) {
	st := Stats{Rejected: make(map[string]int)}
	out := make([]model.Event, 0, len(ps))
	for _, p := range ps {
		ev, err := n.Normalize(p)
		if err != nil {
			st.Rejected[Reason(err)]++
			continue
		}
		st.Accepted++
		out = append(out, ev)
	}
	return out, st
}

func (n *Normalizer) randomDate() civil.Date {
	today := civil.DateOf(n.now().In(n.loc))
	n.mu.Lock()
	offset := 1 + n.rnd.Intn(365)
	n.mu.Unlock()
	return today.AddDays(offset)
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// cleanURL keeps absolute http(s) URLs and maps everything else to "".
func cleanURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}
