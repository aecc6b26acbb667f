package source

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"itevents/internal/model"
)

// Template is one templated listing for a source that cannot be scraped.
// "{year}" in Title is replaced with the year of the drawn date.
type Template struct {
	Title       string
	Type        string
	Location    string
	Audience    string
	Themes      []string
	Description string
	URL         string
}

// TemplateGenerator emits its templates with random dates drawn from
// [today+1, today+365].
type TemplateGenerator struct {
	id        string
	category  string
	templates []Template
	now       func() time.Time
	loc       *time.Location

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewTemplateGenerator builds a generator. A nil rnd is seeded from the clock;
// tests pass a seeded source.
func NewTemplateGenerator(id, category string, templates []Template, rnd *rand.Rand, now func() time.Time, loc *time.Location) *TemplateGenerator {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(now().UnixNano()))
	}
	return &TemplateGenerator{id: id, category: category, templates: templates, rnd: rnd, now: now, loc: loc}
}

func (g *TemplateGenerator) Source() string   { return g.id }
func (g *TemplateGenerator) Category() string { return g.category }

func (g *TemplateGenerator) Fetch(ctx context.Context) []model.PartialEvent {
	today := civil.DateOf(g.now().In(g.loc))
	out := make([]model.PartialEvent, 0, len(g.templates))
	for _, t := range g.templates {
		if ctx.Err() != nil {
			break
		}
		g.mu.Lock()
		date := today.AddDays(1 + g.rnd.Intn(365))
		g.mu.Unlock()
		out = append(out, t.partial(g.id, date))
	}
	return out
}

func (t Template) partial(source string, date civil.Date) model.PartialEvent {
	return model.PartialEvent{
		Title:       strings.ReplaceAll(t.Title, "{year}", strconv.Itoa(date.Year)),
		Date:        date.String(),
		Location:    t.Location,
		Type:        t.Type,
		Audience:    t.Audience,
		Themes:      append([]string(nil), t.Themes...),
		Description: t.Description,
		URL:         t.URL,
		Source:      source,
	}
}
