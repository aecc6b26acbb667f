package source

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	appLog "itevents/internal/log"
	"itevents/internal/model"
)

// Selectors are permissive CSS selector lists applied to a listing page.
type Selectors struct {
	Card     string
	Title    string
	Date     string
	Location string
	Link     string
}

// DefaultSelectors match the common card markup of event listings.
var DefaultSelectors = Selectors{
	Card:     "article, .event, .event-card, .event-item, li.event",
	Title:    "h1, h2, h3, .title, .event-title, a",
	Date:     "time, .date, .event-date",
	Location: ".location, .place, .address, .event-location",
	Link:     "a[href]",
}

func (s Selectors) withDefaults() Selectors {
	if s.Card == "" {
		s.Card = DefaultSelectors.Card
	}
	if s.Title == "" {
		s.Title = DefaultSelectors.Title
	}
	if s.Date == "" {
		s.Date = DefaultSelectors.Date
	}
	if s.Location == "" {
		s.Location = DefaultSelectors.Location
	}
	if s.Link == "" {
		s.Link = DefaultSelectors.Link
	}
	return s
}

// ListingScraper extracts event cards from one or more category pages.
type ListingScraper struct {
	id        string
	category  string
	urls      []string
	selectors Selectors
	fetcher   PageFetcher
}

// NewListingScraper builds a scraper; empty selectors use the defaults.
func NewListingScraper(id, category string, urls []string, sel Selectors, fetcher PageFetcher) *ListingScraper {
	if category == "" {
		category = CategoryAggregators
	}
	return &ListingScraper{
		id:        id,
		category:  category,
		urls:      urls,
		selectors: sel.withDefaults(),
		fetcher:   fetcher,
	}
}

func (l *ListingScraper) Source() string   { return l.id }
func (l *ListingScraper) Category() string { return l.category }

// Fetch scrapes every URL. A failing URL contributes nothing.
func (l *ListingScraper) Fetch(ctx context.Context) []model.PartialEvent {
	var out []model.PartialEvent
	for _, u := range l.urls {
		if ctx.Err() != nil {
			break
		}
		body, err := l.fetcher.FetchPage(ctx, u)
		if err != nil {
			appLog.Error("listing fetch failed", err, "source", l.id, "url", redactURL(u))
			continue
		}
		cards, err := l.parse(u, body)
		if err != nil {
			appLog.Error("listing parse failed", err, "source", l.id, "url", redactURL(u))
			continue
		}
		appLog.Debug("listing parsed", "source", l.id, "url", redactURL(u), "cards", len(cards))
		out = append(out, cards...)
	}
	return out
}

func (l *ListingScraper) parse(pageURL string, body []byte) ([]model.PartialEvent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(pageURL)

	var out []model.PartialEvent
	doc.Find(l.selectors.Card).EachWithBreak(func(i int, card *goquery.Selection) bool {
		if i >= MaxCardsPerURL {
			return false
		}
		if p, ok := l.extractCard(card, base); ok {
			out = append(out, p)
		}
		return true
	})
	return out, nil
}

func (l *ListingScraper) extractCard(card *goquery.Selection, base *url.URL) (model.PartialEvent, bool) {
	title := cleanText(card.Find(l.selectors.Title).First().Text())
	if title == "" {
		title = cleanText(card.Text())
	}
	if title == "" {
		return model.PartialEvent{}, false
	}

	p := model.PartialEvent{Title: title, Source: l.id}

	dateSel := card.Find(l.selectors.Date).First()
	if dt, ok := dateSel.Attr("datetime"); ok && len(dt) >= 10 {
		p.Date = dt[:10]
	} else {
		p.Date = extractDate(dateSel.Text())
	}
	if p.Date == "" {
		p.Date = extractDate(card.Text())
	}

	p.Location = cleanText(card.Find(l.selectors.Location).First().Text())

	link := card.Find(l.selectors.Link).First()
	if goquery.NodeName(card) == "a" {
		link = card
	}
	if href, ok := link.Attr("href"); ok {
		p.URL = resolveURL(base, href)
	}
	return p, true
}

var (
	whitespace = regexp.MustCompile(`\s+`)
	dateInText = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d{2}[./]\d{2}[./]\d{4}`)
)

func cleanText(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func extractDate(s string) string {
	return dateInText.FindString(s)
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
