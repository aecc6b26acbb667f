package source

import (
	"math/rand"
	"sort"
	"time"

	"itevents/internal/config"
)

// CompanyTemplates stand in for company event pages that block scraping.
var CompanyTemplates = map[string][]Template{
	"yandex": {
		{Title: "Yandex Backend Meetup", Type: "meetup", Location: "Санкт-Петербург", Audience: "200", Themes: []string{"Web", "Dev"}},
		{Title: "Yandex ML Party", Type: "meetup", Location: "Москва + онлайн", Audience: "400", Themes: []string{"AI"}},
		{Title: "Yandex Mobile Dev Day", Type: "conference", Location: "online", Audience: "600", Themes: []string{"Mobile"}},
	},
	"sber": {
		{Title: "SberDevices Tech Talks", Type: "lecture", Location: "online", Audience: "150", Themes: []string{"Dev"}},
		{Title: "Sber AI Lab Open Day", Type: "seminar", Location: "Москва", Audience: "300", Themes: []string{"AI", "Data Science"}},
	},
	"vk": {
		{Title: "VK Tech Frontend Meetup", Type: "meetup", Location: "Санкт-Петербург", Audience: "180", Themes: []string{"Web"}},
		{Title: "VK Cloud Conf {year}", Type: "conference", Location: "Москва + online", Audience: "1200", Themes: []string{"Cloud", "DevOps"}},
	},
	"kaspersky": {
		{Title: "Kaspersky Security Day", Type: "forum", Location: "Москва", Audience: "500", Themes: []string{"Security"}},
	},
	"jetbrains": {
		{Title: "JetBrains Kotlin Workshop", Type: "workshop", Location: "Санкт-Петербург", Audience: "60", Themes: []string{"Mobile", "Dev"}},
	},
}

// CommunityEvents are regular community meetups on fixed schedules.
var CommunityEvents = []Recurring{
	{Rule: "FREQ=MONTHLY;BYDAY=+2TH", Template: Template{Title: "Go SPb Community Meetup", Type: "meetup", Location: "Санкт-Петербург", Audience: "80", Themes: []string{"Dev"}}},
	{Rule: "FREQ=MONTHLY;BYDAY=-1WE", Template: Template{Title: "SPb Python Community Meetup", Type: "meetup", Location: "Санкт-Петербург + online", Audience: "120", Themes: []string{"Dev", "Data Science"}}},
	{Rule: "FREQ=MONTHLY;BYDAY=+1TU", Template: Template{Title: "GDG Saint Petersburg Tech Talk", Type: "lecture", Location: "Санкт-Петербург", Audience: "100", Themes: []string{"Mobile", "Web", "Cloud"}}},
	{Rule: "FREQ=WEEKLY;INTERVAL=2;BYDAY=FR", Template: Template{Title: "Open Data Science Online Reading Club", Type: "seminar", Location: "online", Audience: "60", Themes: []string{"Data Science", "AI"}}},
	{Rule: "FREQ=MONTHLY;BYDAY=+3SA", Template: Template{Title: "SPb Security Community CTF Training", Type: "workshop", Location: "Санкт-Петербург", Audience: "40", Themes: []string{"Security"}}},
	{Rule: "FREQ=MONTHLY;BYDAY=+1TH", Template: Template{Title: "Moscow DevOps Community Evening", Type: "meetup", Location: "Москва", Audience: "150", Themes: []string{"DevOps"}}},
}

// Deps carries what the built-in adapters need.
type Deps struct {
	Page     PageFetcher
	Rendered PageFetcher
	Rand     *rand.Rand
	Now      func() time.Time
	Location *time.Location
}

// BuildAdapters assembles the adapter set: configured listing scrapers, one
// template generator per company, the recurring community generator and the
// curated base.
func BuildAdapters(cfg *config.Config, d Deps) []Adapter {
	var out []Adapter
	for _, sc := range cfg.Sources {
		if sc.Disabled || sc.ID == "" || len(sc.URLs) == 0 {
			continue
		}
		fetcher := d.Page
		if sc.Rendered && d.Rendered != nil {
			fetcher = d.Rendered
		}
		if fetcher == nil {
			continue
		}
		if sc.Format == FormatICS {
			out = append(out, NewICSFeed(sc.ID, sc.Category, sc.URLs, fetcher, cfg.MaxFutureDays, d.Now, d.Location))
			continue
		}
		sel := Selectors{Card: sc.Card, Title: sc.Title, Date: sc.Date, Location: sc.Location, Link: sc.Link}
		out = append(out, NewListingScraper(sc.ID, sc.Category, sc.URLs, sel, fetcher))
	}

	for _, company := range sortedKeys(CompanyTemplates) {
		out = append(out, NewTemplateGenerator("company-"+company, CategoryCompanies, CompanyTemplates[company], d.Rand, d.Now, d.Location))
	}
	out = append(out, NewRecurringGenerator("communities", CategoryCommunities, CommunityEvents, cfg.MaxFutureDays, d.Now, d.Location))
	out = append(out, NewCurated(CuratedBase, d.Now, d.Location))
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
