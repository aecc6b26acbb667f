package source

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"itevents/internal/model"
)

// Annual is a hand-authored entry that recurs on the same calendar day every
// year.
type Annual struct {
	Template
	Month time.Month
	Day   int
}

// Curated is the always-included seed list.
type Curated struct {
	entries []Annual
	now     func() time.Time
	loc     *time.Location
}

func NewCurated(entries []Annual, now func() time.Time, loc *time.Location) *Curated {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Curated{entries: entries, now: now, loc: loc}
}

func (c *Curated) Source() string   { return "curated" }
func (c *Curated) Category() string { return CategoryCurated }

// Fetch emits every entry on its next occurrence after today.
func (c *Curated) Fetch(context.Context) []model.PartialEvent {
	today := civil.DateOf(c.now().In(c.loc))
	out := make([]model.PartialEvent, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.partial(c.Source(), nextAnnual(today, e.Month, e.Day)))
	}
	return out
}

func nextAnnual(today civil.Date, month time.Month, day int) civil.Date {
	d := civil.Date{Year: today.Year, Month: month, Day: day}
	if !d.IsValid() {
		// Feb 29 in a non-leap year.
		d = civil.Date{Year: today.Year, Month: month, Day: 28}
	}
	if !d.After(today) {
		d = civil.Date{Year: today.Year + 1, Month: month, Day: day}
		if !d.IsValid() {
			d.Day = 28
		}
	}
	return d
}

// CuratedBase is the hand-authored seed list.
var CuratedBase = []Annual{
	{Month: time.November, Day: 20, Template: Template{
		Title: "AI Journey {year}", Type: "conference", Location: "Москва + онлайн", Audience: "5000",
		Themes: []string{"AI", "Data Science"}, URL: "https://aij.ru/",
		Description: "Международная конференция по искусственному интеллекту и анализу данных.",
	}},
	{Month: time.November, Day: 27, Template: Template{
		Title: "HighLoad++ {year}", Type: "conference", Location: "Москва", Audience: "3500",
		Themes: []string{"Dev", "DevOps", "Cloud"}, URL: "https://highload.ru/",
		Description: "Конференция разработчиков высоконагруженных систем.",
	}},
	{Month: time.June, Day: 27, Template: Template{
		Title: "PiterPy Conference {year}", Type: "conference", Location: "Санкт-Петербург + online", Audience: "800",
		Themes: []string{"Dev", "Data Science"}, URL: "https://piterpy.com/",
	}},
	{Month: time.October, Day: 14, Template: Template{
		Title: "Joker Java Conference {year}", Type: "conference", Location: "Санкт-Петербург", Audience: "1500",
		Themes: []string{"Dev", "Web"}, URL: "https://jokerconf.com/",
	}},
	{Month: time.April, Day: 17, Template: Template{
		Title: "Mobius Mobile Conference {year}", Type: "conference", Location: "Санкт-Петербург + online", Audience: "900",
		Themes: []string{"Mobile"}, URL: "https://mobius-piter.ru/",
	}},
	{Month: time.April, Day: 3, Template: Template{
		Title: "Heisenbug Testing Conference {year}", Type: "conference", Location: "Санкт-Петербург", Audience: "700",
		Themes: []string{"Dev"}, URL: "https://heisenbug.ru/",
	}},
	{Month: time.September, Day: 24, Template: Template{
		Title: "DevOops DevOps Conference {year}", Type: "conference", Location: "Санкт-Петербург + online", Audience: "600",
		Themes: []string{"DevOps", "Cloud"}, URL: "https://devoops.ru/",
	}},
	{Month: time.November, Day: 6, Template: Template{
		Title: "HolyJS Frontend Conference {year}", Type: "conference", Location: "Санкт-Петербург + online", Audience: "1000",
		Themes: []string{"Web"}, URL: "https://holyjs.ru/",
	}},
	{Month: time.May, Day: 21, Template: Template{
		Title: "Positive Hack Days {year}", Type: "forum", Location: "Москва", Audience: "10000",
		Themes: []string{"Security"}, URL: "https://phdays.com/",
	}},
	{Month: time.June, Day: 1, Template: Template{
		Title: "Data Fest {year}", Type: "conference", Location: "online", Audience: "2000",
		Themes: []string{"Data Science", "AI"}, URL: "https://datafest.ru/",
	}},
	{Month: time.March, Day: 28, Template: Template{
		Title: "GolangConf {year}", Type: "conference", Location: "Москва", Audience: "700",
		Themes: []string{"Dev", "Cloud"}, URL: "https://golangconf.ru/",
	}},
	{Month: time.December, Day: 5, Template: Template{
		Title: "Петербургский хакатон ИИ {year}", Type: "hackathon", Location: "Санкт-Петербург", Audience: "300",
		Themes: []string{"AI"},
	}},
	{Month: time.February, Day: 15, Template: Template{
		Title: "Startup Village Demo Day {year}", Type: "demo-day", Location: "Москва, Сколково", Audience: "1200",
		Themes: []string{"Startup"},
	}},
	{Month: time.September, Day: 10, Template: Template{
		Title: "SPb Cloud Native Summit {year}", Type: "forum", Location: "Санкт-Петербург", Audience: "400",
		Themes: []string{"Cloud", "DevOps"},
	}},
	{Month: time.July, Day: 18, Template: Template{
		Title: "Blockchain Weekend Online {year}", Type: "seminar", Location: "online", Audience: "250",
		Themes: []string{"Blockchain"},
	}},
}
