package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

const dateTimeUTC = "20060102T150405Z"

// Entry is one VEVENT read from a calendar. Text values are unescaped.
type Entry struct {
	UID         string
	Summary     string
	Description string
	Location    string
	URL         string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time
	// Triggers are the VALARM TRIGGER values in file order.
	Triggers []string
}

var errEmptyCalendar = errors.New("empty calendar body")

// Parse reads every VEVENT in body. Events without a start are skipped.
// Floating times and dates are read in loc (UTC when nil).
func Parse(body []byte, loc *time.Location) ([]Entry, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errEmptyCalendar
	}
	if loc == nil {
		loc = time.UTC
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, ve := range cal.Events() {
		e, ok := parseEvent(ve, loc)
		if !ok {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// text returns a property value; the parser has already unescaped TEXT
// values.
func text(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func parseEvent(ve *ical.VEvent, loc *time.Location) (Entry, bool) {
	e := Entry{
		UID:         text(ve, ical.ComponentPropertyUniqueId),
		Summary:     text(ve, ical.ComponentPropertySummary),
		Description: text(ve, ical.ComponentPropertyDescription),
		Location:    text(ve, ical.ComponentPropertyLocation),
		URL:         text(ve, ical.ComponentPropertyUrl),
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return Entry{}, false
	}
	if params := dtStart.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			e.AllDay = true
		}
	}
	if !strings.Contains(dtStart.Value, "T") {
		e.AllDay = true
	}

	start, err := ve.GetStartAt()
	if err != nil {
		if start, err = parseTime(dtStart.Value, loc); err != nil {
			return Entry{}, false
		}
	}
	e.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		e.End = end
	} else if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		e.End, _ = parseTime(dtEnd.Value, loc)
	}

	if r := ve.GetProperty(ical.ComponentPropertyRrule); r != nil {
		e.RawRRule = r.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTime(part, start.Location()); err == nil {
				e.ExDates = append(e.ExDates, t)
			}
		}
	}

	for _, c := range ve.Components {
		alarm, ok := c.(*ical.VAlarm)
		if !ok {
			continue
		}
		if tr := alarm.GetProperty(ical.ComponentPropertyTrigger); tr != nil {
			e.Triggers = append(e.Triggers, tr.Value)
		}
	}
	return e, true
}

// parseTime reads the basic DATE and DATE-TIME forms.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse(dateTimeUTC, v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
