// Package ics writes personal calendars as iCalendar files and reads
// iCalendar feeds published by event sources.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"itevents/internal/model"
)

const ProdID = "-//itevents//IT events assistant//EN"

// reminders are the VALARM triggers attached to every exported event.
var reminders = []string{"-P1D", "-PT1H"}

// ExportOptions control how event dates become instants.
type ExportOptions struct {
	Location *time.Location
	// Hour and Minute are the start clock time applied to every event.
	Hour, Minute int
	Duration     time.Duration
	// Host is the right-hand side of generated UIDs.
	Host string
	Now  func() time.Time
	// NewUID returns the left-hand side of a UID; uuid by default.
	NewUID func() string
}

func (o ExportOptions) withDefaults() ExportOptions {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Hour == 0 && o.Minute == 0 {
		o.Hour = 10
	}
	if o.Duration <= 0 {
		o.Duration = 3 * time.Hour
	}
	if o.Host == "" {
		o.Host = "itevents.local"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewUID == nil {
		o.NewUID = uuid.NewString
	}
	return o
}

// Export renders events as one VCALENDAR with a VEVENT per event. Each event
// carries reminders one day and one hour before the start. Instants are
// written in UTC so no VTIMEZONE block is needed.
func Export(events []model.Event, opts ExportOptions) []byte {
	opts = opts.withDefaults()
	stamp := opts.Now()

	cal := ical.NewCalendar()
	cal.SetProductId(ProdID)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)

	for _, e := range events {
		start := e.StartTime(opts.Hour, opts.Minute, opts.Location)

		ve := cal.AddEvent(opts.NewUID() + "@" + opts.Host)
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(opts.Duration))
		ve.SetSummary(plain(e.Title))
		ve.SetDescription(plain(describe(e)))
		if e.Location != "" {
			ve.SetLocation(plain(e.Location))
		}
		if e.URL != "" {
			ve.SetURL(e.URL)
		}
		for _, trigger := range reminders {
			alarm := ve.AddAlarm()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetDescription(plain(e.Title))
			alarm.SetTrigger(trigger)
		}
	}
	return []byte(cal.Serialize(ical.WithNewLineWindows))
}

// describe is the event description, or a short summary built from the
// event fields when the source gave none.
func describe(e model.Event) string {
	if e.Description != "" {
		return e.Description
	}
	var parts []string
	parts = append(parts, fmt.Sprintf("Type: %s", e.Type))
	if len(e.Themes) > 0 {
		names := make([]string, len(e.Themes))
		for i, t := range e.Themes {
			names[i] = string(t)
		}
		parts = append(parts, "Themes: "+strings.Join(names, ", "))
	}
	if e.URL != "" {
		parts = append(parts, e.URL)
	}
	return strings.Join(parts, "\n")
}

// plain drops carriage returns; TEXT values only carry LF line breaks.
func plain(s string) string {
	return strings.ReplaceAll(s, "\r", "")
}
