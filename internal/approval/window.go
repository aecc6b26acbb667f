package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// WorkWindow is a weekly interval during which managers are notified
// immediately.
type WorkWindow struct {
	Start    time.Duration // offset from local midnight
	End      time.Duration
	Weekdays []time.Weekday
	Location *time.Location
}

// NewWorkWindow builds a window from clock times. loc may be nil, in which
// case the window is never open.
func NewWorkWindow(startH, startM, endH, endM int, weekdays []time.Weekday, loc *time.Location) WorkWindow {
	return WorkWindow{
		Start:    time.Duration(startH)*time.Hour + time.Duration(startM)*time.Minute,
		End:      time.Duration(endH)*time.Hour + time.Duration(endM)*time.Minute,
		Weekdays: weekdays,
		Location: loc,
	}
}

// Contains reports whether t falls inside the window. A zero instant or a
// window without a timezone counts as outside.
func (w WorkWindow) Contains(t time.Time) bool {
	if t.IsZero() || w.Location == nil || w.End <= w.Start {
		return false
	}
	local := t.In(w.Location)
	if !w.onDay(local.Weekday()) {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.Location)
	off := local.Sub(midnight)
	return off >= w.Start && off < w.End
}

func (w WorkWindow) onDay(d time.Weekday) bool {
	for _, v := range w.Weekdays {
		if v == d {
			return true
		}
	}
	return false
}

var rruleDays = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// rule renders the window openings as an RRULE.
func (w WorkWindow) rule() string {
	days := make([]string, 0, len(w.Weekdays))
	for _, d := range w.Weekdays {
		days = append(days, rruleDays[d])
	}
	start := w.Start.Truncate(time.Minute)
	return fmt.Sprintf("FREQ=WEEKLY;BYDAY=%s;BYHOUR=%d;BYMINUTE=%d;BYSECOND=0",
		strings.Join(days, ","), int(start/time.Hour), int(start%time.Hour/time.Minute))
}

// NextOpen returns t if the window is open at t, otherwise the next opening.
// ok is false when the window never opens.
func (w WorkWindow) NextOpen(t time.Time) (time.Time, bool) {
	if w.Contains(t) {
		return t, true
	}
	if t.IsZero() || w.Location == nil || len(w.Weekdays) == 0 || w.End <= w.Start {
		return time.Time{}, false
	}
	r, err := rrule.StrToRRule(w.rule())
	if err != nil {
		return time.Time{}, false
	}
	local := t.In(w.Location)
	r.DTStart(time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.Location))
	next := r.After(local, true)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
