package ics

import (
	"time"

	"github.com/teambition/rrule-go"
)

// NextOccurrence returns the first start of e within [from, until]. RRULE
// and EXDATE are honoured; a malformed rule counts as no occurrence.
func NextOccurrence(e Entry, from, until time.Time) (time.Time, bool) {
	if until.Before(from) || e.Start.IsZero() {
		return time.Time{}, false
	}
	if e.RawRRule == "" {
		if e.Start.Before(from) || e.Start.After(until) {
			return time.Time{}, false
		}
		return e.Start, true
	}

	r, err := rrule.StrToRRule(e.RawRRule)
	if err != nil {
		return time.Time{}, false
	}
	r.DTStart(e.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(e.Start.Location()))
	}

	next := set.After(from.In(e.Start.Location()), true)
	if next.IsZero() || next.After(until) {
		return time.Time{}, false
	}
	return next, true
}
