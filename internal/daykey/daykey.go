// Package daykey models the calendar-day labels snapshots are filed under.
//
// A Day is always supplied by the caller. It is never inferred from the time a
// snapshot was retrieved, so backfill runs can label data "as of" a past day.
package daykey

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the ISO-8601 calendar date format used for day keys.
const Layout = "2006-01-02"

// ErrInvertedRange is returned when a range ends before it starts.
var ErrInvertedRange = errors.New("range end precedes start")

// Day is a UTC calendar date.
type Day struct {
	t time.Time
}

// Parse reads a YYYY-MM-DD key.
func Parse(raw string) (Day, error) {
	t, err := time.Parse(Layout, strings.TrimSpace(raw))
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", raw, err)
	}
	return Day{t: t.UTC()}, nil
}

// FromTime truncates t to its UTC calendar day.
func FromTime(t time.Time) Day {
	u := t.UTC()
	return Day{t: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
}

// String renders the key as YYYY-MM-DD.
func (d Day) String() string {
	return d.t.Format(Layout)
}

// IsZero reports whether d is unset.
func (d Day) IsZero() bool {
	return d.t.IsZero()
}

// Equal reports whether two keys name the same day.
func (d Day) Equal(other Day) bool {
	return d.t.Equal(other.t)
}

// Before reports whether d precedes other.
func (d Day) Before(other Day) bool {
	return d.t.Before(other.t)
}

// Next returns the following day.
func (d Day) Next() Day {
	return Day{t: d.t.AddDate(0, 0, 1)}
}

// Expand substitutes the day tokens {YYYY}, {MM}, {DD}, {DATE} and
// {YYYY-MM-DD} in template.
func (d Day) Expand(template string) string {
	if !strings.Contains(template, "{") {
		return template
	}
	r := strings.NewReplacer(
		"{YYYY-MM-DD}", d.String(),
		"{DATE}", d.String(),
		"{YYYY}", d.t.Format("2006"),
		"{MM}", d.t.Format("01"),
		"{DD}", d.t.Format("02"),
	)
	return r.Replace(template)
}

// Range lists the days from start to end inclusive in ascending order. A
// positive limit keeps only the first limit days; truncated reports whether
// that dropped any.
func Range(start, end Day, limit int) (days []Day, truncated bool, err error) {
	if start.IsZero() || end.IsZero() {
		return nil, false, errors.New("range requires both start and end")
	}
	if end.Before(start) {
		return nil, false, fmt.Errorf("%w: %s > %s", ErrInvertedRange, start, end)
	}
	for d := start; !end.Before(d); d = d.Next() {
		if limit > 0 && len(days) == limit {
			return days, true, nil
		}
		days = append(days, d)
	}
	return days, false, nil
}
