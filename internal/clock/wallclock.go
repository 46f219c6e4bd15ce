package clock

import (
	"fmt"
	"strings"
	"time"
)

// WallClock is a date and time exactly as a user typed it, with no
// timezone attached.
type WallClock struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
}

// offsetLayout renders a numeric UTC offset even at UTC itself. The
// "Z07:00" form of RFC 3339 is deliberately avoided: a bare-Z stamp read
// back on another device shifts the displayed time by the zone's offset.
const offsetLayout = "2006-01-02T15:04:05-07:00"

// maxOffsetCorrections bounds the encode loop. One pass fixes the zone's
// standing offset; a second pass is only needed when that first shift
// lands on the other side of a DST transition and the offset changes
// under it. No real zone changes offset twice within a few hours, so two
// passes always converge.
const maxOffsetCorrections = 2

// IsZero reports whether the wall clock carries no usable date.
func (w WallClock) IsZero() bool {
	return w.Year == 0 && w.Month == 0 && w.Day == 0
}

// ToAbsolute converts a wall-clock time in the given zone to an absolute
// instant using iterative offset correction:
//
//  1. Guess the instant by reading the fields as if they were UTC.
//  2. Render the guess back into wall-clock fields as seen from loc.
//  3. Shift the guess by the difference between the desired fields and
//     the rendered ones, and repeat once.
//
// An empty wall clock yields the current time. This sits beneath form
// fields, so it degrades instead of failing.
func ToAbsolute(w WallClock, loc *time.Location) time.Time {
	if w.IsZero() {
		return time.Now()
	}
	if loc == nil {
		loc = time.UTC
	}

	want := time.Date(w.Year, time.Month(w.Month), w.Day, w.Hour, w.Minute, 0, 0, time.UTC)
	guess := want
	for i := 0; i < maxOffsetCorrections; i++ {
		seen := guess.In(loc)
		rendered := time.Date(seen.Year(), seen.Month(), seen.Day(), seen.Hour(), seen.Minute(), 0, 0, time.UTC)
		diff := want.Sub(rendered)
		if diff == 0 {
			break
		}
		guess = guess.Add(diff)
	}
	return guess
}

// ToOffsetString renders an instant as YYYY-MM-DDTHH:mm:ss±HH:MM with
// the offset of loc at that instant. It never emits a bare Z suffix.
func ToOffsetString(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	if t.IsZero() {
		t = time.Now()
	}
	return t.In(loc).Format(offsetLayout)
}

// ParseOffsetInstant parses an ISO-8601 timestamp that carries an
// explicit numeric offset. Strings ending in a bare Z, or with no offset
// at all, are rejected: every timestamp entering the system must be
// reconstructible to the same instant regardless of the reader's zone.
func ParseOffsetInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
		return time.Time{}, fmt.Errorf("timestamp %q uses a bare Z suffix, expected an explicit ±HH:MM offset", s)
	}
	t, err := time.Parse(offsetLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid offset timestamp %q: %w", s, err)
	}
	return t, nil
}

// Style selects a display format.
type Style int

const (
	StyleDateTime Style = iota // "Sun, 1 Feb 2026 • 5:00 PM"
	StyleTime                  // "5:00 PM"
)

// Format renders an instant for display in the resolved timezone,
// regardless of the viewer's device zone. A zero instant formats as now.
func Format(t time.Time, loc *time.Location, style Style) string {
	if loc == nil {
		loc = time.UTC
	}
	if t.IsZero() {
		t = time.Now()
	}
	local := t.In(loc)
	switch style {
	case StyleTime:
		return local.Format("3:04 PM")
	default:
		return local.Format("Mon, 2 Jan 2006 • 3:04 PM")
	}
}
