// Package calendar provides UTC-only calendar arithmetic on time.Time values.
//
// Every function takes and returns values; none of them mutate their input,
// so results can be reused freely across loop iterations.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayouts are the accepted input formats, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses s as a UTC instant. Timestamps without a zone are
// read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTimestamp renders t as an RFC 3339 UTC timestamp with milliseconds.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// AddMonths adds n calendar months. Day overflow rolls into the following
// month (Jan 31 + 1 month = Mar 3, or Mar 2 in a leap year).
func AddMonths(t time.Time, n int) time.Time {
	return t.UTC().AddDate(0, n, 0)
}

// AddDays adds n calendar days.
func AddDays(t time.Time, n int) time.Time {
	return t.UTC().AddDate(0, 0, n)
}

// StartOfMonth returns midnight on the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ShiftMonth returns the first day of the month n months after t's month.
// Unlike AddMonths it never overflows.
func ShiftMonth(t time.Time, n int) time.Time {
	return StartOfMonth(t).AddDate(0, n, 0)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// EndOfMonth returns midnight on the last day of t's month.
func EndOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), DaysIn(t.Year(), t.Month()), 0, 0, 0, 0, time.UTC)
}

// MonthDay resolves day within the month. Negative values count from the end
// (-1 is the last day). The result is clamped into the month, so 31 in April
// becomes April 30. Day 0 is invalid.
func MonthDay(year int, month time.Month, day int) (time.Time, bool) {
	if day == 0 {
		return time.Time{}, false
	}
	last := DaysIn(year, month)
	if day < 0 {
		day = last + day + 1
	}
	if day < 1 {
		day = 1
	}
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
}

// NthWeekday returns the n-th occurrence of wd in the month: 1 is the first,
// -1 the last. It reports false when the month has no such occurrence (a
// fifth Monday, for example).
func NthWeekday(year int, month time.Month, wd time.Weekday, n int) (time.Time, bool) {
	if n == 0 {
		return time.Time{}, false
	}
	last := DaysIn(year, month)
	if n > 0 {
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		offset := (int(wd) - int(first.Weekday()) + 7) % 7
		day := 1 + offset + (n-1)*7
		if day > last {
			return time.Time{}, false
		}
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
	}
	end := time.Date(year, month, last, 0, 0, 0, 0, time.UTC)
	offset := (int(end.Weekday()) - int(wd) + 7) % 7
	day := last - offset + (n+1)*7
	if day < 1 {
		return time.Time{}, false
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
}

// At returns date's calendar day at the clock time of tod.
func At(date, tod time.Time) time.Time {
	date, tod = date.UTC(), tod.UTC()
	return time.Date(date.Year(), date.Month(), date.Day(),
		tod.Hour(), tod.Minute(), tod.Second(), tod.Nanosecond(), time.UTC)
}

// WeekdayOffset returns how many days after from the next wd falls (0..6).
func WeekdayOffset(from, wd time.Weekday) int {
	return (int(wd) - int(from) + 7) % 7
}

// MonthsUntil returns the smallest n >= 0 such that AddMonths(from, n) is not
// before to.
func MonthsUntil(from, to time.Time) int {
	from, to = from.UTC(), to.UTC()
	if !from.Before(to) {
		return 0
	}
	n := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if n < 0 {
		n = 0
	}
	for AddMonths(from, n).Before(to) {
		n++
	}
	for n > 0 && !AddMonths(from, n-1).Before(to) {
		n--
	}
	return n
}
