package rrule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/hray3182/instancegen/internal/calendar"
	"github.com/hray3182/instancegen/internal/models"
)

var weekdayCodes = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

var nthPattern = regexp.MustCompile(`^([+-]?\d{1,2})(MO|TU|WE|TH|FR|SA|SU)$`)

// NthWeekday is an ordinal weekday token such as 2MO (second Monday) or
// -1FR (last Friday).
type NthWeekday struct {
	N       int
	Weekday time.Weekday
}

// ByDay is a parsed BYDAY list.
type ByDay struct {
	// Weekdays holds the distinct plain codes (MO, TU, ...) in input order.
	Weekdays []time.Weekday
	// Nth holds the ordinal tokens in input order.
	Nth []NthWeekday
}

// ParseWeekday maps a two-letter weekday code to a time.Weekday.
func ParseWeekday(code string) (time.Weekday, bool) {
	wd, ok := weekdayCodes[strings.ToUpper(strings.TrimSpace(code))]
	return wd, ok
}

// ParseByDay splits BYDAY tokens into plain and ordinal weekdays.
// Unrecognized tokens, and ordinals outside 1..5 / -5..-1, are dropped.
func ParseByDay(tokens []string) ByDay {
	var out ByDay
	seen := make(map[time.Weekday]bool)
	for _, tok := range tokens {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if wd, ok := weekdayCodes[tok]; ok {
			if !seen[wd] {
				seen[wd] = true
				out.Weekdays = append(out.Weekdays, wd)
			}
			continue
		}
		m := nthPattern.FindStringSubmatch(tok)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n == 0 || n > 5 || n < -5 {
			continue
		}
		out.Nth = append(out.Nth, NthWeekday{N: n, Weekday: weekdayCodes[m[2]]})
	}
	return out
}

// ToROption converts a rule into rrule-go options starting at the rule's
// recurrenceStartDate. Only the parts the expander honours are carried over:
// plain weekdays for WEEKLY, the first ordinal weekday (or BYMONTHDAY) for
// MONTHLY.
func ToROption(rule models.RecurrenceRule) (*rrule.ROption, error) {
	start, err := calendar.ParseTimestamp(rule.RecurrenceStartDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recurrenceStartDate: %w", err)
	}

	opt := &rrule.ROption{
		Dtstart:  start,
		Interval: rule.NormalizedInterval(),
		Wkst:     rrule.MO,
	}

	byDay := ParseByDay(rule.ByDay)
	switch rule.NormalizedFrequency() {
	case models.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		for _, wd := range byDay.Weekdays {
			opt.Byweekday = append(opt.Byweekday, toRRuleWeekday(wd))
		}
	case models.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		if len(byDay.Nth) > 0 {
			wd := toRRuleWeekday(byDay.Nth[0].Weekday)
			opt.Byweekday = []rrule.Weekday{wd.Nth(byDay.Nth[0].N)}
		} else if len(rule.ByMonthDay) > 0 {
			opt.Bymonthday = append([]int(nil), rule.ByMonthDay...)
		}
	default:
		return nil, fmt.Errorf("unsupported frequency %q", rule.Frequency)
	}

	return opt, nil
}

// String renders the rule as an RFC 5545 RRULE value, e.g.
// "FREQ=MONTHLY;INTERVAL=1;BYDAY=+2MO".
func String(rule models.RecurrenceRule) (string, error) {
	opt, err := ToROption(rule)
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}

// Between returns rrule-go's occurrences of rule within [after, before].
func Between(rule models.RecurrenceRule, after, before time.Time) ([]time.Time, error) {
	opt, err := ToROption(rule)
	if err != nil {
		return nil, err
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build RRULE: %w", err)
	}
	return r.Between(after, before, true), nil
}

func toRRuleWeekday(wd time.Weekday) rrule.Weekday {
	switch wd {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}
