// Package expander materializes concrete occurrences of recurring events from
// templates and recurrence rules.
//
// Expansion is a pure function of its inputs: it performs no I/O, keeps no
// package state and is safe to call concurrently on independent inputs.
package expander

import (
	"fmt"
	"sort"
	"time"

	"github.com/hray3182/instancegen/internal/calendar"
	"github.com/hray3182/instancegen/internal/identity"
	"github.com/hray3182/instancegen/internal/models"
	"github.com/hray3182/instancegen/internal/rrule"
)

// DefaultMonthsAhead is the generation horizon used when Options.MonthsAhead
// is not set.
const DefaultMonthsAhead = 12

// Options controls an expansion run.
type Options struct {
	// MonthsAhead is the horizon measured in calendar months from each rule's
	// recurrenceStartDate. Values <= 0 mean DefaultMonthsAhead.
	MonthsAhead int

	// GeneratedAt is stamped on every instance as generatedAt and
	// lastUpdatedAt. Zero means the current time.
	GeneratedAt time.Time

	// Until, when non-zero, caps every rule's horizon so no instance starts
	// after it.
	Until time.Time

	// OnSkip, when set, is called once for every rule that produced nothing
	// because it could not be processed.
	OnSkip func(SkippedRule)
}

func (o Options) withDefaults() Options {
	if o.MonthsAhead <= 0 {
		o.MonthsAhead = DefaultMonthsAhead
	}
	if o.GeneratedAt.IsZero() {
		o.GeneratedAt = time.Now()
	}
	o.GeneratedAt = o.GeneratedAt.UTC()
	return o
}

// SkipReason says why a rule was not expanded.
type SkipReason string

const (
	ReasonMissingTemplate      SkipReason = "template not found"
	ReasonInvalidStartDate     SkipReason = "unparseable recurrenceStartDate"
	ReasonInvalidTemplateTimes SkipReason = "unparseable template startAt/endAt"
	ReasonNonPositiveDuration  SkipReason = "template endAt is not after startAt"
	ReasonUnsupportedFrequency SkipReason = "unsupported frequency"
)

// SkippedRule describes a rule that was dropped from a run. Skipping is not an
// error: the rest of the batch is still expanded.
type SkippedRule struct {
	RuleIndex int
	RuleID    string
	Reason    SkipReason
	Err       error
}

func (s SkippedRule) String() string {
	if s.Err != nil {
		return fmt.Sprintf("rule %s (#%d): %s: %v", s.RuleID, s.RuleIndex, s.Reason, s.Err)
	}
	return fmt.Sprintf("rule %s (#%d): %s", s.RuleID, s.RuleIndex, s.Reason)
}

// plan is a validated rule ready for expansion.
type plan struct {
	rule     models.RecurrenceRule
	start    time.Time
	horizon  time.Time
	duration time.Duration
	interval int
	byDay    rrule.ByDay
}

// Expand generates instances for every rule, in rule input order and, within
// a rule, in chronological order. Rules that cannot be processed are skipped.
// The only error is an identity overflow (more than 255 rules, or a sequence
// beyond 48 bits), which fails the whole run rather than emitting truncated IDs.
func Expand(templates []models.RecurringEventTemplate, rules []models.RecurrenceRule, opts Options) ([]models.GeneratedInstance, error) {
	opts = opts.withDefaults()

	byID := make(map[string]models.RecurringEventTemplate, len(templates))
	for _, tpl := range templates {
		if !tpl.IsRecurringEventTemplate {
			continue
		}
		if _, dup := byID[tpl.ID]; !dup {
			byID[tpl.ID] = tpl
		}
	}

	var out []models.GeneratedInstance
	for i, rule := range rules {
		ruleIndex := i + 1

		p, skip := newPlan(rule, byID, opts)
		if skip != nil {
			skip.RuleIndex = ruleIndex
			if opts.OnSkip != nil {
				opts.OnSkip(*skip)
			}
			continue
		}

		instances, err := p.instances(ruleIndex, opts.GeneratedAt)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		out = append(out, instances...)
	}

	return out, nil
}

func newPlan(rule models.RecurrenceRule, templates map[string]models.RecurringEventTemplate, opts Options) (*plan, *SkippedRule) {
	skip := func(reason SkipReason, err error) (*plan, *SkippedRule) {
		return nil, &SkippedRule{RuleID: rule.ID, Reason: reason, Err: err}
	}

	tpl, ok := templates[rule.BaseRecurringEventID]
	if !ok {
		return skip(ReasonMissingTemplate, nil)
	}
	start, err := calendar.ParseTimestamp(rule.RecurrenceStartDate)
	if err != nil {
		return skip(ReasonInvalidStartDate, err)
	}
	tplStart, err := calendar.ParseTimestamp(tpl.StartAt)
	if err != nil {
		return skip(ReasonInvalidTemplateTimes, err)
	}
	tplEnd, err := calendar.ParseTimestamp(tpl.EndAt)
	if err != nil {
		return skip(ReasonInvalidTemplateTimes, err)
	}
	if !tplEnd.After(tplStart) {
		return skip(ReasonNonPositiveDuration, nil)
	}

	switch rule.NormalizedFrequency() {
	case models.FrequencyWeekly, models.FrequencyMonthly:
	default:
		return skip(ReasonUnsupportedFrequency, fmt.Errorf("frequency %q", rule.Frequency))
	}

	horizon := calendar.AddMonths(start, opts.MonthsAhead)
	if !opts.Until.IsZero() && opts.Until.Before(horizon) {
		horizon = opts.Until.UTC()
	}

	return &plan{
		rule:     rule,
		start:    start,
		horizon:  horizon,
		duration: tplEnd.Sub(tplStart),
		interval: rule.NormalizedInterval(),
		byDay:    rrule.ParseByDay(rule.ByDay),
	}, nil
}

// occurrences returns the chronological start times for the plan, each within
// [start, horizon].
func (p *plan) occurrences(monthsAhead int) []time.Time {
	if p.rule.NormalizedFrequency() == models.FrequencyMonthly {
		return monthlyStarts(p.start, p.horizon, p.interval, monthsAhead, p.byDay, p.rule.ByMonthDay)
	}
	return weeklyStarts(p.start, p.horizon, p.interval, p.byDay.Weekdays)
}

func (p *plan) instances(ruleIndex int, generatedAt time.Time) ([]models.GeneratedInstance, error) {
	starts := p.occurrences(calendar.MonthsUntil(p.start, p.horizon))

	instances := make([]models.GeneratedInstance, 0, len(starts))
	for i, start := range starts {
		seq := i + 1
		id, err := identity.DeriveID(ruleIndex, seq)
		if err != nil {
			return nil, err
		}
		instances = append(instances, models.GeneratedInstance{
			ID:                        id,
			BaseRecurringEventID:      p.rule.BaseRecurringEventID,
			RecurrenceRuleID:          p.rule.ID,
			OriginalSeriesID:          p.rule.OriginalSeriesID,
			OriginalInstanceStartTime: start,
			ActualStartTime:           start,
			ActualEndTime:             start.Add(p.duration),
			OrganizationID:            p.rule.OrganizationID,
			GeneratedAt:               generatedAt,
			LastUpdatedAt:             generatedAt,
			Version:                   1,
			SequenceNumber:            seq,
			TotalCount:                len(starts),
		})
	}
	return instances, nil
}

// weeklyStarts steps interval weeks at a time from start. Without weekdays it
// emits start's own weekday each step; otherwise it emits every requested
// weekday within the 7 days beginning at each step.
func weeklyStarts(start, horizon time.Time, interval int, weekdays []time.Weekday) []time.Time {
	offsets := []int{0}
	if len(weekdays) > 0 {
		offsets = offsets[:0]
		for _, wd := range weekdays {
			offsets = append(offsets, calendar.WeekdayOffset(start.Weekday(), wd))
		}
		sort.Ints(offsets)
	}

	var out []time.Time
	for week := 0; ; week += interval {
		weekStart := calendar.AddDays(start, week*7)
		if calendar.AddDays(weekStart, offsets[0]).After(horizon) {
			break
		}
		for _, off := range offsets {
			candidate := calendar.AddDays(weekStart, off)
			if candidate.After(horizon) {
				break
			}
			out = append(out, candidate)
		}
	}
	return out
}

// monthlyStarts emits one or more days per interval-th month, in month offsets
// 0..monthsAhead from start's month.
func monthlyStarts(start, horizon time.Time, interval, monthsAhead int, byDay rrule.ByDay, byMonthDay []int) []time.Time {
	var out []time.Time
	for m := 0; m <= monthsAhead; m += interval {
		month := calendar.ShiftMonth(start, m)
		for _, day := range daysInMonth(month, start, byDay, byMonthDay) {
			candidate := calendar.At(day, start)
			if candidate.Before(start) || candidate.After(horizon) {
				continue
			}
			out = append(out, candidate)
		}
	}
	return out
}

// daysInMonth resolves which days of month qualify: the first ordinal BYDAY
// token, else BYMONTHDAY, else start's day-of-month clamped to the month.
func daysInMonth(month, start time.Time, byDay rrule.ByDay, byMonthDay []int) []time.Time {
	year, mon := month.Year(), month.Month()

	if len(byDay.Nth) > 0 {
		nth := byDay.Nth[0]
		if d, ok := calendar.NthWeekday(year, mon, nth.Weekday, nth.N); ok {
			return []time.Time{d}
		}
		return nil
	}

	if len(byMonthDay) > 0 {
		seen := make(map[int]bool, len(byMonthDay))
		var days []time.Time
		for _, v := range byMonthDay {
			d, ok := calendar.MonthDay(year, mon, v)
			if !ok || seen[d.Day()] {
				continue
			}
			seen[d.Day()] = true
			days = append(days, d)
		}
		sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
		return days
	}

	d, _ := calendar.MonthDay(year, mon, start.Day())
	return []time.Time{d}
}
