package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Frequencies understood by the expander.
const (
	FrequencyWeekly  = "WEEKLY"
	FrequencyMonthly = "MONTHLY"
)

// RecurringEventTemplate is the base event a recurrence rule repeats.
// StartAt/EndAt are kept as the raw timestamps supplied by the caller; an
// unparseable value makes every rule referencing the template unusable.
type RecurringEventTemplate struct {
	ID                       string `json:"id"`
	StartAt                  string `json:"startAt"`
	EndAt                    string `json:"endAt"`
	IsRecurringEventTemplate bool   `json:"isRecurringEventTemplate"`
}

// RecurrenceRule describes how a template repeats.
type RecurrenceRule struct {
	ID                   string   `json:"id"`
	BaseRecurringEventID string   `json:"baseRecurringEventId"`
	OrganizationID       string   `json:"organizationId"`
	OriginalSeriesID     string   `json:"originalSeriesId"`
	Frequency            string   `json:"frequency,omitempty"`  // WEEKLY (default) or MONTHLY
	Interval             Interval `json:"interval,omitempty"`   // accepts 2, "2", "" or null
	RecurrenceStartDate  string   `json:"recurrenceStartDate"`  // first occurrence, UTC
	ByDay                []string `json:"byDay,omitempty"`      // MO, TU, ... or 2MO, -1FR
	ByMonthDay           []int    `json:"byMonthDay,omitempty"` // 1..31, -1 = last day
}

// Interval is a rule's repeat interval exactly as supplied. Decoding never
// fails on a well-formed JSON value: numbers, strings and null are all kept,
// and NormalizedInterval decides what they mean.
type Interval string

func (i *Interval) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*i = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = Interval(s)
	default:
		*i = Interval(raw)
	}
	return nil
}

// MarshalJSON writes numeric intervals as JSON numbers and anything else as a
// string.
func (i Interval) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(i))
	if s != "" && (s[0] == '-' || (s[0] >= '0' && s[0] <= '9')) && json.Valid([]byte(s)) {
		return []byte(s), nil
	}
	return json.Marshal(string(i))
}

// NormalizedFrequency returns the upper-cased frequency, WEEKLY when absent.
func (r *RecurrenceRule) NormalizedFrequency() string {
	f := strings.ToUpper(strings.TrimSpace(r.Frequency))
	if f == "" {
		return FrequencyWeekly
	}
	return f
}

// NormalizedInterval returns the interval as a positive integer. Fractions
// are truncated (2.5 is 2); absent, unparseable or values below 1 give 1.
func (r *RecurrenceRule) NormalizedInterval() int {
	s := strings.TrimSpace(string(r.Interval))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(min(max(n, 1), math.MaxInt32))
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 1 {
		return 1
	}
	return int(min(math.Trunc(f), math.MaxInt32))
}
