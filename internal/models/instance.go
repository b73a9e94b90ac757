package models

import "time"

// GeneratedInstance is one materialized occurrence of a recurring event.
type GeneratedInstance struct {
	ID                        string    `json:"id"`
	BaseRecurringEventID      string    `json:"baseRecurringEventId"`
	RecurrenceRuleID          string    `json:"recurrenceRuleId"`
	OriginalSeriesID          string    `json:"originalSeriesId"`
	OriginalInstanceStartTime time.Time `json:"originalInstanceStartTime"`
	ActualStartTime           time.Time `json:"actualStartTime"`
	ActualEndTime             time.Time `json:"actualEndTime"`
	IsCancelled               bool      `json:"isCancelled"`
	OrganizationID            string    `json:"organizationId"`
	GeneratedAt               time.Time `json:"generatedAt"`
	LastUpdatedAt             time.Time `json:"lastUpdatedAt"`
	Version                   int       `json:"version"`
	SequenceNumber            int       `json:"sequenceNumber"`
	TotalCount                int       `json:"totalCount"`
}

// Duration returns the length of the occurrence.
func (i *GeneratedInstance) Duration() time.Duration {
	return i.ActualEndTime.Sub(i.ActualStartTime)
}

// EndsBefore reports whether the occurrence is over before cutoff.
func (i *GeneratedInstance) EndsBefore(cutoff time.Time) bool {
	return i.ActualEndTime.Before(cutoff)
}
