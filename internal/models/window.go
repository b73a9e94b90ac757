package models

import "time"

// GenerationWindowConfig is the per-organization window and retention state.
type GenerationWindowConfig struct {
	OrganizationID         string    `json:"organizationId" yaml:"organization_id"`
	HotWindowMonthsAhead   int       `json:"hotWindowMonthsAhead" yaml:"hot_window_months_ahead"`
	HistoryRetentionMonths int       `json:"historyRetentionMonths" yaml:"history_retention_months"`
	CurrentWindowEndDate   time.Time `json:"currentWindowEndDate" yaml:"-"`
	RetentionStartDate     time.Time `json:"retentionStartDate" yaml:"-"`
	ProcessingPriority     int       `json:"processingPriority" yaml:"processing_priority"` // 1-10
	MaxInstancesPerRun     int       `json:"maxInstancesPerRun" yaml:"max_instances_per_run"`
	CreatedBy              string    `json:"createdById" yaml:"-"`
	CreatedAt              time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt              time.Time `json:"updatedAt" yaml:"-"`
}

// CleanupStats summarizes how many of an organization's instances cleanup
// would remove.
type CleanupStats struct {
	TotalInstances              int64      `json:"totalInstances"`
	InstancesInRetentionWindow  int64      `json:"instancesInRetentionWindow"`
	InstancesEligibleForCleanup int64      `json:"instancesEligibleForCleanup"`
	RetentionStartDate          *time.Time `json:"retentionStartDate"`
}
