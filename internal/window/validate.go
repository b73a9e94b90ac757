package window

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hray3182/instancegen/internal/models"
)

// ConfigCandidate is a possibly partial window config submitted for
// validation. Nil fields were not provided.
type ConfigCandidate struct {
	OrganizationID         string `json:"organizationId" yaml:"organization_id"`
	HotWindowMonthsAhead   *int   `json:"hotWindowMonthsAhead,omitempty" yaml:"hot_window_months_ahead"`
	HistoryRetentionMonths *int   `json:"historyRetentionMonths,omitempty" yaml:"history_retention_months"`
	ProcessingPriority     *int   `json:"processingPriority,omitempty" yaml:"processing_priority"`
	MaxInstancesPerRun     *int   `json:"maxInstancesPerRun,omitempty" yaml:"max_instances_per_run"`
}

// CandidateFromConfig treats every field of cfg as provided.
func CandidateFromConfig(cfg *models.GenerationWindowConfig) ConfigCandidate {
	return ConfigCandidate{
		OrganizationID:         cfg.OrganizationID,
		HotWindowMonthsAhead:   &cfg.HotWindowMonthsAhead,
		HistoryRetentionMonths: &cfg.HistoryRetentionMonths,
		ProcessingPriority:     &cfg.ProcessingPriority,
		MaxInstancesPerRun:     &cfg.MaxInstancesPerRun,
	}
}

// Validate returns every problem with c joined into one error wrapping
// ErrInvalidConfig, or nil.
//
// A zero hotWindowMonthsAhead or maxInstancesPerRun counts as not provided and
// is not range-checked; historyRetentionMonths and processingPriority are
// checked whenever they are present.
func Validate(c ConfigCandidate) error {
	var problems []error
	if strings.TrimSpace(c.OrganizationID) == "" {
		problems = append(problems, errors.New("organizationId is required"))
	}
	if v := c.HotWindowMonthsAhead; v != nil && *v != 0 && *v < 1 {
		problems = append(problems, fmt.Errorf("hotWindowMonthsAhead must be >= 1, got %d", *v))
	}
	if v := c.HistoryRetentionMonths; v != nil && *v < 0 {
		problems = append(problems, fmt.Errorf("historyRetentionMonths must be >= 0, got %d", *v))
	}
	if v := c.ProcessingPriority; v != nil && (*v < 1 || *v > 10) {
		problems = append(problems, fmt.Errorf("processingPriority must be between 1 and 10, got %d", *v))
	}
	if v := c.MaxInstancesPerRun; v != nil && *v != 0 && *v < 1 {
		problems = append(problems, fmt.Errorf("maxInstancesPerRun must be >= 1, got %d", *v))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
}

// ValidateConfig reports whether c is acceptable. It performs no I/O.
func ValidateConfig(c ConfigCandidate) bool {
	return Validate(c) == nil
}
