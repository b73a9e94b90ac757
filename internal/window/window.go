// Package window manages each organization's generation window (how far
// ahead instances are materialized) and retention window (how long past
// instances are kept).
//
// Manager is not internally synchronized. Concurrent writers for the same
// organization must be serialized by the caller, for example with
// internal/lock.
package window

import (
	"context"
	"fmt"
	"time"

	"github.com/hray3182/instancegen/internal/calendar"
	"github.com/hray3182/instancegen/internal/logger"
	"github.com/hray3182/instancegen/internal/models"
)

const (
	opInitialize = "initializeWindow"
	opExtend     = "extendWindow"
	opCleanup    = "cleanupOldInstances"
	opStats      = "getCleanupStats"
	opRoll       = "rollForward"
)

// ConfigStore persists GenerationWindowConfig rows.
type ConfigStore interface {
	// GetConfig returns nil and no error when the organization has no row.
	GetConfig(ctx context.Context, organizationID string) (*models.GenerationWindowConfig, error)
	// InsertConfig stores cfg and returns the stored row, or nil if nothing
	// was inserted.
	InsertConfig(ctx context.Context, cfg *models.GenerationWindowConfig) (*models.GenerationWindowConfig, error)
	// ExtendWindowEnd moves currentWindowEndDate forward to end (never
	// backwards) and sets hotWindowMonthsAhead.
	ExtendWindowEnd(ctx context.Context, organizationID string, end time.Time, hotWindowMonthsAhead int, updatedAt time.Time) error
	// AdvanceWindow moves currentWindowEndDate and retentionStartDate forward
	// (never backwards).
	AdvanceWindow(ctx context.Context, organizationID string, end, retentionStart, updatedAt time.Time) error
	// ListConfigs returns every config, highest processingPriority first.
	ListConfigs(ctx context.Context) ([]*models.GenerationWindowConfig, error)
}

// InstanceStore counts and deletes generated instances.
type InstanceStore interface {
	CountInstances(ctx context.Context, organizationID string) (int64, error)
	// CountInstancesEndingBefore counts instances with actualEndTime < cutoff.
	CountInstancesEndingBefore(ctx context.Context, organizationID string, cutoff time.Time) (int64, error)
	// DeleteInstancesEndingBefore deletes instances with actualEndTime < cutoff.
	DeleteInstancesEndingBefore(ctx context.Context, organizationID string, cutoff time.Time) (int64, error)
}

// Defaults are the values a new organization's config starts with.
type Defaults struct {
	HotWindowMonthsAhead   int `yaml:"hot_window_months_ahead"`
	HistoryRetentionMonths int `yaml:"history_retention_months"`
	ProcessingPriority     int `yaml:"processing_priority"`
	MaxInstancesPerRun     int `yaml:"max_instances_per_run"`
}

// DefaultDefaults returns the built-in defaults: 12 months ahead, 3 months of
// history, priority 5, 1000 instances per run.
func DefaultDefaults() Defaults {
	return Defaults{
		HotWindowMonthsAhead:   12,
		HistoryRetentionMonths: 3,
		ProcessingPriority:     5,
		MaxInstancesPerRun:     1000,
	}
}

// Manager implements the window lifecycle operations.
type Manager struct {
	configs   ConfigStore
	instances InstanceStore
	stats     *StatsReporter
	defaults  Defaults
	log       logger.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaults overrides the defaults used by InitializeWindow.
func WithDefaults(d Defaults) Option {
	return func(m *Manager) { m.defaults = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(configs ConfigStore, instances InstanceStore, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		configs:   configs,
		instances: instances,
		stats:     NewStatsReporter(configs, instances),
		defaults:  DefaultDefaults(),
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configs exposes the underlying config store.
func (m *Manager) Configs() ConfigStore {
	return m.configs
}

// storageError logs a persistence failure with its context and hands the
// error back unchanged.
func (m *Manager) storageError(op, organizationID string, err error) error {
	m.log.Error("Window storage operation failed",
		logger.Operation(op), logger.OrganizationID(organizationID), logger.Error(err))
	return err
}

func (m *Manager) invariantError(op, organizationID, msg string) error {
	err := &InvariantError{Operation: op, OrganizationID: organizationID, Msg: msg}
	m.log.Error("Window invariant violated",
		logger.Operation(op), logger.OrganizationID(organizationID), logger.Error(err))
	return err
}

// InitializeWindow creates the organization's config from the defaults, with
// the window ending hotWindowMonthsAhead months from now and retention
// starting historyRetentionMonths months ago.
func (m *Manager) InitializeWindow(ctx context.Context, organizationID, createdBy string) (*models.GenerationWindowConfig, error) {
	now := m.now().UTC()
	d := m.defaults
	cfg := &models.GenerationWindowConfig{
		OrganizationID:         organizationID,
		HotWindowMonthsAhead:   d.HotWindowMonthsAhead,
		HistoryRetentionMonths: d.HistoryRetentionMonths,
		CurrentWindowEndDate:   calendar.AddMonths(now, d.HotWindowMonthsAhead),
		RetentionStartDate:     calendar.AddMonths(now, -d.HistoryRetentionMonths),
		ProcessingPriority:     d.ProcessingPriority,
		MaxInstancesPerRun:     d.MaxInstancesPerRun,
		CreatedBy:              createdBy,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := Validate(CandidateFromConfig(cfg)); err != nil {
		return nil, err
	}
	if !cfg.RetentionStartDate.Before(cfg.CurrentWindowEndDate) {
		return nil, fmt.Errorf("%w: retention start must precede window end", ErrInvalidConfig)
	}

	stored, err := m.configs.InsertConfig(ctx, cfg)
	if err != nil {
		return nil, m.storageError(opInitialize, organizationID, err)
	}
	if stored == nil {
		return nil, m.invariantError(opInitialize, organizationID, "insert returned no row")
	}

	m.log.Info("Generation window initialized",
		logger.OrganizationID(organizationID),
		logger.Time("current_window_end_date", stored.CurrentWindowEndDate),
		logger.Time("retention_start_date", stored.RetentionStartDate))
	return stored, nil
}

// ExtendWindow pushes currentWindowEndDate additionalMonths calendar months
// further and grows hotWindowMonthsAhead by the same amount. It never moves
// the end date backwards.
func (m *Manager) ExtendWindow(ctx context.Context, organizationID string, additionalMonths int) (time.Time, error) {
	if additionalMonths < 0 {
		return time.Time{}, fmt.Errorf("%w: %d", ErrNegativeMonths, additionalMonths)
	}

	cfg, err := m.configs.GetConfig(ctx, organizationID)
	if err != nil {
		return time.Time{}, m.storageError(opExtend, organizationID, err)
	}
	if cfg == nil {
		return time.Time{}, fmt.Errorf("%w: organization %s", ErrConfigNotFound, organizationID)
	}

	end := calendar.AddMonths(cfg.CurrentWindowEndDate, additionalMonths)
	if end.Before(cfg.CurrentWindowEndDate) {
		return time.Time{}, m.invariantError(opExtend, organizationID, "extended end date precedes current end date")
	}
	hot := cfg.HotWindowMonthsAhead + additionalMonths

	if err := m.configs.ExtendWindowEnd(ctx, organizationID, end, hot, m.now().UTC()); err != nil {
		return time.Time{}, m.storageError(opExtend, organizationID, err)
	}

	m.log.Info("Generation window extended",
		logger.OrganizationID(organizationID),
		logger.Int("additional_months", additionalMonths),
		logger.Time("previous_window_end_date", cfg.CurrentWindowEndDate),
		logger.Time("current_window_end_date", end))
	return end, nil
}

// RollForward keeps the windows anchored to now: the end date becomes at
// least now + hotWindowMonthsAhead and the retention start at least
// now - historyRetentionMonths. Neither date ever moves backwards, and the
// retention start is never advanced to or past the window end.
func (m *Manager) RollForward(ctx context.Context, organizationID string, now time.Time) (*models.GenerationWindowConfig, error) {
	cfg, err := m.configs.GetConfig(ctx, organizationID)
	if err != nil {
		return nil, m.storageError(opRoll, organizationID, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: organization %s", ErrConfigNotFound, organizationID)
	}

	now = now.UTC()
	end := laterOf(cfg.CurrentWindowEndDate, calendar.AddMonths(now, cfg.HotWindowMonthsAhead))
	retention := laterOf(cfg.RetentionStartDate, calendar.AddMonths(now, -cfg.HistoryRetentionMonths))
	if !retention.Before(end) {
		retention = cfg.RetentionStartDate
	}

	if end.Equal(cfg.CurrentWindowEndDate) && retention.Equal(cfg.RetentionStartDate) {
		return cfg, nil
	}

	updatedAt := m.now().UTC()
	if err := m.configs.AdvanceWindow(ctx, organizationID, end, retention, updatedAt); err != nil {
		return nil, m.storageError(opRoll, organizationID, err)
	}

	m.log.Debug("Generation window rolled forward",
		logger.OrganizationID(organizationID),
		logger.Time("current_window_end_date", end),
		logger.Time("retention_start_date", retention))

	rolled := *cfg
	rolled.CurrentWindowEndDate = end
	rolled.RetentionStartDate = retention
	rolled.UpdatedAt = updatedAt
	return &rolled, nil
}

// CleanupOldInstances deletes the organization's instances whose
// actualEndTime is strictly before retentionStartDate and returns how many
// were removed. A missing config is not an error: nothing is deleted.
func (m *Manager) CleanupOldInstances(ctx context.Context, organizationID string) (int64, error) {
	cfg, err := m.configs.GetConfig(ctx, organizationID)
	if err != nil {
		return 0, m.storageError(opCleanup, organizationID, err)
	}
	if cfg == nil {
		m.log.Warn("No generation window config, skipping cleanup",
			logger.Operation(opCleanup), logger.OrganizationID(organizationID))
		return 0, nil
	}

	deleted, err := m.instances.DeleteInstancesEndingBefore(ctx, organizationID, cfg.RetentionStartDate)
	if err != nil {
		return 0, m.storageError(opCleanup, organizationID, err)
	}

	m.log.Info("Old instances cleaned up",
		logger.OrganizationID(organizationID),
		logger.Int64("deleted", deleted),
		logger.Time("retention_start_date", cfg.RetentionStartDate))
	return deleted, nil
}

// GetCleanupStats reports how many instances cleanup would remove. A missing
// config yields zero stats rather than an error.
func (m *Manager) GetCleanupStats(ctx context.Context, organizationID string) (models.CleanupStats, error) {
	stats, err := m.stats.Stats(ctx, organizationID)
	if err != nil {
		return models.CleanupStats{}, m.storageError(opStats, organizationID, err)
	}
	return stats, nil
}

// ValidateConfig reports whether c is acceptable.
func (m *Manager) ValidateConfig(c ConfigCandidate) bool {
	return ValidateConfig(c)
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
