package window

import (
	"context"

	"github.com/hray3182/instancegen/internal/models"
)

// StatsReporter aggregates cleanup statistics from the window config and
// instance counts. It holds no state of its own.
type StatsReporter struct {
	configs   ConfigStore
	instances InstanceStore
}

func NewStatsReporter(configs ConfigStore, instances InstanceStore) *StatsReporter {
	return &StatsReporter{configs: configs, instances: instances}
}

// Stats returns the organization's cleanup statistics. Without a config every
// count is zero and RetentionStartDate is nil.
func (r *StatsReporter) Stats(ctx context.Context, organizationID string) (models.CleanupStats, error) {
	cfg, err := r.configs.GetConfig(ctx, organizationID)
	if err != nil {
		return models.CleanupStats{}, err
	}
	if cfg == nil {
		return models.CleanupStats{}, nil
	}

	total, err := r.instances.CountInstances(ctx, organizationID)
	if err != nil {
		return models.CleanupStats{}, err
	}
	eligible, err := r.instances.CountInstancesEndingBefore(ctx, organizationID, cfg.RetentionStartDate)
	if err != nil {
		return models.CleanupStats{}, err
	}

	retention := cfg.RetentionStartDate
	return models.CleanupStats{
		TotalInstances:              total,
		InstancesInRetentionWindow:  total - eligible,
		InstancesEligibleForCleanup: eligible,
		RetentionStartDate:          &retention,
	}, nil
}
