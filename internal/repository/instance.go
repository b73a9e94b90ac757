package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/instancegen/internal/database"
	"github.com/hray3182/instancegen/internal/models"
)

// insertBatchSize bounds how many rows are queued per round trip.
const insertBatchSize = 500

type InstanceRepository struct {
	db *database.DB
}

func NewInstanceRepository(db *database.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// BulkInsert stores instances, ignoring rows that already exist for the same
// rule and original start time. It returns the number of rows inserted.
//
// Rows are sent in batches of insertBatchSize and each batch commits on its
// own. On error the returned count covers only the batches that committed
// before the failing one, which is rolled back as a whole.
//
// Instance ids are derived from a rule's position in one expansion run, so
// two runs can hand out the same id for different occurrences. The id column
// is therefore not unique; rows are keyed by recurrence_rule_id and
// original_instance_start_time.
func (r *InstanceRepository) BulkInsert(ctx context.Context, instances []models.GeneratedInstance) (int64, error) {
	var inserted int64
	for start := 0; start < len(instances); start += insertBatchSize {
		end := min(start+insertBatchSize, len(instances))
		n, err := r.insertBatch(ctx, instances[start:end])
		inserted += n
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (r *InstanceRepository) insertBatch(ctx context.Context, instances []models.GeneratedInstance) (int64, error) {
	batch := &pgx.Batch{}
	for _, inst := range instances {
		batch.Queue(
			`INSERT INTO recurring_event_instances (id, base_recurring_event_id, recurrence_rule_id,
			 original_series_id, original_instance_start_time, actual_start_time, actual_end_time,
			 is_cancelled, organization_id, generated_at, last_updated_at, version, sequence_number, total_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (recurrence_rule_id, original_instance_start_time) DO NOTHING`,
			inst.ID, inst.BaseRecurringEventID, inst.RecurrenceRuleID, inst.OriginalSeriesID,
			inst.OriginalInstanceStartTime, inst.ActualStartTime, inst.ActualEndTime, inst.IsCancelled,
			inst.OrganizationID, inst.GeneratedAt, inst.LastUpdatedAt, inst.Version, inst.SequenceNumber,
			inst.TotalCount,
		)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for i := range instances {
		tag, err := results.Exec()
		if err != nil {
			// The batch runs in one implicit transaction, so nothing from it
			// was kept.
			return 0, fmt.Errorf("failed to insert instance %s: %w", instances[i].ID, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (r *InstanceRepository) GetByOrganization(ctx context.Context, organizationID string) ([]models.GeneratedInstance, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, base_recurring_event_id, recurrence_rule_id, original_series_id,
		 original_instance_start_time, actual_start_time, actual_end_time, is_cancelled,
		 organization_id, generated_at, last_updated_at, version, sequence_number, total_count
		 FROM recurring_event_instances WHERE organization_id = $1
		 ORDER BY actual_start_time ASC, recurrence_rule_id ASC`,
		organizationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

func (r *InstanceRepository) CountInstances(ctx context.Context, organizationID string) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM recurring_event_instances WHERE organization_id = $1`,
		organizationID,
	).Scan(&n)
	return n, err
}

func (r *InstanceRepository) CountInstancesEndingBefore(ctx context.Context, organizationID string, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM recurring_event_instances
		 WHERE organization_id = $1 AND actual_end_time < $2`,
		organizationID, cutoff,
	).Scan(&n)
	return n, err
}

func (r *InstanceRepository) DeleteInstancesEndingBefore(ctx context.Context, organizationID string, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM recurring_event_instances
		 WHERE organization_id = $1 AND actual_end_time < $2`,
		organizationID, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *InstanceRepository) scanInstances(rows pgx.Rows) ([]models.GeneratedInstance, error) {
	var instances []models.GeneratedInstance
	for rows.Next() {
		var (
			inst                     models.GeneratedInstance
			version, seq, totalCount int32
		)
		if err := rows.Scan(&inst.ID, &inst.BaseRecurringEventID, &inst.RecurrenceRuleID, &inst.OriginalSeriesID,
			&inst.OriginalInstanceStartTime, &inst.ActualStartTime, &inst.ActualEndTime, &inst.IsCancelled,
			&inst.OrganizationID, &inst.GeneratedAt, &inst.LastUpdatedAt, &version, &seq, &totalCount); err != nil {
			return nil, err
		}
		inst.Version, inst.SequenceNumber, inst.TotalCount = int(version), int(seq), int(totalCount)
		inst.OriginalInstanceStartTime = inst.OriginalInstanceStartTime.UTC()
		inst.ActualStartTime = inst.ActualStartTime.UTC()
		inst.ActualEndTime = inst.ActualEndTime.UTC()
		inst.GeneratedAt = inst.GeneratedAt.UTC()
		inst.LastUpdatedAt = inst.LastUpdatedAt.UTC()
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}
