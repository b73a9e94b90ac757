package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/instancegen/internal/database"
	"github.com/hray3182/instancegen/internal/models"
)

const windowConfigColumns = `organization_id, hot_window_months_ahead, history_retention_months,
	current_window_end_date, retention_start_date, processing_priority, max_instances_per_run,
	created_by_id, created_at, updated_at`

type WindowConfigRepository struct {
	db *database.DB
}

func NewWindowConfigRepository(db *database.DB) *WindowConfigRepository {
	return &WindowConfigRepository{db: db}
}

func (r *WindowConfigRepository) GetConfig(ctx context.Context, organizationID string) (*models.GenerationWindowConfig, error) {
	cfg, err := scanWindowConfig(r.db.Pool.QueryRow(ctx,
		`SELECT `+windowConfigColumns+` FROM event_generation_windows WHERE organization_id = $1`,
		organizationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return cfg, err
}

// InsertConfig returns nil without error when a row for the organization
// already exists.
func (r *WindowConfigRepository) InsertConfig(ctx context.Context, cfg *models.GenerationWindowConfig) (*models.GenerationWindowConfig, error) {
	stored, err := scanWindowConfig(r.db.Pool.QueryRow(ctx,
		`INSERT INTO event_generation_windows (`+windowConfigColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (organization_id) DO NOTHING
		 RETURNING `+windowConfigColumns,
		cfg.OrganizationID, cfg.HotWindowMonthsAhead, cfg.HistoryRetentionMonths,
		cfg.CurrentWindowEndDate, cfg.RetentionStartDate, cfg.ProcessingPriority, cfg.MaxInstancesPerRun,
		cfg.CreatedBy, cfg.CreatedAt, cfg.UpdatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return stored, err
}

func (r *WindowConfigRepository) ExtendWindowEnd(ctx context.Context, organizationID string, end time.Time, hotWindowMonthsAhead int, updatedAt time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE event_generation_windows
		 SET current_window_end_date = GREATEST(current_window_end_date, $2),
		     hot_window_months_ahead = $3, updated_at = $4
		 WHERE organization_id = $1`,
		organizationID, end, hotWindowMonthsAhead, updatedAt,
	)
	return err
}

func (r *WindowConfigRepository) AdvanceWindow(ctx context.Context, organizationID string, end, retentionStart, updatedAt time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE event_generation_windows
		 SET current_window_end_date = GREATEST(current_window_end_date, $2),
		     retention_start_date = GREATEST(retention_start_date, $3),
		     updated_at = $4
		 WHERE organization_id = $1`,
		organizationID, end, retentionStart, updatedAt,
	)
	return err
}

func (r *WindowConfigRepository) ListConfigs(ctx context.Context) ([]*models.GenerationWindowConfig, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+windowConfigColumns+` FROM event_generation_windows
		 ORDER BY processing_priority DESC, organization_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.GenerationWindowConfig
	for rows.Next() {
		cfg, err := scanWindowConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func scanWindowConfig(row pgx.Row) (*models.GenerationWindowConfig, error) {
	var cfg models.GenerationWindowConfig
	err := row.Scan(&cfg.OrganizationID, &cfg.HotWindowMonthsAhead, &cfg.HistoryRetentionMonths,
		&cfg.CurrentWindowEndDate, &cfg.RetentionStartDate, &cfg.ProcessingPriority, &cfg.MaxInstancesPerRun,
		&cfg.CreatedBy, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cfg.CurrentWindowEndDate = cfg.CurrentWindowEndDate.UTC()
	cfg.RetentionStartDate = cfg.RetentionStartDate.UTC()
	cfg.CreatedAt = cfg.CreatedAt.UTC()
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return &cfg, nil
}
