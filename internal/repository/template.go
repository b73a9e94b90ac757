package repository

import (
	"context"
	"time"

	"github.com/hray3182/instancegen/internal/calendar"
	"github.com/hray3182/instancegen/internal/database"
	"github.com/hray3182/instancegen/internal/models"
)

type TemplateRepository struct {
	db *database.DB
}

func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// GetByOrganization returns the organization's recurring templates.
func (r *TemplateRepository) GetByOrganization(ctx context.Context, organizationID string) ([]models.RecurringEventTemplate, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, start_at, end_at, is_recurring_event_template
		 FROM recurring_event_templates
		 WHERE organization_id = $1 AND is_recurring_event_template
		 ORDER BY id`,
		organizationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []models.RecurringEventTemplate
	for rows.Next() {
		var (
			tpl        models.RecurringEventTemplate
			start, end time.Time
		)
		if err := rows.Scan(&tpl.ID, &start, &end, &tpl.IsRecurringEventTemplate); err != nil {
			return nil, err
		}
		tpl.StartAt = calendar.FormatTimestamp(start)
		tpl.EndAt = calendar.FormatTimestamp(end)
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}
