package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/hray3182/instancegen/internal/calendar"
	"github.com/hray3182/instancegen/internal/database"
	"github.com/hray3182/instancegen/internal/models"
)

type RuleRepository struct {
	db *database.DB
}

func NewRuleRepository(db *database.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// GetByOrganization returns the organization's rules ordered by id, so rule
// indexes (and therefore instance IDs) are stable between runs.
func (r *RuleRepository) GetByOrganization(ctx context.Context, organizationID string) ([]models.RecurrenceRule, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, base_recurring_event_id, organization_id, original_series_id, frequency,
		 interval, recurrence_start_date, by_day, by_month_day
		 FROM recurrence_rules WHERE organization_id = $1
		 ORDER BY id`,
		organizationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.RecurrenceRule
	for rows.Next() {
		var (
			rule       models.RecurrenceRule
			interval   int32
			start      time.Time
			byMonthDay []int32
		)
		if err := rows.Scan(&rule.ID, &rule.BaseRecurringEventID, &rule.OrganizationID, &rule.OriginalSeriesID,
			&rule.Frequency, &interval, &start, &rule.ByDay, &byMonthDay); err != nil {
			return nil, err
		}
		rule.Interval = models.Interval(strconv.Itoa(int(interval)))
		rule.RecurrenceStartDate = calendar.FormatTimestamp(start)
		for _, d := range byMonthDay {
			rule.ByMonthDay = append(rule.ByMonthDay, int(d))
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
