package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"

	"github.com/hray3182/instancegen/internal/calendar"
	"github.com/hray3182/instancegen/internal/expander"
	"github.com/hray3182/instancegen/internal/lock"
	"github.com/hray3182/instancegen/internal/logger"
	"github.com/hray3182/instancegen/internal/metrics"
	"github.com/hray3182/instancegen/internal/models"
	"github.com/hray3182/instancegen/internal/window"
)

const (
	JobGenerate = "generate"
	JobCleanup  = "cleanup"

	defaultMaxRetries = 3
)

type RuleSource interface {
	GetByOrganization(ctx context.Context, organizationID string) ([]models.RecurrenceRule, error)
}

type TemplateSource interface {
	GetByOrganization(ctx context.Context, organizationID string) ([]models.RecurringEventTemplate, error)
}

type InstanceSink interface {
	BulkInsert(ctx context.Context, instances []models.GeneratedInstance) (int64, error)
}

// GenerateResult summarizes one organization's generation run.
type GenerateResult struct {
	Generated int
	Expired   int // ended before the retention start, not stored
	Capped    int // deferred to a later run by maxInstancesPerRun
	Inserted  int64
	Skipped   int
}

type Scheduler struct {
	window    *window.Manager
	rules     RuleSource
	templates TemplateSource
	instances InstanceSink
	locker    lock.Locker
	metrics   *metrics.Metrics
	log       logger.Logger

	cron       *cron.Cron
	cronParser cron.Parser
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithBackOff overrides the retry policy for storage calls.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Scheduler) { s.newBackOff = newBackOff }
}

func New(
	manager *window.Manager,
	rules RuleSource,
	templates TemplateSource,
	instances InstanceSink,
	locker lock.Locker,
	m *metrics.Metrics,
	log logger.Logger,
	opts ...Option,
) *Scheduler {
	cronParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		window:     manager,
		rules:      rules,
		templates:  templates,
		instances:  instances,
		locker:     locker,
		metrics:    m,
		log:        log,
		cronParser: cronParser,
		cron:       cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		now:        time.Now,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), defaultMaxRetries)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one generation pass, then the generate and cleanup jobs on
// their cron schedules until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, generateSpec, cleanupSpec string) error {
	if _, err := s.cron.AddFunc(generateSpec, func() { _ = s.GenerateAll(ctx) }); err != nil {
		return fmt.Errorf("invalid generate schedule %q: %w", generateSpec, err)
	}
	if _, err := s.cron.AddFunc(cleanupSpec, func() { _ = s.CleanupAll(ctx) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", cleanupSpec, err)
	}

	s.log.Info("Scheduler started",
		logger.String("generate_schedule", generateSpec),
		logger.String("cleanup_schedule", cleanupSpec))

	_ = s.GenerateAll(ctx)
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
	return nil
}

// GenerateAll generates instances for every organization, highest
// processingPriority first. A failing organization does not stop the others.
func (s *Scheduler) GenerateAll(ctx context.Context) error {
	return s.forEachOrganization(ctx, JobGenerate, func(ctx context.Context, organizationID string) error {
		_, err := s.GenerateOrganization(ctx, organizationID)
		return err
	})
}

// CleanupAll runs retention cleanup for every organization.
func (s *Scheduler) CleanupAll(ctx context.Context) error {
	return s.forEachOrganization(ctx, JobCleanup, func(ctx context.Context, organizationID string) error {
		_, err := s.CleanupOrganization(ctx, organizationID)
		return err
	})
}

func (s *Scheduler) forEachOrganization(ctx context.Context, job string, run func(context.Context, string) error) error {
	var configs []*models.GenerationWindowConfig
	err := s.retry(ctx, func() error {
		var err error
		configs, err = s.window.Configs().ListConfigs(ctx)
		return err
	})
	if err != nil {
		s.log.Error("Failed to list generation window configs", logger.String("job", job), logger.Error(err))
		return err
	}

	var errs []error
	for _, cfg := range configs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := run(ctx, cfg.OrganizationID); err != nil {
			s.log.Error("Job failed for organization",
				logger.String("job", job),
				logger.OrganizationID(cfg.OrganizationID),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("organization %s: %w", cfg.OrganizationID, err))
		}
	}
	return errors.Join(errs...)
}

// GenerateOrganization rolls the organization's window forward and
// materializes every instance up to the window end. Rows that already exist
// are left untouched, so repeated runs are idempotent.
func (s *Scheduler) GenerateOrganization(ctx context.Context, organizationID string) (GenerateResult, error) {
	var result GenerateResult
	err := s.withLock(ctx, JobGenerate, organizationID, func(ctx context.Context) error {
		var err error
		result, err = s.generate(ctx, organizationID)
		return err
	})
	return result, err
}

func (s *Scheduler) generate(ctx context.Context, organizationID string) (GenerateResult, error) {
	var result GenerateResult
	now := s.now().UTC()

	var cfg *models.GenerationWindowConfig
	err := s.retry(ctx, func() error {
		var err error
		cfg, err = s.window.RollForward(ctx, organizationID, now)
		return err
	})
	if err != nil {
		return result, err
	}

	var (
		templates []models.RecurringEventTemplate
		rules     []models.RecurrenceRule
	)
	err = s.retry(ctx, func() error {
		var err error
		if templates, err = s.templates.GetByOrganization(ctx, organizationID); err != nil {
			return err
		}
		rules, err = s.rules.GetByOrganization(ctx, organizationID)
		return err
	})
	if err != nil {
		return result, err
	}

	instances, err := expander.Expand(templates, rules, expander.Options{
		MonthsAhead: monthsToCover(rules, cfg.CurrentWindowEndDate),
		GeneratedAt: now,
		Until:       cfg.CurrentWindowEndDate,
		OnSkip: func(skip expander.SkippedRule) {
			result.Skipped++
			s.metrics.RulesSkipped.WithLabelValues(string(skip.Reason)).Inc()
			s.log.Warn("Skipping recurrence rule",
				logger.OrganizationID(organizationID),
				logger.String("rule_id", skip.RuleID),
				logger.Int("rule_index", skip.RuleIndex),
				logger.String("reason", string(skip.Reason)))
		},
	})
	if err != nil {
		return result, err
	}
	result.Generated = len(instances)
	s.metrics.InstancesGenerated.WithLabelValues(organizationID).Add(float64(len(instances)))

	kept := instances[:0]
	for _, inst := range instances {
		if inst.EndsBefore(cfg.RetentionStartDate) {
			result.Expired++
			continue
		}
		kept = append(kept, inst)
	}

	inserted, attempted, err := s.insertCapped(ctx, kept, cfg.MaxInstancesPerRun)
	result.Inserted = inserted
	if err != nil {
		return result, err
	}
	if attempted < len(kept) {
		result.Capped = len(kept) - attempted
		s.metrics.InstancesCapped.WithLabelValues(organizationID).Add(float64(result.Capped))
		s.log.Warn("Generation capped by maxInstancesPerRun",
			logger.OrganizationID(organizationID),
			logger.Int("max_instances_per_run", cfg.MaxInstancesPerRun),
			logger.Int("deferred", result.Capped))
	}
	s.metrics.InstancesInserted.WithLabelValues(organizationID).Add(float64(result.Inserted))

	s.log.Info("Instances generated",
		logger.OrganizationID(organizationID),
		logger.Int("generated", result.Generated),
		logger.Int("expired", result.Expired),
		logger.Int64("inserted", result.Inserted),
		logger.Int("skipped_rules", result.Skipped),
		logger.Time("current_window_end_date", cfg.CurrentWindowEndDate))
	return result, nil
}

// insertCapped inserts instances in chunks of limit and stops once limit new
// rows were written. Rows that already exist do not count, so instances
// deferred by one run are reached by the next. It returns the rows inserted
// and how many instances were attempted.
func (s *Scheduler) insertCapped(ctx context.Context, instances []models.GeneratedInstance, limit int) (int64, int, error) {
	if limit <= 0 {
		limit = len(instances)
	}
	var inserted int64
	attempted := 0
	for attempted < len(instances) && inserted < int64(limit) {
		chunk := instances[attempted:min(attempted+limit, len(instances))]
		// A failed attempt may still have committed some rows; the retry
		// sees those as existing, so the counts add up across attempts.
		var n int64
		err := s.retry(ctx, func() error {
			written, err := s.instances.BulkInsert(ctx, chunk)
			n += written
			return err
		})
		inserted += n
		if err != nil {
			return inserted, attempted, err
		}
		attempted += len(chunk)
	}
	return inserted, attempted, nil
}

// CleanupOrganization deletes instances that ended before the organization's
// retention start.
func (s *Scheduler) CleanupOrganization(ctx context.Context, organizationID string) (int64, error) {
	var deleted int64
	err := s.withLock(ctx, JobCleanup, organizationID, func(ctx context.Context) error {
		return s.retry(ctx, func() error {
			var err error
			deleted, err = s.window.CleanupOldInstances(ctx, organizationID)
			return err
		})
	})
	if err == nil {
		s.metrics.InstancesDeleted.WithLabelValues(organizationID).Add(float64(deleted))
	}
	return deleted, err
}

// withLock runs fn while holding the organization's job lock. A lock held
// elsewhere is not an error: the run is skipped.
func (s *Scheduler) withLock(ctx context.Context, job, organizationID string, fn func(context.Context) error) error {
	start := s.now()
	held, err := s.locker.TryLock(ctx, lock.Key(job, organizationID))
	if errors.Is(err, lock.ErrNotAcquired) {
		s.log.Debug("Organization locked by another worker, skipping",
			logger.String("job", job), logger.OrganizationID(organizationID))
		s.metrics.ObserveRun(job, metrics.StatusLocked, s.now().Sub(start))
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := held.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("Failed to release lock",
				logger.String("job", job), logger.OrganizationID(organizationID), logger.Error(err))
		}
	}()

	err = fn(ctx)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailure
	}
	s.metrics.ObserveRun(job, status, s.now().Sub(start))
	return err
}

// retry retries op on storage failures. Invariant violations and missing
// configs are returned at once.
func (s *Scheduler) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if window.IsInvariantViolation(err) || errors.Is(err, window.ErrConfigNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(s.newBackOff(), ctx))
}

// monthsToCover returns a horizon long enough for the earliest rule to reach
// end; Until then trims every rule to end.
func monthsToCover(rules []models.RecurrenceRule, end time.Time) int {
	months := 1
	for _, rule := range rules {
		start, err := calendar.ParseTimestamp(rule.RecurrenceStartDate)
		if err != nil {
			continue
		}
		months = max(months, calendar.MonthsUntil(start, end))
	}
	return months
}
