package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hray3182/instancegen/internal/lock"
	"github.com/hray3182/instancegen/internal/logger"
	"github.com/hray3182/instancegen/internal/metrics"
	"github.com/hray3182/instancegen/internal/models"
	"github.com/hray3182/instancegen/internal/window"
)

var testNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeStore backs every storage interface the scheduler touches.
type fakeStore struct {
	mu         sync.Mutex
	configs    map[string]*models.GenerationWindowConfig
	rules      map[string][]models.RecurrenceRule
	templates  map[string][]models.RecurringEventTemplate
	instances  map[string]models.GeneratedInstance
	insertErrs []error
	inserts    int
	configErr  map[string]error

	// commitBeforeErr rows are kept by the next failing BulkInsert.
	commitBeforeErr int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		configs:   make(map[string]*models.GenerationWindowConfig),
		rules:     make(map[string][]models.RecurrenceRule),
		templates: make(map[string][]models.RecurringEventTemplate),
		instances: make(map[string]models.GeneratedInstance),
		configErr: make(map[string]error),
	}
}

func (f *fakeStore) GetConfig(_ context.Context, orgID string) (*models.GenerationWindowConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.configErr[orgID]; err != nil {
		return nil, err
	}
	cfg, ok := f.configs[orgID]
	if !ok {
		return nil, nil
	}
	c := *cfg
	return &c, nil
}

func (f *fakeStore) InsertConfig(_ context.Context, cfg *models.GenerationWindowConfig) (*models.GenerationWindowConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.configs[cfg.OrganizationID]; ok {
		return nil, nil
	}
	c := *cfg
	f.configs[cfg.OrganizationID] = &c
	return cfg, nil
}

func (f *fakeStore) ExtendWindowEnd(_ context.Context, orgID string, end time.Time, hot int, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.configs[orgID]
	if end.After(cfg.CurrentWindowEndDate) {
		cfg.CurrentWindowEndDate = end
	}
	cfg.HotWindowMonthsAhead = hot
	cfg.UpdatedAt = updatedAt
	return nil
}

func (f *fakeStore) AdvanceWindow(_ context.Context, orgID string, end, retention, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.configs[orgID]
	if end.After(cfg.CurrentWindowEndDate) {
		cfg.CurrentWindowEndDate = end
	}
	if retention.After(cfg.RetentionStartDate) {
		cfg.RetentionStartDate = retention
	}
	cfg.UpdatedAt = updatedAt
	return nil
}

func (f *fakeStore) ListConfigs(context.Context) ([]*models.GenerationWindowConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.GenerationWindowConfig
	for _, cfg := range f.configs {
		c := *cfg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessingPriority != out[j].ProcessingPriority {
			return out[i].ProcessingPriority > out[j].ProcessingPriority
		}
		return out[i].OrganizationID < out[j].OrganizationID
	})
	return out, nil
}

func (f *fakeStore) CountInstances(_ context.Context, orgID string) (int64, error) {
	return f.countWhere(orgID, func(models.GeneratedInstance) bool { return true }), nil
}

func (f *fakeStore) CountInstancesEndingBefore(_ context.Context, orgID string, cutoff time.Time) (int64, error) {
	return f.countWhere(orgID, func(i models.GeneratedInstance) bool { return i.EndsBefore(cutoff) }), nil
}

func (f *fakeStore) countWhere(orgID string, match func(models.GeneratedInstance) bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, inst := range f.instances {
		if inst.OrganizationID == orgID && match(inst) {
			n++
		}
	}
	return n
}

func (f *fakeStore) DeleteInstancesEndingBefore(_ context.Context, orgID string, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key, inst := range f.instances {
		if inst.OrganizationID == orgID && inst.EndsBefore(cutoff) {
			delete(f.instances, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) BulkInsert(_ context.Context, instances []models.GeneratedInstance) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		if err != nil {
			kept := instances[:min(f.commitBeforeErr, len(instances))]
			f.commitBeforeErr = 0
			return f.storeLocked(kept), err
		}
	}
	return f.storeLocked(instances), nil
}

func (f *fakeStore) storeLocked(instances []models.GeneratedInstance) int64 {
	var n int64
	for _, inst := range instances {
		key := inst.RecurrenceRuleID + "|" + inst.OriginalInstanceStartTime.String()
		if _, ok := f.instances[key]; ok {
			continue
		}
		f.instances[key] = inst
		n++
	}
	return n
}

type ruleSource struct{ f *fakeStore }

func (r ruleSource) GetByOrganization(_ context.Context, orgID string) ([]models.RecurrenceRule, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return r.f.rules[orgID], nil
}

type templateSource struct{ f *fakeStore }

func (t templateSource) GetByOrganization(_ context.Context, orgID string) ([]models.RecurringEventTemplate, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	return t.f.templates[orgID], nil
}

// addOrganization registers a config with a window ending 2026-04-01 and
// retention starting 2025-10-01, plus one weekly Monday rule from start.
func (f *fakeStore) addOrganization(orgID string, priority int, start time.Time) {
	f.configs[orgID] = &models.GenerationWindowConfig{
		OrganizationID:         orgID,
		HotWindowMonthsAhead:   3,
		HistoryRetentionMonths: 3,
		CurrentWindowEndDate:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		RetentionStartDate:     time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		ProcessingPriority:     priority,
		MaxInstancesPerRun:     1000,
	}
	tplID := "tpl-" + orgID
	f.templates[orgID] = []models.RecurringEventTemplate{{
		ID:                       tplID,
		StartAt:                  start.Add(9 * time.Hour).Format(time.RFC3339),
		EndAt:                    start.Add(10 * time.Hour).Format(time.RFC3339),
		IsRecurringEventTemplate: true,
	}}
	f.rules[orgID] = []models.RecurrenceRule{{
		ID:                   "rule-" + orgID,
		BaseRecurringEventID: tplID,
		OrganizationID:       orgID,
		OriginalSeriesID:     "series-" + orgID,
		Frequency:            models.FrequencyWeekly,
		RecurrenceStartDate:  start.Format(time.RFC3339),
	}}
}

type harness struct {
	store  *fakeStore
	locker *lock.LocalLocker
	logs   *observer.ObservedLogs
	sched  *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewWithZap(zap.New(core))
	store := newFakeStore()
	locker := lock.NewLocalLocker()
	clock := func() time.Time { return testNow }

	manager := window.NewManager(store, store, log, window.WithClock(clock))
	sched := New(manager, ruleSource{store}, templateSource{store}, store, locker,
		metrics.New(prometheus.NewRegistry()), log,
		WithClock(clock),
		WithBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		}),
	)
	return &harness{store: store, locker: locker, logs: logs, sched: sched}
}

var jan5 = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) // a Monday

func TestGenerateOrganization(t *testing.T) {
	h := newHarness(t)
	h.store.addOrganization("org-1", 5, jan5)
	ctx := context.Background()

	result, err := h.sched.GenerateOrganization(ctx, "org-1")
	require.NoError(t, err)
	// Mondays from Jan 5 through Mar 30.
	assert.Equal(t, 13, result.Generated)
	assert.Equal(t, int64(13), result.Inserted)
	assert.Zero(t, result.Expired)
	assert.Zero(t, result.Capped)

	again, err := h.sched.GenerateOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 13, again.Generated)
	assert.Zero(t, again.Inserted)

	n, err := h.store.CountInstances(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)
}

func TestGenerateOrganization_DropsExpiredAndCaps(t *testing.T) {
	sep1 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC) // a Monday

	t.Run("expired", func(t *testing.T) {
		h := newHarness(t)
		h.store.addOrganization("org-1", 5, sep1)

		result, err := h.sched.GenerateOrganization(context.Background(), "org-1")
		require.NoError(t, err)
		assert.Equal(t, 31, result.Generated)
		assert.Equal(t, 5, result.Expired)
		assert.Equal(t, int64(26), result.Inserted)
	})

	t.Run("capped", func(t *testing.T) {
		h := newHarness(t)
		h.store.addOrganization("org-1", 5, sep1)
		h.store.configs["org-1"].MaxInstancesPerRun = 10

		ctx := context.Background()
		result, err := h.sched.GenerateOrganization(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, 16, result.Capped)
		assert.Equal(t, int64(10), result.Inserted)
		assert.Equal(t, 1, h.logs.FilterMessage("Generation capped by maxInstancesPerRun").Len())

		// Rows inserted earlier do not count against the cap.
		result, err = h.sched.GenerateOrganization(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, 6, result.Capped)
		assert.Equal(t, int64(10), result.Inserted)

		result, err = h.sched.GenerateOrganization(ctx, "org-1")
		require.NoError(t, err)
		assert.Zero(t, result.Capped)
		assert.Equal(t, int64(6), result.Inserted)

		n, err := h.store.CountInstances(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, int64(26), n)
	})

	t.Run("capped after partial insert failure", func(t *testing.T) {
		h := newHarness(t)
		h.store.addOrganization("org-1", 5, sep1)
		h.store.configs["org-1"].MaxInstancesPerRun = 10
		h.store.insertErrs = []error{errors.New("connection reset")}
		h.store.commitBeforeErr = 4

		ctx := context.Background()
		result, err := h.sched.GenerateOrganization(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, 2, h.store.inserts)
		assert.Equal(t, int64(10), result.Inserted)
		assert.Equal(t, 16, result.Capped)

		n, err := h.store.CountInstances(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), n)
	})
}

func TestGenerateOrganization_RollsWindowForward(t *testing.T) {
	h := newHarness(t)
	h.store.addOrganization("org-1", 5, jan5)
	h.store.configs["org-1"].HotWindowMonthsAhead = 6

	result, err := h.sched.GenerateOrganization(context.Background(), "org-1")
	require.NoError(t, err)

	cfg := h.store.configs["org-1"]
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), cfg.CurrentWindowEndDate)
	// Mondays from Jan 5 through Jun 29.
	assert.Equal(t, 26, result.Generated)
}

func TestGenerateOrganization_SkippedRulesAreLogged(t *testing.T) {
	h := newHarness(t)
	h.store.addOrganization("org-1", 5, jan5)
	h.store.rules["org-1"] = append(h.store.rules["org-1"], models.RecurrenceRule{
		ID:                   "orphan",
		BaseRecurringEventID: "missing",
		OrganizationID:       "org-1",
		RecurrenceStartDate:  jan5.Format(time.RFC3339),
	})

	result, err := h.sched.GenerateOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 13, result.Generated)

	skipped := h.logs.FilterMessage("Skipping recurrence rule").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, zapcore.WarnLevel, skipped[0].Level)
	assert.Equal(t, "orphan", skipped[0].ContextMap()["rule_id"])
}

func TestGenerateOrganization_LockedElsewhere(t *testing.T) {
	h := newHarness(t)
	h.store.addOrganization("org-1", 5, jan5)
	ctx := context.Background()

	held, err := h.locker.TryLock(ctx, lock.Key(JobGenerate, "org-1"))
	require.NoError(t, err)

	result, err := h.sched.GenerateOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Zero(t, result.Generated)
	assert.Zero(t, h.store.inserts)

	require.NoError(t, held.Unlock(ctx))
	result, err = h.sched.GenerateOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(13), result.Inserted)
}

func TestGenerateOrganization_RetriesStorageFailures(t *testing.T) {
	h := newHarness(t)
	h.store.addOrganization("org-1", 5, jan5)
	h.store.insertErrs = []error{errors.New("connection reset")}

	result, err := h.sched.GenerateOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, h.store.inserts)
	assert.Equal(t, int64(13), result.Inserted)
}

func TestGenerateOrganization_GivesUpAfterRetries(t *testing.T) {
	h := newHarness(t)
	h.store.addOrganization("org-1", 5, jan5)
	boom := errors.New("connection refused")
	h.store.insertErrs = []error{boom, boom, boom, boom, boom}

	_, err := h.sched.GenerateOrganization(context.Background(), "org-1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, h.store.inserts)
}

func TestGenerateOrganization_MissingConfigIsNotRetried(t *testing.T) {
	h := newHarness(t)

	_, err := h.sched.GenerateOrganization(context.Background(), "nobody")
	assert.ErrorIs(t, err, window.ErrConfigNotFound)
	assert.Zero(t, h.store.inserts)
}

func TestGenerateAll_ContinuesPastFailures(t *testing.T) {
	h := newHarness(t)
	h.store.addOrganization("org-low", 1, jan5)
	h.store.addOrganization("org-high", 9, jan5)
	h.store.addOrganization("org-broken", 5, jan5)
	h.store.configErr["org-broken"] = errors.New("disk full")

	err := h.sched.GenerateAll(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "organization org-broken")

	ctx := context.Background()
	for _, org := range []string{"org-low", "org-high"} {
		n, err := h.store.CountInstances(ctx, org)
		require.NoError(t, err)
		assert.Equal(t, int64(13), n, org)
	}

	generated := h.logs.FilterMessage("Instances generated").All()
	require.Len(t, generated, 2)
	assert.Equal(t, "org-high", generated[0].ContextMap()["organization_id"])
	assert.Equal(t, "org-low", generated[1].ContextMap()["organization_id"])
}

func TestCleanupOrganization(t *testing.T) {
	h := newHarness(t)
	h.store.addOrganization("org-1", 5, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	// Materialize everything, including rows the generator would drop.
	h.store.configs["org-1"].RetentionStartDate = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h.store.configs["org-1"].HistoryRetentionMonths = 12
	_, err := h.sched.GenerateOrganization(ctx, "org-1")
	require.NoError(t, err)
	total, err := h.store.CountInstances(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, int64(31), total)

	h.store.configs["org-1"].RetentionStartDate = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	deleted, err := h.sched.CleanupOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	require.NoError(t, h.sched.CleanupAll(ctx))
	remaining, err := h.store.CountInstances(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(26), remaining)
}

func TestStart_RejectsInvalidSchedule(t *testing.T) {
	tests := []struct {
		name     string
		generate string
		cleanup  string
		want     string
	}{
		{name: "generate", generate: "every hour", cleanup: "0 3 * * *", want: "invalid generate schedule"},
		{name: "cleanup", generate: "@every 1h", cleanup: "61 * * * *", want: "invalid cleanup schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			err := h.sched.Start(context.Background(), tt.generate, tt.cleanup)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestStart_RunsInitialPassAndStops(t *testing.T) {
	h := newHarness(t)
	h.store.addOrganization("org-1", 5, jan5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Start(ctx, "@every 1h", "0 3 * * *") }()

	require.Eventually(t, func() bool {
		n, _ := h.store.CountInstances(context.Background(), "org-1")
		return n == 13
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestMonthsToCover(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		starts []string
		want   int
	}{
		{name: "no rules", want: 1},
		{name: "one rule", starts: []string{"2026-01-05"}, want: 3},
		{name: "earliest wins", starts: []string{"2026-01-05", "2025-09-01"}, want: 7},
		{name: "after end", starts: []string{"2026-06-01"}, want: 1},
		{name: "unparseable ignored", starts: []string{"soon", "2026-03-01"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rules []models.RecurrenceRule
			for _, s := range tt.starts {
				rules = append(rules, models.RecurrenceRule{RecurrenceStartDate: s})
			}
			assert.Equal(t, tt.want, monthsToCover(rules, end))
		})
	}
}
