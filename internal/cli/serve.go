package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hray3182/instancegen/internal/lock"
	"github.com/hray3182/instancegen/internal/logger"
	"github.com/hray3182/instancegen/internal/metrics"
	"github.com/hray3182/instancegen/internal/repository"
	"github.com/hray3182/instancegen/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command, which runs the scheduled
// generation and cleanup jobs and exposes /metrics.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the generation and cleanup scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts)
		},
	}
}

func runServe(ctx context.Context, rootOpts *RootOptions) error {
	a, err := newApp(ctx, rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.Migrate(ctx, a.log); err != nil {
		return err
	}
	a.log.Info("Database migrations completed")

	var locker lock.Locker
	if a.cfg.RedisAddress != "" {
		client, err := lock.NewClient(lock.Config{
			Address:  a.cfg.RedisAddress,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, a.cfg.LockTTL)
		a.log.Info("Using Redis locks", logger.String("address", a.cfg.RedisAddress))
	} else {
		locker = lock.NewLocalLocker()
		a.log.Warn("REDIS_ADDRESS not set, locks are local to this process")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: a.cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.log.Info("Metrics server listening", logger.String("address", a.cfg.MetricsListen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Metrics server failed", logger.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	sched := scheduler.New(
		a.manager,
		repository.NewRuleRepository(a.db),
		repository.NewTemplateRepository(a.db),
		a.instances,
		locker,
		m,
		a.log,
	)
	return sched.Start(ctx, a.cfg.GenerateSchedule, a.cfg.CleanupSchedule)
}
