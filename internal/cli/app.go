package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hray3182/instancegen/internal/config"
	"github.com/hray3182/instancegen/internal/database"
	"github.com/hray3182/instancegen/internal/logger"
	"github.com/hray3182/instancegen/internal/repository"
	"github.com/hray3182/instancegen/internal/window"
)

// app is the database-backed wiring shared by migrate, serve and window.
type app struct {
	cfg       *config.Config
	log       logger.Logger
	db        *database.DB
	configs   *repository.WindowConfigRepository
	instances *repository.InstanceRepository
	manager   *window.Manager
}

func newApp(ctx context.Context, rootOpts *RootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DatabaseURI == "" {
		return nil, errors.New("DATABASE_URI is required")
	}

	log, err := rootOpts.newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	defaults, err := config.LoadWindowDefaults(cfg.WindowDefaultsFile)
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, cfg.DatabaseURI)
	if err != nil {
		return nil, err
	}
	log.Debug("Connected to database")

	configs := repository.NewWindowConfigRepository(db)
	instances := repository.NewInstanceRepository(db)
	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		configs:   configs,
		instances: instances,
		manager:   window.NewManager(configs, instances, log, window.WithDefaults(defaults)),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	_ = a.log.Sync()
}
