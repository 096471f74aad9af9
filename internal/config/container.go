package config

import (
	"context"
	"fmt"

	"highlight-store/internal/domain"
	"highlight-store/internal/engine"
	"highlight-store/internal/infra/supabase"
	"highlight-store/internal/service"
	"highlight-store/internal/store"
	"highlight-store/internal/view"
	"highlight-store/pkg/logger"
)

// Container holds all application dependencies
type Container struct {
	Config           domain.Config
	Logger           *logger.AppLogger
	Store            *store.Store
	HighlightService *service.HighlightService
	GarbageCollector *service.GarbageCollector
}

// NewContainer wires the application from the environment and opens the store.
func NewContainer(ctx context.Context) (*Container, error) {
	return NewContainerWithConfig(ctx, NewConfig())
}

// NewContainerWithConfig wires the application from config.
func NewContainerWithConfig(ctx context.Context, config domain.Config) (*Container, error) {
	appLogger := logger.New(logger.Options{
		Level:  config.GetLogLevel(),
		Format: config.GetLogFormat(),
		File:   config.GetLogFile(),
	})

	opts := engine.Options{DataDir: config.GetDataDir()}
	if config.GetStoreBackend() == engine.BackendSupabase {
		client := supabase.NewClient(config, appLogger)
		if err := client.Initialize(); err != nil {
			return nil, err
		}
		opts.Supabase = client.DB()
	}
	factory, err := engine.NewFactory(config.GetStoreBackend(), opts)
	if err != nil {
		return nil, err
	}

	st := store.New(config.GetStoreName(), factory, view.Definitions(), appLogger,
		store.WithStrictInvariants(config.GetStrictInvariants()),
	)
	if err := st.Open(ctx); err != nil {
		return nil, fmt.Errorf("opening store %s: %w", st.Name(), err)
	}

	highlights := service.NewHighlightService(st, appLogger, config.GetProducerVersion())
	gc := service.NewGarbageCollector(highlights, appLogger, config.GetSweepConcurrency())

	appLogger.Info("Container initialized",
		"backend", config.GetStoreBackend(),
		"store", st.Name(),
	)
	return &Container{
		Config:           config,
		Logger:           appLogger,
		Store:            st,
		HighlightService: highlights,
		GarbageCollector: gc,
	}, nil
}

// GetConfig returns the configuration instance
func (c *Container) GetConfig() domain.Config {
	return c.Config
}

// GetLogger returns the logger instance
func (c *Container) GetLogger() domain.Logger {
	return c.Logger
}

// Close releases the store and the log file.
func (c *Container) Close() error {
	err := c.Store.Close()
	if lerr := c.Logger.Close(); err == nil {
		err = lerr
	}
	return err
}
