// File: cmd/factory.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/browser"
	"github.com/xkilldash9x/census/internal/config"
	"github.com/xkilldash9x/census/internal/engine"
	"github.com/xkilldash9x/census/internal/results"
	"github.com/xkilldash9x/census/internal/store"
)

// Components holds all the initialized services required for a harvest.
type Components struct {
	Engine *engine.Engine
	Sinks  []schemas.ResultSink
	Store  *store.Store
	DBPool *pgxpool.Pool

	logger *zap.Logger
}

// Shutdown releases what Create acquired. Browsers are owned by the engine
// and are already closed when a run returns.
func (c *Components) Shutdown() {
	if c.DBPool != nil {
		c.DBPool.Close()
		c.logger.Debug("Database connection pool closed.")
	}
}

// newBrowserManager starts one chromedp browser per call.
func newBrowserManager(cfg config.BrowserConfig, logger *zap.Logger) engine.ManagerFactory {
	return func(ctx context.Context) (schemas.BrowserManager, error) {
		mgr, err := browser.NewManager(ctx, logger, cfg)
		if err != nil {
			return nil, err
		}
		return mgr, nil
	}
}

// buildSinks returns the file sinks enabled in cfg.
func buildSinks(cfg *config.Config, logger *zap.Logger) []schemas.ResultSink {
	var sinks []schemas.ResultSink
	if cfg.Run.WriteCSV {
		sinks = append(sinks, results.NewCSVSink(cfg.Run.OutputDir, logger))
	}
	if cfg.Run.WriteText {
		sinks = append(sinks, results.NewTextSink(cfg.Run.OutputDir, logger))
	}
	if cfg.Run.WriteJSON {
		sinks = append(sinks, results.NewJSONSink(cfg.Run.OutputDir, logger))
	}
	return sinks
}

// connectStore opens the database and prepares the schema.
func connectStore(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, *store.Store, error) {
	dbPool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	st, err := store.New(ctx, dbPool, logger)
	if err != nil {
		dbPool.Close()
		return nil, nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	return dbPool, st, nil
}

// newComponents handles the dependency injection for a harvest run.
func newComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}
	components.Sinks = buildSinks(cfg, logger)

	// Persistence is optional; it is enabled by a database URL.
	if cfg.Postgres.URL != "" {
		dbPool, st, err := connectStore(ctx, cfg.Postgres.URL, logger)
		if err != nil {
			return nil, err
		}
		components.DBPool = dbPool
		components.Store = st
		if err := st.EnsureSchema(ctx); err != nil {
			components.Shutdown()
			return nil, err
		}
		components.Sinks = append(components.Sinks, st)
		logger.Debug("Store sink initialized.")
	}

	components.Engine = engine.New(cfg, logger, newBrowserManager(cfg.Browser, logger), components.Sinks...)
	logger.Debug("Harvest engine initialized.", zap.Int("sinks", len(components.Sinks)))
	return components, nil
}
