package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/auth"
	"github.com/xkilldash9x/census/internal/config"
	"github.com/xkilldash9x/census/internal/countparse"
	"github.com/xkilldash9x/census/internal/directory"
	"github.com/xkilldash9x/census/internal/fetchpool"
	"github.com/xkilldash9x/census/internal/sessionbridge"
)

const (
	shutdownTimeout = 30 * time.Second
	sinkTimeout     = 30 * time.Second
)

// -- Interfaces for Dependency Inversion --

// ManagerFactory starts a browser. The engine asks for one per phase.
type ManagerFactory func(ctx context.Context) (schemas.BrowserManager, error)

// Authenticator logs a page in.
type Authenticator interface {
	Authenticate(ctx context.Context, page schemas.Page, creds schemas.Credentials) error
}

// Extractor collects handles from a directory.
type Extractor interface {
	Extract(ctx context.Context, page schemas.Page, owner, dir string, target int) (*schemas.Extraction, error)
}

// Fetcher resolves a count per handle.
type Fetcher interface {
	Run(ctx context.Context, handles []string, state *schemas.SessionState) (schemas.FetchResults, error)
}

// Engine runs a harvest end to end: login and directory extraction on one
// browser, then the fetch pool on a second one, then the result sinks.
type Engine struct {
	cfg        *config.Config
	logger     *zap.Logger
	newManager ManagerFactory
	auth       Authenticator
	extractor  Extractor
	newFetcher func(factory schemas.PageFactory) Fetcher
	sinks      []schemas.ResultSink
	now        func() time.Time
}

// New wires the pipeline from cfg.
func New(cfg *config.Config, logger *zap.Logger, newManager ManagerFactory, sinks ...schemas.ResultSink) *Engine {
	logger = logger.With(zap.String("component", "engine"))
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		newManager: newManager,
		auth:       auth.New(logger, cfg.Auth),
		extractor:  directory.New(logger, cfg.Extraction, cfg.Target.BaseURL),
		newFetcher: func(factory schemas.PageFactory) Fetcher {
			return fetchpool.New(logger, cfg.Pool, cfg.Target.BaseURL, factory, countparse.New(countparse.DefaultMarker))
		},
		sinks: sinks,
		now:   time.Now,
	}
}

// Run performs one harvest. Fatal errors from Phase A (login, directory,
// session export) are returned with a nil summary. Once handles exist, the
// summary is always returned and written to the sinks, even when the run is
// cancelled; the error then carries the cancellation.
func (e *Engine) Run(ctx context.Context, creds schemas.Credentials) (*schemas.RunSummary, error) {
	if e.cfg.Run.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Run.Deadline)
		defer cancel()
	}

	summary := &schemas.RunSummary{
		RunID:     uuid.NewString(),
		Owner:     e.cfg.Target.Owner,
		Directory: e.cfg.Target.Directory,
		StartedAt: e.now(),
		Results:   schemas.FetchResults{},
	}
	logger := e.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("Starting harvest",
		zap.String("owner", summary.Owner),
		zap.String("directory", summary.Directory),
		zap.Int("target", e.cfg.Target.Count),
		zap.Int("workers", e.cfg.Pool.Workers))

	extraction, state, runErr := e.phaseA(ctx, logger, creds)
	if extraction == nil {
		return nil, runErr
	}
	summary.Extraction = extraction

	if runErr == nil && len(extraction.Handles) > 0 {
		results, err := e.phaseB(ctx, logger, extraction.Handles, state)
		if results != nil {
			summary.Results = results
		}
		runErr = err
	} else if runErr == nil {
		logger.Warn("No handles collected, skipping profile fetch")
	}

	if runErr != nil && ctx.Err() != nil {
		summary.Cancelled = true
	}
	summary.FinishedAt = e.now()
	summary.Tally = summary.Results.Tally()

	logger.Info("Harvest finished",
		zap.Int("handles", summary.Tally.Total),
		zap.Int("resolved", summary.Tally.Resolved),
		zap.Int("absent", summary.Tally.Absent),
		zap.Float64("success_rate", summary.Tally.SuccessRate()),
		zap.Duration("elapsed", summary.Elapsed()),
		zap.Float64("profiles_per_minute", summary.ProfilesPerMinute()),
		zap.Bool("cancelled", summary.Cancelled))

	if err := e.writeSinks(ctx, logger, summary); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return summary, runErr
}

// phaseA logs in, extracts the directory and exports the session. The
// extraction is nil when nothing usable was produced.
func (e *Engine) phaseA(ctx context.Context, logger *zap.Logger, creds schemas.Credentials) (*schemas.Extraction, *schemas.SessionState, error) {
	logger.Info("Phase A: authenticated directory extraction")
	mgr, err := e.newManager(context.WithoutCancel(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start browser for phase A: %w", err)
	}
	defer e.shutdown(logger, mgr)

	page, err := mgr.NewSessionPage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session page: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = page.Close(closeCtx)
	}()

	if err := e.auth.Authenticate(ctx, page, creds); err != nil {
		return nil, nil, fmt.Errorf("login failed: %w", err)
	}

	target := e.cfg.Target
	extraction, err := e.extractor.Extract(ctx, page, target.Owner, target.Directory, target.Count)
	if err != nil {
		if extraction == nil {
			return nil, nil, fmt.Errorf("directory extraction failed: %w", err)
		}
		logger.Warn("Extraction interrupted", zap.Int("collected", len(extraction.Handles)), zap.Error(err))
		return extraction, nil, err
	}
	if softErr := extraction.Err(); softErr != nil {
		logger.Warn("Extraction ended before the target", zap.Error(softErr))
	}
	if len(extraction.Handles) == 0 {
		return extraction, nil, nil
	}

	raw, err := page.ExportSession(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return extraction, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: %v", schemas.ErrSessionExportFailure, err)
	}
	state, err := sessionbridge.Export(raw)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Session exported", zap.Int("records", state.Len()))

	if e.cfg.Run.CookieDump {
		e.dumpSession(logger, state)
	}
	return extraction, state, nil
}

func (e *Engine) phaseB(ctx context.Context, logger *zap.Logger, handles []string, state *schemas.SessionState) (schemas.FetchResults, error) {
	logger.Info("Phase B: profile fetch", zap.Int("handles", len(handles)))
	mgr, err := e.newManager(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to start browser for phase B: %w", err)
	}
	defer e.shutdown(logger, mgr)

	return e.newFetcher(mgr).Run(ctx, handles, sessionbridge.Clone(state))
}

func (e *Engine) shutdown(logger *zap.Logger, mgr schemas.BrowserManager) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Warn("Browser shutdown failed", zap.Error(err))
	}
}

// dumpSession saves the exported session next to the reports. Failure is
// only logged.
func (e *Engine) dumpSession(logger *zap.Logger, state *schemas.SessionState) {
	path := filepath.Join(e.cfg.Run.OutputDir, fmt.Sprintf("cookies_%s.json", e.now().Format("20060102_150405")))
	if err := sessionbridge.WriteFile(path, state); err != nil {
		logger.Warn("Failed to write cookie dump", zap.Error(err))
		return
	}
	logger.Info("Cookie dump written", zap.String("path", path))
}

// writeSinks hands the summary to every sink concurrently. Sinks run on a
// context detached from run cancellation so partial results still land.
func (e *Engine) writeSinks(ctx context.Context, logger *zap.Logger, summary *schemas.RunSummary) error {
	if len(e.sinks) == 0 {
		return nil
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, sink := range e.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(sinkCtx, summary); err != nil {
				logger.Error("Failed to write results", zap.String("sink", sink.Name()), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
				mu.Unlock()
			}
			// Every sink runs to completion; failures are joined below.
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
