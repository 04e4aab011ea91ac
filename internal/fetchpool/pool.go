// Package fetchpool resolves one count per handle with a bounded number of
// concurrent browser pages, isolating every failure to the handle it hit.
package fetchpool

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/config"
	"github.com/xkilldash9x/census/internal/countparse"
	"github.com/xkilldash9x/census/internal/locate"
	"github.com/xkilldash9x/census/internal/wait"
)

const closeTimeout = 10 * time.Second

// Pool fetches counts for a list of handles.
type Pool struct {
	logger  *zap.Logger
	cfg     config.PoolConfig
	baseURL string
	factory schemas.PageFactory
	parser  *countparse.Parser
	limiter *rate.Limiter
}

// New creates a pool that opens its pages from factory. A nil parser uses the
// default follower marker.
func New(logger *zap.Logger, cfg config.PoolConfig, baseURL string, factory schemas.PageFactory, parser *countparse.Parser) *Pool {
	if parser == nil {
		parser = countparse.New(countparse.DefaultMarker)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	p := &Pool{
		logger:  logger.Named("fetch_pool"),
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		factory: factory,
		parser:  parser,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return p
}

// Run fetches a count for every handle. The returned map always has exactly
// one entry per distinct input handle. When ctx is cancelled no new handles
// are started, in-flight ones finish within their own timeouts, the rest are
// marked skipped, and ctx.Err() is returned with the results.
func (p *Pool) Run(ctx context.Context, handles []string, state *schemas.SessionState) (schemas.FetchResults, error) {
	results := make(schemas.FetchResults, len(handles))
	if len(handles) == 0 {
		return results, nil
	}

	batches := Batches(handles, p.cfg.Workers)
	p.logger.Info("Starting fetch pool",
		zap.Int("handles", len(handles)),
		zap.Int("workers", p.cfg.Workers),
		zap.Int("batches", len(batches)),
		zap.Bool("rate_limited", p.limiter != nil))

	sem := semaphore.NewWeighted(int64(p.cfg.Workers))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, batch := range batches {
		wg.Add(1)
		go func(worker int, batch []string) {
			defer wg.Done()
			local := p.runBatch(ctx, sem, worker, batch, state)
			mu.Lock()
			for _, res := range local {
				results[res.Handle] = res
			}
			mu.Unlock()
		}(i+1, batch)
	}
	wg.Wait()

	tally := results.Tally()
	p.logger.Info("Fetch pool finished",
		zap.Int("resolved", tally.Resolved),
		zap.Int("absent", tally.Absent),
		zap.Int("not_found", tally.NotFound),
		zap.Int("skipped", tally.Skipped))

	return results, ctx.Err()
}

// runBatch processes one batch sequentially on its own page while holding a
// semaphore slot.
func (p *Pool) runBatch(ctx context.Context, sem *semaphore.Weighted, worker int, batch []string, state *schemas.SessionState) []schemas.FetchResult {
	logger := p.logger.With(zap.Int("worker", worker))
	local := make([]schemas.FetchResult, 0, len(batch))
	finish := func(status schemas.FetchStatus, reason string, rest []string) []schemas.FetchResult {
		for _, h := range rest {
			local = append(local, schemas.FetchResult{Handle: h, Status: status, Worker: worker, Err: reason})
		}
		return local
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return finish(schemas.FetchSkipped, err.Error(), batch)
	}
	defer sem.Release(1)

	if err := ctx.Err(); err != nil {
		return finish(schemas.FetchSkipped, err.Error(), batch)
	}

	openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.NavigateTimeout)
	page, err := p.factory.NewPage(openCtx, state)
	cancel()
	if err != nil {
		logger.Error("Failed to open page, batch marked absent", zap.Int("batch_size", len(batch)), zap.Error(err))
		return finish(schemas.FetchAbsent, fmt.Sprintf("%v: page unavailable: %v", schemas.ErrPerItemFetchFailure, err), batch)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := page.Close(closeCtx); err != nil {
			logger.Warn("Failed to close page", zap.Error(err))
		}
	}()

	logger.Debug("Worker started", zap.Int("batch_size", len(batch)))
	for i, handle := range batch {
		if i > 0 {
			if err := wait.Settle(ctx, p.cfg.Pacing); err != nil {
				return finish(schemas.FetchSkipped, err.Error(), batch[i:])
			}
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return finish(schemas.FetchSkipped, err.Error(), batch[i:])
			}
		}
		if err := ctx.Err(); err != nil {
			return finish(schemas.FetchSkipped, err.Error(), batch[i:])
		}
		local = append(local, p.fetch(ctx, logger, page, worker, handle))
	}
	return local
}

// fetch resolves a single handle. It never panics and never returns an error:
// every failure becomes an absent result for this handle only. The item runs
// under its own timeout, detached from run cancellation so an in-flight item
// can finish.
func (p *Pool) fetch(runCtx context.Context, logger *zap.Logger, page schemas.Page, worker int, handle string) (res schemas.FetchResult) {
	res = schemas.FetchResult{Handle: handle, Status: schemas.FetchAbsent, Worker: worker}
	logger = logger.With(zap.String("handle", handle))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic while fetching", zap.Any("panic", r))
			res = schemas.FetchResult{
				Handle: handle,
				Status: schemas.FetchAbsent,
				Worker: worker,
				Err:    fmt.Sprintf("%v: panic: %v", schemas.ErrPerItemFetchFailure, r),
			}
		}
	}()

	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), p.cfg.ItemTimeout)
	defer cancel()

	navCtx, navCancel := context.WithTimeout(itemCtx, p.cfg.NavigateTimeout)
	err := page.Navigate(navCtx, p.profileURL(handle))
	navCancel()
	if err != nil {
		logger.Warn("Navigation failed", zap.Error(err))
		res.Err = fmt.Sprintf("%v: %v", schemas.ErrPerItemFetchFailure, err)
		return res
	}
	if err := wait.Sleep(itemCtx, p.cfg.ContentSettle); err != nil {
		res.Err = fmt.Sprintf("%v: %v", schemas.ErrPerItemFetchFailure, err)
		return res
	}

	if _, err := locate.Any(itemCtx, logger, page, p.cfg.NotFound, 0); err == nil {
		logger.Warn("Profile not found or private")
		res.Status = schemas.FetchNotFound
		return res
	}

	for _, s := range p.strategies() {
		n, ok, err := s.resolve(itemCtx, page, handle)
		if err != nil {
			if itemCtx.Err() != nil {
				logger.Warn("Item timed out", zap.String("strategy", s.name), zap.Error(err))
				res.Err = fmt.Sprintf("%v: %v", schemas.ErrPerItemFetchFailure, err)
				return res
			}
			p.logStrategyErr(handle, s.name, err)
			continue
		}
		if ok {
			logger.Info("Count resolved", zap.Int64("count", n), zap.String("strategy", s.name))
			res.Status = schemas.FetchResolved
			res.Count = &n
			res.Strategy = s.name
			return res
		}
	}

	logger.Warn("No strategy produced a count")
	res.Err = schemas.ErrPerItemFetchFailure.Error()
	return res
}

func (p *Pool) profileURL(handle string) string {
	return p.baseURL + "/" + url.PathEscape(handle) + "/"
}
