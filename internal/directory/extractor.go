// Package directory collects handles from a paginated, infinite-scroll
// directory panel on an authenticated page.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/config"
	"github.com/xkilldash9x/census/internal/countparse"
	"github.com/xkilldash9x/census/internal/locate"
	"github.com/xkilldash9x/census/internal/wait"
)

// State is a step of the extraction state machine.
type State string

const (
	StateIdle          State = "idle"
	StateNavigating    State = "navigating"
	StateAwaitingPanel State = "awaiting_panel"
	StateCollecting    State = "collecting"
	StatePaginating    State = "paginating"
	StateTerminated    State = "terminated"
)

// aggressiveAfter is the no-progress count past which pagination falls back
// to scrolling the surrounding document.
const aggressiveAfter = 3

// Extractor opens an owner's directory and paginates it until the target is
// reached or one of the progress bounds trips. It holds no per-run state and
// may be reused.
type Extractor struct {
	logger  *zap.Logger
	cfg     config.ExtractionConfig
	baseURL string
}

// New creates an Extractor for profiles under baseURL.
func New(logger *zap.Logger, cfg config.ExtractionConfig, baseURL string) *Extractor {
	return &Extractor{
		logger:  logger.Named("directory"),
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// run carries the state of one extraction.
type run struct {
	logger *zap.Logger
	state  State
	page   schemas.Page
	panel  schemas.Locator
	filter *handleFilter
	seen   map[string]struct{}
	result *schemas.Extraction
	// consecutive scans without a new handle
	noProgress int
}

func (r *run) transition(to State) {
	r.logger.Debug("State transition", zap.String("from", string(r.state)), zap.String("to", string(to)))
	r.state = to
}

// Extract collects at most target unique handles from the owner's directory.
//
// Missing profile, link or panel yields schemas.ErrDirectoryNotFound. Running
// out of progress is not an error: the extraction is returned with status
// partial or empty and Extraction.Err() describes why. On cancellation the
// handles gathered so far are returned together with ctx.Err().
func (e *Extractor) Extract(ctx context.Context, page schemas.Page, owner, dir string, target int) (*schemas.Extraction, error) {
	if target <= 0 {
		return nil, fmt.Errorf("target must be positive, got %d", target)
	}
	r := &run{
		logger: e.logger.With(zap.String("owner", owner), zap.String("directory", dir)),
		state:  StateIdle,
		page:   page,
		filter: newHandleFilter(e.baseURL, owner, e.cfg.ReservedPrefixes),
		seen:   make(map[string]struct{}, target),
		result: &schemas.Extraction{
			Owner:     owner,
			Directory: dir,
			Target:    target,
			Handles:   make([]string, 0, target),
		},
	}

	if err := e.open(ctx, r, owner, dir); err != nil {
		if ctx.Err() != nil {
			return e.cancelled(r, ctx.Err())
		}
		return nil, err
	}
	if err := e.collect(ctx, r); err != nil {
		return e.cancelled(r, err)
	}
	return r.result, nil
}

// open covers Navigating and AwaitingPanel.
func (e *Extractor) open(ctx context.Context, r *run, owner, dir string) error {
	r.transition(StateNavigating)
	profileURL := e.baseURL + "/" + url.PathEscape(owner) + "/"
	if err := r.page.Navigate(ctx, profileURL); err != nil {
		return fmt.Errorf("%w: failed to open profile %s: %v", schemas.ErrDirectoryNotFound, owner, err)
	}
	if err := wait.Settle(ctx, e.cfg.ProfileSettle); err != nil {
		return err
	}

	if _, err := locate.Any(ctx, r.logger, r.page, e.cfg.NotFound, 0); err == nil {
		return fmt.Errorf("%w: profile %s does not exist", schemas.ErrDirectoryNotFound, owner)
	} else if !errors.Is(err, wait.ErrTimedOut) {
		return err
	}

	link := schemas.CSS(fmt.Sprintf(`a[href*="/%s"]`, dir))
	text, err := locate.Text(ctx, r.logger, r.page, link, e.cfg.LinkTimeout)
	if err != nil {
		if errors.Is(err, wait.ErrTimedOut) {
			return fmt.Errorf("%w: no %s link on %s's profile", schemas.ErrDirectoryNotFound, dir, owner)
		}
		return err
	}
	if n, ok := countparse.New(dir).Parse(text); ok {
		r.result.Advertised = &n
		r.logger.Info("Directory size advertised", zap.Int64("advertised", n), zap.Int("target", r.result.Target))
	} else {
		r.logger.Debug("Directory link text has no count", zap.String("text", text))
	}
	if err := r.page.Click(ctx, link); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: failed to open %s: %v", schemas.ErrDirectoryNotFound, dir, err)
	}
	if err := wait.Settle(ctx, e.cfg.OpenSettle); err != nil {
		return err
	}

	r.transition(StateAwaitingPanel)
	found := false
	for _, loc := range e.cfg.PanelLocators {
		err := locate.Present(ctx, r.logger, r.page, loc, e.cfg.PanelTimeout)
		if err == nil {
			r.panel = loc
			found = true
			break
		}
		if !errors.Is(err, wait.ErrTimedOut) {
			return err
		}
		r.logger.Debug("Panel locator did not match", zap.Stringer("locator", loc))
	}
	if !found {
		return fmt.Errorf("%w: %s panel did not open", schemas.ErrDirectoryNotFound, dir)
	}
	r.logger.Info("Directory panel open", zap.Stringer("panel", r.panel))
	return wait.Settle(ctx, e.cfg.InitialSettle)
}

// collect alternates Collecting and Paginating until a bound is hit. It only
// returns an error on cancellation.
func (e *Extractor) collect(ctx context.Context, r *run) error {
	res := r.result
	links := linksIn(r.panel)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.transition(StateCollecting)
		added, err := e.scan(ctx, r, links)
		if err != nil {
			return err
		}
		res.Scans++

		if len(res.Handles) >= res.Target {
			e.terminate(r, schemas.ReasonTargetReached)
			return nil
		}

		if added > 0 {
			r.noProgress = 0
			r.logger.Info("Collected handles",
				zap.Int("added", added),
				zap.Int("collected", len(res.Handles)),
				zap.Int("target", res.Target))
		} else {
			r.noProgress++
			if e.cfg.DiagnosticsEvery > 0 && r.noProgress%e.cfg.DiagnosticsEvery == 0 {
				r.logger.Info("No new handles",
					zap.Int("no_progress", r.noProgress),
					zap.Int("attempts", res.Attempts),
					zap.Int("collected", len(res.Handles)))
				e.logDiagnostics(ctx, r)
			}
		}

		if r.noProgress >= e.cfg.MaxNoProgress {
			e.terminate(r, schemas.ReasonStagnation)
			return nil
		}
		if res.Attempts >= e.cfg.MaxAttempts {
			e.terminate(r, schemas.ReasonAttemptCeiling)
			return nil
		}

		r.transition(StatePaginating)
		scrolled, err := r.page.Paginate(ctx, r.panel, r.noProgress > aggressiveAfter)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("Pagination failed", zap.Error(err))
		} else if !scrolled {
			r.logger.Debug("No scrollable region found", zap.Int("no_progress", r.noProgress))
		}
		res.Attempts++
		if err := wait.Settle(ctx, e.cfg.PageSettle); err != nil {
			return err
		}
	}
}

// scan reads every link in the panel and records new handles, stopping as
// soon as the target is reached. Read failures count as a scan without
// progress.
func (e *Extractor) scan(ctx context.Context, r *run, links schemas.Locator) (int, error) {
	hrefs, err := r.page.QueryAttributes(ctx, links, "href")
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.logger.Warn("Failed to read directory entries", zap.Error(err))
		return 0, nil
	}

	res := r.result
	added := 0
	for _, href := range hrefs {
		if len(res.Handles) >= res.Target {
			break
		}
		h, ok := r.filter.handle(href)
		if !ok {
			continue
		}
		if _, dup := r.seen[h]; dup {
			continue
		}
		r.seen[h] = struct{}{}
		res.Handles = append(res.Handles, h)
		added++
	}
	return added, nil
}

func (e *Extractor) terminate(r *run, reason schemas.TerminationReason) {
	res := r.result
	res.Reason = reason
	switch {
	case len(res.Handles) >= res.Target:
		res.Status = schemas.ExtractionSuccess
	case len(res.Handles) > 0:
		res.Status = schemas.ExtractionPartial
	default:
		res.Status = schemas.ExtractionEmpty
	}
	r.transition(StateTerminated)

	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.String("reason", string(reason)),
		zap.Int("collected", len(res.Handles)),
		zap.Int("target", res.Target),
		zap.Int("attempts", res.Attempts),
		zap.Int("scans", res.Scans),
	}
	if err := res.Err(); err != nil {
		r.logger.Warn("Extraction ended early", append(fields, zap.Error(err))...)
		return
	}
	r.logger.Info("Extraction finished", fields...)
}

func (e *Extractor) cancelled(r *run, err error) (*schemas.Extraction, error) {
	e.terminate(r, schemas.ReasonCancelled)
	return r.result, err
}

// linksIn selects the anchors inside the panel.
func linksIn(panel schemas.Locator) schemas.Locator {
	if panel.Strategy == schemas.LocatorXPath {
		return schemas.XPath(panel.Expr + "//a[@href]")
	}
	return schemas.CSS(panel.Expr + " a[href]")
}
