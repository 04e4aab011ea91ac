package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/browser/humanoid"
	"github.com/xkilldash9x/census/internal/config"
)

//go:embed paginate.js
var paginateJS string

//go:embed click.js
var clickJS string

// Page implements schemas.SessionPage on top of one chromedp target (tab).
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	cfg     config.BrowserConfig
	pageID  string
	manager *Manager
	// pointer is nil when humanized pointer movement is disabled.
	pointer *humanoid.Humanoid

	closeOnce sync.Once
}

// Ensure Page implements the interface.
var _ schemas.SessionPage = (*Page)(nil)

func newPage(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, cfg config.BrowserConfig, manager *Manager, pageID string) *Page {
	p := &Page{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Named("page").With(zap.String("page_id", pageID)),
		cfg:     cfg,
		pageID:  pageID,
		manager: manager,
	}
	if cfg.Pointer.Enabled {
		start := humanoid.Vector2D{X: float64(cfg.Viewport.Width) / 2, Y: float64(cfg.Viewport.Height) / 2}
		p.pointer = humanoid.New(humanoid.Config{
			MinSteps:  cfg.Pointer.MinSteps,
			Drift:     cfg.Pointer.Drift,
			StepDelay: cfg.Pointer.StepDelay,
		}, p.logger, p, start, 0)
	}
	return p
}

// ID returns the page identifier.
func (p *Page) ID() string { return p.pageID }

// GetContext returns the underlying ChromeDP context.
func (p *Page) GetContext() context.Context { return p.ctx }

// -- Browser Interaction Methods --

func (p *Page) createActionContext(opCtx context.Context) (context.Context, context.CancelFunc) {
	return CombineContext(p.ctx, opCtx)
}

// boundedActionContext additionally applies the configured action timeout.
func (p *Page) boundedActionContext(opCtx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := p.createActionContext(opCtx)
	if p.cfg.ActionTimeout <= 0 {
		return runCtx, cancel
	}
	timedCtx, timedCancel := context.WithTimeout(runCtx, p.cfg.ActionTimeout)
	return timedCtx, func() {
		timedCancel()
		cancel()
	}
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating", zap.String("url", url))
	runCtx, cancel := p.createActionContext(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// nodes takes a non-blocking snapshot of the elements matching loc.
func (p *Page) nodes(ctx context.Context, loc schemas.Locator) ([]*cdp.Node, error) {
	runCtx, cancel := p.createActionContext(ctx)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(runCtx, chromedp.Nodes(loc.Expr, &nodes, queryOptions(loc)...)); err != nil {
		return nil, fmt.Errorf("query %s failed: %w", loc, err)
	}
	return nodes, nil
}

func (p *Page) Exists(ctx context.Context, loc schemas.Locator) (bool, error) {
	nodes, err := p.nodes(ctx, loc)
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (p *Page) QueryText(ctx context.Context, loc schemas.Locator) (string, bool, error) {
	nodes, err := p.nodes(ctx, loc)
	if err != nil || len(nodes) == 0 {
		return "", false, err
	}

	runCtx, cancel := p.boundedActionContext(ctx)
	defer cancel()
	var text string
	if err := chromedp.Run(runCtx, chromedp.Text([]cdp.NodeID{nodes[0].NodeID}, &text, chromedp.ByNodeID)); err != nil {
		return "", false, fmt.Errorf("failed to read text of %s: %w", loc, err)
	}
	return strings.TrimSpace(text), true, nil
}

func (p *Page) QueryAttribute(ctx context.Context, loc schemas.Locator, name string) (string, bool, error) {
	nodes, err := p.nodes(ctx, loc)
	if err != nil || len(nodes) == 0 {
		return "", false, err
	}

	runCtx, cancel := p.boundedActionContext(ctx)
	defer cancel()
	var (
		value string
		ok    bool
	)
	if err := chromedp.Run(runCtx, chromedp.AttributeValue([]cdp.NodeID{nodes[0].NodeID}, name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", false, fmt.Errorf("failed to read attribute %q of %s: %w", name, loc, err)
	}
	return value, ok, nil
}

func (p *Page) QueryAttributes(ctx context.Context, loc schemas.Locator, name string) ([]string, error) {
	nodes, err := p.nodes(ctx, loc)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if v, ok := n.Attribute(name); ok {
			values = append(values, v)
		}
	}
	return values, nil
}

func (p *Page) Click(ctx context.Context, loc schemas.Locator) error {
	p.logger.Debug("Clicking", zap.Stringer("locator", loc))
	if p.pointer != nil {
		if err := p.approach(ctx, loc); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Debug("Pointer approach failed", zap.Stringer("locator", loc), zap.Error(err))
		}
	}
	runCtx, cancel := p.boundedActionContext(ctx)
	err := chromedp.Run(runCtx, chromedp.Click(loc.Expr, append(actionOptions(loc), chromedp.NodeVisible)...))
	cancel()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Overlays can swallow synthetic mouse events; a DOM click still works.
	p.logger.Debug("Mouse click failed, falling back to DOM click", zap.Error(err))
	clicked, jsErr := p.domClick(ctx, loc)
	if jsErr != nil {
		return fmt.Errorf("failed to click %s: %w", loc, jsErr)
	}
	if !clicked {
		return fmt.Errorf("failed to click %s: element not found", loc)
	}
	return nil
}

// approach scrolls loc into view and walks the pointer onto its center.
func (p *Page) approach(ctx context.Context, loc schemas.Locator) error {
	runCtx, cancel := p.boundedActionContext(ctx)
	defer cancel()

	var box *dom.BoxModel
	opts := actionOptions(loc)
	if err := chromedp.Run(runCtx,
		chromedp.ScrollIntoView(loc.Expr, opts...),
		chromedp.Dimensions(loc.Expr, &box, opts...),
	); err != nil {
		return err
	}
	center, ok := boxCenter(box)
	if !ok {
		return fmt.Errorf("element %s has no layout box", loc)
	}
	return p.pointer.MoveTo(runCtx, center)
}

// MoveMouse implements humanoid.Executor.
func (p *Page) MoveMouse(ctx context.Context, to humanoid.Vector2D) error {
	runCtx, cancel := p.createActionContext(ctx)
	defer cancel()
	return chromedp.Run(runCtx, input.DispatchMouseEvent(input.MouseMoved, to.X, to.Y))
}

// boxCenter averages the corners of the border quad.
func boxCenter(box *dom.BoxModel) (humanoid.Vector2D, bool) {
	if box == nil {
		return humanoid.Vector2D{}, false
	}
	quad := box.Border
	if len(quad) < 8 {
		quad = box.Content
	}
	if len(quad) < 8 {
		return humanoid.Vector2D{}, false
	}
	var c humanoid.Vector2D
	for i := 0; i < 8; i += 2 {
		c.X += quad[i]
		c.Y += quad[i+1]
	}
	return c.Mul(0.25), true
}

func (p *Page) domClick(ctx context.Context, loc schemas.Locator) (bool, error) {
	expr, err := jsCall(clickJS, string(loc.Strategy), loc.Expr)
	if err != nil {
		return false, err
	}
	runCtx, cancel := p.boundedActionContext(ctx)
	defer cancel()
	var clicked bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

func (p *Page) Type(ctx context.Context, loc schemas.Locator, text string) error {
	p.logger.Debug("Typing", zap.Stringer("locator", loc), zap.Int("length", len(text)))
	runCtx, cancel := p.boundedActionContext(ctx)
	opts := actionOptions(loc)
	err := chromedp.Run(runCtx,
		chromedp.Focus(loc.Expr, opts...),
		chromedp.SetValue(loc.Expr, "", opts...),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to focus %s: %w", loc, err)
	}

	typeCtx, typeCancel := p.createActionContext(ctx)
	defer typeCancel()
	return simulateTyping(typeCtx, text, p.cfg.Typing.KeyDelay)
}

// paginateResult mirrors the object returned by paginate.js.
type paginateResult struct {
	Found    bool `json:"found"`
	Scrolled bool `json:"scrolled"`
}

func (p *Page) Paginate(ctx context.Context, panel schemas.Locator, aggressive bool) (bool, error) {
	expr, err := jsCall(paginateJS, string(panel.Strategy), panel.Expr, aggressive)
	if err != nil {
		return false, err
	}

	runCtx, cancel := p.boundedActionContext(ctx)
	defer cancel()
	var res paginateResult
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, &res)); err != nil {
		return false, fmt.Errorf("pagination script failed: %w", err)
	}
	if !res.Found {
		p.logger.Debug("Pagination panel not present", zap.Stringer("panel", panel))
	}
	return res.Scrolled, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := p.boundedActionContext(ctx)
	defer cancel()
	var dom string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &dom, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to collect page HTML: %w", err)
	}
	return dom, nil
}

// ExportSession returns the page's cookies as CDP cookie JSON.
func (p *Page) ExportSession(ctx context.Context) ([]byte, error) {
	runCtx, cancel := p.boundedActionContext(ctx)
	defer cancel()
	var data []byte
	if err := chromedp.Run(runCtx, exportSession(&data)); err != nil {
		return nil, err
	}
	p.logger.Debug("Exported session", zap.Int("bytes", len(data)))
	return data, nil
}

func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.logger.Debug("Closing page")
		if p.manager != nil {
			p.manager.unregisterPage(p.pageID)
		}
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.ctx) }()
		select {
		case err := <-done:
			if err != nil {
				p.logger.Debug("Tab did not close cleanly", zap.Error(err))
			}
		case <-ctx.Done():
		}
		p.cancel()
	})
	return nil
}

// jsCall renders "(fn)(args...)" with JSON-encoded arguments.
func jsCall(fn string, args ...interface{}) (string, error) {
	encoded := make([]string, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("failed to encode script argument: %w", err)
		}
		encoded[i] = string(data)
	}
	return "(" + strings.TrimSpace(fn) + ")(" + strings.Join(encoded, ", ") + ")", nil
}
