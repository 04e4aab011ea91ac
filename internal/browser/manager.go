package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/browser/stealth"
	"github.com/xkilldash9x/census/internal/config"
)

// ErrManagerClosed is returned when a page is requested after Shutdown.
var ErrManagerClosed = errors.New("browser manager is shut down")

// Manager implements the schemas.BrowserManager interface.
// It owns one browser process; every page it hands out is a tab in that browser.
type Manager struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	persona stealth.Persona

	// ChromeDP allocator context manages the underlying browser executable.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// browserCtx is the first target; new tabs are derived from it.
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// Track open pages for graceful shutdown.
	pages  map[string]*Page
	closed bool
	mu     sync.Mutex
}

// Ensure Manager implements the interface.
var _ schemas.BrowserManager = (*Manager)(nil)

// NewManager starts the browser and returns a manager for it. The browser
// lives until Shutdown or until ctx is cancelled.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	m := &Manager{
		logger:  logger.Named("browser_manager"),
		cfg:     cfg,
		persona: personaFor(cfg),
		pages:   make(map[string]*Page),
	}

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.generateAllocatorOptions()...)

	logf := m.logger.Sugar().Debugf
	errorf := m.logger.Sugar().Debugf
	if cfg.Debug {
		errorf = m.logger.Sugar().Errorf
	}
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(logf),
		chromedp.WithErrorf(errorf),
	)

	// An empty Run allocates the browser.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.browserCancel()
		m.allocatorCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	m.logger.Info("Browser manager initialized",
		zap.Bool("headless", cfg.Headless),
		zap.Int("blocked_patterns", len(cfg.BlockedURLs)),
	)
	return m, nil
}

func personaFor(cfg config.BrowserConfig) stealth.Persona {
	persona := stealth.DefaultPersona
	if cfg.UserAgent != "" {
		persona.UserAgent = cfg.UserAgent
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		persona.Width = int64(cfg.Viewport.Width)
		persona.Height = int64(cfg.Viewport.Height)
	}
	return persona
}

// generateAllocatorOptions configures the flags for the browser executable.
func (m *Manager) generateAllocatorOptions() []chromedp.ExecAllocatorOption {
	// Start with default options provided by ChromeDP (headless included).
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if !m.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}

	opts = append(opts,
		// Essential flags for automation detection evasion
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Performance and stability flags
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),

		// GPU often causes issues in headless/containerized environments.
		chromedp.Flag("disable-gpu", m.cfg.Headless),

		chromedp.UserAgent(m.persona.UserAgent),
		chromedp.WindowSize(int(m.persona.Width), int(m.persona.Height)),
	)

	for _, arg := range m.cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	return opts
}

// newTab opens a tab with network events enabled and the stealth persona applied.
func (m *Manager) newTab(ctx context.Context) (*Page, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(m.browserCtx)

	// The first Run binds the target's lifetime to tabCtx, so it must run on
	// tabCtx itself rather than a derived context.
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize new browser tab: %w", err)
	}

	pageID := uuid.New().String()
	p := newPage(tabCtx, cancel, m.logger, m.cfg, m, pageID)

	setupCtx, setupCancel := CombineContext(tabCtx, ctx)
	defer setupCancel()
	if err := chromedp.Run(setupCtx, stealth.Apply(m.persona, p.logger)); err != nil {
		// Non-fatal; the page still works without the evasions.
		m.logger.Warn("Failed to apply stealth evasions and persona", zap.Error(err))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrManagerClosed
	}
	m.pages[pageID] = p
	m.mu.Unlock()
	return p, nil
}

// NewSessionPage opens the single stateful page used for login and directory
// extraction. Media is not blocked here since the site may need it to render.
func (m *Manager) NewSessionPage(ctx context.Context) (schemas.SessionPage, error) {
	p, err := m.newTab(ctx)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Session page opened", zap.String("page_id", p.ID()))
	return p, nil
}

// NewPage implements schemas.PageFactory: a fresh tab with the session
// imported and static media blocked.
func (m *Manager) NewPage(ctx context.Context, state *schemas.SessionState) (schemas.Page, error) {
	p, err := m.newTab(ctx)
	if err != nil {
		return nil, err
	}

	setupCtx, setupCancel := CombineContext(p.ctx, ctx)
	defer setupCancel()

	actions := chromedp.Tasks{}
	if len(m.cfg.BlockedURLs) > 0 {
		actions = append(actions, network.SetBlockedURLS(m.cfg.BlockedURLs))
	}
	actions = append(actions, importSession(state))

	if err := chromedp.Run(setupCtx, actions); err != nil {
		_ = p.Close(context.Background())
		return nil, fmt.Errorf("failed to prepare page: %w", err)
	}

	m.logger.Debug("Fetch page opened", zap.String("page_id", p.ID()), zap.Int("cookies", state.Len()))
	return p, nil
}

// unregisterPage removes the page from the tracking map (called by Page.Close).
func (m *Manager) unregisterPage(pageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, pageID)
}

// OpenPages returns the number of pages not yet closed.
func (m *Manager) OpenPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Shutdown gracefully terminates all pages and the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager...")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pagesToClose := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		pagesToClose = append(pagesToClose, p)
	}
	m.pages = make(map[string]*Page)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pagesToClose {
		wg.Add(1)
		go func(p *Page) {
			defer wg.Done()
			// Bound each close in case the browser is unresponsive.
			closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := p.Close(closeCtx); err != nil {
				m.logger.Warn("Error closing page during shutdown", zap.String("page_id", p.ID()), zap.Error(err))
			}
		}(p)
	}
	wg.Wait()

	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}

	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
