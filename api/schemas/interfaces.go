package schemas

import "context"

// Page is the automation capability both phases drive. Query methods take a
// snapshot of the current document and never block waiting for an element;
// callers that need to wait compose them with wait.Attempt.
type Page interface {
	// ID returns a stable identifier for logging.
	ID() string
	Navigate(ctx context.Context, url string) error
	// Exists reports whether at least one element matches.
	Exists(ctx context.Context, loc Locator) (bool, error)
	// QueryText returns the visible text of the first match.
	QueryText(ctx context.Context, loc Locator) (text string, found bool, err error)
	// QueryAttribute returns one attribute of the first match.
	QueryAttribute(ctx context.Context, loc Locator, name string) (value string, found bool, err error)
	// QueryAttributes returns the named attribute of every match, in document
	// order. Elements lacking the attribute are skipped.
	QueryAttributes(ctx context.Context, loc Locator, name string) ([]string, error)
	Click(ctx context.Context, loc Locator) error
	// Type focuses the element and enters text with humanized key timing.
	Type(ctx context.Context, loc Locator, text string) error
	// Paginate scrolls the panel to reveal more entries. It reports whether a
	// scrollable region was found. When aggressive is set and none was found,
	// a fallback scroll of the containing document is issued.
	Paginate(ctx context.Context, panel Locator, aggressive bool) (scrolled bool, err error)
	// HTML returns the serialized document for offline inspection.
	HTML(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// SessionPage is the single stateful page of Phase A, which can also dump its
// authentication state in the backend's native form.
type SessionPage interface {
	Page
	ExportSession(ctx context.Context) ([]byte, error)
}

// PageFactory opens isolated pages pre-loaded with a session. The state is
// shared between callers and must not be modified.
type PageFactory interface {
	NewPage(ctx context.Context, state *SessionState) (Page, error)
}

// BrowserManager owns a browser process and the pages opened from it.
type BrowserManager interface {
	PageFactory
	NewSessionPage(ctx context.Context) (SessionPage, error)
	Shutdown(ctx context.Context) error
}

// ResultSink receives the finished run.
type ResultSink interface {
	Name() string
	Write(ctx context.Context, summary *RunSummary) error
}
