package browser

import (
	"context"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/census/api/schemas"
)

// CombineContext creates a new context derived from sessionCtx (inheriting its values,
// including the chromedp context) but ensures it is cancelled if opCtx is cancelled.
// Callers control timeouts through opCtx while chromedp still finds its target in sessionCtx.
func CombineContext(sessionCtx context.Context, opCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(sessionCtx)

	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

// queryOptions maps a locator onto chromedp's snapshot query options. AtLeast(0)
// keeps the query from waiting for a match.
func queryOptions(loc schemas.Locator) []chromedp.QueryOption {
	if loc.Strategy == schemas.LocatorXPath {
		return []chromedp.QueryOption{chromedp.BySearch, chromedp.AtLeast(0)}
	}
	return []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
}

// actionOptions is used for interactions on an element already known to exist.
func actionOptions(loc schemas.Locator) []chromedp.QueryOption {
	if loc.Strategy == schemas.LocatorXPath {
		return []chromedp.QueryOption{chromedp.BySearch}
	}
	return []chromedp.QueryOption{chromedp.ByQuery}
}
