package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
)

// snapshot describes what the document looks like while the panel stalls.
type snapshot struct {
	// Panels matching the active panel locator.
	Panels int
	// Links anywhere in the document, and how many of those name a profile.
	Links    int
	Profiles int
}

// diagnose inspects a serialized document offline.
func diagnose(doc string, panel schemas.Locator, filter *handleFilter) (snapshot, error) {
	root, err := htmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to parse document: %w", err)
	}

	var snap snapshot
	if panel.Strategy == schemas.LocatorXPath {
		nodes, err := htmlquery.QueryAll(root, panel.Expr)
		if err != nil {
			return snapshot{}, fmt.Errorf("invalid panel locator %s: %w", panel, err)
		}
		snap.Panels = len(nodes)
	} else {
		// htmlquery only speaks XPath.
		snap.Panels = goquery.NewDocumentFromNode(root).Find(panel.Expr).Length()
	}

	for _, a := range htmlquery.Find(root, "//a[@href]") {
		snap.Links++
		if _, ok := filter.handle(htmlquery.SelectAttr(a, "href")); ok {
			snap.Profiles++
		}
	}
	return snap, nil
}

// logDiagnostics reports the document state of a stalled panel. It never
// fails the extraction.
func (e *Extractor) logDiagnostics(ctx context.Context, r *run) {
	doc, err := r.page.HTML(ctx)
	if err != nil {
		r.logger.Debug("Could not capture document for diagnostics", zap.Error(err))
		return
	}
	snap, err := diagnose(doc, r.panel, r.filter)
	if err != nil {
		r.logger.Debug("Could not analyze document", zap.Error(err))
		return
	}
	r.logger.Info("Panel diagnostics",
		zap.Int("panels", snap.Panels),
		zap.Int("links", snap.Links),
		zap.Int("profile_links", snap.Profiles),
		zap.Int("seen", len(r.seen)))
}
