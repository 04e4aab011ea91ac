package fetchpool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/locate"
	"github.com/xkilldash9x/census/internal/wait"
)

// Strategy names, in the order they are tried.
const (
	StrategyPrimary        = "primary"
	StrategyLinkText       = "link-text"
	StrategyTitleAttribute = "title-attribute"
	StrategyBodyScan       = "body-scan"
)

// maxScanLine bounds the lines body-scan considers; longer text belongs to
// containers rather than a single count label.
const maxScanLine = 120

// strategy reads a count from a loaded profile page. ok is false when the
// strategy found nothing usable; err is reserved for cancellation and
// failures worth reporting.
type strategy struct {
	name    string
	resolve func(ctx context.Context, page schemas.Page, handle string) (count int64, ok bool, err error)
}

func (p *Pool) strategies() []strategy {
	return []strategy{
		{name: StrategyPrimary, resolve: p.primary},
		{name: StrategyLinkText, resolve: p.linkText},
		{name: StrategyTitleAttribute, resolve: p.titleAttribute},
		{name: StrategyBodyScan, resolve: p.bodyScan},
	}
}

func profileCountLink(handle string) schemas.Locator {
	return schemas.CSS(fmt.Sprintf(`a[href="/%s/followers/"]`, handle))
}

var anyCountLink = schemas.CSS(`a[href*="/followers/"]`)

// primary waits briefly for the handle's own followers link.
func (p *Pool) primary(ctx context.Context, page schemas.Page, handle string) (int64, bool, error) {
	text, err := locate.Text(ctx, p.logger, page, profileCountLink(handle), p.cfg.PrimaryTimeout)
	if err != nil {
		if errors.Is(err, wait.ErrTimedOut) {
			return 0, false, nil
		}
		return 0, false, err
	}
	n, ok := p.parser.Parse(text)
	return n, ok, nil
}

func (p *Pool) linkText(ctx context.Context, page schemas.Page, _ string) (int64, bool, error) {
	text, found, err := page.QueryText(ctx, anyCountLink)
	if err != nil || !found {
		return 0, false, err
	}
	n, ok := p.parser.Parse(text)
	return n, ok, nil
}

// titleAttribute reads the exact count some layouts keep in the link's title.
// The title usually holds the bare number, so the marker is appended when the
// raw value does not parse.
func (p *Pool) titleAttribute(ctx context.Context, page schemas.Page, handle string) (int64, bool, error) {
	for _, loc := range []schemas.Locator{profileCountLink(handle), anyCountLink} {
		title, found, err := page.QueryAttribute(ctx, loc, "title")
		if err != nil {
			return 0, false, err
		}
		if !found || strings.TrimSpace(title) == "" {
			continue
		}
		if n, ok := p.parser.Parse(title); ok {
			return n, true, nil
		}
		if n, ok := p.parser.Parse(title + " " + p.parser.Marker()); ok {
			return n, true, nil
		}
	}
	return 0, false, nil
}

// bodyScan parses the rendered document and tries every short text line that
// mentions the marker.
func (p *Pool) bodyScan(ctx context.Context, page schemas.Page, _ string) (int64, bool, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return 0, false, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse page HTML: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	var (
		count int64
		found bool
	)
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, line := range strings.Split(s.Text(), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || len(line) > maxScanLine || !p.parser.Contains(line) {
				continue
			}
			if n, ok := p.parser.Parse(line); ok {
				count, found = n, true
				return false
			}
		}
		return true
	})
	if !found {
		p.logger.Debug("Body scan found no count")
	}
	return count, found, nil
}

// logStrategyErr keeps strategy failures at debug level; one failing
// strategy does not stop the next.
func (p *Pool) logStrategyErr(handle, name string, err error) {
	p.logger.Debug("Strategy failed", zap.String("handle", handle), zap.String("strategy", name), zap.Error(err))
}
