package mocks

import (
	"context"
	"sync"

	"github.com/xkilldash9x/census/api/schemas"
)

// FakeElement is one element of a FakePage document.
type FakeElement struct {
	Text  string
	Attrs map[string]string
}

// FakePage is a scriptable in-memory schemas.SessionPage. Elements are keyed
// by Locator.String(); hooks let a test change the document in response to
// navigation, clicks and pagination. All methods honor ctx cancellation.
type FakePage struct {
	PageID string

	// Hooks run with the page lock released.
	OnNavigate func(p *FakePage, url string) error
	OnClick    func(p *FakePage, loc schemas.Locator) error
	OnPaginate func(p *FakePage, aggressive bool) (bool, error)

	// QueryErr, when set, fails every query for the given locator key.
	QueryErr map[string]error

	Body      string
	ExportRaw []byte
	ExportErr error

	mu          sync.Mutex
	elements    map[string][]FakeElement
	navigations []string
	clicks      []string
	typed       map[string]string
	paginations []bool
	closed      bool
}

var _ schemas.SessionPage = (*FakePage)(nil)

// NewFakePage returns an empty page.
func NewFakePage(id string) *FakePage {
	return &FakePage{
		PageID:   id,
		elements: make(map[string][]FakeElement),
		typed:    make(map[string]string),
	}
}

// Set replaces the elements matching loc.
func (p *FakePage) Set(loc schemas.Locator, elems ...FakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(elems) == 0 {
		delete(p.elements, loc.String())
		return
	}
	p.elements[loc.String()] = elems
}

// Append adds elements to those matching loc.
func (p *FakePage) Append(loc schemas.Locator, elems ...FakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[loc.String()] = append(p.elements[loc.String()], elems...)
}

// Remove deletes every element matching loc.
func (p *FakePage) Remove(loc schemas.Locator) { p.Set(loc) }

// Clear removes every element.
func (p *FakePage) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = make(map[string][]FakeElement)
}

// Navigations returns the visited URLs in order.
func (p *FakePage) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Clicks returns the clicked locators in order.
func (p *FakePage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Typed returns the text entered into loc.
func (p *FakePage) Typed(loc schemas.Locator) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[loc.String()]
}

// Paginations returns the aggressive flag of every Paginate call.
func (p *FakePage) Paginations() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.paginations...)
}

// Closed reports whether Close was called.
func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePage) ID() string { return p.PageID }

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		return hook(p, url)
	}
	return nil
}

func (p *FakePage) lookup(ctx context.Context, loc schemas.Locator) ([]FakeElement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.QueryErr[loc.String()]; err != nil {
		return nil, err
	}
	return append([]FakeElement(nil), p.elements[loc.String()]...), nil
}

func (p *FakePage) Exists(ctx context.Context, loc schemas.Locator) (bool, error) {
	elems, err := p.lookup(ctx, loc)
	return len(elems) > 0, err
}

func (p *FakePage) QueryText(ctx context.Context, loc schemas.Locator) (string, bool, error) {
	elems, err := p.lookup(ctx, loc)
	if err != nil || len(elems) == 0 {
		return "", false, err
	}
	return elems[0].Text, true, nil
}

func (p *FakePage) QueryAttribute(ctx context.Context, loc schemas.Locator, name string) (string, bool, error) {
	elems, err := p.lookup(ctx, loc)
	if err != nil || len(elems) == 0 {
		return "", false, err
	}
	v, ok := elems[0].Attrs[name]
	return v, ok, nil
}

func (p *FakePage) QueryAttributes(ctx context.Context, loc schemas.Locator, name string) ([]string, error) {
	elems, err := p.lookup(ctx, loc)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(elems))
	for _, e := range elems {
		if v, ok := e.Attrs[name]; ok {
			values = append(values, v)
		}
	}
	return values, nil
}

func (p *FakePage) Click(ctx context.Context, loc schemas.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, loc.String())
	hook := p.OnClick
	p.mu.Unlock()
	if hook != nil {
		return hook(p, loc)
	}
	return nil
}

func (p *FakePage) Type(ctx context.Context, loc schemas.Locator, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed[loc.String()] = text
	return nil
}

func (p *FakePage) Paginate(ctx context.Context, panel schemas.Locator, aggressive bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	p.paginations = append(p.paginations, aggressive)
	hook := p.OnPaginate
	p.mu.Unlock()
	if hook != nil {
		return hook(p, aggressive)
	}
	return true, nil
}

func (p *FakePage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return "<html><body>" + p.Body + "</body></html>", nil
}

func (p *FakePage) ExportSession(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.ExportRaw, p.ExportErr
}

func (p *FakePage) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
