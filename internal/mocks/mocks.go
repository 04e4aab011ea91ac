// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/census/api/schemas"
)

// -- Page Mock --

// MockPage mocks the schemas.SessionPage interface.
type MockPage struct {
	mock.Mock
}

var _ schemas.SessionPage = (*MockPage)(nil)

func (m *MockPage) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockPage) Exists(ctx context.Context, loc schemas.Locator) (bool, error) {
	args := m.Called(ctx, loc)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) QueryText(ctx context.Context, loc schemas.Locator) (string, bool, error) {
	args := m.Called(ctx, loc)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockPage) QueryAttribute(ctx context.Context, loc schemas.Locator, name string) (string, bool, error) {
	args := m.Called(ctx, loc, name)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockPage) QueryAttributes(ctx context.Context, loc schemas.Locator, name string) ([]string, error) {
	args := m.Called(ctx, loc, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockPage) Click(ctx context.Context, loc schemas.Locator) error {
	return m.Called(ctx, loc).Error(0)
}

func (m *MockPage) Type(ctx context.Context, loc schemas.Locator, text string) error {
	return m.Called(ctx, loc, text).Error(0)
}

func (m *MockPage) Paginate(ctx context.Context, panel schemas.Locator, aggressive bool) (bool, error) {
	args := m.Called(ctx, panel, aggressive)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) HTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) ExportSession(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockPage) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Browser Manager Mock --

// MockBrowserManager mocks the schemas.BrowserManager interface.
type MockBrowserManager struct {
	mock.Mock
}

var _ schemas.BrowserManager = (*MockBrowserManager)(nil)

func (m *MockBrowserManager) NewSessionPage(ctx context.Context) (schemas.SessionPage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schemas.SessionPage), args.Error(1)
}

func (m *MockBrowserManager) NewPage(ctx context.Context, state *schemas.SessionState) (schemas.Page, error) {
	args := m.Called(ctx, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schemas.Page), args.Error(1)
}

func (m *MockBrowserManager) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Result Sink Mock --

// MockResultSink mocks the schemas.ResultSink interface.
type MockResultSink struct {
	mock.Mock
}

var _ schemas.ResultSink = (*MockResultSink)(nil)

func (m *MockResultSink) Name() string {
	return m.Called().String(0)
}

func (m *MockResultSink) Write(ctx context.Context, summary *schemas.RunSummary) error {
	return m.Called(ctx, summary).Error(0)
}
