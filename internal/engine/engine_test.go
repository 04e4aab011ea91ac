package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/config"
	"github.com/xkilldash9x/census/internal/mocks"
)

const sessionDump = `[{"name":"sessionid","value":"abc","domain":".example.com","path":"/","expires":1893456000}]`

// -- Fakes for the phase collaborators --

type fakeAuth struct {
	err   error
	calls int
}

func (f *fakeAuth) Authenticate(ctx context.Context, page schemas.Page, creds schemas.Credentials) error {
	f.calls++
	return f.err
}

type fakeExtractor struct {
	result *schemas.Extraction
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, page schemas.Page, owner, dir string, target int) (*schemas.Extraction, error) {
	if f.result != nil {
		f.result.Owner, f.result.Directory, f.result.Target = owner, dir, target
	}
	return f.result, f.err
}

type fakeFetcher struct {
	mu      sync.Mutex
	run     func(ctx context.Context, handles []string, state *schemas.SessionState) (schemas.FetchResults, error)
	handles []string
	state   *schemas.SessionState
}

func (f *fakeFetcher) Run(ctx context.Context, handles []string, state *schemas.SessionState) (schemas.FetchResults, error) {
	f.mu.Lock()
	f.handles, f.state = handles, state
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, handles, state)
	}
	out := make(schemas.FetchResults, len(handles))
	for i, h := range handles {
		n := int64(100 * (i + 1))
		out[h] = schemas.FetchResult{Handle: h, Count: &n, Status: schemas.FetchResolved, Strategy: "primary"}
	}
	return out, nil
}

// -- Test Harness --

type harness struct {
	engine    *Engine
	page      *mocks.FakePage
	managers  []*mocks.MockBrowserManager
	auth      *fakeAuth
	extractor *fakeExtractor
	fetcher   *fakeFetcher
	factories []schemas.PageFactory
	sink      *mocks.MockResultSink
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Target: config.TargetConfig{BaseURL: "https://example.com", Owner: "alice", Directory: "followers", Count: 3},
		Pool:   config.PoolConfig{Workers: 2},
		Run:    config.RunConfig{OutputDir: t.TempDir()},
	}
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		page:      mocks.NewFakePage("session"),
		auth:      &fakeAuth{},
		extractor: &fakeExtractor{result: &schemas.Extraction{Handles: []string{"bob", "carol", "dave"}, Status: schemas.ExtractionSuccess, Reason: schemas.ReasonTargetReached}},
		fetcher:   &fakeFetcher{},
		sink:      new(mocks.MockResultSink),
	}
	h.page.ExportRaw = []byte(sessionDump)
	h.sink.On("Name").Return("mock").Maybe()

	e := New(cfg, zaptest.NewLogger(t), func(ctx context.Context) (schemas.BrowserManager, error) {
		mgr := new(mocks.MockBrowserManager)
		mgr.On("NewSessionPage", mock.Anything).Return(h.page, nil).Maybe()
		mgr.On("Shutdown", mock.Anything).Return(nil).Once()
		h.managers = append(h.managers, mgr)
		return mgr, nil
	}, h.sink)
	e.auth = h.auth
	e.extractor = h.extractor
	e.newFetcher = func(factory schemas.PageFactory) Fetcher {
		h.factories = append(h.factories, factory)
		return h.fetcher
	}
	h.engine = e
	return h
}

func (h *harness) assertManagers(t *testing.T, n int) {
	t.Helper()
	require.Len(t, h.managers, n)
	for _, m := range h.managers {
		m.AssertExpectations(t)
	}
}

// -- Test Cases --

func TestEngineRun_Success(t *testing.T) {
	h := newHarness(t, testConfig(t))

	var written *schemas.RunSummary
	h.sink.On("Write", mock.Anything, mock.AnythingOfType("*schemas.RunSummary")).
		Run(func(args mock.Arguments) { written = args.Get(1).(*schemas.RunSummary) }).
		Return(nil).Once()

	summary, err := h.engine.Run(context.Background(), schemas.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "alice", summary.Owner)
	assert.Equal(t, "followers", summary.Directory)
	assert.False(t, summary.Cancelled)
	assert.Equal(t, schemas.Tally{Total: 3, Resolved: 3}, summary.Tally)
	assert.Equal(t, []string{"bob", "carol", "dave"}, summary.OrderedHandles())
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
	assert.Same(t, summary, written)

	assert.Equal(t, 1, h.auth.calls)
	assert.True(t, h.page.Closed(), "the session page is closed once Phase A ends")

	// Each phase gets its own browser and the pool gets the second one.
	h.assertManagers(t, 2)
	require.Len(t, h.factories, 1)
	assert.Same(t, h.managers[1], h.factories[0])

	// The fetcher receives a private copy of the exported session.
	require.NotNil(t, h.fetcher.state)
	require.Len(t, h.fetcher.state.Records, 1)
	assert.Equal(t, "sessionid", h.fetcher.state.Records[0].Name)
	assert.Equal(t, []string{"bob", "carol", "dave"}, h.fetcher.handles)
	h.sink.AssertExpectations(t)
}

func TestEngineRun_FatalPhaseAErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		wantErr error
	}{
		{
			name:    "login rejected",
			setup:   func(h *harness) { h.auth.err = schemas.ErrAuthenticationFailure },
			wantErr: schemas.ErrAuthenticationFailure,
		},
		{
			name: "directory missing",
			setup: func(h *harness) {
				h.extractor.result = nil
				h.extractor.err = schemas.ErrDirectoryNotFound
			},
			wantErr: schemas.ErrDirectoryNotFound,
		},
		{
			name:    "session export fails in the backend",
			setup:   func(h *harness) { h.page.ExportErr = errors.New("cdp gone") },
			wantErr: schemas.ErrSessionExportFailure,
		},
		{
			name:    "session dump is malformed",
			setup:   func(h *harness) { h.page.ExportRaw = []byte(`{"not":"an array"}`) },
			wantErr: schemas.ErrSessionExportFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(t))
			tt.setup(h)

			summary, err := h.engine.Run(context.Background(), schemas.Credentials{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, summary)

			// Phase B never starts and nothing is written.
			h.assertManagers(t, 1)
			assert.Empty(t, h.factories)
			h.sink.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
			assert.True(t, h.page.Closed())
		})
	}
}

func TestEngineRun_ManagerStartFailure(t *testing.T) {
	h := newHarness(t, testConfig(t))
	h.engine.newManager = func(context.Context) (schemas.BrowserManager, error) {
		return nil, errors.New("no chrome")
	}

	summary, err := h.engine.Run(context.Background(), schemas.Credentials{})
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Contains(t, err.Error(), "no chrome")
}

func TestEngineRun_EmptyExtractionSkipsFetch(t *testing.T) {
	h := newHarness(t, testConfig(t))
	h.extractor.result = &schemas.Extraction{Status: schemas.ExtractionEmpty, Reason: schemas.ReasonStagnation, Attempts: 10}
	h.sink.On("Write", mock.Anything, mock.Anything).Return(nil).Once()

	summary, err := h.engine.Run(context.Background(), schemas.Credentials{})
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, schemas.Tally{}, summary.Tally)
	assert.Empty(t, summary.Results)

	h.assertManagers(t, 1)
	assert.Empty(t, h.factories)
	assert.Nil(t, h.fetcher.handles)
	h.sink.AssertExpectations(t)
}

func TestEngineRun_PartialExtractionStillFetches(t *testing.T) {
	h := newHarness(t, testConfig(t))
	h.extractor.result = &schemas.Extraction{Handles: []string{"bob"}, Status: schemas.ExtractionPartial, Reason: schemas.ReasonAttemptCeiling, Attempts: 20}
	h.sink.On("Write", mock.Anything, mock.Anything).Return(nil).Once()

	summary, err := h.engine.Run(context.Background(), schemas.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Tally.Resolved)
	assert.Equal(t, schemas.ExtractionPartial, summary.Extraction.Status)
	h.assertManagers(t, 2)
}

func TestEngineRun_CancelledDuringFetch(t *testing.T) {
	h := newHarness(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.fetcher.run = func(ctx context.Context, handles []string, _ *schemas.SessionState) (schemas.FetchResults, error) {
		n := int64(7)
		out := schemas.FetchResults{handles[0]: {Handle: handles[0], Count: &n, Status: schemas.FetchResolved}}
		cancel()
		for _, h := range handles[1:] {
			out[h] = schemas.FetchResult{Handle: h, Status: schemas.FetchSkipped}
		}
		return out, ctx.Err()
	}

	var sinkCtxErr error
	h.sink.On("Write", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sinkCtxErr = args.Get(0).(context.Context).Err() }).
		Return(nil).Once()

	summary, err := h.engine.Run(ctx, schemas.Credentials{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, schemas.Tally{Total: 3, Resolved: 1, Absent: 2, Skipped: 2}, summary.Tally)

	// Partial results are still written on a live context.
	h.sink.AssertExpectations(t)
	assert.NoError(t, sinkCtxErr)
	h.assertManagers(t, 2)
}

func TestEngineRun_CancelledDuringExtraction(t *testing.T) {
	h := newHarness(t, testConfig(t))
	h.extractor.result = &schemas.Extraction{Handles: []string{"bob"}, Status: schemas.ExtractionPartial, Reason: schemas.ReasonCancelled}
	h.extractor.err = context.Canceled
	h.sink.On("Write", mock.Anything, mock.Anything).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.engine.Run(ctx, schemas.Credentials{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, []string{"bob"}, summary.Extraction.Handles)
	assert.Empty(t, summary.Results)

	h.assertManagers(t, 1)
	h.sink.AssertExpectations(t)
}

func TestEngineRun_Deadline(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Deadline = 20 * time.Millisecond
	h := newHarness(t, cfg)
	h.fetcher.run = func(ctx context.Context, handles []string, _ *schemas.SessionState) (schemas.FetchResults, error) {
		<-ctx.Done()
		out := schemas.FetchResults{}
		for _, h := range handles {
			out[h] = schemas.FetchResult{Handle: h, Status: schemas.FetchSkipped}
		}
		return out, ctx.Err()
	}
	h.sink.On("Write", mock.Anything, mock.Anything).Return(nil).Once()

	summary, err := h.engine.Run(context.Background(), schemas.Credentials{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, summary)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 3, summary.Tally.Skipped)
}

func TestEngineRun_CookieDump(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.CookieDump = true
	h := newHarness(t, cfg)
	h.engine.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC) }
	h.sink.On("Write", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := h.engine.Run(context.Background(), schemas.Credentials{})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(cfg.Run.OutputDir, "cookies_20240309_140506.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sessionid"`)
}

func TestEngineRun_SinkFailure(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg)
	h.sink.On("Write", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	other := new(mocks.MockResultSink)
	other.On("Name").Return("other").Maybe()
	other.On("Write", mock.Anything, mock.Anything).Return(nil).Once()
	h.engine.sinks = append(h.engine.sinks, other)

	summary, err := h.engine.Run(context.Background(), schemas.Credentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NotNil(t, summary, "the summary survives a sink failure")
	other.AssertExpectations(t)
}

func TestEngineRun_EverySinkFailureIsReported(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg)
	diskErr := errors.New("disk full")
	h.sink.On("Write", mock.Anything, mock.Anything).Return(diskErr).Once()

	dbErr := errors.New("connection refused")
	other := new(mocks.MockResultSink)
	other.On("Name").Return("postgres").Maybe()
	other.On("Write", mock.Anything, mock.Anything).Return(dbErr).Once()
	h.engine.sinks = append(h.engine.sinks, other)

	summary, err := h.engine.Run(context.Background(), schemas.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, diskErr)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "sink postgres: connection refused")
	require.NotNil(t, summary)
	other.AssertExpectations(t)
}

func TestNew_WiresRealComponents(t *testing.T) {
	e := New(testConfig(t), zap.NewNop(), nil)
	assert.NotNil(t, e.auth)
	assert.NotNil(t, e.extractor)
	assert.NotNil(t, e.newFetcher(new(mocks.MockBrowserManager)))
	assert.Empty(t, e.sinks)
}
