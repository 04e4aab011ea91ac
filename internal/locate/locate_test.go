package locate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/mocks"
	"github.com/xkilldash9x/census/internal/wait"
)

var (
	first  = schemas.CSS("#first")
	second = schemas.XPath("//div[@id='second']")
)

func TestAny(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("returns the index of the first present locator", func(t *testing.T) {
		page := mocks.NewFakePage("p")
		page.Set(second, mocks.FakeElement{})
		idx, err := Any(ctx, logger, page, []schemas.Locator{first, second}, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, idx)

		page.Set(first, mocks.FakeElement{})
		idx, err = Any(ctx, logger, page, []schemas.Locator{first, second}, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, idx, "earlier locators win")
	})

	t.Run("times out when nothing appears", func(t *testing.T) {
		page := mocks.NewFakePage("p")
		_, err := Any(ctx, logger, page, []schemas.Locator{first}, 300*time.Millisecond)
		assert.ErrorIs(t, err, wait.ErrTimedOut)
	})

	t.Run("an empty list never matches", func(t *testing.T) {
		_, err := Any(ctx, logger, mocks.NewFakePage("p"), nil, time.Second)
		assert.ErrorIs(t, err, wait.ErrTimedOut)
	})

	t.Run("waits for an element that appears later", func(t *testing.T) {
		page := mocks.NewFakePage("p")
		go func() {
			time.Sleep(100 * time.Millisecond)
			page.Set(first, mocks.FakeElement{})
		}()
		idx, err := Any(ctx, logger, page, []schemas.Locator{first}, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 0, idx)
	})

	t.Run("probe errors are treated as not ready", func(t *testing.T) {
		page := mocks.NewFakePage("p")
		page.QueryErr = map[string]error{first.String(): errors.New("node detached")}
		page.Set(second, mocks.FakeElement{})
		idx, err := Any(ctx, logger, page, []schemas.Locator{first, second}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
	})

	t.Run("cancellation is reported as the context error", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Any(cctx, logger, mocks.NewFakePage("p"), []schemas.Locator{first}, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestText(t *testing.T) {
	logger := zaptest.NewLogger(t)
	page := mocks.NewFakePage("p")
	page.Set(first, mocks.FakeElement{Text: "1,234 followers"})

	text, err := Text(context.Background(), logger, page, first, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1,234 followers", text)

	_, err = Text(context.Background(), logger, page, second, 0)
	assert.ErrorIs(t, err, wait.ErrTimedOut)

	assert.NoError(t, Present(context.Background(), logger, page, first, 0))
}

func TestProbeErrorsAreRetried(t *testing.T) {
	page := new(mocks.MockPage)
	page.On("Exists", mock.Anything, first).Return(false, errors.New("node detached")).Once()
	page.On("Exists", mock.Anything, first).Return(true, nil).Once()
	page.On("QueryText", mock.Anything, second).Return("", false, errors.New("stale")).Once()
	page.On("QueryText", mock.Anything, second).Return("ready", true, nil).Once()

	require.NoError(t, Present(context.Background(), zaptest.NewLogger(t), page, first, 5*time.Second))
	text, err := Text(context.Background(), zaptest.NewLogger(t), page, second, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ready", text)
	page.AssertExpectations(t)
}
