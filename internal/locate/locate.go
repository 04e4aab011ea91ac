// Package locate waits for elements on a schemas.Page. Probe failures that are
// not caused by cancellation are logged and treated as "not there yet", so a
// flaky page never aborts a wait early.
package locate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/wait"
)

// Poll is the interval between probes.
const Poll = wait.DefaultPoll

// Any waits up to timeout for any of locs to be present and returns the index
// of the first one found, checking them in order on each poll. It returns
// wait.ErrTimedOut when none appeared, or ctx.Err() on cancellation.
func Any(ctx context.Context, logger *zap.Logger, page schemas.Page, locs []schemas.Locator, timeout time.Duration) (int, error) {
	if len(locs) == 0 {
		return -1, wait.ErrTimedOut
	}
	idx, err := wait.Attempt(ctx, timeout, Poll, func(ctx context.Context) (int, bool, error) {
		for i, loc := range locs {
			ok, err := page.Exists(ctx, loc)
			if err != nil {
				if ctx.Err() != nil {
					return -1, false, ctx.Err()
				}
				logger.Debug("Probe failed", zap.Stringer("locator", loc), zap.Error(err))
				continue
			}
			if ok {
				return i, true, nil
			}
		}
		return -1, false, nil
	})
	if err != nil {
		return -1, err
	}
	return idx, nil
}

// Present is Any for a single locator.
func Present(ctx context.Context, logger *zap.Logger, page schemas.Page, loc schemas.Locator, timeout time.Duration) error {
	_, err := Any(ctx, logger, page, []schemas.Locator{loc}, timeout)
	return err
}

// Text waits up to timeout for loc and returns its text.
func Text(ctx context.Context, logger *zap.Logger, page schemas.Page, loc schemas.Locator, timeout time.Duration) (string, error) {
	return wait.Attempt(ctx, timeout, Poll, func(ctx context.Context) (string, bool, error) {
		text, found, err := page.QueryText(ctx, loc)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			logger.Debug("Probe failed", zap.Stringer("locator", loc), zap.Error(err))
			return "", false, nil
		}
		return text, found, nil
	})
}
