// Package wait provides the bounded polling and pacing primitives used by every
// browser-facing component.
package wait

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// ErrTimedOut is returned by Attempt when the condition never became ready
// within its timeout. Callers decide whether that is fatal.
var ErrTimedOut = errors.New("wait: timed out")

// DefaultPoll is the interval used when a caller passes a non-positive poll.
const DefaultPoll = 250 * time.Millisecond

var errNotReady = errors.New("not ready")

// Attempt runs op until it reports ready, fails, or timeout elapses. The op
// returns the value and whether it is ready; a non-nil error aborts the wait.
// A non-positive timeout is a single snapshot check. Cancellation of ctx
// returns ctx.Err(); expiry of the timeout alone returns ErrTimedOut.
func Attempt[T any](ctx context.Context, timeout, poll time.Duration, op func(ctx context.Context) (T, bool, error)) (T, error) {
	var (
		result T
		zero   T
	)
	if poll <= 0 {
		poll = DefaultPoll
	}
	if timeout <= 0 {
		v, ready, err := op(ctx)
		switch {
		case err != nil:
			return zero, err
		case !ready:
			return zero, ErrTimedOut
		}
		return v, nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.WithContext(backoff.NewConstantBackOff(poll), attemptCtx)
	err := backoff.Retry(func() error {
		v, ready, opErr := op(attemptCtx)
		if opErr != nil {
			// A probe interrupted by our own deadline is just "not ready yet".
			if attemptCtx.Err() != nil && ctx.Err() == nil {
				return errNotReady
			}
			return backoff.Permanent(opErr)
		}
		if !ready {
			return errNotReady
		}
		result = v
		return nil
	}, b)

	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if errors.Is(err, errNotReady) {
		return zero, ErrTimedOut
	}
	return zero, err
}

// Until is Attempt for a bare condition.
func Until(ctx context.Context, timeout, poll time.Duration, cond func(ctx context.Context) (bool, error)) error {
	_, err := Attempt(ctx, timeout, poll, func(ctx context.Context) (struct{}, bool, error) {
		ok, err := cond(ctx)
		return struct{}{}, ok, err
	})
	return err
}
