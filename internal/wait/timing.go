package wait

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// rngPool manages synchronized random number generators.
var rngPool = sync.Pool{
	New: func() interface{} {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	},
}

func getRNG() *rand.Rand {
	return rngPool.Get().(*rand.Rand)
}

func putRNG(r *rand.Rand) {
	rngPool.Put(r)
}

// Range is an inclusive duration interval used for randomized settle delays.
type Range struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// Jitter returns a uniformly random duration in [Min, Max]. An inverted or
// degenerate range yields Min.
func (r Range) Jitter() time.Duration {
	if r.Max <= r.Min {
		if r.Min < 0 {
			return 0
		}
		return r.Min
	}
	rng := getRNG()
	defer putRNG(rng)
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)+1))
}

// Normal returns a duration drawn from N(mean, stddev), floored at floor.
func Normal(mean, stddev, floor time.Duration) time.Duration {
	rng := getRNG()
	defer putRNG(rng)
	d := time.Duration(rng.NormFloat64()*float64(stddev)) + mean
	if d < floor {
		return floor
	}
	return d
}

// Sleep pauses execution, respecting the context cancellation.
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle sleeps for a random duration drawn from r.
func Settle(ctx context.Context, r Range) error {
	return Sleep(ctx, r.Jitter())
}
