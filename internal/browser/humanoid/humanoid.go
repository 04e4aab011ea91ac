// Package humanoid moves the pointer along curved, slightly wavering paths
// before an element is clicked.
package humanoid

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/internal/wait"
)

const (
	// pixelsPerStep sets how finely long movements are sampled.
	pixelsPerStep = 25.0
	maxSteps      = 80
	// noiseFrequency controls how quickly the drift changes along a path.
	noiseFrequency = 0.35
)

// Vector2D is a point in CSS pixels.
type Vector2D struct {
	X, Y float64
}

func (v Vector2D) Add(o Vector2D) Vector2D { return Vector2D{v.X + o.X, v.Y + o.Y} }
func (v Vector2D) Sub(o Vector2D) Vector2D { return Vector2D{v.X - o.X, v.Y - o.Y} }
func (v Vector2D) Mul(s float64) Vector2D  { return Vector2D{v.X * s, v.Y * s} }
func (v Vector2D) Mag() float64            { return math.Hypot(v.X, v.Y) }
func (v Vector2D) Dist(o Vector2D) float64 { return v.Sub(o).Mag() }
func (v Vector2D) Perpendicular() Vector2D { return Vector2D{-v.Y, v.X} }

func (v Vector2D) Normalize() Vector2D {
	m := v.Mag()
	if m == 0 {
		return Vector2D{}
	}
	return v.Mul(1 / m)
}

// Config tunes pointer motion.
type Config struct {
	// MinSteps is the fewest intermediate points of any movement.
	MinSteps int
	// Drift is the largest sideways deviation from the straight line, in pixels.
	Drift float64
	// StepDelay is the pause between two pointer events.
	StepDelay wait.Range
}

// Executor dispatches pointer events to the page.
type Executor interface {
	MoveMouse(ctx context.Context, to Vector2D) error
}

// Humanoid tracks the pointer of one page.
type Humanoid struct {
	// mu serializes movements and protects every field below.
	mu       sync.Mutex
	cfg      Config
	logger   *zap.Logger
	executor Executor
	pos      Vector2D
	noise    *perlin.Perlin
	// noiseT advances across movements so consecutive paths differ.
	noiseT float64
	rng    *rand.Rand
}

// New creates a pointer starting at start. A zero seed is replaced by the
// current time.
func New(cfg Config, logger *zap.Logger, executor Executor, start Vector2D, seed int64) *Humanoid {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.MinSteps < 2 {
		cfg.MinSteps = 2
	}
	// Standard Perlin noise parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)
	return &Humanoid{
		cfg:      cfg,
		logger:   logger.Named("humanoid"),
		executor: executor,
		pos:      start,
		noise:    perlin.NewPerlin(alpha, beta, n, seed),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Position returns the last pointer position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// MoveTo walks the pointer to target. The position is updated after every
// dispatched event, so an interrupted movement resumes from where it stopped.
func (h *Humanoid) MoveTo(ctx context.Context, target Vector2D) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	path := h.path(h.pos, target)
	h.logger.Debug("Moving pointer",
		zap.Float64("distance", h.pos.Dist(target)),
		zap.Int("steps", len(path)))

	for i, p := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.executor.MoveMouse(ctx, p); err != nil {
			return err
		}
		h.pos = p
		if i == len(path)-1 {
			break
		}
		if err := wait.Settle(ctx, h.cfg.StepDelay); err != nil {
			return err
		}
	}
	return nil
}

// path samples a minimum-jerk curve from start to end with Perlin drift
// across the direction of travel. The drift vanishes at both ends, so the
// last point is exactly end. start itself is not included.
// It assumes the caller holds the lock.
func (h *Humanoid) path(start, end Vector2D) []Vector2D {
	delta := end.Sub(start)
	dist := delta.Mag()
	if dist < 1 {
		return []Vector2D{end}
	}

	steps := int(math.Ceil(dist / pixelsPerStep))
	if steps < h.cfg.MinSteps {
		steps = h.cfg.MinSteps
	}
	if steps > maxSteps {
		steps = maxSteps
	}

	// Short hops waver less.
	amplitude := math.Min(h.cfg.Drift, dist/10)
	normal := delta.Perpendicular().Normalize()
	offset := h.noiseT
	h.noiseT += float64(steps)*noiseFrequency + h.rng.Float64()

	points := make([]Vector2D, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		s := minimumJerk(t)
		p := start.Add(delta.Mul(s))
		n := math.Max(-1, math.Min(1, h.noise.Noise1D(offset+float64(i)*noiseFrequency)))
		drift := n * amplitude * math.Sin(math.Pi*t)
		points[i-1] = p.Add(normal.Mul(drift))
	}
	points[steps-1] = end
	return points
}

// minimumJerk is the position profile of a smooth point-to-point reach.
func minimumJerk(t float64) float64 {
	return t * t * t * (10 - 15*t + 6*t*t)
}
