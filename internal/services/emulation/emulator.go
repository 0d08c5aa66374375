package emulation

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ternarybob/colligo/internal/common"
)

// Point is a browser viewport coordinate.
type Point struct {
	X float64
	Y float64
}

// PointerStep is one sampled position on an emulated pointer trajectory with
// the delay to observe before moving there.
type PointerStep struct {
	Pos   Point
	Delay time.Duration
}

// Keystroke is one character of emulated text entry with its preceding delay.
type Keystroke struct {
	Rune  rune
	Delay time.Duration
}

// ScrollStep is one increment of an emulated scroll gesture.
type ScrollStep struct {
	DeltaY int
	Delay  time.Duration
}

// Emulator is the behavioral emulation layer: a pure strategy object that
// turns target interactions into sequences of primitive actions with
// randomized-but-bounded timing and non-linear paths. It holds no state
// beyond its seeded random source, and no two emitted interactions are
// bit-identical. Every component that touches the remote surface goes through
// it — the single purpose is to keep the automation's timing and path
// statistics from being trivially distinguishable from a human operator's.
type Emulator struct {
	cfg common.EmulationConfig
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an emulator. A zero seed in the config uses a time-based seed;
// tests pin the seed for reproducible sequences.
func New(cfg common.EmulationConfig) *Emulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Emulator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// PointerPath produces a curved trajectory from one point to another: a
// quadratic bezier through a jittered control point, sampled into a
// distance-dependent number of steps with bounded per-step delays.
func (e *Emulator) PointerPath(from, to Point) []PointerStep {
	e.mu.Lock()
	defer e.mu.Unlock()

	dx := to.X - from.X
	dy := to.Y - from.Y
	dist := math.Hypot(dx, dy)

	// More steps for longer moves; never a straight two-point jump.
	steps := 8 + int(dist/40) + e.rng.Intn(6)

	// Control point offset perpendicular to the straight line, so the arc
	// bows to one side or the other.
	bend := (e.rng.Float64()*2 - 1) * math.Max(24, dist*0.2)
	mid := Point{
		X: from.X + dx/2 - dy/dist*bend,
		Y: from.Y + dy/2 + dx/dist*bend,
	}
	if dist == 0 {
		mid = from
	}

	path := make([]PointerStep, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		// Quadratic bezier interpolation with small positional jitter.
		x := (1-t)*(1-t)*from.X + 2*(1-t)*t*mid.X + t*t*to.X
		y := (1-t)*(1-t)*from.Y + 2*(1-t)*t*mid.Y + t*t*to.Y
		if i < steps {
			x += (e.rng.Float64()*2 - 1) * 1.5
			y += (e.rng.Float64()*2 - 1) * 1.5
		}
		path = append(path, PointerStep{
			Pos:   Point{X: x, Y: y},
			Delay: e.between(e.cfg.PointerStepMin, e.cfg.PointerStepMax),
		})
	}
	return path
}

// Keystrokes produces a typing schedule for text entry: per-character delays
// within the configured bounds, with an occasional longer pause as a human
// would take while typing.
func (e *Emulator) Keystrokes(text string) []Keystroke {
	e.mu.Lock()
	defer e.mu.Unlock()

	pauseEvery := e.cfg.ThinkPauseEvery
	if pauseEvery <= 0 {
		pauseEvery = 9
	}

	strokes := make([]Keystroke, 0, len(text))
	for i, r := range text {
		delay := e.between(e.cfg.KeystrokeMin, e.cfg.KeystrokeMax)
		if i > 0 && e.rng.Intn(pauseEvery) == 0 {
			delay += e.between(e.cfg.KeystrokeMax, 3*e.cfg.KeystrokeMax)
		}
		strokes = append(strokes, Keystroke{Rune: r, Delay: delay})
	}
	return strokes
}

// ScrollPlan breaks a scroll-by-N into uneven increments so the gesture does
// not land as a single uniform wheel event.
func (e *Emulator) ScrollPlan(totalDeltaY int) []ScrollStep {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := totalDeltaY
	var plan []ScrollStep
	for remaining > 0 {
		chunk := 80 + e.rng.Intn(160)
		if chunk > remaining {
			chunk = remaining
		}
		remaining -= chunk
		plan = append(plan, ScrollStep{
			DeltaY: chunk,
			Delay:  e.between(e.cfg.PointerStepMin*4, e.cfg.PointerStepMax*8),
		})
	}
	return plan
}

// PacingDelay returns the emulation-governed delay inserted before every page
// request of an extraction job. This delay is the primary defense against
// rate-based detection and is never skipped, including during re-auth
// resumption.
func (e *Emulator) PacingDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.between(e.cfg.PacingMin, e.cfg.PacingMax)
}

// between returns a uniform duration in [min, max]. Callers hold e.mu.
func (e *Emulator) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(e.rng.Int63n(int64(max-min)))
}
