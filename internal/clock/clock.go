package clock

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// Reading is one sample of all three timelines.
type Reading struct {
	Wall       int64
	Simulation int64
	Loop       int64
}

// Get returns the reading on timeline k.
func (r Reading) Get(k Kind) int64 {
	switch k {
	case Simulation:
		return r.Simulation
	case Loop:
		return r.Loop
	default:
		return r.Wall
	}
}

// Clock owns one wall, one simulation and one loop timeline. Simulation and
// Loop are paused and resumed together.
//
// Thread-safety: all methods are safe for concurrent use.
type Clock struct {
	mu   sync.Mutex // serializes paired transitions
	src  Source
	wall *WallTimeline
	sim  *SimulationTimeline
	loop *LoopTimeline

	timersMu sync.Mutex
	timers   map[string]*Timer

	holdMu     sync.Mutex
	holders    map[string]struct{}
	holdPaused bool // the first Hold paused the clock
}

// Option configures a Clock.
type Option func(*Clock)

// WithTickSize sets the loop timeline's initial tick size.
func WithTickSize(size float64) Option {
	return func(c *Clock) {
		if size > 0 {
			c.loop.tickSize = size
		}
	}
}

// New creates a clock on src. Simulation and Loop are not started.
func New(src Source, opts ...Option) *Clock {
	if src == nil {
		src = SystemSource{}
	}
	c := &Clock{
		src:     src,
		wall:    NewWallTimeline(src),
		sim:     NewSimulationTimeline(src),
		loop:    NewLoopTimeline(src, DefaultTickSize),
		timers:  make(map[string]*Timer),
		holders: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Source returns the clock's time source.
func (c *Clock) Source() Source { return c.src }

func (c *Clock) Wall() *WallTimeline        { return c.wall }
func (c *Clock) Simulation() SimulationView { return SimulationView{c.sim} }
func (c *Clock) Loop() LoopView             { return LoopView{c.loop} }

// SetTickSize changes the loop timeline's scale factor.
func (c *Clock) SetTickSize(size float64) error {
	return c.loop.SetTickSize(size)
}

// Start starts Simulation and Loop together.
func (c *Clock) Start() error {
	return c.transition("start", func(now int64) error {
		if c.sim.p.state != NotStarted || c.loop.p.state != NotStarted {
			return violation(CodeAlreadyStarted, "start", Simulation)
		}
		_ = c.sim.p.start(now)
		_ = c.loop.p.start(now)
		c.loop.ticks = 0
		return nil
	})
}

// Pause pauses Simulation and Loop at the same instant. A second Pause
// without an intervening Resume is rejected and changes nothing.
func (c *Clock) Pause() error {
	return c.transition("pause", func(now int64) error {
		if err := precheck(c.sim.p.state, "pause"); err != nil {
			return err
		}
		if err := precheck(c.loop.p.state, "pause"); err != nil {
			err.Timeline = Loop
			return err
		}
		_ = c.sim.p.pause(now)
		_ = c.loop.p.pause(now)
		return nil
	})
}

// Resume resumes Simulation and Loop at the same instant.
func (c *Clock) Resume() error {
	return c.transition("resume", func(now int64) error {
		if err := precheck(c.sim.p.state, "resume"); err != nil {
			return err
		}
		if err := precheck(c.loop.p.state, "resume"); err != nil {
			err.Timeline = Loop
			return err
		}
		_ = c.sim.p.resume(now)
		_ = c.loop.p.resume(now)
		return nil
	})
}

// Hold keeps the simulation paused on behalf of holder. The first holder
// pauses the clock; holding twice under the same name is a no-op.
func (c *Clock) Hold(holder string) error {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()
	if _, ok := c.holders[holder]; ok {
		return nil
	}
	if len(c.holders) == 0 && !c.IsPaused() {
		if err := c.Pause(); err != nil {
			return err
		}
		c.holdPaused = true
	}
	c.holders[holder] = struct{}{}
	return nil
}

// Release drops holder's hold. When the last holder releases a pause that
// Hold started, the clock resumes. It reports whether holder was holding.
func (c *Clock) Release(holder string) (bool, error) {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()
	if _, ok := c.holders[holder]; !ok {
		return false, nil
	}
	delete(c.holders, holder)
	if len(c.holders) > 0 || !c.holdPaused {
		return true, nil
	}
	c.holdPaused = false
	if err := c.Resume(); err != nil && !errors.Is(err, ErrNotPaused) {
		return true, err
	}
	return true, nil
}

// Holders returns the names currently holding the clock paused, sorted.
func (c *Clock) Holders() []string {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()
	out := make([]string, 0, len(c.holders))
	for h := range c.holders {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// precheck validates a pause or resume against state without mutating.
func precheck(s State, op string) *ContractError {
	switch {
	case s == NotStarted:
		return violation(CodeNotStarted, op, Simulation)
	case op == "pause" && s == Paused:
		return violation(CodeAlreadyPaused, op, Simulation)
	case op == "resume" && s == Running:
		return violation(CodeNotPaused, op, Simulation)
	}
	return nil
}

// transition runs fn with both timelines locked and a single wall sample.
// Violations are logged; the clock is left as it was.
func (c *Clock) transition(op string, fn func(now int64) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()
	c.loop.mu.Lock()
	defer c.loop.mu.Unlock()

	if err := fn(c.src.Now().UnixNano()); err != nil {
		slog.Warn("clock contract violation", "op", op, "error", err)
		return err
	}
	return nil
}

// IsPaused reports whether the simulation is paused.
func (c *Clock) IsPaused() bool {
	return c.sim.IsPaused()
}

// Tick advances the loop timeline. It reports false while paused or
// before Start.
func (c *Clock) Tick() bool {
	return c.loop.Tick()
}

// Now samples all three timelines from one wall instant.
func (c *Clock) Now() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.src.Now().UnixNano()

	c.sim.mu.Lock()
	sim := c.sim.nowLocked(now)
	c.sim.mu.Unlock()

	return Reading{Wall: now, Simulation: sim, Loop: c.loop.Now()}
}

// NewLoop creates a loop timeline independent of this clock's pause state,
// sharing its source. Replay drives one of these at its own speed.
func (c *Clock) NewLoop(tickSize float64) *LoopTimeline {
	return NewLoopTimeline(c.src, tickSize)
}
