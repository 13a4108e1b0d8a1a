package clock

import (
	"sync"
	"time"
)

// Source supplies the wall-clock instant. Production code uses SystemSource;
// tests substitute a manually advanced source.
type Source interface {
	Now() time.Time
}

// SystemSource reads time.Now.
type SystemSource struct{}

// Now returns the current local time.
func (SystemSource) Now() time.Time { return time.Now() }

// Kind names one of the three timelines.
type Kind int

const (
	// Wall is the always-running host clock.
	Wall Kind = iota
	// Simulation is pausable elapsed time.
	Simulation
	// Loop counts simulation loop iterations.
	Loop
)

// String returns the timeline name.
func (k Kind) String() string {
	switch k {
	case Wall:
		return "wall"
	case Simulation:
		return "simulation"
	case Loop:
		return "loop"
	default:
		return "unknown"
	}
}

// State is a timeline's lifecycle state.
type State int

const (
	NotStarted State = iota
	Running
	Paused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Timeline is the control surface shared by the three timelines.
type Timeline interface {
	Kind() Kind
	Now() int64
	Start() error
	Pause() error
	Resume() error
	IsPaused() bool
}

// WallTimeline reports Unix nanoseconds from its source.
type WallTimeline struct {
	src Source
}

// NewWallTimeline returns the wall timeline for src.
func NewWallTimeline(src Source) *WallTimeline {
	return &WallTimeline{src: src}
}

func (w *WallTimeline) Kind() Kind     { return Wall }
func (w *WallTimeline) Now() int64     { return w.src.Now().UnixNano() }
func (w *WallTimeline) IsPaused() bool { return false }

func (w *WallTimeline) Start() error  { return violation(CodeWallClockImmutable, "start", Wall) }
func (w *WallTimeline) Pause() error  { return violation(CodeWallClockImmutable, "pause", Wall) }
func (w *WallTimeline) Resume() error { return violation(CodeWallClockImmutable, "resume", Wall) }
func (w *WallTimeline) Reset() error  { return violation(CodeWallClockImmutable, "reset", Wall) }

// pausable holds the NotStarted→Running⇄Paused machine common to the
// simulation and loop timelines. Durations are wall nanoseconds.
type pausable struct {
	kind        Kind
	src         Source
	state       State
	startedAt   int64
	pausedAt    int64
	pausedTotal int64
}

func (p *pausable) start(now int64) error {
	if p.state != NotStarted {
		return violation(CodeAlreadyStarted, "start", p.kind)
	}
	p.state = Running
	p.startedAt = now
	p.pausedAt = 0
	p.pausedTotal = 0
	return nil
}

func (p *pausable) pause(now int64) error {
	switch p.state {
	case NotStarted:
		return violation(CodeNotStarted, "pause", p.kind)
	case Paused:
		return violation(CodeAlreadyPaused, "pause", p.kind)
	}
	p.state = Paused
	p.pausedAt = now
	return nil
}

func (p *pausable) resume(now int64) error {
	switch p.state {
	case NotStarted:
		return violation(CodeNotStarted, "resume", p.kind)
	case Running:
		return violation(CodeNotPaused, "resume", p.kind)
	}
	p.state = Running
	p.pausedTotal += now - p.pausedAt
	p.pausedAt = 0
	return nil
}

func (p *pausable) reset() {
	p.state = NotStarted
	p.startedAt = 0
	p.pausedAt = 0
	p.pausedTotal = 0
}

// pausedFor is the total paused span, including an ongoing pause.
func (p *pausable) pausedFor(now int64) int64 {
	if p.state == Paused {
		return p.pausedTotal + (now - p.pausedAt)
	}
	return p.pausedTotal
}

// SimulationTimeline reports nanoseconds elapsed since Start, excluding time
// spent paused.
type SimulationTimeline struct {
	mu sync.Mutex
	p  pausable
}

// NewSimulationTimeline returns an unstarted simulation timeline.
func NewSimulationTimeline(src Source) *SimulationTimeline {
	return &SimulationTimeline{p: pausable{kind: Simulation, src: src}}
}

func (s *SimulationTimeline) Kind() Kind { return Simulation }

// Now returns elapsed simulation nanoseconds; 0 before Start.
func (s *SimulationTimeline) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowLocked(s.p.src.Now().UnixNano())
}

func (s *SimulationTimeline) nowLocked(wall int64) int64 {
	switch s.p.state {
	case NotStarted:
		return 0
	case Paused:
		return s.p.pausedAt - s.p.startedAt - s.p.pausedTotal
	default:
		return wall - s.p.startedAt - s.p.pausedTotal
	}
}

func (s *SimulationTimeline) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.start(s.p.src.Now().UnixNano())
}

func (s *SimulationTimeline) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.pause(s.p.src.Now().UnixNano())
}

func (s *SimulationTimeline) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.resume(s.p.src.Now().UnixNano())
}

// Reset returns the timeline to NotStarted.
func (s *SimulationTimeline) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.reset()
}

func (s *SimulationTimeline) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.state == Paused
}

// State returns the lifecycle state.
func (s *SimulationTimeline) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.state
}

// PausedFor returns the wall nanoseconds spent paused since Start.
func (s *SimulationTimeline) PausedFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.p.pausedFor(s.p.src.Now().UnixNano()))
}

// LoopTimeline counts loop iterations. It advances only through Tick and
// only while running.
type LoopTimeline struct {
	mu       sync.Mutex
	p        pausable
	ticks    int64
	tickSize float64
}

// DefaultTickSize leaves replay at real speed.
const DefaultTickSize = 1.0

// NewLoopTimeline returns an unstarted loop timeline with the given tick
// size. A non-positive size falls back to DefaultTickSize.
func NewLoopTimeline(src Source, tickSize float64) *LoopTimeline {
	if tickSize <= 0 {
		tickSize = DefaultTickSize
	}
	return &LoopTimeline{p: pausable{kind: Loop, src: src}, tickSize: tickSize}
}

func (l *LoopTimeline) Kind() Kind { return Loop }

// Now returns the number of iterations since Start.
func (l *LoopTimeline) Now() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// Scaled returns iterations multiplied by the tick size.
func (l *LoopTimeline) Scaled() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.ticks) * l.tickSize
}

// Tick advances one iteration. It reports false, without advancing, when
// the timeline is not running.
func (l *LoopTimeline) Tick() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.p.state != Running {
		return false
	}
	l.ticks++
	return true
}

// TickSize returns the current scale factor.
func (l *LoopTimeline) TickSize() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tickSize
}

// SetTickSize changes the scale factor. Wall and simulation time are
// unaffected.
func (l *LoopTimeline) SetTickSize(size float64) error {
	if size <= 0 {
		return violation(CodeInvalidTickSize, "set tick size", Loop)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tickSize = size
	return nil
}

func (l *LoopTimeline) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.p.start(l.p.src.Now().UnixNano()); err != nil {
		return err
	}
	l.ticks = 0
	return nil
}

func (l *LoopTimeline) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.pause(l.p.src.Now().UnixNano())
}

func (l *LoopTimeline) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.resume(l.p.src.Now().UnixNano())
}

// Reset returns the timeline to NotStarted with zero iterations.
func (l *LoopTimeline) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.reset()
	l.ticks = 0
}

func (l *LoopTimeline) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.state == Paused
}

// State returns the lifecycle state.
func (l *LoopTimeline) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.state
}

// PausedFor returns the wall nanoseconds spent paused since Start.
func (l *LoopTimeline) PausedFor() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.p.pausedFor(l.p.src.Now().UnixNano()))
}

var (
	_ Timeline = (*WallTimeline)(nil)
	_ Timeline = (*SimulationTimeline)(nil)
	_ Timeline = (*LoopTimeline)(nil)
)
