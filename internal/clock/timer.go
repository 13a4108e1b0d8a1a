package clock

import "sync"

type timerState int

const (
	timerIdle timerState = iota
	timerRunning
	timerStopped
	timerDestroyed
)

// Timer measures an interval on all three timelines at once. Timers are
// named and registered on a Clock so that instrumentation can look them up.
type Timer struct {
	name  string
	clock *Clock

	mu    sync.Mutex
	state timerState
	start Reading
	stop  Reading
}

// NewTimer registers an idle timer under name.
func (c *Clock) NewTimer(name string) (*Timer, error) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if _, ok := c.timers[name]; ok {
		return nil, &ContractError{Code: CodeTimerExists, Op: "new timer " + name}
	}
	t := &Timer{name: name, clock: c}
	c.timers[name] = t
	return t, nil
}

// Timer returns the timer registered under name.
func (c *Clock) Timer(name string) (*Timer, bool) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	t, ok := c.timers[name]
	return t, ok
}

// Name returns the registration name.
func (t *Timer) Name() string { return t.name }

// Start begins measuring. Starting a running timer is a violation.
func (t *Timer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == timerRunning || t.state == timerDestroyed {
		return &ContractError{Code: CodeTimerState, Op: "start timer " + t.name}
	}
	t.start = t.clock.Now()
	t.stop = Reading{}
	t.state = timerRunning
	return nil
}

// Stop freezes the measured interval.
func (t *Timer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != timerRunning {
		return &ContractError{Code: CodeTimerState, Op: "stop timer " + t.name}
	}
	t.stop = t.clock.Now()
	t.state = timerStopped
	return nil
}

// Restart discards the current interval and starts a new one.
func (t *Timer) Restart() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == timerDestroyed {
		return &ContractError{Code: CodeTimerState, Op: "restart timer " + t.name}
	}
	t.start = t.clock.Now()
	t.stop = Reading{}
	t.state = timerRunning
	return nil
}

// Destroy unregisters the timer. Further use is a violation.
func (t *Timer) Destroy() {
	t.mu.Lock()
	t.state = timerDestroyed
	t.mu.Unlock()

	t.clock.timersMu.Lock()
	defer t.clock.timersMu.Unlock()
	if t.clock.timers[t.name] == t {
		delete(t.clock.timers, t.name)
	}
}

// Running reports whether the timer is measuring.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == timerRunning
}

// StartedAt returns the reading on k when the timer was last started.
func (t *Timer) StartedAt(k Kind) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.start.Get(k)
}

// Elapsed returns the interval on timeline k: up to now while running, up
// to Stop once stopped, zero when idle or destroyed.
func (t *Timer) Elapsed(k Kind) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case timerRunning:
		return t.clock.Now().Get(k) - t.start.Get(k)
	case timerStopped:
		return t.stop.Get(k) - t.start.Get(k)
	default:
		return 0
	}
}
