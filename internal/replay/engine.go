package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/tandem/internal/clock"
	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/eventlog"
	"github.com/roach88/tandem/internal/world"
)

// ErrInvalidTransition is returned when an operation does not apply to the
// engine's current state.
var ErrInvalidTransition = errors.New("invalid replay transition")

// State is the recorder/player state.
type State int

const (
	Idle State = iota
	Recording
	WaitingToReplay
	Replaying
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case WaitingToReplay:
		return "waiting"
	case Replaying:
		return "replaying"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Commands carried in the "command" argument of USER_INPUT events.
const (
	CommandRecordStart = "record_start"
	CommandRecordStop  = "record_stop"
	CommandReplay      = "replay"
)

// TimerName is the clock timer measuring the recording window.
const TimerName = "recording"

// HoldName is the clock hold kept from the end of a recording until
// playback finishes.
const HoldName = "replay"

// Flusher drains pending log writes. *eventlog.Logger implements it.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Engine records object motion into a sub-log and plays it back.
//
// Thread-safety: all methods are safe for concurrent use. Step is meant to
// be called once per simulation tick.
type Engine struct {
	clock *clock.Clock
	bus   *event.Bus
	world *world.Directory
	log   Flusher
	dir   string
	ids   SessionGenerator
	timer *clock.Timer

	mu        sync.Mutex
	state     State
	session   string
	startLoop int64
	tickSize  float64
	loop      *clock.LoopTimeline
	entries   []scheduled
	next      int

	// bases maps each originator's loop counter onto the recording's
	// own timeline: an entry plays at its loop minus its originator's base.
	bases map[event.PeerID]int64
}

// scheduled is a sub-log entry placed on the recording timeline.
type scheduled struct {
	at    int64
	entry eventlog.Entry
}

// New creates an idle engine. Sub-logs are read from dir; log must be the
// logger writing them.
func New(c *clock.Clock, bus *event.Bus, dir *world.Directory, log Flusher, logDir string, ids SessionGenerator) (*Engine, error) {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	timer, ok := c.Timer(TimerName)
	if !ok {
		var err error
		if timer, err = c.NewTimer(TimerName); err != nil {
			return nil, err
		}
	}
	return &Engine{
		clock:    c,
		bus:      bus,
		world:    dir,
		log:      log,
		dir:      logDir,
		ids:      ids,
		timer:    timer,
		tickSize: clock.DefaultTickSize,
		bases:    make(map[event.PeerID]int64),
	}, nil
}

// Attach registers the engine for local USER_INPUT commands and for the
// object changes it aligns while recording.
func (e *Engine) Attach() error {
	if _, err := e.bus.Register(event.UserInput, e, false); err != nil {
		return err
	}
	_, err := e.bus.Register(event.GameObjectChange, e, false)
	return err
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Active reports whether a recording or playback is in progress.
func (e *Engine) Active() bool { return e.State() != Idle }

// Session returns the current or last recording session.
func (e *Engine) Session() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// HandleEvent runs replay commands raised by this peer and notes the loop
// counter of every peer whose object changes are being recorded. Commands
// from other peers are ignored.
func (e *Engine) HandleEvent(ev *event.Event) error {
	if ev.Type() == event.GameObjectChange {
		e.observeChange(ev)
		return nil
	}
	if ev.Originator() != e.bus.Identity() {
		return nil
	}
	switch ev.StringArg("command") {
	case CommandRecordStart:
		return e.StartRecording()
	case CommandRecordStop:
		return e.StopRecording()
	case CommandReplay:
		speed, ok := ev.FloatArg("speed")
		if !ok {
			speed = e.clock.Loop().TickSize()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.StartReplay(ctx, speed)
	}
	return nil
}

// observeChange aligns an originator's loop counter with the local one the
// first time one of its changes arrives during a recording.
func (e *Engine) observeChange(ev *event.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Recording {
		return
	}
	who := ev.Originator()
	if _, ok := e.bases[who]; ok {
		return
	}
	elapsed := e.clock.Loop().Now() - e.startLoop
	e.bases[who] = ev.TimeLoop() - elapsed
	slog.Debug("replay aligned peer loop", "peer", who, "base", e.bases[who])
}

// StartRecording moves Idle → Recording. Every dynamic object remembers
// where it stood so playback can start from there.
func (e *Engine) StartRecording() error {
	e.mu.Lock()
	if e.state != Idle {
		e.mu.Unlock()
		return e.reject("start recording")
	}
	e.world.ForEach(func(o *world.Object) {
		if o.Kind.Dynamic() && !o.Removed {
			o.Teleport = o.Pos
			o.HasTeleport = true
		}
	})
	e.session = e.ids.Generate()
	e.startLoop = e.clock.Loop().Now()
	e.bases = map[event.PeerID]int64{e.bus.Identity(): e.startLoop}
	if err := e.timer.Restart(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state = Recording
	session := e.session
	e.mu.Unlock()

	slog.Info("recording started", "session", session)
	_, err := e.bus.Raise(event.Replay, event.KV("action", eventlog.ActionRecordStart, "session", session)...)
	return err
}

// StopRecording moves Recording → WaitingToReplay and holds the live
// simulation paused until playback finishes.
func (e *Engine) StopRecording() error {
	e.mu.Lock()
	if e.state != Recording {
		e.mu.Unlock()
		return e.reject("stop recording")
	}
	if err := e.timer.Stop(); err != nil {
		slog.Warn("recording timer", "error", err)
	}
	e.state = WaitingToReplay
	session := e.session
	e.mu.Unlock()

	_, err := e.bus.Raise(event.Replay, event.KV("action", eventlog.ActionRecordEnd, "session", session)...)
	if herr := e.clock.Hold(HoldName); herr != nil {
		err = errors.Join(err, herr)
	}
	slog.Info("recording stopped", "session", session,
		"loops", e.timer.Elapsed(clock.Loop), "wall", time.Duration(e.timer.Elapsed(clock.Wall)))
	return err
}

// StartReplay moves WaitingToReplay → Replaying at the given speed. The
// sub-log is loaded once the logger has written it out.
func (e *Engine) StartReplay(ctx context.Context, speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("replay speed %v: %w", speed, clock.ErrInvalidTickSize)
	}
	e.mu.Lock()
	if e.state != WaitingToReplay {
		e.mu.Unlock()
		return e.reject("start replay")
	}
	session := e.session
	e.mu.Unlock()

	if e.log != nil {
		if err := e.log.Flush(ctx); err != nil {
			return fmt.Errorf("flush log before replay: %w", err)
		}
	}
	entries, err := eventlog.ReadSubLog(eventlog.SubLogPath(e.dir, session))
	if err != nil {
		return err
	}
	return e.play(entries, speed)
}

// Load plays entries recorded elsewhere, starting from Idle. Each
// originator's first entry plays on the first tick. The live simulation is
// held paused until playback finishes.
func (e *Engine) Load(entries []eventlog.Entry, speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("replay speed %v: %w", speed, clock.ErrInvalidTickSize)
	}
	e.mu.Lock()
	if e.state != Idle {
		e.mu.Unlock()
		return e.reject("load replay")
	}
	e.state = WaitingToReplay
	e.startLoop = 0
	e.bases = make(map[event.PeerID]int64)
	e.mu.Unlock()

	if err := e.clock.Hold(HoldName); err != nil {
		e.mu.Lock()
		e.state = Idle
		e.mu.Unlock()
		return err
	}
	if err := e.play(entries, speed); err != nil {
		e.mu.Lock()
		e.state = Idle
		e.mu.Unlock()
		_, _ = e.clock.Release(HoldName)
		return err
	}
	return nil
}

// scheduleLocked places entries on the recording timeline. Originators
// never seen while recording start one loop before their first entry.
func (e *Engine) scheduleLocked(entries []eventlog.Entry) []scheduled {
	out := make([]scheduled, len(entries))
	for i, en := range entries {
		base, ok := e.bases[en.Originator]
		if !ok {
			base = en.Loop - 1
			e.bases[en.Originator] = base
		}
		out[i] = scheduled{at: en.Loop - base, entry: en}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at < out[j].at })
	return out
}

func (e *Engine) play(entries []eventlog.Entry, speed float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != WaitingToReplay {
		return e.reject("start replay")
	}

	e.world.ForEach(func(o *world.Object) {
		switch {
		case o.HasTeleport:
			o.Pos = o.Teleport
			o.Hidden = false
		case o.Kind.Dynamic():
			o.Hidden = true
		}
	})

	e.entries = e.scheduleLocked(entries)
	e.next = 0
	e.tickSize = speed
	e.loop = e.clock.NewLoop(speed)
	if err := e.loop.Start(); err != nil {
		return err
	}
	e.state = Replaying
	slog.Info("replay started", "session", e.session, "entries", len(entries), "speed", speed)
	return nil
}

// Step advances playback by one tick and applies every entry whose loop
// time has been reached. It returns the number of entries applied. When
// the log is exhausted the engine returns to Idle and releases its hold on
// the live simulation, which resumes unless a peer still holds it.
func (e *Engine) Step() int {
	e.mu.Lock()
	if e.state != Replaying {
		e.mu.Unlock()
		return 0
	}

	e.loop.Tick()
	target := float64(e.loop.Now()) * e.tickSize

	applied := 0
	for e.next < len(e.entries) && float64(e.entries[e.next].at) <= target {
		if obj, ok := e.entries[e.next].entry.Object(); ok {
			e.world.Update(obj.GUID, func(o *world.Object) {
				o.Pos = obj.Pos
				o.Removed = obj.Removed
				o.Hidden = false
			})
			applied++
		}
		e.next++
	}
	if e.next < len(e.entries) {
		e.mu.Unlock()
		return applied
	}

	e.finishLocked()
	e.mu.Unlock()

	if _, err := e.clock.Release(HoldName); err != nil {
		slog.Warn("release live simulation after replay", "error", err)
	}
	return applied
}

func (e *Engine) finishLocked() {
	e.world.ForEach(func(o *world.Object) {
		o.HasTeleport = false
		o.Teleport = world.Vec{}
		o.Hidden = false
	})
	e.entries = nil
	e.next = 0
	e.loop = nil
	e.bases = make(map[event.PeerID]int64)
	e.state = Idle
	slog.Info("replay finished", "session", e.session)
}

// Progress returns how many entries have been applied and the total.
func (e *Engine) Progress() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next, len(e.entries)
}

func (e *Engine) reject(op string) error {
	err := fmt.Errorf("%s in state %s: %w", op, e.state, ErrInvalidTransition)
	slog.Warn("replay command ignored", "error", err)
	return err
}
