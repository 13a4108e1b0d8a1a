package replay

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/clock"
	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/eventlog"
	"github.com/roach88/tandem/internal/testutil"
	"github.com/roach88/tandem/internal/world"
)

type rig struct {
	src    *testutil.ManualSource
	clock  *clock.Clock
	bus    *event.Bus
	world  *world.Directory
	log    *eventlog.Logger
	engine *Engine
	hero   world.GUID
}

func newRig(t *testing.T) *rig {
	t.Helper()
	src := testutil.NewManualSource()
	c := clock.New(src)
	require.NoError(t, c.Start())
	bus := event.NewBus(c, event.ServerID)
	dir := world.NewDirectory()

	logDir := t.TempDir()
	l := eventlog.New(&bytes.Buffer{}, logDir)
	_, err := l.Attach(bus)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = l.Close()
	})

	e, err := New(c, bus, dir, l, logDir, testutil.NewFixedSessionGenerator("s1"))
	require.NoError(t, err)

	hero := world.NewCharacter(dir, 1)
	require.NoError(t, dir.Insert(hero))
	return &rig{src: src, clock: c, bus: bus, world: dir, log: l, engine: e, hero: hero.GUID}
}

// move ticks the live clock, moves guid to x and raises the change.
func (r *rig) move(t *testing.T, guid world.GUID, x float64) {
	t.Helper()
	r.src.Advance(10 * time.Millisecond)
	require.True(t, r.clock.Tick())
	obj, ok := r.world.Update(guid, func(o *world.Object) { o.Pos.X = x })
	require.True(t, ok)
	_, err := r.bus.Raise(event.GameObjectChange, event.KV("object", obj)...)
	require.NoError(t, err)
}

func (r *rig) x(t *testing.T, guid world.GUID) float64 {
	t.Helper()
	o, ok := r.world.Get(guid)
	require.True(t, ok)
	return o.Pos.X
}

// record ticks twice, records five moves of the hero and stops.
func (r *rig) record(t *testing.T) {
	t.Helper()
	r.clock.Tick()
	r.clock.Tick()
	r.src.Advance(time.Millisecond)
	require.NoError(t, r.engine.StartRecording())
	for i := 1; i <= 5; i++ {
		r.move(t, r.hero, float64(i*10))
	}
	r.src.Advance(time.Millisecond)
	require.NoError(t, r.engine.StopRecording())
}

func TestEngine_ReplayReproducesRecordedPositions(t *testing.T) {
	r := newRig(t)
	r.record(t)
	assert.Equal(t, WaitingToReplay, r.engine.State())
	assert.True(t, r.clock.IsPaused(), "live simulation pauses after recording")
	assert.Equal(t, 50.0, r.x(t, r.hero))

	require.NoError(t, r.engine.StartReplay(context.Background(), 1))
	assert.Equal(t, Replaying, r.engine.State())
	assert.Equal(t, 0.0, r.x(t, r.hero), "objects start where recording began")

	var seen []float64
	for r.engine.Active() {
		require.Equal(t, 1, r.engine.Step())
		seen = append(seen, r.x(t, r.hero))
	}
	assert.Equal(t, []float64{10, 20, 30, 40, 50}, seen)
	assert.Equal(t, Idle, r.engine.State())
	assert.False(t, r.clock.IsPaused(), "live simulation resumes after replay")

	hero, _ := r.world.Get(r.hero)
	assert.False(t, hero.HasTeleport)
	assert.False(t, hero.Hidden)
}

func TestEngine_DoubleSpeedFinishesInHalfTheTicks(t *testing.T) {
	r := newRig(t)
	r.record(t)
	require.NoError(t, r.engine.StartReplay(context.Background(), 2))

	steps := 0
	for r.engine.Active() {
		r.engine.Step()
		steps++
	}
	assert.Equal(t, 3, steps)
	assert.Equal(t, 50.0, r.x(t, r.hero))
}

func TestEngine_HalfSpeedWaitsBetweenEntries(t *testing.T) {
	r := newRig(t)
	r.record(t)
	require.NoError(t, r.engine.StartReplay(context.Background(), 0.5))

	assert.Equal(t, 0, r.engine.Step())
	assert.Equal(t, 1, r.engine.Step())
	assert.Equal(t, 10.0, r.x(t, r.hero))
}

func TestEngine_LateObjectsStayHiddenUntilMentioned(t *testing.T) {
	r := newRig(t)
	r.clock.Tick()
	require.NoError(t, r.engine.StartRecording())

	late := world.NewCharacter(r.world, 2)
	require.NoError(t, r.world.Insert(late))
	r.move(t, r.hero, 5)
	r.move(t, late.GUID, 7)
	require.NoError(t, r.engine.StopRecording())
	require.NoError(t, r.engine.StartReplay(context.Background(), 1))

	o, _ := r.world.Get(late.GUID)
	assert.True(t, o.Hidden)

	r.engine.Step()
	o, _ = r.world.Get(late.GUID)
	assert.True(t, o.Hidden, "not yet reached in the log")

	r.engine.Step()
	o, _ = r.world.Get(late.GUID)
	assert.False(t, o.Hidden)
	assert.Equal(t, 7.0, o.Pos.X)
}

func TestEngine_RejectsOutOfOrderTransitions(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.engine.StopRecording(), ErrInvalidTransition)
	assert.ErrorIs(t, r.engine.StartReplay(ctx, 1), ErrInvalidTransition)

	require.NoError(t, r.engine.StartRecording())
	assert.ErrorIs(t, r.engine.StartRecording(), ErrInvalidTransition)
	assert.ErrorIs(t, r.engine.StartReplay(ctx, 1), ErrInvalidTransition)
	assert.Equal(t, Recording, r.engine.State())

	require.NoError(t, r.engine.StopRecording())
	assert.ErrorIs(t, r.engine.StartReplay(ctx, 0), clock.ErrInvalidTickSize)
	assert.Equal(t, WaitingToReplay, r.engine.State())
	assert.Zero(t, r.engine.Step(), "step does nothing until replay starts")
}

func TestEngine_DrivenByLocalUserInput(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.engine.Attach())

	r.bus.ReRaise(event.New(event.UserInput, r.clock.Now(), 7, event.KV("command", CommandRecordStart)))
	assert.Equal(t, Idle, r.engine.State(), "commands from other peers are ignored")

	_, err := r.bus.Raise(event.UserInput, event.KV("command", CommandRecordStart)...)
	require.NoError(t, err)
	assert.Equal(t, Recording, r.engine.State())
	assert.Equal(t, "s1", r.engine.Session())

	r.move(t, r.hero, 3)
	_, err = r.bus.Raise(event.UserInput, event.KV("command", CommandRecordStop)...)
	require.NoError(t, err)
	_, err = r.bus.Raise(event.UserInput, event.KV("command", CommandReplay, "speed", 1.0)...)
	require.NoError(t, err)
	assert.Equal(t, Replaying, r.engine.State())

	r.engine.Step()
	assert.Equal(t, Idle, r.engine.State())
	assert.Equal(t, 3.0, r.x(t, r.hero))
}

func TestEngine_RecordingTimerMeasuresWindow(t *testing.T) {
	r := newRig(t)
	r.record(t)

	timer, ok := r.clock.Timer(TimerName)
	require.True(t, ok)
	assert.False(t, timer.Running())
	assert.Equal(t, int64(5), timer.Elapsed(clock.Loop))
}

func TestEngine_LoadPlaysForeignEntries(t *testing.T) {
	r := newRig(t)
	entries := []eventlog.Entry{
		entryAt(10, r.hero, 1),
		entryAt(11, r.hero, 2),
	}
	require.NoError(t, r.engine.Load(entries, 1))

	assert.Equal(t, 1, r.engine.Step())
	assert.Equal(t, 1.0, r.x(t, r.hero))
	assert.Equal(t, 1, r.engine.Step())
	assert.Equal(t, 2.0, r.x(t, r.hero))
	assert.Equal(t, Idle, r.engine.State())
}

func entryAt(loop int64, guid world.GUID, x float64) eventlog.Entry {
	obj := world.Object{GUID: guid, Kind: world.KindCharacter, Pos: world.Vec{X: x}}
	return eventlog.Entry{
		Loop:   loop,
		Type:   event.GameObjectChange,
		Fields: []eventlog.Field{{Key: "object", Value: guid.String(), Object: &obj}},
	}
}

// relay ticks the local clock and re-raises a change stamped by the server
// at serverLoop, the way a client receives it.
func (r *rig) relay(t *testing.T, guid world.GUID, x float64, serverLoop int64) {
	t.Helper()
	r.src.Advance(10 * time.Millisecond)
	require.True(t, r.clock.Tick())
	obj, ok := r.world.Get(guid)
	require.True(t, ok)
	obj.Pos.X = x
	r.world.Replace(obj)
	now := r.clock.Now()
	r.bus.ReRaise(event.New(event.GameObjectChange,
		clock.Reading{Wall: now.Wall, Simulation: now.Simulation, Loop: serverLoop},
		event.ServerID, event.KV("object", obj)))
}

func TestEngine_ClientRecordingUsesServerTimeline(t *testing.T) {
	r := newRig(t)
	r.bus.SetIdentity(2)
	require.NoError(t, r.engine.Attach())

	r.clock.Tick()
	r.clock.Tick()
	r.src.Advance(time.Millisecond)
	require.NoError(t, r.engine.StartRecording())
	for i := 1; i <= 5; i++ {
		r.relay(t, r.hero, float64(i*10), int64(1000+i))
	}
	r.src.Advance(time.Millisecond)
	require.NoError(t, r.engine.StopRecording())
	require.NoError(t, r.engine.StartReplay(context.Background(), 1))

	var seen []float64
	for r.engine.Active() {
		require.Equal(t, 1, r.engine.Step(), "one server change per replay tick")
		seen = append(seen, r.x(t, r.hero))
	}
	assert.Equal(t, []float64{10, 20, 30, 40, 50}, seen)
}

func TestEngine_ClientRecordingKeepsServerGapBeforeFirstChange(t *testing.T) {
	r := newRig(t)
	r.bus.SetIdentity(2)
	require.NoError(t, r.engine.Attach())

	require.NoError(t, r.engine.StartRecording())
	// Three quiet local loops pass before the first server change arrives.
	r.clock.Tick()
	r.clock.Tick()
	r.relay(t, r.hero, 10, 503)
	r.relay(t, r.hero, 20, 504)
	require.NoError(t, r.engine.StopRecording())
	require.NoError(t, r.engine.StartReplay(context.Background(), 1))

	assert.Equal(t, 0, r.engine.Step())
	assert.Equal(t, 0, r.engine.Step())
	assert.Equal(t, 1, r.engine.Step())
	assert.Equal(t, 10.0, r.x(t, r.hero))
	assert.Equal(t, 1, r.engine.Step())
	assert.Equal(t, Idle, r.engine.State())
}

func TestEngine_LoadAlignsEachOriginator(t *testing.T) {
	r := newRig(t)
	other := world.NewCharacter(r.world, 2)
	require.NoError(t, r.world.Insert(other))

	fromServer := entryAt(900, r.hero, 1)
	fromClient := entryAt(10, other.GUID, 5)
	fromClient.Originator = 2
	later := entryAt(901, r.hero, 2)
	require.NoError(t, r.engine.Load([]eventlog.Entry{fromClient, fromServer, later}, 1))

	assert.Equal(t, 2, r.engine.Step(), "both peers' first entries play on the first tick")
	assert.Equal(t, 1.0, r.x(t, r.hero))
	assert.Equal(t, 5.0, r.x(t, other.GUID))
	assert.Equal(t, 1, r.engine.Step())
	assert.Equal(t, Idle, r.engine.State())
}

func TestEngine_ReplayLeavesPeerPauseInPlace(t *testing.T) {
	r := newRig(t)
	r.clock.Tick()
	require.NoError(t, r.engine.StartRecording())
	r.move(t, r.hero, 10)
	r.move(t, r.hero, 20)
	require.NoError(t, r.clock.Hold("peer:1"))
	require.NoError(t, r.engine.StopRecording())
	require.NoError(t, r.engine.StartReplay(context.Background(), 2))
	for r.engine.Active() {
		r.engine.Step()
	}

	assert.True(t, r.clock.IsPaused(), "a peer still holds the simulation")
	assert.Equal(t, []string{"peer:1"}, r.clock.Holders())

	_, err := r.clock.Release("peer:1")
	require.NoError(t, err)
	assert.False(t, r.clock.IsPaused())
}

func TestEngine_PeerUnpauseDuringReplayKeepsSimulationPaused(t *testing.T) {
	r := newRig(t)
	r.record(t)
	require.NoError(t, r.engine.StartReplay(context.Background(), 1))

	require.NoError(t, r.clock.Hold("peer:1"))
	_, err := r.clock.Release("peer:1")
	require.NoError(t, err)
	assert.True(t, r.clock.IsPaused(), "replay still holds the simulation")

	for r.engine.Active() {
		r.engine.Step()
	}
	assert.False(t, r.clock.IsPaused())
}
