package event

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/clock"
)

func TestKV_PreservesOrder(t *testing.T) {
	args := KV("b", 1, "a", "x", "c", true)

	require.Len(t, args, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{args[0].Key, args[1].Key, args[2].Key})
}

func TestKV_PanicsOnMisuse(t *testing.T) {
	assert.Panics(t, func() { KV("odd") })
	assert.Panics(t, func() { KV(1, 2) })
}

func TestEvent_Accessors(t *testing.T) {
	r := clock.Reading{Wall: 10, Simulation: 20, Loop: 3}
	ev := New(Spawn, r, 4, KV("guid", int64(9), "retry", true, "name", "p1", "speed", 2.5))

	assert.Equal(t, Spawn, ev.Type())
	assert.Equal(t, r, ev.Reading())
	assert.Equal(t, PeerID(4), ev.Originator())
	assert.True(t, ev.BoolArg("retry"))
	assert.Equal(t, "p1", ev.StringArg("name"))
	f, ok := ev.FloatArg("speed")
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)
	_, ok = ev.Arg("missing")
	assert.False(t, ok)
}

func TestEvent_ArgsAreCopied(t *testing.T) {
	args := KV("k", 1)
	ev := New(Admin, clock.Reading{}, ServerID, args)

	args[0].Value = 2
	got := ev.Args()
	got[0].Value = 3

	v, _ := ev.Arg("k")
	assert.Equal(t, 1, v)
}

func TestEvent_MarkHandledOriginatorOnly(t *testing.T) {
	ev := New(Collision, clock.Reading{}, 2, nil)

	assert.ErrorIs(t, ev.MarkHandled(3), ErrNotOriginator)
	assert.False(t, ev.Handled())

	require.NoError(t, ev.MarkHandled(2))
	assert.True(t, ev.Handled())
}

func TestEvent_GobRoundTrip(t *testing.T) {
	ev := New(GamePause, clock.Reading{Wall: 1, Simulation: 2, Loop: 3}, 5, KV("paused", true, "n", 7))
	require.NoError(t, ev.MarkHandled(5))

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(ev))

	var got Event
	require.NoError(t, gob.NewDecoder(&buf).Decode(&got))

	assert.Equal(t, ev.Type(), got.Type())
	assert.Equal(t, ev.Reading(), got.Reading())
	assert.Equal(t, ev.Originator(), got.Originator())
	assert.Equal(t, ev.Args(), got.Args())
	assert.True(t, got.Handled())
}

func TestBefore_SeverityThenWallThenHandled(t *testing.T) {
	at := func(typ Type, wall int64) *Event {
		return New(typ, clock.Reading{Wall: wall}, 1, nil)
	}

	assert.True(t, Before(at(Collision, 9), at(Admin, 1)), "severity beats time")
	assert.True(t, Before(at(GameObjectChange, 1), at(Spawn, 2)), "equal severity: earlier first")

	handled := at(Spawn, 5)
	require.NoError(t, handled.MarkHandled(1))
	fresh := at(Spawn, 5)
	assert.True(t, Before(fresh, handled))
	assert.False(t, Before(handled, fresh))
}

func TestType_SeverityTable(t *testing.T) {
	cases := map[Type]int{
		Wildcard:         0,
		Admin:            1,
		UserInput:        2,
		ScoreChange:      4,
		Spawn:            4,
		Replay:           4,
		GameObjectChange: 4,
		GamePause:        4,
		Collision:        5,
	}
	for typ, want := range cases {
		assert.Equal(t, want, typ.Severity(), typ.String())
	}
}

func TestType_ParseRoundTrip(t *testing.T) {
	for typ := Wildcard; typ < typeCount; typ++ {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseType("TELEPORT")
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.False(t, Type(99).Valid())
}

func TestQueuedBefore_UsesSnapshot(t *testing.T) {
	a := New(Spawn, clock.Reading{Wall: 5}, 1, nil)
	b := New(Spawn, clock.Reading{Wall: 5}, 1, nil)
	require.NoError(t, b.MarkHandled(1))

	qa, qb := Enqueue(a), Enqueue(b)
	assert.True(t, QueuedBefore(qa, qb))

	// Marking a after it was queued leaves the queued order alone.
	require.NoError(t, a.MarkHandled(1))
	assert.True(t, QueuedBefore(qa, qb))
	assert.False(t, Before(a, b))
}
