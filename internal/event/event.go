package event

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/roach88/tandem/internal/clock"
)

// ErrNotOriginator is returned when a peer other than the originator tries
// to mark an event handled.
var ErrNotOriginator = errors.New("only the originator may mark an event handled")

// Arg is one key/value pair of an event payload.
type Arg struct {
	Key   string
	Value any
}

// KV builds an argument list from alternating keys and values.
//
// Panics if a key is not a string or the list has odd length; both are
// programming errors at the call site.
func KV(kv ...any) []Arg {
	if len(kv)%2 != 0 {
		panic("event.KV: odd number of arguments")
	}
	args := make([]Arg, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("event.KV: key %v is %T, not string", kv[i], kv[i]))
		}
		args = append(args, Arg{Key: k, Value: kv[i+1]})
	}
	return args
}

// Event is an immutable typed record. Create with New; share by pointer.
type Event struct {
	typ        Type
	wall       int64
	sim        int64
	loop       int64
	originator PeerID
	args       []Arg
	handled    atomic.Bool
}

// New builds an event stamped with reading r. args is copied.
func New(t Type, r clock.Reading, originator PeerID, args []Arg) *Event {
	ev := &Event{
		typ:        t,
		wall:       r.Wall,
		sim:        r.Simulation,
		loop:       r.Loop,
		originator: originator,
	}
	if len(args) > 0 {
		ev.args = append([]Arg(nil), args...)
	}
	return ev
}

func (e *Event) Type() Type            { return e.typ }
func (e *Event) TimeWall() int64       { return e.wall }
func (e *Event) TimeSimulation() int64 { return e.sim }
func (e *Event) TimeLoop() int64       { return e.loop }
func (e *Event) Originator() PeerID    { return e.originator }

// Reading returns the three timestamps.
func (e *Event) Reading() clock.Reading {
	return clock.Reading{Wall: e.wall, Simulation: e.sim, Loop: e.loop}
}

// Args returns a copy of the payload in insertion order.
func (e *Event) Args() []Arg {
	return append([]Arg(nil), e.args...)
}

// Arg returns the value stored under key.
func (e *Event) Arg(key string) (any, bool) {
	for _, a := range e.args {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// StringArg returns the argument under key if it is a string.
func (e *Event) StringArg(key string) string {
	v, _ := e.Arg(key)
	s, _ := v.(string)
	return s
}

// BoolArg returns the argument under key if it is a bool.
func (e *Event) BoolArg(key string) bool {
	v, _ := e.Arg(key)
	b, _ := v.(bool)
	return b
}

// FloatArg returns the argument under key as float64 when it is numeric.
func (e *Event) FloatArg(key string) (float64, bool) {
	v, _ := e.Arg(key)
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Handled reports whether the originator marked the event handled.
func (e *Event) Handled() bool { return e.handled.Load() }

// MarkHandled sets the handled flag. Only the originator may do so.
func (e *Event) MarkHandled(by PeerID) error {
	if by != e.originator {
		return ErrNotOriginator
	}
	e.handled.Store(true)
	return nil
}

// Before is the dispatch order: higher severity, then earlier wall time,
// then unhandled before handled. It reads the live handled flag; queues
// order Queued values instead so the key cannot change while queued.
func Before(a, b *Event) bool {
	return precedes(a, b, a.Handled(), b.Handled())
}

func precedes(a, b *Event, ha, hb bool) bool {
	if sa, sb := a.typ.Severity(), b.typ.Severity(); sa != sb {
		return sa > sb
	}
	if a.wall != b.wall {
		return a.wall < b.wall
	}
	return !ha && hb
}

// Queued is an event with its handled flag as it stood when queued.
type Queued struct {
	Event   *Event
	Handled bool
}

// Enqueue snapshots ev for a priority queue.
func Enqueue(ev *Event) Queued { return Queued{Event: ev, Handled: ev.Handled()} }

// QueuedBefore orders queued events like Before, using the snapshot.
func QueuedBefore(a, b Queued) bool {
	return precedes(a.Event, b.Event, a.Handled, b.Handled)
}

// wireEvent is the gob form of Event.
type wireEvent struct {
	Type       Type
	Wall       int64
	Simulation int64
	Loop       int64
	Originator PeerID
	Args       []Arg
	Handled    bool
}

// GobEncode implements gob.GobEncoder.
func (e *Event) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(wireEvent{
		Type:       e.typ,
		Wall:       e.wall,
		Simulation: e.sim,
		Loop:       e.loop,
		Originator: e.originator,
		Args:       e.args,
		Handled:    e.Handled(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder. Only valid on a fresh Event.
func (e *Event) GobDecode(data []byte) error {
	var w wireEvent
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if !w.Type.Valid() {
		return fmt.Errorf("decode event: %w: %d", ErrUnknownType, int(w.Type))
	}
	e.typ = w.Type
	e.wall = w.Wall
	e.sim = w.Simulation
	e.loop = w.Loop
	e.originator = w.Originator
	e.args = w.Args
	e.handled.Store(w.Handled)
	return nil
}
