package event

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/roach88/tandem/internal/clock"
	"github.com/roach88/tandem/internal/queue"
)

// Observer receives events from the bus.
type Observer interface {
	HandleEvent(ev *Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev *Event) error

// HandleEvent implements Observer.
func (f ObserverFunc) HandleEvent(ev *Event) error { return f(ev) }

// Handle identifies one registration for Unregister.
type Handle uint64

type registration struct {
	handle Handle
	obs    Observer
}

// Stats counts bus activity.
type Stats struct {
	Raised         uint64
	ReRaised       uint64
	Delivered      uint64
	ObserverErrors uint64
	ObserverPanics uint64
}

// Bus is the per-process event registry and dispatcher.
//
// Thread-safety: all methods are safe for concurrent use. Observers run on
// whichever goroutine is dispatching; they must not block.
type Bus struct {
	clock    *clock.Clock
	identity atomic.Int64

	mu          sync.RWMutex
	local       map[Type][]registration
	proxies     map[Type][]registration
	standing    []Type
	onPropagate func(Type)
	nextHandle  Handle

	pending     *queue.Priority[Queued]
	dispatchMu  sync.Mutex
	dispatching bool
	holds       int

	raised    atomic.Uint64
	reRaised  atomic.Uint64
	delivered atomic.Uint64
	obsErrors atomic.Uint64
	obsPanics atomic.Uint64
}

// NewBus creates a bus stamping events from c on behalf of identity.
func NewBus(c *clock.Clock, identity PeerID) *Bus {
	b := &Bus{
		clock:   c,
		local:   make(map[Type][]registration),
		proxies: make(map[Type][]registration),
		pending: queue.NewPriority[Queued](QueuedBefore),
	}
	b.identity.Store(int64(identity))
	return b
}

// Identity returns the peer id stamped on raised events.
func (b *Bus) Identity() PeerID { return PeerID(b.identity.Load()) }

// SetIdentity changes the stamped peer id. Clients call this once the
// server has assigned their id.
func (b *Bus) SetIdentity(id PeerID) { b.identity.Store(int64(id)) }

// Clock returns the clock used for stamping.
func (b *Bus) Clock() *clock.Clock { return b.clock }

// Register adds a local observer for t. With propagate set, t becomes a
// standing interest and every peer is asked to forward events of type t.
func (b *Bus) Register(t Type, obs Observer, propagate bool) (Handle, error) {
	if !t.Valid() {
		slog.Warn("register rejected", "type", t, "error", ErrUnknownType)
		return 0, ErrUnknownType
	}

	b.mu.Lock()
	h := b.addLocked(b.local, t, obs)
	var notify func(Type)
	if propagate && !containsType(b.standing, t) {
		b.standing = append(b.standing, t)
		notify = b.onPropagate
	}
	b.mu.Unlock()

	if notify != nil {
		notify(t)
	}
	return h, nil
}

// RegisterProxy adds a network proxy for t. Proxies receive an event after
// every local observer has.
func (b *Bus) RegisterProxy(t Type, proxy Observer) (Handle, error) {
	if !t.Valid() {
		slog.Warn("proxy register rejected", "type", t, "error", ErrUnknownType)
		return 0, ErrUnknownType
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(b.proxies, t, proxy), nil
}

func (b *Bus) addLocked(m map[Type][]registration, t Type, obs Observer) Handle {
	b.nextHandle++
	m[t] = append(m[t], registration{handle: b.nextHandle, obs: obs})
	return b.nextHandle
}

// Unregister removes the registration identified by h.
func (b *Bus) Unregister(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range []map[Type][]registration{b.local, b.proxies} {
		for t, regs := range m {
			for i, r := range regs {
				if r.handle == h {
					m[t] = append(regs[:i:i], regs[i+1:]...)
					return
				}
			}
		}
	}
}

// OnPropagate sets the hook called when a new standing interest appears.
func (b *Bus) OnPropagate(fn func(Type)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPropagate = fn
}

// Standing returns the types registered locally with propagate set.
func (b *Bus) Standing() []Type {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Type(nil), b.standing...)
}

// Raise stamps a new event with the current clock reading and local
// identity and dispatches it.
func (b *Bus) Raise(t Type, args ...Arg) (*Event, error) {
	if !t.Valid() || t == Wildcard {
		slog.Warn("raise rejected", "type", t, "error", ErrUnknownType)
		return nil, fmt.Errorf("raise %s: %w", t, ErrUnknownType)
	}
	ev := New(t, b.clock.Now(), b.Identity(), args)
	b.raised.Add(1)
	b.submit(ev)
	return ev, nil
}

// ReRaise dispatches an event received from the wire without re-stamping
// it, so its originator and timestamps survive.
func (b *Bus) ReRaise(ev *Event) {
	if ev == nil || !ev.Type().Valid() || ev.Type() == Wildcard {
		slog.Warn("re-raise rejected", "error", ErrUnknownType)
		return
	}
	b.reRaised.Add(1)
	b.submit(ev)
}

// Batch defers dispatch of events raised on this bus until fn returns, then
// delivers them in priority order.
func (b *Bus) Batch(fn func()) {
	b.dispatchMu.Lock()
	b.holds++
	b.dispatchMu.Unlock()

	defer func() {
		b.dispatchMu.Lock()
		b.holds--
		b.dispatchMu.Unlock()
		b.drain()
	}()
	fn()
}

// Pending returns the number of events awaiting dispatch.
func (b *Bus) Pending() int { return b.pending.Len() }

// Stats returns activity counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Raised:         b.raised.Load(),
		ReRaised:       b.reRaised.Load(),
		Delivered:      b.delivered.Load(),
		ObserverErrors: b.obsErrors.Load(),
		ObserverPanics: b.obsPanics.Load(),
	}
}

func (b *Bus) submit(ev *Event) {
	b.pending.Push(Enqueue(ev))
	b.drain()
}

// drain delivers queued events until none remain or a batch is open. Only
// one goroutine drains at a time; the others leave their events to it.
// The batch check and the pop happen under one lock, so an open batch
// never loses an event to another goroutine's drain.
func (b *Bus) drain() {
	b.dispatchMu.Lock()
	if b.dispatching || b.holds > 0 {
		b.dispatchMu.Unlock()
		return
	}
	b.dispatching = true
	b.dispatchMu.Unlock()

	for {
		b.dispatchMu.Lock()
		if b.holds > 0 {
			b.dispatching = false
			b.dispatchMu.Unlock()
			return
		}
		q, ok := b.pending.TryPop()
		if !ok {
			b.dispatching = false
			b.dispatchMu.Unlock()
			return
		}
		b.dispatchMu.Unlock()
		b.deliver(q.Event)
	}
}

func (b *Bus) deliver(ev *Event) {
	b.mu.RLock()
	targets := make([]Observer, 0, 8)
	for _, m := range []map[Type][]registration{b.local, b.proxies} {
		for _, r := range m[ev.Type()] {
			targets = append(targets, r.obs)
		}
		for _, r := range m[Wildcard] {
			targets = append(targets, r.obs)
		}
	}
	b.mu.RUnlock()

	for _, obs := range targets {
		b.call(obs, ev)
	}
	// The originator has seen its own event through.
	if who := ev.Originator(); who == b.Identity() && !ev.Handled() {
		_ = ev.MarkHandled(who)
	}
}

func (b *Bus) call(obs Observer, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.obsPanics.Add(1)
			slog.Error("observer panicked",
				"type", ev.Type(),
				"originator", ev.Originator(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	if err := obs.HandleEvent(ev); err != nil {
		b.obsErrors.Add(1)
		slog.Error("observer failed",
			"type", ev.Type(),
			"originator", ev.Originator(),
			"error", err,
		)
		return
	}
	b.delivered.Add(1)
}

func containsType(ts []Type, t Type) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}
