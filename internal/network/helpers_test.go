package network

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/clock"
	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/testutil"
	"github.com/roach88/tandem/internal/world"
)

const waitFor = 3 * time.Second
const tick = 5 * time.Millisecond

// node is the per-process state a peer needs.
type node struct {
	clock *clock.Clock
	bus   *event.Bus
	world *world.Directory
}

func newNode(t *testing.T, id event.PeerID) node {
	t.Helper()
	c := clock.New(testutil.NewManualSource())
	require.NoError(t, c.Start())
	return node{clock: c, bus: event.NewBus(c, id), world: world.NewDirectory()}
}

// startServer runs a server on a loopback listener until the test ends.
func startServer(t *testing.T, mode Mode) (*Server, node, string) {
	t.Helper()
	n := newNode(t, event.ServerID)
	world.Populate(n.world, world.Layout{StaticPlatforms: 2, MovingPlatforms: 1, SpawnPoints: 8})
	sp := world.NewSpawner(n.world, rand.New(rand.NewPCG(7, 7)), 0, 5)
	s := NewServer(n.bus, n.clock, n.world, sp, mode)

	ln := testutil.Listen(t)
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), ln) }()
	t.Cleanup(func() {
		s.Close()
		<-done
	})
	return s, n, ln.Addr().String()
}

// join dials addr with a fresh client node.
func join(t *testing.T, addr string, opts ...ClientOption) (*Client, node) {
	t.Helper()
	n := newNode(t, event.NoPeer)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := Dial(ctx, addr, n.bus, n.world, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, n
}

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recorder) HandleEvent(ev *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) all() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

// sink is a Sender that keeps what it is given.
type sink struct {
	mu     sync.Mutex
	msgs   []Message
	closed bool
}

func (s *sink) Send(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.msgs = append(s.msgs, m)
	return true
}

func (s *sink) events() []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*event.Event
	for _, m := range s.msgs {
		if m.Kind == KindEvent {
			out = append(out, m.Event)
		}
	}
	return out
}
