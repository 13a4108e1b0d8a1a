package network

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/roach88/tandem/internal/clock"
	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/world"
)

// Mode selects how object state reaches clients.
type Mode string

const (
	// ModeDistributed relays each client's object updates to the other
	// peers as they arrive.
	ModeDistributed Mode = "distributed"
	// ModeCentralized has the server loop broadcast every dynamic object
	// each tick.
	ModeCentralized Mode = "centralized"
)

// ServerStats counts connection activity.
type ServerStats struct {
	Joined            uint64
	Departed          uint64
	RemovalBroadcasts uint64
	Rejected          uint64
}

// Server is the connection manager for the server role.
type Server struct {
	bus     *event.Bus
	clock   *clock.Clock
	world   *world.Directory
	spawner *world.Spawner
	mode    Mode

	quit   atomic.Bool
	ln     net.Listener
	lnMu   sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// joinMu is the join critical section. Broadcast takes it too, so a
	// joining peer is fully seeded before any broadcast reaches it.
	joinMu sync.Mutex

	peersMu sync.RWMutex
	peers   map[event.PeerID]*Peer
	nextID  atomic.Int64

	regMu         sync.Mutex
	registrations map[event.PeerID][]event.Type

	pauseMu sync.Mutex
	pausers map[event.PeerID]struct{}

	spawnMu       sync.Mutex
	pendingSpawns map[world.GUID]struct{}

	joined   atomic.Uint64
	departed atomic.Uint64
	removals atomic.Uint64
	rejected atomic.Uint64
}

// NewServer creates a server. The bus must carry ServerID.
func NewServer(bus *event.Bus, c *clock.Clock, dir *world.Directory, spawner *world.Spawner, mode Mode) *Server {
	if mode == "" {
		mode = ModeCentralized
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		bus:           bus,
		clock:         c,
		world:         dir,
		spawner:       spawner,
		mode:          mode,
		ctx:           ctx,
		cancel:        cancel,
		peers:         make(map[event.PeerID]*Peer),
		registrations: make(map[event.PeerID][]event.Type),
		pausers:       make(map[event.PeerID]struct{}),
		pendingSpawns: make(map[world.GUID]struct{}),
	}
	bus.OnPropagate(func(t event.Type) {
		s.forwardRegistration(t, event.ServerID)
	})
	_, _ = bus.Register(event.GamePause, event.ObserverFunc(s.handlePause), true)
	_, _ = bus.Register(event.Spawn, event.ObserverFunc(s.handleSpawn), false)
	return s
}

// Mode returns the propagation mode.
func (s *Server) Mode() Mode { return s.mode }

// Serve accepts peers on ln until ctx is cancelled or Close is called.
// Closing the listener ends the loop without error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.lnMu.Lock()
	s.ln = ln
	s.lnMu.Unlock()
	if s.quit.Load() {
		_ = ln.Close()
		return nil
	}

	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	slog.Info("server accepting", "addr", ln.Addr().String(), "mode", s.mode)
	for !s.quit.Load() {
		conn, err := ln.Accept()
		if err != nil {
			if s.quit.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		s.join(conn)
	}
	s.wg.Wait()
	slog.Info("server stopped")
	return nil
}

// Close sets the quit flag, closes the listener and every peer stream.
func (s *Server) Close() {
	if s.quit.Swap(true) {
		return
	}
	s.cancel()
	s.lnMu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.lnMu.Unlock()

	s.peersMu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peersMu.RUnlock()
	for _, p := range peers {
		p.close()
	}
}

// join runs the join protocol for a freshly accepted stream. Events are
// raised only after the join critical section is left.
func (s *Server) join(conn net.Conn) {
	avatar, placed, ok := s.admit(conn)
	if ok && !placed {
		slog.Warn("no free spawn point, will retry", "avatar", avatar)
		_, _ = s.bus.Raise(event.Spawn, event.KV("guid", int64(avatar), "retry", true)...)
	}
}

func (s *Server) admit(conn net.Conn) (world.GUID, bool, bool) {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	id := event.PeerID(s.nextID.Add(1))
	p := newPeer(id, conn)

	avatar := world.NewCharacter(s.world, int(id))
	placed := s.spawner.Place(&avatar) == nil
	if err := s.world.Insert(avatar); err != nil {
		slog.Error("avatar insert failed", "peer", id, "error", err)
		_ = conn.Close()
		return 0, false, false
	}
	p.avatar = avatar.GUID
	p.proxy = NewProxy(id, s.bus, RoleServer, p)

	// First outbound item is always the peer's own avatar.
	p.Send(ObjectMessage(avatar))

	s.peersMu.Lock()
	s.peers[id] = p
	s.peersMu.Unlock()

	s.wg.Add(2)
	go s.readPeer(p)
	go s.writePeer(p)
	p.activate()

	for _, o := range s.world.All() {
		if o.GUID != avatar.GUID {
			p.Send(ObjectMessage(o))
		}
	}
	for _, t := range s.standingFor(id) {
		p.Send(RegistrationMessage(t, event.ServerID))
	}
	s.sendLocked(ObjectMessage(avatar), id)

	s.joined.Add(1)
	slog.Info("peer joined", "peer", id, "avatar", avatar.GUID, "remote", conn.RemoteAddr().String())
	return avatar.GUID, placed, true
}

// standingFor collects the server's own standing interests and every
// other peer's registrations, without duplicates.
func (s *Server) standingFor(exclude event.PeerID) []event.Type {
	seen := make(map[event.Type]bool)
	var out []event.Type
	add := func(t event.Type) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range s.bus.Standing() {
		add(t)
	}
	s.regMu.Lock()
	defer s.regMu.Unlock()
	for id, ts := range s.registrations {
		if id == exclude {
			continue
		}
		for _, t := range ts {
			add(t)
		}
	}
	return out
}

func (s *Server) readPeer(p *Peer) {
	defer s.wg.Done()
	err := p.readLoop(&s.quit, func(m Message) {
		s.route(p, m)
	}, func(err error) {
		s.rejected.Add(1)
		slog.Warn("rejected message", "peer", p.id, "error", err)
	})
	s.depart(p, err)
}

func (s *Server) writePeer(p *Peer) {
	defer s.wg.Done()
	err := p.writeLoop(s.ctx, &s.quit)
	s.depart(p, err)
}

// route dispatches one inbound message from p.
func (s *Server) route(p *Peer, m Message) {
	switch m.Kind {
	case KindObject:
		o := *m.Object
		if o.Owner != int(p.id) {
			s.rejected.Add(1)
			slog.Warn("peer updated an object it does not own", "peer", p.id, "guid", o.GUID)
			return
		}
		s.world.Replace(o)
		if s.mode == ModeDistributed {
			s.Broadcast([]world.Object{o}, p.id)
		}

	case KindRegistration:
		t := m.Registration.Type
		if err := p.proxy.Attach(t); err != nil {
			slog.Warn("registration rejected", "peer", p.id, "type", t, "error", err)
			return
		}
		s.regMu.Lock()
		if !containsType(s.registrations[p.id], t) {
			s.registrations[p.id] = append(s.registrations[p.id], t)
		}
		s.regMu.Unlock()
		s.forwardRegistration(t, p.id)

	case KindEvent:
		ev := m.Event
		if ev.Originator() != p.id {
			s.rejected.Add(1)
			slog.Warn("peer relayed a foreign event", "peer", p.id, "originator", ev.Originator(), "type", ev.Type())
			return
		}
		s.bus.ReRaise(ev)
	}
}

// forwardRegistration asks every peer but from to send events of type t.
func (s *Server) forwardRegistration(t event.Type, from event.PeerID) {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	for id, p := range s.peers {
		if id != from {
			p.Send(RegistrationMessage(t, event.ServerID))
		}
	}
}

// Broadcast sends objects to every peer except the given one.
func (s *Server) Broadcast(objs []world.Object, except event.PeerID) {
	if len(objs) == 0 {
		return
	}
	s.joinMu.Lock()
	defer s.joinMu.Unlock()
	for _, o := range objs {
		s.sendLocked(ObjectMessage(o), except)
	}
}

// BroadcastDynamic sends every character and moving platform to every
// peer. The simulation loop calls it each tick in centralized mode.
func (s *Server) BroadcastDynamic() {
	var objs []world.Object
	for _, k := range world.Kinds() {
		if k.Dynamic() {
			objs = append(objs, s.world.OfKind(k)...)
		}
	}
	s.Broadcast(objs, event.NoPeer)
}

// sendLocked enqueues m to every peer except one. Caller holds joinMu.
func (s *Server) sendLocked(m Message, except event.PeerID) {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	for id, p := range s.peers {
		if id != except {
			p.Send(m)
		}
	}
}

// depart finalizes p. Safe to call from both of p's workers; only the
// first call has any effect.
func (s *Server) depart(p *Peer, cause error) {
	if !p.markDeparted() {
		return
	}
	if s.quit.Load() {
		cause = nil
	}
	slog.Info("peer departed", "peer", p.id, "cause", cause)

	p.proxy.Detach()
	s.peersMu.Lock()
	delete(s.peers, p.id)
	s.peersMu.Unlock()

	if removed, ok := s.world.Update(p.avatar, func(o *world.Object) { o.Removed = true }); ok {
		s.Broadcast([]world.Object{removed}, p.id)
		s.removals.Add(1)
		s.world.Remove(p.avatar)
	}
	p.close()

	s.regMu.Lock()
	delete(s.registrations, p.id)
	s.regMu.Unlock()

	s.pauseMu.Lock()
	_, wasPauser := s.pausers[p.id]
	delete(s.pausers, p.id)
	s.pauseMu.Unlock()
	if wasPauser {
		if _, err := s.clock.Release(PauseHolder(p.id)); err != nil {
			slog.Warn("release pause of departed peer", "peer", p.id, "error", err)
		}
	}

	s.departed.Add(1)
}

// PauseHolder names the clock hold a peer's GAME_PAUSE takes.
func PauseHolder(id event.PeerID) string { return "peer:" + id.String() }

// handlePause tracks which peers hold the simulation paused. The clock
// resumes only once every holder, including a running replay, lets go.
func (s *Server) handlePause(ev *event.Event) error {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()

	who := ev.Originator()
	if ev.BoolArg("paused") {
		if err := s.clock.Hold(PauseHolder(who)); err != nil {
			return err
		}
		s.pausers[who] = struct{}{}
		return nil
	}

	if _, ok := s.pausers[who]; !ok {
		return nil
	}
	delete(s.pausers, who)
	_, err := s.clock.Release(PauseHolder(who))
	return err
}

// handleSpawn queues avatars that could not be placed for another attempt.
func (s *Server) handleSpawn(ev *event.Event) error {
	if !ev.BoolArg("retry") {
		return nil
	}
	v, _ := ev.Arg("guid")
	guid, ok := v.(int64)
	if !ok {
		return nil
	}
	s.spawnMu.Lock()
	s.pendingSpawns[world.GUID(guid)] = struct{}{}
	s.spawnMu.Unlock()
	return nil
}

// RetrySpawns re-attempts placement of avatars that found no free spawn
// point. Called once per tick by the simulation loop.
func (s *Server) RetrySpawns() {
	s.spawnMu.Lock()
	pending := make([]world.GUID, 0, len(s.pendingSpawns))
	for g := range s.pendingSpawns {
		pending = append(pending, g)
	}
	s.spawnMu.Unlock()

	for _, guid := range pending {
		o, ok := s.world.Get(guid)
		if !ok || o.Removed {
			s.dropPendingSpawn(guid)
			continue
		}
		if err := s.spawner.Place(&o); err != nil {
			continue
		}
		s.dropPendingSpawn(guid)
		s.world.Replace(o)
		s.Broadcast([]world.Object{o}, event.NoPeer)
		_, _ = s.bus.Raise(event.Spawn, event.KV("guid", int64(guid), "retry", false)...)
	}
}

func (s *Server) dropPendingSpawn(g world.GUID) {
	s.spawnMu.Lock()
	delete(s.pendingSpawns, g)
	s.spawnMu.Unlock()
}

// Peers returns the ids of connected peers.
func (s *Server) Peers() []event.PeerID {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	out := make([]event.PeerID, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return out
}

// Stats returns connection counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Joined:            s.joined.Load(),
		Departed:          s.departed.Load(),
		RemovalBroadcasts: s.removals.Load(),
		Rejected:          s.rejected.Load(),
	}
}

func containsType(ts []event.Type, t event.Type) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}
