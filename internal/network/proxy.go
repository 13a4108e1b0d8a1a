package network

import (
	"log/slog"
	"sync"

	"github.com/roach88/tandem/internal/event"
)

// Role is the local process's place in the star.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Sender accepts outbound messages for one peer without blocking.
type Sender interface {
	Send(Message) bool
}

// Proxy stands in for one remote peer on the local bus.
type Proxy struct {
	peer event.PeerID
	bus  *event.Bus
	role Role
	out  Sender

	mu       sync.Mutex
	attached map[event.Type]event.Handle
}

// NewProxy creates a proxy for peer. It is not registered until Attach.
func NewProxy(peer event.PeerID, bus *event.Bus, role Role, out Sender) *Proxy {
	return &Proxy{
		peer:     peer,
		bus:      bus,
		role:     role,
		out:      out,
		attached: make(map[event.Type]event.Handle),
	}
}

// Peer returns the remote peer id.
func (p *Proxy) Peer() event.PeerID { return p.peer }

// Forwards applies the anti-echo rule to ev.
func (p *Proxy) Forwards(ev *event.Event) bool {
	local := p.bus.Identity()
	switch {
	case ev.Originator() == p.peer:
		return false
	case p.peer == local:
		return false
	case p.role == RoleClient && p.peer == event.ServerID && ev.Originator() != local:
		return false
	}
	return true
}

// HandleEvent enqueues ev for the peer unless the anti-echo rule forbids it.
func (p *Proxy) HandleEvent(ev *event.Event) error {
	if !p.Forwards(ev) {
		return nil
	}
	if !p.out.Send(EventMessage(ev)) {
		slog.Debug("proxy dropped event for closed peer", "peer", p.peer, "type", ev.Type())
	}
	return nil
}

// Attach registers the proxy for t. Attaching twice is a no-op.
func (p *Proxy) Attach(t event.Type) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.attached[t]; ok {
		return nil
	}
	h, err := p.bus.RegisterProxy(t, p)
	if err != nil {
		return err
	}
	p.attached[t] = h
	return nil
}

// Attached returns the types the proxy is registered for.
func (p *Proxy) Attached() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, 0, len(p.attached))
	for t := range p.attached {
		out = append(out, t)
	}
	return out
}

// Detach removes every registration of the proxy.
func (p *Proxy) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for t, h := range p.attached {
		p.bus.Unregister(h)
		delete(p.attached, t)
	}
}
