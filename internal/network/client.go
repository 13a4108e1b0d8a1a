package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/world"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHold makes the client hold inbound object updates while hold
// returns true. Held updates are applied by FlushHeld.
func WithHold(hold func() bool) ClientOption {
	return func(c *Client) { c.hold = hold }
}

// Client is the connection manager for the client role.
type Client struct {
	bus    *event.Bus
	world  *world.Directory
	server *Peer
	id     event.PeerID
	avatar world.GUID

	quit    atomic.Bool
	closing atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	err     error

	hold   func() bool
	heldMu sync.Mutex
	held   map[world.GUID]world.Object
}

// Dial connects to a server at addr and completes the handshake.
func Dial(ctx context.Context, addr string, bus *event.Bus, dir *world.Directory, opts ...ClientOption) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return Connect(ctx, conn, bus, dir, opts...)
}

// Connect runs the client side of the join protocol over conn. The first
// message must be the client's avatar; its owner becomes the bus identity.
func Connect(ctx context.Context, conn net.Conn, bus *event.Bus, dir *world.Directory, opts ...ClientOption) (*Client, error) {
	p := newPeer(event.ServerID, conn)

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	first, err := p.receive()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if first.Validate() != nil || first.Kind != KindObject || first.Object.Kind != world.KindCharacter {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: first message is %s, not an avatar", ErrHandshake, first.Kind)
	}

	avatar := *first.Object
	id := event.PeerID(avatar.Owner)
	bus.SetIdentity(id)
	dir.Replace(avatar)

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		bus:    bus,
		world:  dir,
		server: p,
		id:     id,
		avatar: avatar.GUID,
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
		hold:   func() bool { return false },
		held:   make(map[world.GUID]world.Object),
	}
	for _, opt := range opts {
		opt(c)
	}

	p.avatar = avatar.GUID
	p.proxy = NewProxy(event.ServerID, bus, RoleClient, p)
	bus.OnPropagate(func(t event.Type) {
		p.Send(RegistrationMessage(t, id))
	})
	for _, t := range bus.Standing() {
		p.Send(RegistrationMessage(t, id))
	}
	p.activate()

	c.wg.Add(2)
	go c.readServer()
	go c.writeServer()

	slog.Info("joined server", "peer", id, "avatar", avatar.GUID, "remote", conn.RemoteAddr().String())
	return c, nil
}

// ID returns the id the server assigned.
func (c *Client) ID() event.PeerID { return c.id }

// Avatar returns the GUID of this client's character.
func (c *Client) Avatar() world.GUID { return c.avatar }

// SendObject sends an update of an object this client owns to the server.
func (c *Client) SendObject(o world.Object) error {
	if o.Owner != int(c.id) {
		return fmt.Errorf("send object %s: owner %d is not %s", o.GUID, o.Owner, c.id)
	}
	if !c.server.Send(ObjectMessage(o)) {
		return ErrClosed
	}
	return nil
}

func (c *Client) readServer() {
	defer c.wg.Done()
	err := c.server.readLoop(&c.quit, c.route, func(err error) {
		slog.Warn("rejected message from server", "error", err)
	})
	c.depart(err)
}

func (c *Client) writeServer() {
	defer c.wg.Done()
	err := c.server.writeLoop(c.ctx, &c.quit)
	c.depart(err)
}

func (c *Client) route(m Message) {
	switch m.Kind {
	case KindObject:
		o := *m.Object
		if c.hold() {
			c.heldMu.Lock()
			c.held[o.GUID] = o
			c.heldMu.Unlock()
			return
		}
		c.apply(o)
	case KindRegistration:
		if err := c.server.proxy.Attach(m.Registration.Type); err != nil {
			slog.Warn("registration rejected", "type", m.Registration.Type, "error", err)
		}
	case KindEvent:
		c.bus.ReRaise(m.Event)
	}
}

func (c *Client) apply(o world.Object) {
	c.world.Replace(o)
	if o.Removed {
		c.world.Remove(o.GUID)
	}
}

// FlushHeld applies held object updates once hold has released.
// It returns the number applied.
func (c *Client) FlushHeld() int {
	if c.hold() {
		return 0
	}
	c.heldMu.Lock()
	held := c.held
	c.held = make(map[world.GUID]world.Object)
	c.heldMu.Unlock()

	for _, o := range held {
		c.apply(o)
	}
	return len(held)
}

// Held returns the number of updates waiting for FlushHeld.
func (c *Client) Held() int {
	c.heldMu.Lock()
	defer c.heldMu.Unlock()
	return len(c.held)
}

func (c *Client) depart(cause error) {
	if !c.server.markDeparted() {
		return
	}
	c.quit.Store(true)
	c.cancel()
	c.server.proxy.Detach()
	c.server.close()

	if c.closing.Load() {
		slog.Info("left server", "peer", c.id)
	} else {
		c.err = fmt.Errorf("server connection lost: %w", cause)
		slog.Info("server departed", "peer", c.id, "cause", cause)
		_, _ = c.bus.Raise(event.GameEnd, event.KV("reason", "disconnected")...)
	}
	close(c.done)
}

// Done is closed once the connection to the server is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Wait blocks until the connection ends or ctx is done. It returns nil
// after Close and the cause otherwise.
func (c *Client) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		c.wg.Wait()
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close leaves the server and waits for the stream workers.
func (c *Client) Close() {
	c.closing.Store(true)
	c.depart(nil)
	c.wg.Wait()
}
