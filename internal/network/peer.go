package network

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/queue"
	"github.com/roach88/tandem/internal/world"
)

// PeerState is the lifecycle of a connection.
type PeerState int32

const (
	Connecting PeerState = iota
	Active
	Departed
)

// String returns the state name.
func (s PeerState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Departed:
		return "departed"
	default:
		return "unknown"
	}
}

// Peer is one end of a stream: the decoder, the buffered encoder, and the
// unbounded outbound queue drained by a single writer.
type Peer struct {
	id     event.PeerID
	conn   net.Conn
	w      *bufio.Writer
	enc    *gob.Encoder
	dec    *gob.Decoder
	out    *queue.FIFO[Message]
	proxy  *Proxy
	avatar world.GUID
	state  atomic.Int32
}

func newPeer(id event.PeerID, conn net.Conn) *Peer {
	w := bufio.NewWriter(conn)
	return &Peer{
		id:   id,
		conn: conn,
		w:    w,
		enc:  gob.NewEncoder(w),
		dec:  gob.NewDecoder(bufio.NewReader(conn)),
		out:  queue.NewFIFO[Message](),
	}
}

// ID returns the remote peer id.
func (p *Peer) ID() event.PeerID { return p.id }

// State returns the lifecycle state.
func (p *Peer) State() PeerState { return PeerState(p.state.Load()) }

// Avatar returns the GUID of the peer's character.
func (p *Peer) Avatar() world.GUID { return p.avatar }

// Send queues msg for the writer. Returns false once the peer is closed.
func (p *Peer) Send(msg Message) bool {
	return p.out.Enqueue(msg)
}

// markDeparted moves the peer to Departed. Exactly one caller gets true.
func (p *Peer) markDeparted() bool {
	for {
		cur := p.state.Load()
		if PeerState(cur) == Departed {
			return false
		}
		if p.state.CompareAndSwap(cur, int32(Departed)) {
			return true
		}
	}
}

func (p *Peer) activate() {
	p.state.CompareAndSwap(int32(Connecting), int32(Active))
}

// receive blocks for the next message.
func (p *Peer) receive() (Message, error) {
	var m Message
	if err := p.dec.Decode(&m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// transmit writes one message and flushes it, leaving nothing buffered
// between messages.
func (p *Peer) transmit(m Message) error {
	if err := p.enc.Encode(&m); err != nil {
		return fmt.Errorf("encode %s: %w", m.Kind, err)
	}
	if err := p.w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", m.Kind, err)
	}
	return nil
}

// readLoop decodes messages until failure or quit. Malformed messages are
// passed to handle only after validation; invalid ones are reported via
// reject and skipped.
func (p *Peer) readLoop(quit *atomic.Bool, handle func(Message), reject func(error)) error {
	for !quit.Load() {
		m, err := p.receive()
		if err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			reject(err)
			continue
		}
		handle(m)
	}
	return nil
}

// writeLoop drains the outbound queue until it is closed, ctx ends, quit
// is set, or a write fails.
func (p *Peer) writeLoop(ctx context.Context, quit *atomic.Bool) error {
	for !quit.Load() {
		m, ok := p.out.Dequeue(ctx)
		if !ok {
			return nil
		}
		if err := p.transmit(m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Peer) close() {
	p.out.Close()
	_ = p.conn.Close()
}
