package network

import (
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/world"
)

var (
	// ErrMalformed is returned for a message whose payload does not match its kind.
	ErrMalformed = errors.New("malformed message")
	// ErrHandshake is returned when the first message from the server is not
	// the client's own avatar.
	ErrHandshake = errors.New("handshake failed")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("connection closed")
)

func init() {
	// Concrete types that may travel inside event arguments.
	gob.Register(world.Object{})
	gob.Register(world.Vec{})
	gob.Register(world.GUID(0))
	gob.Register(world.Kind(0))
	gob.Register(event.Type(0))
	gob.Register(event.PeerID(0))
}

// MessageKind tags the payload of a Message.
type MessageKind uint8

const (
	KindObject MessageKind = iota + 1
	KindRegistration
	KindEvent
)

// String returns the kind name.
func (k MessageKind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindRegistration:
		return "registration"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Registration asks the receiver to forward events of Type to the sender.
type Registration struct {
	Type      event.Type
	Requester event.PeerID
}

// Message is the unit written to a peer stream.
type Message struct {
	Kind         MessageKind
	Object       *world.Object
	Registration *Registration
	Event        *event.Event
}

// ObjectMessage wraps a game-object update.
func ObjectMessage(o world.Object) Message {
	return Message{Kind: KindObject, Object: &o}
}

// RegistrationMessage wraps a registration request.
func RegistrationMessage(t event.Type, requester event.PeerID) Message {
	return Message{Kind: KindRegistration, Registration: &Registration{Type: t, Requester: requester}}
}

// EventMessage wraps an event.
func EventMessage(ev *event.Event) Message {
	return Message{Kind: KindEvent, Event: ev}
}

// Validate checks that the payload matches the kind.
func (m Message) Validate() error {
	switch m.Kind {
	case KindObject:
		if m.Object == nil {
			return fmt.Errorf("%w: object message without object", ErrMalformed)
		}
	case KindRegistration:
		if m.Registration == nil || !m.Registration.Type.Valid() {
			return fmt.Errorf("%w: bad registration", ErrMalformed)
		}
	case KindEvent:
		if m.Event == nil {
			return fmt.Errorf("%w: event message without event", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformed, m.Kind)
	}
	return nil
}
