package event

import (
	"errors"
	"fmt"
)

// ErrUnknownType is returned for event types outside the closed set.
var ErrUnknownType = errors.New("unknown event type")

// Type is the closed set of event types.
type Type int

const (
	// Wildcard subscribes to every type. It is never raised.
	Wildcard Type = iota
	Admin
	UserInput
	Collision
	ScoreChange
	Spawn
	Death
	Replay
	GameObjectChange
	GamePause
	GameEnd

	typeCount
)

var typeNames = [typeCount]string{
	Wildcard:         "WILDCARD",
	Admin:            "ADMIN",
	UserInput:        "USER_INPUT",
	Collision:        "COLLISION",
	ScoreChange:      "SCORE_CHANGE",
	Spawn:            "SPAWN",
	Death:            "DEATH",
	Replay:           "REPLAY",
	GameObjectChange: "GAME_OBJECT_CHANGE",
	GamePause:        "GAME_PAUSE",
	GameEnd:          "GAME_END",
}

// Valid reports whether t is in the closed set.
func (t Type) Valid() bool {
	return t >= Wildcard && t < typeCount
}

// String returns the log name of the type.
func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("TYPE(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType is the inverse of String.
func ParseType(s string) (Type, error) {
	for i, n := range typeNames {
		if n == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Severity returns the dispatch rank of t. Higher ranks dispatch first.
func (t Type) Severity() int {
	switch t {
	case Wildcard:
		return 0
	case Admin:
		return 1
	case UserInput:
		return 2
	case Death, GameEnd:
		return 3
	case ScoreChange, Spawn, Replay, GameObjectChange, GamePause:
		return 4
	case Collision:
		return 5
	default:
		return -1
	}
}

// PeerID identifies the server or a connected client.
type PeerID int

const (
	// ServerID is the server's identity. Clients are numbered from 1.
	ServerID PeerID = 0
	// NoPeer marks an identity not yet assigned.
	NoPeer PeerID = -1
)

// String returns "server" or the decimal id.
func (p PeerID) String() string {
	switch p {
	case ServerID:
		return "server"
	case NoPeer:
		return "none"
	default:
		return fmt.Sprintf("%d", int(p))
	}
}
