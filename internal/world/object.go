// Package world holds the GUID-keyed game-object directory shared by the
// simulation loop and every peer's reader.
//
// Objects are plain values. Capabilities (position, velocity, collision)
// are exposed through small interfaces and a closed Kind enum rather than a
// type hierarchy.
package world

import (
	"fmt"
	"strconv"
)

// GUID identifies a game object across all peers.
type GUID int64

// String returns the decimal GUID.
func (g GUID) String() string { return strconv.FormatInt(int64(g), 10) }

// NoOwner marks objects owned by no peer (level geometry).
const NoOwner = -1

// Kind is the closed set of object kinds.
type Kind int

const (
	KindCharacter Kind = iota + 1
	KindStaticPlatform
	KindMovingPlatform
	KindSpawnPoint
	KindDeathZone
	KindBoundary
	KindScoreboard
)

var kindNames = map[Kind]string{
	KindCharacter:      "CHARACTER",
	KindStaticPlatform: "STATIC_PLATFORM",
	KindMovingPlatform: "MOVING_PLATFORM",
	KindSpawnPoint:     "SPAWN_POINT",
	KindDeathZone:      "DEATH_ZONE",
	KindBoundary:       "BOUNDARY",
	KindScoreboard:     "SCOREBOARD",
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindCharacter, KindStaticPlatform, KindMovingPlatform,
		KindSpawnPoint, KindDeathZone, KindBoundary, KindScoreboard,
	}
}

// String returns the log name of the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// ParseKind is the inverse of String.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown object kind %q", s)
}

// HasPosition reports whether objects of this kind occupy a location.
func (k Kind) HasPosition() bool {
	return k != KindScoreboard
}

// Dynamic reports whether objects of this kind move during play.
func (k Kind) Dynamic() bool {
	return k == KindCharacter || k == KindMovingPlatform
}

// CollisionImportance ranks which side of a collision decides the outcome.
// Higher wins; zero means the kind never collides.
func (k Kind) CollisionImportance() int {
	switch k {
	case KindDeathZone:
		return 5
	case KindBoundary:
		return 4
	case KindMovingPlatform:
		return 3
	case KindStaticPlatform:
		return 2
	case KindCharacter:
		return 1
	default:
		return 0
	}
}

// Vec is a 2D vector.
type Vec struct {
	X, Y float64
}

// Add returns v+o.
func (v Vec) Add(o Vec) Vec { return Vec{v.X + o.X, v.Y + o.Y} }

// Scale returns v*f.
func (v Vec) Scale(f float64) Vec { return Vec{v.X * f, v.Y * f} }

// Rect is an axis-aligned box.
type Rect struct {
	Min, Max Vec
}

// Overlaps reports whether r and o intersect.
func (r Rect) Overlaps(o Rect) bool {
	return r.Min.X < o.Max.X && o.Min.X < r.Max.X &&
		r.Min.Y < o.Max.Y && o.Min.Y < r.Max.Y
}

// Object is one entry of the directory. Teleport, HasTeleport and Hidden
// belong to the local peer and survive Replace.
type Object struct {
	GUID    GUID
	Kind    Kind
	Owner   int
	Pos     Vec
	Vel     Vec
	Size    Vec
	PathMin float64 // horizontal travel bounds for moving platforms
	PathMax float64
	Removed bool

	Teleport    Vec
	HasTeleport bool
	Hidden      bool
}

// HasPosition is implemented by anything with a location.
type HasPosition interface {
	Position() Vec
}

// HasVelocity is implemented by anything that moves.
type HasVelocity interface {
	Velocity() Vec
}

// Collidable is implemented by anything that takes part in collisions.
type Collidable interface {
	HasPosition
	Bounds() Rect
	CollisionImportance() int
}

func (o Object) Position() Vec            { return o.Pos }
func (o Object) Velocity() Vec            { return o.Vel }
func (o Object) CollisionImportance() int { return o.Kind.CollisionImportance() }

// Bounds returns the box anchored at Pos.
func (o Object) Bounds() Rect {
	return Rect{Min: o.Pos, Max: o.Pos.Add(o.Size)}
}

var (
	_ HasVelocity = Object{}
	_ Collidable  = Object{}
)
