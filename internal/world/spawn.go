package world

import (
	"errors"
	"math/rand/v2"
	"sync"
)

// ErrNoSpawnPoint is returned when no free spawn point was found.
var ErrNoSpawnPoint = errors.New("no free spawn point")

// DefaultSpawnRetries bounds how many spawn points Place samples.
const DefaultSpawnRetries = 10

// Spawner places characters on unoccupied spawn points.
type Spawner struct {
	mu      sync.Mutex // guards rng
	dir     *Directory
	rng     *rand.Rand
	retries int
	radius  float64
}

// NewSpawner creates a spawner sampling up to retries spawn points.
// A spawn point is occupied when a live character lies within radius.
func NewSpawner(dir *Directory, rng *rand.Rand, retries int, radius float64) *Spawner {
	if retries <= 0 {
		retries = DefaultSpawnRetries
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 2))
	}
	return &Spawner{dir: dir, rng: rng, retries: retries, radius: radius}
}

// Place moves obj onto a free spawn point. On ErrNoSpawnPoint obj is left
// where it was.
func (s *Spawner) Place(obj *Object) error {
	points := s.dir.OfKind(KindSpawnPoint)
	if len(points) == 0 {
		return ErrNoSpawnPoint
	}
	characters := s.dir.OfKind(KindCharacter)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < s.retries; i++ {
		sp := points[s.rng.IntN(len(points))]
		if !s.occupied(sp.Pos, obj.GUID, characters) {
			obj.Pos = sp.Pos
			obj.Vel = Vec{}
			return nil
		}
	}
	return ErrNoSpawnPoint
}

func (s *Spawner) occupied(at Vec, self GUID, characters []Object) bool {
	r2 := s.radius * s.radius
	for _, c := range characters {
		if c.GUID == self || c.Removed {
			continue
		}
		dx, dy := c.Pos.X-at.X, c.Pos.Y-at.Y
		if dx*dx+dy*dy <= r2 {
			return true
		}
	}
	return false
}
