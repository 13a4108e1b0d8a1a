package world

// Layout is the object population a server builds at start.
type Layout struct {
	StaticPlatforms int
	MovingPlatforms int
	SpawnPoints     int
}

// Level geometry constants.
const (
	LevelWidth     = 800.0
	LevelHeight    = 600.0
	platformWidth  = 80.0
	platformHeight = 12.0
	characterSize  = 24.0
	platformSpeed  = 60.0 // units per second
)

// Populate fills dir with boundaries, death zone, scoreboard and the
// platforms and spawn points of l. Placement is deterministic.
func Populate(dir *Directory, l Layout) {
	add := func(o Object) {
		o.GUID = dir.NextGUID()
		o.Owner = NoOwner
		_ = dir.Insert(o)
	}

	add(Object{Kind: KindBoundary, Pos: Vec{-10, 0}, Size: Vec{10, LevelHeight}})
	add(Object{Kind: KindBoundary, Pos: Vec{LevelWidth, 0}, Size: Vec{10, LevelHeight}})
	add(Object{Kind: KindDeathZone, Pos: Vec{0, LevelHeight}, Size: Vec{LevelWidth, 10}})
	add(Object{Kind: KindScoreboard})

	for i := 0; i < l.StaticPlatforms; i++ {
		x := float64(i%8) * (LevelWidth / 8)
		y := LevelHeight - 40 - float64(i/8)*90
		add(Object{Kind: KindStaticPlatform, Pos: Vec{x, y}, Size: Vec{platformWidth, platformHeight}})
	}
	for i := 0; i < l.MovingPlatforms; i++ {
		y := LevelHeight - 130 - float64(i)*90
		add(Object{
			Kind:    KindMovingPlatform,
			Pos:     Vec{100, y},
			Vel:     Vec{X: platformSpeed},
			Size:    Vec{platformWidth, platformHeight},
			PathMin: 100,
			PathMax: LevelWidth - 100 - platformWidth,
		})
	}
	for i := 0; i < l.SpawnPoints; i++ {
		step := LevelWidth / float64(l.SpawnPoints+1)
		add(Object{Kind: KindSpawnPoint, Pos: Vec{step * float64(i+1), 50}})
	}
}

// NewCharacter returns an avatar owned by peer, not yet placed.
func NewCharacter(dir *Directory, peer int) Object {
	return Object{
		GUID:  dir.NextGUID(),
		Kind:  KindCharacter,
		Owner: peer,
		Size:  Vec{characterSize, characterSize},
	}
}

// Advance moves every moving platform by its velocity over dt seconds,
// reversing at its path bounds. It returns the moved objects.
func (d *Directory) Advance(dt float64) []Object {
	var moved []Object
	d.mu.Lock()
	defer d.mu.Unlock()

	for guid := range d.byKind[KindMovingPlatform] {
		o := d.objects[guid]
		if o.Removed || o.Vel == (Vec{}) {
			continue
		}
		o.Pos = o.Pos.Add(o.Vel.Scale(dt))
		if o.Pos.X < o.PathMin {
			o.Pos.X = o.PathMin
			o.Vel.X = -o.Vel.X
		} else if o.Pos.X > o.PathMax {
			o.Pos.X = o.PathMax
			o.Vel.X = -o.Vel.X
		}
		moved = append(moved, *o)
	}
	sortByGUID(moved)
	return moved
}
