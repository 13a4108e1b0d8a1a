package world

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrDuplicateGUID is returned by Insert when the GUID is taken.
var ErrDuplicateGUID = errors.New("duplicate guid")

// Directory is the GUID-keyed object store with a secondary index per kind.
//
// Thread-safety: all methods are safe for concurrent use. Values are copied
// in and out; callers never hold a pointer into the directory.
type Directory struct {
	mu      sync.RWMutex
	objects map[GUID]*Object
	byKind  map[Kind]map[GUID]struct{}

	next atomic.Int64
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		objects: make(map[GUID]*Object),
		byKind:  make(map[Kind]map[GUID]struct{}),
	}
}

// NextGUID allocates a fresh GUID.
func (d *Directory) NextGUID() GUID {
	return GUID(d.next.Add(1))
}

// Insert adds obj. Fails if its GUID is already present.
func (d *Directory) Insert(obj Object) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.objects[obj.GUID]; ok {
		return ErrDuplicateGUID
	}
	d.putLocked(obj)
	return nil
}

// Replace overwrites the object with obj's GUID, inserting it if absent.
// Teleport, HasTeleport and Hidden are kept from the stored object.
func (d *Directory) Replace(obj Object) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.objects[obj.GUID]; ok {
		obj.Teleport = old.Teleport
		obj.HasTeleport = old.HasTeleport
		obj.Hidden = old.Hidden
		if old.Kind != obj.Kind {
			delete(d.byKind[old.Kind], obj.GUID)
		}
	}
	d.putLocked(obj)
}

// Update applies fn to the stored object in place. Returns false if the
// GUID is unknown. fn must not call back into the directory.
func (d *Directory) Update(guid GUID, fn func(*Object)) (Object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored, ok := d.objects[guid]
	if !ok {
		return Object{}, false
	}
	kind := stored.Kind
	fn(stored)
	stored.GUID = guid
	if stored.Kind != kind {
		delete(d.byKind[kind], guid)
		d.index(stored.Kind, guid)
	}
	return *stored, true
}

// Get returns a copy of the object.
func (d *Directory) Get(guid GUID) (Object, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	o, ok := d.objects[guid]
	if !ok {
		return Object{}, false
	}
	return *o, true
}

// Remove deletes the object. Returns false if it was absent.
func (d *Directory) Remove(guid GUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.objects[guid]
	if !ok {
		return false
	}
	delete(d.byKind[o.Kind], guid)
	delete(d.objects, guid)
	return true
}

// OfKind returns copies of every object of kind k ordered by GUID.
func (d *Directory) OfKind(k Kind) []Object {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Object, 0, len(d.byKind[k]))
	for guid := range d.byKind[k] {
		out = append(out, *d.objects[guid])
	}
	sortByGUID(out)
	return out
}

// All returns copies of every object ordered by GUID.
func (d *Directory) All() []Object {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Object, 0, len(d.objects))
	for _, o := range d.objects {
		out = append(out, *o)
	}
	sortByGUID(out)
	return out
}

// Len returns the number of objects.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}

// ForEach applies fn to every stored object under the write lock, in GUID
// order. fn must not call back into the directory.
func (d *Directory) ForEach(fn func(*Object)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	guids := make([]GUID, 0, len(d.objects))
	for g := range d.objects {
		guids = append(guids, g)
	}
	sort.Slice(guids, func(i, j int) bool { return guids[i] < guids[j] })
	for _, g := range guids {
		fn(d.objects[g])
		d.objects[g].GUID = g
	}
}

func (d *Directory) putLocked(obj Object) {
	stored := obj
	d.objects[obj.GUID] = &stored
	d.index(obj.Kind, obj.GUID)
	// Keep NextGUID ahead of GUIDs allocated by other peers.
	for {
		cur := d.next.Load()
		if int64(obj.GUID) <= cur || d.next.CompareAndSwap(cur, int64(obj.GUID)) {
			break
		}
	}
}

func (d *Directory) index(k Kind, guid GUID) {
	set, ok := d.byKind[k]
	if !ok {
		set = make(map[GUID]struct{})
		d.byKind[k] = set
	}
	set[guid] = struct{}{}
}

func sortByGUID(objs []Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].GUID < objs[j].GUID })
}
