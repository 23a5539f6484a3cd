package ecs

import (
	"reflect"
)

// sharedStore de-duplicates shared component values. Index 0 is the default
// (zero) value of every shared type and is never reference counted.
type sharedStore struct {
	entries []sharedEntry
	lookup  map[sharedKey]int
	free    []int
	zeroes  map[TypeIndex]any
}

type sharedKey struct {
	typ   TypeIndex
	value any
}

type sharedEntry struct {
	typ          TypeIndex
	value        any
	refCount     int
	orderVersion uint32
}

func newSharedStore() *sharedStore {
	return &sharedStore{
		entries: []sharedEntry{{}},
		lookup:  make(map[sharedKey]int),
		zeroes:  make(map[TypeIndex]any),
	}
}

func (s *sharedStore) zero(info *TypeInfo) any {
	z, ok := s.zeroes[info.Index]
	if !ok {
		z = reflect.Zero(info.Type).Interface()
		s.zeroes[info.Index] = z
	}
	return z
}

// find returns the index of value without interning it.
func (s *sharedStore) find(info *TypeInfo, value any) (int, bool) {
	if value == s.zero(info) {
		return 0, true
	}
	idx, ok := s.lookup[sharedKey{info.Index, value}]
	return idx, ok
}

// intern returns the index of value, creating a slot with a zero reference
// count on first use. The caller adds references.
func (s *sharedStore) intern(info *TypeInfo, value any) int {
	if idx, ok := s.find(info, value); ok {
		return idx
	}
	entry := sharedEntry{typ: info.Index, value: value, orderVersion: 1}
	var idx int
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[idx] = entry
	} else {
		idx = len(s.entries)
		s.entries = append(s.entries, entry)
	}
	s.lookup[sharedKey{info.Index, value}] = idx
	return idx
}

func (s *sharedStore) value(info *TypeInfo, idx int) any {
	if idx == 0 {
		return s.zero(info)
	}
	return s.entries[idx].value
}

func (s *sharedStore) addRef(idx int) {
	if idx != 0 {
		s.entries[idx].refCount++
	}
}

// release drops one reference. The slot is reclaimed when none remain.
func (s *sharedStore) release(idx int) {
	if idx == 0 {
		return
	}
	e := &s.entries[idx]
	e.refCount--
	if e.refCount > 0 {
		return
	}
	delete(s.lookup, sharedKey{e.typ, e.value})
	*e = sharedEntry{}
	s.free = append(s.free, idx)
}

// dropIfUnused reclaims a slot that was interned but never referenced.
func (s *sharedStore) dropIfUnused(idx int) {
	if idx != 0 && s.entries[idx].refCount == 0 && s.entries[idx].value != nil {
		s.entries[idx].refCount = 1
		s.release(idx)
	}
}

func (s *sharedStore) bumpOrder(idx int) {
	if idx != 0 {
		s.entries[idx].orderVersion++
	}
}

func (s *sharedStore) orderVersion(idx int) uint32 {
	if idx <= 0 || idx >= len(s.entries) {
		return 0
	}
	return s.entries[idx].orderVersion
}

func (s *sharedStore) refCount(idx int) int {
	if idx <= 0 || idx >= len(s.entries) {
		return 0
	}
	return s.entries[idx].refCount
}

// indices returns the live slots of type t, the default slot first.
func (s *sharedStore) indices(t TypeIndex) []int {
	out := []int{0}
	for i := 1; i < len(s.entries); i++ {
		if s.entries[i].value != nil && s.entries[i].typ == t {
			out = append(out, i)
		}
	}
	return out
}

// GetAllUniqueSharedComponents returns every distinct value of shared type T
// currently referenced by the storage, the default value first, together with
// the matching shared value indices.
func GetAllUniqueSharedComponents[T comparable](s *Storage) ([]T, []int, error) {
	if err := s.checkMainThread(); err != nil {
		return nil, nil, err
	}
	info, err := infoOf[T](s.registry)
	if err != nil {
		return nil, nil, err
	}
	if info.Category != CategoryShared {
		return nil, nil, argumentError("%s is not a shared component", info.Name)
	}
	indices := s.shared.indices(info.Index)
	values := make([]T, len(indices))
	for i, idx := range indices {
		values[i] = s.shared.value(info, idx).(T)
	}
	return values, indices, nil
}

// SharedComponentOrderVersion returns the order version of the slot holding
// value. It is 0 when no entity references the value.
func SharedComponentOrderVersion[T comparable](s *Storage, value T) uint32 {
	info, err := infoOf[T](s.registry)
	if err != nil || info.Category != CategoryShared {
		return 0
	}
	idx, ok := s.shared.find(info, value)
	if !ok {
		return 0
	}
	return s.shared.orderVersion(idx)
}
