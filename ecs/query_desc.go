package ecs

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// AccessMode tells the query engine how a component type is used.
type AccessMode uint8

const (
	ReadWrite AccessMode = iota
	ReadOnly
	Exclude
)

func (m AccessMode) String() string {
	switch m {
	case ReadWrite:
		return "read-write"
	case ReadOnly:
		return "read-only"
	case Exclude:
		return "exclude"
	}
	return "unknown"
}

// ComponentType is a type constraint of a query.
type ComponentType struct {
	TypeIndex  TypeIndex
	AccessMode AccessMode
}

// ReadWriteType constrains T for read-write access.
func ReadWriteType[T any](r *ComponentRegistry) ComponentType {
	return componentTypeOf[T](r, ReadWrite)
}

// ReadOnlyType constrains T for read-only access.
func ReadOnlyType[T any](r *ComponentRegistry) ComponentType {
	return componentTypeOf[T](r, ReadOnly)
}

// SubtractiveType constrains queries to archetypes without T.
func SubtractiveType[T any](r *ComponentRegistry) ComponentType {
	return componentTypeOf[T](r, Exclude)
}

func componentTypeOf[T any](r *ComponentRegistry, mode AccessMode) ComponentType {
	idx, ok := TypeIndexOf[T](r)
	if !ok {
		idx = -1
	}
	return ComponentType{TypeIndex: idx, AccessMode: mode}
}

// QueryOptions widen the default archetype filter.
type QueryOptions uint8

const (
	// IncludeDisabled matches entities tagged Disabled.
	IncludeDisabled QueryOptions = 1 << iota
	// IncludePrefab matches entities tagged Prefab.
	IncludePrefab
)

// EntityQueryDesc describes which archetypes a query matches: all of All,
// at least one of Any when Any is not empty, and none of None.
//
// Disabled and Prefab entities are excluded unless their tag is named in All
// or Any or the matching option is set. Destroyed entities kept alive by
// system-state components only match queries that name a system-state type
// in All or Any.
type EntityQueryDesc struct {
	All     []ComponentType
	Any     []ComponentType
	None    []ComponentType
	Options QueryOptions
}

func normalizeTypes(types []ComponentType) []ComponentType {
	out := slices.Clone(types)
	slices.SortFunc(out, func(a, b ComponentType) int {
		if a.TypeIndex != b.TypeIndex {
			return int(a.TypeIndex) - int(b.TypeIndex)
		}
		return int(a.AccessMode) - int(b.AccessMode)
	})
	// keep the first entry per type, which is the read-write one when both are given
	return slices.CompactFunc(out, func(a, b ComponentType) bool {
		return a.TypeIndex == b.TypeIndex
	})
}

func (d EntityQueryDesc) normalize() EntityQueryDesc {
	return EntityQueryDesc{
		All:     normalizeTypes(d.All),
		Any:     normalizeTypes(d.Any),
		None:    normalizeTypes(d.None),
		Options: d.Options,
	}
}

func (d EntityQueryDesc) validate(r *ComponentRegistry) error {
	for _, list := range [][]ComponentType{d.All, d.Any, d.None} {
		for _, c := range list {
			if r.Info(c.TypeIndex) == nil {
				return argumentError("query names unregistered type index %d", c.TypeIndex)
			}
		}
	}
	for _, c := range d.All {
		if containsType(d.None, c.TypeIndex) {
			return argumentError("type index %d is both required and excluded", c.TypeIndex)
		}
	}
	return nil
}

func (d EntityQueryDesc) key() uint64 {
	h := xxhash.New()
	var buf [5]byte
	for i, list := range [][]ComponentType{d.All, d.Any, d.None} {
		for _, c := range list {
			binary.LittleEndian.PutUint32(buf[:4], uint32(c.TypeIndex))
			buf[4] = byte(c.AccessMode)
			_, _ = h.Write(buf[:])
		}
		_, _ = h.Write([]byte{0xff, byte(i)})
	}
	_, _ = h.Write([]byte{byte(d.Options)})
	return h.Sum64()
}

func (d EntityQueryDesc) equal(o EntityQueryDesc) bool {
	return d.Options == o.Options &&
		slices.Equal(d.All, o.All) &&
		slices.Equal(d.Any, o.Any) &&
		slices.Equal(d.None, o.None)
}

func containsType(list []ComponentType, t TypeIndex) bool {
	for _, c := range list {
		if c.TypeIndex == t {
			return true
		}
	}
	return false
}

func (d EntityQueryDesc) names(t TypeIndex) bool {
	return containsType(d.All, t) || containsType(d.Any, t)
}

func (d EntityQueryDesc) namesSystemState(a *Archetype) bool {
	for _, list := range [][]ComponentType{d.All, d.Any} {
		for _, c := range list {
			if i := a.indexOf(c.TypeIndex); i >= 0 && a.infos[i].SystemState {
				return true
			}
		}
	}
	return false
}

func (d EntityQueryDesc) matches(a *Archetype) bool {
	for _, c := range d.All {
		if !a.Has(c.TypeIndex) {
			return false
		}
	}
	if len(d.Any) > 0 {
		found := false
		for _, c := range d.Any {
			if a.Has(c.TypeIndex) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, c := range d.None {
		if a.Has(c.TypeIndex) {
			return false
		}
	}
	if a.disabled && d.Options&IncludeDisabled == 0 && !d.names(DisabledTypeIndex) {
		return false
	}
	if a.prefab && d.Options&IncludePrefab == 0 && !d.names(PrefabTypeIndex) {
		return false
	}
	if a.cleanup && !d.namesSystemState(a) {
		return false
	}
	return true
}

// queryData is the cached, storage-wide state of one distinct query. Its
// archetype list grows as matching archetypes are created, which keeps it
// in creation order.
type queryData struct {
	desc       EntityQueryDesc
	key        uint64
	archetypes []*Archetype
	reads      []TypeIndex
	writes     []TypeIndex
}

func newQueryData(desc EntityQueryDesc, r *ComponentRegistry) *queryData {
	q := &queryData{desc: desc, key: desc.key()}
	for _, list := range [][]ComponentType{desc.All, desc.Any} {
		for _, c := range list {
			info := r.Info(c.TypeIndex)
			if info.IsZeroSized() || info.Category == CategoryShared || c.TypeIndex == EntityTypeIndex {
				continue
			}
			if c.AccessMode == ReadOnly {
				q.reads = append(q.reads, c.TypeIndex)
			} else {
				q.writes = append(q.writes, c.TypeIndex)
			}
		}
	}
	return q
}

func (q *queryData) addArchetype(a *Archetype) {
	if q.desc.matches(a) {
		q.archetypes = append(q.archetypes, a)
	}
}

func (q *queryData) accessOf(t TypeIndex) (AccessMode, bool) {
	for _, list := range [][]ComponentType{q.desc.All, q.desc.Any} {
		for _, c := range list {
			if c.TypeIndex == t {
				return c.AccessMode, true
			}
		}
	}
	return Exclude, false
}

// queryFor returns the cached query data for desc, building it on first use.
func (s *Storage) queryFor(desc EntityQueryDesc) (*queryData, error) {
	desc = desc.normalize()
	if err := desc.validate(s.registry); err != nil {
		return nil, err
	}
	key := desc.key()
	for _, q := range s.queries {
		if q.key == key && q.desc.equal(desc) {
			return q, nil
		}
	}
	q := newQueryData(desc, s.registry)
	for _, a := range s.archetypes {
		q.addArchetype(a)
	}
	s.queries = append(s.queries, q)
	return q, nil
}
