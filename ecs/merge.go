package ecs

import (
	"unsafe"

	"github.com/kamstrup/intmap"
)

// entityRemap maps entity indices of a source storage to the entities that
// replaced them. Stale versions map to Null.
type entityRemap struct {
	m *intmap.Map[int32, remapEntry]
}

type remapEntry struct {
	version uint32
	to      Entity
}

func newEntityRemap(capacity int) entityRemap {
	return entityRemap{m: intmap.New[int32, remapEntry](max(capacity, 8))}
}

func (r entityRemap) add(from, to Entity) {
	r.m.Put(from.Index, remapEntry{version: from.Version, to: to})
}

func (r entityRemap) lookup(e Entity) Entity {
	if e == Null {
		return Null
	}
	entry, ok := r.m.Get(e.Index)
	if !ok || entry.version != e.Version {
		return Null
	}
	return entry.to
}

// patchEntityFields rewrites every Entity field of one value.
func patchEntityFields(p unsafe.Pointer, offsets []int, remap func(Entity) Entity) {
	for _, off := range offsets {
		field := (*Entity)(unsafe.Add(p, off))
		*field = remap(*field)
	}
}

// patchRow rewrites the entity references held by the components and buffers
// of one row. The entity column itself is left alone.
func (c *chunk) patchRow(row int, heap *bufferHeap, remap func(Entity) Entity) {
	a := c.archetype
	for _, col := range a.entityRefColumns {
		info := a.infos[col]
		p := c.element(col, row)
		if info.Category != CategoryBuffer {
			patchEntityFields(p, info.EntityOffsets, remap)
			continue
		}
		h := (*bufferHeader)(p)
		data := h.data(heap)
		for i := 0; i < int(h.length); i++ {
			patchEntityFields(unsafe.Add(data, i*info.Size), info.EntityOffsets, remap)
		}
	}
}

type placedRow struct {
	c   *chunk
	row int
}

// MoveEntitiesFrom moves every entity of other into s and leaves other empty.
// Entity references inside moved components are rewritten to the new
// handles; references to entities that were not moved become Null.
//
// Both storages must share a registry, and no group on other may hold a
// shared-value filter, since filtered-out entities would move unseen.
func (s *Storage) MoveEntitiesFrom(other *Storage) error {
	if other == nil || other == s {
		return argumentError("cannot move entities from the storage into itself")
	}
	if other.registry != s.registry {
		return argumentError("storages use different component registries")
	}
	for _, g := range other.liveGroups() {
		if g.HasSharedFilter() {
			return argumentError("a component group of the source storage has an active shared filter")
		}
	}
	if err := other.beginStructural(); err != nil {
		return err
	}
	defer other.endStructural()
	if err := s.beginStructural(); err != nil {
		return err
	}
	defer s.endStructural()

	s.version.Bump()
	moved := other.entities.count()
	remap := newEntityRemap(moved)
	placed := make([]placedRow, 0, moved)

	for _, oa := range other.archetypes {
		if oa.entityCount == 0 {
			continue
		}
		da, err := s.internArchetype(oa.types)
		if err != nil {
			return err
		}
		for _, oc := range oa.chunks {
			shared := make([]int, len(oc.sharedValues))
			for i, idx := range oc.sharedValues {
				info := s.registry.Info(oa.sharedTypes[i])
				shared[i] = s.shared.intern(info, other.shared.value(info, idx))
			}
			srcRow := 0
			s.allocateRows(da, shared, oc.count, func(c *chunk, row int, e Entity) {
				copyRowAcross(c, row, oc, srcRow)
				for _, col := range da.bufferColumns {
					cloneOverflow((*bufferHeader)(c.element(col, row)), da.infos[col].Size, other.heap, s.heap)
				}
				remap.add(oc.entityAt(srcRow), e)
				if len(da.entityRefColumns) > 0 {
					placed = append(placed, placedRow{c: c, row: row})
				}
				srcRow++
			})
		}
	}

	for _, p := range placed {
		p.c.patchRow(p.row, s.heap, remap.lookup)
	}

	other.clear()
	s.logger.Debug().
		Int("entities", moved).
		Str("from", other.name).
		Msg("entities merged")
	return nil
}

// clear destroys every entity without running system-state rules.
func (s *Storage) clear() {
	for _, a := range s.archetypes {
		if len(a.chunks) == 0 {
			continue
		}
		for _, c := range a.chunks {
			for _, e := range c.entities() {
				s.entities.free(e)
			}
			for _, idx := range c.sharedValues {
				s.shared.release(idx)
			}
		}
		s.bumpOrder(a, nil)
		a.chunks = nil
		a.entityCount = 0
	}
	s.heap = newBufferHeap()
}
