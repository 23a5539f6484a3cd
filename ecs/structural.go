package ecs

import (
	"reflect"
	"slices"
)

// chunkFor returns the first chunk of a with free space in the given shared
// group, allocating a new one when all are full.
func (s *Storage) chunkFor(a *Archetype, shared []int) *chunk {
	if c := a.findChunk(shared); c != nil {
		return c
	}
	s.chunkSequence++
	c := newChunk(a, shared, s.chunkSequence, s.version.Current())
	for _, idx := range shared {
		s.shared.addRef(idx)
	}
	a.appendChunk(c)
	s.logger.Debug().
		Int("archetype", a.index).
		Uint64("chunk", c.sequence).
		Msg("chunk allocated")
	return c
}

func (s *Storage) freeChunk(c *chunk) {
	a := c.archetype
	a.removeChunk(c)
	for _, idx := range c.sharedValues {
		s.shared.release(idx)
	}
	s.logger.Debug().
		Int("archetype", a.index).
		Uint64("chunk", c.sequence).
		Msg("chunk released")
}

// allocateRows creates n entities in a, calling fill for every new row after
// its entity column is set. Rows are zero-initialized before fill runs.
func (s *Storage) allocateRows(a *Archetype, shared []int, n int, fill func(c *chunk, row int, e Entity)) {
	current := s.version.Current()
	for n > 0 {
		c := s.chunkFor(a, shared)
		take := min(n, c.capacity()-c.count)
		for i := 0; i < take; i++ {
			row := c.count
			c.count++
			e := s.entities.allocate()
			c.initRow(row)
			if fill != nil {
				fill(c, row, e)
			}
			c.setEntityAt(row, e)
			s.entities.place(e, c, row)
		}
		a.entityCount += take
		c.markAllChanged(current)
		s.bumpOrder(a, c)
		n -= take
	}
}

// removeRow compacts c by moving its last row into row.
func (s *Storage) removeRow(c *chunk, row int) {
	last := c.count - 1
	if row != last {
		c.copyRow(row, last)
		s.entities.place(c.entityAt(row), c, row)
	}
	c.count--
	c.archetype.entityCount--
	if c.count == 0 {
		s.freeChunk(c)
	}
}

// sharedTuple computes the shared values of dst for an entity coming from
// src, replacing the value of override when it is a valid type.
func (s *Storage) sharedTuple(dst *Archetype, src *chunk, override TypeIndex, overrideIdx int) []int {
	if len(dst.sharedTypes) == 0 {
		return nil
	}
	tuple := make([]int, len(dst.sharedTypes))
	for i, t := range dst.sharedTypes {
		switch {
		case t == override:
			tuple[i] = overrideIdx
		case src != nil:
			if slot := src.archetype.sharedSlotOf(t); slot >= 0 {
				tuple[i] = src.sharedValues[slot]
			}
		}
	}
	return tuple
}

// moveEntity relocates e into dst and the given shared group.
func (s *Storage) moveEntity(e Entity, dst *Archetype, shared []int) {
	info := s.entities.info(e)
	src, srcRow := info.chunk, info.indexInChunk

	dc := s.chunkFor(dst, shared)
	row := dc.count
	dc.count++
	dst.entityCount++
	copyRowAcross(dc, row, src, srcRow)

	sa := src.archetype
	for _, i := range sa.bufferColumns {
		if !dst.Has(sa.types[i]) {
			releaseBuffer((*bufferHeader)(src.element(i, srcRow)), s.heap)
		}
	}

	dc.markAllChanged(s.version.Current())
	s.bumpOrder(sa, src)
	s.bumpOrder(dst, dc)
	s.removeRow(src, srcRow)
	s.entities.place(e, dc, row)
}

// destroyEntity removes e, or strips it down to its system-state components.
func (s *Storage) destroyEntity(e Entity) error {
	info := s.entities.info(e)
	if info == nil {
		return entityNotFound(e)
	}
	c, row := info.chunk, info.indexInChunk
	a := c.archetype

	if userSystemState(a) > 0 {
		if a.cleanup {
			return nil
		}
		dst, err := s.internArchetype(a.stripped())
		if err != nil {
			return err
		}
		s.moveEntity(e, dst, nil)
		return nil
	}

	s.bumpOrder(a, c)
	c.releaseRow(row, s.heap)
	s.removeRow(c, row)
	s.entities.free(e)
	return nil
}

func userSystemState(a *Archetype) int {
	if a.cleanup {
		return a.systemStateCount - 1
	}
	return a.systemStateCount
}

func (s *Storage) addComponent(e Entity, t TypeIndex, sharedIdx int) error {
	info := s.entities.info(e)
	if info == nil {
		return entityNotFound(e)
	}
	a := info.chunk.archetype
	if t == EntityTypeIndex || t == CleanupEntityTypeIndex {
		return argumentError("cannot add %s", s.registry.Info(t).Name)
	}
	if a.Has(t) {
		return argumentError("%v already has %s", e, s.registry.Info(t).Name)
	}
	if a.cleanup && !s.registry.Info(t).SystemState {
		return argumentError("%v is destroyed and only accepts system-state components", e)
	}
	dst, err := s.archetypeWith(a, t)
	if err != nil {
		return err
	}
	s.moveEntity(e, dst, s.sharedTuple(dst, info.chunk, t, sharedIdx))
	return nil
}

func (s *Storage) removeComponent(e Entity, t TypeIndex) error {
	info := s.entities.info(e)
	if info == nil {
		return entityNotFound(e)
	}
	a := info.chunk.archetype
	if t == EntityTypeIndex || t == CleanupEntityTypeIndex {
		return argumentError("cannot remove %s", s.registry.Info(t).Name)
	}
	if !a.Has(t) {
		return argumentError("%v does not have %s", e, s.registry.Info(t).Name)
	}
	dst, err := s.archetypeWithout(a, t)
	if err != nil {
		return err
	}
	if dst.cleanup && userSystemState(dst) == 0 {
		c, row := info.chunk, info.indexInChunk
		s.bumpOrder(a, c)
		c.releaseRow(row, s.heap)
		s.removeRow(c, row)
		s.entities.free(e)
		return nil
	}
	s.moveEntity(e, dst, s.sharedTuple(dst, info.chunk, -1, 0))
	return nil
}

func (s *Storage) setShared(e Entity, info *TypeInfo, value any, add bool) error {
	if info.Category != CategoryShared {
		return argumentError("%s is not a shared component", info.Name)
	}
	loc := s.entities.info(e)
	if loc == nil {
		return entityNotFound(e)
	}
	a := loc.chunk.archetype
	has := a.Has(info.Index)
	switch {
	case add && has:
		return argumentError("%v already has %s", e, info.Name)
	case !add && !has:
		return argumentError("%v does not have %s", e, info.Name)
	}

	idx := s.shared.intern(info, value)
	if add {
		err := s.addComponent(e, info.Index, idx)
		s.shared.dropIfUnused(idx)
		return err
	}
	if loc.chunk.sharedValues[a.sharedSlotOf(info.Index)] == idx {
		return nil
	}
	s.moveEntity(e, a, s.sharedTuple(a, loc.chunk, info.Index, idx))
	return nil
}

func (s *Storage) instantiate(src Entity, out []Entity) error {
	info := s.entities.info(src)
	if info == nil {
		return entityNotFound(src)
	}
	sc, srcRow := info.chunk, info.indexInChunk
	sa := sc.archetype
	if sa.cleanup {
		return argumentError("cannot instantiate destroyed %v", src)
	}

	types := make([]TypeIndex, 0, len(sa.types))
	for i, t := range sa.types {
		if t == PrefabTypeIndex || sa.infos[i].SystemState {
			continue
		}
		types = append(types, t)
	}
	dst := sa
	if len(types) != len(sa.types) {
		var err error
		if dst, err = s.internArchetype(types); err != nil {
			return err
		}
	}

	shared := s.sharedTuple(dst, sc, -1, 0)
	i := 0
	s.allocateRows(dst, shared, len(out), func(c *chunk, row int, e Entity) {
		copyRowAcross(c, row, sc, srcRow)
		for _, col := range dst.bufferColumns {
			cloneOverflow((*bufferHeader)(c.element(col, row)), dst.infos[col].Size, s.heap, s.heap)
		}
		out[i] = e
		i++
	})
	return nil
}

// CreateEntity creates one entity of archetype a with zero-initialized
// components and default shared values.
func (s *Storage) CreateEntity(a *Archetype) (Entity, error) {
	var out [1]Entity
	if err := s.CreateEntities(a, out[:]); err != nil {
		return Null, err
	}
	return out[0], nil
}

// CreateEntities fills out with new entities of archetype a.
func (s *Storage) CreateEntities(a *Archetype, out []Entity) error {
	if a == nil {
		return argumentError("nil archetype")
	}
	if err := s.beginStructural(); err != nil {
		return err
	}
	defer s.endStructural()
	return s.createEntities(a, out)
}

func (s *Storage) createEntities(a *Archetype, out []Entity) error {
	if a.index >= len(s.archetypes) || s.archetypes[a.index] != a {
		return argumentError("archetype belongs to another storage")
	}
	if len(out) == 0 {
		return nil
	}
	if a.cleanup {
		return argumentError("cannot create entities in a cleanup archetype")
	}
	s.version.Bump()
	shared := make([]int, len(a.sharedTypes))
	i := 0
	s.allocateRows(a, shared, len(out), func(_ *chunk, _ int, e Entity) {
		out[i] = e
		i++
	})
	return nil
}

// DestroyEntity destroys e. Entities owning system-state components lose
// every other component and stay alive until those are removed.
func (s *Storage) DestroyEntity(e Entity) error {
	if err := s.beginStructural(); err != nil {
		return err
	}
	defer s.endStructural()
	return s.destroyEntity(e)
}

// DestroyEntities destroys every entity in es. Nothing is destroyed when one
// of them is not alive or listed twice.
func (s *Storage) DestroyEntities(es []Entity) error {
	if err := s.beginStructural(); err != nil {
		return err
	}
	defer s.endStructural()
	return s.destroyEntities(es)
}

func (s *Storage) destroyEntities(es []Entity) error {
	if err := s.validateDistinct(es); err != nil {
		return err
	}
	for _, e := range es {
		if err := s.destroyEntity(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) validateDistinct(es []Entity) error {
	seen := make(map[Entity]struct{}, len(es))
	for _, e := range es {
		if !s.entities.exists(e) {
			return entityNotFound(e)
		}
		if _, dup := seen[e]; dup {
			return argumentError("%v destroyed twice", e)
		}
		seen[e] = struct{}{}
	}
	return nil
}

// Instantiate fills out with copies of src. Buffers are deep-copied; the
// Prefab tag and system-state components are not copied.
func (s *Storage) Instantiate(src Entity, out []Entity) error {
	if err := s.beginStructural(); err != nil {
		return err
	}
	defer s.endStructural()
	s.version.Bump()
	return s.instantiate(src, out)
}

// AddComponent adds a zero-initialized component of type t to e.
func (s *Storage) AddComponent(e Entity, t TypeIndex) error {
	if err := s.beginStructural(); err != nil {
		return err
	}
	defer s.endStructural()
	return s.addComponent(e, t, 0)
}

// RemoveComponent removes type t from e, dropping its data.
func (s *Storage) RemoveComponent(e Entity, t TypeIndex) error {
	if err := s.beginStructural(); err != nil {
		return err
	}
	defer s.endStructural()
	return s.removeComponent(e, t)
}

// AddSharedComponent adds the shared component value v to e.
func (s *Storage) AddSharedComponent(e Entity, v any) error {
	return s.sharedByValue(e, v, true)
}

// SetSharedComponent moves e to the chunk group holding v. Setting the value
// e already has does nothing.
func (s *Storage) SetSharedComponent(e Entity, v any) error {
	return s.sharedByValue(e, v, false)
}

func (s *Storage) sharedByValue(e Entity, v any, add bool) error {
	info, err := s.registry.infoForType(reflect.TypeOf(v))
	if err != nil {
		return err
	}
	if err := s.beginStructural(); err != nil {
		return err
	}
	defer s.endStructural()
	return s.setShared(e, info, v, add)
}

// SetEnabled adds or removes the Disabled tag.
func (s *Storage) SetEnabled(e Entity, enabled bool) error {
	a, err := s.GetArchetype(e)
	if err != nil {
		return err
	}
	switch {
	case enabled && a.disabled:
		return s.RemoveComponent(e, DisabledTypeIndex)
	case !enabled && !a.disabled:
		return s.AddComponent(e, DisabledTypeIndex)
	}
	return nil
}

// IsEnabled reports whether e is alive and not disabled.
func (s *Storage) IsEnabled(e Entity) bool {
	a, err := s.GetArchetype(e)
	return err == nil && !a.disabled
}

// typesOf resolves a list of reflect types into sorted type indices.
func (s *Storage) typesOf(types []reflect.Type) ([]TypeIndex, error) {
	out := make([]TypeIndex, 0, len(types))
	for _, t := range types {
		idx, ok := s.registry.IndexOf(t)
		if !ok {
			return nil, argumentError("component type %s not registered", t)
		}
		out = append(out, idx)
	}
	slices.Sort(out)
	return out, nil
}
