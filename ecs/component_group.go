package ecs

import (
	"iter"
	"reflect"
	"slices"
	"weak"
)

// ComponentGroup is a live query against one storage. It enumerates the
// chunks of every matching archetype in archetype creation order, then chunk
// order, optionally narrowed by shared-value and changed-version filters.
type ComponentGroup struct {
	s     *Storage
	query *queryData

	sharedFilter      []sharedFilter
	changedFilter     []TypeIndex
	lastSystemVersion uint32
	disposed          bool
}

type sharedFilter struct {
	typ   TypeIndex
	index int
}

// GetComponentGroup creates a group for desc. Groups with equal descriptions
// share their archetype cache.
func (s *Storage) GetComponentGroup(desc EntityQueryDesc) (*ComponentGroup, error) {
	if err := s.checkMainThread(); err != nil {
		return nil, err
	}
	q, err := s.queryFor(desc)
	if err != nil {
		return nil, err
	}
	g := &ComponentGroup{s: s, query: q}
	s.groups = append(s.groups, weak.Make(g))
	return g, nil
}

// CreateQuery is GetComponentGroup for a query with only All constraints.
func (s *Storage) CreateQuery(all ...ComponentType) (*ComponentGroup, error) {
	return s.GetComponentGroup(EntityQueryDesc{All: all})
}

func (g *ComponentGroup) check() error {
	if g.disposed {
		return invalidOperation("component group used after Dispose")
	}
	return g.s.checkMainThread()
}

// Desc returns the normalized description of the group.
func (g *ComponentGroup) Desc() EntityQueryDesc {
	return g.query.desc
}

// Storage returns the storage the group enumerates.
func (g *ComponentGroup) Storage() *Storage {
	return g.s
}

// SetFilter restricts the group to chunks holding the given shared values.
// Every value's type must be a shared component required by the group. The
// filter replaces any previous shared filter.
func (g *ComponentGroup) SetFilter(values ...any) error {
	if err := g.check(); err != nil {
		return err
	}
	filter := make([]sharedFilter, 0, len(values))
	for _, v := range values {
		info, err := g.s.registry.infoForType(reflect.TypeOf(v))
		if err != nil {
			return err
		}
		if info.Category != CategoryShared {
			return argumentError("filter value %s is not a shared component", info.Name)
		}
		if !containsType(g.query.desc.All, info.Index) {
			return argumentError("filter type %s is not required by the group", info.Name)
		}
		filter = append(filter, sharedFilter{typ: info.Index, index: g.s.shared.intern(info, v)})
	}
	for _, f := range filter {
		g.s.shared.addRef(f.index)
	}
	g.releaseSharedFilter()
	g.sharedFilter = filter
	return nil
}

// SetFilterChanged restricts the group to chunks where any of the given
// types was written after the group's last system version.
func (g *ComponentGroup) SetFilterChanged(types ...TypeIndex) error {
	if err := g.check(); err != nil {
		return err
	}
	for _, t := range types {
		if !g.query.desc.names(t) {
			return argumentError("changed filter type %d is not part of the group", t)
		}
	}
	g.changedFilter = slices.Clone(types)
	return nil
}

// ResetFilter removes every filter.
func (g *ComponentGroup) ResetFilter() {
	g.releaseSharedFilter()
	g.changedFilter = nil
}

func (g *ComponentGroup) releaseSharedFilter() {
	for _, f := range g.sharedFilter {
		g.s.shared.release(f.index)
	}
	g.sharedFilter = nil
}

// HasSharedFilter reports whether a shared-value filter is active.
func (g *ComponentGroup) HasSharedFilter() bool {
	return len(g.sharedFilter) > 0
}

// UpdateSnapshot makes the current global version the baseline of the
// changed filter: only writes recorded at a later version pass it.
func (g *ComponentGroup) UpdateSnapshot() {
	g.lastSystemVersion = g.s.version.Current()
}

// SetLastSystemVersion sets the baseline of the changed filter.
func (g *ComponentGroup) SetLastSystemVersion(v uint32) {
	g.lastSystemVersion = v
}

func (g *ComponentGroup) LastSystemVersion() uint32 {
	return g.lastSystemVersion
}

func (g *ComponentGroup) passes(c *chunk) bool {
	a := c.archetype
	for _, f := range g.sharedFilter {
		slot := a.sharedSlotOf(f.typ)
		if slot < 0 || c.sharedValues[slot] != f.index {
			return false
		}
	}
	if len(g.changedFilter) == 0 {
		return true
	}
	for _, t := range g.changedFilter {
		if col := a.indexOf(t); col >= 0 && DidChange(c.changeVersion(col), g.lastSystemVersion) {
			return true
		}
	}
	return false
}

// chunks iterates the matching chunks.
func (g *ComponentGroup) chunks() iter.Seq[*chunk] {
	return func(yield func(*chunk) bool) {
		for _, a := range g.query.archetypes {
			for _, c := range a.chunks {
				if c.count == 0 || !g.passes(c) {
					continue
				}
				if !yield(c) {
					return
				}
			}
		}
	}
}

func (g *ComponentGroup) completeFilterDependencies() error {
	for _, t := range g.changedFilter {
		if err := g.s.deps.CompleteWrite(t); err != nil {
			return err
		}
	}
	return nil
}

// CalculateLength returns the number of entities the group enumerates.
func (g *ComponentGroup) CalculateLength() (int, error) {
	if err := g.check(); err != nil {
		return 0, err
	}
	if err := g.completeFilterDependencies(); err != nil {
		return 0, err
	}
	n := 0
	for c := range g.chunks() {
		n += c.count
	}
	return n, nil
}

// CalculateChunkCount returns the number of chunks the group enumerates.
func (g *ComponentGroup) CalculateChunkCount() (int, error) {
	if err := g.check(); err != nil {
		return 0, err
	}
	if err := g.completeFilterDependencies(); err != nil {
		return 0, err
	}
	n := 0
	for range g.chunks() {
		n++
	}
	return n, nil
}

// IsEmpty reports whether the group enumerates no entity.
func (g *ComponentGroup) IsEmpty() (bool, error) {
	n, err := g.CalculateLength()
	return n == 0, err
}

// ToEntityArray copies the enumerated entities in iteration order.
func (g *ComponentGroup) ToEntityArray() ([]Entity, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	if err := g.completeFilterDependencies(); err != nil {
		return nil, err
	}
	var out []Entity
	for c := range g.chunks() {
		out = append(out, c.entities()...)
	}
	return out, nil
}

// CreateArchetypeChunkArray returns the matching chunks. It does not wait for
// jobs; callers scheduling work on the chunks chain onto GetDependency.
func (g *ComponentGroup) CreateArchetypeChunkArray() ([]ArchetypeChunk, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	safety := g.s.safety.handle()
	var out []ArchetypeChunk
	for c := range g.chunks() {
		out = append(out, ArchetypeChunk{c: c, s: g.s, safety: safety})
	}
	return out, nil
}

// GetDependency returns the handle a job using the group must depend on.
func (g *ComponentGroup) GetDependency() JobHandle {
	return g.s.deps.GetDependency(g.query.reads, g.query.writes)
}

// AddDependency registers h as a job reading and writing the group's types
// according to their access modes.
func (g *ComponentGroup) AddDependency(h JobHandle) error {
	if g.disposed {
		return invalidOperation("component group used after Dispose")
	}
	if g.s.transaction.active.Load() {
		return invalidOperation("storage is owned by an exclusive entity transaction")
	}
	return g.s.deps.AddDependency(g.query.reads, g.query.writes, h)
}

// CompleteDependency waits for every job touching the group's types.
func (g *ComponentGroup) CompleteDependency() error {
	for _, t := range g.query.writes {
		if err := g.s.deps.CompleteReadWrite(t); err != nil {
			return err
		}
	}
	for _, t := range g.query.reads {
		if err := g.s.deps.CompleteWrite(t); err != nil {
			return err
		}
	}
	return nil
}

// Dispose releases the group's filters. A disposed group cannot be used.
func (g *ComponentGroup) Dispose() {
	if g.disposed {
		return
	}
	g.ResetFilter()
	g.disposed = true
	g.s.groups = slices.DeleteFunc(g.s.groups, func(w weak.Pointer[ComponentGroup]) bool {
		v := w.Value()
		return v == nil || v == g
	})
}

// liveGroups returns the groups that were neither disposed nor collected.
func (s *Storage) liveGroups() []*ComponentGroup {
	var out []*ComponentGroup
	kept := s.groups[:0]
	for _, w := range s.groups {
		if g := w.Value(); g != nil {
			out = append(out, g)
			kept = append(kept, w)
		}
	}
	s.groups = kept
	return out
}

// accessFor resolves the access mode for T within the group.
func (g *ComponentGroup) accessFor(info *TypeInfo) (bool, error) {
	mode, ok := g.query.accessOf(info.Index)
	if !ok || mode == Exclude {
		return false, argumentError("%s is not part of the group", info.Name)
	}
	readOnly := mode == ReadOnly
	var err error
	if readOnly {
		err = g.s.deps.CompleteWrite(info.Index)
	} else {
		err = g.s.deps.CompleteReadWrite(info.Index)
	}
	return readOnly, err
}
