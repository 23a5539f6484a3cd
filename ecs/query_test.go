package ecs_test

import (
	"math"
	"testing"

	"github.com/plus3/chunkecs/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupLength(t *testing.T, g *ecs.ComponentGroup) int {
	t.Helper()
	n, err := g.CalculateLength()
	require.NoError(t, err)
	return n
}

func TestQueryMatching(t *testing.T) {
	s := newTestStorage(t)
	r := s.Registry()
	pos, vel, health, frozen := typeIndex[Position](t, s), typeIndex[Velocity](t, s), typeIndex[Health](t, s), typeIndex[Frozen](t, s)

	spawn(t, s, pos)
	spawn(t, s, pos, vel)
	spawn(t, s, pos, vel, health)
	spawn(t, s, vel, health)
	spawn(t, s, pos, frozen)

	tests := []struct {
		name string
		desc ecs.EntityQueryDesc
		want int
	}{
		{"all position", ecs.EntityQueryDesc{All: []ecs.ComponentType{ecs.ReadOnlyType[Position](r)}}, 4},
		{"all position and velocity", ecs.EntityQueryDesc{All: []ecs.ComponentType{ecs.ReadOnlyType[Position](r), ecs.ReadWriteType[Velocity](r)}}, 2},
		{"any health or frozen", ecs.EntityQueryDesc{Any: []ecs.ComponentType{ecs.ReadOnlyType[Health](r), ecs.ReadOnlyType[Frozen](r)}}, 3},
		{"position without velocity", ecs.EntityQueryDesc{
			All:  []ecs.ComponentType{ecs.ReadOnlyType[Position](r)},
			None: []ecs.ComponentType{ecs.SubtractiveType[Velocity](r)},
		}, 2},
		{"velocity with any of health", ecs.EntityQueryDesc{
			All: []ecs.ComponentType{ecs.ReadOnlyType[Velocity](r)},
			Any: []ecs.ComponentType{ecs.ReadOnlyType[Health](r)},
		}, 2},
		{"entity only", ecs.EntityQueryDesc{}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := s.GetComponentGroup(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, groupLength(t, g))
		})
	}
}

func TestQueryValidation(t *testing.T) {
	s := newTestStorage(t)
	r := s.Registry()

	_, err := s.GetComponentGroup(ecs.EntityQueryDesc{
		All:  []ecs.ComponentType{ecs.ReadOnlyType[Position](r)},
		None: []ecs.ComponentType{ecs.SubtractiveType[Position](r)},
	})
	assert.ErrorIs(t, err, ecs.ErrArgument, "required and excluded")

	_, err = s.CreateQuery(ecs.ReadOnlyType[Name](r))
	assert.ErrorIs(t, err, ecs.ErrArgument, "unregistered type")
}

func TestQueryNormalizesAccess(t *testing.T) {
	s := newTestStorage(t)
	r := s.Registry()

	g, err := s.CreateQuery(ecs.ReadOnlyType[Position](r), ecs.ReadWriteType[Position](r), ecs.ReadOnlyType[Velocity](r))
	require.NoError(t, err)
	desc := g.Desc()
	require.Len(t, desc.All, 2)
	assert.Equal(t, ecs.ComponentType{TypeIndex: typeIndex[Position](t, s), AccessMode: ecs.ReadWrite}, desc.All[0])
	assert.Equal(t, ecs.ReadOnly, desc.All[1].AccessMode)
}

func TestQuerySeesNewArchetypes(t *testing.T) {
	s := newTestStorage(t)
	g, err := s.CreateQuery(ecs.ReadOnlyType[Position](s.Registry()))
	require.NoError(t, err)
	assert.Equal(t, 0, groupLength(t, g))

	spawnMover(t, s, 0, 0)
	e := spawn(t, s, typeIndex[Position](t, s), typeIndex[Health](t, s))
	assert.Equal(t, 2, groupLength(t, g))

	empty, err := g.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)

	require.NoError(t, s.DestroyEntity(e))
	assert.Equal(t, 1, groupLength(t, g))
}

func TestQueryDisabledAndPrefab(t *testing.T) {
	s := newTestStorage(t)
	r := s.Registry()
	pos := typeIndex[Position](t, s)

	spawn(t, s, pos)
	disabled := spawn(t, s, pos)
	require.NoError(t, s.SetEnabled(disabled, false))
	spawn(t, s, pos, ecs.PrefabTypeIndex)

	positions := ecs.ReadOnlyType[Position](r)
	tests := []struct {
		name string
		desc ecs.EntityQueryDesc
		want int
	}{
		{"default", ecs.EntityQueryDesc{All: []ecs.ComponentType{positions}}, 1},
		{"include disabled", ecs.EntityQueryDesc{All: []ecs.ComponentType{positions}, Options: ecs.IncludeDisabled}, 2},
		{"include prefab", ecs.EntityQueryDesc{All: []ecs.ComponentType{positions}, Options: ecs.IncludePrefab}, 2},
		{"include both", ecs.EntityQueryDesc{All: []ecs.ComponentType{positions}, Options: ecs.IncludeDisabled | ecs.IncludePrefab}, 3},
		{"named disabled", ecs.EntityQueryDesc{All: []ecs.ComponentType{positions, ecs.ReadOnlyType[ecs.Disabled](r)}}, 1},
		{"named prefab", ecs.EntityQueryDesc{Any: []ecs.ComponentType{ecs.ReadOnlyType[ecs.Prefab](r)}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := s.GetComponentGroup(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, groupLength(t, g))
		})
	}
}

func TestQueryIterationOrder(t *testing.T) {
	s := newTestStorage(t)
	pos, vel := typeIndex[Position](t, s), typeIndex[Velocity](t, s)

	// archetype {pos} is created before {pos, vel}
	a1 := archetypeOf(t, s, pos)
	a2 := archetypeOf(t, s, pos, vel)

	second := make([]ecs.Entity, 3)
	require.NoError(t, s.CreateEntities(a2, second))
	first := make([]ecs.Entity, a1.ChunkCapacity()+2)
	require.NoError(t, s.CreateEntities(a1, first))

	g, err := s.CreateQuery(ecs.ReadOnlyType[Position](s.Registry()))
	require.NoError(t, err)
	got, err := g.ToEntityArray()
	require.NoError(t, err)

	assert.Equal(t, append(first, second...), got)

	chunks, err := g.CalculateChunkCount()
	require.NoError(t, err)
	assert.Equal(t, 3, chunks)
}

func TestQuerySharedFilter(t *testing.T) {
	s := newTestStorage(t)
	r := s.Registry()
	team := typeIndex[Team](t, s)

	for i := range 6 {
		e := spawn(t, s, typeIndex[Position](t, s), team)
		require.NoError(t, ecs.SetSharedComponentData(s, e, Team{ID: int32(i % 3)}))
	}

	g, err := s.CreateQuery(ecs.ReadOnlyType[Position](r), ecs.ReadOnlyType[Team](r))
	require.NoError(t, err)
	assert.Equal(t, 6, groupLength(t, g))

	require.NoError(t, g.SetFilter(Team{ID: 1}))
	assert.True(t, g.HasSharedFilter())
	assert.Equal(t, 2, groupLength(t, g))

	require.NoError(t, g.SetFilter(Team{ID: 0}))
	assert.Equal(t, 2, groupLength(t, g), "the default value is a filter value too")

	require.NoError(t, g.SetFilter(Team{ID: 7}))
	assert.Equal(t, 0, groupLength(t, g))
	requireConsistent(t, s)

	g.ResetFilter()
	assert.False(t, g.HasSharedFilter())
	assert.Equal(t, 6, groupLength(t, g))
	requireConsistent(t, s)

	assert.ErrorIs(t, g.SetFilter(Position{}), ecs.ErrArgument, "not a shared type")

	unshared, err := s.CreateQuery(ecs.ReadOnlyType[Position](r))
	require.NoError(t, err)
	assert.ErrorIs(t, unshared.SetFilter(Team{ID: 1}), ecs.ErrArgument, "filter type must be required")
}

func TestQueryChangedFilter(t *testing.T) {
	s := newTestStorage(t)
	r := s.Registry()
	pos := typeIndex[Position](t, s)

	movers := make([]ecs.Entity, 3)
	for i := range movers {
		movers[i] = spawnMover(t, s, 0, 0)
	}
	statics := make([]ecs.Entity, 2)
	for i := range statics {
		statics[i] = spawn(t, s, pos)
	}

	g, err := s.CreateQuery(ecs.ReadWriteType[Position](r))
	require.NoError(t, err)
	require.NoError(t, g.SetFilterChanged(pos))
	assert.Equal(t, 5, groupLength(t, g), "everything counts as changed before the first snapshot")

	g.UpdateSnapshot()
	assert.Equal(t, 0, groupLength(t, g))

	s.Version().Bump()
	require.NoError(t, ecs.SetComponentData(s, statics[0], Position{X: 1}))
	got, err := g.ToEntityArray()
	require.NoError(t, err)
	assert.ElementsMatch(t, statics, got, "change tracking is per chunk")

	g.UpdateSnapshot()
	assert.Equal(t, 0, groupLength(t, g))

	g.ResetFilter()
	assert.Equal(t, 5, groupLength(t, g))

	assert.ErrorIs(t, g.SetFilterChanged(typeIndex[Health](t, s)), ecs.ErrArgument)
}

func TestQueryChangedFilterAcrossWrapAround(t *testing.T) {
	s := ecs.NewStorage(newTestRegistry(), ecs.WithVersion(ecs.NewVersionAt(math.MaxUint32-1)))
	pos := typeIndex[Position](t, s)
	e := spawn(t, s, pos)
	assert.Equal(t, uint32(math.MaxUint32), s.Version().Current())

	g, err := s.CreateQuery(ecs.ReadWriteType[Position](s.Registry()))
	require.NoError(t, err)
	require.NoError(t, g.SetFilterChanged(pos))
	g.UpdateSnapshot()
	assert.Equal(t, 0, groupLength(t, g))

	assert.Equal(t, uint32(1), s.Version().Bump(), "0 is skipped")
	require.NoError(t, ecs.SetComponentData(s, e, Position{X: 1}))
	assert.Equal(t, 1, groupLength(t, g))
}

func TestDidChange(t *testing.T) {
	tests := []struct {
		change, required uint32
		want             bool
	}{
		{5, 4, true},
		{4, 4, false},
		{3, 4, false},
		{0, 0, true},
		{7, 0, true},
		{1, math.MaxUint32, true},
		{math.MaxUint32, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ecs.DidChange(tt.change, tt.required), "DidChange(%d, %d)", tt.change, tt.required)
	}
}

func TestArchetypeChunkAccess(t *testing.T) {
	s := newTestStorage(t)
	r := s.Registry()
	for i := range 4 {
		spawnMover(t, s, float32(i), 0)
	}

	g, err := s.CreateQuery(ecs.ReadWriteType[Position](r), ecs.ReadOnlyType[Velocity](r))
	require.NoError(t, err)
	chunks, err := g.CreateArchetypeChunkArray()
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	ch := chunks[0]

	assert.True(t, ch.IsValid())
	assert.Equal(t, 4, ch.Count())
	assert.Greater(t, ch.Capacity(), 4)
	assert.True(t, ch.Has(typeIndex[Velocity](t, s)))
	assert.False(t, ch.Has(typeIndex[Health](t, s)))
	assert.Equal(t, uint32(0), ch.ChangeVersion(typeIndex[Health](t, s)))
	assert.Equal(t, -1, ch.GetSharedComponentIndex(typeIndex[Team](t, s)))

	posHandle, err := ecs.GetComponentTypeHandle[Position](s, false)
	require.NoError(t, err)
	velHandle, err := ecs.GetComponentTypeHandle[Velocity](s, true)
	require.NoError(t, err)

	s.Version().Bump()
	before := ch.ChangeVersion(posHandle.TypeIndex())
	positions := ecs.GetNativeArray(ch, posHandle)
	velocities := ecs.GetNativeArray(ch, velHandle)
	for i := range positions.Len() {
		p := positions.Ref(i)
		v := velocities.Get(i)
		p.X += v.DX
	}
	assert.True(t, ch.DidChange(posHandle.TypeIndex(), before), "writes record the current version")
	assert.True(t, velocities.IsReadOnly())
	assert.ErrorIs(t, panicError(func() { velocities.Set(0, Velocity{}) }), ecs.ErrInvalidOperation)

	entities := ch.Entities().ToSlice()
	for i, e := range entities {
		p, err := ecs.GetComponentData[Position](s, e)
		require.NoError(t, err)
		assert.Equal(t, positions.Get(i), p)
	}
	assert.Equal(t, float32(1), positions.Get(0).X)

	missing, err := ecs.GetComponentTypeHandle[Health](s, true)
	require.NoError(t, err)
	assert.Equal(t, 0, ecs.GetNativeArray(ch, missing).Len())

	spawnMover(t, s, 0, 0)
	assert.False(t, ch.IsValid())
	assert.ErrorIs(t, panicError(func() { ch.Count() }), ecs.ErrInvalidOperation)
	assert.ErrorIs(t, panicError(func() { positions.Get(0) }), ecs.ErrInvalidOperation)

	_, err = ecs.GetComponentTypeHandle[Frozen](s, true)
	assert.ErrorIs(t, err, ecs.ErrInvalidOperation)
}

func TestChunkSharedAndBufferAccess(t *testing.T) {
	s := newTestStorage(t)
	r := s.Registry()
	for i := range 3 {
		e := spawnWithItems(t, s, Item(i), Item(i+1))
		require.NoError(t, ecs.AddSharedComponentData(s, e, Team{ID: 4}))
	}

	g, err := s.CreateQuery(ecs.ReadWriteType[Item](r), ecs.ReadOnlyType[Team](r))
	require.NoError(t, err)
	chunks, err := g.CreateArchetypeChunkArray()
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	team, err := ecs.GetChunkSharedComponentData[Team](chunks[0])
	require.NoError(t, err)
	assert.Equal(t, Team{ID: 4}, team)

	h, err := ecs.GetBufferTypeHandle[Item](s, false)
	require.NoError(t, err)
	acc := ecs.GetBufferAccessor(chunks[0], h)
	require.Equal(t, 3, acc.Len())
	for i := range acc.Len() {
		buf := acc.Get(i)
		assert.Equal(t, 2, buf.Len())
		buf.Add(100)
	}

	items, err := ecs.GetBufferArray[Item](g)
	require.NoError(t, err)
	require.Equal(t, 3, items.Len())
	for i := range items.Len() {
		assert.Equal(t, Item(100), items.Get(i).Get(2))
	}
}

func TestComponentDataArray(t *testing.T) {
	s := newTestStorage(t)
	r := s.Registry()
	a := archetypeOf(t, s, typeIndex[Position](t, s), typeIndex[Velocity](t, s))
	out := make([]ecs.Entity, a.ChunkCapacity()+10)
	require.NoError(t, s.CreateEntities(a, out))

	g, err := s.CreateQuery(ecs.ReadWriteType[Position](r), ecs.ReadOnlyType[Velocity](r))
	require.NoError(t, err)

	positions, err := ecs.GetComponentDataArray[Position](g)
	require.NoError(t, err)
	require.Equal(t, len(out), positions.Len())
	for i := range positions.Len() {
		positions.Set(i, Position{X: float32(i)})
	}
	positions.Ref(len(out) - 1).Y = 5

	entities, err := g.ToEntityArray()
	require.NoError(t, err)
	for _, i := range []int{0, a.ChunkCapacity() - 1, a.ChunkCapacity(), len(out) - 1} {
		p, err := ecs.GetComponentData[Position](s, entities[i])
		require.NoError(t, err)
		assert.Equal(t, float32(i), p.X)
	}
	assert.Equal(t, float32(5), positions.Get(len(out)-1).Y)
	assert.Len(t, positions.ToSlice(), len(out))

	velocities, err := ecs.GetComponentDataArray[Velocity](g)
	require.NoError(t, err)
	assert.ErrorIs(t, panicError(func() { velocities.Set(0, Velocity{}) }), ecs.ErrInvalidOperation)
	assert.ErrorIs(t, panicError(func() { velocities.Get(len(out)) }), ecs.ErrArgument)

	_, err = ecs.GetComponentDataArray[Health](g)
	assert.ErrorIs(t, err, ecs.ErrArgument, "type is not part of the group")
}

func TestComponentGroupDispose(t *testing.T) {
	s := newTestStorage(t)
	g, err := s.CreateQuery(ecs.ReadOnlyType[Position](s.Registry()), ecs.ReadOnlyType[Team](s.Registry()))
	require.NoError(t, err)
	require.NoError(t, g.SetFilter(Team{ID: 2}))

	g.Dispose()
	g.Dispose()
	_, err = g.CalculateLength()
	assert.ErrorIs(t, err, ecs.ErrInvalidOperation)
	assert.ErrorIs(t, g.SetFilter(Team{ID: 2}), ecs.ErrInvalidOperation)
	requireConsistent(t, s)
}

func TestEqualQueriesShareState(t *testing.T) {
	s := newTestStorage(t)
	r := s.Registry()
	g1, err := s.CreateQuery(ecs.ReadOnlyType[Position](r), ecs.ReadWriteType[Velocity](r))
	require.NoError(t, err)
	g2, err := s.CreateQuery(ecs.ReadWriteType[Velocity](r), ecs.ReadOnlyType[Position](r))
	require.NoError(t, err)

	assert.Equal(t, g1.Desc(), g2.Desc())
	spawnMover(t, s, 0, 0)
	assert.Equal(t, groupLength(t, g1), groupLength(t, g2))
	assert.Same(t, s, g1.Storage())
}
