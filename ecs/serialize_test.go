package ecs_test

import (
	"fmt"
	"testing"

	"github.com/plus3/chunkecs/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populateWorld(t *testing.T, s *ecs.Storage) {
	t.Helper()
	for i := range 10 {
		spawnMover(t, s, float32(i), float32(-i))
	}
	leader := spawnMover(t, s, 50, 50)
	require.NoError(t, ecs.AddSharedComponentData(s, leader, Team{ID: 2}))
	require.NoError(t, ecs.AddComponentData(s, leader, Frozen{}))

	follower := spawn(t, s, typeIndex[Link](t, s), typeIndex[Health](t, s))
	require.NoError(t, ecs.SetComponentData(s, follower, Link{Target: leader, Weight: 0.25}))
	require.NoError(t, ecs.SetComponentData(s, follower, Health{Current: 3, Max: 9}))
	items := make([]Item, 45)
	for i := range items {
		items[i] = Item(i * 3)
	}
	inventory, err := ecs.AddBuffer[Item](s, follower)
	require.NoError(t, err)
	inventory.AddRange(items)

	sleeper := spawnMover(t, s, -1, -1)
	require.NoError(t, s.SetEnabled(sleeper, false))
}

func TestSerializeRoundTrip(t *testing.T) {
	src := newTestStorage(t)
	populateWorld(t, src)

	data, err := ecs.Serialize(src)
	require.NoError(t, err)

	// a separately built registry resolves types by name
	dst := newTestStorage(t)
	require.NoError(t, ecs.Deserialize(dst, data))
	requireConsistent(t, dst)
	assert.Equal(t, src.EntityCount(), dst.EntityCount())
	assert.Equal(t, 1, dst.CollectStats().BufferOverflows)

	movers, err := dst.GetComponentGroup(ecs.EntityQueryDesc{
		All:     []ecs.ComponentType{ecs.ReadOnlyType[Position](dst.Registry()), ecs.ReadOnlyType[Velocity](dst.Registry())},
		Options: ecs.IncludeDisabled,
	})
	require.NoError(t, err)
	positions, err := ecs.GetComponentDataArray[Position](movers)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Position{
		{0, 0}, {1, -1}, {2, -2}, {3, -3}, {4, -4}, {5, -5}, {6, -6}, {7, -7}, {8, -8}, {9, -9},
		{50, 50}, {-1, -1},
	}, positions.ToSlice())

	enabled, err := dst.CreateQuery(ecs.ReadOnlyType[Velocity](dst.Registry()))
	require.NoError(t, err)
	assert.Equal(t, 11, groupLength(t, enabled), "the disabled entity stays disabled")

	links, err := dst.CreateQuery(ecs.ReadOnlyType[Link](dst.Registry()))
	require.NoError(t, err)
	followers, err := links.ToEntityArray()
	require.NoError(t, err)
	require.Len(t, followers, 1)

	link, err := ecs.GetComponentData[Link](dst, followers[0])
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), link.Weight)
	p, err := ecs.GetComponentData[Position](dst, link.Target)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 50, Y: 50}, p)
	team, err := ecs.GetSharedComponentData[Team](dst, link.Target)
	require.NoError(t, err)
	assert.Equal(t, Team{ID: 2}, team)
	assert.True(t, ecs.HasComponent[Frozen](dst, link.Target))

	h, err := ecs.GetComponentData[Health](dst, followers[0])
	require.NoError(t, err)
	assert.Equal(t, Health{Current: 3, Max: 9}, h)
	inventory, err := ecs.GetBufferReadOnly[Item](dst, followers[0])
	require.NoError(t, err)
	require.Equal(t, 45, inventory.Len())
	assert.Equal(t, Item(132), inventory.Get(44))

	again, err := ecs.Serialize(dst)
	require.NoError(t, err)
	roundTripped := newTestStorage(t)
	require.NoError(t, ecs.Deserialize(roundTripped, again))
	assert.Equal(t, dst.EntityCount(), roundTripped.EntityCount())
}

func TestDeserializeErrors(t *testing.T) {
	src := newTestStorage(t)
	populateWorld(t, src)
	data, err := ecs.Serialize(src)
	require.NoError(t, err)

	occupied := newTestStorage(t)
	spawn(t, occupied, typeIndex[Position](t, occupied))
	assert.ErrorIs(t, ecs.Deserialize(occupied, data), ecs.ErrArgument)

	partial := ecs.NewComponentRegistry()
	ecs.Must(ecs.RegisterComponent[Position](partial))
	assert.ErrorIs(t, ecs.Deserialize(ecs.NewStorage(partial), data), ecs.ErrArgument, "unknown types")

	assert.ErrorIs(t, ecs.Deserialize(newTestStorage(t), []byte(`{"version": 99}`)), ecs.ErrArgument)
	assert.Error(t, ecs.Deserialize(newTestStorage(t), []byte(`{"version": `)))
}

func TestSerializeEmptyStorage(t *testing.T) {
	data, err := ecs.Serialize(newTestStorage(t))
	require.NoError(t, err)

	dst := newTestStorage(t)
	require.NoError(t, ecs.Deserialize(dst, data))
	assert.True(t, dst.IsEmpty())
}

// squad keeps its state unexported.
type squad struct {
	id int32
}

func TestSerializeSharedUnexportedFields(t *testing.T) {
	registry := func() *ecs.ComponentRegistry {
		r := newTestRegistry()
		ecs.Must(ecs.RegisterShared[squad](r))
		return r
	}
	src := ecs.NewStorage(registry())
	e := spawn(t, src, typeIndex[Position](t, src))
	require.NoError(t, ecs.AddSharedComponentData(src, e, squad{id: 9}))

	data, err := ecs.Serialize(src)
	require.NoError(t, err)
	dst := ecs.NewStorage(registry())
	require.NoError(t, ecs.Deserialize(dst, data))

	g, err := dst.CreateQuery(ecs.ReadOnlyType[Position](dst.Registry()))
	require.NoError(t, err)
	entities, err := g.ToEntityArray()
	require.NoError(t, err)
	require.Len(t, entities, 1)
	v, err := ecs.GetSharedComponentData[squad](dst, entities[0])
	require.NoError(t, err)
	assert.Equal(t, squad{id: 9}, v)
	requireConsistent(t, dst)
}

func TestDeserializeFailureLeavesStorageEmpty(t *testing.T) {
	src := newTestStorage(t)
	spawn(t, src, typeIndex[Position](t, src))
	spawn(t, src, typeIndex[Velocity](t, src))
	data, err := ecs.Serialize(src)
	require.NoError(t, err)

	r := ecs.NewComponentRegistry()
	ecs.Must(ecs.RegisterComponent[Position](r))
	dst := ecs.NewStorage(r)
	assert.ErrorIs(t, ecs.Deserialize(dst, data), ecs.ErrArgument)
	assert.True(t, dst.IsEmpty())
	assert.Zero(t, dst.CollectStats().SharedValueCount)

	ecs.Must(ecs.RegisterComponent[Velocity](r))
	require.NoError(t, ecs.Deserialize(dst, data), "a failed load can be retried")
	assert.Equal(t, 2, dst.EntityCount())
	requireConsistent(t, dst)
}

func TestDeserializeIntoDifferentTypeOrder(t *testing.T) {
	src := newTestStorage(t)
	populateWorld(t, src)
	data, err := ecs.Serialize(src)
	require.NoError(t, err)

	r := ecs.NewComponentRegistry()
	ecs.Must(ecs.RegisterBuffer[Item](r))
	ecs.Must(ecs.RegisterShared[Team](r))
	ecs.Must(ecs.RegisterComponent[Link](r))
	ecs.Must(ecs.RegisterComponent[Frozen](r))
	ecs.Must(ecs.RegisterComponent[Health](r))
	ecs.Must(ecs.RegisterComponent[Velocity](r))
	ecs.Must(ecs.RegisterComponent[Position](r))
	dst := ecs.NewStorage(r)
	require.NoError(t, ecs.Deserialize(dst, data))
	requireConsistent(t, dst)

	links, err := dst.CreateQuery(ecs.ReadOnlyType[Link](r))
	require.NoError(t, err)
	followers, err := links.ToEntityArray()
	require.NoError(t, err)
	require.Len(t, followers, 1)
	h, err := ecs.GetComponentData[Health](dst, followers[0])
	require.NoError(t, err)
	assert.Equal(t, Health{Current: 3, Max: 9}, h)
	link, err := ecs.GetComponentData[Link](dst, followers[0])
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), link.Weight)

	p, err := ecs.GetComponentData[Position](dst, link.Target)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 50, Y: 50}, p)
	team, err := ecs.GetSharedComponentData[Team](dst, link.Target)
	require.NoError(t, err)
	assert.Equal(t, Team{ID: 2}, team)
	inventory, err := ecs.GetBufferReadOnly[Item](dst, followers[0])
	require.NoError(t, err)
	require.Equal(t, 45, inventory.Len())
	assert.Equal(t, Item(132), inventory.Get(44))
}

func TestDeserializeRejectsMalformedChunks(t *testing.T) {
	r := newTestRegistry()
	item := r.Info(ecs.Must(ecs.RegisterBuffer[Item](r))).Name
	position := r.Info(ecs.Must(ecs.RegisterComponent[Position](r))).Name

	// three bytes do not hold a whole Item
	truncated := fmt.Sprintf(`{"version":1,"entities":1,"archetypes":[{"types":[{"name":%q,"category":"buffer","size":4}],`+
		`"chunks":[{"count":1,"columns":[null],"buffers":[{"column":0,"rows":["AQID"]}]}]}]}`, item)
	dst := ecs.NewStorage(r)
	assert.ErrorIs(t, ecs.Deserialize(dst, []byte(truncated)), ecs.ErrArgument)
	assert.True(t, dst.IsEmpty())

	short := fmt.Sprintf(`{"version":1,"entities":2,"archetypes":[{"types":[{"name":%q,"category":"data","size":8}],`+
		`"chunks":[{"count":2,"columns":["AAAAAAAAAAA="]}]}]}`, position)
	assert.ErrorIs(t, ecs.Deserialize(dst, []byte(short)), ecs.ErrArgument)

	miscounted := fmt.Sprintf(`{"version":1,"entities":5,"archetypes":[{"types":[{"name":%q,"category":"data","size":8}],`+
		`"chunks":[{"count":1,"columns":["AAAAAAAAAAA="]}]}]}`, position)
	assert.ErrorIs(t, ecs.Deserialize(dst, []byte(miscounted)), ecs.ErrArgument)
	assert.True(t, dst.IsEmpty())
}
