package ecs_test

import (
	"testing"

	"github.com/plus3/chunkecs/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type moverView struct {
	Position *Position
	Velocity *Velocity `ecs:"readonly"`
}

type patientView struct {
	Position *Position `ecs:"readonly"`
	Health   *Health   `ecs:"optional"`
}

type frozenView struct {
	*Position
	Frozen *Frozen
}

type identifiedView struct {
	Entity   *ecs.Entity
	Position *Position `ecs:"readonly"`
}

type movedView struct {
	Position *Position `ecs:"changed,readonly"`
}

func TestViewIter(t *testing.T) {
	s := newTestStorage(t)
	movers := []ecs.Entity{spawnMover(t, s, 0, 0), spawnMover(t, s, 10, 10), spawnMover(t, s, 20, 20)}
	spawn(t, s, typeIndex[Position](t, s))

	view := ecs.NewView[moverView](s)
	assert.Equal(t, 3, view.Len())

	var seen []ecs.Entity
	for e, m := range view.Iter() {
		seen = append(seen, e)
		m.Position.X += m.Velocity.DX
		m.Position.Y += m.Velocity.DY
	}
	assert.Equal(t, movers, seen)

	for i, e := range movers {
		p, err := ecs.GetComponentData[Position](s, e)
		require.NoError(t, err)
		assert.Equal(t, Position{X: float32(i*10 + 1), Y: float32(i*10 + 1)}, p)
	}

	count := 0
	for m := range view.Values() {
		assert.NotNil(t, m.Velocity)
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestViewGetAndFill(t *testing.T) {
	s := newTestStorage(t)
	mover := spawnMover(t, s, 1, 2)
	still := spawn(t, s, typeIndex[Position](t, s))

	view := ecs.NewView[moverView](s)
	m := view.Get(mover)
	require.NotNil(t, m)
	assert.Equal(t, Position{X: 1, Y: 2}, *m.Position)
	m.Position.X = 5
	p, err := ecs.GetComponentData[Position](s, mover)
	require.NoError(t, err)
	assert.Equal(t, float32(5), p.X)

	assert.Nil(t, view.Get(still), "missing a required component")

	var out moverView
	assert.True(t, view.Fill(mover, &out))
	require.NoError(t, s.DestroyEntity(mover))
	assert.False(t, view.Fill(mover, &out))
	assert.Nil(t, view.Get(ecs.Null))
}

func TestViewOptionalFields(t *testing.T) {
	s := newTestStorage(t)
	pos, health := typeIndex[Position](t, s), typeIndex[Health](t, s)
	plain := spawn(t, s, pos)
	hurt := spawn(t, s, pos, health)
	require.NoError(t, ecs.SetComponentData(s, hurt, Health{Current: 2, Max: 5}))

	view := ecs.NewView[patientView](s)
	assert.Equal(t, 2, view.Len())

	p := view.Get(plain)
	require.NotNil(t, p)
	assert.Nil(t, p.Health)

	h := view.Get(hurt)
	require.NotNil(t, h)
	require.NotNil(t, h.Health)
	assert.Equal(t, int32(2), h.Health.Current)

	withHealth := 0
	for _, v := range view.Iter() {
		if v.Health != nil {
			withHealth++
		}
	}
	assert.Equal(t, 1, withHealth)
}

func TestViewEmbeddedAndTagFields(t *testing.T) {
	s := newTestStorage(t)
	pos, frozen := typeIndex[Position](t, s), typeIndex[Frozen](t, s)
	spawn(t, s, pos)
	e := spawn(t, s, pos, frozen)
	require.NoError(t, ecs.SetComponentData(s, e, Position{X: 3}))

	view := ecs.NewView[frozenView](s)
	require.Equal(t, 1, view.Len())
	v := view.Get(e)
	require.NotNil(t, v)
	assert.Equal(t, float32(3), v.X, "embedded fields are promoted")
	assert.NotNil(t, v.Frozen)
}

func TestViewEntityField(t *testing.T) {
	s := newTestStorage(t)
	e := spawnMover(t, s, 0, 0)

	view := ecs.NewView[identifiedView](s)
	v := view.Get(e)
	require.NotNil(t, v)
	assert.Equal(t, e, *v.Entity)
}

func TestViewSpawn(t *testing.T) {
	s := newTestStorage(t)
	view := ecs.NewView[patientView](s)

	e, err := view.Spawn(patientView{Position: &Position{X: 4}})
	require.NoError(t, err)
	assert.False(t, ecs.HasComponent[Health](s, e))

	e2, err := view.Spawn(patientView{Position: &Position{X: 5}, Health: &Health{Current: 1, Max: 1}})
	require.NoError(t, err)
	h, err := ecs.GetComponentData[Health](s, e2)
	require.NoError(t, err)
	assert.Equal(t, Health{Current: 1, Max: 1}, h)
	p, err := ecs.GetComponentData[Position](s, e2)
	require.NoError(t, err)
	assert.Equal(t, float32(5), p.X)

	_, err = view.Spawn(patientView{})
	assert.ErrorIs(t, err, ecs.ErrArgument, "required field is nil")
	assert.Equal(t, 2, view.Len())
	requireConsistent(t, s)
}

func TestViewChangedField(t *testing.T) {
	s := newTestStorage(t)
	first := spawn(t, s, typeIndex[Position](t, s))
	spawnMover(t, s, 0, 0)

	view := ecs.NewView[movedView](s)
	assert.Equal(t, 2, view.Len())

	view.Group().UpdateSnapshot()
	assert.Equal(t, 0, view.Len())

	// iterating a read-only field does not count as a write
	for range view.Iter() {
	}
	s.Version().Bump()
	assert.Equal(t, 0, view.Len())

	require.NoError(t, ecs.SetComponentData(s, first, Position{X: 1}))
	assert.Equal(t, 1, view.Len())
}

func TestViewMarksWrittenColumns(t *testing.T) {
	s := newTestStorage(t)
	spawnMover(t, s, 0, 0)

	moved := ecs.NewView[movedView](s)
	moved.Group().UpdateSnapshot()

	s.Version().Bump()
	for range ecs.NewView[moverView](s).Iter() {
	}
	assert.Equal(t, 1, moved.Len(), "writable view fields record a change")
}

func TestViewIterPanicsAfterStructuralChange(t *testing.T) {
	s := newTestStorage(t)
	spawnMover(t, s, 0, 0)
	spawnMover(t, s, 1, 1)

	view := ecs.NewView[moverView](s)
	vel := typeIndex[Velocity](t, s)
	err := panicError(func() {
		for e := range view.Iter() {
			_ = s.RemoveComponent(e, vel)
		}
	})
	assert.ErrorIs(t, err, ecs.ErrInvalidOperation)
}

func TestNewViewRejectsInvalidTypes(t *testing.T) {
	s := newTestStorage(t)

	type notPointer struct{ Position Position }
	type unregistered struct{ Name *Name }
	type bufferField struct{ Items *Item }
	type sharedField struct{ Team *Team }
	type badTag struct {
		Position *Position `ecs:"sometimes"`
	}
	type optionalChanged struct {
		Position *Position `ecs:"optional,changed"`
	}
	type optionalEmbedded struct {
		*Position `ecs:"optional"`
	}

	tests := []struct {
		name string
		fn   func()
	}{
		{"not a struct", func() { ecs.NewView[int](s) }},
		{"not a pointer", func() { ecs.NewView[notPointer](s) }},
		{"unregistered", func() { ecs.NewView[unregistered](s) }},
		{"buffer", func() { ecs.NewView[bufferField](s) }},
		{"shared", func() { ecs.NewView[sharedField](s) }},
		{"bad tag", func() { ecs.NewView[badTag](s) }},
		{"optional and changed", func() { ecs.NewView[optionalChanged](s) }},
		{"optional embedded", func() { ecs.NewView[optionalEmbedded](s) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, panicError(tt.fn), ecs.ErrArgument)
		})
	}
}

func TestQueryCache(t *testing.T) {
	s := newTestStorage(t)
	spawnMover(t, s, 0, 0)
	spawnMover(t, s, 1, 1)

	q := ecs.NewQuery[moverView](s)
	assert.ErrorIs(t, panicError(func() { q.Len() }), ecs.ErrInvalidOperation, "Execute first")

	q.Execute()
	assert.Equal(t, 2, q.Len())
	xs := []float32{}
	for m := range q.Values() {
		xs = append(xs, m.Position.X)
	}
	assert.Equal(t, []float32{0, 1}, xs)

	spawnMover(t, s, 2, 2)
	assert.ErrorIs(t, panicError(func() { q.Len() }), ecs.ErrInvalidOperation, "stale after a structural change")
	assert.ErrorIs(t, panicError(func() { q.Iter() }), ecs.ErrInvalidOperation)

	q.Execute()
	n := 0
	for e, m := range q.Iter() {
		assert.True(t, s.Exists(e))
		assert.NotNil(t, m.Position)
		n++
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, q.View().Len())
}

func TestSingleton(t *testing.T) {
	s := newTestStorage(t)

	single, err := ecs.NewSingleton(s, Health{Current: 10, Max: 10})
	require.NoError(t, err)
	require.True(t, single.Exists())
	single.Get().Current = 7

	again, err := ecs.NewSingleton[Health](s)
	require.NoError(t, err)
	assert.Equal(t, single.Entity(), again.Entity())
	assert.Equal(t, int32(7), again.Get().Current)

	require.NoError(t, ecs.RemoveComponentData[Health](s, single.Entity()))
	assert.False(t, single.Exists())
	assert.Nil(t, single.Get())

	spawn(t, s, typeIndex[Health](t, s))
	spawn(t, s, typeIndex[Health](t, s), typeIndex[Position](t, s))
	_, err = ecs.NewSingleton[Health](s)
	assert.ErrorIs(t, err, ecs.ErrInvalidOperation, "more than one carrier")
	assert.ErrorIs(t, panicError(func() { again.Get() }), ecs.ErrInvalidOperation)

	_, err = ecs.NewSingleton[Frozen](s)
	assert.ErrorIs(t, err, ecs.ErrInvalidOperation, "tags carry no data")
}
