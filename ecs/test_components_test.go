package ecs_test

import (
	"testing"

	"github.com/plus3/chunkecs/ecs"
	"github.com/stretchr/testify/require"
)

// Common test component types
type Position struct {
	X, Y float32
}

type Velocity struct {
	DX, DY float32
}

type Health struct {
	Current int32
	Max     int32
}

// Frozen is a tag.
type Frozen struct{}

// Team is a shared component.
type Team struct {
	ID int32
}

// Item is a buffer element with the default inline capacity.
type Item int32

// Child is a buffer element holding an entity reference.
type Child struct {
	Entity ecs.Entity
}

// Link references another entity.
type Link struct {
	Target ecs.Entity
	Weight float32
}

// Tracked is system state: it survives DestroyEntity.
type Tracked struct {
	Token int32
}

// Name is not blittable.
type Name struct {
	Value string
}

func newTestRegistry() *ecs.ComponentRegistry {
	r := ecs.NewComponentRegistry()
	ecs.Must(ecs.RegisterComponent[Position](r))
	ecs.Must(ecs.RegisterComponent[Velocity](r))
	ecs.Must(ecs.RegisterComponent[Health](r))
	ecs.Must(ecs.RegisterComponent[Frozen](r))
	ecs.Must(ecs.RegisterComponent[Link](r))
	ecs.Must(ecs.RegisterShared[Team](r))
	ecs.Must(ecs.RegisterBuffer[Item](r))
	ecs.Must(ecs.RegisterBuffer[Child](r, ecs.WithBufferCapacity(2)))
	ecs.Must(ecs.RegisterSystemState[Tracked](r))
	return r
}

func newTestStorage(t testing.TB) *ecs.Storage {
	t.Helper()
	return ecs.NewStorage(newTestRegistry())
}

func typeIndex[T any](t testing.TB, s *ecs.Storage) ecs.TypeIndex {
	t.Helper()
	idx, ok := ecs.TypeIndexOf[T](s.Registry())
	require.True(t, ok)
	return idx
}

func archetypeOf(t testing.TB, s *ecs.Storage, types ...ecs.TypeIndex) *ecs.Archetype {
	t.Helper()
	a, err := s.CreateArchetype(types...)
	require.NoError(t, err)
	return a
}

func spawn(t testing.TB, s *ecs.Storage, types ...ecs.TypeIndex) ecs.Entity {
	t.Helper()
	e, err := s.CreateEntity(archetypeOf(t, s, types...))
	require.NoError(t, err)
	return e
}

func spawnMover(t testing.TB, s *ecs.Storage, x, y float32) ecs.Entity {
	t.Helper()
	e := spawn(t, s, typeIndex[Position](t, s), typeIndex[Velocity](t, s))
	require.NoError(t, ecs.SetComponentData(s, e, Position{X: x, Y: y}))
	require.NoError(t, ecs.SetComponentData(s, e, Velocity{DX: 1, DY: 1}))
	return e
}

func requireConsistent(t testing.TB, s *ecs.Storage) {
	t.Helper()
	require.NoError(t, s.CheckInternalConsistency())
}

// panicError runs fn and returns the error it panicked with, or nil.
func panicError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	fn()
	return nil
}
