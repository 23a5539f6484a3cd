package main

import (
	"math/rand"

	"github.com/rotisserie/eris"

	"github.com/plus3/chunkecs/ecs"
)

type Position struct {
	X, Y float32
}

type Velocity struct {
	DX, DY float32
}

type Health struct {
	Current, Max int32
}

// Team partitions entities into chunks per shared value.
type Team struct {
	ID int32
}

// Waypoint is a buffer element; entities walk their waypoints in order.
type Waypoint struct {
	X, Y float32
}

// Target references another entity.
type Target struct {
	Entity ecs.Entity
}

// Tracked is system state; it keeps destroyed entities around until the
// cleanup system saw them.
type Tracked struct {
	SpawnFrame int32
}

type world struct {
	registry *ecs.ComponentRegistry
	storage  *ecs.Storage

	unit *ecs.Archetype
	rng   *rand.Rand
	teams int
}

func registerComponents(r *ecs.ComponentRegistry) error {
	for _, err := range []error{
		second(ecs.RegisterComponent[Position](r)),
		second(ecs.RegisterComponent[Velocity](r)),
		second(ecs.RegisterComponent[Health](r)),
		second(ecs.RegisterComponent[Target](r)),
		second(ecs.RegisterShared[Team](r)),
		second(ecs.RegisterBuffer[Waypoint](r, ecs.WithBufferCapacity(4))),
		second(ecs.RegisterSystemState[Tracked](r)),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func second[T any](_ T, err error) error {
	return err
}

func newWorld(storage *ecs.Storage, cfg Config) (*world, error) {
	r := storage.Registry()
	types := []ecs.TypeIndex{
		ecs.ReadWriteType[Position](r).TypeIndex,
		ecs.ReadWriteType[Velocity](r).TypeIndex,
		ecs.ReadWriteType[Health](r).TypeIndex,
		ecs.ReadWriteType[Target](r).TypeIndex,
		ecs.ReadWriteType[Team](r).TypeIndex,
		ecs.ReadWriteType[Waypoint](r).TypeIndex,
		ecs.ReadWriteType[Tracked](r).TypeIndex,
	}
	for _, t := range types {
		if t < 0 {
			return nil, eris.New("stress components are not registered")
		}
	}
	unit, err := storage.CreateArchetype(types...)
	if err != nil {
		return nil, err
	}
	return &world{
		registry: r,
		storage:  storage,
		unit:     unit,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		teams:    cfg.Teams,
	}, nil
}

// populate creates n units in one batch and fills in their components.
func (w *world) populate(n int) error {
	entities := make([]ecs.Entity, n)
	if err := w.storage.CreateEntities(w.unit, entities); err != nil {
		return err
	}
	for i, e := range entities {
		if err := ecs.SetComponentData(w.storage, e, w.randomPosition()); err != nil {
			return err
		}
		if err := ecs.SetComponentData(w.storage, e, w.randomVelocity()); err != nil {
			return err
		}
		if err := ecs.SetComponentData(w.storage, e, Health{Current: 50 + w.rng.Int31n(50), Max: 100}); err != nil {
			return err
		}
		if i > 0 {
			if err := ecs.SetComponentData(w.storage, e, Target{Entity: entities[w.rng.Intn(i)]}); err != nil {
				return err
			}
		}
		if err := w.storage.SetSharedComponent(e, Team{ID: int32(i % w.teams)}); err != nil {
			return err
		}
		buf, err := ecs.GetBuffer[Waypoint](w.storage, e)
		if err != nil {
			return err
		}
		for range 1 + w.rng.Intn(6) {
			buf.Add(Waypoint(w.randomPosition()))
		}
	}
	return nil
}

func (w *world) randomPosition() Position {
	return Position{X: w.rng.Float32() * 1000, Y: w.rng.Float32() * 1000}
}

func (w *world) randomVelocity() Velocity {
	return Velocity{DX: w.rng.Float32()*20 - 10, DY: w.rng.Float32()*20 - 10}
}
