package main

import (
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/plus3/chunkecs/ecs"
)

// MovementSystem integrates velocities in a parallel job over every chunk
// with a position. Later main-thread access to Position waits for the job.
type MovementSystem struct {
	Workers int

	group    *ecs.ComponentGroup
	position ecs.ComponentTypeHandle[Position]
	velocity ecs.ComponentTypeHandle[Velocity]
}

func (s *MovementSystem) init(storage *ecs.Storage) error {
	r := storage.Registry()
	group, err := storage.CreateQuery(ecs.ReadWriteType[Position](r), ecs.ReadOnlyType[Velocity](r))
	if err != nil {
		return err
	}
	if s.position, err = ecs.GetComponentTypeHandle[Position](storage, false); err != nil {
		return err
	}
	if s.velocity, err = ecs.GetComponentTypeHandle[Velocity](storage, true); err != nil {
		return err
	}
	s.group = group
	return nil
}

func (s *MovementSystem) Execute(frame *ecs.UpdateFrame) error {
	if s.group == nil {
		if err := s.init(frame.Storage); err != nil {
			return err
		}
	}
	chunks, err := s.group.CreateArchetypeChunkArray()
	if err != nil {
		return err
	}
	dt := float32(frame.DeltaTime)
	job := ecs.ScheduleParallelChunks(chunks, s.Workers, func(ch ecs.ArchetypeChunk) error {
		positions := ecs.GetNativeArray(ch, s.position)
		velocities := ecs.GetNativeArray(ch, s.velocity)
		for i := range positions.Len() {
			p := positions.Ref(i)
			v := velocities.Get(i)
			p.X += v.DX * dt
			p.Y += v.DY * dt
		}
		return nil
	}, s.group.GetDependency())
	return s.group.AddDependency(job)
}

// WaypointSystem steers entities toward the first waypoint of their buffer
// and pops it once reached.
type WaypointSystem struct {
	group     *ecs.ComponentGroup
	position  ecs.ComponentTypeHandle[Position]
	velocity  ecs.ComponentTypeHandle[Velocity]
	waypoints ecs.BufferTypeHandle[Waypoint]
}

func (s *WaypointSystem) Execute(frame *ecs.UpdateFrame) error {
	storage := frame.Storage
	if s.group == nil {
		r := storage.Registry()
		var err error
		s.group, err = storage.CreateQuery(
			ecs.ReadOnlyType[Position](r),
			ecs.ReadWriteType[Velocity](r),
			ecs.ReadWriteType[Waypoint](r),
		)
		if err != nil {
			return err
		}
		s.position, _ = ecs.GetComponentTypeHandle[Position](storage, true)
		s.velocity, _ = ecs.GetComponentTypeHandle[Velocity](storage, false)
		s.waypoints, _ = ecs.GetBufferTypeHandle[Waypoint](storage, false)
	}
	if err := s.group.CompleteDependency(); err != nil {
		return err
	}
	chunks, err := s.group.CreateArchetypeChunkArray()
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		positions := ecs.GetNativeArray(ch, s.position)
		velocities := ecs.GetNativeArray(ch, s.velocity)
		buffers := ecs.GetBufferAccessor(ch, s.waypoints)
		for i := range ch.Count() {
			buf := buffers.Get(i)
			if buf.Len() == 0 {
				continue
			}
			p, wp := positions.Get(i), buf.Get(0)
			dx, dy := wp.X-p.X, wp.Y-p.Y
			if dx*dx+dy*dy < 25 {
				buf.RemoveAt(0)
				continue
			}
			velocities.Set(i, Velocity{DX: dx / 10, DY: dy / 10})
		}
	}
	return nil
}

// DamageSystem wears down health and destroys entities that run out.
type DamageSystem struct {
	Entities ecs.Query[struct {
		*Health
	}]

	Destroyed int64
}

func (s *DamageSystem) Execute(frame *ecs.UpdateFrame) error {
	for e, item := range s.Entities.Iter() {
		item.Health.Current--
		if item.Health.Current <= 0 {
			frame.Commands.DestroyEntity(e)
			s.Destroyed++
		}
	}
	return nil
}

// RetargetSystem replaces references to destroyed entities.
type RetargetSystem struct {
	Entities ecs.Query[struct {
		*Target
	}]

	rng *rand.Rand
}

func (s *RetargetSystem) Execute(frame *ecs.UpdateFrame) error {
	candidates := make([]ecs.Entity, 0, 64)
	for e := range s.Entities.Iter() {
		if len(candidates) == cap(candidates) {
			break
		}
		candidates = append(candidates, e)
	}
	for e, item := range s.Entities.Iter() {
		if frame.Storage.Exists(item.Target.Entity) || len(candidates) == 0 {
			continue
		}
		next := candidates[s.rng.Intn(len(candidates))]
		if next != e {
			item.Target.Entity = next
		}
	}
	return nil
}

// HealthWatchSystem counts entities whose health changed since its previous
// run.
type HealthWatchSystem struct {
	Changed ecs.Query[struct {
		*Health `ecs:"changed,readonly"`
	}]

	LastChanged int
}

func (s *HealthWatchSystem) Execute(frame *ecs.UpdateFrame) error {
	s.LastChanged = s.Changed.Len()
	return nil
}

// CleanupSystem releases the system state of destroyed entities.
type CleanupSystem struct {
	group   *ecs.ComponentGroup
	tracked ecs.TypeIndex

	Cleaned int64
}

func (s *CleanupSystem) Execute(frame *ecs.UpdateFrame) error {
	if s.group == nil {
		r := frame.Storage.Registry()
		var err error
		s.group, err = frame.Storage.GetComponentGroup(ecs.EntityQueryDesc{
			All:  []ecs.ComponentType{ecs.ReadOnlyType[Tracked](r)},
			None: []ecs.ComponentType{ecs.SubtractiveType[Health](r)},
		})
		if err != nil {
			return err
		}
		s.tracked = ecs.ReadOnlyType[Tracked](r).TypeIndex
	}
	entities, err := s.group.ToEntityArray()
	if err != nil {
		return err
	}
	for _, e := range entities {
		frame.Commands.RemoveComponent(e, s.tracked)
	}
	s.Cleaned += int64(len(entities))
	return nil
}

// SpawnSystem records new entities from several goroutines through a
// parallel command writer.
type SpawnSystem struct {
	PerFrame int
	Workers  int
	Teams    int

	archetypeTypes []ecs.TypeIndex
	frame          int32
	Spawned        atomic.Int64
}

func (s *SpawnSystem) Execute(frame *ecs.UpdateFrame) error {
	r := frame.Storage.Registry()
	if s.archetypeTypes == nil {
		s.archetypeTypes = []ecs.TypeIndex{
			ecs.ReadWriteType[Position](r).TypeIndex,
			ecs.ReadWriteType[Velocity](r).TypeIndex,
			ecs.ReadWriteType[Health](r).TypeIndex,
			ecs.ReadWriteType[Target](r).TypeIndex,
			ecs.ReadWriteType[Tracked](r).TypeIndex,
		}
	}
	s.frame++
	writer := frame.Commands.AsParallelWriter()

	var g errgroup.Group
	workers := max(s.Workers, 1)
	for w := range workers {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(s.frame)*int64(workers) + int64(w)))
			var previous ecs.Entity
			for i := w; i < s.PerFrame; i += workers {
				cw := writer.ForKey(i)
				p := cw.CreateEntity(s.archetypeTypes...).
					SetComponent(Position{X: rng.Float32() * 1000, Y: rng.Float32() * 1000}).
					SetComponent(Velocity{DX: rng.Float32()*2 - 1, DY: rng.Float32()*2 - 1}).
					SetComponent(Health{Current: 1 + rng.Int31n(20), Max: 20}).
					SetComponent(Tracked{SpawnFrame: s.frame}).
					AddSharedComponent(Team{ID: int32(i % s.Teams)})
				if !previous.IsNull() {
					p.SetComponent(Target{Entity: previous})
				}
				buf := ecs.AddBufferCommand[Waypoint](cw, p.Entity())
				buf.Add(Waypoint{X: rng.Float32() * 1000, Y: rng.Float32() * 1000})
				previous = p.Entity()
				s.Spawned.Add(1)
			}
			return nil
		})
	}
	return g.Wait()
}

// TeamCensusSystem counts entities per team with shared-value filters.
type TeamCensusSystem struct {
	group  *ecs.ComponentGroup
	Counts map[int32]int
}

func (s *TeamCensusSystem) Execute(frame *ecs.UpdateFrame) error {
	if s.group == nil {
		var err error
		s.group, err = frame.Storage.CreateQuery(ecs.ReadOnlyType[Team](frame.Storage.Registry()))
		if err != nil {
			return err
		}
		s.Counts = make(map[int32]int)
	}
	teams, _, err := ecs.GetAllUniqueSharedComponents[Team](frame.Storage)
	if err != nil {
		return err
	}
	clear(s.Counts)
	for _, team := range teams {
		if err := s.group.SetFilter(team); err != nil {
			return err
		}
		n, err := s.group.CalculateLength()
		if err != nil {
			return err
		}
		s.Counts[team.ID] = n
	}
	s.group.ResetFilter()
	return nil
}
