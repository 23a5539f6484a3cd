package ecs_test

import (
	"testing"

	"github.com/plus3/chunkecs/ecs"
)

func BenchmarkCreateEntities(b *testing.B) {
	s := ecs.NewStorage(newTestRegistry())
	a := ecs.Must(s.CreateArchetype(typeIndex[Position](b, s), typeIndex[Velocity](b, s)))
	out := make([]ecs.Entity, 1000)

	b.ReportAllocs()
	for b.Loop() {
		if err := s.CreateEntities(a, out); err != nil {
			b.Fatal(err)
		}
		if err := s.DestroyEntities(out); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkViewIter(b *testing.B) {
	s := ecs.NewStorage(newTestRegistry())
	a := ecs.Must(s.CreateArchetype(typeIndex[Position](b, s), typeIndex[Velocity](b, s)))
	if err := s.CreateEntities(a, make([]ecs.Entity, 10000)); err != nil {
		b.Fatal(err)
	}
	view := ecs.NewView[moverView](s)

	b.ReportAllocs()
	for b.Loop() {
		for _, m := range view.Iter() {
			m.Position.X += m.Velocity.DX
		}
	}
}

func BenchmarkChunkIteration(b *testing.B) {
	s := ecs.NewStorage(newTestRegistry())
	r := s.Registry()
	a := ecs.Must(s.CreateArchetype(typeIndex[Position](b, s), typeIndex[Velocity](b, s)))
	if err := s.CreateEntities(a, make([]ecs.Entity, 10000)); err != nil {
		b.Fatal(err)
	}
	g := ecs.Must(s.CreateQuery(ecs.ReadWriteType[Position](r), ecs.ReadOnlyType[Velocity](r)))
	positions := ecs.Must(ecs.GetComponentTypeHandle[Position](s, false))
	velocities := ecs.Must(ecs.GetComponentTypeHandle[Velocity](s, true))

	b.ReportAllocs()
	for b.Loop() {
		chunks := ecs.Must(g.CreateArchetypeChunkArray())
		for _, ch := range chunks {
			p := ecs.GetNativeArray(ch, positions)
			v := ecs.GetNativeArray(ch, velocities)
			for i := range p.Len() {
				p.Ref(i).X += v.Get(i).DX
			}
		}
	}
}

func BenchmarkAddRemoveComponent(b *testing.B) {
	s := ecs.NewStorage(newTestRegistry())
	health := typeIndex[Health](b, s)
	a := ecs.Must(s.CreateArchetype(typeIndex[Position](b, s)))
	out := make([]ecs.Entity, 1000)
	if err := s.CreateEntities(a, out); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for b.Loop() {
		for _, e := range out {
			if err := s.AddComponent(e, health); err != nil {
				b.Fatal(err)
			}
		}
		for _, e := range out {
			if err := s.RemoveComponent(e, health); err != nil {
				b.Fatal(err)
			}
		}
	}
}

func BenchmarkCommandBufferPlayback(b *testing.B) {
	s := ecs.NewStorage(newTestRegistry())
	pos := typeIndex[Position](b, s)
	vel := typeIndex[Velocity](b, s)

	b.ReportAllocs()
	for b.Loop() {
		commands := ecs.NewEntityCommandBuffer(s.Registry())
		for i := range 1000 {
			commands.CreateEntity(pos, vel).SetComponent(Position{X: float32(i)})
		}
		if err := commands.Playback(s); err != nil {
			b.Fatal(err)
		}
		b.StopTimer()
		g := ecs.Must(s.CreateQuery(ecs.ReadOnlyType[Position](s.Registry())))
		entities := ecs.Must(g.ToEntityArray())
		if err := s.DestroyEntities(entities); err != nil {
			b.Fatal(err)
		}
		b.StartTimer()
	}
}

func BenchmarkBufferAdd(b *testing.B) {
	s := ecs.NewStorage(newTestRegistry())
	e := spawn(b, s, typeIndex[Position](b, s), typeIndex[Item](b, s))

	b.ReportAllocs()
	for b.Loop() {
		buf := ecs.Must(ecs.GetBuffer[Item](s, e))
		for i := range 100 {
			buf.Add(Item(i))
		}
		buf.Clear()
	}
}
