package ecs

import (
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// CreateArchetype returns the archetype for the given component types,
// creating it on first use. The Entity type is always included.
func (s *Storage) CreateArchetype(types ...TypeIndex) (*Archetype, error) {
	if err := s.checkMainThread(); err != nil {
		return nil, err
	}
	return s.getOrCreateArchetype(types)
}

func (s *Storage) getOrCreateArchetype(types []TypeIndex) (*Archetype, error) {
	sorted := make([]TypeIndex, 0, len(types)+1)
	sorted = append(sorted, EntityTypeIndex)
	for _, t := range types {
		if s.registry.Info(t) == nil {
			return nil, argumentError("type index %d not registered", t)
		}
		sorted = append(sorted, t)
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return s.internArchetype(sorted)
}

// internArchetype looks up a sorted, de-duplicated type list.
func (s *Storage) internArchetype(sorted []TypeIndex) (*Archetype, error) {
	key := xxhash.Sum64(typesKey(sorted))
	bucket, _ := s.archetypeIndex.Get(key)
	for _, a := range bucket {
		if slices.Equal(a.types, sorted) {
			return a, nil
		}
	}

	a, err := newArchetype(len(s.archetypes), sorted, s.registry)
	if err != nil {
		return nil, err
	}
	s.archetypes = append(s.archetypes, a)
	s.archetypeIndex.Put(key, append(bucket, a))
	for _, q := range s.queries {
		q.addArchetype(a)
	}

	if s.logger.GetLevel() <= zerolog.DebugLevel {
		s.logger.Debug().
			Int("archetype", a.index).
			Int("types", len(a.types)).
			Int("chunk_capacity", a.chunkCapacity).
			Msg("archetype created")
	}
	return a, nil
}

// archetypeWith follows the add edge for t, creating it when missing.
func (s *Storage) archetypeWith(a *Archetype, t TypeIndex) (*Archetype, error) {
	if next, ok := a.addEdges.Get(t); ok {
		return next, nil
	}
	types := make([]TypeIndex, 0, len(a.types)+1)
	types = append(types, a.types...)
	types = append(types, t)
	slices.Sort(types)
	next, err := s.internArchetype(types)
	if err != nil {
		return nil, err
	}
	a.addEdges.Put(t, next)
	next.removeEdges.Put(t, a)
	return next, nil
}

// archetypeWithout follows the remove edge for t, creating it when missing.
func (s *Storage) archetypeWithout(a *Archetype, t TypeIndex) (*Archetype, error) {
	if next, ok := a.removeEdges.Get(t); ok {
		return next, nil
	}
	types := make([]TypeIndex, 0, len(a.types))
	for _, have := range a.types {
		if have != t {
			types = append(types, have)
		}
	}
	next, err := s.internArchetype(types)
	if err != nil {
		return nil, err
	}
	a.removeEdges.Put(t, next)
	next.addEdges.Put(t, a)
	return next, nil
}

// Archetypes returns every archetype in creation order.
func (s *Storage) Archetypes() []*Archetype {
	return slices.Clone(s.archetypes)
}
