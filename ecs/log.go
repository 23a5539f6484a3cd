package ecs

import (
	"github.com/rs/zerolog"
)

// Logger adds storage-aware helpers to a zerolog logger.
type Logger struct {
	*zerolog.Logger
}

// NewLogger wraps l.
func NewLogger(l zerolog.Logger) Logger {
	return Logger{&l}
}

func (l Logger) typesArray(r *ComponentRegistry, types []TypeIndex) *zerolog.Array {
	arr := zerolog.Arr()
	for _, t := range types {
		dict := zerolog.Dict().Int("component_id", int(t))
		if info := r.Info(t); info != nil {
			dict = dict.Str("component_name", info.Name).Str("category", info.Category.String())
		}
		arr = arr.Dict(dict)
	}
	return arr
}

// LogComponents logs every registered component type.
func (l Logger) LogComponents(r *ComponentRegistry, level zerolog.Level) {
	types := make([]TypeIndex, r.Count())
	for i := range types {
		types[i] = TypeIndex(i)
	}
	l.WithLevel(level).
		Int("total_components", len(types)).
		Array("components", l.typesArray(r, types)).
		Send()
}

// LogArchetypes logs one event per archetype of s.
func (l Logger) LogArchetypes(s *Storage, level zerolog.Level) {
	for _, a := range s.archetypes {
		l.WithLevel(level).
			Int("archetype_id", a.index).
			Int("entities", a.entityCount).
			Int("chunks", len(a.chunks)).
			Int("chunk_capacity", a.chunkCapacity).
			Array("components", l.typesArray(s.registry, a.types)).
			Send()
	}
}

// LogEntity logs the location and component types of e.
func (l Logger) LogEntity(s *Storage, e Entity, level zerolog.Level) {
	if err := s.checkMainThread(); err != nil {
		l.Err(err).Msg("cannot log entity")
		return
	}
	info := s.entities.info(e)
	if info == nil {
		l.Err(entityNotFound(e)).Msg("cannot log entity")
		return
	}
	a := info.chunk.archetype
	l.WithLevel(level).
		Int32("entity_id", e.Index).
		Uint32("entity_version", e.Version).
		Int("archetype_id", a.index).
		Uint64("chunk", info.chunk.sequence).
		Int("row", info.indexInChunk).
		Array("components", l.typesArray(s.registry, a.types)).
		Send()
}

// LogStats logs the storage summary returned by CollectStats.
func (l Logger) LogStats(s *Storage, level zerolog.Level) {
	stats := s.CollectStats()
	l.WithLevel(level).
		Int("archetypes", stats.ArchetypeCount).
		Int("chunks", stats.ChunkCount).
		Int("entities", stats.TotalEntityCount).
		Int("shared_values", stats.SharedValueCount).
		Int("buffer_overflows", stats.BufferOverflows).
		Send()
}

// CreateSystemLogger returns a sub logger with the entry {"system": name}.
func (l Logger) CreateSystemLogger(name string) Logger {
	sub := l.Logger.With().Str("system", name).Logger()
	return Logger{&sub}
}

// Logger returns the storage's logger.
func (s *Storage) Logger() Logger {
	return Logger{&s.logger}
}
