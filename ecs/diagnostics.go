package ecs

import (
	"errors"

	"github.com/rotisserie/eris"
)

// PoisonUnusedChunkMemory fills the unused tail of every chunk of a with
// pattern, so reads past a chunk's count show up in tests.
func (s *Storage) PoisonUnusedChunkMemory(a *Archetype, pattern byte) error {
	if err := s.checkMainThread(); err != nil {
		return err
	}
	if a == nil || a.index >= len(s.archetypes) || s.archetypes[a.index] != a {
		return argumentError("archetype belongs to another storage")
	}
	if err := s.deps.CompleteAll(); err != nil {
		return err
	}
	for _, c := range a.chunks {
		c.poison(pattern)
	}
	return nil
}

// CheckInternalConsistency validates the bookkeeping of every archetype,
// chunk, entity and shared value. It is meant for tests.
func (s *Storage) CheckInternalConsistency() error {
	if err := s.checkMainThread(); err != nil {
		return err
	}
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, eris.Errorf(format, args...))
	}

	current := s.version.Current()
	total := 0
	sharedRefs := make(map[int]int)
	for ai, a := range s.archetypes {
		if a.index != ai {
			fail("archetype %d has index %d", ai, a.index)
		}
		count := 0
		for ci, c := range a.chunks {
			if c.archetype != a {
				fail("archetype %d chunk %d belongs to archetype %d", ai, ci, c.archetype.index)
			}
			if c.listIndex != ci {
				fail("archetype %d chunk %d has list index %d", ai, ci, c.listIndex)
			}
			if c.count <= 0 || c.count > a.chunkCapacity {
				fail("archetype %d chunk %d count %d outside (0, %d]", ai, ci, c.count, a.chunkCapacity)
			}
			for row, e := range c.entities() {
				info := s.entities.info(e)
				if info == nil {
					fail("archetype %d chunk %d row %d holds dead %v", ai, ci, row, e)
					continue
				}
				if info.chunk != c || info.indexInChunk != row {
					fail("%v is recorded at another location than archetype %d chunk %d row %d", e, ai, ci, row)
				}
			}
			for _, col := range a.bufferColumns {
				for row := 0; row < c.count; row++ {
					h := (*bufferHeader)(c.element(col, row))
					if h.length < 0 || h.length > h.capacity {
						fail("archetype %d chunk %d row %d buffer length %d exceeds capacity %d", ai, ci, row, h.length, h.capacity)
					}
					if h.overflow != 0 && !s.heap.valid(h.overflow) {
						fail("archetype %d chunk %d row %d buffer points to a released block", ai, ci, row)
					}
					if h.overflow == 0 && h.capacity != h.inlineCap {
						fail("archetype %d chunk %d row %d inline buffer has capacity %d", ai, ci, row, h.capacity)
					}
				}
			}
			for i := range c.changeVersions {
				if v := c.changeVersion(i); v != 0 && DidChange(v, current) {
					fail("archetype %d chunk %d column %d version %d is newer than %d", ai, ci, i, v, current)
				}
			}
			for _, idx := range c.sharedValues {
				sharedRefs[idx]++
			}
			count += c.count
		}
		if count != a.entityCount {
			fail("archetype %d counts %d entities, chunks hold %d", ai, a.entityCount, count)
		}
		total += count
	}
	if total != s.entities.count() {
		fail("%d entities alive, chunks hold %d", s.entities.count(), total)
	}
	for _, g := range s.liveGroups() {
		for _, f := range g.sharedFilter {
			sharedRefs[f.index]++
		}
	}
	for idx := 1; idx < len(s.shared.entries); idx++ {
		entry := s.shared.entries[idx]
		if entry.value == nil {
			continue
		}
		if entry.refCount != sharedRefs[idx] {
			fail("shared value %d has %d references, found %d", idx, entry.refCount, sharedRefs[idx])
		}
	}
	return errors.Join(errs...)
}

// StorageStats summarizes a storage for reports.
type StorageStats struct {
	ArchetypeCount     int
	ChunkCount         int
	TotalEntityCount   int
	SharedValueCount   int
	BufferOverflows    int
	ArchetypeBreakdown []ArchetypeStats
}

// ArchetypeStats describes one archetype.
type ArchetypeStats struct {
	Index         int
	ComponentType []string
	EntityCount   int
	ChunkCount    int
	ChunkCapacity int
	Utilization   float64
}

// CollectStats gathers counts over every archetype.
func (s *Storage) CollectStats() *StorageStats {
	stats := &StorageStats{
		ArchetypeCount:   len(s.archetypes),
		TotalEntityCount: s.entities.count(),
		BufferOverflows:  s.heap.liveBlocks(),
	}
	for idx := 1; idx < len(s.shared.entries); idx++ {
		if s.shared.entries[idx].value != nil {
			stats.SharedValueCount++
		}
	}
	for _, a := range s.archetypes {
		names := make([]string, 0, len(a.infos)-1)
		for _, info := range a.infos[1:] {
			names = append(names, info.Type.Name())
		}
		as := ArchetypeStats{
			Index:         a.index,
			ComponentType: names,
			EntityCount:   a.entityCount,
			ChunkCount:    len(a.chunks),
			ChunkCapacity: a.chunkCapacity,
		}
		if slots := len(a.chunks) * a.chunkCapacity; slots > 0 {
			as.Utilization = float64(a.entityCount) / float64(slots)
		}
		stats.ChunkCount += as.ChunkCount
		stats.ArchetypeBreakdown = append(stats.ArchetypeBreakdown, as)
	}
	return stats
}
