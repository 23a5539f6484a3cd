package ecs

import (
	"fmt"
	"sync/atomic"
)

// Entity is a weak handle to a record in a Storage. Index is recycled after
// the entity is destroyed; Version tells stale handles apart from the entity
// that reuses the index.
type Entity struct {
	Index   int32
	Version uint32
}

// Null never denotes a live entity.
var Null = Entity{}

// IsNull reports whether e is the null entity.
func (e Entity) IsNull() bool {
	return e == Null
}

func (e Entity) String() string {
	if e.Index < 0 {
		return fmt.Sprintf("Entity(pending %d)", pendingID(e))
	}
	return fmt.Sprintf("Entity(%d:%d)", e.Index, e.Version)
}

// entityInfo is one row of the liveness table.
type entityInfo struct {
	chunk        *chunk
	indexInChunk int
	version      uint32
}

// entityTable maps entity indices to their current chunk location. Freed
// indices are reused last-in first-out.
type entityTable struct {
	infos    []entityInfo
	freeList []int32
	alive    atomic.Int64
}

// count returns the number of live entities. It is safe to call while a
// transaction job mutates the table.
func (t *entityTable) count() int {
	return int(t.alive.Load())
}

func (t *entityTable) exists(e Entity) bool {
	if e.Index < 0 || int(e.Index) >= len(t.infos) {
		return false
	}
	info := &t.infos[e.Index]
	return info.chunk != nil && info.version == e.Version
}

func (t *entityTable) info(e Entity) *entityInfo {
	if !t.exists(e) {
		return nil
	}
	return &t.infos[e.Index]
}

// allocate reserves an index and returns the handle. The caller places the
// entity into a chunk right away.
func (t *entityTable) allocate() Entity {
	t.alive.Add(1)
	if n := len(t.freeList); n > 0 {
		index := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		return Entity{Index: index, Version: t.infos[index].version}
	}
	index := int32(len(t.infos))
	t.infos = append(t.infos, entityInfo{version: 1})
	return Entity{Index: index, Version: 1}
}

// free invalidates every handle to the entity and recycles its index.
func (t *entityTable) free(e Entity) {
	info := &t.infos[e.Index]
	info.chunk = nil
	info.indexInChunk = 0
	info.version++
	if info.version == 0 {
		info.version = 1
	}
	t.freeList = append(t.freeList, e.Index)
	t.alive.Add(-1)
}

func (t *entityTable) place(e Entity, c *chunk, index int) {
	info := &t.infos[e.Index]
	info.chunk = c
	info.indexInChunk = index
}

// pendingEntity returns the placeholder handle a command buffer hands out for
// an entity it will create during playback.
func pendingEntity(id int32) Entity {
	return Entity{Index: -(id + 1)}
}

func pendingID(e Entity) int32 {
	return -e.Index - 1
}
