package ecs

import (
	"unsafe"
)

// ArchetypeChunk is a handle to one chunk returned by
// CreateArchetypeChunkArray. It becomes invalid with the next structural
// change to its storage.
type ArchetypeChunk struct {
	c      *chunk
	s      *Storage
	safety safetyHandle
}

// IsValid reports whether the chunk handle may still be used.
func (ch ArchetypeChunk) IsValid() bool {
	return ch.c != nil && ch.safety.valid()
}

func (ch ArchetypeChunk) check() {
	if ch.c == nil {
		usagePanic("uninitialized chunk handle")
	}
	ch.safety.check()
}

func (ch ArchetypeChunk) Count() int {
	ch.check()
	return ch.c.count
}

func (ch ArchetypeChunk) Capacity() int {
	ch.check()
	return ch.c.capacity()
}

func (ch ArchetypeChunk) Archetype() *Archetype {
	ch.check()
	return ch.c.archetype
}

// SequenceNumber identifies the chunk for the lifetime of its storage.
func (ch ArchetypeChunk) SequenceNumber() uint64 {
	ch.check()
	return ch.c.sequence
}

func (ch ArchetypeChunk) Has(t TypeIndex) bool {
	ch.check()
	return ch.c.archetype.Has(t)
}

// ChangeVersion returns the version at which column t was last written, or 0
// when the chunk has no such column.
func (ch ArchetypeChunk) ChangeVersion(t TypeIndex) uint32 {
	ch.check()
	col := ch.c.archetype.indexOf(t)
	if col < 0 {
		return 0
	}
	return ch.c.changeVersion(col)
}

// DidChange reports whether column t was written after version.
func (ch ArchetypeChunk) DidChange(t TypeIndex, version uint32) bool {
	return DidChange(ch.ChangeVersion(t), version)
}

// GetSharedComponentIndex returns the chunk's interned value index of shared
// type t, or -1 when the chunk has no such type.
func (ch ArchetypeChunk) GetSharedComponentIndex(t TypeIndex) int {
	ch.check()
	slot := ch.c.archetype.sharedSlotOf(t)
	if slot < 0 {
		return -1
	}
	return ch.c.sharedValues[slot]
}

// Entities returns a read-only view of the chunk's entity column.
func (ch ArchetypeChunk) Entities() NativeArray[Entity] {
	ch.check()
	return NativeArray[Entity]{
		ptr:      ch.c.base(),
		length:   ch.c.count,
		safety:   ch.safety,
		readOnly: true,
	}
}

// GetChunkSharedComponentData returns the chunk's value of shared type T.
func GetChunkSharedComponentData[T comparable](ch ArchetypeChunk) (T, error) {
	var zero T
	ch.check()
	info, err := sharedInfo[T](ch.s)
	if err != nil {
		return zero, err
	}
	idx := ch.GetSharedComponentIndex(info.Index)
	if idx < 0 {
		return zero, argumentError("chunk does not have %s", info.Name)
	}
	return ch.s.shared.value(info, idx).(T), nil
}

// ComponentTypeHandle grants typed access to a data column in chunks.
type ComponentTypeHandle[T any] struct {
	index    TypeIndex
	readOnly bool
	storage  *Storage
}

// GetComponentTypeHandle resolves T for chunk access. T must carry data.
func GetComponentTypeHandle[T any](s *Storage, readOnly bool) (ComponentTypeHandle[T], error) {
	info, err := dataInfo[T](s)
	if err != nil {
		return ComponentTypeHandle[T]{}, err
	}
	return ComponentTypeHandle[T]{index: info.Index, readOnly: readOnly, storage: s}, nil
}

func (h ComponentTypeHandle[T]) TypeIndex() TypeIndex {
	return h.index
}

func (h ComponentTypeHandle[T]) IsReadOnly() bool {
	return h.readOnly
}

// GetNativeArray returns the chunk's column for T. The array is empty when
// the chunk has no such column.
func GetNativeArray[T any](ch ArchetypeChunk, h ComponentTypeHandle[T]) NativeArray[T] {
	ch.check()
	if h.storage != ch.s {
		usagePanic("type handle belongs to another storage")
	}
	col := ch.c.archetype.indexOf(h.index)
	if col < 0 {
		return NativeArray[T]{safety: ch.safety, readOnly: h.readOnly}
	}
	return NativeArray[T]{
		ptr:           ch.c.column(col),
		length:        ch.c.count,
		safety:        ch.safety,
		readOnly:      h.readOnly,
		changeVersion: &ch.c.changeVersions[col],
		version:       ch.s.version,
	}
}

// BufferTypeHandle grants typed access to a buffer column in chunks.
type BufferTypeHandle[T any] struct {
	index    TypeIndex
	readOnly bool
	storage  *Storage
}

// GetBufferTypeHandle resolves buffer element type T for chunk access.
func GetBufferTypeHandle[T any](s *Storage, readOnly bool) (BufferTypeHandle[T], error) {
	info, err := bufferInfo[T](s)
	if err != nil {
		return BufferTypeHandle[T]{}, err
	}
	return BufferTypeHandle[T]{index: info.Index, readOnly: readOnly, storage: s}, nil
}

// BufferAccessor indexes the buffers of one chunk.
type BufferAccessor[T any] struct {
	base          unsafe.Pointer
	stride        int
	length        int
	heap          *bufferHeap
	safety        safetyHandle
	readOnly      bool
	changeVersion *uint32
	version       *Version
}

// GetBufferAccessor returns the chunk's buffers of T. The accessor is empty
// when the chunk has no such column.
func GetBufferAccessor[T any](ch ArchetypeChunk, h BufferTypeHandle[T]) BufferAccessor[T] {
	ch.check()
	if h.storage != ch.s {
		usagePanic("type handle belongs to another storage")
	}
	col := ch.c.archetype.indexOf(h.index)
	if col < 0 {
		return BufferAccessor[T]{safety: ch.safety, readOnly: h.readOnly}
	}
	return BufferAccessor[T]{
		base:          ch.c.column(col),
		stride:        ch.c.archetype.sizes[col],
		length:        ch.c.count,
		heap:          ch.s.heap,
		safety:        ch.safety,
		readOnly:      h.readOnly,
		changeVersion: &ch.c.changeVersions[col],
		version:       ch.s.version,
	}
}

func (b BufferAccessor[T]) Len() int {
	return b.length
}

// Get returns the buffer of the i-th entity of the chunk.
func (b BufferAccessor[T]) Get(i int) DynamicBuffer[T] {
	b.safety.check()
	if i < 0 || i >= b.length {
		panic(argumentError("index %d out of range [0, %d)", i, b.length))
	}
	return newDynamicBuffer[T](unsafe.Add(b.base, i*b.stride), b.heap, b.safety, b.readOnly, b.changeVersion, b.version)
}
