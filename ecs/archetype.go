package ecs

import (
	"slices"
	"unsafe"

	"github.com/kamstrup/intmap"
)

// Archetype is the interned, immutable set of component types that defines
// the shape of its entities. Archetypes are created lazily and live as long
// as their storage.
type Archetype struct {
	index int
	types []TypeIndex
	infos []*TypeInfo

	// per-type column layout inside a chunk
	offsets []int
	sizes   []int

	// sharedSlot maps a type position to its slot in chunk.sharedValues, or -1.
	sharedSlot  []int
	sharedTypes []TypeIndex

	bufferColumns    []int
	entityRefColumns []int
	systemStateCount int

	disabled bool
	prefab   bool
	cleanup  bool

	chunkCapacity int
	chunkBytes    int

	chunks       []*chunk
	entityCount  int
	orderVersion uint32

	addEdges    *intmap.Map[TypeIndex, *Archetype]
	removeEdges *intmap.Map[TypeIndex, *Archetype]
}

func newArchetype(index int, types []TypeIndex, registry *ComponentRegistry) (*Archetype, error) {
	a := &Archetype{
		index:       index,
		types:       types,
		infos:       make([]*TypeInfo, len(types)),
		offsets:     make([]int, len(types)),
		sizes:       make([]int, len(types)),
		sharedSlot:  make([]int, len(types)),
		addEdges:    intmap.New[TypeIndex, *Archetype](8),
		removeEdges: intmap.New[TypeIndex, *Archetype](8),
	}

	perEntity := 0
	for i, t := range types {
		info := registry.Info(t)
		if info == nil {
			return nil, argumentError("type index %d not registered", t)
		}
		a.infos[i] = info
		a.sizes[i] = info.chunkSize
		a.sharedSlot[i] = -1
		perEntity += info.chunkSize

		switch {
		case info.Category == CategoryShared:
			a.sharedSlot[i] = len(a.sharedTypes)
			a.sharedTypes = append(a.sharedTypes, t)
		case info.Category == CategoryBuffer:
			a.bufferColumns = append(a.bufferColumns, i)
		}
		if info.SystemState {
			a.systemStateCount++
		}
		if i > 0 && info.HasEntityReferences() {
			a.entityRefColumns = append(a.entityRefColumns, i)
		}
		switch t {
		case DisabledTypeIndex:
			a.disabled = true
		case PrefabTypeIndex:
			a.prefab = true
		case CleanupEntityTypeIndex:
			a.cleanup = true
		}
	}

	capacity := ChunkBufferSize / perEntity
	for ; capacity > 0; capacity-- {
		if total := a.layout(capacity); total <= ChunkBufferSize {
			a.chunkBytes = total
			break
		}
	}
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	a.chunkCapacity = capacity
	return a, nil
}

// layout assigns column offsets for the given capacity and returns the
// number of bytes a chunk needs.
func (a *Archetype) layout(capacity int) int {
	offset := 0
	for i, info := range a.infos {
		if a.sizes[i] == 0 {
			continue
		}
		align := info.Alignment
		if info.Category == CategoryBuffer {
			align = 8
		}
		offset = alignUp(offset, align)
		a.offsets[i] = offset
		offset += capacity * a.sizes[i]
	}
	return offset
}

// indexOf returns the position of t in the archetype, or -1.
func (a *Archetype) indexOf(t TypeIndex) int {
	i, ok := slices.BinarySearch(a.types, t)
	if !ok {
		return -1
	}
	return i
}

// Has reports whether the archetype contains t.
func (a *Archetype) Has(t TypeIndex) bool {
	return a.indexOf(t) >= 0
}

// Index returns the creation order of the archetype within its storage.
func (a *Archetype) Index() int {
	return a.index
}

// Types returns the sorted component types, the Entity type included.
func (a *Archetype) Types() []TypeIndex {
	return slices.Clone(a.types)
}

// ChunkCount returns the number of chunks currently allocated.
func (a *Archetype) ChunkCount() int {
	return len(a.chunks)
}

// EntityCount returns the number of entities stored in the archetype.
func (a *Archetype) EntityCount() int {
	return a.entityCount
}

// ChunkCapacity returns how many entities fit into one chunk.
func (a *Archetype) ChunkCapacity() int {
	return a.chunkCapacity
}

// OrderVersion returns a counter bumped by every structural change that adds
// or removes entities of this archetype.
func (a *Archetype) OrderVersion() uint32 {
	return a.orderVersion
}

// Matches reports whether the archetype satisfies the query description.
func (a *Archetype) Matches(desc EntityQueryDesc) bool {
	return desc.matches(a)
}

func (a *Archetype) sharedSlotOf(t TypeIndex) int {
	i := a.indexOf(t)
	if i < 0 {
		return -1
	}
	return a.sharedSlot[i]
}

// stripped returns the type set kept by a destroyed entity that still owns
// system-state components.
func (a *Archetype) stripped() []TypeIndex {
	types := []TypeIndex{EntityTypeIndex}
	for i, t := range a.types {
		if a.infos[i].SystemState && t != CleanupEntityTypeIndex {
			types = append(types, t)
		}
	}
	types = append(types, CleanupEntityTypeIndex)
	slices.Sort(types)
	return types
}

// findChunk returns a chunk with free space in the given shared-value
// group, first-fit in chunk order.
func (a *Archetype) findChunk(shared []int) *chunk {
	for _, c := range a.chunks {
		if !c.full() && c.sameShared(shared) {
			return c
		}
	}
	return nil
}

func (a *Archetype) appendChunk(c *chunk) {
	c.listIndex = len(a.chunks)
	a.chunks = append(a.chunks, c)
}

// removeChunk drops an empty chunk while keeping creation order.
func (a *Archetype) removeChunk(c *chunk) {
	idx := c.listIndex
	a.chunks = slices.Delete(a.chunks, idx, idx+1)
	for i := idx; i < len(a.chunks); i++ {
		a.chunks[i].listIndex = i
	}
	c.listIndex = -1
}

// typesKey returns the raw bytes of a sorted type list for hashing.
func typesKey(types []TypeIndex) []byte {
	if len(types) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(types))), len(types)*int(unsafe.Sizeof(TypeIndex(0))))
}
