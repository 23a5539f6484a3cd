package ecs

import (
	"sync/atomic"
	"unsafe"
)

// ChunkBufferSize is the byte budget of one chunk, the entity column included.
const ChunkBufferSize = 16 * 1024

// chunk holds up to archetype.chunkCapacity entities in struct-of-arrays
// layout: the entity column first, then one column per component type in
// type order. All entities of a chunk share the same shared-component values.
type chunk struct {
	archetype *Archetype
	buffer    []byte
	count     int
	listIndex int
	sequence  uint64

	// changeVersions holds, per archetype type, the global version at which
	// the column was last written.
	changeVersions []uint32
	// sharedValues holds the shared value index per shared type slot.
	sharedValues []int
}

func newChunk(a *Archetype, shared []int, sequence uint64, version uint32) *chunk {
	c := &chunk{
		archetype:      a,
		buffer:         make([]byte, a.chunkBytes),
		sequence:       sequence,
		changeVersions: make([]uint32, len(a.types)),
		sharedValues:   append([]int(nil), shared...),
	}
	for i := range c.changeVersions {
		c.changeVersions[i] = version
	}
	return c
}

func (c *chunk) capacity() int {
	return c.archetype.chunkCapacity
}

func (c *chunk) full() bool {
	return c.count >= c.archetype.chunkCapacity
}

func (c *chunk) base() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(c.buffer))
}

// column returns the start of the column for the i-th archetype type.
func (c *chunk) column(i int) unsafe.Pointer {
	return unsafe.Add(c.base(), c.archetype.offsets[i])
}

// element returns the address of row in the column for the i-th type.
func (c *chunk) element(i, row int) unsafe.Pointer {
	a := c.archetype
	return unsafe.Add(c.base(), a.offsets[i]+row*a.sizes[i])
}

func (c *chunk) entities() []Entity {
	return unsafe.Slice((*Entity)(c.base()), c.count)
}

func (c *chunk) entityAt(row int) Entity {
	return *(*Entity)(unsafe.Add(c.base(), row*int(unsafe.Sizeof(Entity{}))))
}

func (c *chunk) setEntityAt(row int, e Entity) {
	*(*Entity)(unsafe.Add(c.base(), row*int(unsafe.Sizeof(Entity{})))) = e
}

func (c *chunk) changeVersion(i int) uint32 {
	return atomic.LoadUint32(&c.changeVersions[i])
}

func (c *chunk) setChangeVersion(i int, v uint32) {
	atomic.StoreUint32(&c.changeVersions[i], v)
}

func (c *chunk) markAllChanged(v uint32) {
	for i := range c.changeVersions {
		atomic.StoreUint32(&c.changeVersions[i], v)
	}
}

func (c *chunk) sameShared(shared []int) bool {
	if len(shared) != len(c.sharedValues) {
		return false
	}
	for i, v := range shared {
		if c.sharedValues[i] != v {
			return false
		}
	}
	return true
}

// initRow zero-fills every data column of row and resets buffer headers to
// an empty inline buffer. The entity column is left untouched.
func (c *chunk) initRow(row int) {
	a := c.archetype
	for i := 1; i < len(a.types); i++ {
		if a.sizes[i] == 0 {
			continue
		}
		p := c.element(i, row)
		memClear(p, a.sizes[i])
		if a.infos[i].Category == CategoryBuffer {
			initBufferHeader(p, a.infos[i].BufferCapacity)
		}
	}
}

// copyRow copies every column, entity included, from src to dst within the
// chunk. Buffer headers move with their overflow handles.
func (c *chunk) copyRow(dst, src int) {
	a := c.archetype
	for i := range a.types {
		if a.sizes[i] == 0 {
			continue
		}
		memCopy(c.element(i, dst), c.element(i, src), a.sizes[i])
	}
}

// releaseRow frees the overflow blocks of every buffer in row.
func (c *chunk) releaseRow(row int, heap *bufferHeap) {
	for _, i := range c.archetype.bufferColumns {
		releaseBuffer((*bufferHeader)(c.element(i, row)), heap)
	}
}

// copyRowAcross copies the columns both archetypes share from src to dst and
// initializes the columns only dst has. Columns only src has are ignored;
// the caller releases what they own.
func copyRowAcross(dst *chunk, dstRow int, src *chunk, srcRow int) {
	da, sa := dst.archetype, src.archetype
	j := 0
	for i, t := range da.types {
		for j < len(sa.types) && sa.types[j] < t {
			j++
		}
		if da.sizes[i] == 0 {
			continue
		}
		p := dst.element(i, dstRow)
		if j < len(sa.types) && sa.types[j] == t {
			memCopy(p, src.element(j, srcRow), da.sizes[i])
			continue
		}
		memClear(p, da.sizes[i])
		if da.infos[i].Category == CategoryBuffer {
			initBufferHeader(p, da.infos[i].BufferCapacity)
		}
	}
}

// poison fills the unused tail [count, capacity) of every column.
func (c *chunk) poison(pattern byte) {
	a := c.archetype
	if c.count >= a.chunkCapacity {
		return
	}
	for i := range a.types {
		size := a.sizes[i]
		if size == 0 {
			continue
		}
		tail := unsafe.Slice((*byte)(c.element(i, c.count)), (a.chunkCapacity-c.count)*size)
		for k := range tail {
			tail[k] = pattern
		}
	}
}

func memCopy(dst, src unsafe.Pointer, size int) {
	if size == 0 {
		return
	}
	copy(unsafe.Slice((*byte)(dst), size), unsafe.Slice((*byte)(src), size))
}

func memClear(dst unsafe.Pointer, size int) {
	if size == 0 {
		return
	}
	clear(unsafe.Slice((*byte)(dst), size))
}
