package ecs

import (
	"sync"
	"unsafe"
)

// bufferHeader is the in-chunk part of a dynamic buffer. Inline elements
// follow the header directly. overflow is a bufferHeap handle, 0 while the
// elements live inline.
type bufferHeader struct {
	length    int32
	capacity  int32
	overflow  int32
	inlineCap int32
}

func initBufferHeader(p unsafe.Pointer, inlineCapacity int) {
	h := (*bufferHeader)(p)
	h.length = 0
	h.capacity = int32(inlineCapacity)
	h.overflow = 0
	h.inlineCap = int32(inlineCapacity)
}

func (h *bufferHeader) inline() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), bufferHeaderSize)
}

func (h *bufferHeader) data(heap *bufferHeap) unsafe.Pointer {
	if h.overflow != 0 {
		return heap.pointer(h.overflow)
	}
	return h.inline()
}

func releaseBuffer(h *bufferHeader, heap *bufferHeap) {
	if h.overflow != 0 {
		heap.release(h.overflow)
		h.overflow = 0
	}
}

// cloneOverflow gives dst its own copy of an overflow block that was copied
// byte-wise from another header.
func cloneOverflow(h *bufferHeader, elemSize int, from, to *bufferHeap) {
	if h.overflow == 0 {
		return
	}
	size := int(h.capacity) * elemSize
	handle := to.alloc(size)
	memCopy(to.pointer(handle), from.pointer(h.overflow), int(h.length)*elemSize)
	h.overflow = handle
}

// bufferHeap owns the overflow blocks of dynamic buffers. Handles are
// 1-based; released slots are recycled.
type bufferHeap struct {
	mu     sync.RWMutex
	blocks [][]byte
	free   []int32
	live   int
}

func newBufferHeap() *bufferHeap {
	return &bufferHeap{}
}

func (b *bufferHeap) alloc(size int) int32 {
	block := make([]byte, max(size, 8))
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live++
	if n := len(b.free); n > 0 {
		handle := b.free[n-1]
		b.free = b.free[:n-1]
		b.blocks[handle-1] = block
		return handle
	}
	b.blocks = append(b.blocks, block)
	return int32(len(b.blocks))
}

func (b *bufferHeap) pointer(handle int32) unsafe.Pointer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return unsafe.Pointer(unsafe.SliceData(b.blocks[handle-1]))
}

func (b *bufferHeap) valid(handle int32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return handle > 0 && int(handle) <= len(b.blocks) && b.blocks[handle-1] != nil
}

func (b *bufferHeap) release(handle int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocks[handle-1] = nil
	b.free = append(b.free, handle)
	b.live--
}

func (b *bufferHeap) liveBlocks() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live
}

// DynamicBuffer is a resizable array attached to one entity. Up to the
// registered inline capacity the elements live inside the chunk; beyond it
// they move to a heap block owned by the buffer.
//
// A DynamicBuffer is a view: any structural change to its storage (or
// playback of the command buffer it came from) invalidates it, and further
// use panics with an error matching ErrInvalidOperation.
type DynamicBuffer[T any] struct {
	header        *bufferHeader
	heap          *bufferHeap
	safety        safetyHandle
	readOnly      bool
	changeVersion *uint32
	version       *Version
}

func newDynamicBuffer[T any](p unsafe.Pointer, heap *bufferHeap, safety safetyHandle, readOnly bool, changeVersion *uint32, version *Version) DynamicBuffer[T] {
	return DynamicBuffer[T]{
		header:        (*bufferHeader)(p),
		heap:          heap,
		safety:        safety,
		readOnly:      readOnly,
		changeVersion: changeVersion,
		version:       version,
	}
}

func (b DynamicBuffer[T]) elemSize() int {
	return int(unsafe.Sizeof(*new(T)))
}

func (b DynamicBuffer[T]) checkRead() {
	if b.header == nil {
		usagePanic("uninitialized buffer")
	}
	b.safety.check()
}

func (b DynamicBuffer[T]) checkWrite() {
	b.checkRead()
	if b.readOnly {
		usagePanic("write through a read-only buffer")
	}
	if b.changeVersion != nil && b.version != nil {
		storeChangeVersion(b.changeVersion, b.version.Current())
	}
}

func (b DynamicBuffer[T]) at(i int) *T {
	return (*T)(unsafe.Add(b.header.data(b.heap), i*b.elemSize()))
}

func (b DynamicBuffer[T]) checkIndex(i int) {
	if i < 0 || i >= int(b.header.length) {
		panic(argumentError("buffer index %d out of range [0, %d)", i, b.header.length))
	}
}

// IsValid reports whether the buffer may still be used.
func (b DynamicBuffer[T]) IsValid() bool {
	return b.header != nil && b.safety.valid()
}

// IsReadOnly reports whether writes are rejected.
func (b DynamicBuffer[T]) IsReadOnly() bool {
	return b.readOnly
}

// Len returns the number of elements.
func (b DynamicBuffer[T]) Len() int {
	b.checkRead()
	return int(b.header.length)
}

// Capacity returns the number of elements the buffer holds without growing.
func (b DynamicBuffer[T]) Capacity() int {
	b.checkRead()
	return int(b.header.capacity)
}

// IsInline reports whether the elements are stored inside the chunk.
func (b DynamicBuffer[T]) IsInline() bool {
	b.checkRead()
	return b.header.overflow == 0
}

func (b DynamicBuffer[T]) Get(i int) T {
	b.checkRead()
	b.checkIndex(i)
	return *b.at(i)
}

func (b DynamicBuffer[T]) Set(i int, v T) {
	b.checkWrite()
	b.checkIndex(i)
	*b.at(i) = v
}

// Ref returns a pointer to element i. The pointer is only valid until the
// buffer grows or shrinks.
func (b DynamicBuffer[T]) Ref(i int) *T {
	b.checkWrite()
	b.checkIndex(i)
	return b.at(i)
}

// Add appends v and returns its index.
func (b DynamicBuffer[T]) Add(v T) int {
	b.checkWrite()
	n := int(b.header.length)
	b.grow(n + 1)
	*b.at(n) = v
	b.header.length++
	return n
}

func (b DynamicBuffer[T]) AddRange(vs []T) {
	b.checkWrite()
	n := int(b.header.length)
	b.grow(n + len(vs))
	for i, v := range vs {
		*b.at(n + i) = v
	}
	b.header.length += int32(len(vs))
}

// Insert places v at index i, shifting later elements up.
func (b DynamicBuffer[T]) Insert(i int, v T) {
	b.checkWrite()
	n := int(b.header.length)
	if i < 0 || i > n {
		panic(argumentError("buffer index %d out of range [0, %d]", i, n))
	}
	b.grow(n + 1)
	size := b.elemSize()
	data := b.header.data(b.heap)
	memMove(unsafe.Add(data, (i+1)*size), unsafe.Add(data, i*size), (n-i)*size)
	*b.at(i) = v
	b.header.length++
}

// RemoveAt removes element i, keeping the order of the rest.
func (b DynamicBuffer[T]) RemoveAt(i int) {
	b.RemoveRange(i, 1)
}

func (b DynamicBuffer[T]) RemoveRange(i, count int) {
	b.checkWrite()
	n := int(b.header.length)
	if i < 0 || count < 0 || i+count > n {
		panic(argumentError("buffer range [%d, %d) out of range [0, %d)", i, i+count, n))
	}
	size := b.elemSize()
	data := b.header.data(b.heap)
	memMove(unsafe.Add(data, i*size), unsafe.Add(data, (i+count)*size), (n-i-count)*size)
	b.header.length -= int32(count)
}

// Clear sets the length to 0 and keeps the capacity.
func (b DynamicBuffer[T]) Clear() {
	b.checkWrite()
	b.header.length = 0
}

// ResizeUninitialized sets the length to n, growing when needed. New
// elements hold whatever the memory contained.
func (b DynamicBuffer[T]) ResizeUninitialized(n int) {
	b.checkWrite()
	if n < 0 {
		panic(argumentError("negative buffer length %d", n))
	}
	b.grow(n)
	b.header.length = int32(n)
}

// Reserve ensures room for n elements.
func (b DynamicBuffer[T]) Reserve(n int) {
	b.checkWrite()
	b.grow(n)
}

// TrimExcess shrinks the capacity to the length, moving the elements back
// inside the chunk when they fit.
func (b DynamicBuffer[T]) TrimExcess() {
	b.checkWrite()
	h := b.header
	if h.overflow == 0 {
		return
	}
	size := b.elemSize()
	inlineCap := b.inlineCapacity()
	n := int(h.length)
	if n <= inlineCap {
		memCopy(h.inline(), b.heap.pointer(h.overflow), n*size)
		releaseBuffer(h, b.heap)
		h.capacity = int32(inlineCap)
		return
	}
	if n == int(h.capacity) {
		return
	}
	handle := b.heap.alloc(n * size)
	memCopy(b.heap.pointer(handle), b.heap.pointer(h.overflow), n*size)
	b.heap.release(h.overflow)
	h.overflow = handle
	h.capacity = int32(n)
}

// ToSlice copies the elements into a new slice.
func (b DynamicBuffer[T]) ToSlice() []T {
	b.checkRead()
	n := int(b.header.length)
	out := make([]T, n)
	if n > 0 {
		copy(out, unsafe.Slice((*T)(b.header.data(b.heap)), n))
	}
	return out
}

// AsNativeArray aliases the current elements. The alias shares the buffer's
// safety and becomes meaningless once the buffer grows or shrinks.
func (b DynamicBuffer[T]) AsNativeArray() NativeArray[T] {
	b.checkRead()
	return NativeArray[T]{
		ptr:           b.header.data(b.heap),
		length:        int(b.header.length),
		safety:        b.safety,
		readOnly:      b.readOnly,
		changeVersion: b.changeVersion,
		version:       b.version,
	}
}

// UnsafePtr returns the address of the first element.
func (b DynamicBuffer[T]) UnsafePtr() unsafe.Pointer {
	b.checkRead()
	return b.header.data(b.heap)
}

func (b DynamicBuffer[T]) inlineCapacity() int {
	return int(b.header.inlineCap)
}

// grow makes room for n elements, doubling the capacity and moving to a new
// heap block when the current storage is too small.
func (b DynamicBuffer[T]) grow(n int) {
	h := b.header
	if n <= int(h.capacity) {
		return
	}
	size := b.elemSize()
	capacity := max(n, 2*int(h.capacity))
	handle := b.heap.alloc(capacity * size)
	memCopy(b.heap.pointer(handle), h.data(b.heap), int(h.length)*size)
	if h.overflow != 0 {
		b.heap.release(h.overflow)
	}
	h.overflow = handle
	h.capacity = int32(capacity)
}

// ReinterpretBuffer views a buffer of T as a buffer of U. Both element types
// must have the same size.
func ReinterpretBuffer[U, T any](b DynamicBuffer[T]) (DynamicBuffer[U], error) {
	if unsafe.Sizeof(*new(U)) != unsafe.Sizeof(*new(T)) {
		return DynamicBuffer[U]{}, invalidOperation("cannot reinterpret %d-byte elements as %d-byte elements",
			unsafe.Sizeof(*new(T)), unsafe.Sizeof(*new(U)))
	}
	return DynamicBuffer[U]{
		header:        b.header,
		heap:          b.heap,
		safety:        b.safety,
		readOnly:      b.readOnly,
		changeVersion: b.changeVersion,
		version:       b.version,
	}, nil
}

func memMove(dst, src unsafe.Pointer, size int) {
	if size <= 0 {
		return
	}
	// copy handles overlapping ranges
	copy(unsafe.Slice((*byte)(dst), size), unsafe.Slice((*byte)(src), size))
}
