package ecs

import (
	"slices"
)

// ComponentDataArray spans one component column across every chunk of a
// component group, indexed in group iteration order.
type ComponentDataArray[T any] struct {
	segments []NativeArray[T]
	starts   []int
	length   int
}

// GetComponentDataArray returns the group's column for T. T must be part of
// the group; its access mode decides whether the array is writable.
func GetComponentDataArray[T any](g *ComponentGroup) (ComponentDataArray[T], error) {
	if err := g.check(); err != nil {
		return ComponentDataArray[T]{}, err
	}
	info, err := dataInfo[T](g.s)
	if err != nil {
		return ComponentDataArray[T]{}, err
	}
	readOnly, err := g.accessFor(info)
	if err != nil {
		return ComponentDataArray[T]{}, err
	}
	if err := g.completeFilterDependencies(); err != nil {
		return ComponentDataArray[T]{}, err
	}
	h := ComponentTypeHandle[T]{index: info.Index, readOnly: readOnly, storage: g.s}
	safety := g.s.safety.handle()
	var out ComponentDataArray[T]
	for c := range g.chunks() {
		out.starts = append(out.starts, out.length)
		out.segments = append(out.segments, GetNativeArray(ArchetypeChunk{c: c, s: g.s, safety: safety}, h))
		out.length += c.count
	}
	return out, nil
}

func (a ComponentDataArray[T]) Len() int {
	return a.length
}

func (a ComponentDataArray[T]) locate(i int) (NativeArray[T], int) {
	if i < 0 || i >= a.length {
		panic(argumentError("index %d out of range [0, %d)", i, a.length))
	}
	seg, found := slices.BinarySearch(a.starts, i)
	if !found {
		seg--
	}
	return a.segments[seg], i - a.starts[seg]
}

func (a ComponentDataArray[T]) Get(i int) T {
	seg, j := a.locate(i)
	return seg.Get(j)
}

func (a ComponentDataArray[T]) Set(i int, v T) {
	seg, j := a.locate(i)
	seg.Set(j, v)
}

func (a ComponentDataArray[T]) Ref(i int) *T {
	seg, j := a.locate(i)
	return seg.Ref(j)
}

// ToSlice copies every element in iteration order.
func (a ComponentDataArray[T]) ToSlice() []T {
	out := make([]T, 0, a.length)
	for _, seg := range a.segments {
		out = append(out, seg.ToSlice()...)
	}
	return out
}

// BufferArray spans one buffer column across every chunk of a group.
type BufferArray[T any] struct {
	segments []BufferAccessor[T]
	starts   []int
	length   int
}

// GetBufferArray returns the group's buffers of T.
func GetBufferArray[T any](g *ComponentGroup) (BufferArray[T], error) {
	if err := g.check(); err != nil {
		return BufferArray[T]{}, err
	}
	info, err := bufferInfo[T](g.s)
	if err != nil {
		return BufferArray[T]{}, err
	}
	readOnly, err := g.accessFor(info)
	if err != nil {
		return BufferArray[T]{}, err
	}
	if err := g.completeFilterDependencies(); err != nil {
		return BufferArray[T]{}, err
	}
	h := BufferTypeHandle[T]{index: info.Index, readOnly: readOnly, storage: g.s}
	safety := g.s.safety.handle()
	var out BufferArray[T]
	for c := range g.chunks() {
		out.starts = append(out.starts, out.length)
		out.segments = append(out.segments, GetBufferAccessor(ArchetypeChunk{c: c, s: g.s, safety: safety}, h))
		out.length += c.count
	}
	return out, nil
}

func (a BufferArray[T]) Len() int {
	return a.length
}

func (a BufferArray[T]) Get(i int) DynamicBuffer[T] {
	if i < 0 || i >= a.length {
		panic(argumentError("index %d out of range [0, %d)", i, a.length))
	}
	seg, found := slices.BinarySearch(a.starts, i)
	if !found {
		seg--
	}
	return a.segments[seg].Get(i - a.starts[seg])
}
