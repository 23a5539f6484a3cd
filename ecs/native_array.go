package ecs

import (
	"iter"
	"sync/atomic"
	"unsafe"
)

// NativeArray is a typed view over a contiguous column of chunk memory.
// Writes record the current global version as the column's change version.
type NativeArray[T any] struct {
	ptr           unsafe.Pointer
	length        int
	safety        safetyHandle
	readOnly      bool
	changeVersion *uint32
	version       *Version
}

func (a NativeArray[T]) checkRead(i int) {
	a.safety.check()
	if i < 0 || i >= a.length {
		panic(argumentError("index %d out of range [0, %d)", i, a.length))
	}
}

func (a NativeArray[T]) checkWrite(i int) {
	a.checkRead(i)
	if a.readOnly {
		usagePanic("write through a read-only array")
	}
	if a.changeVersion != nil && a.version != nil {
		storeChangeVersion(a.changeVersion, a.version.Current())
	}
}

func (a NativeArray[T]) at(i int) *T {
	return (*T)(unsafe.Add(a.ptr, uintptr(i)*unsafe.Sizeof(*new(T))))
}

// Len returns the number of elements.
func (a NativeArray[T]) Len() int {
	return a.length
}

// IsValid reports whether the array may still be used.
func (a NativeArray[T]) IsValid() bool {
	return a.safety.valid()
}

func (a NativeArray[T]) IsReadOnly() bool {
	return a.readOnly
}

func (a NativeArray[T]) Get(i int) T {
	a.checkRead(i)
	return *a.at(i)
}

func (a NativeArray[T]) Set(i int, v T) {
	a.checkWrite(i)
	*a.at(i) = v
}

// Ref returns a pointer to element i for in-place mutation.
func (a NativeArray[T]) Ref(i int) *T {
	a.checkWrite(i)
	return a.at(i)
}

// ToSlice copies the elements into a new slice.
func (a NativeArray[T]) ToSlice() []T {
	a.safety.check()
	out := make([]T, a.length)
	if a.length > 0 {
		copy(out, unsafe.Slice((*T)(a.ptr), a.length))
	}
	return out
}

// CopyFrom overwrites the elements with src, which must have the same length.
func (a NativeArray[T]) CopyFrom(src []T) {
	if len(src) != a.length {
		panic(argumentError("copying %d elements into an array of %d", len(src), a.length))
	}
	if a.length == 0 {
		return
	}
	a.checkWrite(0)
	copy(unsafe.Slice((*T)(a.ptr), a.length), src)
}

// All iterates the elements in order.
func (a NativeArray[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := 0; i < a.length; i++ {
			if !yield(i, a.Get(i)) {
				return
			}
		}
	}
}

// UnsafePtr returns the address of the first element.
func (a NativeArray[T]) UnsafePtr() unsafe.Pointer {
	a.safety.check()
	return a.ptr
}

func storeChangeVersion(p *uint32, v uint32) {
	atomic.StoreUint32(p, v)
}
