package ecs

import "unsafe"

// eface mirrors the runtime layout of an empty interface.
type eface struct {
	typ  unsafe.Pointer
	data unsafe.Pointer
}

// valueData returns the address and size of a component value boxed in v.
// Blittable shapes are never pointer-shaped, so the data word always points
// at the boxed copy.
func valueData(v any, info *TypeInfo) (unsafe.Pointer, int) {
	if info.IsZeroSized() {
		return nil, 0
	}
	return (*eface)(unsafe.Pointer(&v)).data, info.Size
}
