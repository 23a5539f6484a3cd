package ecs

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rotisserie/eris"
)

// TypeIndex identifies a registered component shape within a ComponentRegistry.
type TypeIndex int32

// Category classifies how a component type is stored.
type Category uint8

const (
	// CategoryData is a plain per-entity value stored in a chunk column.
	CategoryData Category = iota
	// CategoryBuffer is a per-entity dynamic array with inline capacity.
	CategoryBuffer
	// CategoryShared is a de-duplicated value shared by every entity in a chunk.
	CategoryShared
	// CategoryTag is a zero-sized marker without data.
	CategoryTag
	// CategorySystemState is per-entity data that survives DestroyEntity.
	CategorySystemState
)

func (c Category) String() string {
	switch c {
	case CategoryData:
		return "data"
	case CategoryBuffer:
		return "buffer"
	case CategoryShared:
		return "shared"
	case CategoryTag:
		return "tag"
	case CategorySystemState:
		return "system-state"
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Built-in type indices present in every registry.
const (
	EntityTypeIndex TypeIndex = iota
	DisabledTypeIndex
	PrefabTypeIndex
	CleanupEntityTypeIndex
)

// Disabled hides an entity from every query that does not ask for it.
type Disabled struct{}

// Prefab marks template entities. Queries skip them unless asked, and
// Instantiate strips the tag from the copies.
type Prefab struct{}

// CleanupEntity marks a destroyed entity that is kept alive by its
// system-state components.
type CleanupEntity struct{}

const (
	// bufferHeaderSize is the in-chunk size of a buffer header.
	bufferHeaderSize = 16
	// defaultBufferBytes is the inline byte budget for buffers registered
	// without an explicit capacity.
	defaultBufferBytes = 128
)

// TypeInfo describes the blittable layout of a registered component type.
type TypeInfo struct {
	Index    TypeIndex
	Type     reflect.Type
	Name     string
	Category Category

	// SystemState is set for system-state data and system-state tags.
	SystemState bool

	// Size and Alignment describe one value (one element for buffers).
	Size      int
	Alignment int

	// BufferCapacity is the number of elements stored inline in the chunk.
	BufferCapacity int

	// EntityOffsets lists the byte offset of every Entity field inside one
	// value, found recursively through nested structs and arrays.
	EntityOffsets []int

	// chunkSize is the number of bytes one entity occupies in this type's
	// chunk column.
	chunkSize int
	blittable bool
}

// IsZeroSized reports whether the type carries no per-entity data.
func (t *TypeInfo) IsZeroSized() bool {
	return t.chunkSize == 0 && t.Category != CategoryBuffer
}

// HasEntityReferences reports whether values of this type embed entities.
func (t *TypeInfo) HasEntityReferences() bool {
	return len(t.EntityOffsets) > 0
}

func (t *TypeInfo) String() string {
	return t.Name
}

// ComponentRegistry assigns stable type indices to component shapes.
// Registration is idempotent: the same shape always yields the same index.
type ComponentRegistry struct {
	mu     sync.RWMutex
	infos  []*TypeInfo
	byType map[reflect.Type]TypeIndex
	byName map[string]TypeIndex
}

// NewComponentRegistry creates a registry holding only the built-in types.
func NewComponentRegistry() *ComponentRegistry {
	r := &ComponentRegistry{
		byType: make(map[reflect.Type]TypeIndex),
		byName: make(map[string]TypeIndex),
	}
	r.mustBuiltin(reflect.TypeFor[Entity](), CategoryData, false)
	r.mustBuiltin(reflect.TypeFor[Disabled](), CategoryTag, false)
	r.mustBuiltin(reflect.TypeFor[Prefab](), CategoryTag, false)
	r.mustBuiltin(reflect.TypeFor[CleanupEntity](), CategoryTag, true)
	return r
}

func (r *ComponentRegistry) mustBuiltin(t reflect.Type, category Category, systemState bool) {
	if _, err := r.register(t, category, systemState, 0); err != nil {
		panic(err)
	}
}

// TypeOption configures the registration of a buffer element type.
type TypeOption func(*typeOptions)

type typeOptions struct {
	bufferCapacity int
}

// WithBufferCapacity sets the number of elements a buffer stores inside the
// chunk before it spills to the heap.
func WithBufferCapacity(n int) TypeOption {
	return func(o *typeOptions) {
		o.bufferCapacity = n
	}
}

// RegisterComponent registers T as per-entity data, or as a tag when T is an
// empty struct. T must be blittable.
func RegisterComponent[T any](r *ComponentRegistry) (TypeIndex, error) {
	t := reflect.TypeFor[T]()
	category := CategoryData
	if t.Size() == 0 {
		category = CategoryTag
	}
	return r.register(t, category, false, 0)
}

// RegisterBuffer registers T as a buffer element type.
func RegisterBuffer[T any](r *ComponentRegistry, opts ...TypeOption) (TypeIndex, error) {
	var o typeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return r.register(reflect.TypeFor[T](), CategoryBuffer, false, o.bufferCapacity)
}

// RegisterShared registers T as a shared component. Shared values are
// compared with ==.
func RegisterShared[T comparable](r *ComponentRegistry) (TypeIndex, error) {
	return r.register(reflect.TypeFor[T](), CategoryShared, false, 0)
}

// RegisterSystemState registers T as system-state data. Entities keep their
// system-state components after DestroyEntity until they are removed.
func RegisterSystemState[T any](r *ComponentRegistry) (TypeIndex, error) {
	return r.register(reflect.TypeFor[T](), CategorySystemState, true, 0)
}

// Must panics when err is not nil and returns v otherwise.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// TypeIndexOf returns the index T was registered with.
func TypeIndexOf[T any](r *ComponentRegistry) (TypeIndex, bool) {
	return r.IndexOf(reflect.TypeFor[T]())
}

// IndexOf returns the index the given type was registered with.
func (r *ComponentRegistry) IndexOf(t reflect.Type) (TypeIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byType[t]
	return idx, ok
}

// IndexByName resolves a type by its registered name.
func (r *ComponentRegistry) IndexByName(name string) (TypeIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byName[name]
	return idx, ok
}

// Info returns the layout of a registered type.
func (r *ComponentRegistry) Info(idx TypeIndex) *TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx < 0 || int(idx) >= len(r.infos) {
		return nil
	}
	return r.infos[idx]
}

// Count returns the number of registered types, built-ins included.
func (r *ComponentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.infos)
}

// infoOf resolves T, failing when T was never registered.
func infoOf[T any](r *ComponentRegistry) (*TypeInfo, error) {
	return r.infoForType(reflect.TypeFor[T]())
}

func (r *ComponentRegistry) infoForType(t reflect.Type) (*TypeInfo, error) {
	idx, ok := r.IndexOf(t)
	if !ok {
		return nil, eris.Wrapf(ErrArgument, "component type %s not registered", t)
	}
	return r.Info(idx), nil
}

func (r *ComponentRegistry) register(t reflect.Type, category Category, systemState bool, capacity int) (TypeIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.byType[t]; ok {
		existing := r.infos[idx]
		if existing.Category != category {
			return 0, eris.Wrapf(ErrInvalidComponentType, "%s already registered as %s", t, existing.Category)
		}
		return idx, nil
	}

	info := &TypeInfo{
		Index:       TypeIndex(len(r.infos)),
		Type:        t,
		Name:        typeName(t),
		Category:    category,
		SystemState: systemState,
		Size:        int(t.Size()),
		Alignment:   t.Align(),
		blittable:   isBlittable(t),
	}

	switch category {
	case CategoryData, CategorySystemState, CategoryTag:
		if !isBlittable(t) {
			return 0, eris.Wrapf(ErrInvalidComponentType, "%s is not blittable", t)
		}
		info.chunkSize = info.Size
		info.EntityOffsets = entityOffsets(t, 0, nil)
	case CategoryBuffer:
		if !isBlittable(t) {
			return 0, eris.Wrapf(ErrInvalidComponentType, "buffer element %s is not blittable", t)
		}
		if info.Size == 0 {
			return 0, eris.Wrapf(ErrInvalidComponentType, "buffer element %s has no data", t)
		}
		if capacity <= 0 {
			capacity = max(1, defaultBufferBytes/info.Size)
		}
		info.BufferCapacity = capacity
		info.chunkSize = alignUp(bufferHeaderSize+capacity*info.Size, 8)
		info.EntityOffsets = entityOffsets(t, 0, nil)
	case CategoryShared:
		if !t.Comparable() || hasInterface(t) {
			return 0, eris.Wrapf(ErrInvalidComponentType, "shared component %s is not comparable", t)
		}
		// non-blittable values are persisted as JSON, which skips unexported fields
		if !info.blittable && hasUnexported(t) {
			return 0, eris.Wrapf(ErrInvalidComponentType, "shared component %s has unexported fields", t)
		}
	}

	if _, ok := r.byName[info.Name]; ok {
		return 0, eris.Wrapf(ErrInvalidComponentType, "a different type is already registered as %q", info.Name)
	}

	r.infos = append(r.infos, info)
	r.byType[t] = info.Index
	r.byName[info.Name] = info.Index
	return info.Index, nil
}

func typeName(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// hasInterface reports whether an interface hides anywhere in t. Such values
// compare by dynamic type and can panic as map keys.
func hasInterface(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface:
		return true
	case reflect.Array:
		return hasInterface(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasInterface(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

func hasUnexported(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array:
		return hasUnexported(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || hasUnexported(f.Type) {
				return true
			}
		}
	}
	return false
}

// isBlittable reports whether values of t can be relocated with a plain
// memory copy: no pointers, slices, maps, strings, interfaces, channels or
// functions anywhere in the shape.
func isBlittable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return isBlittable(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !isBlittable(t.Field(i).Type) {
				return false
			}
		}
		return true
	}
	return false
}

var entityType = reflect.TypeFor[Entity]()

func entityOffsets(t reflect.Type, base int, out []int) []int {
	if t == entityType {
		return append(out, base)
	}
	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			out = entityOffsets(f.Type, base+int(f.Offset), out)
		}
	case reflect.Array:
		elem := t.Elem()
		if len(entityOffsets(elem, 0, nil)) == 0 {
			return out
		}
		for i := 0; i < t.Len(); i++ {
			out = entityOffsets(elem, base+i*int(elem.Size()), out)
		}
	}
	return out
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
