package ecs

import (
	"iter"
	"reflect"
	"strings"
	"unsafe"

	"github.com/rotisserie/eris"
)

// View is a typed query for entities with a specific combination of components.
// The type T must be a struct whose fields are pointers to registered data or
// tag components. Embedded fields are always required.
//
// Named fields accept a comma separated `ecs` tag:
//
//	optional  the component may be missing; the field is nil then
//	readonly  writes through the field are not recorded as changes
//	changed   only chunks where this component changed since the last
//	          system version are enumerated
//
// Pointers handed out by a view point into chunk memory and must not be kept
// across structural changes.
type View[T any] struct {
	storage *Storage
	group   *ComponentGroup
	fields  []viewField

	// archetype of the required (non-optional) components, used by Spawn
	spawnArchetype *Archetype
}

type viewField struct {
	info     *TypeInfo
	offset   uintptr
	optional bool
	readOnly bool
	changed  bool
}

// NewView creates a view over storage. It panics when T is not a valid view
// struct or names an unregistered component.
func NewView[T any](storage *Storage) *View[T] {
	v, err := newView[T](storage)
	if err != nil {
		panic(err)
	}
	return v
}

func newView[T any](storage *Storage) (*View[T], error) {
	structType := reflect.TypeFor[T]()
	if structType.Kind() != reflect.Struct {
		return nil, argumentError("view type parameter %v must be a struct", structType)
	}

	v := &View[T]{storage: storage}
	var desc EntityQueryDesc
	var changed []TypeIndex
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if field.Type.Kind() != reflect.Pointer {
			return nil, argumentError("view field %s must be a pointer type", field.Name)
		}
		info, err := storage.registry.infoForType(field.Type.Elem())
		if err != nil {
			return nil, eris.Wrapf(err, "view field %s", field.Name)
		}
		switch info.Category {
		case CategoryData, CategoryTag, CategorySystemState:
		default:
			return nil, argumentError("view field %s: %s is a %s component", field.Name, info.Name, info.Category)
		}

		f := viewField{info: info, offset: field.Offset}
		if tag := field.Tag.Get("ecs"); tag != "" {
			for _, opt := range strings.Split(tag, ",") {
				switch strings.TrimSpace(opt) {
				case "optional":
					if field.Anonymous {
						return nil, argumentError("embedded view field %s cannot be optional", field.Name)
					}
					f.optional = true
				case "readonly":
					f.readOnly = true
				case "changed":
					f.changed = true
				default:
					return nil, argumentError("invalid ecs tag value %q on field %s", opt, field.Name)
				}
			}
		}
		if info.Index == EntityTypeIndex || info.IsZeroSized() {
			f.readOnly = true
		}
		if f.changed && f.optional {
			return nil, argumentError("view field %s cannot be both optional and changed", field.Name)
		}
		if f.changed {
			changed = append(changed, info.Index)
		}
		if !f.optional {
			mode := ReadWrite
			if f.readOnly {
				mode = ReadOnly
			}
			desc.All = append(desc.All, ComponentType{TypeIndex: info.Index, AccessMode: mode})
		}
		v.fields = append(v.fields, f)
	}

	group, err := storage.GetComponentGroup(desc)
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		if err := group.SetFilterChanged(changed...); err != nil {
			return nil, err
		}
	}
	v.group = group
	return v, nil
}

// Group returns the component group the view enumerates.
func (v *View[T]) Group() *ComponentGroup {
	return v.group
}

// sync waits for jobs touching the view's components. Job failures and
// misuse from another goroutine panic.
func (v *View[T]) sync() {
	if err := v.storage.checkMainThread(); err != nil {
		panic(err)
	}
	for _, f := range v.fields {
		var err error
		if f.readOnly {
			err = v.storage.deps.CompleteWrite(f.info.Index)
		} else {
			err = v.storage.deps.CompleteReadWrite(f.info.Index)
		}
		if err != nil {
			panic(err)
		}
	}
}

// columns resolves the column of every field in a, or -1 when missing.
// It reports false when a required field is missing.
func (v *View[T]) columns(a *Archetype, cols []int) bool {
	for i, f := range v.fields {
		cols[i] = a.indexOf(f.info.Index)
		if cols[i] < 0 && !f.optional {
			return false
		}
	}
	return true
}

// markWritten records the writable columns of c as changed.
func (v *View[T]) markWritten(c *chunk, cols []int, version uint32) {
	for i, f := range v.fields {
		if cols[i] >= 0 && !f.readOnly {
			c.setChangeVersion(cols[i], version)
		}
	}
}

func (v *View[T]) populate(resultPtr unsafe.Pointer, c *chunk, row int, cols []int) {
	for i, f := range v.fields {
		fieldPtr := unsafe.Add(resultPtr, f.offset)
		if cols[i] < 0 {
			*(*unsafe.Pointer)(fieldPtr) = nil
			continue
		}
		*(*unsafe.Pointer)(fieldPtr) = c.element(cols[i], row)
	}
}

// Fill populates ptr with component pointers for e. It returns false if e is
// not alive or is missing any required component. Missing optional
// components leave their field nil.
func (v *View[T]) Fill(e Entity, ptr *T) bool {
	v.sync()
	loc := v.storage.entities.info(e)
	if loc == nil {
		return false
	}
	c := loc.chunk
	cols := make([]int, len(v.fields))
	if !v.columns(c.archetype, cols) {
		return false
	}
	v.markWritten(c, cols, v.storage.version.Current())
	v.populate(unsafe.Pointer(ptr), c, loc.indexInChunk, cols)
	return true
}

// Get returns a populated view struct for e, or nil if e doesn't have all the
// required components.
func (v *View[T]) Get(e Entity) *T {
	var result T
	if !v.Fill(e, &result) {
		return nil
	}
	return &result
}

// Iter returns an iterator over every entity matching the view, in chunk
// order. A structural change made while iterating panics on the next step.
func (v *View[T]) Iter() iter.Seq2[Entity, T] {
	return func(yield func(Entity, T) bool) {
		v.sync()
		safety := v.storage.safety.handle()
		version := v.storage.version.Current()
		cols := make([]int, len(v.fields))

		var result T
		resultPtr := unsafe.Pointer(&result)
		for c := range v.group.chunks() {
			safety.check()
			v.columns(c.archetype, cols)
			v.markWritten(c, cols, version)
			for row := 0; row < c.count; row++ {
				v.populate(resultPtr, c, row, cols)
				if !yield(c.entityAt(row), result) {
					return
				}
				safety.check()
			}
		}
	}
}

// Values returns an iterator over just the view structs.
func (v *View[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, value := range v.Iter() {
			if !yield(value) {
				return
			}
		}
	}
}

// Len returns the number of entities the view enumerates.
func (v *View[T]) Len() int {
	n, err := v.group.CalculateLength()
	if err != nil {
		panic(err)
	}
	return n
}

// Spawn creates an entity with the components pointed to by data. Nil
// optional fields are left out; nil required fields are an error.
func (v *View[T]) Spawn(data T) (Entity, error) {
	structPtr := unsafe.Pointer(&data)

	a := v.spawnArchetype
	allRequired := true
	types := make([]TypeIndex, 0, len(v.fields))
	for _, f := range v.fields {
		ptr := *(*unsafe.Pointer)(unsafe.Add(structPtr, f.offset))
		if f.info.Index == EntityTypeIndex {
			continue
		}
		if ptr == nil {
			if !f.optional {
				return Null, argumentError("required component %s is nil", f.info.Name)
			}
			continue
		}
		if f.optional {
			allRequired = false
		}
		types = append(types, f.info.Index)
	}
	if a == nil || !allRequired {
		var err error
		a, err = v.storage.getOrCreateArchetype(types)
		if err != nil {
			return Null, err
		}
		if allRequired {
			v.spawnArchetype = a
		}
	}

	e, err := v.storage.CreateEntity(a)
	if err != nil {
		return Null, err
	}
	loc := v.storage.entities.info(e)
	c, row := loc.chunk, loc.indexInChunk
	for _, f := range v.fields {
		if f.info.Index == EntityTypeIndex || f.info.IsZeroSized() {
			continue
		}
		ptr := *(*unsafe.Pointer)(unsafe.Add(structPtr, f.offset))
		if ptr == nil {
			continue
		}
		memCopy(c.element(a.indexOf(f.info.Index), row), ptr, f.info.Size)
	}
	return e, nil
}
