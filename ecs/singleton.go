package ecs

// Singleton provides access to the one entity carrying component T. Use it for
// global state, configuration or other single-instance data.
type Singleton[T any] struct {
	storage *Storage
	info    *TypeInfo
	entity  Entity
}

// NewSingleton creates a Singleton accessor for storage. If no entity carries
// T yet, one is created holding initializer (or the zero value). It fails when
// more than one entity carries T.
func NewSingleton[T any](storage *Storage, initializer ...T) (*Singleton[T], error) {
	s := &Singleton[T]{}
	if err := s.bind(storage); err != nil {
		return nil, err
	}
	e, err := s.resolve()
	if err != nil {
		return nil, err
	}
	if !e.IsNull() {
		return s, nil
	}

	a, err := storage.getOrCreateArchetype([]TypeIndex{s.info.Index})
	if err != nil {
		return nil, err
	}
	if e, err = storage.CreateEntity(a); err != nil {
		return nil, err
	}
	if len(initializer) > 0 {
		if err := SetComponentData(storage, e, initializer[0]); err != nil {
			return nil, err
		}
	}
	s.entity = e
	return s, nil
}

func (s *Singleton[T]) bind(storage *Storage) error {
	info, err := dataInfo[T](storage)
	if err != nil {
		return err
	}
	s.storage = storage
	s.info = info
	s.entity = Null
	return nil
}

// Init initializes the Singleton with a storage reference.
// This is called automatically by the Scheduler during system registration.
func (s *Singleton[T]) Init(storage *Storage) {
	if err := s.bind(storage); err != nil {
		panic(err)
	}
}

// resolve finds the entity carrying T, or Null.
func (s *Singleton[T]) resolve() (Entity, error) {
	if loc := s.storage.entities.info(s.entity); loc != nil && loc.chunk.archetype.Has(s.info.Index) {
		return s.entity, nil
	}
	s.entity = Null
	found := Null
	for _, a := range s.storage.archetypes {
		if !a.Has(s.info.Index) || a.entityCount == 0 {
			continue
		}
		if a.entityCount > 1 || !found.IsNull() {
			return Null, invalidOperation("more than one entity carries singleton %s", s.info.Name)
		}
		for _, c := range a.chunks {
			if c.count > 0 {
				found = c.entityAt(0)
			}
		}
	}
	s.entity = found
	return found, nil
}

// Entity returns the entity carrying T, or Null.
func (s *Singleton[T]) Entity() Entity {
	e, err := s.resolve()
	if err != nil {
		panic(err)
	}
	return e
}

// Get returns a pointer to the singleton component, or nil if no entity
// carries T. The pointer is valid until the next structural change.
func (s *Singleton[T]) Get() *T {
	e := s.Entity()
	if e.IsNull() {
		return nil
	}
	if err := s.storage.deps.CompleteReadWrite(s.info.Index); err != nil {
		panic(err)
	}
	c, col, row, err := s.storage.dataColumn(e, s.info)
	if err != nil {
		panic(err)
	}
	c.setChangeVersion(col, s.storage.version.Current())
	return (*T)(c.element(col, row))
}

// Exists reports whether an entity carries T.
func (s *Singleton[T]) Exists() bool {
	return !s.Entity().IsNull()
}
