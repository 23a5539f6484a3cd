package ecs

// EntityManager is implemented by *Storage for main-thread access and by
// *ExclusiveEntityTransaction for access from the job owning a transaction.
type EntityManager interface {
	read() (*Storage, error)
	write() (*Storage, func(), error)
}

func (s *Storage) read() (*Storage, error) {
	return s, s.checkMainThread()
}

func (s *Storage) write() (*Storage, func(), error) {
	if err := s.beginStructural(); err != nil {
		return nil, nil, err
	}
	return s, s.endStructural, nil
}

// dataColumn locates the column of info for a live entity.
func (s *Storage) dataColumn(e Entity, info *TypeInfo) (*chunk, int, int, error) {
	loc := s.entities.info(e)
	if loc == nil {
		return nil, 0, 0, entityNotFound(e)
	}
	c := loc.chunk
	col := c.archetype.indexOf(info.Index)
	if col < 0 {
		return nil, 0, 0, argumentError("%v does not have %s", e, info.Name)
	}
	return c, col, loc.indexInChunk, nil
}

func dataInfo[T any](s *Storage) (*TypeInfo, error) {
	info, err := infoOf[T](s.registry)
	if err != nil {
		return nil, err
	}
	switch info.Category {
	case CategoryData, CategorySystemState, CategoryTag:
	default:
		return nil, argumentError("%s is a %s component", info.Name, info.Category)
	}
	if info.IsZeroSized() {
		return nil, invalidOperation("%s has no data", info.Name)
	}
	return info, nil
}

// GetComponentData returns a copy of e's component T.
func GetComponentData[T any](m EntityManager, e Entity) (T, error) {
	var zero T
	s, err := m.read()
	if err != nil {
		return zero, err
	}
	info, err := dataInfo[T](s)
	if err != nil {
		return zero, err
	}
	if err := s.deps.CompleteWrite(info.Index); err != nil {
		return zero, err
	}
	c, col, row, err := s.dataColumn(e, info)
	if err != nil {
		return zero, err
	}
	return *(*T)(c.element(col, row)), nil
}

// SetComponentData overwrites e's component T and records the write.
func SetComponentData[T any](m EntityManager, e Entity, v T) error {
	s, err := m.read()
	if err != nil {
		return err
	}
	info, err := dataInfo[T](s)
	if err != nil {
		return err
	}
	if err := s.deps.CompleteReadWrite(info.Index); err != nil {
		return err
	}
	c, col, row, err := s.dataColumn(e, info)
	if err != nil {
		return err
	}
	*(*T)(c.element(col, row)) = v
	c.setChangeVersion(col, s.version.Current())
	return nil
}

// AddComponentData adds component T to e and sets its value. A zero-sized T
// is added as a tag and a shared T joins the chunk group holding v. Buffer
// element types are added with AddBuffer.
func AddComponentData[T any](m EntityManager, e Entity, v T) error {
	s, done, err := m.write()
	if err != nil {
		return err
	}
	defer done()
	info, err := infoOf[T](s.registry)
	if err != nil {
		return err
	}
	switch info.Category {
	case CategoryBuffer:
		return argumentError("%s is a buffer element type, use AddBuffer", info.Name)
	case CategoryShared:
		return s.setShared(e, info, v, true)
	}
	if err := s.addComponent(e, info.Index, 0); err != nil {
		return err
	}
	if info.IsZeroSized() {
		return nil
	}
	c, col, row, err := s.dataColumn(e, info)
	if err != nil {
		return err
	}
	*(*T)(c.element(col, row)) = v
	return nil
}

// RemoveComponentData removes component T from e.
func RemoveComponentData[T any](m EntityManager, e Entity) error {
	s, done, err := m.write()
	if err != nil {
		return err
	}
	defer done()
	info, err := infoOf[T](s.registry)
	if err != nil {
		return err
	}
	return s.removeComponent(e, info.Index)
}

// HasComponent reports whether e is alive and has component T.
func HasComponent[T any](m EntityManager, e Entity) bool {
	s, err := m.read()
	if err != nil {
		return false
	}
	idx, ok := TypeIndexOf[T](s.registry)
	if !ok {
		return false
	}
	loc := s.entities.info(e)
	return loc != nil && loc.chunk.archetype.Has(idx)
}

func sharedInfo[T comparable](s *Storage) (*TypeInfo, error) {
	info, err := infoOf[T](s.registry)
	if err != nil {
		return nil, err
	}
	if info.Category != CategoryShared {
		return nil, argumentError("%s is not a shared component", info.Name)
	}
	return info, nil
}

// GetSharedComponentData returns e's value of shared component T.
func GetSharedComponentData[T comparable](m EntityManager, e Entity) (T, error) {
	var zero T
	s, err := m.read()
	if err != nil {
		return zero, err
	}
	info, err := sharedInfo[T](s)
	if err != nil {
		return zero, err
	}
	loc := s.entities.info(e)
	if loc == nil {
		return zero, entityNotFound(e)
	}
	slot := loc.chunk.archetype.sharedSlotOf(info.Index)
	if slot < 0 {
		return zero, argumentError("%v does not have %s", e, info.Name)
	}
	return s.shared.value(info, loc.chunk.sharedValues[slot]).(T), nil
}

// SetSharedComponentData moves e to the chunk group of value v.
func SetSharedComponentData[T comparable](m EntityManager, e Entity, v T) error {
	s, done, err := m.write()
	if err != nil {
		return err
	}
	defer done()
	info, err := sharedInfo[T](s)
	if err != nil {
		return err
	}
	return s.setShared(e, info, v, false)
}

// AddSharedComponentData adds shared component T with value v to e.
func AddSharedComponentData[T comparable](m EntityManager, e Entity, v T) error {
	s, done, err := m.write()
	if err != nil {
		return err
	}
	defer done()
	info, err := sharedInfo[T](s)
	if err != nil {
		return err
	}
	return s.setShared(e, info, v, true)
}

// GetSharedComponentIndex returns the interned index of e's value of shared
// type t. Index 0 is the default value.
func (s *Storage) GetSharedComponentIndex(e Entity, t TypeIndex) (int, error) {
	loc := s.entities.info(e)
	if loc == nil {
		return 0, entityNotFound(e)
	}
	slot := loc.chunk.archetype.sharedSlotOf(t)
	if slot < 0 {
		return 0, argumentError("%v does not have shared type %d", e, t)
	}
	return loc.chunk.sharedValues[slot], nil
}

func bufferInfo[T any](s *Storage) (*TypeInfo, error) {
	info, err := infoOf[T](s.registry)
	if err != nil {
		return nil, err
	}
	if info.Category != CategoryBuffer {
		return nil, argumentError("%s is not a buffer element", info.Name)
	}
	return info, nil
}

// GetBuffer returns a read-write view of e's buffer of T.
func GetBuffer[T any](m EntityManager, e Entity) (DynamicBuffer[T], error) {
	return getBuffer[T](m, e, false)
}

// GetBufferReadOnly returns a read-only view of e's buffer of T.
func GetBufferReadOnly[T any](m EntityManager, e Entity) (DynamicBuffer[T], error) {
	return getBuffer[T](m, e, true)
}

func getBuffer[T any](m EntityManager, e Entity, readOnly bool) (DynamicBuffer[T], error) {
	s, err := m.read()
	if err != nil {
		return DynamicBuffer[T]{}, err
	}
	info, err := bufferInfo[T](s)
	if err != nil {
		return DynamicBuffer[T]{}, err
	}
	if readOnly {
		err = s.deps.CompleteWrite(info.Index)
	} else {
		err = s.deps.CompleteReadWrite(info.Index)
	}
	if err != nil {
		return DynamicBuffer[T]{}, err
	}
	c, col, row, err := s.dataColumn(e, info)
	if err != nil {
		return DynamicBuffer[T]{}, err
	}
	p, cv := c.element(col, row), &c.changeVersions[col]
	return newDynamicBuffer[T](p, s.heap, s.safety.handle(), readOnly, cv, s.version), nil
}

// AddBuffer adds an empty buffer of T to e and returns a view of it.
func AddBuffer[T any](m EntityManager, e Entity) (DynamicBuffer[T], error) {
	s, done, err := m.write()
	if err != nil {
		return DynamicBuffer[T]{}, err
	}
	info, err := bufferInfo[T](s)
	if err == nil {
		err = s.addComponent(e, info.Index, 0)
	}
	done()
	if err != nil {
		return DynamicBuffer[T]{}, err
	}
	c, col, row, err := s.dataColumn(e, info)
	if err != nil {
		return DynamicBuffer[T]{}, err
	}
	p, cv := c.element(col, row), &c.changeVersions[col]
	return newDynamicBuffer[T](p, s.heap, s.safety.handle(), false, cv, s.version), nil
}
