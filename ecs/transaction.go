package ecs

import (
	"sync"
	"sync/atomic"
)

type transactionState struct {
	active atomic.Bool
	mu     sync.Mutex
	handle JobHandle
	txn    *ExclusiveEntityTransaction
}

// ExclusiveEntityTransaction grants one job create and mutate rights over a
// whole storage. While it is open every main-thread access to the storage
// fails with ErrInvalidOperation.
type ExclusiveEntityTransaction struct {
	s *Storage
}

// BeginExclusiveEntityTransaction completes all jobs touching the storage and
// hands it over to a transaction.
func (s *Storage) BeginExclusiveEntityTransaction() (*ExclusiveEntityTransaction, error) {
	if err := s.checkMainThread(); err != nil {
		return nil, err
	}
	if err := s.deps.CompleteAll(); err != nil {
		return nil, err
	}
	s.transaction.mu.Lock()
	defer s.transaction.mu.Unlock()
	txn := &ExclusiveEntityTransaction{s: s}
	s.transaction.txn = txn
	s.transaction.handle = JobHandle{}
	s.transaction.active.Store(true)
	s.safety.invalidate()
	s.logger.Debug().Msg("exclusive transaction started")
	return txn, nil
}

// SetExclusiveTransactionDependency registers the job that uses the open
// transaction.
func (s *Storage) SetExclusiveTransactionDependency(h JobHandle) error {
	s.transaction.mu.Lock()
	defer s.transaction.mu.Unlock()
	if !s.transaction.active.Load() {
		return invalidOperation("no exclusive transaction in progress")
	}
	if !h.DependsOn(s.transaction.handle) {
		return invalidOperation("transaction job does not depend on the registered transaction job")
	}
	s.transaction.handle = h
	return nil
}

// ExclusiveTransactionDependency returns the job registered for the open
// transaction.
func (s *Storage) ExclusiveTransactionDependency() JobHandle {
	s.transaction.mu.Lock()
	defer s.transaction.mu.Unlock()
	return s.transaction.handle
}

// EndExclusiveEntityTransaction completes the transaction job and returns the
// storage to the main thread. Passing a handle other than the registered one
// is an error; the transaction is ended regardless.
func (s *Storage) EndExclusiveEntityTransaction(h JobHandle) error {
	s.transaction.mu.Lock()
	if !s.transaction.active.Load() {
		s.transaction.mu.Unlock()
		return invalidOperation("no exclusive transaction in progress")
	}
	registered := s.transaction.handle
	s.transaction.handle = JobHandle{}
	s.transaction.txn = nil
	s.transaction.mu.Unlock()

	var err error
	if h.j != registered.j {
		err = invalidOperation("ending transaction with a job that was never registered")
	}
	if cerr := registered.Complete(); err == nil {
		err = cerr
	}
	if cerr := h.Complete(); err == nil {
		err = cerr
	}
	s.transaction.active.Store(false)
	s.safety.invalidate()
	s.logger.Debug().Msg("exclusive transaction ended")
	return err
}

func (t *ExclusiveEntityTransaction) check() error {
	t.s.transaction.mu.Lock()
	current := t.s.transaction.txn
	t.s.transaction.mu.Unlock()
	if !t.s.transaction.active.Load() || current != t {
		return invalidOperation("exclusive transaction already ended")
	}
	return nil
}

func (t *ExclusiveEntityTransaction) read() (*Storage, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if t.s.mutating.Load() {
		return nil, invalidOperation("storage accessed during a structural change")
	}
	return t.s, nil
}

func (t *ExclusiveEntityTransaction) write() (*Storage, func(), error) {
	if err := t.check(); err != nil {
		return nil, nil, err
	}
	if err := t.s.lockStructural(); err != nil {
		return nil, nil, err
	}
	return t.s, t.s.endStructural, nil
}

// Storage returns the storage the transaction operates on.
func (t *ExclusiveEntityTransaction) Storage() *Storage {
	return t.s
}

func (t *ExclusiveEntityTransaction) CreateArchetype(types ...TypeIndex) (*Archetype, error) {
	s, done, err := t.write()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.getOrCreateArchetype(types)
}

func (t *ExclusiveEntityTransaction) CreateEntity(a *Archetype) (Entity, error) {
	var out [1]Entity
	if err := t.CreateEntities(a, out[:]); err != nil {
		return Null, err
	}
	return out[0], nil
}

func (t *ExclusiveEntityTransaction) CreateEntities(a *Archetype, out []Entity) error {
	if a == nil {
		return argumentError("nil archetype")
	}
	s, done, err := t.write()
	if err != nil {
		return err
	}
	defer done()
	return s.createEntities(a, out)
}

func (t *ExclusiveEntityTransaction) Instantiate(src Entity, out []Entity) error {
	s, done, err := t.write()
	if err != nil {
		return err
	}
	defer done()
	s.version.Bump()
	return s.instantiate(src, out)
}

func (t *ExclusiveEntityTransaction) DestroyEntity(e Entity) error {
	s, done, err := t.write()
	if err != nil {
		return err
	}
	defer done()
	return s.destroyEntity(e)
}

func (t *ExclusiveEntityTransaction) DestroyEntities(es []Entity) error {
	s, done, err := t.write()
	if err != nil {
		return err
	}
	defer done()
	return s.destroyEntities(es)
}

func (t *ExclusiveEntityTransaction) AddComponent(e Entity, typ TypeIndex) error {
	s, done, err := t.write()
	if err != nil {
		return err
	}
	defer done()
	return s.addComponent(e, typ, 0)
}

func (t *ExclusiveEntityTransaction) RemoveComponent(e Entity, typ TypeIndex) error {
	s, done, err := t.write()
	if err != nil {
		return err
	}
	defer done()
	return s.removeComponent(e, typ)
}

func (t *ExclusiveEntityTransaction) Exists(e Entity) bool {
	s, err := t.read()
	return err == nil && s.entities.exists(e)
}
