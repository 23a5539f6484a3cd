package ecs

import (
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
	"github.com/kamstrup/intmap"
	"github.com/rs/zerolog"
)

// Storage is an entity/component database. Entities of the same archetype
// and shared-value group are packed into fixed-size chunks.
//
// A Storage is owned by one goroutine (the main thread). Jobs read and write
// component data concurrently through views registered with the storage's
// dependency manager; structural changes from other goroutines go through a
// command buffer or an exclusive entity transaction.
type Storage struct {
	id       uuid.UUID
	name     string
	registry *ComponentRegistry
	version  *Version
	logger   zerolog.Logger

	entities       entityTable
	archetypes     []*Archetype
	archetypeIndex *intmap.Map[uint64, []*Archetype]
	shared         *sharedStore
	heap           *bufferHeap
	safety         safetySource
	deps           *ComponentDependencyManager

	queries []*queryData
	groups  []weak.Pointer[ComponentGroup]

	componentOrder []uint32
	chunkSequence  uint64

	mutating    atomic.Bool
	transaction transactionState
}

// StorageOption configures a Storage.
type StorageOption func(*Storage)

// WithLogger sets the logger used for debug events. The default discards.
func WithLogger(logger zerolog.Logger) StorageOption {
	return func(s *Storage) {
		s.logger = logger
	}
}

// WithVersion shares a global system version between storages and systems.
func WithVersion(v *Version) StorageOption {
	return func(s *Storage) {
		s.version = v
	}
}

// WithName labels the storage in logs and snapshots.
func WithName(name string) StorageOption {
	return func(s *Storage) {
		s.name = name
	}
}

// NewStorage creates an empty storage for the component types of registry.
func NewStorage(registry *ComponentRegistry, opts ...StorageOption) *Storage {
	s := &Storage{
		id:             uuid.New(),
		name:           "storage",
		registry:       registry,
		logger:         zerolog.Nop(),
		archetypeIndex: intmap.New[uint64, []*Archetype](64),
		shared:         newSharedStore(),
		heap:           newBufferHeap(),
		deps:           newComponentDependencyManager(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.version == nil {
		s.version = NewVersion()
	}
	s.logger = s.logger.With().Str("storage", s.name).Logger()
	return s
}

// ID uniquely identifies the storage instance.
func (s *Storage) ID() uuid.UUID {
	return s.id
}

func (s *Storage) Name() string {
	return s.name
}

func (s *Storage) Registry() *ComponentRegistry {
	return s.registry
}

// Version returns the global system version the storage records changes with.
func (s *Storage) Version() *Version {
	return s.version
}

// DependencyManager returns the tracker of jobs reading and writing this
// storage's component types.
func (s *Storage) DependencyManager() *ComponentDependencyManager {
	return s.deps
}

// checkMainThread fails while an exclusive transaction owns the storage or a
// structural change is in flight on another goroutine.
func (s *Storage) checkMainThread() error {
	if s.transaction.active.Load() {
		return invalidOperation("storage is owned by an exclusive entity transaction")
	}
	if s.mutating.Load() {
		return invalidOperation("storage accessed during a structural change")
	}
	return nil
}

// beginStructural completes every job touching the storage, claims the
// mutation guard and invalidates outstanding views.
func (s *Storage) beginStructural() error {
	if err := s.checkMainThread(); err != nil {
		return err
	}
	if err := s.deps.CompleteAll(); err != nil {
		return err
	}
	return s.lockStructural()
}

func (s *Storage) lockStructural() error {
	if !s.mutating.CompareAndSwap(false, true) {
		return invalidOperation("concurrent structural change")
	}
	s.safety.invalidate()
	return nil
}

func (s *Storage) endStructural() {
	s.mutating.Store(false)
}

// Exists reports whether e is alive. It reports false while an exclusive
// transaction owns the storage.
func (s *Storage) Exists(e Entity) bool {
	return s.checkMainThread() == nil && s.entities.exists(e)
}

// EntityCount returns the number of live entities, cleanup entities included.
func (s *Storage) EntityCount() int {
	return s.entities.count()
}

// IsEmpty reports whether the storage holds no entity.
func (s *Storage) IsEmpty() bool {
	return s.entities.count() == 0
}

// GetArchetype returns the archetype of a live entity.
func (s *Storage) GetArchetype(e Entity) (*Archetype, error) {
	if err := s.checkMainThread(); err != nil {
		return nil, err
	}
	return s.archetypeOf(e)
}

func (s *Storage) archetypeOf(e Entity) (*Archetype, error) {
	info := s.entities.info(e)
	if info == nil {
		return nil, entityNotFound(e)
	}
	return info.chunk.archetype, nil
}

// GetComponentTypes returns the component types of e, Entity excluded.
func (s *Storage) GetComponentTypes(e Entity) ([]TypeIndex, error) {
	a, err := s.GetArchetype(e)
	if err != nil {
		return nil, err
	}
	return append([]TypeIndex(nil), a.types[1:]...), nil
}

// ComponentOrderVersion returns a counter bumped by every structural change
// to an archetype containing t.
func (s *Storage) ComponentOrderVersion(t TypeIndex) uint32 {
	if int(t) >= len(s.componentOrder) || t < 0 {
		return 0
	}
	return s.componentOrder[t]
}

// bumpOrder records a structural change affecting archetype a and chunk c.
func (s *Storage) bumpOrder(a *Archetype, c *chunk) {
	a.orderVersion++
	for _, t := range a.types {
		if int(t) >= len(s.componentOrder) {
			grown := make([]uint32, s.registry.Count())
			copy(grown, s.componentOrder)
			s.componentOrder = grown
		}
		s.componentOrder[t]++
	}
	if c != nil {
		for _, idx := range c.sharedValues {
			s.shared.bumpOrder(idx)
		}
	}
}
