package ecs

import (
	"iter"
)

// Query wraps a View with a per-frame cache of matching entities.
// Execute snapshots the matching entities; Iter and Values replay the
// snapshot until the next structural change.
type Query[T any] struct {
	view    *View[T]
	storage *Storage

	cachedEntities   []Entity
	cachedComponents []T
	cacheSafety      safetyHandle
	cacheValid       bool
}

// NewQuery creates a Query over storage.
func NewQuery[T any](storage *Storage) *Query[T] {
	q := &Query[T]{}
	q.Init(storage)
	return q
}

// Init initializes or re-initializes the Query with a storage.
// Called by the Scheduler during system registration.
func (q *Query[T]) Init(storage *Storage) {
	q.view = NewView[T](storage)
	q.storage = storage
	q.cacheValid = false
}

// View returns the underlying view.
func (q *Query[T]) View() *View[T] {
	return q.view
}

// prepare sets the changed-filter baseline and refreshes the cache. The
// Scheduler calls it before each run of the owning system.
func (q *Query[T]) prepare(lastSystemVersion uint32) {
	q.view.group.SetLastSystemVersion(lastSystemVersion)
	q.Execute()
}

// Execute builds the entity and component caches for this frame.
// Called automatically by the Scheduler before the owning system runs.
func (q *Query[T]) Execute() {
	q.cachedEntities = q.cachedEntities[:0]
	q.cachedComponents = q.cachedComponents[:0]

	for e, item := range q.view.Iter() {
		q.cachedEntities = append(q.cachedEntities, e)
		q.cachedComponents = append(q.cachedComponents, item)
	}

	q.cacheSafety = q.storage.safety.handle()
	q.cacheValid = true
}

func (q *Query[T]) checkCache(method string) {
	if !q.cacheValid {
		usagePanic("Query.%s() called before Query.Execute()", method)
	}
	if !q.cacheSafety.valid() {
		usagePanic("Query.%s() called after a structural change; call Execute again", method)
	}
}

// Len returns the number of cached entities.
func (q *Query[T]) Len() int {
	q.checkCache("Len")
	return len(q.cachedEntities)
}

// Iter returns an iterator over entities and component data.
// Panics if Execute() has not been called since the last structural change.
func (q *Query[T]) Iter() iter.Seq2[Entity, T] {
	q.checkCache("Iter")
	return func(yield func(Entity, T) bool) {
		for i := range q.cachedEntities {
			if !yield(q.cachedEntities[i], q.cachedComponents[i]) {
				return
			}
		}
	}
}

// Values returns an iterator over component data only.
// Panics if Execute() has not been called since the last structural change.
func (q *Query[T]) Values() iter.Seq[T] {
	q.checkCache("Values")
	return func(yield func(T) bool) {
		for i := range q.cachedComponents {
			if !yield(q.cachedComponents[i]) {
				return
			}
		}
	}
}
