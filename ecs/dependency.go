package ecs

import (
	"errors"
	"sync"
)

// ComponentDependencyManager records, per component type, the job currently
// writing it and the jobs currently reading it. Main-thread access completes
// the relevant jobs first; scheduling code must chain new jobs onto them.
type ComponentDependencyManager struct {
	mu    sync.Mutex
	types map[TypeIndex]*typeDependency
}

type typeDependency struct {
	writer  JobHandle
	readers []JobHandle
}

func newComponentDependencyManager() *ComponentDependencyManager {
	return &ComponentDependencyManager{types: make(map[TypeIndex]*typeDependency)}
}

func (m *ComponentDependencyManager) entry(t TypeIndex) *typeDependency {
	d, ok := m.types[t]
	if !ok {
		d = &typeDependency{}
		m.types[t] = d
	}
	return d
}

// CompleteWrite completes the job writing t, so t can be read.
func (m *ComponentDependencyManager) CompleteWrite(t TypeIndex) error {
	m.mu.Lock()
	d, ok := m.types[t]
	var writer JobHandle
	if ok {
		writer = d.writer
		d.writer = JobHandle{}
	}
	m.mu.Unlock()
	return writer.Complete()
}

// CompleteReadWrite completes every job reading or writing t, so t can be
// written.
func (m *ComponentDependencyManager) CompleteReadWrite(t TypeIndex) error {
	m.mu.Lock()
	d, ok := m.types[t]
	var pending []JobHandle
	if ok {
		pending = append(pending, d.writer)
		pending = append(pending, d.readers...)
		delete(m.types, t)
	}
	m.mu.Unlock()
	return completeAll(pending)
}

// CompleteAll completes every registered job.
func (m *ComponentDependencyManager) CompleteAll() error {
	m.mu.Lock()
	var pending []JobHandle
	for _, d := range m.types {
		pending = append(pending, d.writer)
		pending = append(pending, d.readers...)
	}
	clear(m.types)
	m.mu.Unlock()
	return completeAll(pending)
}

func completeAll(handles []JobHandle) error {
	var errs []error
	for _, h := range handles {
		if err := h.Complete(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetDependency returns the handle a new job reading reads and writing
// writes must depend on.
func (m *ComponentDependencyManager) GetDependency(reads, writes []TypeIndex) JobHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var handles []JobHandle
	for _, t := range reads {
		if d, ok := m.types[t]; ok {
			handles = append(handles, d.writer)
		}
	}
	for _, t := range writes {
		if d, ok := m.types[t]; ok {
			handles = append(handles, d.writer)
			handles = append(handles, d.readers...)
		}
	}
	return CombineDependencies(handles...)
}

// AddDependency registers h as a reader of reads and the writer of writes.
// h must depend on every job it could race with: the writers of reads, and
// the writers and readers of writes. Jobs already completed through Complete
// are exempt.
func (m *ComponentDependencyManager) AddDependency(reads, writes []TypeIndex, h JobHandle) error {
	if h.j == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range reads {
		if d, ok := m.types[t]; ok {
			if !chained(h, d.writer) {
				return invalidOperation("job reading type %d does not depend on the job writing it", t)
			}
		}
	}
	for _, t := range writes {
		d, ok := m.types[t]
		if !ok {
			continue
		}
		if !chained(h, d.writer) {
			return invalidOperation("job writing type %d does not depend on the previous writer", t)
		}
		for _, r := range d.readers {
			if !chained(h, r) {
				return invalidOperation("job writing type %d does not depend on a job reading it", t)
			}
		}
	}

	for _, t := range reads {
		d := m.entry(t)
		d.readers = append(pruneSynced(d.readers), h)
	}
	for _, t := range writes {
		d := m.entry(t)
		d.writer = h
		d.readers = nil
	}
	return nil
}

func chained(h, prior JobHandle) bool {
	return prior.isSynced() || h.DependsOn(prior)
}

func pruneSynced(handles []JobHandle) []JobHandle {
	out := handles[:0]
	for _, h := range handles {
		if !h.isSynced() {
			out = append(out, h)
		}
	}
	return out
}

// hasPending reports whether any registered job has not been completed.
func (m *ComponentDependencyManager) hasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.types {
		if !d.writer.isSynced() {
			return true
		}
		for _, r := range d.readers {
			if !r.isSynced() {
				return true
			}
		}
	}
	return false
}
