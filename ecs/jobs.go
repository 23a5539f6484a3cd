package ecs

import (
	"sync/atomic"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// JobHandle tracks a scheduled job. The zero handle is already complete.
type JobHandle struct {
	j *job
}

type job struct {
	done   chan struct{}
	deps   []*job
	err    error
	synced atomic.Bool
}

// Schedule runs fn on its own goroutine once every dependency completed.
// Jobs always run to completion; there is no cancellation.
func Schedule(fn func() error, deps ...JobHandle) JobHandle {
	j := newJob(deps)
	go func() {
		defer close(j.done)
		for _, d := range j.deps {
			<-d.done
		}
		if fn != nil {
			j.err = runJob(fn)
		}
	}()
	return JobHandle{j: j}
}

// runJob turns a panic in fn into the job's error, so a misused command
// buffer fails the job instead of the process.
func runJob(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = eris.Wrap(e, "job panicked")
			} else {
				err = eris.Errorf("job panicked: %v", r)
			}
		}
	}()
	return fn()
}

// CombineDependencies returns a handle that completes when all handles did.
func CombineDependencies(handles ...JobHandle) JobHandle {
	live := 0
	var last JobHandle
	for _, h := range handles {
		if h.j != nil {
			live++
			last = h
		}
	}
	switch live {
	case 0:
		return JobHandle{}
	case 1:
		return last
	}
	return Schedule(nil, handles...)
}

// ScheduleParallelChunks runs fn once per chunk with at most limit chunks in
// flight. A limit below 1 means unbounded. The job's error is the first
// error returned by fn.
func ScheduleParallelChunks(chunks []ArchetypeChunk, limit int, fn func(ArchetypeChunk) error, deps ...JobHandle) JobHandle {
	return Schedule(func() error {
		var g errgroup.Group
		if limit > 0 {
			g.SetLimit(limit)
		}
		for _, c := range chunks {
			g.Go(func() error {
				return runJob(func() error { return fn(c) })
			})
		}
		return g.Wait()
	}, deps...)
}

func newJob(deps []JobHandle) *job {
	j := &job{done: make(chan struct{})}
	for _, d := range deps {
		if d.j != nil {
			j.deps = append(j.deps, d.j)
		}
	}
	return j
}

// Complete blocks until the job and its dependencies finished and returns the
// first error among them.
func (h JobHandle) Complete() error {
	if h.j == nil {
		return nil
	}
	<-h.j.done
	return h.j.sync()
}

func (j *job) sync() error {
	if j.synced.Swap(true) {
		return j.err
	}
	err := j.err
	for _, d := range j.deps {
		if derr := d.sync(); err == nil {
			err = derr
		}
	}
	return err
}

// IsCompleted reports whether the job finished, without blocking.
func (h JobHandle) IsCompleted() bool {
	if h.j == nil {
		return true
	}
	select {
	case <-h.j.done:
		return true
	default:
		return false
	}
}

// DependsOn reports whether h waits for other, directly or transitively.
// Every handle depends on the zero handle and on itself.
func (h JobHandle) DependsOn(other JobHandle) bool {
	if other.j == nil || h.j == other.j {
		return true
	}
	if h.j == nil {
		return false
	}
	seen := make(map[*job]struct{})
	stack := []*job{h.j}
	for len(stack) > 0 {
		j := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if j == other.j {
			return true
		}
		if _, ok := seen[j]; ok {
			continue
		}
		seen[j] = struct{}{}
		stack = append(stack, j.deps...)
	}
	return false
}

// isSynced reports whether a completion of the job was observed through
// Complete.
func (h JobHandle) isSynced() bool {
	return h.j == nil || h.j.synced.Load()
}
