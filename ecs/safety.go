package ecs

import "sync/atomic"

// safetySource hands out handles that are invalidated together. A storage
// bumps its source on every structural change; a command buffer bumps its
// own on playback.
type safetySource struct {
	gen atomic.Uint64
}

func (s *safetySource) handle() safetyHandle {
	return safetyHandle{src: s, gen: s.gen.Load()}
}

func (s *safetySource) invalidate() {
	s.gen.Add(1)
}

// safetyHandle is carried by every view into storage memory.
type safetyHandle struct {
	src *safetySource
	gen uint64
}

func (h safetyHandle) valid() bool {
	return h.src != nil && h.src.gen.Load() == h.gen
}

func (h safetyHandle) check() {
	if !h.valid() {
		usagePanic("view used after a structural change")
	}
}
