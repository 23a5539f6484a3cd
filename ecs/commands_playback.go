package ecs

import (
	"cmp"
	"slices"
	"unsafe"

	"github.com/rotisserie/eris"
)

// Playback applies the recorded commands to s in order and disposes the
// buffer, also when a command fails. Commands of the buffer itself run
// first, then those of its parallel writers ordered by sort key.
//
// Producer jobs registered with AddJobHandleForProducer and every job
// registered on s are completed before the commands are read.
//
// Playback fails with ErrInvalidOperation while a writer holds the buffer,
// and with ErrArgument when the buffer destroys the same entity twice; in
// both cases nothing is applied.
func (b *EntityCommandBuffer) Playback(s *Storage) error {
	if b.disposed.Load() {
		return invalidOperation("command buffer used after playback or Dispose")
	}
	producerErr := b.completeProducers()
	var beginErr error
	if b.ShouldPlayback && producerErr == nil {
		if beginErr = s.beginStructural(); beginErr == nil {
			defer s.endStructural()
		}
	}
	if !b.lease.CompareAndSwap(leaseFree, leasePlayback) {
		return invalidOperation("playback while the command buffer is being written")
	}
	defer func() {
		b.Dispose()
		b.lease.Store(leaseFree)
	}()
	if producerErr != nil {
		return eris.Wrap(producerErr, "command buffer producer failed")
	}
	if !b.ShouldPlayback {
		return nil
	}
	if beginErr != nil {
		return beginErr
	}
	if s.registry != b.registry {
		return argumentError("command buffer and storage use different registries")
	}

	cmds := b.ordered()
	if err := checkDuplicateDestroys(cmds); err != nil {
		return err
	}
	s.version.Bump()

	p := &playback{s: s, b: b, created: make([]Entity, b.pending.Load())}
	for i := range cmds {
		if err := p.apply(&cmds[i]); err != nil {
			return eris.Wrapf(err, "command %d (%s)", i, cmds[i].kind)
		}
	}
	s.logger.Debug().
		Int("commands", len(cmds)).
		Int("created", len(p.created)).
		Msg("command buffer played back")
	return nil
}

// AddJobHandleForProducer registers a job that records into the buffer.
// Playback completes it first.
func (b *EntityCommandBuffer) AddJobHandleForProducer(h JobHandle) {
	if h.j == nil {
		return
	}
	b.producerMu.Lock()
	b.producers = append(b.producers, h)
	b.producerMu.Unlock()
}

func (b *EntityCommandBuffer) completeProducers() error {
	b.producerMu.Lock()
	producers := b.producers
	b.producers = nil
	b.producerMu.Unlock()
	return CombineDependencies(producers...).Complete()
}

func (b *EntityCommandBuffer) ordered() []command {
	cmds := slices.Clone(b.main.commands)
	if b.parallel == nil {
		return cmds
	}
	par := b.parallel.commands()
	slices.SortFunc(par, func(x, y command) int {
		if c := cmp.Compare(x.sortKey, y.sortKey); c != 0 {
			return c
		}
		return cmp.Compare(x.seq, y.seq)
	})
	return append(cmds, par...)
}

func checkDuplicateDestroys(cmds []command) error {
	seen := make(map[Entity]struct{})
	for _, c := range cmds {
		if c.kind != cmdDestroyEntity {
			continue
		}
		if _, dup := seen[c.target]; dup {
			return argumentError("command buffer destroys %v twice", c.target)
		}
		seen[c.target] = struct{}{}
	}
	return nil
}

type playback struct {
	s       *Storage
	b       *EntityCommandBuffer
	created []Entity
}

func (p *playback) resolve(e Entity) (Entity, error) {
	if e.Index >= 0 {
		return e, nil
	}
	id := int(pendingID(e))
	if id >= len(p.created) || p.created[id] == Null {
		return Null, invalidOperation("%v used before it was created", e)
	}
	return p.created[id], nil
}

// remap rewrites placeholder references stored in component data.
func (p *playback) remap(e Entity) Entity {
	if e.Index >= 0 {
		return e
	}
	id := int(pendingID(e))
	if id >= len(p.created) {
		return Null
	}
	return p.created[id]
}

func (p *playback) apply(c *command) error {
	s := p.s
	switch c.kind {
	case cmdCreateEntity:
		a, err := s.getOrCreateArchetype(c.types)
		if err != nil {
			return err
		}
		if a.cleanup {
			return argumentError("cannot create entities in a cleanup archetype")
		}
		var created Entity
		s.allocateRows(a, make([]int, len(a.sharedTypes)), 1, func(_ *chunk, _ int, e Entity) {
			created = e
		})
		p.created[pendingID(c.created)] = created
		return nil
	case cmdInstantiate:
		src, err := p.resolve(c.target)
		if err != nil {
			return err
		}
		var out [1]Entity
		if err := s.instantiate(src, out[:]); err != nil {
			return err
		}
		p.created[pendingID(c.created)] = out[0]
		return nil
	}

	e, err := p.resolve(c.target)
	if err != nil {
		return err
	}
	switch c.kind {
	case cmdDestroyEntity:
		return s.destroyEntity(e)
	case cmdAddComponent:
		if err := s.addComponent(e, c.typ, 0); err != nil {
			return err
		}
		if c.data == nil {
			return nil
		}
		return p.writeData(e, c)
	case cmdSetComponent:
		return p.writeData(e, c)
	case cmdRemoveComponent:
		return s.removeComponent(e, c.typ)
	case cmdAddShared, cmdSetShared:
		return s.setShared(e, s.registry.Info(c.typ), c.shared, c.kind == cmdAddShared)
	case cmdAddBuffer:
		if err := s.addComponent(e, c.typ, 0); err != nil {
			return err
		}
		return p.writeBuffer(e, c)
	case cmdSetBuffer:
		return p.writeBuffer(e, c)
	}
	return invalidOperation("unknown command %d", c.kind)
}

func (p *playback) writeData(e Entity, c *command) error {
	info := p.s.registry.Info(c.typ)
	ch, col, row, err := p.s.dataColumn(e, info)
	if err != nil {
		return err
	}
	dst := ch.element(col, row)
	memCopy(dst, c.data, info.Size)
	patchEntityFields(dst, info.EntityOffsets, p.remap)
	ch.setChangeVersion(col, p.s.version.Current())
	return nil
}

func (p *playback) writeBuffer(e Entity, c *command) error {
	info := p.s.registry.Info(c.typ)
	ch, col, row, err := p.s.dataColumn(e, info)
	if err != nil {
		return err
	}
	dst := (*bufferHeader)(ch.element(col, row))
	copyBufferContents(dst, (*bufferHeader)(c.data), info.Size, p.b.heap, p.s.heap)
	if info.HasEntityReferences() {
		data := dst.data(p.s.heap)
		for i := 0; i < int(dst.length); i++ {
			patchEntityFields(unsafe.Add(data, i*info.Size), info.EntityOffsets, p.remap)
		}
	}
	ch.setChangeVersion(col, p.s.version.Current())
	return nil
}

// copyBufferContents replaces dst's elements with src's, keeping dst inline
// when the elements fit.
func copyBufferContents(dst, src *bufferHeader, elemSize int, from, to *bufferHeap) {
	n := int(src.length)
	if n <= int(dst.inlineCap) {
		releaseBuffer(dst, to)
		dst.capacity = dst.inlineCap
	} else if n > int(dst.capacity) {
		handle := to.alloc(n * elemSize)
		releaseBuffer(dst, to)
		dst.overflow = handle
		dst.capacity = int32(n)
	}
	memCopy(dst.data(to), src.data(from), n*elemSize)
	dst.length = int32(n)
}
