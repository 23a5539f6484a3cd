package ecs

import (
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"
)

// MinimumChunkSize is the size of the blocks a command buffer stores recorded
// component data in. Larger values get a block of their own.
const MinimumChunkSize = 4 * 1024

type commandKind uint8

const (
	cmdCreateEntity commandKind = iota
	cmdInstantiate
	cmdDestroyEntity
	cmdAddComponent
	cmdSetComponent
	cmdRemoveComponent
	cmdAddShared
	cmdSetShared
	cmdAddBuffer
	cmdSetBuffer
)

var commandNames = [...]string{
	cmdCreateEntity:    "CreateEntity",
	cmdInstantiate:     "Instantiate",
	cmdDestroyEntity:   "DestroyEntity",
	cmdAddComponent:    "AddComponent",
	cmdSetComponent:    "SetComponent",
	cmdRemoveComponent: "RemoveComponent",
	cmdAddShared:       "AddSharedComponent",
	cmdSetShared:       "SetSharedComponent",
	cmdAddBuffer:       "AddBuffer",
	cmdSetBuffer:       "SetBuffer",
}

func (k commandKind) String() string {
	return commandNames[k]
}

type command struct {
	kind    commandKind
	target  Entity
	created Entity
	typ     TypeIndex
	types   []TypeIndex
	data    unsafe.Pointer
	shared  any
	sortKey int
	seq     uint64
}

// commandStream is an append-only list of commands plus the blocks holding
// their component data. Blocks never move once allocated.
type commandStream struct {
	commands []command
	blocks   [][]byte
	used     int
}

func (cs *commandStream) alloc(size int) unsafe.Pointer {
	size = alignUp(size, 8)
	if n := len(cs.blocks); n == 0 || cs.used+size > len(cs.blocks[n-1]) {
		cs.blocks = append(cs.blocks, make([]byte, max(MinimumChunkSize, size)))
		cs.used = 0
	}
	block := cs.blocks[len(cs.blocks)-1]
	p := unsafe.Pointer(&block[cs.used])
	cs.used += size
	return p
}

const (
	leaseFree int32 = iota
	leaseRecord
	leaseWriter
	leasePlayback
)

// EntityCommandBuffer records structural changes and component writes for
// later playback against a storage.
//
// Recording through the buffer itself is single-writer: a call that overlaps
// with another call or with an open CommandWriter from BeginWrite panics with
// an error matching ErrInvalidOperation. Concurrent producers record through
// AsParallelWriter instead.
type EntityCommandBuffer struct {
	registry *ComponentRegistry

	// ShouldPlayback set to false makes Playback discard the recorded
	// commands without applying them.
	ShouldPlayback bool

	main     commandStream
	parallel *ParallelWriter
	once     sync.Once

	producerMu sync.Mutex
	producers  []JobHandle

	lease    atomic.Int32
	disposed atomic.Bool
	pending  atomic.Int32
	seq      atomic.Uint64
	heap     *bufferHeap
	safety   safetySource
}

// NewEntityCommandBuffer creates an empty command buffer for the component
// types of registry.
func NewEntityCommandBuffer(registry *ComponentRegistry) *EntityCommandBuffer {
	return &EntityCommandBuffer{
		registry:       registry,
		ShouldPlayback: true,
		heap:           newBufferHeap(),
	}
}

// CommandRecorder is implemented by *EntityCommandBuffer and *CommandWriter.
type CommandRecorder interface {
	recorder() (*CommandWriter, func())
}

// CommandWriter records into a command buffer. Writers from BeginWrite hold
// the buffer exclusively until End; writers from a ParallelWriter may be used
// concurrently with each other.
type CommandWriter struct {
	b       *EntityCommandBuffer
	stream  *commandStream
	mu      *sync.Mutex
	sortKey int
	lease   bool
	ended   atomic.Bool
}

func (b *EntityCommandBuffer) recorder() (*CommandWriter, func()) {
	b.checkOpen()
	if !b.lease.CompareAndSwap(leaseFree, leaseRecord) {
		usagePanic("command buffer is being written concurrently")
	}
	w := &CommandWriter{b: b, stream: &b.main}
	return w, func() { b.lease.Store(leaseFree) }
}

func (w *CommandWriter) recorder() (*CommandWriter, func()) {
	w.checkOpen()
	return w, func() {}
}

func (w *CommandWriter) checkOpen() {
	if w.ended.Load() {
		usagePanic("command writer used after End")
	}
	w.b.checkOpen()
	if w.b.lease.Load() == leasePlayback {
		usagePanic("command buffer recorded during playback")
	}
}

func (b *EntityCommandBuffer) checkOpen() {
	if b.disposed.Load() {
		usagePanic("command buffer used after playback or Dispose")
	}
}

// BeginWrite claims the buffer for a single producer, typically a job.
// Until End is called every other recording call and Playback fail.
func (b *EntityCommandBuffer) BeginWrite() (*CommandWriter, error) {
	if b.disposed.Load() {
		return nil, invalidOperation("command buffer used after playback or Dispose")
	}
	if !b.lease.CompareAndSwap(leaseFree, leaseWriter) {
		return nil, invalidOperation("command buffer is already being written")
	}
	return &CommandWriter{b: b, stream: &b.main, lease: true}, nil
}

// End releases a writer obtained from BeginWrite.
func (w *CommandWriter) End() {
	if w.ended.Swap(true) {
		return
	}
	if w.lease {
		w.b.lease.Store(leaseFree)
	}
}

func (w *CommandWriter) push(cmd command, data unsafe.Pointer, size int) unsafe.Pointer {
	w.checkOpen()
	if w.mu != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
	}
	cmd.sortKey = w.sortKey
	cmd.seq = w.b.seq.Add(1)
	if size > 0 {
		cmd.data = w.stream.alloc(size)
		if data != nil {
			memCopy(cmd.data, data, size)
		}
	}
	w.stream.commands = append(w.stream.commands, cmd)
	return cmd.data
}

func (w *CommandWriter) checkTarget(e Entity) {
	if e == Null {
		panic(argumentError("command targets the null entity"))
	}
	if e.Index < 0 && pendingID(e) >= w.b.pending.Load() {
		panic(argumentError("%v was not created by this command buffer", e))
	}
}

func (w *CommandWriter) newPending() Entity {
	return pendingEntity(w.b.pending.Add(1) - 1)
}

func (w *CommandWriter) valueInfo(v any) *TypeInfo {
	info, err := w.b.registry.infoForType(reflect.TypeOf(v))
	if err != nil {
		panic(err)
	}
	return info
}

// CreateEntity records the creation of an entity with the given component
// types and returns a builder for recording more commands on it.
func (w *CommandWriter) CreateEntity(types ...TypeIndex) *PendingEntity {
	for _, t := range types {
		if w.b.registry.Info(t) == nil {
			panic(argumentError("type index %d not registered", t))
		}
	}
	e := w.newPending()
	w.push(command{kind: cmdCreateEntity, created: e, types: slices.Clone(types)}, nil, 0)
	return &PendingEntity{rec: w, entity: e}
}

// Instantiate records a copy of src.
func (w *CommandWriter) Instantiate(src Entity) *PendingEntity {
	w.checkTarget(src)
	e := w.newPending()
	w.push(command{kind: cmdInstantiate, target: src, created: e}, nil, 0)
	return &PendingEntity{rec: w, entity: e}
}

func (w *CommandWriter) DestroyEntity(e Entity) {
	w.checkTarget(e)
	w.push(command{kind: cmdDestroyEntity, target: e}, nil, 0)
}

// AddComponent records adding component v, or tag v, to e.
func (w *CommandWriter) AddComponent(e Entity, v any) {
	w.recordValue(cmdAddComponent, e, v)
}

// SetComponent records overwriting e's component with v.
func (w *CommandWriter) SetComponent(e Entity, v any) {
	w.recordValue(cmdSetComponent, e, v)
}

func (w *CommandWriter) recordValue(kind commandKind, e Entity, v any) {
	w.checkTarget(e)
	info := w.valueInfo(v)
	switch info.Category {
	case CategoryShared:
		panic(argumentError("%s is shared; record it with AddSharedComponent", info.Name))
	case CategoryBuffer:
		panic(argumentError("%s is a buffer element; record it with AddBufferCommand", info.Name))
	}
	if kind == cmdSetComponent && info.IsZeroSized() {
		panic(invalidOperation("%s has no data", info.Name))
	}
	p, size := valueData(v, info)
	w.push(command{kind: kind, target: e, typ: info.Index}, p, size)
}

func (w *CommandWriter) RemoveComponent(e Entity, t TypeIndex) {
	w.checkTarget(e)
	if w.b.registry.Info(t) == nil {
		panic(argumentError("type index %d not registered", t))
	}
	w.push(command{kind: cmdRemoveComponent, target: e, typ: t}, nil, 0)
}

func (w *CommandWriter) AddSharedComponent(e Entity, v any) {
	w.recordShared(cmdAddShared, e, v)
}

func (w *CommandWriter) SetSharedComponent(e Entity, v any) {
	w.recordShared(cmdSetShared, e, v)
}

func (w *CommandWriter) recordShared(kind commandKind, e Entity, v any) {
	w.checkTarget(e)
	info := w.valueInfo(v)
	if info.Category != CategoryShared {
		panic(argumentError("%s is not a shared component", info.Name))
	}
	w.push(command{kind: kind, target: e, typ: info.Index, shared: v}, nil, 0)
}

func (w *CommandWriter) recordBuffer(kind commandKind, e Entity, t reflect.Type) (*TypeInfo, unsafe.Pointer) {
	w.checkTarget(e)
	info, err := w.b.registry.infoForType(t)
	if err != nil {
		panic(err)
	}
	if info.Category != CategoryBuffer {
		panic(argumentError("%s is not a buffer element", info.Name))
	}
	p := w.push(command{kind: kind, target: e, typ: info.Index}, nil, info.chunkSize)
	initBufferHeader(p, info.BufferCapacity)
	return info, p
}

// AddBufferCommand records adding a buffer of T to e. The returned buffer is
// filled before playback and becomes invalid afterwards.
func AddBufferCommand[T any](rec CommandRecorder, e Entity) DynamicBuffer[T] {
	return bufferCommand[T](rec, cmdAddBuffer, e)
}

// SetBufferCommand records replacing the contents of e's buffer of T.
func SetBufferCommand[T any](rec CommandRecorder, e Entity) DynamicBuffer[T] {
	return bufferCommand[T](rec, cmdSetBuffer, e)
}

func bufferCommand[T any](rec CommandRecorder, kind commandKind, e Entity) DynamicBuffer[T] {
	w, done := rec.recorder()
	defer done()
	_, p := w.recordBuffer(kind, e, reflect.TypeFor[T]())
	return newDynamicBuffer[T](p, w.b.heap, w.b.safety.handle(), false, nil, nil)
}

// PendingEntity chains commands onto an entity created by the command
// buffer. Entity returns a placeholder handle that may be stored in
// components recorded into the same buffer; playback rewrites it to the
// created entity.
type PendingEntity struct {
	rec    CommandRecorder
	entity Entity
}

func (p *PendingEntity) Entity() Entity {
	return p.entity
}

func (p *PendingEntity) AddComponent(v any) *PendingEntity {
	w, done := p.rec.recorder()
	defer done()
	w.AddComponent(p.entity, v)
	return p
}

func (p *PendingEntity) SetComponent(v any) *PendingEntity {
	w, done := p.rec.recorder()
	defer done()
	w.SetComponent(p.entity, v)
	return p
}

func (p *PendingEntity) AddSharedComponent(v any) *PendingEntity {
	w, done := p.rec.recorder()
	defer done()
	w.AddSharedComponent(p.entity, v)
	return p
}

func (p *PendingEntity) SetSharedComponent(v any) *PendingEntity {
	w, done := p.rec.recorder()
	defer done()
	w.SetSharedComponent(p.entity, v)
	return p
}

func (p *PendingEntity) RemoveComponent(t TypeIndex) *PendingEntity {
	w, done := p.rec.recorder()
	defer done()
	w.RemoveComponent(p.entity, t)
	return p
}

func (b *EntityCommandBuffer) CreateEntity(types ...TypeIndex) *PendingEntity {
	w, done := b.recorder()
	defer done()
	p := w.CreateEntity(types...)
	p.rec = b
	return p
}

func (b *EntityCommandBuffer) Instantiate(src Entity) *PendingEntity {
	w, done := b.recorder()
	defer done()
	p := w.Instantiate(src)
	p.rec = b
	return p
}

func (b *EntityCommandBuffer) DestroyEntity(e Entity) {
	w, done := b.recorder()
	defer done()
	w.DestroyEntity(e)
}

func (b *EntityCommandBuffer) AddComponent(e Entity, v any) {
	w, done := b.recorder()
	defer done()
	w.AddComponent(e, v)
}

func (b *EntityCommandBuffer) SetComponent(e Entity, v any) {
	w, done := b.recorder()
	defer done()
	w.SetComponent(e, v)
}

func (b *EntityCommandBuffer) RemoveComponent(e Entity, t TypeIndex) {
	w, done := b.recorder()
	defer done()
	w.RemoveComponent(e, t)
}

func (b *EntityCommandBuffer) AddSharedComponent(e Entity, v any) {
	w, done := b.recorder()
	defer done()
	w.AddSharedComponent(e, v)
}

func (b *EntityCommandBuffer) SetSharedComponent(e Entity, v any) {
	w, done := b.recorder()
	defer done()
	w.SetSharedComponent(e, v)
}

// Len returns the number of recorded commands.
func (b *EntityCommandBuffer) Len() int {
	n := len(b.main.commands)
	if b.parallel != nil {
		for i := range b.parallel.shards {
			sh := &b.parallel.shards[i]
			sh.mu.Lock()
			n += len(sh.stream.commands)
			sh.mu.Unlock()
		}
	}
	return n
}

func (b *EntityCommandBuffer) IsEmpty() bool {
	return b.Len() == 0
}

// IsDisposed reports whether the buffer was played back or disposed.
func (b *EntityCommandBuffer) IsDisposed() bool {
	return b.disposed.Load()
}

// Dispose drops the recorded commands and invalidates every buffer view
// handed out by the command buffer.
func (b *EntityCommandBuffer) Dispose() {
	if b.disposed.Swap(true) {
		return
	}
	b.safety.invalidate()
	b.main = commandStream{}
	b.parallel = nil
	b.heap = newBufferHeap()
}
