package ecs

import (
	"sync"
)

const parallelShards = 16

// ParallelWriter hands out writers that many goroutines may record through
// at once. Commands are played back after the buffer's own commands, ordered
// by sort key and, within a key, by recording order.
type ParallelWriter struct {
	b      *EntityCommandBuffer
	shards [parallelShards]commandShard
}

type commandShard struct {
	mu     sync.Mutex
	stream commandStream
}

// AsParallelWriter returns the buffer's concurrent recording front end.
func (b *EntityCommandBuffer) AsParallelWriter() *ParallelWriter {
	b.checkOpen()
	b.once.Do(func() {
		b.parallel = &ParallelWriter{b: b}
	})
	return b.parallel
}

// ForKey returns a writer recording with the given sort key. Jobs usually
// pass the index of the chunk or entity they process, which makes playback
// order independent of goroutine scheduling.
func (p *ParallelWriter) ForKey(sortKey int) *CommandWriter {
	shard := &p.shards[uint(sortKey)%parallelShards]
	return &CommandWriter{b: p.b, stream: &shard.stream, mu: &shard.mu, sortKey: sortKey}
}

func (p *ParallelWriter) commands() []command {
	var out []command
	for i := range p.shards {
		sh := &p.shards[i]
		sh.mu.Lock()
		out = append(out, sh.stream.commands...)
		sh.mu.Unlock()
	}
	return out
}
