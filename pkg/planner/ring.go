// Planner ring buffer
//
// A fixed arena of blocks linked by index. The producer claims the
// slot at the write head, fills it, then publishes it; the consumer
// runs the slot at the read tail and frees it on completion. Slot
// states move empty -> writing -> queued -> running -> empty and the
// two sides never hold the same slot.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"sync"

	"tinyg-go-migration/pkg/errors"
)

// Ring is the bounded block queue.
type Ring struct {
	mu     sync.Mutex
	blocks []Block
	write  int // next slot to claim
	run    int // next slot to execute
	queued int // number of slots in queued or running state
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	r := &Ring{
		blocks: make([]Block, capacity),
	}
	for i := range r.blocks {
		r.blocks[i].index = i
		r.blocks[i].state = SlotEmpty
	}
	return r
}

// Capacity returns the total slot count.
func (r *Ring) Capacity() int {
	return len(r.blocks)
}

// Depth returns the number of queued plus running blocks.
func (r *Ring) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queued
}

// Available returns the number of free slots.
func (r *Ring) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks) - r.queued
}

// next returns the index after i, wrapping.
func (r *Ring) next(i int) int {
	i++
	if i >= len(r.blocks) {
		return 0
	}
	return i
}

// prev returns the index before i, wrapping.
func (r *Ring) prev(i int) int {
	i--
	if i < 0 {
		return len(r.blocks) - 1
	}
	return i
}

// Claim takes the slot at the write head for filling. Returns
// BUFFER_FULL when no slot is free; the producer retries later.
func (r *Ring) Claim() (*Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := &r.blocks[r.write]
	if b.state != SlotEmpty {
		return nil, errors.BufferFullError()
	}
	b.reset()
	b.state = SlotWriting
	r.write = r.next(r.write)
	return b, nil
}

// Publish moves a claimed block to the queued state, making it
// visible to the consumer and to the lookahead passes.
func (r *Ring) Publish(b *Block) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.state != SlotWriting {
		return
	}
	b.state = SlotQueued
	r.queued++
}

// Unclaim abandons a claimed slot without queueing it.
func (r *Ring) Unclaim(b *Block) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.state != SlotWriting {
		return
	}
	b.reset()
	r.write = b.index
}

// Run takes the oldest queued block for execution. Returns nil when
// the queue is empty.
func (r *Ring) Run() *Block {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := &r.blocks[r.run]
	if b.state != SlotQueued {
		return nil
	}
	b.state = SlotRunning
	b.Replannable = false
	return b
}

// Running returns the block currently in the running state, or nil.
func (r *Ring) Running() *Block {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := &r.blocks[r.run]
	if b.state != SlotRunning {
		return nil
	}
	return b
}

// Free releases a completed running block back to the pool.
func (r *Ring) Free(b *Block) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.state != SlotRunning {
		return
	}
	b.reset()
	r.run = r.next(r.run)
	r.queued--
}

// Flush empties the queue. The running block, if any, is also
// discarded; callers must have stopped the executor first.
func (r *Ring) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.blocks {
		r.blocks[i].reset()
	}
	r.write = 0
	r.run = 0
	r.queued = 0
}

// Newest returns the most recently queued block, or nil.
func (r *Ring) Newest() *Block {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.prev(r.write)
	for n := 0; n < len(r.blocks); n++ {
		b := &r.blocks[i]
		if b.state == SlotQueued || b.state == SlotRunning {
			return b
		}
		i = r.prev(i)
	}
	return nil
}

// Prev returns the queued or running block before b, or nil.
func (r *Ring) Prev(b *Block) *Block {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.prev(b.index)
	p := &r.blocks[i]
	if p.state == SlotQueued || p.state == SlotRunning {
		return p
	}
	return nil
}

// Next returns the queued block after b, or nil.
func (r *Ring) Next(b *Block) *Block {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.next(b.index)
	n := &r.blocks[i]
	if n.state == SlotQueued {
		return n
	}
	return nil
}

// forEachQueued walks the queued blocks oldest first, stopping when
// fn returns false. The running block is not included.
func (r *Ring) forEachQueued(fn func(*Block) bool) {
	r.mu.Lock()
	start := r.run
	count := len(r.blocks)
	r.mu.Unlock()

	i := start
	for n := 0; n < count; n++ {
		b := &r.blocks[i]
		if b.state == SlotQueued {
			if !fn(b) {
				return
			}
		}
		i = r.next(i)
	}
}
