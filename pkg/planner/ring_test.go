// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"testing"

	"tinyg-go-migration/pkg/errors"
)

func TestRingClaimPublishRunFree(t *testing.T) {
	r := NewRing(4)
	if r.Capacity() != 4 {
		t.Fatalf("capacity = %d, want 4", r.Capacity())
	}
	if r.Depth() != 0 {
		t.Fatalf("new ring depth = %d, want 0", r.Depth())
	}

	b, err := r.Claim()
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if b.State() != SlotWriting {
		t.Errorf("claimed state = %v, want writing", b.State())
	}

	r.Publish(b)
	if b.State() != SlotQueued {
		t.Errorf("published state = %v, want queued", b.State())
	}
	if r.Depth() != 1 {
		t.Errorf("depth after publish = %d, want 1", r.Depth())
	}

	run := r.Run()
	if run != b {
		t.Fatal("run should promote the published block")
	}
	if run.State() != SlotRunning {
		t.Errorf("running state = %v", run.State())
	}
	if run.Replannable {
		t.Error("running block must not be replannable")
	}
	if r.Running() != run {
		t.Error("Running() should return the promoted block")
	}

	r.Free(run)
	if run.State() != SlotEmpty {
		t.Errorf("freed state = %v, want empty", run.State())
	}
	if r.Depth() != 0 {
		t.Errorf("depth after free = %d, want 0", r.Depth())
	}
}

func TestRingBufferFull(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 3; i++ {
		b, err := r.Claim()
		if err != nil {
			t.Fatalf("claim %d failed: %v", i, err)
		}
		r.Publish(b)
	}
	_, err := r.Claim()
	if err == nil {
		t.Fatal("expected buffer full error")
	}
	me, ok := err.(*errors.MachineError)
	if !ok || me.Code != errors.CodeBufferFull {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRingUnclaim(t *testing.T) {
	r := NewRing(4)
	b, err := r.Claim()
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	r.Unclaim(b)
	if r.Depth() != 0 {
		t.Errorf("depth after unclaim = %d, want 0", r.Depth())
	}
	// Slot must be reusable
	if _, err := r.Claim(); err != nil {
		t.Errorf("reclaim after unclaim failed: %v", err)
	}
}

func TestRingOrdering(t *testing.T) {
	r := NewRing(8)
	lines := []int{10, 20, 30, 40}
	for _, n := range lines {
		b, err := r.Claim()
		if err != nil {
			t.Fatalf("claim failed: %v", err)
		}
		b.Kind = KindLine
		b.LineNumber = n
		r.Publish(b)
	}

	var got []int
	r.forEachQueued(func(b *Block) bool {
		got = append(got, b.LineNumber)
		return true
	})
	if len(got) != len(lines) {
		t.Fatalf("walked %d blocks, want %d", len(got), len(lines))
	}
	for i, n := range lines {
		if got[i] != n {
			t.Errorf("position %d: line %d, want %d", i, got[i], n)
		}
	}

	if newest := r.Newest(); newest == nil || newest.LineNumber != 40 {
		t.Errorf("newest should be line 40")
	}

	// Run the oldest, then the walk should skip it
	run := r.Run()
	if run.LineNumber != 10 {
		t.Fatalf("run promoted line %d, want 10", run.LineNumber)
	}
	got = got[:0]
	r.forEachQueued(func(b *Block) bool {
		got = append(got, b.LineNumber)
		return true
	})
	if len(got) != 3 || got[0] != 20 {
		t.Errorf("queued walk after run = %v", got)
	}
}

func TestRingAdjacency(t *testing.T) {
	r := NewRing(8)
	var blocks []*Block
	for i := 0; i < 3; i++ {
		b, _ := r.Claim()
		b.Kind = KindLine
		r.Publish(b)
		blocks = append(blocks, b)
	}
	if r.Next(blocks[0]) != blocks[1] {
		t.Error("Next should walk forward in queue order")
	}
	if r.Prev(blocks[2]) != blocks[1] {
		t.Error("Prev should walk backward in queue order")
	}
	if r.Next(blocks[2]) != nil {
		t.Error("Next past the newest block should be nil")
	}
}

func TestRingFlush(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 4; i++ {
		b, _ := r.Claim()
		r.Publish(b)
	}
	r.Flush()
	if r.Depth() != 0 {
		t.Errorf("depth after flush = %d, want 0", r.Depth())
	}
	if r.Available() != 4 {
		t.Errorf("available after flush = %d, want 4", r.Available())
	}
}

func TestRingWrapAround(t *testing.T) {
	r := NewRing(3)
	// Cycle more blocks than the capacity to exercise wrapping
	for i := 0; i < 10; i++ {
		b, err := r.Claim()
		if err != nil {
			t.Fatalf("cycle %d claim failed: %v", i, err)
		}
		r.Publish(b)
		run := r.Run()
		if run == nil {
			t.Fatalf("cycle %d run returned nil", i)
		}
		r.Free(run)
	}
	if r.Depth() != 0 {
		t.Errorf("depth after cycling = %d, want 0", r.Depth())
	}
}
