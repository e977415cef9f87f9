// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"
	"testing"

	"tinyg-go-migration/pkg/config"
)

func testExecutorConfig() *config.ExecutorConfig {
	return &config.ExecutorConfig{
		SegmentUsec:  10000,
		MinSegmentMM: 0.005,
		FreqDDAMin:   10000,
		FreqDDAMax:   50000,
		Substeps:     1024,
		Overclock:    4,
	}
}

func planAndRun(t *testing.T, b *Block) (segments []Segment) {
	t.Helper()
	if err := calculateProfile(b); err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	var start [config.NumAxes]float64
	for i := 0; i < config.NumAxes; i++ {
		start[i] = b.Target[i] - b.Unit[i]*b.Length
	}
	it := NewSegmentIterator(b, start, testExecutorConfig())
	var seg Segment
	for it.Next(&seg) {
		segments = append(segments, seg)
		if len(segments) > 1_000_000 {
			t.Fatal("iterator did not terminate")
		}
	}
	return segments
}

func TestSegmentsCoverBlockExactly(t *testing.T) {
	b := lineBlock(100, 0, 3000, 0, testJerk)
	segs := planAndRun(t, b)
	if len(segs) == 0 {
		t.Fatal("no segments produced")
	}

	total := 0.0
	for _, s := range segs {
		if s.Length < 0 {
			t.Fatalf("negative segment length %g", s.Length)
		}
		total += s.Length
	}
	if !almostEqual(total, b.Length, 1e-9) {
		t.Errorf("segments cover %g mm, want %g", total, b.Length)
	}

	last := segs[len(segs)-1]
	if !last.Last {
		t.Error("final segment should carry the Last flag")
	}
	if last.Target[0] != b.Target[0] {
		t.Errorf("final target %g, want exactly %g", last.Target[0], b.Target[0])
	}
	if last.Velocity != b.ExitVelocity {
		t.Errorf("final velocity %g, want %g", last.Velocity, b.ExitVelocity)
	}
}

func TestSegmentVelocityShape(t *testing.T) {
	// A full trapezoid should rise to cruise, hold, then fall
	b := lineBlock(200, 0, 3000, 0, testJerk)
	segs := planAndRun(t, b)

	peak := 0.0
	for _, s := range segs {
		if s.Velocity > peak {
			peak = s.Velocity
		}
	}
	if !almostEqual(peak, 3000, 3000*0.02) {
		t.Errorf("peak velocity %g, want ~3000", peak)
	}

	// Velocity at the boundaries should be near the bounds
	if segs[0].Velocity > 3000*0.5 {
		t.Errorf("first segment velocity %g suspiciously high", segs[0].Velocity)
	}
}

func TestSegmentCountMatchesMoveTime(t *testing.T) {
	b := lineBlock(100, 0, 3000, 0, testJerk)
	segs := planAndRun(t, b)

	cfg := testExecutorConfig()
	segMin := cfg.SegmentUsec / (1e6 * 60.0)
	want := b.MoveTime() / segMin
	got := float64(len(segs))
	if got < want*0.8 || got > want*1.3 {
		t.Errorf("segment count %g far from expected %g", got, want)
	}
}

func TestSegmentIteratorNonZeroBounds(t *testing.T) {
	// Entry and exit velocities carried between blocks
	b := lineBlock(50, 1000, 3000, 1500, testJerk)
	segs := planAndRun(t, b)
	if len(segs) == 0 {
		t.Fatal("no segments produced")
	}
	last := segs[len(segs)-1]
	if last.Velocity != 1500 {
		t.Errorf("exit velocity %g, want 1500", last.Velocity)
	}
}

func TestSegmentIteratorDiagonal(t *testing.T) {
	b := &Block{}
	b.Kind = KindLine
	b.Length = 10 * math.Sqrt2
	inv := 1 / math.Sqrt2
	b.Unit[0], b.Unit[1] = inv, inv
	b.Target[0], b.Target[1] = 10, 10
	b.CruiseVelocity = 2000
	b.JerkMax = testJerk
	b.CbrtJerk = math.Cbrt(testJerk)
	b.RecipJerk = 1 / testJerk

	segs := planAndRun(t, b)
	last := segs[len(segs)-1]
	if last.Target[0] != 10 || last.Target[1] != 10 {
		t.Errorf("final target (%g, %g), want (10, 10)", last.Target[0], last.Target[1])
	}
}

func TestPlanStopWithinBlock(t *testing.T) {
	b := lineBlock(100, 0, 3000, 0, testJerk)

	stop, stopped := PlanStop(b, 2000, 80)
	if !stopped {
		t.Fatal("80mm is ample braking room at 2000 mm/min")
	}
	if stop.ExitVelocity != 0 {
		t.Errorf("stop exit = %g", stop.ExitVelocity)
	}
	if stop.Length >= 80 {
		t.Errorf("braking length %g should be well under the remainder", stop.Length)
	}

	// Run it down to rest
	var start [config.NumAxes]float64
	start[0] = b.Target[0] - 80
	it := NewSegmentIterator(&stop, start, testExecutorConfig())
	var seg Segment
	n := 0
	for it.Next(&seg) {
		n++
		if n > 100000 {
			t.Fatal("stop iterator did not terminate")
		}
	}
	if seg.Velocity != 0 {
		t.Errorf("hold should end at rest, velocity %g", seg.Velocity)
	}
}

func TestPlanStopSpillsOver(t *testing.T) {
	// Not enough room: the stop block consumes the remainder and
	// reports a nonzero exit for the next block to continue braking
	b := lineBlock(100, 0, 16000, 0, testJerk)
	brake := targetLength(0, 16000, 1/testJerk)

	stop, stopped := PlanStop(b, 16000, brake/2)
	if stopped {
		t.Fatal("half the braking distance cannot reach zero")
	}
	if stop.ExitVelocity <= 0 || stop.ExitVelocity >= 16000 {
		t.Errorf("spillover exit velocity %g out of range", stop.ExitVelocity)
	}
	if !almostEqual(stop.Length, brake/2, 1e-9) {
		t.Errorf("stop length %g, want the full remainder %g", stop.Length, brake/2)
	}
}

func TestPlanRemainderResumesToTarget(t *testing.T) {
	b := lineBlock(100, 0, 3000, 0, testJerk)
	if err := calculateProfile(b); err != nil {
		t.Fatalf("profile failed: %v", err)
	}

	var stopPos [config.NumAxes]float64
	stopPos[0] = 40 // held 60mm short of the target

	resume := PlanRemainder(b, stopPos)
	if !almostEqual(resume.Length, 60, 1e-9) {
		t.Errorf("remainder length %g, want 60", resume.Length)
	}
	if resume.EntryVelocity != 0 {
		t.Errorf("resume must start from rest, entry %g", resume.EntryVelocity)
	}
	if resume.Target[0] != b.Target[0] {
		t.Errorf("remainder target %g, want %g", resume.Target[0], b.Target[0])
	}

	segs := func() []Segment {
		it := NewSegmentIterator(&resume, stopPos, testExecutorConfig())
		var out []Segment
		var seg Segment
		for it.Next(&seg) {
			out = append(out, seg)
		}
		return out
	}()
	if len(segs) == 0 {
		t.Fatal("no segments from resume block")
	}
	if segs[len(segs)-1].Target[0] != b.Target[0] {
		t.Error("resume block must land exactly on the original target")
	}
}
