// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package canon

import (
	"math"
	"testing"

	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/planner"
)

func arcMachine(t *testing.T) (*Machine, *planner.Planner) {
	t.Helper()
	m, p := newTestMachine(t)
	if err := m.SetFeedRate(600); err != nil {
		t.Fatal(err)
	}
	return m, p
}

func ijk(i, j, k float64, has ...int) *ArcArgs {
	a := &ArcArgs{Offset: [3]float64{i, j, k}}
	for _, n := range has {
		a.HasOffset[n] = true
	}
	return a
}

func chordSum(blocks []planner.Block) float64 {
	var sum float64
	for _, b := range blocks {
		sum += b.Length
	}
	return sum
}

func TestArcSemicircle(t *testing.T) {
	m, p := arcMachine(t)
	// Clockwise halfway around (5,0) with radius 5
	if err := m.ArcFeed(xyz(10, 0, 0), ijk(5, 0, 0, 0, 1), true); err != nil {
		t.Fatalf("arc failed: %v", err)
	}
	blocks := drainBlocks(p)

	// Chord length for the default tolerance is about 0.63 mm, so a
	// 5 pi flat length divides into roughly 24 chords
	if len(blocks) < 20 || len(blocks) > 30 {
		t.Errorf("segment count %d outside expected band", len(blocks))
	}
	last := blocks[len(blocks)-1]
	if last.Target[0] != 10 || last.Target[1] != 0 {
		t.Errorf("final point (%g, %g), want exactly (10, 0)", last.Target[0], last.Target[1])
	}

	// Every intermediate point lies on the circle
	for i, b := range blocks[:len(blocks)-1] {
		r := math.Hypot(b.Target[0]-5, b.Target[1])
		if math.Abs(r-5) > 1e-9 {
			t.Fatalf("segment %d off circle: radius %g", i, r)
		}
	}
	if math.Abs(chordSum(blocks)-5*math.Pi) > 0.05 {
		t.Errorf("total chord length %g, want close to %g", chordSum(blocks), 5*math.Pi)
	}
}

func TestArcFullCircle(t *testing.T) {
	m, p := arcMachine(t)
	// No axis words and an I offset: one full revolution
	if err := m.ArcFeed(&AxisValues{}, ijk(2, 0, 0, 0), true); err != nil {
		t.Fatalf("full circle failed: %v", err)
	}
	blocks := drainBlocks(p)
	want := 2 * math.Pi * 2
	if got := chordSum(blocks); math.Abs(got-want) > 0.05 {
		t.Errorf("circle chord length %g, want close to %g", got, want)
	}
	last := blocks[len(blocks)-1]
	if last.Target[0] != 0 || last.Target[1] != 0 {
		t.Errorf("circle does not close: (%g, %g)", last.Target[0], last.Target[1])
	}
}

func TestArcRadiusForm(t *testing.T) {
	m, p := arcMachine(t)
	if err := m.ArcFeed(xyz(10, 0, 0), &ArcArgs{Radius: 5, HasRadius: true}, true); err != nil {
		t.Fatalf("R form failed: %v", err)
	}
	blocks := drainBlocks(p)
	last := blocks[len(blocks)-1]
	if last.Target[0] != 10 || last.Target[1] != 0 {
		t.Errorf("final point (%g, %g)", last.Target[0], last.Target[1])
	}
	if math.Abs(chordSum(blocks)-5*math.Pi) > 0.05 {
		t.Errorf("chord length %g, want near semicircle", chordSum(blocks))
	}
}

func TestArcNegativeRadiusTakesLongWay(t *testing.T) {
	mShort, pShort := arcMachine(t)
	if err := mShort.ArcFeed(xyz(5, 5, 0), &ArcArgs{Radius: 5, HasRadius: true}, true); err != nil {
		t.Fatalf("short arc failed: %v", err)
	}
	mLong, pLong := arcMachine(t)
	if err := mLong.ArcFeed(xyz(5, 5, 0), &ArcArgs{Radius: -5, HasRadius: true}, true); err != nil {
		t.Fatalf("long arc failed: %v", err)
	}
	short := chordSum(drainBlocks(pShort))
	long := chordSum(drainBlocks(pLong))
	if long <= short {
		t.Errorf("negative R should sweep the major arc: short %g, long %g", short, long)
	}
	// The sweeps are complementary, a quarter and three quarters
	if math.Abs(short+long-2*math.Pi*5) > 0.1 {
		t.Errorf("short %g + long %g, want a full turn combined", short, long)
	}
}

func TestArcRadiusMismatchRejected(t *testing.T) {
	m, _ := arcMachine(t)
	err := m.ArcFeed(xyz(11, 0, 0), ijk(5, 0, 0, 0, 1), true)
	if !errors.Is(err, errors.CodeArcSpecificationError) {
		t.Errorf("expected arc specification error, got %v", err)
	}
}

func TestArcRadiusFormRejectsFullCircle(t *testing.T) {
	m, _ := arcMachine(t)
	err := m.ArcFeed(&AxisValues{}, &ArcArgs{Radius: 5, HasRadius: true}, true)
	if !errors.Is(err, errors.CodeArcSpecificationError) {
		t.Errorf("expected arc specification error, got %v", err)
	}
}

func TestArcRejectsMixedRadiusAndOffsets(t *testing.T) {
	m, _ := arcMachine(t)
	args := ijk(5, 0, 0, 0)
	args.Radius = 5
	args.HasRadius = true
	err := m.ArcFeed(xyz(10, 0, 0), args, true)
	if !errors.Is(err, errors.CodeArcSpecificationError) {
		t.Errorf("expected arc specification error, got %v", err)
	}
}

func TestArcRadiusTooSmall(t *testing.T) {
	m, _ := arcMachine(t)
	// Chord 10 cannot be spanned by radius 4
	err := m.ArcFeed(xyz(10, 0, 0), &ArcArgs{Radius: 4, HasRadius: true}, true)
	if !errors.Is(err, errors.CodeArcSpecificationError) {
		t.Errorf("expected arc specification error, got %v", err)
	}
}

func TestArcRequiresFeedRate(t *testing.T) {
	m, _ := newTestMachine(t)
	err := m.ArcFeed(xyz(10, 0, 0), ijk(5, 0, 0, 0, 1), true)
	if !errors.Is(err, errors.CodeInputValueRangeError) {
		t.Errorf("expected range error, got %v", err)
	}
}

func TestHelicalArc(t *testing.T) {
	m, p := arcMachine(t)
	if err := m.ArcFeed(xyz(10, 0, -4), ijk(5, 0, 0, 0, 1), true); err != nil {
		t.Fatalf("helix failed: %v", err)
	}
	blocks := drainBlocks(p)
	last := blocks[len(blocks)-1]
	if last.Target[2] != -4 {
		t.Errorf("final Z = %g, want -4", last.Target[2])
	}
	// Z descends monotonically
	prev := 0.0
	for i, b := range blocks {
		if b.Target[2] > prev+1e-12 {
			t.Fatalf("Z rises at segment %d: %g after %g", i, b.Target[2], prev)
		}
		prev = b.Target[2]
	}
	// The helix is longer than its flat projection
	if chordSum(blocks) <= 5*math.Pi {
		t.Error("helical length should exceed the planar arc length")
	}
}

func TestArcInXZPlane(t *testing.T) {
	m, p := arcMachine(t)
	m.SelectPlane(PlaneXZ)
	// Quarter arc from (0,0,0) to (5,0,-5) around center (5,0,0)
	if err := m.ArcFeed(xyz(5, 0, -5), ijk(5, 0, 0, 0, 2), false); err != nil {
		t.Fatalf("XZ arc failed: %v", err)
	}
	blocks := drainBlocks(p)
	last := blocks[len(blocks)-1]
	if last.Target[0] != 5 || last.Target[2] != -5 {
		t.Errorf("final point (%g, _, %g), want (5, _, -5)", last.Target[0], last.Target[2])
	}
	for i, b := range blocks[:len(blocks)-1] {
		if b.Target[1] != 0 {
			t.Fatalf("segment %d moved Y: %g", i, b.Target[1])
		}
		r := math.Hypot(b.Target[0]-5, b.Target[2])
		if math.Abs(r-5) > 1e-9 {
			t.Fatalf("segment %d off circle: radius %g", i, r)
		}
	}
}

func TestArcInches(t *testing.T) {
	m, p := arcMachine(t)
	m.SetUnits(UnitsInches)
	if err := m.ArcFeed(xyz(1, 0, 0), ijk(0.5, 0, 0, 0, 1), true); err != nil {
		t.Fatalf("inch arc failed: %v", err)
	}
	blocks := drainBlocks(p)
	last := blocks[len(blocks)-1]
	if !almostEq(last.Target[0], 25.4, 1e-12) {
		t.Errorf("final X = %g mm, want 25.4", last.Target[0])
	}
	if math.Abs(chordSum(blocks)-12.7*math.Pi) > 0.05 {
		t.Errorf("chord length %g, want near %g", chordSum(blocks), 12.7*math.Pi)
	}
}
