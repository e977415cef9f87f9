// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"
	"testing"
)

func lineBlock(length, entry, cruise, exit, jerk float64) *Block {
	b := &Block{}
	b.Kind = KindLine
	b.Length = length
	b.Unit[0] = 1
	b.Target[0] = length
	b.EntryVelocity = entry
	b.CruiseVelocity = cruise
	b.ExitVelocity = exit
	b.JerkMax = jerk
	b.CbrtJerk = math.Cbrt(jerk)
	b.RecipJerk = 1 / jerk
	return b
}

func TestProfileFullTrapezoid(t *testing.T) {
	// Long block: head, body and tail all fit
	b := lineBlock(100, 0, 3000, 0, testJerk)
	if err := calculateProfile(b); err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if b.HeadLength <= 0 || b.TailLength <= 0 || b.BodyLength <= 0 {
		t.Errorf("expected three phases, got head=%g body=%g tail=%g",
			b.HeadLength, b.BodyLength, b.TailLength)
	}
	sum := b.HeadLength + b.BodyLength + b.TailLength
	if !almostEqual(sum, b.Length, 1e-9) {
		t.Errorf("phase lengths sum to %g, want %g", sum, b.Length)
	}
	if b.CruiseVelocity != 3000 {
		t.Errorf("cruise changed to %g", b.CruiseVelocity)
	}
	if b.MoveTime() <= 0 {
		t.Error("move time must be positive")
	}
}

func TestProfileRateLimited(t *testing.T) {
	// Short block: the requested cruise cannot be reached, the
	// profile degenerates to head and tail only
	ramp := targetLength(0, 3000, 1/testJerk)
	b := lineBlock(ramp, 0, 3000, 0, testJerk) // half of what the full trapezoid needs
	if err := calculateProfile(b); err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if b.BodyLength != 0 {
		t.Errorf("rate-limited block should have no body, got %g", b.BodyLength)
	}
	if b.CruiseVelocity >= 3000 {
		t.Errorf("cruise should be reduced below request, got %g", b.CruiseVelocity)
	}
	sum := b.HeadLength + b.TailLength
	if !almostEqual(sum, b.Length, 1e-9) {
		t.Errorf("phase lengths sum to %g, want %g", sum, b.Length)
	}
}

func TestProfileAsymmetricVelocities(t *testing.T) {
	b := lineBlock(50, 1000, 4000, 500, testJerk)
	if err := calculateProfile(b); err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	sum := b.HeadLength + b.BodyLength + b.TailLength
	if !almostEqual(sum, b.Length, 1e-9) {
		t.Errorf("phase lengths sum to %g, want %g", sum, b.Length)
	}
	// Decelerating from a higher cruise takes longer than the
	// matching entry ramp only when the deltas say so; just check
	// both ramps are present
	if b.HeadLength <= 0 || b.TailLength <= 0 {
		t.Errorf("head=%g tail=%g", b.HeadLength, b.TailLength)
	}
}

func TestProfileCruiseBelowBounds(t *testing.T) {
	// Cruise below the entry velocity gets raised to it
	b := lineBlock(50, 2000, 1000, 0, testJerk)
	if err := calculateProfile(b); err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if b.CruiseVelocity < 2000 {
		t.Errorf("cruise %g must not drop below entry 2000", b.CruiseVelocity)
	}
}

func TestProfileZeroLength(t *testing.T) {
	b := lineBlock(0, 0, 1000, 0, testJerk)
	if err := calculateProfile(b); err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if b.HeadLength != 0 || b.BodyLength != 0 || b.TailLength != 0 {
		t.Error("zero length block should have empty profile")
	}
}

func TestProfileConvergenceFallback(t *testing.T) {
	// A tiny block with an absurd cruise request cannot be bisected
	// to tolerance within the iteration budget; it must degrade to an
	// exact stop and report the failure
	jerk := 1e6
	b := lineBlock(0.001, 0, 1e8, 0, jerk)
	err := calculateProfile(b)
	if err == nil {
		t.Fatal("expected convergence failure")
	}
	if b.ExitVelocity != 0 {
		t.Errorf("fallback must stop, exit = %g", b.ExitVelocity)
	}
	sum := b.HeadLength + b.BodyLength + b.TailLength
	if sum > b.Length+1e-9 {
		t.Errorf("fallback profile overruns block: %g > %g", sum, b.Length)
	}
}

func TestProfileDwellUntouched(t *testing.T) {
	b := &Block{Kind: KindDwell, Seconds: 1.5}
	if err := calculateProfile(b); err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if b.HeadLength != 0 || b.BodyLength != 0 || b.TailLength != 0 {
		t.Error("dwell should carry no motion profile")
	}
}
