// Head / body / tail profile shaping
//
// Partitions a block's length into an accelerating head, a constant
// velocity body, and a decelerating tail, each bounded by the block's
// jerk. When head plus tail exceed the length the cruise velocity is
// found by bisection; if the iteration budget runs out the block is
// degraded to an exact-stop profile and FAILED_TO_CONVERGE is
// reported.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"

	"tinyg-go-migration/pkg/errors"
)

const (
	// Bisection budget for the HT case
	maxProfileIterations = 10
	profileTolerance     = 0.10
)

// calculateProfile fills the block's head/body/tail lengths and times
// from its entry, cruise and exit velocities. The velocities must
// already satisfy the reachability constraints established by the
// lookahead passes.
func calculateProfile(b *Block) error {
	if b.Kind != KindLine || b.Length <= 0 {
		b.HeadLength, b.BodyLength, b.TailLength = 0, 0, 0
		b.HeadTime, b.BodyTime, b.TailTime = 0, 0, 0
		return nil
	}

	entry := b.EntryVelocity
	cruise := b.CruiseVelocity
	exit := b.ExitVelocity

	if cruise < entry {
		cruise = entry
	}
	if cruise < exit {
		cruise = exit
	}

	head := targetLength(entry, cruise, b.RecipJerk)
	tail := targetLength(exit, cruise, b.RecipJerk)

	if head+tail <= b.Length {
		// Requested fit: head, body, tail all present
		b.HeadLength = head
		b.TailLength = tail
		b.BodyLength = b.Length - head - tail
		if b.BodyLength < 0 {
			b.BodyLength = 0
		}
		b.CruiseVelocity = cruise
		finishTimes(b)
		return nil
	}

	// Rate-limited: no body fits. Bisect the cruise velocity between
	// the larger bound velocity and the requested cruise until the
	// head and tail exactly consume the length.
	lo := math.Max(entry, exit)
	hi := cruise
	var mid float64
	converged := false
	for i := 0; i < maxProfileIterations; i++ {
		mid = 0.5 * (lo + hi)
		head = targetLength(entry, mid, b.RecipJerk)
		tail = targetLength(exit, mid, b.RecipJerk)
		sum := head + tail
		if sum > b.Length {
			hi = mid
		} else {
			lo = mid
		}
		if math.Abs(sum-b.Length) <= profileTolerance*b.Length {
			converged = true
			break
		}
	}

	if !converged {
		// Degrade to an exact-stop single ramp pair and report
		b.CruiseVelocity = math.Max(entry, exit)
		b.ExitVelocity = 0
		exactStopProfile(b)
		return errors.ConvergenceError(maxProfileIterations)
	}

	b.CruiseVelocity = mid
	scale := b.Length / (head + tail)
	b.HeadLength = head * scale
	b.TailLength = tail * scale
	b.BodyLength = 0
	finishTimes(b)
	return nil
}

// exactStopProfile plans the fallback profile: accelerate (or just
// decelerate) between the entry velocity and zero over the block.
func exactStopProfile(b *Block) {
	entry := b.EntryVelocity
	peak := targetVelocity(0, 0.5*b.Length, b.CbrtJerk)
	if peak < entry {
		peak = entry
	}
	b.CruiseVelocity = peak
	b.HeadLength = targetLength(entry, peak, b.RecipJerk)
	b.TailLength = targetLength(0, peak, b.RecipJerk)
	if b.HeadLength+b.TailLength > b.Length {
		scale := b.Length / (b.HeadLength + b.TailLength)
		b.HeadLength *= scale
		b.TailLength *= scale
		b.BodyLength = 0
	} else {
		b.BodyLength = b.Length - b.HeadLength - b.TailLength
	}
	finishTimes(b)
}

// finishTimes derives the phase durations from lengths and velocities.
func finishTimes(b *Block) {
	b.HeadTime = rampTime(b.HeadLength, b.EntryVelocity, b.CruiseVelocity)
	b.TailTime = rampTime(b.TailLength, b.CruiseVelocity, b.ExitVelocity)
	if b.CruiseVelocity > velocityEps {
		b.BodyTime = b.BodyLength / b.CruiseVelocity
	} else {
		b.BodyTime = 0
	}
}
