// Segment generation for the running block
//
// Slices the active block's jerk-limited profile into fixed duration
// segments and evaluates the velocity along each constant jerk phase
// with quadratic forward differences, two additions per segment. The
// executor consumes segments and converts them into step pulses.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"

	"tinyg-go-migration/pkg/config"
)

// Segment is one fixed-time slice of a block. Distances are in mm,
// velocities in mm/min, times in minutes.
type Segment struct {
	Target   [config.NumAxes]float64
	Length   float64
	Velocity float64
	Time     float64
	Last     bool
}

// phase identifiers within a block
const (
	phaseHead1 = iota // first half of head, jerk positive
	phaseHead2        // second half of head, jerk negative
	phaseBody
	phaseTail1 // first half of tail, jerk negative
	phaseTail2 // second half of tail, jerk positive
	phaseDone
)

// SegmentIterator walks a block's profile segment by segment. It is
// not safe for concurrent use; the executor owns it.
type SegmentIterator struct {
	block *Block

	segmentTime float64 // minutes per segment

	phase     int
	segments  int     // segments remaining in current phase
	phaseTick float64 // actual per-segment duration this phase

	velocity float64 // velocity at the current segment boundary
	d1, d2   float64 // forward difference terms for the phase

	position [config.NumAxes]float64 // position at the current boundary
	traveled float64                 // mm consumed from the block
}

// NewSegmentIterator prepares segment generation for a queued block
// starting from the given machine position.
func NewSegmentIterator(b *Block, start [config.NumAxes]float64, cfg *config.ExecutorConfig) *SegmentIterator {
	it := &SegmentIterator{
		block:       b,
		segmentTime: float64(cfg.SegmentUsec) / (1e6 * 60.0),
		position:    start,
		velocity:    b.EntryVelocity,
		phase:       phaseHead1,
	}
	it.enterPhase()
	return it
}

// Velocity reports the velocity at the current segment boundary. The
// feedhold replan samples this to plan the stop.
func (it *SegmentIterator) Velocity() float64 {
	return it.velocity
}

// Traveled reports the distance consumed from the block so far.
func (it *SegmentIterator) Traveled() float64 {
	return it.traveled
}

// Remaining reports the distance still to travel in the block.
func (it *SegmentIterator) Remaining() float64 {
	return it.block.Length - it.traveled
}

// Position reports the machine position at the current boundary.
func (it *SegmentIterator) Position() [config.NumAxes]float64 {
	return it.position
}

// phaseSpan returns the length and exit velocity of a phase.
func (it *SegmentIterator) phaseSpan(phase int) (length, vEnd float64) {
	b := it.block
	switch phase {
	case phaseHead1:
		return 0.5 * b.HeadLength, 0.5 * (b.EntryVelocity + b.CruiseVelocity)
	case phaseHead2:
		return 0.5 * b.HeadLength, b.CruiseVelocity
	case phaseBody:
		return b.BodyLength, b.CruiseVelocity
	case phaseTail1:
		return 0.5 * b.TailLength, 0.5 * (b.CruiseVelocity + b.ExitVelocity)
	case phaseTail2:
		return 0.5 * b.TailLength, b.ExitVelocity
	}
	return 0, b.ExitVelocity
}

// enterPhase advances through empty phases and sets up the forward
// difference coefficients for the first phase with material. Each
// half-phase has constant jerk, so velocity is quadratic in the
// segment index and successive values differ by a first difference
// that itself changes by a constant second difference.
func (it *SegmentIterator) enterPhase() {
	for it.phase < phaseDone {
		length, vEnd := it.phaseSpan(it.phase)
		if length <= velocityEps*velocityEps {
			it.velocity = vEnd
			it.phase++
			continue
		}

		vStart := it.velocity
		time := rampTime(length, vStart, vEnd)
		n := int(math.Ceil(time / it.segmentTime))
		if n < 1 {
			n = 1
		}
		it.segments = n
		it.phaseTick = time / float64(n)

		// Fit the quadratic through v(0)=vStart and v(n)=vEnd with
		// zero acceleration at the flat end of the half-phase. The
		// first phase of a ramp starts flat, the second ends flat.
		dv := vEnd - vStart
		nn := float64(n) * float64(n)
		switch it.phase {
		case phaseHead1, phaseTail1:
			it.d1 = dv / nn
			it.d2 = 2 * dv / nn
		case phaseHead2, phaseTail2:
			it.d1 = dv * (2*float64(n) - 1) / nn
			it.d2 = -2 * dv / nn
		default:
			it.d1 = 0
			it.d2 = 0
		}
		return
	}
}

// Next produces the next segment, or false when the block is spent.
// The final segment is stretched to land exactly on the block target
// so no residual error accumulates across blocks.
func (it *SegmentIterator) Next(seg *Segment) bool {
	b := it.block
	if it.phase >= phaseDone {
		return false
	}
	if it.segments == 0 {
		it.phase++
		it.enterPhase()
		if it.phase >= phaseDone {
			return false
		}
	}

	vNext := it.velocity + it.d1
	it.d1 += it.d2
	it.segments--

	dist := 0.5 * (it.velocity + vNext) * it.phaseTick

	last := it.segments == 0 && it.lastPhase()
	if last {
		// Close out the block exactly
		dist = b.Length - it.traveled
		vNext = b.ExitVelocity
	}
	if dist < 0 {
		dist = 0
	}
	if it.traveled+dist > b.Length {
		dist = b.Length - it.traveled
	}

	it.traveled += dist
	for i := 0; i < config.NumAxes; i++ {
		if last {
			it.position[i] = b.Target[i]
		} else {
			it.position[i] += b.Unit[i] * dist
		}
	}
	it.velocity = vNext

	seg.Target = it.position
	seg.Length = dist
	seg.Velocity = vNext
	seg.Time = it.phaseTick
	seg.Last = last
	if last {
		it.phase = phaseDone
	}
	return true
}

// lastPhase reports whether no later phase carries material.
func (it *SegmentIterator) lastPhase() bool {
	for p := it.phase + 1; p < phaseDone; p++ {
		length, _ := it.phaseSpan(p)
		if length > velocityEps*velocityEps {
			return false
		}
	}
	return true
}
