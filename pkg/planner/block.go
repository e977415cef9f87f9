// Motion planner block definitions
//
// A block is one planner-level motion record: a linear segment with a
// jerk-limited velocity profile, or a non-motion directive (dwell,
// spindle, coolant, tool, stop, end) that rides the queue so it takes
// effect in execution order.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"tinyg-go-migration/pkg/config"
)

// BlockKind tags what a queued block carries.
type BlockKind int

const (
	KindLine BlockKind = iota
	KindDwell
	KindSpindle
	KindCoolant
	KindTool
	KindStop
	KindEnd
)

func (k BlockKind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindDwell:
		return "dwell"
	case KindSpindle:
		return "spindle"
	case KindCoolant:
		return "coolant"
	case KindTool:
		return "tool"
	case KindStop:
		return "stop"
	case KindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// SlotState is the ring-slot handoff discipline between the producer
// (controller) and the consumer (segment runner).
type SlotState int32

const (
	SlotEmpty SlotState = iota
	SlotWriting
	SlotQueued
	SlotRunning
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotWriting:
		return "writing"
	case SlotQueued:
		return "queued"
	case SlotRunning:
		return "running"
	default:
		return "invalid"
	}
}

// SpindleMode mirrors M3/M4/M5.
type SpindleMode int

const (
	SpindleOff SpindleMode = iota
	SpindleCW
	SpindleCCW
)

// CoolantMode mirrors M7/M8/M9.
type CoolantMode int

const (
	CoolantOff CoolantMode = iota
	CoolantMist
	CoolantFlood
)

// Block is one slot record in the planner ring. Velocities are in
// mm/min, lengths in mm, jerk in mm/min^3; the planner does all its
// math in minutes.
type Block struct {
	index int
	state SlotState

	Kind BlockKind

	// Geometry
	Target [config.NumAxes]float64 // absolute machine target, mm
	Unit   [config.NumAxes]float64 // unit vector of travel
	Length float64                 // Euclidean length, mm

	// Velocity limits established at append time
	EntryVmax    float64 // junction-limited entry ceiling
	CruiseVmax   float64 // feed/axis-limited cruise ceiling
	ExitVmax     float64 // ceiling for handoff to the next block
	DeltaVmax    float64 // max velocity change achievable over Length
	JunctionVmax float64 // raw junction velocity before clamping
	JunctionDev  float64 // junction deviation the move was queued with

	// Planned velocities (outputs of the lookahead passes)
	EntryVelocity  float64
	CruiseVelocity float64
	ExitVelocity   float64

	// Braking velocity used by the backward pass
	BrakingVelocity float64

	// Jerk terms. CbrtJerk and RecipJerk are cached because the
	// profile math evaluates them per pass.
	JerkMax   float64
	CbrtJerk  float64
	RecipJerk float64

	// Profile (head / body / tail) in mm and minutes
	HeadLength float64
	BodyLength float64
	TailLength float64
	HeadTime   float64
	BodyTime   float64
	TailTime   float64

	// Flags
	Replannable   bool
	NominalLength bool
	ExactStop     bool

	// Non-motion payloads
	Seconds      float64 // dwell
	Spindle      SpindleMode
	SpindleSpeed float64
	Coolant      CoolantMode
	Tool         int

	// Line number for status reports
	LineNumber int
}

// reset clears a block for reuse in the ring.
func (b *Block) reset() {
	idx := b.index
	*b = Block{}
	b.index = idx
	b.state = SlotEmpty
}

// State returns the current slot state.
func (b *Block) State() SlotState {
	return b.state
}

// IsMotion reports whether the block moves any axis.
func (b *Block) IsMotion() bool {
	return b.Kind == KindLine && b.Length > 0
}

// MoveTime returns the planned duration of the block in minutes.
func (b *Block) MoveTime() float64 {
	return b.HeadTime + b.BodyTime + b.TailTime
}
