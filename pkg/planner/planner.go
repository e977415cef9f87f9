// Lookahead motion planner
//
// Accepts canonical moves, computes per-block velocity constraints and
// junction limits, and runs the backward/forward lookahead passes that
// keep the queue jerk-limited while carrying as much speed as possible
// through corners. Feedhold and resume replan the queue around a
// jerk-limited stop.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"
	"sync"

	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/log"
)

// MoveRequest is a fully resolved straight-line move handed down from
// the canonical machine. Target is absolute machine position in mm,
// velocities in mm/min, jerk in mm/min^3.
type MoveRequest struct {
	Target            [config.NumAxes]float64
	FeedVelocity      float64
	JerkMax           float64
	JunctionDeviation float64
	ExactStop         bool
	LineNumber        int
}

// Planner owns the block ring and the lookahead state.
type Planner struct {
	mu   sync.Mutex
	ring *Ring
	cfg  *config.PlannerConfig

	position [config.NumAxes]float64 // plan position; trails command input
	prevUnit [config.NumAxes]float64
	prevJD   float64
	haveUnit bool

	held bool

	logger *log.Logger
}

// New creates a planner with the configured ring depth.
func New(cfg *config.PlannerConfig) *Planner {
	return &Planner{
		ring:   NewRing(cfg.QueueDepth),
		cfg:    cfg,
		logger: log.New("planner"),
	}
}

// Position reports the plan position, the endpoint of the last
// accepted move.
func (p *Planner) Position() [config.NumAxes]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// SetPosition resets the plan position. Only valid when the queue is
// empty, after homing or a coordinate set.
func (p *Planner) SetPosition(pos [config.NumAxes]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
	p.haveUnit = false
}

// Depth reports how many blocks are queued or running.
func (p *Planner) Depth() int {
	return p.ring.Depth()
}

// Available reports how many slots remain writable.
func (p *Planner) Available() int {
	return p.ring.Available()
}

// AppendLine queues a straight-line move and replans the queue.
// Moves shorter than the configured minimum merge into the previous
// replannable block when one exists, otherwise they are dropped with
// the plan position still advanced so error never accumulates past
// the minimum length.
func (p *Planner) AppendLine(req *MoveRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var delta [config.NumAxes]float64
	lengthSq := 0.0
	for i := 0; i < config.NumAxes; i++ {
		delta[i] = req.Target[i] - p.position[i]
		lengthSq += delta[i] * delta[i]
	}
	length := math.Sqrt(lengthSq)

	if length < p.cfg.MinLineLength {
		return p.absorbShortMove(req, length)
	}

	b, err := p.ring.Claim()
	if err != nil {
		return err
	}

	b.Kind = KindLine
	b.Target = req.Target
	b.Length = length
	for i := 0; i < config.NumAxes; i++ {
		b.Unit[i] = delta[i] / length
	}
	b.LineNumber = req.LineNumber
	b.ExactStop = req.ExactStop

	b.JerkMax = req.JerkMax
	b.CbrtJerk = math.Cbrt(req.JerkMax)
	b.RecipJerk = 1.0 / req.JerkMax

	b.CruiseVmax = req.FeedVelocity
	b.DeltaVmax = targetVelocity(0, length, b.CbrtJerk)
	b.NominalLength = length >= targetLength(0, b.CruiseVmax, b.RecipJerk)

	b.JunctionDev = req.JunctionDeviation
	b.JunctionVmax = p.junctionLimit(&b.Unit, req.JunctionDeviation)
	b.EntryVmax = math.Min(b.JunctionVmax, math.Min(b.CruiseVmax, b.DeltaVmax))
	b.ExitVmax = math.Min(b.CruiseVmax, b.DeltaVmax)
	b.Replannable = true

	p.prevUnit = b.Unit
	p.prevJD = req.JunctionDeviation
	p.haveUnit = true
	p.position = req.Target

	p.ring.Publish(b)
	p.planQueue()
	return nil
}

// absorbShortMove handles a sub-minimum move. Called with the lock
// held.
func (p *Planner) absorbShortMove(req *MoveRequest, length float64) error {
	newest := p.ring.Newest()
	if newest != nil && newest.Kind == KindLine && newest.State() == SlotQueued {
		// Merge: extend the previous block to the new endpoint
		var delta [config.NumAxes]float64
		lengthSq := 0.0
		start := p.targetBefore(newest)
		for i := 0; i < config.NumAxes; i++ {
			delta[i] = req.Target[i] - start[i]
			lengthSq += delta[i] * delta[i]
		}
		merged := math.Sqrt(lengthSq)
		if merged >= p.cfg.MinLineLength {
			newest.Target = req.Target
			newest.Length = merged
			for i := 0; i < config.NumAxes; i++ {
				newest.Unit[i] = delta[i] / merged
			}
			newest.DeltaVmax = targetVelocity(0, merged, newest.CbrtJerk)
			newest.NominalLength = merged >= targetLength(0, newest.CruiseVmax, newest.RecipJerk)
			newest.JunctionDev = math.Min(newest.JunctionDev, req.JunctionDeviation)
			// The merge may have bent the direction of travel, so the
			// junction ceiling set at append time no longer matches the
			// corner against the preceding block.
			newest.JunctionVmax = 0
			if prev := p.ring.Prev(newest); prev != nil && prev.Kind == KindLine && !prev.ExactStop {
				newest.JunctionVmax = p.cornerLimit(&prev.Unit, &newest.Unit,
					math.Min(prev.JunctionDev, newest.JunctionDev))
			}
			newest.EntryVmax = math.Min(newest.JunctionVmax, math.Min(newest.CruiseVmax, newest.DeltaVmax))
			newest.Replannable = true
			p.prevUnit = newest.Unit
			p.prevJD = newest.JunctionDev
			p.position = req.Target
			p.planQueue()
			return nil
		}
	}
	// Null the move; the plan position still moves so the discarded
	// distance is bounded by the minimum length
	p.position = req.Target
	p.logger.Debug("nulled sub-minimum move: %.6f mm (line %d)", length, req.LineNumber)
	return nil
}

// targetBefore reconstructs the start point of a block from its
// endpoint and unit vector.
func (p *Planner) targetBefore(b *Block) [config.NumAxes]float64 {
	var start [config.NumAxes]float64
	for i := 0; i < config.NumAxes; i++ {
		start[i] = b.Target[i] - b.Unit[i]*b.Length
	}
	return start
}

// junctionLimit computes the cornering velocity cap against the
// previous move's direction. The first move from rest, or any move
// after a non-motion block, starts from zero.
func (p *Planner) junctionLimit(unit *[config.NumAxes]float64, jd float64) float64 {
	newest := p.ring.Newest()
	if !p.haveUnit || newest == nil || newest.Kind != KindLine {
		return 0
	}
	if newest.ExactStop {
		return 0
	}
	return p.cornerLimit(&p.prevUnit, unit, math.Min(p.prevJD, jd))
}

// cornerLimit evaluates the junction velocity between two unit
// vectors. Colinear moves have no cornering limit.
func (p *Planner) cornerLimit(prevUnit, unit *[config.NumAxes]float64, delta float64) float64 {
	v := junctionVelocity(prevUnit, unit, delta, p.cfg.JunctionAcceleration)
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	return v
}

// AppendDwell queues a timed pause. Motion ahead of it runs to a stop.
func (p *Planner) AppendDwell(seconds float64, line int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := p.ring.Claim()
	if err != nil {
		return err
	}
	b.Kind = KindDwell
	b.Seconds = seconds
	b.LineNumber = line
	p.haveUnit = false
	p.ring.Publish(b)
	p.planQueue()
	return nil
}

// AppendCommand queues a synchronous directive such as a spindle or
// coolant change. The queue drains to a stop before it executes.
func (p *Planner) AppendCommand(kind BlockKind, fill func(*Block), line int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := p.ring.Claim()
	if err != nil {
		return err
	}
	b.Kind = kind
	b.LineNumber = line
	if fill != nil {
		fill(b)
	}
	p.haveUnit = false
	p.ring.Publish(b)
	p.planQueue()
	return nil
}

// NextBlock promotes the oldest queued block to running and returns
// it, or nil when the queue is empty or a hold is in effect.
func (p *Planner) NextBlock() *Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held {
		return nil
	}
	return p.ring.Run()
}

// HoldNext promotes the next queued block even while held. The
// executor uses it when feedhold braking spills past the end of the
// running block and must consume the start of the next one.
func (p *Planner) HoldNext() *Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.Run()
}

// Running returns the block currently executing, if any.
func (p *Planner) Running() *Block {
	return p.ring.Running()
}

// FreeBlock retires the running block after the executor finishes it.
func (p *Planner) FreeBlock(b *Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ring.Free(b)
}

// Flush discards all queued blocks. The plan position is left where
// the caller resets it, normally to the machine position after a stop.
func (p *Planner) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ring.Flush()
	p.haveUnit = false
	p.held = false
}

// Feedhold stops promotion of queued blocks. The executor plans the
// deceleration of the running block with PlanStop.
func (p *Planner) Feedhold() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = true
}

// Held reports whether a feedhold is in effect.
func (p *Planner) Held() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// Resume lifts a feedhold and replans the queue from rest.
func (p *Planner) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.held {
		return
	}
	p.held = false
	p.ring.forEachQueued(func(b *Block) bool {
		b.Replannable = true
		return true
	})
	p.planQueue()
}

// planQueue runs the lookahead. Called with the lock held.
//
// The backward pass walks newest to oldest accumulating the braking
// velocity each block could shed if the queue ended there. The
// forward pass walks oldest to newest fixing entry, cruise and exit
// velocities and shaping each block's profile. Blocks whose entry has
// reached its maximum and whose length can absorb any approach speed
// are frozen so later appends stop reaching back to them.
func (p *Planner) planQueue() {
	// Collect queued motion blocks oldest-first
	var blocks []*Block
	p.ring.forEachQueued(func(b *Block) bool {
		blocks = append(blocks, b)
		return true
	})
	if len(blocks) == 0 {
		return
	}

	// Backward pass
	exit := 0.0 // the queue tail must always be able to stop
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		if !b.IsMotion() {
			exit = 0
			continue
		}
		if !b.Replannable {
			exit = b.EntryVelocity
			break
		}
		bound := math.Min(b.ExitVmax, exit)
		if b.ExactStop {
			bound = 0
		}
		b.BrakingVelocity = math.Min(b.EntryVmax, bound+b.DeltaVmax)
		exit = b.BrakingVelocity
	}

	// Forward pass
	entry := 0.0
	if r := p.ring.Running(); r != nil && r.IsMotion() {
		entry = r.ExitVelocity
	}
	for i := 0; i < len(blocks); i++ {
		b := blocks[i]
		if !b.IsMotion() {
			entry = 0
			continue
		}
		if !b.Replannable {
			entry = b.ExitVelocity
			continue
		}

		b.EntryVelocity = math.Min(entry, math.Min(b.EntryVmax, b.BrakingVelocity))
		b.CruiseVelocity = b.CruiseVmax

		// Exit is capped by the next block's entry ceiling, by the
		// velocity this block can build, and by the braking needs
		// found in the backward pass
		exitCap := 0.0
		if next := nextMotion(blocks, i); next != nil {
			if next.Replannable {
				exitCap = math.Min(next.EntryVmax, next.BrakingVelocity)
			} else {
				exitCap = next.EntryVelocity
			}
		}
		b.ExitVelocity = math.Min(exitCap, b.EntryVelocity+b.DeltaVmax)
		if b.ExactStop {
			b.ExitVelocity = 0
		}

		if err := calculateProfile(b); err != nil {
			p.logger.Warn("profile fallback on line %d: %v", b.LineNumber, err)
		}

		// The newest block never freezes; a later append may raise
		// its exit velocity
		if i < len(blocks)-1 && b.EntryVelocity >= b.EntryVmax-velocityEps && b.NominalLength {
			b.Replannable = false
		}
		entry = b.ExitVelocity
	}
}

// nextMotion finds the next motion block after index i, stopping at
// any non-motion block since those force a stop.
func nextMotion(blocks []*Block, i int) *Block {
	if i+1 >= len(blocks) {
		return nil
	}
	n := blocks[i+1]
	if !n.IsMotion() {
		return nil
	}
	return n
}

// PlanStop builds a synthetic deceleration block from the point where
// a feedhold takes effect. It decelerates from velocity toward zero
// along the block's direction using the remaining distance; stopped
// reports whether zero was reached inside this block. When it was not,
// the executor chains PlanStop across the following queued blocks.
func PlanStop(b *Block, velocity, remaining float64) (stop Block, stopped bool) {
	stop.Kind = KindLine
	stop.Unit = b.Unit
	stop.JerkMax = b.JerkMax
	stop.CbrtJerk = b.CbrtJerk
	stop.RecipJerk = b.RecipJerk
	stop.LineNumber = b.LineNumber
	stop.EntryVelocity = velocity
	stop.CruiseVelocity = velocity

	brake := targetLength(0, velocity, b.RecipJerk)
	if brake <= remaining {
		stop.Length = brake
		stop.ExitVelocity = 0
		stopped = true
	} else {
		stop.Length = remaining
		dv := math.Pow(remaining, 2.0/3.0) * b.CbrtJerk
		exit := velocity - dv
		if exit < 0 {
			exit = 0
			stopped = true
		}
		stop.ExitVelocity = exit
		stopped = stopped || exit == 0
	}
	for i := 0; i < config.NumAxes; i++ {
		stop.Target[i] = b.Target[i] - b.Unit[i]*(remaining-stop.Length)
	}
	stop.HeadLength = 0
	stop.BodyLength = 0
	stop.TailLength = stop.Length
	stop.TailTime = rampTime(stop.Length, velocity, stop.ExitVelocity)
	stop.state = SlotRunning
	return stop, stopped
}

// PlanRemainder builds the block that resumes a partially executed
// move after a feedhold: from the stop position to the original
// target, starting from rest.
func PlanRemainder(b *Block, position [config.NumAxes]float64) Block {
	var resume Block
	resume.Kind = KindLine
	resume.Target = b.Target
	resume.Unit = b.Unit
	resume.JerkMax = b.JerkMax
	resume.CbrtJerk = b.CbrtJerk
	resume.RecipJerk = b.RecipJerk
	resume.LineNumber = b.LineNumber
	resume.CruiseVmax = b.CruiseVmax

	lengthSq := 0.0
	for i := 0; i < config.NumAxes; i++ {
		d := b.Target[i] - position[i]
		lengthSq += d * d
	}
	resume.Length = math.Sqrt(lengthSq)

	resume.EntryVelocity = 0
	resume.ExitVelocity = b.ExitVelocity
	vcap := math.Min(b.CruiseVmax, targetVelocity(0, resume.Length, b.CbrtJerk))
	if resume.ExitVelocity > vcap {
		resume.ExitVelocity = vcap
	}
	resume.CruiseVelocity = vcap
	_ = calculateProfile(&resume)
	resume.state = SlotRunning
	return resume
}
