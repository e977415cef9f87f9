// Homing, probing and feedhold cycles
//
// These run outside the planner queue: they jog the DDA directly in
// short segments while watching a switch. The canonical machine
// invokes them through its cycle hooks and owns the model-level
// position bookkeeping afterwards.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package executor

import (
	"math"

	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/endstop"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/planner"
)

// homingSwitch picks the switch and travel direction for an axis.
// Called locked.
func (e *Executor) homingSwitch(axis int) (*endstop.Switch, float64, error) {
	if sw := e.switches[axis][0]; sw != nil && sw.CanHome() {
		return sw, -1, nil
	}
	if sw := e.switches[axis][1]; sw != nil && sw.CanHome() {
		return sw, 1, nil
	}
	return nil, 0, errors.MotionError(
		"axis " + config.AxisNames[axis] + " has no homing switch")
}

func (e *Executor) axisConfig(axis int) *config.AxisConfig {
	if axis < 0 || axis >= len(config.AxisNames) {
		return nil
	}
	return e.cfg.Axes[config.AxisNames[axis]]
}

// HomeAxis runs the homing sequence for one axis: search until the
// switch closes, back off, slow re-approach through the close and
// open edges, then a zero backoff. The motor counters zero at the
// final rest point.
func (e *Executor) HomeAxis(axis int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ax := e.axisConfig(axis)
	if ax == nil || ax.Mode == config.AxisDisabled {
		return errors.UnsupportedAxisError(config.AxisNames[axis])
	}
	sw, dir, err := e.homingSwitch(axis)
	if err != nil {
		return err
	}
	if ax.SearchVelocity <= 0 || ax.LatchVelocity <= 0 {
		return errors.MotionError("homing velocities not configured")
	}

	e.homing = true
	defer func() { e.homing = false }()

	budget := ax.TravelMax - ax.TravelMin + 2*ax.LatchBackoff
	if budget <= 0 {
		budget = 2 * ax.LatchBackoff
	}

	closed := func() (bool, error) {
		st, err := sw.Query()
		if err != nil {
			return false, err
		}
		return st == endstop.StateClosed, nil
	}
	open := func() (bool, error) {
		c, err := closed()
		return !c, err
	}

	// a switch already held closed needs clearing first
	if c, err := closed(); err != nil {
		return err
	} else if c {
		if _, _, err := e.jog(axis, -dir, ax.SearchVelocity, ax.LatchBackoff, open); err != nil {
			return err
		}
	}

	// coarse search
	hit, _, err := e.jog(axis, dir, ax.SearchVelocity, budget, closed)
	if err != nil {
		return err
	}
	if !hit {
		return errors.MotionError(
			"homing switch not reached on axis " + config.AxisNames[axis])
	}

	// back away, then creep through the close and open edges
	if _, _, err := e.jog(axis, -dir, ax.SearchVelocity, ax.LatchBackoff, nil); err != nil {
		return err
	}
	hit, _, err = e.jog(axis, dir, ax.LatchVelocity, 2*ax.LatchBackoff, closed)
	if err != nil {
		return err
	}
	if !hit {
		return errors.MotionError(
			"homing latch missed on axis " + config.AxisNames[axis])
	}
	hit, _, err = e.jog(axis, -dir, ax.LatchVelocity, 2*ax.LatchBackoff, open)
	if err != nil {
		return err
	}
	if !hit {
		return errors.MotionError(
			"homing switch stuck closed on axis " + config.AxisNames[axis])
	}
	if _, _, err := e.jog(axis, -dir, ax.LatchVelocity, ax.ZeroBackoff, nil); err != nil {
		return err
	}

	for _, m := range e.dda.Motors() {
		if m.Axis() == axis {
			m.SetZero()
		}
	}
	e.position[axis] = 0
	e.velocity = 0
	if e.sink != nil {
		e.sink.UpdatePosition(e.position, 0)
	}
	return nil
}

// Probe feeds toward the request target until the probe input closes.
// The strike position is returned in planner space; remaining staged
// motion is flushed.
func (e *Executor) Probe(req *planner.MoveRequest) ([config.NumAxes]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var strike [config.NumAxes]float64
	if e.probe == nil {
		return strike, errors.MotionError("no probe input attached")
	}
	e.probing = true
	defer func() { e.probing = false }()

	var delta [config.NumAxes]float64
	length := 0.0
	for i := 0; i < config.NumAxes; i++ {
		delta[i] = req.Target[i] - e.position[i]
		length += delta[i] * delta[i]
	}
	length = math.Sqrt(length)
	if length == 0 {
		return strike, errors.ZeroLengthError()
	}
	var unit [config.NumAxes]float64
	for i := 0; i < config.NumAxes; i++ {
		unit[i] = delta[i] / length
	}

	closed := func() (bool, error) {
		st, err := e.probe.Query()
		if err != nil {
			return false, err
		}
		return st == endstop.StateClosed, nil
	}

	hit, _, err := e.jogVector(unit, req.FeedVelocity, length, closed)
	if err != nil {
		return strike, err
	}
	if !hit {
		return strike, errors.MotionError("probe did not strike before the target")
	}
	e.dda.Flush()
	return e.position, nil
}

// jog moves along a single axis. See jogVector.
func (e *Executor) jog(axis int, dir, velocity, maxDist float64,
	stop func() (bool, error)) (bool, float64, error) {
	var unit [config.NumAxes]float64
	unit[axis] = dir
	return e.jogVector(unit, velocity, maxDist, stop)
}

// jogVector runs raw segments along unit at the given velocity
// (mm/min) until stop reports true or maxDist is consumed. It
// returns whether stop fired and the distance traveled. Called
// locked.
func (e *Executor) jogVector(unit [config.NumAxes]float64, velocity, maxDist float64,
	stop func() (bool, error)) (bool, float64, error) {
	if maxDist <= 0 {
		return false, 0, nil
	}
	dt := e.cfg.Executor.SegmentUsec / 1e6 // seconds
	segLen := velocity / 60.0 * dt
	if segLen <= 0 {
		return false, 0, errors.MotionError("jog with no velocity")
	}

	traveled := 0.0
	for traveled < maxDist {
		d := segLen
		if traveled+d > maxDist {
			d = maxDist - traveled
		}
		var travel [config.NumAxes]float64
		for i := 0; i < config.NumAxes; i++ {
			travel[i] = unit[i] * d
		}
		if err := e.dda.Prep(travel, d/(velocity/60.0)); err != nil {
			return false, traveled, err
		}
		e.dda.Begin()
		e.dda.RunSegment()
		for i := 0; i < config.NumAxes; i++ {
			e.position[i] += travel[i]
		}
		traveled += d
		e.velocity = velocity
		if e.sink != nil {
			e.sink.UpdatePosition(e.position, velocity)
		}
		if stop != nil {
			fired, err := stop()
			if err != nil {
				return false, traveled, err
			}
			if fired {
				e.velocity = 0
				return true, traveled, nil
			}
		}
	}
	e.velocity = 0
	return false, traveled, nil
}

// Feedhold brakes the in-flight motion to a stop with the block's
// jerk limit, spilling into following blocks when the running one is
// too short. The partially executed block is kept for Resume.
func (e *Executor) Feedhold() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.held {
		return
	}
	if e.iter == nil {
		e.held = true
		return
	}

	src := e.block
	stop, stopped := planner.PlanStop(src, e.iter.Velocity(), e.iter.Remaining())
	e.holdSrc = *src
	e.hasHold = true
	e.finishBlock()
	e.runStopBlock(&stop)

	for !stopped {
		nb := e.queue.HoldNext()
		if nb == nil {
			break
		}
		if !nb.IsMotion() {
			// a directive boundary always has a zero entry
			e.queue.FreeBlock(nb)
			break
		}
		next, done := planner.PlanStop(nb, stop.ExitVelocity, nb.Length)
		e.holdSrc = *nb
		e.queue.FreeBlock(nb)
		e.runStopBlock(&next)
		stop, stopped = next, done
	}
	e.velocity = 0
	e.lastExit = 0
	e.held = true
}

// runStopBlock executes a synthetic braking block. Called locked.
func (e *Executor) runStopBlock(b *planner.Block) {
	if b.Length <= 0 {
		return
	}
	it := planner.NewSegmentIterator(b, e.position, &e.cfg.Executor)
	var seg planner.Segment
	for it.Next(&seg) {
		if err := e.runSegmentRaw(&seg); err != nil {
			e.logger.WithError(err).Error("braking segment failed")
			return
		}
	}
}

// runSegmentRaw is runSegment without the limit poll, for braking.
func (e *Executor) runSegmentRaw(seg *planner.Segment) error {
	var travel [config.NumAxes]float64
	for i := 0; i < config.NumAxes; i++ {
		travel[i] = seg.Target[i] - e.position[i]
	}
	if err := e.dda.Prep(travel, seg.Time*60.0); err != nil {
		return err
	}
	e.dda.Begin()
	e.dda.RunSegment()
	e.position = seg.Target
	e.velocity = seg.Velocity
	if e.sink != nil {
		e.sink.UpdatePosition(e.position, e.velocity)
	}
	return nil
}

// Resume lifts a hold. A partially executed block continues from
// rest to its original target before the queue takes over again.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.held {
		return
	}
	e.held = false
	if !e.hasHold {
		return
	}
	e.hasHold = false
	remainder := planner.PlanRemainder(&e.holdSrc, e.position)
	if remainder.Length <= velocityEps {
		return
	}
	e.resume = remainder
	e.block = &e.resume
	e.ringBlock = false
	e.iter = planner.NewSegmentIterator(&e.resume, e.position, &e.cfg.Executor)
}

// Abort discards all motion state. The caller flushes the queue and
// resynchronizes positions.
func (e *Executor) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dda.Flush()
	e.iter = nil
	if e.block != nil && e.ringBlock {
		e.queue.FreeBlock(e.block)
	}
	e.block = nil
	e.held = false
	e.hasHold = false
	e.velocity = 0
	e.lastExit = 0
}
