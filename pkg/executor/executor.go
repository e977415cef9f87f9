// Motion executor
//
// Pulls blocks from the planner and runs them as DDA segments. Motion
// blocks walk their planned profile through a segment iterator;
// directive blocks (spindle, coolant, tool, stop, end) fire handler
// callbacks in queue order; dwells drain ticks without steps. The
// executor also implements the machine's cycle hooks: homing,
// probing, feedhold braking with resume, and abort.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package executor

import (
	"sync"

	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/endstop"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/planner"
	"tinyg-go-migration/pkg/stepper"
)

const velocityEps = 1e-6

// PositionSink receives executed position updates. The canonical
// machine satisfies this.
type PositionSink interface {
	UpdatePosition(pos [config.NumAxes]float64, velocity float64)
}

// Handlers receive directive blocks in execution order. Nil fields
// are skipped.
type Handlers struct {
	Spindle func(mode planner.SpindleMode, rpm float64)
	Coolant func(mode planner.CoolantMode)
	Tool    func(tool int)
	Stop    func()
	End     func()
}

// Executor drives the motor set from the block queue.
type Executor struct {
	mu sync.Mutex

	cfg      *config.MachineConfig
	queue    *planner.Planner
	dda      *stepper.DDA
	sink     PositionSink
	handlers Handlers
	logger   *log.Logger

	// switch table: [axis][0] min, [axis][1] max
	switches [config.NumAxes][2]*endstop.Switch
	probe    *endstop.Switch

	position [config.NumAxes]float64
	velocity float64

	iter      *planner.SegmentIterator
	block     *planner.Block
	ringBlock bool // block belongs to the queue's ring
	lastExit  float64

	held    bool
	hasHold bool
	holdSrc planner.Block // copy of the partially executed block
	resume  planner.Block // remainder block while resuming

	homing  bool
	probing bool
}

func New(cfg *config.MachineConfig, queue *planner.Planner, dda *stepper.DDA) *Executor {
	return &Executor{
		cfg:    cfg,
		queue:  queue,
		dda:    dda,
		logger: log.New("executor"),
	}
}

// SetPositionSink attaches the position feedback consumer.
func (e *Executor) SetPositionSink(s PositionSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
}

// SetHandlers attaches directive callbacks.
func (e *Executor) SetHandlers(h Handlers) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = h
}

// AttachSwitch registers an axis end switch.
func (e *Executor) AttachSwitch(axis int, atMax bool, sw *endstop.Switch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	side := 0
	if atMax {
		side = 1
	}
	e.switches[axis][side] = sw
}

// AttachProbe registers the probe input.
func (e *Executor) AttachProbe(sw *endstop.Switch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.probe = sw
}

// SetPosition teleports the executor, as after a flush.
func (e *Executor) SetPosition(pos [config.NumAxes]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = pos
	e.velocity = 0
}

// Position reports the executed position in planner space.
func (e *Executor) Position() [config.NumAxes]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// Velocity reports the current path velocity in mm/min.
func (e *Executor) Velocity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.velocity
}

// Busy reports whether motion or a block is in flight.
func (e *Executor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.iter != nil || e.queue.Depth() > 0
}

// Step advances execution by one segment or one directive block. It
// reports false when there is nothing to do.
func (e *Executor) Step() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.held {
		return false, nil
	}

	if e.iter == nil {
		b := e.queue.NextBlock()
		if b == nil {
			if e.lastExit > velocityEps {
				e.lastExit = 0
				return false, errors.BufferEmptyError()
			}
			e.velocity = 0
			return false, nil
		}
		if err := e.startBlock(b); err != nil {
			return true, err
		}
		if e.iter == nil {
			// directive block, already done
			return true, nil
		}
	}

	var seg planner.Segment
	if !e.iter.Next(&seg) {
		e.finishBlock()
		return true, nil
	}
	if err := e.runSegment(&seg); err != nil {
		return true, err
	}
	if seg.Last {
		e.finishBlock()
	}
	return true, nil
}

// Drain steps until the queue and the active block are exhausted.
func (e *Executor) Drain() error {
	for {
		busy, err := e.Step()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
	}
}

// startBlock dispatches a freshly promoted block. Called locked.
func (e *Executor) startBlock(b *planner.Block) error {
	e.block = b
	e.ringBlock = true
	switch b.Kind {
	case planner.KindLine:
		if b.Length <= 0 {
			e.finishBlock()
			return nil
		}
		e.iter = planner.NewSegmentIterator(b, e.position, &e.cfg.Executor)
		return nil
	case planner.KindDwell:
		err := e.runDwell(b.Seconds)
		e.finishBlock()
		return err
	case planner.KindSpindle:
		if e.handlers.Spindle != nil {
			e.handlers.Spindle(b.Spindle, b.SpindleSpeed)
		}
	case planner.KindCoolant:
		if e.handlers.Coolant != nil {
			e.handlers.Coolant(b.Coolant)
		}
	case planner.KindTool:
		if e.handlers.Tool != nil {
			e.handlers.Tool(b.Tool)
		}
	case planner.KindStop:
		if e.handlers.Stop != nil {
			e.handlers.Stop()
		}
		e.held = true
	case planner.KindEnd:
		if e.handlers.End != nil {
			e.handlers.End()
		}
	}
	e.finishBlock()
	return nil
}

// finishBlock retires the current block. Called locked.
func (e *Executor) finishBlock() {
	if e.block != nil {
		e.lastExit = e.block.ExitVelocity
		if e.ringBlock {
			e.queue.FreeBlock(e.block)
		}
	}
	e.block = nil
	e.iter = nil
}

// runSegment converts one planned segment into DDA ticks. Called
// locked.
func (e *Executor) runSegment(seg *planner.Segment) error {
	var travel [config.NumAxes]float64
	for i := 0; i < config.NumAxes; i++ {
		travel[i] = seg.Target[i] - e.position[i]
	}
	// planner time is minutes
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
	return e.checkLimits()
}

// checkLimits polls the armed limit switches. Called locked; homing
// and probing cycles disarm them.
func (e *Executor) checkLimits() error {
	if e.homing || e.probing {
		return nil
	}
	for axis := 0; axis < config.NumAxes; axis++ {
		for side := 0; side < 2; side++ {
			sw := e.switches[axis][side]
			if sw == nil || sw.Mode() == config.SwitchHoming ||
				sw.Mode() == config.SwitchDisabled {
				continue
			}
			st, err := sw.Query()
			if err != nil {
				return err
			}
			if st == endstop.StateClosed {
				e.dda.Flush()
				e.iter = nil
				e.velocity = 0
				return errors.LimitHitError(sw.GetName())
			}
		}
	}
	return nil
}

// runDwell drains ticks with no motor travel. Called locked.
func (e *Executor) runDwell(seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	var still [config.NumAxes]float64
	if err := e.dda.Prep(still, seconds); err != nil {
		return err
	}
	e.dda.Begin()
	e.dda.RunSegment()
	e.velocity = 0
	if e.sink != nil {
		e.sink.UpdatePosition(e.position, 0)
	}
	return nil
}
