// Controller foreground loop
//
// Glues the input sources to the interpreter and the executor on the
// reactor. G-code lines arrive on a channel and are interpreted in
// order; when the planner queue fills the offending line is held back
// and retried, so slow motion throttles input instead of dropping it.
// Single-character commands bypass the queue entirely: feedhold,
// cycle start and emergency stop act on the machine immediately, even
// mid-program.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"tinyg-go-migration/pkg/canon"
	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/endstop"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/executor"
	"tinyg-go-migration/pkg/gcode"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/metrics"
	"tinyg-go-migration/pkg/planner"
	"tinyg-go-migration/pkg/reactor"
	"tinyg-go-migration/pkg/safety"
)

// Out-of-band command bytes. These act immediately, outside the line
// queue.
const (
	CmdFeedhold   byte = '!'
	CmdCycleStart byte = '~'
	CmdStatus     byte = '?'
	CmdReset      byte = 0x18 // ctrl-x
)

const (
	inputDepth = 64
	oobDepth   = 16
	// executor segments run per foreground pass
	sliceSegments = 25
	// foreground wake interval, seconds
	foregroundInterval = 0.005
	statusInterval     = 0.25
	housekeepInterval  = 0.01
)

// Result reports the outcome of one submitted line. Err is nil for
// an accepted line.
type Result struct {
	Raw string
	Err error
}

// Deps carries the assembled machine stack.
type Deps struct {
	Config   *config.MachineConfig
	Machine  *canon.Machine
	Interp   *gcode.Interpreter
	Queue    *planner.Planner
	Executor *executor.Executor
	Safety   *safety.Manager
	Metrics  *metrics.ControllerMetrics
}

// Controller runs the foreground loop.
type Controller struct {
	cfg     *config.MachineConfig
	machine *canon.Machine
	interp  *gcode.Interpreter
	queue   *planner.Planner
	exec    *executor.Executor
	safety  *safety.Manager
	metrics *metrics.ControllerMetrics
	logger  *log.Logger

	reactor *reactor.Reactor
	lines   chan string
	oob     chan byte

	// line held back after BUFFER_FULL, retried next pass
	pending    string
	hasPending bool

	onResult func(Result)
	onStatus func(canon.Status)

	switches []*endstop.Switch
}

func New(d Deps) *Controller {
	c := &Controller{
		cfg:     d.Config,
		machine: d.Machine,
		interp:  d.Interp,
		queue:   d.Queue,
		exec:    d.Executor,
		safety:  d.Safety,
		metrics: d.Metrics,
		logger:  log.New("controller"),
		reactor: reactor.New(),
		lines:   make(chan string, inputDepth),
		oob:     make(chan byte, oobDepth),
	}
	if c.metrics == nil {
		c.metrics = metrics.GlobalMetrics()
	}
	return c
}

// OnResult sets the per-line outcome callback. Called from the
// foreground loop; keep it short.
func (c *Controller) OnResult(fn func(Result)) { c.onResult = fn }

// OnStatus sets the periodic status callback (4 Hz).
func (c *Controller) OnStatus(fn func(canon.Status)) { c.onStatus = fn }

// Reactor exposes the event loop for callers that register their own
// timers.
func (c *Controller) Reactor() *reactor.Reactor { return c.reactor }

// RegisterSwitch adds a switch to executor limit checking and to the
// housekeeping poll.
func (c *Controller) RegisterSwitch(axis int, atMax bool, sw *endstop.Switch) {
	c.exec.AttachSwitch(axis, atMax, sw)
	c.switches = append(c.switches, sw)
}

// RegisterProbe adds the probe input.
func (c *Controller) RegisterProbe(sw *endstop.Switch) {
	c.exec.AttachProbe(sw)
	c.switches = append(c.switches, sw)
}

// SubmitLine queues one G-code line. It reports EAGAIN when the input
// window is full; the caller retries after draining responses.
func (c *Controller) SubmitLine(line string) error {
	select {
	case c.lines <- line:
		return nil
	default:
		return errors.New(errors.CodeEagain, "input queue full")
	}
}

// SubmitCommand queues an out-of-band command byte.
func (c *Controller) SubmitCommand(b byte) {
	select {
	case c.oob <- b:
	default:
		// estop must never be lost to a full channel
		if b == CmdReset {
			c.emergencyStop()
		}
	}
}

// Start registers the foreground timers and launches the reactor.
func (c *Controller) Start() {
	c.reactor.RegisterTimer(c.foreground, reactor.NOW)
	c.reactor.RegisterTimer(c.statusTick, reactor.NOW)
	c.reactor.RegisterTimer(c.housekeep, reactor.NOW)
	c.safety.StartWatchdog()
	go c.reactor.Run()
}

// Stop ends the event loop.
func (c *Controller) Stop() {
	c.safety.StopWatchdog()
	c.reactor.End()
	c.reactor.Wait()
}

// foreground runs one cooperative pass: out-of-band commands, then
// the parse/plan pump, then a slice of executor segments.
func (c *Controller) foreground(eventtime float64) float64 {
	c.safety.Heartbeat()
	c.drainCommands()
	c.pumpLines()
	c.runSlice()
	return eventtime + foregroundInterval
}

func (c *Controller) drainCommands() {
	for {
		select {
		case b := <-c.oob:
			c.handleCommand(b)
		default:
			return
		}
	}
}

func (c *Controller) handleCommand(b byte) {
	switch b {
	case CmdFeedhold:
		c.machine.Feedhold()
		c.metrics.Feedholds.Inc(nil)
	case CmdCycleStart:
		c.machine.CycleStart()
	case CmdStatus:
		if c.onStatus != nil {
			c.onStatus(c.machine.Snapshot())
		}
	case CmdReset:
		c.emergencyStop()
	default:
		c.logger.WithField("byte", b).Warn("unknown command byte")
	}
}

func (c *Controller) emergencyStop() {
	c.machine.Abort()
	c.queue.Flush()
	if err := c.safety.EmergencyStop("operator reset"); err != nil {
		c.logger.WithError(err).Error("emergency stop")
	}
	c.machine.Alarm(errors.New(errors.CodeEmergencyStop, "operator reset"))
	c.metrics.RecordError(string(errors.CodeEmergencyStop))
}

// pumpLines feeds queued lines to the interpreter. A BUFFER_FULL
// result parks the line for the next pass instead of failing it.
func (c *Controller) pumpLines() {
	for {
		var line string
		if c.hasPending {
			line = c.pending
		} else {
			select {
			case line = <-c.lines:
			default:
				return
			}
		}

		err := c.interp.ExecuteLine(line)
		if errors.Is(err, errors.CodeBufferFull) {
			c.pending = line
			c.hasPending = true
			return
		}
		c.hasPending = false

		c.metrics.LinesParsed.Inc(nil)
		if err != nil {
			c.metrics.LinesRejected.Inc(nil)
			if me, ok := err.(*errors.MachineError); ok {
				c.metrics.RecordError(string(me.Code))
			}
			c.logger.WithError(err).WithField("line", line).Info("line rejected")
		}
		if c.onResult != nil {
			c.onResult(Result{Raw: line, Err: err})
		}
	}
}

// runSlice advances the executor by a bounded number of segments and
// routes fatal motion errors into the alarm path.
func (c *Controller) runSlice() {
	if !c.safety.IsOperational() {
		return
	}
	for i := 0; i < sliceSegments; i++ {
		busy, err := c.exec.Step()
		if err != nil {
			c.fault(err)
			return
		}
		if !busy {
			return
		}
		c.metrics.SegmentsExecuted.Inc(nil)
	}
}

// fault routes an executor error to the safety manager and alarms the
// machine. Motion state is already flushed by the executor.
func (c *Controller) fault(err error) {
	c.machine.Abort()
	c.queue.Flush()
	c.machine.Alarm(err)

	me, ok := err.(*errors.MachineError)
	if !ok {
		c.safety.PlannerFault(err.Error())
		return
	}
	c.metrics.RecordError(string(me.Code))
	switch me.Code {
	case errors.CodeLimitSwitchHit:
		c.safety.LimitSwitchHit(me.Message)
	case errors.CodeDDAOverflow:
		c.safety.StepperOverflow("dda", me.Message)
	case errors.CodeBufferEmpty:
		c.safety.PlannerFault(me.Message)
	default:
		c.safety.PlannerFault(me.Message)
	}
	c.logger.WithError(err).Error("motion fault")
}

func (c *Controller) statusTick(eventtime float64) float64 {
	st := c.machine.Snapshot()
	c.metrics.QueueDepth.Set(nil, float64(st.QueueDepth))
	c.metrics.CurrentVelocity.Set(nil, st.Velocity)
	for i, name := range config.AxisNames {
		c.metrics.SetMachinePosition(name, st.MachinePos[i])
	}
	if c.onStatus != nil {
		c.onStatus(st)
	}
	return eventtime + statusInterval
}

// housekeep polls registered switches so stale debounce state and
// metrics stay fresh while the machine is idle.
func (c *Controller) housekeep(eventtime float64) float64 {
	for _, sw := range c.switches {
		st, err := sw.Query()
		if err != nil {
			continue
		}
		c.metrics.SetSwitchState(sw.GetName(), st == endstop.StateClosed)
	}
	c.metrics.UpdateSystemMetrics()
	return eventtime + housekeepInterval
}
