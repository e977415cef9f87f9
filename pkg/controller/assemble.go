// Stack assembly
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"tinyg-go-migration/pkg/canon"
	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/executor"
	"tinyg-go-migration/pkg/gcode"
	"tinyg-go-migration/pkg/metrics"
	"tinyg-go-migration/pkg/planner"
	"tinyg-go-migration/pkg/safety"
	"tinyg-go-migration/pkg/stepper"
)

// motionAdapter lets the safety manager halt the motion stack.
type motionAdapter struct {
	machine *canon.Machine
	queue   *planner.Planner
	exec    *executor.Executor
}

func (a *motionAdapter) HaltMotion() error {
	a.machine.Abort()
	a.queue.Flush()
	return nil
}

func (a *motionAdapter) IsMoving() bool { return a.exec.Busy() }

// motorAdapter exposes a stepper driver to the safety manager.
type motorAdapter struct{ m *stepper.Motor }

func (a *motorAdapter) DisableMotors() error { a.m.Disable(); return nil }

// Assemble builds the full machine stack over the given motors and
// returns a controller ready to Start. The caller attaches switches,
// directive handlers and an offset store before starting.
func Assemble(cfg *config.MachineConfig, motors []*stepper.Motor) *Controller {
	queue := planner.New(&cfg.Planner)
	dda := stepper.NewDDA(motors, &cfg.Executor)
	exec := executor.New(cfg, queue, dda)
	machine := canon.New(cfg, queue)
	machine.SetCycleRunner(exec)
	exec.SetPositionSink(machine)
	interp := gcode.NewInterpreter(machine)

	mgr := safety.New()
	mgr.RegisterMotion(&motionAdapter{machine: machine, queue: queue, exec: exec})
	for _, m := range motors {
		mgr.RegisterMotor(&motorAdapter{m: m})
	}

	return New(Deps{
		Config:   cfg,
		Machine:  machine,
		Interp:   interp,
		Queue:    queue,
		Executor: exec,
		Safety:   mgr,
		Metrics:  metrics.GlobalMetrics(),
	})
}

// Machine returns the canonical machine model.
func (c *Controller) Machine() *canon.Machine { return c.machine }

// Executor returns the segment runner.
func (c *Controller) Executor() *executor.Executor { return c.exec }

// Safety returns the safety manager.
func (c *Controller) Safety() *safety.Manager { return c.safety }

// Metrics returns the metrics set.
func (c *Controller) Metrics() *metrics.ControllerMetrics { return c.metrics }
