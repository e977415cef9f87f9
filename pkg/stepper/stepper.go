// Stepper motor abstraction
//
// A Motor owns one axis-mapped step/dir/enable pin triple and its
// step accounting. The pins are capability interfaces so the same
// motor code drives real GPIO or the recording simulator.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepper

import (
	"tinyg-go-migration/pkg/config"
)

// StepPin emits step pulses.
type StepPin interface {
	Step()
}

// DirPin latches the travel direction before a segment runs.
type DirPin interface {
	SetDirection(forward bool)
}

// EnablePin powers the driver stage.
type EnablePin interface {
	SetEnabled(on bool)
}

// Timer delivers DDA ticks. Implementations decide whether ticks come
// from a hardware interrupt or a simulated clock.
type Timer interface {
	// Start arranges for fn to be called once per tick at freq Hz
	// until Stop. fn must be treated as interrupt context.
	Start(freq float64, fn func())
	Stop()
}

// Motor binds one configured motor to its pins.
type Motor struct {
	name         string
	axis         int
	stepsPerUnit float64
	reverse      bool

	step   StepPin
	dir    DirPin
	enable EnablePin

	// step accounting, written only from tick context
	position int64 // net steps since zero
	pulses   int64 // total pulses emitted
	forward  bool

	// fractional travel carry in substep-tick units
	acc int64
}

// NewMotor wires a configured motor to its pins. enable may be nil.
func NewMotor(cfg *config.MotorConfig, step StepPin, dir DirPin, enable EnablePin) *Motor {
	axis := -1
	for i, name := range config.AxisNames {
		if name == cfg.Axis {
			axis = i
			break
		}
	}
	return &Motor{
		name:         cfg.Name,
		axis:         axis,
		stepsPerUnit: cfg.StepsPerUnit(),
		reverse:      cfg.Reverse,
		step:         step,
		dir:          dir,
		enable:       enable,
	}
}

func (m *Motor) Name() string { return m.name }

// Axis returns the axis this motor drives.
func (m *Motor) Axis() int { return m.axis }

// StepsPerUnit returns the configured steps per mm or degree.
func (m *Motor) StepsPerUnit() float64 { return m.stepsPerUnit }

// Position returns the net step count since the last zero.
func (m *Motor) Position() int64 { return m.position }

// Pulses returns the total pulses emitted since power-on.
func (m *Motor) Pulses() int64 { return m.pulses }

// SetZero clears the step counter, as after homing.
func (m *Motor) SetZero() {
	m.position = 0
	m.acc = 0
}

// Enable powers the driver.
func (m *Motor) Enable() {
	if m.enable != nil {
		m.enable.SetEnabled(true)
	}
}

// Disable cuts driver power.
func (m *Motor) Disable() {
	if m.enable != nil {
		m.enable.SetEnabled(false)
	}
}

// setDirection latches the direction pin for the coming segment.
func (m *Motor) setDirection(forward bool) {
	m.forward = forward
	hw := forward != m.reverse
	m.dir.SetDirection(hw)
}

// pulse emits one step and accounts for it.
func (m *Motor) pulse() {
	m.step.Step()
	m.pulses++
	if m.forward {
		m.position++
	} else {
		m.position--
	}
}
