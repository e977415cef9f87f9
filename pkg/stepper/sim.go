// Simulated pins and clock
//
// Recording implementations of the pin and timer interfaces. Used by
// the package tests and the offline simulator binary to observe pulse
// trains without hardware.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepper

import (
	"tinyg-go-migration/pkg/config"
)

// SimPin records step pulses with virtual timestamps.
type SimPin struct {
	Count int64
	Times []float64 // seconds on the attached clock, if any

	clock *SimClock
}

func NewSimPin(clock *SimClock) *SimPin {
	return &SimPin{clock: clock}
}

func (p *SimPin) Step() {
	p.Count++
	if p.clock != nil {
		p.Times = append(p.Times, p.clock.Now)
	}
}

// SimDirPin records direction changes.
type SimDirPin struct {
	Forward bool
	Changes int
}

func (p *SimDirPin) SetDirection(forward bool) {
	if p.Forward != forward {
		p.Changes++
	}
	p.Forward = forward
}

// SimEnablePin records driver power state.
type SimEnablePin struct {
	On      bool
	Toggles int
}

func (p *SimEnablePin) SetEnabled(on bool) {
	if p.On != on {
		p.Toggles++
	}
	p.On = on
}

// SimClock is a virtual time source advanced by the test or the
// simulator loop.
type SimClock struct {
	Now float64 // seconds
}

func (c *SimClock) Advance(dt float64) { c.Now += dt }

// SimTimer drives DDA ticks synchronously off a SimClock.
type SimTimer struct {
	clock   *SimClock
	freq    float64
	fn      func()
	running bool
}

func NewSimTimer(clock *SimClock) *SimTimer {
	return &SimTimer{clock: clock}
}

func (t *SimTimer) Start(freq float64, fn func()) {
	t.freq = freq
	t.fn = fn
	t.running = true
}

func (t *SimTimer) Stop() { t.running = false }

// RunTicks fires n ticks, advancing the clock by the tick period.
func (t *SimTimer) RunTicks(n uint32) {
	if !t.running || t.fn == nil {
		return
	}
	period := 1.0 / t.freq
	for i := uint32(0); i < n && t.running; i++ {
		t.clock.Advance(period)
		t.fn()
	}
}

// SimMotorSet is a full motor bank on simulated pins.
type SimMotorSet struct {
	Motors []*Motor
	Steps  []*SimPin
	Dirs   []*SimDirPin
	Ens    []*SimEnablePin
	Clock  *SimClock
}

// NewSimMotorSet wires each configured motor to fresh recording pins
// sharing one virtual clock.
func NewSimMotorSet(motors []*config.MotorConfig) *SimMotorSet {
	set := &SimMotorSet{Clock: &SimClock{}}
	for _, mc := range motors {
		step := NewSimPin(set.Clock)
		dir := &SimDirPin{}
		en := &SimEnablePin{}
		set.Steps = append(set.Steps, step)
		set.Dirs = append(set.Dirs, dir)
		set.Ens = append(set.Ens, en)
		set.Motors = append(set.Motors, NewMotor(mc, step, dir, en))
	}
	return set
}
