// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"fmt"
	"math"
	"testing"

	"tinyg-go-migration/pkg/canon"
	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/stepper"
)

func newTestController(t *testing.T) (*Controller, *stepper.SimMotorSet) {
	t.Helper()
	cfg := config.Default()
	var mcs []*config.MotorConfig
	for _, m := range cfg.Motors {
		if m != nil {
			mcs = append(mcs, m)
		}
	}
	set := stepper.NewSimMotorSet(mcs)
	return Assemble(cfg, set.Motors), set
}

// pump runs foreground passes until the stack goes idle.
func pump(t *testing.T, c *Controller) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		c.foreground(0)
		if len(c.lines) == 0 && !c.hasPending && !c.exec.Busy() {
			return
		}
	}
	t.Fatal("stack did not go idle")
}

func TestSubmitAndExecute(t *testing.T) {
	c, set := newTestController(t)
	var results []Result
	c.OnResult(func(r Result) { results = append(results, r) })

	if err := c.SubmitLine("G1 X5 Y3 F600"); err != nil {
		t.Fatalf("SubmitLine: %v", err)
	}
	pump(t, c)

	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v, want one accepted line", results)
	}
	pos := c.Machine().MachinePosition()
	if math.Abs(pos[0]-5) > 1e-9 || math.Abs(pos[1]-3) > 1e-9 {
		t.Errorf("position = %v, want (5, 3)", pos)
	}
	if set.Motors[0].Pulses() == 0 {
		t.Error("no steps emitted")
	}
}

func TestRejectedLineReported(t *testing.T) {
	c, _ := newTestController(t)
	var results []Result
	c.OnResult(func(r Result) { results = append(results, r) })

	c.SubmitLine("G2 X5 F600") // arc without geometry
	c.SubmitLine("G0 X1")
	pump(t, c)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !errors.Is(results[0].Err, errors.CodeArcSpecificationError) {
		t.Errorf("first err = %v, want ARC_SPECIFICATION_ERROR", results[0].Err)
	}
	if results[1].Err != nil {
		t.Errorf("second line rejected: %v", results[1].Err)
	}
	pos := c.Machine().MachinePosition()
	if math.Abs(pos[0]-1) > 1e-9 {
		t.Errorf("X = %v, want 1", pos[0])
	}
}

func TestBackpressureHoldsLines(t *testing.T) {
	c, _ := newTestController(t)
	var accepted int
	c.OnResult(func(r Result) {
		if r.Err == nil {
			accepted++
		}
	})

	// more moves than the planner ring holds
	n := c.cfg.Planner.QueueDepth + 12
	for i := 1; i <= n; i++ {
		line := fmt.Sprintf("G1 X%.1f F6000", float64(i)*0.5)
		if err := c.SubmitLine(line); err != nil {
			t.Fatalf("SubmitLine %d: %v", i, err)
		}
	}
	pump(t, c)

	if accepted != n {
		t.Fatalf("accepted %d lines, want %d", accepted, n)
	}
	pos := c.Machine().MachinePosition()
	want := float64(n) * 0.5
	if math.Abs(pos[0]-want) > 1e-9 {
		t.Errorf("X = %v, want %v", pos[0], want)
	}
}

func TestFeedholdAndCycleStart(t *testing.T) {
	c, _ := newTestController(t)
	c.SubmitLine("G1 X40 F600")

	// enter the move, then hold mid-flight
	for i := 0; i < 5; i++ {
		c.foreground(0)
	}
	if !c.exec.Busy() {
		t.Fatal("move finished before the hold point")
	}
	c.SubmitCommand(CmdFeedhold)
	c.foreground(0)

	if st := c.Machine().State(); st != canon.StateHold {
		t.Fatalf("state = %v, want hold", st)
	}
	mid := c.Machine().MachinePosition()[0]
	if mid <= 0 || mid >= 40 {
		t.Fatalf("hold at X = %v, want mid-block", mid)
	}

	c.SubmitCommand(CmdCycleStart)
	pump(t, c)
	pos := c.Machine().MachinePosition()
	if math.Abs(pos[0]-40) > 1e-9 {
		t.Errorf("X after resume = %v, want 40", pos[0])
	}
}

func TestEmergencyStop(t *testing.T) {
	c, _ := newTestController(t)
	c.SubmitLine("G1 X40 F600")
	for i := 0; i < 5; i++ {
		c.foreground(0)
	}
	c.SubmitCommand(CmdReset)
	c.foreground(0)

	if st := c.Machine().State(); st != canon.StateAlarm {
		t.Fatalf("state = %v, want alarm", st)
	}
	if c.Safety().IsOperational() {
		t.Error("safety manager still operational after estop")
	}

	var results []Result
	c.OnResult(func(r Result) { results = append(results, r) })
	c.SubmitLine("G1 X50 F600")
	c.foreground(0)
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("motion accepted in alarm: %+v", results)
	}
}

func TestStatusRequest(t *testing.T) {
	c, _ := newTestController(t)
	var got *canon.Status
	c.OnStatus(func(s canon.Status) { got = &s })

	c.SubmitLine("G0 X2")
	pump(t, c)
	c.SubmitCommand(CmdStatus)
	c.foreground(0)

	if got == nil {
		t.Fatal("no status delivered")
	}
	if math.Abs(got.MachinePos[0]-2) > 1e-9 {
		t.Errorf("status X = %v, want 2", got.MachinePos[0])
	}
	if got.State == "" {
		t.Error("empty state string")
	}
}

func TestStatusTickUpdatesMetrics(t *testing.T) {
	c, _ := newTestController(t)
	c.SubmitLine("G0 X3")
	pump(t, c)
	c.statusTick(0)

	// gauge readback goes through the text exposition
	out := c.Metrics().Registry().Gather()
	if out == "" {
		t.Fatal("empty metrics exposition")
	}
}
