// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepper

import (
	"math"
	"testing"

	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/errors"
)

func testMotors() []*config.MotorConfig {
	// 40 steps/mm on x and y, 400 steps/mm on z
	return []*config.MotorConfig{
		{Name: "motor_1", Axis: "x", StepAngle: 1.8, TravelPerRev: 40, Microsteps: 8},
		{Name: "motor_2", Axis: "y", StepAngle: 1.8, TravelPerRev: 40, Microsteps: 8},
		{Name: "motor_3", Axis: "z", StepAngle: 1.8, TravelPerRev: 4, Microsteps: 8},
	}
}

func testExecCfg() *config.ExecutorConfig {
	return &config.ExecutorConfig{
		SegmentUsec: 10000,
		FreqDDAMin:  10000,
		FreqDDAMax:  50000,
		Substeps:    1024,
		Overclock:   4,
	}
}

func newTestDDA() (*DDA, *SimMotorSet) {
	set := NewSimMotorSet(testMotors())
	return NewDDA(set.Motors, testExecCfg()), set
}

func runSegment(t *testing.T, d *DDA, travel [config.NumAxes]float64, seconds float64) {
	t.Helper()
	if err := d.Prep(travel, seconds); err != nil {
		t.Fatalf("prep failed: %v", err)
	}
	if !d.Begin() {
		t.Fatal("begin with prepped segment failed")
	}
	d.RunSegment()
}

func TestSingleSegmentSteps(t *testing.T) {
	d, set := newTestDDA()
	var travel [config.NumAxes]float64
	travel[0] = 1.0 // 40 steps
	runSegment(t, d, travel, 0.01)
	if got := set.Steps[0].Count; got < 39 || got > 40 {
		t.Errorf("x pulses = %d, want 40 within carry", got)
	}
	if set.Steps[1].Count != 0 || set.Steps[2].Count != 0 {
		t.Error("idle motors stepped")
	}
}

func TestStepConservationAcrossSegments(t *testing.T) {
	d, set := newTestDDA()
	// 10 mm of x travel in uneven slices, 400 steps total
	slices := []float64{0.37, 1.02, 2.5, 0.11, 3.0, 1.73, 1.27}
	var sum float64
	for _, s := range slices {
		sum += s
	}
	if math.Abs(sum-10.0) > 1e-12 {
		t.Fatalf("bad fixture, slices sum to %g", sum)
	}
	for _, s := range slices {
		var travel [config.NumAxes]float64
		travel[0] = s
		runSegment(t, d, travel, 0.01)
	}
	got := set.Motors[0].Position()
	if got < 399 || got > 400 {
		t.Errorf("x position %d steps after 10 mm, want 400 within carry", got)
	}
}

func TestCoordinatedMotors(t *testing.T) {
	d, set := newTestDDA()
	var travel [config.NumAxes]float64
	travel[0] = 1.0  // 40 steps
	travel[1] = 0.5  // 20 steps
	travel[2] = 0.25 // 100 steps, the major axis
	runSegment(t, d, travel, 0.01)
	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"x", set.Steps[0].Count, 40},
		{"y", set.Steps[1].Count, 20},
		{"z", set.Steps[2].Count, 100},
	}
	for _, c := range checks {
		if c.got < c.want-1 || c.got > c.want {
			t.Errorf("%s pulses = %d, want %d within carry", c.name, c.got, c.want)
		}
	}
}

func TestDirectionLatch(t *testing.T) {
	d, set := newTestDDA()
	var travel [config.NumAxes]float64
	travel[0] = 0.5
	runSegment(t, d, travel, 0.01)
	if !set.Dirs[0].Forward {
		t.Error("positive travel should latch forward")
	}
	pos := set.Motors[0].Position()

	travel[0] = -0.5
	runSegment(t, d, travel, 0.01)
	if set.Dirs[0].Forward {
		t.Error("negative travel should latch reverse")
	}
	if got := set.Motors[0].Position(); got >= pos {
		t.Errorf("position did not move back: %d then %d", pos, got)
	}
}

func TestReversePolarity(t *testing.T) {
	motors := testMotors()
	motors[0].Reverse = true
	set := NewSimMotorSet(motors)
	d := NewDDA(set.Motors, testExecCfg())
	var travel [config.NumAxes]float64
	travel[0] = 0.5
	if err := d.Prep(travel, 0.01); err != nil {
		t.Fatal(err)
	}
	d.Begin()
	d.RunSegment()
	// hardware pin is inverted but logical position still advances
	if set.Dirs[0].Forward {
		t.Error("reversed motor should drive the pin backward")
	}
	if set.Motors[0].Position() <= 0 {
		t.Error("logical position should advance forward")
	}
}

func TestFreqSelection(t *testing.T) {
	d, _ := newTestDDA()
	// 1000 steps/s * overclock 4 is under the floor, clamps to 10 kHz
	f, err := d.chooseFreq(1000)
	if err != nil {
		t.Fatal(err)
	}
	if f != 10000 {
		t.Errorf("freq %g, want 10000", f)
	}
	// 20000 steps/s * 4 caps at the ceiling
	f, err = d.chooseFreq(20000)
	if err != nil {
		t.Fatal(err)
	}
	if f != 50000 {
		t.Errorf("freq %g, want 50000", f)
	}
	// beyond the ceiling is an error
	if _, err = d.chooseFreq(60000); err == nil {
		t.Error("step rate over the DDA ceiling must fail")
	}
}

func TestStepRateOverCeiling(t *testing.T) {
	d, _ := newTestDDA()
	var travel [config.NumAxes]float64
	travel[2] = 15 // 6000 steps in 10 ms is 600 kHz
	err := d.Prep(travel, 0.01)
	if !errors.Is(err, errors.CodeMotionControlError) {
		t.Errorf("expected motion control error, got %v", err)
	}
}

func TestSubstepHalvingOnOverflow(t *testing.T) {
	d, _ := newTestDDA()
	// 60 s at 50 kHz is 3M ticks; 3M * 1024 overflows 31 bits, one
	// halving to 512 fits
	var travel [config.NumAxes]float64
	travel[0] = 30000 // keeps the 50 kHz clock busy for the long segment
	if err := d.Prep(travel, 60); err != nil {
		t.Fatalf("prep failed: %v", err)
	}
	if d.prepped.substeps != 512 {
		t.Errorf("substeps = %d, want 512 after one halving", d.prepped.substeps)
	}
}

func TestPrepBeginLifecycle(t *testing.T) {
	d, _ := newTestDDA()
	if d.Begin() {
		t.Error("begin with nothing staged should fail")
	}
	var travel [config.NumAxes]float64
	travel[0] = 0.1
	if err := d.Prep(travel, 0.01); err != nil {
		t.Fatal(err)
	}
	if !d.Prepped() {
		t.Error("segment not staged")
	}
	if !d.Begin() {
		t.Fatal("begin failed")
	}
	if d.Prepped() {
		t.Error("staged slot not cleared by begin")
	}
	ticks := uint32(0)
	for d.Tick() {
		ticks++
	}
	// Tick returns false on the exhausting tick itself
	if ticks+1 != 100 {
		t.Errorf("segment ran %d ticks, want 100 at 10 kHz for 10 ms", ticks+1)
	}
	if d.Active() {
		t.Error("segment still active after exhaustion")
	}
}

func TestFlushClearsCarry(t *testing.T) {
	d, set := newTestDDA()
	var travel [config.NumAxes]float64
	travel[0] = 0.3
	if err := d.Prep(travel, 0.01); err != nil {
		t.Fatal(err)
	}
	d.Begin()
	d.Tick()
	d.Flush()
	if d.Active() || d.Prepped() {
		t.Error("flush left a segment behind")
	}
	if set.Motors[0].acc != 0 {
		t.Error("fractional carry survived flush")
	}
}

func TestZeroDurationRejected(t *testing.T) {
	d, _ := newTestDDA()
	var travel [config.NumAxes]float64
	err := d.Prep(travel, 0)
	if !errors.Is(err, errors.CodeMotionControlError) {
		t.Errorf("expected motion control error, got %v", err)
	}
}
