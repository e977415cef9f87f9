// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package executor

import (
	"math"
	"testing"

	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/endstop"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/planner"
	"tinyg-go-migration/pkg/stepper"
)

type rig struct {
	cfg   *config.MachineConfig
	queue *planner.Planner
	set   *stepper.SimMotorSet
	exec  *Executor
}

func newRig(t *testing.T) *rig {
	t.Helper()
	cfg := config.Default()
	var mcs []*config.MotorConfig
	for _, m := range cfg.Motors {
		if m != nil {
			mcs = append(mcs, m)
		}
	}
	set := stepper.NewSimMotorSet(mcs)
	dda := stepper.NewDDA(set.Motors, &cfg.Executor)
	queue := planner.New(&cfg.Planner)
	return &rig{
		cfg:   cfg,
		queue: queue,
		set:   set,
		exec:  New(cfg, queue, dda),
	}
}

func (r *rig) line(t *testing.T, feed float64, target ...float64) {
	t.Helper()
	ax := r.cfg.Axes["x"]
	req := planner.MoveRequest{
		FeedVelocity:      feed,
		JerkMax:           ax.JerkMax,
		JunctionDeviation: ax.JunctionDeviation,
	}
	copy(req.Target[:], target)
	if err := r.queue.AppendLine(&req); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}
}

// recorder captures position updates from the executor.
type recorder struct {
	positions [][config.NumAxes]float64
	velocity  []float64
}

func (r *recorder) UpdatePosition(pos [config.NumAxes]float64, velocity float64) {
	r.positions = append(r.positions, pos)
	r.velocity = append(r.velocity, velocity)
}

func TestLineMoveStepConservation(t *testing.T) {
	r := newRig(t)
	r.line(t, 600, 10)
	if err := r.exec.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	pos := r.exec.Position()
	if math.Abs(pos[0]-10) > 1e-9 {
		t.Errorf("final X = %v, want 10", pos[0])
	}
	// 40 steps/mm, carry stays below a full step
	steps := r.set.Motors[0].Position()
	if steps < 399 || steps > 400 {
		t.Errorf("X steps = %d, want ~400", steps)
	}
	if r.set.Motors[1].Pulses() != 0 || r.set.Motors[2].Pulses() != 0 {
		t.Errorf("idle motors pulsed: y=%d z=%d",
			r.set.Motors[1].Pulses(), r.set.Motors[2].Pulses())
	}
	if v := r.exec.Velocity(); v != 0 {
		t.Errorf("velocity after drain = %v, want 0", v)
	}
}

func TestCoordinatedMove(t *testing.T) {
	r := newRig(t)
	r.line(t, 1200, 8, 6)
	if err := r.exec.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	x := r.set.Motors[0].Position()
	y := r.set.Motors[1].Position()
	if x < 319 || x > 320 {
		t.Errorf("X steps = %d, want ~320", x)
	}
	if y < 239 || y > 240 {
		t.Errorf("Y steps = %d, want ~240", y)
	}
}

func TestPositionSinkUpdates(t *testing.T) {
	r := newRig(t)
	rec := &recorder{}
	r.exec.SetPositionSink(rec)
	r.line(t, 600, 10)
	if err := r.exec.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(rec.positions) == 0 {
		t.Fatal("no position updates")
	}
	last := rec.positions[len(rec.positions)-1]
	if math.Abs(last[0]-10) > 1e-9 {
		t.Errorf("last reported X = %v, want 10", last[0])
	}
	prev := 0.0
	for i, p := range rec.positions {
		if p[0] < prev-1e-9 {
			t.Fatalf("update %d moved backward: %v after %v", i, p[0], prev)
		}
		prev = p[0]
	}
	cruised := false
	for _, v := range rec.velocity {
		if math.Abs(v-600) < 1 {
			cruised = true
		}
	}
	if !cruised {
		t.Error("never reported cruise velocity")
	}
}

func TestDwellProducesNoSteps(t *testing.T) {
	r := newRig(t)
	if err := r.queue.AppendDwell(0.5, 0); err != nil {
		t.Fatalf("AppendDwell: %v", err)
	}
	if err := r.exec.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	for i, m := range r.set.Motors {
		if m.Pulses() != 0 {
			t.Errorf("motor %d pulsed %d times during dwell", i, m.Pulses())
		}
	}
	if pos := r.exec.Position(); pos[0] != 0 {
		t.Errorf("position moved during dwell: %v", pos)
	}
}

func TestDirectiveOrdering(t *testing.T) {
	r := newRig(t)
	var events []string
	var spindleAt, coolantAt int64
	r.exec.SetHandlers(Handlers{
		Spindle: func(mode planner.SpindleMode, rpm float64) {
			events = append(events, "spindle")
			spindleAt = r.set.Motors[0].Position()
			if mode != planner.SpindleCW || rpm != 8000 {
				t.Errorf("spindle = %v %v, want CW 8000", mode, rpm)
			}
		},
		Coolant: func(mode planner.CoolantMode) {
			events = append(events, "coolant")
			coolantAt = r.set.Motors[0].Position()
		},
		Tool: func(tool int) { events = append(events, "tool") },
		End:  func() { events = append(events, "end") },
	})

	err := r.queue.AppendCommand(planner.KindSpindle, func(b *planner.Block) {
		b.Spindle = planner.SpindleCW
		b.SpindleSpeed = 8000
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	r.line(t, 600, 2)
	if err := r.queue.AppendCommand(planner.KindCoolant, func(b *planner.Block) {
		b.Coolant = planner.CoolantFlood
	}, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.queue.AppendCommand(planner.KindTool, func(b *planner.Block) {
		b.Tool = 4
	}, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.queue.AppendCommand(planner.KindEnd, nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.exec.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	want := []string{"spindle", "coolant", "tool", "end"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
	if spindleAt != 0 {
		t.Errorf("spindle fired after %d steps, want before the move", spindleAt)
	}
	if coolantAt < 79 || coolantAt > 80 {
		t.Errorf("coolant fired at %d steps, want after the 2 mm move", coolantAt)
	}
}

func TestStopBlockHoldsQueue(t *testing.T) {
	r := newRig(t)
	stops := 0
	r.exec.SetHandlers(Handlers{Stop: func() { stops++ }})
	if err := r.queue.AppendCommand(planner.KindStop, nil, 0); err != nil {
		t.Fatal(err)
	}
	r.line(t, 600, 5)

	if err := r.exec.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stops != 1 {
		t.Fatalf("stop handler fired %d times, want 1", stops)
	}
	if p := r.set.Motors[0].Pulses(); p != 0 {
		t.Fatalf("motion ran through the stop: %d pulses", p)
	}
	if !r.exec.Busy() {
		t.Fatal("executor reports idle with a held queue")
	}

	r.exec.Resume()
	if err := r.exec.Drain(); err != nil {
		t.Fatalf("Drain after resume: %v", err)
	}
	if pos := r.exec.Position(); math.Abs(pos[0]-5) > 1e-9 {
		t.Errorf("X after resume = %v, want 5", pos[0])
	}
}

func TestLimitHitAborts(t *testing.T) {
	r := newRig(t)
	sw := endstop.New(endstop.SwitchConfig{
		Name:  "x-max",
		Axis:  "x",
		AtMax: true,
		Mode:  config.SwitchLimit,
		Type:  config.SwitchNormallyOpen,
	})
	sw.SetQueryCallback(func() (bool, error) {
		return r.set.Motors[0].Position() > 200, nil // past 5 mm
	})
	r.exec.AttachSwitch(0, true, sw)

	r.line(t, 600, 10)
	err := r.exec.Drain()
	if !errors.Is(err, errors.CodeLimitSwitchHit) {
		t.Fatalf("err = %v, want LIMIT_SWITCH_HIT", err)
	}
	if pos := r.exec.Position(); pos[0] >= 10 {
		t.Errorf("move completed despite limit: X=%v", pos[0])
	}
	if v := r.exec.Velocity(); v != 0 {
		t.Errorf("velocity after limit = %v, want 0", v)
	}
}

func TestBufferUnderrunMidChain(t *testing.T) {
	r := newRig(t)
	r.line(t, 600, 10)
	r.line(t, 600, 20)

	// run the first block out, then starve the queue
	for {
		busy, err := r.exec.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !busy {
			t.Fatal("drained both blocks before the starvation point")
		}
		if r.exec.Position()[0] >= 10-1e-9 && r.queue.Running() == nil {
			break
		}
	}
	r.queue.Flush()

	_, err := r.exec.Step()
	if !errors.Is(err, errors.CodeBufferEmpty) {
		t.Fatalf("err = %v, want BUFFER_EMPTY", err)
	}
	// the condition reports once, then the executor idles
	busy, err := r.exec.Step()
	if busy || err != nil {
		t.Fatalf("Step after underrun = %v, %v, want idle", busy, err)
	}
}

func TestZeroLengthBlockSkipped(t *testing.T) {
	r := newRig(t)
	r.line(t, 600, 5)
	if err := r.exec.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	before := r.set.Motors[0].Pulses()
	r.line(t, 600, 5)
	if err := r.exec.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if after := r.set.Motors[0].Pulses(); after != before {
		t.Errorf("zero-length block pulsed: %d -> %d", before, after)
	}
}
