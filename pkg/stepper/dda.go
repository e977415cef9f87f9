// 32-bit DDA step generation
//
// Each planned segment is converted into a tick count at a chosen DDA
// frequency and per-motor substep totals. Every tick adds a motor's
// total to a running accumulator; a step fires each time the
// accumulator crosses ticks*substeps. The accumulator carries across
// segments, so a block's emitted steps match its planned travel
// exactly. When the scaled totals do not fit signed 32-bit math the
// substep resolution halves, down to 1, with a warning.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepper

import (
	"math"

	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/log"
)

const maxOverclock = 4

// Segment is a prepped, ready-to-run DDA load.
type Segment struct {
	Ticks uint32
	Freq  float64

	// per motor: substep totals (magnitude) and directions
	totals  []int64
	forward []bool

	// threshold in substep-tick units, ticks * substeps
	threshold int64
	substeps  uint32
}

// DDA converts segments into step pulses across a motor set.
type DDA struct {
	motors []*Motor
	cfg    *config.ExecutorConfig
	logger *log.Logger

	substeps uint32

	active    *Segment
	prepped   *Segment
	last      *Segment // most recently begun, for carry rescale
	tickCount uint32
}

func NewDDA(motors []*Motor, cfg *config.ExecutorConfig) *DDA {
	sub := cfg.Substeps
	if sub == 0 {
		sub = 1024
	}
	return &DDA{
		motors:   motors,
		cfg:      cfg,
		logger:   log.New("dda"),
		substeps: sub,
	}
}

// Motors exposes the motor set for accounting.
func (d *DDA) Motors() []*Motor { return d.motors }

// Prep converts per-axis travel (mm or degrees) over the given time
// (seconds) into a pending segment. It does not disturb the active
// segment; Begin promotes it.
func (d *DDA) Prep(travel [config.NumAxes]float64, seconds float64) error {
	if seconds <= 0 {
		return errors.MotionError("segment with non-positive duration")
	}

	steps := make([]float64, len(d.motors))
	major := 0.0
	for i, m := range d.motors {
		if m.axis < 0 {
			continue
		}
		steps[i] = travel[m.axis] * m.stepsPerUnit
		if r := math.Abs(steps[i]) / seconds; r > major {
			major = r
		}
	}

	freq, err := d.chooseFreq(major)
	if err != nil {
		return err
	}
	ticks := uint32(math.Round(freq * seconds))
	if ticks == 0 {
		ticks = 1
	}

	seg := &Segment{
		Ticks:   ticks,
		Freq:    freq,
		totals:  make([]int64, len(d.motors)),
		forward: make([]bool, len(d.motors)),
	}

	// Fit the substep math into 31 bits, halving resolution as needed
	sub := d.substeps
	for {
		seg.threshold = int64(ticks) * int64(sub)
		fits := seg.threshold <= math.MaxInt32
		for i := range d.motors {
			t := int64(math.Round(math.Abs(steps[i]) * float64(sub)))
			if t > math.MaxInt32 {
				fits = false
			}
			seg.totals[i] = t
			seg.forward[i] = steps[i] >= 0
		}
		if fits {
			break
		}
		if sub == 1 {
			return errors.OverflowError(sub)
		}
		sub /= 2
		d.logger.WithField("substeps", sub).Warn("substep overflow, halving resolution")
	}
	seg.substeps = sub

	// A motor may not need more than one step per tick
	for _, t := range seg.totals {
		if t > seg.threshold {
			return errors.MotionError("motor step rate exceeds DDA tick rate")
		}
	}

	d.prepped = seg
	return nil
}

// chooseFreq picks the DDA clock for the segment's major step rate.
func (d *DDA) chooseFreq(major float64) (float64, error) {
	min, max := d.cfg.FreqDDAMin, d.cfg.FreqDDAMax
	oc := d.cfg.Overclock
	if oc < 1 {
		oc = 1
	}
	if oc > maxOverclock {
		oc = maxOverclock
	}
	if major > max {
		return 0, errors.MotionError("step rate exceeds DDA ceiling")
	}

	f := major * float64(oc)
	if f > max {
		f = max
	}
	if f < min {
		f = min
	}
	return f, nil
}

// Prepped reports whether a segment is staged.
func (d *DDA) Prepped() bool { return d.prepped != nil }

// Begin promotes the prepped segment to active and latches motor
// directions. It reports false when nothing is staged.
func (d *DDA) Begin() bool {
	if d.prepped == nil {
		return false
	}
	prevThreshold := int64(0)
	if d.active != nil {
		prevThreshold = d.active.threshold
	} else if d.last != nil {
		prevThreshold = d.last.threshold
	}
	d.active = d.prepped
	d.prepped = nil
	d.last = d.active
	d.tickCount = d.active.Ticks
	for i, m := range d.motors {
		m.setDirection(d.active.forward[i])
		// the carry is scaled by ticks*substeps, so a segment with a
		// different threshold needs the fraction re-weighted
		if prevThreshold != 0 && prevThreshold != d.active.threshold {
			m.acc = m.acc * d.active.threshold / prevThreshold
		}
	}
	return true
}

// Active reports whether a segment is running.
func (d *DDA) Active() bool { return d.active != nil }

// Tick advances the DDA one clock. It performs O(motors) work and
// never blocks. Returns false once the active segment is exhausted;
// the caller then Begins the next prepped segment.
func (d *DDA) Tick() bool {
	seg := d.active
	if seg == nil {
		return false
	}
	for i, m := range d.motors {
		if seg.totals[i] == 0 {
			continue
		}
		m.acc += seg.totals[i]
		if m.acc >= seg.threshold {
			m.acc -= seg.threshold
			m.pulse()
		}
	}
	d.tickCount--
	if d.tickCount == 0 {
		d.active = nil
		return false
	}
	return true
}

// RunSegment drives the active segment to completion, for simulator
// and offline use.
func (d *DDA) RunSegment() {
	for d.Tick() {
	}
}

// Flush drops any staged or running segment and clears fractional
// carries, as after an abort or probe strike.
func (d *DDA) Flush() {
	d.active = nil
	d.prepped = nil
	d.tickCount = 0
	for _, m := range d.motors {
		m.acc = 0
	}
}
