// Arc decomposition
//
// G2/G3 arcs become chains of chord-tolerant straight feeds. Centers
// come from I/J/K offsets or from the R radius form; the helical
// component normal to the plane and any rotary words are distributed
// linearly across the segments. The final segment lands exactly on
// the commanded endpoint.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package canon

import (
	"math"

	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/errors"
)

// ArcArgs carries the center-offset and radius words of a G2/G3 line.
type ArcArgs struct {
	Offset    [3]float64 // I, J, K in programmed units
	HasOffset [3]bool
	Radius    float64 // R in programmed units
	HasRadius bool
}

// radius mismatch tolerances for the IJK form
const (
	arcRadiusAbsTolerance  = 0.005 // mm
	arcRadiusFracTolerance = 0.001
)

// planeAxes maps the active plane to its two arc axes and the
// offsets that address them.
func (m *Machine) planeAxes() (alpha, beta, helical, offA, offB int) {
	switch m.plane {
	case PlaneXZ:
		return 0, 2, 1, 0, 2 // X, Z with I, K
	case PlaneYZ:
		return 1, 2, 0, 1, 2 // Y, Z with J, K
	}
	return 0, 1, 2, 0, 1 // X, Y with I, J
}

// ArcFeed executes G2 (clockwise) or G3 (counterclockwise).
func (m *Machine) ArcFeed(words *AxisValues, args *ArcArgs, clockwise bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMotionAllowed(); err != nil {
		return err
	}
	if m.feedRate <= 0 {
		return errors.Newf(errors.CodeInputValueRangeError, "arc requires a feed rate")
	}

	current := m.target
	target, err := m.resolveTarget(words, false)
	if err != nil {
		return err
	}

	alpha, beta, helical, offA, offB := m.planeAxes()
	dA := target[alpha] - current[alpha]
	dB := target[beta] - current[beta]

	var centerA, centerB, radius float64
	fullCircle := false

	if args.HasRadius {
		if args.HasOffset[0] || args.HasOffset[1] || args.HasOffset[2] {
			return errors.ArcSpecError("both R and I/J/K given")
		}
		r := m.toMM(alpha, args.Radius)
		if dA == 0 && dB == 0 {
			return errors.ArcSpecError("R form cannot describe a full circle")
		}
		chordSq := dA*dA + dB*dB
		disc := 4*r*r - chordSq
		if disc < 0 {
			return errors.ArcSpecError("radius too small to reach endpoint")
		}
		// Offset from the chord midpoint to the center, sign chosen
		// by direction; negative R selects the long arc
		h := -math.Sqrt(disc) / math.Sqrt(chordSq)
		if !clockwise {
			h = -h
		}
		if r < 0 {
			h = -h
			r = -r
		}
		centerA = current[alpha] + 0.5*(dA-h*dB)
		centerB = current[beta] + 0.5*(dB+h*dA)
		radius = r
	} else {
		oA, oB := 0.0, 0.0
		if args.HasOffset[offA] {
			oA = m.toMM(alpha, args.Offset[offA])
		}
		if args.HasOffset[offB] {
			oB = m.toMM(beta, args.Offset[offB])
		}
		if oA == 0 && oB == 0 {
			return errors.ArcSpecError("missing center offsets for the active plane")
		}
		centerA = current[alpha] + oA
		centerB = current[beta] + oB
		radius = math.Hypot(oA, oB)

		endRadius := math.Hypot(target[alpha]-centerA, target[beta]-centerB)
		diff := math.Abs(endRadius - radius)
		if diff > arcRadiusAbsTolerance && diff > arcRadiusFracTolerance*radius {
			return errors.ArcSpecError("endpoint does not lie on the arc")
		}
		fullCircle = dA == 0 && dB == 0
	}
	if radius <= 0 {
		return errors.ArcSpecError("zero radius")
	}

	// Angular travel, CCW positive
	rA := current[alpha] - centerA
	rB := current[beta] - centerB
	tA := target[alpha] - centerA
	tB := target[beta] - centerB
	angular := math.Atan2(rA*tB-rB*tA, rA*tA+rB*tB)
	if !clockwise && angular <= 0 {
		angular += 2 * math.Pi
	}
	if clockwise && angular >= 0 {
		angular -= 2 * math.Pi
	}
	if fullCircle {
		angular = 2 * math.Pi
		if clockwise {
			angular = -2 * math.Pi
		}
	}

	// Linear travel away from the plane, plus rotary axes, ride along
	var linear [config.NumAxes]float64
	planar := map[int]bool{alpha: true, beta: true}
	for i := 0; i < config.NumAxes; i++ {
		if !planar[i] {
			linear[i] = target[i] - current[i]
		}
	}

	flat := radius * math.Abs(angular)
	length := flat
	if linear[helical] != 0 {
		length = math.Hypot(flat, linear[helical])
	}
	if length == 0 {
		return errors.ZeroLengthError()
	}

	segments := m.arcSegments(radius, length)
	dTheta := angular / float64(segments)

	startAngle := math.Atan2(rB, rA)
	for i := 1; i <= segments; i++ {
		seg := current
		if i == segments {
			seg = target
		} else {
			theta := startAngle + float64(i)*dTheta
			seg[alpha] = centerA + radius*math.Cos(theta)
			seg[beta] = centerB + radius*math.Sin(theta)
			frac := float64(i) / float64(segments)
			for j := 0; j < config.NumAxes; j++ {
				if !planar[j] && linear[j] != 0 {
					seg[j] = current[j] + linear[j]*frac
				}
			}
		}
		if err := m.submit(seg, true); err != nil {
			return err
		}
	}
	return nil
}

// arcSegments computes the segment count from the chordal tolerance.
func (m *Machine) arcSegments(radius, length float64) int {
	eps := m.cfg.Planner.ChordalTolerance
	if eps <= 0 || eps >= radius {
		eps = radius / 2
	}
	segLen := 2 * math.Sqrt(2*radius*eps-eps*eps)
	if max := m.cfg.Planner.MaxArcSegment; max > 0 && segLen > max {
		segLen = max
	}
	if min := m.cfg.Planner.MinArcSegment; min > 0 && segLen < min {
		segLen = min
	}
	n := int(math.Floor(length / segLen))
	if n < 1 {
		n = 1
	}
	return n
}
