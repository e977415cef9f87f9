// Jerk-limited velocity math
//
// The constant-jerk relations used throughout planning. Velocities are
// mm/min, lengths mm, jerk mm/min^3. For a symmetric S-curve ramp with
// peak jerk J, the distance needed for a velocity change dV is
// L = dV * sqrt(dV / J), and the velocity reachable over a length L
// starting from Vi is Vi + L^(2/3) * J^(1/3).
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"

	"tinyg-go-migration/pkg/config"
)

// velocityEps is the threshold below which two velocities compare equal.
const velocityEps = 1e-6

// targetLength returns the distance required to change velocity from
// vi to vt under a jerk-limited ramp. recipJerk is 1/J.
func targetLength(vi, vt, recipJerk float64) float64 {
	dv := math.Abs(vt - vi)
	if dv < velocityEps {
		return 0
	}
	return dv * math.Sqrt(dv*recipJerk)
}

// targetVelocity returns the velocity reachable from vi over a length
// of travel under a jerk-limited ramp. cbrtJerk is J^(1/3).
func targetVelocity(vi, length, cbrtJerk float64) float64 {
	if length <= 0 {
		return vi
	}
	return vi + math.Pow(length, 2.0/3.0)*cbrtJerk
}

// rampTime returns the duration in minutes of a jerk-limited ramp
// between vi and vt covering the given length. The symmetric S-curve
// has average velocity (vi+vt)/2.
func rampTime(length, vi, vt float64) float64 {
	avg := 0.5 * (vi + vt)
	if avg < velocityEps {
		return 0
	}
	return length / avg
}

// junctionVelocity computes the cornering velocity for two unit
// vectors meeting at a corner, from the junction deviation delta and
// the junction acceleration constant ja. The tighter the corner, the
// lower the velocity; colinear paths return +Inf (callers clamp to
// cruise), and a full reversal returns 0.
func junctionVelocity(prevUnit, unit *[config.NumAxes]float64, delta, ja float64) float64 {
	costheta := 0.0
	for i := range unit {
		costheta += prevUnit[i] * unit[i]
	}

	if costheta > 0.999999 {
		// Straight continuation
		return math.Inf(1)
	}
	if costheta < -0.999999 {
		// Full reversal
		return 0
	}
	return math.Sqrt(ja * delta * (1 + costheta) / (1 - costheta))
}
