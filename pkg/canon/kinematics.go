// Kinematics mapping between model space and planner space
//
// The machine model works in mm for linear axes and degrees for rotary
// axes. The planner requires consistent length units along every axis,
// so rotary axes configured in radius mode are scaled by their arc
// length factor on the way in and divided back out on the way up.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package canon

import (
	"math"

	"tinyg-go-migration/pkg/config"
)

// Kinematics converts between the model's axis coordinates and the
// planner's homogeneous length coordinates.
type Kinematics interface {
	ToPlanner(model [config.NumAxes]float64) [config.NumAxes]float64
	FromPlanner(plan [config.NumAxes]float64) [config.NumAxes]float64
}

// Cartesian is the stock kinematics: identity for linear axes and
// rotary axes planned in degrees, arc-length scaling for rotary axes
// in radius mode.
type Cartesian struct {
	scale [config.NumAxes]float64
}

// NewCartesian derives the per-axis scale factors from the axis
// configuration.
func NewCartesian(cfg *config.MachineConfig) *Cartesian {
	k := &Cartesian{}
	for i, name := range config.AxisNames {
		k.scale[i] = 1.0
		ax := cfg.Axes[name]
		if ax == nil {
			continue
		}
		if ax.Mode == config.AxisRadius && ax.Radius > 0 {
			// degrees to arc length at the configured radius
			k.scale[i] = ax.Radius * math.Pi / 180.0
		}
	}
	return k
}

func (k *Cartesian) ToPlanner(model [config.NumAxes]float64) [config.NumAxes]float64 {
	var out [config.NumAxes]float64
	for i := 0; i < config.NumAxes; i++ {
		out[i] = model[i] * k.scale[i]
	}
	return out
}

func (k *Cartesian) FromPlanner(plan [config.NumAxes]float64) [config.NumAxes]float64 {
	var out [config.NumAxes]float64
	for i := 0; i < config.NumAxes; i++ {
		out[i] = plan[i] / k.scale[i]
	}
	return out
}
