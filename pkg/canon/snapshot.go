// Status snapshots
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package canon

import (
	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/planner"
)

// Status is a consistent view of the machine captured under one lock
// acquisition, safe to serialize for reports.
type Status struct {
	State       string                   `json:"state"`
	Line        int                      `json:"line"`
	MachinePos  [config.NumAxes]float64  `json:"machine_position"`
	WorkPos     [config.NumAxes]float64  `json:"work_position"`
	Velocity    float64                  `json:"velocity"`
	FeedRate    float64                  `json:"feed_rate"`
	Units       string                   `json:"units"`
	Plane       string                   `json:"plane"`
	Distance    string                   `json:"distance_mode"`
	CoordSystem string                   `json:"coord_system"`
	PathControl string                   `json:"path_control"`
	Tool        int                      `json:"tool"`
	Spindle     string                   `json:"spindle"`
	SpindleRPM  float64                  `json:"spindle_speed"`
	Coolant     string                   `json:"coolant"`
	Homed       [config.NumAxes]bool     `json:"homed"`
	QueueDepth  int                      `json:"queue_depth"`
	FeedOvr     float64                  `json:"feed_override"`
	TraverseOvr float64                  `json:"traverse_override"`
}

var coordNames = [6]string{"G54", "G55", "G56", "G57", "G58", "G59"}

func distanceName(d DistanceMode) string {
	if d == DistanceIncremental {
		return "incremental"
	}
	return "absolute"
}

func pathName(p PathMode) string {
	switch p {
	case PathExactStop:
		return "exact_stop"
	case PathExactPath:
		return "exact_path"
	}
	return "continuous"
}

func spindleName(s planner.SpindleMode) string {
	switch s {
	case planner.SpindleCW:
		return "cw"
	case planner.SpindleCCW:
		return "ccw"
	}
	return "off"
}

func coolantName(c planner.CoolantMode) string {
	switch c {
	case planner.CoolantMist:
		return "mist"
	case planner.CoolantFlood:
		return "flood"
	}
	return "off"
}

// Snapshot captures the current status.
func (m *Machine) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var work [config.NumAxes]float64
	for i := 0; i < config.NumAxes; i++ {
		work[i] = m.machinePos[i] - m.offsetFor(i)
	}

	return Status{
		State:       m.state.String(),
		Line:        m.lineNumber,
		MachinePos:  m.machinePos,
		WorkPos:     work,
		Velocity:    m.velocity,
		FeedRate:    m.feedRate,
		Units:       m.units.String(),
		Plane:       m.plane.String(),
		Distance:    distanceName(m.distance),
		CoordSystem: coordNames[m.coordSystem-1],
		PathControl: pathName(m.pathControl),
		Tool:        m.tool,
		Spindle:     spindleName(m.spindle),
		SpindleRPM:  m.spindleRPM,
		Coolant:     coolantName(m.coolant),
		Homed:       m.homed,
		QueueDepth:  m.queue.Depth(),
		FeedOvr:     m.feedOverride,
		TraverseOvr: m.travOverride,
	}
}

// WorkOffsets returns the offset tables for persistence and reports.
func (m *Machine) WorkOffsets() ([6][config.NumAxes]float64, [config.NumAxes]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workOffsets, m.g92Offset
}
