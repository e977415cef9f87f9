// Controller adapter
//
// Bridges the controller stack to the server's machine interface and
// shapes the status objects clients can query or subscribe to.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package report

import (
	"strings"

	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/controller"
	"tinyg-go-migration/pkg/endstop"
)

// Adapter exposes a controller as a MachineInterface.
type Adapter struct {
	ctrl     *controller.Controller
	switches []*endstop.Switch
}

func NewAdapter(ctrl *controller.Controller) *Adapter {
	return &Adapter{ctrl: ctrl}
}

// TrackSwitch includes a switch in the switches status object.
func (a *Adapter) TrackSwitch(sw *endstop.Switch) {
	a.switches = append(a.switches, sw)
}

func (a *Adapter) ObjectsList() []string {
	return []string{"machine", "motion", "offsets", "switches", "safety"}
}

func (a *Adapter) ObjectStatus(name string, attrs []string) map[string]any {
	var status map[string]any
	switch name {
	case "machine":
		status = a.machineStatus()
	case "motion":
		status = a.motionStatus()
	case "offsets":
		status = a.offsetStatus()
	case "switches":
		status = a.switchStatus()
	case "safety":
		status = a.safetyStatus()
	default:
		return nil
	}
	return filterAttrs(status, attrs)
}

func (a *Adapter) machineStatus() map[string]any {
	st := a.ctrl.Machine().Snapshot()
	return map[string]any{
		"state":             st.State,
		"line":              st.Line,
		"units":             st.Units,
		"plane":             st.Plane,
		"distance_mode":     st.Distance,
		"coord_system":      st.CoordSystem,
		"path_control":      st.PathControl,
		"tool":              st.Tool,
		"spindle":           st.Spindle,
		"spindle_speed":     st.SpindleRPM,
		"coolant":           st.Coolant,
		"feed_rate":         st.FeedRate,
		"feed_override":     st.FeedOvr,
		"traverse_override": st.TraverseOvr,
	}
}

func (a *Adapter) motionStatus() map[string]any {
	st := a.ctrl.Machine().Snapshot()
	homed := make(map[string]bool, config.NumAxes)
	for i, name := range config.AxisNames {
		homed[name] = st.Homed[i]
	}
	return map[string]any{
		"machine_position": st.MachinePos[:],
		"work_position":    st.WorkPos[:],
		"velocity":         st.Velocity,
		"queue_depth":      st.QueueDepth,
		"homed":            homed,
	}
}

func (a *Adapter) offsetStatus() map[string]any {
	work, g92 := a.ctrl.Machine().WorkOffsets()
	out := make(map[string]any, 7)
	names := [6]string{"g54", "g55", "g56", "g57", "g58", "g59"}
	for i, n := range names {
		out[n] = work[i][:]
	}
	out["g92"] = g92[:]
	return out
}

func (a *Adapter) switchStatus() map[string]any {
	out := make(map[string]any, len(a.switches))
	for _, sw := range a.switches {
		st, err := sw.Query()
		if err != nil {
			out[sw.GetName()] = "unknown"
			continue
		}
		out[sw.GetName()] = st.String()
	}
	return out
}

func (a *Adapter) safetyStatus() map[string]any {
	st := a.ctrl.Safety().GetStatus()
	return map[string]any{
		"state":       st.State,
		"reason":      st.ShutdownReason,
		"message":     st.ShutdownMsg,
		"operational": st.IsOperational,
	}
}

// ExecuteScript feeds script lines through the controller input
// queue. Single-character command lines act out of band, as they do
// on the serial link.
func (a *Adapter) ExecuteScript(script string) error {
	for _, raw := range strings.Split(script, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if len(line) == 1 {
			switch line[0] {
			case controller.CmdFeedhold, controller.CmdCycleStart,
				controller.CmdStatus, controller.CmdReset:
				a.ctrl.SubmitCommand(line[0])
				continue
			}
		}
		if err := a.ctrl.SubmitLine(line); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) EmergencyStop() {
	a.ctrl.SubmitCommand(controller.CmdReset)
}

func (a *Adapter) MachineState() string {
	return a.ctrl.Machine().State().String()
}

func filterAttrs(status map[string]any, attrs []string) map[string]any {
	if len(attrs) == 0 {
		return status
	}
	filtered := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if v, ok := status[attr]; ok {
			filtered[attr] = v
		}
	}
	return filtered
}
