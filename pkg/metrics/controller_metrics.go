// Controller-specific metrics definitions
//
// Defines all metrics for the motion controller host including:
// - Parser and planner metrics
// - Executor and step generation metrics
// - Homing and switch metrics
// - System metrics
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// ControllerMetrics holds all motion controller metrics
type ControllerMetrics struct {
	// Parser metrics
	LinesParsed   *Counter
	LinesRejected *Counter
	ParseTime     *Histogram

	// Planner metrics
	BlocksPlanned *Counter
	QueueDepth    *Gauge
	ReplanPasses  *Counter
	PlanningTime  *Histogram
	ArcSegments   *Counter
	Feedholds     *Counter

	// Executor metrics
	SegmentsExecuted  *Counter
	StepsEmitted      *Counter
	MachinePosition   *Gauge
	CurrentVelocity   *Gauge
	DDAPrecisionDrops *Counter
	Dwells            *Counter

	// Homing and switch metrics
	SwitchState  *Gauge
	HomingCycles *Counter
	HomingTime   *Histogram
	LimitHits    *Counter
	ProbeStrikes *Counter

	// System metrics
	HostUptime    *Counter
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoMemoryAlloc *Gauge
	GoGCCycles    *Counter

	// Error metrics
	ErrorsTotal *Counter
	Alarms      *Counter

	// Internal
	startTime time.Time
	registry  *Registry
	mu        sync.RWMutex
}

// NewControllerMetrics creates and registers all controller metrics
func NewControllerMetrics() *ControllerMetrics {
	cm := &ControllerMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	// Parser metrics
	cm.LinesParsed = NewCounter("cnc_lines_parsed_total",
		"Total G-code lines parsed")
	cm.LinesRejected = NewCounter("cnc_lines_rejected_total",
		"Total G-code lines rejected with an error status")
	cm.ParseTime = NewHistogram("cnc_parse_seconds",
		"Time spent parsing a line", DefaultBuckets())

	// Planner metrics
	cm.BlocksPlanned = NewCounter("cnc_blocks_planned_total",
		"Total motion blocks queued by the planner")
	cm.QueueDepth = NewGauge("cnc_planner_queue_depth",
		"Number of blocks in the planner queue")
	cm.ReplanPasses = NewCounter("cnc_replan_passes_total",
		"Total lookahead replanning passes")
	cm.PlanningTime = NewHistogram("cnc_planning_seconds",
		"Time spent in lookahead planning", DefaultBuckets())
	cm.ArcSegments = NewCounter("cnc_arc_segments_total",
		"Total linear segments generated from arcs")
	cm.Feedholds = NewCounter("cnc_feedholds_total",
		"Total feedhold events")

	// Executor metrics
	cm.SegmentsExecuted = NewCounter("cnc_segments_executed_total",
		"Total executor segments completed")
	cm.StepsEmitted = NewCounter("cnc_steps_emitted_total",
		"Total step pulses emitted per motor")
	cm.MachinePosition = NewGauge("cnc_machine_position_mm",
		"Current machine position per axis")
	cm.CurrentVelocity = NewGauge("cnc_velocity_mm_min",
		"Current path velocity")
	cm.DDAPrecisionDrops = NewCounter("cnc_dda_precision_drops_total",
		"Times DDA substep precision was halved to avoid overflow")
	cm.Dwells = NewCounter("cnc_dwells_total",
		"Total dwell blocks executed")

	// Homing and switch metrics
	cm.SwitchState = NewGauge("cnc_switch_closed",
		"Switch state (1=closed, 0=open)")
	cm.HomingCycles = NewCounter("cnc_homing_cycles_total",
		"Total homing cycles per axis")
	cm.HomingTime = NewHistogram("cnc_homing_seconds",
		"Time to complete a homing cycle", []float64{0.5, 1, 2, 5, 10, 30})
	cm.LimitHits = NewCounter("cnc_limit_hits_total",
		"Total unexpected limit switch closures")
	cm.ProbeStrikes = NewCounter("cnc_probe_strikes_total",
		"Total recorded probe strikes")

	// System metrics
	cm.HostUptime = NewCounter("cnc_host_uptime_seconds_total",
		"Total host uptime in seconds")
	cm.GoGoroutines = NewGauge("cnc_go_goroutines",
		"Number of active goroutines")
	cm.GoMemoryHeap = NewGauge("cnc_go_memory_heap_bytes",
		"Go heap memory in use")
	cm.GoMemoryAlloc = NewGauge("cnc_go_memory_alloc_bytes",
		"Go total memory allocated")
	cm.GoGCCycles = NewCounter("cnc_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	// Error metrics
	cm.ErrorsTotal = NewCounter("cnc_errors_total",
		"Total errors by status code")
	cm.Alarms = NewCounter("cnc_alarms_total",
		"Total alarm transitions")

	cm.registerAll()

	return cm
}

// registerAll registers all metrics with the internal registry
func (cm *ControllerMetrics) registerAll() {
	metrics := []Metric{
		cm.LinesParsed, cm.LinesRejected, cm.ParseTime,
		cm.BlocksPlanned, cm.QueueDepth, cm.ReplanPasses,
		cm.PlanningTime, cm.ArcSegments, cm.Feedholds,
		cm.SegmentsExecuted, cm.StepsEmitted, cm.MachinePosition,
		cm.CurrentVelocity, cm.DDAPrecisionDrops, cm.Dwells,
		cm.SwitchState, cm.HomingCycles, cm.HomingTime,
		cm.LimitHits, cm.ProbeStrikes,
		cm.HostUptime, cm.GoGoroutines, cm.GoMemoryHeap, cm.GoMemoryAlloc,
		cm.GoGCCycles,
		cm.ErrorsTotal, cm.Alarms,
	}
	for _, m := range metrics {
		cm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics updates Go runtime metrics
func (cm *ControllerMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	cm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	cm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	cm.GoMemoryAlloc.Set(nil, float64(m.Alloc))
	cm.GoGCCycles.Add(nil, uint64(m.NumGC)-cm.GoGCCycles.Get(nil))
	cm.HostUptime.Add(nil, uint64(time.Since(cm.startTime).Seconds()))
}

// SetMachinePosition updates the per-axis machine position gauge
func (cm *ControllerMetrics) SetMachinePosition(axis string, pos float64) {
	cm.MachinePosition.Set(Labels{"axis": axis}, pos)
}

// AddSteps increments the per-motor step counter
func (cm *ControllerMetrics) AddSteps(motor string, steps uint64) {
	if steps > 0 {
		cm.StepsEmitted.Add(Labels{"motor": motor}, steps)
	}
}

// SetSwitchState updates a switch gauge
func (cm *ControllerMetrics) SetSwitchState(name string, closed bool) {
	v := float64(0)
	if closed {
		v = 1
	}
	cm.SwitchState.Set(Labels{"switch": name}, v)
}

// RecordHoming records a completed homing cycle
func (cm *ControllerMetrics) RecordHoming(axis string, duration time.Duration) {
	cm.HomingCycles.Inc(Labels{"axis": axis})
	cm.HomingTime.Observe(Labels{"axis": axis}, duration.Seconds())
}

// RecordError records an error by status code
func (cm *ControllerMetrics) RecordError(code string) {
	cm.ErrorsTotal.Inc(Labels{"code": code})
}

// Gather returns all metrics in text exposition format
func (cm *ControllerMetrics) Gather() string {
	cm.UpdateSystemMetrics()
	return cm.registry.Gather()
}

// Registry returns the internal registry
func (cm *ControllerMetrics) Registry() *Registry {
	return cm.registry
}

// Global metrics instance
var globalMetrics *ControllerMetrics
var globalMetricsOnce sync.Once

// GlobalMetrics returns the global controller metrics instance
func GlobalMetrics() *ControllerMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewControllerMetrics()
	})
	return globalMetrics
}
