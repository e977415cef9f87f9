// Package config provides machine configuration parsing with access
// tracking and validation. The typed MachineConfig consumed at init is
// built from an INI-style machine.cfg with one section per motor and
// axis plus [machine], [planner], [executor], [status] and [serial].
package config

import (
	"fmt"
	"strings"

	"tinyg-go-migration/pkg/errors"
)

// Axis and motor counts for the controller.
const (
	NumAxes   = 6
	NumMotors = 6
)

// AxisNames lists the axis letters in canonical order.
var AxisNames = []string{"x", "y", "z", "a", "b", "c"}

// AxisMode selects how an axis participates in motion.
type AxisMode string

const (
	AxisDisabled  AxisMode = "disabled"
	AxisStandard  AxisMode = "standard"
	AxisInhibited AxisMode = "inhibited"
	AxisRadius    AxisMode = "radius"
)

// SwitchMode selects what a min or max switch is used for.
type SwitchMode string

const (
	SwitchDisabled    SwitchMode = "disabled"
	SwitchHoming      SwitchMode = "homing"
	SwitchLimit       SwitchMode = "limit"
	SwitchHomingLimit SwitchMode = "homing_limit"
)

// SwitchType is the electrical sense of the switches.
type SwitchType string

const (
	SwitchNormallyOpen   SwitchType = "no"
	SwitchNormallyClosed SwitchType = "nc"
)

// PowerMode selects when a motor is energized.
type PowerMode string

const (
	PowerAlwaysOn PowerMode = "always_on"
	PowerInCycle  PowerMode = "in_cycle"
	PowerWhenIdle PowerMode = "idle_timeout"
)

// MotorConfig holds one stepper motor's configuration.
type MotorConfig struct {
	Name         string // motor_1 .. motor_6
	Axis         string // mapped axis letter: x, y, z, a, b, c
	StepAngle    float64
	TravelPerRev float64
	Microsteps   int
	Reverse      bool
	Power        PowerMode
	StepPin      Pin
	DirPin       Pin
	EnablePin    Pin
}

// StepsPerUnit returns the derived microsteps per length or angle unit.
func (m *MotorConfig) StepsPerUnit() float64 {
	if m.StepAngle == 0 || m.TravelPerRev == 0 {
		return 0
	}
	return (360.0 / m.StepAngle) * float64(m.Microsteps) / m.TravelPerRev
}

// AxisConfig holds one axis's configuration. Velocities are in
// units/min, jerk in units/min^3, travel and backoffs in units, where
// the unit is mm for linear axes and degrees for rotary axes not in
// radius mode.
type AxisConfig struct {
	Name              string // axis_x .. axis_c
	Mode              AxisMode
	VelocityMax       float64
	FeedrateMax       float64
	TravelMin         float64
	TravelMax         float64
	JerkMax           float64
	JerkHoming        float64
	JunctionDeviation float64
	Radius            float64 // rotary radius for AxisRadius mode

	SwitchModeMin  SwitchMode
	SwitchModeMax  SwitchMode
	SearchVelocity float64
	LatchVelocity  float64
	LatchBackoff   float64
	ZeroBackoff    float64
}

// Rotary reports whether the axis letter names a rotary axis.
func (a *AxisConfig) Rotary() bool {
	n := strings.TrimPrefix(a.Name, "axis_")
	return n == "a" || n == "b" || n == "c"
}

// PlannerConfig holds the lookahead planner configuration.
type PlannerConfig struct {
	QueueDepth           int     // planner ring capacity, 24..64
	JunctionAcceleration float64 // centripetal cap for cornering, mm/min^2
	MinLineLength        float64 // below this a move merges or nulls, mm
	MinArcSegment        float64 // arc chord floor, mm
	MaxArcSegment        float64 // arc chord ceiling, mm
	ChordalTolerance     float64 // arc flattening tolerance, mm
}

// ExecutorConfig holds the segment runner and DDA configuration.
type ExecutorConfig struct {
	SegmentUsec  float64 // nominal segment duration, microseconds
	MinSegmentMM float64 // shortest segment worth slicing
	FreqDDAMin   float64 // Hz
	FreqDDAMax   float64 // Hz
	Substeps     uint32  // initial DDA substep precision
	Overclock    int     // max DDA overclock multiple of the step rate
	RTCHz        float64 // housekeeping tick rate
}

// StatusConfig holds the status reporter configuration.
type StatusConfig struct {
	IntervalMS int    // automatic status report interval, 0 disables
	APIAddr    string // report server bind address, "" disables
}

// SerialConfig holds the command input configuration.
type SerialConfig struct {
	Device string // tty device path, "" reads stdin
	Baud   int
}

// MachineConfig is the full typed configuration consumed at init.
type MachineConfig struct {
	Units         string // "mm" or "inch" power-on default
	CoordSystem   int    // 1..6 selects G54..G59 at power-on
	SwitchType    SwitchType
	Motors        []*MotorConfig // index 0 is motor_1; nil when absent
	Axes          map[string]*AxisConfig
	Planner       PlannerConfig
	Executor      ExecutorConfig
	Status        StatusConfig
	Serial        SerialConfig
	OffsetsFile   string // work offset store path, "" disables persistence
	EnableCR      bool   // emit CR+LF line endings in responses
	HomingOrder   []string
}

// Default returns a MachineConfig with every option at its default.
// Used by the simulator and by tests that do not load a file.
func Default() *MachineConfig {
	cfg, err := FromConfig(mustLoadString(defaultProfile))
	if err != nil {
		panic(fmt.Sprintf("config: default profile invalid: %v", err))
	}
	return cfg
}

func mustLoadString(s string) *Config {
	c, err := LoadString(s)
	if err != nil {
		panic(err)
	}
	return c
}

// defaultProfile mirrors a small three-axis mill profile.
const defaultProfile = `
[machine]
units: mm
coordinate_system: 1
switch_type: no
homing_order: x, y, z

[planner]
queue_depth: 48
junction_acceleration: 200000
min_line_length: 0.08
chordal_tolerance: 0.01
min_arc_segment: 0.05
max_arc_segment: 1.0

[executor]
segment_usec: 10000
min_segment_mm: 0.005
f_dda_min: 10000
f_dda_max: 50000
dda_substeps: 1024
dda_overclock: 4
rtc_hz: 1000

[motor_1]
axis: x
step_angle: 1.8
travel_per_rev: 40.0
microsteps: 8
polarity: normal

[motor_2]
axis: y
step_angle: 1.8
travel_per_rev: 40.0
microsteps: 8
polarity: normal

[motor_3]
axis: z
step_angle: 1.8
travel_per_rev: 4.0
microsteps: 8
polarity: normal

[axis_x]
mode: standard
velocity_max: 16000
feedrate_max: 16000
travel_min: 0
travel_max: 150
jerk_max: 5000000000
junction_deviation: 0.05
switch_mode_min: homing_limit
search_velocity: 3000
latch_velocity: 100
latch_backoff: 5
zero_backoff: 1

[axis_y]
mode: standard
velocity_max: 16000
feedrate_max: 16000
travel_min: 0
travel_max: 150
jerk_max: 5000000000
junction_deviation: 0.05
switch_mode_min: homing_limit
search_velocity: 3000
latch_velocity: 100
latch_backoff: 5
zero_backoff: 1

[axis_z]
mode: standard
velocity_max: 16000
feedrate_max: 16000
travel_min: -75
travel_max: 0
jerk_max: 50000000
junction_deviation: 0.05
switch_mode_max: homing_limit
search_velocity: 600
latch_velocity: 100
latch_backoff: 5
zero_backoff: 1
`

// ParseMachineConfig loads path and materializes the MachineConfig.
func ParseMachineConfig(path string) (*MachineConfig, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return FromConfig(c)
}

// FromConfig materializes a MachineConfig from a parsed Config.
func FromConfig(c *Config) (*MachineConfig, error) {
	mc := &MachineConfig{
		Motors: make([]*MotorConfig, NumMotors),
		Axes:   make(map[string]*AxisConfig, NumAxes),
	}

	machine, err := c.GetSection("machine")
	if err != nil {
		return nil, err
	}
	if mc.Units, err = machine.GetChoice("units", []string{"mm", "inch"}, "mm"); err != nil {
		return nil, err
	}
	one, six := 1, 6
	if mc.CoordSystem, err = machine.GetIntWithBounds("coordinate_system", &one, &six, 1); err != nil {
		return nil, err
	}
	st, err := machine.GetChoice("switch_type", []string{"no", "nc"}, "no")
	if err != nil {
		return nil, err
	}
	mc.SwitchType = SwitchType(st)
	if mc.HomingOrder, err = machine.GetList("homing_order", ",", []string{"x", "y", "z"}); err != nil {
		return nil, err
	}
	for _, ax := range mc.HomingOrder {
		if !validAxisName(ax) {
			return nil, errors.ConfigValidationError("machine", "homing_order", "unknown axis "+ax)
		}
	}
	if mc.OffsetsFile, err = machine.Get("offsets_file", ""); err != nil {
		return nil, err
	}
	if mc.EnableCR, err = machine.GetBool("enable_cr", false); err != nil {
		return nil, err
	}

	if err := parsePlannerSection(c, &mc.Planner); err != nil {
		return nil, err
	}
	if err := parseExecutorSection(c, &mc.Executor); err != nil {
		return nil, err
	}

	for i := 0; i < NumMotors; i++ {
		name := fmt.Sprintf("motor_%d", i+1)
		sec := c.GetSectionOptional(name)
		if sec == nil {
			continue
		}
		m, err := parseMotorSection(sec)
		if err != nil {
			return nil, err
		}
		mc.Motors[i] = m
	}

	for _, ax := range AxisNames {
		name := "axis_" + ax
		sec := c.GetSectionOptional(name)
		if sec == nil {
			mc.Axes[ax] = &AxisConfig{Name: name, Mode: AxisDisabled}
			continue
		}
		a, err := parseAxisSection(sec)
		if err != nil {
			return nil, err
		}
		mc.Axes[ax] = a
	}

	if status := c.GetSectionOptional("status"); status != nil {
		if mc.Status.IntervalMS, err = status.GetInt("interval_ms", 250); err != nil {
			return nil, err
		}
		if mc.Status.APIAddr, err = status.Get("api_addr", ""); err != nil {
			return nil, err
		}
	} else {
		mc.Status.IntervalMS = 250
	}

	if serial := c.GetSectionOptional("serial"); serial != nil {
		if mc.Serial.Device, err = serial.Get("device", ""); err != nil {
			return nil, err
		}
		if mc.Serial.Baud, err = serial.GetInt("baud", 115200); err != nil {
			return nil, err
		}
	} else {
		mc.Serial.Baud = 115200
	}

	return mc, mc.validate()
}

func validAxisName(s string) bool {
	for _, ax := range AxisNames {
		if s == ax {
			return true
		}
	}
	return false
}

func parsePlannerSection(c *Config, p *PlannerConfig) error {
	sec := c.GetSectionOptional("planner")
	if sec == nil {
		return errors.ConfigSectionError("planner")
	}
	var err error
	minDepth, maxDepth := 24, 64
	if p.QueueDepth, err = sec.GetIntWithBounds("queue_depth", &minDepth, &maxDepth, 48); err != nil {
		return err
	}
	zero := 0.0
	if p.JunctionAcceleration, err = sec.GetFloatWithBounds("junction_acceleration",
		FloatBounds{Above: &zero}, 200000); err != nil {
		return err
	}
	if p.MinLineLength, err = sec.GetFloatWithBounds("min_line_length",
		FloatBounds{Above: &zero}, 0.08); err != nil {
		return err
	}
	if p.ChordalTolerance, err = sec.GetFloatWithBounds("chordal_tolerance",
		FloatBounds{Above: &zero}, 0.01); err != nil {
		return err
	}
	if p.MinArcSegment, err = sec.GetFloatWithBounds("min_arc_segment",
		FloatBounds{Above: &zero}, 0.05); err != nil {
		return err
	}
	if p.MaxArcSegment, err = sec.GetFloatWithBounds("max_arc_segment",
		FloatBounds{Above: &p.MinArcSegment}, 1.0); err != nil {
		return err
	}
	return nil
}

func parseExecutorSection(c *Config, e *ExecutorConfig) error {
	sec := c.GetSectionOptional("executor")
	if sec == nil {
		return errors.ConfigSectionError("executor")
	}
	var err error
	zero := 0.0
	if e.SegmentUsec, err = sec.GetFloatWithBounds("segment_usec",
		FloatBounds{Above: &zero}, 10000); err != nil {
		return err
	}
	if e.MinSegmentMM, err = sec.GetFloatWithBounds("min_segment_mm",
		FloatBounds{Above: &zero}, 0.005); err != nil {
		return err
	}
	if e.FreqDDAMin, err = sec.GetFloatWithBounds("f_dda_min",
		FloatBounds{Above: &zero}, 10000); err != nil {
		return err
	}
	if e.FreqDDAMax, err = sec.GetFloatWithBounds("f_dda_max",
		FloatBounds{Above: &e.FreqDDAMin}, 50000); err != nil {
		return err
	}
	substeps, err := sec.GetInt("dda_substeps", 1024)
	if err != nil {
		return err
	}
	if substeps < 1 || substeps&(substeps-1) != 0 {
		return errors.ConfigValidationError("executor", "dda_substeps", "must be a power of two")
	}
	e.Substeps = uint32(substeps)
	oneI, eight := 1, 8
	if e.Overclock, err = sec.GetIntWithBounds("dda_overclock", &oneI, &eight, 4); err != nil {
		return err
	}
	if e.RTCHz, err = sec.GetFloatWithBounds("rtc_hz",
		FloatBounds{Above: &zero}, 1000); err != nil {
		return err
	}
	return nil
}

func parseMotorSection(sec *Section) (*MotorConfig, error) {
	m := &MotorConfig{Name: sec.GetName()}
	var err error
	if m.Axis, err = sec.GetChoice("axis", AxisNames); err != nil {
		return nil, err
	}
	zero := 0.0
	if m.StepAngle, err = sec.GetFloatWithBounds("step_angle",
		FloatBounds{Above: &zero}, 1.8); err != nil {
		return nil, err
	}
	if m.TravelPerRev, err = sec.GetFloatWithBounds("travel_per_rev",
		FloatBounds{Above: &zero}); err != nil {
		return nil, err
	}
	ms, err := sec.GetChoice("microsteps", []string{"1", "2", "4", "8"}, "8")
	if err != nil {
		return nil, err
	}
	fmt.Sscanf(ms, "%d", &m.Microsteps)
	pol, err := sec.GetChoice("polarity", []string{"normal", "reverse"}, "normal")
	if err != nil {
		return nil, err
	}
	m.Reverse = pol == "reverse"
	pm, err := sec.GetChoice("power_mode", []string{"always_on", "in_cycle", "idle_timeout"}, "in_cycle")
	if err != nil {
		return nil, err
	}
	m.Power = PowerMode(pm)
	pinOpts := PinOptions{CanInvert: true}
	if m.StepPin, err = sec.GetPin("step_pin", pinOpts, Pin{}); err != nil {
		return nil, err
	}
	if m.DirPin, err = sec.GetPin("dir_pin", pinOpts, Pin{}); err != nil {
		return nil, err
	}
	if m.EnablePin, err = sec.GetPin("enable_pin", pinOpts, Pin{}); err != nil {
		return nil, err
	}
	return m, nil
}

func parseAxisSection(sec *Section) (*AxisConfig, error) {
	a := &AxisConfig{Name: sec.GetName()}
	mode, err := sec.GetChoice("mode",
		[]string{"disabled", "standard", "inhibited", "radius"}, "standard")
	if err != nil {
		return nil, err
	}
	a.Mode = AxisMode(mode)
	if a.Mode == AxisDisabled {
		return a, nil
	}
	zero := 0.0
	if a.VelocityMax, err = sec.GetFloatWithBounds("velocity_max",
		FloatBounds{Above: &zero}); err != nil {
		return nil, err
	}
	if a.FeedrateMax, err = sec.GetFloatWithBounds("feedrate_max",
		FloatBounds{Above: &zero}, a.VelocityMax); err != nil {
		return nil, err
	}
	if a.TravelMin, err = sec.GetFloat("travel_min", 0); err != nil {
		return nil, err
	}
	if a.TravelMax, err = sec.GetFloatWithBounds("travel_max",
		FloatBounds{MinVal: &a.TravelMin}, 0); err != nil {
		return nil, err
	}
	if a.JerkMax, err = sec.GetFloatWithBounds("jerk_max",
		FloatBounds{Above: &zero}); err != nil {
		return nil, err
	}
	if a.JerkHoming, err = sec.GetFloatWithBounds("jerk_homing",
		FloatBounds{Above: &zero}, a.JerkMax); err != nil {
		return nil, err
	}
	if a.JunctionDeviation, err = sec.GetFloatWithBounds("junction_deviation",
		FloatBounds{Above: &zero}, 0.05); err != nil {
		return nil, err
	}
	if a.Mode == AxisRadius {
		if a.Radius, err = sec.GetFloatWithBounds("radius",
			FloatBounds{Above: &zero}); err != nil {
			return nil, err
		}
	}
	swChoices := []string{"disabled", "homing", "limit", "homing_limit"}
	smin, err := sec.GetChoice("switch_mode_min", swChoices, "disabled")
	if err != nil {
		return nil, err
	}
	a.SwitchModeMin = SwitchMode(smin)
	smax, err := sec.GetChoice("switch_mode_max", swChoices, "disabled")
	if err != nil {
		return nil, err
	}
	a.SwitchModeMax = SwitchMode(smax)
	if a.SearchVelocity, err = sec.GetFloatWithBounds("search_velocity",
		FloatBounds{Above: &zero}, 500); err != nil {
		return nil, err
	}
	if a.LatchVelocity, err = sec.GetFloatWithBounds("latch_velocity",
		FloatBounds{Above: &zero}, 100); err != nil {
		return nil, err
	}
	if a.LatchBackoff, err = sec.GetFloatWithBounds("latch_backoff",
		FloatBounds{Above: &zero}, 5); err != nil {
		return nil, err
	}
	if a.ZeroBackoff, err = sec.GetFloatWithBounds("zero_backoff",
		FloatBounds{MinVal: &zero}, 1); err != nil {
		return nil, err
	}
	return a, nil
}

// validate enforces cross-section constraints.
func (mc *MachineConfig) validate() error {
	seen := make(map[string]string)
	for _, m := range mc.Motors {
		if m == nil {
			continue
		}
		if prev, ok := seen[m.Axis]; ok {
			return errors.ConfigValidationError(m.Name, "axis",
				fmt.Sprintf("axis %s already mapped to %s", m.Axis, prev))
		}
		seen[m.Axis] = m.Name
		ax := mc.Axes[m.Axis]
		if ax == nil || ax.Mode == AxisDisabled {
			return errors.ConfigValidationError(m.Name, "axis",
				fmt.Sprintf("motor mapped to disabled axis %s", m.Axis))
		}
	}
	for _, ax := range mc.HomingOrder {
		a := mc.Axes[ax]
		if a == nil || a.Mode == AxisDisabled {
			return errors.ConfigValidationError("machine", "homing_order",
				"axis "+ax+" is not enabled")
		}
		if a.SwitchModeMin == SwitchDisabled && a.SwitchModeMax == SwitchDisabled {
			return errors.ConfigValidationError("machine", "homing_order",
				"axis "+ax+" has no homing switch configured")
		}
	}
	return nil
}

// MotorsForAxis returns the motors mapped to the given axis letter.
func (mc *MachineConfig) MotorsForAxis(axis string) []*MotorConfig {
	var out []*MotorConfig
	for _, m := range mc.Motors {
		if m != nil && m.Axis == axis {
			out = append(out, m)
		}
	}
	return out
}
