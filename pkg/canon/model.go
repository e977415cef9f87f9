// Canonical machine model
//
// The single stateful model between the parser and the planner. It
// owns the modal state (units, plane, distance and feed modes, path
// control, coordinate system, tool, spindle, coolant), the work offset
// tables, and the machine state. Parser-facing operations resolve
// targets into machine-absolute planner requests; the executor reports
// positions back at segment boundaries.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package canon

import (
	"math"
	"sync"

	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/planner"
)

const inchesToMM = 25.4

// Units is the programmed length unit (G20/G21).
type Units int

const (
	UnitsMM Units = iota
	UnitsInches
)

func (u Units) String() string {
	if u == UnitsInches {
		return "inch"
	}
	return "mm"
}

// Plane selects the arc plane (G17/G18/G19).
type Plane int

const (
	PlaneXY Plane = iota
	PlaneXZ
	PlaneYZ
)

func (p Plane) String() string {
	switch p {
	case PlaneXZ:
		return "XZ"
	case PlaneYZ:
		return "YZ"
	}
	return "XY"
}

// DistanceMode is absolute or incremental addressing (G90/G91).
type DistanceMode int

const (
	DistanceAbsolute DistanceMode = iota
	DistanceIncremental
)

// FeedMode is the feed rate interpretation (G94/G93).
type FeedMode int

const (
	FeedUnitsPerMinute FeedMode = iota
	FeedInverseTime
)

// PathMode is the path control mode (G61/G61.1/G64).
type PathMode int

const (
	PathExactStop PathMode = iota
	PathExactPath
	PathContinuous
)

// State is the top-level machine state.
type State int

const (
	StateReset State = iota
	StateCycle
	StateHold
	StateEndHold
	StateHoming
	StateProbing
	StateAlarm
)

func (s State) String() string {
	switch s {
	case StateCycle:
		return "cycle"
	case StateHold:
		return "hold"
	case StateEndHold:
		return "end_hold"
	case StateHoming:
		return "homing"
	case StateProbing:
		return "probing"
	case StateAlarm:
		return "alarm"
	}
	return "reset"
}

// AxisValues carries the axis words of one line: which were present
// and their raw values in programmed units.
type AxisValues struct {
	Value   [config.NumAxes]float64
	Present [config.NumAxes]bool
}

// Set records one axis word.
func (av *AxisValues) Set(axis int, v float64) {
	av.Value[axis] = v
	av.Present[axis] = true
}

// Any reports whether at least one axis word is present.
func (av *AxisValues) Any() bool {
	for _, p := range av.Present {
		if p {
			return true
		}
	}
	return false
}

// CycleRunner is the executor surface the model drives for cycles
// that need switch feedback or immediate control.
type CycleRunner interface {
	// HomeAxis runs the full homing sequence for one axis and leaves
	// the machine at the axis zero.
	HomeAxis(axis int) error
	// Probe feeds toward the target until the probe input closes,
	// returning the strike position in planner coordinates. Remaining
	// motion is flushed.
	Probe(req *planner.MoveRequest) ([config.NumAxes]float64, error)
	Feedhold()
	Resume()
	Abort()
}

// OffsetStore is notified when persistent offsets change (G10, G92).
type OffsetStore interface {
	SaveOffsets(work [6][config.NumAxes]float64, g92 [config.NumAxes]float64)
}

// Machine is the canonical machine model. Create one per process.
type Machine struct {
	mu sync.Mutex

	cfg   *config.MachineConfig
	queue *planner.Planner
	kin   Kinematics

	runner CycleRunner
	store  OffsetStore

	// modal state
	units       Units
	plane       Plane
	distance    DistanceMode
	feedMode    FeedMode
	pathControl PathMode
	coordSystem int // 1..6 selects G54..G59
	tool        int
	pendingTool int
	spindle     planner.SpindleMode
	spindleRPM  float64
	coolant     planner.CoolantMode

	feedRate     float64 // programmed F in current units (or 1/min in inverse time)
	feedOverride float64
	travOverride float64

	workOffsets [6][config.NumAxes]float64
	g92Offset   [config.NumAxes]float64

	// positions, model space (mm / deg), machine-absolute
	target     [config.NumAxes]float64 // command tail, leads machinePos
	machinePos [config.NumAxes]float64
	velocity   float64

	homed      [config.NumAxes]bool
	state      State
	lineNumber int

	probeResult [config.NumAxes]float64
	probeGood   bool

	logger *log.Logger
}

// New creates the machine model bound to a planner queue.
func New(cfg *config.MachineConfig, queue *planner.Planner) *Machine {
	m := &Machine{
		cfg:          cfg,
		queue:        queue,
		kin:          NewCartesian(cfg),
		units:        UnitsMM,
		distance:     DistanceAbsolute,
		feedMode:     FeedUnitsPerMinute,
		pathControl:  PathContinuous,
		coordSystem:  1,
		feedOverride: 1.0,
		travOverride: 1.0,
		logger:       log.New("canon"),
	}
	if cfg.Units == "inch" {
		m.units = UnitsInches
	}
	if cfg.CoordSystem >= 1 && cfg.CoordSystem <= 6 {
		m.coordSystem = cfg.CoordSystem
	}
	return m
}

// SetCycleRunner wires the executor in after construction; the two
// reference each other.
func (m *Machine) SetCycleRunner(r CycleRunner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runner = r
}

// SetOffsetStore wires the persistence callback.
func (m *Machine) SetOffsetStore(s OffsetStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = s
}

// LoadOffsets installs persisted offsets at init.
func (m *Machine) LoadOffsets(work [6][config.NumAxes]float64, g92 [config.NumAxes]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workOffsets = work
	m.g92Offset = g92
}

// axisConfig returns the configuration for an axis index, or nil.
func (m *Machine) axisConfig(i int) *config.AxisConfig {
	return m.cfg.Axes[config.AxisNames[i]]
}

func axisRotary(i int) bool {
	return i >= 3
}

// toMM converts a programmed value to model units for one axis.
// Rotary axes program in degrees regardless of G20/G21.
func (m *Machine) toMM(axis int, v float64) float64 {
	if m.units == UnitsInches && !axisRotary(axis) {
		return v * inchesToMM
	}
	return v
}

// offsetFor is the active composite offset for one axis.
func (m *Machine) offsetFor(axis int) float64 {
	return m.workOffsets[m.coordSystem-1][axis] + m.g92Offset[axis]
}

// resolveTarget turns axis words into a machine-absolute model-space
// target, honoring units, distance mode, offsets, and axis modes.
// machineCoords suppresses offsets for the line (G53).
func (m *Machine) resolveTarget(words *AxisValues, machineCoords bool) ([config.NumAxes]float64, error) {
	target := m.target
	for i := 0; i < config.NumAxes; i++ {
		if !words.Present[i] {
			continue
		}
		ax := m.axisConfig(i)
		if ax == nil || ax.Mode == config.AxisDisabled {
			return target, errors.UnsupportedAxisError(config.AxisNames[i])
		}
		if ax.Mode == config.AxisInhibited {
			// Inhibited axes hold position; the word is accepted and
			// discarded
			continue
		}

		v := m.toMM(i, words.Value[i])
		var abs float64
		switch {
		case machineCoords:
			abs = v
		case m.distance == DistanceIncremental:
			abs = target[i] + v
		default:
			abs = v + m.offsetFor(i)
		}

		if m.homed[i] && ax.TravelMax > ax.TravelMin {
			if abs < ax.TravelMin || abs > ax.TravelMax {
				return target, errors.TravelError(config.AxisNames[i], abs, ax.TravelMin, ax.TravelMax)
			}
		}
		target[i] = abs
	}
	return target, nil
}

// moveConstraints derives the per-move jerk, junction deviation and
// velocity ceiling from the axes that actually move.
func (m *Machine) moveConstraints(from, to [config.NumAxes]float64) (jerk, jd, vmax, fmax float64) {
	jerk = math.MaxFloat64
	jd = math.MaxFloat64
	vmax = math.MaxFloat64
	fmax = math.MaxFloat64
	any := false
	for i := 0; i < config.NumAxes; i++ {
		if to[i] == from[i] {
			continue
		}
		ax := m.axisConfig(i)
		if ax == nil {
			continue
		}
		any = true
		jerk = math.Min(jerk, ax.JerkMax)
		jd = math.Min(jd, ax.JunctionDeviation)
		vmax = math.Min(vmax, ax.VelocityMax)
		fmax = math.Min(fmax, ax.FeedrateMax)
	}
	if !any {
		return 0, 0, 0, 0
	}
	return jerk, jd, vmax, fmax
}

// feedMMPerMin is the programmed feed rate in mm/min.
func (m *Machine) feedMMPerMin() float64 {
	if m.units == UnitsInches {
		return m.feedRate * inchesToMM
	}
	return m.feedRate
}

// submit queues a resolved straight move. feed selects feed vs
// traverse velocity semantics.
func (m *Machine) submit(target [config.NumAxes]float64, feed bool) error {
	from := m.kin.ToPlanner(m.target)
	to := m.kin.ToPlanner(target)

	length := 0.0
	for i := 0; i < config.NumAxes; i++ {
		d := to[i] - from[i]
		length += d * d
	}
	length = math.Sqrt(length)
	if length == 0 {
		return errors.ZeroLengthError()
	}

	jerk, jd, vmax, fmax := m.moveConstraints(from, to)

	var velocity float64
	if feed {
		switch m.feedMode {
		case FeedInverseTime:
			if m.feedRate <= 0 {
				return errors.Newf(errors.CodeInputValueRangeError, "inverse time mode requires F on every motion line")
			}
			velocity = length * m.feedRate * m.feedOverride
		default:
			if m.feedRate <= 0 {
				return errors.Newf(errors.CodeInputValueRangeError, "feed rate not set")
			}
			velocity = m.feedMMPerMin() * m.feedOverride
		}
		if velocity > fmax {
			// feedrate_max clamps rather than rejects
			velocity = fmax
		}
	} else {
		velocity = vmax * m.travOverride
	}
	if velocity > vmax {
		velocity = vmax
	}
	if velocity <= 0 {
		return errors.MotionError("no velocity available for move")
	}

	req := &planner.MoveRequest{
		Target:            to,
		FeedVelocity:      velocity,
		JerkMax:           jerk,
		JunctionDeviation: jd,
		ExactStop:         m.pathControl == PathExactStop,
		LineNumber:        m.lineNumber,
	}
	if err := m.queue.AppendLine(req); err != nil {
		return err
	}
	m.target = target
	if m.state == StateReset {
		m.state = StateCycle
	}
	return nil
}

// --- modal operations ---

func (m *Machine) SetUnits(u Units) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units = u
}

func (m *Machine) SelectPlane(p Plane) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plane = p
}

func (m *Machine) SetDistanceMode(d DistanceMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distance = d
}

func (m *Machine) SetFeedMode(f FeedMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedMode = f
	if f == FeedInverseTime {
		// F does not carry across lines in inverse time mode
		m.feedRate = 0
	}
}

func (m *Machine) SetPathControl(p PathMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pathControl = p
}

// SetFeedRate records the F word in programmed units.
func (m *Machine) SetFeedRate(f float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f <= 0 {
		return errors.Newf(errors.CodeInputValueRangeError, "F must be positive, got %g", f)
	}
	m.feedRate = f
	return nil
}

// SetCoordSystem selects G54..G59 (n = 1..6).
func (m *Machine) SetCoordSystem(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 1 || n > 6 {
		return errors.Newf(errors.CodeInputValueRangeError, "coordinate system P%d out of range 1..6", n)
	}
	m.coordSystem = n
	return nil
}

// SetOriginOffsets sets a work coordinate system's offsets (G10 L2).
// Values are in programmed units, one per present axis.
func (m *Machine) SetOriginOffsets(n int, words *AxisValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 1 || n > 6 {
		return errors.Newf(errors.CodeInputValueRangeError, "G10 P%d out of range 1..6", n)
	}
	for i := 0; i < config.NumAxes; i++ {
		if words.Present[i] {
			m.workOffsets[n-1][i] = m.toMM(i, words.Value[i])
		}
	}
	m.persistOffsets()
	return nil
}

// SetAxisOffsets implements G92: the offset is chosen so the current
// position reads as the given values. Without axis words all G92
// offsets clear (G92.1 behavior).
func (m *Machine) SetAxisOffsets(words *AxisValues) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !words.Any() {
		m.g92Offset = [config.NumAxes]float64{}
		m.persistOffsets()
		return
	}
	for i := 0; i < config.NumAxes; i++ {
		if !words.Present[i] {
			continue
		}
		v := m.toMM(i, words.Value[i])
		work := m.target[i] - m.workOffsets[m.coordSystem-1][i]
		m.g92Offset[i] = work - v
	}
	m.persistOffsets()
}

// persistOffsets notifies the store. Called with the lock held.
func (m *Machine) persistOffsets() {
	if m.store != nil {
		m.store.SaveOffsets(m.workOffsets, m.g92Offset)
	}
}

func (m *Machine) SelectTool(t int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t < 0 {
		return errors.Newf(errors.CodeInputValueRangeError, "T%d invalid", t)
	}
	m.pendingTool = t
	return nil
}

// ChangeTool queues the tool change (M6) behind pending motion.
func (m *Machine) ChangeTool() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.pendingTool
	err := m.queue.AppendCommand(planner.KindTool, func(b *planner.Block) {
		b.Tool = t
	}, m.lineNumber)
	if err == nil {
		m.tool = t
	}
	return err
}

// SetSpindleSpeed records the S word.
func (m *Machine) SetSpindleSpeed(rpm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rpm < 0 {
		return errors.Newf(errors.CodeMaxSpindleSpeedExceeded, "S%g invalid", rpm)
	}
	m.spindleRPM = rpm
	return nil
}

// SpindleControl queues M3/M4/M5 in execution order.
func (m *Machine) SpindleControl(mode planner.SpindleMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rpm := m.spindleRPM
	err := m.queue.AppendCommand(planner.KindSpindle, func(b *planner.Block) {
		b.Spindle = mode
		b.SpindleSpeed = rpm
	}, m.lineNumber)
	if err == nil {
		m.spindle = mode
	}
	return err
}

// CoolantControl queues M7/M8/M9 in execution order.
func (m *Machine) CoolantControl(mode planner.CoolantMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.queue.AppendCommand(planner.KindCoolant, func(b *planner.Block) {
		b.Coolant = mode
	}, m.lineNumber)
	if err == nil {
		m.coolant = mode
	}
	return err
}

// SetLineNumber records the N word for status reports.
func (m *Machine) SetLineNumber(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineNumber = n
}

// SetFeedOverride sets the feed override factor, bounded 5%..200%.
func (m *Machine) SetFeedOverride(factor float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if factor < 0.05 || factor > 2.0 {
		return errors.Newf(errors.CodeInputValueRangeError, "feed override %g outside 0.05..2.0", factor)
	}
	m.feedOverride = factor
	return nil
}

// SetTraverseOverride sets the traverse override factor, bounded
// 5%..100%.
func (m *Machine) SetTraverseOverride(factor float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if factor < 0.05 || factor > 1.0 {
		return errors.Newf(errors.CodeInputValueRangeError, "traverse override %g outside 0.05..1.0", factor)
	}
	m.travOverride = factor
	return nil
}

// --- motion operations ---

// StraightTraverse executes G0 to the given axis words.
func (m *Machine) StraightTraverse(words *AxisValues, machineCoords bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMotionAllowed(); err != nil {
		return err
	}
	target, err := m.resolveTarget(words, machineCoords)
	if err != nil {
		return err
	}
	err = m.submit(target, false)
	if errors.Is(err, errors.CodeZeroLengthMove) {
		// G0 to the current position is a no-op
		return nil
	}
	return err
}

// StraightFeed executes G1 to the given axis words.
func (m *Machine) StraightFeed(words *AxisValues, machineCoords bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMotionAllowed(); err != nil {
		return err
	}
	target, err := m.resolveTarget(words, machineCoords)
	if err != nil {
		return err
	}
	return m.submit(target, true)
}

// Dwell queues G4 for the given seconds.
func (m *Machine) Dwell(seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seconds < 0 {
		return errors.Newf(errors.CodeInputValueRangeError, "dwell P%g invalid", seconds)
	}
	return m.queue.AppendDwell(seconds, m.lineNumber)
}

// checkMotionAllowed rejects motion in alarm and during cycles that
// own the queue.
func (m *Machine) checkMotionAllowed() error {
	switch m.state {
	case StateAlarm:
		return errors.MotionError("machine is in alarm; clear before moving")
	case StateHoming, StateProbing:
		return errors.MotionError("motion rejected during " + m.state.String())
	}
	return nil
}

// --- program flow ---

// ProgramStop queues M0/M60: motion drains, then execution pauses
// until cycle start.
func (m *Machine) ProgramStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.AppendCommand(planner.KindStop, nil, m.lineNumber)
}

// OptionalStop queues M1. Stop switches are out of scope, so it
// behaves as M0.
func (m *Machine) OptionalStop() error {
	return m.ProgramStop()
}

// ProgramEnd queues M2/M30 and resets the modal defaults.
func (m *Machine) ProgramEnd() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.queue.AppendCommand(planner.KindEnd, nil, m.lineNumber)
	if err != nil {
		return err
	}
	m.resetModalDefaults()
	return nil
}

// resetModalDefaults restores the power-on modal set (G0 G17 G21 G90
// G94 G54, spindle and coolant off). Called with the lock held.
func (m *Machine) resetModalDefaults() {
	m.plane = PlaneXY
	m.units = UnitsMM
	if m.cfg.Units == "inch" {
		m.units = UnitsInches
	}
	m.distance = DistanceAbsolute
	m.feedMode = FeedUnitsPerMinute
	m.coordSystem = 1
	if m.cfg.CoordSystem >= 1 && m.cfg.CoordSystem <= 6 {
		m.coordSystem = m.cfg.CoordSystem
	}
	m.spindle = planner.SpindleOff
	m.coolant = planner.CoolantOff
	m.feedRate = 0
	m.feedOverride = 1.0
	m.travOverride = 1.0
}

// --- cycle control ---

// Feedhold requests a jerk-limited stop. Edge triggered: repeated
// holds are no-ops. The runner is driven outside the model lock
// because braking feeds position updates back through
// UpdatePosition.
func (m *Machine) Feedhold() {
	m.mu.Lock()
	if m.state != StateCycle {
		m.mu.Unlock()
		return
	}
	m.state = StateHold
	runner := m.runner
	m.mu.Unlock()

	m.queue.Feedhold()
	if runner != nil {
		runner.Feedhold()
	}
}

// CycleStart resumes from hold or starts a program after a stop.
func (m *Machine) CycleStart() {
	m.mu.Lock()
	resume := false
	runner := m.runner
	switch m.state {
	case StateHold:
		m.state = StateEndHold
		resume = true
	case StateReset:
		if m.queue.Depth() > 0 {
			m.state = StateCycle
		}
	}
	m.mu.Unlock()
	if !resume {
		return
	}

	m.queue.Resume()
	if runner != nil {
		runner.Resume()
	}
	m.mu.Lock()
	if m.state == StateEndHold {
		m.state = StateCycle
	}
	m.mu.Unlock()
}

// Abort flushes all motion and returns the machine to reset. Position
// is preserved. As with Feedhold, the runner runs unlocked.
func (m *Machine) Abort() {
	m.mu.Lock()
	runner := m.runner
	m.mu.Unlock()
	if runner != nil {
		runner.Abort()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.Flush()
	m.queue.SetPosition(m.kin.ToPlanner(m.machinePos))
	m.target = m.machinePos
	if m.state != StateAlarm {
		m.state = StateReset
	}
}

// Alarm forces the alarm state. Motion is rejected until ClearAlarm.
func (m *Machine) Alarm(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Error("alarm: %v", err)
	m.state = StateAlarm
}

// ClearAlarm returns to reset after an external acknowledgement.
func (m *Machine) ClearAlarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateAlarm {
		m.state = StateReset
	}
}

// --- homing and probing ---

// HomingCycle homes the given axes (or all configured axes when none
// are flagged) in the configured order. Each axis searches toward its
// switch, backs off the latch, re-approaches slowly, backs off to
// zero and sets machine zero there.
func (m *Machine) HomingCycle(words *AxisValues) error {
	m.mu.Lock()
	if m.runner == nil {
		m.mu.Unlock()
		return errors.MotionError("no cycle runner attached")
	}
	if m.state == StateAlarm {
		m.mu.Unlock()
		return errors.MotionError("machine is in alarm; clear before homing")
	}
	order := m.homingOrder(words)
	m.state = StateHoming
	runner := m.runner
	m.mu.Unlock()

	for _, axis := range order {
		if err := runner.HomeAxis(axis); err != nil {
			m.mu.Lock()
			m.state = StateAlarm
			m.mu.Unlock()
			return err
		}
		m.mu.Lock()
		m.machinePos[axis] = 0
		m.target[axis] = 0
		m.homed[axis] = true
		m.queue.SetPosition(m.kin.ToPlanner(m.machinePos))
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.state = StateReset
	m.mu.Unlock()
	return nil
}

// homingOrder resolves which axes to home, in config order. Called
// with the lock held.
func (m *Machine) homingOrder(words *AxisValues) []int {
	var order []int
	for _, name := range m.cfg.HomingOrder {
		for i, an := range config.AxisNames {
			if an != name {
				continue
			}
			if words != nil && words.Any() && !words.Present[i] {
				continue
			}
			ax := m.axisConfig(i)
			if ax == nil || ax.Mode == config.AxisDisabled {
				continue
			}
			order = append(order, i)
		}
	}
	return order
}

// SetMachineZero zeroes the given axes in place without a homing
// cycle (G28.1 style bring-up). Soft limits stay disarmed.
func (m *Machine) SetMachineZero(words *AxisValues) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := !words.Any()
	for i := 0; i < config.NumAxes; i++ {
		if all || words.Present[i] {
			m.machinePos[i] = 0
			m.target[i] = 0
		}
	}
	m.queue.SetPosition(m.kin.ToPlanner(m.machinePos))
}

// ReturnHome implements G28: traverse through the optional
// intermediate point given by the axis words, then to machine zero.
func (m *Machine) ReturnHome(words *AxisValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMotionAllowed(); err != nil {
		return err
	}
	if words.Any() {
		mid, err := m.resolveTarget(words, false)
		if err != nil {
			return err
		}
		if err := m.submit(mid, false); err != nil && !errors.Is(err, errors.CodeZeroLengthMove) {
			return err
		}
	}
	var home [config.NumAxes]float64
	err := m.submit(home, false)
	if errors.Is(err, errors.CodeZeroLengthMove) {
		return nil
	}
	return err
}

// ProbeCycle implements G38.2: feed toward the target until the probe
// closes; the strike point is recorded and trailing motion flushed.
func (m *Machine) ProbeCycle(words *AxisValues) error {
	m.mu.Lock()
	if m.runner == nil {
		m.mu.Unlock()
		return errors.MotionError("no cycle runner attached")
	}
	if err := m.checkMotionAllowed(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.feedRate <= 0 {
		m.mu.Unlock()
		return errors.Newf(errors.CodeInputValueRangeError, "probe requires a feed rate")
	}
	target, err := m.resolveTarget(words, false)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	to := m.kin.ToPlanner(target)
	from := m.kin.ToPlanner(m.target)
	length := 0.0
	for i := 0; i < config.NumAxes; i++ {
		d := to[i] - from[i]
		length += d * d
	}
	if length == 0 {
		m.mu.Unlock()
		return errors.ZeroLengthError()
	}

	jerk, jd, _, fmax := m.moveConstraints(from, to)
	velocity := m.feedMMPerMin() * m.feedOverride
	if velocity > fmax {
		velocity = fmax
	}
	req := &planner.MoveRequest{
		Target:            to,
		FeedVelocity:      velocity,
		JerkMax:           jerk,
		JunctionDeviation: jd,
		ExactStop:         true,
		LineNumber:        m.lineNumber,
	}
	m.state = StateProbing
	runner := m.runner
	m.mu.Unlock()

	strike, perr := runner.Probe(req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateReset
	if perr != nil {
		m.probeGood = false
		return perr
	}
	m.probeResult = m.kin.FromPlanner(strike)
	m.probeGood = true
	m.machinePos = m.probeResult
	m.target = m.probeResult
	m.queue.SetPosition(strike)
	return nil
}

// ProbeResult returns the last strike point and whether it is valid.
func (m *Machine) ProbeResult() ([config.NumAxes]float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probeResult, m.probeGood
}

// --- executor feedback ---

// UpdatePosition is called by the executor at segment boundaries with
// the machine position in planner coordinates and the current
// velocity. This is the only writer of machine position during motion.
func (m *Machine) UpdatePosition(plan [config.NumAxes]float64, velocity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machinePos = m.kin.FromPlanner(plan)
	m.velocity = velocity
}

// CycleDone is called by the executor when the queue drains.
func (m *Machine) CycleDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateCycle {
		m.state = StateReset
	}
}

// MachinePosition returns the executor-confirmed position.
func (m *Machine) MachinePosition() [config.NumAxes]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machinePos
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Homed reports whether the axis has been referenced.
func (m *Machine) Homed(axis int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.homed[axis]
}
