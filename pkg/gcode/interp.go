// G-code interpreter
//
// Maps tokenized lines onto canonical machine operations. Words are
// classified into modal groups first, so conflicting commands on one
// line fail before anything executes, then the line runs in the
// canonical RS-274 ordering regardless of word order.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"math"
	"strconv"

	"tinyg-go-migration/pkg/canon"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/planner"
)

// Modal group identifiers. G codes are keyed in tenths so dotted
// codes stay integral (G38.2 is 382).
const (
	groupNonModal = 0
	groupMotion   = 1
	groupPlane    = 2
	groupDistance = 3
	groupFeedMode = 5
	groupUnits    = 6
	groupCutter   = 7
	groupCoordSys = 12
	groupPath     = 13

	mGroupStopping = 4
	mGroupTool     = 6
	mGroupSpindle  = 7
	mGroupCoolant  = 8
	mGroupOverride = 9
)

var gModalGroup = map[int]int{
	0: groupMotion, 10: groupMotion, 20: groupMotion, 30: groupMotion,
	382: groupMotion, 800: groupMotion,

	170: groupPlane, 180: groupPlane, 190: groupPlane,
	900: groupDistance, 910: groupDistance,
	930: groupFeedMode, 940: groupFeedMode,
	200: groupUnits, 210: groupUnits,
	400: groupCutter,
	540: groupCoordSys, 550: groupCoordSys, 560: groupCoordSys,
	570: groupCoordSys, 580: groupCoordSys, 590: groupCoordSys,
	610: groupPath, 611: groupPath, 640: groupPath,

	40: groupNonModal, 100: groupNonModal, 280: groupNonModal,
	281: groupNonModal, 282: groupNonModal, 490: groupNonModal,
	530: groupNonModal, 920: groupNonModal, 921: groupNonModal,
}

var mModalGroup = map[int]int{
	0: mGroupStopping, 10: mGroupStopping, 20: mGroupStopping,
	300: mGroupStopping, 600: mGroupStopping,
	60: mGroupTool,
	30: mGroupSpindle, 40: mGroupSpindle, 50: mGroupSpindle,
	70: mGroupCoolant, 80: mGroupCoolant, 90: mGroupCoolant,
	480: mGroupOverride, 490: mGroupOverride,
}

// axisIndex maps an axis word letter to its axis number.
func axisIndex(c byte) int {
	switch c {
	case 'X':
		return 0
	case 'Y':
		return 1
	case 'Z':
		return 2
	case 'A':
		return 3
	case 'B':
		return 4
	case 'C':
		return 5
	}
	return -1
}

// lineState accumulates one line's words before dispatch.
type lineState struct {
	g    map[int]int // modal group -> G code in tenths
	m    map[int]int // modal group -> M code in tenths
	axes canon.AxisValues
	arc  canon.ArcArgs

	f, s, p, l    float64
	hasF, hasS    bool
	hasP, hasL    bool
	tool          int
	hasT          bool
	machineCoords bool
}

// Interpreter drives a canonical machine from G-code text.
type Interpreter struct {
	machine *canon.Machine
	parser  *Parser
	logger  *log.Logger

	// active motion mode in tenths, carried across lines
	motionMode int
}

func NewInterpreter(m *canon.Machine) *Interpreter {
	return &Interpreter{
		machine: m,
		parser:  NewParser(),
		logger:  log.New("gcode"),
	}
}

// Parser exposes the tokenizer for option tweaks.
func (in *Interpreter) Parser() *Parser { return in.parser }

// ExecuteLine tokenizes and runs one line of input.
func (in *Interpreter) ExecuteLine(raw string) error {
	line, err := in.parser.ParseLine(raw)
	if err != nil {
		return err
	}
	if line.Deleted || line.Delim {
		return nil
	}
	if line.Message != "" {
		in.logger.Info(line.Message)
	}
	if line.Empty() {
		return nil
	}
	if line.HasN {
		in.machine.SetLineNumber(line.N)
	}

	st, err := in.classify(line)
	if err != nil {
		return err
	}
	return in.run(st)
}

// classify sorts the line's words into modal groups, rejecting
// in-line conflicts and unsupported codes.
func (in *Interpreter) classify(line *Line) (*lineState, error) {
	st := &lineState{
		g: make(map[int]int),
		m: make(map[int]int),
	}
	for _, w := range line.Words {
		switch w.Letter {
		case 'G':
			code := tenths(w.Value)
			group, ok := gModalGroup[code]
			if !ok {
				return nil, errors.UnsupportedStatementError('G', w.Value)
			}
			if code == 530 {
				// G53 is a one-line flag, not a competing command
				st.machineCoords = true
				continue
			}
			if prev, dup := st.g[group]; dup && prev != code {
				return nil, errors.ModalGroupError("G" + strconv.Itoa(group))
			}
			st.g[group] = code
		case 'M':
			code := tenths(w.Value)
			group, ok := mModalGroup[code]
			if !ok {
				return nil, errors.UnsupportedStatementError('M', w.Value)
			}
			if prev, dup := st.m[group]; dup && prev != code {
				return nil, errors.ModalGroupError("M" + strconv.Itoa(group))
			}
			st.m[group] = code
		case 'F':
			st.f, st.hasF = w.Value, true
		case 'S':
			st.s, st.hasS = w.Value, true
		case 'T':
			if w.Value < 0 || w.Value != math.Trunc(w.Value) {
				return nil, errors.Newf(errors.CodeInputValueRangeError,
					"T%g is not a tool number", w.Value)
			}
			st.tool, st.hasT = int(w.Value), true
		case 'P':
			st.p, st.hasP = w.Value, true
		case 'L':
			st.l, st.hasL = w.Value, true
		case 'I', 'J', 'K':
			n := int(w.Letter - 'I')
			st.arc.Offset[n] = w.Value
			st.arc.HasOffset[n] = true
		case 'R':
			st.arc.Radius = w.Value
			st.arc.HasRadius = true
		default:
			if i := axisIndex(w.Letter); i >= 0 {
				st.axes.Set(i, w.Value)
			} else {
				return nil, errors.UnsupportedStatementError(w.Letter, w.Value)
			}
		}
	}
	return st, nil
}

func tenths(v float64) int {
	return int(math.Round(v * 10))
}

// run executes a classified line in canonical order.
func (in *Interpreter) run(st *lineState) error {
	m := in.machine

	// feed rate mode, then feed rate, then spindle speed
	if code, ok := st.g[groupFeedMode]; ok {
		if code == 930 {
			m.SetFeedMode(canon.FeedInverseTime)
		} else {
			m.SetFeedMode(canon.FeedUnitsPerMinute)
		}
	}
	if st.hasF {
		if err := m.SetFeedRate(st.f); err != nil {
			return err
		}
	}
	if st.hasS {
		if err := m.SetSpindleSpeed(st.s); err != nil {
			return err
		}
	}

	// tool select, tool change
	if st.hasT {
		if err := m.SelectTool(st.tool); err != nil {
			return err
		}
	}
	if _, ok := st.m[mGroupTool]; ok {
		if err := m.ChangeTool(); err != nil {
			return err
		}
	}

	// spindle and coolant
	if code, ok := st.m[mGroupSpindle]; ok {
		mode := spindleMode(code)
		if err := m.SpindleControl(mode); err != nil {
			return err
		}
	}
	if code, ok := st.m[mGroupCoolant]; ok {
		if err := m.CoolantControl(coolantMode(code)); err != nil {
			return err
		}
	}

	// geometry modes
	if code, ok := st.g[groupPlane]; ok {
		switch code {
		case 170:
			m.SelectPlane(canon.PlaneXY)
		case 180:
			m.SelectPlane(canon.PlaneXZ)
		case 190:
			m.SelectPlane(canon.PlaneYZ)
		}
	}
	if code, ok := st.g[groupUnits]; ok {
		if code == 200 {
			m.SetUnits(canon.UnitsInches)
		} else {
			m.SetUnits(canon.UnitsMM)
		}
	}
	// cutter compensation: only G40 (off) is supported, so the modal
	// table admits nothing else and there is nothing to do here
	if code, ok := st.g[groupCoordSys]; ok {
		if err := m.SetCoordSystem((code-540)/10 + 1); err != nil {
			return err
		}
	}
	if code, ok := st.g[groupPath]; ok {
		switch code {
		case 610:
			m.SetPathControl(canon.PathExactPath)
		case 611:
			m.SetPathControl(canon.PathExactStop)
		case 640:
			m.SetPathControl(canon.PathContinuous)
		}
	}
	if code, ok := st.g[groupDistance]; ok {
		if code == 900 {
			m.SetDistanceMode(canon.DistanceAbsolute)
		} else {
			m.SetDistanceMode(canon.DistanceIncremental)
		}
	}

	// overrides
	if code, ok := st.m[mGroupOverride]; ok && code == 490 {
		if err := m.SetFeedOverride(1); err != nil {
			return err
		}
		if err := m.SetTraverseOverride(1); err != nil {
			return err
		}
	}

	// non-modal commands; several of these consume the axis words
	axesConsumed := false
	if code, ok := st.g[groupNonModal]; ok {
		switch code {
		case 40:
			if !st.hasP || st.p < 0 {
				return errors.Newf(errors.CodeInputValueRangeError,
					"dwell requires a non-negative P time")
			}
			if err := m.Dwell(st.p); err != nil {
				return err
			}
		case 100:
			if !st.hasL || st.l != 2 {
				return errors.Newf(errors.CodeUnsupportedStatement,
					"G10 supports only L2")
			}
			if !st.hasP {
				return errors.Newf(errors.CodeInputValueRangeError,
					"G10 L2 requires a P coordinate system")
			}
			if err := m.SetOriginOffsets(int(st.p), &st.axes); err != nil {
				return err
			}
			axesConsumed = true
		case 280:
			if err := m.ReturnHome(&st.axes); err != nil {
				return err
			}
			axesConsumed = true
		case 281:
			m.SetMachineZero(&st.axes)
			axesConsumed = true
		case 282:
			if err := m.HomingCycle(&st.axes); err != nil {
				return err
			}
			axesConsumed = true
		case 490:
			// tool length offset cancel, nothing stored to clear
		case 920:
			if !st.axes.Any() {
				return errors.New(errors.CodeGCodeAxisIsMissing,
					"G92 requires axis words")
			}
			m.SetAxisOffsets(&st.axes)
			axesConsumed = true
		case 921:
			m.SetAxisOffsets(&canon.AxisValues{})
			axesConsumed = true
		}
	}

	// motion
	if code, ok := st.g[groupMotion]; ok {
		in.motionMode = code
		if err := in.dispatchMotion(st, true); err != nil {
			return err
		}
	} else if st.axes.Any() && !axesConsumed {
		if err := in.dispatchMotion(st, false); err != nil {
			return err
		}
	}

	// program flow
	if code, ok := st.m[mGroupStopping]; ok {
		switch code {
		case 0, 600:
			if err := m.ProgramStop(); err != nil {
				return err
			}
		case 10:
			if err := m.OptionalStop(); err != nil {
				return err
			}
		case 20, 300:
			if err := m.ProgramEnd(); err != nil {
				return err
			}
			in.motionMode = 0
		}
	}
	return nil
}

// dispatchMotion runs the active motion mode. explicit marks a line
// that named the mode itself rather than riding the modal state.
func (in *Interpreter) dispatchMotion(st *lineState, explicit bool) error {
	m := in.machine
	haveAxes := st.axes.Any()

	switch in.motionMode {
	case 0:
		if !haveAxes {
			return nil
		}
		return m.StraightTraverse(&st.axes, st.machineCoords)
	case 10:
		if !haveAxes {
			if explicit {
				return errors.New(errors.CodeGCodeAxisIsMissing,
					"G1 requires axis words")
			}
			return nil
		}
		return m.StraightFeed(&st.axes, st.machineCoords)
	case 20, 30:
		hasCenter := st.arc.HasRadius ||
			st.arc.HasOffset[0] || st.arc.HasOffset[1] || st.arc.HasOffset[2]
		if !haveAxes && !hasCenter {
			if explicit {
				return errors.New(errors.CodeGCodeAxisIsMissing,
					"arc requires axis or center words")
			}
			return nil
		}
		return m.ArcFeed(&st.axes, &st.arc, in.motionMode == 20)
	case 382:
		if !haveAxes {
			return errors.New(errors.CodeGCodeAxisIsMissing,
				"probe requires a target")
		}
		return m.ProbeCycle(&st.axes)
	case 800:
		if haveAxes {
			return errors.Newf(errors.CodeUnsupportedStatement,
				"axis words with motion canceled")
		}
		return nil
	}
	return errors.Newf(errors.CodeUnsupportedStatement,
		"no active motion mode")
}

func spindleMode(code int) planner.SpindleMode {
	switch code {
	case 30:
		return planner.SpindleCW
	case 40:
		return planner.SpindleCCW
	}
	return planner.SpindleOff
}

func coolantMode(code int) planner.CoolantMode {
	switch code {
	case 70:
		return planner.CoolantMist
	case 80:
		return planner.CoolantFlood
	}
	return planner.CoolantOff
}
