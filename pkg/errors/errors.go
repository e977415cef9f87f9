// Unified error handling for the TinyG Go migration
//
// Every fallible operation in the controller reports one of the status
// codes below. The codes partition into four categories that drive the
// propagation policy: input errors and semantic errors reject the
// offending line, transient errors ask the producer to retry, and fatal
// errors put the machine into alarm.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
)

// Code is the controller status code attached to every MachineError.
type Code string

const (
	// Non-error statuses
	CodeOK       Code = "OK"
	CodeEagain   Code = "EAGAIN"
	CodeNoop     Code = "NOOP"
	CodeComplete Code = "COMPLETE"

	// Input errors (parser)
	CodeUnrecognizedCommand    Code = "UNRECOGNIZED_COMMAND"
	CodeExpectedCommandLetter  Code = "EXPECTED_COMMAND_LETTER"
	CodeBadNumberFormat        Code = "BAD_NUMBER_FORMAT"
	CodeUnsupportedStatement   Code = "UNSUPPORTED_STATEMENT"
	CodeModalGroupViolation    Code = "MODAL_GROUP_VIOLATION"
	CodeInputLineTooLong       Code = "INPUT_LINE_TOO_LONG"
	CodeGCodeAxisIsMissing     Code = "GCODE_AXIS_IS_MISSING"
	CodeInputValueRangeError   Code = "INPUT_VALUE_RANGE_ERROR"

	// Semantic errors (canonical machine)
	CodeZeroLengthMove          Code = "ZERO_LENGTH_MOVE"
	CodeMinimumLengthMove       Code = "MINIMUM_LENGTH_MOVE"
	CodeMaxTravelExceeded       Code = "MAX_TRAVEL_EXCEEDED"
	CodeSoftLimitExceeded       Code = "SOFT_LIMIT_EXCEEDED"
	CodeMaxFeedRateExceeded     Code = "MAX_FEED_RATE_EXCEEDED"
	CodeMaxSpindleSpeedExceeded Code = "MAX_SPINDLE_SPEED_EXCEEDED"
	CodeArcSpecificationError   Code = "ARC_SPECIFICATION_ERROR"
	CodeUnsupportedAxis         Code = "UNSUPPORTED_AXIS"

	// Transient planner conditions (retry, do not fail the line)
	CodeBufferFull Code = "BUFFER_FULL"

	// Planner errors
	CodeFailedToConverge        Code = "FAILED_TO_CONVERGE"
	CodePlannerAssertionFailure Code = "PLANNER_ASSERTION_FAILURE"
	CodeMotionControlError      Code = "MOTION_CONTROL_ERROR"

	// Fatal executor errors (alarm path)
	CodeBufferEmpty    Code = "BUFFER_EMPTY"
	CodeLimitSwitchHit Code = "LIMIT_SWITCH_HIT"
	CodeDDAOverflow    Code = "DDA_OVERFLOW"
	CodeEmergencyStop  Code = "EMERGENCY_STOP"

	// Configuration errors
	CodeConfigSection    Code = "CONFIG_SECTION"
	CodeConfigOption     Code = "CONFIG_OPTION"
	CodeConfigValidation Code = "CONFIG_VALIDATION"
	CodeConfigType       Code = "CONFIG_TYPE"

	// System errors
	CodeSystem     Code = "SYSTEM"
	CodeSystemInit Code = "SYSTEM_INIT"
)

// MachineError is the unified error type for the controller.
type MachineError struct {
	// Code is the controller status code
	Code Code

	// Message is a human-readable error description
	Message string

	// Line is the offending G-code line, when known
	Line string

	// N is the G-code line number (N word), when present
	N int

	// Word is the offending G-code word letter, when applicable
	Word byte

	// Section is the config section or component context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *MachineError) Error() string {
	if e.Word != 0 {
		return fmt.Sprintf("[%s] %s (word %c)", e.Code, e.Message, e.Word)
	}
	if e.Section != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *MachineError) Unwrap() error {
	return e.Err
}

// SetLine records the offending input line
func (e *MachineError) SetLine(line string) *MachineError {
	e.Line = line
	return e
}

// SetN records the G-code line number
func (e *MachineError) SetN(n int) *MachineError {
	e.N = n
	return e
}

// SetWord records the offending word letter
func (e *MachineError) SetWord(w byte) *MachineError {
	e.Word = w
	return e
}

// SetSection sets the context section
func (e *MachineError) SetSection(section string) *MachineError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *MachineError) SetOption(option string) *MachineError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *MachineError) SetContext(key string, value interface{}) *MachineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new MachineError
func New(code Code, message string) *MachineError {
	return &MachineError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new MachineError with a formatted message
func Newf(code Code, format string, args ...interface{}) *MachineError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a status code
func Wrap(err error, code Code, message string) *MachineError {
	return &MachineError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Input errors

// BadNumberError reports a malformed numeric value after a word letter
func BadNumberError(word byte, text string) *MachineError {
	return Newf(CodeBadNumberFormat, "bad number format: %q", text).SetWord(word)
}

// UnsupportedStatementError reports a word the parser does not accept
func UnsupportedStatementError(word byte, value float64) *MachineError {
	return Newf(CodeUnsupportedStatement, "unsupported statement %c%g", word, value).SetWord(word)
}

// ModalGroupError reports two commands from one modal group on one line
func ModalGroupError(group string) *MachineError {
	return Newf(CodeModalGroupViolation, "conflicting commands in modal group %s", group)
}

// LineTooLongError reports an input line over the length limit
func LineTooLongError(n, max int) *MachineError {
	return Newf(CodeInputLineTooLong, "input line of %d bytes exceeds %d byte limit", n, max)
}

// Semantic errors

// ZeroLengthError reports a move that does not change the target
func ZeroLengthError() *MachineError {
	return New(CodeZeroLengthMove, "zero-length move")
}

// TravelError reports a target outside the soft limits
func TravelError(axis string, target, min, max float64) *MachineError {
	return Newf(CodeMaxTravelExceeded, "%s target %.3f outside travel [%.3f, %.3f]",
		axis, target, min, max).SetSection(axis)
}

// ArcSpecError reports an invalid arc specification
func ArcSpecError(reason string) *MachineError {
	return Newf(CodeArcSpecificationError, "arc specification error: %s", reason)
}

// UnsupportedAxisError reports a word for a disabled axis
func UnsupportedAxisError(axis string) *MachineError {
	return Newf(CodeUnsupportedAxis, "axis %s is disabled", axis)
}

// Planner errors

// BufferFullError reports a full planner queue; the producer should retry
func BufferFullError() *MachineError {
	return New(CodeBufferFull, "planner queue full")
}

// ConvergenceError reports an HT profile that exceeded its iteration budget
func ConvergenceError(iterations int) *MachineError {
	return Newf(CodeFailedToConverge, "velocity profile failed to converge after %d iterations", iterations)
}

// MotionError creates a general motion control error
func MotionError(message string) *MachineError {
	return New(CodeMotionControlError, message)
}

// Executor errors

// BufferEmptyError reports a segment underrun during motion
func BufferEmptyError() *MachineError {
	return New(CodeBufferEmpty, "segment buffer empty during motion")
}

// LimitHitError reports an unexpected limit switch closure
func LimitHitError(sw string) *MachineError {
	return Newf(CodeLimitSwitchHit, "limit switch hit: %s", sw).SetSection(sw)
}

// OverflowError reports DDA math that did not fit 32-bit ticks
func OverflowError(substeps uint32) *MachineError {
	return Newf(CodeDDAOverflow, "segment overflows 32-bit step math at %d substeps", substeps)
}

// Config errors

// ConfigSectionError creates an error for a missing config section
func ConfigSectionError(section string) *MachineError {
	return Newf(CodeConfigSection, "section '%s' not found", section).
		SetSection(section)
}

// ConfigOptionError creates an error for a missing config option
func ConfigOptionError(section, option string) *MachineError {
	return Newf(CodeConfigOption, "option '%s' not found in section '%s'", option, section).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for a config validation failure
func ConfigValidationError(section, option string, reason string) *MachineError {
	return Newf(CodeConfigValidation, "option '%s' in section '%s': %s", option, section, reason).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for a config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *MachineError {
	return Wrap(err, CodeConfigType,
		fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// System errors

// SystemError creates a general system error
func SystemError(message string) *MachineError {
	return New(CodeSystem, message)
}

// InitError creates an error for initialization failure
func InitError(component string, reason string) *MachineError {
	return Newf(CodeSystemInit, "failed to initialize %s: %s", component, reason)
}

// RecoverPanic converts a recovered panic value to a system error.
// recover only works when called directly from the deferred
// function, so the caller passes its result in:
//
//	defer func() {
//		if e := errors.RecoverPanic(recover()); e != nil {
//			err = e
//		}
//	}()
func RecoverPanic(r any) *MachineError {
	if r == nil {
		return nil
	}
	switch x := r.(type) {
	case string:
		return SystemError(fmt.Sprintf("panic: %s", x))
	case error:
		return SystemError(x.Error())
	default:
		return SystemError(fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if an error carries the given status code
func Is(err error, code Code) bool {
	if me, ok := err.(*MachineError); ok {
		return me.Code == code
	}
	return false
}

// CodeOf extracts the status code from an error, or CodeSystem for
// foreign errors and CodeOK for nil.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	if me, ok := err.(*MachineError); ok {
		return me.Code
	}
	return CodeSystem
}

// IsInput checks if the error is an input (parser) error
func IsInput(err error) bool {
	switch CodeOf(err) {
	case CodeUnrecognizedCommand, CodeExpectedCommandLetter, CodeBadNumberFormat,
		CodeUnsupportedStatement, CodeModalGroupViolation, CodeInputLineTooLong,
		CodeGCodeAxisIsMissing, CodeInputValueRangeError:
		return true
	}
	return false
}

// IsSemantic checks if the error is a semantic (canonical machine) error
func IsSemantic(err error) bool {
	switch CodeOf(err) {
	case CodeZeroLengthMove, CodeMinimumLengthMove, CodeMaxTravelExceeded,
		CodeSoftLimitExceeded, CodeMaxFeedRateExceeded, CodeMaxSpindleSpeedExceeded,
		CodeArcSpecificationError, CodeUnsupportedAxis:
		return true
	}
	return false
}

// IsTransient checks if the error asks the producer to retry
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeEagain, CodeBufferFull:
		return true
	}
	return false
}

// IsFatal checks if the error requires the alarm shutdown path
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeBufferEmpty, CodeLimitSwitchHit, CodeDDAOverflow, CodeEmergencyStop,
		CodePlannerAssertionFailure:
		return true
	}
	return false
}

// IsConfig checks if the error is a configuration error
func IsConfig(err error) bool {
	switch CodeOf(err) {
	case CodeConfigSection, CodeConfigOption, CodeConfigValidation, CodeConfigType:
		return true
	}
	return false
}
