// Package safety provides safety-critical features for machine control.
// This includes emergency stop (ctrl-x / M112), limit switch alarms,
// watchdog, and shutdown state management.
package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ShutdownState represents the machine's shutdown state.
type ShutdownState int

const (
	// StateRunning indicates normal operation.
	StateRunning ShutdownState = iota

	// StateShuttingDown indicates shutdown is in progress.
	StateShuttingDown

	// StateShutdown indicates the machine is shut down.
	StateShutdown

	// StateAlarm indicates a fault-triggered shutdown.
	StateAlarm
)

func (s ShutdownState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	case StateAlarm:
		return "alarm"
	default:
		return "unknown"
	}
}

// ShutdownReason describes why the machine was shut down.
type ShutdownReason string

const (
	ReasonNone            ShutdownReason = ""
	ReasonEmergencyStop   ShutdownReason = "emergency_stop"
	ReasonLimitSwitch     ShutdownReason = "limit_switch"
	ReasonSoftLimit       ShutdownReason = "soft_limit"
	ReasonPlannerFault    ShutdownReason = "planner_fault"
	ReasonStepperOverflow ShutdownReason = "stepper_overflow"
	ReasonWatchdogTimeout ShutdownReason = "watchdog_timeout"
	ReasonUserRequest     ShutdownReason = "user_request"
	ReasonCommunication   ShutdownReason = "communication_error"
)

// Common errors
var (
	ErrShutdown      = errors.New("safety: machine is shut down")
	ErrEmergencyStop = errors.New("safety: emergency stop triggered")
	ErrLimitSwitch   = errors.New("safety: limit switch hit")
)

// MotorDisabler can disable stepper motor drivers.
type MotorDisabler interface {
	DisableMotors() error
}

// SpindleDisabler can stop the spindle.
type SpindleDisabler interface {
	StopSpindle() error
}

// CoolantDisabler can shut off coolant outputs.
type CoolantDisabler interface {
	CoolantOff() error
}

// MotionHalter can abort motion generation immediately.
type MotionHalter interface {
	HaltMotion() error
	IsMoving() bool
}

// Manager manages safety features and shutdown state.
type Manager struct {
	mu sync.RWMutex

	// Current state
	state          ShutdownState
	shutdownReason ShutdownReason
	shutdownMsg    string
	shutdownTime   time.Time

	// Registered components
	motors   []MotorDisabler
	spindles []SpindleDisabler
	coolants []CoolantDisabler
	motion   []MotionHalter

	// Watchdog
	watchdogCtx     context.Context
	watchdogCancel  context.CancelFunc
	watchdogTimeout time.Duration
	lastHeartbeat   time.Time
	watchdogMu      sync.Mutex

	// Callbacks
	onShutdown    []func(reason ShutdownReason, msg string)
	onStateChange []func(oldState, newState ShutdownState)
}

// New creates a new safety Manager.
func New() *Manager {
	return &Manager{
		state:           StateRunning,
		watchdogTimeout: 5 * time.Second,
	}
}

// Config holds configuration for the safety manager.
type Config struct {
	WatchdogTimeout time.Duration
}

// Configure applies configuration to the manager.
func (m *Manager) Configure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.WatchdogTimeout > 0 {
		m.watchdogTimeout = cfg.WatchdogTimeout
	}
}

// RegisterMotor registers a motor controller for emergency shutdown.
func (m *Manager) RegisterMotor(motor MotorDisabler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.motors = append(m.motors, motor)
}

// RegisterSpindle registers a spindle for emergency shutdown.
func (m *Manager) RegisterSpindle(s SpindleDisabler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spindles = append(m.spindles, s)
}

// RegisterCoolant registers a coolant output for emergency shutdown.
func (m *Manager) RegisterCoolant(c CoolantDisabler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coolants = append(m.coolants, c)
}

// RegisterMotion registers a motion source to halt on shutdown.
func (m *Manager) RegisterMotion(h MotionHalter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.motion = append(m.motion, h)
}

// OnShutdown registers a callback for when shutdown occurs.
func (m *Manager) OnShutdown(fn func(reason ShutdownReason, msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onShutdown = append(m.onShutdown, fn)
}

// OnStateChange registers a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState ShutdownState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = append(m.onStateChange, fn)
}

// GetState returns the current shutdown state.
func (m *Manager) GetState() ShutdownState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetShutdownInfo returns shutdown details.
func (m *Manager) GetShutdownInfo() (ShutdownReason, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shutdownReason, m.shutdownMsg, m.shutdownTime
}

// IsShutdown returns true if the machine is shut down.
func (m *Manager) IsShutdown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateShutdown || m.state == StateAlarm
}

// IsOperational returns true if the machine is running normally.
func (m *Manager) IsOperational() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRunning
}

// CheckOperational returns an error if the machine is not operational.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateRunning {
		return fmt.Errorf("%w: %s - %s", ErrShutdown, m.shutdownReason, m.shutdownMsg)
	}
	return nil
}

// EmergencyStop triggers an immediate emergency stop (ctrl-x or M112).
// This halts motion and disables all outputs as quickly as possible.
func (m *Manager) EmergencyStop(msg string) error {
	return m.invokeShutdown(ReasonEmergencyStop, msg)
}

// LimitSwitchHit triggers an alarm due to an unexpected limit closure.
func (m *Manager) LimitSwitchHit(switchName string) error {
	msg := fmt.Sprintf("switch %s closed during motion", switchName)
	return m.invokeShutdown(ReasonLimitSwitch, msg)
}

// SoftLimitExceeded triggers an alarm when a move targets travel
// outside the configured range.
func (m *Manager) SoftLimitExceeded(axis string, target, min, max float64) error {
	msg := fmt.Sprintf("axis %s: target %.3f outside travel [%.3f, %.3f]",
		axis, target, min, max)
	return m.invokeShutdown(ReasonSoftLimit, msg)
}

// PlannerFault triggers an alarm due to a planner internal fault.
func (m *Manager) PlannerFault(errMsg string) error {
	return m.invokeShutdown(ReasonPlannerFault, errMsg)
}

// StepperOverflow triggers an alarm due to an unrecoverable step
// accumulator overflow.
func (m *Manager) StepperOverflow(motorName, errMsg string) error {
	msg := fmt.Sprintf("motor %s: %s", motorName, errMsg)
	return m.invokeShutdown(ReasonStepperOverflow, msg)
}

// WatchdogTimeout triggers a shutdown due to watchdog timeout.
func (m *Manager) WatchdogTimeout() error {
	return m.invokeShutdown(ReasonWatchdogTimeout, "main loop heartbeat timeout")
}

// CommunicationError triggers a shutdown due to communication failure.
func (m *Manager) CommunicationError(device, errMsg string) error {
	msg := fmt.Sprintf("device %s: %s", device, errMsg)
	return m.invokeShutdown(ReasonCommunication, msg)
}

// RequestShutdown triggers a graceful shutdown by user request.
func (m *Manager) RequestShutdown(msg string) error {
	return m.invokeShutdown(ReasonUserRequest, msg)
}

// invokeShutdown performs the shutdown sequence.
func (m *Manager) invokeShutdown(reason ShutdownReason, msg string) error {
	m.mu.Lock()

	// Don't shutdown if already shut down
	if m.state == StateShutdown || m.state == StateAlarm {
		m.mu.Unlock()
		return nil
	}

	oldState := m.state
	m.state = StateShuttingDown
	m.shutdownReason = reason
	m.shutdownMsg = msg
	m.shutdownTime = time.Now()

	// Copy components to disable (to avoid holding lock during disable)
	motion := make([]MotionHalter, len(m.motion))
	copy(motion, m.motion)
	motors := make([]MotorDisabler, len(m.motors))
	copy(motors, m.motors)
	spindles := make([]SpindleDisabler, len(m.spindles))
	copy(spindles, m.spindles)
	coolants := make([]CoolantDisabler, len(m.coolants))
	copy(coolants, m.coolants)

	m.mu.Unlock()

	// Stop watchdog
	m.StopWatchdog()

	// Halt motion first (most critical)
	for _, h := range motion {
		_ = h.HaltMotion() // Best effort
	}

	// Stop spindles before disabling drivers
	for _, s := range spindles {
		_ = s.StopSpindle() // Best effort
	}

	// Disable motors
	for _, motor := range motors {
		_ = motor.DisableMotors() // Best effort
	}

	// Shut off coolant
	for _, c := range coolants {
		_ = c.CoolantOff() // Best effort
	}

	// Update final state
	m.mu.Lock()
	finalState := StateShutdown
	if reason == ReasonEmergencyStop || reason == ReasonLimitSwitch ||
		reason == ReasonPlannerFault || reason == ReasonStepperOverflow {
		finalState = StateAlarm
	}
	m.state = finalState

	// Copy callbacks
	onShutdown := make([]func(ShutdownReason, string), len(m.onShutdown))
	copy(onShutdown, m.onShutdown)
	onStateChange := make([]func(ShutdownState, ShutdownState), len(m.onStateChange))
	copy(onStateChange, m.onStateChange)
	m.mu.Unlock()

	// Call callbacks
	for _, fn := range onStateChange {
		fn(oldState, finalState)
	}
	for _, fn := range onShutdown {
		fn(reason, msg)
	}

	return nil
}

// StartWatchdog starts the watchdog timer.
func (m *Manager) StartWatchdog() {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()

	if m.watchdogCancel != nil {
		return // Already running
	}

	m.watchdogCtx, m.watchdogCancel = context.WithCancel(context.Background())
	m.lastHeartbeat = time.Now()

	go m.watchdogLoop()
}

// StopWatchdog stops the watchdog timer.
func (m *Manager) StopWatchdog() {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()

	if m.watchdogCancel != nil {
		m.watchdogCancel()
		m.watchdogCancel = nil
	}
}

// Heartbeat updates the watchdog timer.
// Call this regularly from the main loop.
func (m *Manager) Heartbeat() {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()
	m.lastHeartbeat = time.Now()
}

// watchdogLoop runs the watchdog timer.
func (m *Manager) watchdogLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.watchdogCtx.Done():
			return
		case <-ticker.C:
			m.watchdogMu.Lock()
			elapsed := time.Since(m.lastHeartbeat)
			timeout := m.watchdogTimeout
			m.watchdogMu.Unlock()

			if elapsed > timeout {
				m.WatchdogTimeout()
				return
			}
		}
	}
}

// Reset attempts to clear an alarm for a controller restart.
// Only allowed from certain states.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Only allow reset from shutdown or alarm states
	if m.state == StateRunning || m.state == StateShuttingDown {
		return errors.New("safety: cannot reset while running or shutting down")
	}

	m.state = StateRunning
	m.shutdownReason = ReasonNone
	m.shutdownMsg = ""
	m.shutdownTime = time.Time{}

	return nil
}

// Status returns a status struct for reporting.
type Status struct {
	State          string
	ShutdownReason string
	ShutdownMsg    string
	ShutdownTime   time.Time
	IsOperational  bool
}

// GetStatus returns the current status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		State:          m.state.String(),
		ShutdownReason: string(m.shutdownReason),
		ShutdownMsg:    m.shutdownMsg,
		ShutdownTime:   m.shutdownTime,
		IsOperational:  m.state == StateRunning,
	}
}
