// Package endstop provides switch reading and event handling.
//
// Each axis may carry a minimum and a maximum switch. A switch can act
// as a homing switch, a limit switch, or both, and can be wired
// normally-open or normally-closed.
package endstop

import (
	"errors"
	"sync"
	"time"

	"tinyg-go-migration/pkg/config"
)

// Common errors
var (
	ErrSwitchTimeout   = errors.New("endstop: timeout waiting for trigger")
	ErrSwitchTriggered = errors.New("endstop: switch closed unexpectedly")
	ErrNotHoming       = errors.New("endstop: not in homing state")
)

// SwitchState represents the current state of a switch.
type SwitchState int

const (
	StateOpen SwitchState = iota
	StateClosed
	StateUnknown
)

func (s SwitchState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Switch represents a single axis switch.
type Switch struct {
	mu sync.RWMutex

	// Configuration
	name       string
	axis       string
	atMax      bool
	mode       config.SwitchMode
	switchType config.SwitchType

	// State
	state        SwitchState
	lastTrigger  time.Time
	triggerTick  uint64
	debounceTime time.Duration
	lastDebounce time.Time

	// Homing state
	homing      bool
	homingDir   int // 1 or -1
	triggerChan chan uint64

	// Callbacks
	onTrigger  func(tick uint64)
	onLimit    func(name string)
	queryState func() (bool, error)
}

// SwitchConfig holds configuration for a switch.
type SwitchConfig struct {
	Name         string
	Axis         string
	AtMax        bool
	Mode         config.SwitchMode
	Type         config.SwitchType
	DebounceTime time.Duration
}

// DefaultSwitchConfig returns a default switch configuration.
func DefaultSwitchConfig() SwitchConfig {
	return SwitchConfig{
		Name:         "switch",
		Mode:         config.SwitchHoming,
		Type:         config.SwitchNormallyOpen,
		DebounceTime: 1 * time.Millisecond,
	}
}

// New creates a new switch.
func New(cfg SwitchConfig) *Switch {
	return &Switch{
		name:         cfg.Name,
		axis:         cfg.Axis,
		atMax:        cfg.AtMax,
		mode:         cfg.Mode,
		switchType:   cfg.Type,
		state:        StateUnknown,
		debounceTime: cfg.DebounceTime,
		triggerChan:  make(chan uint64, 1),
	}
}

// SetQueryCallback sets the callback for querying switch state.
func (s *Switch) SetQueryCallback(fn func() (bool, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryState = fn
}

// SetTriggerCallback sets the callback for when the switch closes.
func (s *Switch) SetTriggerCallback(fn func(tick uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrigger = fn
}

// SetLimitCallback sets the callback invoked when the switch closes
// outside of a homing cycle and the switch has a limit function.
func (s *Switch) SetLimitCallback(fn func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLimit = fn
}

// HandleTrigger is called when the switch closes.
// This is typically called from the step timer event handler.
func (s *Switch) HandleTrigger(tick uint64) {
	s.mu.Lock()

	// Check debounce
	now := time.Now()
	if now.Sub(s.lastDebounce) < s.debounceTime {
		s.mu.Unlock()
		return
	}
	s.lastDebounce = now

	s.state = StateClosed
	s.lastTrigger = now
	s.triggerTick = tick

	homing := s.homing
	callback := s.onTrigger
	limitFn := s.onLimit
	isLimit := s.mode == config.SwitchLimit || s.mode == config.SwitchHomingLimit
	s.mu.Unlock()

	// Notify homing if active
	if homing {
		select {
		case s.triggerChan <- tick:
		default:
			// Channel full, trigger already pending
		}
	}

	// A limit closure outside homing raises an alarm
	if !homing && isLimit && limitFn != nil {
		limitFn(s.name)
	}

	// Call callback
	if callback != nil {
		callback(tick)
	}
}

// HandleRelease is called when the switch opens.
func (s *Switch) HandleRelease(tick uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateOpen
}

// Query queries the current switch state. Normally-closed switches
// report closed when the raw input reads open.
func (s *Switch) Query() (SwitchState, error) {
	s.mu.RLock()
	query := s.queryState
	invert := s.switchType == config.SwitchNormallyClosed
	s.mu.RUnlock()

	if query == nil {
		return StateUnknown, errors.New("endstop: no query callback set")
	}

	closed, err := query()
	if err != nil {
		return StateUnknown, err
	}

	if invert {
		closed = !closed
	}

	s.mu.Lock()
	if closed {
		s.state = StateClosed
	} else {
		s.state = StateOpen
	}
	state := s.state
	s.mu.Unlock()

	return state, nil
}

// GetState returns the last known state.
func (s *Switch) GetState() SwitchState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GetName returns the switch name.
func (s *Switch) GetName() string {
	return s.name
}

// GetAxis returns the axis this switch belongs to.
func (s *Switch) GetAxis() string {
	return s.axis
}

// AtMax returns true for a maximum-travel switch.
func (s *Switch) AtMax() bool {
	return s.atMax
}

// Mode returns the switch function.
func (s *Switch) Mode() config.SwitchMode {
	return s.mode
}

// IsClosed returns true if the switch is currently closed.
func (s *Switch) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateClosed
}

// CanHome returns true if the switch has a homing function.
func (s *Switch) CanHome() bool {
	return s.mode == config.SwitchHoming || s.mode == config.SwitchHomingLimit
}

// StartHoming starts homing mode for this switch.
func (s *Switch) StartHoming(direction int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.homing = true
	s.homingDir = direction

	// Clear trigger channel
	select {
	case <-s.triggerChan:
	default:
	}

	return nil
}

// WaitForTrigger waits for the switch to close during homing.
func (s *Switch) WaitForTrigger(timeout time.Duration) (uint64, error) {
	s.mu.RLock()
	if !s.homing {
		s.mu.RUnlock()
		return 0, ErrNotHoming
	}
	triggerChan := s.triggerChan
	s.mu.RUnlock()

	select {
	case tick := <-triggerChan:
		return tick, nil
	case <-time.After(timeout):
		return 0, ErrSwitchTimeout
	}
}

// StopHoming stops homing mode.
func (s *Switch) StopHoming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.homing = false
}

// IsHoming returns true if homing is active.
func (s *Switch) IsHoming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.homing
}

// GetLastTrigger returns the time and timer tick of the last closure.
func (s *Switch) GetLastTrigger() (time.Time, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTrigger, s.triggerTick
}

// Status holds switch status information.
type Status struct {
	Name        string
	Axis        string
	State       string
	IsClosed    bool
	IsHoming    bool
	LastTrigger time.Time
}

// GetStatus returns the current switch status.
func (s *Switch) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		Name:        s.name,
		Axis:        s.axis,
		State:       s.state.String(),
		IsClosed:    s.state == StateClosed,
		IsHoming:    s.homing,
		LastTrigger: s.lastTrigger,
	}
}

// SwitchGroup manages the switches for an axis.
type SwitchGroup struct {
	mu       sync.RWMutex
	name     string
	switches []*Switch
}

// NewSwitchGroup creates a new switch group.
func NewSwitchGroup(name string) *SwitchGroup {
	return &SwitchGroup{
		name:     name,
		switches: make([]*Switch, 0),
	}
}

// Add adds a switch to the group.
func (g *SwitchGroup) Add(s *Switch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.switches = append(g.switches, s)
}

// Get returns a switch by name, or nil.
func (g *SwitchGroup) Get(name string) *Switch {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, s := range g.switches {
		if s.name == name {
			return s
		}
	}
	return nil
}

// AnyClosed returns true if any switch in the group is closed.
func (g *SwitchGroup) AnyClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, s := range g.switches {
		if s.IsClosed() {
			return true
		}
	}
	return false
}

// QueryAll queries all switches and returns any that are closed.
func (g *SwitchGroup) QueryAll() ([]*Switch, error) {
	g.mu.RLock()
	switches := make([]*Switch, len(g.switches))
	copy(switches, g.switches)
	g.mu.RUnlock()

	var closed []*Switch
	for _, s := range switches {
		state, err := s.Query()
		if err != nil {
			return nil, err
		}
		if state == StateClosed {
			closed = append(closed, s)
		}
	}
	return closed, nil
}

// StartHomingAll starts homing on all switches.
func (g *SwitchGroup) StartHomingAll(direction int) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, s := range g.switches {
		if err := s.StartHoming(direction); err != nil {
			return err
		}
	}
	return nil
}

// StopHomingAll stops homing on all switches.
func (g *SwitchGroup) StopHomingAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, s := range g.switches {
		s.StopHoming()
	}
}

// WaitForAnyTrigger waits for any switch in the group to close.
func (g *SwitchGroup) WaitForAnyTrigger(timeout time.Duration) (*Switch, uint64, error) {
	g.mu.RLock()
	switches := make([]*Switch, len(g.switches))
	copy(switches, g.switches)
	g.mu.RUnlock()

	// Create a merged channel
	resultChan := make(chan struct {
		sw   *Switch
		tick uint64
	}, len(switches))

	for _, s := range switches {
		s := s
		go func() {
			tick, err := s.WaitForTrigger(timeout)
			if err == nil {
				select {
				case resultChan <- struct {
					sw   *Switch
					tick uint64
				}{s, tick}:
				default:
				}
			}
		}()
	}

	select {
	case result := <-resultChan:
		return result.sw, result.tick, nil
	case <-time.After(timeout):
		return nil, 0, ErrSwitchTimeout
	}
}
