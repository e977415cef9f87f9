package endstop

import (
	"testing"
	"time"

	"tinyg-go-migration/pkg/config"
)

func TestDefaultSwitchConfig(t *testing.T) {
	cfg := DefaultSwitchConfig()

	if cfg.Name != "switch" {
		t.Errorf("Name = %s, want switch", cfg.Name)
	}
	if cfg.Mode != config.SwitchHoming {
		t.Errorf("Mode = %v, want homing", cfg.Mode)
	}
	if cfg.Type != config.SwitchNormallyOpen {
		t.Errorf("Type = %v, want normally open", cfg.Type)
	}
	if cfg.DebounceTime != 1*time.Millisecond {
		t.Errorf("DebounceTime = %v, want 1ms", cfg.DebounceTime)
	}
}

func TestNew(t *testing.T) {
	cfg := DefaultSwitchConfig()
	cfg.Name = "x_min"
	cfg.Axis = "x"

	s := New(cfg)

	if s == nil {
		t.Fatal("New returned nil")
	}

	if s.GetName() != "x_min" {
		t.Errorf("Name = %s, want x_min", s.GetName())
	}

	if s.GetAxis() != "x" {
		t.Errorf("Axis = %s, want x", s.GetAxis())
	}

	if s.AtMax() {
		t.Error("AtMax should be false")
	}

	if s.GetState() != StateUnknown {
		t.Errorf("Initial state = %s, want unknown", s.GetState())
	}
}

func TestSwitchStateString(t *testing.T) {
	tests := []struct {
		state    SwitchState
		expected string
	}{
		{StateOpen, "open"},
		{StateClosed, "closed"},
		{StateUnknown, "unknown"},
		{SwitchState(99), "unknown"},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("State %d String() = %s, want %s", tt.state, tt.state.String(), tt.expected)
		}
	}
}

func TestHandleTrigger(t *testing.T) {
	cfg := DefaultSwitchConfig()
	cfg.DebounceTime = 0 // Disable debounce for testing
	s := New(cfg)

	// Track callback
	var callbackTick uint64
	callbackCalled := false
	s.SetTriggerCallback(func(tick uint64) {
		callbackCalled = true
		callbackTick = tick
	})

	// Close the switch
	s.HandleTrigger(12345)

	if s.GetState() != StateClosed {
		t.Errorf("State = %s, want closed", s.GetState())
	}

	if !s.IsClosed() {
		t.Error("IsClosed should return true")
	}

	if !callbackCalled {
		t.Error("Trigger callback should have been called")
	}

	if callbackTick != 12345 {
		t.Errorf("Callback tick = %d, want 12345", callbackTick)
	}

	triggerTime, triggerTick := s.GetLastTrigger()
	if triggerTick != 12345 {
		t.Errorf("Last trigger tick = %d, want 12345", triggerTick)
	}
	if triggerTime.IsZero() {
		t.Error("Trigger time should be set")
	}
}

func TestHandleRelease(t *testing.T) {
	cfg := DefaultSwitchConfig()
	cfg.DebounceTime = 0
	s := New(cfg)

	s.HandleTrigger(100)
	if !s.IsClosed() {
		t.Fatal("Switch should be closed")
	}

	s.HandleRelease(101)
	if s.GetState() != StateOpen {
		t.Errorf("State = %s, want open after release", s.GetState())
	}
}

func TestDebounce(t *testing.T) {
	cfg := DefaultSwitchConfig()
	cfg.DebounceTime = 50 * time.Millisecond
	s := New(cfg)

	triggerCount := 0
	s.SetTriggerCallback(func(tick uint64) {
		triggerCount++
	})

	// First trigger should work
	s.HandleTrigger(100)
	if triggerCount != 1 {
		t.Errorf("First trigger: count = %d, want 1", triggerCount)
	}

	// Immediate second trigger should be debounced
	s.HandleTrigger(101)
	if triggerCount != 1 {
		t.Errorf("Second trigger (debounced): count = %d, want 1", triggerCount)
	}

	// Wait for debounce to expire
	time.Sleep(60 * time.Millisecond)

	// Third trigger should work
	s.HandleTrigger(102)
	if triggerCount != 2 {
		t.Errorf("Third trigger: count = %d, want 2", triggerCount)
	}
}

func TestLimitCallback(t *testing.T) {
	cfg := DefaultSwitchConfig()
	cfg.Name = "y_max"
	cfg.Mode = config.SwitchHomingLimit
	cfg.DebounceTime = 0
	s := New(cfg)

	var limitName string
	s.SetLimitCallback(func(name string) {
		limitName = name
	})

	// A closure outside homing raises the limit callback
	s.HandleTrigger(100)
	if limitName != "y_max" {
		t.Errorf("Limit callback name = %q, want y_max", limitName)
	}

	// During homing the limit callback must stay quiet
	limitName = ""
	s.StartHoming(-1)
	s.HandleTrigger(200)
	if limitName != "" {
		t.Error("Limit callback should not fire during homing")
	}
}

func TestLimitCallbackHomingOnlySwitch(t *testing.T) {
	cfg := DefaultSwitchConfig()
	cfg.Mode = config.SwitchHoming
	cfg.DebounceTime = 0
	s := New(cfg)

	called := false
	s.SetLimitCallback(func(name string) {
		called = true
	})

	s.HandleTrigger(100)
	if called {
		t.Error("Homing-only switch should not raise the limit callback")
	}
}

func TestQuery(t *testing.T) {
	cfg := DefaultSwitchConfig()
	s := New(cfg)

	// Without callback, should return error
	state, err := s.Query()
	if err == nil {
		t.Error("Query without callback should return error")
	}
	if state != StateUnknown {
		t.Errorf("State = %s, want unknown", state)
	}

	// Set query callback
	queryResult := false
	s.SetQueryCallback(func() (bool, error) {
		return queryResult, nil
	})

	// Query open state
	queryResult = false
	state, err = s.Query()
	if err != nil {
		t.Errorf("Query failed: %v", err)
	}
	if state != StateOpen {
		t.Errorf("State = %s, want open", state)
	}

	// Query closed state
	queryResult = true
	state, err = s.Query()
	if err != nil {
		t.Errorf("Query failed: %v", err)
	}
	if state != StateClosed {
		t.Errorf("State = %s, want closed", state)
	}
}

func TestQueryNormallyClosed(t *testing.T) {
	cfg := DefaultSwitchConfig()
	cfg.Type = config.SwitchNormallyClosed
	s := New(cfg)

	queryResult := false
	s.SetQueryCallback(func() (bool, error) {
		return queryResult, nil
	})

	// An NC switch reads closed when the raw input is open
	queryResult = false
	state, err := s.Query()
	if err != nil {
		t.Errorf("Query failed: %v", err)
	}
	if state != StateClosed {
		t.Errorf("NC state = %s, want closed", state)
	}

	queryResult = true
	state, err = s.Query()
	if err != nil {
		t.Errorf("Query failed: %v", err)
	}
	if state != StateOpen {
		t.Errorf("NC state = %s, want open", state)
	}
}

func TestCanHome(t *testing.T) {
	tests := []struct {
		mode config.SwitchMode
		want bool
	}{
		{config.SwitchHoming, true},
		{config.SwitchHomingLimit, true},
		{config.SwitchLimit, false},
		{config.SwitchDisabled, false},
	}

	for _, tt := range tests {
		cfg := DefaultSwitchConfig()
		cfg.Mode = tt.mode
		s := New(cfg)
		if s.CanHome() != tt.want {
			t.Errorf("mode %v: CanHome = %v, want %v", tt.mode, s.CanHome(), tt.want)
		}
	}
}

func TestHoming(t *testing.T) {
	cfg := DefaultSwitchConfig()
	cfg.DebounceTime = 0
	s := New(cfg)

	if s.IsHoming() {
		t.Error("Should not be homing initially")
	}

	// Start homing
	err := s.StartHoming(1)
	if err != nil {
		t.Errorf("StartHoming failed: %v", err)
	}

	if !s.IsHoming() {
		t.Error("Should be homing after StartHoming")
	}

	// Simulate trigger in goroutine
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.HandleTrigger(54321)
	}()

	// Wait for trigger
	tick, err := s.WaitForTrigger(100 * time.Millisecond)
	if err != nil {
		t.Errorf("WaitForTrigger failed: %v", err)
	}

	if tick != 54321 {
		t.Errorf("Trigger tick = %d, want 54321", tick)
	}

	// Stop homing
	s.StopHoming()

	if s.IsHoming() {
		t.Error("Should not be homing after StopHoming")
	}
}

func TestHomingTimeout(t *testing.T) {
	cfg := DefaultSwitchConfig()
	s := New(cfg)

	err := s.StartHoming(1)
	if err != nil {
		t.Errorf("StartHoming failed: %v", err)
	}

	// Wait for trigger with short timeout
	_, err = s.WaitForTrigger(50 * time.Millisecond)
	if err != ErrSwitchTimeout {
		t.Errorf("Expected ErrSwitchTimeout, got %v", err)
	}
}

func TestWaitForTriggerNotHoming(t *testing.T) {
	cfg := DefaultSwitchConfig()
	s := New(cfg)

	// Try to wait without homing
	_, err := s.WaitForTrigger(100 * time.Millisecond)
	if err != ErrNotHoming {
		t.Errorf("Expected ErrNotHoming, got %v", err)
	}
}

func TestGetStatus(t *testing.T) {
	cfg := DefaultSwitchConfig()
	cfg.Name = "z_min"
	cfg.Axis = "z"
	cfg.DebounceTime = 0
	s := New(cfg)

	// Initial status
	status := s.GetStatus()
	if status.Name != "z_min" {
		t.Errorf("Status.Name = %s, want z_min", status.Name)
	}
	if status.Axis != "z" {
		t.Errorf("Status.Axis = %s, want z", status.Axis)
	}
	if status.State != "unknown" {
		t.Errorf("Status.State = %s, want unknown", status.State)
	}
	if status.IsClosed {
		t.Error("Status.IsClosed should be false")
	}
	if status.IsHoming {
		t.Error("Status.IsHoming should be false")
	}

	// After trigger
	s.HandleTrigger(100)
	status = s.GetStatus()
	if status.State != "closed" {
		t.Errorf("Status.State = %s, want closed", status.State)
	}
	if !status.IsClosed {
		t.Error("Status.IsClosed should be true")
	}

	// After starting homing
	s.StartHoming(1)
	status = s.GetStatus()
	if !status.IsHoming {
		t.Error("Status.IsHoming should be true")
	}
}

// SwitchGroup tests

func TestSwitchGroup(t *testing.T) {
	g := NewSwitchGroup("x")

	cfg := DefaultSwitchConfig()
	cfg.DebounceTime = 0

	s1 := New(cfg)
	s2 := New(cfg)

	g.Add(s1)
	g.Add(s2)

	// Initially none closed
	if g.AnyClosed() {
		t.Error("No switches should be closed initially")
	}

	// Close one
	s1.HandleTrigger(100)

	if !g.AnyClosed() {
		t.Error("Should show closed after one closes")
	}
}

func TestSwitchGroupGet(t *testing.T) {
	g := NewSwitchGroup("x")

	cfg := DefaultSwitchConfig()
	cfg.Name = "x_min"
	s1 := New(cfg)
	g.Add(s1)

	if g.Get("x_min") != s1 {
		t.Error("Get should return the named switch")
	}
	if g.Get("x_max") != nil {
		t.Error("Get should return nil for an unknown name")
	}
}

func TestSwitchGroupQueryAll(t *testing.T) {
	g := NewSwitchGroup("test")

	cfg := DefaultSwitchConfig()
	s1 := New(cfg)
	s2 := New(cfg)
	s3 := New(cfg)

	// Set up query callbacks
	s1.SetQueryCallback(func() (bool, error) { return false, nil })
	s2.SetQueryCallback(func() (bool, error) { return true, nil }) // closed
	s3.SetQueryCallback(func() (bool, error) { return false, nil })

	g.Add(s1)
	g.Add(s2)
	g.Add(s3)

	closed, err := g.QueryAll()
	if err != nil {
		t.Errorf("QueryAll failed: %v", err)
	}

	if len(closed) != 1 {
		t.Errorf("QueryAll returned %d closed, want 1", len(closed))
	}

	if closed[0] != s2 {
		t.Error("Wrong switch returned as closed")
	}
}

func TestSwitchGroupHoming(t *testing.T) {
	g := NewSwitchGroup("test")

	cfg := DefaultSwitchConfig()
	cfg.DebounceTime = 0
	s1 := New(cfg)
	s2 := New(cfg)

	g.Add(s1)
	g.Add(s2)

	// Start homing on all
	err := g.StartHomingAll(1)
	if err != nil {
		t.Errorf("StartHomingAll failed: %v", err)
	}

	if !s1.IsHoming() || !s2.IsHoming() {
		t.Error("All switches should be homing")
	}

	// Trigger s1 in goroutine
	go func() {
		time.Sleep(10 * time.Millisecond)
		s1.HandleTrigger(999)
	}()

	// Wait for any trigger
	closed, tick, err := g.WaitForAnyTrigger(100 * time.Millisecond)
	if err != nil {
		t.Errorf("WaitForAnyTrigger failed: %v", err)
	}

	if closed != s1 {
		t.Error("Wrong switch returned")
	}

	if tick != 999 {
		t.Errorf("Tick = %d, want 999", tick)
	}

	// Stop all
	g.StopHomingAll()

	if s1.IsHoming() || s2.IsHoming() {
		t.Error("No switches should be homing after StopHomingAll")
	}
}

func TestSwitchGroupWaitTimeout(t *testing.T) {
	g := NewSwitchGroup("test")

	cfg := DefaultSwitchConfig()
	s1 := New(cfg)

	g.Add(s1)

	err := g.StartHomingAll(1)
	if err != nil {
		t.Errorf("StartHomingAll failed: %v", err)
	}

	// Wait with short timeout, no trigger
	_, _, err = g.WaitForAnyTrigger(50 * time.Millisecond)
	if err != ErrSwitchTimeout {
		t.Errorf("Expected ErrSwitchTimeout, got %v", err)
	}
}
