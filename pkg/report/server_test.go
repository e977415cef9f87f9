// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package report

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockMachine implements MachineInterface for testing.
type mockMachine struct {
	mu      sync.Mutex
	scripts []string
	estops  int
	state   string
}

func (m *mockMachine) ObjectsList() []string {
	return []string{"machine", "motion"}
}

func (m *mockMachine) ObjectStatus(name string, attrs []string) map[string]any {
	var status map[string]any
	switch name {
	case "machine":
		status = map[string]any{
			"state": m.MachineState(),
			"units": "mm",
			"tool":  2,
		}
	case "motion":
		status = map[string]any{
			"machine_position": []float64{1, 2, 3, 0, 0, 0},
			"velocity":         600.0,
		}
	default:
		return nil
	}
	return filterAttrs(status, attrs)
}

func (m *mockMachine) ExecuteScript(script string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, script)
	return nil
}

func (m *mockMachine) EmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estops++
}

func (m *mockMachine) MachineState() string {
	if m.state != "" {
		return m.state
	}
	return "ready"
}

func newTestServer() (*Server, *mockMachine) {
	m := &mockMachine{}
	return New(Config{Addr: ":0", Machine: m}), m
}

func postRPC(t *testing.T, h http.Handler, method string, params map[string]any) rpcResponse {
	t.Helper()
	body, _ := json.Marshal(rpcRequest{
		JSONRPC: "2.0", Method: method, Params: params, ID: 1,
	})
	req := httptest.NewRequest("POST", "/jsonrpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp rpcResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestServerInfo(t *testing.T) {
	s, _ := newTestServer()
	resp := postRPC(t, s.Handler(), "server.info", nil)
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["machine_state"] != "ready" {
		t.Errorf("machine_state = %v, want ready", result["machine_state"])
	}
}

func TestObjectsQuery(t *testing.T) {
	s, _ := newTestServer()
	resp := postRPC(t, s.Handler(), "machine.objects.query", map[string]any{
		"objects": map[string]any{"motion": nil},
	})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	status := result["status"].(map[string]any)
	motion := status["motion"].(map[string]any)
	if motion["velocity"] != 600.0 {
		t.Errorf("velocity = %v, want 600", motion["velocity"])
	}
}

func TestObjectsQueryAttributeFilter(t *testing.T) {
	s, _ := newTestServer()
	resp := postRPC(t, s.Handler(), "machine.objects.query", map[string]any{
		"objects": map[string]any{"machine": []any{"units"}},
	})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	machine := resp.Result.(map[string]any)["status"].(map[string]any)["machine"].(map[string]any)
	if len(machine) != 1 || machine["units"] != "mm" {
		t.Errorf("filtered status = %v, want only units", machine)
	}
}

func TestObjectsQueryMissingParam(t *testing.T) {
	s, _ := newTestServer()
	resp := postRPC(t, s.Handler(), "machine.objects.query", nil)
	if resp.Error == nil {
		t.Fatal("query without objects succeeded")
	}
}

func TestGCodeScript(t *testing.T) {
	s, m := newTestServer()
	resp := postRPC(t, s.Handler(), "machine.gcode.script", map[string]any{
		"script": "G0 X10\nG1 Y5 F600",
	})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	if len(m.scripts) != 1 || !strings.Contains(m.scripts[0], "G0 X10") {
		t.Errorf("scripts = %v", m.scripts)
	}
}

func TestEmergencyStopMethod(t *testing.T) {
	s, m := newTestServer()
	resp := postRPC(t, s.Handler(), "machine.emergency_stop", nil)
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error)
	}
	if m.estops != 1 {
		t.Errorf("estops = %d, want 1", m.estops)
	}
}

func TestUnknownMethod(t *testing.T) {
	s, _ := newTestServer()
	resp := postRPC(t, s.Handler(), "machine.bogus", nil)
	if resp.Error == nil {
		t.Fatal("unknown method succeeded")
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	status := out["status"].(map[string]any)
	if _, ok := status["machine"]; !ok {
		t.Error("status missing machine object")
	}
	if _, ok := status["motion"]; !ok {
		t.Error("status missing motion object")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty metrics body")
	}
}

func TestWebSocketQueryAndSubscribe(t *testing.T) {
	s, _ := newTestServer()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Stop()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := rpcRequest{JSONRPC: "2.0", Method: "machine.objects.subscribe",
		Params: map[string]any{"objects": map[string]any{"motion": nil}}, ID: 7}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp rpcResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("subscribe error: %v", resp.Error)
	}
	status := resp.Result.(map[string]any)["status"].(map[string]any)
	if _, ok := status["motion"]; !ok {
		t.Error("initial snapshot missing motion")
	}

	// a manual broadcast pushes a notification to the subscriber
	s.broadcast()
	var note map[string]any
	if err := conn.ReadJSON(&note); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if note["method"] != "notify_status_update" {
		t.Errorf("notification method = %v", note["method"])
	}
}

func TestSubscribeRequiresWebSocket(t *testing.T) {
	s, _ := newTestServer()
	resp := postRPC(t, s.Handler(), "machine.objects.subscribe", map[string]any{
		"objects": map[string]any{"motion": nil},
	})
	if resp.Error == nil {
		t.Fatal("HTTP subscribe succeeded")
	}
}
