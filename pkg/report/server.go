// Status and command API server
//
// Serves machine status to UIs and scripts over HTTP and websocket
// JSON-RPC: one-shot object queries, subscriptions with a 4 Hz change
// broadcast, G-code script submission, and emergency stop. A plain
// GET /status returns the full snapshot and /metrics exposes the
// counter registry for scraping.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package report

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/metrics"
	"tinyg-go-migration/pkg/pool"
)

// MachineInterface is what the server needs from the machine stack.
type MachineInterface interface {
	// ObjectsList names the queryable status objects.
	ObjectsList() []string

	// ObjectStatus returns one object's attributes. A nil attrs
	// requests all of them; an unknown name returns nil.
	ObjectStatus(name string, attrs []string) map[string]any

	// ExecuteScript submits G-code lines for execution.
	ExecuteScript(script string) error

	// EmergencyStop halts the machine immediately.
	EmergencyStop()

	// MachineState returns the controller state string.
	MachineState() string
}

// Config holds server configuration.
type Config struct {
	Addr    string // listen address, e.g. ":8080"
	Machine MachineInterface
	Metrics *metrics.ControllerMetrics
}

// Server is the API endpoint.
type Server struct {
	machine MachineInterface
	metrics *metrics.ControllerMetrics
	logger  *log.Logger

	httpServer *http.Server
	addr       string

	upgrader websocket.Upgrader
	clients  map[int64]*wsClient
	clientMu sync.RWMutex
	nextID   int64

	// clientID -> object -> attributes
	subscriptions map[int64]map[string][]string
	subMu         sync.RWMutex

	running   atomic.Bool
	startTime time.Time
}

func New(cfg Config) *Server {
	s := &Server{
		machine:       cfg.Machine,
		metrics:       cfg.Metrics,
		logger:        log.New("report"),
		addr:          cfg.Addr,
		clients:       make(map[int64]*wsClient),
		subscriptions: make(map[int64]map[string][]string),
		startTime:     time.Now(),
	}
	if s.metrics == nil {
		s.metrics = metrics.GlobalMetrics()
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Handler builds the route table. Exposed separately so tests can
// drive it without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/machine/info", s.handleInfo)
	mux.HandleFunc("/machine/gcode", s.handleScript)
	mux.HandleFunc("/machine/estop", s.handleEstop)
	return s.corsMiddleware(mux)
}

// Start listens and serves until Stop. Blocking.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}
	s.running.Store(true)
	s.logger.WithField("addr", s.addr).Info("api server starting")
	go s.broadcastLoop()
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and all websocket clients.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// JSON-RPC 2.0 framing

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	rpcParseError  = -32700
	rpcMethodError = -32601
	rpcAppError    = -32000
)

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeRPC(w, rpcResponse{JSONRPC: "2.0",
			Error: &rpcError{Code: rpcParseError, Message: "parse error"}})
		return
	}
	result, err := s.dispatch(req.Method, req.Params, nil)
	if err != nil {
		s.writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: rpcAppError, Message: err.Error()}})
		return
	}
	s.writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// dispatch routes one method call. client is nil for plain HTTP.
func (s *Server) dispatch(method string, params map[string]any, client *wsClient) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo(), nil
	case "machine.info":
		return s.methodMachineInfo(), nil
	case "machine.objects.list":
		return map[string]any{"objects": s.machine.ObjectsList()}, nil
	case "machine.objects.query":
		return s.methodObjectsQuery(params)
	case "machine.objects.subscribe":
		return s.methodSubscribe(params, client)
	case "machine.gcode.script":
		return s.methodScript(params)
	case "machine.emergency_stop":
		s.logger.Warn("emergency stop over api")
		s.machine.EmergencyStop()
		return map[string]any{}, nil
	case "server.connection.identify":
		return s.methodIdentify(params, client)
	default:
		return nil, errors.Newf(errors.CodeUnsupportedStatement,
			"method not found: %s", method)
	}
}

func (s *Server) methodServerInfo() map[string]any {
	hostname, _ := os.Hostname()
	s.clientMu.RLock()
	nclients := len(s.clients)
	s.clientMu.RUnlock()
	return map[string]any{
		"hostname":        hostname,
		"machine_state":   s.machine.MachineState(),
		"websocket_count": nclients,
		"uptime":          time.Since(s.startTime).Seconds(),
		"api_version":     []int{1, 0, 0},
	}
}

func (s *Server) methodMachineInfo() map[string]any {
	return map[string]any{
		"state":   s.machine.MachineState(),
		"objects": s.machine.ObjectsList(),
	}
}

// parseObjects pulls the objects parameter: a map of object name to
// attribute list, where null means all attributes.
func parseObjects(params map[string]any) (map[string][]string, error) {
	raw, ok := params["objects"]
	if !ok {
		return nil, errors.New(errors.CodeUnsupportedStatement, "missing 'objects' parameter")
	}
	objs, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New(errors.CodeUnsupportedStatement, "'objects' must be an object")
	}
	out := make(map[string][]string, len(objs))
	for name, attrsVal := range objs {
		var attrs []string
		if list, ok := attrsVal.([]any); ok {
			for _, a := range list {
				if str, ok := a.(string); ok {
					attrs = append(attrs, str)
				}
			}
		}
		out[name] = attrs
	}
	return out, nil
}

func (s *Server) methodObjectsQuery(params map[string]any) (any, error) {
	objs, err := parseObjects(params)
	if err != nil {
		return nil, err
	}
	status := make(map[string]any, len(objs))
	for name, attrs := range objs {
		if st := s.machine.ObjectStatus(name, attrs); st != nil {
			status[name] = st
		}
	}
	return map[string]any{
		"eventtime": s.eventtime(),
		"status":    status,
	}, nil
}

func (s *Server) methodSubscribe(params map[string]any, client *wsClient) (any, error) {
	if client == nil {
		return nil, errors.New(errors.CodeUnsupportedStatement,
			"subscription requires a websocket connection")
	}
	objs, err := parseObjects(params)
	if err != nil {
		return nil, err
	}
	s.subMu.Lock()
	s.subscriptions[client.id] = objs
	s.subMu.Unlock()

	// initial snapshot so the client starts consistent
	return s.methodObjectsQuery(params)
}

func (s *Server) methodScript(params map[string]any) (any, error) {
	script, ok := params["script"].(string)
	if !ok {
		return nil, errors.New(errors.CodeUnsupportedStatement, "missing 'script' parameter")
	}
	if err := s.machine.ExecuteScript(script); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (s *Server) methodIdentify(params map[string]any, client *wsClient) (any, error) {
	name := "unknown"
	if n, ok := params["client_name"].(string); ok {
		name = n
	}
	s.logger.WithField("client", name).Info("client identified")
	var id int64
	if client != nil {
		id = client.id
	}
	return map[string]any{"connection_id": id}, nil
}

// REST handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := pool.GetStatusMap()
	defer pool.PutStatusMap(status)
	for _, name := range s.machine.ObjectsList() {
		if st := s.machine.ObjectStatus(name, nil); st != nil {
			status[name] = st
		}
	}
	s.writeJSON(w, map[string]any{
		"eventtime": s.eventtime(),
		"status":    status,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(s.metrics.Gather()))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"result": s.methodMachineInfo()})
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.methodScript(params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": result})
}

func (s *Server) handleEstop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.logger.Warn("emergency stop over api")
	s.machine.EmergencyStop()
	s.writeJSON(w, map[string]any{"result": map[string]any{}})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) eventtime() float64 {
	return float64(time.Since(s.startTime).Milliseconds()) / 1000.0
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": rpcAppError, "message": err.Error()},
	})
}

func (s *Server) writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// broadcastLoop pushes status updates to subscribed clients at 4 Hz.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for s.running.Load() {
		<-ticker.C
		s.broadcast()
	}
}

func (s *Server) broadcast() {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	eventtime := s.eventtime()
	for clientID, objects := range s.subscriptions {
		s.clientMu.RLock()
		client, ok := s.clients[clientID]
		s.clientMu.RUnlock()
		if !ok {
			continue
		}

		status := make(map[string]any)
		for name, attrs := range objects {
			if st := s.machine.ObjectStatus(name, attrs); st != nil {
				status[name] = st
			}
		}
		if len(status) == 0 {
			continue
		}
		client.send(map[string]any{
			"jsonrpc": "2.0",
			"method":  "notify_status_update",
			"params":  []any{status, eventtime},
		})
	}
}
