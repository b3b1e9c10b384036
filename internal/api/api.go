package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/internal/actuator"
	"github.com/thatsimonsguy/signal-controller/internal/model"
)

const (
	maxBodyBytes     = 1 << 10
	defaultInboxSize = 16
)

var ErrBusy = errors.New("command inbox full")

// Bank is the actuator surface the server applies commands to.
type Bank interface {
	Apply(cmd model.Command) (model.ActuatorState, error)
	Status() model.ActuatorState
}

type phase int

const (
	awaitingRoute phase = iota
	validating
	applying
	responding
)

func (p phase) String() string {
	switch p {
	case awaitingRoute:
		return "awaiting_route"
	case validating:
		return "validating"
	case applying:
		return "applying"
	default:
		return "responding"
	}
}

// Response is the terminal outcome of one command request.
type Response struct {
	Status  int
	State   model.ActuatorState
	Command model.Command
	Err     error
}

// ResultListener observes every processed request on the scheduling loop.
type ResultListener func(raw []byte, resp Response)

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Connectivity model.ConnectivityStatus `json:"connectivity"`
	State        model.ActuatorState      `json:"state"`
	WSClients    int                      `json:"ws_clients"`
}

type pending struct {
	raw   []byte
	reply chan Response
}

type Server struct {
	bank      Bank
	inbox     chan pending
	hub       *Hub
	listeners []ResultListener

	mu           sync.RWMutex
	snapshot     model.ActuatorState
	connectivity model.ConnectivityStatus

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

func NewServer(bank Bank) *Server {
	return &Server{
		bank:         bank,
		inbox:        make(chan pending, defaultInboxSize),
		hub:          NewHub(),
		snapshot:     bank.Status(),
		connectivity: model.ConnectivityStatus{State: model.Disconnected},
	}
}

// OnResult registers a listener invoked after each request reaches RESPONDING.
func (s *Server) OnResult(l ResultListener) {
	s.listeners = append(s.listeners, l)
}

// OnRequest runs one request through decode, apply and response selection.
// It must only be called from the scheduling loop.
func (s *Server) OnRequest(raw []byte) Response {
	log.Debug().Str("phase", validating.String()).Int("bytes", len(raw)).Msg("Processing command request")

	cmd, err := Decode(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected malformed command")
		return s.respond(raw, Response{Status: http.StatusBadRequest, State: s.bank.Status(), Err: err})
	}

	log.Debug().Str("phase", applying.String()).Str("target", string(cmd.Target)).Str("action", string(cmd.Action)).Msg("Applying command")

	state, err := s.bank.Apply(cmd)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, actuator.ErrInvalidCommand) {
			status = http.StatusBadRequest
		}
		return s.respond(raw, Response{Status: status, State: state, Command: cmd, Err: err})
	}

	s.mu.Lock()
	s.snapshot = state
	s.mu.Unlock()
	s.hub.Broadcast(state)

	return s.respond(raw, Response{Status: http.StatusOK, State: state, Command: cmd})
}

func (s *Server) respond(raw []byte, resp Response) Response {
	log.Debug().Str("phase", responding.String()).Int("status", resp.Status).Msg("Command request complete")
	for _, l := range s.listeners {
		l(raw, resp)
	}
	return resp
}

// Submit queues a raw command body for the next Drain. It never blocks.
func (s *Server) Submit(raw []byte) (<-chan Response, error) {
	reply := make(chan Response, 1)
	select {
	case s.inbox <- pending{raw: raw, reply: reply}:
		return reply, nil
	default:
		return nil, ErrBusy
	}
}

// Drain processes up to limit queued requests one after another and returns how
// many were handled. It returns immediately when the inbox is empty.
func (s *Server) Drain(limit int) int {
	handled := 0
	for handled < limit {
		select {
		case req := <-s.inbox:
			req.reply <- s.OnRequest(req.raw)
			handled++
		default:
			return handled
		}
	}
	return handled
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/update", s.handleUpdate)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Listen opens the listener and starts serving. Callers only invoke it once the
// network is ready, so connections are refused until then.
func (s *Server) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.hub.Run(ctx)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	log.Info().Str("address", ln.Addr().String()).Msg("Command server accepting requests")
	return nil
}

func (s *Server) Listening() bool {
	return s.httpServer != nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	log.Debug().Str("phase", awaitingRoute.String()).Str("method", r.Method).Msg("Command request received")
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	reply, err := s.Submit(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Command inbox full")
		s.writeError(w, http.StatusServiceUnavailable, "Controller busy")
		return
	}

	select {
	case resp := <-reply:
		s.writeResponse(w, resp)
	case <-r.Context().Done():
		// The command still runs to completion on the loop.
		log.Debug().Msg("Client went away before command completed")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.mu.RLock()
	resp := HealthResponse{Connectivity: s.connectivity, State: s.snapshot}
	s.mu.RUnlock()
	resp.WSClients = s.hub.Clients()
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	if err := conn.WriteJSON(s.Snapshot()); err != nil || !s.hub.add(conn) {
		conn.Close()
		return
	}
	defer s.hub.remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// SetConnectivity records the latest radio status for /health. Called from the scheduling loop.
func (s *Server) SetConnectivity(st model.ConnectivityStatus) {
	s.mu.Lock()
	s.connectivity = st
	s.mu.Unlock()
}

// Snapshot is the state after the last applied command, safe to read from any goroutine.
func (s *Server) Snapshot() model.ActuatorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *Server) writeResponse(w http.ResponseWriter, resp Response) {
	if resp.Status == http.StatusOK {
		s.writeJSON(w, http.StatusOK, resp.State)
		return
	}

	message := "Hardware fault"
	if resp.Status == http.StatusBadRequest && resp.Err != nil {
		message = resp.Err.Error()
	}
	s.writeError(w, resp.Status, message)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
