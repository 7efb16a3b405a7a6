// Package server exposes provisioning over HTTP and websockets for a GUI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/yoanbernabeu/piprov/internal/constants"
	"github.com/yoanbernabeu/piprov/internal/history"
	"github.com/yoanbernabeu/piprov/internal/provision"
	"github.com/yoanbernabeu/piprov/internal/ssh"
)

// Executor runs operations; its progress must reach the Hub given to New
type Executor interface {
	Execute(ctx context.Context, req provision.Request) provision.Result
	Catalog() *provision.Catalog
}

// HistoryLister reads past runs
type HistoryLister interface {
	ListRecent(limit int, target string) ([]history.Run, error)
}

// TargetSpec is the connection target sent by a client
type TargetSpec struct {
	Host   string `json:"host"`
	Port   int    `json:"port,omitempty"`
	User   string `json:"user"`
	Secret string `json:"secret,omitempty"`
}

// ClientRequest asks the server to run one operation
type ClientRequest struct {
	ID               string            `json:"id,omitempty"`
	Operation        string            `json:"operation"`
	Target           TargetSpec        `json:"target"`
	Params           map[string]string `json:"params,omitempty"`
	TrustFingerprint string            `json:"trust_fingerprint,omitempty"`
}

// Server serves the provisioning API
type Server struct {
	exec       Executor
	hub        *Hub
	history    HistoryLister
	logger     zerolog.Logger
	origins    map[string]bool
	upgrader   websocket.Upgrader
	router     chi.Router
	httpServer *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithHistory enables the history endpoint
func WithHistory(h HistoryLister) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithLogger sets the server logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAllowedOrigins lets browser pages from origins open websockets.
// Without it only same-origin and non-browser clients are accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			s.origins[o] = true
		}
	}
}

// New creates a Server. hub must be a sink of exec.
func New(exec Executor, hub *Hub, opts ...Option) *Server {
	s := &Server{
		exec:    exec,
		hub:     hub,
		logger:  zerolog.Nop(),
		origins: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/operations", s.handleOperations)
	r.Get("/api/history", s.handleHistory)
	r.Get("/ws", s.handleWebsocket)

	s.router = r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = constants.DefaultListenAddr
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for handlers
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.origins[origin] {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type paramInfo struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
	Secret   bool   `json:"secret,omitempty"`
	Usage    string `json:"usage,omitempty"`
}

type operationInfo struct {
	Name     string      `json:"name"`
	Summary  string      `json:"summary"`
	Params   []paramInfo `json:"params"`
	PreCheck bool        `json:"pre_check"`
	Reboots  bool        `json:"reboots"`
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	var ops []operationInfo
	for _, op := range s.exec.Catalog().List() {
		info := operationInfo{
			Name:     op.Name,
			Summary:  op.Summary,
			Params:   []paramInfo{},
			PreCheck: op.PreCheck != nil,
			Reboots:  op.RebootsOnSuccess,
		}
		for _, p := range op.UserParams() {
			info.Params = append(info.Params, paramInfo{
				Name: p.Name, Required: p.Required, Default: p.Default, Secret: p.Secret, Usage: p.Usage,
			})
		}
		ops = append(ops, info)
	}
	writeJSON(w, http.StatusOK, ops)
}

type runInfo struct {
	ID         string `json:"id"`
	Operation  string `json:"operation"`
	Target     string `json:"target"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	ExitStatus *int64 `json:"exit_status,omitempty"`
	Lines      int    `json:"lines"`
	StartedAt  string `json:"started_at"`
	Duration   int64  `json:"duration_ms"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history is disabled"})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := s.history.ListRecent(limit, r.URL.Query().Get("target"))
	if err != nil {
		s.logger.Error().Err(err).Msg("history query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}

	out := make([]runInfo, 0, len(runs))
	for _, run := range runs {
		info := runInfo{
			ID: run.ID, Operation: run.Operation, Target: run.Target, Status: run.Status,
			Reason: run.Reason, Error: run.Error, Lines: run.Lines,
			StartedAt: run.StartedAt.UTC().Format(time.RFC3339), Duration: run.Duration.Milliseconds(),
		}
		if run.ExitStatus.Valid {
			code := run.ExitStatus.Int64
			info.ExitStatus = &code
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleWebsocket runs every request received on the connection concurrently.
// Closing the connection cancels the operations still running.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())

	var writeMu sync.Mutex
	send := func(m Message) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(m); err != nil {
			s.logger.Debug().Err(err).Str("type", m.Type).Msg("websocket write failed")
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		req, err := parseRequest(data)
		if err != nil {
			send(Message{Type: TypeError, Error: err.Error()})
			continue
		}

		unsubscribe, err := s.hub.Subscribe(req.ID, send)
		if err != nil {
			send(Message{Type: TypeError, ID: req.ID, Error: err.Error()})
			continue
		}
		send(Message{Type: TypeAccepted, ID: req.ID, Operation: req.Operation, Target: req.Target.Redacted()})
		s.logger.Info().Str("op_id", req.ID).Str("operation", req.Operation).Object("target", req.Target).Msg("operation requested")

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			s.exec.Execute(ctx, req)
		}()
	}
}

func parseRequest(data []byte) (provision.Request, error) {
	var in ClientRequest
	if err := json.Unmarshal(data, &in); err != nil {
		return provision.Request{}, fmt.Errorf("malformed request: %w", err)
	}
	if in.Operation == "" {
		return provision.Request{}, errors.New("operation is required")
	}

	id := provision.NewOperationID()
	if in.ID != "" {
		parsed, err := uuid.Parse(in.ID)
		if err != nil {
			return provision.Request{}, errors.New("id must be a UUID")
		}
		id = parsed.String()
	}

	return provision.Request{
		ID:               id,
		Operation:        in.Operation,
		Target:           ssh.NewTarget(in.Target.Host, in.Target.User, in.Target.Secret, in.Target.Port),
		Params:           in.Params,
		TrustFingerprint: in.TrustFingerprint,
	}, nil
}
