// Package webserver is a small local relay in front of the orchestration
// service. It serves the dashboard's aggregated view as JSON, fans channel
// events out to browsers over SSE and proxies task submission.
package webserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsprackett/agent-dashboard/internal/api"
	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/db"
	"github.com/zsprackett/agent-dashboard/internal/events"
	"github.com/zsprackett/agent-dashboard/internal/viewstate"
)

type TLSConfig struct {
	Mode     string // "self-signed", "manual", or "" (disabled)
	CertFile string
	KeyFile  string
	CacheDir string
}

type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type Config struct {
	Port int
	Host string
	TLS  TLSConfig
	Auth AuthConfig
}

// View is the read side of the aggregator.
type View interface {
	Agents() []api.Agent
	Tasks() []api.Task
	Logs() []api.LogEntry
	Summary() viewstate.Summary
}

// TaskCreator submits tasks upstream.
type TaskCreator interface {
	CreateTask(ctx context.Context, description, userID string) (string, error)
}

type Server struct {
	store  *db.DB
	view   View
	tasks  TaskCreator
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	clients  map[chan events.Event]struct{}
	state    channel.State
	srv      *http.Server
	quit     chan struct{}
	quitOnce sync.Once
}

func New(store *db.DB, view View, tasks TaskCreator, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		cfg.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.Auth.RefreshTokenTTL <= 0 {
		cfg.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	return &Server{
		store:   store,
		view:    view,
		tasks:   tasks,
		cfg:     cfg,
		logger:  logger,
		clients: make(map[chan events.Event]struct{}),
		quit:    make(chan struct{}),
	}
}

var _ events.Broadcaster = (*Server)(nil)

// Broadcast implements events.Broadcaster.
func (s *Server) Broadcast(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- e:
		default:
		}
	}
}

// Attach relays every classified message and lifecycle event from ch to SSE
// clients. Call the returned function to detach.
func (s *Server) Attach(ch channel.Channel) func() {
	track := func(st channel.State) channel.Handler {
		return func(e events.Event) {
			s.mu.Lock()
			s.state = st
			s.mu.Unlock()
			s.Broadcast(e)
		}
	}
	subs := []*channel.Subscription{
		ch.On(events.Message, s.Broadcast),
		ch.On(events.Connected, track(channel.StateConnected)),
		ch.On(events.Disconnected, func(e events.Event) {
			var info channel.DisconnectInfo
			e.DecodePayload(&info)
			st := channel.StateDisconnected
			if info.Reconnecting {
				st = channel.StateConnecting
			}
			track(st)(e)
		}),
		ch.On(events.Error, s.Broadcast),
	}
	s.mu.Lock()
	s.state = ch.State()
	s.mu.Unlock()
	return func() {
		for _, sub := range subs {
			ch.Off(sub)
		}
	}
}

func (s *Server) addClient(ch chan events.Event) {
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(ch chan events.Event) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

// Clients reports the number of connected SSE clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /events", s.handleSSE)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /", http.FileServer(staticFiles()))

	return s.requestID(s.authMiddleware(mux))
}

// requestID tags every request with an X-Request-ID and logs it.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("webserver: request",
			"id", id, "method", r.Method, "path", r.URL.Path, "dur", time.Since(start))
	})
}

// Addr is the listen address from the config.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Start listens in the background. It returns once the listener is bound,
// so a port conflict is reported to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	tlsCfg, err := s.tlsConfig()
	if err != nil {
		ln.Close()
		return err
	}
	if tlsCfg != nil {
		srv.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info("webserver: listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webserver: serve failed", "err", err)
		}
	}()
	return nil
}

// Shutdown ends open event streams, stops the listener and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.quitOnce.Do(func() { close(s.quit) })
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	switch s.cfg.TLS.Mode {
	case "":
		return nil, nil
	case "self-signed":
		return selfSignedTLS(s.cfg.TLS.CacheDir)
	case "manual":
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls keypair: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	default:
		return nil, fmt.Errorf("unknown tls mode %q", s.cfg.TLS.Mode)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"channel": st.String(),
		"clients": s.Clients(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.view.Agents()})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.view.Tasks()})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.view.Logs()})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view.Summary())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	var (
		evts []db.TaskEvent
		err  error
	)
	if id := r.URL.Query().Get("task_id"); id != "" {
		evts, err = s.store.GetTaskEvents(id, limit)
	} else {
		evts, err = s.store.RecentTaskEvents(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}

type createTaskRequest struct {
	Description string `json:"task_description"`
	UserID      string `json:"user_id"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Description) == "" {
		writeError(w, http.StatusBadRequest, api.ErrEmptyDescription.Error())
		return
	}
	if body.UserID == "" {
		if u, ok := r.Context().Value(usernameKey).(string); ok {
			body.UserID = u
		}
	}
	id, err := s.tasks.CreateTask(r.Context(), body.Description, body.UserID)
	if err != nil {
		s.logger.Warn("webserver: create task failed", "err", err)
		var se *api.StatusError
		if errors.As(err, &se) && se.Code < 500 {
			writeError(w, se.Code, se.Body)
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": id, "status": "created"})
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", 500)
		return
	}

	ch := make(chan events.Event, 64)
	s.addClient(ch)
	defer s.removeClient(ch)

	writeSSE(w, flusher, s.snapshot())

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.quit:
			return
		case e := <-ch:
			writeSSE(w, flusher, e)
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, f http.Flusher, e events.Event) {
	data, _ := json.Marshal(e)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	f.Flush()
}
