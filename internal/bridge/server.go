// Package bridge serves a run over HTTP: health, Prometheus metrics, a task
// snapshot, and an events endpoint through which external processes finish
// external steps.
package bridge

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

	"github.com/go-logr/logr"
)

const (
	// DefaultMaxBodyBytes caps /events payloads.
	DefaultMaxBodyBytes int64 = 1 << 20
	// DefaultTimeout bounds reads and writes of a single request.
	DefaultTimeout = 15 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = time.Minute
	// DefaultShutdownTimeout applies when Shutdown gets no deadline.
	DefaultShutdownTimeout = 2 * time.Second
)

// ServerStatus is the lifecycle phase reported by /health.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Settings configures the listener and request limits.
type Settings struct {
	Address      string
	MaxBodyBytes int64
	Timeout      time.Duration
	IdleTimeout  time.Duration
}

// DefaultSettings returns settings listening on address.
func DefaultSettings(address string) Settings {
	return Settings{
		Address:      address,
		MaxBodyBytes: DefaultMaxBodyBytes,
		Timeout:      DefaultTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
}

// Server exposes one run over HTTP.
type Server struct {
	settings  Settings
	processor EventProcessor
	tasks     func() []TaskStatus
	metrics   http.Handler
	log       logr.Logger
	clock     func() time.Time

	mu      sync.RWMutex
	http    *http.Server
	addr    net.Addr
	status  ServerStatus
	started time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithProcessor sets the handler for /events. Without one every event is
// answered with 404.
func WithProcessor(p EventProcessor) Option {
	return func(s *Server) {
		if p != nil {
			s.processor = p
		}
	}
}

// WithTasks sets the snapshot source for /tasks.
func WithTasks(snapshot func() []TaskStatus) Option {
	return func(s *Server) {
		s.tasks = snapshot
	}
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the server logger.
func WithLogger(log logr.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a server; nothing listens until Start.
func NewServer(settings Settings, opts ...Option) *Server {
	if settings.MaxBodyBytes <= 0 {
		settings.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		settings: settings,
		processor: EventProcessorFunc(func(e Event) error {
			return fmt.Errorf("%w %s", ErrUnknownTask, e.Task)
		}),
		log:    logr.Discard(),
		clock:  func() time.Time { return time.Now().UTC() },
		status: StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", readOnly(s.handleHealth))
	mux.HandleFunc("/tasks", readOnly(s.handleTasks))
	mux.HandleFunc("/events", s.handleEvents)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start listens on the configured address and serves in the background.
// Requests inherit ctx.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("bridge: server already started")
	}
	listener, err := net.Listen("tcp", s.settings.Address)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", s.settings.Address, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.settings.Timeout,
		ReadHeaderTimeout: s.settings.Timeout,
		WriteTimeout:      s.settings.Timeout,
		IdleTimeout:       s.settings.IdleTimeout,
	}
	if ctx != nil {
		srv.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.http = srv
	s.addr = listener.Addr()
	s.started = s.clock()
	s.status = StatusReady
	go func() {
		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(err, "bridge stopped serving")
		}
	}()
	s.log.Info("bridge listening", "address", s.addr.String())
	return nil
}

// Shutdown drains in-flight requests. A nil ctx waits at most
// DefaultShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	s.status = StatusDraining
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("bridge: shutdown: %w", err)
	}
	s.http = nil
	s.addr = nil
	return nil
}

// Addr is the bound address, or "" when not serving.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// BaseURL is the http:// URL of the server.
func (s *Server) BaseURL() string {
	if addr := s.Addr(); addr != "" {
		return "http://" + addr
	}
	return "http://" + s.settings.Address
}

// Status reports the lifecycle phase.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := healthResponse{Status: string(s.status), Version: ProtocolVersion}
	if !s.started.IsZero() {
		resp.UptimeSeconds = int64(s.clock().Sub(s.started).Seconds())
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	rows := []TaskStatus{}
	if s.tasks != nil {
		rows = append(rows, s.tasks()...)
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	evt, status, err := s.decodeEvent(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	evt.ServerTime = s.clock().UTC()
	if err := s.processor.HandleEvent(evt); err != nil {
		status := http.StatusConflict
		if errors.Is(err, ErrUnknownTask) {
			status = http.StatusNotFound
		}
		s.log.Info("event rejected", "task", evt.Task, "status", evt.Status, "error", err.Error())
		writeError(w, status, err.Error())
		return
	}
	s.log.V(1).Info("event accepted", "task", evt.Task, "status", evt.Status)
	writeJSON(w, http.StatusAccepted, eventResponse{Status: "accepted", ServerTime: evt.ServerTime})
}

// decodeEvent reads, normalizes and validates the request body. The int is
// the HTTP status to answer with when err is set.
func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request) (Event, int, error) {
	if r.Body == nil {
		return Event{}, http.StatusBadRequest, errors.New("empty body")
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Event{}, http.StatusRequestEntityTooLarge, fmt.Errorf("payload exceeds %d bytes", tooLarge.Limit)
		}
		return Event{}, http.StatusBadRequest, errors.New("unable to read body")
	}
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, http.StatusBadRequest, errors.New("invalid JSON")
	}
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		return Event{}, http.StatusBadRequest, err
	}
	return evt, http.StatusOK, nil
}

func readOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
