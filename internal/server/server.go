// Package server exposes the data layer over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/theirongolddev/hegelpm/internal/cache"
	"github.com/theirongolddev/hegelpm/internal/protocol"
	"github.com/theirongolddev/hegelpm/internal/worker"
)

// Backend answers data requests. *worker.Pool implements it.
type Backend interface {
	Do(ctx context.Context, q protocol.Query, bypass bool) (protocol.Reply, error)
	Stats() worker.Stats
}

// Config controls the HTTP server.
type Config struct {
	Addr string
	// RequestTimeout bounds how long a handler waits for its reply.
	// Zero disables the bound.
	RequestTimeout time.Duration
	// EventsBuffer is the number of invalidation events retained.
	EventsBuffer int
	// Watching is reported in the status payload.
	Watching bool
}

// Event records a cache invalidation.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Project   string    `json:"project,omitempty"`
	Removed   int       `json:"removed"`
}

// Status is served at /api/status.
type Status struct {
	StartedAt       time.Time    `json:"started_at"`
	Addr            string       `json:"addr"`
	Watching        bool         `json:"watching"`
	Pool            worker.Stats `json:"pool"`
	Cache           cache.Stats  `json:"cache"`
	EventCount      int          `json:"event_count"`
	SubscriberCount int          `json:"subscriber_count"`
}

// Server serves the project API.
type Server struct {
	cfg     Config
	backend Backend
	cache   *cache.ResponseCache
	logger  *log.Logger

	mu          sync.RWMutex
	startedAt   time.Time
	nextEventID int64
	events      []Event
	nextSubID   int
	subs        map[int]chan Event
}

// New returns a server over backend. c is used only for status reporting.
func New(cfg Config, backend Backend, c *cache.ResponseCache, logger *log.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:3030"
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:       cfg,
		backend:   backend,
		cache:     c,
		logger:    logger,
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/projects", s.handleProjects)
	mux.HandleFunc("GET /api/projects/{name}", s.handleProject)
	mux.HandleFunc("GET /api/projects/{name}/metrics", s.handleProject)
	mux.HandleFunc("GET /api/all-projects", s.handleAllProjects)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	return s.logRequests(mux)
}

// Run serves on cfg.Addr until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// Publish records an invalidation and fans it out to stream subscribers.
func (s *Server) Publish(project string, removed int) {
	s.mu.Lock()
	s.nextEventID++
	ev := Event{
		ID:        s.nextEventID,
		Type:      "invalidated",
		Timestamp: time.Now(),
		Project:   project,
		Removed:   removed,
	}
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Server) snapshotStatus() Status {
	st := Status{
		StartedAt: s.startedAt,
		Addr:      s.cfg.Addr,
		Watching:  s.cfg.Watching,
		Pool:      s.backend.Stats(),
	}
	if s.cache != nil {
		st.Cache = s.cache.Stats()
	}

	s.mu.RLock()
	st.EventCount = len(s.events)
	st.SubscriberCount = len(s.subs)
	s.mu.RUnlock()
	return st
}

func (s *Server) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Server) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
