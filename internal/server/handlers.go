package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind protocol.ErrorKind) int {
	switch kind {
	case protocol.KindNotFound:
		return http.StatusNotFound
	case protocol.KindInvalid:
		return http.StatusBadRequest
	case protocol.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("all") {
		s.handleAllProjects(w, r)
		return
	}
	s.serveQuery(w, r, protocol.ListProjects{})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	s.serveQuery(w, r, protocol.ShowProject{Name: r.PathValue("name")})
}

func (s *Server) handleAllProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.serveQuery(w, r, protocol.AllProjects{
		SortBy:     model.SortColumn(q.Get("sort_by")),
		Descending: flag(q, "desc"),
		Benchmark:  flag(q, "benchmark"),
	})
}

// serveQuery sends q through the backend and writes the cached bytes
// unchanged. The payload digest doubles as a strong ETag.
func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request, q protocol.Query) {
	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	reply, err := s.backend.Do(ctx, q, flag(r.URL.Query(), "refresh"))
	if err != nil {
		writeError(w, err)
		return
	}

	etag := fmt.Sprintf(`"%016x"`, reply.Digest)
	w.Header().Set("ETag", etag)
	if reply.Cached {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(reply.Payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshotStatus())
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "id: %d\n", ev.ID)
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeError(w http.ResponseWriter, err error) {
	de := protocol.FromError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(de.Kind))
	_ = json.NewEncoder(w).Encode(errorBody{Error: string(de.Kind), Message: de.Error()})
}

// flag treats a present parameter with an empty, "1", "true" or "yes"
// value as set.
func flag(q url.Values, name string) bool {
	if !q.Has(name) {
		return false
	}
	switch strings.ToLower(q.Get(name)) {
	case "", "1", "true", "yes":
		return true
	default:
		return false
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start))
	})
}
