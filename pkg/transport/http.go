// Copyright 2025 The Quiver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quiverkb/quiver/pkg/observability"
)

const (
	headerSessionID       = "mcp-session-id"
	headerProtocolVersion = "mcp-protocol-version"

	sessionTTL        = 3600 * time.Second
	heartbeatInterval = time.Second

	defaultDrainTimeout    = 10 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	envDrainTimeout    = "MCP_HTTP_DRAIN_TIMEOUT_SECONDS"
	envShutdownTimeout = "MCP_HTTP_SHUTDOWN_TIMEOUT_SECONDS"
)

// session tracks one HTTP client across requests.
type session struct {
	id       string
	lastSeen time.Time
}

// HTTPServer serves the JSON-RPC handler over HTTP with SSE streaming.
type HTTPServer struct {
	handler *Handler
	metrics *observability.Metrics
	server  *http.Server

	mu       sync.Mutex
	sessions map[string]*session

	drainTimeout    time.Duration
	shutdownTimeout time.Duration
}

// NewHTTPServer builds the HTTP transport bound to host:port.
func NewHTTPServer(handler *Handler, metrics *observability.Metrics, host string, port int) *HTTPServer {
	s := &HTTPServer{
		handler:         handler,
		metrics:         metrics,
		sessions:        make(map[string]*session),
		drainTimeout:    timeoutFromEnv(envDrainTimeout, defaultDrainTimeout),
		shutdownTimeout: timeoutFromEnv(envShutdownTimeout, defaultShutdownTimeout),
	}

	r := chi.NewRouter()
	r.Use(s.requestMetrics)
	r.Options("/mcp", s.handlePreflight)
	r.Post("/mcp", s.handlePost)
	r.Get("/mcp", s.handleSSE)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func timeoutFromEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		slog.Warn("ignoring invalid timeout override", "env", key, "value", raw)
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string { return s.server.Addr }

// Router exposes the handler tree, mainly for tests.
func (s *HTTPServer) Router() http.Handler { return s.server.Handler }

// Run serves until the context is cancelled, then shuts down in two phases:
// drain in-flight requests, then force-close whatever remains.
func (s *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http transport listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	janitorDone := make(chan struct{})
	go s.expireSessions(janitorCtx, janitorDone)

	select {
	case err := <-errCh:
		stopJanitor()
		<-janitorDone
		return err
	case <-ctx.Done():
	}

	slog.Info("http transport draining",
		"drain_timeout", s.drainTimeout, "shutdown_timeout", s.shutdownTimeout)

	drainCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()
	if err := s.server.Shutdown(drainCtx); err != nil {
		slog.Warn("drain incomplete, forcing close", "error", err)
		deadline := time.NewTimer(s.shutdownTimeout - s.drainTimeout)
		defer deadline.Stop()
		select {
		case <-errCh:
		case <-deadline.C:
			_ = s.server.Close()
			<-errCh
		}
		<-janitorDone
		return nil
	}
	<-errCh
	<-janitorDone
	return nil
}

// allowedOrigin reports whether a browser origin may call the server. Local
// origins on any port pass; requests without an Origin header (curl, SDK
// clients) are always allowed.
func allowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

// cors validates Origin and writes CORS headers. Returns false after writing
// a 403 when the origin is not allowed.
func (s *HTTPServer) cors(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if !allowedOrigin(origin) {
		slog.Warn("rejected cross-origin request", "origin", origin)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+headerSessionID+", "+headerProtocolVersion)
		w.Header().Set("Access-Control-Expose-Headers", headerSessionID)
	}
	return true
}

// checkProtocolVersion warns on unknown revisions but never rejects; clients
// ahead of or behind the server still get best-effort service.
func checkProtocolVersion(r *http.Request) {
	v := r.Header.Get(headerProtocolVersion)
	if v == "" {
		return
	}
	for _, supported := range supportedProtocolVersions {
		if v == supported {
			return
		}
	}
	slog.Warn("unknown protocol version, proceeding anyway",
		"requested", v, "current", ProtocolVersion)
}

// touchSession resolves or creates the request's session and stamps the
// session id on the response.
func (s *HTTPServer) touchSession(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(headerSessionID)
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{id: id}
		s.sessions[id] = sess
	}
	sess.lastSeen = time.Now()
	s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	w.Header().Set(headerSessionID, id)
	return id
}

// expireSessions drops sessions idle past the TTL.
func (s *HTTPServer) expireSessions(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-sessionTTL)
			s.mu.Lock()
			for id, sess := range s.sessions {
				if sess.lastSeen.Before(cutoff) {
					delete(s.sessions, id)
				}
			}
			s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
			s.mu.Unlock()
		}
	}
}

func (s *HTTPServer) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if !s.cors(w, r) {
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	if !s.cors(w, r) {
		return
	}
	checkProtocolVersion(r)
	s.touchSession(w, r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxLineBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	resp := s.handler.HandleRaw(r.Context(), body)
	if resp == nil {
		// Notification: acknowledged, nothing to say.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

// handleSSE holds a server-sent-events stream open, emitting heartbeats until
// the client disconnects or the server drains.
func (s *HTTPServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.cors(w, r) {
		return
	}
	checkProtocolVersion(r)
	id := s.touchSession(w, r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := writeEvent("endpoint", map[string]string{"endpoint": "/mcp", "session_id": id}); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			slog.Debug("sse stream closed", "session_id", id)
			return
		case t := <-ticker.C:
			if err := writeEvent("heartbeat", map[string]string{"timestamp": t.UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"transport": "http",
		"protocol":  "mcp",
	})
}

// requestMetrics records latency per method, route, and status.
func (s *HTTPServer) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if !strings.HasPrefix(path, "/mcp") && path != "/health" && path != "/metrics" {
			path = "other"
		}
		s.metrics.RequestDuration.
			WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).
			Observe(time.Since(started).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards streaming flushes so SSE works through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
