// Package web serves the agent event endpoint: ingestion over plain HTTP
// plus JSON, SSE, and websocket read access, with optional web push
// dispatch and fire-and-forget forwarding to upstream collectors.
// The endpoint is deliberately unauthenticated; bind it to loopback or a
// trusted network.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/awmdev/awm/internal/events"
	"github.com/awmdev/awm/internal/logging"
	"github.com/awmdev/awm/internal/meta"
)

var webLog = logging.ForComponent(logging.CompWeb)

// DefaultListenAddr is used when no ingest address is configured.
const DefaultListenAddr = "127.0.0.1:8377"

// Config defines runtime options for the event endpoint.
type Config struct {
	ListenAddr  string
	Buffer      *events.Buffer
	Meta        *meta.Store  // optional: status events update it
	ForwardURLs []string     // optional: ingested events are re-posted here
	RatePerSec  float64      // per-source ingest limit
	RateBurst   int
	Push        *PushService // optional: ingested events become push notifications
}

// Server is the HTTP front of the event endpoint.
type Server struct {
	cfg        Config
	httpServer *http.Server
	limits     *sourceLimits
	forwarder  *Forwarder

	// connCtx parents every request context; closeConns tears down
	// long-lived SSE and websocket handlers during shutdown.
	connCtx    context.Context
	closeConns context.CancelFunc
}

// NewServer builds the endpoint with all routes registered.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Buffer == nil {
		cfg.Buffer = events.New(0)
	}

	s := &Server{
		cfg:    cfg,
		limits: newSourceLimits(cfg.RatePerSec, cfg.RateBurst),
	}
	s.connCtx, s.closeConns = context.WithCancel(context.Background())
	if len(cfg.ForwardURLs) > 0 {
		s.forwarder = NewForwarder(cfg.ForwardURLs)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/events/stream", s.handleStream)
	mux.HandleFunc("/events/ws", s.handleWS)
	mux.HandleFunc("/push/key", s.handlePushKey)
	mux.HandleFunc("/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("/push/unsubscribe", s.handlePushUnsubscribe)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           recoverPanics(mux),
		BaseContext:       func(net.Listener) context.Context { return s.connCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return s
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves requests until Shutdown and reports nil for a clean stop.
func (s *Server) Start() error {
	webLog.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server. SSE and websocket connections are cut first;
// if anything still holds the graceful window open past the context
// deadline, the listener is closed hard so Ctrl+C exits promptly.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeConns != nil {
		s.closeConns()
	}

	err := s.httpServer.Shutdown(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("force close after graceful timeout: %w", closeErr)
		}
		return nil
	default:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"events": s.cfg.Buffer.Len(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// recoverPanics keeps one bad handler from taking the whole endpoint down.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("handler_panic",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
