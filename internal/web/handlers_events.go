package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/awmdev/awm/internal/events"
)

const (
	streamHeartbeatInterval = 15 * time.Second
	maxIngestBody           = 64 << 10
)

// sourceLimits rate-limits ingestion per remote host so one chatty agent
// cannot crowd out the rest.
type sourceLimits struct {
	perSec float64
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newSourceLimits(perSec float64, burst int) *sourceLimits {
	if perSec <= 0 {
		perSec = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &sourceLimits{
		perSec:   perSec,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *sourceLimits) allow(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[source]
	if !ok {
		// Crude bound on the map for long-lived servers.
		if len(l.limiters) > 10_000 {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Limit(l.perSec), l.burst)
		l.limiters[source] = lim
	}
	return lim.Allow()
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ingestRequest is the POST /events body. ID and timestamp are assigned
// server-side.
type ingestRequest struct {
	Kind    string            `json:"kind"`
	Session string            `json:"session"`
	Payload map[string]string `json:"payload"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleIngest(w, r)
	case http.MethodGet:
		s.handleRecent(w, r)
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET or POST")
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.limits.allow(remoteHost(r)) {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "slow down")
		return
	}

	var req ingestRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", "malformed event body")
		return
	}
	req.Kind = strings.TrimSpace(req.Kind)
	if req.Kind == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "kind is required")
		return
	}

	entry := s.cfg.Buffer.Append(events.Entry{
		Kind:    req.Kind,
		Session: strings.TrimSpace(req.Session),
		Payload: req.Payload,
	})

	s.applyMetaSideEffects(entry)

	if s.forwarder != nil {
		s.forwarder.Forward(entry)
	}
	if s.cfg.Push != nil {
		go s.cfg.Push.Notify(entry)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "id": entry.ID})
}

// applyMetaSideEffects lets agents update their session's persisted state
// by emitting events, without a separate write API.
func (s *Server) applyMetaSideEffects(e events.Entry) {
	if s.cfg.Meta == nil || e.Session == "" {
		return
	}
	if e.Kind == "status" {
		if st := e.Payload["status"]; st != "" {
			if err := s.cfg.Meta.SetStatus(e.Session, st); err != nil {
				webLog.Warn("status_update_failed", slog.String("session", e.Session), slog.String("error", err.Error()))
			}
		}
	}
	if prompt := e.Payload["prompt"]; prompt != "" {
		if err := s.cfg.Meta.SetPromptPreview(e.Session, prompt); err != nil {
			webLog.Warn("preview_update_failed", slog.String("session", e.Session), slog.String("error", err.Error()))
		}
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "n must be a positive integer")
			return
		}
		n = parsed
	}

	list := s.cfg.Buffer.RecentN(n)
	if list == nil {
		list = []events.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": list})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Optional replay of recent history before going live.
	if raw := r.URL.Query().Get("replay"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			for _, e := range s.cfg.Buffer.RecentN(n) {
				if err := writeSSEEvent(w, flusher, "agent-event", e); err != nil {
					return
				}
			}
		}
	}

	sub, cancel := s.cfg.Buffer.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := writeSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, "agent-event", e); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
