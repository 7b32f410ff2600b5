package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

func (s *Server) handlePushKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}
	if s.cfg.Push == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "PUSH_DISABLED", "push notifications are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": s.cfg.Push.PublicKey()})
}

func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}
	if s.cfg.Push == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "PUSH_DISABLED", "push notifications are not configured")
		return
	}

	var sub Subscription
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", "request body must be a push subscription")
		return
	}
	if err := sub.validate(); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_SUBSCRIPTION", err.Error())
		return
	}
	if err := s.cfg.Push.Subscribe(sub); err != nil {
		webLog.Warn("push_subscribe_failed", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "SUBSCRIBE_FAILED", "could not persist subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}
	if s.cfg.Push == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "PUSH_DISABLED", "push notifications are not configured")
		return
	}

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_JSON", "request body must carry an endpoint")
		return
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_SUBSCRIPTION", "endpoint is required")
		return
	}
	if err := s.cfg.Push.Unsubscribe(req.Endpoint); err != nil {
		webLog.Warn("push_unsubscribe_failed", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "UNSUBSCRIBE_FAILED", "could not update subscriptions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
