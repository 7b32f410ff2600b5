package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/awmdev/awm/internal/events"
)

// Forwarder re-posts ingested events to upstream collectors. Delivery is
// fire-and-forget: failures are logged and never retried, and ingestion
// never waits on a slow upstream.
type Forwarder struct {
	urls   []string
	client *http.Client
}

func NewForwarder(urls []string) *Forwarder {
	return &Forwarder{
		urls:   urls,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Forward sends the event to every upstream in the background.
func (f *Forwarder) Forward(e events.Entry) {
	body, err := json.Marshal(struct {
		Kind    string            `json:"kind"`
		Session string            `json:"session"`
		Payload map[string]string `json:"payload,omitempty"`
	}{e.Kind, e.Session, e.Payload})
	if err != nil {
		return
	}

	for _, url := range f.urls {
		go f.post(url, body)
	}
}

func (f *Forwarder) post(url string, body []byte) {
	resp, err := f.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		webLog.Debug("forward_failed", slog.String("url", url), slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		webLog.Debug("forward_rejected", slog.String("url", url), slog.Int("status", resp.StatusCode))
	}
}
