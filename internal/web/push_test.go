package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmdev/awm/internal/events"
)

type sentPush struct {
	endpoint string
	payload  []byte
}

type fakeSender struct {
	mu       sync.Mutex
	statuses map[string]int // endpoint -> forced status, default 201
	sent     []sentPush
}

func (f *fakeSender) Send(payload []byte, sub Subscription) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPush{endpoint: sub.Endpoint, payload: payload})
	status, ok := f.statuses[sub.Endpoint]
	if !ok {
		return http.StatusCreated, nil
	}
	if status >= 400 {
		return status, fmt.Errorf("push endpoint returned %d", status)
	}
	return status, nil
}

func (f *fakeSender) deliveries() []sentPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentPush, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestPushService(t *testing.T, templates map[string]string) (*PushService, *fakeSender) {
	t.Helper()
	svc, err := NewPushService(t.TempDir(), "mailto:ops@example.com", templates)
	require.NoError(t, err)
	fake := &fakeSender{}
	svc.sender = fake
	return svc, fake
}

func testSub(endpoint string) Subscription {
	return Subscription{
		Endpoint: endpoint,
		Keys:     SubscriptionKeys{P256DH: "p256dh-material", Auth: "auth-secret"},
	}
}

func TestVAPIDKeysPersistAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	first, err := NewPushService(dir, "mailto:ops@example.com", nil)
	require.NoError(t, err)
	require.NotEmpty(t, first.PublicKey())

	second, err := NewPushService(dir, "mailto:ops@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey(), second.PublicKey())
}

func TestPushKeyEndpoint(t *testing.T) {
	svc, _ := newTestPushService(t, nil)
	srv, _ := newTestServer(t, func(c *Config) { c.Push = svc })

	req := httptest.NewRequest(http.MethodGet, "/push/key", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Key string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, svc.PublicKey(), resp.Key)
}

func TestPushEndpointsDisabledWithoutService(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/push/key"},
		{http.MethodPost, "/push/subscribe"},
		{http.MethodPost, "/push/unsubscribe"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestSubscribeAndUnsubscribeHandlers(t *testing.T) {
	svc, _ := newTestPushService(t, nil)
	srv, _ := newTestServer(t, func(c *Config) { c.Push = svc })

	body := `{"endpoint":"https://push.example.com/reg/1","keys":{"p256dh":"pk","auth":"au"}}`
	rec := postJSON(t, srv.Handler(), "/push/subscribe", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.store.Count())

	// Re-subscribing the same endpoint replaces rather than duplicates.
	rec = postJSON(t, srv.Handler(), "/push/subscribe", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.store.Count())

	rec = postJSON(t, srv.Handler(), "/push/unsubscribe", `{"endpoint":"https://push.example.com/reg/1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, svc.store.Count())
}

func TestSubscribeRejectsIncompleteSubscription(t *testing.T) {
	svc, _ := newTestPushService(t, nil)
	srv, _ := newTestServer(t, func(c *Config) { c.Push = svc })

	for name, body := range map[string]string{
		"missing endpoint": `{"keys":{"p256dh":"pk","auth":"au"}}`,
		"missing p256dh":   `{"endpoint":"https://push.example.com/reg/2","keys":{"auth":"au"}}`,
		"missing auth":     `{"endpoint":"https://push.example.com/reg/2","keys":{"p256dh":"pk"}}`,
	} {
		rec := postJSON(t, srv.Handler(), "/push/subscribe", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	assert.Equal(t, 0, svc.store.Count())
}

func TestNotifyRendersTemplateAndFansOut(t *testing.T) {
	svc, fake := newTestPushService(t, map[string]string{
		"done": "{session} finished: {summary}",
	})
	require.NoError(t, svc.Subscribe(testSub("https://push.example.com/a")))
	require.NoError(t, svc.Subscribe(testSub("https://push.example.com/b")))

	svc.Notify(events.Entry{
		ID:      9,
		Kind:    "done",
		Session: "awm-claude-1",
		Payload: map[string]string{"summary": "all green"},
	})

	sent := fake.deliveries()
	require.Len(t, sent, 2)

	var msg pushMessage
	require.NoError(t, json.Unmarshal(sent[0].payload, &msg))
	assert.Equal(t, "awm", msg.Title)
	assert.Equal(t, "awm-claude-1 finished: all green", msg.Body)
	assert.Equal(t, "awm-claude-1", msg.Tag)
	assert.Equal(t, "done", msg.Kind)
}

func TestNotifyPrunesGoneSubscriptions(t *testing.T) {
	svc, fake := newTestPushService(t, nil)
	fake.statuses = map[string]int{"https://push.example.com/stale": http.StatusGone}

	require.NoError(t, svc.Subscribe(testSub("https://push.example.com/stale")))
	require.NoError(t, svc.Subscribe(testSub("https://push.example.com/fresh")))

	svc.Notify(events.Entry{Kind: "done", Session: "awm-x"})

	subs, err := svc.store.List()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example.com/fresh", subs[0].Endpoint)

	// A second notify only reaches the surviving endpoint.
	before := len(fake.deliveries())
	svc.Notify(events.Entry{Kind: "done", Session: "awm-x"})
	after := fake.deliveries()
	require.Len(t, after, before+1)
	assert.Equal(t, "https://push.example.com/fresh", after[len(after)-1].endpoint)
}
