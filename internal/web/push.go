package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/awmdev/awm/internal/events"
	"github.com/awmdev/awm/internal/notify"
)

const (
	vapidKeysFileName     = "push_vapid_keys.json"
	subscriptionsFileName = "push_subscriptions.json"
)

type vapidKeysFile struct {
	PublicKey  string    `json:"publicKey"`
	PrivateKey string    `json:"privateKey"`
	Subject    string    `json:"subject,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ensureVAPIDKeys returns the persisted keypair, generating one on first
// use so browser subscriptions survive restarts.
func ensureVAPIDKeys(dir, subject string) (publicKey, privateKey string, err error) {
	path := filepath.Join(dir, vapidKeysFileName)

	raw, readErr := os.ReadFile(path)
	if readErr == nil {
		var file vapidKeysFile
		if err := json.Unmarshal(raw, &file); err != nil {
			return "", "", fmt.Errorf("parse vapid keys file: %w", err)
		}
		file.PublicKey = strings.TrimSpace(file.PublicKey)
		file.PrivateKey = strings.TrimSpace(file.PrivateKey)
		if file.PublicKey == "" || file.PrivateKey == "" {
			return "", "", errors.New("vapid keys file is missing required keys")
		}
		return file.PublicKey, file.PrivateKey, nil
	}
	if !errors.Is(readErr, os.ErrNotExist) {
		return "", "", fmt.Errorf("read vapid keys file: %w", readErr)
	}

	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keypair: %w", err)
	}

	file := vapidKeysFile{
		PublicKey:  strings.TrimSpace(publicKey),
		PrivateKey: strings.TrimSpace(privateKey),
		Subject:    subject,
		CreatedAt:  time.Now().UTC(),
	}
	if err := writeJSONFileAtomic(path, file); err != nil {
		return "", "", err
	}
	return file.PublicKey, file.PrivateKey, nil
}

// Subscription is a browser push subscription as delivered by the
// PushManager API.
type Subscription struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

// SubscriptionKeys carries the client's encryption material.
type SubscriptionKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s Subscription) normalize() Subscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Keys.P256DH = strings.TrimSpace(s.Keys.P256DH)
	s.Keys.Auth = strings.TrimSpace(s.Keys.Auth)
	return s
}

func (s Subscription) validate() error {
	sub := s.normalize()
	if sub.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if sub.Keys.P256DH == "" {
		return errors.New("keys.p256dh is required")
	}
	if sub.Keys.Auth == "" {
		return errors.New("keys.auth is required")
	}
	return nil
}

type subscriptionFile struct {
	UpdatedAt     time.Time      `json:"updatedAt"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// subscriptionStore persists subscriptions to a JSON file, keyed by
// endpoint.
type subscriptionStore struct {
	path string
	mu   sync.Mutex
}

func (s *subscriptionStore) List() ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Subscription, len(data.Subscriptions))
	copy(out, data.Subscriptions)
	return out, nil
}

func (s *subscriptionStore) Upsert(sub Subscription) error {
	sub = sub.normalize()
	if err := sub.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readLocked()
	if err != nil {
		return err
	}

	replaced := false
	for i := range data.Subscriptions {
		if data.Subscriptions[i].Endpoint == sub.Endpoint {
			data.Subscriptions[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		data.Subscriptions = append(data.Subscriptions, sub)
	}
	data.UpdatedAt = time.Now().UTC()
	return writeJSONFileAtomic(s.path, data)
}

func (s *subscriptionStore) Remove(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readLocked()
	if err != nil {
		return err
	}

	kept := data.Subscriptions[:0]
	for _, sub := range data.Subscriptions {
		if sub.Endpoint != endpoint {
			kept = append(kept, sub)
		}
	}
	data.Subscriptions = kept
	data.UpdatedAt = time.Now().UTC()
	return writeJSONFileAtomic(s.path, data)
}

func (s *subscriptionStore) Count() int {
	subs, err := s.List()
	if err != nil {
		return 0
	}
	return len(subs)
}

func (s *subscriptionStore) readLocked() (*subscriptionFile, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &subscriptionFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscription store: %w", err)
	}
	var data subscriptionFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode subscription store: %w", err)
	}
	return &data, nil
}

func writeJSONFileAtomic(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write temp %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// pushSender delivers one payload to one subscription. Swappable in tests.
type pushSender interface {
	Send(payload []byte, sub Subscription) (int, error)
}

type vapidSender struct {
	subject    string
	publicKey  string
	privateKey string
}

func (s *vapidSender) Send(payload []byte, sub Subscription) (int, error) {
	sub = sub.normalize()
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256DH,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             3600,
	})
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		return status, err
	}
	if status >= 400 {
		return status, fmt.Errorf("push endpoint returned %d", status)
	}
	return status, nil
}

// pushMessage is what the service worker receives.
type pushMessage struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tag       string `json:"tag,omitempty"`
	Session   string `json:"session,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Timestamp string `json:"timestamp"`
}

// PushService renders events through the notification templates and
// delivers them to every registered browser.
type PushService struct {
	store     *subscriptionStore
	sender    pushSender
	templates map[string]string
	publicKey string
}

// NewPushService loads or creates VAPID keys under dir and opens the
// subscription store there. templates follows the notify package's
// per-kind convention.
func NewPushService(dir, subject string, templates map[string]string) (*PushService, error) {
	publicKey, privateKey, err := ensureVAPIDKeys(dir, subject)
	if err != nil {
		return nil, err
	}
	return &PushService{
		store:     &subscriptionStore{path: filepath.Join(dir, subscriptionsFileName)},
		sender:    &vapidSender{subject: subject, publicKey: publicKey, privateKey: privateKey},
		templates: templates,
		publicKey: publicKey,
	}, nil
}

// PublicKey is handed to browsers for PushManager.subscribe.
func (p *PushService) PublicKey() string {
	return p.publicKey
}

// Subscribe registers or refreshes a browser subscription.
func (p *PushService) Subscribe(sub Subscription) error {
	return p.store.Upsert(sub)
}

// Unsubscribe removes a subscription by endpoint.
func (p *PushService) Unsubscribe(endpoint string) error {
	return p.store.Remove(endpoint)
}

// Notify delivers one event to every subscription, pruning endpoints the
// gateway reports gone.
func (p *PushService) Notify(e events.Entry) {
	subs, err := p.store.List()
	if err != nil {
		webLog.Warn("push_list_failed", slog.String("error", err.Error()))
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(pushMessage{
		Title:     "awm",
		Body:      notify.Message(p.templates, e),
		Tag:       e.Session,
		Session:   e.Session,
		Kind:      e.Kind,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	for _, sub := range subs {
		status, err := p.sender.Send(payload, sub)
		if err != nil {
			webLog.Debug("push_send_failed",
				slog.String("endpoint", sub.Endpoint),
				slog.Int("status", status),
				slog.String("error", err.Error()))
			// 404/410 mean the subscription is dead at the gateway.
			if status == 404 || status == 410 {
				_ = p.store.Remove(sub.Endpoint)
			}
		}
	}
}
