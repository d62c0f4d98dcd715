package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trovehq/trove/pkg/errs"
)

// EventType identifies a lifecycle event a webhook can subscribe to.
type EventType string

const (
	EventArtifactCreated EventType = "artifact.created"
	EventArtifactUpdated EventType = "artifact.updated"
	EventArtifactDeleted EventType = "artifact.deleted"
	EventOrgArchived     EventType = "org.archived"
	EventProjectArchived EventType = "project.archived"
)

// KnownEvent reports whether t is one of the emitted event types.
func KnownEvent(t EventType) bool {
	switch t {
	case EventArtifactCreated, EventArtifactUpdated, EventArtifactDeleted,
		EventOrgArchived, EventProjectArchived:
		return true
	}
	return false
}

// Event is one delivered occurrence of an EventType.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook is a registered delivery endpoint.
type Webhook struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Events      []EventType `json:"events"`
	Secret      string      `json:"secret,omitempty"`
	Active      bool        `json:"active"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (w *Webhook) subscribed(t EventType) bool {
	for _, event := range w.Events {
		if event == t {
			return true
		}
	}
	return false
}

// Manager registers webhooks and dispatches events to them. Deliveries run
// asynchronously so dispatch never blocks the request path; failures are
// handed to the retry worker.
type Manager struct {
	mu       sync.RWMutex
	webhooks map[string]*Webhook

	client      *http.Client
	deliveries  *DeliveryLog
	retryWorker *RetryWorker
	limiter     *RateLimiter
}

// NewManager creates a webhook manager with default delivery limits.
func NewManager() *Manager {
	deliveries := NewDeliveryLog(1000)
	m := &Manager{
		webhooks:   make(map[string]*Webhook),
		client:     &http.Client{Timeout: 10 * time.Second},
		deliveries: deliveries,
		limiter:    NewRateLimiter(100, time.Minute),
	}
	m.retryWorker = NewRetryWorker(m, deliveries, NewRetryPolicy(DefaultRetryConfig()))
	return m
}

// WithDeliveryLimit bounds the in-memory delivery log.
func (m *Manager) WithDeliveryLimit(max int) *Manager {
	if max > 0 {
		m.deliveries = NewDeliveryLog(max)
		m.retryWorker = NewRetryWorker(m, m.deliveries, NewRetryPolicy(DefaultRetryConfig()))
	}
	return m
}

// StartRetryWorker begins background retry processing. A zero interval
// uses the 30 second default.
func (m *Manager) StartRetryWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m.retryWorker.Start(ctx, interval)
}

// StopRetryWorker halts background retry processing.
func (m *Manager) StopRetryWorker() {
	m.retryWorker.Stop()
}

// Register validates and stores a new webhook, assigning its ID.
func (m *Manager) Register(webhook *Webhook) error {
	if webhook.URL == "" {
		return errs.NewDataFormat("webhook URL is required")
	}
	if len(webhook.Events) == 0 {
		return errs.NewDataFormat("at least one event type is required")
	}
	for _, event := range webhook.Events {
		if !KnownEvent(event) {
			return errs.NewDataFormat("unknown event type %q", event)
		}
	}

	webhook.ID = uuid.NewString()
	webhook.Active = true
	webhook.CreatedAt = time.Now()
	webhook.UpdatedAt = webhook.CreatedAt

	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[webhook.ID] = webhook
	return nil
}

// Unregister removes a webhook.
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return errs.NewNotFound(id)
	}
	delete(m.webhooks, id)
	return nil
}

// Get returns a webhook by ID.
func (m *Manager) Get(id string) (*Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	webhook, ok := m.webhooks[id]
	if !ok {
		return nil, errs.NewNotFound(id)
	}
	return webhook, nil
}

// List returns all registered webhooks.
func (m *Manager) List() []*Webhook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	webhooks := make([]*Webhook, 0, len(m.webhooks))
	for _, webhook := range m.webhooks {
		webhooks = append(webhooks, webhook)
	}
	return webhooks
}

// SetActive toggles delivery for a webhook.
func (m *Manager) SetActive(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	webhook, ok := m.webhooks[id]
	if !ok {
		return errs.NewNotFound(id)
	}
	webhook.Active = active
	webhook.UpdatedAt = time.Now()
	return nil
}

// Deliveries returns the most recent delivery attempts for a webhook.
func (m *Manager) Deliveries(webhookID string, limit int) []*Delivery {
	return m.deliveries.ByWebhook(webhookID, limit)
}

// Stats returns aggregate delivery statistics for a webhook.
func (m *Manager) Stats(webhookID string) DeliveryStats {
	return m.deliveries.Stats(webhookID)
}

// Notify adapts the manager to the service notifier interfaces: the event
// name becomes the EventType and the payload the event data.
func (m *Manager) Notify(ctx context.Context, event string, payload interface{}) {
	m.Dispatch(ctx, &Event{Type: EventType(event), Data: payload})
}

// Dispatch fans the event out to every active, subscribed webhook. Each
// delivery runs in its own goroutine with its own delivery record.
func (m *Manager) Dispatch(ctx context.Context, event *Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, webhook := range m.webhooks {
		if !webhook.Active || !webhook.subscribed(event.Type) {
			continue
		}

		delivery := &Delivery{
			ID:        uuid.NewString(),
			WebhookID: webhook.ID,
			EventID:   event.ID,
			EventType: event.Type,
			URL:       webhook.URL,
			Status:    DeliveryPending,
			CreatedAt: time.Now(),
		}
		m.deliveries.Add(delivery)

		go m.deliver(ctx, webhook, event, delivery)
	}
}

func (m *Manager) deliver(ctx context.Context, webhook *Webhook, event *Event, delivery *Delivery) {
	delivery.Attempts++
	start := time.Now()
	err := m.send(ctx, webhook, event, delivery)
	delivery.Duration = time.Since(start)

	policy := m.retryWorker.policy
	now := time.Now()
	switch {
	case err == nil:
		delivery.Status = DeliverySuccess
		delivery.CompletedAt = &now
	case policy.ShouldRetry(delivery.Attempts, err):
		next := policy.NextRetryTime(delivery.Attempts)
		delivery.Status = DeliveryRetrying
		delivery.NextRetryAt = &next
		delivery.Error = err.Error()
	default:
		delivery.Status = DeliveryFailed
		delivery.Error = err.Error()
		delivery.CompletedAt = &now
	}
	m.deliveries.Update(delivery)
}

func (m *Manager) send(ctx context.Context, webhook *Webhook, event *Event, delivery *Delivery) error {
	if !m.limiter.Allow(webhook.ID) {
		return errs.NewOperation("delivery rate limit exceeded for webhook %s", webhook.ID)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errs.WrapOperation(err, "failed to marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		return errs.WrapOperation(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trove-Event", string(event.Type))
	req.Header.Set("X-Trove-Event-ID", event.ID)
	req.Header.Set("X-Trove-Delivery", delivery.ID)
	if webhook.Secret != "" {
		req.Header.Set("X-Trove-Signature", sign(payload, webhook.Secret))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errs.WrapOperation(err, "failed to send webhook")
	}
	defer resp.Body.Close()

	delivery.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.NewOperation("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// VerifySignature checks a received payload against its X-Trove-Signature
// header value.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(sign(payload, secret)), []byte(signature))
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
