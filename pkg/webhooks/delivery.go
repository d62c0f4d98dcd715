package webhooks

import (
	"sort"
	"sync"
	"time"
)

// DeliveryStatus is the state of one delivery attempt chain.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
)

// Delivery records one webhook delivery and its retries.
type Delivery struct {
	ID          string         `json:"id"`
	WebhookID   string         `json:"webhook_id"`
	EventID     string         `json:"event_id"`
	EventType   EventType      `json:"event_type"`
	URL         string         `json:"url"`
	Status      DeliveryStatus `json:"status"`
	StatusCode  int            `json:"status_code,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration  `json:"duration,omitempty"`
}

// DeliveryStats aggregates a webhook's delivery outcomes.
type DeliveryStats struct {
	WebhookID   string  `json:"webhook_id"`
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	Retrying    int     `json:"retrying"`
	SuccessRate float64 `json:"success_rate"`
}

// DeliveryLog is a bounded in-memory record of delivery attempts. When full
// it evicts the oldest tenth to make room.
type DeliveryLog struct {
	mu   sync.RWMutex
	logs map[string]*Delivery
	max  int
}

// NewDeliveryLog creates a log bounded to max entries.
func NewDeliveryLog(max int) *DeliveryLog {
	if max <= 0 {
		max = 1000
	}
	return &DeliveryLog{logs: make(map[string]*Delivery), max: max}
}

// Add records a new delivery.
func (l *DeliveryLog) Add(d *Delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.logs) >= l.max {
		l.evictOldest()
	}
	l.logs[d.ID] = d
}

// Update replaces a delivery record.
func (l *DeliveryLog) Update(d *Delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs[d.ID] = d
}

// Get returns a delivery by ID.
func (l *DeliveryLog) Get(id string) (*Delivery, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.logs[id]
	return d, ok
}

// ByWebhook returns the webhook's deliveries, newest first, bounded by
// limit when positive.
func (l *DeliveryLog) ByWebhook(webhookID string, limit int) []*Delivery {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*Delivery
	for _, d := range l.logs {
		if d.WebhookID == webhookID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// PendingRetries returns deliveries whose retry time has passed.
func (l *DeliveryLog) PendingRetries() []*Delivery {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := time.Now()
	var result []*Delivery
	for _, d := range l.logs {
		if d.Status == DeliveryRetrying && d.NextRetryAt != nil && d.NextRetryAt.Before(now) {
			result = append(result, d)
		}
	}
	return result
}

// Stats aggregates the webhook's delivery outcomes.
func (l *DeliveryLog) Stats(webhookID string) DeliveryStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := DeliveryStats{WebhookID: webhookID}
	for _, d := range l.logs {
		if d.WebhookID != webhookID {
			continue
		}
		stats.Total++
		switch d.Status {
		case DeliverySuccess:
			stats.Successful++
		case DeliveryFailed:
			stats.Failed++
		case DeliveryRetrying:
			stats.Retrying++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}

func (l *DeliveryLog) evictOldest() {
	all := make([]*Delivery, 0, len(l.logs))
	for _, d := range l.logs {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	evict := len(all) / 10
	if evict == 0 {
		evict = 1
	}
	for i := 0; i < evict && i < len(all); i++ {
		delete(l.logs, all[i].ID)
	}
}
