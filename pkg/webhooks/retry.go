package webhooks

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// RetryConfig bounds the exponential backoff schedule.
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default backoff schedule: 1s doubling up
// to 5 minutes, 5 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy computes backoff delays from attempt counts.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a policy, falling back to defaults for
// out-of-range values.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether another attempt is allowed after a failure.
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	return err != nil && attempts < p.config.MaxAttempts
}

// NextRetryDelay returns the backoff delay after the given attempt count.
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}
	delay := float64(p.config.InitialDelay) *
		math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// NextRetryTime returns the wall-clock time of the next attempt.
func (p *RetryPolicy) NextRetryTime(attempts int) time.Time {
	return time.Now().Add(p.NextRetryDelay(attempts))
}

// RetryWorker periodically re-sends deliveries stuck in the retrying state.
type RetryWorker struct {
	manager    *Manager
	deliveries *DeliveryLog
	policy     *RetryPolicy
	stop       chan struct{}
	ticker     *time.Ticker
}

// NewRetryWorker creates a worker over the manager's delivery log.
func NewRetryWorker(manager *Manager, deliveries *DeliveryLog, policy *RetryPolicy) *RetryWorker {
	return &RetryWorker{
		manager:    manager,
		deliveries: deliveries,
		policy:     policy,
		stop:       make(chan struct{}),
	}
}

// Start begins polling for due retries at the given interval.
func (w *RetryWorker) Start(ctx context.Context, interval time.Duration) {
	w.ticker = time.NewTicker(interval)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("webhook retry worker panicked", "panic", r)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-w.ticker.C:
				w.processRetries(ctx)
			}
		}
	}()
}

// Stop halts the worker.
func (w *RetryWorker) Stop() {
	if w.ticker != nil {
		w.ticker.Stop()
	}
	close(w.stop)
}

func (w *RetryWorker) processRetries(ctx context.Context) {
	for _, delivery := range w.deliveries.PendingRetries() {
		webhook, err := w.manager.Get(delivery.WebhookID)
		if err != nil {
			w.fail(delivery, "webhook no longer registered")
			continue
		}
		if !webhook.Active {
			w.fail(delivery, "webhook is inactive")
			continue
		}
		w.retry(ctx, webhook, delivery)
	}
}

func (w *RetryWorker) fail(delivery *Delivery, reason string) {
	now := time.Now()
	delivery.Status = DeliveryFailed
	delivery.Error = reason
	delivery.CompletedAt = &now
	w.deliveries.Update(delivery)
}

func (w *RetryWorker) retry(ctx context.Context, webhook *Webhook, delivery *Delivery) {
	delivery.Attempts++

	// The original payload is not retained; retries re-send the event
	// envelope so receivers can re-fetch current state by ID.
	event := &Event{
		ID:        delivery.EventID,
		Type:      delivery.EventType,
		Timestamp: delivery.CreatedAt,
	}

	start := time.Now()
	err := w.manager.send(ctx, webhook, event, delivery)
	delivery.Duration = time.Since(start)

	now := time.Now()
	switch {
	case err == nil:
		delivery.Status = DeliverySuccess
		delivery.Error = ""
		delivery.CompletedAt = &now
	case w.policy.ShouldRetry(delivery.Attempts, err):
		next := w.policy.NextRetryTime(delivery.Attempts)
		delivery.Status = DeliveryRetrying
		delivery.NextRetryAt = &next
		delivery.Error = err.Error()
	default:
		delivery.Status = DeliveryFailed
		delivery.Error = err.Error()
		delivery.CompletedAt = &now
	}
	w.deliveries.Update(delivery)
}
