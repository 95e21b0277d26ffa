// Package monitor consumes fallback events and keeps windowed counters of
// served and fallback assessments.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/sentify/internal/domain"
)

// Cache keys.
const (
	keyPredictions   = "predictions"
	keyFallbackTotal = "fallback:total"
	keyFallbackLast  = "fallback:last"
	fallbackPrefix   = "fallback:"
)

var reasons = []string{
	domain.ReasonModelUnavailable,
	domain.ReasonInferenceError,
	domain.ReasonInferenceTimeout,
	domain.ReasonInvalidFeature,
}

// Monitor subscribes to fallback events on the EventBus and records them in
// the cache. With Redis and NATS every replica reports into the same counters.
type Monitor struct {
	bus    domain.EventBus
	cache  domain.Cache
	window time.Duration

	mu   sync.Mutex
	subs []domain.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a monitor. window bounds every counter.
func New(bus domain.EventBus, cache domain.Cache, window time.Duration) *Monitor {
	if window <= 0 {
		window = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		bus:    bus,
		cache:  cache,
		window: window,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the fallback topic.
func (m *Monitor) Start() error {
	sub, err := m.bus.Subscribe(m.ctx, domain.TopicScoringFallback, m.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicScoringFallback, err)
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	slog.Info("fallback monitor started",
		"topic", domain.TopicScoringFallback,
		"window_seconds", int(m.window.Seconds()),
	)
	return nil
}

// RecordPrediction counts a served assessment.
func (m *Monitor) RecordPrediction(ctx context.Context) {
	if _, err := m.cache.IncrementCounter(ctx, keyPredictions, m.window); err != nil {
		slog.Warn("failed to count prediction", "error", err)
	}
}

func (m *Monitor) handleMessage(ctx context.Context, msg *domain.Message) error {
	var event domain.FallbackEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse fallback event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	return m.Record(ctx, event)
}

// Record counts a fallback event and keeps it as the most recent one.
func (m *Monitor) Record(ctx context.Context, event domain.FallbackEvent) error {
	if event.Reason == "" {
		event.Reason = domain.ReasonInferenceError
	}

	total, err := m.cache.IncrementCounter(ctx, keyFallbackTotal, m.window)
	if err != nil {
		return fmt.Errorf("failed to count fallback: %w", err)
	}
	if _, err := m.cache.IncrementCounter(ctx, fallbackPrefix+event.Reason, m.window); err != nil {
		return fmt.Errorf("failed to count fallback reason: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := m.cache.Set(ctx, keyFallbackLast, payload, m.window); err != nil {
		return fmt.Errorf("failed to store last fallback: %w", err)
	}

	slog.Debug("fallback recorded",
		"reason", event.Reason,
		"request_id", event.RequestID,
		"window_total", total,
	)
	return nil
}

// Stats is the monitor snapshot served on /stats.
type Stats struct {
	WindowSeconds int                   `json:"window_seconds"`
	Predictions   int64                 `json:"predictions"`
	Fallbacks     map[string]int64      `json:"fallbacks"`
	FallbackTotal int64                 `json:"fallback_total"`
	LastFallback  *domain.FallbackEvent `json:"last_fallback"`
}

// Stats reads the current counters.
func (m *Monitor) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		WindowSeconds: int(m.window.Seconds()),
		Fallbacks:     make(map[string]int64, len(reasons)),
	}

	var err error
	if stats.Predictions, err = m.cache.GetCounter(ctx, keyPredictions); err != nil {
		return Stats{}, err
	}
	if stats.FallbackTotal, err = m.cache.GetCounter(ctx, keyFallbackTotal); err != nil {
		return Stats{}, err
	}
	for _, reason := range reasons {
		n, err := m.cache.GetCounter(ctx, fallbackPrefix+reason)
		if err != nil {
			return Stats{}, err
		}
		stats.Fallbacks[reason] = n
	}

	last, err := m.cache.Get(ctx, keyFallbackLast)
	if err != nil {
		return Stats{}, err
	}
	if last != nil {
		var event domain.FallbackEvent
		if err := json.Unmarshal(last, &event); err == nil {
			stats.LastFallback = &event
		}
	}

	return stats, nil
}

// Stop unsubscribes and stops processing.
func (m *Monitor) Stop() error {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	m.subs = nil

	slog.Info("fallback monitor stopped")
	return nil
}
