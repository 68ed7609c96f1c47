// Package digest groups unsent alerts into rate-limited notification
// batches.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/elonfeng/hnpulse/internal/store"
	"github.com/elonfeng/hnpulse/pkg/alert"
)

// Batch outcome statuses.
const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
)

// Skip reasons.
const (
	ReasonQuotaReached = "quota reached"
	ReasonNoAlerts     = "no unsent alerts"
)

// Digest types.
const (
	TypeHourly = "hourly"
	TypeUrgent = "urgent"
)

// urgentPercentile promotes a batch to urgent when any alert reaches it.
const urgentPercentile = 99

// Config controls batching.
type Config struct {
	BatchSize int           // max alerts per digest (default 10)
	MaxPerDay int           // daily digest quota (default 5)
	Lookback  time.Duration // only alerts detected within this window are eligible (default 4h)
}

// DefaultConfig returns the standard batching settings.
func DefaultConfig() Config {
	return Config{
		BatchSize: 10,
		MaxPerDay: 5,
		Lookback:  4 * time.Hour,
	}
}

// Result reports one batcher invocation.
type Result struct {
	Status         string  `json:"status"`
	Reason         string  `json:"reason,omitempty"`
	DigestType     string  `json:"digest_type,omitempty"`
	AlertCount     int     `json:"alert_count"`
	AlertIDs       []int64 `json:"alert_ids,omitempty"`
	DeliveryStatus string  `json:"delivery_status,omitempty"`
	SentToday      int     `json:"sent_today"`
}

// Batcher builds and dispatches digests under the daily quota.
type Batcher struct {
	store    store.Store
	notifier *alert.Manager
	cfg      Config
	logger   *slog.Logger
}

// New creates a batcher.
func New(s store.Store, notifier *alert.Manager, cfg Config, logger *slog.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = 5
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = 4 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{store: s, notifier: notifier, cfg: cfg, logger: logger}
}

// Run executes one batching cycle. Alerts included in a digest are marked
// sent regardless of delivery outcome: a failed delivery never re-queues
// its alerts, trading missed notifications for no duplicates.
func (b *Batcher) Run(ctx context.Context) (*Result, error) {
	now := time.Now()

	sentToday, err := b.store.CountDigestsSince(ctx, startOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("count digests today: %w", err)
	}
	if sentToday >= b.cfg.MaxPerDay {
		b.logger.Info("daily digest quota reached", "sent", sentToday, "max", b.cfg.MaxPerDay)
		return &Result{Status: StatusSkipped, Reason: ReasonQuotaReached, SentToday: sentToday}, nil
	}

	alerts, err := b.store.UnsentAlerts(ctx, now.Add(-b.cfg.Lookback), b.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("load unsent alerts: %w", err)
	}
	if len(alerts) == 0 {
		return &Result{Status: StatusSkipped, Reason: ReasonNoAlerts, SentToday: sentToday}, nil
	}

	digestType := TypeHourly
	for _, a := range alerts {
		if a.Percentile >= urgentPercentile {
			digestType = TypeUrgent
			break
		}
	}

	alertIDs := make([]int64, len(alerts))
	for i, a := range alerts {
		alertIDs[i] = a.ID
	}

	deliveryStatus := "failed"
	if b.notifier.HasNotifiers() {
		payload := &alert.Digest{Type: digestType, Alerts: alerts}
		if sendErr := b.notifier.Broadcast(ctx, payload); sendErr != nil {
			b.logger.Error("digest delivery failed", "error", sendErr)
		} else {
			deliveryStatus = "sent"
		}
	} else {
		b.logger.Warn("no notifiers configured, digest recorded without delivery")
	}

	record := &store.Digest{
		SentAt:     now,
		AlertIDs:   alertIDs,
		AlertCount: len(alerts),
		DigestType: digestType,
		Status:     deliveryStatus,
	}
	if err := b.store.InsertDigest(ctx, record); err != nil {
		return nil, fmt.Errorf("record digest: %w", err)
	}

	if err := b.store.MarkAlertsSent(ctx, alertIDs); err != nil {
		return nil, fmt.Errorf("mark alerts sent: %w", err)
	}

	b.logger.Info("digest batched",
		"type", digestType, "alerts", len(alerts), "delivery", deliveryStatus)

	return &Result{
		Status:         StatusSent,
		DigestType:     digestType,
		AlertCount:     len(alerts),
		AlertIDs:       alertIDs,
		DeliveryStatus: deliveryStatus,
		SentToday:      sentToday + 1,
	}, nil
}

// startOfDay returns midnight of t's local calendar day.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
