package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/elonfeng/hnpulse/internal/store"
)

// Digest is the payload handed to notification destinations: one batch of
// breakout alerts with their posts.
type Digest struct {
	Type   string                `json:"type"` // "hourly" or "urgent"
	Alerts []store.AlertWithPost `json:"alerts"`
}

// Urgent reports whether the digest contains a >= 99th percentile alert.
func (d *Digest) Urgent() bool {
	return d.Type == "urgent"
}

// Subject builds a one-line summary for the digest.
func (d *Digest) Subject() string {
	noun := "stories"
	if len(d.Alerts) == 1 {
		noun = "story"
	}
	if d.Urgent() {
		return fmt.Sprintf("%d URGENT breakout %s", len(d.Alerts), noun)
	}
	return fmt.Sprintf("%d breakout %s", len(d.Alerts), noun)
}

// Notifier delivers digests to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, d *Digest) error
}

// Manager broadcasts digests to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a digest to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, d *Digest) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// postURL returns the story link, falling back to the HN discussion page.
func postURL(a store.AlertWithPost) string {
	if a.URL != "" {
		return a.URL
	}
	return fmt.Sprintf("https://news.ycombinator.com/item?id=%d", a.PostID)
}
