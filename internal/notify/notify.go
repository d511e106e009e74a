// Package notify pushes dashboard-worthy alerts (blocked senders, terminal
// stream failure) to external channels.
package notify

import (
	"context"
	"log/slog"
)

// Alert is one condition worth pushing out-of-band.
type Alert struct {
	Title  string
	Detail string
}

// Text renders the alert for plain-text channels.
func (a Alert) Text() string {
	if a.Detail == "" {
		return a.Title
	}
	return a.Title + "\n" + a.Detail
}

// Notifier delivers alerts to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Fanout delivers each alert to every configured notifier, logging
// per-channel failures instead of propagating them: alerting is best
// effort and must never stall the engine.
type Fanout struct {
	targets []Notifier
	logger  *slog.Logger
}

// NewFanout creates a fanout over the given notifiers.
func NewFanout(logger *slog.Logger, targets ...Notifier) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{targets: targets, logger: logger}
}

// Notify sends the alert to all channels.
func (f *Fanout) Notify(ctx context.Context, a Alert) {
	for _, n := range f.targets {
		if err := n.Notify(ctx, a); err != nil {
			f.logger.Warn("alert delivery failed", "channel", n.Name(), "error", err)
		}
	}
}

// Len returns the number of configured channels.
func (f *Fanout) Len() int { return len(f.targets) }
