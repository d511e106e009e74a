// Package poller periodically pulls the full ticket collection from the
// backend and feeds it to the engine's snapshot merge.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/triagedeck-io/triagedeck/pkg/protocol"
)

// DefaultInterval matches the dashboard's refresh cadence.
const DefaultInterval = 5 * time.Second

// Source supplies full ticket snapshots.
type Source interface {
	FetchTickets(ctx context.Context) ([]protocol.Ticket, error)
}

// ApplyFunc receives each successfully fetched snapshot.
type ApplyFunc func([]protocol.Ticket)

// Poller drives a cron-scheduled full-snapshot refresh. Fetch failures are
// logged and the previous snapshot stays in place untouched.
type Poller struct {
	src      Source
	apply    ApplyFunc
	interval time.Duration
	cron     *cron.Cron
	logger   *slog.Logger
}

// New creates a poller. interval <= 0 falls back to DefaultInterval.
func New(src Source, interval time.Duration, apply ApplyFunc, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		src:      src,
		apply:    apply,
		interval: interval,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start primes one immediate poll, then runs on the interval until the
// context is cancelled. No snapshots are applied after cancellation.
func (p *Poller) Start(ctx context.Context) error {
	schedule := fmt.Sprintf("@every %s", p.interval)
	if _, err := p.cron.AddFunc(schedule, func() { p.Poll(ctx) }); err != nil {
		return fmt.Errorf("poller: invalid schedule %q: %w", schedule, err)
	}

	p.Poll(ctx)
	p.cron.Start()
	p.logger.Info("ticket poller started", "interval", p.interval)

	<-ctx.Done()
	p.cron.Stop()
	p.logger.Info("ticket poller stopped")
	return ctx.Err()
}

// Poll runs one fetch-and-apply cycle. Exported so callers can force a
// refresh outside the schedule.
func (p *Poller) Poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, p.interval*2)
	defer cancel()

	list, err := p.src.FetchTickets(fetchCtx)
	if err != nil {
		p.logger.Warn("ticket poll failed, keeping previous snapshot", "error", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.apply(list)
	p.logger.Debug("ticket poll applied", "tickets", len(list))
}
