// Package reconcile runs the periodic clock-driven work and checks the
// availability index against the booking table.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"parkshare/internal/availability"
	"parkshare/internal/modules/booking"
	"parkshare/internal/modules/waitlist"
	"parkshare/internal/pkg/clock"
	"parkshare/internal/pkg/obs"
	"parkshare/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

type Advancer interface {
	AdvanceByClock(ctx context.Context) (booking.AdvanceResult, error)
}

type Sweeper interface {
	ExpireSweep(ctx context.Context) (waitlist.SweepResult, error)
}

type Config struct {
	Interval time.Duration
	// SkipConsistency turns off the index check, e.g. for one-shot runs
	// from a process that does not own the index.
	SkipConsistency bool
}

func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

type Loop struct {
	bookings Advancer
	waitlist Sweeper
	store    *repository.Store
	index    *availability.Index
	clock    clock.Clock
	cfg      Config
	log      *slog.Logger
}

func NewLoop(bookings Advancer, wl Sweeper, store *repository.Store, index *availability.Index, clk clock.Clock, cfg Config, log *slog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Loop{bookings: bookings, waitlist: wl, store: store, index: index, clock: clk, cfg: cfg, log: log}
}

type Report struct {
	Advance booking.AdvanceResult `json:"advance"`
	Sweep   waitlist.SweepResult  `json:"sweep"`
	Faults  []Fault               `json:"faults,omitempty"`
}

// RunOnce performs one pass. Every step runs even if an earlier one
// failed; the errors are joined.
func (l *Loop) RunOnce(ctx context.Context) (Report, error) {
	ctx, span := obs.Tracer().Start(ctx, "reconcile.RunOnce")
	defer span.End()

	start := l.clock.Now()
	var (
		rep  Report
		errs []error
		err  error
	)

	if rep.Advance, err = l.bookings.AdvanceByClock(ctx); err != nil {
		errs = append(errs, err)
	}
	if rep.Sweep, err = l.waitlist.ExpireSweep(ctx); err != nil {
		errs = append(errs, err)
	}
	if !l.cfg.SkipConsistency && l.index != nil {
		rep.Faults, err = CheckConsistency(ctx, l.store, l.index)
		if err != nil {
			errs = append(errs, err)
		}
		for _, f := range rep.Faults {
			l.log.Error("consistency_fault", "space_id", f.SpaceID, "booking_id", f.BookingID, "reason", f.Reason)
		}
	}

	span.SetAttributes(
		attribute.Int("activated", rep.Advance.Activated),
		attribute.Int("completed", rep.Advance.Completed),
		attribute.Int("offers_reverted", rep.Sweep.Reverted),
		attribute.Int("faults", len(rep.Faults)),
	)
	l.log.Debug("reconcile pass completed",
		"activated", rep.Advance.Activated, "completed", rep.Advance.Completed, "expired", rep.Advance.Expired,
		"offers_reverted", rep.Sweep.Reverted, "entries_expired", rep.Sweep.Expired,
		"faults", len(rep.Faults), "took", l.clock.Now().Sub(start))
	return rep, errors.Join(errs...)
}

// Run repeats RunOnce every interval until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := l.clock.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.log.Info("reconcile loop started", "interval", l.cfg.Interval)
	for {
		select {
		case <-ticker.C:
			if _, err := l.RunOnce(ctx); err != nil {
				l.log.Error("reconcile pass failed", "error", err)
			}
		case <-ctx.Done():
			l.log.Info("reconcile loop stopped")
			return
		}
	}
}
