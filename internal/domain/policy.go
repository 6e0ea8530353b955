package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the engine's tunable rules.
type Policy struct {
	// StartGrace is how far in the past a new booking may start.
	StartGrace time.Duration
	// MaxBookingDuration caps the length of a single reservation.
	MaxBookingDuration time.Duration
	// PriceTolerance is the largest accepted gap between the client's
	// quoted price and the engine's price.
	PriceTolerance decimal.Decimal
	// PendingHoldTTL is how long an unpaid booking keeps its window.
	PendingHoldTTL time.Duration
	// ExtensionWindow: an active booking may be extended only when the
	// remaining time is in (0, ExtensionWindow].
	ExtensionWindow time.Duration
	// OfferTTL is the claim deadline of a waitlist offer.
	OfferTTL time.Duration
	// FreeCancellationNotice: renter cancellations at least this long
	// before start are refunded in full.
	FreeCancellationNotice time.Duration
	// LateCancellationRefund is the refunded share for renter
	// cancellations inside the notice period.
	LateCancellationRefund decimal.Decimal
	// IssueFullRefundGrace: blocked/no_access reports filed before
	// start+grace are eligible for a full refund.
	IssueFullRefundGrace time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		StartGrace:             5 * time.Minute,
		MaxBookingDuration:     7 * 24 * time.Hour,
		PriceTolerance:         decimal.RequireFromString("0.01"),
		PendingHoldTTL:         15 * time.Minute,
		ExtensionWindow:        2 * time.Hour,
		OfferTTL:               15 * time.Minute,
		FreeCancellationNotice: 24 * time.Hour,
		LateCancellationRefund: decimal.RequireFromString("0.5"),
		IssueFullRefundGrace:   30 * time.Minute,
	}
}

// ValidateRequestedWindow applies the checks every new reservation or
// waitlist request goes through before touching shared state.
func (p Policy) ValidateRequestedWindow(w TimeWindow, now time.Time) error {
	if err := p.validateShape(w); err != nil {
		return err
	}
	if w.Start.Before(now.Add(-p.StartGrace)) {
		return Wrapf(ErrInvalidWindow, "window %s starts in the past", w)
	}
	return nil
}

// ValidateOfferedWindow checks a window that passed ValidateRequestedWindow
// when it was offered. Its start may have passed since; its end may not.
func (p Policy) ValidateOfferedWindow(w TimeWindow, now time.Time) error {
	if err := p.validateShape(w); err != nil {
		return err
	}
	if !w.End.After(now) {
		return Wrapf(ErrInvalidWindow, "window %s has ended", w)
	}
	return nil
}

func (p Policy) validateShape(w TimeWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if p.MaxBookingDuration > 0 && w.Duration() > p.MaxBookingDuration {
		return Wrapf(ErrInvalidWindow, "window %s is longer than %s", w, p.MaxBookingDuration)
	}
	return nil
}

// UnusedFraction is the share of w that lies at or after t, in [0, 1].
func UnusedFraction(w TimeWindow, t time.Time) decimal.Decimal {
	rest, ok := w.From(t)
	if !ok {
		return decimal.Zero
	}
	return HoursOf(rest.Duration()).Div(HoursOf(w.Duration()))
}

// CancellationRefund is the amount returned when actor cancels b at now.
// Unpaid bookings refund nothing. An active booking cancelled for cause
// refunds the unused remainder. Host, ops and system cancellations of a
// booking that has not started refund in full. A renter gets a full refund
// with at least FreeCancellationNotice before start, the
// LateCancellationRefund share until start, and nothing after.
func (p Policy) CancellationRefund(b *Booking, actor Actor, now time.Time) decimal.Decimal {
	total := b.TotalPrice
	switch {
	case b.Status == BookingPending:
		return decimal.Zero
	case b.Status == BookingActive:
		return total.Mul(UnusedFraction(b.Window, now)).Round(2)
	case actor.Role != RoleRenter:
		return total
	}

	notice := b.Window.Start.Sub(now)
	switch {
	case notice >= p.FreeCancellationNotice:
		return total
	case notice > 0:
		return total.Mul(p.LateCancellationRefund).Round(2)
	default:
		return decimal.Zero
	}
}
