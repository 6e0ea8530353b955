package booking

import (
	"context"
	"errors"
	"time"

	"parkshare/internal/availability"
	"parkshare/internal/domain"
	"parkshare/internal/events"
	"parkshare/internal/notification"
	"parkshare/internal/pkg/obs"
	"parkshare/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// effects are collected under the space lock and applied after it is
// released.
type effects struct {
	events  []events.Event
	notes   []notification.Message
	spaceID string
	freed   *domain.TimeWindow
}

func (s *Service) apply(ctx context.Context, fx *effects) {
	for _, e := range fx.events {
		s.publish(ctx, e)
	}
	for _, m := range fx.notes {
		notification.Dispatch(ctx, s.notifier, s.log, m)
	}
	if fx.freed != nil {
		s.Released(ctx, fx.spaceID, *fx.freed)
	}
}

// transition applies one conditional status change to cur and returns the
// updated copy. A row that already moved on yields ErrInvalidState.
func transition(ctx context.Context, tx *repository.Store, cur *domain.Booking, ch domain.StatusChange) (*domain.Booking, error) {
	if !cur.Status.CanTransitionTo(ch.To) {
		return nil, domain.Wrapf(domain.ErrInvalidState, "booking %s: %s -> %s", cur.ID, cur.Status, ch.To)
	}
	ok, err := tx.Bookings.Transition(ctx, cur.ID, cur.Status, ch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.Wrapf(domain.ErrInvalidState, "booking %s is no longer %s", cur.ID, cur.Status)
	}

	next := *cur
	next.Status = ch.To
	next.StatusChangedAt = ch.At
	next.UpdatedAt = ch.At
	if ch.RefundAmount != nil {
		next.RefundAmount = *ch.RefundAmount
	}
	if ch.CancelledBy != "" {
		next.CancelledBy = ch.CancelledBy
	}
	if ch.Reason != "" {
		next.CancellationReason = ch.Reason
	}
	return &next, nil
}

// cancelLocked moves cur to cancelled and drops its reservation. The
// still-future part of the window is recorded in fx for the listeners.
func (s *Service) cancelLocked(ctx context.Context, txn *availability.Txn, tx *repository.Store, cur *domain.Booking, ch domain.StatusChange, fx *effects) (*domain.Booking, error) {
	ch.To = domain.BookingCancelled
	next, err := transition(ctx, tx, cur, ch)
	if err != nil {
		return nil, err
	}
	if _, ok := txn.Release(cur.ID); !ok {
		s.log.Error("consistency_fault", "reason", "cancelled booking had no reservation",
			"booking_id", cur.ID, "space_id", cur.SpaceID)
	}

	fx.spaceID = cur.SpaceID
	if rest, ok := cur.Window.From(ch.At); ok {
		fx.freed = &rest
	}
	e := events.ForBooking(events.BookingCancelled, next, ch.At)
	refund := next.RefundAmount
	e.Amount = &refund
	fx.events = append(fx.events, e)
	return next, nil
}

// completeLocked moves cur to completed and drops its reservation. The
// window has elapsed, so nothing is offered to the waitlist.
func (s *Service) completeLocked(ctx context.Context, txn *availability.Txn, tx *repository.Store, cur *domain.Booking, at time.Time, fx *effects) (*domain.Booking, error) {
	next, err := transition(ctx, tx, cur, domain.StatusChange{To: domain.BookingCompleted, At: at})
	if err != nil {
		return nil, err
	}
	txn.Release(cur.ID)
	fx.events = append(fx.events, events.ForBooking(events.BookingCompleted, next, at))
	return next, nil
}

// Cancel cancels a pending, confirmed or (host/ops only) active booking.
func (s *Service) Cancel(ctx context.Context, bookingID string, actor domain.Actor, reason string) (*domain.Booking, error) {
	ctx, span := obs.Tracer().Start(ctx, "booking.Cancel", trace.WithAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("actor_role", string(actor.Role)),
	))
	defer span.End()

	b, err := s.store.Bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var (
		out *domain.Booking
		fx  effects
	)
	err = s.Locked(ctx, b.SpaceID, func(txn *availability.Txn, tx *repository.Store) error {
		cur, err := tx.Bookings.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		space, err := tx.Spaces.Get(ctx, cur.SpaceID)
		if err != nil {
			return err
		}
		if err := checkCancel(cur, space, actor); err != nil {
			return err
		}

		now := s.clock.Now()
		refund := s.policy.CancellationRefund(cur, actor, now)
		out, err = s.cancelLocked(ctx, txn, tx, cur, domain.StatusChange{
			At:           now,
			RefundAmount: &refund,
			CancelledBy:  actor.ID,
			Reason:       reason,
		}, &fx)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.log.Info("booking cancelled", "booking_id", out.ID, "space_id", out.SpaceID,
		"actor", actor.ID, "role", actor.Role, "refund", out.RefundAmount.StringFixed(2))
	if actor.ID != out.RenterID {
		fx.notes = append(fx.notes, cancellationNotice(out, s.clock.Now()))
	}
	s.apply(ctx, &fx)
	return out, nil
}

func checkCancel(b *domain.Booking, space *domain.ParkingSpace, actor domain.Actor) error {
	switch b.Status {
	case domain.BookingPending, domain.BookingConfirmed, domain.BookingActive:
	default:
		return domain.Wrapf(domain.ErrNotCancellable, "booking %s is %s", b.ID, b.Status)
	}

	switch actor.Role {
	case domain.RoleOps, domain.RoleSystem:
		return nil
	case domain.RoleHost:
		if space.HostID != actor.ID {
			return domain.Wrapf(domain.ErrForbidden, "space %s belongs to another host", space.ID)
		}
		return nil
	case domain.RoleRenter:
		if b.RenterID != actor.ID {
			return domain.Wrapf(domain.ErrForbidden, "booking %s belongs to another renter", b.ID)
		}
		if b.Status == domain.BookingActive {
			return domain.Wrapf(domain.ErrNotCancellable, "booking %s is active; only the host or ops can cancel it", b.ID)
		}
		return nil
	default:
		return domain.Wrapf(domain.ErrForbidden, "role %q cannot cancel bookings", actor.Role)
	}
}

func cancellationNotice(b *domain.Booking, at time.Time) notification.Message {
	return notification.Message{
		UserID:    b.RenterID,
		Kind:      notification.KindBookingCanceled,
		Title:     "Your booking was cancelled",
		Body:      "Booking for " + b.Window.String() + " was cancelled. Refund: " + b.RefundAmount.StringFixed(2),
		Data:      map[string]any{"booking_id": b.ID, "space_id": b.SpaceID, "reason": b.CancellationReason},
		CreatedAt: at,
	}
}

// ConfirmPayment moves a pending booking to confirmed. Confirming an
// already confirmed booking is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, err := s.store.Bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var (
		out *domain.Booking
		fx  effects
	)
	err = s.Locked(ctx, b.SpaceID, func(txn *availability.Txn, tx *repository.Store) error {
		cur, err := tx.Bookings.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		if cur.Status != domain.BookingPending {
			if cur.Status == domain.BookingConfirmed || cur.Status == domain.BookingActive {
				out = cur
				return nil
			}
			return domain.Wrapf(domain.ErrInvalidState, "booking %s is %s and cannot be confirmed", cur.ID, cur.Status)
		}
		now := s.clock.Now()
		out, err = transition(ctx, tx, cur, domain.StatusChange{To: domain.BookingConfirmed, At: now})
		if err != nil {
			return err
		}
		fx.events = append(fx.events, events.ForBooking(events.BookingConfirmed, out, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, &fx)
	return out, nil
}

// FailPayment cancels a pending booking whose payment did not go through.
// Repeating the signal on a cancelled booking is a no-op.
func (s *Service) FailPayment(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, err := s.store.Bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var (
		out *domain.Booking
		fx  effects
	)
	err = s.Locked(ctx, b.SpaceID, func(txn *availability.Txn, tx *repository.Store) error {
		cur, err := tx.Bookings.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		switch cur.Status {
		case domain.BookingCancelled:
			out = cur
			return nil
		case domain.BookingPending:
		default:
			return domain.Wrapf(domain.ErrInvalidState, "booking %s is %s; payment already settled", cur.ID, cur.Status)
		}
		zero := decimal.Zero
		out, err = s.cancelLocked(ctx, txn, tx, cur, domain.StatusChange{
			At:           s.clock.Now(),
			RefundAmount: &zero,
			CancelledBy:  string(domain.RoleSystem),
			Reason:       "payment failed",
		}, &fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, &fx)
	return out, nil
}

type AdvanceResult struct {
	Activated int `json:"activated"`
	Completed int `json:"completed"`
	Expired   int `json:"expired"`
}

// AdvanceByClock applies every time-driven transition that is due:
// confirmed->active once the window starts, active->completed once it ends,
// issue_reported->completed for denied reports after the end, and
// pending->cancelled after the payment hold runs out. Each step is guarded
// by the current status, so overlapping or repeated runs apply it once.
func (s *Service) AdvanceByClock(ctx context.Context) (AdvanceResult, error) {
	ctx, span := obs.Tracer().Start(ctx, "booking.AdvanceByClock")
	defer span.End()

	var res AdvanceResult
	now := s.clock.Now()
	due, err := s.store.Bookings.ListDue(ctx, now, now.Add(-s.policy.PendingHoldTTL))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	var errs []error
	for i := range due {
		if err := s.advanceOne(ctx, due[i].SpaceID, due[i].ID, now, &res); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err = errors.Join(errs...)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("activated", res.Activated),
		attribute.Int("completed", res.Completed),
		attribute.Int("expired", res.Expired),
	)
	return res, err
}

func (s *Service) advanceOne(ctx context.Context, spaceID, bookingID string, now time.Time, res *AdvanceResult) error {
	var (
		fx    effects
		delta AdvanceResult
	)
	err := s.Locked(ctx, spaceID, func(txn *availability.Txn, tx *repository.Store) error {
		cur, err := tx.Bookings.Get(ctx, bookingID)
		if err != nil {
			return err
		}

		switch cur.Status {
		case domain.BookingConfirmed:
			if now.Before(cur.Window.Start) {
				return nil
			}
			cur, err = transition(ctx, tx, cur, domain.StatusChange{To: domain.BookingActive, At: now})
			if err != nil {
				return err
			}
			delta.Activated++
			fx.events = append(fx.events, events.ForBooking(events.BookingActivated, cur, now))
			if now.Before(cur.Window.End) {
				return nil
			}
			if _, err := s.completeLocked(ctx, txn, tx, cur, now, &fx); err != nil {
				return err
			}
			delta.Completed++

		case domain.BookingActive:
			if now.Before(cur.Window.End) {
				return nil
			}
			if _, err := s.completeLocked(ctx, txn, tx, cur, now, &fx); err != nil {
				return err
			}
			delta.Completed++

		case domain.BookingIssueReported:
			if now.Before(cur.Window.End) {
				return nil
			}
			latest, err := tx.Issues.Latest(ctx, cur.ID)
			if err != nil {
				return err
			}
			if latest == nil || latest.Resolution != domain.ResolutionDenied {
				return nil
			}
			if _, err := s.completeLocked(ctx, txn, tx, cur, now, &fx); err != nil {
				return err
			}
			delta.Completed++

		case domain.BookingPending:
			if cur.CreatedAt.Add(s.policy.PendingHoldTTL).After(now) {
				return nil
			}
			zero := decimal.Zero
			if _, err := s.cancelLocked(ctx, txn, tx, cur, domain.StatusChange{
				At:           now,
				RefundAmount: &zero,
				CancelledBy:  string(domain.RoleSystem),
				Reason:       "payment hold expired",
			}, &fx); err != nil {
				return err
			}
			delta.Expired++
		}
		return nil
	})
	if err != nil {
		// Another worker moved the booking between the scan and the lock.
		if errors.Is(err, domain.ErrInvalidState) {
			return nil
		}
		return err
	}

	res.Activated += delta.Activated
	res.Completed += delta.Completed
	res.Expired += delta.Expired
	s.apply(ctx, &fx)
	return nil
}

// FlagIssue moves a confirmed or active booking to issue_reported. It runs
// inside the issue resolver's unit of work.
func (s *Service) FlagIssue(ctx context.Context, tx *repository.Store, cur *domain.Booking, at time.Time) (*domain.Booking, error) {
	if cur.Status != domain.BookingConfirmed && cur.Status != domain.BookingActive {
		return nil, domain.Wrapf(domain.ErrNotReportable, "booking %s is %s", cur.ID, cur.Status)
	}
	return transition(ctx, tx, cur, domain.StatusChange{To: domain.BookingIssueReported, At: at})
}

// Settlement is the booking side of an issue decision. Pass it to Finish
// once the unit of work has committed.
type Settlement struct {
	Booking *domain.Booking
	// Freed is the released future part of the window, if any.
	Freed *domain.TimeWindow

	fx effects
}

// Finish publishes the settlement's events and offers the freed window to
// the release listeners.
func (s *Service) Finish(ctx context.Context, st Settlement) {
	s.apply(ctx, &st.fx)
}

// SettleIssue applies a final resolution to an issue_reported booking
// inside the issue resolver's unit of work. A refund cancels the booking
// and releases its window. A denial completes it if the window has
// elapsed and otherwise leaves it for AdvanceByClock.
func (s *Service) SettleIssue(ctx context.Context, txn *availability.Txn, tx *repository.Store, cur *domain.Booking, res domain.Resolution, refund decimal.Decimal, actor domain.Actor, at time.Time) (Settlement, error) {
	if cur.Status != domain.BookingIssueReported {
		return Settlement{}, domain.Wrapf(domain.ErrNotResolvable, "booking %s is %s", cur.ID, cur.Status)
	}

	var fx effects
	switch {
	case res.Refunds():
		next, err := s.cancelLocked(ctx, txn, tx, cur, domain.StatusChange{
			At:           at,
			RefundAmount: &refund,
			CancelledBy:  actor.ID,
			Reason:       "issue resolved: " + string(res),
		}, &fx)
		if err != nil {
			return Settlement{}, err
		}
		return Settlement{Booking: next, Freed: fx.freed, fx: fx}, nil

	case res == domain.ResolutionDenied:
		if at.Before(cur.Window.End) {
			return Settlement{Booking: cur}, nil
		}
		next, err := s.completeLocked(ctx, txn, tx, cur, at, &fx)
		if err != nil {
			return Settlement{}, err
		}
		return Settlement{Booking: next, fx: fx}, nil

	default:
		return Settlement{}, domain.Wrapf(domain.ErrInvalidIssue, "resolution %q is not a decision", res)
	}
}
