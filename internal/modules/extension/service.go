package extension

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"parkshare/internal/availability"
	"parkshare/internal/domain"
	"parkshare/internal/events"
	"parkshare/internal/modules/booking"
	"parkshare/internal/pkg/clock"
	"parkshare/internal/pkg/obs"
	"parkshare/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service lengthens active bookings in place. The new span is reserved
// whole or not at all.
type Service struct {
	store    *repository.Store
	bookings *booking.Service
	clock    clock.Clock
	events   events.Publisher
	log      *slog.Logger
}

func NewService(store *repository.Store, bookings *booking.Service, clk clock.Clock, pub events.Publisher, log *slog.Logger) *Service {
	if pub == nil {
		pub = events.Nop()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, bookings: bookings, clock: clk, events: pub, log: log}
}

type Quote struct {
	BookingID  string            `json:"booking_id"`
	Additional time.Duration     `json:"-"`
	NewEnd     time.Time         `json:"new_end"`
	Cost       decimal.Decimal   `json:"cost"`
	NewTotal   decimal.Decimal   `json:"new_total"`
	Window     domain.TimeWindow `json:"window"`
	Available  bool              `json:"available"`
}

// Quote reports what extending by additional would cost without changing
// anything. Available is a probe; Extend re-checks under the lock.
func (s *Service) Quote(ctx context.Context, bookingID, renterID string, additional time.Duration) (*Quote, error) {
	if additional <= 0 {
		return nil, domain.Wrapf(domain.ErrInvalidDuration, "extension must be positive, got %s", additional)
	}
	b, err := s.store.Bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.RenterID != renterID {
		return nil, domain.Wrapf(domain.ErrForbidden, "booking %s belongs to another renter", bookingID)
	}
	if err := s.eligible(b, additional, s.clock.Now()); err != nil {
		return nil, err
	}
	space, err := s.store.Spaces.Get(ctx, b.SpaceID)
	if err != nil {
		return nil, err
	}

	cost := space.PriceForDuration(additional)
	newEnd := b.Window.End.Add(additional)
	return &Quote{
		BookingID:  b.ID,
		Additional: additional,
		NewEnd:     newEnd,
		Cost:       cost,
		NewTotal:   b.TotalPrice.Add(cost),
		Window:     domain.TimeWindow{Start: b.Window.Start, End: newEnd},
		Available:  !s.bookings.Overlaps(b.SpaceID, domain.TimeWindow{Start: b.Window.End, End: newEnd}),
	}, nil
}

// Extend moves the end of an active booking out by additional. If any
// part of the added span is taken the booking is left as it was and
// ErrExtensionConflict names the blocking reservation.
func (s *Service) Extend(ctx context.Context, bookingID, renterID string, additional time.Duration) (*domain.Booking, error) {
	ctx, span := obs.Tracer().Start(ctx, "extension.Extend", trace.WithAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("additional", additional.String()),
	))
	defer span.End()

	if additional <= 0 {
		return nil, domain.Wrapf(domain.ErrInvalidDuration, "extension must be positive, got %s", additional)
	}
	b, err := s.store.Bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.RenterID != renterID {
		return nil, domain.Wrapf(domain.ErrForbidden, "booking %s belongs to another renter", bookingID)
	}

	var out *domain.Booking
	err = s.bookings.Locked(ctx, b.SpaceID, func(txn *availability.Txn, tx *repository.Store) error {
		cur, err := tx.Bookings.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := s.eligible(cur, additional, now); err != nil {
			return err
		}
		space, err := tx.Spaces.Get(ctx, cur.SpaceID)
		if err != nil {
			return err
		}

		newEnd := cur.Window.End.Add(additional)
		if err := txn.Extend(cur.ID, newEnd); err != nil {
			var ce *availability.ConflictError
			if errors.As(err, &ce) {
				return domain.Wrapf(domain.ErrExtensionConflict,
					"space %s is reserved for %s, requested extension to %s",
					cur.SpaceID, ce.Existing.Window, newEnd.Format(time.RFC3339))
			}
			if errors.Is(err, availability.ErrNotFound) {
				s.log.Error("consistency_fault", "reason", "active booking had no reservation",
					"booking_id", cur.ID, "space_id", cur.SpaceID)
			}
			return err
		}

		total := cur.TotalPrice.Add(space.PriceForDuration(additional))
		ok, err := tx.Bookings.ExtendWindow(ctx, cur.ID, newEnd, total, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Wrapf(domain.ErrNotExtendable, "booking %s is no longer active", cur.ID)
		}

		next := *cur
		next.Window.End = newEnd
		next.TotalPrice = total
		next.UpdatedAt = now
		out = &next
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.log.Info("booking extended", "booking_id", out.ID, "space_id", out.SpaceID,
		"new_end", out.Window.End.Format(time.RFC3339), "total", out.TotalPrice.StringFixed(2))
	e := events.ForBooking(events.BookingExtended, out, out.UpdatedAt)
	total := out.TotalPrice
	e.Amount = &total
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("event publish failed", "type", e.Type, "booking_id", out.ID, "error", err)
	}
	return out, nil
}

// eligible: the booking is active, its remaining time is within the
// extension window, and the result stays under the maximum duration.
func (s *Service) eligible(b *domain.Booking, additional time.Duration, now time.Time) error {
	p := s.bookings.Policy()
	if b.Status != domain.BookingActive {
		return domain.Wrapf(domain.ErrNotExtendable, "booking %s is %s", b.ID, b.Status)
	}
	remaining := b.Window.End.Sub(now)
	if remaining <= 0 || remaining > p.ExtensionWindow {
		return domain.Wrapf(domain.ErrNotExtendable,
			"booking %s has %s left; extensions open %s before the end", b.ID, remaining.Round(time.Second), p.ExtensionWindow)
	}
	if p.MaxBookingDuration > 0 && b.Window.Duration()+additional > p.MaxBookingDuration {
		return domain.Wrapf(domain.ErrInvalidDuration, "booking %s would exceed %s", b.ID, p.MaxBookingDuration)
	}
	return nil
}
