package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"parkshare/internal/availability"
	"parkshare/internal/domain"
	"parkshare/internal/events"
	"parkshare/internal/notification"
	"parkshare/internal/pkg/clock"
	"parkshare/internal/pkg/obs"
	"parkshare/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service owns booking status. Every transition that touches a reservation
// runs inside Locked, so the index change and the row update commit
// together.
type Service struct {
	store    *repository.Store
	index    *availability.Index
	clock    clock.Clock
	policy   domain.Policy
	events   events.Publisher
	notifier notification.Notifier
	log      *slog.Logger

	mu        sync.RWMutex
	listeners []ReleaseListener
}

type Option func(*Service)

func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(store *repository.Store, index *availability.Index, clk clock.Clock, policy domain.Policy, opts ...Option) *Service {
	s := &Service{
		store:    store,
		index:    index,
		clock:    clk,
		policy:   policy,
		events:   events.Nop(),
		notifier: notification.Nop(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnRelease registers l for windows freed before their end.
func (s *Service) OnRelease(l ReleaseListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) Policy() domain.Policy { return s.policy }

// Locked runs fn under spaceID's index lock and inside one store
// transaction. If either the index work or the store work fails, both are
// undone.
func (s *Service) Locked(ctx context.Context, spaceID string, fn func(txn *availability.Txn, tx *repository.Store) error) error {
	return s.index.Do(spaceID, func(txn *availability.Txn) error {
		return s.store.Transaction(ctx, func(tx *repository.Store) error {
			return fn(txn, tx)
		})
	})
}

type CreateRequest struct {
	SpaceID  string
	RenterID string
	Window   domain.TimeWindow
	// ExpectedPrice is the client's quote; nil skips the comparison.
	ExpectedPrice *decimal.Decimal
	// PaymentPending creates the booking as pending until the payment
	// processor confirms it.
	PaymentPending bool
	// FromOffer marks the claim of a live waitlist offer. The window was
	// checked when offered, so a start that has since passed is accepted.
	FromOffer bool
}

// Create validates req, reserves the window and stores the booking.
// A taken window yields ErrSpaceUnavailable naming the space and window.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Booking, error) {
	ctx, span := obs.Tracer().Start(ctx, "booking.Create", trace.WithAttributes(
		attribute.String("space_id", req.SpaceID),
		attribute.String("renter_id", req.RenterID),
	))
	defer span.End()

	// Reject malformed requests before the space lock is taken.
	if _, _, err := s.prepare(ctx, s.store.Spaces, req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var created *domain.Booking
	err := s.Locked(ctx, req.SpaceID, func(txn *availability.Txn, tx *repository.Store) error {
		b, err := s.CreateWithin(ctx, txn, tx, req)
		created = b
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.AnnounceCreated(ctx, created)
	return created, nil
}

// CreateWithin is Create for callers that already hold the space's unit of
// work. The caller must call AnnounceCreated after the lock is released.
func (s *Service) CreateWithin(ctx context.Context, txn *availability.Txn, tx *repository.Store, req CreateRequest) (*domain.Booking, error) {
	if txn.SpaceID() != req.SpaceID {
		return nil, fmt.Errorf("unit of work is for space %s, request is for %s", txn.SpaceID(), req.SpaceID)
	}
	space, total, err := s.prepare(ctx, tx.Spaces, req)
	if err != nil {
		return nil, err
	}

	w := req.Window
	id := uuid.NewString()
	if err := txn.TryReserve(id, w); err != nil {
		var ce *availability.ConflictError
		if errors.As(err, &ce) {
			return nil, domain.Wrapf(domain.ErrSpaceUnavailable,
				"space %s is reserved for %s, requested %s", space.ID, ce.Existing.Window, w)
		}
		return nil, err
	}

	now := s.clock.Now()
	status := domain.BookingConfirmed
	if req.PaymentPending {
		status = domain.BookingPending
	}
	b := &domain.Booking{
		ID:              id,
		SpaceID:         space.ID,
		RenterID:        req.RenterID,
		Window:          w,
		Status:          status,
		TotalPrice:      total,
		RefundAmount:    decimal.Zero,
		CreatedAt:       now,
		StatusChangedAt: now,
		UpdatedAt:       now,
	}
	if err := tx.Bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// prepare applies the window and price checks and returns the space and
// the server-side total.
func (s *Service) prepare(ctx context.Context, spaces *repository.SpaceRepository, req CreateRequest) (*domain.ParkingSpace, decimal.Decimal, error) {
	if req.RenterID == "" {
		return nil, decimal.Zero, domain.Wrapf(domain.ErrForbidden, "renter is required")
	}
	validate := s.policy.ValidateRequestedWindow
	if req.FromOffer {
		validate = s.policy.ValidateOfferedWindow
	}
	if err := validate(req.Window, s.clock.Now()); err != nil {
		return nil, decimal.Zero, err
	}
	space, err := spaces.Get(ctx, req.SpaceID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	total := space.PriceFor(req.Window)
	if req.ExpectedPrice != nil && total.Sub(*req.ExpectedPrice).Abs().GreaterThan(s.policy.PriceTolerance) {
		return nil, decimal.Zero, domain.Wrapf(domain.ErrPriceMismatch,
			"quoted %s, price for %s on space %s is %s", req.ExpectedPrice.StringFixed(2), req.Window, space.ID, total.StringFixed(2))
	}
	return space, total, nil
}

// AnnounceCreated publishes the creation of b.
func (s *Service) AnnounceCreated(ctx context.Context, b *domain.Booking) {
	s.log.Info("booking created",
		"booking_id", b.ID, "space_id", b.SpaceID, "renter_id", b.RenterID,
		"window", b.Window.String(), "status", b.Status, "total", b.TotalPrice.StringFixed(2))
	s.publish(ctx, events.ForBooking(events.BookingCreated, b, b.CreatedAt))
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Booking, error) {
	return s.store.Bookings.Get(ctx, id)
}

// GetFor returns the booking if actor may see it: its renter, the space's
// host, or ops.
func (s *Service) GetFor(ctx context.Context, id string, actor domain.Actor) (*domain.Booking, error) {
	b, err := s.store.Bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case domain.RoleOps, domain.RoleSystem:
		return b, nil
	case domain.RoleHost:
		space, err := s.store.Spaces.Get(ctx, b.SpaceID)
		if err != nil {
			return nil, err
		}
		if space.HostID == actor.ID {
			return b, nil
		}
	default:
		if b.RenterID == actor.ID {
			return b, nil
		}
	}
	return nil, domain.Wrapf(domain.ErrForbidden, "booking %s", id)
}

func (s *Service) ListForRenter(ctx context.Context, renterID string) ([]domain.Booking, error) {
	return s.store.Bookings.ListByRenter(ctx, renterID)
}

// CheckAvailability reports whether w is free on the space right now. It
// is a display probe; Create re-checks under the lock.
func (s *Service) CheckAvailability(ctx context.Context, spaceID string, w domain.TimeWindow) (bool, error) {
	if err := w.Validate(); err != nil {
		return false, err
	}
	if _, err := s.store.Spaces.Get(ctx, spaceID); err != nil {
		return false, err
	}
	return !s.index.Overlaps(spaceID, w), nil
}

// Overlaps reports whether any reservation on the space intersects w.
func (s *Service) Overlaps(spaceID string, w domain.TimeWindow) bool {
	return s.index.Overlaps(spaceID, w)
}

// Released tells the release listeners that freed became available on
// the space. Callers must not hold the space lock.
func (s *Service) Released(ctx context.Context, spaceID string, freed domain.TimeWindow) {
	s.mu.RLock()
	ls := append([]ReleaseListener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range ls {
		l.WindowFreed(ctx, spaceID, freed)
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("event publish failed", "type", e.Type, "booking_id", e.BookingID, "error", err)
	}
}
