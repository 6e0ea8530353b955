package waitlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"parkshare/internal/availability"
	"parkshare/internal/domain"
	"parkshare/internal/events"
	"parkshare/internal/modules/booking"
	"parkshare/internal/notification"
	"parkshare/internal/pkg/clock"
	"parkshare/internal/pkg/obs"
	"parkshare/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service keeps the per-space waitlists and turns freed windows into
// time-limited offers. Offers do not reserve anything; the claim books the
// window through the booking service under the same space lock.
type Service struct {
	store    *repository.Store
	bookings *booking.Service
	clock    clock.Clock
	events   events.Publisher
	notifier notification.Notifier
	log      *slog.Logger
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

// NewService builds the matcher and subscribes it to the booking service's
// released windows.
func NewService(store *repository.Store, bookings *booking.Service, clk clock.Clock, opts ...Option) *Service {
	s := &Service{
		store:    store,
		bookings: bookings,
		clock:    clk,
		events:   events.Nop(),
		notifier: notification.Nop(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	bookings.OnRelease(s)
	return s
}

type JoinRequest struct {
	SpaceID       string
	RequesterID   string
	DesiredWindow domain.TimeWindow
	// MaxPrice is the highest hourly rate the requester accepts.
	MaxPrice decimal.Decimal
}

// outbox is what a locked step leaves to do once the lock is released.
type outbox struct {
	events []events.Event
	notes  []notification.Message
}

func (s *Service) flush(ctx context.Context, o *outbox) {
	for _, e := range o.events {
		if err := s.events.Publish(ctx, e); err != nil {
			s.log.Warn("event publish failed", "type", e.Type, "entry_id", e.EntryID, "error", err)
		}
	}
	for _, m := range o.notes {
		notification.Dispatch(ctx, s.notifier, s.log, m)
	}
}

// Join queues a request for a window. If the window happens to be free
// already, the queue is matched straight away so the entry is not stuck
// waiting for the next release.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*domain.WaitlistEntry, error) {
	ctx, span := obs.Tracer().Start(ctx, "waitlist.Join", trace.WithAttributes(
		attribute.String("space_id", req.SpaceID),
		attribute.String("requester_id", req.RequesterID),
	))
	defer span.End()

	if req.RequesterID == "" {
		return nil, domain.Wrapf(domain.ErrForbidden, "requester is required")
	}
	now := s.clock.Now()
	if err := s.bookings.Policy().ValidateRequestedWindow(req.DesiredWindow, now); err != nil {
		return nil, err
	}
	if !req.MaxPrice.IsPositive() {
		return nil, domain.Wrapf(domain.ErrInvalidPrice, "max price must be positive, got %s", req.MaxPrice.String())
	}
	if _, err := s.store.Spaces.Get(ctx, req.SpaceID); err != nil {
		return nil, err
	}

	e := &domain.WaitlistEntry{
		SpaceID:       req.SpaceID,
		RequesterID:   req.RequesterID,
		DesiredWindow: req.DesiredWindow,
		MaxPrice:      req.MaxPrice,
		Status:        domain.WaitlistWaiting,
		JoinedAt:      now,
	}
	if err := s.store.Waitlist.Create(ctx, e); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.log.Info("waitlist joined", "entry_id", e.ID, "space_id", e.SpaceID,
		"requester_id", e.RequesterID, "window", e.DesiredWindow.String())
	s.flush(ctx, &outbox{events: []events.Event{events.ForEntry(events.WaitlistJoined, e, now)}})

	if !s.bookings.Overlaps(e.SpaceID, e.DesiredWindow) {
		if err := s.match(ctx, e.SpaceID, nil, nil); err != nil {
			return nil, err
		}
		if fresh, err := s.store.Waitlist.Get(ctx, e.ID); err == nil {
			e = fresh
		}
	}
	return e, nil
}

// WindowFreed offers freed to the space's waitlist. Failures are logged;
// the next sweep retries the space.
func (s *Service) WindowFreed(ctx context.Context, spaceID string, freed domain.TimeWindow) {
	if err := s.match(ctx, spaceID, &freed, nil); err != nil {
		s.log.Error("waitlist match failed", "space_id", spaceID, "freed", freed.String(), "error", err)
	}
}

// match walks the space's waiting entries in join order and offers every
// entry that fits: its window overlaps freed (when given), is entirely
// free in the index, does not overlap another outstanding offer, and its
// price ceiling covers the hourly rate. Entries in skip are passed over.
func (s *Service) match(ctx context.Context, spaceID string, freed *domain.TimeWindow, skip map[int64]bool) error {
	ctx, span := obs.Tracer().Start(ctx, "waitlist.match", trace.WithAttributes(attribute.String("space_id", spaceID)))
	defer span.End()

	var out outbox
	err := s.bookings.Locked(ctx, spaceID, func(txn *availability.Txn, tx *repository.Store) error {
		space, err := tx.Spaces.Get(ctx, spaceID)
		if err != nil {
			return err
		}
		waiting, err := tx.Waitlist.ListByStatus(ctx, spaceID, domain.WaitlistWaiting)
		if err != nil {
			return err
		}
		if len(waiting) == 0 {
			return nil
		}
		offered, err := tx.Waitlist.ListByStatus(ctx, spaceID, domain.WaitlistOffered)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		policy := s.bookings.Policy()
		var outstanding []domain.TimeWindow
		for _, o := range offered {
			if o.OfferLive(now) {
				outstanding = append(outstanding, o.DesiredWindow)
			}
		}

		for i := range waiting {
			e := &waiting[i]
			switch {
			case skip[e.ID]:
				continue
			case freed != nil && !e.DesiredWindow.Overlaps(*freed):
				continue
			case e.MaxPrice.LessThan(space.PricePerHour):
				continue
			case policy.ValidateRequestedWindow(e.DesiredWindow, now) != nil:
				continue
			case txn.Overlaps(e.DesiredWindow), overlapsAny(e.DesiredWindow, outstanding):
				continue
			}

			expires := now.Add(policy.OfferTTL)
			ok, err := tx.Waitlist.MarkOffered(ctx, e.ID, now, expires)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			e.Status = domain.WaitlistOffered
			e.OfferedAt = &now
			e.OfferExpiresAt = &expires
			e.OfferCount++
			outstanding = append(outstanding, e.DesiredWindow)

			out.events = append(out.events, events.ForEntry(events.WaitlistOffered, e, now))
			out.notes = append(out.notes, offerMessage(e, space, now))
			s.log.Info("waitlist offer", "entry_id", e.ID, "space_id", spaceID,
				"requester_id", e.RequesterID, "window", e.DesiredWindow.String(),
				"expires_at", expires.Format(time.RFC3339))
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("offers", len(out.notes)))
	s.flush(ctx, &out)
	return nil
}

func overlapsAny(w domain.TimeWindow, ws []domain.TimeWindow) bool {
	for _, o := range ws {
		if w.Overlaps(o) {
			return true
		}
	}
	return false
}

func offerMessage(e *domain.WaitlistEntry, space *domain.ParkingSpace, at time.Time) notification.Message {
	return notification.Message{
		UserID: e.RequesterID,
		Kind:   notification.KindWaitlistOffer,
		Title:  "A parking space you wanted is free",
		Body: fmt.Sprintf("Space %s is available for %s. Claim it before %s.",
			space.ID, e.DesiredWindow, e.OfferExpiresAt.Format(time.RFC3339)),
		Data: map[string]any{
			"entry_id":         e.ID,
			"space_id":         e.SpaceID,
			"window":           e.DesiredWindow,
			"offer_expires_at": e.OfferExpiresAt,
			"price":            space.PriceFor(e.DesiredWindow).StringFixed(2),
		},
		CreatedAt: at,
	}
}

// Claim books an offered window for its requester. The deadline is checked
// here so an offer that the sweep has not reached yet still cannot be
// claimed late. If the window was taken in the meantime the entry goes
// back to waiting and ErrSpaceUnavailable is returned.
func (s *Service) Claim(ctx context.Context, entryID int64, requesterID string) (*domain.Booking, error) {
	ctx, span := obs.Tracer().Start(ctx, "waitlist.Claim", trace.WithAttributes(
		attribute.Int64("entry_id", entryID),
		attribute.String("requester_id", requesterID),
	))
	defer span.End()

	e, err := s.store.Waitlist.Get(ctx, entryID)
	if errors.Is(err, domain.ErrEntryNotFound) {
		return nil, domain.Wrapf(domain.ErrOfferNotFound, "no offer for waitlist entry %d", entryID)
	}
	if err != nil {
		return nil, err
	}
	if e.RequesterID != requesterID {
		return nil, domain.Wrapf(domain.ErrForbidden, "waitlist entry %d belongs to another requester", entryID)
	}

	var (
		created  *domain.Booking
		claimed  *domain.WaitlistEntry
		claimErr error
	)
	err = s.bookings.Locked(ctx, e.SpaceID, func(txn *availability.Txn, tx *repository.Store) error {
		cur, err := tx.Waitlist.Get(ctx, entryID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if cur.Status != domain.WaitlistOffered {
			return domain.Wrapf(domain.ErrOfferNotFound, "waitlist entry %d is %s", cur.ID, cur.Status)
		}
		if !cur.OfferLive(now) {
			return domain.Wrapf(domain.ErrOfferExpired, "offer for entry %d expired at %s",
				cur.ID, cur.OfferExpiresAt.Format(time.RFC3339))
		}

		b, err := s.bookings.CreateWithin(ctx, txn, tx, booking.CreateRequest{
			SpaceID:   cur.SpaceID,
			RenterID:  cur.RequesterID,
			Window:    cur.DesiredWindow,
			FromOffer: true,
		})
		if errors.Is(err, domain.ErrSpaceUnavailable) {
			// Keep the revert; only the claim fails.
			if _, rerr := tx.Waitlist.Revert(ctx, cur.ID, now); rerr != nil {
				return rerr
			}
			claimErr = err
			return nil
		}
		if err != nil {
			return err
		}

		ok, err := tx.Waitlist.MarkClaimed(ctx, cur.ID, b.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Wrapf(domain.ErrOfferNotFound, "waitlist entry %d changed while claiming", cur.ID)
		}
		created = b
		next := *cur
		next.Status = domain.WaitlistClaimed
		next.BookingID = b.ID
		claimed = &next
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if claimErr != nil {
		span.SetStatus(codes.Error, claimErr.Error())
		s.log.Info("waitlist claim lost the window", "entry_id", entryID, "space_id", e.SpaceID, "error", claimErr)
		if err := s.match(ctx, e.SpaceID, nil, nil); err != nil {
			s.log.Error("waitlist match failed", "space_id", e.SpaceID, "error", err)
		}
		return nil, claimErr
	}

	s.bookings.AnnounceCreated(ctx, created)
	s.flush(ctx, &outbox{events: []events.Event{events.ForEntry(events.WaitlistClaimed, claimed, created.CreatedAt)}})
	return created, nil
}

type SweepResult struct {
	Reverted int `json:"reverted"`
	Expired  int `json:"expired"`
}

// ExpireSweep returns lapsed offers to the queue, rematches their spaces
// without the entries that just lapsed, and expires waiting entries whose
// desired window has started.
func (s *Service) ExpireSweep(ctx context.Context) (SweepResult, error) {
	ctx, span := obs.Tracer().Start(ctx, "waitlist.ExpireSweep")
	defer span.End()

	var (
		res  SweepResult
		errs []error
	)
	now := s.clock.Now()

	lapsed, err := s.store.Waitlist.ListExpiredOffers(ctx, now)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	bySpace := make(map[string][]int64)
	var spaces []string
	for _, e := range lapsed {
		if _, ok := bySpace[e.SpaceID]; !ok {
			spaces = append(spaces, e.SpaceID)
		}
		bySpace[e.SpaceID] = append(bySpace[e.SpaceID], e.ID)
	}

	skips := make(map[string]map[int64]bool, len(spaces))
	for _, spaceID := range spaces {
		skip, err := s.revertLapsed(ctx, spaceID, bySpace[spaceID])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Reverted += len(skip)
		skips[spaceID] = skip
	}

	stale, err := s.store.Waitlist.ListStale(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	var out outbox
	for i := range stale {
		e := &stale[i]
		ok, err := s.store.Waitlist.Close(ctx, e.ID, domain.WaitlistWaiting, domain.WaitlistExpired, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			res.Expired++
			e.Status = domain.WaitlistExpired
			out.events = append(out.events, events.ForEntry(events.WaitlistExpired, e, now))
		}
	}
	s.flush(ctx, &out)

	for _, spaceID := range spaces {
		if skip, ok := skips[spaceID]; ok {
			if err := s.match(ctx, spaceID, nil, skip); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		err = errors.Join(errs...)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("reverted", res.Reverted), attribute.Int("expired", res.Expired))
	return res, err
}

// revertLapsed puts the space's lapsed offers back to waiting and returns
// the ids it reverted.
func (s *Service) revertLapsed(ctx context.Context, spaceID string, ids []int64) (map[int64]bool, error) {
	reverted := make(map[int64]bool, len(ids))
	var out outbox
	err := s.bookings.Locked(ctx, spaceID, func(_ *availability.Txn, tx *repository.Store) error {
		now := s.clock.Now()
		for _, id := range ids {
			cur, err := tx.Waitlist.Get(ctx, id)
			if err != nil {
				return err
			}
			if cur.Status != domain.WaitlistOffered || cur.OfferLive(now) {
				continue
			}
			ok, err := tx.Waitlist.Revert(ctx, id, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			reverted[id] = true
			out.events = append(out.events, events.ForEntry(events.WaitlistOfferExpired, cur, now))
			out.notes = append(out.notes, notification.Message{
				UserID:    cur.RequesterID,
				Kind:      notification.KindOfferExpired,
				Title:     "Your waitlist offer expired",
				Body:      "The offer for " + cur.DesiredWindow.String() + " was not claimed in time. You are still on the waitlist.",
				Data:      map[string]any{"entry_id": cur.ID, "space_id": cur.SpaceID},
				CreatedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, &out)
	return reverted, nil
}

// Cancel takes the requester off the waitlist. Giving up a live offer
// rematches the space.
func (s *Service) Cancel(ctx context.Context, entryID int64, requesterID string) (*domain.WaitlistEntry, error) {
	e, err := s.store.Waitlist.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.RequesterID != requesterID {
		return nil, domain.Wrapf(domain.ErrForbidden, "waitlist entry %d belongs to another requester", entryID)
	}

	var (
		out      *domain.WaitlistEntry
		hadOffer bool
	)
	err = s.bookings.Locked(ctx, e.SpaceID, func(_ *availability.Txn, tx *repository.Store) error {
		cur, err := tx.Waitlist.Get(ctx, entryID)
		if err != nil {
			return err
		}
		if !cur.Status.Open() {
			return domain.Wrapf(domain.ErrInvalidState, "waitlist entry %d is %s", cur.ID, cur.Status)
		}
		ok, err := tx.Waitlist.Close(ctx, cur.ID, cur.Status, domain.WaitlistCancelled, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return domain.Wrapf(domain.ErrInvalidState, "waitlist entry %d changed while leaving", cur.ID)
		}
		hadOffer = cur.Status == domain.WaitlistOffered
		next := *cur
		next.Status = domain.WaitlistCancelled
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.flush(ctx, &outbox{events: []events.Event{events.ForEntry(events.WaitlistLeft, out, s.clock.Now())}})
	if hadOffer {
		if err := s.match(ctx, out.SpaceID, &out.DesiredWindow, map[int64]bool{out.ID: true}); err != nil {
			s.log.Error("waitlist match failed", "space_id", out.SpaceID, "error", err)
		}
	}
	return out, nil
}

func (s *Service) ListForRequester(ctx context.Context, requesterID string) ([]domain.WaitlistEntry, error) {
	return s.store.Waitlist.ListByRequester(ctx, requesterID)
}
