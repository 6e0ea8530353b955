package issue

import (
	"context"
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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service records renter-reported problems and applies ops decisions on
// them. Booking status changes go through the booking service.
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
	return s
}

type ReportRequest struct {
	BookingID   string
	ReporterID  string
	IssueType   domain.IssueType
	Description string
}

// Assess is the refund the engine suggests for a report filed at
// reportedAt. Blocked or inaccessible spaces reported early enough are
// refunded in full and later ones pro rata; damage is pro rata; anything
// else waits for a person.
func Assess(p domain.Policy, b *domain.Booking, t domain.IssueType, reportedAt time.Time) (domain.Eligibility, decimal.Decimal) {
	switch t {
	case domain.IssueBlocked, domain.IssueNoAccess:
		if reportedAt.Before(b.Window.Start.Add(p.IssueFullRefundGrace)) {
			return domain.EligibleFull, b.TotalPrice
		}
		return domain.EligiblePartial, partialRefund(b, reportedAt)
	case domain.IssueDamaged:
		return domain.EligiblePartial, partialRefund(b, reportedAt)
	default:
		return domain.EligibleManualReview, decimal.Zero
	}
}

func partialRefund(b *domain.Booking, from time.Time) decimal.Decimal {
	return b.TotalPrice.Mul(domain.UnusedFraction(b.Window, from)).Round(2)
}

// Report files an issue against a confirmed or active booking and moves
// the booking to issue_reported. Only the renter may report, and only one
// report per booking may be open.
func (s *Service) Report(ctx context.Context, req ReportRequest) (*domain.IssueReport, error) {
	ctx, span := obs.Tracer().Start(ctx, "issue.Report", trace.WithAttributes(
		attribute.String("booking_id", req.BookingID),
		attribute.String("issue_type", string(req.IssueType)),
	))
	defer span.End()

	if !req.IssueType.Valid() {
		return nil, domain.Wrapf(domain.ErrInvalidIssue, "unknown issue type %q", req.IssueType)
	}
	b, err := s.store.Bookings.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	var (
		rep     *domain.IssueReport
		flagged *domain.Booking
		hostID  string
	)
	err = s.bookings.Locked(ctx, b.SpaceID, func(_ *availability.Txn, tx *repository.Store) error {
		cur, err := tx.Bookings.Get(ctx, req.BookingID)
		if err != nil {
			return err
		}
		if cur.RenterID != req.ReporterID {
			return domain.Wrapf(domain.ErrForbidden, "booking %s belongs to another renter", cur.ID)
		}
		if cur.Status != domain.BookingConfirmed && cur.Status != domain.BookingActive {
			return domain.Wrapf(domain.ErrNotReportable, "booking %s is %s", cur.ID, cur.Status)
		}
		space, err := tx.Spaces.Get(ctx, cur.SpaceID)
		if err != nil {
			return err
		}
		hostID = space.HostID

		now := s.clock.Now()
		eligibility, refund := Assess(s.bookings.Policy(), cur, req.IssueType, now)
		rep = &domain.IssueReport{
			ID:             uuid.NewString(),
			BookingID:      cur.ID,
			ReporterID:     req.ReporterID,
			IssueType:      req.IssueType,
			Description:    req.Description,
			ReportedAt:     now,
			Resolution:     domain.ResolutionPending,
			Eligibility:    eligibility,
			EligibleRefund: refund,
			RefundAmount:   decimal.Zero,
		}
		if err := tx.Issues.Create(ctx, rep); err != nil {
			return err
		}
		flagged, err = s.bookings.FlagIssue(ctx, tx, cur, now)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.log.Info("issue reported", "issue_id", rep.ID, "booking_id", rep.BookingID,
		"type", rep.IssueType, "eligibility", rep.Eligibility, "eligible_refund", rep.EligibleRefund.StringFixed(2))
	e := events.ForBooking(events.BookingIssueReported, flagged, rep.ReportedAt)
	amount := rep.EligibleRefund
	e.Amount = &amount
	s.publish(ctx, e)
	notification.Dispatch(ctx, s.notifier, s.log, notification.Message{
		UserID:    hostID,
		Kind:      notification.KindIssueReported,
		Title:     "A renter reported a problem",
		Body:      "Issue " + string(rep.IssueType) + " reported for booking " + rep.BookingID,
		Data:      map[string]any{"booking_id": rep.BookingID, "issue_id": rep.ID, "issue_type": rep.IssueType},
		CreatedAt: rep.ReportedAt,
	})
	return rep, nil
}

// Resolve applies an ops decision to the booking's open report. A refund
// cancels the booking and offers the rest of its window to the waitlist;
// a denial lets the booking run to completion.
func (s *Service) Resolve(ctx context.Context, bookingID string, res domain.Resolution, actor domain.Actor) (*domain.IssueReport, *domain.Booking, error) {
	ctx, span := obs.Tracer().Start(ctx, "issue.Resolve", trace.WithAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("resolution", string(res)),
	))
	defer span.End()

	if !res.Final() {
		return nil, nil, domain.Wrapf(domain.ErrInvalidIssue, "resolution %q is not a decision", res)
	}
	if actor.Role != domain.RoleOps && actor.Role != domain.RoleSystem {
		return nil, nil, domain.Wrapf(domain.ErrForbidden, "only ops can resolve issues")
	}
	b, err := s.store.Bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}

	var (
		rep *domain.IssueReport
		st  booking.Settlement
	)
	err = s.bookings.Locked(ctx, b.SpaceID, func(txn *availability.Txn, tx *repository.Store) error {
		cur, err := tx.Bookings.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		open, err := tx.Issues.Open(ctx, bookingID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		refund := decimal.Zero
		switch res {
		case domain.ResolutionRefundedFull:
			refund = cur.TotalPrice
		case domain.ResolutionRefundedPartial:
			refund = partialRefund(cur, open.ReportedAt)
		}

		ok, err := tx.Issues.Resolve(ctx, open.ID, res, refund, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Wrapf(domain.ErrNotResolvable, "issue %s was resolved concurrently", open.ID)
		}
		st, err = s.bookings.SettleIssue(ctx, txn, tx, cur, res, refund, actor, now)
		if err != nil {
			return err
		}

		resolved := *open
		resolved.Resolution = res
		resolved.RefundAmount = refund
		resolved.ResolvedAt = &now
		rep = &resolved
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	s.log.Info("issue resolved", "issue_id", rep.ID, "booking_id", bookingID,
		"resolution", res, "refund", rep.RefundAmount.StringFixed(2), "booking_status", st.Booking.Status)
	s.bookings.Finish(ctx, st)

	e := events.ForBooking(events.IssueResolved, st.Booking, *rep.ResolvedAt)
	refund := rep.RefundAmount
	e.Amount = &refund
	s.publish(ctx, e)
	notification.Dispatch(ctx, s.notifier, s.log, notification.Message{
		UserID:    st.Booking.RenterID,
		Kind:      notification.KindIssueResolved,
		Title:     "Your issue report was reviewed",
		Body:      "Decision: " + string(res) + ". Refund: " + refund.StringFixed(2),
		Data:      map[string]any{"booking_id": bookingID, "issue_id": rep.ID, "resolution": res},
		CreatedAt: *rep.ResolvedAt,
	})
	return rep, st.Booking, nil
}

// ListForBooking returns the booking's reports if actor may see the booking.
func (s *Service) ListForBooking(ctx context.Context, bookingID string, actor domain.Actor) ([]domain.IssueReport, error) {
	if _, err := s.bookings.GetFor(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	return s.store.Issues.ListForBooking(ctx, bookingID)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("event publish failed", "type", e.Type, "booking_id", e.BookingID, "error", err)
	}
}
