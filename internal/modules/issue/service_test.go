package issue

import (
	"context"
	"sync"
	"testing"
	"time"

	"parkshare/internal/availability"
	"parkshare/internal/database"
	"parkshare/internal/domain"
	"parkshare/internal/events"
	"parkshare/internal/modules/booking"
	"parkshare/internal/pkg/clock"
	"parkshare/internal/pkg/logger"
	"parkshare/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func win(h1, h2 int) domain.TimeWindow {
	return domain.TimeWindow{Start: at(h1, 0), End: at(h2, 0)}
}

var ops = domain.Actor{ID: "ops-1", Role: domain.RoleOps}

type fixture struct {
	store    *repository.Store
	index    *availability.Index
	clock    *clock.Fake
	events   *events.Recorder
	bookings *booking.Service
	svc      *Service

	mu    sync.Mutex
	freed []domain.TimeWindow
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Connect(database.MemoryDSN(t.Name()))
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	f := &fixture{
		store:  repository.NewStore(db),
		index:  availability.New(),
		clock:  clock.NewFake(at(8, 0)),
		events: &events.Recorder{},
	}
	f.bookings = booking.NewService(f.store, f.index, f.clock, domain.DefaultPolicy(),
		booking.WithEvents(f.events), booking.WithLogger(logger.Nop()))
	f.bookings.OnRelease(booking.ReleaseFunc(func(_ context.Context, _ string, w domain.TimeWindow) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.freed = append(f.freed, w)
	}))
	f.svc = NewService(f.store, f.bookings, f.clock, WithEvents(f.events), WithLogger(logger.Nop()))

	require.NoError(t, f.store.Spaces.Upsert(context.Background(), &domain.ParkingSpace{
		ID: "space-1", HostID: "host-1", PricePerHour: decimal.RequireFromString("10.00"),
	}))
	return f
}

// active books [10,14) for alice and moves the clock to now with the
// booking started.
func (f *fixture) active(t *testing.T, now time.Time) *domain.Booking {
	t.Helper()
	b, err := f.bookings.Create(context.Background(), booking.CreateRequest{SpaceID: "space-1", RenterID: "alice", Window: win(10, 14)})
	require.NoError(t, err)
	f.clock.Set(now)
	_, err = f.bookings.AdvanceByClock(context.Background())
	require.NoError(t, err)
	return b
}

func (f *fixture) report(t *testing.T, bookingID string, typ domain.IssueType) *domain.IssueReport {
	t.Helper()
	rep, err := f.svc.Report(context.Background(), ReportRequest{BookingID: bookingID, ReporterID: "alice", IssueType: typ})
	require.NoError(t, err)
	return rep
}

func TestAssess(t *testing.T) {
	p := domain.DefaultPolicy()
	b := &domain.Booking{Window: win(10, 14), TotalPrice: decimal.RequireFromString("40.00")}

	cases := []struct {
		typ    domain.IssueType
		at     time.Time
		want   domain.Eligibility
		refund string
	}{
		{domain.IssueBlocked, at(9, 50), domain.EligibleFull, "40.00"},
		{domain.IssueNoAccess, at(10, 29), domain.EligibleFull, "40.00"},
		{domain.IssueBlocked, at(10, 30), domain.EligiblePartial, "35.00"},
		{domain.IssueDamaged, at(11, 0), domain.EligiblePartial, "30.00"},
		{domain.IssueOther, at(10, 0), domain.EligibleManualReview, "0.00"},
	}
	for _, tc := range cases {
		got, refund := Assess(p, b, tc.typ, tc.at)
		assert.Equal(t, tc.want, got, "%s at %s", tc.typ, tc.at)
		assert.Equal(t, tc.refund, refund.StringFixed(2), "%s at %s", tc.typ, tc.at)
	}
}

func TestReport_FlagsBooking(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := f.active(t, at(10, 10))

	rep := f.report(t, b.ID, domain.IssueBlocked)
	assert.Equal(t, domain.EligibleFull, rep.Eligibility)
	assert.Equal(t, domain.ResolutionPending, rep.Resolution)

	stored, err := f.store.Bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingIssueReported, stored.Status)
	assert.True(t, f.index.Overlaps("space-1", win(12, 13)), "the window stays held while the issue is open")
	assert.Contains(t, f.events.Types(), events.BookingIssueReported)

	_, err = f.svc.Report(ctx, ReportRequest{BookingID: b.ID, ReporterID: "alice", IssueType: domain.IssueDamaged})
	assert.ErrorIs(t, err, domain.ErrNotReportable)
}

func TestReport_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pending, err := f.bookings.Create(ctx, booking.CreateRequest{SpaceID: "space-1", RenterID: "alice", Window: win(10, 11), PaymentPending: true})
	require.NoError(t, err)

	_, err = f.svc.Report(ctx, ReportRequest{BookingID: pending.ID, ReporterID: "alice", IssueType: domain.IssueBlocked})
	assert.ErrorIs(t, err, domain.ErrNotReportable)

	_, err = f.svc.Report(ctx, ReportRequest{BookingID: pending.ID, ReporterID: "mallory", IssueType: domain.IssueBlocked})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Report(ctx, ReportRequest{BookingID: pending.ID, ReporterID: "alice", IssueType: "flooded"})
	assert.ErrorIs(t, err, domain.ErrInvalidIssue)

	_, err = f.svc.Report(ctx, ReportRequest{BookingID: "missing", ReporterID: "alice", IssueType: domain.IssueBlocked})
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestResolve_PartialRefundReleasesRemainder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := f.active(t, at(11, 0))
	f.report(t, b.ID, domain.IssueDamaged)

	f.clock.Set(at(11, 30))
	rep, out, err := f.svc.Resolve(ctx, b.ID, domain.ResolutionRefundedPartial, ops)
	require.NoError(t, err)

	assert.Equal(t, "30.00", rep.RefundAmount.StringFixed(2), "measured from the report, not the decision")
	assert.Equal(t, domain.BookingCancelled, out.Status)
	assert.Equal(t, "30.00", out.RefundAmount.StringFixed(2))
	assert.False(t, f.index.Overlaps("space-1", win(10, 14)))
	assert.Equal(t, []domain.TimeWindow{{Start: at(11, 30), End: at(14, 0)}}, f.freed)
	assert.Contains(t, f.events.Types(), events.IssueResolved)

	_, _, err = f.svc.Resolve(ctx, b.ID, domain.ResolutionRefundedFull, ops)
	assert.ErrorIs(t, err, domain.ErrNotResolvable)
}

func TestResolve_FullRefund(t *testing.T) {
	f := setup(t)
	b := f.active(t, at(10, 5))
	f.report(t, b.ID, domain.IssueNoAccess)

	rep, out, err := f.svc.Resolve(context.Background(), b.ID, domain.ResolutionRefundedFull, ops)
	require.NoError(t, err)
	assert.Equal(t, "40.00", rep.RefundAmount.StringFixed(2))
	assert.Equal(t, "40.00", out.RefundAmount.StringFixed(2))
	assert.Equal(t, "issue resolved: refunded_full", out.CancellationReason)
}

func TestResolve_DeniedCompletesAfterEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := f.active(t, at(12, 0))
	f.report(t, b.ID, domain.IssueOther)

	_, out, err := f.svc.Resolve(ctx, b.ID, domain.ResolutionDenied, ops)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingIssueReported, out.Status)
	assert.True(t, f.index.Overlaps("space-1", win(13, 14)))

	f.clock.Set(at(14, 0))
	res, err := f.bookings.AdvanceByClock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)

	stored, err := f.store.Bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCompleted, stored.Status)
	assert.Empty(t, f.freed)
}

func TestResolve_DeniedAfterEndCompletesAtOnce(t *testing.T) {
	f := setup(t)
	b := f.active(t, at(13, 0))
	f.report(t, b.ID, domain.IssueOther)

	f.clock.Set(at(15, 0))
	_, out, err := f.svc.Resolve(context.Background(), b.ID, domain.ResolutionDenied, ops)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCompleted, out.Status)
	assert.Empty(t, f.index.Snapshot("space-1"))
}

func TestResolve_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := f.active(t, at(10, 30))

	_, _, err := f.svc.Resolve(ctx, b.ID, domain.ResolutionDenied, ops)
	assert.ErrorIs(t, err, domain.ErrNotResolvable, "no open report")

	f.report(t, b.ID, domain.IssueBlocked)
	_, _, err = f.svc.Resolve(ctx, b.ID, domain.ResolutionPending, ops)
	assert.ErrorIs(t, err, domain.ErrInvalidIssue)

	_, _, err = f.svc.Resolve(ctx, b.ID, domain.ResolutionDenied, domain.Actor{ID: "alice", Role: domain.RoleRenter})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	list, err := f.svc.ListForBooking(ctx, b.ID, domain.Actor{ID: "alice", Role: domain.RoleRenter})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
