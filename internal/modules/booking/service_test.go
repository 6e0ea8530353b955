package booking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"parkshare/internal/availability"
	"parkshare/internal/database"
	"parkshare/internal/domain"
	"parkshare/internal/events"
	"parkshare/internal/notification"
	"parkshare/internal/pkg/clock"
	"parkshare/internal/pkg/logger"
	"parkshare/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func win(h1, h2 int) domain.TimeWindow {
	return domain.TimeWindow{Start: at(h1, 0), End: at(h2, 0)}
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, msg notification.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type fixture struct {
	store    *repository.Store
	index    *availability.Index
	clock    *clock.Fake
	events   *events.Recorder
	notifier *MockNotifier
	svc      *Service

	mu    sync.Mutex
	freed []domain.TimeWindow
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Connect(database.MemoryDSN(t.Name()))
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	f := &fixture{
		store:    repository.NewStore(db),
		index:    availability.New(),
		clock:    clock.NewFake(at(8, 0)),
		events:   &events.Recorder{},
		notifier: new(MockNotifier),
	}
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.svc = NewService(f.store, f.index, f.clock, domain.DefaultPolicy(),
		WithEvents(f.events), WithNotifier(f.notifier), WithLogger(logger.Nop()))
	f.svc.OnRelease(ReleaseFunc(func(_ context.Context, _ string, w domain.TimeWindow) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.freed = append(f.freed, w)
	}))

	ctx := context.Background()
	require.NoError(t, f.store.Spaces.Upsert(ctx, &domain.ParkingSpace{
		ID: "space-1", HostID: "host-1", PricePerHour: decimal.RequireFromString("10.00"),
	}))
	return f
}

func (f *fixture) create(t *testing.T, renter string, w domain.TimeWindow) *domain.Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), CreateRequest{SpaceID: "space-1", RenterID: renter, Window: w})
	require.NoError(t, err)
	return b
}

func (f *fixture) status(t *testing.T, id string) domain.BookingStatus {
	t.Helper()
	b, err := f.store.Bookings.Get(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

func TestCreate_PricesAndReserves(t *testing.T) {
	f := setup(t)
	quote := decimal.RequireFromString("20.00")

	b, err := f.svc.Create(context.Background(), CreateRequest{
		SpaceID: "space-1", RenterID: "renter-1", Window: win(10, 12), ExpectedPrice: &quote,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BookingConfirmed, b.Status)
	assert.True(t, b.TotalPrice.Equal(quote))
	assert.True(t, f.index.Overlaps("space-1", win(11, 12)))
	assert.Equal(t, []events.Type{events.BookingCreated}, f.events.Types())
}

func TestCreate_FractionalHoursRoundToCents(t *testing.T) {
	f := setup(t)
	w := domain.TimeWindow{Start: at(10, 0), End: at(10, 20)}

	b, err := f.svc.Create(context.Background(), CreateRequest{SpaceID: "space-1", RenterID: "r", Window: w})
	require.NoError(t, err)
	assert.Equal(t, "3.33", b.TotalPrice.StringFixed(2))
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	stale := decimal.RequireFromString("15.00")

	cases := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"empty window", CreateRequest{SpaceID: "space-1", RenterID: "r", Window: win(10, 10)}, domain.ErrInvalidWindow},
		{"in the past", CreateRequest{SpaceID: "space-1", RenterID: "r", Window: win(6, 7)}, domain.ErrInvalidWindow},
		{"too long", CreateRequest{SpaceID: "space-1", RenterID: "r", Window: domain.TimeWindow{Start: at(10, 0), End: at(10, 0).Add(8 * 24 * time.Hour)}}, domain.ErrInvalidWindow},
		{"stale quote", CreateRequest{SpaceID: "space-1", RenterID: "r", Window: win(10, 12), ExpectedPrice: &stale}, domain.ErrPriceMismatch},
		{"unknown space", CreateRequest{SpaceID: "nope", RenterID: "r", Window: win(10, 12)}, domain.ErrSpaceNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.index.Snapshot("space-1"))
	assert.Empty(t, f.index.Snapshot("nope"))
}

func TestCreate_StartGraceAllowsJustStarted(t *testing.T) {
	f := setup(t)
	f.clock.Set(at(10, 3))
	f.create(t, "r", win(10, 11))
}

func TestCreate_ConflictNamesSpaceAndWindow(t *testing.T) {
	f := setup(t)
	f.create(t, "renter-1", win(10, 12))

	_, err := f.svc.Create(context.Background(), CreateRequest{SpaceID: "space-1", RenterID: "renter-2", Window: win(11, 13)})
	require.ErrorIs(t, err, domain.ErrSpaceUnavailable)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Contains(t, err.Error(), "space-1")
	assert.Contains(t, err.Error(), win(11, 13).String())

	list, err := f.svc.ListForRenter(context.Background(), "renter-2")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_ConcurrentOverlappingRequests(t *testing.T) {
	f := setup(t)
	const workers = 24

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := 10 + i%3
			_, err := f.svc.Create(context.Background(), CreateRequest{
				SpaceID: "space-1", RenterID: fmt.Sprintf("r%d", i), Window: win(start, start+2),
			})
			if err == nil {
				winners.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrSpaceUnavailable)
		}(i)
	}
	wg.Wait()

	holding, err := f.store.Bookings.ListHolding(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int(winners.Load()), len(holding))
	for i := range holding {
		for j := i + 1; j < len(holding); j++ {
			assert.False(t, holding[i].Window.Overlaps(holding[j].Window))
		}
	}
	// [10,12) [11,13) [12,14): at most two are compatible, at least one wins.
	assert.GreaterOrEqual(t, len(holding), 1)
	assert.LessOrEqual(t, len(holding), 2)
}

func TestCancel_RenterRefundPolicy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	renter := domain.Actor{ID: "renter-1", Role: domain.RoleRenter}

	early := f.create(t, "renter-1", domain.TimeWindow{Start: at(10, 0).Add(48 * time.Hour), End: at(12, 0).Add(48 * time.Hour)})
	late := f.create(t, "renter-1", win(10, 12))

	got, err := f.svc.Cancel(ctx, early.ID, renter, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, "20.00", got.RefundAmount.StringFixed(2))

	got, err = f.svc.Cancel(ctx, late.ID, renter, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)
	assert.Equal(t, "10.00", got.RefundAmount.StringFixed(2))
	assert.Equal(t, "renter-1", got.CancelledBy)

	assert.False(t, f.index.Overlaps("space-1", win(10, 12)))
	f.mu.Lock()
	assert.Len(t, f.freed, 2)
	f.mu.Unlock()
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestCancel_Permissions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := f.create(t, "renter-1", win(10, 12))

	_, err := f.svc.Cancel(ctx, b.ID, domain.Actor{ID: "renter-2", Role: domain.RoleRenter}, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.Cancel(ctx, b.ID, domain.Actor{ID: "host-2", Role: domain.RoleHost}, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.svc.Cancel(ctx, b.ID, domain.Actor{ID: "host-1", Role: domain.RoleHost}, "maintenance")
	require.NoError(t, err)
	assert.Equal(t, "20.00", got.RefundAmount.StringFixed(2))
	f.notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(m notification.Message) bool {
		return m.UserID == "renter-1" && m.Kind == notification.KindBookingCanceled
	}))

	_, err = f.svc.Cancel(ctx, b.ID, domain.Actor{ID: "ops-1", Role: domain.RoleOps}, "")
	assert.ErrorIs(t, err, domain.ErrNotCancellable)
}

func TestCancel_ActiveOnlyByHostOrOps(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := f.create(t, "renter-1", win(10, 12))

	f.clock.Set(at(10, 30))
	_, err := f.svc.AdvanceByClock(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.BookingActive, f.status(t, b.ID))

	_, err = f.svc.Cancel(ctx, b.ID, domain.Actor{ID: "renter-1", Role: domain.RoleRenter}, "")
	assert.ErrorIs(t, err, domain.ErrNotCancellable)

	f.clock.Set(at(11, 0))
	got, err := f.svc.Cancel(ctx, b.ID, domain.Actor{ID: "ops-1", Role: domain.RoleOps}, "space flooded")
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.RefundAmount.StringFixed(2), "unused hour of two is refunded")

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.freed, 1)
	assert.Equal(t, win(11, 12), f.freed[0], "only the future part is offered")
}

func TestPaymentSignals(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	paid, err := f.svc.Create(ctx, CreateRequest{SpaceID: "space-1", RenterID: "r", Window: win(10, 11), PaymentPending: true})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, paid.Status)

	got, err := f.svc.ConfirmPayment(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)
	got, err = f.svc.ConfirmPayment(ctx, paid.ID)
	require.NoError(t, err, "repeated confirmation is a no-op")
	assert.Equal(t, domain.BookingConfirmed, got.Status)

	failed, err := f.svc.Create(ctx, CreateRequest{SpaceID: "space-1", RenterID: "r", Window: win(12, 13), PaymentPending: true})
	require.NoError(t, err)
	got, err = f.svc.FailPayment(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)
	assert.True(t, got.RefundAmount.IsZero())
	assert.False(t, f.index.Overlaps("space-1", win(12, 13)))

	_, err = f.svc.FailPayment(ctx, failed.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, failed.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAdvanceByClock_RoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := f.create(t, "renter-1", win(10, 12))

	steps := []struct {
		now  time.Time
		want domain.BookingStatus
		res  AdvanceResult
	}{
		{at(9, 59), domain.BookingConfirmed, AdvanceResult{}},
		{at(10, 0), domain.BookingActive, AdvanceResult{Activated: 1}},
		{at(10, 0), domain.BookingActive, AdvanceResult{}},
		{at(11, 0), domain.BookingActive, AdvanceResult{}},
		{at(12, 0), domain.BookingCompleted, AdvanceResult{Completed: 1}},
		{at(12, 5), domain.BookingCompleted, AdvanceResult{}},
	}
	for _, st := range steps {
		f.clock.Set(st.now)
		res, err := f.svc.AdvanceByClock(ctx)
		require.NoError(t, err)
		assert.Equal(t, st.res, res, st.now.Format(time.Kitchen))
		assert.Equal(t, st.want, f.status(t, b.ID), st.now.Format(time.Kitchen))
	}

	assert.Empty(t, f.index.Snapshot("space-1"))
	assert.Equal(t, []events.Type{events.BookingCreated, events.BookingActivated, events.BookingCompleted}, f.events.Types())
	f.mu.Lock()
	assert.Empty(t, f.freed, "completion does not feed the waitlist")
	f.mu.Unlock()
}

func TestAdvanceByClock_MissedWindowActivatesAndCompletes(t *testing.T) {
	f := setup(t)
	b := f.create(t, "renter-1", win(10, 11))

	f.clock.Set(at(13, 0))
	res, err := f.svc.AdvanceByClock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AdvanceResult{Activated: 1, Completed: 1}, res)
	assert.Equal(t, domain.BookingCompleted, f.status(t, b.ID))
}

func TestAdvanceByClock_ConcurrentRunsApplyOnce(t *testing.T) {
	f := setup(t)
	for i := 0; i < 5; i++ {
		f.create(t, "renter-1", win(10+i, 11+i))
	}
	f.clock.Set(at(20, 0))

	var (
		wg        sync.WaitGroup
		completed atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.AdvanceByClock(context.Background())
			assert.NoError(t, err)
			completed.Add(int32(res.Completed))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(5), completed.Load())
}

func TestAdvanceByClock_ExpiresUnpaidHold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, CreateRequest{SpaceID: "space-1", RenterID: "r", Window: win(10, 12), PaymentPending: true})
	require.NoError(t, err)

	f.clock.Advance(14 * time.Minute)
	res, err := f.svc.AdvanceByClock(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)

	f.clock.Advance(time.Minute)
	res, err = f.svc.AdvanceByClock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, domain.BookingCancelled, f.status(t, b.ID))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []domain.TimeWindow{win(10, 12)}, f.freed)
}

func TestCheckAvailability(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.create(t, "renter-1", win(10, 12))

	ok, err := f.svc.CheckAvailability(ctx, "space-1", win(12, 13))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.CheckAvailability(ctx, "space-1", win(11, 13))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.CheckAvailability(ctx, "missing", win(11, 13))
	assert.ErrorIs(t, err, domain.ErrSpaceNotFound)
}

func TestGetFor_Visibility(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	b := f.create(t, "renter-1", win(10, 12))

	for _, a := range []domain.Actor{
		{ID: "renter-1", Role: domain.RoleRenter},
		{ID: "host-1", Role: domain.RoleHost},
		{ID: "ops-1", Role: domain.RoleOps},
	} {
		_, err := f.svc.GetFor(ctx, b.ID, a)
		assert.NoError(t, err, a.ID)
	}
	_, err := f.svc.GetFor(ctx, b.ID, domain.Actor{ID: "renter-2", Role: domain.RoleRenter})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
