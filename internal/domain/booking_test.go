package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNextStatuses_CoversEveryStatus(t *testing.T) {
	for _, s := range AllBookingStatuses() {
		assert.NotPanics(t, func() { s.NextStatuses() }, string(s))
		assert.Equal(t, s.Terminal(), len(s.NextStatuses()) == 0, string(s))
	}
	assert.Panics(t, func() { BookingStatus("archived").NextStatuses() })
}

func TestCanTransitionTo(t *testing.T) {
	allowed := map[BookingStatus][]BookingStatus{
		BookingPending:       {BookingConfirmed, BookingCancelled},
		BookingConfirmed:     {BookingActive, BookingCancelled, BookingIssueReported},
		BookingActive:        {BookingCompleted, BookingCancelled, BookingIssueReported},
		BookingIssueReported: {BookingCompleted, BookingCancelled},
	}
	for _, from := range AllBookingStatuses() {
		for _, to := range AllBookingStatuses() {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, BookingStatus("bogus").CanTransitionTo(BookingActive))
}

func TestHoldingStatuses(t *testing.T) {
	assert.ElementsMatch(t,
		[]BookingStatus{BookingPending, BookingConfirmed, BookingActive, BookingIssueReported},
		HoldingStatuses())
}

func TestParkingSpace_PriceFor(t *testing.T) {
	s := ParkingSpace{PricePerHour: decimal.RequireFromString("7.50")}
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, "15.00", s.PriceFor(TimeWindow{Start: start, End: start.Add(2 * time.Hour)}).StringFixed(2))
	assert.Equal(t, "11.25", s.PriceForDuration(90*time.Minute).StringFixed(2))
}
