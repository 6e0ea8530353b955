package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending       BookingStatus = "pending"
	BookingConfirmed     BookingStatus = "confirmed"
	BookingActive        BookingStatus = "active"
	BookingCompleted     BookingStatus = "completed"
	BookingCancelled     BookingStatus = "cancelled"
	BookingIssueReported BookingStatus = "issue_reported"
)

func AllBookingStatuses() []BookingStatus {
	return []BookingStatus{
		BookingPending,
		BookingConfirmed,
		BookingActive,
		BookingCompleted,
		BookingCancelled,
		BookingIssueReported,
	}
}

// NextStatuses lists the statuses a booking may move to from s. Adding a
// status without extending this switch panics, and the table test walks
// AllBookingStatuses so the gap shows up before release.
func (s BookingStatus) NextStatuses() []BookingStatus {
	switch s {
	case BookingPending:
		return []BookingStatus{BookingConfirmed, BookingCancelled}
	case BookingConfirmed:
		return []BookingStatus{BookingActive, BookingCancelled, BookingIssueReported}
	case BookingActive:
		return []BookingStatus{BookingCompleted, BookingCancelled, BookingIssueReported}
	case BookingIssueReported:
		return []BookingStatus{BookingCompleted, BookingCancelled}
	case BookingCompleted, BookingCancelled:
		return nil
	default:
		panic("unhandled booking status " + string(s))
	}
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	for _, n := range s.NextStatuses() {
		if n == next {
			return true
		}
	}
	return false
}

func (s BookingStatus) Valid() bool {
	for _, v := range AllBookingStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// HoldsReservation reports whether a booking in this status occupies its
// window in the availability index.
func (s BookingStatus) HoldsReservation() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingActive, BookingIssueReported:
		return true
	default:
		return false
	}
}

func HoldingStatuses() []BookingStatus {
	var out []BookingStatus
	for _, s := range AllBookingStatuses() {
		if s.HoldsReservation() {
			out = append(out, s)
		}
	}
	return out
}

type Booking struct {
	ID                 string          `json:"id"`
	SpaceID            string          `json:"space_id"`
	RenterID           string          `json:"renter_id"`
	Window             TimeWindow      `json:"window"`
	Status             BookingStatus   `json:"status"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	RefundAmount       decimal.Decimal `json:"refund_amount"`
	CancelledBy        string          `json:"cancelled_by,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	StatusChangedAt    time.Time       `json:"status_changed_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ParkingSpace is the slice of the external catalog entry the engine reads.
type ParkingSpace struct {
	ID           string          `json:"id"`
	HostID       string          `json:"host_id"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
}

// PriceFor is hours(w) * PricePerHour rounded to cents.
func (s ParkingSpace) PriceFor(w TimeWindow) decimal.Decimal {
	return s.PriceForDuration(w.Duration())
}

func (s ParkingSpace) PriceForDuration(d time.Duration) decimal.Decimal {
	return HoursOf(d).Mul(s.PricePerHour).Round(2)
}

type Role string

const (
	RoleRenter Role = "renter"
	RoleHost   Role = "host"
	RoleOps    Role = "ops"
	// RoleSystem is used for transitions driven by the engine itself
	// (payment failure, pending hold timeout).
	RoleSystem Role = "system"
)

// Actor is whoever asks for a lifecycle change.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// StatusChange is one status transition as persisted. Empty fields are
// left untouched.
type StatusChange struct {
	To           BookingStatus
	At           time.Time
	RefundAmount *decimal.Decimal
	CancelledBy  string
	Reason       string
}
