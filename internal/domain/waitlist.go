package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistOffered   WaitlistStatus = "offered"
	WaitlistClaimed   WaitlistStatus = "claimed"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

func (s WaitlistStatus) Open() bool {
	return s == WaitlistWaiting || s == WaitlistOffered
}

// WaitlistEntry is a request for a window that was unavailable when the
// requester asked. ID is assigned in join order and breaks JoinedAt ties.
type WaitlistEntry struct {
	ID             int64           `json:"id"`
	SpaceID        string          `json:"space_id"`
	RequesterID    string          `json:"requester_id"`
	DesiredWindow  TimeWindow      `json:"desired_window"`
	MaxPrice       decimal.Decimal `json:"max_price"`
	Status         WaitlistStatus  `json:"status"`
	JoinedAt       time.Time       `json:"joined_at"`
	OfferedAt      *time.Time      `json:"offered_at,omitempty"`
	OfferExpiresAt *time.Time      `json:"offer_expires_at,omitempty"`
	OfferCount     int             `json:"offer_count"`
	BookingID      string          `json:"booking_id,omitempty"`
}

// OfferLive reports whether the entry holds an offer that can still be
// claimed at now.
func (e *WaitlistEntry) OfferLive(now time.Time) bool {
	return e.Status == WaitlistOffered && e.OfferExpiresAt != nil && now.Before(*e.OfferExpiresAt)
}
