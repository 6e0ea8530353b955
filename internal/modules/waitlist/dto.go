package waitlist

import (
	"time"

	"parkshare/internal/domain"

	"github.com/shopspring/decimal"
)

type JoinWaitlistRequest struct {
	SpaceID   string          `json:"space_id" binding:"required"`
	StartTime time.Time       `json:"start_time" binding:"required"`
	EndTime   time.Time       `json:"end_time" binding:"required,gtfield=StartTime"`
	MaxPrice  decimal.Decimal `json:"max_price"`
}

type EntryResponse struct {
	ID             int64             `json:"id"`
	SpaceID        string            `json:"space_id"`
	DesiredWindow  domain.TimeWindow `json:"desired_window"`
	MaxPrice       string            `json:"max_price"`
	Status         string            `json:"status"`
	JoinedAt       time.Time         `json:"joined_at"`
	OfferExpiresAt *time.Time        `json:"offer_expires_at,omitempty"`
	BookingID      string            `json:"booking_id,omitempty"`
}

func ToResponse(e *domain.WaitlistEntry) EntryResponse {
	return EntryResponse{
		ID:             e.ID,
		SpaceID:        e.SpaceID,
		DesiredWindow:  e.DesiredWindow,
		MaxPrice:       e.MaxPrice.StringFixed(2),
		Status:         string(e.Status),
		JoinedAt:       e.JoinedAt,
		OfferExpiresAt: e.OfferExpiresAt,
		BookingID:      e.BookingID,
	}
}
