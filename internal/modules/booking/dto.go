package booking

import (
	"time"

	"parkshare/internal/domain"

	"github.com/shopspring/decimal"
)

type CreateBookingRequest struct {
	SpaceID        string           `json:"space_id" binding:"required"`
	StartTime      time.Time        `json:"start_time" binding:"required"`
	EndTime        time.Time        `json:"end_time" binding:"required,gtfield=StartTime"`
	ExpectedPrice  *decimal.Decimal `json:"expected_price"`
	PaymentPending bool             `json:"payment_pending"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type BookingResponse struct {
	ID                 string            `json:"id"`
	SpaceID            string            `json:"space_id"`
	RenterID           string            `json:"renter_id"`
	Window             domain.TimeWindow `json:"window"`
	Status             string            `json:"status"`
	TotalPrice         string            `json:"total_price"`
	RefundAmount       string            `json:"refund_amount"`
	CancelledBy        string            `json:"cancelled_by,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	StatusChangedAt    time.Time         `json:"status_changed_at"`
}

func ToResponse(b *domain.Booking) BookingResponse {
	return BookingResponse{
		ID:                 b.ID,
		SpaceID:            b.SpaceID,
		RenterID:           b.RenterID,
		Window:             b.Window,
		Status:             string(b.Status),
		TotalPrice:         b.TotalPrice.StringFixed(2),
		RefundAmount:       b.RefundAmount.StringFixed(2),
		CancelledBy:        b.CancelledBy,
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt,
		StatusChangedAt:    b.StatusChangedAt,
	}
}

type AvailabilityResponse struct {
	SpaceID   string            `json:"space_id"`
	Window    domain.TimeWindow `json:"window"`
	Available bool              `json:"available"`
}
