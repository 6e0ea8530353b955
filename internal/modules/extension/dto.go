package extension

import (
	"time"

	"parkshare/internal/domain"
)

type ExtendRequest struct {
	Hours float64 `json:"hours" form:"hours" binding:"required,gt=0,lte=168"`
}

func (r ExtendRequest) Duration() time.Duration {
	return time.Duration(r.Hours * float64(time.Hour)).Round(time.Minute)
}

type QuoteResponse struct {
	BookingID string            `json:"booking_id"`
	Window    domain.TimeWindow `json:"window"`
	Cost      string            `json:"cost"`
	NewTotal  string            `json:"new_total"`
	Available bool              `json:"available"`
}

func toQuoteResponse(q *Quote) QuoteResponse {
	return QuoteResponse{
		BookingID: q.BookingID,
		Window:    q.Window,
		Cost:      q.Cost.StringFixed(2),
		NewTotal:  q.NewTotal.StringFixed(2),
		Available: q.Available,
	}
}
