package issue

import (
	"time"

	"parkshare/internal/domain"
)

type ReportIssueRequest struct {
	IssueType   string `json:"issue_type" binding:"required,issue_type"`
	Description string `json:"description" binding:"max=2000"`
}

type ResolveIssueRequest struct {
	Resolution string `json:"resolution" binding:"required,resolution"`
}

type IssueResponse struct {
	ID             string     `json:"id"`
	BookingID      string     `json:"booking_id"`
	IssueType      string     `json:"issue_type"`
	Description    string     `json:"description,omitempty"`
	ReportedAt     time.Time  `json:"reported_at"`
	Resolution     string     `json:"resolution"`
	Eligibility    string     `json:"eligibility"`
	EligibleRefund string     `json:"eligible_refund"`
	RefundAmount   string     `json:"refund_amount"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

func ToResponse(r *domain.IssueReport) IssueResponse {
	return IssueResponse{
		ID:             r.ID,
		BookingID:      r.BookingID,
		IssueType:      string(r.IssueType),
		Description:    r.Description,
		ReportedAt:     r.ReportedAt,
		Resolution:     string(r.Resolution),
		Eligibility:    string(r.Eligibility),
		EligibleRefund: r.EligibleRefund.StringFixed(2),
		RefundAmount:   r.RefundAmount.StringFixed(2),
		ResolvedAt:     r.ResolvedAt,
	}
}
