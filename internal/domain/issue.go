package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type IssueType string

const (
	IssueBlocked  IssueType = "blocked"
	IssueNoAccess IssueType = "no_access"
	IssueDamaged  IssueType = "damaged"
	IssueOther    IssueType = "other"
)

func (t IssueType) Valid() bool {
	switch t {
	case IssueBlocked, IssueNoAccess, IssueDamaged, IssueOther:
		return true
	default:
		return false
	}
}

type Resolution string

const (
	ResolutionPending         Resolution = "pending"
	ResolutionRefundedFull    Resolution = "refunded_full"
	ResolutionRefundedPartial Resolution = "refunded_partial"
	ResolutionDenied          Resolution = "denied"
)

// Final reports whether r is a decision ops may apply.
func (r Resolution) Final() bool {
	switch r {
	case ResolutionRefundedFull, ResolutionRefundedPartial, ResolutionDenied:
		return true
	default:
		return false
	}
}

func (r Resolution) Refunds() bool {
	return r == ResolutionRefundedFull || r == ResolutionRefundedPartial
}

// Eligibility is the refund the engine suggests when the issue is filed.
type Eligibility string

const (
	EligibleFull         Eligibility = "full"
	EligiblePartial      Eligibility = "partial"
	EligibleManualReview Eligibility = "manual_review"
)

type IssueReport struct {
	ID             string          `json:"id"`
	BookingID      string          `json:"booking_id"`
	ReporterID     string          `json:"reporter_id"`
	IssueType      IssueType       `json:"issue_type"`
	Description    string          `json:"description"`
	ReportedAt     time.Time       `json:"reported_at"`
	Resolution     Resolution      `json:"resolution"`
	Eligibility    Eligibility     `json:"eligibility"`
	EligibleRefund decimal.Decimal `json:"eligible_refund"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

func (r *IssueReport) Open() bool {
	return r.Resolution == ResolutionPending
}
