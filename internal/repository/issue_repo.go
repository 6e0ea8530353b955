package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parkshare/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type IssueRepository struct {
	db *gorm.DB
}

func NewIssueRepository(db *gorm.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

type issueModel struct {
	ID             string          `gorm:"column:id;primaryKey;size:36"`
	BookingID      string          `gorm:"column:booking_id;size:36;index;uniqueIndex:idx_issue_open_per_booking,where:resolution = 'pending'"`
	ReporterID     string          `gorm:"column:reporter_id;size:64"`
	IssueType      string          `gorm:"column:issue_type;size:16"`
	Description    string          `gorm:"column:description"`
	ReportedAt     time.Time       `gorm:"column:reported_at"`
	Resolution     string          `gorm:"column:resolution;size:24"`
	Eligibility    string          `gorm:"column:eligibility;size:16"`
	EligibleRefund decimal.Decimal `gorm:"column:eligible_refund;type:decimal(12,2)"`
	RefundAmount   decimal.Decimal `gorm:"column:refund_amount;type:decimal(12,2)"`
	ResolvedAt     *time.Time      `gorm:"column:resolved_at"`
}

func (issueModel) TableName() string { return "issue_reports" }

func toDomainIssue(m issueModel) *domain.IssueReport {
	r := &domain.IssueReport{
		ID:             m.ID,
		BookingID:      m.BookingID,
		ReporterID:     m.ReporterID,
		IssueType:      domain.IssueType(m.IssueType),
		Description:    m.Description,
		ReportedAt:     m.ReportedAt.UTC(),
		Resolution:     domain.Resolution(m.Resolution),
		Eligibility:    domain.Eligibility(m.Eligibility),
		EligibleRefund: m.EligibleRefund,
		RefundAmount:   m.RefundAmount,
	}
	if m.ResolvedAt != nil {
		t := m.ResolvedAt.UTC()
		r.ResolvedAt = &t
	}
	return r
}

// Create stores a new report. A second pending report for the same booking
// violates idx_issue_open_per_booking and is returned as ErrNotReportable.
func (r *IssueRepository) Create(ctx context.Context, rep *domain.IssueReport) error {
	m := issueModel{
		ID:             rep.ID,
		BookingID:      rep.BookingID,
		ReporterID:     rep.ReporterID,
		IssueType:      string(rep.IssueType),
		Description:    rep.Description,
		ReportedAt:     rep.ReportedAt,
		Resolution:     string(rep.Resolution),
		Eligibility:    string(rep.Eligibility),
		EligibleRefund: rep.EligibleRefund,
		RefundAmount:   rep.RefundAmount,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueConstraintError(err) {
			return domain.Wrapf(domain.ErrNotReportable, "booking %s already has an open issue", rep.BookingID)
		}
		return fmt.Errorf("insert issue report: %w", err)
	}
	return nil
}

// Open returns the booking's pending report.
func (r *IssueRepository) Open(ctx context.Context, bookingID string) (*domain.IssueReport, error) {
	var m issueModel
	err := r.db.WithContext(ctx).
		Where("booking_id = ? AND resolution = ?", bookingID, string(domain.ResolutionPending)).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Wrapf(domain.ErrNotResolvable, "booking %s", bookingID)
	}
	if err != nil {
		return nil, fmt.Errorf("get open issue for booking %s: %w", bookingID, err)
	}
	return toDomainIssue(m), nil
}

// Latest returns the most recent report for the booking, or nil.
func (r *IssueRepository) Latest(ctx context.Context, bookingID string) (*domain.IssueReport, error) {
	var ms []issueModel
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("reported_at DESC").
		Limit(1).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, nil
	}
	return toDomainIssue(ms[0]), nil
}

func (r *IssueRepository) ListForBooking(ctx context.Context, bookingID string) ([]domain.IssueReport, error) {
	var ms []issueModel
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("reported_at").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.IssueReport, 0, len(ms))
	for _, m := range ms {
		out = append(out, *toDomainIssue(m))
	}
	return out, nil
}

// Resolve records the decision on a pending report.
func (r *IssueRepository) Resolve(ctx context.Context, id string, res domain.Resolution, refund decimal.Decimal, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&issueModel{}).
		Where("id = ? AND resolution = ?", id, string(domain.ResolutionPending)).
		Updates(map[string]any{
			"resolution":    string(res),
			"refund_amount": refund,
			"resolved_at":   at,
		})
	if tx.Error != nil {
		return false, fmt.Errorf("resolve issue %s: %w", id, tx.Error)
	}
	return tx.RowsAffected == 1, nil
}
