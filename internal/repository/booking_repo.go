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

type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

type bookingModel struct {
	ID                 string          `gorm:"column:id;primaryKey;size:36"`
	SpaceID            string          `gorm:"column:space_id;size:64;index:idx_bookings_space_start,priority:1"`
	RenterID           string          `gorm:"column:renter_id;size:64;index"`
	StartTime          time.Time       `gorm:"column:start_time;index:idx_bookings_space_start,priority:2"`
	EndTime            time.Time       `gorm:"column:end_time"`
	Status             string          `gorm:"column:status;size:32;index"`
	TotalPrice         decimal.Decimal `gorm:"column:total_price;type:decimal(12,2)"`
	RefundAmount       decimal.Decimal `gorm:"column:refund_amount;type:decimal(12,2)"`
	CancelledBy        *string         `gorm:"column:cancelled_by;size:64"`
	CancellationReason *string         `gorm:"column:cancellation_reason"`
	CreatedAt          time.Time       `gorm:"column:created_at"`
	StatusChangedAt    time.Time       `gorm:"column:status_changed_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at"`
}

func (bookingModel) TableName() string { return "bookings" }

func toDomainBooking(m bookingModel) *domain.Booking {
	var cancelledBy, reason string
	if m.CancelledBy != nil {
		cancelledBy = *m.CancelledBy
	}
	if m.CancellationReason != nil {
		reason = *m.CancellationReason
	}

	return &domain.Booking{
		ID:                 m.ID,
		SpaceID:            m.SpaceID,
		RenterID:           m.RenterID,
		Window:             domain.TimeWindow{Start: m.StartTime.UTC(), End: m.EndTime.UTC()},
		Status:             domain.BookingStatus(m.Status),
		TotalPrice:         m.TotalPrice,
		RefundAmount:       m.RefundAmount,
		CancelledBy:        cancelledBy,
		CancellationReason: reason,
		CreatedAt:          m.CreatedAt.UTC(),
		StatusChangedAt:    m.StatusChangedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}
}

func toBookingModel(b *domain.Booking) bookingModel {
	return bookingModel{
		ID:                 b.ID,
		SpaceID:            b.SpaceID,
		RenterID:           b.RenterID,
		StartTime:          b.Window.Start,
		EndTime:            b.Window.End,
		Status:             string(b.Status),
		TotalPrice:         b.TotalPrice,
		RefundAmount:       b.RefundAmount,
		CancelledBy:        optional(b.CancelledBy),
		CancellationReason: optional(b.CancellationReason),
		CreatedAt:          b.CreatedAt,
		StatusChangedAt:    b.StatusChangedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *BookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	m := toBookingModel(b)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert booking %s: %w", b.ID, err)
	}
	*b = *toDomainBooking(m)
	return nil
}

func (r *BookingRepository) Get(ctx context.Context, id string) (*domain.Booking, error) {
	var m bookingModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Wrapf(domain.ErrBookingNotFound, "booking %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return toDomainBooking(m), nil
}

func (r *BookingRepository) ListByRenter(ctx context.Context, renterID string) ([]domain.Booking, error) {
	var ms []bookingModel
	err := r.db.WithContext(ctx).
		Where("renter_id = ?", renterID).
		Order("start_time DESC").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainBookings(ms), nil
}

// ListHolding returns every booking whose status occupies its window.
func (r *BookingRepository) ListHolding(ctx context.Context) ([]domain.Booking, error) {
	var ms []bookingModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", statusStrings(domain.HoldingStatuses())).
		Order("space_id, start_time, created_at, id").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainBookings(ms), nil
}

func (r *BookingRepository) ListHoldingBySpace(ctx context.Context, spaceID string) ([]domain.Booking, error) {
	var ms []bookingModel
	err := r.db.WithContext(ctx).
		Where("space_id = ? AND status IN ?", spaceID, statusStrings(domain.HoldingStatuses())).
		Order("start_time").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainBookings(ms), nil
}

// ListDue returns bookings a clock pass may move: confirmed ones that have
// started, active ones that have ended, issue_reported ones that have ended
// with a denied report, and pending ones created at or before pendingCutoff.
func (r *BookingRepository) ListDue(ctx context.Context, now, pendingCutoff time.Time) ([]domain.Booking, error) {
	settled := r.db.Model(&issueModel{}).Select("1").
		Where("issue_reports.booking_id = bookings.id AND issue_reports.resolution = ?", string(domain.ResolutionDenied))
	open := r.db.Model(&issueModel{}).Select("1").
		Where("issue_reports.booking_id = bookings.id AND issue_reports.resolution = ?", string(domain.ResolutionPending))

	var ms []bookingModel
	err := r.db.WithContext(ctx).
		Where("(status = ? AND start_time <= ?)", domain.BookingConfirmed, now).
		Or("(status = ? AND end_time <= ?)", domain.BookingActive, now).
		Or("(status = ? AND end_time <= ? AND EXISTS (?) AND NOT EXISTS (?))", domain.BookingIssueReported, now, settled, open).
		Or("(status = ? AND created_at <= ?)", domain.BookingPending, pendingCutoff).
		Order("start_time, id").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainBookings(ms), nil
}

// Transition is the only way a booking's status changes. The update applies
// only while the row is still in from, so a repeated or concurrent attempt
// reports false instead of applying twice.
func (r *BookingRepository) Transition(ctx context.Context, id string, from domain.BookingStatus, ch domain.StatusChange) (bool, error) {
	updates := map[string]any{
		"status":            string(ch.To),
		"status_changed_at": ch.At,
		"updated_at":        ch.At,
	}
	if ch.RefundAmount != nil {
		updates["refund_amount"] = *ch.RefundAmount
	}
	if ch.CancelledBy != "" {
		updates["cancelled_by"] = ch.CancelledBy
	}
	if ch.Reason != "" {
		updates["cancellation_reason"] = ch.Reason
	}

	tx := r.db.WithContext(ctx).Model(&bookingModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if tx.Error != nil {
		return false, fmt.Errorf("transition booking %s %s->%s: %w", id, from, ch.To, tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

// ExtendWindow moves the end of an active booking and sets its new total.
func (r *BookingRepository) ExtendWindow(ctx context.Context, id string, newEnd time.Time, total decimal.Decimal, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&bookingModel{}).
		Where("id = ? AND status = ?", id, string(domain.BookingActive)).
		Updates(map[string]any{
			"end_time":    newEnd,
			"total_price": total,
			"updated_at":  at,
		})
	if tx.Error != nil {
		return false, fmt.Errorf("extend booking %s: %w", id, tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

func toDomainBookings(ms []bookingModel) []domain.Booking {
	out := make([]domain.Booking, 0, len(ms))
	for _, m := range ms {
		out = append(out, *toDomainBooking(m))
	}
	return out
}

func statusStrings(ss []domain.BookingStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
