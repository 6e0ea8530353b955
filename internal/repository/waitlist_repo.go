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

type WaitlistRepository struct {
	db *gorm.DB
}

func NewWaitlistRepository(db *gorm.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

type waitlistModel struct {
	ID             int64           `gorm:"column:id;primaryKey;autoIncrement"`
	SpaceID        string          `gorm:"column:space_id;size:64;index:idx_waitlist_space_status,priority:1"`
	RequesterID    string          `gorm:"column:requester_id;size:64;index"`
	DesiredStart   time.Time       `gorm:"column:desired_start"`
	DesiredEnd     time.Time       `gorm:"column:desired_end"`
	MaxPrice       decimal.Decimal `gorm:"column:max_price;type:decimal(12,2)"`
	Status         string          `gorm:"column:status;size:16;index:idx_waitlist_space_status,priority:2"`
	JoinedAt       time.Time       `gorm:"column:joined_at"`
	OfferedAt      *time.Time      `gorm:"column:offered_at"`
	OfferExpiresAt *time.Time      `gorm:"column:offer_expires_at"`
	OfferCount     int             `gorm:"column:offer_count"`
	BookingID      *string         `gorm:"column:booking_id;size:36"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (waitlistModel) TableName() string { return "waitlist_entries" }

func toDomainEntry(m waitlistModel) *domain.WaitlistEntry {
	e := &domain.WaitlistEntry{
		ID:            m.ID,
		SpaceID:       m.SpaceID,
		RequesterID:   m.RequesterID,
		DesiredWindow: domain.TimeWindow{Start: m.DesiredStart.UTC(), End: m.DesiredEnd.UTC()},
		MaxPrice:      m.MaxPrice,
		Status:        domain.WaitlistStatus(m.Status),
		JoinedAt:      m.JoinedAt.UTC(),
		OfferCount:    m.OfferCount,
	}
	if m.OfferedAt != nil {
		t := m.OfferedAt.UTC()
		e.OfferedAt = &t
	}
	if m.OfferExpiresAt != nil {
		t := m.OfferExpiresAt.UTC()
		e.OfferExpiresAt = &t
	}
	if m.BookingID != nil {
		e.BookingID = *m.BookingID
	}
	return e
}

func (r *WaitlistRepository) Create(ctx context.Context, e *domain.WaitlistEntry) error {
	m := waitlistModel{
		SpaceID:      e.SpaceID,
		RequesterID:  e.RequesterID,
		DesiredStart: e.DesiredWindow.Start,
		DesiredEnd:   e.DesiredWindow.End,
		MaxPrice:     e.MaxPrice,
		Status:       string(e.Status),
		JoinedAt:     e.JoinedAt,
		UpdatedAt:    e.JoinedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	*e = *toDomainEntry(m)
	return nil
}

func (r *WaitlistRepository) Get(ctx context.Context, id int64) (*domain.WaitlistEntry, error) {
	var m waitlistModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Wrapf(domain.ErrEntryNotFound, "waitlist entry %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get waitlist entry %d: %w", id, err)
	}
	return toDomainEntry(m), nil
}

// ListByStatus returns the space's entries in the given status in join
// order: joined_at, then id.
func (r *WaitlistRepository) ListByStatus(ctx context.Context, spaceID string, status domain.WaitlistStatus) ([]domain.WaitlistEntry, error) {
	var ms []waitlistModel
	err := r.db.WithContext(ctx).
		Where("space_id = ? AND status = ?", spaceID, string(status)).
		Order("joined_at, id").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainEntries(ms), nil
}

func (r *WaitlistRepository) ListByRequester(ctx context.Context, requesterID string) ([]domain.WaitlistEntry, error) {
	var ms []waitlistModel
	err := r.db.WithContext(ctx).
		Where("requester_id = ?", requesterID).
		Order("joined_at DESC, id DESC").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainEntries(ms), nil
}

// ListExpiredOffers returns offers whose claim deadline is at or before now.
func (r *WaitlistRepository) ListExpiredOffers(ctx context.Context, now time.Time) ([]domain.WaitlistEntry, error) {
	var ms []waitlistModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND offer_expires_at <= ?", string(domain.WaitlistOffered), now).
		Order("space_id, joined_at, id").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainEntries(ms), nil
}

// ListStale returns waiting entries whose desired window has already started.
func (r *WaitlistRepository) ListStale(ctx context.Context, now time.Time) ([]domain.WaitlistEntry, error) {
	var ms []waitlistModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND desired_start <= ?", string(domain.WaitlistWaiting), now).
		Order("space_id, joined_at, id").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainEntries(ms), nil
}

func (r *WaitlistRepository) MarkOffered(ctx context.Context, id int64, at, expiresAt time.Time) (bool, error) {
	return r.transition(ctx, id, domain.WaitlistWaiting, map[string]any{
		"status":           string(domain.WaitlistOffered),
		"offered_at":       at,
		"offer_expires_at": expiresAt,
		"offer_count":      gorm.Expr("offer_count + 1"),
		"updated_at":       at,
	})
}

// Revert puts an offered entry back in the queue. joined_at is untouched so
// the entry keeps its place.
func (r *WaitlistRepository) Revert(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.transition(ctx, id, domain.WaitlistOffered, map[string]any{
		"status":           string(domain.WaitlistWaiting),
		"offered_at":       nil,
		"offer_expires_at": nil,
		"updated_at":       at,
	})
}

func (r *WaitlistRepository) MarkClaimed(ctx context.Context, id int64, bookingID string, at time.Time) (bool, error) {
	return r.transition(ctx, id, domain.WaitlistOffered, map[string]any{
		"status":     string(domain.WaitlistClaimed),
		"booking_id": bookingID,
		"updated_at": at,
	})
}

func (r *WaitlistRepository) Close(ctx context.Context, id int64, from, to domain.WaitlistStatus, at time.Time) (bool, error) {
	return r.transition(ctx, id, from, map[string]any{
		"status":     string(to),
		"updated_at": at,
	})
}

func (r *WaitlistRepository) transition(ctx context.Context, id int64, from domain.WaitlistStatus, updates map[string]any) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&waitlistModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if tx.Error != nil {
		return false, fmt.Errorf("update waitlist entry %d: %w", id, tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

func toDomainEntries(ms []waitlistModel) []domain.WaitlistEntry {
	out := make([]domain.WaitlistEntry, 0, len(ms))
	for _, m := range ms {
		out = append(out, *toDomainEntry(m))
	}
	return out
}
