package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parkshare/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SpaceRepository reads the local mirror of the listing catalog.
type SpaceRepository struct {
	db *gorm.DB
}

func NewSpaceRepository(db *gorm.DB) *SpaceRepository {
	return &SpaceRepository{db: db}
}

type spaceModel struct {
	ID           string          `gorm:"column:id;primaryKey;size:64"`
	HostID       string          `gorm:"column:host_id;size:64;index"`
	PricePerHour decimal.Decimal `gorm:"column:price_per_hour;type:decimal(12,2)"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (spaceModel) TableName() string { return "spaces" }

func toDomainSpace(m spaceModel) *domain.ParkingSpace {
	return &domain.ParkingSpace{
		ID:           m.ID,
		HostID:       m.HostID,
		PricePerHour: m.PricePerHour,
	}
}

func (r *SpaceRepository) Get(ctx context.Context, id string) (*domain.ParkingSpace, error) {
	var m spaceModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Wrapf(domain.ErrSpaceNotFound, "space %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get space %s: %w", id, err)
	}
	return toDomainSpace(m), nil
}

// Upsert inserts the space or refreshes its host and price.
func (r *SpaceRepository) Upsert(ctx context.Context, s *domain.ParkingSpace) error {
	m := spaceModel{
		ID:           s.ID,
		HostID:       s.HostID,
		PricePerHour: s.PricePerHour,
		UpdatedAt:    time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"host_id", "price_per_hour", "updated_at"}),
	}).Create(&m).Error
}

func (r *SpaceRepository) List(ctx context.Context) ([]domain.ParkingSpace, error) {
	var ms []spaceModel
	if err := r.db.WithContext(ctx).Order("id").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ParkingSpace, 0, len(ms))
	for _, m := range ms {
		out = append(out, *toDomainSpace(m))
	}
	return out, nil
}
