package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Store groups the repositories that share one *gorm.DB, so a unit of work
// can hand a transaction-scoped copy to every collaborator.
type Store struct {
	db *gorm.DB

	Bookings *BookingRepository
	Spaces   *SpaceRepository
	Waitlist *WaitlistRepository
	Issues   *IssueRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		Bookings: NewBookingRepository(db),
		Spaces:   NewSpaceRepository(db),
		Waitlist: NewWaitlistRepository(db),
		Issues:   NewIssueRepository(db),
	}
}

func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn with a Store bound to a single database transaction.
// The transaction commits when fn returns nil.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// AutoMigrate creates or updates every table the engine owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&spaceModel{},
		&bookingModel{},
		&waitlistModel{},
		&issueModel{},
	)
}

func isUniqueConstraintError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique failed")
}
