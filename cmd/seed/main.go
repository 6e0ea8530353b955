// seed fills the catalog mirror with sample parking spaces for local runs.
package main

import (
	"context"

	"parkshare/internal/config"
	"parkshare/internal/database"
	"parkshare/internal/domain"
	"parkshare/internal/pkg/logger"
	"parkshare/internal/repository"

	"github.com/shopspring/decimal"
)

var samples = []struct {
	id, host, price string
}{
	{"space-downtown-1", "host-anna", "4.50"},
	{"space-downtown-2", "host-anna", "4.50"},
	{"space-station", "host-ben", "3.00"},
	{"space-airport", "host-cara", "6.25"},
	{"space-stadium", "host-ben", "8.00"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{}).Fatal("config load failed", "error", err)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: logger.FormatText, Service: "parkshare-seed"})

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("DB connection failed", "error", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		log.Fatal("AutoMigrate failed", "error", err)
	}

	spaces := repository.NewSpaceRepository(db)
	ctx := context.Background()
	for _, s := range samples {
		sp := &domain.ParkingSpace{ID: s.id, HostID: s.host, PricePerHour: decimal.RequireFromString(s.price)}
		if err := spaces.Upsert(ctx, sp); err != nil {
			log.Fatal("seed space failed", "space_id", s.id, "error", err)
		}
	}
	log.Info("seeded spaces", "count", len(samples))
}
