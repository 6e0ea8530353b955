// Package app wires the engine together: storage, the availability index,
// the lifecycle services, the HTTP router and the reconcile loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"parkshare/internal/availability"
	"parkshare/internal/config"
	"parkshare/internal/database"
	"parkshare/internal/domain"
	"parkshare/internal/events"
	"parkshare/internal/modules/booking"
	"parkshare/internal/modules/extension"
	"parkshare/internal/modules/issue"
	"parkshare/internal/modules/waitlist"
	"parkshare/internal/notification"
	"parkshare/internal/pkg/clock"
	"parkshare/internal/pkg/jwt"
	"parkshare/internal/pkg/validator"
	"parkshare/internal/reconcile"
	"parkshare/internal/repository"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type App struct {
	cfg   *config.Config
	log   *slog.Logger
	clock clock.Clock

	db    *gorm.DB
	store *repository.Store
	index *availability.Index
	jwt   *jwt.Service
	hub   *notification.Hub

	Bookings   *booking.Service
	Extensions *extension.Service
	Waitlist   *waitlist.Service
	Issues     *issue.Service
	Loop       *reconcile.Loop

	closers []io.Closer
}

type Option func(*App)

func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New connects to the store, rebuilds the availability index from the
// booking table and builds every service. Kafka and RabbitMQ are used only
// when configured.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, log: log, clock: clock.Real()}
	for _, opt := range opts {
		opt(a)
	}

	if err := validator.RegisterGinRules(); err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := repository.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.db = db
	a.store = repository.NewStore(db)
	a.index = availability.New()

	n, err := reconcile.RebuildIndex(ctx, a.store, a.index, log)
	if err != nil {
		return nil, err
	}
	log.Info("availability index rebuilt", "reservations", n, "spaces", len(a.index.Spaces()))

	publisher, err := a.publisher()
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier, err := a.notifier()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.jwt = jwt.New(cfg.JWTSecret, cfg.JWTTTL)
	policy := cfg.Policy()
	a.Bookings = booking.NewService(a.store, a.index, a.clock, policy,
		booking.WithEvents(publisher), booking.WithNotifier(notifier), booking.WithLogger(log))
	a.Bookings.OnRelease(booking.ReleaseFunc(func(_ context.Context, spaceID string, freed domain.TimeWindow) {
		log.Debug("window released", "space_id", spaceID, "window", freed.String())
	}))
	a.Extensions = extension.NewService(a.store, a.Bookings, a.clock, publisher, log)
	a.Waitlist = waitlist.NewService(a.store, a.Bookings, a.clock,
		waitlist.WithEvents(publisher), waitlist.WithNotifier(notifier), waitlist.WithLogger(log))
	a.Issues = issue.NewService(a.store, a.Bookings, a.clock,
		issue.WithEvents(publisher), issue.WithNotifier(notifier), issue.WithLogger(log))
	a.Loop = reconcile.NewLoop(a.Bookings, a.Waitlist, a.store, a.index, a.clock,
		reconcile.Config{Interval: cfg.ReconcileInterval}, log)
	return a, nil
}

func (a *App) publisher() (events.Publisher, error) {
	if len(a.cfg.KafkaBrokers) == 0 {
		a.log.Warn("KAFKA_BROKERS not set, lifecycle events are not published")
		return events.Nop(), nil
	}
	p, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: a.cfg.KafkaBrokers, Topic: a.cfg.KafkaTopic}, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, p)
	return p, nil
}

// notifier always pushes to connected websocket clients and, when
// RabbitMQ is configured, to the e-mail dispatcher as well.
func (a *App) notifier() (notification.Notifier, error) {
	a.hub = notification.NewHub()
	if a.cfg.RabbitURL == "" {
		return a.hub, nil
	}
	rp, err := notification.NewRabbitPublisher(a.cfg.RabbitURL, a.cfg.RabbitExchange)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: %w", err)
	}
	a.closers = append(a.closers, rp)
	return notification.Multi{a.hub, rp}, nil
}

func (a *App) Store() *repository.Store { return a.store }
func (a *App) Index() *availability.Index { return a.index }
func (a *App) JWT() *jwt.Service { return a.jwt }
func (a *App) Hub() *notification.Hub { return a.hub }

// Run serves HTTP and runs the reconcile loop until ctx is cancelled, then
// drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.Loop.Run(loopCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("http shutdown failed", "error", err)
	}
	stopLoop()
	<-loopDone
	return serveErr
}

func (a *App) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// SetGinMode maps APP_ENV to gin's mode.
func SetGinMode(cfg *config.Config) {
	if cfg.ProdLike() {
		gin.SetMode(gin.ReleaseMode)
	}
}
