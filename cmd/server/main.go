package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/flight-seat-reservation/internal/config"
	"github.com/iliyamo/flight-seat-reservation/internal/database"
	"github.com/iliyamo/flight-seat-reservation/internal/handler"
	"github.com/iliyamo/flight-seat-reservation/internal/lease"
	"github.com/iliyamo/flight-seat-reservation/internal/lockstore"
	"github.com/iliyamo/flight-seat-reservation/internal/logger"
	"github.com/iliyamo/flight-seat-reservation/internal/middleware"
	"github.com/iliyamo/flight-seat-reservation/internal/queue"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
	"github.com/iliyamo/flight-seat-reservation/internal/reservation"
	"github.com/iliyamo/flight-seat-reservation/internal/router"
	"github.com/iliyamo/flight-seat-reservation/internal/sweeper"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()
	cfg := config.Load()

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		zl.Fatal("database", zap.Error(err))
	}
	defer db.Close()
	if cfg.EnsureSchema {
		if err := database.EnsureSchema(ctx, db); err != nil {
			zl.Fatal("schema", zap.Error(err))
		}
	}

	// nil when Redis is unreachable; rate limiting and caching are then off.
	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	clock := lease.SystemClock{}
	store, err := newLockStore(cfg, db, rdb, clock)
	if err != nil {
		zl.Fatal("lock store", zap.Error(err))
	}
	zl.Info("lock store ready", zap.String("kind", cfg.LockStore))

	bookings := repository.NewBookingRepo(db)
	opts := []reservation.Option{
		reservation.WithClock(clock),
		reservation.WithPolicy(lease.Policy{TTL: cfg.ReservationTTL, RenewBefore: cfg.RenewBefore}),
		reservation.WithLogger(zl.Named("reservation")),
	}
	swOpts := []sweeper.Option{
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithClock(clock),
		sweeper.WithLogger(zl.Named("sweeper")),
	}
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.RabbitURL, zl.Named("queue"))
		opts = append(opts, reservation.WithEvents(pub))
		swOpts = append(swOpts, sweeper.WithEvents(pub))
	}
	svc := reservation.NewService(store, repository.NewSeatRepo(db), bookings, opts...)
	sw := sweeper.New(store, swOpts...)
	go sw.Run(ctx)

	if cfg.BookingConsumerEnabled {
		go queue.NewBookingConsumer(cfg.RabbitURL, "logs", zl.Named("consumer")).Run(ctx)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(zl))

	checks := map[string]handler.Pinger{"mysql": handler.PingFunc(db.PingContext)}
	if rdb != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	router.RegisterRoutes(e, &handler.HealthHandler{Checks: checks})
	router.RegisterSeats(e,
		handler.NewSeatHandler(svc, bookings),
		cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, zl.Named("ratelimit")),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
	)
	router.RegisterAdmin(e, handler.NewAdminHandler(svc, sw), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
	zl.Info("stopped")
}

func newLockStore(cfg config.Config, db *sql.DB, rdb *redis.Client, clock lease.Clock) (lockstore.Store, error) {
	kind, err := lockstore.ParseKind(cfg.LockStore)
	if err != nil {
		return nil, err
	}
	switch kind {
	case lockstore.KindMySQL:
		return lockstore.NewMySQLStore(db, clock), nil
	case lockstore.KindRedis:
		if rdb == nil {
			return nil, errors.New("LOCK_STORE=redis but redis is unavailable")
		}
		return lockstore.NewRedisStore(rdb, cfg.LockPrefix, clock), nil
	default:
		return lockstore.NewMemoryStore(clock), nil
	}
}
