package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/iliyamo/campus-shuttle/internal/access"
	"github.com/iliyamo/campus-shuttle/internal/alert"
	"github.com/iliyamo/campus-shuttle/internal/config"
	"github.com/iliyamo/campus-shuttle/internal/database"
	"github.com/iliyamo/campus-shuttle/internal/handler"
	"github.com/iliyamo/campus-shuttle/internal/identity"
	"github.com/iliyamo/campus-shuttle/internal/logger"
	"github.com/iliyamo/campus-shuttle/internal/middleware"
	"github.com/iliyamo/campus-shuttle/internal/passenger"
	"github.com/iliyamo/campus-shuttle/internal/queue"
	"github.com/iliyamo/campus-shuttle/internal/repository"
	"github.com/iliyamo/campus-shuttle/internal/router"
	"github.com/iliyamo/campus-shuttle/internal/seating"
	"github.com/iliyamo/campus-shuttle/internal/service"
	"github.com/iliyamo/campus-shuttle/internal/store"
	"github.com/iliyamo/campus-shuttle/internal/store/mysqlstore"
)

func serve(_ *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger.Setup(os.Stdout, cfg.Env, "campus-shuttle")
	shuttle := config.LoadShuttleConfig()
	queueCfg := config.LoadQueueConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		return err
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn(ctx, "redis unavailable: polling store, no rate limit or cache")
	} else {
		defer rdb.Close()
	}

	var backend store.Store
	switch shuttle.StoreBackend {
	case "memory":
		backend = store.NewMemory()
	default:
		ms := mysqlstore.New(db, rdb,
			mysqlstore.WithPollInterval(shuttle.StorePoll),
			mysqlstore.WithChannelPrefix(shuttle.StorePrefix),
		)
		if err := ms.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure documents schema: %w", err)
		}
		backend = ms
	}
	guarded := access.Guard(backend)

	seats := seating.NewRegistry(guarded, shuttle.SeatIdleTimeout, seating.WithClaimMode(seating.ParseClaimMode(shuttle.SeatClaimMode)))
	defer seats.Close()
	profiles := identity.NewProvider(backend)
	passengers := passenger.NewAggregator(guarded)
	alerts := alert.NewService(guarded, shuttle.AlertChannels)
	events := service.NewPublisher(queueCfg)

	if queueCfg.URL != "" {
		go func() {
			if err := queue.NewAuditConsumer(queueCfg).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "audit consumer stopped", logger.Err(err))
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn(c.Request().Context(), "request", append(attrs, logger.Err(v.Error))...)
				return nil
			}
			logger.Info(c.Request().Context(), "request", attrs...)
			return nil
		},
	}))

	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	router.RegisterRoutes(e)
	authH := handler.NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db), profiles)
	router.RegisterAuth(e, authH, cfg.JWTSecret)

	v1 := router.Protected(e, cfg.JWTSecret, profiles)
	router.RegisterSeats(v1, handler.NewSeatHandler(seats, guarded, events, shuttle.WSPingInterval), limit)
	router.RegisterPassengers(v1, handler.NewPassengerHandler(passengers, shuttle.DefaultVehicleID, shuttle.WSPingInterval), limit)
	router.RegisterAlerts(v1, handler.NewAlertHandler(alerts, events, shuttle.AlertPageSize, shuttle.WSPingInterval), cache, limit)

	go func() {
		addr := ":" + cfg.Port
		logger.Info(ctx, "listening",
			slog.String("addr", addr),
			slog.String("env", cfg.Env),
			slog.String("store", shuttle.StoreBackend),
			slog.String("claim_mode", string(seating.ParseClaimMode(shuttle.SeatClaimMode))),
		)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", logger.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
