package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"trustbook/internal/config"
	"trustbook/internal/database"
	"trustbook/internal/middleware"
	"trustbook/internal/modules/admin"
	"trustbook/internal/modules/auth"
	"trustbook/internal/modules/booking"
	"trustbook/internal/modules/dispute"
	"trustbook/internal/modules/escrow"
	"trustbook/internal/modules/events"
	"trustbook/internal/modules/wallet"
	"trustbook/internal/pkg/jwt"
	"trustbook/internal/pkg/logger"
	"trustbook/internal/repository"
)

func main() {
	logger.InitLoggers()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Fatalf("config: %v", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error().Fatalf("database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		logger.Error().Fatalf("migrate: %v", err)
	}

	ctx := context.Background()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error().Warnf("redis unavailable, rate limiting falls back to memory: %v", err)
			rdb = nil
		}
	}

	jwtService := jwt.New(cfg.JWTSecret, cfg.JWTTTL)

	userRepo := repository.NewUserRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	if err := settingsRepo.Init(ctx, cfg.CancellationFeeRateBp, cfg.PlatformFeeRateBp, 0); err != nil {
		logger.Error().Fatalf("settings init: %v", err)
	}
	if err := settingsRepo.AddAsset(ctx, cfg.DefaultAsset); err != nil {
		logger.Error().Fatalf("default asset: %v", err)
	}

	hub := events.NewHub()
	eventService := events.NewService(db, hub)

	walletService := wallet.NewService(db)
	disputeService := dispute.NewService(db, settingsRepo, eventService)
	escrowService := escrow.NewService(db, walletService, eventService, settingsRepo, disputeService, escrow.Config{
		AutoReleaseDefault: cfg.AutoReleaseDefault,
		AutoReleaseCeiling: cfg.AutoReleaseCeiling,
		DisputeTimeout:     cfg.DisputeTimeout,
	})
	bookingService := booking.NewService(db, escrowService, userRepo, settingsRepo, settingsRepo, eventService, booking.Config{
		ConfirmationWindow: cfg.ConfirmationWindow,
		DefaultAsset:       cfg.DefaultAsset,
	})
	adminService := admin.NewService(db, settingsRepo, userRepo, eventService)
	authService := auth.NewService(userRepo, jwtService)

	authHandler := auth.NewHandler(authService)
	bookingHandler := booking.NewHandler(bookingService)
	escrowHandler := escrow.NewHandler(escrowService)
	disputeHandler := dispute.NewHandler(disputeService)
	walletHandler := wallet.NewHandler(walletService, cfg.DefaultAsset)
	eventsHandler := events.NewHandler(eventService, hub)
	adminHandler := admin.NewHandler(adminService, escrowService)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS())
	router.Use(middleware.RateLimiter(rdb, "100-M"))

	api := router.Group("/api/v1")

	// Credential endpoints get a tighter limit than the general API.
	public := api.Group("")
	public.Use(middleware.RateLimiter(rdb, "10-M"))
	authHandler.RegisterPublicRoutes(public)

	protected := api.Group("")
	protected.Use(middleware.Auth(jwtService))
	authHandler.RegisterProtectedRoutes(protected)
	bookingHandler.RegisterRoutes(protected)
	escrowHandler.RegisterRoutes(protected)
	disputeHandler.RegisterRoutes(protected)
	walletHandler.RegisterRoutes(protected)
	eventsHandler.RegisterRoutes(protected)

	adminGroup := protected.Group("/admin")
	adminGroup.Use(middleware.AdminOnly())
	adminHandler.RegisterRoutes(adminGroup)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info().Infof("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Errorf("shutdown: %v", err)
	}
}
