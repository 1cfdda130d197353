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

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/mary1sa/chess-arena/config"
	"github.com/mary1sa/chess-arena/db"
	"github.com/mary1sa/chess-arena/handlers"
	"github.com/mary1sa/chess-arena/live"
	"github.com/mary1sa/chess-arena/repositories"
	api "github.com/mary1sa/chess-arena/routes"
	"github.com/mary1sa/chess-arena/services"
	"github.com/mary1sa/chess-arena/storage"
)

const (
	reminderInterval = 1 * time.Minute  // How often the round reminder runs
	reminderWindow   = 15 * time.Minute // How far ahead reminders look
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	if err := db.RunMigrations(dbConn); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// Архив PGN опционален: без R2-конфигурации движок хранит PGN только в БД.
	var pgnUploader storage.Uploader
	if cfg.PGNArchiveEnabled() {
		pgnUploader, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("PGN archive uploader initialized")
	}

	wsHub := live.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub started")

	roundRepo := repositories.NewPostgresRoundRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	logger.Info("repositories initialized")

	locks := services.NewKeyedLock()
	pairing := services.NewPairingValidator(matchRepo)

	authService := services.NewAuthService(cfg.AdminEmail, cfg.AdminPasswordHash, cfg.JWTSecretKey)
	resultService := services.NewResultService(dbConn, matchRepo, roundRepo, locks, wsHub, pgnUploader, logger)
	roundService := services.NewRoundService(dbConn, roundRepo, matchRepo, resultService, locks, wsHub)
	matchService := services.NewMatchService(dbConn, matchRepo, roundRepo, pairing, locks, wsHub, pgnUploader)
	logger.Info("services initialized")

	// Напоминания о скоро начинающихся турах в комнаты событий.
	go func() {
		ticker := time.NewTicker(reminderInterval)
		defer ticker.Stop()
		logger.Info("round reminder started", slog.Duration("interval", reminderInterval))

		for range ticker.C {
			rounds, err := roundService.ListUpcomingWithin(context.Background(), reminderWindow)
			if err != nil {
				logger.Error("round reminder failed", slog.Any("error", err))
				continue
			}
			for _, round := range rounds {
				wsHub.NotifyEvent(round.EventID, services.NotifyRoundReminder, round)
			}
		}
	}()

	authHandler := handlers.NewAuthHandler(authService)
	roundHandler := handlers.NewRoundHandler(roundService)
	matchHandler := handlers.NewMatchHandler(matchService, resultService)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub)
	logger.Info("HTTP handlers initialized")

	router := chi.NewRouter()
	api.SetupRoutes(router, cfg.JWTSecretKey, authHandler, roundHandler, matchHandler, webSocketHandler)
	logger.Info("routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
