package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/opsledger/src/config"
	"github.com/username/opsledger/src/database"
	"github.com/username/opsledger/src/handlers"
	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/security"
	"github.com/username/opsledger/src/services"
	"github.com/username/opsledger/src/tracing"
	"golang.org/x/time/rate"
)

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("opsledger server starting...")

	if len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}

	if err := tracing.Init(config.Cfg.TracingEnabled, "opsledger"); err != nil {
		logger.L.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath, config.Cfg.DBMaxConns)
	logger.L.Info("Database initialized successfully.")

	reportCache := cache.New(config.Cfg.ReportCacheTTL, config.Cfg.ReportCacheCleanupInterval)
	sessions := services.NewCacheSessionStore(config.Cfg.SessionTTL, config.Cfg.SessionCleanupInterval)

	logger.L.Info("Initializing services and handlers...")
	authService := security.NewAuthService(config.Cfg.JWTSecret, config.Cfg.AccessTokenExpiry)
	portfolioService := services.NewPortfolioService(database.DB, reportCache)
	invoiceService := services.NewInvoiceService(database.DB)
	processingService := services.NewProcessingService(database.DB, config.Cfg.Rules, sessions, portfolioService)

	limiter := rate.NewLimiter(rate.Every(config.Cfg.RateLimitInterval), config.Cfg.RateLimitBurst)
	router := handlers.NewRouter(authService, limiter,
		handlers.NewInvoiceHandler(invoiceService, config.Cfg.MaxUploadSizeBytes),
		handlers.NewProcessingHandler(processingService, sessions),
		handlers.NewPortfolioHandler(portfolioService),
	)

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // Batches are processed within the request
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.L.Info("Server starting", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("Failed to start server", "error", err)
			stdlog.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.L.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("Server shutdown failed", "error", err)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn("Tracer shutdown failed", "error", err)
	}
	if err := database.DB.Close(); err != nil {
		logger.L.Warn("Closing database failed", "error", err)
	}
	logger.L.Info("Server stopped gracefully.")
}
