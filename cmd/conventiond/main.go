package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"conventionhub/internal/booking"
	bookingapi "conventionhub/internal/booking/api"
	"conventionhub/internal/common/database"
	"conventionhub/internal/common/middleware"
	"conventionhub/internal/common/nats"
	"conventionhub/internal/delivery"
	"conventionhub/internal/gateway"
	"conventionhub/internal/qr"
	"conventionhub/internal/ratelimit"
	"conventionhub/internal/receipt"
	receiptapi "conventionhub/internal/receipt/api"
	"conventionhub/internal/user"
)

// Config holds service configuration
type Config struct {
	Port           int      `envconfig:"PORT" default:"8080"`
	Environment    string   `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string   `envconfig:"LOG_FORMAT" default:"json"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	Database  database.Config
	NATS      nats.Config
	Gateway   gateway.Config
	WhatsApp  delivery.Config
	QR        qr.Config
	Token     receipt.TokenConfig
	RateLimit ratelimit.Config
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to NATS for monitoring events
	natsClient, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	if _, err := natsClient.EnsureStream(ctx, nats.DefaultStreamConfig("CONVENTION", []string{"convention.>"})); err != nil {
		logger.Error("failed to ensure event stream", "error", err)
		os.Exit(1)
	}
	publisher := nats.NewPublisher(natsClient, logger)

	// Create services
	recordStore := booking.NewPostgresStore(db)
	userStore := user.NewPostgresStore(db)
	gatewayClient := gateway.NewClient(cfg.Gateway, logger)
	codeIssuer := qr.NewIssuer(cfg.QR)
	auditStore := qr.NewAuditStore(db)
	renderer := receipt.NewRenderer(codeIssuer.RenderPNG)

	whatsapp := delivery.NewClient(cfg.WhatsApp, logger)
	pipeline := delivery.NewPipeline(whatsapp, publisher, logger)
	receiptSender := delivery.NewReceiptSender(renderer, pipeline, logger)

	bookingService := booking.NewService(recordStore, userStore, gatewayClient, codeIssuer, auditStore, receiptSender, publisher, logger)
	receiptService := receipt.NewService(recordStore, userStore)
	tokenIssuer := receipt.NewTokenIssuer(cfg.Token, receipt.NewPostgresQuotaStore(db))
	downloadLimiter := ratelimit.NewSlidingWindow(cfg.RateLimit)
	bookingLimiter := ratelimit.NewSlidingWindow(cfg.RateLimit)

	// Create handlers
	bookingHandler := bookingapi.NewHandler(bookingService, logger)
	webhookHandler := bookingapi.NewWebhookHandler(bookingService, gatewayClient, logger)
	receiptHandler := receiptapi.NewHandler(receiptService, renderer, tokenIssuer, bookingService, auditStore, downloadLimiter, publisher, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.ClientIP)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// API routes. Booking endpoints are rate limited per client IP; the
	// webhook is not, the gateway must never be throttled.
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(bookingLimiter, func(req *http.Request) string {
				return middleware.GetClientIP(req.Context())
			}))
			bookingHandler.Routes(r)
		})
		webhookHandler.Routes(r)
		receiptHandler.Routes(r)
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting convention service",
			"port", cfg.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
