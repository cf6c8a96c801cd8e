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

	"billpay/internal/common/database"
	"billpay/internal/common/events"
	"billpay/internal/common/middleware"
	"billpay/internal/common/money"
	"billpay/internal/common/nats"
	"billpay/internal/faults"
	"billpay/internal/gateway"
	"billpay/internal/settlement"
	settlementapi "billpay/internal/settlement/api"
	"billpay/internal/wallet"
	walletapi "billpay/internal/wallet/api"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"BILLPAY_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	Currency    string `envconfig:"BILLPAY_CURRENCY" default:"INR"`

	Database database.Config
	NATS     nats.Config
	Gateway  gateway.Config
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

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Run migrations
	if cfg.Database.Migrate {
		if err := database.Migrate(cfg.Database.URL, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS and set up the billing event stream
	var publisher events.Publisher
	if cfg.NATS.Enabled {
		natsClient, err := nats.New(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		if _, err := natsClient.EnsureStream(ctx, nats.StreamConfig{
			Name:        "BILLING",
			Description: "Billing domain events",
			Subjects:    []string{"billing.>"},
			MaxAge:      30 * 24 * time.Hour,
			Replicas:    1,
		}); err != nil {
			logger.Error("failed to ensure event stream", "error", err)
			os.Exit(1)
		}

		publisher = nats.NewPublisher(natsClient, logger)
	} else {
		logger.Warn("NATS disabled, events will not be published")
	}

	currency := money.Currency(cfg.Currency)

	// Create services
	walletService := wallet.NewService(wallet.NewPostgresStore(db), publisher, currency, logger)
	gatewayClient := gateway.NewClient(cfg.Gateway, logger)
	paymentStore := settlement.NewPostgresPaymentStore(db)
	classifier := faults.New()
	orchestrator := settlement.NewOrchestrator(walletService, gatewayClient, paymentStore, classifier, publisher, logger)

	// Create handlers
	walletHandler := walletapi.NewHandler(walletService, currency)
	settlementHandler := settlementapi.NewHandler(orchestrator, gatewayClient, currency)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
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

	// API routes
	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Mount("/wallets", walletHandler.Routes())
		r.Mount("/", settlementHandler.Routes())
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting billpay service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"currency", cfg.Currency,
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
