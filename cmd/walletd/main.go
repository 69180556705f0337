package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/config"
	"github.com/boddenberg/wallet-bridge-go/internal/handler"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/cache"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/client"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/observability"
	"github.com/boddenberg/wallet-bridge-go/internal/infra/resilience"
	"github.com/boddenberg/wallet-bridge-go/internal/port"
	"github.com/boddenberg/wallet-bridge-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// --- Load .env file (for local development) ---
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
		os.Exit(1)
	}

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("wallet_base_url", cfg.WalletBaseURL),
		zap.String("wallet_token", observability.MaskToken(cfg.WalletToken)),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("refresh_interval", cfg.RefreshInterval),
		zap.Int("fetch_window_days", cfg.FetchWindowDays),
		zap.Int("display_window_days", cfg.DisplayWindowDays),
		zap.String("sum_currency", cfg.SumCurrency),
		zap.Float64("upstream_rps", cfg.UpstreamRPS),
		zap.Bool("admin_auth", cfg.AdminJWTSecret != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "wallet-bridge")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Clients ---
	// Per-request deadlines come from the client config.
	httpClient := &http.Client{}
	cb := resilience.NewCircuitBreaker("wallet-api", client.CountsAsHealthy)
	clientCfg := client.Config{
		BaseURL:           cfg.WalletBaseURL,
		PageLimit:         cfg.PageLimit,
		RequestTimeout:    cfg.HTTPTimeout,
		RequestsPerSecond: cfg.UpstreamRPS,
	}
	newAPI := func(token string) port.WalletAPI {
		return client.NewWalletClient(httpClient, token, cb, clientCfg, metrics, logger)
	}

	// --- Services ---
	coordinator := service.NewCoordinator(
		service.NewAggregator(newAPI(cfg.WalletToken), logger),
		service.CoordinatorConfig{
			Interval:    cfg.RefreshInterval,
			FetchDays:   cfg.FetchWindowDays,
			DisplayDays: cfg.DisplayWindowDays,
			SumCurrency: cfg.SumCurrency,
		},
		metrics,
		logger,
	)
	sensors := service.NewSensors(coordinator, cfg.SumCurrency, cfg.MaxTransactionsInAttributes)
	validated := cache.New[bool](cfg.CredentialCacheTTL)
	defer validated.Close()
	credentials := service.NewCredentials(newAPI, coordinator, validated, logger)

	// Setup fails unless the first refresh commits a snapshot.
	if err := coordinator.FirstRefresh(ctx); err != nil {
		logger.Fatal("first refresh failed", zap.Error(err))
	}

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Coordinator: coordinator,
		Sensors:     sensors,
		Credentials: credentials,
		Metrics:     metrics,
		AdminSecret: []byte(cfg.AdminJWTSecret),
	}, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return coordinator.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}
