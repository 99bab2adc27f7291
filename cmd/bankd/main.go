package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtds-alfa/kipu-bank-v2/internal/access"
	"github.com/mtds-alfa/kipu-bank-v2/internal/api"
	"github.com/mtds-alfa/kipu-bank-v2/internal/config"
	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
	"github.com/mtds-alfa/kipu-bank-v2/internal/ledger"
	"github.com/mtds-alfa/kipu-bank-v2/internal/pricing"
	"github.com/mtds-alfa/kipu-bank-v2/internal/registry"
	"github.com/mtds-alfa/kipu-bank-v2/internal/service"
	"github.com/mtds-alfa/kipu-bank-v2/internal/transfer/memory"
	"github.com/mtds-alfa/kipu-bank-v2/pkg/crypto"
	"github.com/mtds-alfa/kipu-bank-v2/pkg/metrics"
)

const appName = "kipu-bank"

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	logger := setupLogger()
	logger.Info("Starting application", slog.String("name", appName))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	collector := metrics.NewCollector(logger)
	bus := service.NewEventBus(
		[]service.Sink{&service.LogSink{Logger: logger}},
		cfg.Notifier.Workers,
		cfg.Notifier.QueueSize,
		logger,
	)

	vault := memory.NewVault()
	roles := access.NewRoleSet(domain.Holder(cfg.Bank.Admin))

	nativeSource := pricing.NewStaticSource("static:"+cfg.Bank.NativeAsset, cfg.NativeQuote(), pricing.QuoteDecimals)
	reg, err := registry.NewRegistry(domain.Asset(cfg.Bank.NativeAsset), nativeSource, cfg.Bank.NativeDecimals, bus, logger)
	if err != nil {
		logger.Error("Registry setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := registerConfiguredTokens(reg, cfg); err != nil {
		logger.Error("Token registration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	bank := ledger.NewLedger(
		ledger.Params{
			Admin:              domain.Holder(cfg.Bank.Admin),
			BankCapUSD:         cfg.BankCap(),
			WithdrawalLimitUSD: cfg.WithdrawalLimit(),
		},
		reg,
		pricing.NewConverter(logger),
		roles,
		vault,
		bus,
		logger,
	)

	var signer *crypto.Signer
	if cfg.Server.AdminSecret != "" {
		signer = crypto.NewSigner(cfg.Server.AdminSecret, logger)
	}

	apiHandler := api.NewAPIHandler(bank, vault, collector, signer, logger, api.Options{
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})

	collector.SetSupportedAssets(bank.SupportedAssetCount())
	metricsServer := collector.StartMetricsServer(cfg.Server.MetricsAddr)
	httpServer := startHTTPServer(cfg.Server.Addr, apiHandler, logger)

	waitForShutdown(logger, httpServer, metricsServer, bus)
	logger.Info("Application shutdown complete")
}

func setupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

func registerConfiguredTokens(reg *registry.Registry, cfg config.Config) error {
	for _, token := range cfg.Tokens {
		price, ok := new(big.Int).SetString(token.Price, 10)
		if !ok {
			return fmt.Errorf("token %s: bad price %q", token.Asset, token.Price)
		}
		source := pricing.NewStaticSource("static:"+token.Asset, price, pricing.QuoteDecimals)
		if err := reg.Add(domain.Asset(token.Asset), source, token.Decimals); err != nil {
			return fmt.Errorf("token %s: %w", token.Asset, err)
		}
	}
	return nil
}

func startHTTPServer(addr string, apiHandler *api.APIHandler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	apiHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": "%s", "status": "ok"}`, appName)
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(
	logger *slog.Logger,
	httpServer *http.Server,
	metricsServer *http.Server,
	bus *service.EventBus,
) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if err := bus.Shutdown(ctx); err != nil {
		logger.Error("Event bus shutdown failed", slog.String("error", err.Error()))
	}
}
