package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry            *prometheus.Registry
	depositsTotal       prometheus.Counter
	depositsFailed      prometheus.Counter
	withdrawalsTotal    prometheus.Counter
	withdrawalsFailed   prometheus.Counter
	depositVolumeUSD    prometheus.Counter
	withdrawalVolumeUSD prometheus.Counter
	operationDuration   *prometheus.HistogramVec
	totalValueLockedUSD prometheus.Gauge
	supportedAssets     prometheus.Gauge
	logger              *slog.Logger
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		depositsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "bank_deposits_total",
			Help: "Total number of successful deposits",
		}),
		depositsFailed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "bank_deposits_failed_total",
			Help: "Total number of rejected or failed deposits",
		}),
		withdrawalsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "bank_withdrawals_total",
			Help: "Total number of successful withdrawals",
		}),
		withdrawalsFailed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "bank_withdrawals_failed_total",
			Help: "Total number of rejected or failed withdrawals",
		}),
		depositVolumeUSD: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "bank_deposit_volume_usd",
			Help: "Cumulative USD value of successful deposits (minor units)",
		}),
		withdrawalVolumeUSD: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "bank_withdrawal_volume_usd",
			Help: "Cumulative USD value of successful withdrawals (minor units)",
		}),
		operationDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bank_operation_duration_seconds",
			Help:    "Time taken to process a ledger operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		totalValueLockedUSD: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "bank_total_value_locked_usd",
			Help: "Current total value locked across all assets (USD minor units)",
		}),
		supportedAssets: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "bank_supported_assets",
			Help: "Number of registered assets",
		}),
		logger: logger,
	}
}

func (c *Collector) RecordDeposit(duration time.Duration, usdValue float64, success bool) {
	if success {
		c.depositsTotal.Inc()
		c.depositVolumeUSD.Add(usdValue)
	} else {
		c.depositsFailed.Inc()
	}
	c.operationDuration.WithLabelValues("deposit").Observe(duration.Seconds())
}

func (c *Collector) RecordWithdrawal(duration time.Duration, usdValue float64, success bool) {
	if success {
		c.withdrawalsTotal.Inc()
		c.withdrawalVolumeUSD.Add(usdValue)
	} else {
		c.withdrawalsFailed.Inc()
	}
	c.operationDuration.WithLabelValues("withdraw").Observe(duration.Seconds())
}

func (c *Collector) SetTotalValueLocked(usdValue float64) {
	c.totalValueLockedUSD.Set(usdValue)
}

func (c *Collector) SetSupportedAssets(count int) {
	c.supportedAssets.Set(float64(count))
}

func (c *Collector) GetHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.GetHandler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		c.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func (c *Collector) Shutdown(ctx context.Context) error {
	c.logger.Info("Metrics collector shutdown complete")
	return nil
}
