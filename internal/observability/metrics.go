// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Mint metrics
	MintAttempts *prometheus.CounterVec
	MintRefusals *prometheus.CounterVec
	MintDuration prometheus.Histogram

	// Confirmation metrics
	ConfirmationPolls      prometheus.Counter
	ConfirmationPollErrors prometheus.Counter
	ConfirmationLatency    *prometheus.HistogramVec

	// Solana client metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec
	WSReconnects   prometheus.Counter
	AccountUpdates prometheus.Counter

	// Sale metrics
	SaleState       prometheus.Gauge
	ItemsAvailable  prometheus.Gauge
	ItemsRedeemed   prometheus.Gauge
	WalletBalance   prometheus.Gauge
	StateReadErrors prometheus.Counter

	// Health metrics
	LastSuccessfulRefresh prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a new Metrics instance registered with reg.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "candymint"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Mint metrics
		MintAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "attempts_total",
			Help:      "Total number of mint attempts by outcome and error kind",
		}, []string{"outcome", "kind"}),
		MintRefusals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "refusals_total",
			Help:      "Total number of mint requests refused before submission",
		}, []string{"reason"}),
		MintDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "attempt_duration_seconds",
			Help:      "Mint attempt duration from submission to outcome in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
		}),

		// Confirmation metrics
		ConfirmationPolls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmation",
			Name:      "polls_total",
			Help:      "Total number of signature status polls",
		}),
		ConfirmationPollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmation",
			Name:      "poll_errors_total",
			Help:      "Total number of signature status polls that failed transiently",
		}),
		ConfirmationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "confirmation",
			Name:      "latency_seconds",
			Help:      "Time from submission to poller resolution in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
		}, []string{"status"}),

		// Solana client metrics
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed Solana RPC calls",
		}, []string{"method"}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnections",
		}),
		AccountUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "account_updates_total",
			Help:      "Total number of candy machine account notifications received",
		}),

		// Sale metrics
		SaleState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "state",
			Help:      "Observed sale state (0 not yet live, 1 live, 2 sold out)",
		}),
		ItemsAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "items_available",
			Help:      "Items available in the candy machine",
		}),
		ItemsRedeemed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "items_redeemed",
			Help:      "Items redeemed from the candy machine",
		}),
		WalletBalance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "balance_lamports",
			Help:      "Last observed wallet balance in lamports",
		}),
		StateReadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "state_read_errors_total",
			Help:      "Total number of failed candy machine state reads",
		}),

		// Health metrics
		LastSuccessfulRefresh: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of last successful sale state refresh",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordMintAttempt records a completed mint attempt.
func RecordMintAttempt(outcome, kind string, elapsed time.Duration) {
	DefaultMetrics.MintAttempts.WithLabelValues(outcome, kind).Inc()
	DefaultMetrics.MintDuration.Observe(elapsed.Seconds())
}

// RecordMintRefusal records a mint request refused before submission.
func RecordMintRefusal(reason string) {
	DefaultMetrics.MintRefusals.WithLabelValues(reason).Inc()
}

// RecordPoll records one signature status poll.
func RecordPoll(err error) {
	DefaultMetrics.ConfirmationPolls.Inc()
	if err != nil {
		DefaultMetrics.ConfirmationPollErrors.Inc()
	}
}

// RecordConfirmation records how long the poller took to resolve.
func RecordConfirmation(status string, elapsed time.Duration) {
	DefaultMetrics.ConfirmationLatency.WithLabelValues(status).Observe(elapsed.Seconds())
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordRPCCall records an RPC call outcome; it matches solana.CallObserver.
func RecordRPCCall(method string, elapsed time.Duration, err error) {
	RecordRPCLatency(method, elapsed.Seconds())
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordWSReconnect increments the WebSocket reconnect counter.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordAccountUpdate increments the account notification counter.
func RecordAccountUpdate() {
	DefaultMetrics.AccountUpdates.Inc()
}

// UpdateSaleState sets the sale state gauge.
func UpdateSaleState(state int) {
	DefaultMetrics.SaleState.Set(float64(state))
}

// UpdateCounters sets the item counter gauges and the refresh timestamp.
func UpdateCounters(available, redeemed uint64) {
	DefaultMetrics.ItemsAvailable.Set(float64(available))
	DefaultMetrics.ItemsRedeemed.Set(float64(redeemed))
	DefaultMetrics.LastSuccessfulRefresh.SetToCurrentTime()
}

// RecordStateReadError increments the failed state read counter.
func RecordStateReadError() {
	DefaultMetrics.StateReadErrors.Inc()
}

// UpdateWalletBalance sets the wallet balance gauge.
func UpdateWalletBalance(lamports uint64) {
	DefaultMetrics.WalletBalance.Set(float64(lamports))
}
