package observability

import (
	"time"

	"github.com/boddenberg/wallet-bridge-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Refresh outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeUpdateFailed = "update_failed"
	OutcomeAuthFailed   = "auth_failed"
	OutcomeRateLimited  = "rate_limited"
	OutcomeSkipped      = "skipped"
)

// Metrics holds all Prometheus metrics for the wallet bridge.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	refreshTotal     *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec

	transactions  prometheus.Gauge
	sum30d        prometheus.Gauge
	expenseSum7d  prometheus.Gauge
	accounts      prometheus.Gauge
	requestsMade  prometheus.Gauge
	lastSuccess   prometheus.Gauge
	snapshotStale prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		refreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_refresh_total",
				Help: "Refresh cycles by outcome.",
			},
			[]string{"outcome"},
		),
		refreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wallet_refresh_duration_seconds",
				Help:    "Duration of refresh cycles, including rate-limit backoff.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		upstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_upstream_requests_total",
				Help: "HTTP round trips to the Wallet API by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_upstream_request_duration_seconds",
				Help:    "Latency of Wallet API round trips.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),

		transactions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_transactions_7d",
			Help: "Transactions in the display window of the current snapshot.",
		}),
		sum30d: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_transaction_sum_30d",
			Help: "Absolute sum of 30-day transactions in the sum currency.",
		}),
		expenseSum7d: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_spent_7d",
			Help: "Expense total in the sum currency over the display window.",
		}),
		accounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_active_accounts",
			Help: "Active accounts in the current snapshot.",
		}),
		requestsMade: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_snapshot_requests_made",
			Help: "Upstream requests made by the fetch that produced the snapshot.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_last_success_timestamp_seconds",
			Help: "Unix time of the last successful refresh.",
		}),
		snapshotStale: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_snapshot_stale",
			Help: "1 when the served snapshot carries a last_error.",
		}),
	}
}

// IncrRefresh counts a refresh cycle outcome.
func (m *Metrics) IncrRefresh(outcome string) {
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

// RecordRefreshDuration records how long a refresh cycle took.
func (m *Metrics) RecordRefreshDuration(d time.Duration) {
	m.refreshDuration.Observe(d.Seconds())
}

// IncrUpstreamRequest counts one round trip to the Wallet API.
func (m *Metrics) IncrUpstreamRequest(endpoint, outcome string) {
	m.upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordUpstreamDuration records the latency of one round trip.
func (m *Metrics) RecordUpstreamDuration(endpoint string, d time.Duration) {
	m.upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveSnapshot mirrors a committed snapshot into gauges.
func (m *Metrics) ObserveSnapshot(s *domain.Snapshot) {
	if s == nil {
		return
	}
	m.transactions.Set(float64(s.TotalTransactions))
	m.sum30d.Set(s.TransactionSum30d)
	m.expenseSum7d.Set(s.ExpenseSum7d)
	m.accounts.Set(float64(s.AccountCount))
	m.requestsMade.Set(float64(s.RequestsMade))
	if s.Fresh() {
		m.snapshotStale.Set(0)
		if s.UpdatedAt != nil {
			m.lastSuccess.Set(float64(s.UpdatedAt.Unix()))
		}
	} else {
		m.snapshotStale.Set(1)
	}
}

// GetRefreshStats returns the refresh counters suitable for the
// GET /v1/status endpoint.
func (m *Metrics) GetRefreshStats() *domain.RefreshStats {
	succeeded := getCounterValue(m.refreshTotal, OutcomeSuccess)
	failed := getCounterValue(m.refreshTotal, OutcomeUpdateFailed)
	authFailed := getCounterValue(m.refreshTotal, OutcomeAuthFailed)
	rateLimited := getCounterValue(m.refreshTotal, OutcomeRateLimited)
	skipped := getCounterValue(m.refreshTotal, OutcomeSkipped)

	errorRate := float64(0)
	if total := succeeded + failed + authFailed + rateLimited; total > 0 {
		errorRate = (failed + authFailed + rateLimited) / total
	}

	return &domain.RefreshStats{
		Succeeded:   int64(succeeded),
		Failed:      int64(failed),
		AuthFailed:  int64(authFailed),
		RateLimited: int64(rateLimited),
		Skipped:     int64(skipped),
		ErrorRate:   errorRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
