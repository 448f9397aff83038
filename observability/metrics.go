package observability

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "omnipool"

var (
	poolMetricsOnce sync.Once
	poolRegistry    *PoolMetrics

	apiMetricsOnce sync.Once
	apiRegistry    *APIMetrics
)

// PoolMetrics tracks custody operations executed against the engine.
type PoolMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	fees        *prometheus.CounterVec
	received    *prometheus.HistogramVec
	gap         *prometheus.GaugeVec
	liabilities *prometheus.GaugeVec
}

// Pool returns the lazily registered pool metrics.
func Pool() *PoolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Pool operations segmented by operation and error kind.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "operation_duration_seconds",
				Help:      "Latency of pool operations including the state commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "fees_accrued_total",
				Help:      "Fees credited to the fee ledger in base units, segmented by asset.",
			}, []string{"asset"}),
			received: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "swap_received",
				Help:      "Measured swap output in base units.",
				Buckets:   prometheus.ExponentialBuckets(1, 10, 19),
			}, []string{"dst_asset"}),
			gap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "solvency_gap",
				Help:      "Custodied holdings minus ledger liabilities per asset. Negative means insolvent.",
			}, []string{"asset"}),
			liabilities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "liabilities",
				Help:      "Pool, user and fee balances summed per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.latency,
			poolRegistry.fees,
			poolRegistry.received,
			poolRegistry.gap,
			poolRegistry.liabilities,
		)
	})
	return poolRegistry
}

// ObserveOperation records an operation outcome. kind is the error kind label
// and "ok" on success.
func (m *PoolMetrics) ObserveOperation(op, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	op = normalizeLabel(op)
	m.operations.WithLabelValues(op, normalizeLabel(kind)).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordFee adds an accrued fee for asset.
func (m *PoolMetrics) RecordFee(asset string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.fees.WithLabelValues(normalizeLabel(asset)).Add(toFloat(amount))
}

// RecordSwap observes a measured swap output.
func (m *PoolMetrics) RecordSwap(dstAsset string, received *big.Int) {
	if m == nil || received == nil {
		return
	}
	m.received.WithLabelValues(normalizeLabel(dstAsset)).Observe(toFloat(received))
}

// SetSolvency publishes the latest reconciliation figures for asset.
func (m *PoolMetrics) SetSolvency(asset string, gap, liabilities *big.Int) {
	if m == nil {
		return
	}
	label := normalizeLabel(asset)
	m.gap.WithLabelValues(label).Set(toFloat(gap))
	m.liabilities.WithLabelValues(label).Set(toFloat(liabilities))
}

// APIMetrics tracks the HTTP surface of poold.
type APIMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// API returns the lazily registered HTTP metrics.
func API() *APIMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Requests rejected by the per-caller rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(apiRegistry.requests, apiRegistry.latency, apiRegistry.throttles)
	})
	return apiRegistry
}

// Observe records a completed request.
func (m *APIMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route)
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request.
func (m *APIMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(reason)).Inc()
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) {
		if f > 0 {
			return math.MaxFloat64
		}
		return -math.MaxFloat64
	}
	return f
}
