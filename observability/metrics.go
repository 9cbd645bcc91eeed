package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	distributionOnce     sync.Once
	distributionRegistry *DistributionMetrics

	payoutMetricsOnce sync.Once
	payoutRegistry    *PayoutdMetrics
)

// API returns the lazily-initialised registry used to record treasury API
// activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "revledger",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total treasury API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "revledger",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total treasury API errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "revledger",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for treasury API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "revledger",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards remain consistent.
func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// DistributionMetrics tracks revenue manager activity.
type DistributionMetrics struct {
	inflows      *prometheus.CounterVec
	inflowAmount *prometheus.CounterVec
	claims       *prometheus.CounterVec
	claimLatency *prometheus.HistogramVec
	totalWeight  *prometheus.GaugeVec
	remainder    *prometheus.GaugeVec
}

// Distribution exposes the metrics registry for revenue managers.
func Distribution() *DistributionMetrics {
	distributionOnce.Do(func() {
		distributionRegistry = &DistributionMetrics{
			inflows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "revledger",
				Subsystem: "distribution",
				Name:      "inflows_total",
				Help:      "Count of revenue inflows segmented by manager and origin.",
			}, []string{"manager", "origin"}),
			inflowAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "revledger",
				Subsystem: "distribution",
				Name:      "inflow_amount_total",
				Help:      "Approximate revenue received in base units segmented by manager and asset.",
			}, []string{"manager", "asset"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "revledger",
				Subsystem: "distribution",
				Name:      "claims_total",
				Help:      "Count of claims segmented by manager and outcome.",
			}, []string{"manager", "outcome"}),
			claimLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "revledger",
				Subsystem: "distribution",
				Name:      "claim_duration_seconds",
				Help:      "Latency distribution for claims including payout.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"manager"}),
			totalWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "revledger",
				Subsystem: "distribution",
				Name:      "total_weight",
				Help:      "Registered stakeholder weight per manager.",
			}, []string{"manager"}),
			remainder: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "revledger",
				Subsystem: "distribution",
				Name:      "remainder",
				Help:      "Undistributed revenue carried forward per manager.",
			}, []string{"manager"}),
		}
		prometheus.MustRegister(
			distributionRegistry.inflows,
			distributionRegistry.inflowAmount,
			distributionRegistry.claims,
			distributionRegistry.claimLatency,
			distributionRegistry.totalWeight,
			distributionRegistry.remainder,
		)
	})
	return distributionRegistry
}

// RecordInflow counts an inflow and its amount.
func (m *DistributionMetrics) RecordInflow(manager, origin, asset string, amount *uint256.Int) {
	if m == nil {
		return
	}
	if origin == "" {
		origin = "direct"
	}
	m.inflows.WithLabelValues(manager, origin).Inc()
	if amount != nil {
		m.inflowAmount.WithLabelValues(manager, labelAsset(asset)).Add(bigToFloat(amount.ToBig()))
	}
}

// RecordClaim counts a claim outcome and its latency.
func (m *DistributionMetrics) RecordClaim(manager string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.claims.WithLabelValues(manager, outcome).Inc()
	m.claimLatency.WithLabelValues(manager).Observe(d.Seconds())
}

// RecordState updates the weight and remainder gauges.
func (m *DistributionMetrics) RecordState(manager string, totalWeight, remainder *uint256.Int) {
	if m == nil {
		return
	}
	if totalWeight != nil {
		m.totalWeight.WithLabelValues(manager).Set(bigToFloat(totalWeight.ToBig()))
	}
	if remainder != nil {
		m.remainder.WithLabelValues(manager).Set(bigToFloat(remainder.ToBig()))
	}
}

// PayoutdMetrics wraps collectors tracking payout engine health.
type PayoutdMetrics struct {
	payoutLatency *prometheus.HistogramVec
	paid          *prometheus.CounterVec
	retries       *prometheus.CounterVec
	errors        *prometheus.CounterVec
	pauseEngaged  prometheus.Gauge
}

// Payoutd exposes the metrics registry for payoutd.
func Payoutd() *PayoutdMetrics {
	payoutMetricsOnce.Do(func() {
		payoutRegistry = &PayoutdMetrics{
			payoutLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "revledger",
				Subsystem: "payoutd",
				Name:      "payout_latency_seconds",
				Help:      "Latency distribution for completed payouts.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"asset"}),
			paid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "revledger",
				Subsystem: "payoutd",
				Name:      "paid_total",
				Help:      "Approximate amount paid out in base units per asset.",
			}, []string{"asset"}),
			retries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "revledger",
				Subsystem: "payoutd",
				Name:      "retries_total",
				Help:      "Count of payout transfer retries per asset.",
			}, []string{"asset"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "revledger",
				Subsystem: "payoutd",
				Name:      "errors_total",
				Help:      "Count of payout failures segmented by asset and reason.",
			}, []string{"asset", "reason"}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "revledger",
				Subsystem: "payoutd",
				Name:      "pause_engaged",
				Help:      "Indicates whether the payout processor pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			payoutRegistry.payoutLatency,
			payoutRegistry.paid,
			payoutRegistry.retries,
			payoutRegistry.errors,
			payoutRegistry.pauseEngaged,
		)
	})
	return payoutRegistry
}

// ObserveLatency records the processing latency for a payout.
func (m *PayoutdMetrics) ObserveLatency(asset string, d time.Duration) {
	if m == nil {
		return
	}
	m.payoutLatency.WithLabelValues(labelAsset(asset)).Observe(d.Seconds())
}

// RecordPaid adds a completed payout amount.
func (m *PayoutdMetrics) RecordPaid(asset string, amount *uint256.Int) {
	if m == nil || amount == nil {
		return
	}
	m.paid.WithLabelValues(labelAsset(asset)).Add(bigToFloat(amount.ToBig()))
}

// RecordRetry counts a retried transfer.
func (m *PayoutdMetrics) RecordRetry(asset string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(labelAsset(asset)).Inc()
}

// RecordError increments the error counter for the supplied reason.
func (m *PayoutdMetrics) RecordError(asset, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.errors.WithLabelValues(labelAsset(asset), reason).Inc()
}

// SetPause toggles the pause_engaged gauge.
func (m *PayoutdMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
