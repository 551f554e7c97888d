package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	charityMetricsOnce sync.Once
	charityRegistry    *CharityMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "charity",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// CharityMetrics tracks ledger transitions and the value flowing through
// custody.
type CharityMetrics struct {
	transitions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	donated     prometheus.Counter
	disbursed   prometheus.Counter
	escrowed    prometheus.Gauge
	charities   prometheus.Gauge
	payouts     *prometheus.CounterVec
}

// Charity returns the singleton metrics registry for the ledger.
func Charity() *CharityMetrics {
	charityMetricsOnce.Do(func() {
		charityRegistry = &CharityMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "transitions_total",
				Help:      "Count of applied or rejected transactions segmented by type and outcome.",
			}, []string{"type", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "transition_duration_seconds",
				Help:      "Latency distribution for transaction application.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			donated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "donated_total",
				Help:      "Total value donated since process start.",
			}),
			disbursed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "disbursed_total",
				Help:      "Total value disbursed since process start.",
			}),
			escrowed: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "escrowed",
				Help:      "Value currently held in custody on behalf of all charities.",
			}),
			charities: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "charities",
				Help:      "Number of registered charities.",
			}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "payout",
				Name:      "transfers_total",
				Help:      "Count of external payout transfers segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			charityRegistry.transitions,
			charityRegistry.latency,
			charityRegistry.donated,
			charityRegistry.disbursed,
			charityRegistry.escrowed,
			charityRegistry.charities,
			charityRegistry.payouts,
		)
	})
	return charityRegistry
}

// ObserveTransition records the outcome of one transaction. class is the
// error class label for rejected transactions and ignored on success.
func (m *CharityMetrics) ObserveTransition(txType string, class string, duration time.Duration) {
	if m == nil {
		return
	}
	txType = labelOrUnknown(txType)
	outcome := "applied"
	if class = strings.TrimSpace(class); class != "" {
		outcome = class
	}
	m.transitions.WithLabelValues(txType, outcome).Inc()
	m.latency.WithLabelValues(txType).Observe(duration.Seconds())
}

// AddDonated adds a committed donation to the donated counter.
func (m *CharityMetrics) AddDonated(amount *big.Int) {
	if m == nil {
		return
	}
	if v := bigToFloat(amount); v > 0 {
		m.donated.Add(v)
	}
}

// AddDisbursed adds a committed disbursement to the disbursed counter.
func (m *CharityMetrics) AddDisbursed(amount *big.Int) {
	if m == nil {
		return
	}
	if v := bigToFloat(amount); v > 0 {
		m.disbursed.Add(v)
	}
}

// SetTotals refreshes the escrow and registration gauges.
func (m *CharityMetrics) SetTotals(escrowed *big.Int, charities uint64) {
	if m == nil {
		return
	}
	m.escrowed.Set(bigToFloat(escrowed))
	m.charities.Set(float64(charities))
}

// RecordPayout counts an external payout attempt.
func (m *CharityMetrics) RecordPayout(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.payouts.WithLabelValues("error").Inc()
		return
	}
	m.payouts.WithLabelValues("success").Inc()
}

func labelOrUnknown(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
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
