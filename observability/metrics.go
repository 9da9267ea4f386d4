package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	operatorMetricsOnce sync.Once
	operatorRegistry    *OperatorMetrics

	settlementMetricsOnce sync.Once
	settlementRegistry    *SettlementMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dropmarket",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dropmarket",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dropmarket",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
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

// OperatorMetrics tracks state transactions executed by the market operator.
type OperatorMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// Operator returns the singleton operator metrics registry.
func Operator() *OperatorMetrics {
	operatorMetricsOnce.Do(func() {
		operatorRegistry = &OperatorMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dropmarket",
				Subsystem: "operator",
				Name:      "operations_total",
				Help:      "Count of operator transactions segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dropmarket",
				Subsystem: "operator",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of operator transactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(operatorRegistry.operations, operatorRegistry.latency)
	})
	return operatorRegistry
}

// Observe records a committed or reverted operator transaction.
func (m *OperatorMetrics) Observe(operation string, committed bool, duration time.Duration) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	outcome := "committed"
	if !committed {
		outcome = "reverted"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SettlementMetrics tracks purchases and the payouts they distribute.
type SettlementMetrics struct {
	purchases *prometheus.CounterVec
	payouts   *prometheus.CounterVec
	items     prometheus.Counter
}

// Settlement returns the singleton settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dropmarket",
				Subsystem: "settlement",
				Name:      "purchases_total",
				Help:      "Count of purchase attempts segmented by payment asset kind and outcome.",
			}, []string{"asset", "outcome"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dropmarket",
				Subsystem: "settlement",
				Name:      "payouts_total",
				Help:      "Count of payouts executed by settled purchases segmented by kind.",
			}, []string{"kind"}),
			items: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dropmarket",
				Subsystem: "settlement",
				Name:      "cart_items_total",
				Help:      "Count of cart items delivered by settled purchases.",
			}),
		}
		prometheus.MustRegister(settlementRegistry.purchases, settlementRegistry.payouts, settlementRegistry.items)
	})
	return settlementRegistry
}

// RecordPurchase increments the purchase counter. Failed purchases are
// labelled with the supplied reason.
func (m *SettlementMetrics) RecordPurchase(native bool, reason string) {
	if m == nil {
		return
	}
	asset := "erc20"
	if native {
		asset = "native"
	}
	outcome := strings.TrimSpace(reason)
	if outcome == "" {
		outcome = "settled"
	}
	m.purchases.WithLabelValues(asset, outcome).Inc()
}

// RecordPayout counts a payout of the supplied kind.
func (m *SettlementMetrics) RecordPayout(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.payouts.WithLabelValues(kind).Inc()
}

// RecordItems adds delivered cart items.
func (m *SettlementMetrics) RecordItems(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.items.Add(float64(n))
}
