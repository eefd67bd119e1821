package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	nativecommon "flashvault/native/common"
)

const namespace = "flashvault"

// VaultMetrics records the outcome and latency of every top-level vault call.
type VaultMetrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// GasMetrics tracks the prices the estimator resolved per tier and source.
type GasMetrics struct {
	price     *prometheus.GaugeVec
	fallbacks *prometheus.CounterVec
}

// DeployMetrics counts orchestrated deployment steps.
type DeployMetrics struct {
	steps *prometheus.CounterVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics

	gasMetricsOnce sync.Once
	gasRegistry    *GasMetrics

	deployMetricsOnce sync.Once
	deployRegistry    *DeployMetrics
)

// Vault returns the lazily-initialised vault call metrics.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "calls_total",
				Help:      "Total vault calls segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for vault calls including persistence.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
		}
		prometheus.MustRegister(vaultRegistry.calls, vaultRegistry.latency)
	})
	return vaultRegistry
}

// ObserveCall records a finished vault call. Failures are labelled with
// their error kind so dashboards can split slippage rejections from pauses.
func (m *VaultMetrics) ObserveCall(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	op = strings.TrimSpace(op)
	if op == "" {
		op = "unknown"
	}
	m.calls.WithLabelValues(op, outcome(err)).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := nativecommon.KindOf(err); kind != "" {
		return kind
	}
	return "error"
}

// Gas returns the lazily-initialised estimator metrics.
func Gas() *GasMetrics {
	gasMetricsOnce.Do(func() {
		gasRegistry = &GasMetrics{
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gas",
				Name:      "price_gwei",
				Help:      "Most recent gas price resolved by the estimator in gwei.",
			}, []string{"tier", "source"}),
			fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gas",
				Name:      "fallbacks_total",
				Help:      "Count of price lookups that fell back past a failing source.",
			}, []string{"source"}),
		}
		prometheus.MustRegister(gasRegistry.price, gasRegistry.fallbacks)
	})
	return gasRegistry
}

// RecordPrice stores the latest resolved price.
func (m *GasMetrics) RecordPrice(tier, source string, gwei float64) {
	if m == nil {
		return
	}
	m.price.WithLabelValues(labelOrUnknown(tier), labelOrUnknown(source)).Set(gwei)
}

// RecordFallback notes that source failed and the next one was consulted.
func (m *GasMetrics) RecordFallback(source string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(labelOrUnknown(source)).Inc()
}

// Deploy returns the lazily-initialised deployment metrics.
func Deploy() *DeployMetrics {
	deployMetricsOnce.Do(func() {
		deployRegistry = &DeployMetrics{
			steps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deploy",
				Name:      "steps_total",
				Help:      "Deployment steps executed segmented by step kind and outcome.",
			}, []string{"step", "outcome"}),
		}
		prometheus.MustRegister(deployRegistry.steps)
	})
	return deployRegistry
}

// RecordStep counts a finished deployment step.
func (m *DeployMetrics) RecordStep(step string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.steps.WithLabelValues(labelOrUnknown(step), result).Inc()
}

func labelOrUnknown(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
