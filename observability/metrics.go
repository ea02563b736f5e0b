package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type lendingMetrics struct {
	operations   *prometheus.CounterVec
	liquidations *prometheus.CounterVec
}

// LiquidatorMetrics wraps collectors tracking the liquidation bot loop.
type LiquidatorMetrics struct {
	scanLatency *prometheus.HistogramVec
	upkeeps     *prometheus.CounterVec
	errors      *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *lendingMetrics

	liquidatorMetricsOnce sync.Once
	liquidatorRegistry    *LiquidatorMetrics
)

// LendingMetrics returns the lazily-initialised registry used to record
// lending market activity.
func LendingMetrics() *lendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &lendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "airlend",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Count of market operations segmented by operation, asset, and outcome.",
			}, []string{"operation", "asset", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "airlend",
				Subsystem: "market",
				Name:      "liquidations_total",
				Help:      "Count of liquidation calls segmented by asset and outcome.",
			}, []string{"asset", "outcome"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.liquidations,
		)
	})
	return lendingRegistry
}

// Observe records the outcome of a market operation.
func (m *lendingMetrics) Observe(operation, asset string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(labelOp(operation), labelAsset(asset), outcome).Inc()
}

// ObserveLiquidation records the outcome of a liquidation call.
func (m *lendingMetrics) ObserveLiquidation(asset string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.liquidations.WithLabelValues(labelAsset(asset), outcome).Inc()
}

// Liquidator returns the metrics registry for the liquidation bot.
func Liquidator() *LiquidatorMetrics {
	liquidatorMetricsOnce.Do(func() {
		liquidatorRegistry = &LiquidatorMetrics{
			scanLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "airlend",
				Subsystem: "liquidator",
				Name:      "scan_duration_seconds",
				Help:      "Latency distribution for position scan windows.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"asset"}),
			upkeeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "airlend",
				Subsystem: "liquidator",
				Name:      "upkeeps_total",
				Help:      "Count of performed upkeeps segmented by asset and outcome.",
			}, []string{"asset", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "airlend",
				Subsystem: "liquidator",
				Name:      "errors_total",
				Help:      "Count of bot loop failures segmented by stage.",
			}, []string{"stage"}),
		}
		prometheus.MustRegister(
			liquidatorRegistry.scanLatency,
			liquidatorRegistry.upkeeps,
			liquidatorRegistry.errors,
		)
	})
	return liquidatorRegistry
}

// ObserveScan records the latency of one scan window.
func (m *LiquidatorMetrics) ObserveScan(asset string, d time.Duration) {
	if m == nil {
		return
	}
	m.scanLatency.WithLabelValues(labelAsset(asset)).Observe(d.Seconds())
}

// ObserveUpkeep records the outcome of one performed upkeep.
func (m *LiquidatorMetrics) ObserveUpkeep(asset string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.upkeeps.WithLabelValues(labelAsset(asset), outcome).Inc()
}

// RecordError increments the error counter for the supplied loop stage.
func (m *LiquidatorMetrics) RecordError(stage string) {
	if m == nil {
		return
	}
	if stage = strings.TrimSpace(stage); stage == "" {
		stage = "unspecified"
	}
	m.errors.WithLabelValues(stage).Inc()
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func labelOp(operation string) string {
	trimmed := strings.TrimSpace(operation)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}
