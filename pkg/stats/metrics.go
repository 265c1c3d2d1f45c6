// Prometheus counters fed by the batch collectors. They are registered with the
// default registry and served by the admin API on /metrics.
//
//	klinewatch_sync_total{interval,outcome}
//	klinewatch_klines_stored_total{interval,op}
//	klinewatch_checks_triggered_total{check,timeframe}
//	klinewatch_alerts_total{type,outcome}
//	klinewatch_detection_errors_total
//	klinewatch_exchange_used_weight
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klinewatch",
			Name:      "sync_total",
			Help:      "Kline sync calls by interval and outcome (success, failed, skipped)",
		},
		[]string{"interval", "outcome"},
	)

	klinesStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klinewatch",
			Name:      "klines_stored_total",
			Help:      "Candles written by sync, split into inserted and updated rows",
		},
		[]string{"interval", "op"},
	)

	checksTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klinewatch",
			Name:      "checks_triggered_total",
			Help:      "Detection checks that triggered, before dedup",
		},
		[]string{"check", "timeframe"},
	)

	alertOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klinewatch",
			Name:      "alerts_total",
			Help:      "Triggered detections by alert type and dedup outcome (fired, suppressed)",
		},
		[]string{"type", "outcome"},
	)

	detectionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "klinewatch",
			Name:      "detection_errors_total",
			Help:      "Symbols whose detection pass ended with an error",
		},
	)

	usedWeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "klinewatch",
			Name:      "exchange_used_weight",
			Help:      "Request weight the exchange reported as used in the current minute",
		},
	)
)

func init() {
	prometheus.MustRegister(syncOutcomes, klinesStored, checksTriggered, alertOutcomes, detectionErrors, usedWeight)
}

// ObserveUsedWeight records the last server-reported weight. Negative values mean unknown.
func ObserveUsedWeight(w int) {
	if w >= 0 {
		usedWeight.Set(float64(w))
	}
}
