package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/klyr/wafcore/internal/field"
	"github.com/klyr/wafcore/internal/rules"
	"github.com/klyr/wafcore/internal/scan"
)

type Metrics struct {
	scansTotal          *prometheus.CounterVec
	scanDuration        *prometheus.HistogramVec
	signatureMatches    *prometheus.CounterVec
	scanErrorsTotal     *prometheus.CounterVec
	reloadsTotal        *prometheus.CounterVec
	signatureGeneration prometheus.Gauge
	signatureRules      prometheus.Gauge
	cacheHitsTotal      prometheus.Counter
	requestsTotal       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wafcore_scans_total", Help: "Total field scans"},
			[]string{"field", "tier", "result"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wafcore_scan_duration_seconds",
				Help:    "Field scan duration in seconds",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
			[]string{"field"},
		),
		signatureMatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wafcore_signature_matches_total", Help: "Total signature matches"},
			[]string{"rule_id", "severity"},
		),
		scanErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wafcore_scan_errors_total", Help: "Total scans that returned an error"},
			[]string{"reason"},
		),
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wafcore_reloads_total", Help: "Total signature database reload attempts"},
			[]string{"result"},
		),
		signatureGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "wafcore_signature_generation", Help: "Generation of the active signature database"},
		),
		signatureRules: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "wafcore_signature_rules", Help: "Rules in the active signature database"},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "wafcore_verdict_cache_hits_total", Help: "Total verdicts served from the cache"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wafcore_requests_total", Help: "Total inspected requests"},
			[]string{"action"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.scansTotal,
		m.scanDuration,
		m.signatureMatches,
		m.scanErrorsTotal,
		m.reloadsTotal,
		m.signatureGeneration,
		m.signatureRules,
		m.cacheHitsTotal,
		m.requestsTotal,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveScan(kind field.Kind, tier scan.Tier, matched bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "clean"
	if matched {
		result = "match"
	}
	m.scansTotal.WithLabelValues(kind.String(), tier.String(), result).Inc()
	m.scanDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMatch(info *rules.SignatureInfo) {
	if m == nil || info == nil {
		return
	}
	m.signatureMatches.WithLabelValues(info.RuleID, string(info.Severity)).Inc()
}

func (m *Metrics) ObserveScanError(reason string) {
	if m == nil {
		return
	}
	m.scanErrorsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}

// ObserveReload counts the attempt. The gauges only move on success.
func (m *Metrics) ObserveReload(result string, generation uint64, ruleCount int) {
	if m == nil {
		return
	}
	m.reloadsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		m.signatureGeneration.Set(float64(generation))
		m.signatureRules.Set(float64(ruleCount))
	}
}

func (m *Metrics) ObserveRequest(action string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(action).Inc()
}
