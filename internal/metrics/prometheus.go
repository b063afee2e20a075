// Package metrics provides Prometheus-based metrics collection for osprey.
// This uses the industry-standard Prometheus client library for proper
// observability and monitoring integration across the scan engine.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all osprey metrics.
	namespace = "osprey"

	// Subsystems.
	subsystemScan      = "scan"
	subsystemDiscovery = "discovery"
	subsystemThrottle  = "throttle"
	subsystemFingerprint = "fingerprint"
	subsystemSystem    = "system"
	subsystemAPI       = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors.
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	scanErrors   *prometheus.CounterVec
	portsScanned *prometheus.CounterVec
	hostsScanned *prometheus.CounterVec
	activeScans  prometheus.Gauge

	// Discovery metrics
	discoveryTotal    *prometheus.CounterVec
	discoveryDuration *prometheus.HistogramVec
	discoveryErrors   *prometheus.CounterVec
	hostsDiscovered   *prometheus.CounterVec
	activeDiscovery   prometheus.Gauge

	// Throttle metrics
	throttlePPS        prometheus.Gauge
	throttleAdjustments *prometheus.CounterVec
	throttleProbes      *prometheus.CounterVec

	// Fingerprint metrics
	fingerprintMatches    *prometheus.CounterVec
	fingerprintConfidence *prometheus.HistogramVec
	fingerprintDuration   *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpErrors   *prometheus.CounterVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge
	cpuUsage    prometheus.Gauge

	// Performance tracking
	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initDiscoveryMetrics()
	pm.initThrottleMetrics()
	pm.initFingerprintMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initScanMetrics initializes scan-related metrics.
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans performed by technique and status",
		},
		[]string{"technique", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scan operations in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
		[]string{"technique"},
	)

	pm.scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "errors_total",
			Help:      "Total number of scan errors by technique and error code",
		},
		[]string{"technique", "error_code"},
	)

	pm.portsScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "ports_total",
			Help:      "Total number of ports scanned by technique and resulting status",
		},
		[]string{"technique", "port_status"},
	)

	pm.hostsScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "hosts_total",
			Help:      "Total number of hosts scanned by resulting status",
		},
		[]string{"host_status"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of currently active scan orchestrator runs",
		},
	)
}

// initDiscoveryMetrics initializes host-discovery metrics.
func (pm *PrometheusMetrics) initDiscoveryMetrics() {
	pm.discoveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "total",
			Help:      "Total number of discovery probes by method and status",
		},
		[]string{"method", "status"},
	)

	pm.discoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "duration_seconds",
			Help:      "Duration of discovery operations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		},
		[]string{"method"},
	)

	pm.discoveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "errors_total",
			Help:      "Total number of discovery errors by method and error code",
		},
		[]string{"method", "error_code"},
	)

	pm.hostsDiscovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "hosts_total",
			Help:      "Total number of hosts found up by the method that found them",
		},
		[]string{"method"},
	)

	pm.activeDiscovery = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "active",
			Help:      "Number of currently active discovery operations",
		},
	)
}

// initThrottleMetrics initializes adaptive rate-control metrics.
func (pm *PrometheusMetrics) initThrottleMetrics() {
	pm.throttlePPS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemThrottle,
			Name:      "current_pps",
			Help:      "Current adaptive throttle rate in probes per second",
		},
	)

	pm.throttleAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemThrottle,
			Name:      "adjustments_total",
			Help:      "Total number of throttle rate adjustments by direction",
		},
		[]string{"direction"},
	)

	pm.throttleProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemThrottle,
			Name:      "probes_total",
			Help:      "Total number of probes reported to the throttle controller by outcome",
		},
		[]string{"outcome"},
	)
}

// initFingerprintMetrics initializes OS/service fingerprint matching metrics.
func (pm *PrometheusMetrics) initFingerprintMetrics() {
	pm.fingerprintMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemFingerprint,
			Name:      "matches_total",
			Help:      "Total number of fingerprint matches by confidence label",
		},
		[]string{"confidence_label"},
	)

	pm.fingerprintConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemFingerprint,
			Name:      "confidence_score",
			Help:      "Distribution of fuzzy match confidence scores",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 1.0},
		},
		[]string{"category"},
	)

	pm.fingerprintDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemFingerprint,
			Name:      "duration_seconds",
			Help:      "Duration of OS fingerprint collection per target",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		},
		[]string{"phase"},
	)
}

// initAPIMetrics initializes the thin status/streaming API metrics.
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)

	pm.httpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "errors_total",
			Help:      "Total number of HTTP errors by method, path and error type",
		},
		[]string{"method", "path", "error_type"},
	)
}

// initSystemMetrics initializes process-level metrics.
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)

	pm.cpuUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "cpu_usage_percent",
			Help:      "Current CPU usage percentage",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry.
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.scansTotal)
	pm.registry.MustRegister(pm.scanDuration)
	pm.registry.MustRegister(pm.scanErrors)
	pm.registry.MustRegister(pm.portsScanned)
	pm.registry.MustRegister(pm.hostsScanned)
	pm.registry.MustRegister(pm.activeScans)

	pm.registry.MustRegister(pm.discoveryTotal)
	pm.registry.MustRegister(pm.discoveryDuration)
	pm.registry.MustRegister(pm.discoveryErrors)
	pm.registry.MustRegister(pm.hostsDiscovered)
	pm.registry.MustRegister(pm.activeDiscovery)

	pm.registry.MustRegister(pm.throttlePPS)
	pm.registry.MustRegister(pm.throttleAdjustments)
	pm.registry.MustRegister(pm.throttleProbes)

	pm.registry.MustRegister(pm.fingerprintMatches)
	pm.registry.MustRegister(pm.fingerprintConfidence)
	pm.registry.MustRegister(pm.fingerprintDuration)

	pm.registry.MustRegister(pm.httpRequests)
	pm.registry.MustRegister(pm.httpDuration)
	pm.registry.MustRegister(pm.httpErrors)

	pm.registry.MustRegister(pm.memoryUsage)
	pm.registry.MustRegister(pm.goroutines)
	pm.registry.MustRegister(pm.uptime)
	pm.registry.MustRegister(pm.cpuUsage)
}

// GetRegistry returns the Prometheus registry for the HTTP handler.
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Scan metrics methods.

// IncrementScansTotal increments the total scan counter.
func (pm *PrometheusMetrics) IncrementScansTotal(technique, status string) {
	pm.scansTotal.WithLabelValues(technique, status).Inc()
}

// RecordScanDuration records a scan duration.
func (pm *PrometheusMetrics) RecordScanDuration(technique string, duration time.Duration) {
	pm.scanDuration.WithLabelValues(technique).Observe(duration.Seconds())
}

// IncrementScanErrors increments the scan error counter.
func (pm *PrometheusMetrics) IncrementScanErrors(technique, errorCode string) {
	pm.scanErrors.WithLabelValues(technique, errorCode).Inc()
}

// IncrementPortsScanned increments the ports scanned counter.
func (pm *PrometheusMetrics) IncrementPortsScanned(technique, status string, count int) {
	pm.portsScanned.WithLabelValues(technique, status).Add(float64(count))
}

// IncrementHostsScanned increments the hosts scanned counter.
func (pm *PrometheusMetrics) IncrementHostsScanned(status string, count int) {
	pm.hostsScanned.WithLabelValues(status).Add(float64(count))
}

// SetActiveScans sets the number of active scan orchestrator runs.
func (pm *PrometheusMetrics) SetActiveScans(count int) {
	pm.activeScans.Set(float64(count))
}

// Discovery metrics methods.

// IncrementDiscoveryTotal increments the discovery counter.
func (pm *PrometheusMetrics) IncrementDiscoveryTotal(method, status string) {
	pm.discoveryTotal.WithLabelValues(method, status).Inc()
}

// RecordDiscoveryDuration records discovery duration.
func (pm *PrometheusMetrics) RecordDiscoveryDuration(method string, duration time.Duration) {
	pm.discoveryDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// IncrementDiscoveryErrors increments the discovery error counter.
func (pm *PrometheusMetrics) IncrementDiscoveryErrors(method, errorCode string) {
	pm.discoveryErrors.WithLabelValues(method, errorCode).Inc()
}

// IncrementHostsDiscovered increments the hosts-discovered counter.
func (pm *PrometheusMetrics) IncrementHostsDiscovered(method string, count int) {
	pm.hostsDiscovered.WithLabelValues(method).Add(float64(count))
}

// SetActiveDiscovery sets the number of active discovery operations.
func (pm *PrometheusMetrics) SetActiveDiscovery(count int) {
	pm.activeDiscovery.Set(float64(count))
}

// Throttle metrics methods.

// SetThrottlePPS records the adaptive controller's current rate.
func (pm *PrometheusMetrics) SetThrottlePPS(pps float64) {
	pm.throttlePPS.Set(pps)
}

// IncrementThrottleAdjustment records a rate increase or decrease.
func (pm *PrometheusMetrics) IncrementThrottleAdjustment(direction string) {
	pm.throttleAdjustments.WithLabelValues(direction).Inc()
}

// IncrementThrottleProbe records a probe outcome fed to the controller.
func (pm *PrometheusMetrics) IncrementThrottleProbe(outcome string) {
	pm.throttleProbes.WithLabelValues(outcome).Inc()
}

// Fingerprint metrics methods.

// IncrementFingerprintMatch records a completed fuzzy match by confidence label.
func (pm *PrometheusMetrics) IncrementFingerprintMatch(confidenceLabel string) {
	pm.fingerprintMatches.WithLabelValues(confidenceLabel).Inc()
}

// RecordFingerprintConfidence records a per-category fuzzy match score.
func (pm *PrometheusMetrics) RecordFingerprintConfidence(category string, score float64) {
	pm.fingerprintConfidence.WithLabelValues(category).Observe(score)
}

// RecordFingerprintDuration records time spent in a fingerprint collection phase.
func (pm *PrometheusMetrics) RecordFingerprintDuration(phase string, duration time.Duration) {
	pm.fingerprintDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// API metrics methods.

// IncrementHTTPRequests increments the HTTP request counter.
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration.
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementHTTPErrors increments the HTTP error counter.
func (pm *PrometheusMetrics) IncrementHTTPErrors(method, path, errorType string) {
	pm.httpErrors.WithLabelValues(method, path, errorType).Inc()
}

// System metrics methods.

// UpdateSystemMetrics updates all system metrics with current values.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))

	uptime := time.Since(pm.startTime).Seconds()
	pm.uptime.Set(uptime)

	pm.lastUpdate = time.Now()
}

// SetCPUUsage sets the CPU usage percentage.
func (pm *PrometheusMetrics) SetCPUUsage(percent float64) {
	pm.cpuUsage.Set(percent)
}

// Utility methods.

// GetUptime returns the application uptime.
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time.
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates starts a goroutine that periodically updates system metrics.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access.
var (
	globalMetrics *PrometheusMetrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics returns the global Prometheus metrics instance.
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}

// Convenience functions using the global instance.

// RecordScanDurationPrometheus records a scan duration using global metrics.
func RecordScanDurationPrometheus(technique string, duration time.Duration) {
	GetGlobalMetrics().RecordScanDuration(technique, duration)
}

// IncrementScanTotalPrometheus increments scan total using global metrics.
func IncrementScanTotalPrometheus(technique, status string) {
	GetGlobalMetrics().IncrementScansTotal(technique, status)
}

// IncrementScanErrorsPrometheus increments scan errors using global metrics.
func IncrementScanErrorsPrometheus(technique, errorCode string) {
	GetGlobalMetrics().IncrementScanErrors(technique, errorCode)
}

// RecordDiscoveryDurationPrometheus records discovery duration using global metrics.
func RecordDiscoveryDurationPrometheus(method string, duration time.Duration) {
	GetGlobalMetrics().RecordDiscoveryDuration(method, duration)
}

// IncrementHostsDiscoveredPrometheus increments hosts discovered using global metrics.
func IncrementHostsDiscoveredPrometheus(method string, count int) {
	GetGlobalMetrics().IncrementHostsDiscovered(method, count)
}

// SetThrottlePPSPrometheus records the current throttle rate using global metrics.
func SetThrottlePPSPrometheus(pps float64) {
	GetGlobalMetrics().SetThrottlePPS(pps)
}
