package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Install pipeline metrics
	InstallsTotal     *prometheus.CounterVec
	InstallDuration   prometheus.Histogram
	ArchiveRejections *prometheus.CounterVec
	ArchiveBytes      prometheus.Histogram
	ArchiveEntries    prometheus.Histogram

	// Registry metrics
	ExtensionsInstalled prometheus.Gauge
	ExtensionsEnabled   prometheus.Gauge

	// Surface metrics
	SurfacesActive prometheus.Gauge
	ShimInjections prometheus.Counter
	ScriptRuns     *prometheus.CounterVec

	// Catalog metrics
	CatalogFetches *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	Installs        int64   `json:"installs"`
	InstallFailures int64   `json:"install_failures"`
	ActiveSurfaces  int64   `json:"active_surfaces"`
	AvgResponseMS   float64 `json:"avg_response_ms"`
	TotalDuration   float64 `json:"-"`
	RequestCount    int64   `json:"-"`
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exthost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Install pipeline metrics
		InstallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_installs_total",
				Help: "Total number of install attempts by result",
			},
			[]string{"result"},
		),
		InstallDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "exthost_install_duration_seconds",
				Help:    "End-to-end install pipeline duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		ArchiveRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_archive_rejections_total",
				Help: "Archives rejected before or during extraction, by reason",
			},
			[]string{"reason"},
		),
		ArchiveBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "exthost_archive_extracted_bytes",
				Help:    "Decompressed bytes written per successful extraction",
				Buckets: []float64{1e4, 1e5, 1e6, 1e7, 5e7, 1e8, 2.5e8},
			},
		),
		ArchiveEntries: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "exthost_archive_entries",
				Help:    "Entries per successful extraction",
				Buckets: []float64{4, 16, 64, 256, 1024, 4096},
			},
		),

		// Registry metrics
		ExtensionsInstalled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exthost_extensions_installed",
				Help: "Number of installed extensions",
			},
		),
		ExtensionsEnabled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exthost_extensions_enabled",
				Help: "Number of enabled extensions",
			},
		),

		// Surface metrics
		SurfacesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exthost_surfaces_active",
				Help: "Number of live hosting script contexts",
			},
		),
		ShimInjections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "exthost_shim_injections_total",
				Help: "Total number of shim payload injections",
			},
		),
		ScriptRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_script_runs_total",
				Help: "Scripts executed in surfaces by status",
			},
			[]string{"status"},
		),

		// Catalog metrics
		CatalogFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exthost_catalog_fetches_total",
				Help: "Remote catalog fetches by result",
			},
			[]string{"result"},
		),

		// WebSocket metrics
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exthost_ws_connections",
				Help: "Number of active event stream connections",
			},
		),

		// System metrics
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exthost_uptime_seconds",
				Help: "Host uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordInstall records a completed install attempt
func (m *Metrics) RecordInstall(result string, duration time.Duration) {
	m.InstallsTotal.WithLabelValues(result).Inc()
	m.InstallDuration.Observe(duration.Seconds())

	m.mu.Lock()
	if result == "success" {
		m.snapshot.Installs++
	} else {
		m.snapshot.InstallFailures++
	}
	m.mu.Unlock()
}

// RecordArchiveRejection records an archive rejected for the given reason
func (m *Metrics) RecordArchiveRejection(reason string) {
	m.ArchiveRejections.WithLabelValues(reason).Inc()
}

// RecordExtraction records the size of a successful extraction
func (m *Metrics) RecordExtraction(entries int, bytes int64) {
	m.ArchiveEntries.Observe(float64(entries))
	m.ArchiveBytes.Observe(float64(bytes))
}

// SetExtensionCounts sets the installed and enabled extension gauges
func (m *Metrics) SetExtensionCounts(installed, enabled int) {
	m.ExtensionsInstalled.Set(float64(installed))
	m.ExtensionsEnabled.Set(float64(enabled))
}

// SetSurfacesActive sets the number of live surfaces
func (m *Metrics) SetSurfacesActive(count int) {
	m.SurfacesActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSurfaces = int64(count)
	m.mu.Unlock()
}

// IncShimInjections increments the shim injection counter
func (m *Metrics) IncShimInjections() {
	m.ShimInjections.Inc()
}

// RecordScriptRun records a script execution in a surface
func (m *Metrics) RecordScriptRun(status string) {
	m.ScriptRuns.WithLabelValues(status).Inc()
}

// RecordCatalogFetch records a remote catalog fetch
func (m *Metrics) RecordCatalogFetch(result string) {
	m.CatalogFetches.WithLabelValues(result).Inc()
}

// IncWSConnections increments event stream connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements event stream connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns current values for the JSON health endpoint
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snapshot
	if snap.RequestCount > 0 {
		snap.AvgResponseMS = snap.TotalDuration / float64(snap.RequestCount) * 1000
	}
	return snap
}
