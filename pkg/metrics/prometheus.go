// Package metrics provides Prometheus metrics for the typerace engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Race state cache
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	cacheEvictions      *prometheus.CounterVec
	cacheFlushes        prometheus.Counter
	cacheFlushErrors    prometheus.Counter
	cacheFlushedEntries prometheus.Counter
	cacheFlushLatency   prometheus.Histogram
	cacheEntries        prometheus.Gauge
	cacheDirtyEntries   prometheus.Gauge
	cacheMemoryBytes    prometheus.Gauge

	// Bot simulator
	botsActive   prometheus.Gauge
	botFinishes  prometheus.Counter
	botChatLines prometheus.Counter

	// Anti-cheat
	validations     *prometheus.CounterVec
	validationFlags *prometheus.CounterVec
	challenges      *prometheus.CounterVec

	// Rating engine
	ratingUpdates    prometheus.Counter
	ratingDuplicates prometheus.Counter
	ratingErrors     prometheus.Counter
	ratingDecays     prometheus.Counter

	// Reaper
	reaperSweeps    prometheus.Counter
	reaperFinalized prometheus.Counter
	reaperPurged    prometheus.Counter
	reaperFailures  prometheus.Counter

	// Races
	racesCreated  prometheus.Counter
	racesFinished prometheus.Counter

	// Outbound event queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec
	workerDeliveries   prometheus.Counter
	workerErrors       prometheus.Counter
	workerCount        prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "typerace",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix != "" {
		return m.metricPrefix + "_" + n
	}
	return n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.cacheHits = auto.NewCounter(m.counterOpts("cache_hits_total", "Race cache lookups served from memory"))
	m.cacheMisses = auto.NewCounter(m.counterOpts("cache_misses_total", "Race cache lookups that missed or expired"))
	m.cacheEvictions = auto.NewCounterVec(m.counterOpts("cache_evictions_total", "Race cache evictions by reason"), []string{"reason"})
	m.cacheFlushes = auto.NewCounter(m.counterOpts("cache_flushes_total", "Progress buffer flush batches written"))
	m.cacheFlushErrors = auto.NewCounter(m.counterOpts("cache_flush_errors_total", "Progress buffer flush batches that failed and were re-queued"))
	m.cacheFlushedEntries = auto.NewCounter(m.counterOpts("cache_flushed_entries_total", "Progress buffer entries handed to storage"))
	m.cacheFlushLatency = auto.NewHistogram(m.histogramOpts("cache_flush_latency_milliseconds", "Progress buffer flush latency in milliseconds"))
	m.cacheEntries = auto.NewGauge(m.gaugeOpts("cache_entries", "Races currently held in the cache"))
	m.cacheDirtyEntries = auto.NewGauge(m.gaugeOpts("cache_dirty_entries", "Progress buffer entries waiting for a flush"))
	m.cacheMemoryBytes = auto.NewGauge(m.gaugeOpts("cache_memory_bytes", "Estimated memory held by cached races"))

	m.botsActive = auto.NewGauge(m.gaugeOpts("bots_active", "Bots currently typing"))
	m.botFinishes = auto.NewCounter(m.counterOpts("bot_finishes_total", "Bots that completed their paragraph"))
	m.botChatLines = auto.NewCounter(m.counterOpts("bot_chat_lines_total", "Chat lines sent by bots"))

	m.validations = auto.NewCounterVec(m.counterOpts("anticheat_validations_total", "Keystroke validations by verdict"), []string{"verdict"})
	m.validationFlags = auto.NewCounterVec(m.counterOpts("anticheat_flags_total", "Anti-cheat flags raised"), []string{"flag"})
	m.challenges = auto.NewCounterVec(m.counterOpts("anticheat_challenges_total", "Human challenges by outcome"), []string{"outcome"})

	m.ratingUpdates = auto.NewCounter(m.counterOpts("rating_updates_total", "Player ratings updated after a race"))
	m.ratingDuplicates = auto.NewCounter(m.counterOpts("rating_duplicates_total", "Race rating requests skipped as already processed"))
	m.ratingErrors = auto.NewCounter(m.counterOpts("rating_errors_total", "Player rating writes that failed"))
	m.ratingDecays = auto.NewCounter(m.counterOpts("rating_decays_total", "Inactivity decays applied"))

	m.reaperSweeps = auto.NewCounter(m.counterOpts("reaper_sweeps_total", "Stale race sweeps run"))
	m.reaperFinalized = auto.NewCounter(m.counterOpts("reaper_finalized_total", "Abandoned races force-finished"))
	m.reaperPurged = auto.NewCounter(m.counterOpts("reaper_purged_total", "Old finished races deleted"))
	m.reaperFailures = auto.NewCounter(m.counterOpts("reaper_failures_total", "Per-race reaper failures"))

	m.racesCreated = auto.NewCounter(m.counterOpts("races_created_total", "Races created"))
	m.racesFinished = auto.NewCounter(m.counterOpts("races_finished_total", "Races completed by their participants"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Outbound events waiting for delivery"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Outbound event queue capacity"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Outbound events enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Outbound events dequeued"))
	m.queueEnqueueErrors = auto.NewCounterVec(m.counterOpts("queue_enqueue_errors_total", "Outbound events rejected by the queue"), []string{"reason"})
	m.workerDeliveries = auto.NewCounter(m.counterOpts("worker_deliveries_total", "Outbound events delivered to the sink"))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Outbound event deliveries that failed"))
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Event delivery workers"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
}

// Cache metrics.

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() { globalManager.cacheHits.Inc() }

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() { globalManager.cacheMisses.Inc() }

// RecordCacheEviction increments the eviction counter for reason (lru, memory, ttl).
func RecordCacheEviction(reason string) { globalManager.cacheEvictions.WithLabelValues(reason).Inc() }

// RecordCacheFlush records a successful flush of n entries.
func RecordCacheFlush(n int, latencyMs float64) {
	globalManager.cacheFlushes.Inc()
	globalManager.cacheFlushedEntries.Add(float64(n))
	globalManager.cacheFlushLatency.Observe(latencyMs)
}

// RecordCacheFlushError increments the failed flush counter.
func RecordCacheFlushError() { globalManager.cacheFlushErrors.Inc() }

// UpdateCacheEntries sets the cached race gauge.
func UpdateCacheEntries(n int) { globalManager.cacheEntries.Set(float64(n)) }

// UpdateCacheDirtyEntries sets the dirty buffer gauge.
func UpdateCacheDirtyEntries(n int) { globalManager.cacheDirtyEntries.Set(float64(n)) }

// UpdateCacheMemoryBytes sets the estimated cache memory gauge.
func UpdateCacheMemoryBytes(n int64) { globalManager.cacheMemoryBytes.Set(float64(n)) }

// Bot metrics.

// UpdateBotsActive sets the active bot gauge.
func UpdateBotsActive(n int) { globalManager.botsActive.Set(float64(n)) }

// RecordBotFinish increments the bot finish counter.
func RecordBotFinish() { globalManager.botFinishes.Inc() }

// RecordBotChat increments the bot chat counter.
func RecordBotChat() { globalManager.botChatLines.Inc() }

// Anti-cheat metrics.

// RecordValidation records a validation verdict and its flags.
func RecordValidation(valid bool, flags []string) {
	verdict := "valid"
	if !valid {
		verdict = "invalid"
	}
	globalManager.validations.WithLabelValues(verdict).Inc()
	for _, f := range flags {
		globalManager.validationFlags.WithLabelValues(f).Inc()
	}
}

// RecordChallenge records a challenge outcome (issued, passed, failed, expired).
func RecordChallenge(outcome string) { globalManager.challenges.WithLabelValues(outcome).Inc() }

// Rating metrics.

// RecordRatingUpdates adds n rating updates.
func RecordRatingUpdates(n int) { globalManager.ratingUpdates.Add(float64(n)) }

// RecordRatingDuplicate increments the duplicate race counter.
func RecordRatingDuplicate() { globalManager.ratingDuplicates.Inc() }

// RecordRatingError increments the rating write error counter.
func RecordRatingError() { globalManager.ratingErrors.Inc() }

// RecordRatingDecay increments the decay counter.
func RecordRatingDecay() { globalManager.ratingDecays.Inc() }

// Reaper metrics.

// RecordReaperSweep records one sweep and its results.
func RecordReaperSweep(finalized, purged, failures int) {
	globalManager.reaperSweeps.Inc()
	globalManager.reaperFinalized.Add(float64(finalized))
	globalManager.reaperPurged.Add(float64(purged))
	globalManager.reaperFailures.Add(float64(failures))
}

// Race metrics.

// RecordRaceCreated increments the race creation counter.
func RecordRaceCreated() { globalManager.racesCreated.Inc() }

// RecordRaceFinished increments the race completion counter.
func RecordRaceFinished() { globalManager.racesFinished.Inc() }

// Queue and worker metrics.

// UpdateQueueSize sets the outbound queue size gauge.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the outbound queue capacity gauge.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueueRate.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeueRate.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter for reason.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// RecordWorkerDelivery increments the delivered event counter.
func RecordWorkerDelivery() { globalManager.workerDeliveries.Inc() }

// RecordWorkerError increments the failed delivery counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// UpdateWorkerCount sets the worker gauge.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// HTTP metrics.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// System metrics.

// UpdateSystemMemoryUsage sets the memory usage gauge.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
