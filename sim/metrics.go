package sim

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Histogram tracks latency distribution with percentile support
type Histogram struct {
	samples []float64 // Latencies in microseconds
	mu sync.RWMutex
	maxSize int // Maximum samples to retain
	sorted bool // Track if samples are sorted
}

// NewHistogram creates a new histogram with a max sample size
func NewHistogram(maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = 4096 // Default: keep last 4k samples
	}
	return &Histogram{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
		sorted: true,
	}
}

// Record adds a latency sample (in microseconds)
func (h *Histogram) Record(latencyUs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// If at capacity, remove oldest sample (FIFO)
	if len(h.samples) >= h.maxSize {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}

	h.samples = append(h.samples, latencyUs)
	h.sorted = false // Adding new sample invalidates sort order
}

// Percentile calculates the given percentile (0-100)
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return 0
	}

	// Sort if needed (lazy sorting)
	if !h.sorted {
		h.mu.RUnlock()
		h.mu.Lock()
		if !h.sorted { // Double-check after acquiring write lock
			sort.Float64s(h.samples)
			h.sorted = true
		}
		h.mu.Unlock()
		h.mu.RLock()
	}

	// Calculate index
	rank := (p / 100.0) * float64(len(h.samples)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return h.samples[lower]
	}

	// Linear interpolation between lower and upper
	weight := rank - float64(lower)
	return h.samples[lower]*(1-weight) + h.samples[upper]*weight
}

// Mean calculates the average latency
func (h *Histogram) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range h.samples {
		sum += v
	}
	return sum / float64(len(h.samples))
}

// Min returns the minimum latency
func (h *Histogram) Min() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return 0
	}

	min := h.samples[0]
	for _, v := range h.samples {
		if v < min {
			min = v
		}
	}
	return min
}

// Max returns the maximum latency
func (h *Histogram) Max() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return 0
	}

	max := h.samples[0]
	for _, v := range h.samples {
		if v > max {
			max = v
		}
	}
	return max
}

// Count returns the number of samples
func (h *Histogram) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

// Reset clears all samples
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
	h.sorted = true
}

// HistogramSnapshot holds current percentile statistics
type HistogramSnapshot struct {
	Count int
	Min float64
	Max float64
	Mean float64
	P50 float64 // Median
	P95 float64
	P99 float64
}

// Snapshot captures current histogram statistics
func (h *Histogram) Snapshot() HistogramSnapshot {
	return HistogramSnapshot{
		Count: h.Count(),
		Min: h.Min(),
		Max: h.Max(),
		Mean: h.Mean(),
		P50: h.Percentile(50),
		P95: h.Percentile(95),
		P99: h.Percentile(99),
	}
}

// Metrics tracks simulator performance metrics
type Metrics struct {
	// Engine Metrics
	pageHits atomic.Uint64
	pageFaults atomic.Uint64
	replacements atomic.Uint64
	restores atomic.Uint64

	// Scheduler Metrics
	timedSteps atomic.Uint64
	manualSteps atomic.Uint64
	pauses atomic.Uint64

	// Export Metrics
	tracesExported atomic.Uint64
	archiveBytesIn atomic.Uint64
	archiveBytesOut atomic.Uint64

	// Latency Histograms (microseconds)
	stepLatency *Histogram // ProcessPageReference latency
	restoreLatency *Histogram // RestoreToStep latency
	exportLatency *Histogram // Trace export latency

	// Timing Metrics
	startTime time.Time
	mu sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
		stepLatency: NewHistogram(4096),
		restoreLatency: NewHistogram(4096),
		exportLatency: NewHistogram(4096),
	}
}

// Engine Metrics

func (m *Metrics) RecordPageHit() {
	m.pageHits.Add(1)
}

func (m *Metrics) RecordPageFault() {
	m.pageFaults.Add(1)
}

func (m *Metrics) RecordReplacement() {
	m.replacements.Add(1)
}

func (m *Metrics) RecordRestore() {
	m.restores.Add(1)
}

// Scheduler Metrics

func (m *Metrics) RecordTimedStep() {
	m.timedSteps.Add(1)
}

func (m *Metrics) RecordManualStep() {
	m.manualSteps.Add(1)
}

func (m *Metrics) RecordPause() {
	m.pauses.Add(1)
}

// Export Metrics

func (m *Metrics) RecordTraceExport() {
	m.tracesExported.Add(1)
}

// RecordArchiveSizes records payload sizes before and after compression
func (m *Metrics) RecordArchiveSizes(uncompressed, compressed uint64) {
	m.archiveBytesIn.Add(uncompressed)
	m.archiveBytesOut.Add(compressed)
}

// Latency Recording Methods

// RecordStepLatency records the latency of one processed reference
func (m *Metrics) RecordStepLatency(duration time.Duration) {
	m.stepLatency.Record(float64(duration.Microseconds()))
}

// RecordRestoreLatency records the latency of one rewind
func (m *Metrics) RecordRestoreLatency(duration time.Duration) {
	m.restoreLatency.Record(float64(duration.Microseconds()))
}

// RecordExportLatency records the latency of one trace export
func (m *Metrics) RecordExportLatency(duration time.Duration) {
	m.exportLatency.Record(float64(duration.Microseconds()))
}

// Getters

func (m *Metrics) GetPageHits() uint64 {
	return m.pageHits.Load()
}

func (m *Metrics) GetPageFaults() uint64 {
	return m.pageFaults.Load()
}

func (m *Metrics) GetHitRate() float64 {
	hits := m.pageHits.Load()
	faults := m.pageFaults.Load()
	total := hits + faults
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

func (m *Metrics) GetReplacements() uint64 {
	return m.replacements.Load()
}

func (m *Metrics) GetRestores() uint64 {
	return m.restores.Load()
}

func (m *Metrics) GetTimedSteps() uint64 {
	return m.timedSteps.Load()
}

func (m *Metrics) GetManualSteps() uint64 {
	return m.manualSteps.Load()
}

func (m *Metrics) GetPauses() uint64 {
	return m.pauses.Load()
}

func (m *Metrics) GetTracesExported() uint64 {
	return m.tracesExported.Load()
}

// GetCompressionRatio returns compressed size over uncompressed size
func (m *Metrics) GetCompressionRatio() float64 {
	in := m.archiveBytesIn.Load()
	out := m.archiveBytesOut.Load()
	if in == 0 {
		return 0.0
	}
	return float64(out) / float64(in)
}

func (m *Metrics) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// Histogram Getters

// GetStepLatency returns snapshot of step latency distribution
func (m *Metrics) GetStepLatency() HistogramSnapshot {
	return m.stepLatency.Snapshot()
}

// GetRestoreLatency returns snapshot of rewind latency distribution
func (m *Metrics) GetRestoreLatency() HistogramSnapshot {
	return m.restoreLatency.Snapshot()
}

// GetExportLatency returns snapshot of export latency distribution
func (m *Metrics) GetExportLatency() HistogramSnapshot {
	return m.exportLatency.Snapshot()
}

// LogMetrics logs all metrics using structured logging
func (m *Metrics) LogMetrics(logger *slog.Logger) {
	step := m.GetStepLatency()
	restore := m.GetRestoreLatency()
	export := m.GetExportLatency()

	logger.Info("Simulator Metrics",
		slog.Group("engine",
			slog.Uint64("page_hits", m.GetPageHits()),
			slog.Uint64("page_faults", m.GetPageFaults()),
			slog.Float64("hit_rate", m.GetHitRate()),
			slog.Uint64("replacements", m.GetReplacements()),
			slog.Uint64("restores", m.GetRestores()),
		),
		slog.Group("scheduler",
			slog.Uint64("timed_steps", m.GetTimedSteps()),
			slog.Uint64("manual_steps", m.GetManualSteps()),
			slog.Uint64("pauses", m.GetPauses()),
		),
		slog.Group("export",
			slog.Uint64("traces_exported", m.GetTracesExported()),
			slog.Float64("compression_ratio", m.GetCompressionRatio()),
		),
		slog.Group("latency_us",
			slog.Group("step",
				slog.Int("count", step.Count),
				slog.Float64("mean", step.Mean),
				slog.Float64("p50", step.P50),
				slog.Float64("p95", step.P95),
				slog.Float64("p99", step.P99),
			),
			slog.Group("restore",
				slog.Int("count", restore.Count),
				slog.Float64("mean", restore.Mean),
				slog.Float64("p95", restore.P95),
				slog.Float64("p99", restore.P99),
			),
			slog.Group("export",
				slog.Int("count", export.Count),
				slog.Float64("mean", export.Mean),
				slog.Float64("p95", export.P95),
				slog.Float64("p99", export.P99),
			),
		),
		slog.Duration("uptime", m.GetUptime()),
	)
}

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	m.pageHits.Store(0)
	m.pageFaults.Store(0)
	m.replacements.Store(0)
	m.restores.Store(0)
	m.timedSteps.Store(0)
	m.manualSteps.Store(0)
	m.pauses.Store(0)
	m.tracesExported.Store(0)
	m.archiveBytesIn.Store(0)
	m.archiveBytesOut.Store(0)

	// Reset histograms
	m.stepLatency.Reset()
	m.restoreLatency.Reset()
	m.exportLatency.Reset()

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}
