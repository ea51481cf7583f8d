package tessera

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram bucket in the
// in-process metrics system.
type MetricID uint16

const (
	// MetricRegisterSuccess counts accounts created through Register.
	MetricRegisterSuccess MetricID = iota
	// MetricRegisterConflict counts registrations rejected for duplicate email or username.
	MetricRegisterConflict
	// MetricRegisterRateLimited counts throttled registrations.
	MetricRegisterRateLimited
	// MetricLoginSuccess counts successful logins.
	MetricLoginSuccess
	// MetricLoginFailure counts logins rejected with invalid credentials.
	MetricLoginFailure
	// MetricLoginRateLimited counts throttled logins.
	MetricLoginRateLimited
	// MetricLogout counts logout calls that consumed a refresh token.
	MetricLogout
	// MetricRefreshSuccess counts completed refresh rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts refresh attempts with invalid tokens.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts redemptions of already-consumed refresh tokens.
	MetricRefreshReuseDetected
	// MetricRefreshRateLimited counts throttled refresh attempts.
	MetricRefreshRateLimited
	// MetricRefreshChainRevoked counts whole-chain revocations triggered by reuse.
	MetricRefreshChainRevoked
	// MetricEmailVerificationRequest counts verification tokens issued.
	MetricEmailVerificationRequest
	// MetricEmailVerificationSuccess counts accounts marked verified.
	MetricEmailVerificationSuccess
	// MetricEmailVerificationFailure counts failed verification redemptions.
	MetricEmailVerificationFailure
	// MetricPasswordResetRequest counts reset tokens issued.
	MetricPasswordResetRequest
	// MetricPasswordResetConfirmSuccess counts completed password resets.
	MetricPasswordResetConfirmSuccess
	// MetricPasswordResetConfirmFailure counts failed reset redemptions.
	MetricPasswordResetConfirmFailure
	// MetricProfileUpdate counts profile mutations.
	MetricProfileUpdate
	// MetricStatusChange counts activate/deactivate transitions.
	MetricStatusChange
	// MetricExportSuccess counts completed exports.
	MetricExportSuccess
	// MetricImportRecordImported counts records created by bulk import.
	MetricImportRecordImported
	// MetricImportRecordUpdated counts records updated by bulk import.
	MetricImportRecordUpdated
	// MetricImportRecordSkipped counts records skipped by bulk import.
	MetricImportRecordSkipped
	// MetricImportRecordFailed counts per-record import errors.
	MetricImportRecordFailed
	// MetricBulkRateLimited counts throttled export/import calls.
	MetricBulkRateLimited
	// MetricRateLimitHit counts every throttled operation regardless of class.
	MetricRateLimitHit
	// MetricMailSendFailure counts outbound email failures (audited, never propagated).
	MetricMailSendFailure
	// MetricValidateLatency is the access-token validation latency histogram.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and an optional latency histogram for the
// access-token validation hot path. All operations are no-ops when disabled.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics instance configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether metric collection is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc atomically increments the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample for the validation histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a deep copy of all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
