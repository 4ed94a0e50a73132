package stepauth

import "sync/atomic"

// MetricID indexes the engine's counter registry.
type MetricID uint16

const (
	// MetricLoginSuccess counts fully authenticated logins (token issued
	// without a second factor).
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected primary-credential checks.
	MetricLoginFailure
	// MetricMFARequired counts logins that transitioned to a pending
	// second factor.
	MetricMFARequired
	// MetricSMSChallengeIssued counts SMS codes generated and handed to
	// the delivery collaborator.
	MetricSMSChallengeIssued
	// MetricSMSDeliveryFailure counts delivery collaborator failures.
	MetricSMSDeliveryFailure
	// MetricSMSConfirmSuccess counts SMS step-ups completed.
	MetricSMSConfirmSuccess
	// MetricSMSConfirmFailure counts SMS step-up rejections of any kind.
	MetricSMSConfirmFailure
	// MetricSMSChallengeExpired counts verifications rejected for expiry.
	MetricSMSChallengeExpired
	// MetricTOTPConfirmSuccess counts TOTP step-ups completed.
	MetricTOTPConfirmSuccess
	// MetricTOTPConfirmFailure counts TOTP step-up rejections.
	MetricTOTPConfirmFailure
	// MetricEnrollmentStarted counts TOTP provisioning requests.
	MetricEnrollmentStarted
	// MetricEnrollmentConfirmed counts verified TOTP enablements.
	MetricEnrollmentConfirmed
	// MetricTOTPDisabled counts TOTP disable operations.
	MetricTOTPDisabled
	// MetricTokenIssued counts bearer tokens minted.
	MetricTokenIssued
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the engine's in-process counter registry. Counters are plain
// atomics; a disabled registry turns every operation into a no-op.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics returns a registry honoring cfg.Enabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether counting is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads a single counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter into a map.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
