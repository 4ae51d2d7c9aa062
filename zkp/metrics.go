package zkp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks proving/verification throughput and latency for both
// consortium circuits, exposed via the node's /metrics endpoint on
// metrics_port.
type Metrics struct {
	ProofsGenerated  *prometheus.CounterVec
	ProofsVerified   *prometheus.CounterVec
	VerifyFailures   *prometheus.CounterVec
	ProveLatency     *prometheus.HistogramVec
	VerifyLatency    *prometheus.HistogramVec
}

// NewMetrics registers the ZKP subsystem's metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProofsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlementd",
			Subsystem: "zkp",
			Name:      "proofs_generated_total",
			Help:      "Number of Groth16 proofs generated, by circuit.",
		}, []string{"circuit"}),
		ProofsVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlementd",
			Subsystem: "zkp",
			Name:      "proofs_verified_total",
			Help:      "Number of Groth16 proofs that verified successfully, by circuit.",
		}, []string{"circuit"}),
		VerifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlementd",
			Subsystem: "zkp",
			Name:      "verify_failures_total",
			Help:      "Number of Groth16 proofs that failed verification, by circuit.",
		}, []string{"circuit"}),
		ProveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "settlementd",
			Subsystem: "zkp",
			Name:      "prove_seconds",
			Help:      "Time to generate a Groth16 proof, by circuit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"circuit"}),
		VerifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "settlementd",
			Subsystem: "zkp",
			Name:      "verify_seconds",
			Help:      "Time to verify a Groth16 proof, by circuit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"circuit"}),
	}
	reg.MustRegister(m.ProofsGenerated, m.ProofsVerified, m.VerifyFailures, m.ProveLatency, m.VerifyLatency)
	return m
}

// HealthStatus summarizes the ZKP subsystem's operational state.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck reports the subsystem's health from its recent verification
// failure rate: unhealthy once failures dominate, degraded once they
// become a significant minority, healthy otherwise. An empty sample
// (no verifications yet) is reported healthy since there is nothing yet
// to indicate trouble.
func HealthCheck(recentVerified, recentFailed int) HealthStatus {
	total := recentVerified + recentFailed
	if total == 0 {
		return HealthHealthy
	}
	failureRate := float64(recentFailed) / float64(total)
	switch {
	case failureRate >= 0.5:
		return HealthUnhealthy
	case failureRate >= 0.1:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}
