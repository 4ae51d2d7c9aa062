package zkp

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ProofsGenerated.WithLabelValues("bce_privacy").Inc()
	m.ProofsVerified.WithLabelValues("settlement_calc").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one registered metric family")
	}
}

func TestHealthCheckThresholds(t *testing.T) {
	cases := []struct {
		verified, failed int
		want              HealthStatus
	}{
		{0, 0, HealthHealthy},
		{100, 0, HealthHealthy},
		{90, 5, HealthHealthy},
		{85, 15, HealthDegraded},
		{40, 60, HealthUnhealthy},
	}
	for _, c := range cases {
		if got := HealthCheck(c.verified, c.failed); got != c.want {
			t.Errorf("HealthCheck(%d, %d): got %s want %s", c.verified, c.failed, got, c.want)
		}
	}
}
