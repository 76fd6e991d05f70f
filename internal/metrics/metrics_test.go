package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveCycleCountsOutcome(t *testing.T) {
	before := counterValue(t, cyclesTotal.WithLabelValues("accepted"))
	ObserveCycle(250*time.Millisecond, "accepted")
	if got := counterValue(t, cyclesTotal.WithLabelValues("accepted")); got != before+1 {
		t.Fatalf("expected counter to increase by one, got %v -> %v", before, got)
	}

	errBefore := counterValue(t, cyclesTotal.WithLabelValues(OutcomeError))
	ObserveCycle(-time.Second, "")
	if got := counterValue(t, cyclesTotal.WithLabelValues(OutcomeError)); got != errBefore+1 {
		t.Fatalf("empty outcome should count as error")
	}
}
