package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/agentx-go/subagent/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.SessionState == nil {
		t.Error("SessionState is nil")
	}
	if c.Reconnects == nil {
		t.Error("Reconnects is nil")
	}
	if c.PDUsSent == nil {
		t.Error("PDUsSent is nil")
	}
	if c.PDUsReceived == nil {
		t.Error("PDUsReceived is nil")
	}
	if c.ResponseErrors == nil {
		t.Error("ResponseErrors is nil")
	}
	if c.SetTransactions == nil {
		t.Error("SetTransactions is nil")
	}
	if c.RegionRefreshAge == nil {
		t.Error("RegionRefreshAge is nil")
	}
	if c.RegionRefreshFailures == nil {
		t.Error("RegionRefreshFailures is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	_ = families
}

func TestSessionState(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetSessionState("Connecting")
	if v := gaugeValue(t, c.SessionState, "Connecting"); v != 1 {
		t.Errorf("Connecting gauge = %v, want 1", v)
	}
	if v := gaugeValue(t, c.SessionState, "Active"); v != 0 {
		t.Errorf("Active gauge = %v, want 0", v)
	}

	c.SetSessionState("Active")
	if v := gaugeValue(t, c.SessionState, "Connecting"); v != 0 {
		t.Errorf("Connecting gauge after transition = %v, want 0", v)
	}
	if v := gaugeValue(t, c.SessionState, "Active"); v != 1 {
		t.Errorf("Active gauge after transition = %v, want 1", v)
	}
}

func TestReconnects(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncReconnects()
	c.IncReconnects()

	m := &dto.Metric{}
	if err := c.Reconnects.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("Reconnects = %v, want 2", got)
	}
}

func TestPDUCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncPDUsSent("Get")
	c.IncPDUsSent("Get")
	c.IncPDUsReceived("Response")

	if v := counterValue(t, c.PDUsSent, "Get"); v != 2 {
		t.Errorf("PDUsSent(Get) = %v, want 2", v)
	}
	if v := counterValue(t, c.PDUsReceived, "Response"); v != 1 {
		t.Errorf("PDUsReceived(Response) = %v, want 1", v)
	}
}

func TestResponseErrors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncResponseErrors("duplicateRegistration")

	if v := counterValue(t, c.ResponseErrors, "duplicateRegistration"); v != 1 {
		t.Errorf("ResponseErrors = %v, want 1", v)
	}
}

func TestSetTransactions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncSetCommitted()
	c.IncSetCommitted()
	c.IncSetUndone()

	if v := counterValue(t, c.SetTransactions, "committed"); v != 2 {
		t.Errorf("SetTransactions(committed) = %v, want 2", v)
	}
	if v := counterValue(t, c.SetTransactions, "undone"); v != 1 {
		t.Errorf("SetTransactions(undone) = %v, want 1", v)
	}
}

func TestRegionRefresh(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetRegionRefreshAge("1.3.6.1.4.1.12345.1", 4.5)
	c.IncRegionRefreshFailures("1.3.6.1.4.1.12345.1")

	if v := gaugeValue(t, c.RegionRefreshAge, "1.3.6.1.4.1.12345.1"); v != 4.5 {
		t.Errorf("RegionRefreshAge = %v, want 4.5", v)
	}
	if v := counterValue(t, c.RegionRefreshFailures, "1.3.6.1.4.1.12345.1"); v != 1 {
		t.Errorf("RegionRefreshFailures = %v, want 1", v)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
