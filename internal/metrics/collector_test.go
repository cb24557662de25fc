package meshmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dj3m/meshstatic/internal/mesh"
	meshmetrics "github.com/dj3m/meshstatic/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := meshmetrics.NewCollector(reg)

	if c.RX == nil {
		t.Error("RX is nil")
	}
	if c.TX == nil {
		t.Error("TX is nil")
	}
	if c.Drops == nil {
		t.Error("Drops is nil")
	}
	if c.RoutingOnline == nil {
		t.Error("RoutingOnline is nil")
	}
	if c.OutboundWaiting == nil {
		t.Error("OutboundWaiting is nil")
	}
	if c.RoutingEntries == nil {
		t.Error("RoutingEntries is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestIncRXTX(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := meshmetrics.NewCollector(reg)

	c.IncRX()
	c.IncRX()
	c.IncTX()

	if got := counterValue(t, c.RX); got != 2 {
		t.Errorf("RX = %v, want 2", got)
	}
	if got := counterValue(t, c.TX); got != 1 {
		t.Errorf("TX = %v, want 1", got)
	}
}

func TestIncDrop(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := meshmetrics.NewCollector(reg)

	c.IncDrop(mesh.DropDuplicate)
	c.IncDrop(mesh.DropDuplicate)
	c.IncDrop(mesh.DropAuthFailure)

	if got := counterVecValue(t, c.Drops, mesh.DropDuplicate.String()); got != 2 {
		t.Errorf("Drops[duplicate] = %v, want 2", got)
	}
	if got := counterVecValue(t, c.Drops, mesh.DropAuthFailure.String()); got != 1 {
		t.Errorf("Drops[auth_failure] = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := meshmetrics.NewCollector(reg)

	c.SetOnlineCount(4)
	c.SetWaitingCount(2)
	c.SetRoutingEntries(9)

	if got := gaugeValue(t, c.RoutingOnline); got != 4 {
		t.Errorf("RoutingOnline = %v, want 4", got)
	}
	if got := gaugeValue(t, c.OutboundWaiting); got != 2 {
		t.Errorf("OutboundWaiting = %v, want 2", got)
	}
	if got := gaugeValue(t, c.RoutingEntries); got != 9 {
		t.Errorf("RoutingEntries = %v, want 9", got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}
