// Package meshmetrics adapts engine lifecycle events to Prometheus
// instrumentation, implementing mesh.MetricsReporter.
package meshmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dj3m/meshstatic/internal/mesh"
)

const (
	namespace = "meshstatic"
	subsystem = "engine"
)

const labelDropKind = "kind"

// Collector holds all engine Prometheus metrics and implements
// mesh.MetricsReporter, the interface mesh.WithMetrics expects.
type Collector struct {
	// RX counts frames handed to Engine.Ingest.
	RX prometheus.Counter

	// TX counts frames handed to Link.Send.
	TX prometheus.Counter

	// Drops counts ingest/forward drops labeled by mesh.DropKind.
	Drops *prometheus.CounterVec

	// RoutingOnline tracks the routing table's currently-online device
	// count (spec.md §4.3 online/stale/offline), pushed by the engine
	// itself on every sweep.
	RoutingOnline prometheus.Gauge

	// OutboundWaiting tracks packets currently awaiting ACK
	// (spec.md §4.4), pushed by the engine on submit/resolve/expire.
	OutboundWaiting prometheus.Gauge

	// RoutingEntries tracks total routing-table occupancy (online,
	// stale, and about-to-be-evicted). The engine's MetricsReporter
	// contract has no hook for this, so cmd/meshnode refreshes it
	// itself from Engine.SnapshotRoutes().
	RoutingEntries prometheus.Gauge
}

// NewCollector creates a Collector registered against reg. If reg is
// nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(c.RX, c.TX, c.Drops, c.RoutingOnline, c.OutboundWaiting, c.RoutingEntries)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		RX: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rx_total",
			Help:      "Total frames handed to Engine.Ingest.",
		}),

		TX: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tx_total",
			Help:      "Total frames transmitted via the link driver.",
		}),

		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "drops_total",
			Help:      "Total packets dropped, labeled by drop reason.",
		}, []string{labelDropKind}),

		RoutingOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routing_online",
			Help:      "Number of routing-table entries currently online.",
		}),

		OutboundWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbound_waiting",
			Help:      "Number of packets currently awaiting acknowledgement.",
		}),

		RoutingEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routing_entries",
			Help:      "Total routing-table occupancy, all statuses.",
		}),
	}
}

// IncRX implements mesh.MetricsReporter.
func (c *Collector) IncRX() { c.RX.Inc() }

// IncTX implements mesh.MetricsReporter.
func (c *Collector) IncTX() { c.TX.Inc() }

// IncDrop implements mesh.MetricsReporter.
func (c *Collector) IncDrop(kind mesh.DropKind) {
	c.Drops.WithLabelValues(kind.String()).Inc()
}

// SetOnlineCount implements mesh.MetricsReporter.
func (c *Collector) SetOnlineCount(n int) { c.RoutingOnline.Set(float64(n)) }

// SetWaitingCount implements mesh.MetricsReporter.
func (c *Collector) SetWaitingCount(n int) { c.OutboundWaiting.Set(float64(n)) }

// SetRoutingEntries records total routing-table occupancy. Not part of
// mesh.MetricsReporter; called directly by cmd/meshnode's periodic
// refresh loop since the engine has no push hook for raw table size.
func (c *Collector) SetRoutingEntries(n int) { c.RoutingEntries.Set(float64(n)) }
