package mesh

// MetricsReporter receives engine lifecycle events for counters/gauges
// maintained by a collaborator (e.g. a Prometheus collector). A nil
// MetricsReporter is never stored on the engine; WithMetrics is the only
// way to set one, and the zero value falls back to noopMetrics.
type MetricsReporter interface {
	IncRX()
	IncTX()
	IncDrop(kind DropKind)
	SetOnlineCount(n int)
	SetWaitingCount(n int)
}

// noopMetrics is the default MetricsReporter: every method is a no-op.
type noopMetrics struct{}

func (noopMetrics) IncRX()                {}
func (noopMetrics) IncTX()                {}
func (noopMetrics) IncDrop(kind DropKind) {}
func (noopMetrics) SetOnlineCount(n int)  {}
func (noopMetrics) SetWaitingCount(n int) {}
