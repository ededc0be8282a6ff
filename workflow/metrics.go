package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes tracker activity. A nil *Metrics is a no-op.
type Metrics struct {
	runsStarted     *prometheus.CounterVec
	runConflicts    *prometheus.CounterVec
	runsFinished    *prometheus.CounterVec
	activeRunsGauge *prometheus.GaugeVec
}

// NewMetrics registers the tracker metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_etl_workflow_runs_started_total",
			Help: "Workflow runs admitted.",
		}, []string{"kind"}),
		runConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_etl_workflow_conflicts_total",
			Help: "Workflow starts rejected because a run of the same kind was active.",
		}, []string{"kind"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_etl_workflow_runs_finished_total",
			Help: "Workflow runs that reached a terminal status.",
		}, []string{"kind", "status"}),
		activeRunsGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fund_etl_workflow_active_runs",
			Help: "Workflow runs currently PENDING or RUNNING.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.runsStarted, m.runConflicts, m.runsFinished, m.activeRunsGauge)
	return m
}

func (m *Metrics) started(kind Kind) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(string(kind)).Inc()
	m.activeRunsGauge.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) conflict(kind Kind) {
	if m == nil {
		return
	}
	m.runConflicts.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) finished(kind Kind, status Status) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(string(kind), string(status)).Inc()
}

func (m *Metrics) released(kind Kind) {
	if m == nil {
		return
	}
	m.activeRunsGauge.WithLabelValues(string(kind)).Dec()
}
