package reconcile

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts the writes performed by an Applier. A nil *Metrics is a no-op.
type Metrics struct {
	upserted    prometheus.Counter
	partitions  *prometheus.CounterVec
	rowsWritten prometheus.Counter
}

// NewMetrics registers the apply counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		upserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fund_etl_records_upserted_total",
			Help: "Fund records rewritten by selective updates and additions.",
		}),
		partitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_etl_partitions_replaced_total",
			Help: "Region/date partitions replaced from the lookback feed.",
		}, []string{"reason"}),
		rowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fund_etl_rows_written_total",
			Help: "Rows written by the reconciliation applier.",
		}),
	}
	reg.MustRegister(m.upserted, m.partitions, m.rowsWritten)
	return m
}

func (m *Metrics) recordUpserted() {
	if m == nil {
		return
	}
	m.upserted.Inc()
	m.rowsWritten.Inc()
}

func (m *Metrics) partitionReplaced(reason WriteReason, rows int) {
	if m == nil {
		return
	}
	m.partitions.WithLabelValues(string(reason)).Inc()
	m.rowsWritten.Add(float64(rows))
}
