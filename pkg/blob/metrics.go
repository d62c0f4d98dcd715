package blob

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts blob store operations. All methods are safe on a nil
// receiver so stores without metrics wiring skip counting entirely.
type Metrics struct {
	puts    *prometheus.CounterVec
	gets    prometheus.Counter
	deletes prometheus.Counter
}

// NewMetrics creates and registers blob operation counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trove",
			Subsystem: "blob",
			Name:      "puts_total",
			Help:      "Blob writes by outcome (written or dedup).",
		}, []string{"outcome"}),
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trove",
			Subsystem: "blob",
			Name:      "gets_total",
			Help:      "Successful blob reads.",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trove",
			Subsystem: "blob",
			Name:      "deletes_total",
			Help:      "Blob deletes, including idempotent no-ops.",
		}),
	}
	reg.MustRegister(m.puts, m.gets, m.deletes)
	return m
}

func (m *Metrics) countPut(outcome string) {
	if m == nil {
		return
	}
	m.puts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) countGet() {
	if m == nil {
		return
	}
	m.gets.Inc()
}

func (m *Metrics) countDelete() {
	if m == nil {
		return
	}
	m.deletes.Inc()
}
