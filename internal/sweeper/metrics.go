package sweeper

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports sweep telemetry. A nil *Metrics records nothing.
type Metrics struct {
	sweeps          prometheus.Counter
	sweepDuration   prometheus.Histogram
	deliveries      *prometheus.CounterVec
	storageErrors   prometheus.Counter
	storageDegraded prometheus.Gauge
	lastDue         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const ns, sub = "remindbot", "sweeper"
	m := &Metrics{
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "sweeps_total",
			Help: "Completed sweeps, including ones that failed to read the store.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "sweep_duration_seconds",
			Help:    "Wall time of one sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "deliveries_total",
			Help: "Due reminders by outcome (delivered, failed, backoff).",
		}, []string{"result"}),
		storageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "storage_errors_total",
			Help: "Store calls that failed during sweeps.",
		}),
		storageDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "storage_degraded",
			Help: "1 while the store has failed for storage_alert_after consecutive sweeps.",
		}),
		lastDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "last_due_reminders",
			Help: "Number of due reminders seen by the last sweep.",
		}),
	}
	for _, c := range []prometheus.Collector{m.sweeps, m.sweepDuration, m.deliveries, m.storageErrors, m.storageDegraded, m.lastDue} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register sweeper metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeSweep(took time.Duration, due int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepDuration.Observe(took.Seconds())
	m.lastDue.Set(float64(due))
}

func (m *Metrics) delivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) storageError() {
	if m == nil {
		return
	}
	m.storageErrors.Inc()
}

func (m *Metrics) setDegraded(v bool) {
	if m == nil {
		return
	}
	if v {
		m.storageDegraded.Set(1)
		return
	}
	m.storageDegraded.Set(0)
}
