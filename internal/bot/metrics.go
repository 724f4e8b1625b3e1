package bot

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports request telemetry. A nil *Metrics records nothing.
type Metrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	created   *prometheus.CounterVec
	drops     prometheus.Counter
	voiceDups prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const ns, sub = "remindbot", "bot"
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "requests_total",
			Help: "Handled updates by handler and result.",
		}, []string{"handler", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "request_duration_seconds",
			Help:    "Handler latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"handler"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "reminders_created_total",
			Help: "Reminders inserted by source (command, voice, text).",
		}, []string{"source"}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "updates_dropped_total",
			Help: "Updates rejected because the worker queue was full.",
		}),
		voiceDups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "voice_duplicates_total",
			Help: "Redelivered voice messages that were skipped.",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.created, m.drops, m.voiceDups} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register bot metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeRequest(handler string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.requests.WithLabelValues(handler, result).Inc()
	m.duration.WithLabelValues(handler).Observe(d.Seconds())
}

func (m *Metrics) reminderCreated(source string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(source).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.drops.Inc()
}

func (m *Metrics) voiceDuplicate() {
	if m == nil {
		return
	}
	m.voiceDups.Inc()
}
