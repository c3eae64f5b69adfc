package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/proxiscan/proxiscan/agent/internal/dispatch"
	"github.com/proxiscan/proxiscan/pkg/types"
)

// Metric names exported on /metrics.
const (
	NameDetections      = types.MetricDetections
	NameCycles          = types.MetricCycles
	NameRecordsSent     = types.MetricRecordsSent
	NameRecordsDropped  = types.MetricRecordsDropped
	NameSendDuration    = types.MetricSendDuration
	NameBufferedRecords = types.MetricBufferedRecords
)

// Metrics holds the agent's collectors and the registry they live in.
type Metrics struct {
	reg *prometheus.Registry

	detections   prometheus.Counter
	cycles       *prometheus.CounterVec
	delivered    prometheus.Counter
	dropped      prometheus.Counter
	sendDuration *prometheus.HistogramVec
}

// New creates and registers the agent collectors on a fresh registry.
// Go runtime and process collectors are included so /metrics is useful on
// its own.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: NameDetections,
			Help: "Detections recorded into the event buffer.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: NameCycles,
			Help: "Dispatch cycles by outcome (no_data, delivered, failed).",
		}, []string{types.MetricOutcomeLabel}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: NameRecordsSent,
			Help: "Records accepted by the ingestion endpoint.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: NameRecordsDropped,
			Help: "Records discarded after a failed delivery.",
		}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    NameSendDuration,
			Help:    "Wall time of one delivery attempt.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{types.MetricOutcomeLabel}),
	}
	m.reg.MustRegister(
		m.detections, m.cycles, m.delivered, m.dropped, m.sendDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Pre-create every outcome label so a zero shows up before the first cycle.
	for _, k := range []dispatch.Kind{dispatch.KindNoData, dispatch.KindDelivered, dispatch.KindFailed} {
		m.cycles.WithLabelValues(string(k))
	}
	return m
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WatchBuffer exports the open batch length, read at scrape time from size.
func (m *Metrics) WatchBuffer(size func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: NameBufferedRecords,
		Help: "Detections waiting in the open batch.",
	}, func() float64 { return float64(size()) }))
}

// Detection counts one recorded detection. It has the discovery.Tap signature.
func (m *Metrics) Detection(types.DetectionRecord) {
	m.detections.Inc()
}

// ObserveOutcome implements dispatch.Observer.
func (m *Metrics) ObserveOutcome(o dispatch.Outcome) {
	m.cycles.WithLabelValues(string(o.Kind)).Inc()
	switch o.Kind {
	case dispatch.KindDelivered:
		m.delivered.Add(float64(o.Count))
		m.sendDuration.WithLabelValues(string(o.Kind)).Observe(o.Duration.Seconds())
	case dispatch.KindFailed:
		m.dropped.Add(float64(o.Count))
		m.sendDuration.WithLabelValues(string(o.Kind)).Observe(o.Duration.Seconds())
	}
}
