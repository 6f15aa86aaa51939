package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sifan077/PowerPush/internal/app/model"
)

// Metrics holds the Prometheus collectors for the push lifecycle. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	pushesCreated *prometheus.CounterVec
	auditEvents   *prometheus.CounterVec
	expirations   *prometheus.CounterVec
	streamEvents  *prometheus.CounterVec
	filesPurged   prometheus.Counter
	pushesPurged  prometheus.Counter
	sweepDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pushesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powerpush",
			Name:      "pushes_created_total",
			Help:      "Pushes created, by kind.",
		}, []string{"kind"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powerpush",
			Name:      "audit_events_total",
			Help:      "Audit log rows written, by audit kind.",
		}, []string{"kind"}),
		expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powerpush",
			Name:      "pushes_expired_total",
			Help:      "Pushes expired, by reason (views, days, manual).",
		}, []string{"reason"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powerpush",
			Name:      "audit_stream_events_total",
			Help:      "Audit events consumed from the stream, by audit kind.",
		}, []string{"kind"}),
		filesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "powerpush",
			Name:      "files_purged_total",
			Help:      "Attachment blobs removed after their push expired.",
		}),
		pushesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "powerpush",
			Name:      "pushes_purged_total",
			Help:      "Expired anonymous pushes deleted with their audit trail.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "powerpush",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of background expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pushesCreated, m.auditEvents, m.expirations, m.streamEvents,
			m.filesPurged, m.pushesPurged, m.sweepDuration)
	}
	return m
}

func (m *Metrics) pushCreated(kind model.PushKind) {
	if m == nil {
		return
	}
	m.pushesCreated.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) audit(kind model.AuditKind) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) expired(reason string) {
	if m == nil {
		return
	}
	m.expirations.WithLabelValues(reason).Inc()
}

func (m *Metrics) streamEvent(kind model.AuditKind) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) purged(files int, pushes int64) {
	if m == nil {
		return
	}
	m.filesPurged.Add(float64(files))
	m.pushesPurged.Add(float64(pushes))
}

func (m *Metrics) sweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}
