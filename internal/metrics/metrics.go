package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"flow-analytics-service/internal/domain/flow"
)

const namespace = "flow"

// Pipeline instruments ingest and the sessionize/analytics pipeline.
type Pipeline struct {
	EventsIngested   *prometheus.CounterVec
	EventsRejected   *prometheus.CounterVec
	MalformedEvents  prometheus.Gauge
	PipelineRuns     prometheus.Counter
	PipelineDuration prometheus.Histogram
	Sessions         *prometheus.GaugeVec
	UnresolvedEvents prometheus.Gauge
	OrphanExits      prometheus.Gauge
	Alerts           *prometheus.GaugeVec
	EventsPurged     prometheus.Counter
}

// NewPipeline registers every collector on reg. A nil reg leaves them
// unregistered, which is what tests usually want.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	f := promauto.With(reg)
	return &Pipeline{
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Detection events stored, by location class.",
		}, []string{"location_class"}),
		EventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Detection events refused at ingest, by reason.",
		}, []string{"reason"}),
		MalformedEvents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "malformed_events",
			Help:      "Events excluded from sessionization with a data quality warning in the last run.",
		}),
		PipelineRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Sessionization runs.",
		}),
		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent loading events and rebuilding sessions.",
			Buckets:   prometheus.DefBuckets,
		}),
		Sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Sessions produced by the last run, by status.",
		}, []string{"status"}),
		UnresolvedEvents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unresolved_events",
			Help:      "Parking detections outside every session in the last run.",
		}),
		OrphanExits: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orphan_exits",
			Help:      "OUT crossings without a matching entry in the last run.",
		}),
		Alerts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts",
			Help:      "Alerts raised by the last anomaly run, by type.",
		}, []string{"type"}),
		EventsPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_purged_total",
			Help:      "Events deleted by the retention worker.",
		}),
	}
}

func (p *Pipeline) ObserveRun(started time.Time, sessions []flow.VisitSession, unresolved, orphans, malformed int) {
	p.PipelineRuns.Inc()
	p.PipelineDuration.Observe(time.Since(started).Seconds())

	counts := map[flow.SessionStatus]int{
		flow.StatusParked:          0,
		flow.StatusPassedThrough:   0,
		flow.StatusCurrentlyInside: 0,
		flow.StatusStaleInside:     0,
	}
	for _, s := range sessions {
		counts[s.Status]++
	}
	for status, n := range counts {
		p.Sessions.WithLabelValues(string(status)).Set(float64(n))
	}
	p.UnresolvedEvents.Set(float64(unresolved))
	p.OrphanExits.Set(float64(orphans))
	p.MalformedEvents.Set(float64(malformed))
}

func (p *Pipeline) ObserveAlerts(alerts []flow.Alert) {
	counts := map[flow.AlertType]int{
		flow.AlertLowConfidence:   0,
		flow.AlertStaleInside:     0,
		flow.AlertUnlinkedParking: 0,
		flow.AlertRapidReentry:    0,
	}
	for _, a := range alerts {
		counts[a.Type]++
	}
	for t, n := range counts {
		p.Alerts.WithLabelValues(string(t)).Set(float64(n))
	}
}
