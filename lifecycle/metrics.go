package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts pipeline outcomes. A nil registerer yields a detached
// local registry so tests and library callers need no wiring.
type Metrics struct {
	InvitesSent   prometheus.Counter
	NoticesSent   prometheus.Counter
	Failures      *prometheus.CounterVec
	RenderSeconds prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		InvitesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "signflow_invites_sent_total",
			Help: "Vendor invitation emails sent.",
		}),
		NoticesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "signflow_admin_notices_total",
			Help: "Admin completion notifications sent.",
		}),
		Failures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "signflow_pipeline_failures_total",
			Help: "Pipeline failures by fault kind.",
		}, []string{"kind"}),
		RenderSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "signflow_artifact_render_seconds",
			Help:    "Wall time spent rendering and storing signed artifacts.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}
