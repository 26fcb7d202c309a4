// Package metrics — счётчики Prometheus конвейера загрузок и движка прав.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "media_relay"

// Metrics содержит все метрики процесса и собственный реестр.
type Metrics struct {
	registry *prometheus.Registry

	PipelineRuns     *prometheus.CounterVec
	Redemptions      *prometheus.CounterVec
	QuotaDenials     prometheus.Counter
	DeliveredBytes   prometheus.Histogram
	InFlight         prometheus.Gauge
	ExpiredSubs      prometheus.Counter
	DailyResets      prometheus.Counter
	NotificationsOut *prometheus.CounterVec
}

// New регистрирует метрики в новом реестре.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by terminal stage and outcome.",
		}, []string{"stage", "outcome"}),
		Redemptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_redemptions_total",
			Help:      "Access key redemption attempts by result.",
		}, []string{"result"}),
		QuotaDenials: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Downloads denied by the free daily limit.",
		}),
		DeliveredBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivered_bytes",
			Help:      "Size of delivered media files.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 8),
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_in_flight",
			Help:      "Pipelines currently running.",
		}),
		ExpiredSubs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_expired_total",
			Help:      "Subscriptions downgraded to the free tier.",
		}),
		DailyResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_resets_total",
			Help:      "User counters reset by the scheduled sweep.",
		}),
		NotificationsOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications handled by kind and result.",
		}, []string{"kind", "result"}),
	}
}

// Handler отдаёт метрики реестра.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
