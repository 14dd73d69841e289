// Package metrics holds the Prometheus collectors of the engine. A nil
// *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deliverability"

// Metrics is the set of engine collectors.
type Metrics struct {
	reg prometheus.Gatherer

	SendsTotal        *prometheus.CounterVec
	BouncesTotal      *prometheus.CounterVec
	DeferralsTotal    *prometheus.CounterVec
	SkipsTotal        *prometheus.CounterVec
	FingerprintBlocks prometheus.Counter
	SpamScore         prometheus.Histogram
	RepliesTotal      *prometheus.CounterVec

	BlacklistScore  *prometheus.GaugeVec
	DNSHealthScore  *prometheus.GaugeVec
	TrendSeverity   *prometheus.GaugeVec
	DailyRate       *prometheus.GaugeVec
	CampaignsPaused prometheus.Counter
	SystemPaused    prometheus.Gauge

	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		SendsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sends_total",
			Help: "Messages accepted by the transport, by transport.",
		}, []string{"transport"}),
		BouncesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_failures_total",
			Help: "Failed submissions by classification.",
		}, []string{"kind"}),
		DeferralsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deferrals_total",
			Help: "Sends deferred by the governor or account selection.",
		}, []string{"reason"}),
		SkipsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "lead_skips_total",
			Help: "Leads removed by the eligibility filter.",
		}, []string{"reason"}),
		FingerprintBlocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fingerprint_blocks_total",
			Help: "Sends refused by the content fingerprint guard.",
		}),
		SpamScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "spam_score",
			Help:    "Content analyzer score of rendered messages.",
			Buckets: []float64{10, 25, 45, 70, 100},
		}),
		RepliesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "replies_total",
			Help: "Inbound replies stored, by auto-reply flag.",
		}, []string{"auto"}),
		BlacklistScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "blacklist_score",
			Help: "Latest blacklist score per target (100 is clean).",
		}, []string{"target"}),
		DNSHealthScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dns_health_score",
			Help: "Latest authentication audit score per domain.",
		}, []string{"domain"}),
		TrendSeverity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "trend_severity",
			Help: "Trend severity per metric: 0 ok, 1 info, 2 warning, 3 critical.",
		}, []string{"metric"}),
		DailyRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "daily_rate_percent",
			Help: "Today's rate per metric in percent.",
		}, []string{"metric"}),
		CampaignsPaused: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "campaign_auto_pauses_total",
			Help: "Campaigns paused by the health check.",
		}),
		SystemPaused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "system_paused",
			Help: "1 while the global sending pause is set.",
		}),
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_runs_total",
			Help: "Job executions by job and status.",
		}, []string{"job", "status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Job execution time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"job"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Sent(transport string) {
	if m != nil {
		m.SendsTotal.WithLabelValues(transport).Inc()
	}
}

func (m *Metrics) Failed(kind string) {
	if m != nil {
		m.BouncesTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Deferred(reason string) {
	if m != nil {
		m.DeferralsTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Skipped(reason string) {
	if m != nil {
		m.SkipsTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) FingerprintBlocked() {
	if m != nil {
		m.FingerprintBlocks.Inc()
	}
}

func (m *Metrics) ObserveSpam(score int) {
	if m != nil {
		m.SpamScore.Observe(float64(score))
	}
}

func (m *Metrics) Reply(auto bool) {
	if m == nil {
		return
	}
	label := "false"
	if auto {
		label = "true"
	}
	m.RepliesTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) SetBlacklistScore(target string, score int) {
	if m != nil {
		m.BlacklistScore.WithLabelValues(target).Set(float64(score))
	}
}

func (m *Metrics) SetDNSHealth(domain string, score int) {
	if m != nil {
		m.DNSHealthScore.WithLabelValues(domain).Set(float64(score))
	}
}

func (m *Metrics) SetTrend(metric string, severity int, current float64) {
	if m != nil {
		m.TrendSeverity.WithLabelValues(metric).Set(float64(severity))
		m.DailyRate.WithLabelValues(metric).Set(current)
	}
}

func (m *Metrics) CampaignPaused() {
	if m != nil {
		m.CampaignsPaused.Inc()
	}
}

func (m *Metrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	v := 0.0
	if paused {
		v = 1
	}
	m.SystemPaused.Set(v)
}

// JobDone records one job execution.
func (m *Metrics) JobDone(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.JobRuns.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}
