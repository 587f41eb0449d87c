// Package metrics holds the Prometheus collectors for sync, notification and
// document-store traffic. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metric names.
const (
	MetricMirrorPushTotal       = "boost_mirror_push_total"
	MetricMirrorDeleteTotal     = "boost_mirror_delete_total"
	MetricMirrorPullTotal       = "boost_mirror_pull_total"
	MetricMirrorPullSeconds     = "boost_mirror_pull_duration_seconds"
	MetricNotifyMessagesTotal   = "boost_notify_messages_total"
	MetricSyncState             = "boost_sync_state"
	MetricDocstoreRequestsTotal = "boost_docstore_requests_total"
	MetricDocstoreSeconds       = "boost_docstore_request_duration_seconds"
)

// Outcome labels.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Metrics owns a private registry so tests and embedded use never collide
// with the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	mirrorPush     *prometheus.CounterVec
	mirrorDelete   *prometheus.CounterVec
	mirrorPull     *prometheus.CounterVec
	pullDuration   prometheus.Histogram
	notifyMessages *prometheus.CounterVec
	syncState      prometheus.Gauge
	docRequests    *prometheus.CounterVec
	docDuration    *prometheus.HistogramVec
}

// New creates and registers every collector. withRuntime adds the Go and
// process collectors, which boostd wants and tests do not.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mirrorPush: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMirrorPushTotal,
			Help: "Cloud mirror pushes by partition and result.",
		}, []string{"partition", "result"}),
		mirrorDelete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMirrorDeleteTotal,
			Help: "Cloud mirror deletes by partition and result.",
		}, []string{"partition", "result"}),
		mirrorPull: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMirrorPullTotal,
			Help: "Full workspace pulls by result.",
		}, []string{"result"}),
		pullDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricMirrorPullSeconds,
			Help:    "Duration of full workspace pulls.",
			Buckets: prometheus.DefBuckets,
		}),
		notifyMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricNotifyMessagesTotal,
			Help: "Change notifications by direction and type.",
		}, []string{"direction", "type"}),
		syncState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSyncState,
			Help: "Current sync state: 0 offline, 1 syncing, 2 connected.",
		}),
		docRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDocstoreRequestsTotal,
			Help: "Document store API requests by operation and status code.",
		}, []string{"op", "status"}),
		docDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricDocstoreSeconds,
			Help:    "Document store API latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.mirrorPush, m.mirrorDelete, m.mirrorPull, m.pullDuration,
		m.notifyMessages, m.syncState, m.docRequests, m.docDuration,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the registry backing this instance.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MirrorPush(partition, result string) {
	if m == nil {
		return
	}
	m.mirrorPush.WithLabelValues(partition, result).Inc()
}

func (m *Metrics) MirrorDelete(partition, result string) {
	if m == nil {
		return
	}
	m.mirrorDelete.WithLabelValues(partition, result).Inc()
}

func (m *Metrics) MirrorPull(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.mirrorPull.WithLabelValues(result).Inc()
	m.pullDuration.Observe(d.Seconds())
}

// NotifySent and NotifyReceived count change notifications.
func (m *Metrics) NotifySent(changeType string) {
	if m == nil {
		return
	}
	m.notifyMessages.WithLabelValues("sent", changeType).Inc()
}

func (m *Metrics) NotifyReceived(changeType string) {
	if m == nil {
		return
	}
	m.notifyMessages.WithLabelValues("received", changeType).Inc()
}

func (m *Metrics) SetSyncState(v int) {
	if m == nil {
		return
	}
	m.syncState.Set(float64(v))
}

func (m *Metrics) DocstoreRequest(op string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.docRequests.WithLabelValues(op, statusLabel(status)).Inc()
	m.docDuration.WithLabelValues(op).Observe(d.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
