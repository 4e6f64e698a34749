package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 校验结果 (tooltool_verifications_total{result})
const (
	ResultNotExpired   = "not_expired"
	ResultAbandoned    = "abandoned"
	ResultUnconfigured = "unconfigured_region"
	ResultAbsent       = "absent"
	ResultTransient    = "transient_error"
	ResultInvalid      = "invalid"
	ResultVerified     = "verified"
	ResultSuperseded   = "superseded"
)

// 复制结果 (tooltool_replications_total{result})
const (
	ResultCopied = "copied"
	ResultFailed = "failed"
)

// Metrics tooltool 的全部 Prometheus 指标
// 所有方法对 nil 接收者安全，未启用指标时直接传 nil
type Metrics struct {
	registry prometheus.Gatherer

	// HTTP
	RequestsTotal   *prometheus.CounterVec   // tooltool_http_requests_total{route,method,status}
	RequestDuration *prometheus.HistogramVec // tooltool_http_request_duration_seconds{route}

	// 签名 URL
	UploadURLsIssued  prometheus.Counter     // tooltool_upload_urls_issued_total
	DownloadRedirects *prometheus.CounterVec // tooltool_download_redirects_total{region}

	// Groomers
	Verifications  *prometheus.CounterVec // tooltool_verifications_total{result}
	Replications   *prometheus.CounterVec // tooltool_replications_total{result}
	PendingUploads prometheus.Gauge       // tooltool_pending_uploads (上一轮扫描时的数量)

	// 触发队列
	TriggersPublished prometheus.Counter // tooltool_upload_complete_triggers_total
}

// New 在 registry 上注册全部指标；registry 为 nil 时新建一个独立的 Registry
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tooltool_http_requests_total",
			Help: "Total HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tooltool_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		UploadURLsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "tooltool_upload_urls_issued_total",
			Help: "Total signed upload URLs issued",
		}),

		DownloadRedirects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tooltool_download_redirects_total",
			Help: "Total download redirects by region",
		}, []string{"region"}),

		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tooltool_verifications_total",
			Help: "Pending upload checks by result",
		}, []string{"result"}),

		Replications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tooltool_replications_total",
			Help: "Cross-region copies by result",
		}, []string{"result"}),

		PendingUploads: f.NewGauge(prometheus.GaugeOpts{
			Name: "tooltool_pending_uploads",
			Help: "Pending uploads seen by the last full verification pass",
		}),

		TriggersPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "tooltool_upload_complete_triggers_total",
			Help: "Total upload-complete notifications published",
		}),
	}
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) UploadURLIssued() {
	if m == nil {
		return
	}
	m.UploadURLsIssued.Inc()
}

func (m *Metrics) DownloadRedirected(region string) {
	if m == nil {
		return
	}
	m.DownloadRedirects.WithLabelValues(region).Inc()
}

func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Replication(result string) {
	if m == nil {
		return
	}
	m.Replications.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPendingUploads(n int) {
	if m == nil {
		return
	}
	m.PendingUploads.Set(float64(n))
}

func (m *Metrics) TriggerPublished() {
	if m == nil {
		return
	}
	m.TriggersPublished.Inc()
}
