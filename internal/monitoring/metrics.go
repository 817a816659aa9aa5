// Package monitoring 定义 Prometheus 指标。
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tempmail/inbox/internal/domain"
)

// Metrics 监控指标，nil 时所有记录方法都是空操作
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 投递指标
	IngestTotal        *prometheus.CounterVec
	IngestDuration     *prometheus.HistogramVec
	AttachmentsStored  prometheus.Counter
	AttachmentFailures prometheus.Counter
	AttachmentSize     prometheus.Histogram
	NotifyFailures     prometheus.Counter

	// SMTP 指标
	SMTPSessions   prometheus.Counter
	SMTPRejections *prometheus.CounterVec

	// 清理任务指标
	SweepRuns     *prometheus.CounterVec
	SweepAffected *prometheus.CounterVec
	SweepDuration *prometheus.HistogramVec

	// 快照
	AddressesByState *prometheus.GaugeVec
	MessagesTotal    prometheus.Gauge
	MessagesUnread   prometheus.Gauge
	AttachmentBytes  prometheus.Gauge

	RateLimitBlocks *prometheus.CounterVec
	PanicsTotal     prometheus.Counter
}

// NewMetrics 在给定注册表上创建指标
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		IngestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_ingest_total",
				Help: "Delivery attempts by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		IngestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_ingest_duration_seconds",
				Help:    "Time spent ingesting one message for one recipient",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		AttachmentsStored: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_attachments_stored_total",
				Help: "Attachments written to blob storage",
			},
		),
		AttachmentFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_attachment_failures_total",
				Help: "Attachments skipped because storing them failed",
			},
		),
		AttachmentSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempmail_attachment_size_bytes",
				Help:    "Attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 15),
			},
		),
		NotifyFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_notify_failures_total",
				Help: "New-mail notifications that could not be published",
			},
		),

		SMTPSessions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_smtp_sessions_total",
				Help: "SMTP sessions accepted",
			},
		),
		SMTPRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_smtp_rejections_total",
				Help: "SMTP commands rejected, by reply code",
			},
			[]string{"code"},
		),

		SweepRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_sweep_runs_total",
				Help: "Sweep job runs by status",
			},
			[]string{"job", "status"},
		),
		SweepAffected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_sweep_affected_total",
				Help: "Rows changed by sweep jobs",
			},
			[]string{"job", "kind"},
		),
		SweepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_sweep_duration_seconds",
				Help:    "Sweep job duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),

		AddressesByState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tempmail_addresses",
				Help: "Addresses by state",
			},
			[]string{"state"},
		),
		MessagesTotal: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempmail_messages",
				Help: "Stored messages",
			},
		),
		MessagesUnread: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempmail_messages_unread",
				Help: "Stored unread messages",
			},
		),
		AttachmentBytes: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempmail_attachment_bytes",
				Help: "Total size of stored attachments",
			},
		),

		RateLimitBlocks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"type"},
		),
		PanicsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_panics_total",
				Help: "Total number of panics",
			},
		),
	}
}

// NewDefaultMetrics 创建带 Go 运行时和进程指标的注册表
func NewDefaultMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetrics(reg)
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngest 记录一次投递结果
func (m *Metrics) RecordIngest(source, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(source, outcome).Inc()
	m.IngestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordAttachmentStored 记录附件保存成功
func (m *Metrics) RecordAttachmentStored(size int64) {
	if m == nil {
		return
	}
	m.AttachmentsStored.Inc()
	m.AttachmentSize.Observe(float64(size))
}

// RecordAttachmentFailure 记录附件保存失败
func (m *Metrics) RecordAttachmentFailure() {
	if m == nil {
		return
	}
	m.AttachmentFailures.Inc()
}

// RecordNotifyFailure 记录通知发送失败
func (m *Metrics) RecordNotifyFailure() {
	if m == nil {
		return
	}
	m.NotifyFailures.Inc()
}

// RecordSMTPSession 记录新的 SMTP 会话
func (m *Metrics) RecordSMTPSession() {
	if m == nil {
		return
	}
	m.SMTPSessions.Inc()
}

// RecordSMTPRejection 记录 SMTP 拒绝
func (m *Metrics) RecordSMTPRejection(code int) {
	if m == nil {
		return
	}
	m.SMTPRejections.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordSweep 记录一次清理任务运行，status 为 ok、failed 或 skipped
func (m *Metrics) RecordSweep(job, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(job, status).Inc()
	if status != "skipped" {
		m.SweepDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// RecordSweepResult 记录清理任务影响的数量
func (m *Metrics) RecordSweepResult(job string, result domain.SweepResult) {
	if m == nil {
		return
	}
	m.SweepAffected.WithLabelValues(job, "addresses").Add(float64(result.Addresses))
	m.SweepAffected.WithLabelValues(job, "messages").Add(float64(result.Messages))
	m.SweepAffected.WithLabelValues(job, "attachments").Add(float64(result.Attachments))
}

// UpdateStatistics 用统计快照更新仪表
func (m *Metrics) UpdateStatistics(s *domain.Statistics) {
	if m == nil || s == nil {
		return
	}
	m.AddressesByState.WithLabelValues("active").Set(float64(s.ActiveAddresses))
	m.AddressesByState.WithLabelValues("expired").Set(float64(s.ExpiredAddresses))
	m.AddressesByState.WithLabelValues("inactive").Set(float64(s.InactiveAddresses))
	m.MessagesTotal.Set(float64(s.TotalMessages))
	m.MessagesUnread.Set(float64(s.UnreadMessages))
	m.AttachmentBytes.Set(float64(s.AttachmentBytes))
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
