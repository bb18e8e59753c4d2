// Package metrics 提供 eidos-bridge 的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eidos_bridge"

// 回调指标
var (
	// WebhooksTotal 回调处理结果
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "支付回调处理总数",
		},
		[]string{"result"}, // processed, already_processed, ignored, unauthorized, malformed, not_found, error
	)

	// LedgerTransitionsTotal 账本状态迁移
	LedgerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_transitions_total",
			Help:      "支付记录状态迁移次数",
		},
		[]string{"target", "outcome"}, // outcome: applied, noop
	)

	// ChargesTotal 收款单创建
	ChargesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_total",
			Help:      "收款单创建总数",
		},
		[]string{"status"}, // created, processor_failed
	)
)

// 链上交易指标
var (
	// MintsTotal 铸币结果
	MintsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mints_total",
			Help:      "铸币交易总数",
		},
		[]string{"status"}, // submitted, confirmed, failed, reconciled
	)

	// MintDuration 提交到确认的耗时
	MintDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mint_duration_seconds",
			Help:      "铸币交易确认耗时(秒)",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// MintsInFlight 正在执行的铸币
	MintsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mints_in_flight",
			Help:      "正在执行的铸币数量",
		},
	)

	// DonationsTotal 捐赠流程结果
	DonationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donations_total",
			Help:      "捐赠流程总数",
		},
		[]string{"result"}, // settled, rejected, insufficient_funds, wrong_network, generic
	)

	// CampaignsIndexed 从工厂日志发现的活动
	CampaignsIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaigns_indexed_total",
			Help:      "从工厂事件同步的活动数量",
		},
	)

	// IndexerBlock 索引进度
	IndexerBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_block",
			Help:      "工厂事件索引进度(区块号)",
		},
	)
)

// 对账指标
var (
	// ProgressReadsTotal 进度查询的数据来源
	ProgressReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_reads_total",
			Help:      "活动进度查询次数",
		},
		[]string{"source"}, // chain, mirror
	)

	// MirrorRefreshTotal 镜像刷新结果
	MirrorRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_refresh_total",
			Help:      "活动镜像刷新次数",
		},
		[]string{"result"}, // success, failed
	)
)

// HTTP 请求指标
var (
	// HTTPRequestsTotal HTTP 请求总数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时(秒)",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)

// 后台任务指标
var (
	// JobRunsTotal 定时任务执行结果
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "定时任务执行次数",
		},
		[]string{"job", "result"}, // success, failed, skipped
	)

	// JobDuration 定时任务耗时
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "定时任务耗时(秒)",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

// RecordJob 记录一次定时任务执行
func RecordJob(job, result string, durationSeconds float64) {
	JobRunsTotal.WithLabelValues(job, result).Inc()
	if result != "skipped" {
		JobDuration.WithLabelValues(job).Observe(durationSeconds)
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordWebhook 记录回调结果
func RecordWebhook(result string) {
	WebhooksTotal.WithLabelValues(result).Inc()
}

// RecordTransition 记录账本迁移
func RecordTransition(target string, applied bool) {
	outcome := "noop"
	if applied {
		outcome = "applied"
	}
	LedgerTransitionsTotal.WithLabelValues(target, outcome).Inc()
}

// RecordMint 记录铸币状态
func RecordMint(status string) {
	MintsTotal.WithLabelValues(status).Inc()
}

// RecordDonation 记录捐赠结果
func RecordDonation(result string) {
	DonationsTotal.WithLabelValues(result).Inc()
}

// RecordProgressRead 记录进度数据来源
func RecordProgressRead(source string) {
	ProgressReadsTotal.WithLabelValues(source).Inc()
}
