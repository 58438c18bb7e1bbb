package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		JobDuration, JobTotal, JobClaimTotal, JobStaleReleasedTotal,
		CompileKickoffTotal, CompileDuration,
		IngestTotal, ActorPollDuration, RawItemsFetched,
		WorkerBusy,
	)
}

// JobDuration Job 执行耗时（秒）
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "brandbrain_job_duration_seconds",
		Help:    "Job 执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"status"}, // succeeded | failed | retried
)

// JobTotal Job 终态总数（按状态）
var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "brandbrain_job_total",
		Help: "Job 终态总数（按状态）",
	},
	[]string{"status"},
)

// JobClaimTotal Claim 结果总数（won | empty | lost）
var JobClaimTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "brandbrain_job_claim_total",
		Help: "Claim 结果总数",
	},
	[]string{"result"},
)

// JobStaleReleasedTotal 过期租约回收总数
var JobStaleReleasedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "brandbrain_job_stale_released_total",
		Help: "过期租约回收总数",
	},
)

// CompileKickoffTotal kickoff 结果总数（enqueued | unchanged | gating_failed）
var CompileKickoffTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "brandbrain_compile_kickoff_total",
		Help: "compile kickoff 结果总数",
	},
	[]string{"result"},
)

// CompileDuration CompileRun 整体耗时（秒）
var CompileDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "brandbrain_compile_duration_seconds",
		Help:    "CompileRun 整体耗时（秒）",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"status"},
)

// IngestTotal 单 source 采集结果总数（refreshed | reused | skipped | failed）
var IngestTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "brandbrain_ingest_total",
		Help: "单 source 采集结果总数",
	},
	[]string{"platform", "result"},
)

// ActorPollDuration actor 轮询到终态的耗时（秒）
var ActorPollDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "brandbrain_actor_poll_duration_seconds",
		Help:    "actor 轮询到终态的耗时（秒）",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"status"},
)

// RawItemsFetched dataset 拉取条数
var RawItemsFetched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "brandbrain_raw_items_fetched_total",
		Help: "dataset 拉取条数",
	},
	[]string{"platform"},
)

// WorkerBusy 当前正在执行的 Job 数（每 Worker）
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "brandbrain_worker_busy",
		Help: "当前正在执行的 Job 数",
	},
	[]string{"worker_id"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
