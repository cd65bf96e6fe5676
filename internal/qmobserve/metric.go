// Package qmobserve 暴露 Prometheus 指标
package qmobserve

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "querymind"

// 指标定义
var (
	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP 请求耗时",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path", "method", "code"})

	pipelineRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_runs_total",
		Help:      "问答流水线执行次数，按结果分类",
	}, []string{"mode", "outcome"})

	streamEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_events_total",
		Help:      "推送给客户端的流式事件数",
	}, []string{"kind"})

	firstChunkLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "analysis_first_chunk_seconds",
		Help:      "从开始分析到收到首个片段的耗时",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_streams",
		Help:      "当前打开的流式响应数",
	})
)

// Register 必须在 main 调用一次
func Register() {
	prometheus.MustRegister(httpRequestDuration, pipelineRuns, streamEvents, firstChunkLatency, activeStreams)
}

// Handler 返回 HTTP 处理器
func Handler() http.Handler { return promhttp.Handler() }

// PrometheusMiddleware 按路由模板记录每个请求的耗时
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestDuration.
			WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// ObservePipeline 记录一次流水线执行结果。mode 为 stream 或 blocking。
func ObservePipeline(mode, outcome string) {
	pipelineRuns.WithLabelValues(mode, outcome).Inc()
}

// ObserveEvent 记录一个已推送的流式事件
func ObserveEvent(kind string) {
	streamEvents.WithLabelValues(kind).Inc()
}

// ObserveFirstChunk 记录首个分析片段的等待时间
func ObserveFirstChunk(d time.Duration) {
	firstChunkLatency.Observe(d.Seconds())
}

// StreamOpened 与 StreamClosed 成对调用
func StreamOpened() { activeStreams.Inc() }

// StreamClosed 见 StreamOpened
func StreamClosed() { activeStreams.Dec() }
