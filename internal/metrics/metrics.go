// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 投稿経路のラベル値。
const (
	PathUrgent = "urgent"
	PathQueue  = "queue"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインから利用する。
type MetricsCollector interface {
	RecordCollected(source string, count int)
	RecordSourceFailure(source string)
	RecordDuplicates(count int)
	RecordVerdict(kind, outcome string)
	RecordEnqueued(count int)
	RecordEvicted()
	SetQueueDepth(depth int)
	RecordPublished(path string)
	RecordPublishFailure(path string)
	RecordRequeued()
	RecordCycleDuration(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	collected      *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	duplicates     prometheus.Counter
	verdicts       *prometheus.CounterVec
	enqueued       prometheus.Counter
	evicted        prometheus.Counter
	queueDepth     prometheus.Gauge
	published      *prometheus.CounterVec
	publishFail    *prometheus.CounterVec
	requeued       prometheus.Counter
	cycleDuration  prometheus.Histogram
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		collected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrelay_items_collected_total",
			Help: "配信元ごとの収集記事数",
		}, []string{"source"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrelay_source_failures_total",
			Help: "配信元ごとの収集失敗数",
		}, []string{"source"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsrelay_duplicates_dropped_total",
			Help: "重複として除外した記事の合計数",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrelay_gate_verdicts_total",
			Help: "判定の種類と経路ごとのゲート判定数",
		}, []string{"kind", "outcome"}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsrelay_items_enqueued_total",
			Help: "投稿キューに追加した記事の合計数",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsrelay_queue_evictions_total",
			Help: "容量超過で追い出したエントリの合計数",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newsrelay_queue_depth",
			Help: "投稿キューの現在の件数",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrelay_published_total",
			Help: "投稿経路ごとの投稿成功数",
		}, []string{"path"}),
		publishFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsrelay_publish_failures_total",
			Help: "投稿経路ごとの投稿失敗数",
		}, []string{"path"}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsrelay_requeued_total",
			Help: "再試行のためにキューへ戻したエントリの合計数",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsrelay_collect_cycle_duration_seconds",
			Help:    "収集サイクルの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.collected,
		c.sourceFailures,
		c.duplicates,
		c.verdicts,
		c.enqueued,
		c.evicted,
		c.queueDepth,
		c.published,
		c.publishFail,
		c.requeued,
		c.cycleDuration,
	)

	return c
}

// RecordCollected は配信元から収集した記事数を記録する。
func (c *Collector) RecordCollected(source string, count int) {
	c.collected.WithLabelValues(source).Add(float64(count))
}

// RecordSourceFailure は配信元の収集失敗を記録する。
func (c *Collector) RecordSourceFailure(source string) {
	c.sourceFailures.WithLabelValues(source).Inc()
}

// RecordDuplicates は重複として除外した記事数を記録する。
func (c *Collector) RecordDuplicates(count int) {
	c.duplicates.Add(float64(count))
}

// RecordVerdict はゲート判定を記録する。
func (c *Collector) RecordVerdict(kind, outcome string) {
	c.verdicts.WithLabelValues(kind, outcome).Inc()
}

// RecordEnqueued はキューに追加した記事数を記録する。
func (c *Collector) RecordEnqueued(count int) {
	c.enqueued.Add(float64(count))
}

// RecordEvicted はキューからの追い出しを記録する。
func (c *Collector) RecordEvicted() {
	c.evicted.Inc()
}

// SetQueueDepth はキューの件数を更新する。
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordPublished は投稿成功を記録する。
func (c *Collector) RecordPublished(path string) {
	c.published.WithLabelValues(path).Inc()
}

// RecordPublishFailure は投稿失敗を記録する。
func (c *Collector) RecordPublishFailure(path string) {
	c.publishFail.WithLabelValues(path).Inc()
}

// RecordRequeued は再試行のための再投入を記録する。
func (c *Collector) RecordRequeued() {
	c.requeued.Inc()
}

// RecordCycleDuration は収集サイクルの所要時間を記録する。
func (c *Collector) RecordCycleDuration(duration time.Duration) {
	c.cycleDuration.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクスが不要なコマンドで使う。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordCollected(string, int) {}
func (Nop) RecordSourceFailure(string) {}
func (Nop) RecordDuplicates(int) {}
func (Nop) RecordVerdict(string, string) {}
func (Nop) RecordEnqueued(int) {}
func (Nop) RecordEvicted() {}
func (Nop) SetQueueDepth(int) {}
func (Nop) RecordPublished(string) {}
func (Nop) RecordPublishFailure(string) {}
func (Nop) RecordRequeued() {}
func (Nop) RecordCycleDuration(time.Duration) {}
