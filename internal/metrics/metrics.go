// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はスコアリング処理のPrometheusメトリクスを収集する実装。
// engagement.MetricsRecorderを満たす。
type Collector struct {
	postsAnalyzed        prometheus.Counter
	opportunities        prometheus.Counter
	analysisFailures     *prometheus.CounterVec
	batchDuration        *prometheus.HistogramVec
	chaptersRecalculated prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		postsAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_posts_analyzed_total",
			Help: "スコアリングして書き戻した投稿の合計数",
		}),
		opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_opportunities_total",
			Help: "機会と判定された投稿の合計数",
		}),
		analysisFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_analysis_failures_total",
			Help: "処理段階別のスコアリング失敗数",
		}, []string{"stage"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engagement_batch_duration_seconds",
			Help:    "バッチ処理の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		chaptersRecalculated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_chapters_recalculated_total",
			Help: "集計を再計算したチャプターの合計数",
		}),
	}

	reg.MustRegister(
		c.postsAnalyzed,
		c.opportunities,
		c.analysisFailures,
		c.batchDuration,
		c.chaptersRecalculated,
	)

	return c
}

// RecordPostAnalyzed は投稿1件のスコアリング完了を記録する。
func (c *Collector) RecordPostAnalyzed(isOpportunity bool) {
	c.postsAnalyzed.Inc()
	if isOpportunity {
		c.opportunities.Inc()
	}
}

// RecordAnalysisFailure は失敗した処理段階を記録する。
func (c *Collector) RecordAnalysisFailure(stage string) {
	c.analysisFailures.WithLabelValues(stage).Inc()
}

// RecordBatchDuration はバッチ処理の所要時間を記録する。
func (c *Collector) RecordBatchDuration(operation string, d time.Duration) {
	c.batchDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordChapterRecalculated はチャプター集計の再計算1件を記録する。
func (c *Collector) RecordChapterRecalculated() {
	c.chaptersRecalculated.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
