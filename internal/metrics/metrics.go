// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// パイプラインと配信エンジンの観測フックを満たす。
type Collector struct {
	fetchTotal       *prometheus.CounterVec
	fetchLatency     prometheus.Histogram
	synthesisTotal   *prometheus.CounterVec
	synthesisLatency prometheus.Histogram
	deliveryTotal    *prometheus.CounterVec
	deliveryLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creatorpulse_fetch_total",
			Help: "ソースフェッチの合計数（ソース種別・結果別）",
		}, []string{"source_type", "result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "creatorpulse_fetch_latency_seconds",
			Help:    "ソースフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		synthesisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creatorpulse_synthesis_total",
			Help: "ドラフト生成の合計数（結果別）",
		}, []string{"result"}),
		synthesisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "creatorpulse_synthesis_latency_seconds",
			Help:    "ドラフト生成のレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		deliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creatorpulse_delivery_total",
			Help: "メール配信の合計数（結果別）",
		}, []string{"result"}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "creatorpulse_delivery_latency_seconds",
			Help:    "メール配信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.fetchTotal,
		c.fetchLatency,
		c.synthesisTotal,
		c.synthesisLatency,
		c.deliveryTotal,
		c.deliveryLatency,
	)

	return c
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// ObserveFetch はソースフェッチの結果とレイテンシを記録する。
func (c *Collector) ObserveFetch(sourceType string, success bool, duration time.Duration) {
	c.fetchTotal.WithLabelValues(sourceType, resultLabel(success)).Inc()
	c.fetchLatency.Observe(duration.Seconds())
}

// ObserveSynthesis はドラフト生成の結果とレイテンシを記録する。
func (c *Collector) ObserveSynthesis(success bool, duration time.Duration) {
	c.synthesisTotal.WithLabelValues(resultLabel(success)).Inc()
	c.synthesisLatency.Observe(duration.Seconds())
}

// ObserveDelivery はメール配信の結果とレイテンシを記録する。
func (c *Collector) ObserveDelivery(success bool, duration time.Duration) {
	c.deliveryTotal.WithLabelValues(resultLabel(success)).Inc()
	c.deliveryLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
