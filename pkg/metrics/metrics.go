// Package metrics はアップストリーム通信とログインのPrometheusメトリクスを提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics はhrgateのPrometheusメトリクス一式。
// nilレシーバーでも各記録メソッドは何もせずに戻る。
type Metrics struct {
	// UpstreamRequests はアップストリームへのリクエスト数。
	UpstreamRequests *prometheus.CounterVec
	// UpstreamDuration はアップストリームへのリクエスト所要時間。
	UpstreamDuration *prometheus.HistogramVec
	// PagesFetched はページング集約で取得したページ数。
	PagesFetched *prometheus.CounterVec
	// PartialAggregations は途中のページで失敗し打ち切られた集約の数。
	PartialAggregations *prometheus.CounterVec
	// ServiceLogins はサービスアカウントのログイン試行数。
	ServiceLogins *prometheus.CounterVec
	// Logins はエンドユーザーのログイン試行数。
	Logins *prometheus.CounterVec
}

// New はregistryにメトリクスを登録して返す。
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		UpstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrgate_upstream_requests_total",
				Help: "Total number of requests sent to the upstream HRIS API",
			},
			[]string{"upstream", "method", "status"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hrgate_upstream_request_duration_seconds",
				Help:    "Upstream HRIS API request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"upstream", "method"},
		),
		PagesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrgate_pages_fetched_total",
				Help: "Total number of pages aggregated from the upstream API",
			},
			[]string{"upstream"},
		),
		PartialAggregations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrgate_partial_aggregations_total",
				Help: "Total number of aggregations truncated by a failed later page",
			},
			[]string{"upstream"},
		),
		ServiceLogins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrgate_service_logins_total",
				Help: "Total number of service account logins",
			},
			[]string{"upstream", "success"},
		),
		Logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrgate_logins_total",
				Help: "Total number of end user login attempts",
			},
			[]string{"method", "success"},
		),
	}
}

// NewRegistry は専用レジストリとメトリクスを生成する。
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, New(reg)
}

// Handler はレジストリのメトリクスを公開するHTTPハンドラを返す。
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveUpstream はアップストリームへのリクエスト1回分を記録する。
// statusが0の場合は通信エラーとして "error" を記録する。
func (m *Metrics) ObserveUpstream(upstream, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamRequests.WithLabelValues(upstream, method, label).Inc()
	m.UpstreamDuration.WithLabelValues(upstream, method).Observe(elapsed.Seconds())
}

// AddPages は集約したページ数を記録する。
func (m *Metrics) AddPages(upstream string, pages int) {
	if m == nil || pages <= 0 {
		return
	}
	m.PagesFetched.WithLabelValues(upstream).Add(float64(pages))
}

// IncPartial は打ち切られた集約を記録する。
func (m *Metrics) IncPartial(upstream string) {
	if m == nil {
		return
	}
	m.PartialAggregations.WithLabelValues(upstream).Inc()
}

// IncServiceLogin はサービスアカウントのログイン結果を記録する。
func (m *Metrics) IncServiceLogin(upstream string, success bool) {
	if m == nil {
		return
	}
	m.ServiceLogins.WithLabelValues(upstream, strconv.FormatBool(success)).Inc()
}

// IncLogin はエンドユーザーのログイン結果を記録する。
// methodは "local" または "upstream"。
func (m *Metrics) IncLogin(method string, success bool) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(method, strconv.FormatBool(success)).Inc()
}
