// Package metrics 提供撮合、持仓、强平与资金费率相关的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	OrdersTotal        *prometheus.CounterVec
	OrderRejectsTotal  *prometheus.CounterVec
	TradesTotal        *prometheus.CounterVec
	MatchDuration      *prometheus.HistogramVec
	LiquidationsTotal  *prometheus.CounterVec
	FundingTicksTotal  *prometheus.CounterVec
	PositionsOpen      *prometheus.GaugeVec
	NotificationsDrops prometheus.Counter
}

// New 创建并注册指标，每个实例使用独立的 registry
func New(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "market",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: serviceName,
			Name:      "orders_total",
			Help:      "Total orders accepted",
		}, []string{"market", "type", "side"}),
		OrderRejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: serviceName,
			Name:      "order_rejects_total",
			Help:      "Total orders rejected by validation",
		}, []string{"reason"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: serviceName,
			Name:      "trades_total",
			Help:      "Total trades executed",
		}, []string{"market"}),
		MatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "market",
			Subsystem: serviceName,
			Name:      "match_duration_seconds",
			Help:      "Time spent matching and settling one order",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"market"}),
		LiquidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: serviceName,
			Name:      "liquidations_total",
			Help:      "Total liquidations executed",
		}, []string{"market", "mode"}),
		FundingTicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: serviceName,
			Name:      "funding_ticks_total",
			Help:      "Total funding snapshots applied",
		}, []string{"market"}),
		PositionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "market",
			Subsystem: serviceName,
			Name:      "positions_open",
			Help:      "Number of open futures positions",
		}, []string{"market"}),
		NotificationsDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: serviceName,
			Name:      "notifications_dropped_total",
			Help:      "Events dropped because the notification buffer was full",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrdersTotal,
		m.OrderRejectsTotal,
		m.TradesTotal,
		m.MatchDuration,
		m.LiquidationsTotal,
		m.FundingTicksTotal,
		m.PositionsOpen,
		m.NotificationsDrops,
	)
	return m
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveMatch 记录一次撮合耗时，配合 defer 使用
func (m *Metrics) ObserveMatch(market string) func() {
	start := time.Now()
	return func() {
		m.MatchDuration.WithLabelValues(market).Observe(time.Since(start).Seconds())
	}
}
