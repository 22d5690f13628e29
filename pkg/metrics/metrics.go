// Package metrics 提供 Prometheus helper，包含交易核心的业务指标
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wyfcoding/assetexchange/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 提交的订单总数
	OrdersSubmittedTotal *prometheus.CounterVec
	// 被拒绝的订单总数
	OrdersRejectedTotal *prometheus.CounterVec
	// 取消的订单总数
	OrdersCancelledTotal prometheus.Counter
	// 当前挂单数量
	OrdersResting prometheus.Gauge

	// 成交总数
	TradesTotal prometheus.Counter
	// 结算失败总数
	SettlementFailuresTotal prometheus.Counter
	// 撮合耗时
	MatchingDuration prometheus.Histogram
}

// New 创建并注册指标实例
func New(serviceName string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		OrdersSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "orders_submitted_total",
			Help:      "Total orders accepted into the matching stream",
		}, []string{"symbol", "side"}),
		OrdersRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "orders_rejected_total",
			Help:      "Total orders rejected before matching",
		}, []string{"reason"}),
		OrdersCancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "orders_cancelled_total",
			Help:      "Total orders cancelled",
		}),
		OrdersResting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "orders_resting",
			Help:      "Orders currently resting in the books",
		}),
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "trades_total",
			Help:      "Total settled trades",
		}),
		SettlementFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "settlement_failures_total",
			Help:      "Total settlement units aborted",
		}),
		MatchingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "exchange",
			Subsystem: serviceName,
			Name:      "matching_duration_seconds",
			Help:      "Time spent matching one submission",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrdersSubmittedTotal,
		m.OrdersRejectedTotal,
		m.OrdersCancelledTotal,
		m.OrdersResting,
		m.TradesTotal,
		m.SettlementFailuresTotal,
		m.MatchingDuration,
	)

	return m
}

// ExposeHTTP 在独立端口暴露 /metrics
func (m *Metrics) ExposeHTTP(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Metrics server starting", "addr", addr, "path", path)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error(context.Background(), "Metrics server exited", "error", err)
	}
}
