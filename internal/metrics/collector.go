// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/BaSui01/chatflow/conversation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器，实现 conversation.StatsSink。
// 编排器以 fire-and-forget 的方式调用，收集失败不影响运行。
type Collector struct {
	turnsTotal         *prometheus.CounterVec
	runsTotal          *prometheus.CounterVec
	providerRequests   *prometheus.CounterVec
	providerDuration   *prometheus.HistogramVec
	roomClientsCurrent prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时使用默认注册表；
// 测试中传入独立的 prometheus.NewRegistry() 避免重复注册。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns appended to conversation logs",
		},
		[]string{"author"},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished conversation runs",
		},
		[]string{"state"},
	)

	c.providerRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider completion calls",
		},
		[]string{"provider", "status"},
	)

	c.providerDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider completion call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	c.roomClientsCurrent = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_clients",
			Help:      "Number of connected chat room clients",
		},
	)

	return c
}

// RecordTurn 记录一条入日志的轮次。
func (c *Collector) RecordTurn(author string) {
	c.turnsTotal.WithLabelValues(author).Inc()
}

// RecordProviderCall 记录一次 provider 调用及其耗时。
func (c *Collector) RecordProviderCall(provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.providerRequests.WithLabelValues(provider, status).Inc()
	c.providerDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordRun 记录一次运行的终态。
func (c *Collector) RecordRun(state conversation.State) {
	c.runsTotal.WithLabelValues(string(state)).Inc()
}

// RoomClientConnected / RoomClientDisconnected 维护在线客户端数。
func (c *Collector) RoomClientConnected()    { c.roomClientsCurrent.Inc() }
func (c *Collector) RoomClientDisconnected() { c.roomClientsCurrent.Dec() }
