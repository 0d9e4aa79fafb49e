package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersPlaced   prometheus.Counter
	ordersCanceled prometheus.Counter
	ordersFilled   prometheus.Counter
	ordersRejected prometheus.Counter

	// 交易指标
	tradesTotal  prometheus.Counter
	tradedVolume prometheus.Counter

	// 仓位指标
	position      *prometheus.GaugeVec
	unrealizedPnL prometheus.Gauge
	realizedPnL   prometheus.Gauge

	// 市场指标
	midPrice  *prometheus.GaugeVec
	spreadBps *prometheus.GaugeVec
	imbalance *prometheus.GaugeVec
	ticks     *prometheus.CounterVec

	// 风控指标
	killSwitch  prometheus.Gauge
	dailyPnL    prometheus.Gauge
	riskRejects *prometheus.CounterVec

	// 流水线指标
	stageLatency   *prometheus.HistogramVec
	intentsDropped prometheus.Counter
	loopRunning    *prometheus.GaugeVec
	loopFatal      *prometheus.CounterVec
	feedReconnects prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
	Listen    string `yaml:"listen"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "hft",
		Subsystem: "engine",
		Listen:    ":9102",
	}
}

// New 创建新的Monitor实例，使用独立 registry
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		ordersPlaced:   counter("orders_placed_total", "订单下单总数"),
		ordersCanceled: counter("orders_canceled_total", "订单撤单总数"),
		ordersFilled:   counter("orders_filled_total", "订单完全成交总数"),
		ordersRejected: counter("orders_rejected_total", "订单拒绝总数"),

		tradesTotal:  counter("trades_total", "成交笔数总数"),
		tradedVolume: counter("traded_volume_total", "累计成交量"),

		position:      gaugeVec("position", "当前净仓位", "symbol"),
		unrealizedPnL: gauge("unrealized_pnl", "未实现盈亏"),
		realizedPnL:   gauge("realized_pnl", "已实现盈亏"),

		midPrice:  gaugeVec("mid_price", "当前中间价", "symbol"),
		spreadBps: gaugeVec("spread_bps", "当前价差（基点）", "symbol"),
		imbalance: gaugeVec("imbalance", "盘口不平衡度", "symbol"),
		ticks:     counterVec("ticks_total", "处理的行情数", "symbol"),

		killSwitch:  gauge("kill_switch", "熔断开关(0=关,1=开)"),
		dailyPnL:    gauge("daily_pnl", "日内盈亏"),
		riskRejects: counterVec("risk_rejects_total", "风控拒单总数", "code"),

		stageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "stage_latency_seconds",
			Help:      "各阶段延迟分布（秒）",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"stage"}),
		intentsDropped: counter("intents_dropped_total", "队列满丢弃的策略意图"),
		loopRunning:    gaugeVec("loop_running", "行情循环是否运行", "symbol"),
		loopFatal:      counterVec("loop_fatal_total", "行情循环致命错误次数", "symbol"),
		feedReconnects: counter("feed_reconnects_total", "行情源重连次数"),
	}
}

// 订单相关方法
func (m *Monitor) RecordOrderPlaced()   { m.ordersPlaced.Inc() }
func (m *Monitor) RecordOrderCanceled() { m.ordersCanceled.Inc() }
func (m *Monitor) RecordOrderFilled()   { m.ordersFilled.Inc() }
func (m *Monitor) RecordOrderRejected() { m.ordersRejected.Inc() }

// RecordTrade 记录一笔成交
func (m *Monitor) RecordTrade(volume float64) {
	m.tradesTotal.Inc()
	m.tradedVolume.Add(volume)
}

// 仓位相关方法
func (m *Monitor) UpdatePosition(symbol string, size float64) {
	m.position.WithLabelValues(symbol).Set(size)
}

func (m *Monitor) UpdatePnL(unrealized, realized float64) {
	m.unrealizedPnL.Set(unrealized)
	m.realizedPnL.Set(realized)
}

// UpdateBook 更新盘口指标
func (m *Monitor) UpdateBook(symbol string, mid, spreadBps, imbalance float64) {
	m.ticks.WithLabelValues(symbol).Inc()
	if mid > 0 {
		m.midPrice.WithLabelValues(symbol).Set(mid)
		m.spreadBps.WithLabelValues(symbol).Set(spreadBps)
	}
	m.imbalance.WithLabelValues(symbol).Set(imbalance)
}

// 风控相关方法
func (m *Monitor) UpdateRisk(killSwitch bool, dailyPnL float64) {
	v := 0.0
	if killSwitch {
		v = 1
	}
	m.killSwitch.Set(v)
	m.dailyPnL.Set(dailyPnL)
}

func (m *Monitor) RecordRiskReject(code string) {
	m.riskRejects.WithLabelValues(code).Inc()
}

// ObserveStage 可直接作为 latency.Monitor 的 observer
func (m *Monitor) ObserveStage(stage string, d time.Duration) {
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Monitor) RecordIntentDropped() { m.intentsDropped.Inc() }

func (m *Monitor) SetLoopRunning(symbol string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	m.loopRunning.WithLabelValues(symbol).Set(v)
}

func (m *Monitor) RecordLoopFatal(symbol string) {
	m.loopFatal.WithLabelValues(symbol).Inc()
}

func (m *Monitor) RecordFeedReconnect() { m.feedReconnects.Inc() }

// Handler 返回 /metrics handler
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
