package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hft-engine/infrastructure/alert"
	"hft-engine/infrastructure/logger"
	"hft-engine/infrastructure/monitor"
	"hft-engine/inventory"
	"hft-engine/latency"
	"hft-engine/market"
	"hft-engine/order"
	"hft-engine/risk"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StatePaused 暂停状态：行情照常更新，策略意图丢弃
	StatePaused
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// ErrNotRunning 引擎未启动。
var ErrNotRunning = errors.New("engine not running")

// Strategy 根据最新盘口产生下单意图，可以返回空。
type Strategy interface {
	OnMarketData(snap market.Snapshot, tick market.Tick) []order.Intent
}

// Config 引擎配置
type Config struct {
	TickInterval    time.Duration // 行情循环间隔
	IntentQueueSize int           // 策略意图队列长度
	IntentWorkers   int
}

// Components 引擎依赖组件
type Components struct {
	Books     *market.Books
	Risk      *risk.Manager
	Executor  *order.Executor
	Positions *inventory.Tracker
	Latency   *latency.Monitor
	Strategy  Strategy // 可选
	Monitor   *monitor.Monitor
	Alerts    *alert.Manager
	Logger    *logger.Logger
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime      time.Time
	TotalTicks     int64
	TotalIntents   int64
	DroppedIntents int64
	TotalOrders    int64
	TotalRejects   int64
	TotalFills     int64
	TotalErrors    int64
	LastTickTime   time.Time
	LastOrderTime  time.Time
}

// TradingEngine 核心交易引擎：行情 -> 盘口 -> 策略 -> 风控 -> 下单 -> 仓位。
type TradingEngine struct {
	config Config

	books     *market.Books
	risk      *risk.Manager
	executor  *order.Executor
	positions *inventory.Tracker
	latency   *latency.Monitor
	strategy  Strategy
	monitor   *monitor.Monitor
	alerts    *alert.Manager
	logger    *logger.Logger

	mu        sync.RWMutex
	state     EngineState
	loops     map[string]*MarketDataLoop
	lastPrice map[string]float64
	cancel    context.CancelFunc
	workers   sync.WaitGroup

	// 风控检查与下单串行，保证持仓检查看到的是已提交的仓位
	placeMu sync.Mutex

	intents chan order.Intent

	statsMu sync.RWMutex
	stats   Statistics
}

// New 创建交易引擎
func New(cfg Config, c Components) (*TradingEngine, error) {
	if err := validateComponents(c); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if cfg.TickInterval < 0 {
		return nil, errors.New("invalid config: tick interval must be >= 0")
	}
	if cfg.IntentQueueSize <= 0 {
		cfg.IntentQueueSize = 256
	}
	if cfg.IntentWorkers <= 0 {
		cfg.IntentWorkers = 1
	}
	if c.Latency == nil {
		c.Latency = latency.NewMonitor(1000)
	}

	e := &TradingEngine{
		config:    cfg,
		books:     c.Books,
		risk:      c.Risk,
		executor:  c.Executor,
		positions: c.Positions,
		latency:   c.Latency,
		strategy:  c.Strategy,
		monitor:   c.Monitor,
		alerts:    c.Alerts,
		logger:    logger.OrNop(c.Logger).Named("engine"),
		state:     StateIdle,
		loops:     make(map[string]*MarketDataLoop),
		lastPrice: make(map[string]float64),
		intents:   make(chan order.Intent, cfg.IntentQueueSize),
	}

	e.executor.SetFillHandler(e.onFill)
	e.risk.SetKillSwitchHandler(e.onKillSwitch)
	if e.monitor != nil {
		e.executor.SetMetrics(e.monitor)
		e.latency.SetObserver(e.monitor.ObserveStage)
	}
	return e, nil
}

// Start 加载仓位并启动意图处理 worker
func (e *TradingEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning || e.state == StatePaused {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	e.mu.Unlock()

	if n, err := e.positions.Load(ctx); err != nil {
		return fmt.Errorf("load positions: %w", err)
	} else if n > 0 {
		e.logger.Info("positions restored", zap.Int("count", n))
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.state = StateRunning
	e.cancel = cancel
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = time.Now()
	e.statsMu.Unlock()

	for i := 0; i < e.config.IntentWorkers; i++ {
		e.workers.Add(1)
		go e.intentWorker(runCtx)
	}
	e.logger.Info("Trading engine started",
		zap.Duration("tick_interval", e.config.TickInterval),
		zap.Int("intent_queue", e.config.IntentQueueSize))
	return nil
}

// Stop 停止所有行情循环和 worker，并撤销全部挂单
func (e *TradingEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.mu.Unlock()
		return nil
	}
	loops := make([]*MarketDataLoop, 0, len(e.loops))
	for _, l := range e.loops {
		loops = append(loops, l)
	}
	cancel := e.cancel
	e.state = StateStopped
	e.mu.Unlock()

	e.logger.Info("Trading engine stopping...")
	for _, l := range loops {
		l.Stop()
	}
	if cancel != nil {
		cancel()
	}
	e.workers.Wait()

	n, err := e.executor.CancelAll(ctx)
	if err != nil {
		e.logger.Error("Failed to cancel all orders", zap.Error(err))
	}
	e.logger.Info("Trading engine stopped", zap.Int("cancelled", n))
	return err
}

// Pause 暂停下单
func (e *TradingEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.state = StatePaused
	e.logger.Info("Trading engine paused")
	return nil
}

// Resume 恢复下单
func (e *TradingEngine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return fmt.Errorf("engine not paused (state: %s)", e.state)
	}
	e.state = StateRunning
	e.logger.Info("Trading engine resumed")
	return nil
}

// GetState 获取引擎状态
func (e *TradingEngine) GetState() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// StartMarketData 为 symbol 启动行情循环；已在运行时返回 ErrAlreadyRunning。
func (e *TradingEngine) StartMarketData(ctx context.Context, symbol string, feed Feed) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning && e.state != StatePaused {
		return ErrNotRunning
	}
	if l, ok := e.loops[symbol]; ok && l.Running() {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, symbol)
	}
	l := NewMarketDataLoop(LoopConfig{
		Symbol:   symbol,
		Interval: e.config.TickInterval,
		OnFatal:  e.onLoopFatal,
	}, feed, e.handleTick, e.latency, e.logger)
	if err := l.Start(ctx); err != nil {
		return err
	}
	e.loops[symbol] = l
	if e.monitor != nil {
		e.monitor.SetLoopRunning(symbol, true)
	}
	return nil
}

// StopMarketData 停止 symbol 的行情循环并等待当前迭代完成。
func (e *TradingEngine) StopMarketData(symbol string) error {
	e.mu.RLock()
	l, ok := e.loops[symbol]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no market data loop for %s", symbol)
	}
	l.Stop()
	if e.monitor != nil {
		e.monitor.SetLoopRunning(symbol, false)
	}
	return nil
}

// MarketDataErr 返回 symbol 行情循环的致命错误（如有）。
func (e *TradingEngine) MarketDataErr(symbol string) error {
	e.mu.RLock()
	l, ok := e.loops[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	return l.Err()
}

// MarketDataDone 在 symbol 行情循环退出后关闭；未启动过返回 nil。
func (e *TradingEngine) MarketDataDone(symbol string) <-chan struct{} {
	e.mu.RLock()
	l, ok := e.loops[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	return l.Done()
}

// handleTick 行情循环的处理阶段：更新盘口、估值、调用策略并投递意图。
func (e *TradingEngine) handleTick(_ context.Context, t market.Tick) error {
	bids, asks := t.Bids, t.Asks
	if len(bids) == 0 && t.Bid > 0 {
		bids = []market.Level{{Price: t.Bid}}
	}
	if len(asks) == 0 && t.Ask > 0 {
		asks = []market.Level{{Price: t.Ask}}
	}
	snap := e.books.OnTick(market.Tick{
		Symbol: t.Symbol, Price: t.Price, Bid: t.Bid, Ask: t.Ask,
		Bids: bids, Asks: asks, Timestamp: t.Timestamp,
	})

	price := snap.Mid
	if !(price > 0) {
		price = t.Price
	}
	if price > 0 {
		e.mu.Lock()
		e.lastPrice[t.Symbol] = price
		e.mu.Unlock()
		e.positions.UpdateMarketPrice(t.Symbol, price)
	}

	e.statsMu.Lock()
	e.stats.TotalTicks++
	e.stats.LastTickTime = time.Now()
	e.statsMu.Unlock()

	if e.monitor != nil {
		e.monitor.UpdateBook(t.Symbol, snap.Mid, snap.SpreadBps, snap.Imbalance)
		pnl := e.positions.TotalPnL()
		e.monitor.UpdatePnL(pnl.Unrealized, pnl.Realized)
	}

	if e.strategy == nil || e.GetState() != StateRunning {
		return nil
	}
	token := e.latency.StartTimer()
	intents := e.strategy.OnMarketData(snap, t)
	e.latency.Record(latency.StageStrategy, token)

	for _, in := range intents {
		e.enqueue(in)
	}
	return nil
}

// enqueue 非阻塞投递；队列满时丢弃，行情循环不等待持久化。
func (e *TradingEngine) enqueue(in order.Intent) {
	select {
	case e.intents <- in:
		e.statsMu.Lock()
		e.stats.TotalIntents++
		e.statsMu.Unlock()
	default:
		e.statsMu.Lock()
		e.stats.DroppedIntents++
		e.statsMu.Unlock()
		if e.monitor != nil {
			e.monitor.RecordIntentDropped()
		}
		e.logger.Warn("intent queue full, dropping intent",
			zap.String("symbol", in.Symbol), zap.String("side", string(in.Side)))
	}
}

func (e *TradingEngine) intentWorker(ctx context.Context) {
	defer e.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-e.intents:
			if e.GetState() != StateRunning {
				continue
			}
			o, err := e.PlaceOrder(ctx, in.ToOrder())
			switch {
			case err == nil:
				e.logger.Debug("intent executed",
					zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
			case errors.Is(err, risk.ErrRejected):
				e.logger.Debug("intent rejected", zap.Error(err))
			default:
				e.logger.Warn("intent failed", zap.String("symbol", in.Symbol), zap.Error(err))
			}
		}
	}
}

// PlaceOrder 校验、风控、下单。风控拒单返回 *risk.Rejection。
func (e *TradingEngine) PlaceOrder(ctx context.Context, o order.Order) (order.Order, error) {
	token := e.latency.StartTimer()
	if err := e.executor.Check(o); err != nil {
		e.recordError()
		return o, err
	}

	e.placeMu.Lock()
	defer e.placeMu.Unlock()

	price, _ := e.CurrentPrice(o.Symbol)
	if o.Type == order.TypeMarket && o.Price == 0 {
		o.Price = price
	}
	exposure := e.positions.NetExposure(o.Symbol) + e.pendingExposure(o.Symbol)

	riskToken := e.latency.StartTimer()
	err := e.risk.CheckOrder(o, exposure, price)
	e.latency.Record(latency.StageRisk, riskToken)
	if err != nil {
		e.statsMu.Lock()
		e.stats.TotalRejects++
		e.statsMu.Unlock()
		if e.monitor != nil {
			if r, ok := risk.AsRejection(err); ok {
				e.monitor.RecordRiskReject(string(r.Code))
			}
		}
		return o, err
	}

	placed, err := e.executor.PlaceOrder(ctx, o)
	e.latency.Record(latency.StageTotal, token)
	if err != nil {
		e.recordError()
		return placed, err
	}
	e.statsMu.Lock()
	e.stats.TotalOrders++
	e.stats.LastOrderTime = time.Now()
	e.statsMu.Unlock()
	return placed, nil
}

// pendingExposure 未成交挂单的带符号剩余量。
func (e *TradingEngine) pendingExposure(symbol string) float64 {
	var sum float64
	for _, o := range e.executor.PendingOrders() {
		if o.Symbol == symbol {
			sum += o.Side.Sign() * o.Remaining()
		}
	}
	return sum
}

// CancelOrder 撤单
func (e *TradingEngine) CancelOrder(ctx context.Context, id string) (order.Order, error) {
	return e.executor.CancelOrder(ctx, id)
}

// PendingOrders 未终结订单
func (e *TradingEngine) PendingOrders() []order.Order {
	return e.executor.PendingOrders()
}

// OrderBookSnapshot 最新盘口，附带 mid/spread 滚动历史。
func (e *TradingEngine) OrderBookSnapshot(symbol string) (market.Snapshot, bool) {
	return e.books.SnapshotWithHistory(symbol)
}

// CurrentPrice 盘口中间价，单边盘口时退回最近成交价。
func (e *TradingEngine) CurrentPrice(symbol string) (float64, bool) {
	if mid := e.books.Mid(symbol); mid > 0 {
		return mid, true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.lastPrice[symbol]
	return p, ok && p > 0
}

// Positions 全部仓位
func (e *TradingEngine) Positions() []inventory.Position {
	return e.positions.Positions()
}

// TotalPnL 汇总盈亏
func (e *TradingEngine) TotalPnL() inventory.PnL {
	return e.positions.TotalPnL()
}

// RiskStatus 风控状态
func (e *TradingEngine) RiskStatus() risk.Status {
	st := e.risk.Status()
	if e.monitor != nil {
		e.monitor.UpdateRisk(st.KillSwitch, st.DailyPnL)
	}
	return st
}

// LatencyStats 各阶段延迟统计
func (e *TradingEngine) LatencyStats() map[string]latency.Stats {
	return e.latency.AllStats()
}

// GetStatistics 获取统计信息
func (e *TradingEngine) GetStatistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// onFill 成交回调：更新仓位，已实现盈亏计入风控日内 PnL。
func (e *TradingEngine) onFill(ctx context.Context, t order.Trade) {
	pos, realized, err := e.positions.Update(ctx, t)
	if err != nil {
		e.logger.Warn("position persist failed", zap.String("symbol", t.Symbol), zap.Error(err))
	}
	if realized != 0 {
		e.risk.UpdatePnL(realized)
	}
	e.statsMu.Lock()
	e.stats.TotalFills++
	e.statsMu.Unlock()

	if e.monitor != nil {
		e.monitor.UpdatePosition(t.Symbol, pos.Size)
		pnl := e.positions.TotalPnL()
		e.monitor.UpdatePnL(pnl.Unrealized, pnl.Realized)
		st := e.risk.Status()
		e.monitor.UpdateRisk(st.KillSwitch, st.DailyPnL)
	}
}

// onKillSwitch 熔断开启时撤销全部挂单并告警。
func (e *TradingEngine) onKillSwitch(active bool, reason string) {
	if e.monitor != nil {
		st := e.risk.Status()
		e.monitor.UpdateRisk(st.KillSwitch, st.DailyPnL)
	}
	if !active {
		e.logger.Info("kill switch released", zap.String("reason", reason))
		return
	}
	e.logger.Error("kill switch activated", zap.String("reason", reason))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n, err := e.executor.CancelAll(ctx); err != nil {
		e.logger.Error("Failed to cancel orders after kill switch", zap.Error(err))
	} else if n > 0 {
		e.logger.Warn("orders cancelled by kill switch", zap.Int("count", n))
	}
	if e.alerts != nil {
		_ = e.alerts.SendCritical("kill switch activated", map[string]interface{}{"reason": reason})
	}
}

func (e *TradingEngine) onLoopFatal(err *FatalLoopError) {
	e.recordError()
	if e.monitor != nil {
		e.monitor.SetLoopRunning(err.Symbol, false)
		e.monitor.RecordLoopFatal(err.Symbol)
	}
	if e.alerts != nil {
		_ = e.alerts.SendCritical("market data loop terminated", map[string]interface{}{
			"symbol": err.Symbol, "error": err.Err.Error(),
		})
	}
}

// recordError 记录错误
func (e *TradingEngine) recordError() {
	e.statsMu.Lock()
	e.stats.TotalErrors++
	e.statsMu.Unlock()
}

// validateComponents 验证组件
func validateComponents(c Components) error {
	if c.Books == nil {
		return errors.New("books is required")
	}
	if c.Risk == nil {
		return errors.New("risk manager is required")
	}
	if c.Executor == nil {
		return errors.New("executor is required")
	}
	if c.Positions == nil {
		return errors.New("position tracker is required")
	}
	return nil
}
