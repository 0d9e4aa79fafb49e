package risk

import (
	"math"
	"sync"
	"time"

	"hft-engine/infrastructure/logger"
	"hft-engine/order"
)

// State 风控状态，只通过 Manager 的方法修改。
type State struct {
	DailyPnL         float64   `json:"daily_pnl"`
	LastReset        time.Time `json:"last_reset"`
	KillSwitch       bool      `json:"kill_switch"`
	KillSwitchReason string    `json:"kill_switch_reason,omitempty"`
	RejectedOrders   int64     `json:"rejected_orders"`
}

// Status 是对外暴露的风控快照。
type Status struct {
	State
	Limits Limits `json:"limits"`
}

// KillSwitchHandler 在熔断开关变化后、锁外调用。
type KillSwitchHandler func(active bool, reason string)

// Manager 下单前风控：单笔/持仓/价格带/日内亏损 + kill switch。
// 所有状态由一把锁保护，日切检查与亏损检查在同一临界区完成。
type Manager struct {
	mu     sync.Mutex
	limits Limits
	state  State
	clock  Clock
	log    *logger.Logger
	onKill KillSwitchHandler
}

func NewManager(limits Limits, log *logger.Logger) *Manager {
	return NewManagerWithClock(limits, log, NowUTC)
}

// NewManagerWithClock 测试注入时钟。
func NewManagerWithClock(limits Limits, log *logger.Logger, clock Clock) *Manager {
	return &Manager{
		limits: limits,
		state:  State{LastReset: tradingDay(clock.Now())},
		clock:  clock,
		log:    logger.OrNop(log).Named("risk"),
	}
}

// SetKillSwitchHandler registers the kill-switch callback.
func (m *Manager) SetKillSwitchHandler(fn KillSwitchHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onKill = fn
}

// SetLimits 热更新风控参数，不影响已累计的状态。
func (m *Manager) SetLimits(l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = l
	m.log.LogRisk("limits_updated", map[string]interface{}{
		"max_position_size": l.MaxPositionSize,
		"max_order_size":    l.MaxOrderSize,
		"daily_loss_limit":  l.DailyLossLimit,
		"price_collar_pct":  l.PriceCollarPct,
	})
}

// CheckOrder runs the pre-trade checks in order and returns nil or a
// *Rejection. currentPosition is the signed position of o.Symbol.
func (m *Manager) CheckOrder(o order.Order, currentPosition, currentPrice float64) error {
	m.mu.Lock()
	rolled := m.rolloverLocked()
	rej, activated := m.checkLocked(o, currentPosition, currentPrice)
	handler := m.onKill
	m.mu.Unlock()

	m.notify(handler, rolled, activated)
	if rej != nil {
		return rej
	}
	return nil
}

func (m *Manager) checkLocked(o order.Order, currentPosition, currentPrice float64) (*Rejection, string) {
	if m.state.KillSwitch {
		return reject(CodeKillSwitch, "kill switch active"), ""
	}
	l := m.limits

	if o.Size > l.MaxOrderSize {
		m.state.RejectedOrders++
		return reject(CodeOrderSize, "order size %.8g exceeds max %.8g", o.Size, l.MaxOrderSize), ""
	}

	next := currentPosition + o.SignedSize()
	if math.Abs(next) > l.MaxPositionSize {
		m.state.RejectedOrders++
		return reject(CodePositionLimit, "resulting position %.8g exceeds max %.8g", next, l.MaxPositionSize), ""
	}

	if !(currentPrice > 0) {
		m.state.RejectedOrders++
		return reject(CodeNoReferencePrice, "no reference price for %s", o.Symbol), ""
	}
	price := o.Price
	if o.Type == order.TypeMarket && price == 0 {
		price = currentPrice
	}
	if dev := math.Abs(price-currentPrice) / currentPrice; dev > l.PriceCollarPct {
		m.state.RejectedOrders++
		return reject(CodePriceCollar, "price %.8g deviates %.2f%% from %.8g (max %.2f%%)",
			price, dev*100, currentPrice, l.PriceCollarPct*100), ""
	}

	if m.state.DailyPnL < l.lossFloor() {
		reason := "daily loss limit exceeded"
		activated := ""
		if m.activateLocked(reason) {
			activated = reason
		}
		return reject(CodeDailyLoss, "%s: daily pnl %.2f < %.2f", reason, m.state.DailyPnL, l.lossFloor()), activated
	}
	return nil, ""
}

// UpdatePnL 累加日内 PnL（成交后的已实现盈亏）。
func (m *Manager) UpdatePnL(delta float64) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return
	}
	m.mu.Lock()
	rolled := m.rolloverLocked()
	m.state.DailyPnL += delta
	handler := m.onKill
	m.mu.Unlock()
	m.notify(handler, rolled, "")
}

// ActivateKillSwitch 手动触发，已激活时为空操作。
func (m *Manager) ActivateKillSwitch(reason string) {
	if reason == "" {
		reason = "manual"
	}
	m.mu.Lock()
	activated := ""
	if m.activateLocked(reason) {
		activated = reason
	}
	handler := m.onKill
	m.mu.Unlock()
	m.notify(handler, false, activated)
}

// DeactivateKillSwitch 手动解除，任何时候都允许。
func (m *Manager) DeactivateKillSwitch() {
	m.mu.Lock()
	was := m.state.KillSwitch
	m.state.KillSwitch = false
	m.state.KillSwitchReason = ""
	handler := m.onKill
	m.mu.Unlock()
	if was {
		m.log.LogRisk("kill_switch_deactivated", map[string]interface{}{"trigger": "manual"})
		if handler != nil {
			handler(false, "manual")
		}
	}
}

// KillSwitchActive 当前开关状态（会先做日切检查）。
func (m *Manager) KillSwitchActive() bool {
	return m.Status().KillSwitch
}

// Status 返回状态快照。
func (m *Manager) Status() Status {
	m.mu.Lock()
	rolled := m.rolloverLocked()
	st := Status{State: m.state, Limits: m.limits}
	handler := m.onKill
	m.mu.Unlock()
	m.notify(handler, rolled, "")
	return st
}

// rolloverLocked 日切：清零日内 PnL，推进日期，并解除 kill switch。
// 返回是否因日切解除了 kill switch。
func (m *Manager) rolloverLocked() bool {
	today := tradingDay(m.clock.Now())
	if !m.state.LastReset.Before(today) {
		return false
	}
	prev := m.state.DailyPnL
	m.state.DailyPnL = 0
	m.state.LastReset = today
	released := m.state.KillSwitch
	m.state.KillSwitch = false
	m.state.KillSwitchReason = ""
	m.log.LogRisk("daily_reset", map[string]interface{}{
		"date":              today.Format("2006-01-02"),
		"previous_pnl":      prev,
		"kill_switch_reset": released,
	})
	return released
}

func (m *Manager) activateLocked(reason string) bool {
	if m.state.KillSwitch {
		return false
	}
	m.state.KillSwitch = true
	m.state.KillSwitchReason = reason
	m.log.LogRisk("kill_switch_activated", map[string]interface{}{
		"reason":    reason,
		"daily_pnl": m.state.DailyPnL,
	})
	return true
}

func (m *Manager) notify(handler KillSwitchHandler, released bool, activated string) {
	if handler == nil {
		return
	}
	if released {
		handler(false, "day rollover")
	}
	if activated != "" {
		handler(true, activated)
	}
}
