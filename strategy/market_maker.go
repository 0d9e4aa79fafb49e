package strategy

import (
	"math"
	"sync"
	"time"

	"hft-engine/market"
	"hft-engine/order"
)

// Name 写入 Intent.Strategy。
const Name = "market_making"

// Config 做市信号参数。
type Config struct {
	MinSpreadBps     float64       // 价差超过该值才出信号
	TargetSpreadPct  float64       // 报价价差占 mid 的比例
	BaseSize         float64       // 信号强度为 1 时的下单数量
	Cooldown         time.Duration // 同一交易对两次信号的最小间隔
	Canary           bool
	CanaryMultiplier float64
	MinSize          float64 // 低于该数量不下单
	MaxDrift         float64 // 仓位绝对值超过该值时报价整体偏移，0 表示不偏移
}

// DefaultConfig 默认参数。
func DefaultConfig() Config {
	return Config{
		MinSpreadBps:     5,
		TargetSpreadPct:  0.001,
		BaseSize:         1,
		Cooldown:         time.Second,
		Canary:           true,
		CanaryMultiplier: 0.1,
		MinSize:          0.01,
	}
}

// Inventory 提供当前净仓位。
type Inventory interface {
	NetExposure(symbol string) float64
}

// Signal 一次信号的明细。
type Signal struct {
	Symbol    string
	Mid       float64
	SpreadBps float64
	Imbalance float64
	Buy       float64 // 买方强度，[0, 2]
	Sell      float64
}

// Stats 策略统计。
type Stats struct {
	Signals int64
	Intents int64
}

// MarketMaker 盘口价差够宽时在 mid 两侧挂单，数量按失衡度倾斜：
// 买压大时买单更大，卖压大时卖单更大。
type MarketMaker struct {
	cfg Config
	inv Inventory
	now func() time.Time

	mu         sync.Mutex
	lastSignal map[string]time.Time
	stats      Stats
}

// NewMarketMaker 创建做市策略；inv 可为空。
func NewMarketMaker(cfg Config, inv Inventory) *MarketMaker {
	return &MarketMaker{
		cfg:        cfg,
		inv:        inv,
		now:        time.Now,
		lastSignal: make(map[string]time.Time),
	}
}

// SetCanary 开关灰度模式。
func (m *MarketMaker) SetCanary(on bool) {
	m.mu.Lock()
	m.cfg.Canary = on
	m.mu.Unlock()
}

// Stats 返回统计快照。
func (m *MarketMaker) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Evaluate 计算信号，冷却期内或价差不足时返回 false。
func (m *MarketMaker) Evaluate(snap market.Snapshot) (Signal, bool) {
	if !(snap.Mid > 0) || !(snap.SpreadBps > m.cfg.MinSpreadBps) {
		return Signal{}, false
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSignal[snap.Symbol]; ok && now.Sub(last) < m.cfg.Cooldown {
		return Signal{}, false
	}
	m.lastSignal[snap.Symbol] = now
	m.stats.Signals++

	strength := math.Min(snap.SpreadBps/10, 1)
	return Signal{
		Symbol:    snap.Symbol,
		Mid:       snap.Mid,
		SpreadBps: snap.SpreadBps,
		Imbalance: snap.Imbalance,
		Buy:       strength * (1 + snap.Imbalance),
		Sell:      strength * (1 - snap.Imbalance),
	}, true
}

// OnMarketData 生成一买一卖两个限价意图（数量不足的一侧省略）。
func (m *MarketMaker) OnMarketData(snap market.Snapshot, _ market.Tick) []order.Intent {
	sig, ok := m.Evaluate(snap)
	if !ok {
		return nil
	}

	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	half := sig.Mid * cfg.TargetSpreadPct / 2
	bid, ask := sig.Mid-half, sig.Mid+half

	// 按仓位偏移：多头过多时整体下移，反之上移
	if m.inv != nil && cfg.MaxDrift > 0 {
		pos := m.inv.NetExposure(sig.Symbol)
		switch {
		case pos > cfg.MaxDrift:
			bid -= half * 0.5
			ask -= half * 0.5
		case pos < -cfg.MaxDrift:
			bid += half * 0.5
			ask += half * 0.5
		}
	}

	base := cfg.BaseSize
	if cfg.Canary {
		base *= cfg.CanaryMultiplier
	}

	var out []order.Intent
	if size := base * sig.Buy; size > cfg.MinSize {
		out = append(out, order.Intent{
			Symbol: sig.Symbol, Side: order.SideBuy, Type: order.TypeLimit,
			Price: bid, Size: size, Strategy: Name, SignalStrength: sig.Buy,
		})
	}
	if size := base * sig.Sell; size > cfg.MinSize {
		out = append(out, order.Intent{
			Symbol: sig.Symbol, Side: order.SideSell, Type: order.TypeLimit,
			Price: ask, Size: size, Strategy: Name, SignalStrength: sig.Sell,
		})
	}
	if len(out) > 0 {
		m.mu.Lock()
		m.stats.Intents += int64(len(out))
		m.mu.Unlock()
	}
	return out
}
