package market

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Config 订单簿参数。
type Config struct {
	Depth           int // 每侧保留的档位数
	ImbalanceLevels int // 计算失衡度使用的档位数
	HistorySize     int // mid/spread 历史容量
}

// DefaultConfig returns depth 20, imbalance over 5 levels, 1000 history points.
func DefaultConfig() Config {
	return Config{Depth: 20, ImbalanceLevels: 5, HistorySize: 1000}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Depth <= 0 {
		c.Depth = def.Depth
	}
	if c.ImbalanceLevels <= 0 {
		c.ImbalanceLevels = def.ImbalanceLevels
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}

// OrderBook 维护单个交易对的整本快照。每次 Update 整体替换快照，
// 读者在锁内只会看到更新前或更新后的完整状态。
type OrderBook struct {
	symbol string
	cfg    Config

	mu         sync.RWMutex
	snap       Snapshot
	midHist    *Ring
	spreadHist *Ring
}

func NewOrderBook(symbol string, cfg Config) *OrderBook {
	cfg = cfg.withDefaults()
	return &OrderBook{
		symbol:     symbol,
		cfg:        cfg,
		snap:       Snapshot{Symbol: symbol},
		midHist:    NewRing(cfg.HistorySize),
		spreadHist: NewRing(cfg.HistorySize),
	}
}

func (ob *OrderBook) Symbol() string { return ob.symbol }

// Update replaces both sides with the given levels and recomputes the derived
// metrics. Mid and spread keep their previous values while either side is
// empty; imbalance is 0 in that case.
func (ob *OrderBook) Update(bids, asks []Level) Snapshot {
	return ob.UpdateAt(bids, asks, time.Now())
}

// UpdateAt is Update with an explicit timestamp.
func (ob *OrderBook) UpdateAt(bids, asks []Level, ts time.Time) Snapshot {
	b := normalize(bids, ob.cfg.Depth, true)
	a := normalize(asks, ob.cfg.Depth, false)

	ob.mu.Lock()
	defer ob.mu.Unlock()

	prev := ob.snap
	next := Snapshot{
		Symbol:    ob.symbol,
		Bids:      b,
		Asks:      a,
		Mid:       prev.Mid,
		Spread:    prev.Spread,
		Updates:   prev.Updates + 1,
		Timestamp: ts,
	}
	if len(b) > 0 {
		next.BestBid = b[0]
	}
	if len(a) > 0 {
		next.BestAsk = a[0]
	}
	if len(b) > 0 && len(a) > 0 {
		next.Mid = (b[0].Price + a[0].Price) / 2
		next.Spread = a[0].Price - b[0].Price
		next.Imbalance = CalculateImbalanceFromLevels(b, a, ob.cfg.ImbalanceLevels)
		ob.midHist.Push(next.Mid)
		ob.spreadHist.Push(next.Spread)
	}
	next.SpreadBps = spreadBps(next.Spread, next.Mid)
	ob.snap = next
	return next
}

// Snapshot 返回当前快照（值拷贝，档位切片只读）。
func (ob *OrderBook) Snapshot() Snapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.snap
}

// SnapshotWithHistory 返回当前快照及 mid/spread 历史拷贝（旧到新）。
func (ob *OrderBook) SnapshotWithHistory() Snapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	s := ob.snap
	s.MidHistory = ob.midHist.Values()
	s.SpreadHistory = ob.spreadHist.Values()
	return s
}

func (ob *OrderBook) Mid() float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.snap.Mid
}

func (ob *OrderBook) Spread() float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.snap.Spread
}

// SpreadBps returns spread/mid in basis points, 0 without a mid.
func (ob *OrderBook) SpreadBps() float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.snap.SpreadBps
}

func (ob *OrderBook) Imbalance() float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.snap.Imbalance
}

func spreadBps(spread, mid float64) float64 {
	if mid <= 0 {
		return 0
	}
	return spread / mid * 10000
}

// normalize 拷贝、过滤脏档位、排序并截断到 depth。
func normalize(levels []Level, depth int, desc bool) []Level {
	out := make([]Level, 0, min(len(levels), depth))
	for _, lv := range levels {
		if lv.Price <= 0 || lv.Size < 0 || math.IsNaN(lv.Price) || math.IsNaN(lv.Size) {
			continue
		}
		out = append(out, lv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > depth {
		out = out[:depth:depth]
	}
	return out
}
