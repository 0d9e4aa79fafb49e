package inventory

import (
	"math"
	"time"

	"hft-engine/order"
)

// Position 单个交易对的净仓位。Size 为正是多头、为负是空头；
// EntryPrice 只在 Size != 0 时有意义。
type Position struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// sizeEpsilon 小于该值的仓位视为空仓，吸收浮点累加误差。
const sizeEpsilon = 1e-12

// Flat 是否空仓。
func (p Position) Flat() bool { return p.Size == 0 }

// Apply returns the position after trade t and the realized PnL it produced.
// A trade that crosses zero is treated as a full close at the trade price
// followed by a fresh open of the residual at the same price.
func Apply(old Position, t order.Trade) (Position, float64) {
	next := old
	prev := old.Size
	delta := t.SignedSize()
	size := prev + delta
	if math.Abs(size) <= sizeEpsilon {
		size = 0
	}
	realized := 0.0

	switch {
	case math.Abs(prev) <= sizeEpsilon:
		next.EntryPrice = t.Price
	case sameSign(prev, size) && math.Abs(size) >= math.Abs(prev):
		// 同向加仓：加权平均成本
		next.EntryPrice = (old.EntryPrice*math.Abs(prev) + t.Price*math.Abs(delta)) / math.Abs(size)
	default:
		closed := math.Min(math.Abs(prev), math.Abs(delta))
		realized = (t.Price - old.EntryPrice) * closed * sign(prev)
		switch {
		case size == 0:
			next.EntryPrice = 0
		case math.Abs(size) < math.Abs(prev):
			// 部分平仓，成本不变
		default:
			// 反手：剩余部分按成交价开仓
			next.EntryPrice = t.Price
		}
	}

	next.Size = size
	next.RealizedPnL += realized
	next.Symbol = t.Symbol
	if !t.Timestamp.IsZero() {
		next.UpdatedAt = t.Timestamp
	}
	return mark(next, t.Price), realized
}

// mark 按最新价重算未实现盈亏。
func mark(p Position, price float64) Position {
	p.CurrentPrice = price
	if p.Size == 0 {
		p.UnrealizedPnL = 0
		return p
	}
	p.UnrealizedPnL = (price - p.EntryPrice) * p.Size
	return p
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
