package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hft-engine/order"
)

func trade(side order.Side, size, price float64) order.Trade {
	return order.Trade{Symbol: "BTCUSDT", Side: side, Size: size, Price: price}
}

func TestApplyOpenAndAverage(t *testing.T) {
	p, r := Apply(Position{}, trade(order.SideBuy, 1, 100))
	assert.Equal(t, 0.0, r)
	assert.Equal(t, 1.0, p.Size)
	assert.Equal(t, 100.0, p.EntryPrice)

	p, r = Apply(p, trade(order.SideBuy, 3, 120))
	assert.Equal(t, 0.0, r)
	assert.Equal(t, 4.0, p.Size)
	assert.InDelta(t, 115, p.EntryPrice, 1e-9)
	assert.InDelta(t, 20, p.UnrealizedPnL, 1e-9) // (120-115)*4
}

func TestApplyPartialClose(t *testing.T) {
	p, _ := Apply(Position{}, trade(order.SideSell, 2, 100))
	p, r := Apply(p, trade(order.SideBuy, 0.5, 90))
	assert.InDelta(t, 5, r, 1e-9) // 空头盈利 (90-100)*0.5*-1
	assert.Equal(t, -1.5, p.Size)
	assert.Equal(t, 100.0, p.EntryPrice)
	assert.InDelta(t, 5, p.RealizedPnL, 1e-9)
}

func TestApplyScenarioRoundTrip(t *testing.T) {
	p, _ := Apply(Position{}, trade(order.SideBuy, 0.6, 100))
	assert.Equal(t, 0.6, p.Size)
	assert.Equal(t, 100.0, p.EntryPrice)

	p, r := Apply(p, trade(order.SideSell, 0.6, 120))
	assert.InDelta(t, 12, r, 1e-9)
	assert.Equal(t, 0.0, p.Size)
	assert.True(t, p.Flat())
	assert.Equal(t, 0.0, p.UnrealizedPnL)

	// 归零后下一笔按成交价重新开仓，不沿用旧成本
	p, _ = Apply(p, trade(order.SideSell, 0.3, 130))
	assert.Equal(t, 130.0, p.EntryPrice)
	assert.InDelta(t, -0.3, p.Size, 1e-12)
	assert.InDelta(t, 12, p.RealizedPnL, 1e-9)
}

func TestApplyFloatResidueClosesFlat(t *testing.T) {
	p, _ := Apply(Position{}, trade(order.SideBuy, 0.1, 100))
	p, _ = Apply(p, trade(order.SideBuy, 0.2, 100))
	p, r := Apply(p, trade(order.SideSell, 0.3, 110))

	assert.True(t, p.Flat())
	assert.Equal(t, 0.0, p.Size)
	assert.Equal(t, 0.0, p.EntryPrice)
	assert.Equal(t, 0.0, p.UnrealizedPnL)
	assert.InDelta(t, 3.0, r, 1e-9)
	assert.InDelta(t, 3.0, p.RealizedPnL, 1e-9)

	// 重新开仓按新成交价计成本
	p, _ = Apply(p, trade(order.SideSell, 0.5, 105))
	assert.Equal(t, -0.5, p.Size)
	assert.Equal(t, 105.0, p.EntryPrice)
}

func TestApplyFlip(t *testing.T) {
	p, _ := Apply(Position{}, trade(order.SideBuy, 1, 100))
	p, r := Apply(p, trade(order.SideSell, 3, 110))
	assert.InDelta(t, 10, r, 1e-9) // 只平掉原有 1 个
	assert.Equal(t, -2.0, p.Size)
	assert.Equal(t, 110.0, p.EntryPrice)
	assert.Equal(t, 0.0, p.UnrealizedPnL)

	// 反手后的空头继续按新成本计算
	p, r = Apply(p, trade(order.SideBuy, 2, 105))
	assert.InDelta(t, 10, r, 1e-9)
	assert.True(t, p.Flat())
	assert.InDelta(t, 20, p.RealizedPnL, 1e-9)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	old := Position{Symbol: "BTCUSDT", Size: 1, EntryPrice: 100}
	_, _ = Apply(old, trade(order.SideSell, 1, 200))
	assert.Equal(t, 1.0, old.Size)
	assert.Equal(t, 0.0, old.RealizedPnL)
}
