package engine

import (
	"context"
	"fmt"
	"testing"

	"hft-engine/internal/store/memory"
	"hft-engine/inventory"
	"hft-engine/latency"
	"hft-engine/market"
	"hft-engine/order"
	"hft-engine/risk"
)

// createBenchmarkEngine 创建用于基准测试的引擎（无策略、无指标）
func createBenchmarkEngine(b *testing.B, paper bool) *TradingEngine {
	b.Helper()
	st := memory.New()
	limits := risk.DefaultLimits()
	limits.MaxPositionSize = 1e12
	eng, err := New(Config{}, Components{
		Books:     market.NewBooks(market.DefaultConfig(), nil),
		Risk:      risk.NewManager(limits, nil),
		Executor:  order.NewExecutor(order.ExecutorConfig{Paper: paper}, st, nil, nil),
		Positions: inventory.NewTracker(st, nil),
		Latency:   latency.NewMonitor(1000),
	})
	if err != nil {
		b.Fatalf("Failed to create engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		b.Fatalf("Failed to start engine: %v", err)
	}
	b.Cleanup(func() { _ = eng.Stop(context.Background()) })
	return eng
}

func depthTick(symbol string, mid float64, levels int) market.Tick {
	t := market.Tick{Symbol: symbol, Price: mid}
	for i := 0; i < levels; i++ {
		off := float64(i+1) * 0.01
		t.Bids = append(t.Bids, market.Level{Price: mid - off, Size: 1})
		t.Asks = append(t.Asks, market.Level{Price: mid + off, Size: 1})
	}
	return t
}

// BenchmarkHandleTick 行情处理阶段（订单簿 + 估值）
func BenchmarkHandleTick(b *testing.B) {
	eng := createBenchmarkEngine(b, true)
	tick := depthTick("BTCUSDT", 50000, 20)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := eng.handleTick(ctx, tick); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPlaceOrderPaper 风控 + 持久化 + 成交 + 仓位
func BenchmarkPlaceOrderPaper(b *testing.B) {
	eng := createBenchmarkEngine(b, true)
	ctx := context.Background()
	_ = eng.handleTick(ctx, depthTick("BTCUSDT", 50000, 5))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := order.SideBuy
		if i%2 == 1 {
			side = order.SideSell
		}
		o := order.Order{
			ID: fmt.Sprintf("bench-%d", i), Symbol: "BTCUSDT", Side: side,
			Type: order.TypeLimit, Price: 50000, Size: 0.1,
		}
		if _, err := eng.PlaceOrder(ctx, o); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCurrentPriceParallel 并发读盘口
func BenchmarkCurrentPriceParallel(b *testing.B) {
	eng := createBenchmarkEngine(b, true)
	_ = eng.handleTick(context.Background(), depthTick("BTCUSDT", 50000, 20))

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, ok := eng.CurrentPrice("BTCUSDT"); !ok {
				b.Fatal("no price")
			}
		}
	})
}
