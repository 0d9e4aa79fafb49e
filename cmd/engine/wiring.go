package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hft-engine/config"
	"hft-engine/gateway"
	"hft-engine/infrastructure/logger"
	"hft-engine/infrastructure/monitor"
	"hft-engine/internal/engine"
	"hft-engine/internal/store/memory"
	"hft-engine/internal/store/postgres"
	"hft-engine/internal/store/sqlite"
	"hft-engine/inventory"
	"hft-engine/order"
	"hft-engine/sim"
	"hft-engine/strategy"
)

// durableStore 同时满足订单和仓位两侧的存储接口。
type durableStore interface {
	order.Store
	inventory.Store
}

// openStore 按配置选择存储后端，返回的 closer 总是非 nil。
func openStore(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (durableStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		client, err := postgres.New(ctx, postgres.ClientConfig{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, func() {}, err
		}
		if err := client.RunMigrations(ctx); err != nil {
			client.Close()
			return nil, func() {}, err
		}
		log.Info("store: postgres")
		return postgres.NewStore(client.Pool()), client.Close, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, func() {}, err
		}
		log.Info("store: sqlite " + cfg.SQLitePath)
		return st, func() { _ = st.Close() }, nil
	case "memory", "":
		log.Warn("store: memory, state is lost on exit")
		return memory.New(), func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// newFeed 为交易对创建行情源。
func newFeed(cfg config.AppConfig, symbol string, mon *monitor.Monitor, log *logger.Logger) (engine.Feed, error) {
	switch strings.ToLower(cfg.Feed.Mode) {
	case "paper":
		sc := cfg.Symbols[symbol]
		p := cfg.Feed.Paper
		return sim.NewFeed(sim.FeedConfig{
			Symbol:        symbol,
			StartPrice:    sc.StartPrice,
			Volatility:    p.Volatility,
			MeanReversion: p.MeanReversion,
			SpreadPct:     p.SpreadPct,
			Levels:        p.Levels,
			Seed:          p.Seed,
		}), nil
	case "binance":
		f := gateway.NewDepthFeed(gateway.DepthFeedConfig{
			Endpoint: cfg.Feed.Endpoint,
			Symbol:   symbol,
			Levels:   cfg.OrderBook.Depth,
		}, log)
		if mon != nil {
			f.SetReconnectHook(mon.RecordFeedReconnect)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown feed mode %q", cfg.Feed.Mode)
	}
}

// newStrategy 为启用策略的交易对注册做市实例。
func newStrategy(cfg config.AppConfig, inv strategy.Inventory) *strategy.Router {
	router := strategy.NewRouter()
	for _, sym := range cfg.SymbolNames() {
		p := cfg.Symbols[sym].Strategy
		if !p.Enabled {
			continue
		}
		router.Set(sym, strategy.NewMarketMaker(strategy.Config{
			MinSpreadBps:     p.MinSpreadBps,
			TargetSpreadPct:  p.TargetSpreadPct,
			BaseSize:         p.BaseSize,
			Cooldown:         time.Duration(p.CooldownMs) * time.Millisecond,
			Canary:           !p.FullSize,
			CanaryMultiplier: p.CanaryMultiplier,
			MinSize:          p.MinSize,
			MaxDrift:         p.MaxDrift,
		}, inv))
	}
	return router
}
