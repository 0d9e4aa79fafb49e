package strategy

import (
	"sync"

	"hft-engine/market"
	"hft-engine/order"
)

// Handler 处理单个交易对的盘口。
type Handler interface {
	OnMarketData(snap market.Snapshot, tick market.Tick) []order.Intent
}

// Router 按交易对分发到各自的策略实例，未注册的交易对不产生意图。
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Set 注册或替换 symbol 的策略；h 为 nil 时移除。
func (r *Router) Set(symbol string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, symbol)
		return
	}
	r.handlers[symbol] = h
}

func (r *Router) OnMarketData(snap market.Snapshot, tick market.Tick) []order.Intent {
	r.mu.RLock()
	h, ok := r.handlers[snap.Symbol]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return h.OnMarketData(snap, tick)
}
