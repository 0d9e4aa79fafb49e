package inventory

// PnL 汇总。
type PnL struct {
	Unrealized float64 `json:"unrealized_pnl"`
	Realized   float64 `json:"realized_pnl"`
	Total      float64 `json:"total_pnl"`
}

// UpdateMarketPrice 基于当前价格重算未实现盈亏；未持有该交易对时忽略。
func (t *Tracker) UpdateMarketPrice(symbol string, price float64) {
	if !(price > 0) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[symbol]
	if !ok {
		return
	}
	t.positions[symbol] = mark(p, price)
}

// TotalPnL 汇总所有仓位的已实现与未实现盈亏。
func (t *Tracker) TotalPnL() PnL {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out PnL
	for _, p := range t.positions {
		out.Unrealized += p.UnrealizedPnL
		out.Realized += p.RealizedPnL
	}
	out.Total = out.Unrealized + out.Realized
	return out
}

// NetExposure 返回交易对的带符号仓位。
func (t *Tracker) NetExposure(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.positions[symbol].Size
}
