package sim

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"hft-engine/market"
)

// FeedConfig 随机游走行情参数。
type FeedConfig struct {
	Symbol        string
	StartPrice    float64
	Volatility    float64 // 每步收益率的标准差
	MeanReversion float64 // 每步向起始价回归的比例
	SpreadPct     float64 // 最优买卖价差占价格的比例
	Levels        int
	Seed          int64 // 0 表示随机种子
}

func (c FeedConfig) withDefaults() FeedConfig {
	if c.Volatility <= 0 {
		c.Volatility = 0.0005
	}
	if c.MeanReversion < 0 {
		c.MeanReversion = 0
	}
	if c.SpreadPct <= 0 {
		c.SpreadPct = 0.0001
	}
	if c.Levels <= 0 {
		c.Levels = 10
	}
	return c
}

// Feed 纸面交易用的本地行情：带均值回归的随机游走，价格限制在起始价的
// [0.5, 1.5] 倍之间，每次 NextTick 生成一条完整盘口。
type Feed struct {
	cfg FeedConfig
	now func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	price   float64
	started bool
}

// NewFeed 创建随机游走行情源。
func NewFeed(cfg FeedConfig) *Feed {
	cfg = cfg.withDefaults()
	seed := uint64(cfg.Seed)
	if cfg.Seed == 0 {
		seed = rand.Uint64()
	}
	return &Feed{
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		price: cfg.StartPrice,
	}
}

func (f *Feed) Start(context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *Feed) Stop(context.Context) error {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
	return nil
}

// Price 当前中间价。
func (f *Feed) Price() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price
}

// NextTick 推进一步并返回新盘口。
func (f *Feed) NextTick(ctx context.Context) (market.Tick, error) {
	if err := ctx.Err(); err != nil {
		return market.Tick{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step()
	return f.book(), nil
}

func (f *Feed) step() {
	base := f.cfg.StartPrice
	reversion := (base - f.price) / base * f.cfg.MeanReversion
	change := f.rng.NormFloat64()*f.cfg.Volatility + reversion
	f.price *= 1 + change
	f.price = math.Min(math.Max(f.price, base*0.5), base*1.5)
}

func (f *Feed) book() market.Tick {
	spread := f.price * f.cfg.SpreadPct
	step := spread / float64(f.cfg.Levels)
	bids := make([]market.Level, f.cfg.Levels)
	asks := make([]market.Level, f.cfg.Levels)
	for i := range bids {
		bids[i] = market.Level{Price: f.price - spread/2 - float64(i)*step, Size: 0.1 + f.rng.Float64()*1.9}
		asks[i] = market.Level{Price: f.price + spread/2 + float64(i)*step, Size: 0.1 + f.rng.Float64()*1.9}
	}
	return market.Tick{
		Symbol:    f.cfg.Symbol,
		Price:     f.price,
		Bid:       bids[0].Price,
		Ask:       asks[0].Price,
		Bids:      bids,
		Asks:      asks,
		Timestamp: f.now(),
	}
}
