package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"hft-engine/market"
	"hft-engine/order"
)

// chanFeed 由测试推送 tick 的行情源。
type chanFeed struct {
	ticks    chan market.Tick
	errs     chan error
	started  atomic.Int32
	stopped  atomic.Int32
	startErr error
}

func newChanFeed() *chanFeed {
	return &chanFeed{ticks: make(chan market.Tick, 64), errs: make(chan error, 1)}
}

func (f *chanFeed) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Add(1)
	return nil
}

func (f *chanFeed) Stop(context.Context) error {
	f.stopped.Add(1)
	return nil
}

func (f *chanFeed) NextTick(ctx context.Context) (market.Tick, error) {
	select {
	case <-ctx.Done():
		return market.Tick{}, ctx.Err()
	case err := <-f.errs:
		return market.Tick{}, err
	case t := <-f.ticks:
		return t, nil
	}
}

func quote(symbol string, bid, ask float64) market.Tick {
	return market.Tick{
		Symbol: symbol,
		Price:  (bid + ask) / 2,
		Bid:    bid,
		Ask:    ask,
		Bids:   []market.Level{{Price: bid, Size: 1}},
		Asks:   []market.Level{{Price: ask, Size: 1}},
	}
}

var errFeedBroken = errors.New("feed broken")

// scriptedStrategy 每个 tick 返回预设的意图。
type scriptedStrategy struct {
	mu      sync.Mutex
	intents []order.Intent
	calls   int
	panicOn int
}

func (s *scriptedStrategy) OnMarketData(market.Snapshot, market.Tick) []order.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panicOn > 0 && s.calls == s.panicOn {
		panic("strategy exploded")
	}
	out := s.intents
	s.intents = nil
	return out
}

func (s *scriptedStrategy) push(in ...order.Intent) {
	s.mu.Lock()
	s.intents = append(s.intents, in...)
	s.mu.Unlock()
}

func (s *scriptedStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
