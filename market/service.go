package market

import (
	"sort"
	"sync"
	"time"
)

// Books 按交易对维护订单簿，并把每次更新后的快照广播给订阅者。
type Books struct {
	cfg   Config
	pub   *Publisher
	mu    sync.RWMutex
	books map[string]*OrderBook
	last  map[string]time.Time
}

func NewBooks(cfg Config, pub *Publisher) *Books {
	if pub == nil {
		pub = NewPublisher()
	}
	return &Books{
		cfg:   cfg,
		pub:   pub,
		books: make(map[string]*OrderBook),
		last:  make(map[string]time.Time),
	}
}

// Book returns the book for symbol, creating it on first use.
func (s *Books) Book(symbol string) *OrderBook {
	s.mu.RLock()
	ob, ok := s.books[symbol]
	s.mu.RUnlock()
	if ok {
		return ob
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ob, ok = s.books[symbol]; ok {
		return ob
	}
	ob = NewOrderBook(symbol, s.cfg)
	s.books[symbol] = ob
	return ob
}

// OnTick 用 tick 的档位更新订单簿并广播快照。
func (s *Books) OnTick(t Tick) Snapshot {
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	snap := s.Book(t.Symbol).UpdateAt(t.Bids, t.Asks, ts)
	s.mu.Lock()
	s.last[t.Symbol] = time.Now()
	s.mu.Unlock()
	s.pub.PublishSnapshot(snap)
	return snap
}

// Snapshot returns the latest snapshot; ok is false for an unknown symbol.
func (s *Books) Snapshot(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	ob, ok := s.books[symbol]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return ob.Snapshot(), true
}

// SnapshotWithHistory is Snapshot plus the rolling mid/spread history.
func (s *Books) SnapshotWithHistory(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	ob, ok := s.books[symbol]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return ob.SnapshotWithHistory(), true
}

// Mid 返回当前中间价；若缺失则返回 0。
func (s *Books) Mid(symbol string) float64 {
	snap, ok := s.Snapshot(symbol)
	if !ok {
		return 0
	}
	return snap.Mid
}

// Staleness 返回距离上次更新的时间间隔；如无数据返回一年。
func (s *Books) Staleness(symbol string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.last[symbol]
	if !ok {
		return time.Hour * 24 * 365
	}
	return time.Since(ts)
}

func (s *Books) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.books))
	for sym := range s.books {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *Books) Publisher() *Publisher { return s.pub }
