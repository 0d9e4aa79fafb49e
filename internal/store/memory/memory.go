// Package memory is an in-process store used for paper trading and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"hft-engine/inventory"
	"hft-engine/order"
)

// Store 线程安全的内存存储，实现 order.Store 和 inventory.Store。
type Store struct {
	mu        sync.RWMutex
	orders    map[string]order.Order
	trades    []order.Trade
	positions map[string]inventory.Position

	// FailNext 非空时，下一次写操作返回该错误（测试用）
	failNext error
}

func New() *Store {
	return &Store{
		orders:    make(map[string]order.Order),
		positions: make(map[string]inventory.Position),
	}
}

// FailNext makes the next write return err.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Store) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Store) InsertOrder(_ context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("memory: order %s already exists", o.ID)
	}
	s.orders[o.ID] = o
	return nil
}

func (s *Store) UpdateOrder(_ context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.orders[o.ID]; !ok {
		return fmt.Errorf("memory: update order %s: %w", o.ID, order.ErrOrderNotFound)
	}
	s.orders[o.ID] = o
	return nil
}

func (s *Store) InsertTrade(_ context.Context, t order.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.trades = append(s.trades, t)
	return nil
}

func (s *Store) UpsertPosition(_ context.Context, p inventory.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.positions[p.Symbol] = p
	return nil
}

func (s *Store) LoadAllPositions(context.Context) ([]inventory.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Order 读取订单。
func (s *Store) Order(id string) (order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// Trades 返回全部成交拷贝。
func (s *Store) Trades() []order.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]order.Trade(nil), s.trades...)
}

// ErrInjected 方便测试构造失败。
var ErrInjected = errors.New("memory: injected failure")
