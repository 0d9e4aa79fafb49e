package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"hft-engine/infrastructure/logger"
	"hft-engine/internal/store"
	"hft-engine/order"
)

// Store 仓位持久化。
type Store interface {
	UpsertPosition(ctx context.Context, p Position) error
	LoadAllPositions(ctx context.Context) ([]Position, error)
}

// Tracker 维护每个交易对一个仓位；内存状态为准，持久化失败只上报。
// 同一交易对的成交按 symbol 锁串行（含写库），存储里不会出现旧仓位覆盖新仓位。
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]Position
	locks     map[string]*sync.Mutex
	store     Store
	log       *logger.Logger
}

func NewTracker(st Store, log *logger.Logger) *Tracker {
	return &Tracker{
		positions: make(map[string]Position),
		locks:     make(map[string]*sync.Mutex),
		store:     st,
		log:       logger.OrNop(log).Named("positions"),
	}
}

func (t *Tracker) symbolLock(symbol string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		t.locks[symbol] = l
	}
	return l
}

// Load 从存储恢复仓位，覆盖同名内存仓位。
func (t *Tracker) Load(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	list, err := t.store.LoadAllPositions(ctx)
	if err != nil {
		return 0, store.Transient("load_positions", err)
	}
	t.mu.Lock()
	for _, p := range list {
		t.positions[p.Symbol] = p
	}
	t.mu.Unlock()
	t.log.Info(fmt.Sprintf("loaded %d positions", len(list)))
	return len(list), nil
}

// Update applies a fill and persists the new position. The in-memory
// position is updated even when the upsert fails; the error is returned
// wrapped as transient. realized is the PnL closed by this trade.
func (t *Tracker) Update(ctx context.Context, tr order.Trade) (Position, float64, error) {
	sl := t.symbolLock(tr.Symbol)
	sl.Lock()
	defer sl.Unlock()

	t.mu.Lock()
	old, ok := t.positions[tr.Symbol]
	if !ok {
		old = Position{ID: uuid.NewString(), Symbol: tr.Symbol}
	}
	next, realized := Apply(old, tr)
	t.positions[tr.Symbol] = next
	t.mu.Unlock()

	if realized != 0 {
		t.log.LogTrade("realized", map[string]interface{}{
			"symbol": tr.Symbol, "realized_pnl": realized, "size": next.Size,
		})
	}
	if t.store == nil {
		return next, realized, nil
	}
	if err := t.store.UpsertPosition(ctx, next); err != nil {
		t.log.LogError(err, map[string]interface{}{"op": "upsert_position", "symbol": tr.Symbol})
		return next, realized, store.Transient("upsert_position", err)
	}
	return next, realized, nil
}

// Position 返回单个仓位。
func (t *Tracker) Position(symbol string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[symbol]
	return p, ok
}

// Positions 返回全部仓位拷贝，按交易对排序。
func (t *Tracker) Positions() []Position {
	t.mu.RLock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
