package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hft-engine/infrastructure/logger"
	"hft-engine/internal/store"
	"hft-engine/latency"
)

// Store 是下单器需要的持久化能力。
type Store interface {
	InsertOrder(ctx context.Context, o Order) error
	UpdateOrder(ctx context.Context, o Order) error
	InsertTrade(ctx context.Context, t Trade) error
}

// Metrics 订单计数，由 infrastructure/monitor 实现。
type Metrics interface {
	RecordOrderPlaced()
	RecordOrderFilled()
	RecordOrderCanceled()
	RecordOrderRejected()
	RecordTrade(volume float64)
}

// FillHandler 在成交持久化后、锁外被调用。
type FillHandler func(ctx context.Context, t Trade)

// ExecutorConfig 下单器配置。
type ExecutorConfig struct {
	// Paper 模式下订单登记后立即按订单价格全部成交；
	// 否则订单停留在 PENDING，等待 ApplyFill 回报。
	Paper bool
}

// Executor 负责订单登记、成交、撤单。
type Executor struct {
	cfg     ExecutorConfig
	store   Store
	book    *Book
	sm      *StateMachine
	lat     latency.Sink
	log     *logger.Logger
	metrics Metrics
	now     func() time.Time

	mu          sync.RWMutex
	constraints map[string]SymbolConstraints
	onFill      FillHandler
}

func NewExecutor(cfg ExecutorConfig, st Store, lat latency.Sink, log *logger.Logger) *Executor {
	if lat == nil {
		lat = latency.Nop{}
	}
	return &Executor{
		cfg:         cfg,
		store:       st,
		book:        NewBook(),
		sm:          NewStateMachine(),
		lat:         lat,
		log:         logger.OrNop(log).Named("executor"),
		now:         func() time.Time { return time.Now().UTC() },
		constraints: make(map[string]SymbolConstraints),
	}
}

// SetMetrics 可选。
func (e *Executor) SetMetrics(m Metrics) { e.metrics = m }

// SetFillHandler registers the callback used to feed positions and PnL.
func (e *Executor) SetFillHandler(fn FillHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFill = fn
}

// SetConstraints 设置交易对精度限制。
func (e *Executor) SetConstraints(symbol string, c SymbolConstraints) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.constraints[symbol] = c
}

// Check 校验订单字段与交易对限制，不做风控。
func (e *Executor) Check(o Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	e.mu.RLock()
	c, ok := e.constraints[o.Symbol]
	e.mu.RUnlock()
	if ok {
		return c.Check(o)
	}
	return nil
}

// PlaceOrder persists the order, registers it as pending and, in paper
// mode, fills it in full at the order price. The returned order reflects
// the last committed state.
func (e *Executor) PlaceOrder(ctx context.Context, o Order) (Order, error) {
	token := e.lat.StartTimer()
	if err := e.Check(o); err != nil {
		return o, err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Type == "" {
		o.Type = TypeLimit
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = e.now()
	}
	o.Status = StatusPending
	o.FilledSize = 0
	o.FilledAt = time.Time{}

	entry, ok := e.book.reserve(o)
	if !ok {
		return o, fmt.Errorf("%w: %s", ErrDuplicateID, o.ID)
	}
	if err := e.store.InsertOrder(ctx, o); err != nil {
		// 未持久化的订单不进入 pending 集合
		e.book.commit(entry, o, true)
		entry.op.Unlock()
		e.log.Error("insert order failed", zap.String("id", o.ID), zap.Error(err))
		return o, store.Transient("insert_order", err)
	}
	e.book.publish(entry)
	entry.op.Unlock()

	if e.metrics != nil {
		e.metrics.RecordOrderPlaced()
	}
	e.log.LogOrder("placed", o.ID, map[string]interface{}{
		"symbol": o.Symbol, "side": string(o.Side), "price": o.Price, "size": o.Size,
	})

	if !e.cfg.Paper {
		return o, nil
	}

	_, filled, err := e.fill(ctx, o.ID, o.Price, o.Size, token)
	if errors.Is(err, ErrOrderNotFound) {
		// 已被撤单抢先
		return e.lastKnown(o), nil
	}
	if err != nil {
		return e.rejectAfterFailedFill(ctx, o, err)
	}
	return filled, nil
}

// ApplyFill 处理场所的成交回报（可部分成交）。
func (e *Executor) ApplyFill(ctx context.Context, id string, price, size float64) (Trade, error) {
	if !(price > 0) || !(size > 0) {
		return Trade{}, fmt.Errorf("%w: fill price %v size %v", ErrInvalidOrder, price, size)
	}
	trade, _, err := e.fill(ctx, id, price, size, e.lat.StartTimer())
	return trade, err
}

// fill 在订单锁内完成：更新订单 -> 写成交；写成交失败则补偿回滚订单。
func (e *Executor) fill(ctx context.Context, id string, price, size float64, token latency.Token) (Trade, Order, error) {
	entry, ok := e.book.lookup(id)
	if !ok {
		return Trade{}, Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	entry.op.Lock()
	if entry.done {
		entry.op.Unlock()
		return Trade{}, Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	prev, ok := e.book.Get(id)
	if !ok || !e.sm.IsActiveState(prev.Status) {
		entry.op.Unlock()
		return Trade{}, Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	qty := size
	if rem := prev.Remaining(); qty > rem {
		qty = rem
	}
	now := e.now()
	next := prev
	next.FilledSize += qty
	next.FilledAt = now
	next.Status = StatusPartial
	if next.Remaining() <= 1e-12 {
		next.FilledSize = next.Size
		next.Status = StatusFilled
	}
	if err := e.sm.ValidateTransition(prev.Status, next.Status); err != nil {
		entry.op.Unlock()
		return Trade{}, prev, err
	}

	trade := Trade{
		ID:        uuid.NewString(),
		OrderID:   id,
		Symbol:    prev.Symbol,
		Side:      prev.Side,
		Price:     price,
		Size:      qty,
		Timestamp: now,
		Strategy:  prev.Strategy,
	}
	trade.ExecutionLatencyUs = float64(e.lat.Record(latency.StageExecution, token)) / float64(time.Microsecond)

	if err := e.store.UpdateOrder(ctx, next); err != nil {
		entry.op.Unlock()
		return Trade{}, prev, store.Transient("update_order", err)
	}
	if err := e.store.InsertTrade(ctx, trade); err != nil {
		if rbErr := e.store.UpdateOrder(ctx, prev); rbErr != nil {
			e.log.Error("rollback order after trade insert failure",
				zap.String("id", id), zap.Error(rbErr))
		}
		entry.op.Unlock()
		return Trade{}, prev, store.Transient("insert_trade", err)
	}
	e.book.commit(entry, next, e.sm.IsFinalState(next.Status))
	entry.op.Unlock()

	if e.metrics != nil {
		e.metrics.RecordTrade(qty)
		if next.Status == StatusFilled {
			e.metrics.RecordOrderFilled()
		}
	}
	e.log.LogTrade("fill", map[string]interface{}{
		"id": trade.ID, "order_id": id, "symbol": trade.Symbol, "side": string(trade.Side),
		"price": trade.Price, "size": trade.Size, "latency_us": trade.ExecutionLatencyUs,
	})

	e.mu.RLock()
	handler := e.onFill
	e.mu.RUnlock()
	if handler != nil {
		handler(ctx, trade)
	}
	return trade, next, nil
}

// rejectAfterFailedFill 纸面成交失败时把订单标记为 REJECTED 并移出 pending。
func (e *Executor) rejectAfterFailedFill(ctx context.Context, o Order, cause error) (Order, error) {
	entry, ok := e.book.lookup(o.ID)
	if !ok {
		return e.lastKnown(o), cause
	}
	entry.op.Lock()
	defer entry.op.Unlock()
	if entry.done {
		return e.lastKnown(o), cause
	}
	cur, _ := e.book.Get(o.ID)
	rejected := cur
	rejected.Status = StatusRejected
	rejected.LastError = cause.Error()
	if err := e.store.UpdateOrder(ctx, rejected); err != nil {
		// 存储不可用时订单保留在 pending，可由 CancelOrder 处理
		e.log.Error("mark order rejected failed", zap.String("id", o.ID), zap.Error(err))
		return cur, cause
	}
	e.book.commit(entry, rejected, true)
	if e.metrics != nil {
		e.metrics.RecordOrderRejected()
	}
	e.log.LogOrder("rejected", o.ID, map[string]interface{}{"error": cause.Error()})
	return rejected, cause
}

// CancelOrder 撤销 pending 订单；已成交/已撤/不存在均返回 ErrOrderNotFound。
func (e *Executor) CancelOrder(ctx context.Context, id string) (Order, error) {
	entry, ok := e.book.lookup(id)
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	entry.op.Lock()
	defer entry.op.Unlock()
	if entry.done {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	prev, _ := e.book.Get(id)
	if err := e.sm.ValidateTransition(prev.Status, StatusCanceled); err != nil {
		return prev, err
	}
	next := prev
	next.Status = StatusCanceled
	if err := e.store.UpdateOrder(ctx, next); err != nil {
		return prev, store.Transient("update_order", err)
	}
	e.book.commit(entry, next, true)

	if e.metrics != nil {
		e.metrics.RecordOrderCanceled()
	}
	e.log.LogOrder("cancelled", id, map[string]interface{}{"symbol": next.Symbol})
	return next, nil
}

// CancelAll 撤销全部 pending 订单，返回成功数量和第一个错误。
func (e *Executor) CancelAll(ctx context.Context) (int, error) {
	var firstErr error
	n := 0
	for _, o := range e.book.List() {
		if _, err := e.CancelOrder(ctx, o.ID); err != nil {
			if !errors.Is(err, ErrOrderNotFound) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}

// PendingOrders returns a point-in-time copy of the pending set.
func (e *Executor) PendingOrders() []Order {
	return e.book.List()
}

// Pending 查询单个未终结订单。
func (e *Executor) Pending(id string) (Order, bool) {
	return e.book.Get(id)
}

func (e *Executor) lastKnown(o Order) Order {
	if cur, ok := e.book.Get(o.ID); ok {
		return cur
	}
	o.Status = StatusCanceled
	return o
}
