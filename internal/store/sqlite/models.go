package sqlite

import (
	"time"

	"hft-engine/inventory"
	"hft-engine/order"
)

type orderModel struct {
	ID             string `gorm:"column:id;primaryKey"`
	Symbol         string `gorm:"column:symbol;index:idx_orders_symbol_status"`
	OrderType      string `gorm:"column:order_type"`
	Side           string `gorm:"column:side"`
	Price          float64
	Size           float64
	FilledSize     float64
	Status         string `gorm:"column:status;index:idx_orders_symbol_status"`
	StrategyName   string
	SignalStrength float64
	LastError      string
	CreatedAt      time.Time
	FilledAt       *time.Time
	UpdatedAt      time.Time
}

func (orderModel) TableName() string { return "orders" }

type tradeModel struct {
	ID                 string `gorm:"column:id;primaryKey"`
	OrderID            string `gorm:"column:order_id;index"`
	Symbol             string `gorm:"column:symbol;index:idx_trades_symbol_time"`
	Side               string
	Price              float64
	Size               float64
	StrategyName       string
	ExecutionLatencyUs *float64
	ExecutedAt         time.Time `gorm:"index:idx_trades_symbol_time"`
}

func (tradeModel) TableName() string { return "trades" }

type positionModel struct {
	Symbol        string `gorm:"column:symbol;primaryKey"`
	ID            string `gorm:"column:id"`
	Size          float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl"`
	RealizedPnL   float64 `gorm:"column:realized_pnl"`
	UpdatedAt     time.Time
}

func (positionModel) TableName() string { return "positions" }

func toOrderModel(o order.Order) orderModel {
	m := orderModel{
		ID: o.ID, Symbol: o.Symbol, OrderType: string(o.Type), Side: string(o.Side),
		Price: o.Price, Size: o.Size, FilledSize: o.FilledSize, Status: string(o.Status),
		StrategyName: o.Strategy, SignalStrength: o.SignalStrength, LastError: o.LastError,
		CreatedAt: o.CreatedAt,
	}
	if !o.FilledAt.IsZero() {
		t := o.FilledAt
		m.FilledAt = &t
	}
	return m
}

func (m orderModel) toOrder() order.Order {
	o := order.Order{
		ID: m.ID, Symbol: m.Symbol, Type: order.Type(m.OrderType), Side: order.Side(m.Side),
		Price: m.Price, Size: m.Size, FilledSize: m.FilledSize, Status: order.Status(m.Status),
		Strategy: m.StrategyName, SignalStrength: m.SignalStrength, LastError: m.LastError,
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.FilledAt != nil {
		o.FilledAt = m.FilledAt.UTC()
	}
	return o
}

func toTradeModel(t order.Trade) tradeModel {
	m := tradeModel{
		ID: t.ID, OrderID: t.OrderID, Symbol: t.Symbol, Side: string(t.Side),
		Price: t.Price, Size: t.Size, StrategyName: t.Strategy, ExecutedAt: t.Timestamp,
	}
	if t.ExecutionLatencyUs > 0 {
		v := t.ExecutionLatencyUs
		m.ExecutionLatencyUs = &v
	}
	return m
}

func (m tradeModel) toTrade() order.Trade {
	t := order.Trade{
		ID: m.ID, OrderID: m.OrderID, Symbol: m.Symbol, Side: order.Side(m.Side),
		Price: m.Price, Size: m.Size, Strategy: m.StrategyName, Timestamp: m.ExecutedAt.UTC(),
	}
	if m.ExecutionLatencyUs != nil {
		t.ExecutionLatencyUs = *m.ExecutionLatencyUs
	}
	return t
}

func toPositionModel(p inventory.Position) positionModel {
	return positionModel{
		Symbol: p.Symbol, ID: p.ID, Size: p.Size, EntryPrice: p.EntryPrice,
		CurrentPrice: p.CurrentPrice, UnrealizedPnL: p.UnrealizedPnL, RealizedPnL: p.RealizedPnL,
		UpdatedAt: p.UpdatedAt,
	}
}

func (m positionModel) toPosition() inventory.Position {
	return inventory.Position{
		ID: m.ID, Symbol: m.Symbol, Size: m.Size, EntryPrice: m.EntryPrice,
		CurrentPrice: m.CurrentPrice, UnrealizedPnL: m.UnrealizedPnL, RealizedPnL: m.RealizedPnL,
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}
