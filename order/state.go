package order

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Status represents order lifecycle.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPartial  Status = "PARTIALLY_FILLED"
	StatusFilled   Status = "FILLED"
	StatusCanceled Status = "CANCELLED"
	StatusRejected Status = "REJECTED"
)

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Type 订单类型。
type Type string

const (
	TypeLimit  Type = "LIMIT"
	TypeMarket Type = "MARKET"
)

var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrOrderNotFound = errors.New("order not found")
	ErrDuplicateID   = errors.New("duplicate order id")
)

// Order is one order as seen by the executor and the store.
type Order struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Type           Type      `json:"type"`
	Side           Side      `json:"side"`
	Price          float64   `json:"price"`
	Size           float64   `json:"size"`
	FilledSize     float64   `json:"filled_size"`
	Status         Status    `json:"status"`
	Strategy       string    `json:"strategy,omitempty"`
	SignalStrength float64   `json:"signal_strength,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	FilledAt       time.Time `json:"filled_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Remaining 未成交数量。
func (o Order) Remaining() float64 {
	return math.Max(o.Size-o.FilledSize, 0)
}

// SignedSize is +Size for buys and -Size for sells.
func (o Order) SignedSize() float64 {
	return o.Side.Sign() * o.Size
}

// Validate 检查订单的基本字段；市价单允许价格为 0。
func (o Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	}
	if !(o.Size > 0) || math.IsInf(o.Size, 0) {
		return fmt.Errorf("%w: size %v", ErrInvalidOrder, o.Size)
	}
	switch o.Type {
	case TypeLimit, "":
		if !(o.Price > 0) || math.IsInf(o.Price, 0) {
			return fmt.Errorf("%w: limit price %v", ErrInvalidOrder, o.Price)
		}
	case TypeMarket:
		if o.Price < 0 || math.IsNaN(o.Price) {
			return fmt.Errorf("%w: market price %v", ErrInvalidOrder, o.Price)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidOrder, o.Type)
	}
	return nil
}

// Trade 一笔成交记录。延迟字段为 0 表示未采样。
type Trade struct {
	ID                 string    `json:"id"`
	OrderID            string    `json:"order_id"`
	Symbol             string    `json:"symbol"`
	Side               Side      `json:"side"`
	Price              float64   `json:"price"`
	Size               float64   `json:"size"`
	Timestamp          time.Time `json:"timestamp"`
	Strategy           string    `json:"strategy,omitempty"`
	ExecutionLatencyUs float64   `json:"execution_latency_us,omitempty"`
}

// SignedSize is +Size for buys and -Size for sells.
func (t Trade) SignedSize() float64 {
	return t.Side.Sign() * t.Size
}

// Intent is a strategy's request to trade, before an ID or status exists.
type Intent struct {
	Symbol         string
	Side           Side
	Type           Type
	Price          float64
	Size           float64
	Strategy       string
	SignalStrength float64
}

// ToOrder 转成待提交订单。
func (i Intent) ToOrder() Order {
	typ := i.Type
	if typ == "" {
		typ = TypeLimit
	}
	return Order{
		Symbol:         i.Symbol,
		Type:           typ,
		Side:           i.Side,
		Price:          i.Price,
		Size:           i.Size,
		Strategy:       i.Strategy,
		SignalStrength: i.SignalStrength,
	}
}
