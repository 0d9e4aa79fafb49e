package risk

import (
	"fmt"
	"math"
)

// Limits 风控参数。
type Limits struct {
	MaxPositionSize float64 `yaml:"maxPositionSize" json:"max_position_size"`
	MaxOrderSize    float64 `yaml:"maxOrderSize" json:"max_order_size"`
	DailyLossLimit  float64 `yaml:"dailyLossLimit" json:"daily_loss_limit"`
	PriceCollarPct  float64 `yaml:"priceCollarPct" json:"price_collar_pct"`
}

// DefaultLimits 与默认配置文件一致。
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize: 10,
		MaxOrderSize:    1,
		DailyLossLimit:  1000,
		PriceCollarPct:  0.05,
	}
}

// Validate 检查参数合法性。
func (l Limits) Validate() error {
	if !(l.MaxPositionSize > 0) {
		return fmt.Errorf("maxPositionSize must be > 0, got %v", l.MaxPositionSize)
	}
	if !(l.MaxOrderSize > 0) {
		return fmt.Errorf("maxOrderSize must be > 0, got %v", l.MaxOrderSize)
	}
	if math.IsNaN(l.DailyLossLimit) || l.DailyLossLimit == 0 {
		return fmt.Errorf("dailyLossLimit must be non-zero, got %v", l.DailyLossLimit)
	}
	if !(l.PriceCollarPct > 0) {
		return fmt.Errorf("priceCollarPct must be > 0, got %v", l.PriceCollarPct)
	}
	return nil
}

// lossFloor 是日内 PnL 下限，limit 正负号均可。
func (l Limits) lossFloor() float64 {
	return -math.Abs(l.DailyLossLimit)
}
