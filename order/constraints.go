package order

import (
	"fmt"
	"math"
)

// SymbolConstraints 描述交易对的步长与名义限制，零值表示不限制。
type SymbolConstraints struct {
	TickSize    float64 `yaml:"tickSize"`
	StepSize    float64 `yaml:"stepSize"`
	MinSize     float64 `yaml:"minSize"`
	MinNotional float64 `yaml:"minNotional"`
}

// Check 检查订单价格/数量是否符合精度与最小名义；价格为 0 的市价单跳过价格相关检查。
func (c SymbolConstraints) Check(o Order) error {
	if o.Price > 0 && c.TickSize > 0 && !isMultiple(o.Price, c.TickSize) {
		return fmt.Errorf("%w: price %.8f not aligned to tickSize %.8f", ErrInvalidOrder, o.Price, c.TickSize)
	}
	if c.StepSize > 0 && !isMultiple(o.Size, c.StepSize) {
		return fmt.Errorf("%w: size %.8f not aligned to stepSize %.8f", ErrInvalidOrder, o.Size, c.StepSize)
	}
	if c.MinSize > 0 && o.Size < c.MinSize {
		return fmt.Errorf("%w: size %.8f < minSize %.8f", ErrInvalidOrder, o.Size, c.MinSize)
	}
	if o.Price > 0 && c.MinNotional > 0 && o.Price*o.Size < c.MinNotional {
		return fmt.Errorf("%w: notional %.8f < minNotional %.8f", ErrInvalidOrder, o.Price*o.Size, c.MinNotional)
	}
	return nil
}

func isMultiple(value, step float64) bool {
	ratio := value / step
	return math.Abs(ratio-math.Round(ratio)) <= 1e-8
}
