package risk

import (
	"errors"
	"fmt"
)

// ErrRejected 匹配所有风控拒单。
var ErrRejected = errors.New("order rejected by risk")

// Code 拒单原因代码。
type Code string

const (
	CodeKillSwitch       Code = "KILL_SWITCH"
	CodeOrderSize        Code = "ORDER_SIZE"
	CodePositionLimit    Code = "POSITION_LIMIT"
	CodePriceCollar      Code = "PRICE_COLLAR"
	CodeNoReferencePrice Code = "NO_REFERENCE_PRICE"
	CodeDailyLoss        Code = "DAILY_LOSS"
)

// Rejection is a structured risk-check failure. It is a normal outcome,
// never a fault.
type Rejection struct {
	Code   Code
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk rejected (%s): %s", r.Code, r.Reason)
}

func (r *Rejection) Is(target error) bool { return target == ErrRejected }

// AsRejection extracts the rejection from err, if any.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

func reject(code Code, format string, args ...interface{}) *Rejection {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}
