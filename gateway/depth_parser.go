package gateway

import (
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"hft-engine/market"
)

var (
	// ErrMalformed 消息不是合法 JSON。
	ErrMalformed = errors.New("malformed message")
	// ErrNotDepth 消息不含深度档位（订阅确认、心跳等）。
	ErrNotDepth = errors.New("not a depth message")
)

// DepthUpdate 是一条深度消息的解析结果。
type DepthUpdate struct {
	Symbol    string
	Bids      []market.Level
	Asks      []market.Level
	EventTime time.Time
}

// ParseDepth 解析 binance 深度消息。兼容 raw/combined 两种包装，
// 以及现货 partial depth（bids/asks）与合约（b/a）两种字段名。
func ParseDepth(raw []byte) (DepthUpdate, error) {
	if !gjson.ValidBytes(raw) {
		return DepthUpdate{}, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	data := root
	if d := root.Get("data"); d.Exists() {
		data = d
	}

	bids := data.Get("bids")
	if !bids.Exists() {
		bids = data.Get("b")
	}
	asks := data.Get("asks")
	if !asks.Exists() {
		asks = data.Get("a")
	}
	if !bids.IsArray() || !asks.IsArray() {
		return DepthUpdate{}, ErrNotDepth
	}

	u := DepthUpdate{
		Symbol: data.Get("s").String(),
		Bids:   parseLevels(bids),
		Asks:   parseLevels(asks),
	}
	if u.Symbol == "" {
		if stream := root.Get("stream").String(); stream != "" {
			u.Symbol = strings.ToUpper(strings.SplitN(stream, "@", 2)[0])
		}
	}
	if ms := data.Get("E").Int(); ms > 0 {
		u.EventTime = time.UnixMilli(ms).UTC()
	}
	return u, nil
}

func parseLevels(arr gjson.Result) []market.Level {
	out := make([]market.Level, 0, len(arr.Array()))
	arr.ForEach(func(_, v gjson.Result) bool {
		pair := v.Array()
		if len(pair) < 2 {
			return true
		}
		out = append(out, market.Level{Price: pair[0].Float(), Size: pair[1].Float()})
		return true
	})
	return out
}

// Tick 转换为行情 tick；价格取最优买卖的中间价。
func (u DepthUpdate) Tick(symbol string) market.Tick {
	t := market.Tick{
		Symbol:    symbol,
		Bids:      u.Bids,
		Asks:      u.Asks,
		Timestamp: u.EventTime,
	}
	if t.Symbol == "" {
		t.Symbol = u.Symbol
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	if len(u.Bids) > 0 {
		t.Bid = u.Bids[0].Price
	}
	if len(u.Asks) > 0 {
		t.Ask = u.Asks[0].Price
	}
	switch {
	case t.Bid > 0 && t.Ask > 0:
		t.Price = (t.Bid + t.Ask) / 2
	case t.Bid > 0:
		t.Price = t.Bid
	default:
		t.Price = t.Ask
	}
	return t
}
