package market

import "time"

// Snapshot represents a point-in-time view of one order book.
// Level slices are never mutated after the snapshot is published.
type Snapshot struct {
	Symbol    string
	Bids      []Level // descending by price
	Asks      []Level // ascending by price
	BestBid   Level
	BestAsk   Level
	Mid       float64
	Spread    float64
	SpreadBps float64
	Imbalance float64
	Updates   int64
	Timestamp time.Time

	// 仅 SnapshotWithHistory 填充；广播的快照不带历史。
	MidHistory    []float64
	SpreadHistory []float64
}

// HasQuotes reports whether both sides had at least one level.
func (s Snapshot) HasQuotes() bool {
	return len(s.Bids) > 0 && len(s.Asks) > 0
}

// DepthPoint is one cumulative volume step of a depth chart.
type DepthPoint struct {
	Price  float64
	Volume float64
}

// DepthChart 返回两侧累计挂单量，用于深度图展示。
func (s Snapshot) DepthChart() (bids []DepthPoint, asks []DepthPoint) {
	bids = cumulative(s.Bids)
	asks = cumulative(s.Asks)
	return bids, asks
}

func cumulative(levels []Level) []DepthPoint {
	out := make([]DepthPoint, 0, len(levels))
	var vol float64
	for _, lv := range levels {
		vol += lv.Size
		out = append(out, DepthPoint{Price: lv.Price, Volume: vol})
	}
	return out
}
