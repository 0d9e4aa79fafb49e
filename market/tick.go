package market

import "time"

// Level is one price level of a book side.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Tick 一次行情拉取的结果，生成后不可修改。
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}
