package models

// Bar is one OHLCV candle for a fixed interval. Timestamp is the bar open
// time in epoch milliseconds.
type Bar struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

// Gap is a half-open [Start, End) range of a requested window with no cached
// coverage, in epoch milliseconds.
type Gap struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}
