package models

// Ticker is the fixed projection of an upstream ticker payload that gets
// broadcast to subscribers and cached between flush cycles.
type Ticker struct {
	Symbol      string  `json:"symbol"`
	Last        float64 `json:"last"`
	BaseVolume  float64 `json:"baseVolume"`
	QuoteVolume float64 `json:"quoteVolume"`
	ChangePct   float64 `json:"changePct"`
	Timestamp   int64   `json:"t"`
}
