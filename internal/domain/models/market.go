package models

// Market is per-symbol metadata from the market registry.
type Market struct {
	Symbol    string  `json:"symbol"`
	Base      string  `json:"base"`
	Quote     string  `json:"quote"`
	Active    bool    `json:"active"`
	MakerFee  float64 `json:"makerFee"`
	TakerFee  float64 `json:"takerFee"`
	Precision int     `json:"precision"`
	MinAmount float64 `json:"minAmount"`
}
