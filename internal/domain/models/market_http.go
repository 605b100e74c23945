package models

// Requests for the market data HTTP endpoints.

type CandlesRequest struct {
	Symbol   string `query:"symbol" json:"symbol" validate:"required"`
	Interval string `query:"interval" json:"interval" default:"1h" validate:"required"`
	From     string `query:"from" json:"from" validate:"required"`
	To       string `query:"to" json:"to"`
}

type SyncStatusRequest struct {
	Symbol   string `query:"symbol" json:"symbol" validate:"required"`
	Interval string `query:"interval" json:"interval" default:"1h" validate:"required"`
}
