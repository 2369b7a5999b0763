package models

import "github.com/shopspring/decimal"

// Instrument is a listed company as shown in market views.
//
// swagger:model Instrument
type Instrument struct {
	Ticker    string          `json:"ticker" example:"SSE"`
	Name      string          `json:"name" example:"Samsung Electronics"`
	Sector    string          `json:"sector" example:"Tech"`
	Price     decimal.Decimal `json:"price" swaggertype:"string" example:"72000"`
	Change    decimal.Decimal `json:"change" swaggertype:"string" example:"-300"`
	ChangePct decimal.Decimal `json:"change_pct" swaggertype:"string" example:"-0.41"`
	Volume    int64           `json:"volume" example:"1250000"`
}

// OrderBookLevel is one price level of the book.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price" swaggertype:"string" example:"72100"`
	Quantity int64           `json:"quantity" example:"40"`
}

// OrderBook is a snapshot of resting orders for one instrument.
type OrderBook struct {
	Ticker       string           `json:"ticker" example:"SSE"`
	CurrentPrice decimal.Decimal  `json:"current_price" swaggertype:"string" example:"72000"`
	Asks         []OrderBookLevel `json:"asks"`
	Bids         []OrderBookLevel `json:"bids"`
}
