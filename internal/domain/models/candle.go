package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one OHLC bucket of a chart series.
//
// Fields:
//   - BucketStart: inclusive start of the bucket, aligned to the period grid.
//   - Open/High/Low/Close: first, max, min and last price inside the bucket.
//   - Label: human readable tick label for the period (e.g. "09:05", "18", "2025").
//   - Synthetic: true when the candle was back-filled for display purposes only.
//     Synthetic candles must never feed P&L or default prices.
//
// swagger:model Candle
type Candle struct {
	BucketStart time.Time       `json:"bucket_start"`
	Open        decimal.Decimal `json:"open" swaggertype:"string" example:"10000"`
	High        decimal.Decimal `json:"high" swaggertype:"string" example:"10500"`
	Low         decimal.Decimal `json:"low" swaggertype:"string" example:"9800"`
	Close       decimal.Decimal `json:"close" swaggertype:"string" example:"10200"`
	Label       string          `json:"label" example:"09:05"`
	Synthetic   bool            `json:"synthetic"`
}

// Direction classifies a candle for up/down colouring.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)
