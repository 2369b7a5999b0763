package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes user input ("buy", " SELL ") into a Side.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side %q", s)
	}
}

// OrderStatus is the venue's verdict on a submitted order.
type OrderStatus string

const (
	StatusFilled  OrderStatus = "FILLED"
	StatusPending OrderStatus = "PENDING"
	StatusFail    OrderStatus = "FAIL"
)

// OrderRequest is the limit order intent sent to the venue.
type OrderRequest struct {
	Ticker   string
	Side     Side
	Price    decimal.Decimal
	Quantity int64
}

// Notional returns price * quantity.
func (r OrderRequest) Notional() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(r.Quantity))
}

// OrderResult is the normalized venue response to an order submission.
type OrderResult struct {
	Status  OrderStatus
	Reason  string
	OrderID string
}

// PendingOrder is an order the venue accepted but could not fill yet.
type PendingOrder struct {
	ID             string          `json:"id"`
	Side           Side            `json:"side" example:"BUY"`
	Ticker         string          `json:"ticker" example:"SSE"`
	InstrumentName string          `json:"instrument_name" example:"Samsung Electronics"`
	Quantity       int64           `json:"quantity" example:"10"`
	Price          decimal.Decimal `json:"price" swaggertype:"string" example:"10000"`
	CreatedAt      time.Time       `json:"created_at"`
}
