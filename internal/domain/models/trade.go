package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents a single observed trade price for an instrument.
//
// Ticks are immutable once received and are the only input of the
// candle aggregator.
type Tick struct {
	Time  time.Time       `json:"time" example:"2025-09-18T10:05:00+09:00"`
	Price decimal.Decimal `json:"price" swaggertype:"string" example:"10000"`
}

// Trade represents one matched trade reported by the venue's user history.
//
// Fields:
//   - ID: venue trade identifier (may be empty on older venue builds).
//   - Ticker: instrument symbol.
//   - BuyerID / SellerID: agent identifiers of both counterparties.
//   - Price: execution price per share.
//   - Quantity: number of shares exchanged.
//   - Timestamp: execution time as reported by the venue.
type Trade struct {
	ID        string
	Ticker    string
	BuyerID   string
	SellerID  string
	Price     decimal.Decimal
	Quantity  int64
	Timestamp time.Time
}

// SideFor returns the side the given agent took in the trade and whether
// the agent participated at all.
func (t Trade) SideFor(agentID string) (Side, bool) {
	switch agentID {
	case t.BuyerID:
		return SideBuy, true
	case t.SellerID:
		return SideSell, true
	default:
		return "", false
	}
}
