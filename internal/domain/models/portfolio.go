package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Position is a derived view of holdings for one instrument.
//
// AverageCost is never stored: it is recomputed from the transaction log
// every time a Position is built.
type Position struct {
	Ticker        string          `json:"ticker" example:"SSE"`
	Name          string          `json:"name" example:"Samsung Electronics"`
	Shares        int64           `json:"shares" example:"10"`
	AverageCost   decimal.Decimal `json:"average_cost" swaggertype:"string" example:"10000"`
	CurrentPrice  decimal.Decimal `json:"current_price" swaggertype:"string" example:"10500"`
	MarketValue   decimal.Decimal `json:"market_value" swaggertype:"string" example:"105000"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" swaggertype:"string" example:"5000"`
}

// TransactionRecord is one entry of the append-only transaction log.
type TransactionRecord struct {
	ID             string          `json:"id"`
	Ticker         string          `json:"ticker" example:"SSE"`
	InstrumentName string          `json:"instrument_name" example:"Samsung Electronics"`
	Timestamp      time.Time       `json:"timestamp"`
	Side           Side            `json:"side" example:"BUY"`
	Quantity       int64           `json:"quantity" example:"10"`
	PricePerUnit   decimal.Decimal `json:"price_per_unit" swaggertype:"string" example:"10000"`
	TotalAmount    decimal.Decimal `json:"total_amount" swaggertype:"string" example:"100000"`
}

// DedupKey identifies a fill independently of where it was observed
// (local confirmation or venue history): ticker, side, minute and quantity.
func (r TransactionRecord) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%d|%s",
		r.Ticker, r.Side, r.Timestamp.UTC().Truncate(time.Minute).Format("200601021504"), r.Quantity, r.PricePerUnit.String())
}

// NotificationKind groups notifications for the UI.
type NotificationKind string

const (
	NotifyBuy        NotificationKind = "buy"
	NotifySell       NotificationKind = "sell"
	NotifyPending    NotificationKind = "pending"
	NotifyFill       NotificationKind = "fill"
	NotifyCorrection NotificationKind = "correction"
)

// Notification is a user facing message generated by order outcomes and syncs.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind" example:"buy"`
	Title     string           `json:"title" example:"Buy filled"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
	Read      bool             `json:"read"`
}

// UserStatus is the venue's authoritative view of the user's account.
type UserStatus struct {
	UserID   string
	Balance  decimal.Decimal
	Holdings map[string]int64
	SimTime  time.Time
}
