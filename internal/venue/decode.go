package venue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/shopspring/decimal"
)

// ErrMalformed marks a venue payload that could not be decoded.
var ErrMalformed = errors.New("malformed venue payload")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// flexTime accepts RFC3339, naive date-time strings and unix seconds or
// milliseconds. Naive strings carry no zone and are resolved by in.
type flexTime struct {
	time.Time
	naive bool
}

// in returns the instant, reading a naive wall clock in loc.
func (f flexTime) in(loc *time.Location) time.Time {
	if !f.naive || loc == nil || f.IsZero() {
		return f.Time
	}
	t := f.Time
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" || string(b) == `""` {
		return nil
	}
	if b[0] != '"' {
		n, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("time %s: %w", b, err)
		}
		f.Time = unixTime(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	for i, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time, f.naive = t, i > 0
			return nil
		}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		f.Time = unixTime(n)
		return nil
	}
	return fmt.Errorf("unrecognized time %q", s)
}

func unixTime(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}

// flexID accepts both string and numeric identifiers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	*f = flexID(b)
	return nil
}

// decodeList extracts an array that may be sent bare or wrapped under one
// of the given keys. The first non-null key wins.
func decodeList(body []byte, keys ...string) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "null" {
		return nil, nil
	}
	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return items, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		for _, k := range keys {
			raw, ok := obj[k]
			if !ok || string(bytes.TrimSpace(raw)) == "null" {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, k, err)
			}
			return items, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unexpected payload", ErrMalformed)
	}
}

type instrumentWire struct {
	Ticker       string          `json:"ticker"`
	Name         string          `json:"name"`
	Sector       string          `json:"sector"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	ChangeAmount decimal.Decimal `json:"change_amount"`
	ChangeRate   decimal.Decimal `json:"change_rate"`
	Volume       decimal.Decimal `json:"volume"`
}

func decodeInstruments(body []byte) ([]models.Instrument, error) {
	items, err := decodeList(body, "companies", "data")
	if err != nil {
		return nil, err
	}
	out := make([]models.Instrument, 0, len(items))
	for _, raw := range items {
		var w instrumentWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: company: %v", ErrMalformed, err)
		}
		if w.Ticker == "" {
			continue
		}
		change := w.ChangeAmount
		if change.IsZero() && !w.ChangeRate.IsZero() && !w.CurrentPrice.IsZero() {
			// derive the absolute change from the rate: price - price/(1+rate/100)
			prev := w.CurrentPrice.Div(decimal.NewFromInt(1).Add(w.ChangeRate.Div(decimal.NewFromInt(100))))
			change = w.CurrentPrice.Sub(prev).Round(0)
		}
		name := w.Name
		if name == "" {
			name = w.Ticker
		}
		out = append(out, models.Instrument{
			Ticker:    w.Ticker,
			Name:      name,
			Sector:    w.Sector,
			Price:     w.CurrentPrice,
			Change:    change,
			ChangePct: w.ChangeRate,
			Volume:    w.Volume.IntPart(),
		})
	}
	return out, nil
}

type tickWire struct {
	Time  flexTime        `json:"time"`
	Price decimal.Decimal `json:"price"`
	Close decimal.Decimal `json:"close"`
}

func decodeTicks(body []byte, loc *time.Location) ([]models.Tick, error) {
	items, err := decodeList(body, "data", "chart", "trades")
	if err != nil {
		return nil, err
	}
	out := make([]models.Tick, 0, len(items))
	for _, raw := range items {
		var w tickWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: tick: %v", ErrMalformed, err)
		}
		price := w.Price
		if price.IsZero() {
			price = w.Close
		}
		if w.Time.IsZero() || !price.IsPositive() {
			continue
		}
		out = append(out, models.Tick{Time: w.Time.in(loc), Price: price})
	}
	return out, nil
}

type levelWire struct {
	Price    decimal.Decimal `json:"price"`
	Volume   decimal.Decimal `json:"volume"`
	Quantity decimal.Decimal `json:"quantity"`
}

type orderBookWire struct {
	Ticker       string          `json:"ticker"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Asks         []levelWire     `json:"asks"`
	Bids         []levelWire     `json:"bids"`
}

func decodeOrderBook(body []byte) (models.OrderBook, error) {
	var w orderBookWire
	if err := json.Unmarshal(body, &w); err != nil {
		return models.OrderBook{}, fmt.Errorf("%w: orderbook: %v", ErrMalformed, err)
	}
	return models.OrderBook{
		Ticker:       w.Ticker,
		CurrentPrice: w.CurrentPrice,
		Asks:         levels(w.Asks),
		Bids:         levels(w.Bids),
	}, nil
}

func levels(in []levelWire) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, 0, len(in))
	for _, l := range in {
		q := l.Quantity
		if q.IsZero() {
			q = l.Volume
		}
		out = append(out, models.OrderBookLevel{Price: l.Price, Quantity: q.IntPart()})
	}
	return out
}

type statusWire struct {
	UserID    string                     `json:"user_id"`
	Balance   *decimal.Decimal           `json:"balance"`
	Portfolio map[string]decimal.Decimal `json:"portfolio"`
	SimTime   flexTime                   `json:"sim_time"`
}

func decodeUserStatus(body []byte, loc *time.Location) (models.UserStatus, error) {
	var w statusWire
	if err := json.Unmarshal(body, &w); err != nil {
		return models.UserStatus{}, fmt.Errorf("%w: status: %v", ErrMalformed, err)
	}
	if w.Balance == nil {
		return models.UserStatus{}, fmt.Errorf("%w: status without balance", ErrMalformed)
	}
	holdings := make(map[string]int64, len(w.Portfolio))
	for t, q := range w.Portfolio {
		holdings[t] = q.IntPart()
	}
	return models.UserStatus{
		UserID:   w.UserID,
		Balance:  *w.Balance,
		Holdings: holdings,
		SimTime:  w.SimTime.in(loc),
	}, nil
}

type tradeWire struct {
	ID        flexID          `json:"id"`
	Ticker    string          `json:"ticker"`
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Qty       decimal.Decimal `json:"qty"`
	Timestamp flexTime        `json:"timestamp"`
}

func decodeHistory(body []byte, loc *time.Location) ([]models.Trade, error) {
	items, err := decodeList(body, "history", "trades", "data")
	if err != nil {
		return nil, err
	}
	out := make([]models.Trade, 0, len(items))
	for _, raw := range items {
		var w tradeWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: trade: %v", ErrMalformed, err)
		}
		qty := w.Quantity
		if qty.IsZero() {
			qty = w.Qty
		}
		out = append(out, models.Trade{
			ID:        string(w.ID),
			Ticker:    w.Ticker,
			BuyerID:   w.BuyerID,
			SellerID:  w.SellerID,
			Price:     w.Price,
			Quantity:  qty.IntPart(),
			Timestamp: w.Timestamp.in(loc),
		})
	}
	return out, nil
}

type orderResultWire struct {
	Status  string `json:"status"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
	OrderID flexID `json:"order_id"`
}

// normalizeStatus folds the venue's verdict vocabulary onto OrderStatus.
// Unknown verdicts pass through unchanged and are rejected downstream.
func normalizeStatus(s string) models.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FILLED", "SUCCESS", "OK", "MATCHED":
		return models.StatusFilled
	case "PENDING", "QUEUED", "OPEN":
		return models.StatusPending
	case "FAIL", "FAILED", "REJECTED", "ERROR":
		return models.StatusFail
	default:
		return models.OrderStatus(s)
	}
}

func decodeOrderResult(body []byte) (models.OrderResult, error) {
	var w orderResultWire
	if err := json.Unmarshal(body, &w); err != nil {
		return models.OrderResult{}, fmt.Errorf("%w: order result: %v", ErrMalformed, err)
	}
	reason := w.Msg
	if reason == "" {
		reason = w.Message
	}
	return models.OrderResult{
		Status:  normalizeStatus(w.Status),
		Reason:  reason,
		OrderID: string(w.OrderID),
	}, nil
}
