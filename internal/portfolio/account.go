package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/shopspring/decimal"
)

// maxNotifications bounds the in-memory notification feed.
const maxNotifications = 100

var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInsufficientCash   = errors.New("insufficient cash")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrPendingNotFound    = errors.New("pending order not found")
)

// indirections for deterministic tests
var (
	now   = time.Now
	newID = uuid.NewString
)

// OutcomeKind is the result of reconciling one order submission.
type OutcomeKind string

const (
	OutcomeFilled   OutcomeKind = "FILLED"
	OutcomePending  OutcomeKind = "PENDING"
	OutcomeRejected OutcomeKind = "REJECTED"
)

// Outcome describes what Reconcile did to the account.
type Outcome struct {
	Kind         OutcomeKind
	Reason       string
	Record       *models.TransactionRecord
	Pending      *models.PendingOrder
	Notification *models.Notification
}

// Account is the local projection of the user's venue account for one
// session: cash, holdings, the append-only transaction log, pending orders
// and notifications. The venue is authoritative; ApplyStatus lets it win.
// It is safe for concurrent use.
type Account struct {
	mu sync.Mutex

	startingCash decimal.Decimal
	cash         decimal.Decimal
	holdings     map[string]int64
	names        map[string]string
	prices       map[string]decimal.Decimal

	log     []models.TransactionRecord
	pending []models.PendingOrder
	notes   []models.Notification

	// unconfirmed counts local fills per DedupKey not yet seen in venue
	// history; known holds venue trade ids already merged.
	unconfirmed map[string]int
	known       map[string]struct{}

	// sync clock: tokens are issued in order; a response is applied only if
	// its token is newer than the last applied one and than the last local
	// mutation.
	syncSeq        uint64
	localMark      uint64
	appliedStatus  uint64
	appliedHistory uint64
	synced         bool
}

// NewAccount starts a session with the given cash and nothing else.
func NewAccount(startingCash decimal.Decimal) *Account {
	return &Account{
		startingCash: startingCash,
		cash:         startingCash,
		holdings:     make(map[string]int64),
		names:        make(map[string]string),
		prices:       make(map[string]decimal.Decimal),
		unconfirmed:  make(map[string]int),
		known:        make(map[string]struct{}),
	}
}

// Cash returns available cash.
func (a *Account) Cash() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Shares returns the held quantity for ticker.
func (a *Account) Shares(ticker string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holdings[ticker]
}

// CheckOrder verifies an order can be sent: BUY needs enough cash for
// price*quantity, SELL needs enough held shares. It must be called before
// any network call so a doomed order never reaches the venue.
func (a *Account) CheckOrder(req models.OrderRequest) error {
	if req.Ticker == "" || req.Quantity <= 0 || req.Price.IsNegative() {
		return fmt.Errorf("%w: ticker=%q quantity=%d price=%s", ErrInvalidOrder, req.Ticker, req.Quantity, req.Price)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch req.Side {
	case models.SideBuy:
		if need := req.Notional(); a.cash.LessThan(need) {
			return fmt.Errorf("%w: need %s, available %s", ErrInsufficientCash, need, a.cash)
		}
	case models.SideSell:
		if held := a.holdings[req.Ticker]; held < req.Quantity {
			return fmt.Errorf("%w: selling %d, holding %d", ErrInsufficientShares, req.Quantity, held)
		}
	default:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, req.Side)
	}
	return nil
}

// Reconcile applies the venue's answer to a submitted order.
//
// Behavior:
//   - callErr != nil, status FAIL or any unknown status: Rejected, nothing changes.
//   - PENDING: a PendingOrder is appended; cash and holdings are untouched.
//   - FILLED: cash moves by price*quantity, the position is created, grown,
//     shrunk or removed at zero, and one TransactionRecord is appended.
func (a *Account) Reconcile(req models.OrderRequest, name string, res models.OrderResult, callErr error) Outcome {
	if callErr != nil {
		return Outcome{Kind: OutcomeRejected, Reason: callErr.Error()}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch res.Status {
	case models.StatusFilled:
		a.rememberNameLocked(req.Ticker, name)
		return a.fillLocked(req, res)
	case models.StatusPending:
		a.rememberNameLocked(req.Ticker, name)
		return a.queueLocked(req, res)
	case models.StatusFail:
		reason := res.Reason
		if reason == "" {
			reason = "order rejected by venue"
		}
		return Outcome{Kind: OutcomeRejected, Reason: reason}
	default:
		return Outcome{Kind: OutcomeRejected, Reason: fmt.Sprintf("unexpected venue status %q", res.Status)}
	}
}

func (a *Account) fillLocked(req models.OrderRequest, res models.OrderResult) Outcome {
	notional := req.Notional()
	switch req.Side {
	case models.SideBuy:
		a.cash = a.cash.Sub(notional)
		a.holdings[req.Ticker] += req.Quantity
	case models.SideSell:
		a.cash = a.cash.Add(notional)
		if left := a.holdings[req.Ticker] - req.Quantity; left > 0 {
			a.holdings[req.Ticker] = left
		} else {
			delete(a.holdings, req.Ticker)
		}
	}
	a.prices[req.Ticker] = req.Price
	a.localMark = a.syncSeq

	id := res.OrderID
	if id == "" {
		id = newID()
	}
	rec := models.TransactionRecord{
		ID:             id,
		Ticker:         req.Ticker,
		InstrumentName: a.nameLocked(req.Ticker),
		Timestamp:      now(),
		Side:           req.Side,
		Quantity:       req.Quantity,
		PricePerUnit:   req.Price,
		TotalAmount:    notional,
	}
	a.log = append(a.log, rec)
	a.unconfirmed[rec.DedupKey()]++

	kind, title := models.NotifyBuy, "Buy order filled"
	if req.Side == models.SideSell {
		kind, title = models.NotifySell, "Sell order filled"
	}
	n := a.notifyLocked(kind, title, fmt.Sprintf("%s %d shares at %s (total %s)",
		rec.InstrumentName, req.Quantity, req.Price, notional))

	return Outcome{Kind: OutcomeFilled, Record: &rec, Notification: &n}
}

func (a *Account) queueLocked(req models.OrderRequest, res models.OrderResult) Outcome {
	id := res.OrderID
	if id == "" {
		id = newID()
	}
	p := models.PendingOrder{
		ID:             id,
		Side:           req.Side,
		Ticker:         req.Ticker,
		InstrumentName: a.nameLocked(req.Ticker),
		Quantity:       req.Quantity,
		Price:          req.Price,
		CreatedAt:      now(),
	}
	a.pending = append(a.pending, p)

	n := a.notifyLocked(models.NotifyPending, "Order queued",
		fmt.Sprintf("%s %s %d shares at %s is waiting for a counterparty and will fill when matched",
			p.InstrumentName, p.Side, p.Quantity, p.Price))

	return Outcome{Kind: OutcomePending, Pending: &p, Notification: &n}
}

func (a *Account) notifyLocked(kind models.NotificationKind, title, msg string) models.Notification {
	n := models.Notification{
		ID:        newID(),
		Kind:      kind,
		Title:     title,
		Message:   msg,
		CreatedAt: now(),
	}
	a.notes = append(a.notes, n)
	if over := len(a.notes) - maxNotifications; over > 0 {
		a.notes = append([]models.Notification(nil), a.notes[over:]...)
	}
	return n
}

func (a *Account) rememberNameLocked(ticker, name string) {
	if name != "" {
		a.names[ticker] = name
	}
}

func (a *Account) nameLocked(ticker string) string {
	if n := a.names[ticker]; n != "" {
		return n
	}
	return ticker
}

// AverageCost is the quantity-weighted mean price of every BUY record for
// ticker. It is derived from the log on each call.
func (a *Account) AverageCost(ticker string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.averageCostLocked(ticker)
}

func (a *Account) averageCostLocked(ticker string) decimal.Decimal {
	var qty int64
	cost := decimal.Zero
	for _, r := range a.log {
		if r.Ticker != ticker || r.Side != models.SideBuy {
			continue
		}
		qty += r.Quantity
		cost = cost.Add(r.PricePerUnit.Mul(decimal.NewFromInt(r.Quantity)))
	}
	if qty == 0 {
		return decimal.Zero
	}
	return cost.Div(decimal.NewFromInt(qty))
}

// MarkInstruments records names and latest prices used for valuation.
func (a *Account) MarkInstruments(list []models.Instrument) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, in := range list {
		if in.Name != "" {
			a.names[in.Ticker] = in.Name
		}
		if in.Price.IsPositive() {
			a.prices[in.Ticker] = in.Price
		}
	}
}

// Positions returns held instruments sorted by ticker. A position without
// a known market price is valued at its average cost.
func (a *Account) Positions() []models.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positionsLocked()
}

func (a *Account) positionsLocked() []models.Position {
	out := make([]models.Position, 0, len(a.holdings))
	for ticker, shares := range a.holdings {
		avg := a.averageCostLocked(ticker)
		price, ok := a.prices[ticker]
		if !ok {
			price = avg
		}
		qty := decimal.NewFromInt(shares)
		out = append(out, models.Position{
			Ticker:        ticker,
			Name:          a.nameLocked(ticker),
			Shares:        shares,
			AverageCost:   avg.Round(2),
			CurrentPrice:  price,
			MarketValue:   price.Mul(qty),
			UnrealizedPnL: price.Sub(avg).Mul(qty).Round(2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Summary is a valuation of the whole account.
type Summary struct {
	StartingCash  decimal.Decimal   `json:"starting_cash" swaggertype:"string"`
	Cash          decimal.Decimal   `json:"cash" swaggertype:"string"`
	HoldingsValue decimal.Decimal   `json:"holdings_value" swaggertype:"string"`
	Equity        decimal.Decimal   `json:"equity" swaggertype:"string"`
	ReturnPct     decimal.Decimal   `json:"return_pct" swaggertype:"string"`
	Positions     []models.Position `json:"positions"`
	Synced        bool              `json:"synced"`
}

// Snapshot values cash plus positions.
func (a *Account) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := a.positionsLocked()
	value := decimal.Zero
	for _, p := range positions {
		value = value.Add(p.MarketValue)
	}
	equity := a.cash.Add(value)
	ret := decimal.Zero
	if !a.startingCash.IsZero() {
		ret = equity.Sub(a.startingCash).Div(a.startingCash).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return Summary{
		StartingCash:  a.startingCash,
		Cash:          a.cash,
		HoldingsValue: value,
		Equity:        equity,
		ReturnPct:     ret,
		Positions:     positions,
		Synced:        a.synced,
	}
}

// Transactions returns the log newest first.
func (a *Account) Transactions() []models.TransactionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.TransactionRecord, len(a.log))
	for i, r := range a.log {
		out[len(a.log)-1-i] = r
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// PendingOrders returns queued orders oldest first.
func (a *Account) PendingOrders() []models.PendingOrder {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.PendingOrder{}, a.pending...)
}

// CancelPending drops a pending order from the local queue.
func (a *Account) CancelPending(id string) (models.PendingOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, p := range a.pending {
		if p.ID == id {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			return p, nil
		}
	}
	return models.PendingOrder{}, fmt.Errorf("%w: %s", ErrPendingNotFound, id)
}

// Notifications returns the feed newest first.
func (a *Account) Notifications() []models.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Notification, len(a.notes))
	for i, n := range a.notes {
		out[len(a.notes)-1-i] = n
	}
	return out
}

// MarkNotificationsRead flags every notification as read and returns how
// many changed.
func (a *Account) MarkNotificationsRead() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := 0
	for i := range a.notes {
		if !a.notes[i].Read {
			a.notes[i].Read = true
			changed++
		}
	}
	return changed
}
