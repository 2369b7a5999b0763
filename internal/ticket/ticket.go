package ticket

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// State is the lifecycle position of the order ticket.
type State string

const (
	Closed     State = "CLOSED"
	Composing  State = "COMPOSING"
	Submitting State = "SUBMITTING"
	Filled     State = "FILLED"
	Pending    State = "PENDING"
	Rejected   State = "REJECTED"
)

// Field is the keypad target.
type Field string

const (
	FieldPrice    Field = "PRICE"
	FieldQuantity Field = "QUANTITY"
)

// Direction of an Adjust call.
type Direction int

const (
	Decrease Direction = -1
	Increase Direction = 1
)

// Keypad keys besides the digits 0-9.
const (
	KeyDoubleZero = "00"
	KeyBackspace  = "back"
)

// maxDigits bounds both buffers so price*quantity stays far from overflow.
const (
	maxDigits = 12
	maxValue  = 999_999_999_999

	// maxAdjustPercent bounds a single price step.
	maxAdjustPercent = 1000
)

var (
	ErrClosed          = errors.New("order ticket is not open")
	ErrSubmitInFlight  = errors.New("an order from this ticket is already being submitted")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrInvalidField    = errors.New("unknown ticket field")
	ErrInvalidKey      = errors.New("unknown keypad key")
	ErrInvalidSide     = errors.New("unknown order side")
	ErrInvalidAmount   = errors.New("adjust amount out of range")
)

var printer = message.NewPrinter(language.English)

// ParseField normalizes "price"/"quantity" (case-insensitive).
func ParseField(s string) (Field, error) {
	switch Field(strings.ToUpper(strings.TrimSpace(s))) {
	case FieldPrice:
		return FieldPrice, nil
	case FieldQuantity:
		return FieldQuantity, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidField, s)
	}
}

// ParseDirection accepts "up"/"down" and "+"/"-".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "+", "increase":
		return Increase, nil
	case "down", "-", "decrease":
		return Decrease, nil
	default:
		return 0, fmt.Errorf("invalid adjust direction %q", s)
	}
}

// Outcome is the venue verdict applied to a submitting ticket.
type Outcome struct {
	State  State // Filled, Pending or Rejected
	Reason string
}

// View is an immutable snapshot of the ticket for rendering.
type View struct {
	State        State           `json:"state" example:"COMPOSING"`
	Session      uint64          `json:"session"`
	Side         models.Side     `json:"side,omitempty" example:"BUY"`
	Ticker       string          `json:"ticker,omitempty" example:"SSE"`
	Name         string          `json:"name,omitempty" example:"Samsung Electronics"`
	Price        int64           `json:"price" example:"72000"`
	PriceText    string          `json:"price_text" example:"72,000"`
	Quantity     int64           `json:"quantity" example:"1"`
	QuantityText string          `json:"quantity_text" example:"1"`
	Field        Field           `json:"field,omitempty" example:"PRICE"`
	Total        decimal.Decimal `json:"total" swaggertype:"string" example:"72000"`
	Message      string          `json:"message,omitempty"`
}

// Ticket is the keypad-driven order entry state machine. One Ticket holds
// one session at a time; every Open starts a new session so results of an
// earlier submission can be recognized as stale.
type Ticket struct {
	mu sync.Mutex

	state   State
	session uint64

	side   models.Side
	ticker string
	name   string

	price    string
	quantity string
	field    Field
	first    bool
	message  string
}

// New returns a closed ticket.
func New() *Ticket {
	return &Ticket{state: Closed}
}

// Open starts a new session in Composing with quantity 1, the given default
// price and the price field focused.
func (t *Ticket) Open(side models.Side, ticker, name string, defaultPrice decimal.Decimal) (View, error) {
	if side != models.SideBuy && side != models.SideSell {
		return View{}, ErrInvalidSide
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Submitting {
		return t.viewLocked(), ErrSubmitInFlight
	}

	price := defaultPrice.Round(0)
	if price.IsNegative() {
		price = decimal.Zero
	}

	t.session++
	t.state = Composing
	t.side = side
	t.ticker = ticker
	t.name = name
	t.price = normalize(price.String())
	t.quantity = "1"
	t.field = FieldPrice
	t.first = true
	t.message = ""
	return t.viewLocked(), nil
}

// Focus switches the keypad target. The next key replaces the field value.
func (t *Ticket) Focus(f Field) (View, error) {
	if f != FieldPrice && f != FieldQuantity {
		return View{}, ErrInvalidField
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.editableLocked(); err != nil {
		return t.viewLocked(), err
	}
	t.field = f
	t.first = true
	return t.viewLocked(), nil
}

// Press applies one keypad key ("0".."9", "00" or "back") to the focused field.
func (t *Ticket) Press(key string) (View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.editableLocked(); err != nil {
		return t.viewLocked(), err
	}

	buf := t.bufferLocked()
	next, err := applyKey(*buf, key, t.first)
	if err != nil {
		return t.viewLocked(), err
	}
	*buf = next
	t.first = false
	return t.viewLocked(), nil
}

// Adjust moves the focused field: by amount percent of the price when the
// price is focused (rounded half away from zero), or by amount shares when
// the quantity is focused. Results are kept within zero and the largest
// value the keypad can enter.
func (t *Ticket) Adjust(dir Direction, amount int64) (View, error) {
	if amount < 0 {
		amount = -amount
	}
	if amount < 0 || amount > maxValue {
		return t.View(), fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.editableLocked(); err != nil {
		return t.viewLocked(), err
	}

	buf := t.bufferLocked()
	cur, _ := strconv.ParseInt(*buf, 10, 64)

	delta := amount
	if t.field == FieldPrice {
		if amount > maxAdjustPercent {
			return t.viewLocked(), fmt.Errorf("%w: %d%%", ErrInvalidAmount, amount)
		}
		delta = decimal.NewFromInt(cur).Mul(decimal.NewFromInt(amount)).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	}
	next := cur + int64(dir)*delta
	switch {
	case next < 0:
		next = 0
	case next > maxValue:
		next = maxValue
	}
	*buf = normalize(strconv.FormatInt(next, 10))
	t.first = false
	return t.viewLocked(), nil
}

// Begin validates the ticket and moves it to Submitting. It returns the
// order intent and the session it belongs to. Only one submission may be
// in flight per ticket.
func (t *Ticket) Begin() (models.OrderRequest, uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Submitting:
		return models.OrderRequest{}, 0, ErrSubmitInFlight
	case Composing, Rejected:
	default:
		return models.OrderRequest{}, 0, ErrClosed
	}

	price, qty := t.valuesLocked()
	if qty <= 0 {
		return models.OrderRequest{}, 0, ErrInvalidQuantity
	}

	t.state = Submitting
	t.message = ""
	return models.OrderRequest{
		Ticker:   t.ticker,
		Side:     t.side,
		Price:    decimal.NewFromInt(price),
		Quantity: qty,
	}, t.session, nil
}

// Finish applies the venue outcome to the session started by Begin.
// It reports false, changing nothing, when the session is no longer current
// (the ticket was closed or reopened meanwhile).
func (t *Ticket) Finish(session uint64, out Outcome) (View, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if session != t.session || t.state != Submitting {
		return t.viewLocked(), false
	}

	switch out.State {
	case Filled, Pending:
		t.state = out.State
	default:
		// Rejected orders stay editable so the user can correct them.
		t.state = Rejected
	}
	t.message = out.Reason
	return t.viewLocked(), true
}

// Close discards the current session.
func (t *Ticket) Close() View {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.session++
	t.state = Closed
	t.side, t.ticker, t.name = "", "", ""
	t.price, t.quantity = "0", "0"
	t.field = ""
	t.first = false
	t.message = ""
	return t.viewLocked()
}

// View returns the current snapshot.
func (t *Ticket) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

func (t *Ticket) editableLocked() error {
	switch t.state {
	case Composing:
		return nil
	case Rejected:
		t.state = Composing
		return nil
	case Submitting:
		return ErrSubmitInFlight
	default:
		return ErrClosed
	}
}

func (t *Ticket) bufferLocked() *string {
	if t.field == FieldQuantity {
		return &t.quantity
	}
	return &t.price
}

func (t *Ticket) valuesLocked() (int64, int64) {
	price, _ := strconv.ParseInt(t.price, 10, 64)
	qty, _ := strconv.ParseInt(t.quantity, 10, 64)
	return price, qty
}

func (t *Ticket) viewLocked() View {
	price, qty := t.valuesLocked()
	v := View{
		State:        t.state,
		Session:      t.session,
		Side:         t.side,
		Ticker:       t.ticker,
		Name:         t.name,
		Price:        price,
		PriceText:    printer.Sprintf("%d", price),
		Quantity:     qty,
		QuantityText: strconv.FormatInt(qty, 10),
		Field:        t.field,
		Total:        decimal.NewFromInt(price).Mul(decimal.NewFromInt(qty)),
		Message:      t.message,
	}
	if t.state == Closed {
		v.Price, v.Quantity = 0, 0
		v.PriceText, v.QuantityText = "0", "0"
		v.Total = decimal.Zero
	}
	return v
}

// applyKey returns buf after key. On the first key after a focus change a
// digit replaces the buffer and backspace clears it.
func applyKey(buf, key string, first bool) (string, error) {
	switch key {
	case KeyBackspace:
		if first || len(buf) <= 1 {
			return "0", nil
		}
		return buf[:len(buf)-1], nil
	case KeyDoubleZero:
		if first || buf == "0" {
			return "0", nil
		}
		return bounded(buf, buf+"00"), nil
	}

	if len(key) != 1 || key[0] < '0' || key[0] > '9' {
		return buf, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if first || buf == "0" {
		return key, nil
	}
	return bounded(buf, buf+key), nil
}

// bounded keeps the old buffer when next would exceed maxDigits.
func bounded(old, next string) string {
	if len(next) > maxDigits {
		return old
	}
	return next
}

// normalize strips leading zeros ("007" → "7", "" → "0").
func normalize(s string) string {
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}
