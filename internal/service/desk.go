package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/guttosm/candledesk/internal/candle"
	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/guttosm/candledesk/internal/logger"
	"github.com/guttosm/candledesk/internal/metrics"
	"github.com/guttosm/candledesk/internal/portfolio"
	"github.com/guttosm/candledesk/internal/storage"
	"github.com/guttosm/candledesk/internal/ticket"
)

const (
	defaultChartWidth  = 600
	defaultChartHeight = 300
	defaultCacheLimit  = 20000
	cacheLookback      = 366 * 24 * time.Hour
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrInvalidKeys       = errors.New("at least one key is required")
)

// now is an indirection so tests can pin the clock.
var now = time.Now

// Venue is the exchange surface the desk depends on.
type Venue interface {
	AgentID() string
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	GetTrades(ctx context.Context, ticker string) ([]models.Tick, error)
	GetOrderBook(ctx context.Context, ticker string) (models.OrderBook, error)
	SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error)
	GetUserStatus(ctx context.Context) (models.UserStatus, error)
	GetUserHistory(ctx context.Context) ([]models.Trade, error)
}

// DeskService is the trading desk of one user session.
type DeskService interface {
	Instruments(ctx context.Context) InstrumentList
	Chart(ctx context.Context, q ChartQuery) Chart
	OrderBook(ctx context.Context, ticker string) OrderBookView

	OpenTicket(ctx context.Context, side models.Side, ticker string) (ticket.View, error)
	Ticket() ticket.View
	Focus(field ticket.Field) (ticket.View, error)
	Press(keys []string) (ticket.View, error)
	Adjust(dir ticket.Direction, amount int64) (ticket.View, error)
	CloseTicket() ticket.View
	SubmitTicket(ctx context.Context) (SubmitResult, error)

	Portfolio() portfolio.Summary
	PendingOrders() []models.PendingOrder
	CancelPending(id string) (models.PendingOrder, error)
	Transactions() []models.TransactionRecord
	Notifications() []models.Notification
	MarkNotificationsRead() int

	Sync(ctx context.Context) (SyncReport, error)
}

// Deps groups the collaborators of the desk. Repo may be nil when the
// Postgres cache is disabled.
type Deps struct {
	Venue      Venue
	Repo       storage.TicksRepository
	Account    *portfolio.Account
	Aggregator *candle.Aggregator
	Ticket     *ticket.Ticket
	CacheLimit int
}

// InstrumentList is the market view; Degraded marks data that did not come
// from a live venue response.
type InstrumentList struct {
	Instruments []models.Instrument `json:"instruments"`
	Degraded    bool                `json:"degraded"`
	Source      string              `json:"source" example:"venue"`
}

// ChartQuery selects a chart and its drawing area.
type ChartQuery struct {
	Ticker string
	Period candle.Period
	Width  float64
	Height float64
	HoverX *float64
}

// Chart is a rendered candle series.
type Chart struct {
	Ticker      string             `json:"ticker" example:"SSE"`
	Period      candle.Period      `json:"period" example:"1D"`
	Candles     []models.Candle    `json:"candles"`
	Directions  []models.Direction `json:"directions"`
	Viewport    candle.Viewport    `json:"viewport"`
	Hover       *candle.Readout    `json:"hover,omitempty"`
	LastPrice   decimal.Decimal    `json:"last_price" swaggertype:"string"`
	RealCandles int                `json:"real_candles"`
	NoData      bool               `json:"no_data"`
	Degraded    bool               `json:"degraded"`
}

// OrderBookView wraps the ladder with a degraded flag.
type OrderBookView struct {
	models.OrderBook
	Degraded bool `json:"degraded"`
}

// SubmitResult reports what happened to a ticket submission.
type SubmitResult struct {
	Outcome portfolio.OutcomeKind     `json:"outcome" example:"FILLED"`
	Reason  string                    `json:"reason,omitempty"`
	Ticket  ticket.View               `json:"ticket"`
	Record  *models.TransactionRecord `json:"record,omitempty"`
	Pending *models.PendingOrder      `json:"pending,omitempty"`
}

// SyncReport summarizes one sync cycle.
type SyncReport struct {
	StatusApplied        bool `json:"status_applied"`
	Corrected            bool `json:"corrected"`
	HistoryAdded         int  `json:"history_added"`
	InstrumentsRefreshed bool `json:"instruments_refreshed"`
}

type deskService struct {
	venue      Venue
	repo       storage.TicksRepository
	account    *portfolio.Account
	agg        *candle.Aggregator
	ticket     *ticket.Ticket
	cacheLimit int

	mu          sync.RWMutex
	instruments []models.Instrument
}

func NewDeskService(d Deps) DeskService {
	if d.CacheLimit <= 0 {
		d.CacheLimit = defaultCacheLimit
	}
	if d.Ticket == nil {
		d.Ticket = ticket.New()
	}
	if d.Aggregator == nil {
		d.Aggregator = candle.NewAggregator(candle.Config{})
	}
	return &deskService{
		venue:      d.Venue,
		repo:       d.Repo,
		account:    d.Account,
		agg:        d.Aggregator,
		ticket:     d.Ticket,
		cacheLimit: d.CacheLimit,
	}
}

// ─── Market ──────────────────────────────────────────────────────────────────

// Instruments returns the listed companies.
//
// Behavior:
//   - Live venue data refreshes the in-memory list, the Postgres cache and
//     position marks.
//   - On venue failure the last in-memory list is served, then the Postgres
//     cache, then an empty list; all of these are flagged Degraded.
func (s *deskService) Instruments(ctx context.Context) InstrumentList {
	list, err := s.refreshInstruments(ctx)
	if err == nil {
		return InstrumentList{Instruments: list, Source: "venue"}
	}
	logger.L().Warn().Err(err).Msg("instrument list degraded")

	if mem := s.memoryInstruments(); len(mem) > 0 {
		return InstrumentList{Instruments: mem, Degraded: true, Source: "memory"}
	}
	if s.repo != nil {
		cached, cerr := s.repo.ListInstruments(ctx)
		if cerr != nil {
			logger.L().Warn().Err(cerr).Msg("instrument cache read failed")
		} else if len(cached) > 0 {
			s.setInstruments(cached)
			return InstrumentList{Instruments: cached, Degraded: true, Source: "cache"}
		}
	}
	return InstrumentList{Instruments: []models.Instrument{}, Degraded: true, Source: "none"}
}

func (s *deskService) refreshInstruments(ctx context.Context) ([]models.Instrument, error) {
	list, err := s.venue.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Instrument{}
	}
	s.setInstruments(list)
	s.account.MarkInstruments(list)
	if s.repo != nil && len(list) > 0 {
		if err := s.repo.UpsertInstruments(ctx, list); err != nil {
			logger.L().Warn().Err(err).Msg("instrument cache write failed")
		}
	}
	return list, nil
}

func (s *deskService) setInstruments(list []models.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments = append([]models.Instrument(nil), list...)
}

func (s *deskService) memoryInstruments() []models.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Instrument(nil), s.instruments...)
}

func (s *deskService) findInstrument(ctx context.Context, ticker string) (models.Instrument, bool) {
	find := func(list []models.Instrument) (models.Instrument, bool) {
		for _, in := range list {
			if strings.EqualFold(in.Ticker, ticker) {
				return in, true
			}
		}
		return models.Instrument{}, false
	}
	if in, ok := find(s.memoryInstruments()); ok {
		return in, true
	}
	return find(s.Instruments(ctx).Instruments)
}

// ticks returns venue trades, falling back to the tick cache. degraded is
// true when the venue could not be reached.
func (s *deskService) ticks(ctx context.Context, ticker string) (ticks []models.Tick, degraded bool) {
	ticks, err := s.venue.GetTrades(ctx, ticker)
	if err != nil {
		logger.L().Warn().Str("ticker", ticker).Err(err).Msg("venue trades unavailable")
		degraded = true
	}
	if len(ticks) > 0 || s.repo == nil {
		return ticks, degraded
	}
	cached, cerr := s.repo.GetTicks(ctx, ticker, now().Add(-cacheLookback), s.cacheLimit)
	if cerr != nil {
		logger.L().Warn().Str("ticker", ticker).Err(cerr).Msg("tick cache read failed")
		return nil, degraded
	}
	return cached, degraded
}

// Chart aggregates the instrument's trades for a period and lays them out
// on the requested drawing area.
func (s *deskService) Chart(ctx context.Context, q ChartQuery) Chart {
	if q.Width <= 0 {
		q.Width = defaultChartWidth
	}
	if q.Height <= 0 {
		q.Height = defaultChartHeight
	}
	ticks, degraded := s.ticks(ctx, q.Ticker)
	candles := s.agg.Aggregate(ticks, q.Period)

	last := decimal.Zero
	if c, ok := candle.LatestReal(candles); ok {
		last = c.Close
	} else if in, ok := s.findInstrument(ctx, q.Ticker); ok {
		last = in.Price
	}

	vp := candle.NewViewport(candles, q.Width, q.Height, last)
	out := Chart{
		Ticker:      q.Ticker,
		Period:      q.Period,
		Candles:     candles,
		Directions:  candle.Directions(candles),
		Viewport:    vp,
		LastPrice:   last,
		RealCandles: candle.RealCount(candles),
		NoData:      len(ticks) == 0,
		Degraded:    degraded,
	}
	if q.HoverX != nil {
		if r, ok := vp.HoverAt(*q.HoverX); ok {
			out.Hover = &r
		}
	}
	return out
}

// OrderBook returns the venue ladder, or an empty degraded book.
func (s *deskService) OrderBook(ctx context.Context, ticker string) OrderBookView {
	book, err := s.venue.GetOrderBook(ctx, ticker)
	if err == nil {
		if book.Asks == nil {
			book.Asks = []models.OrderBookLevel{}
		}
		if book.Bids == nil {
			book.Bids = []models.OrderBookLevel{}
		}
		return OrderBookView{OrderBook: book}
	}
	logger.L().Warn().Str("ticker", ticker).Err(err).Msg("order book degraded")
	empty := models.OrderBook{Ticker: ticker, Asks: []models.OrderBookLevel{}, Bids: []models.OrderBookLevel{}}
	if in, ok := s.findInstrument(ctx, ticker); ok {
		empty.CurrentPrice = in.Price
	}
	return OrderBookView{OrderBook: empty, Degraded: true}
}

// ─── Ticket ──────────────────────────────────────────────────────────────────

// OpenTicket opens the order ticket for ticker. The default price is the
// close of the latest real candle, else the instrument's quoted price.
func (s *deskService) OpenTicket(ctx context.Context, side models.Side, ticker string) (ticket.View, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	in, known := s.findInstrument(ctx, ticker)
	ticks, _ := s.ticks(ctx, ticker)
	if !known && len(ticks) == 0 {
		return ticket.View{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, ticker)
	}

	price := in.Price
	candles := s.agg.Aggregate(ticks, candle.Intraday)
	if c, ok := candle.LatestReal(candles); ok {
		price = c.Close
	}
	name := in.Name
	if name == "" {
		name = ticker
	}
	return s.ticket.Open(side, ticker, name, price)
}

func (s *deskService) Ticket() ticket.View { return s.ticket.View() }

func (s *deskService) Focus(field ticket.Field) (ticket.View, error) { return s.ticket.Focus(field) }

// Press applies keys in order and stops at the first rejected key.
func (s *deskService) Press(keys []string) (ticket.View, error) {
	if len(keys) == 0 {
		return s.ticket.View(), ErrInvalidKeys
	}
	var (
		v   ticket.View
		err error
	)
	for _, k := range keys {
		if v, err = s.ticket.Press(k); err != nil {
			return s.ticket.View(), err
		}
	}
	return v, nil
}

func (s *deskService) Adjust(dir ticket.Direction, amount int64) (ticket.View, error) {
	return s.ticket.Adjust(dir, amount)
}

func (s *deskService) CloseTicket() ticket.View { return s.ticket.Close() }

// SubmitTicket sends the ticket's order to the venue.
//
// Behavior:
//   - Fails with ticket.ErrSubmitInFlight while a submission is running and
//     with ticket.ErrClosed / ErrInvalidQuantity when nothing can be sent.
//   - Orders exceeding local cash (BUY) or holdings (SELL) are rejected
//     without contacting the venue.
//   - Filled orders update cash, holdings and the log; pending orders are
//     queued; rejections leave the account untouched and the ticket open.
func (s *deskService) SubmitTicket(ctx context.Context) (SubmitResult, error) {
	req, session, err := s.ticket.Begin()
	if err != nil {
		return SubmitResult{Ticket: s.ticket.View()}, err
	}

	var out portfolio.Outcome
	if err := s.account.CheckOrder(req); err != nil {
		out = portfolio.Outcome{Kind: portfolio.OutcomeRejected, Reason: err.Error()}
	} else {
		res, callErr := s.venue.SubmitOrder(ctx, req)
		out = s.account.Reconcile(req, s.ticket.View().Name, res, callErr)
	}

	state := ticket.Rejected
	switch out.Kind {
	case portfolio.OutcomeFilled:
		state = ticket.Filled
	case portfolio.OutcomePending:
		state = ticket.Pending
	}
	view, _ := s.ticket.Finish(session, ticket.Outcome{State: state, Reason: out.Reason})

	metrics.OrdersTotal.WithLabelValues(string(req.Side), string(out.Kind)).Inc()
	logger.L().Info().
		Str("ticker", req.Ticker).
		Str("side", string(req.Side)).
		Str("price", req.Price.String()).
		Int64("quantity", req.Quantity).
		Str("outcome", string(out.Kind)).
		Str("reason", out.Reason).
		Msg("order submitted")

	return SubmitResult{
		Outcome: out.Kind,
		Reason:  out.Reason,
		Ticket:  view,
		Record:  out.Record,
		Pending: out.Pending,
	}, nil
}

// ─── Account ─────────────────────────────────────────────────────────────────

func (s *deskService) Portfolio() portfolio.Summary { return s.account.Snapshot() }

func (s *deskService) PendingOrders() []models.PendingOrder { return s.account.PendingOrders() }

func (s *deskService) CancelPending(id string) (models.PendingOrder, error) {
	return s.account.CancelPending(id)
}

func (s *deskService) Transactions() []models.TransactionRecord { return s.account.Transactions() }

func (s *deskService) Notifications() []models.Notification { return s.account.Notifications() }

func (s *deskService) MarkNotificationsRead() int { return s.account.MarkNotificationsRead() }

// Sync pulls status, history and instruments concurrently and applies each
// result under one sync token.
//
// Behavior:
//   - A failing part is skipped; the others still apply. Failures are
//     joined into the returned error.
//   - Results arriving after ctx is done are dropped.
func (s *deskService) Sync(ctx context.Context) (SyncReport, error) {
	token := s.account.BeginSync()

	var (
		g      errgroup.Group
		mu     sync.Mutex
		report SyncReport
		errs   []error
	)
	fail := func(part string, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, fmt.Errorf("sync %s: %w", part, err))
	}

	g.Go(func() error {
		st, err := s.venue.GetUserStatus(ctx)
		if err != nil {
			fail("status", err)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		applied, corrected := s.account.ApplyStatus(token, st)
		mu.Lock()
		report.StatusApplied, report.Corrected = applied, corrected
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		trades, err := s.venue.GetUserHistory(ctx)
		if err != nil {
			fail("history", err)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		added := s.account.MergeHistory(token, tradesToRecords(trades, s.venue.AgentID()))
		mu.Lock()
		report.HistoryAdded = added
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		if _, err := s.refreshInstruments(ctx); err != nil {
			fail("instruments", err)
			return nil
		}
		mu.Lock()
		report.InstrumentsRefreshed = true
		mu.Unlock()
		return nil
	})

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if report.Corrected {
		logger.L().Info().Msg("account corrected from venue status")
	}
	return report, errors.Join(errs...)
}

// tradesToRecords converts venue trades the agent took part in into log
// records from the agent's point of view.
func tradesToRecords(trades []models.Trade, agentID string) []models.TransactionRecord {
	out := make([]models.TransactionRecord, 0, len(trades))
	for _, t := range trades {
		side, ok := t.SideFor(agentID)
		if !ok || t.Quantity <= 0 {
			continue
		}
		out = append(out, models.TransactionRecord{
			ID:           t.ID,
			Ticker:       t.Ticker,
			Timestamp:    t.Timestamp,
			Side:         side,
			Quantity:     t.Quantity,
			PricePerUnit: t.Price,
			TotalAmount:  t.Price.Mul(decimal.NewFromInt(t.Quantity)),
		})
	}
	return out
}
