package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/guttosm/candledesk/internal/candle"
	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/guttosm/candledesk/internal/portfolio"
	"github.com/guttosm/candledesk/internal/ticket"
)

const agent = "USER_tester"

type stubVenue struct {
	mu sync.Mutex

	instruments    []models.Instrument
	instrumentsErr error
	trades         map[string][]models.Tick
	tradesErr      error
	book           models.OrderBook
	bookErr        error
	result         models.OrderResult
	submitErr      error
	submitGate     chan struct{}
	submitted      []models.OrderRequest
	status         models.UserStatus
	statusErr      error
	history        []models.Trade
	historyErr     error
}

func (s *stubVenue) AgentID() string { return agent }
func (s *stubVenue) ListInstruments(context.Context) ([]models.Instrument, error) {
	return s.instruments, s.instrumentsErr
}
func (s *stubVenue) GetTrades(_ context.Context, ticker string) ([]models.Tick, error) {
	if s.tradesErr != nil {
		return nil, s.tradesErr
	}
	return s.trades[ticker], nil
}
func (s *stubVenue) GetOrderBook(context.Context, string) (models.OrderBook, error) {
	return s.book, s.bookErr
}
func (s *stubVenue) SubmitOrder(_ context.Context, req models.OrderRequest) (models.OrderResult, error) {
	if s.submitGate != nil {
		<-s.submitGate
	}
	s.mu.Lock()
	s.submitted = append(s.submitted, req)
	s.mu.Unlock()
	return s.result, s.submitErr
}
func (s *stubVenue) GetUserStatus(context.Context) (models.UserStatus, error) {
	return s.status, s.statusErr
}
func (s *stubVenue) GetUserHistory(context.Context) ([]models.Trade, error) {
	return s.history, s.historyErr
}

type stubRepo struct {
	instruments []models.Instrument
	ticks       []models.Tick
	upserted    int
}

func (s *stubRepo) InsertTicksBatch(context.Context, string, []models.Tick) error { return nil }
func (s *stubRepo) LatestTickTime(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (s *stubRepo) GetTicks(context.Context, string, time.Time, int) ([]models.Tick, error) {
	return s.ticks, nil
}
func (s *stubRepo) DeleteTicksBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (s *stubRepo) UpsertInstruments(_ context.Context, list []models.Instrument) error {
	s.upserted += len(list)
	return nil
}
func (s *stubRepo) ListInstruments(context.Context) ([]models.Instrument, error) {
	return s.instruments, nil
}
func (s *stubRepo) HasIngestion(context.Context, string) (bool, error)            { return false, nil }
func (s *stubRepo) UpsertIngestionLog(context.Context, string, string, int) error { return nil }

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

var sse = models.Instrument{Ticker: "SSE", Name: "Samsung Electronics", Price: dec(72000)}

func newDesk(v *stubVenue, repo *stubRepo, cash int64) (DeskService, *portfolio.Account) {
	acc := portfolio.NewAccount(dec(cash))
	d := Deps{
		Venue:      v,
		Account:    acc,
		Aggregator: candle.NewAggregator(candle.Config{Seed: 7, MinimumCandles: 5}),
		Ticket:     ticket.New(),
	}
	if repo != nil {
		d.Repo = repo
	}
	return NewDeskService(d), acc
}

func ticksAt(base time.Time, prices ...int64) []models.Tick {
	out := make([]models.Tick, len(prices))
	for i, p := range prices {
		out[i] = models.Tick{Time: base.Add(time.Duration(i) * time.Minute), Price: dec(p)}
	}
	return out
}

func TestInstruments_Fallbacks(t *testing.T) {
	down := errors.New("venue down")
	cases := []struct {
		name       string
		prepare    func(v *stubVenue, svc DeskService)
		repo       *stubRepo
		wantSource string
		wantLen    int
		degraded   bool
	}{
		{name: "live", wantSource: "venue", wantLen: 1},
		{
			name: "memory after failure",
			prepare: func(v *stubVenue, svc DeskService) {
				svc.Instruments(context.Background())
				v.instrumentsErr = down
			},
			wantSource: "memory", wantLen: 1, degraded: true,
		},
		{
			name:       "postgres cache",
			prepare:    func(v *stubVenue, _ DeskService) { v.instrumentsErr = down },
			repo:       &stubRepo{instruments: []models.Instrument{sse, {Ticker: "HDX"}}},
			wantSource: "cache", wantLen: 2, degraded: true,
		},
		{
			name:       "nothing known",
			prepare:    func(v *stubVenue, _ DeskService) { v.instrumentsErr = down },
			wantSource: "none", wantLen: 0, degraded: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &stubVenue{instruments: []models.Instrument{sse}}
			svc, _ := newDesk(v, tc.repo, 1000)
			if tc.prepare != nil {
				tc.prepare(v, svc)
			}
			got := svc.Instruments(context.Background())
			if got.Source != tc.wantSource || len(got.Instruments) != tc.wantLen || got.Degraded != tc.degraded {
				t.Fatalf("got %+v", got)
			}
			if got.Instruments == nil {
				t.Fatalf("instrument list must never be nil")
			}
		})
	}
}

func TestInstruments_LiveRefreshesCacheAndMarks(t *testing.T) {
	v := &stubVenue{instruments: []models.Instrument{sse}}
	repo := &stubRepo{}
	svc, acc := newDesk(v, repo, 1000000)
	acc.Reconcile(models.OrderRequest{Ticker: "SSE", Side: models.SideBuy, Price: dec(70000), Quantity: 1}, "", models.OrderResult{Status: models.StatusFilled}, nil)

	svc.Instruments(context.Background())
	if repo.upserted != 1 {
		t.Fatalf("cache not refreshed")
	}
	p := svc.Portfolio().Positions
	if len(p) != 1 || !p[0].CurrentPrice.Equal(dec(72000)) {
		t.Fatalf("position not marked: %+v", p)
	}
}

func TestChart(t *testing.T) {
	base := time.Date(2025, 9, 18, 1, 0, 0, 0, time.UTC)
	x := 5.0

	t.Run("venue ticks", func(t *testing.T) {
		v := &stubVenue{trades: map[string][]models.Tick{"SSE": ticksAt(base, 100, 110, 90, 105)}}
		svc, _ := newDesk(v, nil, 0)
		c := svc.Chart(context.Background(), ChartQuery{Ticker: "SSE", Period: candle.Intraday, HoverX: &x})
		if c.NoData || c.Degraded {
			t.Fatalf("unexpected flags %+v", c)
		}
		if len(c.Candles) < 5 || len(c.Directions) != len(c.Candles) {
			t.Fatalf("candles=%d directions=%d", len(c.Candles), len(c.Directions))
		}
		if !c.LastPrice.Equal(dec(105)) {
			t.Fatalf("last price=%s", c.LastPrice)
		}
		if c.Hover == nil || c.Viewport.Width != defaultChartWidth {
			t.Fatalf("hover/viewport not computed: %+v", c.Viewport)
		}
	})

	t.Run("cache fallback when venue is down", func(t *testing.T) {
		v := &stubVenue{tradesErr: errors.New("down")}
		svc, _ := newDesk(v, &stubRepo{ticks: ticksAt(base, 100, 101)}, 0)
		c := svc.Chart(context.Background(), ChartQuery{Ticker: "SSE", Period: candle.Intraday})
		if !c.Degraded || c.NoData || c.RealCandles == 0 {
			t.Fatalf("unexpected chart %+v", c)
		}
	})

	t.Run("no data anywhere", func(t *testing.T) {
		v := &stubVenue{instruments: []models.Instrument{sse}}
		svc, _ := newDesk(v, nil, 0)
		c := svc.Chart(context.Background(), ChartQuery{Ticker: "SSE", Period: candle.Weekly})
		if !c.NoData || len(c.Candles) != 0 {
			t.Fatalf("unexpected chart %+v", c)
		}
		if !c.LastPrice.Equal(dec(72000)) || !c.Viewport.Max.GreaterThan(c.Viewport.Min) {
			t.Fatalf("viewport not centered on quote: %+v", c.Viewport)
		}
	})
}

func TestOrderBook_Degraded(t *testing.T) {
	v := &stubVenue{bookErr: errors.New("down"), instruments: []models.Instrument{sse}}
	svc, _ := newDesk(v, nil, 0)
	b := svc.OrderBook(context.Background(), "SSE")
	if !b.Degraded || b.Asks == nil || b.Bids == nil || !b.CurrentPrice.Equal(dec(72000)) {
		t.Fatalf("unexpected book %+v", b)
	}

	v.bookErr = nil
	v.book = models.OrderBook{Ticker: "SSE", Asks: []models.OrderBookLevel{{Price: dec(1), Quantity: 1}}}
	b = svc.OrderBook(context.Background(), "SSE")
	if b.Degraded || b.Bids == nil || len(b.Asks) != 1 {
		t.Fatalf("unexpected live book %+v", b)
	}
}

func TestOpenTicket_DefaultPrice(t *testing.T) {
	base := time.Date(2025, 9, 18, 1, 0, 0, 0, time.UTC)

	v := &stubVenue{instruments: []models.Instrument{sse}, trades: map[string][]models.Tick{"SSE": ticksAt(base, 71000, 71500)}}
	svc, _ := newDesk(v, nil, 0)
	view, err := svc.OpenTicket(context.Background(), models.SideBuy, "sse")
	if err != nil {
		t.Fatalf("OpenTicket: %v", err)
	}
	if view.Price != 71500 || view.Name != "Samsung Electronics" || view.Quantity != 1 || view.State != ticket.Composing {
		t.Fatalf("unexpected view %+v", view)
	}

	v.trades = nil
	view, _ = svc.OpenTicket(context.Background(), models.SideSell, "SSE")
	if view.Price != 72000 {
		t.Fatalf("instrument price fallback not used: %+v", view)
	}

	if _, err := svc.OpenTicket(context.Background(), models.SideBuy, "NOPE"); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
}

func openSSE(t *testing.T, svc DeskService, side models.Side, keys ...string) {
	t.Helper()
	if _, err := svc.OpenTicket(context.Background(), side, "SSE"); err != nil {
		t.Fatalf("OpenTicket: %v", err)
	}
	if len(keys) > 0 {
		if _, err := svc.Press(keys); err != nil {
			t.Fatalf("Press: %v", err)
		}
	}
}

func TestSubmitTicket_Outcomes(t *testing.T) {
	cases := []struct {
		name      string
		side      models.Side
		result    models.OrderResult
		submitErr error
		cash      int64
		wantKind  portfolio.OutcomeKind
		wantState ticket.State
		wantCalls int
		wantCash  int64
	}{
		{name: "filled", side: models.SideBuy, result: models.OrderResult{Status: models.StatusFilled}, cash: 5000000,
			wantKind: portfolio.OutcomeFilled, wantState: ticket.Filled, wantCalls: 1, wantCash: 4900000},
		{name: "pending", side: models.SideBuy, result: models.OrderResult{Status: models.StatusPending}, cash: 5000000,
			wantKind: portfolio.OutcomePending, wantState: ticket.Pending, wantCalls: 1, wantCash: 5000000},
		{name: "venue fail", side: models.SideBuy, result: models.OrderResult{Status: models.StatusFail, Reason: "halted"}, cash: 5000000,
			wantKind: portfolio.OutcomeRejected, wantState: ticket.Rejected, wantCalls: 1, wantCash: 5000000},
		{name: "transport error", side: models.SideBuy, submitErr: errors.New("timeout"), cash: 5000000,
			wantKind: portfolio.OutcomeRejected, wantState: ticket.Rejected, wantCalls: 1, wantCash: 5000000},
		{name: "insufficient cash", side: models.SideBuy, cash: 1000,
			wantKind: portfolio.OutcomeRejected, wantState: ticket.Rejected, wantCalls: 0, wantCash: 1000},
		{name: "insufficient shares", side: models.SideSell, cash: 5000000,
			wantKind: portfolio.OutcomeRejected, wantState: ticket.Rejected, wantCalls: 0, wantCash: 5000000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &stubVenue{instruments: []models.Instrument{sse}, result: tc.result, submitErr: tc.submitErr}
			svc, acc := newDesk(v, nil, tc.cash)

			// price 10000, quantity 10
			openSSE(t, svc, tc.side, "1", "00", "00")
			if _, err := svc.Focus(ticket.FieldQuantity); err != nil {
				t.Fatalf("Focus: %v", err)
			}
			if _, err := svc.Press([]string{"1", "0"}); err != nil {
				t.Fatalf("Press: %v", err)
			}

			res, err := svc.SubmitTicket(context.Background())
			if err != nil {
				t.Fatalf("SubmitTicket: %v", err)
			}
			if res.Outcome != tc.wantKind || res.Ticket.State != tc.wantState {
				t.Fatalf("result %+v", res)
			}
			if len(v.submitted) != tc.wantCalls {
				t.Fatalf("venue calls=%d, want %d", len(v.submitted), tc.wantCalls)
			}
			if tc.wantCalls == 1 {
				sent := v.submitted[0]
				if sent.Quantity != 10 || !sent.Price.Equal(dec(10000)) || sent.Side != tc.side {
					t.Fatalf("sent %+v", sent)
				}
			}
			if !acc.Cash().Equal(dec(tc.wantCash)) {
				t.Fatalf("cash=%s, want %d", acc.Cash(), tc.wantCash)
			}
			if tc.wantKind == portfolio.OutcomeRejected && res.Reason == "" {
				t.Fatalf("rejection without reason")
			}
		})
	}
}

func TestSubmitTicket_RejectsWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	v := &stubVenue{instruments: []models.Instrument{sse}, result: models.OrderResult{Status: models.StatusFilled}, submitGate: gate}
	svc, _ := newDesk(v, nil, 5000000)
	openSSE(t, svc, models.SideBuy, "5")

	done := make(chan SubmitResult)
	go func() {
		res, _ := svc.SubmitTicket(context.Background())
		done <- res
	}()

	deadline := time.Now().Add(2 * time.Second)
	for svc.Ticket().State != ticket.Submitting {
		if time.Now().After(deadline) {
			t.Fatalf("ticket never reached SUBMITTING")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := svc.SubmitTicket(context.Background()); !errors.Is(err, ticket.ErrSubmitInFlight) {
		t.Fatalf("expected ErrSubmitInFlight, got %v", err)
	}

	close(gate)
	if res := <-done; res.Outcome != portfolio.OutcomeFilled {
		t.Fatalf("first submission %+v", res)
	}
	if len(v.submitted) != 1 {
		t.Fatalf("venue calls=%d, want 1", len(v.submitted))
	}
}

func TestSubmitTicket_ClosedTicket(t *testing.T) {
	svc, _ := newDesk(&stubVenue{}, nil, 0)
	if _, err := svc.SubmitTicket(context.Background()); !errors.Is(err, ticket.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPress_RequiresKeys(t *testing.T) {
	v := &stubVenue{instruments: []models.Instrument{sse}}
	svc, _ := newDesk(v, nil, 0)
	openSSE(t, svc, models.SideBuy)
	if _, err := svc.Press(nil); !errors.Is(err, ErrInvalidKeys) {
		t.Fatalf("expected ErrInvalidKeys, got %v", err)
	}
	if _, err := svc.Press([]string{"1", "x"}); !errors.Is(err, ticket.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestSync_AppliesAllParts(t *testing.T) {
	ts := time.Date(2025, 9, 18, 1, 0, 0, 0, time.UTC)
	v := &stubVenue{
		instruments: []models.Instrument{sse},
		status:      models.UserStatus{Balance: dec(4000000), Holdings: map[string]int64{"SSE": 5}},
		history: []models.Trade{
			{ID: "1", Ticker: "SSE", BuyerID: agent, SellerID: "BOT", Price: dec(200000), Quantity: 5, Timestamp: ts},
			{ID: "2", Ticker: "SSE", BuyerID: "A", SellerID: "B", Price: dec(1), Quantity: 1, Timestamp: ts},
		},
	}
	svc, acc := newDesk(v, nil, 5000000)
	svc.Instruments(context.Background())

	rep, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !rep.StatusApplied || rep.HistoryAdded != 1 || !rep.InstrumentsRefreshed {
		t.Fatalf("report %+v", rep)
	}
	if !acc.Cash().Equal(dec(4000000)) || acc.Shares("SSE") != 5 {
		t.Fatalf("status not applied")
	}
	txs := svc.Transactions()
	if len(txs) != 1 || txs[0].Side != models.SideBuy || txs[0].InstrumentName != "Samsung Electronics" {
		t.Fatalf("unexpected log %+v", txs)
	}
}

func TestSync_PartialFailureSkipsPart(t *testing.T) {
	v := &stubVenue{
		instruments: []models.Instrument{sse},
		statusErr:   errors.New("status down"),
	}
	svc, acc := newDesk(v, nil, 5000000)

	rep, err := svc.Sync(context.Background())
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if rep.StatusApplied || !rep.InstrumentsRefreshed {
		t.Fatalf("report %+v", rep)
	}
	if !acc.Cash().Equal(dec(5000000)) {
		t.Fatalf("cash changed on failed status")
	}
}

func TestSync_CanceledContextDropsResults(t *testing.T) {
	v := &stubVenue{status: models.UserStatus{Balance: dec(1)}}
	svc, acc := newDesk(v, nil, 5000000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Sync(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !acc.Cash().Equal(dec(5000000)) {
		t.Fatalf("result applied after cancellation")
	}
}

func TestSync_SuppressesLocalFillDuplicate(t *testing.T) {
	v := &stubVenue{instruments: []models.Instrument{sse}, result: models.OrderResult{Status: models.StatusFilled}}
	svc, _ := newDesk(v, nil, 5000000)
	openSSE(t, svc, models.SideBuy, "1", "00", "00")
	if _, err := svc.SubmitTicket(context.Background()); err != nil {
		t.Fatalf("SubmitTicket: %v", err)
	}

	local := svc.Transactions()[0]
	v.history = []models.Trade{{ID: "T1", Ticker: "SSE", BuyerID: agent, Price: dec(10000), Quantity: 1, Timestamp: local.Timestamp}}
	v.status = models.UserStatus{Balance: dec(4990000), Holdings: map[string]int64{"SSE": 1}}
	if _, err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n := len(svc.Transactions()); n != 1 {
		t.Fatalf("log=%d, want 1", n)
	}
}

func TestTradesToRecords(t *testing.T) {
	trades := []models.Trade{
		{ID: "1", Ticker: "SSE", SellerID: agent, Price: dec(10), Quantity: 3},
		{ID: "2", Ticker: "SSE", BuyerID: agent, Price: dec(10), Quantity: 0},
		{ID: "3", Ticker: "SSE", BuyerID: "x", SellerID: "y", Price: dec(10), Quantity: 1},
	}
	recs := tradesToRecords(trades, agent)
	if len(recs) != 1 || recs[0].Side != models.SideSell || !recs[0].TotalAmount.Equal(dec(30)) {
		t.Fatalf("unexpected records %+v", recs)
	}
}
