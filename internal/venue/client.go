package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/guttosm/candledesk/internal/logger"
	"github.com/guttosm/candledesk/internal/metrics"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultBackoff     = 200 * time.Millisecond
	defaultTradesLimit = 3000
	maxBodyBytes       = 8 << 20
)

// Config holds the connection settings of the venue client.
type Config struct {
	BaseURL     string
	UserName    string
	Timeout     time.Duration
	RPS         float64
	Burst       int
	Retries     uint64
	Backoff     time.Duration
	TradesLimit int
	// Location resolves venue timestamps sent without a zone. Nil means UTC.
	Location *time.Location
}

// StatusError is returned when the venue answers with an unexpected HTTP status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("venue %s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// Client talks to the exchange venue over REST+JSON.
//
// Behavior:
//   - Every request waits on a shared token bucket limiter.
//   - GET requests retry network errors, 5xx and 429 with exponential backoff.
//   - Order submission is sent exactly once.
type Client struct {
	baseURL     string
	agentID     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	retries     uint64
	backoff     time.Duration
	tradesLimit int
	loc         *time.Location
}

// AgentID builds the venue identity of a user name.
func AgentID(userName string) string {
	return "USER_" + userName
}

// NewClient builds a Client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.TradesLimit <= 0 {
		cfg.TradesLimit = defaultTradesLimit
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		agentID:     AgentID(cfg.UserName),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(limit, cfg.Burst),
		retries:     cfg.Retries,
		backoff:     cfg.Backoff,
		tradesLimit: cfg.TradesLimit,
		loc:         cfg.Location,
	}
}

// AgentID returns the identity this client trades as.
func (c *Client) AgentID() string { return c.agentID }

// ListInstruments returns the listed companies with their latest quote.
func (c *Client) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	body, err := c.get(ctx, "list_instruments", "/api/companies", nil, false)
	if err != nil {
		return nil, err
	}
	return decodeInstruments(body)
}

// GetTrades returns the recent trade prints of one instrument, oldest first
// as delivered by the venue.
func (c *Client) GetTrades(ctx context.Context, ticker string) ([]models.Tick, error) {
	q := url.Values{"limit": {strconv.Itoa(c.tradesLimit)}}
	body, err := c.get(ctx, "get_trades", "/api/chart/"+url.PathEscape(ticker), q, false)
	if err != nil {
		return nil, err
	}
	return decodeTicks(body, c.loc)
}

// GetOrderBook returns the resting order ladder of one instrument.
func (c *Client) GetOrderBook(ctx context.Context, ticker string) (models.OrderBook, error) {
	body, err := c.get(ctx, "get_orderbook", "/stocks/"+url.PathEscape(ticker)+"/orderbook", nil, false)
	if err != nil {
		return models.OrderBook{}, err
	}
	book, err := decodeOrderBook(body)
	if err != nil {
		return models.OrderBook{}, err
	}
	if book.Ticker == "" {
		book.Ticker = ticker
	}
	return book, nil
}

// GetUserStatus returns the venue's authoritative cash and holdings.
func (c *Client) GetUserStatus(ctx context.Context) (models.UserStatus, error) {
	body, err := c.get(ctx, "get_user_status", "/api/user/status", nil, true)
	if err != nil {
		return models.UserStatus{}, err
	}
	return decodeUserStatus(body, c.loc)
}

// GetUserHistory returns the trades in which this client's agent was buyer
// or seller.
func (c *Client) GetUserHistory(ctx context.Context) ([]models.Trade, error) {
	body, err := c.get(ctx, "get_user_history", "/api/user/history", nil, true)
	if err != nil {
		return nil, err
	}
	trades, err := decodeHistory(body, c.loc)
	if err != nil {
		return nil, err
	}
	out := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		if _, ok := t.SideFor(c.agentID); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

type orderPayload struct {
	AgentID   string      `json:"agent_id"`
	Ticker    string      `json:"ticker"`
	Side      models.Side `json:"side"`
	OrderType string      `json:"order_type"`
	Price     json.Number `json:"price"`
	Quantity  int64       `json:"quantity"`
}

// SubmitOrder sends a limit order. A FAIL verdict is returned as a result,
// not an error; transport failures and unexpected statuses are errors.
func (c *Client) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	const op = "submit_order"
	payload, err := json.Marshal(orderPayload{
		AgentID:   c.agentID,
		Ticker:    req.Ticker,
		Side:      req.Side,
		OrderType: "LIMIT",
		Price:     json.Number(req.Price.String()),
		Quantity:  req.Quantity,
	})
	if err != nil {
		return models.OrderResult{}, fmt.Errorf("encode order: %w", err)
	}

	code, body, err := c.do(ctx, http.MethodPost, "/api/trade/order", nil, bytes.NewReader(payload), false)
	if err != nil {
		metrics.VenueRequestsTotal.WithLabelValues(op, "error").Inc()
		return models.OrderResult{}, fmt.Errorf("venue %s: %w", op, err)
	}

	res, decErr := decodeOrderResult(body)
	if code < 200 || code > 299 {
		if decErr == nil && (res.Status == models.StatusFail || res.Reason != "") {
			res.Status = models.StatusFail
			metrics.VenueRequestsTotal.WithLabelValues(op, "rejected").Inc()
			return res, nil
		}
		metrics.VenueRequestsTotal.WithLabelValues(op, "error").Inc()
		return models.OrderResult{}, &StatusError{Op: op, Code: code, Body: snippet(body)}
	}
	if decErr != nil {
		metrics.VenueRequestsTotal.WithLabelValues(op, "error").Inc()
		return models.OrderResult{}, decErr
	}
	metrics.VenueRequestsTotal.WithLabelValues(op, "ok").Inc()
	return res, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, withUser bool) ([]byte, error) {
	var body []byte
	b := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	attempt := 0
	log := logger.Component("venue").With().Str("op", op).Logger()
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		code, data, err := c.do(ctx, http.MethodGet, path, query, nil, withUser)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Debug().Err(err).Int("attempt", attempt).Msg("venue request failed")
			return retry.RetryableError(err)
		}
		if code < 200 || code > 299 {
			se := &StatusError{Op: op, Code: code, Body: snippet(data)}
			if se.Temporary() {
				log.Debug().Int("status", code).Int("attempt", attempt).Msg("venue request retrying")
				return retry.RetryableError(se)
			}
			return se
		}
		body = data
		return nil
	})
	metrics.VenueRequestsTotal.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, fmt.Errorf("venue %s: %w", op, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload io.Reader, withUser bool) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withUser {
		req.Header.Set("X-User-ID", url.PathEscape(c.agentID))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
