package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/candledesk/internal/candle"
	"github.com/guttosm/candledesk/internal/domain/dto"
	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/guttosm/candledesk/internal/portfolio"
	"github.com/guttosm/candledesk/internal/service"
	"github.com/guttosm/candledesk/internal/ticket"
)

// Handler exposes the trading desk over HTTP.
//
// Responsibilities:
//   - Validate path, query and body parameters
//   - Delegate to service.DeskService
//   - Map domain errors to HTTP status codes and dto.ErrorResponse bodies
type Handler struct {
	svc service.DeskService
}

// NewHandler constructs a new Handler instance.
//
// Parameters:
//   - svc (service.DeskService): the desk of the current user session.
//
// Returns:
//   - *Handler: A handler ready to be registered with the router.
func NewHandler(svc service.DeskService) *Handler {
	return &Handler{svc: svc}
}

// ─── Market ──────────────────────────────────────────────────────────────────

// ListInstruments godoc
// @Summary      List instruments
// @Description  Listed companies with their latest quote. Served from memory or the Postgres cache (degraded=true) when the venue is unreachable.
// @Tags         market
// @Produce      json
// @Success      200  {object}  service.InstrumentList
// @Router       /api/v1/instruments [get]
func (h *Handler) ListInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Instruments(c.Request.Context()))
}

// GetChart handles GET /api/v1/chart/:ticker.
//
// Query Parameters:
//   - period (string, optional): 1D, 1W, 1M or 1Y (default 1D).
//   - width, height (number, optional): drawing area in pixels.
//   - hover_x (number, optional): pointer position for the read-out.
//
// GetChart godoc
// @Summary      Candle chart
// @Description  Aggregates trades into candles for a period and lays them out on the drawing area
// @Tags         market
// @Produce      json
// @Param        ticker   path      string  true   "Instrument ticker" example(SSE)
// @Param        period   query     string  false  "1D, 1W, 1M or 1Y" example(1D)
// @Param        width    query     number  false  "Drawing width" example(600)
// @Param        height   query     number  false  "Drawing height" example(300)
// @Param        hover_x  query     number  false  "Pointer x coordinate"
// @Success      200      {object}  service.Chart
// @Failure      400      {object}  dto.ErrorResponse
// @Router       /api/v1/chart/{ticker} [get]
func (h *Handler) GetChart(c *gin.Context) {
	// ─── Validate params ──────────────────────────────────────
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("ticker is required", nil))
		return
	}
	period, err := candle.ParsePeriod(c.Query("period"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid period", err))
		return
	}

	q := service.ChartQuery{Ticker: ticker, Period: period}
	for _, p := range []struct {
		name string
		dst  *float64
	}{{"width", &q.Width}, {"height", &q.Height}} {
		if v, ok, err := floatQuery(c, p.name); err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid "+p.name, err))
			return
		} else if ok {
			*p.dst = v
		}
	}
	if v, ok, err := floatQuery(c, "hover_x"); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid hover_x", err))
		return
	} else if ok {
		q.HoverX = &v
	}

	c.JSON(http.StatusOK, h.svc.Chart(c.Request.Context(), q))
}

// GetOrderBook godoc
// @Summary      Order book
// @Description  Resting asks and bids for an instrument; empty and degraded when the venue is unreachable
// @Tags         market
// @Produce      json
// @Param        ticker  path      string  true  "Instrument ticker" example(SSE)
// @Success      200     {object}  service.OrderBookView
// @Router       /api/v1/orderbook/{ticker} [get]
func (h *Handler) GetOrderBook(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	c.JSON(http.StatusOK, h.svc.OrderBook(c.Request.Context(), ticker))
}

// ─── Ticket ──────────────────────────────────────────────────────────────────

// OpenTicket godoc
// @Summary      Open order ticket
// @Description  Starts a new ticket for side and ticker, prefilled with the latest price and quantity 1
// @Tags         ticket
// @Accept       json
// @Produce      json
// @Param        body  body      dto.OpenTicketRequest  true  "Side and ticker"
// @Success      200   {object}  ticket.View
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      404   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/v1/ticket [post]
func (h *Handler) OpenTicket(c *gin.Context) {
	var req dto.OpenTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid request body", err))
		return
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid side", err))
		return
	}
	view, err := h.svc.OpenTicket(c.Request.Context(), side, req.Ticker)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetTicket godoc
// @Summary      Current ticket
// @Tags         ticket
// @Produce      json
// @Success      200  {object}  ticket.View
// @Router       /api/v1/ticket [get]
func (h *Handler) GetTicket(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Ticket())
}

// FocusTicket godoc
// @Summary      Focus a ticket field
// @Description  Routes keypad input to PRICE or QUANTITY; the next key replaces the value
// @Tags         ticket
// @Accept       json
// @Produce      json
// @Param        body  body      dto.FocusRequest  true  "Field"
// @Success      200   {object}  ticket.View
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/v1/ticket/focus [post]
func (h *Handler) FocusTicket(c *gin.Context) {
	var req dto.FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid request body", err))
		return
	}
	field, err := ticket.ParseField(req.Field)
	if err != nil {
		respondError(c, err)
		return
	}
	view, err := h.svc.Focus(field)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// PressKeys godoc
// @Summary      Press keypad keys
// @Description  Applies "0".."9", "00" and "back" in order; stops at the first rejected key
// @Tags         ticket
// @Accept       json
// @Produce      json
// @Param        body  body      dto.KeysRequest  true  "Keys"
// @Success      200   {object}  ticket.View
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/v1/ticket/keys [post]
func (h *Handler) PressKeys(c *gin.Context) {
	var req dto.KeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid request body", err))
		return
	}
	view, err := h.svc.Press(req.Keys)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// AdjustTicket godoc
// @Summary      Nudge the focused field
// @Description  Moves the price by amount percent or the quantity by amount shares
// @Tags         ticket
// @Accept       json
// @Produce      json
// @Param        body  body      dto.AdjustRequest  true  "Direction and amount"
// @Success      200   {object}  ticket.View
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/v1/ticket/adjust [post]
func (h *Handler) AdjustTicket(c *gin.Context) {
	var req dto.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid request body", err))
		return
	}
	dir, err := ticket.ParseDirection(req.Direction)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid direction", err))
		return
	}
	amount := req.Amount
	if amount == 0 {
		amount = 1
	}
	view, err := h.svc.Adjust(dir, amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SubmitTicket handles POST /api/v1/ticket/submit.
//
// Responses:
//   - 200 OK: order filled.
//   - 202 Accepted: order queued at the venue.
//   - 409 Conflict: a submission is already in flight, or no ticket is open.
//   - 422 Unprocessable Entity: order rejected locally or by the venue.
//
// SubmitTicket godoc
// @Summary      Submit the ticket
// @Tags         ticket
// @Produce      json
// @Success      200  {object}  service.SubmitResult  "Filled"
// @Success      202  {object}  service.SubmitResult  "Pending"
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      422  {object}  service.SubmitResult  "Rejected"
// @Router       /api/v1/ticket/submit [post]
func (h *Handler) SubmitTicket(c *gin.Context) {
	res, err := h.svc.SubmitTicket(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusUnprocessableEntity
	switch res.Outcome {
	case portfolio.OutcomeFilled:
		status = http.StatusOK
	case portfolio.OutcomePending:
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

// CloseTicket godoc
// @Summary      Close the ticket
// @Tags         ticket
// @Produce      json
// @Success      200  {object}  ticket.View
// @Router       /api/v1/ticket [delete]
func (h *Handler) CloseTicket(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.CloseTicket())
}

// ─── Account ─────────────────────────────────────────────────────────────────

// GetPortfolio godoc
// @Summary      Portfolio valuation
// @Tags         account
// @Produce      json
// @Success      200  {object}  portfolio.Summary
// @Router       /api/v1/portfolio [get]
func (h *Handler) GetPortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Portfolio())
}

// ListPendingOrders godoc
// @Summary      Pending orders
// @Tags         account
// @Produce      json
// @Success      200  {array}  models.PendingOrder
// @Router       /api/v1/orders/pending [get]
func (h *Handler) ListPendingOrders(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.PendingOrders())
}

// CancelPendingOrder godoc
// @Summary      Cancel a pending order
// @Description  Removes the order from the local queue; the venue is not contacted
// @Tags         account
// @Produce      json
// @Param        id   path      string  true  "Pending order id"
// @Success      200  {object}  models.PendingOrder
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/v1/orders/pending/{id} [delete]
func (h *Handler) CancelPendingOrder(c *gin.Context) {
	p, err := h.svc.CancelPending(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListTransactions godoc
// @Summary      Transaction log
// @Description  Fills newest first
// @Tags         account
// @Produce      json
// @Success      200  {array}  models.TransactionRecord
// @Router       /api/v1/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Transactions())
}

// ListNotifications godoc
// @Summary      Notifications
// @Tags         account
// @Produce      json
// @Success      200  {array}  models.Notification
// @Router       /api/v1/notifications [get]
func (h *Handler) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Notifications())
}

// MarkNotificationsRead godoc
// @Summary      Mark notifications read
// @Tags         account
// @Produce      json
// @Success      200  {object}  dto.MarkReadResponse
// @Router       /api/v1/notifications/read [post]
func (h *Handler) MarkNotificationsRead(c *gin.Context) {
	c.JSON(http.StatusOK, dto.MarkReadResponse{Marked: h.svc.MarkNotificationsRead()})
}

// TriggerSync godoc
// @Summary      Sync with the venue now
// @Description  Pulls status, history and instruments outside the polling schedule
// @Tags         account
// @Produce      json
// @Success      200  {object}  service.SyncReport
// @Failure      502  {object}  dto.ErrorResponse
// @Router       /api/v1/sync [post]
func (h *Handler) TriggerSync(c *gin.Context) {
	report, err := h.svc.Sync(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, dto.NewErrorResponse("sync incomplete", err))
		return
	}
	c.JSON(http.StatusOK, report)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// respondError maps desk errors to status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, ticket.ErrSubmitInFlight):
		status, msg = http.StatusConflict, "submission in flight"
	case errors.Is(err, ticket.ErrClosed):
		status, msg = http.StatusConflict, "no open ticket"
	case errors.Is(err, service.ErrUnknownInstrument):
		status, msg = http.StatusNotFound, "unknown instrument"
	case errors.Is(err, portfolio.ErrPendingNotFound):
		status, msg = http.StatusNotFound, "pending order not found"
	case errors.Is(err, ticket.ErrInvalidQuantity),
		errors.Is(err, ticket.ErrInvalidField),
		errors.Is(err, ticket.ErrInvalidKey),
		errors.Is(err, ticket.ErrInvalidSide),
		errors.Is(err, ticket.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidKeys):
		status, msg = http.StatusBadRequest, "invalid ticket input"
	default:
		_ = c.Error(err)
	}
	c.JSON(status, dto.NewErrorResponse(msg, err))
}

func floatQuery(c *gin.Context, name string) (float64, bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
