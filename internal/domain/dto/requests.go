package dto

// OpenTicketRequest is the body of POST /api/v1/ticket.
type OpenTicketRequest struct {
	Side   string `json:"side" binding:"required" example:"BUY"`
	Ticker string `json:"ticker" binding:"required" example:"SSE"`
}

// FocusRequest selects the keypad target of the open ticket.
type FocusRequest struct {
	Field string `json:"field" binding:"required" example:"QUANTITY"`
}

// KeysRequest carries keypad presses applied in order.
type KeysRequest struct {
	Keys []string `json:"keys" binding:"required" example:"1,0,00"`
}

// AdjustRequest nudges the focused field up or down. Amount is a percentage
// for the price field and a share count for the quantity field.
type AdjustRequest struct {
	Direction string `json:"direction" binding:"required" example:"up"`
	Amount    int64  `json:"amount" example:"1"`
}

// MarkReadResponse reports how many notifications changed state.
type MarkReadResponse struct {
	Marked int `json:"marked" example:"3"`
}
