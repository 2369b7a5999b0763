package dto

import "time"

// ErrorResponse is the JSON body of every non-2xx API response.
//
// Fields:
//   - Message: short, user facing description of the failure.
//   - ErrorDetails: underlying error text, omitted when there is none.
//   - Timestamp: when the error response was built (UTC).
//
// swagger:model ErrorResponse
type ErrorResponse struct {
	Message      string    `json:"message" example:"invalid request"`
	ErrorDetails string    `json:"error,omitempty" example:"quantity must be greater than zero"`
	Timestamp    time.Time `json:"timestamp" example:"2025-09-18T10:00:00Z"`
}

// Error makes ErrorResponse usable as an error value.
func (e ErrorResponse) Error() string {
	if e.ErrorDetails == "" {
		return e.Message
	}
	return e.Message + ": " + e.ErrorDetails
}

// NewErrorResponse builds an ErrorResponse stamped with the current time.
//
// Parameters:
//   - msg: user facing message.
//   - err: optional underlying error; nil leaves ErrorDetails empty.
func NewErrorResponse(msg string, err error) ErrorResponse {
	resp := ErrorResponse{Message: msg, Timestamp: time.Now().UTC()}
	if err != nil {
		resp.ErrorDetails = err.Error()
	}
	return resp
}
