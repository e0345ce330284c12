package models

import "time"

// SuccessEnvelope wraps every successful API payload.
type SuccessEnvelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data"`
	Message   *string   `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// ErrorEnvelope wraps every API failure, including routing-level ones.
type ErrorEnvelope struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id"`
}

// NewSuccessEnvelope wraps data for the wire.
func NewSuccessEnvelope(data any, requestID string) SuccessEnvelope {
	return SuccessEnvelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewErrorEnvelope renders err for the wire. Internal errors are reduced to a generic message.
func NewErrorEnvelope(err error, requestID string) ErrorEnvelope {
	resp := ErrorResponseFrom(err)
	return ErrorEnvelope{
		Success:   false,
		Error:     resp.Code,
		Message:   resp.Message,
		Details:   resp.Details,
		Timestamp: resp.Timestamp,
		RequestID: requestID,
	}
}
