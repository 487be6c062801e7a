// Package api is the HTTP boundary: the wire error envelope, response
// helpers, and shared middleware.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/fabric/pkg/receipts"
)

// Error categories visible at service boundaries.
const (
	CodeValidationFailed   = "validation_failed"
	CodeUnauthorized       = "unauthorized"
	CodeNotFound           = "not_found"
	CodeDuplicateReceiptID = "duplicate_receipt_id"
	CodeTooManyRequests    = "too_many_requests"
	CodeServiceUnavailable = "service_unavailable"
	CodeInternal           = "internal"
)

// ErrorBody is the JSON error envelope. Every failure response carries an
// error category and a human-readable message; some categories attach ids
// so callers can reconcile later.
type ErrorBody struct {
	Error     string                     `json:"error"`
	Message   string                     `json:"message,omitempty"`
	ReceiptID string                     `json:"receipt_id,omitempty"`
	TaskID    string                     `json:"task_id,omitempty"`
	Details   []receipts.ValidationError `json:"details,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, &ErrorBody{Error: code, Message: message})
}

// WriteValidationFailed writes a 400 with per-field details.
func WriteValidationFailed(w http.ResponseWriter, details []receipts.ValidationError) {
	WriteJSON(w, http.StatusBadRequest, &ErrorBody{
		Error:   CodeValidationFailed,
		Message: fmt.Sprintf("%d constraint violation(s)", len(details)),
		Details: details,
	})
}

// WriteBadRequest writes a 400 without field details.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationFailed, message)
}

// WriteUnauthorized writes a 401.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "authentication required"
	}
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// WriteNotFound writes a 404.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// WriteDuplicate writes a 409 naming the already-stored receipt so callers
// can treat the re-emit as success.
func WriteDuplicate(w http.ResponseWriter, receiptID string) {
	WriteJSON(w, http.StatusConflict, &ErrorBody{
		Error:     CodeDuplicateReceiptID,
		Message:   "receipt already stored",
		ReceiptID: receiptID,
	})
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, CodeTooManyRequests, "rate limit exceeded")
}

// WriteServiceUnavailable writes a 503. For task creation the taskID is
// included so the caller can reconcile via the ledger once emission recovers.
func WriteServiceUnavailable(w http.ResponseWriter, taskID, message string) {
	WriteJSON(w, http.StatusServiceUnavailable, &ErrorBody{
		Error:   CodeServiceUnavailable,
		Message: message,
		TaskID:  taskID,
	})
}

// WriteInternal writes a 500. The underlying error is logged, never exposed.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, CodeInternal, "an unexpected error occurred")
}
