package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"pos-ledger/internal/core"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error      string           `json:"error"`
	Code       string           `json:"code"`
	RequestID  string           `json:"request_id,omitempty"`
	Shortfalls []core.Shortfall `json:"shortfalls,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorResponse(w, r, errorResponse{Error: message, Code: code}, status)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, resp errorResponse, status int) {
	resp.RequestID = requestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorCode maps an engine error to its stable API code and HTTP status.
// ErrForbidden is checked before InvalidTransitionError because a role
// failure is wrapped inside one.
func errorCode(err error) (string, int) {
	var (
		insufficient *core.InsufficientStockError
		occupied     *core.TableOccupiedError
		transition   *core.InvalidTransitionError
		notFound     *core.NotFoundError
	)
	switch {
	case errors.As(err, &insufficient):
		return "INSUFFICIENT_STOCK", http.StatusConflict
	case errors.Is(err, core.ErrSessionAlreadyOpen):
		return "SESSION_ALREADY_OPEN", http.StatusConflict
	case errors.Is(err, core.ErrSessionClosed):
		return "SESSION_CLOSED", http.StatusConflict
	case errors.Is(err, core.ErrNoOpenSession):
		return "REGISTER_CLOSED", http.StatusConflict
	case errors.As(err, &occupied):
		return "TABLE_OCCUPIED", http.StatusConflict
	case errors.Is(err, core.ErrForbidden):
		return "FORBIDDEN", http.StatusForbidden
	case errors.As(err, &transition):
		return "INVALID_TRANSITION", http.StatusUnprocessableEntity
	case errors.As(err, &notFound):
		return "NOT_FOUND", http.StatusNotFound
	case errors.Is(err, core.ErrValidation):
		return "VALIDATION_ERROR", http.StatusBadRequest
	case errors.Is(err, core.ErrTransient):
		return "RETRYABLE", http.StatusServiceUnavailable
	}
	return "INTERNAL_ERROR", http.StatusInternalServerError
}

// writeDomainError writes err under its stable code. Internal errors are
// logged in full and answered with a generic message.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := errorCode(err)
	resp := errorResponse{Error: err.Error(), Code: code}

	switch code {
	case "INSUFFICIENT_STOCK":
		var insufficient *core.InsufficientStockError
		errors.As(err, &insufficient)
		resp.Shortfalls = insufficient.Shortfalls
	case "RETRYABLE":
		resp.Error = "the ledger is busy, retry the request"
		h.logger.Warn("transient failure surfaced to client",
			zap.String("request_id", requestIDFromContext(r.Context())), zap.Error(err))
	case "INTERNAL_ERROR":
		resp.Error = "internal server error"
		h.logger.Error("request failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeErrorResponse(w, r, resp, status)
}
