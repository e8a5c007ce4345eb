package web

import (
	"net/http"

	"pos-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// apiListRegisters handles GET /api/cash/registers.
func (h *Handler) apiListRegisters(w http.ResponseWriter, r *http.Request) {
	registers, err := h.svc.ListRegisters(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, registers)
}

// apiGetOpenSession handles GET /api/cash/registers/{id}/session.
func (h *Handler) apiGetOpenSession(w http.ResponseWriter, r *http.Request) {
	registerID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.GetOpenSession(r.Context(), registerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiOpenSession handles POST /api/cash/sessions.
func (h *Handler) apiOpenSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RegisterID    int             `json:"register_id"`
		OpeningAmount decimal.Decimal `json:"opening_amount"`
		Notes         string          `json:"notes"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	session, err := h.svc.OpenSession(r.Context(), core.OpenSessionRequest{
		RegisterID:    body.RegisterID,
		OpeningAmount: body.OpeningAmount,
		Notes:         body.Notes,
		Actor:         mustActor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, session)
}

// apiGetSession handles GET /api/cash/sessions/{id}.
func (h *Handler) apiGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiCloseSession handles POST /api/cash/sessions/{id}/close.
func (h *Handler) apiCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		ClosingAmount decimal.Decimal `json:"closing_amount"`
		Notes         string          `json:"notes"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	result, err := h.svc.CloseSession(r.Context(), core.CloseSessionRequest{
		SessionID:     sessionID,
		ClosingAmount: body.ClosingAmount,
		Notes:         body.Notes,
		Actor:         mustActor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiRegisterCashMovement handles POST /api/cash/sessions/{id}/movements.
func (h *Handler) apiRegisterCashMovement(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Type        string          `json:"movement_type"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
		Reference   string          `json:"reference"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	movement, err := h.svc.RegisterCashMovement(r.Context(), core.CashMovementRequest{
		SessionID:   sessionID,
		Type:        core.CashMovementType(body.Type),
		Amount:      body.Amount,
		Description: body.Description,
		Reference:   body.Reference,
		Actor:       mustActor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, movement)
}

// apiListCashMovements handles GET /api/cash/movements, the reporting stream.
func (h *Handler) apiListCashMovements(w http.ResponseWriter, r *http.Request) {
	var f core.CashMovementFilter
	var ok bool
	if f.From, ok = queryTime(w, r, "from"); !ok {
		return
	}
	if f.To, ok = queryTime(w, r, "to"); !ok {
		return
	}
	if f.SessionID, ok = queryInt(w, r, "session_id"); !ok {
		return
	}
	if f.Limit, ok = queryInt(w, r, "limit"); !ok {
		return
	}
	after, ok := queryInt(w, r, "after_id")
	if !ok {
		return
	}
	f.AfterID = int64(after)

	movements, err := h.svc.ListCashMovements(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, movements)
}
