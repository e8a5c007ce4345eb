package web

import (
	"net/http"

	"pos-ledger/internal/app"
	"pos-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// apiListTables handles GET /api/tables.
func (h *Handler) apiListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.svc.ListTables(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, tables)
}

// apiListPaymentMethods handles GET /api/payment-methods.
func (h *Handler) apiListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.svc.ListPaymentMethods(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, methods)
}

// apiListOrders handles GET /api/orders: the active orders, oldest first.
func (h *Handler) apiListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListActiveOrders(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, orders)
}

// apiCreateOrder handles POST /api/orders.
func (h *Handler) apiCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TableID int    `json:"table_id"`
		Notes   string `json:"notes"`
		Items   []struct {
			ProductID int             `json:"product_id"`
			Quantity  decimal.Decimal `json:"quantity"`
			UnitPrice decimal.Decimal `json:"unit_price"` // zero means catalog price
			Notes     string          `json:"notes"`
		} `json:"items"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	items := make([]core.OrderItemInput, len(body.Items))
	for i, it := range body.Items {
		items[i] = core.OrderItemInput{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Notes:     it.Notes,
		}
	}
	result, err := h.svc.CreateOrder(r.Context(), core.CreateOrderRequest{
		TableID: body.TableID,
		Items:   items,
		Notes:   body.Notes,
		Actor:   mustActor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiGetOrder handles GET /api/orders/{id}.
func (h *Handler) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiAdvanceOrder handles POST /api/orders/{id}/advance.
//
//	{"status": "served", "register_id": 1, "payment_method": "CARD"}
func (h *Handler) apiAdvanceOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Status        string `json:"status"`
		RegisterID    int    `json:"register_id"`
		PaymentMethod string `json:"payment_method"`
		LocationID    *int   `json:"location_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Status == "" {
		writeError(w, r, "status is required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	result, err := h.svc.AdvanceOrder(r.Context(), app.AdvanceOrderRequest{
		OrderID:           orderID,
		Target:            core.OrderStatus(body.Status),
		Actor:             mustActor(r),
		RegisterID:        body.RegisterID,
		PaymentMethodCode: body.PaymentMethod,
		LocationID:        body.LocationID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiCancelOrder handles POST /api/orders/{id}/cancel.
func (h *Handler) apiCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}
	result, err := h.svc.CancelOrder(r.Context(), orderID, mustActor(r), body.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetSale handles GET /api/sales/{id}.
func (h *Handler) apiGetSale(w http.ResponseWriter, r *http.Request) {
	saleID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	sale, err := h.svc.GetSale(r.Context(), saleID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}

// apiRefundSale handles POST /api/sales/{id}/refund.
func (h *Handler) apiRefundSale(w http.ResponseWriter, r *http.Request) {
	saleID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		RegisterID int `json:"register_id"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}
	sale, err := h.svc.RefundSale(r.Context(), saleID, mustActor(r), body.RegisterID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, sale)
}
