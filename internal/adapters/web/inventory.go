package web

import (
	"net/http"
	"strconv"
	"time"

	"pos-ledger/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// ── Catalog & stock ──────────────────────────────────────────────────────────

// apiListProducts handles GET /api/inventory/products.
func (h *Handler) apiListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.ListProducts(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, products)
}

// apiGetProduct handles GET /api/inventory/products/{ref} (id or code).
func (h *Handler) apiGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProduct(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, p)
}

// apiListLots handles GET /api/inventory/products/{ref}/lots.
func (h *Handler) apiListLots(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathInt(w, r, "ref")
	if !ok {
		return
	}
	lots, err := h.svc.ListLots(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, lots)
}

// apiStockLevels handles GET /api/inventory/stock.
func (h *Handler) apiStockLevels(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetStockLevels(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiListLocations handles GET /api/inventory/locations.
func (h *Handler) apiListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.svc.ListLocations(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, locations)
}

// apiDeactivateLot handles POST /api/inventory/lots/{id}/deactivate.
func (h *Handler) apiDeactivateLot(w http.ResponseWriter, r *http.Request) {
	lotID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeactivateLot(r.Context(), lotID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Movements ────────────────────────────────────────────────────────────────

type movementBody struct {
	ProductID  int              `json:"product_id"`
	LotID      *int             `json:"lot_id"`
	LocationID *int             `json:"location_id"`
	Type       string           `json:"movement_type"`
	Reason     string           `json:"reason"`
	Quantity   decimal.Decimal  `json:"quantity"`
	UnitCost   *decimal.Decimal `json:"unit_cost"`
	RefType    string           `json:"reference_type"`
	RefID      *int             `json:"reference_id"`
	RefNumber  string           `json:"reference_number"`
	Notes      string           `json:"notes"`
}

// apiRecordMovement handles POST /api/inventory/movements.
func (h *Handler) apiRecordMovement(w http.ResponseWriter, r *http.Request) {
	var body movementBody
	if !decodeJSON(w, r, &body) {
		return
	}
	result, err := h.svc.RecordMovement(r.Context(), core.MovementRequest{
		ProductID:  body.ProductID,
		LotID:      body.LotID,
		LocationID: body.LocationID,
		Type:       core.MovementType(body.Type),
		Reason:     body.Reason,
		Quantity:   body.Quantity,
		UnitCost:   body.UnitCost,
		Reference:  core.Reference{Type: body.RefType, ID: body.RefID, Number: body.RefNumber},
		Notes:      body.Notes,
		Actor:      mustActor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiListMovements handles GET /api/inventory/movements, the reporting stream.
func (h *Handler) apiListMovements(w http.ResponseWriter, r *http.Request) {
	var f core.MovementFilter
	var ok bool
	if f.From, ok = queryTime(w, r, "from"); !ok {
		return
	}
	if f.To, ok = queryTime(w, r, "to"); !ok {
		return
	}
	if f.ProductID, ok = queryInt(w, r, "product_id"); !ok {
		return
	}
	if f.LocationID, ok = queryInt(w, r, "location_id"); !ok {
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

	movements, err := h.svc.ListMovements(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, movements)
}

type receiveBody struct {
	ProductID         int             `json:"product_id"`
	LocationID        *int            `json:"location_id"`
	LotNumber         string          `json:"lot_number"`
	SupplierLotRef    string          `json:"supplier_lot_ref"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	ExpirationDate    string          `json:"expiration_date"`    // YYYY-MM-DD
	ManufacturingDate string          `json:"manufacturing_date"` // YYYY-MM-DD
	Reason            string          `json:"reason"`
	RefNumber         string          `json:"reference_number"`
	Notes             string          `json:"notes"`
}

// apiReceiveStock handles POST /api/inventory/receipts.
func (h *Handler) apiReceiveStock(w http.ResponseWriter, r *http.Request) {
	var body receiveBody
	if !decodeJSON(w, r, &body) {
		return
	}
	expires, err := optionalDate(body.ExpirationDate)
	if err != nil {
		writeError(w, r, "invalid expiration_date", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	made, err := optionalDate(body.ManufacturingDate)
	if err != nil {
		writeError(w, r, "invalid manufacturing_date", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.ReceiveStock(r.Context(), core.ReceiveRequest{
		ProductID:         body.ProductID,
		LocationID:        body.LocationID,
		LotNumber:         body.LotNumber,
		SupplierLotRef:    body.SupplierLotRef,
		Quantity:          body.Quantity,
		UnitCost:          body.UnitCost,
		ExpirationDate:    expires,
		ManufacturingDate: made,
		Reason:            body.Reason,
		Reference:         core.Reference{Type: "receipt", Number: body.RefNumber},
		Notes:             body.Notes,
		Actor:             mustActor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiTransferStock handles POST /api/inventory/transfers.
func (h *Handler) apiTransferStock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID      int             `json:"product_id"`
		LotID          *int            `json:"lot_id"`
		Quantity       decimal.Decimal `json:"quantity"`
		FromLocationID int             `json:"from_location_id"`
		ToLocationID   int             `json:"to_location_id"`
		Notes          string          `json:"notes"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	result, err := h.svc.TransferStock(r.Context(), core.TransferRequest{
		ProductID:      body.ProductID,
		LotID:          body.LotID,
		Quantity:       body.Quantity,
		FromLocationID: body.FromLocationID,
		ToLocationID:   body.ToLocationID,
		Notes:          body.Notes,
		Actor:          mustActor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// ── Alerts ───────────────────────────────────────────────────────────────────

// apiListAlerts handles GET /api/inventory/alerts?status=active.
func (h *Handler) apiListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.svc.ListAlerts(r.Context(), core.AlertStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, alerts)
}

// apiAcknowledgeAlert handles POST /api/inventory/alerts/{id}/acknowledge.
func (h *Handler) apiAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || alertID <= 0 {
		writeError(w, r, "invalid id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	alert, err := h.svc.AcknowledgeAlert(r.Context(), alertID, mustActor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, alert)
}

// apiScanExpirations handles POST /api/inventory/alerts/scan.
func (h *Handler) apiScanExpirations(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.svc.ScanExpirations(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, alerts)
}

// apiExpireLots handles POST /api/inventory/expire.
func (h *Handler) apiExpireLots(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.ExpireLots(r.Context(), mustActor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, results)
}

// ── Physical counts ──────────────────────────────────────────────────────────

// apiStartCount handles POST /api/inventory/counts.
func (h *Handler) apiStartCount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LocationID int    `json:"location_id"`
		Notes      string `json:"notes"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	count, err := h.svc.StartPhysicalCount(r.Context(), body.LocationID, mustActor(r), body.Notes)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, count)
}

// apiGetCount handles GET /api/inventory/counts/{id}.
func (h *Handler) apiGetCount(w http.ResponseWriter, r *http.Request) {
	countID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	count, err := h.svc.GetPhysicalCount(r.Context(), countID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, count)
}

// apiRecordCountItem handles PUT /api/inventory/counts/{id}/items/{itemID}.
func (h *Handler) apiRecordCountItem(w http.ResponseWriter, r *http.Request) {
	countID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := pathInt(w, r, "itemID")
	if !ok {
		return
	}
	var body struct {
		ActualQuantity decimal.Decimal `json:"actual_quantity"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.svc.RecordCountItem(r.Context(), countID, itemID, body.ActualQuantity); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiCompleteCount handles POST /api/inventory/counts/{id}/complete.
func (h *Handler) apiCompleteCount(w http.ResponseWriter, r *http.Request) {
	countID, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	count, err := h.svc.CompletePhysicalCount(r.Context(), countID, mustActor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, count)
}

// apiVerifyLedger handles GET /api/inventory/verify.
func (h *Handler) apiVerifyLedger(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.VerifyLedger(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// ── Recipes ──────────────────────────────────────────────────────────────────

// apiGetRecipe handles GET /api/recipes/{productID}.
func (h *Handler) apiGetRecipe(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathInt(w, r, "productID")
	if !ok {
		return
	}
	recipe, err := h.svc.GetRecipe(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, recipe)
}

// apiCheckAvailability handles GET /api/recipes/{productID}/availability?quantity=2&location_id=1.
func (h *Handler) apiCheckAvailability(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathInt(w, r, "productID")
	if !ok {
		return
	}
	qty := decimal.NewFromInt(1)
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		var err error
		if qty, err = decimal.NewFromString(raw); err != nil {
			writeError(w, r, "invalid quantity", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
	}
	var locationID *int
	loc, ok := queryInt(w, r, "location_id")
	if !ok {
		return
	}
	if loc > 0 {
		locationID = &loc
	}
	availability, err := h.svc.CheckAvailability(r.Context(), productID, qty, locationID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, availability)
}

// apiRecipeCost handles GET /api/recipes/{productID}/cost.
func (h *Handler) apiRecipeCost(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathInt(w, r, "productID")
	if !ok {
		return
	}
	cost, err := h.svc.GetRecipeCost(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"product_id": productID, "total_cost": cost})
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
