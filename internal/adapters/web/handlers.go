package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pos-ledger/internal/app"
	"pos-ledger/internal/core"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	jwtSecret string
	logger    *zap.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins, jwtSecret string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		svc:       svc,
		jwtSecret: jwtSecret,
		logger:    logger.Named("http"),
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(h.logger))
	r.Use(Recoverer(h.logger))
	r.Use(CORS(allowedOrigins))

	// ── Health (public) ───────────────────────────────────────────────────────
	r.Get("/api/health", h.health)

	// ── Protected API routes (return 401 JSON if unauthenticated) ────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		r.Get("/api/auth/me", h.me)

		// ── Inventory ─────────────────────────────────────────────────────────
		r.Route("/api/inventory", func(r chi.Router) {
			r.Get("/products", h.apiListProducts)
			r.Get("/products/{ref}", h.apiGetProduct)
			r.Get("/products/{ref}/lots", h.apiListLots)
			r.Get("/stock", h.apiStockLevels)
			r.Get("/locations", h.apiListLocations)
			r.Post("/lots/{id}/deactivate", h.apiDeactivateLot)
			r.Get("/movements", h.apiListMovements)
			r.Post("/movements", h.apiRecordMovement)
			r.Post("/receipts", h.apiReceiveStock)
			r.Post("/transfers", h.apiTransferStock)
			r.Get("/alerts", h.apiListAlerts)
			r.Post("/alerts/scan", h.apiScanExpirations)
			r.Post("/alerts/{id}/acknowledge", h.apiAcknowledgeAlert)
			r.Post("/expire", h.apiExpireLots)
			r.Post("/counts", h.apiStartCount)
			r.Get("/counts/{id}", h.apiGetCount)
			r.Put("/counts/{id}/items/{itemID}", h.apiRecordCountItem)
			r.Post("/counts/{id}/complete", h.apiCompleteCount)
			r.Get("/verify", h.apiVerifyLedger)
		})

		// ── Recipes ───────────────────────────────────────────────────────────
		r.Route("/api/recipes/{productID}", func(r chi.Router) {
			r.Get("/", h.apiGetRecipe)
			r.Get("/availability", h.apiCheckAvailability)
			r.Get("/cost", h.apiRecipeCost)
		})

		// ── Cash ──────────────────────────────────────────────────────────────
		r.Route("/api/cash", func(r chi.Router) {
			r.Get("/registers", h.apiListRegisters)
			r.Get("/registers/{id}/session", h.apiGetOpenSession)
			r.Post("/sessions", h.apiOpenSession)
			r.Get("/sessions/{id}", h.apiGetSession)
			r.Post("/sessions/{id}/close", h.apiCloseSession)
			r.Post("/sessions/{id}/movements", h.apiRegisterCashMovement)
			r.Get("/movements", h.apiListCashMovements)
		})

		// ── Orders & sales ────────────────────────────────────────────────────
		r.Get("/api/tables", h.apiListTables)
		r.Get("/api/payment-methods", h.apiListPaymentMethods)
		r.Route("/api/orders", func(r chi.Router) {
			r.Get("/", h.apiListOrders)
			r.Post("/", h.apiCreateOrder)
			r.Get("/{id}", h.apiGetOrder)
			r.Post("/{id}/advance", h.apiAdvanceOrder)
			r.Post("/{id}/cancel", h.apiCancelOrder)
		})
		r.Route("/api/sales", func(r chi.Router) {
			r.Get("/{id}", h.apiGetSale)
			r.Post("/{id}/refund", h.apiRefundSale)
		})
	})

	h.router = r
	return r
}

// health reports liveness and whether the ledger store answers.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
		Store  string `json:"store"`
	}
	if _, err := h.svc.ListLocations(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSONStatus(w, http.StatusServiceUnavailable, response{Status: "degraded", Store: "unavailable"})
		return
	}
	writeJSON(w, response{Status: "ok", Store: "ok"})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// pathInt parses a positive integer URL parameter, writing a 400 on failure.
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		writeError(w, r, "invalid "+name, "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

// queryInt parses an optional integer query parameter; absent means zero.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, r, "invalid "+name, "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

// queryTime accepts RFC 3339 timestamps or plain dates.
func queryTime(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	writeError(w, r, "invalid "+name+": want RFC 3339 or YYYY-MM-DD", "BAD_REQUEST", http.StatusBadRequest)
	return time.Time{}, false
}

// mustActor returns the authenticated actor. RequireAuth guarantees it exists
// on protected routes.
func mustActor(r *http.Request) core.Actor {
	if a := actorFromContext(r.Context()); a != nil {
		return *a
	}
	return core.Actor{}
}
