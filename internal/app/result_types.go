package app

import (
	"pos-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// OrderResult is returned by order lifecycle operations.
type OrderResult struct {
	Order *core.Order `json:"order"`
	Sale  *core.Sale  `json:"sale,omitempty"`
	// Allowed lists the next states the calling role may move the order to.
	Allowed []core.OrderStatus `json:"allowed,omitempty"`
}

// StockResult is returned by GetStockLevels.
type StockResult struct {
	Levels []core.StockLevel `json:"levels"`
}

// ReceiveStockResult is returned by ReceiveStock.
type ReceiveStockResult struct {
	Receipt          *core.ReceiveResult `json:"receipt"`
	RecipesRefreshed int                 `json:"recipes_refreshed"`
}

// SessionResult is a cash session with its movement log. Expected is always
// derived from the log, also while the session is still open.
type SessionResult struct {
	Session   *core.CashSession   `json:"session"`
	Movements []core.CashMovement `json:"movements"`
	Expected  decimal.Decimal     `json:"expected"`
}
