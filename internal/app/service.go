package app

import (
	"context"

	"pos-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It decouples presentation from the engines. Implementations must contain no
// fmt.Println and no display logic of any kind.
//
// Write operations that fail with a transient store error are retried once.
type ApplicationService interface {
	// ── Catalog ──

	// GetProduct resolves a product by numeric ID or product code.
	GetProduct(ctx context.Context, ref string) (*core.Product, error)
	ListProducts(ctx context.Context) ([]core.Product, error)
	GetUser(ctx context.Context, userID int) (*core.User, error)

	// ── Inventory ──

	RecordMovement(ctx context.Context, req core.MovementRequest) (*core.MovementResult, error)

	// ReceiveStock books a receipt into a lot and then refreshes the cost of
	// every recipe that uses the product.
	ReceiveStock(ctx context.Context, req core.ReceiveRequest) (*ReceiveStockResult, error)

	TransferStock(ctx context.Context, req core.TransferRequest) (*core.TransferResult, error)
	GetStockLevels(ctx context.Context) (*StockResult, error)
	ListLocations(ctx context.Context) ([]core.Location, error)
	ListLots(ctx context.Context, productID int) ([]core.Lot, error)
	DeactivateLot(ctx context.Context, lotID int) error

	ListAlerts(ctx context.Context, status core.AlertStatus) ([]core.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID int64, actor core.Actor) (*core.Alert, error)
	ScanExpirations(ctx context.Context) ([]core.Alert, error)
	ExpireLots(ctx context.Context, actor core.Actor) ([]core.MovementResult, error)

	StartPhysicalCount(ctx context.Context, locationID int, actor core.Actor, notes string) (*core.PhysicalCount, error)
	RecordCountItem(ctx context.Context, countID, itemID int, actual decimal.Decimal) error
	CompletePhysicalCount(ctx context.Context, countID int, actor core.Actor) (*core.PhysicalCount, error)
	GetPhysicalCount(ctx context.Context, countID int) (*core.PhysicalCount, error)

	// ── Recipes ──

	GetRecipe(ctx context.Context, productID int) (*core.Recipe, error)
	CheckAvailability(ctx context.Context, productID int, qty decimal.Decimal, locationID *int) (*core.Availability, error)
	GetRecipeCost(ctx context.Context, productID int) (decimal.Decimal, error)

	// ── Cash ──

	OpenSession(ctx context.Context, req core.OpenSessionRequest) (*core.CashSession, error)
	CloseSession(ctx context.Context, req core.CloseSessionRequest) (*SessionResult, error)
	RegisterCashMovement(ctx context.Context, req core.CashMovementRequest) (*core.CashMovement, error)
	GetSession(ctx context.Context, sessionID int) (*SessionResult, error)
	GetOpenSession(ctx context.Context, registerID int) (*SessionResult, error)
	ListRegisters(ctx context.Context) ([]core.Register, error)
	CanCreateSale(ctx context.Context, registerID int) (bool, error)

	// ── Orders ──

	CreateOrder(ctx context.Context, req core.CreateOrderRequest) (*OrderResult, error)

	// AdvanceOrder moves an order to target under the configured register
	// policy. Serving settles the order.
	AdvanceOrder(ctx context.Context, req AdvanceOrderRequest) (*OrderResult, error)

	CancelOrder(ctx context.Context, orderID int, actor core.Actor, reason string) (*OrderResult, error)
	RefundSale(ctx context.Context, saleID int, actor core.Actor, registerID int) (*core.Sale, error)
	GetOrder(ctx context.Context, orderID int) (*OrderResult, error)
	ListActiveOrders(ctx context.Context) ([]core.Order, error)
	ListTables(ctx context.Context) ([]core.Table, error)
	GetSale(ctx context.Context, saleID int) (*core.Sale, error)
	ListPaymentMethods(ctx context.Context) ([]core.PaymentMethod, error)

	// ── Reporting stream ──

	ListMovements(ctx context.Context, f core.MovementFilter) ([]core.Movement, error)
	ListCashMovements(ctx context.Context, f core.CashMovementFilter) ([]core.CashMovement, error)

	// VerifyLedger replays stock from the movement log and reports drift.
	VerifyLedger(ctx context.Context) (*core.ReplayReport, error)
}
