package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pos-ledger/internal/config"
	"pos-ledger/internal/core"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type appService struct {
	catalog   core.CatalogService
	users     core.UserService
	inventory core.InventoryService
	recipes   core.RecipeService
	cash      core.CashService
	orders    core.OrderService
	stream    core.StreamService
	pos       config.POSConfig
	logger    *zap.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
// pos is the restaurant policy handed to the order engine on every checkout.
func NewAppService(
	catalog core.CatalogService,
	users core.UserService,
	inventory core.InventoryService,
	recipes core.RecipeService,
	cash core.CashService,
	orders core.OrderService,
	stream core.StreamService,
	pos config.POSConfig,
	logger *zap.Logger,
) ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &appService{
		catalog:   catalog,
		users:     users,
		inventory: inventory,
		recipes:   recipes,
		cash:      cash,
		orders:    orders,
		stream:    stream,
		pos:       pos,
		logger:    logger.Named("app"),
	}
}

// retryOnce runs fn and, if it fails with a transient store error, runs it
// exactly one more time. fn must be a single engine transaction.
func retryOnce[T any](ctx context.Context, logger *zap.Logger, op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || !errors.Is(err, core.ErrTransient) {
		return v, err
	}
	if ctx.Err() != nil {
		return v, err
	}
	logger.Warn("retrying after transient failure", zap.String("op", op), zap.Error(err))
	return fn()
}

// ── Catalog ──────────────────────────────────────────────────────────────────

// GetProduct resolves a product by numeric ID or product code.
func (s *appService) GetProduct(ctx context.Context, ref string) (*core.Product, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.Atoi(ref); err == nil {
		return s.catalog.GetProduct(ctx, id)
	}
	return s.catalog.GetProductByCode(ctx, ref)
}

func (s *appService) ListProducts(ctx context.Context) ([]core.Product, error) {
	return s.catalog.ListProducts(ctx)
}

func (s *appService) GetUser(ctx context.Context, userID int) (*core.User, error) {
	return s.users.GetByID(ctx, userID)
}

// ── Inventory ────────────────────────────────────────────────────────────────

func (s *appService) RecordMovement(ctx context.Context, req core.MovementRequest) (*core.MovementResult, error) {
	return retryOnce(ctx, s.logger, "record movement", func() (*core.MovementResult, error) {
		return s.inventory.RecordMovement(ctx, req)
	})
}

func (s *appService) ReceiveStock(ctx context.Context, req core.ReceiveRequest) (*ReceiveStockResult, error) {
	receipt, err := retryOnce(ctx, s.logger, "receive stock", func() (*core.ReceiveResult, error) {
		return s.inventory.ReceiveStock(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	// The receipt is committed; a failed cost refresh is reported in the log only.
	n, err := s.recipes.RefreshCostsForIngredient(ctx, req.ProductID)
	if err != nil {
		s.logger.Warn("recipe cost refresh failed", zap.Int("ingredient_id", req.ProductID), zap.Error(err))
	}
	return &ReceiveStockResult{Receipt: receipt, RecipesRefreshed: n}, nil
}

func (s *appService) TransferStock(ctx context.Context, req core.TransferRequest) (*core.TransferResult, error) {
	return retryOnce(ctx, s.logger, "transfer stock", func() (*core.TransferResult, error) {
		return s.inventory.TransferStock(ctx, req)
	})
}

func (s *appService) GetStockLevels(ctx context.Context) (*StockResult, error) {
	levels, err := s.inventory.GetStockLevels(ctx)
	if err != nil {
		return nil, err
	}
	return &StockResult{Levels: levels}, nil
}

func (s *appService) ListLocations(ctx context.Context) ([]core.Location, error) {
	return s.inventory.ListLocations(ctx)
}

func (s *appService) ListLots(ctx context.Context, productID int) ([]core.Lot, error) {
	return s.inventory.ListLots(ctx, productID)
}

func (s *appService) DeactivateLot(ctx context.Context, lotID int) error {
	_, err := retryOnce(ctx, s.logger, "deactivate lot", func() (struct{}, error) {
		return struct{}{}, s.inventory.DeactivateLot(ctx, lotID)
	})
	return err
}

func (s *appService) ListAlerts(ctx context.Context, status core.AlertStatus) ([]core.Alert, error) {
	return s.inventory.ListAlerts(ctx, status)
}

func (s *appService) AcknowledgeAlert(ctx context.Context, alertID int64, actor core.Actor) (*core.Alert, error) {
	return retryOnce(ctx, s.logger, "acknowledge alert", func() (*core.Alert, error) {
		return s.inventory.AcknowledgeAlert(ctx, alertID, actor)
	})
}

func (s *appService) ScanExpirations(ctx context.Context) ([]core.Alert, error) {
	return retryOnce(ctx, s.logger, "scan expirations", func() ([]core.Alert, error) {
		return s.inventory.ScanExpirations(ctx)
	})
}

func (s *appService) ExpireLots(ctx context.Context, actor core.Actor) ([]core.MovementResult, error) {
	return retryOnce(ctx, s.logger, "expire lots", func() ([]core.MovementResult, error) {
		return s.inventory.ExpireLots(ctx, actor)
	})
}

func (s *appService) StartPhysicalCount(ctx context.Context, locationID int, actor core.Actor, notes string) (*core.PhysicalCount, error) {
	return retryOnce(ctx, s.logger, "start physical count", func() (*core.PhysicalCount, error) {
		return s.inventory.StartPhysicalCount(ctx, locationID, actor, notes)
	})
}

func (s *appService) RecordCountItem(ctx context.Context, countID, itemID int, actual decimal.Decimal) error {
	_, err := retryOnce(ctx, s.logger, "record count item", func() (struct{}, error) {
		return struct{}{}, s.inventory.RecordCountItem(ctx, countID, itemID, actual)
	})
	return err
}

func (s *appService) CompletePhysicalCount(ctx context.Context, countID int, actor core.Actor) (*core.PhysicalCount, error) {
	return retryOnce(ctx, s.logger, "complete physical count", func() (*core.PhysicalCount, error) {
		return s.inventory.CompletePhysicalCount(ctx, countID, actor)
	})
}

func (s *appService) GetPhysicalCount(ctx context.Context, countID int) (*core.PhysicalCount, error) {
	return s.inventory.GetPhysicalCount(ctx, countID)
}

// ── Recipes ──────────────────────────────────────────────────────────────────

func (s *appService) GetRecipe(ctx context.Context, productID int) (*core.Recipe, error) {
	return s.recipes.GetRecipe(ctx, productID)
}

func (s *appService) CheckAvailability(ctx context.Context, productID int, qty decimal.Decimal, locationID *int) (*core.Availability, error) {
	return s.recipes.CheckAvailability(ctx, productID, qty, locationID)
}

func (s *appService) GetRecipeCost(ctx context.Context, productID int) (decimal.Decimal, error) {
	return s.recipes.GetRecipeCost(ctx, productID)
}

// ── Cash ─────────────────────────────────────────────────────────────────────

func (s *appService) OpenSession(ctx context.Context, req core.OpenSessionRequest) (*core.CashSession, error) {
	return retryOnce(ctx, s.logger, "open session", func() (*core.CashSession, error) {
		return s.cash.OpenSession(ctx, req)
	})
}

func (s *appService) CloseSession(ctx context.Context, req core.CloseSessionRequest) (*SessionResult, error) {
	session, err := retryOnce(ctx, s.logger, "close session", func() (*core.CashSession, error) {
		return s.cash.CloseSession(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return s.sessionResult(ctx, session)
}

func (s *appService) RegisterCashMovement(ctx context.Context, req core.CashMovementRequest) (*core.CashMovement, error) {
	return retryOnce(ctx, s.logger, "register cash movement", func() (*core.CashMovement, error) {
		return s.cash.RegisterMovement(ctx, req)
	})
}

func (s *appService) GetSession(ctx context.Context, sessionID int) (*SessionResult, error) {
	session, err := s.cash.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.sessionResult(ctx, session)
}

func (s *appService) GetOpenSession(ctx context.Context, registerID int) (*SessionResult, error) {
	session, err := s.cash.GetOpenSession(ctx, s.registerOrDefault(registerID))
	if err != nil {
		return nil, err
	}
	return s.sessionResult(ctx, session)
}

func (s *appService) ListRegisters(ctx context.Context) ([]core.Register, error) {
	return s.cash.ListRegisters(ctx)
}

func (s *appService) CanCreateSale(ctx context.Context, registerID int) (bool, error) {
	return s.cash.CanCreateSale(ctx, s.registerOrDefault(registerID))
}

// ── Orders ───────────────────────────────────────────────────────────────────

func (s *appService) CreateOrder(ctx context.Context, req core.CreateOrderRequest) (*OrderResult, error) {
	order, err := retryOnce(ctx, s.logger, "create order", func() (*core.Order, error) {
		return s.orders.CreateOrder(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return s.orderResult(ctx, order, req.Actor)
}

func (s *appService) AdvanceOrder(ctx context.Context, req AdvanceOrderRequest) (*OrderResult, error) {
	opts, err := s.checkoutOptions(ctx, req)
	if err != nil {
		return nil, err
	}
	order, err := retryOnce(ctx, s.logger, "advance order", func() (*core.Order, error) {
		return s.orders.Advance(ctx, req.OrderID, req.Target, req.Actor, opts)
	})
	if err != nil {
		return nil, err
	}
	return s.orderResult(ctx, order, req.Actor)
}

func (s *appService) CancelOrder(ctx context.Context, orderID int, actor core.Actor, reason string) (*OrderResult, error) {
	order, err := retryOnce(ctx, s.logger, "cancel order", func() (*core.Order, error) {
		return s.orders.Cancel(ctx, orderID, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	return s.orderResult(ctx, order, actor)
}

func (s *appService) RefundSale(ctx context.Context, saleID int, actor core.Actor, registerID int) (*core.Sale, error) {
	registerID = s.registerOrDefault(registerID)
	return retryOnce(ctx, s.logger, "refund sale", func() (*core.Sale, error) {
		return s.orders.RefundSale(ctx, saleID, actor, registerID)
	})
}

func (s *appService) GetOrder(ctx context.Context, orderID int) (*OrderResult, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.orderResult(ctx, order, core.Actor{})
}

func (s *appService) ListActiveOrders(ctx context.Context) ([]core.Order, error) {
	return s.orders.ListActiveOrders(ctx)
}

func (s *appService) ListTables(ctx context.Context) ([]core.Table, error) {
	return s.orders.ListTables(ctx)
}

func (s *appService) GetSale(ctx context.Context, saleID int) (*core.Sale, error) {
	return s.orders.GetSale(ctx, saleID)
}

func (s *appService) ListPaymentMethods(ctx context.Context) ([]core.PaymentMethod, error) {
	return s.orders.ListPaymentMethods(ctx)
}

// ── Reporting stream ─────────────────────────────────────────────────────────

func (s *appService) ListMovements(ctx context.Context, f core.MovementFilter) ([]core.Movement, error) {
	return s.stream.ListMovements(ctx, f)
}

func (s *appService) ListCashMovements(ctx context.Context, f core.CashMovementFilter) ([]core.CashMovement, error) {
	return s.stream.ListCashMovements(ctx, f)
}

func (s *appService) VerifyLedger(ctx context.Context) (*core.ReplayReport, error) {
	return s.stream.ReplayStock(ctx)
}

// ── private helpers ──────────────────────────────────────────────────────────

func (s *appService) registerOrDefault(registerID int) int {
	if registerID == 0 {
		return s.pos.DefaultRegisterID
	}
	return registerID
}

// checkoutOptions turns the configured policy and the request into explicit
// engine options. Only serving consults them.
func (s *appService) checkoutOptions(ctx context.Context, req AdvanceOrderRequest) (core.CheckoutOptions, error) {
	opts := core.CheckoutOptions{
		RequireOpenRegister: s.pos.RequireOpenRegister,
		RegisterID:          s.registerOrDefault(req.RegisterID),
		LocationID:          req.LocationID,
	}
	if req.Target != core.OrderServed || req.PaymentMethodCode == "" {
		return opts, nil
	}

	methods, err := s.orders.ListPaymentMethods(ctx)
	if err != nil {
		return opts, err
	}
	for _, pm := range methods {
		if strings.EqualFold(pm.Code, req.PaymentMethodCode) {
			id := pm.ID
			opts.PaymentMethodID = &id
			return opts, nil
		}
	}
	return opts, fmt.Errorf("%w: unknown payment method %q", core.ErrValidation, req.PaymentMethodCode)
}

func (s *appService) sessionResult(ctx context.Context, session *core.CashSession) (*SessionResult, error) {
	movements, err := s.cash.ListSessionMovements(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return &SessionResult{
		Session:   session,
		Movements: movements,
		Expected:  core.ExpectedAmount(session.OpeningAmount, movements),
	}, nil
}

func (s *appService) orderResult(ctx context.Context, order *core.Order, actor core.Actor) (*OrderResult, error) {
	res := &OrderResult{Order: order}
	sale, err := s.orders.GetSaleByOrder(ctx, order.ID)
	if err != nil {
		var nf *core.NotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
	} else {
		res.Sale = sale
	}
	if actor.Role != "" {
		res.Allowed = core.AllowedTransitions(order.Status, actor.Role)
	}
	return res, nil
}
