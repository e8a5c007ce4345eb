package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService drives orders through the kitchen state machine and, at the
// serve boundary, settles them against inventory and the cash drawer.
type OrderService interface {
	// CreateOrder occupies the table and opens the order with its companion pending sale.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	// Advance moves an order to target. ready → served runs the checkout
	// pipeline: ingredient consumption, cash settlement, sale completion and
	// table release commit together or not at all.
	Advance(ctx context.Context, orderID int, target OrderStatus, actor Actor, opts CheckoutOptions) (*Order, error)
	// Cancel frees the table and cancels the companion sale. Served orders cannot be cancelled.
	Cancel(ctx context.Context, orderID int, actor Actor, reason string) (*Order, error)
	// RefundSale moves a completed sale to refunded and pays the refund out of
	// the register's open session. Consumed ingredients are not restocked.
	RefundSale(ctx context.Context, saleID int, actor Actor, registerID int) (*Sale, error)

	// Queries
	GetOrder(ctx context.Context, orderID int) (*Order, error)
	ListActiveOrders(ctx context.Context) ([]Order, error)
	ListTables(ctx context.Context) ([]Table, error)
	GetSale(ctx context.Context, saleID int) (*Sale, error)
	GetSaleByOrder(ctx context.Context, orderID int) (*Sale, error)
	ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error)
}

type orderService struct {
	pool      *pgxpool.Pool
	recipes   RecipeService
	cash      CashService
	inventory InventoryService
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrderService(pool *pgxpool.Pool, recipes RecipeService, cash CashService, inventory InventoryService, logger *zap.Logger) OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &orderService{
		pool:      pool,
		recipes:   recipes,
		cash:      cash,
		inventory: inventory,
		logger:    logger.Named("order"),
		now:       time.Now,
	}
}

// ── Order lifecycle ──────────────────────────────────────────────────────────

func (s *orderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, validationError("order must have at least one item")
	}
	if req.Actor.UserID == 0 {
		return nil, validationError("order requires a waiter")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin create order", err)
	}
	defer tx.Rollback(ctx)

	// The table row lock serializes concurrent orders for the same table.
	table, err := lockTable(ctx, tx, req.TableID)
	if err != nil {
		return nil, err
	}
	var activeID int
	err = tx.QueryRow(ctx, `
		SELECT id FROM orders
		WHERE table_id = $1 AND status IN ('pending', 'preparing', 'ready')
		LIMIT 1
	`, table.ID).Scan(&activeID)
	if err == nil {
		return nil, &TableOccupiedError{TableID: table.ID, OrderID: activeID}
	}
	if !isNoRows(err) {
		return nil, classifyStoreError("check table occupancy", err)
	}

	// Compute totals from catalog prices
	type resolvedItem struct {
		productID int
		quantity  decimal.Decimal
		unitPrice decimal.Decimal
		lineTotal decimal.Decimal
		notes     string
	}
	var resolved []resolvedItem
	var subtotal decimal.Decimal

	for i, input := range req.Items {
		qty, err := stockQuantity(fmt.Sprintf("item %d: quantity", i+1), input.Quantity)
		if err != nil {
			return nil, err
		}
		input.Quantity = qty
		if input.UnitPrice.IsNegative() {
			return nil, validationError("item %d: unit price cannot be negative, got %s", i+1, input.UnitPrice)
		}
		p, err := scanProduct(tx.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", input.ProductID))
		if err != nil {
			if isNoRows(err) {
				return nil, notFound("product", input.ProductID)
			}
			return nil, fmt.Errorf("item %d: failed to resolve product: %w", i+1, err)
		}
		if !p.IsActive {
			return nil, validationError("item %d: product %s is inactive", i+1, p.Code)
		}

		price := p.Price
		if !input.UnitPrice.IsZero() {
			price = input.UnitPrice
		}
		lineTotal := input.Quantity.Mul(price).Round(2)
		subtotal = subtotal.Add(lineTotal)

		resolved = append(resolved, resolvedItem{
			productID: p.ID,
			quantity:  input.Quantity,
			unitPrice: price,
			lineTotal: lineTotal,
			notes:     input.Notes,
		})
	}

	now := s.now()
	orderNumber, err := dailyNumberTx(ctx, tx, seqOrder, "O", now)
	if err != nil {
		return nil, err
	}

	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (order_number, table_id, waiter_id, status, subtotal, total, notes)
		VALUES ($1, $2, $3, 'pending', $4, $4, $5)
		RETURNING id
	`, orderNumber, table.ID, req.Actor.UserID, subtotal, req.Notes).Scan(&orderID)
	if err != nil {
		if isConstraintViolation(err, pgUniqueViolation, "uq_orders_active_table") {
			return nil, &TableOccupiedError{TableID: table.ID}
		}
		return nil, classifyStoreError("insert order", err)
	}

	for i, ri := range resolved {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price, line_total, status, notes)
			VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		`, orderID, ri.productID, ri.quantity, ri.unitPrice, ri.lineTotal, ri.notes); err != nil {
			return nil, classifyStoreError(fmt.Sprintf("insert order item %d", i+1), err)
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE dining_tables SET status = 'occupied', updated_at = NOW() WHERE id = $1",
		table.ID,
	); err != nil {
		return nil, classifyStoreError("occupy table", err)
	}

	// Companion sale, opened eagerly so a cancelled order leaves a cancelled sale behind.
	saleNumber, err := dailyNumberTx(ctx, tx, seqSale, "V", now)
	if err != nil {
		return nil, err
	}
	var saleID int
	err = tx.QueryRow(ctx, `
		INSERT INTO sales (sale_number, order_id, user_id, status, subtotal, total)
		VALUES ($1, $2, $3, 'pending', $4, $4)
		RETURNING id
	`, saleNumber, orderID, req.Actor.UserID, subtotal).Scan(&saleID)
	if err != nil {
		return nil, classifyStoreError("insert sale", err)
	}
	for i, ri := range resolved {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5)
		`, saleID, ri.productID, ri.quantity, ri.unitPrice, ri.lineTotal); err != nil {
			return nil, classifyStoreError(fmt.Sprintf("insert sale item %d", i+1), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit create order", err)
	}

	s.logger.Info("order created",
		zap.String("order_number", orderNumber),
		zap.Int("table", table.Number),
		zap.String("total", subtotal.StringFixed(2)))
	return s.GetOrder(ctx, orderID)
}

func (s *orderService) Advance(ctx context.Context, orderID int, target OrderStatus, actor Actor, opts CheckoutOptions) (*Order, error) {
	if target == OrderCancelled {
		return s.Cancel(ctx, orderID, actor, "")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin advance order", err)
	}
	defer tx.Rollback(ctx)

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkOrderTransition(order.ID, order.Status, target, actor.Role); err != nil {
		return nil, err
	}

	var consumed []Movement
	switch target {
	case OrderPreparing:
		_, err = tx.Exec(ctx,
			"UPDATE orders SET status = 'preparing', kitchen_started_at = NOW(), updated_at = NOW() WHERE id = $1",
			order.ID)
	case OrderReady:
		_, err = tx.Exec(ctx,
			"UPDATE orders SET status = 'ready', kitchen_finished_at = NOW(), updated_at = NOW() WHERE id = $1",
			order.ID)
	case OrderServed:
		consumed, err = s.serveTx(ctx, tx, order, actor, opts)
	}
	if err != nil {
		return nil, classifyStoreError(fmt.Sprintf("advance order %s to %s", order.OrderNumber, target), err)
	}

	if err := setItemStatusTx(ctx, tx, order.ID, target); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit advance order", err)
	}

	s.logger.Info("order advanced",
		zap.String("order_number", order.OrderNumber),
		zap.String("from", string(order.Status)),
		zap.String("to", string(target)),
		zap.Int("user_id", actor.UserID))

	if len(consumed) > 0 {
		s.evaluateAfterCommit(ctx, consumed)
	}
	return s.GetOrder(ctx, orderID)
}

// serveTx is the checkout pipeline. Every check runs before the first write:
// the consumption plan is validated under ingredient locks and the register
// policy is enforced before any movement is written, so a failure at any step
// leaves the order ready with nothing recorded.
func (s *orderService) serveTx(ctx context.Context, tx pgx.Tx, order *Order, actor Actor, opts CheckoutOptions) ([]Movement, error) {
	items, err := fetchOrderItems(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	lines := make([]ConsumptionLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, ConsumptionLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	// 1. Plan and validate all ingredient consumption.
	plan, err := s.recipes.PlanConsumptionTx(ctx, tx, lines, opts.LocationID)
	if err != nil {
		return nil, err
	}

	// 2. Register policy.
	var session *CashSession
	if opts.RegisterID != 0 {
		session, err = s.cash.OpenSessionForRegisterTx(ctx, tx, opts.RegisterID)
		if err != nil {
			return nil, err
		}
	}
	if opts.RequireOpenRegister && session == nil {
		if opts.RegisterID == 0 {
			return nil, fmt.Errorf("no register given for checkout: %w", ErrNoOpenSession)
		}
		return nil, fmt.Errorf("register %d: %w", opts.RegisterID, ErrNoOpenSession)
	}

	sale, err := lockSaleByOrder(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if sale.Status != SalePending {
		return nil, &InvalidTransitionError{Entity: "sale", ID: sale.ID, From: string(sale.Status), To: string(SaleCompleted)}
	}

	isCash := true
	if opts.PaymentMethodID != nil {
		pm, err := getPaymentMethod(ctx, tx, *opts.PaymentMethodID)
		if err != nil {
			return nil, err
		}
		isCash = pm.IsCash
	}

	// 3. Inventory.
	ref := Reference{Type: "order", ID: &order.ID, Number: order.OrderNumber}
	movements, err := s.recipes.ApplyPlanTx(ctx, tx, plan, ref, actor)
	if err != nil {
		return nil, err
	}

	// 4. Cash.
	var sessionID *int
	if session != nil {
		sessionID = &session.ID
		if isCash && sale.Total.IsPositive() {
			if _, err := s.cash.RegisterMovementTx(ctx, tx, CashMovementRequest{
				SessionID:   session.ID,
				Type:        CashSale,
				Amount:      sale.Total,
				Description: "order " + order.OrderNumber,
				Reference:   sale.SaleNumber,
				Actor:       actor,
			}); err != nil {
				return nil, err
			}
		}
	}

	// 5. Sale, order, table.
	if _, err := tx.Exec(ctx, `
		UPDATE sales
		SET status = 'completed', completed_at = NOW(), session_id = $1, payment_method_id = $2
		WHERE id = $3
	`, sessionID, opts.PaymentMethodID, sale.ID); err != nil {
		return nil, fmt.Errorf("failed to complete sale %s: %w", sale.SaleNumber, err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = 'served', served_at = NOW(), updated_at = NOW() WHERE id = $1",
		order.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to serve order: %w", err)
	}
	if err := freeTableTx(ctx, tx, order.TableID); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *orderService) Cancel(ctx context.Context, orderID int, actor Actor, reason string) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin cancel order", err)
	}
	defer tx.Rollback(ctx)

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkOrderTransition(order.ID, order.Status, OrderCancelled, actor.Role); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'cancelled', cancelled_at = NOW(), updated_at = NOW(),
		    notes = CASE WHEN $2 = '' THEN notes ELSE concat_ws(E'\n', NULLIF(notes, ''), 'cancelled: ' || $2) END
		WHERE id = $1
	`, order.ID, reason); err != nil {
		return nil, classifyStoreError("cancel order", err)
	}
	if err := setItemStatusTx(ctx, tx, order.ID, OrderCancelled); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE sales SET status = 'cancelled', cancelled_at = NOW()
		WHERE order_id = $1 AND status = 'pending'
	`, order.ID); err != nil {
		return nil, classifyStoreError("cancel sale", err)
	}
	if err := freeTableTx(ctx, tx, order.TableID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit cancel order", err)
	}

	s.logger.Info("order cancelled",
		zap.String("order_number", order.OrderNumber),
		zap.String("from", string(order.Status)),
		zap.Int("user_id", actor.UserID))
	return s.GetOrder(ctx, orderID)
}

func (s *orderService) RefundSale(ctx context.Context, saleID int, actor Actor, registerID int) (*Sale, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin refund", err)
	}
	defer tx.Rollback(ctx)

	sale, err := scanSale(tx.QueryRow(ctx, "SELECT "+saleColumns+" FROM sales WHERE id = $1 FOR UPDATE", saleID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("sale", saleID)
		}
		return nil, classifyStoreError("lock sale", err)
	}
	if err := checkSaleTransition(sale.ID, sale.Status, SaleRefunded, actor.Role); err != nil {
		return nil, err
	}

	isCash := true
	if sale.PaymentMethodID != nil {
		pm, err := getPaymentMethod(ctx, tx, *sale.PaymentMethodID)
		if err != nil {
			return nil, err
		}
		isCash = pm.IsCash
	}

	if isCash && sale.Total.IsPositive() {
		session, err := s.cash.OpenSessionForRegisterTx(ctx, tx, registerID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, fmt.Errorf("register %d: %w", registerID, ErrNoOpenSession)
		}
		if _, err := s.cash.RegisterMovementTx(ctx, tx, CashMovementRequest{
			SessionID:   session.ID,
			Type:        CashRefund,
			Amount:      sale.Total,
			Description: "refund of sale " + sale.SaleNumber,
			Reference:   sale.SaleNumber,
			Actor:       actor,
		}); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE sales SET status = 'refunded', refunded_at = NOW() WHERE id = $1",
		sale.ID,
	); err != nil {
		return nil, classifyStoreError("refund sale", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit refund", err)
	}

	s.logger.Info("sale refunded", zap.String("sale_number", sale.SaleNumber), zap.String("total", sale.Total.StringFixed(2)))
	return s.GetSale(ctx, saleID)
}

func (s *orderService) evaluateAfterCommit(ctx context.Context, movements []Movement) {
	var productIDs, lotIDs []int
	for _, m := range movements {
		productIDs = append(productIDs, m.ProductID)
		if m.LotID != nil {
			lotIDs = append(lotIDs, *m.LotID)
		}
	}
	if _, err := s.inventory.EvaluateAlerts(ctx, productIDs, lotIDs); err != nil {
		s.logger.Warn("alert evaluation failed", zap.Ints("product_ids", productIDs), zap.Error(err))
	}
}

// ── Queries ──────────────────────────────────────────────────────────────────

const orderColumns = `o.id, o.order_number, o.table_id, t.number, o.waiter_id, o.status, o.subtotal, o.total,
	o.notes, o.kitchen_started_at, o.kitchen_finished_at, o.served_at, o.cancelled_at, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.TableID, &o.TableNumber, &o.WaiterID, &o.Status, &o.Subtotal,
		&o.Total, &o.Notes, &o.KitchenStartedAt, &o.KitchenFinishedAt, &o.ServedAt, &o.CancelledAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID int) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		JOIN dining_tables t ON t.id = o.table_id
		WHERE o.id = $1
	`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("order", orderID)
		}
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}

	items, err := fetchOrderItems(ctx, s.pool, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (s *orderService) ListActiveOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		JOIN dining_tables t ON t.id = o.table_id
		WHERE o.status IN ('pending', 'preparing', 'ready')
		ORDER BY o.created_at, o.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *orderService) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, number, name, capacity, status, updated_at
		FROM dining_tables
		ORDER BY number
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.ID, &t.Number, &t.Name, &t.Capacity, &t.Status, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

const saleColumns = `id, sale_number, order_id, session_id, payment_method_id, user_id, status, subtotal, total,
	created_at, completed_at, cancelled_at, refunded_at`

func scanSale(row pgx.Row) (*Sale, error) {
	var sl Sale
	err := row.Scan(&sl.ID, &sl.SaleNumber, &sl.OrderID, &sl.SessionID, &sl.PaymentMethodID, &sl.UserID,
		&sl.Status, &sl.Subtotal, &sl.Total, &sl.CreatedAt, &sl.CompletedAt, &sl.CancelledAt, &sl.RefundedAt)
	if err != nil {
		return nil, err
	}
	return &sl, nil
}

func (s *orderService) GetSale(ctx context.Context, saleID int) (*Sale, error) {
	sale, err := scanSale(s.pool.QueryRow(ctx, "SELECT "+saleColumns+" FROM sales WHERE id = $1", saleID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("sale", saleID)
		}
		return nil, fmt.Errorf("failed to fetch sale %d: %w", saleID, err)
	}
	return s.withSaleItems(ctx, sale)
}

func (s *orderService) GetSaleByOrder(ctx context.Context, orderID int) (*Sale, error) {
	sale, err := scanSale(s.pool.QueryRow(ctx, "SELECT "+saleColumns+" FROM sales WHERE order_id = $1", orderID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("sale for order", orderID)
		}
		return nil, fmt.Errorf("failed to fetch sale for order %d: %w", orderID, err)
	}
	return s.withSaleItems(ctx, sale)
}

func (s *orderService) withSaleItems(ctx context.Context, sale *Sale) (*Sale, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price, line_total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		sale.Items = append(sale.Items, it)
	}
	return sale, rows.Err()
}

func (s *orderService) ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, is_cash, is_active
		FROM payment_methods
		WHERE is_active = true
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	defer rows.Close()

	var methods []PaymentMethod
	for rows.Next() {
		var pm PaymentMethod
		if err := rows.Scan(&pm.ID, &pm.Code, &pm.Name, &pm.IsCash, &pm.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, pm)
	}
	return methods, rows.Err()
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func lockOrder(ctx context.Context, tx pgx.Tx, orderID int) (*Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		JOIN dining_tables t ON t.id = o.table_id
		WHERE o.id = $1
		FOR UPDATE OF o
	`, orderID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("order", orderID)
		}
		return nil, classifyStoreError("lock order", err)
	}
	return o, nil
}

func lockTable(ctx context.Context, tx pgx.Tx, tableID int) (*Table, error) {
	var t Table
	err := tx.QueryRow(ctx,
		"SELECT id, number, name, capacity, status, updated_at FROM dining_tables WHERE id = $1 FOR UPDATE",
		tableID,
	).Scan(&t.ID, &t.Number, &t.Name, &t.Capacity, &t.Status, &t.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("table", tableID)
		}
		return nil, classifyStoreError("lock table", err)
	}
	return &t, nil
}

func freeTableTx(ctx context.Context, tx pgx.Tx, tableID int) error {
	if _, err := lockTable(ctx, tx, tableID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"UPDATE dining_tables SET status = 'free', updated_at = NOW() WHERE id = $1",
		tableID,
	); err != nil {
		return classifyStoreError("free table", err)
	}
	return nil
}

func setItemStatusTx(ctx context.Context, tx pgx.Tx, orderID int, status OrderStatus) error {
	if _, err := tx.Exec(ctx,
		"UPDATE order_items SET status = $1 WHERE order_id = $2",
		string(status), orderID,
	); err != nil {
		return classifyStoreError("update order items", err)
	}
	return nil
}

func lockSaleByOrder(ctx context.Context, tx pgx.Tx, orderID int) (*Sale, error) {
	sale, err := scanSale(tx.QueryRow(ctx, "SELECT "+saleColumns+" FROM sales WHERE order_id = $1 FOR UPDATE", orderID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("sale for order", orderID)
		}
		return nil, classifyStoreError("lock sale", err)
	}
	return sale, nil
}

func getPaymentMethod(ctx context.Context, q pgxQuerier, id int) (*PaymentMethod, error) {
	var pm PaymentMethod
	err := q.QueryRow(ctx,
		"SELECT id, code, name, is_cash, is_active FROM payment_methods WHERE id = $1",
		id,
	).Scan(&pm.ID, &pm.Code, &pm.Name, &pm.IsCash, &pm.IsActive)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("payment method", id)
		}
		return nil, fmt.Errorf("failed to fetch payment method %d: %w", id, err)
	}
	if !pm.IsActive {
		return nil, validationError("payment method %s is inactive", pm.Code)
	}
	return &pm, nil
}

func fetchOrderItems(ctx context.Context, q pgxRowQuerier, orderID int) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT oi.id, oi.order_id, p.id, p.code, p.name,
		       oi.quantity, oi.unit_price, oi.line_total, oi.status, oi.notes
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.ProductID, &it.ProductCode, &it.ProductName,
			&it.Quantity, &it.UnitPrice, &it.LineTotal, &it.Status, &it.Notes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
