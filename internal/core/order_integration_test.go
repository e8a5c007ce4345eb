package core_test

import (
	"errors"
	"testing"

	"pos-ledger/internal/core"
)

// kitchenSetup stocks three ingredients and a burger that needs two patties.
type kitchenSetup struct {
	bun, patty, cheese int
	burger             int
}

func (f *fixture) burgerKitchen(t *testing.T, patties string) kitchenSetup {
	t.Helper()
	var k kitchenSetup
	k.bun = f.product(t, "BUN", "0", "0", "0")
	k.patty = f.product(t, "PATTY", "0", "0", "0")
	k.cheese = f.product(t, "CHEESE", "0", "0", "0")
	k.burger = f.composite(t, "DOUBLE", "12.50", map[int]string{
		k.bun:    "1",
		k.patty:  "2",
		k.cheese: "1",
	})
	f.receive(t, k.bun, "BUN-1", "10", "0.40", 0, nil)
	f.receive(t, k.patty, "PATTY-1", patties, "1.50", 0, nil)
	f.receive(t, k.cheese, "CHEESE-1", "10", "0.30", 0, nil)
	return k
}

func (f *fixture) order(t *testing.T, table int, productID int, qty string) *core.Order {
	t.Helper()
	o, err := f.orders.CreateOrder(f.ctx, core.CreateOrderRequest{
		TableID: f.tables[table],
		Items:   []core.OrderItemInput{{ProductID: productID, Quantity: dec(qty)}},
		Actor:   f.waiter,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

// toReady walks an order through the kitchen.
func (f *fixture) toReady(t *testing.T, orderID int) {
	t.Helper()
	for _, target := range []core.OrderStatus{core.OrderPreparing, core.OrderReady} {
		if _, err := f.orders.Advance(f.ctx, orderID, target, f.kitchen, core.CheckoutOptions{}); err != nil {
			t.Fatalf("Advance to %s: %v", target, err)
		}
	}
}

func (f *fixture) tableStatus(t *testing.T, number int) core.TableStatus {
	t.Helper()
	tables, err := f.orders.ListTables(f.ctx)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	for _, tb := range tables {
		if tb.Number == number {
			return tb.Status
		}
	}
	t.Fatalf("table %d not found", number)
	return ""
}

func TestRecipe_ConsumeIsAllOrNothing(t *testing.T) {
	f := setupTestDB(t)
	k := f.burgerKitchen(t, "10")
	// Drain the cheese so the last ingredient is short.
	if _, err := f.inventory.RecordMovement(f.ctx, core.MovementRequest{
		ProductID: k.cheese,
		Type:      core.MovementShrinkage,
		Reason:    core.ReasonDamaged,
		Quantity:  dec("10"),
		Actor:     f.manager,
	}); err != nil {
		t.Fatalf("drain cheese: %v", err)
	}
	before := f.count(t, "SELECT COUNT(*) FROM inventory_movements")

	_, err := f.recipes.Consume(f.ctx, core.ConsumeRequest{
		ProductID: k.burger,
		Quantity:  dec("1"),
		Actor:     f.kitchen,
	})
	var stockErr *core.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(stockErr.Shortfalls) != 1 || stockErr.Shortfalls[0].ProductID != k.cheese {
		t.Errorf("expected a single cheese shortfall, got %+v", stockErr.Shortfalls)
	}

	if after := f.count(t, "SELECT COUNT(*) FROM inventory_movements"); after != before {
		t.Errorf("failed consumption wrote %d movements", after-before)
	}
	if got := f.stock(t, k.bun); !got.Equal(dec("10")) {
		t.Errorf("bun stock changed to %s", got)
	}
	if got := f.stock(t, k.patty); !got.Equal(dec("10")) {
		t.Errorf("patty stock changed to %s", got)
	}
	f.assertReplayConsistent(t)
}

func TestRecipe_CheckAvailabilityReportsShortfall(t *testing.T) {
	f := setupTestDB(t)
	k := f.burgerKitchen(t, "3")

	avail, err := f.recipes.CheckAvailability(f.ctx, k.burger, dec("2"), nil)
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if avail.Available {
		t.Error("two doubles need four patties, only three in stock")
	}
	if len(avail.Shortfalls) != 1 || !avail.Shortfalls[0].Missing.Equal(dec("1")) {
		t.Errorf("expected one patty missing, got %+v", avail.Shortfalls)
	}
}

func TestOrder_ServeFailsAtomicallyOnShortIngredient(t *testing.T) {
	f := setupTestDB(t)
	k := f.burgerKitchen(t, "1")
	f.openSession(t, "100")

	o := f.order(t, 5, k.burger, "1")
	f.toReady(t, o.ID)
	sale, err := f.orders.GetSaleByOrder(f.ctx, o.ID)
	if err != nil {
		t.Fatalf("GetSaleByOrder: %v", err)
	}
	outbound := f.count(t, "SELECT COUNT(*) FROM inventory_movements WHERE movement_type = 'outbound'")

	cashMethod := f.cashMethod
	_, err = f.orders.Advance(f.ctx, o.ID, core.OrderServed, f.waiter, core.CheckoutOptions{
		RequireOpenRegister: true,
		RegisterID:          f.register,
		PaymentMethodID:     &cashMethod,
	})
	var stockErr *core.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	got, err := f.orders.GetOrder(f.ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != core.OrderReady {
		t.Errorf("order should stay ready, got %s", got.Status)
	}
	gotSale, err := f.orders.GetSale(f.ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if gotSale.Status != core.SalePending {
		t.Errorf("sale should stay pending, got %s", gotSale.Status)
	}
	if n := f.count(t, "SELECT COUNT(*) FROM cash_movements WHERE movement_type = 'sale'"); n != 0 {
		t.Errorf("expected no cash sale movements, got %d", n)
	}
	if n := f.count(t, "SELECT COUNT(*) FROM inventory_movements WHERE movement_type = 'outbound'"); n != outbound {
		t.Errorf("expected no new outbound movements, got %d", n-outbound)
	}
	if f.tableStatus(t, 5) != core.TableOccupied {
		t.Error("table 5 should stay occupied")
	}
	f.assertReplayConsistent(t)
}

func TestOrder_ServeWithCashSettlesEverything(t *testing.T) {
	f := setupTestDB(t)
	k := f.burgerKitchen(t, "10")
	session := f.openSession(t, "100")

	o := f.order(t, 2, k.burger, "2")
	if !o.Total.Equal(dec("25")) {
		t.Errorf("order total = %s, want 25", o.Total)
	}
	if f.tableStatus(t, 2) != core.TableOccupied {
		t.Error("table 2 should be occupied after ordering")
	}
	f.toReady(t, o.ID)

	cashMethod := f.cashMethod
	served, err := f.orders.Advance(f.ctx, o.ID, core.OrderServed, f.waiter, core.CheckoutOptions{
		RequireOpenRegister: true,
		RegisterID:          f.register,
		PaymentMethodID:     &cashMethod,
	})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if served.Status != core.OrderServed || served.ServedAt == nil {
		t.Errorf("expected served order with timestamp, got %s", served.Status)
	}

	sale, err := f.orders.GetSaleByOrder(f.ctx, o.ID)
	if err != nil {
		t.Fatalf("GetSaleByOrder: %v", err)
	}
	if sale.Status != core.SaleCompleted || sale.SessionID == nil || *sale.SessionID != session.ID {
		t.Errorf("expected completed sale in session %d, got %+v", session.ID, sale)
	}

	if got := f.stock(t, k.patty); !got.Equal(dec("6")) {
		t.Errorf("patty stock = %s, want 6", got)
	}
	if got := f.stock(t, k.bun); !got.Equal(dec("8")) {
		t.Errorf("bun stock = %s, want 8", got)
	}
	if n := f.count(t,
		"SELECT COUNT(*) FROM inventory_movements WHERE reason = 'sale' AND reference_type = 'order' AND reference_id = $1", o.ID,
	); n != 3 {
		t.Errorf("expected 3 sale movements for the order, got %d", n)
	}
	if f.tableStatus(t, 2) != core.TableFree {
		t.Error("table 2 should be free after serving")
	}

	open, err := f.cash.GetOpenSession(f.ctx, f.register)
	if err != nil {
		t.Fatalf("GetOpenSession: %v", err)
	}
	movements, err := f.cash.ListSessionMovements(f.ctx, open.ID)
	if err != nil {
		t.Fatalf("ListSessionMovements: %v", err)
	}
	if got := core.ExpectedAmount(open.OpeningAmount, movements); !got.Equal(dec("125")) {
		t.Errorf("expected drawer 125, got %s", got)
	}
	f.assertReplayConsistent(t)

	// Refund pays the total back out of the drawer; ingredients stay consumed.
	refunded, err := f.orders.RefundSale(f.ctx, sale.ID, f.cashier, f.register)
	if err != nil {
		t.Fatalf("RefundSale: %v", err)
	}
	if refunded.Status != core.SaleRefunded {
		t.Errorf("expected refunded sale, got %s", refunded.Status)
	}
	movements, err = f.cash.ListSessionMovements(f.ctx, open.ID)
	if err != nil {
		t.Fatalf("ListSessionMovements: %v", err)
	}
	if got := core.ExpectedAmount(open.OpeningAmount, movements); !got.Equal(dec("100")) {
		t.Errorf("expected drawer back to 100, got %s", got)
	}
	if got := f.stock(t, k.patty); !got.Equal(dec("6")) {
		t.Errorf("refund must not restock, patty = %s", got)
	}
	if _, err := f.orders.RefundSale(f.ctx, sale.ID, f.cashier, f.register); err == nil {
		t.Error("second refund should fail")
	}
}

func TestOrder_CardPaymentWritesNoCashMovement(t *testing.T) {
	f := setupTestDB(t)
	k := f.burgerKitchen(t, "10")
	f.openSession(t, "100")

	o := f.order(t, 3, k.burger, "1")
	f.toReady(t, o.ID)
	card := f.cardMeth
	if _, err := f.orders.Advance(f.ctx, o.ID, core.OrderServed, f.cashier, core.CheckoutOptions{
		RequireOpenRegister: true,
		RegisterID:          f.register,
		PaymentMethodID:     &card,
	}); err != nil {
		t.Fatalf("serve: %v", err)
	}

	if n := f.count(t, "SELECT COUNT(*) FROM cash_movements WHERE movement_type = 'sale'"); n != 0 {
		t.Errorf("card sale wrote %d cash movements", n)
	}
	sale, err := f.orders.GetSaleByOrder(f.ctx, o.ID)
	if err != nil {
		t.Fatalf("GetSaleByOrder: %v", err)
	}
	if sale.Status != core.SaleCompleted {
		t.Errorf("expected completed sale, got %s", sale.Status)
	}
}

func TestOrder_ServeRequiresOpenRegister(t *testing.T) {
	f := setupTestDB(t)
	k := f.burgerKitchen(t, "10")

	o := f.order(t, 1, k.burger, "1")
	f.toReady(t, o.ID)
	_, err := f.orders.Advance(f.ctx, o.ID, core.OrderServed, f.waiter, core.CheckoutOptions{
		RequireOpenRegister: true,
		RegisterID:          f.register,
	})
	if !errors.Is(err, core.ErrNoOpenSession) {
		t.Fatalf("expected ErrNoOpenSession, got %v", err)
	}
	if got := f.stock(t, k.patty); !got.Equal(dec("10")) {
		t.Errorf("failed serve consumed patties: %s", got)
	}
}

func TestOrder_TableHoldsOneActiveOrder(t *testing.T) {
	f := setupTestDB(t)
	k := f.burgerKitchen(t, "10")

	first := f.order(t, 4, k.burger, "1")
	_, err := f.orders.CreateOrder(f.ctx, core.CreateOrderRequest{
		TableID: f.tables[4],
		Items:   []core.OrderItemInput{{ProductID: k.burger, Quantity: dec("1")}},
		Actor:   f.waiter,
	})
	var occupied *core.TableOccupiedError
	if !errors.As(err, &occupied) {
		t.Fatalf("expected TableOccupiedError, got %v", err)
	}

	cancelled, err := f.orders.Cancel(f.ctx, first.ID, f.waiter, "guest left")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != core.OrderCancelled {
		t.Errorf("expected cancelled order, got %s", cancelled.Status)
	}
	sale, err := f.orders.GetSaleByOrder(f.ctx, first.ID)
	if err != nil {
		t.Fatalf("GetSaleByOrder: %v", err)
	}
	if sale.Status != core.SaleCancelled {
		t.Errorf("companion sale should be cancelled, got %s", sale.Status)
	}
	if f.tableStatus(t, 4) != core.TableFree {
		t.Error("table 4 should be free after cancelling")
	}

	// The table takes a new order once freed.
	f.order(t, 4, k.burger, "1")
}

func TestOrder_RolesGateTransitions(t *testing.T) {
	f := setupTestDB(t)
	k := f.burgerKitchen(t, "10")
	o := f.order(t, 6, k.burger, "1")

	_, err := f.orders.Advance(f.ctx, o.ID, core.OrderPreparing, f.waiter, core.CheckoutOptions{})
	if !errors.Is(err, core.ErrForbidden) {
		t.Errorf("waiter starting the kitchen: expected ErrForbidden, got %v", err)
	}

	_, err = f.orders.Advance(f.ctx, o.ID, core.OrderServed, f.waiter, core.CheckoutOptions{})
	var invalid *core.InvalidTransitionError
	if !errors.As(err, &invalid) || errors.Is(err, core.ErrForbidden) {
		t.Errorf("pending → served is not an edge, got %v", err)
	}

	f.toReady(t, o.ID)
	if _, err := f.orders.Cancel(f.ctx, o.ID, f.waiter, ""); !errors.Is(err, core.ErrForbidden) {
		t.Errorf("waiter cancelling a ready order: expected ErrForbidden, got %v", err)
	}
	if _, err := f.orders.Advance(f.ctx, o.ID, core.OrderServed, f.waiter, core.CheckoutOptions{}); err != nil {
		t.Fatalf("serve without register policy: %v", err)
	}
	if _, err := f.orders.Cancel(f.ctx, o.ID, f.admin, ""); err == nil {
		t.Error("served orders cannot be cancelled")
	}
	f.assertReplayConsistent(t)
}

func TestOrder_RejectsNegativePriceOverride(t *testing.T) {
	f := setupTestDB(t)
	k := f.burgerKitchen(t, "10")

	_, err := f.orders.CreateOrder(f.ctx, core.CreateOrderRequest{
		TableID: f.tables[1],
		Items: []core.OrderItemInput{
			{ProductID: k.burger, Quantity: dec("1")},
			{ProductID: k.burger, Quantity: dec("1"), UnitPrice: dec("-12.50")},
		},
		Actor: f.waiter,
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if n := f.count(t, "SELECT COUNT(*) FROM orders"); n != 0 {
		t.Errorf("rejected order left %d rows", n)
	}
	if n := f.count(t, "SELECT COUNT(*) FROM sales"); n != 0 {
		t.Errorf("rejected order left %d sales", n)
	}
	if f.tableStatus(t, 1) != core.TableFree {
		t.Error("table 1 should stay free")
	}

	// A positive override is honoured.
	o, err := f.orders.CreateOrder(f.ctx, core.CreateOrderRequest{
		TableID: f.tables[1],
		Items:   []core.OrderItemInput{{ProductID: k.burger, Quantity: dec("2"), UnitPrice: dec("10")}},
		Actor:   f.waiter,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !o.Total.Equal(dec("20")) {
		t.Errorf("total = %s, want 20", o.Total)
	}
}
