package core_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pos-ledger/internal/core"
	"pos-ledger/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

// fixture is a freshly truncated ledger store with the demo reference data
// and every engine wired against it.
type fixture struct {
	ctx  context.Context
	pool *pgxpool.Pool

	catalog   core.CatalogService
	inventory core.InventoryService
	recipes   core.RecipeService
	cash      core.CashService
	orders    core.OrderService
	stream    core.StreamService

	admin, manager, waiter, kitchen, cashier core.Actor

	kitchenLoc, storeLoc int
	register             int
	cashMethod, cardMeth int
	tables               map[int]int // number → id
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setupTestDB(t *testing.T) *fixture {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Integration tests truncate every table, so they only run against a dedicated database.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	migrations, err := db.DiscoverMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("Failed to read migrations: %v", err)
	}
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			t.Fatalf("Failed to apply %s: %v", m.Filename, err)
		}
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE sale_items, sales, order_items, orders, payment_methods, dining_tables,
		               cash_movements, cash_sessions, cash_registers,
		               recipe_items, recipes,
		               physical_count_items, physical_counts,
		               inventory_alerts, inventory_movements, inventory_lots, inventory_locations,
		               ledger_sequences, products, users
		RESTART IDENTITY CASCADE;

		INSERT INTO users (id, username, role) VALUES
		  (1, 'admin',   'admin'),
		  (2, 'manager', 'manager'),
		  (3, 'waiter',  'waiter'),
		  (4, 'kitchen', 'kitchen'),
		  (5, 'cashier', 'cashier');

		INSERT INTO inventory_locations (id, code, name, is_default) VALUES
		  (1, 'KITCHEN', 'Kitchen',   true),
		  (2, 'STORE',   'Storeroom', false);

		INSERT INTO cash_registers (id, code, name) VALUES (1, 'REG1', 'Front Counter');

		INSERT INTO dining_tables (number, name)
		SELECT n, 'Table ' || n FROM generate_series(1, 6) AS n;

		INSERT INTO payment_methods (id, code, name, is_cash) VALUES
		  (1, 'CASH', 'Cash', true),
		  (2, 'CARD', 'Card', false);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	logger := zaptest.NewLogger(t)
	inventory := core.NewInventoryService(pool, nil, 3, logger)
	recipes := core.NewRecipeService(pool, inventory, logger)
	cash := core.NewCashService(pool, logger)

	f := &fixture{
		ctx:        ctx,
		pool:       pool,
		catalog:    core.NewCatalogService(pool),
		inventory:  inventory,
		recipes:    recipes,
		cash:       cash,
		orders:     core.NewOrderService(pool, recipes, cash, inventory, logger),
		stream:     core.NewStreamService(pool),
		admin:      core.Actor{UserID: 1, Role: core.RoleAdmin},
		manager:    core.Actor{UserID: 2, Role: core.RoleManager},
		waiter:     core.Actor{UserID: 3, Role: core.RoleWaiter},
		kitchen:    core.Actor{UserID: 4, Role: core.RoleKitchen},
		cashier:    core.Actor{UserID: 5, Role: core.RoleCashier},
		kitchenLoc: 1,
		storeLoc:   2,
		register:   1,
		cashMethod: 1,
		cardMeth:   2,
		tables:     map[int]int{},
	}

	rows, err := pool.Query(ctx, "SELECT id, number FROM dining_tables")
	if err != nil {
		t.Fatalf("Failed to load tables: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, number int
		if err := rows.Scan(&id, &number); err != nil {
			t.Fatalf("Failed to scan table: %v", err)
		}
		f.tables[number] = id
	}
	return f
}

// product inserts a catalog product and returns its id.
func (f *fixture) product(t *testing.T, code, price, minStock, maxStock string) int {
	t.Helper()
	var id int
	err := f.pool.QueryRow(f.ctx, `
		INSERT INTO products (code, name, price, min_stock, max_stock)
		VALUES ($1, $1, $2, $3, $4) RETURNING id
	`, code, dec(price), dec(minStock), dec(maxStock)).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to insert product %s: %v", code, err)
	}
	return id
}

// composite inserts a menu product whose recipe is items (ingredient id → quantity per unit).
func (f *fixture) composite(t *testing.T, code, price string, items map[int]string) int {
	t.Helper()
	var id, recipeID int
	err := f.pool.QueryRow(f.ctx, `
		INSERT INTO products (code, name, price, is_composite, has_recipe)
		VALUES ($1, $1, $2, true, true) RETURNING id
	`, code, dec(price)).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to insert composite %s: %v", code, err)
	}
	if err := f.pool.QueryRow(f.ctx,
		"INSERT INTO recipes (product_id, name) VALUES ($1, $2) RETURNING id", id, code,
	).Scan(&recipeID); err != nil {
		t.Fatalf("Failed to insert recipe %s: %v", code, err)
	}
	for ingredientID, qty := range items {
		if _, err := f.pool.Exec(f.ctx,
			"INSERT INTO recipe_items (recipe_id, ingredient_id, quantity) VALUES ($1, $2, $3)",
			recipeID, ingredientID, dec(qty),
		); err != nil {
			t.Fatalf("Failed to insert recipe item: %v", err)
		}
	}
	return id
}

// receive books qty into a fresh lot at location (0 = default).
func (f *fixture) receive(t *testing.T, productID int, lot, qty, unitCost string, location int, expires *time.Time) *core.ReceiveResult {
	t.Helper()
	req := core.ReceiveRequest{
		ProductID:      productID,
		LotNumber:      lot,
		Quantity:       dec(qty),
		UnitCost:       dec(unitCost),
		ExpirationDate: expires,
		Reason:         core.ReasonInitialStock,
		Actor:          f.admin,
	}
	if location != 0 {
		req.LocationID = &location
	}
	res, err := f.inventory.ReceiveStock(f.ctx, req)
	if err != nil {
		t.Fatalf("ReceiveStock %s: %v", lot, err)
	}
	return res
}

func (f *fixture) stock(t *testing.T, productID int) decimal.Decimal {
	t.Helper()
	p, err := f.catalog.GetProduct(f.ctx, productID)
	if err != nil {
		t.Fatalf("GetProduct %d: %v", productID, err)
	}
	return p.CurrentStock
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := f.pool.QueryRow(f.ctx, query, args...).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}

// assertReplayConsistent checks that every product's stock equals the fold of its movements.
func (f *fixture) assertReplayConsistent(t *testing.T) {
	t.Helper()
	report, err := f.stream.ReplayStock(f.ctx)
	if err != nil {
		t.Fatalf("ReplayStock: %v", err)
	}
	if !report.Consistent() {
		t.Errorf("ledger replay drift: %+v", report.Drift)
	}
}
