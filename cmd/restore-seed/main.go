// restore-seed wipes the ledger store and loads a demo restaurant: staff,
// locations, registers, tables, payment methods, menu products with recipes,
// and opening stock received through the inventory ledger.
//
// Usage: go run ./cmd/restore-seed
package main

import (
	"context"
	"log"
	"os"
	"time"

	"pos-ledger/internal/config"
	"pos-ledger/internal/core"
	"pos-ledger/internal/db"
	"pos-ledger/internal/logger"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type openingStock struct {
	code      string
	lot       string
	qty       string
	unitCost  string
	shelfDays int // 0 means no expiration
}

var stock = []openingStock{
	{"BUN", "BUN-0001", "120", "0.35", 5},
	{"PATTY", "PAT-0001", "80", "1.20", 4},
	{"CHEESE", "CHS-0001", "200", "0.15", 21},
	{"LETTUCE", "LET-0001", "6", "2.10", 6},
	{"TOMATO", "TOM-0001", "8", "1.80", 7},
	{"POTATO", "POT-0001", "40", "0.90", 30},
	{"OIL", "OIL-0001", "20", "2.40", 180},
	{"COLA", "COL-0001", "96", "0.45", 240},
	{"WATER", "WAT-0001", "48", "0.20", 0},
}

func main() {
	_ = godotenv.Load()

	cfg := config.LoadEnv()
	lg, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	log.Println("Clearing ledger tables...")
	_, err = tx.Exec(ctx, `
		TRUNCATE TABLE sale_items, sales, order_items, orders, payment_methods, dining_tables,
		               cash_movements, cash_sessions, cash_registers,
		               recipe_items, recipes,
		               physical_count_items, physical_counts,
		               inventory_alerts, inventory_movements, inventory_lots, inventory_locations,
		               ledger_sequences, products, users
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		log.Fatalf("Failed to clear tables: %v", err)
	}

	log.Println("Restoring staff, locations, registers and tables...")
	_, err = tx.Exec(ctx, `
		INSERT INTO users (username, full_name, role) VALUES
		  ('admin',   'Restaurant Admin', 'admin'),
		  ('manager', 'Floor Manager',    'manager'),
		  ('ana',     'Ana Waiter',       'waiter'),
		  ('chef',    'Head Chef',        'kitchen'),
		  ('carlos',  'Carlos Cashier',   'cashier');

		INSERT INTO inventory_locations (code, name, is_default) VALUES
		  ('KITCHEN', 'Kitchen',       true),
		  ('STORE',   'Dry Storeroom', false),
		  ('COLD',    'Walk-in Cold',  false);

		INSERT INTO cash_registers (code, name) VALUES
		  ('REG1', 'Front Counter'),
		  ('REG2', 'Bar');

		INSERT INTO dining_tables (number, name, capacity)
		SELECT n, 'Table ' || n, CASE WHEN n <= 4 THEN 2 ELSE 4 END
		FROM generate_series(1, 10) AS n;

		INSERT INTO payment_methods (code, name, is_cash) VALUES
		  ('CASH', 'Cash', true),
		  ('CARD', 'Card', false);
	`)
	if err != nil {
		log.Fatalf("Failed to restore reference data: %v", err)
	}

	log.Println("Restoring menu...")
	_, err = tx.Exec(ctx, `
		INSERT INTO products (code, name, unit, price, min_stock, max_stock, is_composite, has_recipe) VALUES
		  ('BUN',     'Brioche bun',        'unit',  0,    24, 200, false, false),
		  ('PATTY',   'Beef patty',         'unit',  0,    20, 150, false, false),
		  ('CHEESE',  'Cheddar slice',      'unit',  0,    40, 400, false, false),
		  ('LETTUCE', 'Lettuce',            'kg',    0,     1,  10, false, false),
		  ('TOMATO',  'Tomato',             'kg',    0,     1,  12, false, false),
		  ('POTATO',  'Potato',             'kg',    0,    10,  60, false, false),
		  ('OIL',     'Frying oil',         'l',     0,     5,  40, false, false),
		  ('COLA',    'Cola can',           'unit',  2.50, 24, 144, false, false),
		  ('WATER',   'Still water bottle', 'unit',  1.80, 12,  96, false, false),
		  ('BURGER',  'Classic burger',     'unit',  9.50,  0,   0, true,  true),
		  ('CHBURGER','Cheeseburger',       'unit', 10.50,  0,   0, true,  true),
		  ('FRIES',   'Fries',              'unit',  3.50,  0,   0, true,  true);

		INSERT INTO recipes (product_id, name, yield_quantity)
		SELECT id, name, 1 FROM products WHERE is_composite;

		INSERT INTO recipe_items (recipe_id, ingredient_id, quantity, unit)
		SELECT r.id, i.id, x.qty, i.unit
		FROM (VALUES
		    ('BURGER',   'BUN',     1.0),
		    ('BURGER',   'PATTY',   1.0),
		    ('BURGER',   'LETTUCE', 0.03),
		    ('BURGER',   'TOMATO',  0.05),
		    ('CHBURGER', 'BUN',     1.0),
		    ('CHBURGER', 'PATTY',   1.0),
		    ('CHBURGER', 'CHEESE',  2.0),
		    ('CHBURGER', 'LETTUCE', 0.03),
		    ('FRIES',    'POTATO',  0.25),
		    ('FRIES',    'OIL',     0.02)
		) AS x(menu, ingredient, qty)
		JOIN products m ON m.code = x.menu
		JOIN recipes r ON r.product_id = m.id AND r.is_active
		JOIN products i ON i.code = x.ingredient;
	`)
	if err != nil {
		log.Fatalf("Failed to restore menu: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	// Opening stock goes through the ledger so every unit on hand has a movement.
	users := core.NewUserService(pool)
	catalog := core.NewCatalogService(pool)
	inventory := core.NewInventoryService(pool, nil, cfg.POS.ExpiryWarningDays, lg)
	recipes := core.NewRecipeService(pool, inventory, lg)

	admin, err := users.GetByUsername(ctx, "admin")
	if err != nil {
		log.Fatalf("Failed to load admin: %v", err)
	}

	log.Println("Receiving opening stock...")
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for _, s := range stock {
		p, err := catalog.GetProductByCode(ctx, s.code)
		if err != nil {
			log.Fatalf("Failed to load %s: %v", s.code, err)
		}
		req := core.ReceiveRequest{
			ProductID: p.ID,
			LotNumber: s.lot,
			Quantity:  decimal.RequireFromString(s.qty),
			UnitCost:  decimal.RequireFromString(s.unitCost),
			Reason:    core.ReasonInitialStock,
			Notes:     "opening stock",
			Actor:     admin.Actor(),
		}
		if s.shelfDays > 0 {
			exp := today.AddDate(0, 0, s.shelfDays)
			req.ExpirationDate = &exp
		}
		if _, err := inventory.ReceiveStock(ctx, req); err != nil {
			log.Fatalf("Failed to receive %s: %v", s.code, err)
		}
	}

	for _, code := range []string{"BURGER", "CHBURGER", "FRIES"} {
		p, err := catalog.GetProductByCode(ctx, code)
		if err != nil {
			log.Fatalf("Failed to load %s: %v", code, err)
		}
		cost, err := recipes.GetRecipeCost(ctx, p.ID)
		if err != nil {
			log.Fatalf("Failed to cost %s: %v", code, err)
		}
		log.Printf("%-9s cost %s", code, cost.StringFixed(4))
	}

	log.Println("Seed data restored.")
	os.Exit(0)
}
