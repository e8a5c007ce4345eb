package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecipeService expands composite products into ingredient consumption.
// Products without a recipe pass through every call as a successful no-op.
type RecipeService interface {
	GetRecipe(ctx context.Context, productID int) (*Recipe, error)
	// CheckAvailability is a pure read. It reports every short ingredient at
	// locationID, or at the default location when nil.
	CheckAvailability(ctx context.Context, productID int, qty decimal.Decimal, locationID *int) (*Availability, error)
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumptionResult, error)
	// GetRecipeCost recomputes the recipe cost from current ingredient costs and persists it.
	GetRecipeCost(ctx context.Context, productID int) (decimal.Decimal, error)
	// RefreshCostsForIngredient recomputes every active recipe that uses the ingredient.
	RefreshCostsForIngredient(ctx context.Context, ingredientID int) (int, error)

	// TX-scoped operations.
	ConsumeTx(ctx context.Context, tx pgx.Tx, req ConsumeRequest) (*ConsumptionResult, error)
	// PlanConsumptionTx locks every ingredient of the given lines and checks
	// the summed demand against stock. It fails with the full shortfall list.
	PlanConsumptionTx(ctx context.Context, tx pgx.Tx, lines []ConsumptionLine, locationID *int) (*ConsumptionPlan, error)
	// ApplyPlanTx writes one outbound sale movement per planned ingredient
	// (one per lot drawn for lot-tracked ingredients).
	ApplyPlanTx(ctx context.Context, tx pgx.Tx, plan *ConsumptionPlan, ref Reference, actor Actor) ([]Movement, error)
}

type recipeService struct {
	pool      *pgxpool.Pool
	inventory InventoryService
	logger    *zap.Logger
}

func NewRecipeService(pool *pgxpool.Pool, inventory InventoryService, logger *zap.Logger) RecipeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &recipeService{pool: pool, inventory: inventory, logger: logger.Named("recipe")}
}

// ── Standalone operations ─────────────────────────────────────────────────────

func (s *recipeService) GetRecipe(ctx context.Context, productID int) (*Recipe, error) {
	recipe, composite, err := loadActiveRecipe(ctx, s.pool, productID)
	if err != nil {
		return nil, err
	}
	if !composite {
		return nil, notFound("recipe", productID)
	}
	return recipe, nil
}

func (s *recipeService) CheckAvailability(ctx context.Context, productID int, qty decimal.Decimal, locationID *int) (*Availability, error) {
	if !qty.IsPositive() {
		return nil, validationError("quantity must be positive, got %s", qty)
	}
	loc, err := resolveLocation(ctx, s.pool, locationID)
	if err != nil {
		return nil, err
	}

	reqs, composite, err := expandLines(ctx, s.pool, []ConsumptionLine{{ProductID: productID, Quantity: qty}})
	if err != nil {
		return nil, err
	}
	result := &Availability{ProductID: productID, Quantity: qty, Available: true, Composite: composite}
	if !composite {
		return result, nil
	}

	for i := range reqs {
		avail, err := readAvailable(ctx, s.pool, reqs[i].IngredientID, loc.ID)
		if err != nil {
			return nil, err
		}
		reqs[i].Available = avail
	}
	result.Details = reqs
	result.Shortfalls = collectShortfalls(reqs)
	result.Available = len(result.Shortfalls) == 0
	return result, nil
}

func (s *recipeService) Consume(ctx context.Context, req ConsumeRequest) (*ConsumptionResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin consume", err)
	}
	defer tx.Rollback(ctx)

	result, err := s.ConsumeTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit consume", err)
	}

	if result.Composite {
		s.evaluateAfterCommit(ctx, result.Movements)
	}
	return result, nil
}

func (s *recipeService) GetRecipeCost(ctx context.Context, productID int) (decimal.Decimal, error) {
	recipe, composite, err := loadActiveRecipe(ctx, s.pool, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if !composite {
		return decimal.Zero, notFound("recipe", productID)
	}

	total := recipeCost(recipe.Items)
	if _, err := s.pool.Exec(ctx,
		"UPDATE recipes SET total_cost = $1, cost_updated_at = NOW() WHERE id = $2",
		total, recipe.ID,
	); err != nil {
		return decimal.Zero, fmt.Errorf("failed to persist recipe cost: %w", err)
	}
	return total, nil
}

func (s *recipeService) RefreshCostsForIngredient(ctx context.Context, ingredientID int) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT r.product_id
		FROM recipes r
		JOIN recipe_items ri ON ri.recipe_id = r.id
		WHERE ri.ingredient_id = $1 AND r.is_active = true
		ORDER BY r.product_id
	`, ingredientID)
	if err != nil {
		return 0, fmt.Errorf("failed to query recipes using ingredient %d: %w", ingredientID, err)
	}
	var productIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan recipe product: %w", err)
		}
		productIDs = append(productIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating recipes: %w", err)
	}

	for _, id := range productIDs {
		if _, err := s.GetRecipeCost(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(productIDs), nil
}

// ── TX-scoped operations ──────────────────────────────────────────────────────

func (s *recipeService) ConsumeTx(ctx context.Context, tx pgx.Tx, req ConsumeRequest) (*ConsumptionResult, error) {
	result := &ConsumptionResult{ProductID: req.ProductID, Quantity: req.Quantity}
	plan, err := s.PlanConsumptionTx(ctx, tx, []ConsumptionLine{{ProductID: req.ProductID, Quantity: req.Quantity}}, req.LocationID)
	if err != nil {
		return nil, err
	}
	if len(plan.Requirements) == 0 {
		return result, nil
	}
	result.Composite = true

	ref := req.Reference
	if ref.Type == "" {
		ref.Type = "consumption"
	}
	result.Movements, err = s.ApplyPlanTx(ctx, tx, plan, ref, req.Actor)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *recipeService) PlanConsumptionTx(ctx context.Context, tx pgx.Tx, lines []ConsumptionLine, locationID *int) (*ConsumptionPlan, error) {
	reqs, composite, err := expandLines(ctx, tx, lines)
	if err != nil {
		return nil, err
	}
	if !composite {
		return &ConsumptionPlan{}, nil
	}

	loc, err := resolveLocation(ctx, tx, locationID)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.IngredientID)
	}
	// Ascending id order; lots are locked per product in the same order below.
	products, err := lockProductsTx(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	for i := range reqs {
		p := products[reqs[i].IngredientID]
		tracked, err := lotTracked(ctx, tx, p.ID)
		if err != nil {
			return nil, err
		}
		lots, err := lockLocationLots(ctx, tx, p.ID, loc.ID)
		if err != nil {
			return nil, err
		}
		reqs[i].Available = effectiveAvailable(p.CurrentStock, tracked, lots)
	}

	if shortfalls := collectShortfalls(reqs); len(shortfalls) > 0 {
		return nil, &InsufficientStockError{Shortfalls: shortfalls}
	}
	return &ConsumptionPlan{LocationID: loc.ID, Requirements: reqs}, nil
}

func (s *recipeService) ApplyPlanTx(ctx context.Context, tx pgx.Tx, plan *ConsumptionPlan, ref Reference, actor Actor) ([]Movement, error) {
	var movements []Movement
	for _, r := range plan.Requirements {
		locationID := plan.LocationID
		res, err := s.inventory.RecordMovementTx(ctx, tx, MovementRequest{
			ProductID:  r.IngredientID,
			LocationID: &locationID,
			Type:       MovementOutbound,
			Reason:     ReasonSale,
			Quantity:   r.Required,
			Reference:  ref,
			Actor:      actor,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to consume ingredient %s: %w", r.IngredientCode, err)
		}
		movements = append(movements, res.Movements...)
	}
	return movements, nil
}

func (s *recipeService) evaluateAfterCommit(ctx context.Context, movements []Movement) {
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

// ── Helpers ───────────────────────────────────────────────────────────────────

// expandLines resolves the active recipe of every composite line and sums the
// non-optional ingredient demand, sorted by ingredient id. composite is false
// when no line has a recipe.
func expandLines(ctx context.Context, q pgxReader, lines []ConsumptionLine) ([]Requirement, bool, error) {
	totals := make(map[int]*Requirement)
	composite := false
	for _, line := range lines {
		if !line.Quantity.IsPositive() {
			return nil, false, validationError("quantity must be positive, got %s", line.Quantity)
		}
		recipe, ok, err := loadActiveRecipe(ctx, q, line.ProductID)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		composite = true
		addRequirements(totals, recipe.Items, line.Quantity)
	}

	reqs := sortedRequirements(totals)
	return reqs, composite && len(reqs) > 0, nil
}

// sortedRequirements orders the summed demand by ingredient id and rounds it
// up to the stock scale, so consumption never draws less than the recipe needs.
func sortedRequirements(totals map[int]*Requirement) []Requirement {
	reqs := make([]Requirement, 0, len(totals))
	for _, r := range totals {
		req := *r
		req.Required = req.Required.RoundUp(StockScale)
		reqs = append(reqs, req)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].IngredientID < reqs[j].IngredientID })
	return reqs
}

// addRequirements adds item.quantity x qty for each non-optional item.
func addRequirements(totals map[int]*Requirement, items []RecipeItem, qty decimal.Decimal) {
	for _, it := range items {
		if it.IsOptional {
			continue
		}
		r, ok := totals[it.IngredientID]
		if !ok {
			r = &Requirement{IngredientID: it.IngredientID, IngredientCode: it.IngredientCode, IngredientName: it.IngredientName}
			totals[it.IngredientID] = r
		}
		r.Required = r.Required.Add(it.Quantity.Mul(qty))
	}
}

// collectShortfalls returns one shortfall per insufficient requirement, never
// stopping at the first.
func collectShortfalls(reqs []Requirement) []Shortfall {
	var out []Shortfall
	for _, r := range reqs {
		if r.Sufficient() {
			continue
		}
		out = append(out, Shortfall{
			ProductID:   r.IngredientID,
			ProductCode: r.IngredientCode,
			ProductName: r.IngredientName,
			Required:    r.Required,
			Available:   r.Available,
			Missing:     r.Required.Sub(r.Available),
		})
	}
	return out
}

func recipeCost(items []RecipeItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Quantity.Mul(it.UnitCost))
	}
	return total.Round(4)
}

// effectiveAvailable is what an outbound movement at a location can draw:
// product stock for untracked products, otherwise the location's lot
// availability capped by product stock.
func effectiveAvailable(stock decimal.Decimal, tracked bool, lots []*Lot) decimal.Decimal {
	if !tracked {
		return stock
	}
	sum := decimal.Zero
	for _, l := range lots {
		if a := l.Available(); a.IsPositive() {
			sum = sum.Add(a)
		}
	}
	return decimal.Min(sum, stock)
}

func readAvailable(ctx context.Context, q pgxQuerier, productID, locationID int) (decimal.Decimal, error) {
	var stock, lotAvail decimal.Decimal
	var tracked bool
	err := q.QueryRow(ctx, `
		SELECT p.current_stock,
		       EXISTS (
		           SELECT 1 FROM inventory_lots
		           WHERE product_id = p.id AND is_active = true
		       ),
		       COALESCE((
		           SELECT SUM(quantity - reserved_quantity) FROM inventory_lots
		           WHERE product_id = p.id AND location_id = $2 AND is_active = true
		             AND quantity - reserved_quantity > 0
		       ), 0)
		FROM products p
		WHERE p.id = $1
	`, productID, locationID).Scan(&stock, &tracked, &lotAvail)
	if err != nil {
		if isNoRows(err) {
			return decimal.Zero, notFound("product", productID)
		}
		return decimal.Zero, fmt.Errorf("failed to read availability of product %d: %w", productID, err)
	}
	if !tracked {
		return stock, nil
	}
	return decimal.Min(lotAvail, stock), nil
}

// loadActiveRecipe returns the product's active recipe with ingredient
// details. ok is false for products without a recipe.
func loadActiveRecipe(ctx context.Context, q pgxReader, productID int) (*Recipe, bool, error) {
	var hasRecipe bool
	if err := q.QueryRow(ctx, "SELECT has_recipe FROM products WHERE id = $1", productID).Scan(&hasRecipe); err != nil {
		if isNoRows(err) {
			return nil, false, notFound("product", productID)
		}
		return nil, false, fmt.Errorf("failed to load product %d: %w", productID, err)
	}
	if !hasRecipe {
		return nil, false, nil
	}

	var r Recipe
	err := q.QueryRow(ctx, `
		SELECT id, product_id, name, yield_quantity, total_cost, is_active, cost_updated_at, created_at
		FROM recipes
		WHERE product_id = $1 AND is_active = true
	`, productID).Scan(&r.ID, &r.ProductID, &r.Name, &r.YieldQuantity, &r.TotalCost, &r.IsActive,
		&r.CostUpdatedAt, &r.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, false, notFound("recipe", productID)
		}
		return nil, false, fmt.Errorf("failed to load recipe for product %d: %w", productID, err)
	}

	rows, err := q.Query(ctx, `
		SELECT ri.id, ri.recipe_id, ri.ingredient_id, p.code, p.name, ri.quantity, ri.unit, ri.is_optional, p.cost
		FROM recipe_items ri
		JOIN products p ON p.id = ri.ingredient_id
		WHERE ri.recipe_id = $1
		ORDER BY ri.ingredient_id, ri.id
	`, r.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query recipe items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it RecipeItem
		if err := rows.Scan(&it.ID, &it.RecipeID, &it.IngredientID, &it.IngredientCode, &it.IngredientName,
			&it.Quantity, &it.Unit, &it.IsOptional, &it.UnitCost); err != nil {
			return nil, false, fmt.Errorf("failed to scan recipe item: %w", err)
		}
		r.Items = append(r.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("error iterating recipe items: %w", err)
	}
	return &r, true, nil
}
