package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recipe is the bill of materials of one composite product.
type Recipe struct {
	ID            int             `json:"id"`
	ProductID     int             `json:"product_id"`
	Name          string          `json:"name"`
	YieldQuantity decimal.Decimal `json:"yield_quantity"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	IsActive      bool            `json:"is_active"`
	CostUpdatedAt *time.Time      `json:"cost_updated_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []RecipeItem    `json:"items"`
}

// RecipeItem is the quantity of one ingredient per unit of the composite product.
type RecipeItem struct {
	ID             int             `json:"id"`
	RecipeID       int             `json:"recipe_id"`
	IngredientID   int             `json:"ingredient_id"`
	IngredientCode string          `json:"ingredient_code"`
	IngredientName string          `json:"ingredient_name"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	IsOptional     bool            `json:"is_optional"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
}

// ConsumptionLine is one sold line to expand through its recipe.
type ConsumptionLine struct {
	ProductID int
	Quantity  decimal.Decimal
}

// Requirement is the summed demand on one ingredient.
type Requirement struct {
	IngredientID   int             `json:"ingredient_id"`
	IngredientCode string          `json:"ingredient_code"`
	IngredientName string          `json:"ingredient_name"`
	Required       decimal.Decimal `json:"required"`
	Available      decimal.Decimal `json:"available"`
}

func (r Requirement) Sufficient() bool {
	return r.Available.GreaterThanOrEqual(r.Required)
}

type Availability struct {
	ProductID  int             `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Available  bool            `json:"available"`
	Composite  bool            `json:"composite"`
	Details    []Requirement   `json:"details"`
	Shortfalls []Shortfall     `json:"shortfalls,omitempty"`
}

// ConsumptionPlan is the validated set of ingredient withdrawals for one or
// more sold lines at one location.
type ConsumptionPlan struct {
	LocationID   int
	Requirements []Requirement
}

type ConsumeRequest struct {
	ProductID  int
	Quantity   decimal.Decimal
	LocationID *int
	Reference  Reference
	Actor      Actor
}

type ConsumptionResult struct {
	ProductID int             `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Composite bool            `json:"composite"`
	Movements []Movement      `json:"movements"`
}
