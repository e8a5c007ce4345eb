package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAddRequirements_SumsAcrossLinesAndSkipsOptional(t *testing.T) {
	burger := []RecipeItem{
		{IngredientID: 1, IngredientCode: "BUN", Quantity: d("1")},
		{IngredientID: 2, IngredientCode: "PATTY", Quantity: d("1")},
		{IngredientID: 3, IngredientCode: "PICKLE", Quantity: d("0.02"), IsOptional: true},
	}
	cheeseburger := []RecipeItem{
		{IngredientID: 1, IngredientCode: "BUN", Quantity: d("1")},
		{IngredientID: 2, IngredientCode: "PATTY", Quantity: d("1")},
		{IngredientID: 4, IngredientCode: "CHEESE", Quantity: d("2")},
	}

	totals := map[int]*Requirement{}
	addRequirements(totals, burger, d("2"))
	addRequirements(totals, cheeseburger, d("3"))

	if _, ok := totals[3]; ok {
		t.Error("optional ingredient must not be required")
	}
	want := map[int]string{1: "5", 2: "5", 4: "6"}
	for id, qty := range want {
		r, ok := totals[id]
		if !ok {
			t.Fatalf("missing requirement for ingredient %d", id)
		}
		if !r.Required.Equal(d(qty)) {
			t.Errorf("ingredient %d required %s, want %s", id, r.Required, qty)
		}
	}
}

func TestCollectShortfalls_ReportsEveryShortIngredient(t *testing.T) {
	reqs := []Requirement{
		{IngredientID: 1, IngredientCode: "BUN", Required: d("4"), Available: d("10")},
		{IngredientID: 2, IngredientCode: "PATTY", Required: d("4"), Available: d("1")},
		{IngredientID: 3, IngredientCode: "CHEESE", Required: d("8"), Available: decimal.Zero},
		{IngredientID: 4, IngredientCode: "LETTUCE", Required: d("0.12"), Available: d("0.12")},
	}
	got := collectShortfalls(reqs)
	if len(got) != 2 {
		t.Fatalf("expected 2 shortfalls, got %d: %+v", len(got), got)
	}
	if got[0].ProductCode != "PATTY" || !got[0].Missing.Equal(d("3")) {
		t.Errorf("unexpected first shortfall: %+v", got[0])
	}
	if got[1].ProductCode != "CHEESE" || !got[1].Missing.Equal(d("8")) {
		t.Errorf("unexpected second shortfall: %+v", got[1])
	}
}

func TestRecipeCost(t *testing.T) {
	items := []RecipeItem{
		{Quantity: d("1"), UnitCost: d("0.35")},
		{Quantity: d("1"), UnitCost: d("1.20")},
		{Quantity: d("0.05"), UnitCost: d("1.80")},
	}
	if got := recipeCost(items); !got.Equal(d("1.64")) {
		t.Errorf("got %s, want 1.64", got)
	}
}

func TestEffectiveAvailable(t *testing.T) {
	if got := effectiveAvailable(d("7"), false, nil); !got.Equal(d("7")) {
		t.Errorf("untracked: got %s, want product stock 7", got)
	}
	if got := effectiveAvailable(d("7"), true, nil); !got.IsZero() {
		t.Errorf("tracked with no lots here: got %s, want 0", got)
	}
	lots := []*Lot{
		{Quantity: d("3")},
		{Quantity: d("4"), ReservedQuantity: d("1")},
	}
	if got := effectiveAvailable(d("10"), true, lots); !got.Equal(d("6")) {
		t.Errorf("lot-tracked: got %s, want 6", got)
	}
	if got := effectiveAvailable(d("5"), true, lots); !got.Equal(d("5")) {
		t.Errorf("capped by product stock: got %s, want 5", got)
	}
}

func TestSortedRequirements_RoundsUpToStockScale(t *testing.T) {
	totals := map[int]*Requirement{}
	addRequirements(totals, []RecipeItem{
		{IngredientID: 9, IngredientCode: "SALT", Quantity: d("0.0125")},
		{IngredientID: 2, IngredientCode: "OIL", Quantity: d("0.0004")},
	}, d("1"))

	reqs := sortedRequirements(totals)
	if len(reqs) != 2 || reqs[0].IngredientID != 2 || reqs[1].IngredientID != 9 {
		t.Fatalf("expected ingredients 2 then 9, got %+v", reqs)
	}
	if !reqs[0].Required.Equal(d("0.001")) {
		t.Errorf("oil required %s, want 0.001", reqs[0].Required)
	}
	if !reqs[1].Required.Equal(d("0.013")) {
		t.Errorf("salt required %s, want 0.013", reqs[1].Required)
	}
	if !totals[9].Required.Equal(d("0.0125")) {
		t.Errorf("rounding must not touch the running totals, got %s", totals[9].Required)
	}
}
