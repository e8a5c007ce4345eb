package core

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		role     Role
		want     bool
	}{
		{OrderPending, OrderPreparing, RoleKitchen, true},
		{OrderPending, OrderPreparing, RoleWaiter, false},
		{OrderPending, OrderCancelled, RoleWaiter, true},
		{OrderPreparing, OrderReady, RoleKitchen, true},
		{OrderPreparing, OrderCancelled, RoleWaiter, false},
		{OrderPreparing, OrderCancelled, RoleManager, true},
		{OrderReady, OrderServed, RoleWaiter, true},
		{OrderReady, OrderServed, RoleCashier, true},
		{OrderReady, OrderServed, RoleKitchen, false},
		{OrderReady, OrderCancelled, RoleAdmin, true},
		{OrderPending, OrderServed, RoleAdmin, false},
		{OrderServed, OrderCancelled, RoleAdmin, false},
		{OrderCancelled, OrderPending, RoleAdmin, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to, tt.role); got != tt.want {
			t.Errorf("CanTransition(%s, %s, %s) = %v, want %v", tt.from, tt.to, tt.role, got, tt.want)
		}
	}
}

func TestAllowedTransitions(t *testing.T) {
	got := AllowedTransitions(OrderPending, RoleManager)
	if len(got) != 2 || got[0] != OrderPreparing || got[1] != OrderCancelled {
		t.Errorf("manager from pending: got %v", got)
	}
	if got := AllowedTransitions(OrderServed, RoleAdmin); len(got) != 0 {
		t.Errorf("served is terminal, got %v", got)
	}
	if got := AllowedTransitions(OrderReady, RoleKitchen); len(got) != 0 {
		t.Errorf("kitchen cannot move a ready order, got %v", got)
	}
}

func TestCheckOrderTransition_Errors(t *testing.T) {
	err := checkOrderTransition(7, OrderPending, OrderServed, RoleAdmin)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if errors.Is(err, ErrForbidden) {
		t.Error("unknown edge must not be reported as forbidden")
	}
	if ite.ID != 7 || ite.From != "pending" || ite.To != "served" {
		t.Errorf("unexpected error fields: %+v", ite)
	}

	err = checkOrderTransition(7, OrderPending, OrderPreparing, RoleWaiter)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if !errors.As(err, &ite) {
		t.Fatal("forbidden error should still be an InvalidTransitionError")
	}

	if err := checkOrderTransition(7, OrderPending, OrderPreparing, RoleKitchen); err != nil {
		t.Errorf("kitchen should start preparing: %v", err)
	}
}

func TestCheckSaleTransition(t *testing.T) {
	if err := checkSaleTransition(1, SaleCompleted, SaleRefunded, RoleCashier); err != nil {
		t.Errorf("cashier refund: %v", err)
	}
	if err := checkSaleTransition(1, SaleCompleted, SaleRefunded, RoleWaiter); !errors.Is(err, ErrForbidden) {
		t.Errorf("waiter refund: expected ErrForbidden, got %v", err)
	}
	if err := checkSaleTransition(1, SaleRefunded, SaleRefunded, RoleAdmin); err == nil {
		t.Error("refunding twice must fail")
	}
	if err := checkSaleTransition(1, SalePending, SaleRefunded, RoleAdmin); err == nil {
		t.Error("refunding a pending sale must fail")
	}
}
