package core

import (
	"testing"
	"time"
)

func TestExpectedAmount(t *testing.T) {
	movements := []CashMovement{
		{Type: CashOpening, Amount: d("100")},
		{Type: CashSale, Amount: d("45.50")},
		{Type: CashSale, Amount: d("12.00")},
		{Type: CashDeposit, Amount: d("20")},
		{Type: CashRefund, Amount: d("12.00")},
		{Type: CashExpense, Amount: d("8.25")},
		{Type: CashWithdrawal, Amount: d("50")},
		{Type: CashClosing, Amount: d("999")},
	}
	// 100 + 45.50 + 12 + 20 - 12 - 8.25 - 50 = 107.25
	got := ExpectedAmount(d("100"), movements)
	if !got.Equal(d("107.25")) {
		t.Errorf("expected 107.25, got %s", got)
	}
}

func TestExpectedAmount_OpeningOnly(t *testing.T) {
	if got := ExpectedAmount(d("80"), nil); !got.Equal(d("80")) {
		t.Errorf("got %s, want 80", got)
	}
}

func TestSessionNumber(t *testing.T) {
	day := time.Date(2026, 2, 3, 18, 0, 0, 0, time.UTC)
	if got := SessionNumber(day, 1, 2); got != "S20260203-01-02" {
		t.Errorf("got %q", got)
	}
	if got := SessionNumber(day, 12, 105); got != "S20260203-12-105" {
		t.Errorf("got %q", got)
	}
}

func TestRegisterMovementTypes(t *testing.T) {
	for _, typ := range []CashMovementType{CashOpening, CashClosing} {
		if registerMovementTypes[typ] {
			t.Errorf("%s must only be written by session open/close", typ)
		}
	}
	for _, typ := range []CashMovementType{CashSale, CashRefund, CashExpense, CashWithdrawal, CashDeposit} {
		if !registerMovementTypes[typ] {
			t.Errorf("%s should be accepted by RegisterMovement", typ)
		}
	}
}
