package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type CashMovementType string

const (
	CashOpening    CashMovementType = "opening"
	CashClosing    CashMovementType = "closing"
	CashSale       CashMovementType = "sale"
	CashRefund     CashMovementType = "refund"
	CashExpense    CashMovementType = "expense"
	CashWithdrawal CashMovementType = "withdrawal"
	CashDeposit    CashMovementType = "deposit"
)

type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

type Register struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// CashSession brackets the cash handled on one register by one user. At most
// one session per register is open at any time.
type CashSession struct {
	ID             int              `json:"id"`
	RegisterID     int              `json:"register_id"`
	UserID         int              `json:"user_id"`
	SessionNumber  string           `json:"session_number"`
	OpeningAmount  decimal.Decimal  `json:"opening_amount"`
	ClosingAmount  *decimal.Decimal `json:"closing_amount,omitempty"`
	ExpectedAmount *decimal.Decimal `json:"expected_amount,omitempty"`
	Difference     *decimal.Decimal `json:"difference,omitempty"`
	Status         SessionStatus    `json:"status"`
	OpeningNotes   string           `json:"opening_notes"`
	ClosingNotes   string           `json:"closing_notes"`
	OpenedAt       time.Time        `json:"opened_at"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
}

// CashMovement is an immutable cash ledger entry. Amount is a positive
// magnitude; its sign comes from Type.
type CashMovement struct {
	ID          int64            `json:"id"`
	SessionID   int              `json:"session_id"`
	UserID      *int             `json:"user_id,omitempty"`
	Type        CashMovementType `json:"movement_type"`
	Amount      decimal.Decimal  `json:"amount"`
	Description string           `json:"description"`
	Reference   string           `json:"reference,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type OpenSessionRequest struct {
	RegisterID    int
	OpeningAmount decimal.Decimal
	Notes         string
	Actor         Actor
}

type CloseSessionRequest struct {
	SessionID     int
	ClosingAmount decimal.Decimal
	Notes         string
	Actor         Actor
}

type CashMovementRequest struct {
	SessionID   int
	Type        CashMovementType
	Amount      decimal.Decimal
	Description string
	Reference   string
	Actor       Actor
}

// ExpectedAmount derives the cash that should be in the drawer purely from
// the movement log:
//
//	opening + sale + deposit - refund - expense - withdrawal
//
// opening and closing rows are bookkeeping and do not count.
func ExpectedAmount(opening decimal.Decimal, movements []CashMovement) decimal.Decimal {
	expected := opening
	for _, m := range movements {
		switch m.Type {
		case CashSale, CashDeposit:
			expected = expected.Add(m.Amount)
		case CashRefund, CashExpense, CashWithdrawal:
			expected = expected.Sub(m.Amount)
		}
	}
	return expected
}

// SessionNumber formats S{yyyyMMdd}-{registerId:02d}-{dailySeq:02d}.
func SessionNumber(day time.Time, registerID int, seq int64) string {
	return fmt.Sprintf("S%s-%02d-%02d", day.Format("20060102"), registerID, seq)
}

// registerMovementTypes are the types RegisterMovement accepts. opening and
// closing are written only by OpenSession and CloseSession.
var registerMovementTypes = map[CashMovementType]bool{
	CashSale:       true,
	CashRefund:     true,
	CashExpense:    true,
	CashWithdrawal: true,
	CashDeposit:    true,
}
