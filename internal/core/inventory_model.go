package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type MovementType string

const (
	MovementInbound       MovementType = "inbound"
	MovementOutbound      MovementType = "outbound"
	MovementAdjustment    MovementType = "adjustment"
	MovementTransfer      MovementType = "transfer"
	MovementReturn        MovementType = "return"
	MovementShrinkage     MovementType = "shrinkage"
	MovementExpiry        MovementType = "expiry"
	MovementPhysicalCount MovementType = "physical_count"
)

// Movement reasons. Adjustments, transfers and count reconciliations take
// their direction from the reason.
const (
	ReasonPurchase           = "purchase"
	ReasonInitialStock       = "initial_stock"
	ReasonSale               = "sale"
	ReasonCustomerReturn     = "customer_return"
	ReasonDamaged            = "damaged"
	ReasonExpired            = "expired"
	ReasonAdjustmentPositive = "adjustment_positive"
	ReasonAdjustmentNegative = "adjustment_negative"
	ReasonTransferIn         = "transfer_in"
	ReasonTransferOut        = "transfer_out"
)

// StockScale is the number of decimal places stored for every stock quantity.
const StockScale int32 = 3

// stockQuantity rounds q to StockScale. A quantity that rounds to zero or
// below is a validation error.
func stockQuantity(what string, q decimal.Decimal) (decimal.Decimal, error) {
	r := q.Round(StockScale)
	if !r.IsPositive() {
		return decimal.Zero, validationError("%s must be at least %s, got %s", what, decimal.New(1, -StockScale), q)
	}
	return r, nil
}

// Direction returns +1 for movements that add stock and -1 for movements that
// remove it.
func Direction(t MovementType, reason string) (int, error) {
	switch t {
	case MovementInbound, MovementReturn:
		return 1, nil
	case MovementOutbound, MovementShrinkage, MovementExpiry:
		return -1, nil
	case MovementAdjustment, MovementPhysicalCount, MovementTransfer:
		switch reason {
		case ReasonAdjustmentPositive, ReasonTransferIn:
			return 1, nil
		case ReasonAdjustmentNegative, ReasonTransferOut:
			return -1, nil
		}
		return 0, validationError("movement type %s needs a positive or negative reason, got %q", t, reason)
	}
	return 0, validationError("unknown movement type %q", t)
}

// Lot is a traceable batch of one product at one location.
type Lot struct {
	ID                int             `json:"id"`
	ProductID         int             `json:"product_id"`
	LocationID        int             `json:"location_id"`
	LotNumber         string          `json:"lot_number"`
	SupplierLotRef    string          `json:"supplier_lot_ref"`
	Quantity          decimal.Decimal `json:"quantity"`
	ReservedQuantity  decimal.Decimal `json:"reserved_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	ExpirationDate    *time.Time      `json:"expiration_date,omitempty"`
	ManufacturingDate *time.Time      `json:"manufacturing_date,omitempty"`
	IsActive          bool            `json:"is_active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Available is quantity minus reserved quantity.
func (l *Lot) Available() decimal.Decimal {
	return l.Quantity.Sub(l.ReservedQuantity)
}

// DaysUntilExpiry counts whole calendar days from now to the expiration date.
// ok is false when the lot has no expiration date.
func (l *Lot) DaysUntilExpiry(now time.Time) (days int, ok bool) {
	if l.ExpirationDate == nil {
		return 0, false
	}
	exp := l.ExpirationDate
	expDay := time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(expDay.Sub(today).Hours() / 24), true
}

// Reference links a movement to the document that caused it.
type Reference struct {
	Type   string `json:"type,omitempty"`
	ID     *int   `json:"id,omitempty"`
	Number string `json:"number,omitempty"`
}

// Movement is an immutable inventory ledger entry. Quantity is always a
// positive magnitude; its sign comes from the type and reason.
type Movement struct {
	ID            int64            `json:"id"`
	ProductID     int              `json:"product_id"`
	LotID         *int             `json:"lot_id,omitempty"`
	LocationID    int              `json:"location_id"`
	UserID        *int             `json:"user_id,omitempty"`
	Type          MovementType     `json:"movement_type"`
	Reason        string           `json:"reason"`
	Quantity      decimal.Decimal  `json:"quantity"`
	PreviousStock decimal.Decimal  `json:"previous_stock"`
	NewStock      decimal.Decimal  `json:"new_stock"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
	TotalCost     *decimal.Decimal `json:"total_cost,omitempty"`
	Reference     Reference        `json:"reference"`
	Notes         string           `json:"notes"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Delta is the signed stock change the movement applied.
func (m *Movement) Delta() decimal.Decimal {
	return m.NewStock.Sub(m.PreviousStock)
}

// SignedQuantity is Quantity with the sign of its direction. For a well
// formed row it equals Delta.
func (m *Movement) SignedQuantity() (decimal.Decimal, error) {
	dir, err := Direction(m.Type, m.Reason)
	if err != nil {
		return decimal.Zero, err
	}
	if dir < 0 {
		return m.Quantity.Neg(), nil
	}
	return m.Quantity, nil
}

type MovementRequest struct {
	ProductID int
	// LotID pins the movement to one lot. Outbound movements without a lot
	// draw the location's lots first-expired-first-out.
	LotID *int
	// LocationID defaults to the default location.
	LocationID *int
	Type       MovementType
	Reason     string
	Quantity   decimal.Decimal
	UnitCost   *decimal.Decimal
	Reference  Reference
	Notes      string
	Actor      Actor
}

// MovementResult holds every movement row written for one request. An
// unpinned outbound movement writes one row per lot drawn.
type MovementResult struct {
	ProductID     int             `json:"product_id"`
	PreviousStock decimal.Decimal `json:"previous_stock"`
	NewStock      decimal.Decimal `json:"new_stock"`
	Movements     []Movement      `json:"movements"`
}

func (r *MovementResult) lotIDs() []int {
	var ids []int
	for _, m := range r.Movements {
		if m.LotID != nil {
			ids = append(ids, *m.LotID)
		}
	}
	return ids
}

type ReceiveRequest struct {
	ProductID  int
	LocationID *int
	// LotNumber defaults to a per-day lot, so same-day receipts top up one lot.
	LotNumber         string
	SupplierLotRef    string
	Quantity          decimal.Decimal
	UnitCost          decimal.Decimal
	ExpirationDate    *time.Time
	ManufacturingDate *time.Time
	// Reason is purchase or initial_stock.
	Reason    string
	Reference Reference
	Notes     string
	Actor     Actor
}

type ReceiveResult struct {
	Lot      Lot             `json:"lot"`
	Movement Movement        `json:"movement"`
	NewCost  decimal.Decimal `json:"new_cost"`
}

type TransferRequest struct {
	ProductID      int
	LotID          *int
	Quantity       decimal.Decimal
	FromLocationID int
	ToLocationID   int
	Notes          string
	Actor          Actor
}

// TransferResult lists the paired movements. Every pair shares ReferenceNumber.
type TransferResult struct {
	ReferenceNumber string     `json:"reference_number"`
	Outbound        []Movement `json:"outbound"`
	Inbound         []Movement `json:"inbound"`
}

// StockLevel is the lot quantity of a product at one location.
type StockLevel struct {
	ProductID    int             `json:"product_id"`
	ProductCode  string          `json:"product_code"`
	ProductName  string          `json:"product_name"`
	LocationID   int             `json:"location_id"`
	LocationCode string          `json:"location_code"`
	OnHand       decimal.Decimal `json:"on_hand"`
	Reserved     decimal.Decimal `json:"reserved"`
	Available    decimal.Decimal `json:"available"` // = OnHand - Reserved
	UnitCost     decimal.Decimal `json:"unit_cost"`
}

type CountStatus string

const (
	CountInProgress CountStatus = "in_progress"
	CountCompleted  CountStatus = "completed"
)

type PhysicalCount struct {
	ID          int                 `json:"id"`
	CountNumber string              `json:"count_number"`
	LocationID  int                 `json:"location_id"`
	Status      CountStatus         `json:"status"`
	UserID      *int                `json:"user_id,omitempty"`
	Notes       string              `json:"notes"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Items       []PhysicalCountItem `json:"items"`
}

type PhysicalCountItem struct {
	ID               int              `json:"id"`
	CountID          int              `json:"count_id"`
	ProductID        int              `json:"product_id"`
	LotID            *int             `json:"lot_id,omitempty"`
	ExpectedQuantity decimal.Decimal  `json:"expected_quantity"`
	ActualQuantity   *decimal.Decimal `json:"actual_quantity,omitempty"`
	Variance         *decimal.Decimal `json:"variance,omitempty"`
	MovementID       *int64           `json:"movement_id,omitempty"`
}
