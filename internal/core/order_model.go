package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus progresses through the kitchen state machine:
//
//	pending → preparing → ready → served
//	pending | preparing | ready → cancelled
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderServed    OrderStatus = "served"
	OrderCancelled OrderStatus = "cancelled"
)

// Active reports whether the order still holds its table.
func (s OrderStatus) Active() bool {
	return s == OrderPending || s == OrderPreparing || s == OrderReady
}

type TableStatus string

const (
	TableFree     TableStatus = "free"
	TableOccupied TableStatus = "occupied"
)

type SaleStatus string

const (
	SalePending   SaleStatus = "pending"
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
	SaleRefunded  SaleStatus = "refunded"
)

type Table struct {
	ID        int         `json:"id"`
	Number    int         `json:"number"`
	Name      string      `json:"name"`
	Capacity  int         `json:"capacity"`
	Status    TableStatus `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type Order struct {
	ID                int             `json:"id"`
	OrderNumber       string          `json:"order_number"`
	TableID           int             `json:"table_id"`
	TableNumber       int             `json:"table_number"` // joined from dining_tables
	WaiterID          int             `json:"waiter_id"`
	Status            OrderStatus     `json:"status"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Total             decimal.Decimal `json:"total"`
	Notes             string          `json:"notes"`
	KitchenStartedAt  *time.Time      `json:"kitchen_started_at,omitempty"`
	KitchenFinishedAt *time.Time      `json:"kitchen_finished_at,omitempty"`
	ServedAt          *time.Time      `json:"served_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Items             []OrderItem     `json:"items"`
}

// OrderItem status mirrors the kitchen progress of its order.
type OrderItem struct {
	ID          int             `json:"id"`
	OrderID     int             `json:"order_id"`
	ProductID   int             `json:"product_id"`
	ProductCode string          `json:"product_code"` // joined from products
	ProductName string          `json:"product_name"` // joined from products
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	Status      OrderStatus     `json:"status"`
	Notes       string          `json:"notes"`
}

// Sale is the monetary settlement of an order. It is opened as pending with
// the order and becomes immutable once completed, except for a refund.
type Sale struct {
	ID              int             `json:"id"`
	SaleNumber      string          `json:"sale_number"`
	OrderID         *int            `json:"order_id,omitempty"`
	SessionID       *int            `json:"session_id,omitempty"`
	PaymentMethodID *int            `json:"payment_method_id,omitempty"`
	UserID          int             `json:"user_id"`
	Status          SaleStatus      `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Total           decimal.Decimal `json:"total"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	RefundedAt      *time.Time      `json:"refunded_at,omitempty"`
	Items           []SaleItem      `json:"items"`
}

type SaleItem struct {
	ID        int             `json:"id"`
	SaleID    int             `json:"sale_id"`
	ProductID int             `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type PaymentMethod struct {
	ID       int    `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsCash   bool   `json:"is_cash"`
	IsActive bool   `json:"is_active"`
}

// OrderItemInput is one requested line. A zero UnitPrice means the catalog price.
type OrderItemInput struct {
	ProductID int
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Notes     string
}

type CreateOrderRequest struct {
	TableID int
	Items   []OrderItemInput
	Notes   string
	Actor   Actor
}

// CheckoutOptions carries the register policy into the serve boundary.
type CheckoutOptions struct {
	// RequireOpenRegister makes serving fail with ErrNoOpenSession unless
	// RegisterID has an open session.
	RequireOpenRegister bool
	RegisterID          int
	// PaymentMethodID defaults to cash. Non-cash settlements write no cash movement.
	PaymentMethodID *int
	// LocationID is where ingredients are drawn; defaults to the default location.
	LocationID *int
}
