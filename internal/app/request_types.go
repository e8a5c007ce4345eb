package app

import "pos-ledger/internal/core"

// AdvanceOrderRequest is the input for moving an order along its lifecycle.
type AdvanceOrderRequest struct {
	OrderID int
	Target  core.OrderStatus
	Actor   core.Actor
	// RegisterID selects the drawer a served order settles into. Zero means
	// the configured default register.
	RegisterID int
	// PaymentMethodCode is resolved against the active payment methods.
	// Empty means cash.
	PaymentMethodCode string
	LocationID        *int
}
