package core

// orderTransitions is the single source of truth for who may move an order
// where: state → next state → roles allowed to take the edge.
var orderTransitions = map[OrderStatus]map[OrderStatus][]Role{
	OrderPending: {
		OrderPreparing: {RoleKitchen, RoleManager, RoleAdmin},
		OrderCancelled: {RoleWaiter, RoleManager, RoleAdmin},
	},
	OrderPreparing: {
		OrderReady:     {RoleKitchen, RoleManager, RoleAdmin},
		OrderCancelled: {RoleManager, RoleAdmin},
	},
	OrderReady: {
		OrderServed:    {RoleWaiter, RoleCashier, RoleManager, RoleAdmin},
		OrderCancelled: {RoleManager, RoleAdmin},
	},
}

var saleTransitions = map[SaleStatus]map[SaleStatus][]Role{
	SaleCompleted: {
		SaleRefunded: {RoleCashier, RoleManager, RoleAdmin},
	},
}

// CanTransition reports whether role may move an order from one state to another.
func CanTransition(from, to OrderStatus, role Role) bool {
	return roleAllowed(orderTransitions[from][to], role)
}

// AllowedTransitions lists the states role may move an order to from its current state.
func AllowedTransitions(from OrderStatus, role Role) []OrderStatus {
	var out []OrderStatus
	for _, to := range []OrderStatus{OrderPreparing, OrderReady, OrderServed, OrderCancelled} {
		if CanTransition(from, to, role) {
			out = append(out, to)
		}
	}
	return out
}

// checkOrderTransition returns an InvalidTransitionError for an unknown edge,
// and one wrapping ErrForbidden when the edge exists but the role may not take it.
func checkOrderTransition(orderID int, from, to OrderStatus, role Role) error {
	roles, ok := orderTransitions[from][to]
	if !ok {
		return &InvalidTransitionError{Entity: "order", ID: orderID, From: string(from), To: string(to)}
	}
	if !roleAllowed(roles, role) {
		return &InvalidTransitionError{Entity: "order", ID: orderID, From: string(from), To: string(to), Err: ErrForbidden}
	}
	return nil
}

func checkSaleTransition(saleID int, from, to SaleStatus, role Role) error {
	roles, ok := saleTransitions[from][to]
	if !ok {
		return &InvalidTransitionError{Entity: "sale", ID: saleID, From: string(from), To: string(to)}
	}
	if !roleAllowed(roles, role) {
		return &InvalidTransitionError{Entity: "sale", ID: saleID, From: string(from), To: string(to), Err: ErrForbidden}
	}
	return nil
}

func roleAllowed(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
