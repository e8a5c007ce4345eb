package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var (
	ErrSessionAlreadyOpen = errors.New("cash register already has an open session")
	ErrSessionClosed      = errors.New("cash session is closed")
	// ErrNoOpenSession is returned by checkout when the register policy
	// requires an open session and none exists.
	ErrNoOpenSession = errors.New("no open cash session for register")
	ErrForbidden     = errors.New("actor role is not allowed to perform this action")
	ErrValidation    = errors.New("validation failed")
	ErrTransient     = errors.New("transient store failure")
)

// Shortfall describes one product that cannot cover a requested quantity.
type Shortfall struct {
	ProductID   int             `json:"product_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	LotID       *int            `json:"lot_id,omitempty"`
	Required    decimal.Decimal `json:"required"`
	Available   decimal.Decimal `json:"available"`
	Missing     decimal.Decimal `json:"missing"`
}

// InsufficientStockError carries every shortfall found, never just the first.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s: required %s, available %s",
			s.ProductCode, s.Required.String(), s.Available.String()))
	}
	return "insufficient stock (" + strings.Join(parts, "; ") + ")"
}

type TableOccupiedError struct {
	TableID int
	OrderID int
}

func (e *TableOccupiedError) Error() string {
	if e.OrderID > 0 {
		return fmt.Sprintf("table %d is occupied by active order %d", e.TableID, e.OrderID)
	}
	return fmt.Sprintf("table %d is occupied", e.TableID)
}

// InvalidTransitionError reports misuse of the order, sale, session or count
// state machines. Err is set when the edge exists but the actor may not take it.
type InvalidTransitionError struct {
	Entity string
	ID     int
	From   string
	To     string
	Err    error
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("%s %d cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func notFound(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

// TransientError wraps contention and timeout failures from the store. The
// caller may retry the whole operation once.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient store failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Postgres SQLSTATE codes treated as retryable or as constraint backstops.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// classifyStoreError turns store contention into a TransientError and leaves
// every other error untouched.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Op: op, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled:
			return &TransientError{Op: op, Err: err}
		}
	}
	return err
}

// isConstraintViolation reports whether err is a unique or check violation on
// the named constraint or index.
func isConstraintViolation(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == code && (constraint == "" || pgErr.ConstraintName == constraint)
}
