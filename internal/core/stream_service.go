package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ── Stream types ──────────────────────────────────────────────────────────────

// MovementFilter narrows the movement stream. Zero values mean no bound.
type MovementFilter struct {
	From       time.Time
	To         time.Time
	ProductID  int
	LocationID int
	// AfterID resumes the stream after the last movement a consumer has seen.
	AfterID int64
	Limit   int
}

type CashMovementFilter struct {
	From      time.Time
	To        time.Time
	SessionID int
	AfterID   int64
	Limit     int
}

// StockDrift is a product whose stored stock disagrees with its movement log.
type StockDrift struct {
	ProductID   int             `json:"product_id"`
	ProductCode string          `json:"product_code"`
	Stored      decimal.Decimal `json:"stored"`
	Replayed    decimal.Decimal `json:"replayed"`
	// ChainBreaks counts movements whose previous_stock does not equal the
	// new_stock of the movement before them.
	ChainBreaks int `json:"chain_breaks"`
	// QuantityMismatches counts movements whose signed quantity differs from
	// new_stock - previous_stock.
	QuantityMismatches int `json:"quantity_mismatches"`
}

// ReplayReport is the result of recomputing every product's stock from its
// movements in ledger order.
type ReplayReport struct {
	Products  int          `json:"products"`
	Movements int          `json:"movements"`
	Drift     []StockDrift `json:"drift"`
}

// Consistent is true when every product replays to its stored stock.
func (r *ReplayReport) Consistent() bool { return len(r.Drift) == 0 }

// ── Interface ─────────────────────────────────────────────────────────────────

// StreamService exposes the append-only ledgers to downstream reporting
// consumers. It never writes.
type StreamService interface {
	// ListMovements returns inventory movements in ledger (id) order.
	ListMovements(ctx context.Context, f MovementFilter) ([]Movement, error)

	// ListCashMovements returns cash movements in ledger (id) order.
	ListCashMovements(ctx context.Context, f CashMovementFilter) ([]CashMovement, error)

	// ReplayStock folds each product's signed movement quantities and compares the
	// result to products.current_stock.
	ReplayStock(ctx context.Context) (*ReplayReport, error)
}

// ── Implementation ────────────────────────────────────────────────────────────

type streamService struct {
	pool *pgxpool.Pool
}

// NewStreamService constructs a StreamService backed by the given pool.
func NewStreamService(pool *pgxpool.Pool) StreamService {
	return &streamService{pool: pool}
}

const defaultStreamLimit = 1000

const movementColumns = `id, product_id, lot_id, location_id, user_id, movement_type, reason, quantity,
	previous_stock, new_stock, unit_cost, total_cost, reference_type, reference_id, reference_number, notes, created_at`

func scanMovement(row pgx.Row) (*Movement, error) {
	var m Movement
	var refType, refNumber *string
	if err := row.Scan(
		&m.ID, &m.ProductID, &m.LotID, &m.LocationID, &m.UserID, &m.Type, &m.Reason, &m.Quantity,
		&m.PreviousStock, &m.NewStock, &m.UnitCost, &m.TotalCost, &refType, &m.Reference.ID, &refNumber,
		&m.Notes, &m.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan movement: %w", err)
	}
	if refType != nil {
		m.Reference.Type = *refType
	}
	if refNumber != nil {
		m.Reference.Number = *refNumber
	}
	return &m, nil
}

// ── ListMovements ─────────────────────────────────────────────────────────────

func (s *streamService) ListMovements(ctx context.Context, f MovementFilter) ([]Movement, error) {
	q := "SELECT " + movementColumns + " FROM inventory_movements WHERE id > $1"
	args := []any{f.AfterID}
	if !f.From.IsZero() {
		args = append(args, f.From)
		q += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		q += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if f.ProductID > 0 {
		args = append(args, f.ProductID)
		q += fmt.Sprintf(" AND product_id = $%d", len(args))
	}
	if f.LocationID > 0 {
		args = append(args, f.LocationID)
		q += fmt.Sprintf(" AND location_id = $%d", len(args))
	}
	args = append(args, streamLimit(f.Limit))
	q += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("movement row iteration error: %w", err)
	}
	return movements, nil
}

// ── ListCashMovements ─────────────────────────────────────────────────────────

func (s *streamService) ListCashMovements(ctx context.Context, f CashMovementFilter) ([]CashMovement, error) {
	q := `SELECT id, session_id, user_id, movement_type, amount, description, reference, created_at
		FROM cash_movements WHERE id > $1`
	args := []any{f.AfterID}
	if !f.From.IsZero() {
		args = append(args, f.From)
		q += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		q += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if f.SessionID > 0 {
		args = append(args, f.SessionID)
		q += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	args = append(args, streamLimit(f.Limit))
	q += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash movements: %w", err)
	}
	defer rows.Close()

	var movements []CashMovement
	for rows.Next() {
		m, err := scanCashMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cash movement row iteration error: %w", err)
	}
	return movements, nil
}

// ── ReplayStock ───────────────────────────────────────────────────────────────

// ReplayStock reads inside a repeatable-read snapshot so concurrent writers
// cannot make products and movements disagree mid-read.
func (s *streamService) ReplayStock(ctx context.Context) (*ReplayReport, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin replay: %w", err)
	}
	defer tx.Rollback(ctx)

	type product struct {
		code   string
		stored decimal.Decimal
	}
	products := map[int]product{}
	var order []int

	prows, err := tx.Query(ctx, "SELECT id, code, current_stock FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	for prows.Next() {
		var id int
		var p product
		if err := prows.Scan(&id, &p.code, &p.stored); err != nil {
			prows.Close()
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[id] = p
		order = append(order, id)
	}
	prows.Close()
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("product row iteration error: %w", err)
	}

	mrows, err := tx.Query(ctx, `
		SELECT product_id, movement_type, reason, quantity, previous_stock, new_stock
		FROM inventory_movements
		ORDER BY product_id, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer mrows.Close()

	report := &ReplayReport{Products: len(products)}
	replayed := map[int]decimal.Decimal{}
	last := map[int]decimal.Decimal{}
	breaks := map[int]int{}
	mismatches := map[int]int{}
	for mrows.Next() {
		var productID int
		var m Movement
		if err := mrows.Scan(&productID, &m.Type, &m.Reason, &m.Quantity, &m.PreviousStock, &m.NewStock); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		report.Movements++
		if prev, ok := last[productID]; ok && !prev.Equal(m.PreviousStock) {
			breaks[productID]++
		}
		signed, err := m.SignedQuantity()
		if err != nil {
			return nil, fmt.Errorf("movement of product %d: %w", productID, err)
		}
		if !signed.Equal(m.Delta()) {
			mismatches[productID]++
		}
		replayed[productID] = replayed[productID].Add(signed)
		last[productID] = m.NewStock
	}
	if err := mrows.Err(); err != nil {
		return nil, fmt.Errorf("movement row iteration error: %w", err)
	}

	for _, id := range order {
		p := products[id]
		r := replayed[id]
		if !r.Equal(p.stored) || breaks[id] > 0 || mismatches[id] > 0 {
			report.Drift = append(report.Drift, StockDrift{
				ProductID:          id,
				ProductCode:        p.code,
				Stored:             p.stored,
				Replayed:           r,
				ChainBreaks:        breaks[id],
				QuantityMismatches: mismatches[id],
			})
		}
	}
	return report, nil
}

func streamLimit(n int) int {
	if n <= 0 || n > defaultStreamLimit {
		return defaultStreamLimit
	}
	return n
}
