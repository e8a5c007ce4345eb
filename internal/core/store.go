package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxRowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx (for Query).
type pgxRowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgxReader interface {
	pgxQuerier
	pgxRowQuerier
}

const productColumns = `id, code, name, unit, price, cost, current_stock, min_stock, max_stock,
	is_composite, has_recipe, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.Price, &p.Cost, &p.CurrentStock,
		&p.MinStock, &p.MaxStock, &p.IsComposite, &p.HasRecipe, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// lockProductsTx locks product rows in ascending id order so that concurrent
// multi-product writers always acquire locks in the same sequence.
func lockProductsTx(ctx context.Context, tx pgx.Tx, ids []int) (map[int]*Product, error) {
	unique := uniqueSorted(ids)
	rows, err := tx.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, unique)
	if err != nil {
		return nil, classifyStoreError("lock products", err)
	}
	defer rows.Close()

	locked := make(map[int]*Product, len(unique))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		locked[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("lock products", err)
	}
	for _, id := range unique {
		if _, ok := locked[id]; !ok {
			return nil, notFound("product", id)
		}
	}
	return locked, nil
}

func uniqueSorted(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// Numbering scopes for ledger_sequences.
const (
	seqSession  = "cash_session"
	seqOrder    = "order"
	seqSale     = "sale"
	seqTransfer = "transfer"
	seqCount    = "physical_count"
)

// nextSequenceTx returns the next gapless number for (scope, periodKey).
// The upsert takes a row lock, so two transactions numbering the same scope
// serialize and a rollback releases the number.
func nextSequenceTx(ctx context.Context, tx pgx.Tx, scope, periodKey string) (int64, error) {
	var next int64
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger_sequences (scope, period_key, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (scope, period_key)
		DO UPDATE SET last_number = ledger_sequences.last_number + 1
		RETURNING last_number
	`, scope, periodKey).Scan(&next)
	if err != nil {
		return 0, classifyStoreError("next sequence", err)
	}
	return next, nil
}

// dailyNumberTx formats "{prefix}{yyyyMMdd}-{seq:04d}" from the daily sequence of scope.
func dailyNumberTx(ctx context.Context, tx pgx.Tx, scope, prefix string, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := nextSequenceTx(ctx, tx, scope, day)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s-%04d", prefix, day, seq), nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
