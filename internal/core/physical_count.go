package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StartPhysicalCount opens a count at a location and snapshots the expected
// quantity of every active lot there. At the default location, products that
// are not lot-tracked anywhere are snapshotted at product level.
func (s *inventoryService) StartPhysicalCount(ctx context.Context, locationID int, actor Actor, notes string) (*PhysicalCount, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin physical count", err)
	}
	defer tx.Rollback(ctx)

	loc, err := resolveLocation(ctx, tx, &locationID)
	if err != nil {
		return nil, err
	}

	number, err := dailyNumberTx(ctx, tx, seqCount, "PC", s.now())
	if err != nil {
		return nil, err
	}

	var countID int
	err = tx.QueryRow(ctx, `
		INSERT INTO physical_counts (count_number, location_id, user_id, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, number, loc.ID, actorUserID(actor), notes).Scan(&countID)
	if err != nil {
		return nil, classifyStoreError("insert physical count", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO physical_count_items (count_id, product_id, lot_id, expected_quantity)
		SELECT $1, product_id, id, quantity
		FROM inventory_lots
		WHERE location_id = $2 AND is_active = true
		ORDER BY product_id, id
	`, countID, loc.ID)
	if err != nil {
		return nil, classifyStoreError("snapshot lot quantities", err)
	}

	if loc.IsDefault {
		_, err = tx.Exec(ctx, `
			INSERT INTO physical_count_items (count_id, product_id, lot_id, expected_quantity)
			SELECT $1, p.id, NULL, p.current_stock
			FROM products p
			WHERE p.is_active = true
			  AND p.has_recipe = false
			  AND NOT EXISTS (
			      SELECT 1 FROM inventory_lots il WHERE il.product_id = p.id AND il.is_active = true
			  )
			ORDER BY p.id
		`, countID)
		if err != nil {
			return nil, classifyStoreError("snapshot product quantities", err)
		}
	}

	count, err := loadPhysicalCount(ctx, tx, countID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit physical count", err)
	}

	s.logger.Info("physical count started",
		zap.String("count_number", number),
		zap.String("location", loc.Code),
		zap.Int("items", len(count.Items)))
	return count, nil
}

// RecordCountItem stores the counted quantity of one item. Completed counts
// reject edits.
func (s *inventoryService) RecordCountItem(ctx context.Context, countID, itemID int, actual decimal.Decimal) error {
	if actual.IsNegative() {
		return validationError("counted quantity cannot be negative, got %s", actual)
	}
	actual = actual.Round(StockScale)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyStoreError("begin count item", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockInProgressCount(ctx, tx, countID, "record"); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		"UPDATE physical_count_items SET actual_quantity = $1 WHERE id = $2 AND count_id = $3",
		actual, itemID, countID,
	)
	if err != nil {
		return classifyStoreError("record count item", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("count item", itemID)
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyStoreError("commit count item", err)
	}
	return nil
}

// CompletePhysicalCount reconciles the count: every counted item gets
// variance = actual - on hand now, and a non-zero variance is booked as a
// physical_count movement. Movements recorded while the count was open are
// already in the on-hand quantity, so the snapshot taken at start is only
// kept for reporting. Uncounted items are left alone. Completion is terminal.
func (s *inventoryService) CompletePhysicalCount(ctx context.Context, countID int, actor Actor) (*PhysicalCount, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin complete count", err)
	}
	defer tx.Rollback(ctx)

	count, err := lockInProgressCount(ctx, tx, countID, string(CountCompleted))
	if err != nil {
		return nil, err
	}

	var productIDs []int
	for _, item := range count.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	products := map[int]*Product{}
	if len(productIDs) > 0 {
		if products, err = lockProductsTx(ctx, tx, productIDs); err != nil {
			return nil, err
		}
	}

	var lotIDs []int
	for _, item := range count.Items {
		if item.ActualQuantity == nil {
			continue
		}
		onHand := products[item.ProductID].CurrentStock
		if item.LotID != nil {
			lot, err := lockLot(ctx, tx, *item.LotID)
			if err != nil {
				return nil, err
			}
			onHand = lot.Quantity
		}
		variance := countVariance(onHand, *item.ActualQuantity)

		var movementID *int64
		if !variance.IsZero() {
			reason := ReasonAdjustmentPositive
			if variance.IsNegative() {
				reason = ReasonAdjustmentNegative
			}
			req := MovementRequest{
				ProductID: item.ProductID,
				LotID:     item.LotID,
				Type:      MovementPhysicalCount,
				Reason:    reason,
				Quantity:  variance.Abs(),
				Reference: Reference{Type: "physical_count", ID: &count.ID, Number: count.CountNumber},
				Actor:     actor,
			}
			if item.LotID == nil {
				req.LocationID = &count.LocationID
			}
			res, err := s.RecordMovementTx(ctx, tx, req)
			if err != nil {
				return nil, fmt.Errorf("failed to reconcile count item %d: %w", item.ID, err)
			}
			id := res.Movements[0].ID
			movementID = &id
			if item.LotID != nil {
				lotIDs = append(lotIDs, *item.LotID)
			}
		}

		if _, err := tx.Exec(ctx,
			"UPDATE physical_count_items SET variance = $1, movement_id = $2 WHERE id = $3",
			variance, movementID, item.ID,
		); err != nil {
			return nil, classifyStoreError("update count item", err)
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE physical_counts SET status = 'completed', completed_at = NOW() WHERE id = $1",
		countID,
	); err != nil {
		return nil, classifyStoreError("complete physical count", err)
	}

	completed, err := loadPhysicalCount(ctx, tx, countID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit physical count", err)
	}

	s.logger.Info("physical count completed", zap.String("count_number", completed.CountNumber))
	s.afterCommit(ctx, productIDs, lotIDs)
	return completed, nil
}

func (s *inventoryService) GetPhysicalCount(ctx context.Context, countID int) (*PhysicalCount, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, classifyStoreError("begin read count", err)
	}
	defer tx.Rollback(ctx)
	return loadPhysicalCount(ctx, tx, countID, false)
}

func countVariance(onHand, actual decimal.Decimal) decimal.Decimal {
	return actual.Sub(onHand)
}

func lockInProgressCount(ctx context.Context, tx pgx.Tx, countID int, target string) (*PhysicalCount, error) {
	count, err := loadPhysicalCount(ctx, tx, countID, true)
	if err != nil {
		return nil, err
	}
	if count.Status != CountInProgress {
		return nil, &InvalidTransitionError{Entity: "physical count", ID: countID, From: string(count.Status), To: target}
	}
	return count, nil
}

func loadPhysicalCount(ctx context.Context, tx pgx.Tx, countID int, forUpdate bool) (*PhysicalCount, error) {
	query := `
		SELECT id, count_number, location_id, status, user_id, notes, created_at, completed_at
		FROM physical_counts
		WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var c PhysicalCount
	err := tx.QueryRow(ctx, query, countID).Scan(
		&c.ID, &c.CountNumber, &c.LocationID, &c.Status, &c.UserID, &c.Notes, &c.CreatedAt, &c.CompletedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("physical count", countID)
		}
		return nil, classifyStoreError("load physical count", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, count_id, product_id, lot_id, expected_quantity, actual_quantity, variance, movement_id
		FROM physical_count_items
		WHERE count_id = $1
		ORDER BY product_id, id
	`, countID)
	if err != nil {
		return nil, classifyStoreError("load count items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it PhysicalCountItem
		if err := rows.Scan(&it.ID, &it.CountID, &it.ProductID, &it.LotID, &it.ExpectedQuantity,
			&it.ActualQuantity, &it.Variance, &it.MovementID); err != nil {
			return nil, fmt.Errorf("failed to scan count item: %w", err)
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}
