package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InventoryService is the single write path for stock. Every quantity change
// goes through a movement row written in the same transaction as the
// denormalized product and lot quantities.
type InventoryService interface {
	// Standalone operations (manage their own transactions).
	RecordMovement(ctx context.Context, req MovementRequest) (*MovementResult, error)
	// ReceiveStock books an inbound receipt into a lot and moves the product
	// cost to the weighted average.
	ReceiveStock(ctx context.Context, req ReceiveRequest) (*ReceiveResult, error)
	TransferStock(ctx context.Context, req TransferRequest) (*TransferResult, error)
	ListLocations(ctx context.Context) ([]Location, error)
	GetDefaultLocation(ctx context.Context) (*Location, error)
	ListLots(ctx context.Context, productID int) ([]Lot, error)
	DeactivateLot(ctx context.Context, lotID int) error
	GetStockLevels(ctx context.Context) ([]StockLevel, error)
	GetLocationStock(ctx context.Context, productID, locationID int) (decimal.Decimal, error)

	// Alerts.
	EvaluateAlerts(ctx context.Context, productIDs, lotIDs []int) ([]Alert, error)
	ListAlerts(ctx context.Context, status AlertStatus) ([]Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID int64, actor Actor) (*Alert, error)
	ScanExpirations(ctx context.Context) ([]Alert, error)
	ExpireLots(ctx context.Context, actor Actor) ([]MovementResult, error)

	// Physical counts.
	StartPhysicalCount(ctx context.Context, locationID int, actor Actor, notes string) (*PhysicalCount, error)
	RecordCountItem(ctx context.Context, countID, itemID int, actual decimal.Decimal) error
	CompletePhysicalCount(ctx context.Context, countID int, actor Actor) (*PhysicalCount, error)
	GetPhysicalCount(ctx context.Context, countID int) (*PhysicalCount, error)

	// TX-scoped operations: work within a caller-provided transaction.
	// Used by the recipe resolver and the order pipeline so consumption
	// commits with the order state change.
	RecordMovementTx(ctx context.Context, tx pgx.Tx, req MovementRequest) (*MovementResult, error)
}

type inventoryService struct {
	pool      *pgxpool.Pool
	publisher AlertPublisher
	warnDays  int
	logger    *zap.Logger
	now       func() time.Time
}

// NewInventoryService wires the inventory ledger. publisher may be nil, in
// which case raised alerts are only stored.
func NewInventoryService(pool *pgxpool.Pool, publisher AlertPublisher, expiryWarningDays int, logger *zap.Logger) InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if expiryWarningDays <= 0 {
		expiryWarningDays = DefaultExpiryWarningDays
	}
	return &inventoryService{
		pool:      pool,
		publisher: publisher,
		warnDays:  expiryWarningDays,
		logger:    logger.Named("inventory"),
		now:       time.Now,
	}
}

const lotColumns = `id, product_id, location_id, lot_number, supplier_lot_ref, quantity, reserved_quantity,
	unit_cost, expiration_date, manufacturing_date, is_active, created_at, updated_at`

func scanLot(row pgx.Row) (*Lot, error) {
	var l Lot
	err := row.Scan(&l.ID, &l.ProductID, &l.LocationID, &l.LotNumber, &l.SupplierLotRef, &l.Quantity,
		&l.ReservedQuantity, &l.UnitCost, &l.ExpirationDate, &l.ManufacturingDate, &l.IsActive,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ── Standalone operations ─────────────────────────────────────────────────────

func (s *inventoryService) RecordMovement(ctx context.Context, req MovementRequest) (*MovementResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin movement", err)
	}
	defer tx.Rollback(ctx)

	result, err := s.RecordMovementTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit movement", err)
	}

	s.afterCommit(ctx, []int{result.ProductID}, result.lotIDs())
	return result, nil
}

func (s *inventoryService) ReceiveStock(ctx context.Context, req ReceiveRequest) (*ReceiveResult, error) {
	qty, err := stockQuantity("receive quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	req.Quantity = qty
	if req.UnitCost.IsNegative() {
		return nil, validationError("unit cost cannot be negative, got %s", req.UnitCost)
	}
	reason := req.Reason
	if reason == "" {
		reason = ReasonPurchase
	}
	if reason != ReasonPurchase && reason != ReasonInitialStock {
		return nil, validationError("receipt reason must be %s or %s, got %q", ReasonPurchase, ReasonInitialStock, reason)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin receipt", err)
	}
	defer tx.Rollback(ctx)

	products, err := lockProductsTx(ctx, tx, []int{req.ProductID})
	if err != nil {
		return nil, err
	}
	p := products[req.ProductID]
	if !p.IsActive {
		return nil, validationError("product %s is inactive", p.Code)
	}

	loc, err := resolveLocation(ctx, tx, req.LocationID)
	if err != nil {
		return nil, err
	}

	lotNumber := req.LotNumber
	if lotNumber == "" {
		lotNumber = "L" + s.now().Format("20060102")
	}

	// Create the lot if it doesn't exist yet, then lock it.
	var lotID int
	err = tx.QueryRow(ctx, `
		INSERT INTO inventory_lots (product_id, location_id, lot_number, supplier_lot_ref, unit_cost,
		                            expiration_date, manufacturing_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (product_id, location_id, lot_number)
		DO UPDATE SET is_active = true, updated_at = NOW()
		RETURNING id
	`, p.ID, loc.ID, lotNumber, req.SupplierLotRef, req.UnitCost, req.ExpirationDate, req.ManufacturingDate).Scan(&lotID)
	if err != nil {
		return nil, classifyStoreError("upsert lot", err)
	}
	lot, err := lockLot(ctx, tx, lotID)
	if err != nil {
		return nil, err
	}

	lotCost := weightedAverageCost(lot.Quantity, lot.UnitCost, req.Quantity, req.UnitCost)
	if _, err := tx.Exec(ctx, "UPDATE inventory_lots SET unit_cost = $1, updated_at = NOW() WHERE id = $2", lotCost, lot.ID); err != nil {
		return nil, classifyStoreError("update lot cost", err)
	}
	lot.UnitCost = lotCost

	newCost := weightedAverageCost(p.CurrentStock, p.Cost, req.Quantity, req.UnitCost)
	unitCost := req.UnitCost
	movements, err := s.writeLegsTx(ctx, tx, p, loc.ID, MovementRequest{
		ProductID: p.ID,
		Type:      MovementInbound,
		Reason:    reason,
		Quantity:  req.Quantity,
		UnitCost:  &unitCost,
		Reference: req.Reference,
		Notes:     req.Notes,
		Actor:     req.Actor,
	}, 1, []stockLeg{{lot: lot, qty: req.Quantity}})
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, "UPDATE products SET cost = $1, updated_at = NOW() WHERE id = $2", newCost, p.ID); err != nil {
		return nil, classifyStoreError("update product cost", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit receipt", err)
	}

	s.logger.Info("stock received",
		zap.String("product", p.Code),
		zap.Int("lot_id", lot.ID),
		zap.String("quantity", req.Quantity.String()),
		zap.String("new_cost", newCost.String()))
	s.afterCommit(ctx, []int{p.ID}, []int{lot.ID})

	return &ReceiveResult{Lot: *lot, Movement: movements[0], NewCost: newCost}, nil
}

// TransferStock moves lot stock between locations. Each lot drawn at the
// source yields an outbound and an inbound movement sharing one reference
// number; product stock is unchanged.
func (s *inventoryService) TransferStock(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	qty, err := stockQuantity("transfer quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	req.Quantity = qty
	if req.FromLocationID == req.ToLocationID {
		return nil, validationError("transfer source and destination are both location %d", req.FromLocationID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin transfer", err)
	}
	defer tx.Rollback(ctx)

	// The product row is the first lock, so two transfers of the same product
	// in opposite directions queue behind each other instead of deadlocking
	// on lots.
	products, err := lockProductsTx(ctx, tx, []int{req.ProductID})
	if err != nil {
		return nil, err
	}
	p := products[req.ProductID]

	from, err := resolveLocation(ctx, tx, &req.FromLocationID)
	if err != nil {
		return nil, err
	}
	to, err := resolveLocation(ctx, tx, &req.ToLocationID)
	if err != nil {
		return nil, err
	}

	var lots []*Lot
	if req.LotID != nil {
		lot, err := lockLot(ctx, tx, *req.LotID)
		if err != nil {
			return nil, err
		}
		if lot.ProductID != p.ID || lot.LocationID != from.ID {
			return nil, validationError("lot %d does not hold product %s at location %s", lot.ID, p.Code, from.Code)
		}
		lots = []*Lot{lot}
	} else {
		lots, err = lockLocationLots(ctx, tx, p.ID, from.ID)
		if err != nil {
			return nil, err
		}
	}

	draws, available := planFEFO(lots, req.Quantity)
	if available.LessThan(req.Quantity) {
		return nil, &InsufficientStockError{Shortfalls: []Shortfall{newShortfall(p, req.LotID, req.Quantity, available)}}
	}

	number, err := dailyNumberTx(ctx, tx, seqTransfer, "TR", s.now())
	if err != nil {
		return nil, err
	}
	ref := Reference{Type: "transfer", Number: number}

	result := &TransferResult{ReferenceNumber: number}
	var lotIDs []int
	for _, d := range draws {
		out, err := s.writeLegsTx(ctx, tx, p, from.ID, MovementRequest{
			ProductID: p.ID, Type: MovementTransfer, Reason: ReasonTransferOut,
			Quantity: d.qty, Reference: ref, Notes: req.Notes, Actor: req.Actor,
		}, -1, []stockLeg{d})
		if err != nil {
			return nil, err
		}

		dest, err := destinationLot(ctx, tx, d.lot, to.ID)
		if err != nil {
			return nil, err
		}
		in, err := s.writeLegsTx(ctx, tx, p, to.ID, MovementRequest{
			ProductID: p.ID, Type: MovementTransfer, Reason: ReasonTransferIn,
			Quantity: d.qty, Reference: ref, Notes: req.Notes, Actor: req.Actor,
		}, 1, []stockLeg{{lot: dest, qty: d.qty}})
		if err != nil {
			return nil, err
		}

		result.Outbound = append(result.Outbound, out...)
		result.Inbound = append(result.Inbound, in...)
		lotIDs = append(lotIDs, d.lot.ID, dest.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit transfer", err)
	}

	s.logger.Info("stock transferred",
		zap.String("reference", number),
		zap.String("product", p.Code),
		zap.String("from", from.Code),
		zap.String("to", to.Code),
		zap.String("quantity", req.Quantity.String()))
	s.afterCommit(ctx, []int{p.ID}, lotIDs)

	return result, nil
}

func (s *inventoryService) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, is_default, is_active, created_at
		FROM inventory_locations
		WHERE is_active = true
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Code, &l.Name, &l.IsDefault, &l.IsActive, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

func (s *inventoryService) GetDefaultLocation(ctx context.Context) (*Location, error) {
	return resolveLocation(ctx, s.pool, nil)
}

func (s *inventoryService) ListLots(ctx context.Context, productID int) ([]Lot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lotColumns+`
		FROM inventory_lots
		WHERE product_id = $1 AND is_active = true
		ORDER BY location_id, expiration_date NULLS LAST, id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, *l)
	}
	return lots, rows.Err()
}

// DeactivateLot hides an emptied lot. Lots referenced by movements are never deleted.
func (s *inventoryService) DeactivateLot(ctx context.Context, lotID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyStoreError("begin deactivate lot", err)
	}
	defer tx.Rollback(ctx)

	lot, err := lockLot(ctx, tx, lotID)
	if err != nil {
		return err
	}
	if !lot.Quantity.IsZero() {
		return validationError("lot %s still holds %s units", lot.LotNumber, lot.Quantity)
	}
	if _, err := tx.Exec(ctx, "UPDATE inventory_lots SET is_active = false, updated_at = NOW() WHERE id = $1", lotID); err != nil {
		return classifyStoreError("deactivate lot", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyStoreError("commit deactivate lot", err)
	}
	return nil
}

func (s *inventoryService) GetStockLevels(ctx context.Context) ([]StockLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.code, p.name, l.id, l.code,
		       SUM(il.quantity), SUM(il.reserved_quantity),
		       SUM(il.quantity - il.reserved_quantity),
		       p.cost
		FROM inventory_lots il
		JOIN products p            ON p.id = il.product_id
		JOIN inventory_locations l ON l.id = il.location_id
		WHERE il.is_active = true
		GROUP BY p.id, p.code, p.name, l.id, l.code, p.cost
		ORDER BY p.code, l.code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(
			&sl.ProductID, &sl.ProductCode, &sl.ProductName,
			&sl.LocationID, &sl.LocationCode,
			&sl.OnHand, &sl.Reserved, &sl.Available, &sl.UnitCost,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	return levels, rows.Err()
}

func (s *inventoryService) GetLocationStock(ctx context.Context, productID, locationID int) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM inventory_lots
		WHERE product_id = $1 AND location_id = $2 AND is_active = true
	`, productID, locationID).Scan(&qty)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum location stock: %w", err)
	}
	return qty, nil
}

// ── TX-scoped operations ──────────────────────────────────────────────────────

// RecordMovementTx validates and writes one movement request inside the
// caller's transaction. Nothing is written when the request would underflow
// the product or any lot.
func (s *inventoryService) RecordMovementTx(ctx context.Context, tx pgx.Tx, req MovementRequest) (*MovementResult, error) {
	qty, err := stockQuantity("movement quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	req.Quantity = qty
	if req.UnitCost != nil && req.UnitCost.IsNegative() {
		return nil, validationError("unit cost cannot be negative, got %s", req.UnitCost)
	}
	dir, err := Direction(req.Type, req.Reason)
	if err != nil {
		return nil, err
	}

	products, err := lockProductsTx(ctx, tx, []int{req.ProductID})
	if err != nil {
		return nil, err
	}
	p := products[req.ProductID]
	previous := p.CurrentStock

	locationID := 0
	if req.LotID == nil || req.LocationID != nil {
		loc, err := resolveLocation(ctx, tx, req.LocationID)
		if err != nil {
			return nil, err
		}
		locationID = loc.ID
	}

	legs, err := s.planLegsTx(ctx, tx, p, locationID, req.LotID, req.Quantity, dir)
	if err != nil {
		return nil, err
	}
	if dir < 0 && p.CurrentStock.LessThan(req.Quantity) {
		return nil, &InsufficientStockError{Shortfalls: []Shortfall{newShortfall(p, nil, req.Quantity, p.CurrentStock)}}
	}

	movements, err := s.writeLegsTx(ctx, tx, p, locationID, req, dir, legs)
	if err != nil {
		return nil, err
	}
	return &MovementResult{
		ProductID:     p.ID,
		PreviousStock: previous,
		NewStock:      p.CurrentStock,
		Movements:     movements,
	}, nil
}

// stockLeg is one piece of a movement: a lot, or product-level stock when lot is nil.
type stockLeg struct {
	lot *Lot
	qty decimal.Decimal
}

func (s *inventoryService) planLegsTx(ctx context.Context, tx pgx.Tx, p *Product, locationID int,
	lotID *int, qty decimal.Decimal, dir int) ([]stockLeg, error) {

	if lotID != nil {
		lot, err := lockLot(ctx, tx, *lotID)
		if err != nil {
			return nil, err
		}
		if lot.ProductID != p.ID {
			return nil, validationError("lot %d does not belong to product %s", lot.ID, p.Code)
		}
		if locationID != 0 && lot.LocationID != locationID {
			return nil, validationError("lot %d is not stored at location %d", lot.ID, locationID)
		}
		if !lot.IsActive {
			return nil, validationError("lot %s is inactive", lot.LotNumber)
		}
		if dir < 0 && lot.Available().LessThan(qty) {
			return nil, &InsufficientStockError{Shortfalls: []Shortfall{newShortfall(p, lotID, qty, lot.Available())}}
		}
		return []stockLeg{{lot: lot, qty: qty}}, nil
	}

	tracked, err := lotTracked(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	if !tracked {
		return []stockLeg{{qty: qty}}, nil
	}

	lots, err := lockLocationLots(ctx, tx, p.ID, locationID)
	if err != nil {
		return nil, err
	}
	if dir > 0 {
		// Unpinned additions go to the newest lot at the location.
		if len(lots) == 0 {
			return nil, validationError("product %s is lot-tracked and has no lot at location %d; receive it into a lot", p.Code, locationID)
		}
		newest := lots[0]
		for _, l := range lots[1:] {
			if l.ID > newest.ID {
				newest = l
			}
		}
		return []stockLeg{{lot: newest, qty: qty}}, nil
	}
	// A lot-tracked product with no lots here has nothing to draw.
	legs, available := planFEFO(lots, qty)
	if available.LessThan(qty) {
		return nil, &InsufficientStockError{Shortfalls: []Shortfall{newShortfall(p, nil, qty, available)}}
	}
	return legs, nil
}

// writeLegsTx applies legs in order, snapshotting product stock around each
// movement row, and leaves p.CurrentStock at the final value.
func (s *inventoryService) writeLegsTx(ctx context.Context, tx pgx.Tx, p *Product, locationID int,
	req MovementRequest, dir int, legs []stockLeg) ([]Movement, error) {

	movements := make([]Movement, 0, len(legs))
	for _, leg := range legs {
		delta := leg.qty
		if dir < 0 {
			delta = delta.Neg()
		}
		previous := p.CurrentStock
		next := previous.Add(delta)
		if next.IsNegative() {
			return nil, &InsufficientStockError{Shortfalls: []Shortfall{newShortfall(p, nil, leg.qty, previous)}}
		}

		m := Movement{
			ProductID:     p.ID,
			LocationID:    locationID,
			UserID:        actorUserID(req.Actor),
			Type:          req.Type,
			Reason:        req.Reason,
			Quantity:      leg.qty,
			PreviousStock: previous,
			NewStock:      next,
			Reference:     req.Reference,
			Notes:         req.Notes,
		}
		unitCost := p.Cost

		if leg.lot != nil {
			lotQty := leg.lot.Quantity.Add(delta)
			if lotQty.Sub(leg.lot.ReservedQuantity).IsNegative() {
				lotID := leg.lot.ID
				return nil, &InsufficientStockError{Shortfalls: []Shortfall{newShortfall(p, &lotID, leg.qty, leg.lot.Available())}}
			}
			if _, err := tx.Exec(ctx,
				"UPDATE inventory_lots SET quantity = $1, updated_at = NOW() WHERE id = $2",
				lotQty, leg.lot.ID,
			); err != nil {
				return nil, classifyStoreError("update lot quantity", err)
			}
			leg.lot.Quantity = lotQty
			lotID := leg.lot.ID
			m.LotID = &lotID
			m.LocationID = leg.lot.LocationID
			unitCost = leg.lot.UnitCost
		}
		if req.UnitCost != nil {
			unitCost = *req.UnitCost
		}
		totalCost := unitCost.Mul(leg.qty)
		m.UnitCost = &unitCost
		m.TotalCost = &totalCost

		if err := insertMovementTx(ctx, tx, &m); err != nil {
			return nil, err
		}
		p.CurrentStock = next
		movements = append(movements, m)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE products SET current_stock = $1, updated_at = NOW() WHERE id = $2",
		p.CurrentStock, p.ID,
	); err != nil {
		return nil, classifyStoreError("update product stock", err)
	}
	return movements, nil
}

func insertMovementTx(ctx context.Context, tx pgx.Tx, m *Movement) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO inventory_movements (product_id, lot_id, location_id, user_id, movement_type, reason,
		                                 quantity, previous_stock, new_stock, unit_cost, total_cost,
		                                 reference_type, reference_id, reference_number, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`, m.ProductID, m.LotID, m.LocationID, m.UserID, string(m.Type), m.Reason,
		m.Quantity, m.PreviousStock, m.NewStock, m.UnitCost, m.TotalCost,
		nullableString(m.Reference.Type), m.Reference.ID, nullableString(m.Reference.Number), m.Notes,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return classifyStoreError("insert inventory movement", err)
	}
	return nil
}

// planFEFO draws qty from lots earliest expiration first. Lots without an
// expiration date go last; ties fall back to lot id, i.e. creation order.
// available is the total drawable quantity across lots.
func planFEFO(lots []*Lot, qty decimal.Decimal) (legs []stockLeg, available decimal.Decimal) {
	ordered := make([]*Lot, len(lots))
	copy(ordered, lots)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].ExpirationDate, ordered[j].ExpirationDate
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return ordered[i].ID < ordered[j].ID
	})

	remaining := qty
	for _, l := range ordered {
		avail := l.Available()
		if !avail.IsPositive() {
			continue
		}
		available = available.Add(avail)
		if remaining.IsPositive() {
			take := decimal.Min(avail, remaining)
			legs = append(legs, stockLeg{lot: l, qty: take})
			remaining = remaining.Sub(take)
		}
	}
	return legs, available
}

// weightedAverageCost: new_cost = (old_qty * old_cost + qty * unit_cost) / (old_qty + qty)
func weightedAverageCost(oldQty, oldCost, qty, unitCost decimal.Decimal) decimal.Decimal {
	newQty := oldQty.Add(qty)
	if !newQty.IsPositive() {
		return unitCost
	}
	return oldQty.Mul(oldCost).Add(qty.Mul(unitCost)).Div(newQty).Round(4)
}

func newShortfall(p *Product, lotID *int, required, available decimal.Decimal) Shortfall {
	if available.IsNegative() {
		available = decimal.Zero
	}
	return Shortfall{
		ProductID:   p.ID,
		ProductCode: p.Code,
		ProductName: p.Name,
		LotID:       lotID,
		Required:    required,
		Available:   available,
		Missing:     required.Sub(available),
	}
}

func lockLot(ctx context.Context, tx pgx.Tx, lotID int) (*Lot, error) {
	lot, err := scanLot(tx.QueryRow(ctx, "SELECT "+lotColumns+" FROM inventory_lots WHERE id = $1 FOR UPDATE", lotID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("lot", lotID)
		}
		return nil, classifyStoreError("lock lot", err)
	}
	return lot, nil
}

// lotTracked reports whether the product has an active lot at any location.
// Stock of a lot-tracked product only moves through lots.
func lotTracked(ctx context.Context, q pgxQuerier, productID int) (bool, error) {
	var tracked bool
	err := q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM inventory_lots WHERE product_id = $1 AND is_active = true)",
		productID,
	).Scan(&tracked)
	if err != nil {
		return false, classifyStoreError("check lot tracking", err)
	}
	return tracked, nil
}

// lockLocationLots locks the active lots of a product at one location in FEFO order.
func lockLocationLots(ctx context.Context, tx pgx.Tx, productID, locationID int) ([]*Lot, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+lotColumns+`
		FROM inventory_lots
		WHERE product_id = $1 AND location_id = $2 AND is_active = true
		ORDER BY expiration_date NULLS LAST, id
		FOR UPDATE
	`, productID, locationID)
	if err != nil {
		return nil, classifyStoreError("lock lots", err)
	}
	defer rows.Close()

	var lots []*Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("lock lots", err)
	}
	return lots, nil
}

// destinationLot finds or creates the lot at locationID that mirrors src,
// copying its number, supplier reference, cost and dates.
func destinationLot(ctx context.Context, tx pgx.Tx, src *Lot, locationID int) (*Lot, error) {
	var id int
	err := tx.QueryRow(ctx, `
		INSERT INTO inventory_lots (product_id, location_id, lot_number, supplier_lot_ref, unit_cost,
		                            expiration_date, manufacturing_date)
		SELECT product_id, $2, lot_number, supplier_lot_ref, unit_cost, expiration_date, manufacturing_date
		FROM inventory_lots
		WHERE id = $1
		ON CONFLICT (product_id, location_id, lot_number)
		DO UPDATE SET is_active = true, updated_at = NOW()
		RETURNING id
	`, src.ID, locationID).Scan(&id)
	if err != nil {
		return nil, classifyStoreError("create destination lot", err)
	}
	return lockLot(ctx, tx, id)
}

// resolveLocation returns the active location by id, or the default location
// when locationID is nil.
func resolveLocation(ctx context.Context, q pgxQuerier, locationID *int) (*Location, error) {
	var l Location
	var err error
	if locationID == nil {
		err = q.QueryRow(ctx, `
			SELECT id, code, name, is_default, is_active, created_at
			FROM inventory_locations
			WHERE is_default = true AND is_active = true
		`).Scan(&l.ID, &l.Code, &l.Name, &l.IsDefault, &l.IsActive, &l.CreatedAt)
	} else {
		err = q.QueryRow(ctx, `
			SELECT id, code, name, is_default, is_active, created_at
			FROM inventory_locations
			WHERE id = $1 AND is_active = true
		`, *locationID).Scan(&l.ID, &l.Code, &l.Name, &l.IsDefault, &l.IsActive, &l.CreatedAt)
	}
	if err != nil {
		if isNoRows(err) {
			if locationID == nil {
				return nil, notFound("location", "default")
			}
			return nil, notFound("location", *locationID)
		}
		return nil, classifyStoreError("resolve location", err)
	}
	return &l, nil
}

// afterCommit runs alert evaluation once the primary write is durable.
// Failures are logged; the write they follow has already happened.
func (s *inventoryService) afterCommit(ctx context.Context, productIDs, lotIDs []int) {
	if _, err := s.EvaluateAlerts(ctx, productIDs, lotIDs); err != nil {
		s.logger.Warn("alert evaluation failed",
			zap.Ints("product_ids", productIDs),
			zap.Ints("lot_ids", lotIDs),
			zap.Error(err))
	}
}

func actorUserID(a Actor) *int {
	if a.UserID == 0 {
		return nil
	}
	id := a.UserID
	return &id
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
