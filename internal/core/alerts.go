package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultExpiryWarningDays is how close to its expiration date a lot gets
// before an expiring_soon alert is raised.
const DefaultExpiryWarningDays = 30

type AlertType string

const (
	AlertLowStock     AlertType = "low_stock"
	AlertOutOfStock   AlertType = "out_of_stock"
	AlertOverstock    AlertType = "overstock"
	AlertExpiringSoon AlertType = "expiring_soon"
	AlertExpired      AlertType = "expired"
)

type AlertLevel string

const (
	LevelInfo     AlertLevel = "info"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert is a derived signal. It never changes stock.
type Alert struct {
	ID             int64           `json:"id"`
	ProductID      int             `json:"product_id"`
	LotID          *int            `json:"lot_id,omitempty"`
	Type           AlertType       `json:"alert_type"`
	Level          AlertLevel      `json:"alert_level"`
	Message        string          `json:"message"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	ThresholdValue decimal.Decimal `json:"threshold_value"`
	Status         AlertStatus     `json:"status"`
	AcknowledgedBy *int            `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AlertPublisher fans newly raised alerts out to observers. It is called after
// commit and its errors are only logged.
type AlertPublisher interface {
	PublishAlerts(ctx context.Context, alerts []Alert) error
}

// alertCondition is an alert that should be active right now.
type alertCondition struct {
	Type      AlertType
	Level     AlertLevel
	Message   string
	Current   decimal.Decimal
	Threshold decimal.Decimal
}

// stockConditions applies the product threshold rules. Out-of-stock takes
// precedence over low-stock.
func stockConditions(p *Product) []alertCondition {
	var conds []alertCondition
	switch {
	case !p.CurrentStock.IsPositive():
		conds = append(conds, alertCondition{
			Type:      AlertOutOfStock,
			Level:     LevelCritical,
			Message:   fmt.Sprintf("%s is out of stock", p.Name),
			Current:   p.CurrentStock,
			Threshold: decimal.Zero,
		})
	case p.MinStock.IsPositive() && p.CurrentStock.LessThanOrEqual(p.MinStock):
		conds = append(conds, alertCondition{
			Type:      AlertLowStock,
			Level:     LevelWarning,
			Message:   fmt.Sprintf("%s is at %s, minimum is %s", p.Name, p.CurrentStock, p.MinStock),
			Current:   p.CurrentStock,
			Threshold: p.MinStock,
		})
	}
	if p.MaxStock.IsPositive() && p.CurrentStock.GreaterThanOrEqual(p.MaxStock) {
		conds = append(conds, alertCondition{
			Type:      AlertOverstock,
			Level:     LevelInfo,
			Message:   fmt.Sprintf("%s is at %s, maximum is %s", p.Name, p.CurrentStock, p.MaxStock),
			Current:   p.CurrentStock,
			Threshold: p.MaxStock,
		})
	}
	return conds
}

// lotConditions applies the expiration rules. Empty or inactive lots raise nothing.
func lotConditions(l *Lot, now time.Time, warnDays int) []alertCondition {
	if !l.IsActive || !l.Quantity.IsPositive() {
		return nil
	}
	days, ok := l.DaysUntilExpiry(now)
	if !ok {
		return nil
	}
	switch {
	case days <= 0:
		return []alertCondition{{
			Type:      AlertExpired,
			Level:     LevelCritical,
			Message:   fmt.Sprintf("lot %s expired on %s", l.LotNumber, l.ExpirationDate.Format("2006-01-02")),
			Current:   decimal.NewFromInt(int64(days)),
			Threshold: decimal.Zero,
		}}
	case days <= warnDays:
		return []alertCondition{{
			Type:      AlertExpiringSoon,
			Level:     LevelWarning,
			Message:   fmt.Sprintf("lot %s expires in %d days", l.LotNumber, days),
			Current:   decimal.NewFromInt(int64(days)),
			Threshold: decimal.NewFromInt(int64(warnDays)),
		}}
	}
	return nil
}

var (
	productAlertTypes = []string{string(AlertLowStock), string(AlertOutOfStock), string(AlertOverstock)}
	lotAlertTypes     = []string{string(AlertExpiringSoon), string(AlertExpired)}
)

const alertColumns = `id, product_id, lot_id, alert_type, alert_level, message, current_value, threshold_value,
	status, acknowledged_by, acknowledged_at, resolved_at, created_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.ProductID, &a.LotID, &a.Type, &a.Level, &a.Message, &a.CurrentValue,
		&a.ThresholdValue, &a.Status, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// EvaluateAlerts brings the alert table in line with the current stock of the
// given products and lots: missing alerts are raised, alerts whose condition
// cleared are resolved. Raising is idempotent; an active alert of the same
// (product, lot, type, level) suppresses a new one. Newly raised alerts are
// returned and published.
func (s *inventoryService) EvaluateAlerts(ctx context.Context, productIDs, lotIDs []int) ([]Alert, error) {
	productIDs = uniqueSorted(productIDs)
	lotIDs = uniqueSorted(lotIDs)
	if len(productIDs) == 0 && len(lotIDs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin alert evaluation", err)
	}
	defer tx.Rollback(ctx)

	var raised []Alert
	for _, id := range productIDs {
		p, err := scanProduct(tx.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id))
		if err != nil {
			if isNoRows(err) {
				continue
			}
			return nil, fmt.Errorf("failed to load product %d for alerts: %w", id, err)
		}
		alerts, err := syncAlertsTx(ctx, tx, p.ID, nil, productAlertTypes, stockConditions(p))
		if err != nil {
			return nil, err
		}
		raised = append(raised, alerts...)
	}

	now := s.now()
	for _, id := range lotIDs {
		lot, err := scanLot(tx.QueryRow(ctx, "SELECT "+lotColumns+" FROM inventory_lots WHERE id = $1", id))
		if err != nil {
			if isNoRows(err) {
				continue
			}
			return nil, fmt.Errorf("failed to load lot %d for alerts: %w", id, err)
		}
		lotID := lot.ID
		alerts, err := syncAlertsTx(ctx, tx, lot.ProductID, &lotID, lotAlertTypes, lotConditions(lot, now, s.warnDays))
		if err != nil {
			return nil, err
		}
		raised = append(raised, alerts...)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit alert evaluation", err)
	}

	if len(raised) > 0 {
		s.logger.Info("inventory alerts raised", zap.Int("count", len(raised)))
		s.publish(ctx, raised)
	}
	return raised, nil
}

// syncAlertsTx resolves open alerts of the given kinds whose condition no
// longer holds and inserts the ones that are missing.
func syncAlertsTx(ctx context.Context, tx pgx.Tx, productID int, lotID *int, kinds []string, conds []alertCondition) ([]Alert, error) {
	keep := make([]string, 0, len(conds))
	for _, c := range conds {
		keep = append(keep, string(c.Type)+"/"+string(c.Level))
	}

	_, err := tx.Exec(ctx, `
		UPDATE inventory_alerts
		SET status = 'resolved', resolved_at = NOW()
		WHERE product_id = $1
		  AND COALESCE(lot_id, 0) = COALESCE($2::int, 0)
		  AND alert_type = ANY($3)
		  AND status IN ('active', 'acknowledged')
		  AND NOT (alert_type || '/' || alert_level = ANY($4))
	`, productID, lotID, kinds, keep)
	if err != nil {
		return nil, classifyStoreError("resolve alerts", err)
	}

	var raised []Alert
	for _, c := range conds {
		a, err := scanAlert(tx.QueryRow(ctx, `
			INSERT INTO inventory_alerts (product_id, lot_id, alert_type, alert_level, message,
			                              current_value, threshold_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT DO NOTHING
			RETURNING `+alertColumns,
			productID, lotID, string(c.Type), string(c.Level), c.Message, c.Current, c.Threshold,
		))
		if err != nil {
			if isNoRows(err) {
				// Already active.
				continue
			}
			return nil, classifyStoreError("insert alert", err)
		}
		raised = append(raised, *a)
	}
	return raised, nil
}

func (s *inventoryService) publish(ctx context.Context, alerts []Alert) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAlerts(ctx, alerts); err != nil {
		s.logger.Warn("alert publish failed", zap.Int("count", len(alerts)), zap.Error(err))
	}
}

func (s *inventoryService) ListAlerts(ctx context.Context, status AlertStatus) ([]Alert, error) {
	if status == "" {
		status = AlertActive
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM inventory_alerts
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert moves an active alert to acknowledged. Once acknowledged,
// the same condition may raise a fresh alert on the next crossing movement.
func (s *inventoryService) AcknowledgeAlert(ctx context.Context, alertID int64, actor Actor) (*Alert, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin acknowledge", err)
	}
	defer tx.Rollback(ctx)

	a, err := scanAlert(tx.QueryRow(ctx, "SELECT "+alertColumns+" FROM inventory_alerts WHERE id = $1 FOR UPDATE", alertID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("alert", alertID)
		}
		return nil, classifyStoreError("lock alert", err)
	}
	if a.Status != AlertActive {
		return nil, &InvalidTransitionError{Entity: "alert", ID: int(a.ID), From: string(a.Status), To: string(AlertAcknowledged)}
	}

	a, err = scanAlert(tx.QueryRow(ctx, `
		UPDATE inventory_alerts
		SET status = 'acknowledged', acknowledged_by = $1, acknowledged_at = NOW()
		WHERE id = $2
		RETURNING `+alertColumns,
		actorUserID(actor), alertID,
	))
	if err != nil {
		return nil, classifyStoreError("acknowledge alert", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit acknowledge", err)
	}
	return a, nil
}

// ScanExpirations re-evaluates every active lot that carries an expiration
// date. Intended for a periodic operator job; expiry alerts otherwise only
// move when a lot does.
func (s *inventoryService) ScanExpirations(ctx context.Context) ([]Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM inventory_lots
		WHERE is_active = true AND expiration_date IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring lots: %w", err)
	}
	var lotIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan lot id: %w", err)
		}
		lotIDs = append(lotIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}
	return s.EvaluateAlerts(ctx, nil, lotIDs)
}

// ExpireLots writes an expiry movement for the available quantity of every
// lot past its expiration date. All lots are expired in one transaction.
func (s *inventoryService) ExpireLots(ctx context.Context, actor Actor) ([]MovementResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin expire lots", err)
	}
	defer tx.Rollback(ctx)

	today := s.now().Format("2006-01-02")
	rows, err := tx.Query(ctx, `
		SELECT id, product_id
		FROM inventory_lots
		WHERE is_active = true
		  AND expiration_date IS NOT NULL
		  AND expiration_date <= $1::date
		  AND quantity - reserved_quantity > 0
		ORDER BY product_id, location_id, id
	`, today)
	if err != nil {
		return nil, classifyStoreError("query expired lots", err)
	}
	type expiredLot struct{ lotID, productID int }
	var expired []expiredLot
	var productIDs []int
	for rows.Next() {
		var e expiredLot
		if err := rows.Scan(&e.lotID, &e.productID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expired lot: %w", err)
		}
		expired = append(expired, e)
		productIDs = append(productIDs, e.productID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("query expired lots", err)
	}
	if len(expired) == 0 {
		return nil, nil
	}

	if _, err := lockProductsTx(ctx, tx, productIDs); err != nil {
		return nil, err
	}

	var results []MovementResult
	var lotIDs []int
	for _, e := range expired {
		lot, err := lockLot(ctx, tx, e.lotID)
		if err != nil {
			return nil, err
		}
		avail := lot.Available()
		if !avail.IsPositive() {
			continue
		}
		lotID := lot.ID
		res, err := s.RecordMovementTx(ctx, tx, MovementRequest{
			ProductID: e.productID,
			LotID:     &lotID,
			Type:      MovementExpiry,
			Reason:    ReasonExpired,
			Quantity:  avail,
			Notes:     fmt.Sprintf("lot %s expired", lot.LotNumber),
			Actor:     actor,
		})
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
		lotIDs = append(lotIDs, lotID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit expire lots", err)
	}

	s.logger.Info("expired lots written off", zap.Int("lots", len(results)))
	s.afterCommit(ctx, productIDs, lotIDs)
	return results, nil
}
