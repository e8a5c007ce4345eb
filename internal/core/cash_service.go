package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// CashService owns cash sessions and their movement log.
type CashService interface {
	OpenSession(ctx context.Context, req OpenSessionRequest) (*CashSession, error)
	CloseSession(ctx context.Context, req CloseSessionRequest) (*CashSession, error)
	RegisterMovement(ctx context.Context, req CashMovementRequest) (*CashMovement, error)
	// CanCreateSale reports whether the register has an open session.
	CanCreateSale(ctx context.Context, registerID int) (bool, error)
	GetSession(ctx context.Context, sessionID int) (*CashSession, error)
	// GetOpenSession returns ErrNoOpenSession when the register is closed.
	GetOpenSession(ctx context.Context, registerID int) (*CashSession, error)
	ListSessionMovements(ctx context.Context, sessionID int) ([]CashMovement, error)
	ListRegisters(ctx context.Context) ([]Register, error)

	// TX-scoped operations.
	RegisterMovementTx(ctx context.Context, tx pgx.Tx, req CashMovementRequest) (*CashMovement, error)
	// OpenSessionForRegisterTx locks the register and its open session for the
	// rest of the caller's transaction. It returns nil when no session is open.
	OpenSessionForRegisterTx(ctx context.Context, tx pgx.Tx, registerID int) (*CashSession, error)
}

type cashService struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

func NewCashService(pool *pgxpool.Pool, logger *zap.Logger) CashService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cashService{pool: pool, logger: logger.Named("cash"), now: time.Now}
}

const sessionColumns = `id, register_id, user_id, session_number, opening_amount, closing_amount,
	expected_amount, difference, status, opening_notes, closing_notes, opened_at, closed_at`

func scanSession(row pgx.Row) (*CashSession, error) {
	var cs CashSession
	err := row.Scan(&cs.ID, &cs.RegisterID, &cs.UserID, &cs.SessionNumber, &cs.OpeningAmount,
		&cs.ClosingAmount, &cs.ExpectedAmount, &cs.Difference, &cs.Status, &cs.OpeningNotes,
		&cs.ClosingNotes, &cs.OpenedAt, &cs.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// ── Standalone operations ─────────────────────────────────────────────────────

// OpenSession opens a session on a register and books the opening float.
// The register row lock serializes concurrent opens; the partial unique index
// on open sessions backs it up at the store.
func (s *cashService) OpenSession(ctx context.Context, req OpenSessionRequest) (*CashSession, error) {
	if req.OpeningAmount.IsNegative() {
		return nil, validationError("opening amount cannot be negative, got %s", req.OpeningAmount)
	}
	if req.Actor.UserID == 0 {
		return nil, validationError("opening a session requires a user")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin open session", err)
	}
	defer tx.Rollback(ctx)

	reg, err := lockRegister(ctx, tx, req.RegisterID)
	if err != nil {
		return nil, err
	}
	if !reg.IsActive {
		return nil, validationError("register %s is inactive", reg.Code)
	}

	var existing int
	err = tx.QueryRow(ctx,
		"SELECT id FROM cash_sessions WHERE register_id = $1 AND status = 'open'",
		reg.ID,
	).Scan(&existing)
	if err == nil {
		return nil, fmt.Errorf("register %s (session %d): %w", reg.Code, existing, ErrSessionAlreadyOpen)
	}
	if !isNoRows(err) {
		return nil, classifyStoreError("check open session", err)
	}

	now := s.now()
	seq, err := nextSequenceTx(ctx, tx, seqSession, fmt.Sprintf("%s-%02d", now.Format("20060102"), reg.ID))
	if err != nil {
		return nil, err
	}
	number := SessionNumber(now, reg.ID, seq)

	session, err := scanSession(tx.QueryRow(ctx, `
		INSERT INTO cash_sessions (register_id, user_id, session_number, opening_amount, opening_notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sessionColumns,
		reg.ID, req.Actor.UserID, number, req.OpeningAmount, req.Notes,
	))
	if err != nil {
		if isConstraintViolation(err, pgUniqueViolation, "uq_cash_sessions_open_register") {
			return nil, fmt.Errorf("register %s: %w", reg.Code, ErrSessionAlreadyOpen)
		}
		return nil, classifyStoreError("insert cash session", err)
	}

	if _, err := insertCashMovementTx(ctx, tx, session.ID, CashMovementRequest{
		Type:        CashOpening,
		Amount:      req.OpeningAmount,
		Description: "opening float",
		Reference:   number,
		Actor:       req.Actor,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit open session", err)
	}

	s.logger.Info("cash session opened",
		zap.String("session_number", number),
		zap.String("register", reg.Code),
		zap.String("opening_amount", req.OpeningAmount.StringFixed(2)))
	return session, nil
}

// CloseSession books the counted cash, derives the expected amount from the
// movement log and records the difference. The difference is reported, never corrected.
func (s *cashService) CloseSession(ctx context.Context, req CloseSessionRequest) (*CashSession, error) {
	if req.ClosingAmount.IsNegative() {
		return nil, validationError("closing amount cannot be negative, got %s", req.ClosingAmount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin close session", err)
	}
	defer tx.Rollback(ctx)

	session, err := lockSession(ctx, tx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionOpen {
		return nil, fmt.Errorf("session %s: %w", session.SessionNumber, ErrSessionClosed)
	}

	movements, err := listCashMovements(ctx, tx, session.ID)
	if err != nil {
		return nil, err
	}
	expected := ExpectedAmount(session.OpeningAmount, movements)
	difference := req.ClosingAmount.Sub(expected)

	if _, err := insertCashMovementTx(ctx, tx, session.ID, CashMovementRequest{
		Type:        CashClosing,
		Amount:      req.ClosingAmount,
		Description: "closing count",
		Reference:   session.SessionNumber,
		Actor:       req.Actor,
	}); err != nil {
		return nil, err
	}

	closed, err := scanSession(tx.QueryRow(ctx, `
		UPDATE cash_sessions
		SET status = 'closed', closing_amount = $1, expected_amount = $2, difference = $3,
		    closing_notes = $4, closed_at = NOW()
		WHERE id = $5
		RETURNING `+sessionColumns,
		req.ClosingAmount, expected, difference, req.Notes, session.ID,
	))
	if err != nil {
		return nil, classifyStoreError("close cash session", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit close session", err)
	}

	s.logger.Info("cash session closed",
		zap.String("session_number", closed.SessionNumber),
		zap.String("expected", expected.StringFixed(2)),
		zap.String("counted", req.ClosingAmount.StringFixed(2)),
		zap.String("difference", difference.StringFixed(2)))
	return closed, nil
}

func (s *cashService) RegisterMovement(ctx context.Context, req CashMovementRequest) (*CashMovement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError("begin cash movement", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.RegisterMovementTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError("commit cash movement", err)
	}
	return m, nil
}

func (s *cashService) CanCreateSale(ctx context.Context, registerID int) (bool, error) {
	var open bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM cash_sessions WHERE register_id = $1 AND status = 'open')",
		registerID,
	).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("failed to check open session: %w", err)
	}
	return open, nil
}

func (s *cashService) GetSession(ctx context.Context, sessionID int) (*CashSession, error) {
	session, err := scanSession(s.pool.QueryRow(ctx, "SELECT "+sessionColumns+" FROM cash_sessions WHERE id = $1", sessionID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("cash session", sessionID)
		}
		return nil, fmt.Errorf("failed to fetch cash session %d: %w", sessionID, err)
	}
	return session, nil
}

func (s *cashService) GetOpenSession(ctx context.Context, registerID int) (*CashSession, error) {
	session, err := scanSession(s.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM cash_sessions WHERE register_id = $1 AND status = 'open'",
		registerID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("register %d: %w", registerID, ErrNoOpenSession)
		}
		return nil, fmt.Errorf("failed to fetch open session: %w", err)
	}
	return session, nil
}

func (s *cashService) ListSessionMovements(ctx context.Context, sessionID int) ([]CashMovement, error) {
	return listCashMovements(ctx, s.pool, sessionID)
}

func (s *cashService) ListRegisters(ctx context.Context) ([]Register, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, is_active, created_at
		FROM cash_registers
		WHERE is_active = true
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query registers: %w", err)
	}
	defer rows.Close()

	var registers []Register
	for rows.Next() {
		var r Register
		if err := rows.Scan(&r.ID, &r.Code, &r.Name, &r.IsActive, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan register: %w", err)
		}
		registers = append(registers, r)
	}
	return registers, rows.Err()
}

// ── TX-scoped operations ──────────────────────────────────────────────────────

// RegisterMovementTx appends a movement to an open session. Every sale
// settlement goes through here so the expected amount stays derivable from
// the log alone.
func (s *cashService) RegisterMovementTx(ctx context.Context, tx pgx.Tx, req CashMovementRequest) (*CashMovement, error) {
	if !registerMovementTypes[req.Type] {
		return nil, validationError("cash movement type %q cannot be registered directly", req.Type)
	}
	if !req.Amount.IsPositive() {
		return nil, validationError("cash movement amount must be positive, got %s", req.Amount)
	}

	session, err := lockSession(ctx, tx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionOpen {
		return nil, fmt.Errorf("session %s: %w", session.SessionNumber, ErrSessionClosed)
	}
	return insertCashMovementTx(ctx, tx, session.ID, req)
}

func (s *cashService) OpenSessionForRegisterTx(ctx context.Context, tx pgx.Tx, registerID int) (*CashSession, error) {
	if _, err := lockRegister(ctx, tx, registerID); err != nil {
		return nil, err
	}
	session, err := scanSession(tx.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM cash_sessions WHERE register_id = $1 AND status = 'open' FOR UPDATE",
		registerID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, classifyStoreError("lock open session", err)
	}
	return session, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func lockRegister(ctx context.Context, tx pgx.Tx, registerID int) (*Register, error) {
	var r Register
	err := tx.QueryRow(ctx,
		"SELECT id, code, name, is_active, created_at FROM cash_registers WHERE id = $1 FOR UPDATE",
		registerID,
	).Scan(&r.ID, &r.Code, &r.Name, &r.IsActive, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("register", registerID)
		}
		return nil, classifyStoreError("lock register", err)
	}
	return &r, nil
}

func lockSession(ctx context.Context, tx pgx.Tx, sessionID int) (*CashSession, error) {
	session, err := scanSession(tx.QueryRow(ctx, "SELECT "+sessionColumns+" FROM cash_sessions WHERE id = $1 FOR UPDATE", sessionID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("cash session", sessionID)
		}
		return nil, classifyStoreError("lock cash session", err)
	}
	return session, nil
}

func insertCashMovementTx(ctx context.Context, tx pgx.Tx, sessionID int, req CashMovementRequest) (*CashMovement, error) {
	m := &CashMovement{
		SessionID:   sessionID,
		UserID:      actorUserID(req.Actor),
		Type:        req.Type,
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.Reference,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO cash_movements (session_id, user_id, movement_type, amount, description, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, sessionID, m.UserID, string(m.Type), m.Amount, m.Description, nullableString(m.Reference)).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, classifyStoreError("insert cash movement", err)
	}
	return m, nil
}

func listCashMovements(ctx context.Context, q pgxRowQuerier, sessionID int) ([]CashMovement, error) {
	rows, err := q.Query(ctx, `
		SELECT id, session_id, user_id, movement_type, amount, description, reference, created_at
		FROM cash_movements
		WHERE session_id = $1
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, classifyStoreError("query cash movements", err)
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
	return movements, rows.Err()
}

func scanCashMovement(row pgx.Row) (*CashMovement, error) {
	var m CashMovement
	var ref *string
	if err := row.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Type, &m.Amount, &m.Description, &ref, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan cash movement: %w", err)
	}
	if ref != nil {
		m.Reference = *ref
	}
	return &m, nil
}
