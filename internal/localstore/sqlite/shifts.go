package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
)

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) error {
	payload, err := encode(shift)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shifts (local_id, store_id, cashier_id, operational_date, status, number, opened_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, shift.LocalID, shift.StoreID, shift.CashierID, shift.OperationalDate, shift.Status, shift.Number, formatTime(shift.OpenedAt), payload)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("shift %s for %s/%s: %w", shift.LocalID, shift.StoreID, shift.CashierID, localstore.ErrConflict)
		}
		return fmt.Errorf("insert shift: %w", err)
	}
	return nil
}

func getShift(ctx context.Context, q queryer, localID string) (*domain.Shift, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT payload FROM shifts WHERE local_id = ?`, localID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shift %s: %w", localID, err)
	}
	var shift domain.Shift
	if err := decode(raw, &shift); err != nil {
		return nil, err
	}
	return &shift, nil
}

func writeShift(ctx context.Context, q queryer, shift domain.Shift) error {
	payload, err := encode(shift)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE shifts SET status = ?, payload = ? WHERE local_id = ?
	`, shift.Status, payload, shift.LocalID)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("shift %s: %w", shift.LocalID, localstore.ErrConflict)
		}
		return fmt.Errorf("update shift %s: %w", shift.LocalID, err)
	}
	return nil
}

func (s *Store) UpdateShift(ctx context.Context, shift domain.Shift) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getShift(ctx, tx, shift.LocalID)
		if err != nil {
			return err
		}
		if current.Status == domain.ShiftStatusClosed && shift.Status != domain.ShiftStatusClosed {
			return fmt.Errorf("reopen shift %s: %w", shift.LocalID, localstore.ErrIllegalTransition)
		}
		return writeShift(ctx, tx, shift)
	})
}

func (s *Store) MarkShiftSynced(ctx context.Context, localID string, serverID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getShift(ctx, tx, localID)
		if err != nil {
			return err
		}
		if serverID != "" {
			current.ServerID = serverID
		}
		current.SyncStatus = domain.SyncSynced
		return writeShift(ctx, tx, *current)
	})
}

func (s *Store) GetShift(ctx context.Context, localID string) (*domain.Shift, error) {
	return getShift(ctx, s.db, localID)
}

func (s *Store) ActiveShift(ctx context.Context, storeID string, cashierID string) (*domain.Shift, error) {
	var localID string
	err := s.db.QueryRowContext(ctx, `
		SELECT local_id FROM shifts WHERE store_id = ? AND cashier_id = ? AND status = ?
	`, storeID, cashierID, domain.ShiftStatusActive).Scan(&localID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active shift: %w", err)
	}
	return getShift(ctx, s.db, localID)
}

func (s *Store) ListShifts(ctx context.Context, filter localstore.ShiftFilter) ([]domain.Shift, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.StoreID != "" {
		clauses = append(clauses, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if filter.OperationalDate != "" {
		clauses = append(clauses, "operational_date = ?")
		args = append(args, filter.OperationalDate)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	query := `SELECT payload FROM shifts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY opened_at, local_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Shift, 0, 8)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var shift domain.Shift
		if err := decode(raw, &shift); err != nil {
			return nil, err
		}
		out = append(out, shift)
	}
	return out, rows.Err()
}

func (s *Store) NextShiftNumber(ctx context.Context, storeID string, cashierID string) (int, error) {
	var highest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(number) FROM shifts WHERE store_id = ? AND cashier_id = ?
	`, storeID, cashierID).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("next shift number: %w", err)
	}
	return int(highest.Int64) + 1, nil
}

func (s *Store) EnqueueShiftOp(ctx context.Context, op domain.PendingShiftOp) error {
	snapshot, err := encode(op.Snapshot)
	if err != nil {
		return err
	}
	createdAt := op.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shift_ops (id, shift_local_id, op, sync_status, error, attempts, created_at, updated_at, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(shift_local_id, op) DO NOTHING
	`, op.ID, op.ShiftLocalID, op.Op, op.SyncStatus, op.Error, op.Attempts, formatTime(createdAt), formatTime(createdAt), snapshot)
	if err != nil {
		return fmt.Errorf("enqueue shift op: %w", err)
	}
	return nil
}

func (s *Store) ListShiftOps(ctx context.Context, statuses ...string) ([]domain.PendingShiftOp, error) {
	query := `
		SELECT id, shift_local_id, op, sync_status, error, attempts, created_at, updated_at, snapshot
		FROM shift_ops`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE sync_status IN (" + strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",") + ")"
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at, CASE op WHEN 'OPEN' THEN 0 ELSE 1 END, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shift ops: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PendingShiftOp, 0, 8)
	for rows.Next() {
		var (
			op                   domain.PendingShiftOp
			createdAt, updatedAt string
			snapshot             string
		)
		if err := rows.Scan(&op.ID, &op.ShiftLocalID, &op.Op, &op.SyncStatus, &op.Error, &op.Attempts, &createdAt, &updatedAt, &snapshot); err != nil {
			return nil, err
		}
		if op.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if op.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if err := decode(snapshot, &op.Snapshot); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) MarkShiftOp(ctx context.Context, id string, syncStatus string, errMsg string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT sync_status FROM shift_ops WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return localstore.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get shift op %s: %w", id, err)
		}
		if current == domain.SyncSynced && syncStatus != domain.SyncSynced {
			return fmt.Errorf("shift op %s: %w", id, localstore.ErrIllegalTransition)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE shift_ops
			SET sync_status = ?, error = ?, attempts = attempts + 1, updated_at = ?
			WHERE id = ?
		`, syncStatus, errMsg, formatTime(time.Now()), id)
		if err != nil {
			return fmt.Errorf("mark shift op %s: %w", id, err)
		}
		return nil
	})
}
