package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/xid"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findTransaction(ctx context.Context, q queryer, clientID string) (*domain.Transaction, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, `SELECT payload FROM transactions WHERE client_id = $1`, clientID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var tx domain.Transaction
	if err := decodePayload(raw, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) FindTransactionByClientID(ctx context.Context, clientID string) (*domain.Transaction, error) {
	return findTransaction(ctx, s.db, clientID)
}

func (s *Store) RecordTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ClientID == "" || tx.StoreID == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	required := make(map[string]int, len(tx.Items))
	productIDs := make([]string, 0, len(tx.Items))
	for _, item := range tx.Items {
		if item.Quantity < 1 || item.ProductID == "" {
			return nil, store.ErrInvalidTransaction
		}
		if _, seen := required[item.ProductID]; !seen {
			productIDs = append(productIDs, item.ProductID)
		}
		required[item.ProductID] += item.Quantity
	}

	var saved *domain.Transaction
	err := s.withTx(ctx, func(pgTx *sql.Tx) error {
		existing, err := findTransaction(ctx, pgTx, tx.ClientID)
		if err == nil {
			saved = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := s.now().UTC()
		switch {
		case tx.IsSale():
			if err := decrementStock(ctx, pgTx, tx.StoreID, productIDs, required, now); err != nil {
				return err
			}
		case tx.Status == domain.TxStatusVoided:
			for _, productID := range productIDs {
				if _, err := pgTx.ExecContext(ctx, `
					INSERT INTO stock_levels (store_id, product_id, qty, created_at, updated_at)
					VALUES ($1,$2,$3,$4,$4)
					ON CONFLICT (store_id, product_id) DO UPDATE
					SET qty = CASE WHEN stock_levels.deleted_at IS NULL THEN stock_levels.qty ELSE 0 END + EXCLUDED.qty,
						updated_at = EXCLUDED.updated_at, deleted_at = NULL
				`, tx.StoreID, productID, required[productID], now); err != nil {
					return fmt.Errorf("restock %s: %w", productID, err)
				}
			}
		}

		var seq int
		if err := pgTx.QueryRowContext(ctx, `
			INSERT INTO transaction_counters (store_id, operational_date, last)
			VALUES ($1,$2,1)
			ON CONFLICT (store_id, operational_date) DO UPDATE SET last = transaction_counters.last + 1
			RETURNING last
		`, tx.StoreID, tx.OperationalDate).Scan(&seq); err != nil {
			return fmt.Errorf("next transaction number: %w", err)
		}

		if tx.ServerID == "" {
			tx.ServerID = xid.New("trx")
		}
		tx.TransactionNumber = store.TransactionNumber(tx.OperationalDate, seq)
		if tx.SyncedAt == nil {
			tx.SyncedAt = &now
		}
		tx.SyncStatus = domain.SyncSynced
		tx.Rejection = nil

		payload, err := encodePayload(tx)
		if err != nil {
			return err
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO transactions (
				client_id, server_id, transaction_number, store_id, operational_date,
				status, refund_of, total, created_at, synced_at, payload
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, tx.ClientID, tx.ServerID, tx.TransactionNumber, tx.StoreID, tx.OperationalDate,
			tx.Status, nullIfEmpty(tx.RefundOf), tx.Total, tx.CreatedAt.UTC(), tx.SyncedAt.UTC(), payload); err != nil {
			return err
		}
		saved = &tx
		return nil
	})
	if err != nil {
		if isWriteConflict(err) {
			return nil, fmt.Errorf("%w: transaction %s: %v", store.ErrConflict, tx.ClientID, err)
		}
		return nil, err
	}
	return saved, nil
}

func decrementStock(ctx context.Context, pgTx *sql.Tx, storeID string, productIDs []string, required map[string]int, now time.Time) error {
	rows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, qty
		FROM stock_levels
		WHERE store_id = $1 AND product_id = ANY($2) AND deleted_at IS NULL
		FOR UPDATE
	`, storeID, productIDs)
	if err != nil {
		return err
	}
	available := make(map[string]int, len(productIDs))
	for rows.Next() {
		var (
			productID string
			qty       int
		)
		if err := rows.Scan(&productID, &qty); err != nil {
			_ = rows.Close()
			return err
		}
		available[productID] = qty
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	issues := make([]domain.StockIssue, 0)
	for _, productID := range productIDs {
		if available[productID] < required[productID] {
			issues = append(issues, domain.StockIssue{ProductID: productID, Requested: required[productID], Available: available[productID]})
		}
	}
	if len(issues) > 0 {
		return &store.StockShortfallError{Issues: issues}
	}

	for _, productID := range productIDs {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE stock_levels SET qty = qty - $3, updated_at = $4
			WHERE store_id = $1 AND product_id = $2
		`, storeID, productID, required[productID], now); err != nil {
			return fmt.Errorf("decrement %s: %w", productID, err)
		}
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, storeID string, date string) ([]domain.Transaction, error) {
	query := `SELECT payload FROM transactions WHERE store_id = $1`
	args := []any{storeID}
	if date != "" {
		query += ` AND operational_date = $2`
		args = append(args, date)
	}
	query += ` ORDER BY synced_at, client_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var tx domain.Transaction
		if err := decodePayload(raw, &tx); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.LocalID) == "" || strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.CashierID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if shift.ServerID == "" {
		shift.ServerID = xid.New("shift")
	}
	shift.SyncStatus = domain.SyncSynced

	payload, err := encodePayload(shift)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shifts (local_id, server_id, store_id, cashier_id, operational_date, status, opened_at, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, shift.LocalID, shift.ServerID, shift.StoreID, shift.CashierID, shift.OperationalDate, shift.Status, shift.OpenedAt.UTC(), payload)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func getShift(ctx context.Context, q queryer, localID string) (*domain.Shift, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, `SELECT payload FROM shifts WHERE local_id = $1`, localID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var shift domain.Shift
	if err := decodePayload(raw, &shift); err != nil {
		return nil, err
	}
	return &shift, nil
}

func (s *Store) GetShift(ctx context.Context, localID string) (*domain.Shift, error) {
	return getShift(ctx, s.db, localID)
}

func (s *Store) UpdateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	var saved *domain.Shift
	err := s.withTx(ctx, func(pgTx *sql.Tx) error {
		current, err := getShift(ctx, pgTx, shift.LocalID)
		if err != nil {
			return err
		}
		shift.ServerID = current.ServerID
		shift.SyncStatus = domain.SyncSynced
		payload, err := encodePayload(shift)
		if err != nil {
			return err
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE shifts SET status = $2, payload = $3 WHERE local_id = $1
		`, shift.LocalID, shift.Status, payload); err != nil {
			return err
		}
		saved = &shift
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) ListShifts(ctx context.Context, storeID string, date string) ([]domain.Shift, error) {
	query := `SELECT payload FROM shifts WHERE store_id = $1`
	args := []any{storeID}
	if date != "" {
		query += ` AND operational_date = $2`
		args = append(args, date)
	}
	query += ` ORDER BY opened_at, local_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Shift, 0, 8)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var shift domain.Shift
		if err := decodePayload(raw, &shift); err != nil {
			return nil, err
		}
		out = append(out, shift)
	}
	return out, rows.Err()
}

func (s *Store) GetDayClose(ctx context.Context, storeID string, date string) (*domain.DayClose, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM day_closes WHERE store_id = $1 AND operational_date = $2
	`, storeID, date).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var record domain.DayClose
	if err := decodePayload(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) CreateDayClose(ctx context.Context, record domain.DayClose) error {
	if record.StoreID == "" || record.OperationalDate == "" {
		return store.ErrInvalidTransaction
	}
	payload, err := encodePayload(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO day_closes (store_id, operational_date, closed_at, payload) VALUES ($1,$2,$3,$4)
	`, record.StoreID, record.OperationalDate, record.ClosedAt.UTC(), payload)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) AttachLateTransaction(ctx context.Context, storeID string, date string) (*domain.DayClose, error) {
	var saved *domain.DayClose
	err := s.withTx(ctx, func(pgTx *sql.Tx) error {
		var raw []byte
		err := pgTx.QueryRowContext(ctx, `
			SELECT payload FROM day_closes WHERE store_id = $1 AND operational_date = $2 FOR UPDATE
		`, storeID, date).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var record domain.DayClose
		if err := decodePayload(raw, &record); err != nil {
			return err
		}
		record.LateTransactions++
		if record.LateTransactions >= record.Summary.UnsyncedTransactions {
			record.SyncStatus = domain.DayCloseClean
		}
		payload, err := encodePayload(record)
		if err != nil {
			return err
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE day_closes SET payload = $3 WHERE store_id = $1 AND operational_date = $2
		`, storeID, date, payload); err != nil {
			return err
		}
		saved = &record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}
