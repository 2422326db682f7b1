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

func (s *Store) PutTransaction(ctx context.Context, tx domain.Transaction) error {
	payload, err := encode(tx)
	if err != nil {
		return err
	}
	enqueuedAt := tx.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = tx.CreatedAt
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (client_id, store_id, operational_date, sync_status, created_at, enqueued_at, attempts, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ClientID, tx.StoreID, tx.OperationalDate, tx.SyncStatus, formatTime(tx.CreatedAt), formatTime(enqueuedAt), tx.Attempts, payload)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("transaction %s: %w", tx.ClientID, localstore.ErrConflict)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

const transactionColumns = `payload, enqueued_at, attempts`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		raw        string
		enqueuedAt string
		attempts   int
		tx         domain.Transaction
	)
	if err := row.Scan(&raw, &enqueuedAt, &attempts); err != nil {
		return domain.Transaction{}, err
	}
	if err := decode(raw, &tx); err != nil {
		return domain.Transaction{}, err
	}
	at, err := parseTime(enqueuedAt)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parse enqueued_at: %w", err)
	}
	tx.EnqueuedAt = at
	tx.Attempts = attempts
	return tx, nil
}

func getTransaction(ctx context.Context, q queryer, clientID string) (*domain.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE client_id = ?`, clientID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", clientID, err)
	}
	return &tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, clientID string) (*domain.Transaction, error) {
	return getTransaction(ctx, s.db, clientID)
}

func (s *Store) ListTransactions(ctx context.Context, filter localstore.TxFilter) ([]domain.Transaction, error) {
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
	if len(filter.SyncStatuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.SyncStatuses)), ",")
		clauses = append(clauses, "sync_status IN ("+placeholders+")")
		for _, status := range filter.SyncStatuses {
			args = append(args, status)
		}
	}
	if filter.EnqueuedBefore != nil {
		clauses = append(clauses, "enqueued_at < ?")
		args = append(args, formatTime(*filter.EnqueuedBefore))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, client_id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// updateTransaction rewrites one record inside a database transaction. The
// mutate callback sees the current row and returns false to skip the write.
func (s *Store) updateTransaction(ctx context.Context, clientID string, mutate func(tx *domain.Transaction) (bool, error)) error {
	return s.withTx(ctx, func(dbTx *sql.Tx) error {
		current, err := getTransaction(ctx, dbTx, clientID)
		if err != nil {
			return err
		}
		write, err := mutate(current)
		if err != nil || !write {
			return err
		}
		payload, err := encode(current)
		if err != nil {
			return err
		}
		_, err = dbTx.ExecContext(ctx, `
			UPDATE transactions
			SET sync_status = ?, enqueued_at = ?, attempts = ?, payload = ?
			WHERE client_id = ?
		`, current.SyncStatus, formatTime(current.EnqueuedAt), current.Attempts, payload, clientID)
		if err != nil {
			return fmt.Errorf("update transaction %s: %w", clientID, err)
		}
		return nil
	})
}

func (s *Store) MarkSynced(ctx context.Context, accepted domain.PushAccepted) error {
	return s.updateTransaction(ctx, accepted.ClientID, func(tx *domain.Transaction) (bool, error) {
		if tx.SyncStatus == domain.SyncSynced {
			return false, nil
		}
		if !localstore.CanMarkSynced(tx.SyncStatus) {
			return false, fmt.Errorf("mark synced %s from %s: %w", tx.ClientID, tx.SyncStatus, localstore.ErrIllegalTransition)
		}
		syncedAt := accepted.SyncedAt.UTC()
		tx.ServerID = accepted.ServerID
		tx.TransactionNumber = accepted.TransactionNumber
		tx.SyncStatus = domain.SyncSynced
		tx.SyncedAt = &syncedAt
		tx.Rejection = nil
		if tx.Status == domain.TxStatusPendingSync {
			tx.Status = domain.TxStatusCompleted
		}
		return true, nil
	})
}

func (s *Store) MarkRejected(ctx context.Context, clientID string, rejection domain.Rejection) error {
	return s.updateTransaction(ctx, clientID, func(tx *domain.Transaction) (bool, error) {
		if !localstore.CanMarkRejected(tx.SyncStatus) {
			return false, fmt.Errorf("mark rejected %s from %s: %w", clientID, tx.SyncStatus, localstore.ErrIllegalTransition)
		}
		r := rejection
		tx.SyncStatus = domain.SyncRejected
		tx.Rejection = &r
		return true, nil
	})
}

func (s *Store) RecordAttempt(ctx context.Context, clientIDs []string) error {
	if len(clientIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range clientIDs {
			_, err := tx.ExecContext(ctx, `
				UPDATE transactions SET attempts = attempts + 1
				WHERE client_id = ? AND sync_status = ?
			`, id, domain.SyncPending)
			if err != nil {
				return fmt.Errorf("record attempt %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *Store) Requeue(ctx context.Context, clientID string, at time.Time) error {
	return s.updateTransaction(ctx, clientID, func(tx *domain.Transaction) (bool, error) {
		if !localstore.CanRequeue(tx.SyncStatus) {
			return false, fmt.Errorf("requeue %s from %s: %w", clientID, tx.SyncStatus, localstore.ErrIllegalTransition)
		}
		tx.SyncStatus = domain.SyncPending
		tx.Rejection = nil
		tx.Attempts = 0
		tx.EnqueuedAt = at.UTC()
		return true, nil
	})
}

func (s *Store) DeleteTransaction(ctx context.Context, clientID string, expectSyncStatus string) error {
	return s.withTx(ctx, func(dbTx *sql.Tx) error {
		current, err := getTransaction(ctx, dbTx, clientID)
		if err != nil {
			return err
		}
		if current.SyncStatus != expectSyncStatus {
			return fmt.Errorf("delete %s in %s: %w", clientID, current.SyncStatus, localstore.ErrIllegalTransition)
		}
		if _, err := dbTx.ExecContext(ctx, `DELETE FROM transactions WHERE client_id = ?`, clientID); err != nil {
			return fmt.Errorf("delete transaction %s: %w", clientID, err)
		}
		return nil
	})
}
