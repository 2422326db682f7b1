package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
)

func scanDay(row rowScanner) (*domain.DayState, error) {
	var (
		day      domain.DayState
		openedAt string
		closedAt sql.NullString
	)
	if err := row.Scan(&day.StoreID, &day.OperationalDate, &day.Status, &openedAt, &closedAt); err != nil {
		return nil, err
	}
	at, err := parseTime(openedAt)
	if err != nil {
		return nil, err
	}
	day.OpenedAt = at
	if closedAt.Valid {
		closed, err := parseTime(closedAt.String)
		if err != nil {
			return nil, err
		}
		day.ClosedAt = &closed
	}
	return &day, nil
}

func currentDay(ctx context.Context, q queryer, storeID string) (*domain.DayState, error) {
	row := q.QueryRowContext(ctx, `
		SELECT store_id, operational_date, status, opened_at, closed_at
		FROM day_states
		WHERE store_id = ? AND status = ?
		ORDER BY operational_date DESC
		LIMIT 1
	`, storeID, domain.DayStatusOpen)
	day, err := scanDay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("current day: %w", err)
	}
	return day, nil
}

func (s *Store) CurrentDay(ctx context.Context, storeID string) (*domain.DayState, error) {
	return currentDay(ctx, s.db, storeID)
}

func (s *Store) EnsureDay(ctx context.Context, storeID string, date string, at time.Time) (*domain.DayState, error) {
	var out *domain.DayState
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := currentDay(ctx, tx, storeID)
		if err == nil {
			out = current
			return nil
		}
		if !errors.Is(err, localstore.ErrNotFound) {
			return err
		}

		var status string
		err = tx.QueryRowContext(ctx, `
			SELECT status FROM day_states WHERE store_id = ? AND operational_date = ?
		`, storeID, date).Scan(&status)
		if err == nil && status == domain.DayStatusClosed {
			return fmt.Errorf("operational day %s already closed: %w", date, localstore.ErrConflict)
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("day state: %w", err)
		}

		day := domain.DayState{StoreID: storeID, OperationalDate: date, Status: domain.DayStatusOpen, OpenedAt: at.UTC()}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO day_states (store_id, operational_date, status, opened_at) VALUES (?, ?, ?, ?)
		`, day.StoreID, day.OperationalDate, day.Status, formatTime(day.OpenedAt)); err != nil {
			return fmt.Errorf("open day: %w", err)
		}
		out = &day
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CommitDayClose stores the day-close record, closes its operational day and
// opens nextDate, all in one database transaction.
func (s *Store) CommitDayClose(ctx context.Context, record domain.DayClose, nextDate string) error {
	payload, err := encode(record)
	if err != nil {
		return err
	}
	closedAt := formatTime(record.ClosedAt)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO day_closes (store_id, operational_date, payload) VALUES (?, ?, ?)
		`, record.StoreID, record.OperationalDate, payload)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("day close %s/%s: %w", record.StoreID, record.OperationalDate, localstore.ErrConflict)
			}
			return fmt.Errorf("insert day close: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO day_states (store_id, operational_date, status, opened_at, closed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(store_id, operational_date) DO UPDATE SET status = excluded.status, closed_at = excluded.closed_at
		`, record.StoreID, record.OperationalDate, domain.DayStatusClosed, closedAt, closedAt); err != nil {
			return fmt.Errorf("close day: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO day_states (store_id, operational_date, status, opened_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(store_id, operational_date) DO NOTHING
		`, record.StoreID, nextDate, domain.DayStatusOpen, closedAt); err != nil {
			return fmt.Errorf("open next day: %w", err)
		}
		return nil
	})
}

func (s *Store) GetDayClose(ctx context.Context, storeID string, date string) (*domain.DayClose, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM day_closes WHERE store_id = ? AND operational_date = ?
	`, storeID, date).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get day close: %w", err)
	}
	var record domain.DayClose
	if err := decode(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
