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

func (s *Store) SaveActiveCart(ctx context.Context, cart domain.Cart) error {
	payload, err := encode(cart)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO active_carts (store_id, cashier_id, payload) VALUES (?, ?, ?)
		ON CONFLICT(store_id, cashier_id) DO UPDATE SET payload = excluded.payload
	`, cart.StoreID, cart.CashierID, payload)
	if err != nil {
		return fmt.Errorf("save active cart: %w", err)
	}
	return nil
}

func (s *Store) ActiveCart(ctx context.Context, storeID string, cashierID string) (*domain.Cart, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM active_carts WHERE store_id = ? AND cashier_id = ?
	`, storeID, cashierID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active cart: %w", err)
	}
	var cart domain.Cart
	if err := decode(raw, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (s *Store) ListActiveCarts(ctx context.Context, storeID string) ([]domain.Cart, error) {
	return listActiveCarts(ctx, s.db, storeID)
}

func listActiveCarts(ctx context.Context, q queryer, storeID string) ([]domain.Cart, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT payload FROM active_carts WHERE store_id = ? ORDER BY cashier_id
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("list active carts: %w", err)
	}
	defer rows.Close()
	return scanCarts(rows)
}

func scanCarts(rows *sql.Rows) ([]domain.Cart, error) {
	out := make([]domain.Cart, 0, 4)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var cart domain.Cart
		if err := decode(raw, &cart); err != nil {
			return nil, err
		}
		out = append(out, cart)
	}
	return out, rows.Err()
}

func (s *Store) DeleteActiveCart(ctx context.Context, storeID string, cashierID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_carts WHERE store_id = ? AND cashier_id = ?`, storeID, cashierID)
	if err != nil {
		return fmt.Errorf("delete active cart: %w", err)
	}
	return nil
}

// ParkActiveCarts moves every non-empty active cart of the store into the
// pending cart list in one database transaction.
func (s *Store) ParkActiveCarts(ctx context.Context, storeID string, at time.Time) ([]domain.Cart, error) {
	var parked []domain.Cart
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		carts, err := listActiveCarts(ctx, tx, storeID)
		if err != nil {
			return err
		}
		parked = make([]domain.Cart, 0, len(carts))
		for _, cart := range carts {
			if len(cart.Items) > 0 {
				cart.Status = domain.CartStatusHeld
				cart.UpdatedAt = at.UTC()
				if err := insertPendingCart(ctx, tx, cart); err != nil {
					return err
				}
				parked = append(parked, cart)
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM active_carts WHERE store_id = ? AND cashier_id = ?
			`, cart.StoreID, cart.CashierID); err != nil {
				return fmt.Errorf("clear active cart: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parked, nil
}

func insertPendingCart(ctx context.Context, q queryer, cart domain.Cart) error {
	payload, err := encode(cart)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO pending_carts (id, store_id, status, created_at, payload) VALUES (?, ?, ?, ?, ?)
	`, cart.ID, cart.StoreID, cart.Status, formatTime(cart.CreatedAt), payload)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("pending cart %s: %w", cart.ID, localstore.ErrConflict)
		}
		return fmt.Errorf("insert pending cart: %w", err)
	}
	return nil
}

func (s *Store) PutPendingCart(ctx context.Context, cart domain.Cart) error {
	return insertPendingCart(ctx, s.db, cart)
}

func getPendingCart(ctx context.Context, q queryer, id string) (*domain.Cart, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT payload FROM pending_carts WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending cart %s: %w", id, err)
	}
	var cart domain.Cart
	if err := decode(raw, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (s *Store) GetPendingCart(ctx context.Context, id string) (*domain.Cart, error) {
	return getPendingCart(ctx, s.db, id)
}

func (s *Store) ListPendingCarts(ctx context.Context, storeID string, status string) ([]domain.Cart, error) {
	query := `SELECT payload FROM pending_carts WHERE 1 = 1`
	args := make([]any, 0, 2)
	if storeID != "" {
		query += " AND store_id = ?"
		args = append(args, storeID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending carts: %w", err)
	}
	defer rows.Close()
	return scanCarts(rows)
}

func (s *Store) SetPendingCartStatus(ctx context.Context, id string, status string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cart, err := getPendingCart(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := localstore.NextCartStatus(cart.Status, status); err != nil {
			return fmt.Errorf("pending cart %s %s -> %s: %w", id, cart.Status, status, err)
		}
		cart.Status = status
		cart.UpdatedAt = at.UTC()
		payload, err := encode(cart)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_carts SET status = ?, payload = ? WHERE id = ?
		`, status, payload, id); err != nil {
			return fmt.Errorf("update pending cart %s: %w", id, err)
		}
		return nil
	})
}
