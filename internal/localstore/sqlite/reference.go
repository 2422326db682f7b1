package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
)

const (
	tableCategories = "categories"
	tableProducts   = "products"
	tableStock      = "stock"
	tableDiscounts  = "discounts"
)

func categoryKey(c domain.Category) (string, time.Time) { return c.ID, c.UpdatedAt }
func productKey(p domain.Product) (string, time.Time)   { return p.ID, p.UpdatedAt }
func stockKey(l domain.StockLevel) (string, time.Time)  { return l.ProductID, l.UpdatedAt }
func discountKey(d domain.Discount) (string, time.Time) { return d.ID, d.UpdatedAt }

func (s *Store) ApplyCategories(ctx context.Context, delta domain.Delta[domain.Category]) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return applyDelta(ctx, tx, tableCategories, delta, categoryKey)
	})
}

func (s *Store) ApplyProducts(ctx context.Context, delta domain.Delta[domain.Product]) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return applyDelta(ctx, tx, tableProducts, delta, productKey)
	})
}

func (s *Store) ApplyStock(ctx context.Context, delta domain.Delta[domain.StockLevel]) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return applyDelta(ctx, tx, tableStock, delta, stockKey)
	})
}

func (s *Store) ApplyDiscounts(ctx context.Context, delta domain.Delta[domain.Discount]) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return applyDelta(ctx, tx, tableDiscounts, delta, discountKey)
	})
}

// ApplyPull writes the named collections of a pull response and the new
// watermark in one transaction.
func (s *Store) ApplyPull(ctx context.Context, collections []string, resp domain.PullResponse, watermark *time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, collection := range collections {
			var err error
			switch collection {
			case domain.CollectionCategories:
				err = applyDelta(ctx, tx, tableCategories, resp.Categories, categoryKey)
			case domain.CollectionProducts:
				err = applyDelta(ctx, tx, tableProducts, resp.Products, productKey)
			case domain.CollectionStock:
				err = applyDelta(ctx, tx, tableStock, resp.Stock, stockKey)
			case domain.CollectionDiscounts:
				err = applyDelta(ctx, tx, tableDiscounts, resp.Discounts, discountKey)
			default:
				err = fmt.Errorf("unknown collection %q", collection)
			}
			if err != nil {
				return err
			}
		}
		if watermark == nil {
			return nil
		}
		return setWatermark(ctx, tx, *watermark)
	})
}

func applyDelta[T any](ctx context.Context, tx *sql.Tx, table string, delta domain.Delta[T], key func(T) (string, time.Time)) error {
	upsert := fmt.Sprintf(`
		INSERT INTO %s (id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, table)
	remove := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)

	for _, batch := range [][]T{delta.Created, delta.Updated} {
		for _, item := range batch {
			id, updatedAt := key(item)
			if id == "" {
				return fmt.Errorf("apply %s: record without id", table)
			}
			payload, err := encode(item)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, upsert, id, payload, formatTime(updatedAt)); err != nil {
				return fmt.Errorf("apply %s %s: %w", table, id, err)
			}
		}
	}
	for _, id := range delta.Deleted {
		if _, err := tx.ExecContext(ctx, remove, id); err != nil {
			return fmt.Errorf("delete %s %s: %w", table, id, err)
		}
	}
	return nil
}

func listPayloads[T any](ctx context.Context, db *sql.DB, table string) ([]T, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT payload FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]T, 0, 64)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var item T
		if err := decode(raw, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func getPayload[T any](ctx context.Context, db *sql.DB, table string, id string) (*T, error) {
	var raw string
	err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT payload FROM %s WHERE id = ?`, table), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", table, id, err)
	}
	var item T
	if err := decode(raw, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	out, err := listPayloads[domain.Category](ctx, s.db, tableCategories)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.Category) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	out, err := listPayloads[domain.Product](ctx, s.db, tableProducts)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.SKU, b.SKU) })
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getPayload[domain.Product](ctx, s.db, tableProducts, id)
}

func (s *Store) GetStock(ctx context.Context, productID string) (*domain.StockLevel, error) {
	return getPayload[domain.StockLevel](ctx, s.db, tableStock, productID)
}

func (s *Store) ListDiscounts(ctx context.Context) ([]domain.Discount, error) {
	out, err := listPayloads[domain.Discount](ctx, s.db, tableDiscounts)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.Discount) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (s *Store) GetDiscountByCode(ctx context.Context, code string) (*domain.Discount, error) {
	discounts, err := s.ListDiscounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range discounts {
		if strings.EqualFold(d.Code, code) {
			return &d, nil
		}
	}
	return nil, localstore.ErrNotFound
}
