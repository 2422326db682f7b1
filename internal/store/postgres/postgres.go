package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Repository = (*Store)(nil)

// New connects to databaseURL and applies the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// sinceFilter returns the WHERE clause selecting rows changed after since,
// using placeholder $n.
func sinceFilter(since *time.Time, n int) (string, []any) {
	if since == nil {
		return "deleted_at IS NULL", nil
	}
	return fmt.Sprintf("(updated_at > $%d OR deleted_at > $%d)", n, n), []any{since.UTC()}
}

func appendChange[T any](out *domain.Delta[T], since *time.Time, id string, createdAt time.Time, deletedAt sql.NullTime, value T) {
	switch {
	case deletedAt.Valid:
		if since != nil && deletedAt.Time.After(*since) {
			out.Deleted = append(out.Deleted, id)
		}
	case since == nil || createdAt.After(*since):
		out.Created = append(out.Created, value)
	default:
		out.Updated = append(out.Updated, value)
	}
}

func newDelta[T any]() domain.Delta[T] {
	return domain.Delta[T]{Created: []T{}, Updated: []T{}, Deleted: []string{}}
}

func (s *Store) CategoryChanges(ctx context.Context, since *time.Time) (domain.Delta[domain.Category], error) {
	where, args := sinceFilter(since, 1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(parent_id, ''), created_at, updated_at, deleted_at
		FROM categories
		WHERE `+where+`
		ORDER BY id
	`, args...)
	if err != nil {
		return domain.Delta[domain.Category]{}, err
	}
	defer rows.Close()

	out := newDelta[domain.Category]()
	for rows.Next() {
		var (
			c         domain.Category
			createdAt time.Time
			deletedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID, &createdAt, &c.UpdatedAt, &deletedAt); err != nil {
			return domain.Delta[domain.Category]{}, err
		}
		c.UpdatedAt = c.UpdatedAt.UTC()
		appendChange(&out, since, c.ID, createdAt, deletedAt, c)
	}
	return out, rows.Err()
}

func (s *Store) ProductChanges(ctx context.Context, since *time.Time) (domain.Delta[domain.Product], error) {
	where, args := sinceFilter(since, 1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category_id, price, tax_rate, active, created_at, updated_at, deleted_at
		FROM products
		WHERE `+where+`
		ORDER BY id
	`, args...)
	if err != nil {
		return domain.Delta[domain.Product]{}, err
	}
	defer rows.Close()

	out := newDelta[domain.Product]()
	for rows.Next() {
		var (
			p         domain.Product
			createdAt time.Time
			deletedAt sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.TaxRate, &p.Active, &createdAt, &p.UpdatedAt, &deletedAt); err != nil {
			return domain.Delta[domain.Product]{}, err
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		appendChange(&out, since, p.ID, createdAt, deletedAt, p)
	}
	return out, rows.Err()
}

func (s *Store) StockChanges(ctx context.Context, storeID string, since *time.Time) (domain.Delta[domain.StockLevel], error) {
	where, args := sinceFilter(since, 2)
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, store_id, qty, created_at, updated_at, deleted_at
		FROM stock_levels
		WHERE store_id = $1 AND `+where+`
		ORDER BY product_id
	`, append([]any{storeID}, args...)...)
	if err != nil {
		return domain.Delta[domain.StockLevel]{}, err
	}
	defer rows.Close()

	out := newDelta[domain.StockLevel]()
	for rows.Next() {
		var (
			level     domain.StockLevel
			createdAt time.Time
			deletedAt sql.NullTime
		)
		if err := rows.Scan(&level.ProductID, &level.StoreID, &level.Quantity, &createdAt, &level.UpdatedAt, &deletedAt); err != nil {
			return domain.Delta[domain.StockLevel]{}, err
		}
		level.UpdatedAt = level.UpdatedAt.UTC()
		appendChange(&out, since, level.ProductID, createdAt, deletedAt, level)
	}
	return out, rows.Err()
}

func (s *Store) DiscountChanges(ctx context.Context, since *time.Time) (domain.Delta[domain.Discount], error) {
	where, args := sinceFilter(since, 1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, type, value, min_subtotal, active, starts_at, ends_at, created_at, updated_at, deleted_at
		FROM discounts
		WHERE `+where+`
		ORDER BY id
	`, args...)
	if err != nil {
		return domain.Delta[domain.Discount]{}, err
	}
	defer rows.Close()

	out := newDelta[domain.Discount]()
	for rows.Next() {
		var (
			d                domain.Discount
			startsAt, endsAt sql.NullTime
			createdAt        time.Time
			deletedAt        sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.Type, &d.Value, &d.MinSubtotal, &d.Active, &startsAt, &endsAt, &createdAt, &d.UpdatedAt, &deletedAt); err != nil {
			return domain.Delta[domain.Discount]{}, err
		}
		d.StartsAt = timePtr(startsAt)
		d.EndsAt = timePtr(endsAt)
		d.UpdatedAt = d.UpdatedAt.UTC()
		appendChange(&out, since, d.ID, createdAt, deletedAt, d)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCategory(ctx context.Context, category domain.Category) error {
	if strings.TrimSpace(category.ID) == "" || strings.TrimSpace(category.Name) == "" {
		return store.ErrInvalidTransaction
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, parent_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, parent_id = EXCLUDED.parent_id, updated_at = EXCLUDED.updated_at, deleted_at = NULL
	`, category.ID, category.Name, nullIfEmpty(category.ParentID), now)
	return err
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() {
		return store.ErrInvalidTransaction
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, category_id, price, tax_rate, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		ON CONFLICT (id) DO UPDATE
		SET sku = EXCLUDED.sku, name = EXCLUDED.name, category_id = EXCLUDED.category_id,
			price = EXCLUDED.price, tax_rate = EXCLUDED.tax_rate, active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at, deleted_at = NULL
	`, product.ID, product.SKU, product.Name, product.CategoryID, product.Price, product.TaxRate, product.Active, now)
	return err
}

func (s *Store) DeleteProduct(ctx context.Context, id string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE products SET deleted_at = $2, updated_at = $2
			WHERE id = $1 AND deleted_at IS NULL
		`, id, at.UTC())
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_levels SET deleted_at = $2, updated_at = $2
			WHERE product_id = $1 AND deleted_at IS NULL
		`, id, at.UTC())
		return err
	})
}

func (s *Store) UpsertDiscount(ctx context.Context, discount domain.Discount) error {
	if strings.TrimSpace(discount.ID) == "" || strings.TrimSpace(discount.Code) == "" {
		return store.ErrInvalidTransaction
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discounts (id, code, name, type, value, min_subtotal, active, starts_at, ends_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		ON CONFLICT (id) DO UPDATE
		SET code = EXCLUDED.code, name = EXCLUDED.name, type = EXCLUDED.type, value = EXCLUDED.value,
			min_subtotal = EXCLUDED.min_subtotal, active = EXCLUDED.active, starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at, updated_at = EXCLUDED.updated_at, deleted_at = NULL
	`, discount.ID, strings.ToUpper(discount.Code), discount.Name, discount.Type, discount.Value, discount.MinSubtotal,
		discount.Active, nullTime(discount.StartsAt), nullTime(discount.EndsAt), now)
	return err
}

func (s *Store) SetStock(ctx context.Context, storeID string, productID string, qty int) error {
	if storeID == "" || productID == "" || qty < 0 {
		return store.ErrInvalidTransaction
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_levels (store_id, product_id, qty, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (store_id, product_id) DO UPDATE
		SET qty = EXCLUDED.qty, updated_at = EXCLUDED.updated_at, deleted_at = NULL
	`, storeID, productID, qty, now)
	return err
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category_id, price, tax_rate, active, updated_at
		FROM products
		WHERE deleted_at IS NULL AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.TaxRate, &p.Active, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, password, pin_hash, role, store_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	`, user.ID, user.Username, user.Password, user.PINHash, user.Role, user.StoreID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, pin_hash, role, store_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.PINHash, &user.Role, &user.StoreID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func encodePayload(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return payload, nil
}

func decodePayload(raw []byte, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isWriteConflict reports a unique violation or a serialization failure.
func isWriteConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" || pgErr.Code == "40001"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
