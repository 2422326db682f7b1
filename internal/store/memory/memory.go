package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/xid"
)

// entry tracks the lifecycle timestamps a delta pull needs.
type entry[T any] struct {
	value     T
	createdAt time.Time
	updatedAt time.Time
	deletedAt *time.Time
}

type Store struct {
	mu               sync.RWMutex
	now              func() time.Time
	categories       map[string]*entry[domain.Category]
	products         map[string]*entry[domain.Product]
	stock            map[string]map[string]*entry[domain.StockLevel]
	discounts        map[string]*entry[domain.Discount]
	transactionsByID map[string]*domain.Transaction
	transactionOrder []string
	numberSeq        map[string]int
	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
	dayCloses        map[string]domain.DayClose
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		now:              time.Now,
		categories:       make(map[string]*entry[domain.Category]),
		products:         make(map[string]*entry[domain.Product]),
		stock:            make(map[string]map[string]*entry[domain.StockLevel]),
		discounts:        make(map[string]*entry[domain.Discount]),
		transactionsByID: make(map[string]*domain.Transaction),
		numberSeq:        make(map[string]int),
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByKey: make(map[string]string),
		dayCloses:        make(map[string]domain.DayClose),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

func (s *Store) CategoryChanges(_ context.Context, since *time.Time) (domain.Delta[domain.Category], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return delta(s.categories, since), nil
}

func (s *Store) ProductChanges(_ context.Context, since *time.Time) (domain.Delta[domain.Product], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return delta(s.products, since), nil
}

func (s *Store) StockChanges(_ context.Context, storeID string, since *time.Time) (domain.Delta[domain.StockLevel], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return delta(s.stock[storeID], since), nil
}

func (s *Store) DiscountChanges(_ context.Context, since *time.Time) (domain.Delta[domain.Discount], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return delta(s.discounts, since), nil
}

// delta classifies entries against since. Records created and deleted after
// since appear only as deleted.
func delta[T any](entries map[string]*entry[T], since *time.Time) domain.Delta[T] {
	out := domain.Delta[T]{Created: []T{}, Updated: []T{}, Deleted: []string{}}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		e := entries[id]
		switch {
		case e.deletedAt != nil:
			if since != nil && e.deletedAt.After(*since) {
				out.Deleted = append(out.Deleted, id)
			}
		case since == nil || e.createdAt.After(*since):
			out.Created = append(out.Created, e.value)
		case e.updatedAt.After(*since):
			out.Updated = append(out.Updated, e.value)
		}
	}
	return out
}

func (s *Store) UpsertCategory(_ context.Context, category domain.Category) error {
	if strings.TrimSpace(category.ID) == "" || strings.TrimSpace(category.Name) == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	category.UpdatedAt = now
	if e, ok := s.categories[category.ID]; ok && e.deletedAt == nil {
		e.value = category
		e.updatedAt = now
		return nil
	}
	s.categories[category.ID] = &entry[domain.Category]{value: category, createdAt: now, updatedAt: now}
	return nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	product.UpdatedAt = now
	if e, ok := s.products[product.ID]; ok && e.deletedAt == nil {
		e.value = product
		e.updatedAt = now
		return nil
	}
	s.products[product.ID] = &entry[domain.Product]{value: product, createdAt: now, updatedAt: now}
	return nil
}

func (s *Store) DeleteProduct(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.products[id]
	if !ok || e.deletedAt != nil {
		return store.ErrNotFound
	}
	at = at.UTC()
	e.deletedAt = &at
	e.updatedAt = at
	for _, levels := range s.stock {
		if level, ok := levels[id]; ok && level.deletedAt == nil {
			level.deletedAt = &at
			level.updatedAt = at
		}
	}
	return nil
}

func (s *Store) UpsertDiscount(_ context.Context, discount domain.Discount) error {
	if strings.TrimSpace(discount.ID) == "" || strings.TrimSpace(discount.Code) == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	discount.Code = strings.ToUpper(discount.Code)
	discount.UpdatedAt = now
	if e, ok := s.discounts[discount.ID]; ok && e.deletedAt == nil {
		e.value = discount
		e.updatedAt = now
		return nil
	}
	s.discounts[discount.ID] = &entry[domain.Discount]{value: discount, createdAt: now, updatedAt: now}
	return nil
}

func (s *Store) SetStock(_ context.Context, storeID string, productID string, qty int) error {
	if storeID == "" || productID == "" || qty < 0 {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.products[productID]; !ok || e.deletedAt != nil {
		return store.ErrNotFound
	}
	s.putStock(storeID, productID, qty, s.now().UTC())
	return nil
}

// putStock requires s.mu held for writing.
func (s *Store) putStock(storeID string, productID string, qty int, at time.Time) {
	levels, ok := s.stock[storeID]
	if !ok {
		levels = make(map[string]*entry[domain.StockLevel])
		s.stock[storeID] = levels
	}
	level := domain.StockLevel{ProductID: productID, StoreID: storeID, Quantity: qty, UpdatedAt: at}
	if e, ok := levels[productID]; ok && e.deletedAt == nil {
		e.value = level
		e.updatedAt = at
		return
	}
	levels[productID] = &entry[domain.StockLevel]{value: level, createdAt: at, updatedAt: at}
}

func (s *Store) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if e, ok := s.products[id]; ok && e.deletedAt == nil {
			out[id] = e.value
		}
	}
	return out, nil
}

func (s *Store) FindTransactionByClientID(_ context.Context, clientID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[clientID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) RecordTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ClientID == "" || tx.StoreID == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transactionsByID[tx.ClientID]; ok {
		return cloneTransaction(existing), nil
	}

	required := make(map[string]int, len(tx.Items))
	order := make([]string, 0, len(tx.Items))
	for _, item := range tx.Items {
		if item.Quantity < 1 || item.ProductID == "" {
			return nil, store.ErrInvalidTransaction
		}
		if _, seen := required[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		required[item.ProductID] += item.Quantity
	}

	now := s.now().UTC()
	levels := s.stock[tx.StoreID]
	if tx.IsSale() {
		issues := make([]domain.StockIssue, 0)
		for _, productID := range order {
			available := 0
			if e, ok := levels[productID]; ok && e.deletedAt == nil {
				available = e.value.Quantity
			}
			if available < required[productID] {
				issues = append(issues, domain.StockIssue{ProductID: productID, Requested: required[productID], Available: available})
			}
		}
		if len(issues) > 0 {
			return nil, &store.StockShortfallError{Issues: issues}
		}
		for _, productID := range order {
			e := levels[productID]
			s.putStock(tx.StoreID, productID, e.value.Quantity-required[productID], now)
		}
	} else if tx.Status == domain.TxStatusVoided {
		for _, productID := range order {
			current := 0
			if e, ok := levels[productID]; ok && e.deletedAt == nil {
				current = e.value.Quantity
			}
			s.putStock(tx.StoreID, productID, current+required[productID], now)
		}
	}

	if tx.ServerID == "" {
		tx.ServerID = xid.New("trx")
	}
	seqKey := tx.StoreID + "|" + tx.OperationalDate
	s.numberSeq[seqKey]++
	tx.TransactionNumber = store.TransactionNumber(tx.OperationalDate, s.numberSeq[seqKey])
	if tx.SyncedAt == nil {
		tx.SyncedAt = &now
	}
	tx.SyncStatus = domain.SyncSynced
	tx.Rejection = nil

	saved := cloneTransaction(&tx)
	s.transactionsByID[tx.ClientID] = saved
	s.transactionOrder = append(s.transactionOrder, tx.ClientID)
	return cloneTransaction(saved), nil
}

func (s *Store) ListTransactions(_ context.Context, storeID string, date string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0, 32)
	for _, id := range s.transactionOrder {
		tx := s.transactionsByID[id]
		if tx.StoreID != storeID || (date != "" && tx.OperationalDate != date) {
			continue
		}
		out = append(out, *cloneTransaction(tx))
	}
	return out, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.LocalID) == "" || strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.CashierID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.shiftsByID[shift.LocalID]; exists {
		return nil, store.ErrConflict
	}
	key := shiftMapKey(shift.StoreID, shift.CashierID)
	if shift.Status == domain.ShiftStatusActive {
		if _, exists := s.activeShiftByKey[key]; exists {
			return nil, store.ErrConflict
		}
		s.activeShiftByKey[key] = shift.LocalID
	}
	if shift.ServerID == "" {
		shift.ServerID = xid.New("shift")
	}
	shift.SyncStatus = domain.SyncSynced
	s.shiftsByID[shift.LocalID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetShift(_ context.Context, localID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[localID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) UpdateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.shiftsByID[shift.LocalID]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift.ServerID = current.ServerID
	shift.SyncStatus = domain.SyncSynced
	key := shiftMapKey(current.StoreID, current.CashierID)
	if shift.Status != domain.ShiftStatusActive && s.activeShiftByKey[key] == shift.LocalID {
		delete(s.activeShiftByKey, key)
	}
	s.shiftsByID[shift.LocalID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) ListShifts(_ context.Context, storeID string, date string) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Shift, 0, len(s.shiftsByID))
	for _, shift := range s.shiftsByID {
		if shift.StoreID != storeID || (date != "" && shift.OperationalDate != date) {
			continue
		}
		out = append(out, shift)
	}
	slices.SortFunc(out, func(a, b domain.Shift) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return strings.Compare(a.LocalID, b.LocalID)
	})
	return out, nil
}

func (s *Store) GetDayClose(_ context.Context, storeID string, date string) (*domain.DayClose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.dayCloses[storeID+"|"+date]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &record, nil
}

func (s *Store) CreateDayClose(_ context.Context, record domain.DayClose) error {
	if record.StoreID == "" || record.OperationalDate == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.StoreID + "|" + record.OperationalDate
	if _, exists := s.dayCloses[key]; exists {
		return store.ErrConflict
	}
	s.dayCloses[key] = record
	return nil
}

func (s *Store) AttachLateTransaction(_ context.Context, storeID string, date string) (*domain.DayClose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeID + "|" + date
	record, ok := s.dayCloses[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	record.LateTransactions++
	if record.LateTransactions >= record.Summary.UnsyncedTransactions {
		record.SyncStatus = domain.DayCloseClean
	}
	s.dayCloses[key] = record
	return &record, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.auditLogs[i]
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func shiftMapKey(storeID string, cashierID string) string {
	return storeID + "::" + cashierID
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	dup.Payments = slices.Clone(src.Payments)
	dup.Vouchers = slices.Clone(src.Vouchers)
	if src.SyncedAt != nil {
		at := *src.SyncedAt
		dup.SyncedAt = &at
	}
	return &dup
}
