package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
)

// Store is an in-memory localstore.Store used by tests and by the terminal
// when no database path is configured.
type Store struct {
	mu           sync.RWMutex
	watermark    *time.Time
	categories   map[string]domain.Category
	products     map[string]domain.Product
	stock        map[string]domain.StockLevel
	discounts    map[string]domain.Discount
	transactions map[string]domain.Transaction
	shifts       map[string]domain.Shift
	shiftOps     map[string]domain.PendingShiftOp
	activeCarts  map[string]domain.Cart
	pendingCarts map[string]domain.Cart
	days         map[string]domain.DayState
	dayCloses    map[string]domain.DayClose
}

func New() *Store {
	s := &Store{}
	s.init()
	return s
}

func (s *Store) init() {
	s.watermark = nil
	s.categories = map[string]domain.Category{}
	s.products = map[string]domain.Product{}
	s.stock = map[string]domain.StockLevel{}
	s.discounts = map[string]domain.Discount{}
	s.transactions = map[string]domain.Transaction{}
	s.shifts = map[string]domain.Shift{}
	s.shiftOps = map[string]domain.PendingShiftOp{}
	s.activeCarts = map[string]domain.Cart{}
	s.pendingCarts = map[string]domain.Cart{}
	s.days = map[string]domain.DayState{}
	s.dayCloses = map[string]domain.DayClose{}
}

func (s *Store) Watermark(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.watermark == nil {
		return nil, nil
	}
	at := *s.watermark
	return &at, nil
}

func (s *Store) SetWatermark(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at = at.UTC()
	s.watermark = &at
	return nil
}

func (s *Store) ApplyCategories(_ context.Context, delta domain.Delta[domain.Category]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	applyDelta(s.categories, delta, func(c domain.Category) string { return c.ID })
	return nil
}

func (s *Store) ApplyProducts(_ context.Context, delta domain.Delta[domain.Product]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	applyDelta(s.products, delta, func(p domain.Product) string { return p.ID })
	return nil
}

func (s *Store) ApplyStock(_ context.Context, delta domain.Delta[domain.StockLevel]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	applyDelta(s.stock, delta, func(l domain.StockLevel) string { return l.ProductID })
	return nil
}

func (s *Store) ApplyDiscounts(_ context.Context, delta domain.Delta[domain.Discount]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	applyDelta(s.discounts, delta, func(d domain.Discount) string { return d.ID })
	return nil
}

// ApplyPull checks every record before writing, so a failed pull leaves the
// store untouched.
func (s *Store) ApplyPull(_ context.Context, collections []string, resp domain.PullResponse, watermark *time.Time) error {
	for _, collection := range collections {
		var ok bool
		switch collection {
		case domain.CollectionCategories:
			ok = keyed(resp.Categories, func(c domain.Category) string { return c.ID })
		case domain.CollectionProducts:
			ok = keyed(resp.Products, func(p domain.Product) string { return p.ID })
		case domain.CollectionStock:
			ok = keyed(resp.Stock, func(l domain.StockLevel) string { return l.ProductID })
		case domain.CollectionDiscounts:
			ok = keyed(resp.Discounts, func(d domain.Discount) string { return d.ID })
		default:
			return fmt.Errorf("unknown collection %q", collection)
		}
		if !ok {
			return fmt.Errorf("apply %s: record without id", collection)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, collection := range collections {
		switch collection {
		case domain.CollectionCategories:
			applyDelta(s.categories, resp.Categories, func(c domain.Category) string { return c.ID })
		case domain.CollectionProducts:
			applyDelta(s.products, resp.Products, func(p domain.Product) string { return p.ID })
		case domain.CollectionStock:
			applyDelta(s.stock, resp.Stock, func(l domain.StockLevel) string { return l.ProductID })
		case domain.CollectionDiscounts:
			applyDelta(s.discounts, resp.Discounts, func(d domain.Discount) string { return d.ID })
		}
	}
	if watermark != nil {
		at := watermark.UTC()
		s.watermark = &at
	}
	return nil
}

func keyed[T any](delta domain.Delta[T], key func(T) string) bool {
	for _, batch := range [][]T{delta.Created, delta.Updated} {
		for _, item := range batch {
			if key(item) == "" {
				return false
			}
		}
	}
	return true
}

func applyDelta[T any](dst map[string]T, delta domain.Delta[T], key func(T) string) {
	for _, item := range delta.Created {
		dst[key(item)] = item
	}
	for _, item := range delta.Updated {
		dst[key(item)] = item
	}
	for _, id := range delta.Deleted {
		delete(dst, id)
	}
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Category) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.SKU, b.SKU) })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetStock(_ context.Context, productID string) (*domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.stock[productID]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	return &l, nil
}

func (s *Store) ListDiscounts(_ context.Context) ([]domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Discount, 0, len(s.discounts))
	for _, d := range s.discounts {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domain.Discount) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (s *Store) GetDiscountByCode(_ context.Context, code string) (*domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.discounts {
		if strings.EqualFold(d.Code, code) {
			return &d, nil
		}
	}
	return nil, localstore.ErrNotFound
}

func (s *Store) PutTransaction(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transactions[tx.ClientID]; exists {
		return fmt.Errorf("transaction %s: %w", tx.ClientID, localstore.ErrConflict)
	}
	if tx.EnqueuedAt.IsZero() {
		tx.EnqueuedAt = tx.CreatedAt
	}
	s.transactions[tx.ClientID] = cloneTransaction(tx)
	return nil
}

func (s *Store) GetTransaction(_ context.Context, clientID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[clientID]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	out := cloneTransaction(tx)
	return &out, nil
}

func (s *Store) ListTransactions(_ context.Context, filter localstore.TxFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transaction, 0)
	for _, tx := range s.transactions {
		if filter.StoreID != "" && tx.StoreID != filter.StoreID {
			continue
		}
		if filter.OperationalDate != "" && tx.OperationalDate != filter.OperationalDate {
			continue
		}
		if len(filter.SyncStatuses) > 0 && !slices.Contains(filter.SyncStatuses, tx.SyncStatus) {
			continue
		}
		if filter.EnqueuedBefore != nil && !tx.EnqueuedAt.Before(*filter.EnqueuedBefore) {
			continue
		}
		out = append(out, cloneTransaction(tx))
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ClientID, b.ClientID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) MarkSynced(_ context.Context, accepted domain.PushAccepted) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[accepted.ClientID]
	if !ok {
		return localstore.ErrNotFound
	}
	if tx.SyncStatus == domain.SyncSynced {
		return nil
	}
	if !localstore.CanMarkSynced(tx.SyncStatus) {
		return fmt.Errorf("mark synced %s from %s: %w", tx.ClientID, tx.SyncStatus, localstore.ErrIllegalTransition)
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
	s.transactions[tx.ClientID] = tx
	return nil
}

func (s *Store) MarkRejected(_ context.Context, clientID string, rejection domain.Rejection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[clientID]
	if !ok {
		return localstore.ErrNotFound
	}
	if !localstore.CanMarkRejected(tx.SyncStatus) {
		return fmt.Errorf("mark rejected %s from %s: %w", clientID, tx.SyncStatus, localstore.ErrIllegalTransition)
	}
	r := rejection
	r.StockIssues = slices.Clone(rejection.StockIssues)
	tx.SyncStatus = domain.SyncRejected
	tx.Rejection = &r
	s.transactions[clientID] = tx
	return nil
}

func (s *Store) RecordAttempt(_ context.Context, clientIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range clientIDs {
		tx, ok := s.transactions[id]
		if !ok || tx.SyncStatus != domain.SyncPending {
			continue
		}
		tx.Attempts++
		s.transactions[id] = tx
	}
	return nil
}

func (s *Store) Requeue(_ context.Context, clientID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[clientID]
	if !ok {
		return localstore.ErrNotFound
	}
	if !localstore.CanRequeue(tx.SyncStatus) {
		return fmt.Errorf("requeue %s from %s: %w", clientID, tx.SyncStatus, localstore.ErrIllegalTransition)
	}
	tx.SyncStatus = domain.SyncPending
	tx.Rejection = nil
	tx.Attempts = 0
	tx.EnqueuedAt = at.UTC()
	s.transactions[clientID] = tx
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, clientID string, expectSyncStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[clientID]
	if !ok {
		return localstore.ErrNotFound
	}
	if tx.SyncStatus != expectSyncStatus {
		return fmt.Errorf("delete %s in %s: %w", clientID, tx.SyncStatus, localstore.ErrIllegalTransition)
	}
	delete(s.transactions, clientID)
	return nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.shifts[shift.LocalID]; exists {
		return fmt.Errorf("shift %s: %w", shift.LocalID, localstore.ErrConflict)
	}
	if shift.Status == domain.ShiftStatusActive {
		if _, ok := s.activeShiftLocked(shift.StoreID, shift.CashierID); ok {
			return fmt.Errorf("active shift for %s: %w", shiftKey(shift.StoreID, shift.CashierID), localstore.ErrConflict)
		}
	}
	s.shifts[shift.LocalID] = cloneShift(shift)
	return nil
}

func (s *Store) UpdateShift(_ context.Context, shift domain.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.shifts[shift.LocalID]
	if !ok {
		return localstore.ErrNotFound
	}
	if current.Status == domain.ShiftStatusClosed && shift.Status != domain.ShiftStatusClosed {
		return fmt.Errorf("reopen shift %s: %w", shift.LocalID, localstore.ErrIllegalTransition)
	}
	s.shifts[shift.LocalID] = cloneShift(shift)
	return nil
}

func (s *Store) MarkShiftSynced(_ context.Context, localID string, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shift, ok := s.shifts[localID]
	if !ok {
		return localstore.ErrNotFound
	}
	if serverID != "" {
		shift.ServerID = serverID
	}
	shift.SyncStatus = domain.SyncSynced
	s.shifts[localID] = shift
	return nil
}

func (s *Store) GetShift(_ context.Context, localID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shift, ok := s.shifts[localID]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	out := cloneShift(shift)
	return &out, nil
}

func (s *Store) ActiveShift(_ context.Context, storeID string, cashierID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shift, ok := s.activeShiftLocked(storeID, cashierID)
	if !ok {
		return nil, localstore.ErrNotFound
	}
	out := cloneShift(shift)
	return &out, nil
}

func (s *Store) activeShiftLocked(storeID string, cashierID string) (domain.Shift, bool) {
	for _, shift := range s.shifts {
		if shift.StoreID == storeID && shift.CashierID == cashierID && shift.Status == domain.ShiftStatusActive {
			return shift, true
		}
	}
	return domain.Shift{}, false
}

func (s *Store) ListShifts(_ context.Context, filter localstore.ShiftFilter) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Shift, 0)
	for _, shift := range s.shifts {
		if filter.StoreID != "" && shift.StoreID != filter.StoreID {
			continue
		}
		if filter.OperationalDate != "" && shift.OperationalDate != filter.OperationalDate {
			continue
		}
		if filter.Status != "" && shift.Status != filter.Status {
			continue
		}
		out = append(out, cloneShift(shift))
	}
	slices.SortFunc(out, func(a, b domain.Shift) int { return a.OpenedAt.Compare(b.OpenedAt) })
	return out, nil
}

func (s *Store) NextShiftNumber(_ context.Context, storeID string, cashierID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	highest := 0
	for _, shift := range s.shifts {
		if shift.StoreID == storeID && shift.CashierID == cashierID && shift.Number > highest {
			highest = shift.Number
		}
	}
	return highest + 1, nil
}

func (s *Store) EnqueueShiftOp(_ context.Context, op domain.PendingShiftOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.shiftOps {
		if existing.ShiftLocalID == op.ShiftLocalID && existing.Op == op.Op {
			return nil
		}
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	op.UpdatedAt = op.CreatedAt
	s.shiftOps[op.ID] = op
	return nil
}

func (s *Store) ListShiftOps(_ context.Context, statuses ...string) ([]domain.PendingShiftOp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PendingShiftOp, 0)
	for _, op := range s.shiftOps {
		if len(statuses) > 0 && !slices.Contains(statuses, op.SyncStatus) {
			continue
		}
		out = append(out, op)
	}
	slices.SortFunc(out, compareShiftOps)
	return out, nil
}

func (s *Store) MarkShiftOp(_ context.Context, id string, syncStatus string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.shiftOps[id]
	if !ok {
		return localstore.ErrNotFound
	}
	if op.SyncStatus == domain.SyncSynced && syncStatus != domain.SyncSynced {
		return fmt.Errorf("shift op %s: %w", id, localstore.ErrIllegalTransition)
	}
	op.SyncStatus = syncStatus
	op.Error = errMsg
	op.Attempts++
	op.UpdatedAt = time.Now().UTC()
	s.shiftOps[id] = op
	return nil
}

func (s *Store) SaveActiveCart(_ context.Context, cart domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCarts[shiftKey(cart.StoreID, cart.CashierID)] = cloneCart(cart)
	return nil
}

func (s *Store) ActiveCart(_ context.Context, storeID string, cashierID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cart, ok := s.activeCarts[shiftKey(storeID, cashierID)]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	out := cloneCart(cart)
	return &out, nil
}

func (s *Store) ListActiveCarts(_ context.Context, storeID string) ([]domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listActiveCartsLocked(storeID), nil
}

func (s *Store) listActiveCartsLocked(storeID string) []domain.Cart {
	out := make([]domain.Cart, 0)
	for _, cart := range s.activeCarts {
		if cart.StoreID == storeID {
			out = append(out, cloneCart(cart))
		}
	}
	slices.SortFunc(out, func(a, b domain.Cart) int { return strings.Compare(a.CashierID, b.CashierID) })
	return out
}

func (s *Store) DeleteActiveCart(_ context.Context, storeID string, cashierID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeCarts, shiftKey(storeID, cashierID))
	return nil
}

func (s *Store) ParkActiveCarts(_ context.Context, storeID string, at time.Time) ([]domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	carts := s.listActiveCartsLocked(storeID)
	parked := make([]domain.Cart, 0, len(carts))
	for _, cart := range carts {
		if len(cart.Items) == 0 {
			delete(s.activeCarts, shiftKey(cart.StoreID, cart.CashierID))
			continue
		}
		if _, exists := s.pendingCarts[cart.ID]; exists {
			return nil, fmt.Errorf("pending cart %s: %w", cart.ID, localstore.ErrConflict)
		}
		cart.Status = domain.CartStatusHeld
		cart.UpdatedAt = at.UTC()
		s.pendingCarts[cart.ID] = cloneCart(cart)
		delete(s.activeCarts, shiftKey(cart.StoreID, cart.CashierID))
		parked = append(parked, cart)
	}
	return parked, nil
}

func (s *Store) PutPendingCart(_ context.Context, cart domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pendingCarts[cart.ID]; exists {
		return fmt.Errorf("pending cart %s: %w", cart.ID, localstore.ErrConflict)
	}
	s.pendingCarts[cart.ID] = cloneCart(cart)
	return nil
}

func (s *Store) GetPendingCart(_ context.Context, id string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cart, ok := s.pendingCarts[id]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	out := cloneCart(cart)
	return &out, nil
}

func (s *Store) ListPendingCarts(_ context.Context, storeID string, status string) ([]domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Cart, 0)
	for _, cart := range s.pendingCarts {
		if storeID != "" && cart.StoreID != storeID {
			continue
		}
		if status != "" && cart.Status != status {
			continue
		}
		out = append(out, cloneCart(cart))
	}
	slices.SortFunc(out, func(a, b domain.Cart) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *Store) SetPendingCartStatus(_ context.Context, id string, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.pendingCarts[id]
	if !ok {
		return localstore.ErrNotFound
	}
	if err := localstore.NextCartStatus(cart.Status, status); err != nil {
		return fmt.Errorf("pending cart %s %s -> %s: %w", id, cart.Status, status, err)
	}
	cart.Status = status
	cart.UpdatedAt = at.UTC()
	s.pendingCarts[id] = cart
	return nil
}

func (s *Store) EnsureDay(_ context.Context, storeID string, date string, at time.Time) (*domain.DayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.currentDayLocked(storeID); ok {
		return &current, nil
	}
	key := shiftKey(storeID, date)
	if existing, ok := s.days[key]; ok && existing.Status == domain.DayStatusClosed {
		return nil, fmt.Errorf("operational day %s already closed: %w", date, localstore.ErrConflict)
	}
	day := domain.DayState{StoreID: storeID, OperationalDate: date, Status: domain.DayStatusOpen, OpenedAt: at.UTC()}
	s.days[key] = day
	return &day, nil
}

func (s *Store) CurrentDay(_ context.Context, storeID string) (*domain.DayState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day, ok := s.currentDayLocked(storeID)
	if !ok {
		return nil, localstore.ErrNotFound
	}
	return &day, nil
}

func (s *Store) currentDayLocked(storeID string) (domain.DayState, bool) {
	var (
		current domain.DayState
		found   bool
	)
	for _, day := range s.days {
		if day.StoreID != storeID || day.Status != domain.DayStatusOpen {
			continue
		}
		if !found || day.OperationalDate > current.OperationalDate {
			current = day
			found = true
		}
	}
	return current, found
}

func (s *Store) CommitDayClose(_ context.Context, record domain.DayClose, nextDate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := shiftKey(record.StoreID, record.OperationalDate)
	if _, exists := s.dayCloses[key]; exists {
		return fmt.Errorf("day close %s: %w", key, localstore.ErrConflict)
	}
	closedAt := record.ClosedAt.UTC()
	day, ok := s.days[key]
	if !ok {
		day = domain.DayState{StoreID: record.StoreID, OperationalDate: record.OperationalDate, OpenedAt: closedAt}
	}
	day.Status = domain.DayStatusClosed
	day.ClosedAt = &closedAt
	s.days[key] = day
	s.dayCloses[key] = cloneDayClose(record)

	nextKey := shiftKey(record.StoreID, nextDate)
	if _, exists := s.days[nextKey]; !exists {
		s.days[nextKey] = domain.DayState{
			StoreID:         record.StoreID,
			OperationalDate: nextDate,
			Status:          domain.DayStatusOpen,
			OpenedAt:        closedAt,
		}
	}
	return nil
}

func (s *Store) GetDayClose(_ context.Context, storeID string, date string) (*domain.DayClose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.dayCloses[shiftKey(storeID, date)]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	out := cloneDayClose(record)
	return &out, nil
}

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = nil
	s.categories = map[string]domain.Category{}
	s.products = map[string]domain.Product{}
	s.stock = map[string]domain.StockLevel{}
	s.discounts = map[string]domain.Discount{}
	return nil
}

func (s *Store) Close() error {
	return nil
}

func shiftKey(storeID string, other string) string {
	return storeID + "|" + other
}

func compareShiftOps(a, b domain.PendingShiftOp) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	if a.Op != b.Op {
		if a.Op == domain.ShiftOpOpen {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

func cloneTransaction(src domain.Transaction) domain.Transaction {
	out := src
	out.Items = make([]domain.LineItem, len(src.Items))
	for i, item := range src.Items {
		item.Discounts = slices.Clone(item.Discounts)
		out.Items[i] = item
	}
	out.Payments = slices.Clone(src.Payments)
	out.Vouchers = slices.Clone(src.Vouchers)
	if src.Rejection != nil {
		r := *src.Rejection
		r.StockIssues = slices.Clone(src.Rejection.StockIssues)
		out.Rejection = &r
	}
	if src.SyncedAt != nil {
		at := *src.SyncedAt
		out.SyncedAt = &at
	}
	return out
}

func cloneShift(src domain.Shift) domain.Shift {
	out := src
	if src.Approval != nil {
		approval := *src.Approval
		out.Approval = &approval
	}
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		out.ClosedAt = &at
	}
	return out
}

func cloneCart(src domain.Cart) domain.Cart {
	out := src
	out.Items = make([]domain.LineItem, len(src.Items))
	for i, item := range src.Items {
		item.Discounts = slices.Clone(item.Discounts)
		out.Items[i] = item
	}
	return out
}

func cloneDayClose(src domain.DayClose) domain.DayClose {
	out := src
	out.Summary.RevenueByMethod = maps.Clone(src.Summary.RevenueByMethod)
	return out
}
