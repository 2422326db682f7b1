package syncer

import (
	"fmt"
	"strings"

	"kasirinaja/pos/internal/domain"
)

// Scope selects which entity classes a sync cycle touches.
type Scope string

const (
	ScopeAll          Scope = "all"
	ScopeCatalog      Scope = "catalog"
	ScopeCategories   Scope = "categories"
	ScopeProducts     Scope = "products"
	ScopeStock        Scope = "stock"
	ScopeDiscounts    Scope = "discounts"
	ScopeTransactions Scope = "transactions"
	ScopeShifts       Scope = "shifts"
)

var scopes = []Scope{
	ScopeAll, ScopeCatalog, ScopeCategories, ScopeProducts, ScopeStock,
	ScopeDiscounts, ScopeTransactions, ScopeShifts,
}

func ParseScope(raw string) (Scope, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ScopeAll, nil
	}
	for _, s := range scopes {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown sync scope %q", raw)
}

// collections returns the reference collections pulled for the scope.
func (s Scope) collections() []string {
	switch s {
	case ScopeAll, ScopeCatalog:
		return domain.AllCollections
	case ScopeCategories:
		return []string{domain.CollectionCategories}
	case ScopeProducts:
		return []string{domain.CollectionProducts}
	case ScopeStock:
		return []string{domain.CollectionStock}
	case ScopeDiscounts:
		return []string{domain.CollectionDiscounts}
	default:
		return nil
	}
}

// fullPull reports whether the scope pulls every collection, which is the
// only case where the watermark may advance.
func (s Scope) fullPull() bool {
	return s == ScopeAll || s == ScopeCatalog
}

func (s Scope) pushes() bool {
	return s == ScopeAll || s == ScopeTransactions
}

func (s Scope) drainsShifts() bool {
	return s == ScopeAll || s == ScopeShifts
}
