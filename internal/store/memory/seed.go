package memory

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/xid"
)

//go:embed seed.yaml
var seedYAML []byte

type seedCatalog struct {
	StoreID      string `yaml:"store_id"`
	DefaultStock int    `yaml:"default_stock"`
	Categories   []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"categories"`
	Products []struct {
		ID         string `yaml:"id"`
		SKU        string `yaml:"sku"`
		Name       string `yaml:"name"`
		CategoryID string `yaml:"category_id"`
		Price      string `yaml:"price"`
		TaxRate    string `yaml:"tax_rate"`
		Stock      *int   `yaml:"stock"`
	} `yaml:"products"`
	Discounts []struct {
		ID          string `yaml:"id"`
		Code        string `yaml:"code"`
		Name        string `yaml:"name"`
		Type        string `yaml:"type"`
		Value       string `yaml:"value"`
		MinSubtotal string `yaml:"min_subtotal"`
	} `yaml:"discounts"`
}

// SeedStoreID is the store the embedded catalog stocks.
const SeedStoreID = "main-store"

// NewSeeded returns a store holding the embedded demo catalog and the demo
// accounts for dev mode.
func NewSeeded() *Store {
	s := New()
	if err := s.loadSeed(seedYAML, time.Now().UTC()); err != nil {
		log.Fatalf("[memory-store] invalid seed catalog: %v", err)
	}
	for _, user := range seedUsers() {
		s.usersByUsername[user.Username] = user
	}
	return s
}

func (s *Store) loadSeed(raw []byte, at time.Time) error {
	var seed seedCatalog
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	storeID := seed.StoreID
	if storeID == "" {
		storeID = SeedStoreID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range seed.Categories {
		s.categories[c.ID] = &entry[domain.Category]{
			value:     domain.Category{ID: c.ID, Name: c.Name, UpdatedAt: at},
			createdAt: at,
			updatedAt: at,
		}
	}
	for _, p := range seed.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return fmt.Errorf("product %s price: %w", p.ID, err)
		}
		taxRate, err := decimal.NewFromString(defaultString(p.TaxRate, "0"))
		if err != nil {
			return fmt.Errorf("product %s tax rate: %w", p.ID, err)
		}
		s.products[p.ID] = &entry[domain.Product]{
			value: domain.Product{
				ID:         p.ID,
				SKU:        p.SKU,
				Name:       p.Name,
				CategoryID: p.CategoryID,
				Price:      price,
				TaxRate:    taxRate,
				Active:     true,
				UpdatedAt:  at,
			},
			createdAt: at,
			updatedAt: at,
		}
		qty := seed.DefaultStock
		if p.Stock != nil {
			qty = *p.Stock
		}
		s.putStock(storeID, p.ID, qty, at)
	}
	for _, d := range seed.Discounts {
		value, err := decimal.NewFromString(d.Value)
		if err != nil {
			return fmt.Errorf("discount %s value: %w", d.ID, err)
		}
		minSubtotal, err := decimal.NewFromString(defaultString(d.MinSubtotal, "0"))
		if err != nil {
			return fmt.Errorf("discount %s min subtotal: %w", d.ID, err)
		}
		s.discounts[d.ID] = &entry[domain.Discount]{
			value: domain.Discount{
				ID:          d.ID,
				Code:        strings.ToUpper(d.Code),
				Name:        d.Name,
				Type:        d.Type,
				Value:       value,
				MinSubtotal: minSubtotal,
				Active:      true,
				UpdatedAt:   at,
			},
			createdAt: at,
			updatedAt: at,
		}
	}
	return nil
}

// seedUsers builds the demo accounts for dev mode. Credentials are read from
// SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and SEED_SUPERVISOR_PIN; unset
// values fall back to dev defaults with a warning.
func seedUsers() []domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	supervisorPIN := envOr("SEED_SUPERVISOR_PIN", "7391")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, 3)
	for _, u := range []struct {
		username string
		password string
		pin      string
		role     string
	}{
		{"admin", adminPwd, "", domain.RoleAdmin},
		{"cashier", cashierPwd, "", domain.RoleCashier},
		{"supervisor", adminPwd, supervisorPIN, domain.RoleSupervisor},
	} {
		user := domain.UserAccount{
			ID:        xid.New("usr"),
			Username:  u.username,
			Password:  mustHash(u.username, u.password),
			Role:      u.role,
			StoreID:   SeedStoreID,
			Active:    true,
			CreatedAt: now,
		}
		if u.pin != "" {
			user.PINHash = mustHash(u.username, u.pin)
		}
		users = append(users, user)
	}
	return users
}

func mustHash(username string, secret string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed secret for %s: %v", username, err)
	}
	return string(hash)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
