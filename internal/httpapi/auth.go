package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/pos/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidPIN         = errors.New("invalid supervisor PIN")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	// storeSupervisorID identifies approvals granted with the store-wide PIN.
	storeSupervisorID = "supervisor-on-duty"
)

type AuthManager struct {
	mu         sync.RWMutex
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	storePIN   string
	userStore  UserStore
	users      map[string]credential
	now        func() time.Time
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	id       string
	password string
	pinHash  string
	role     string
	storeID  string
	active   bool
	created  time.Time
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role      string `json:"role"`
	StoreID   string `json:"store_id,omitempty"`
	TokenType string `json:"typ"`
}

func NewAuthManager(secret string, accessTTL time.Duration, refreshTTL time.Duration, storePIN string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	storePIN = strings.TrimSpace(storePIN)
	if storePIN != "" {
		if hashed, err := hashPassword(storePIN); err == nil {
			storePIN = hashed
		} else {
			storePIN = ""
		}
	}

	manager := &AuthManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		storePIN:   storePIN,
		userStore:  userStore,
		users:      make(map[string]credential),
		now:        time.Now,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.TokenPair, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok || !verifyPassword(cred.password, req.Password) {
		return domain.TokenPair{}, ErrInvalidCredentials
	}
	if !cred.active {
		return domain.TokenPair{}, ErrInactiveAccount
	}
	return a.issue(username, cred)
}

// Refresh exchanges a refresh token for a new pair. The account is looked up
// again so a deactivated user cannot keep refreshing.
func (a *AuthManager) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	claims, err := a.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return domain.TokenPair{}, err
	}
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	cred, ok := a.users[claims.Subject]
	a.mu.RUnlock()
	if !ok {
		return domain.TokenPair{}, ErrInvalidToken
	}
	if !cred.active {
		return domain.TokenPair{}, ErrInactiveAccount
	}
	return a.issue(claims.Subject, cred)
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims, err := a.parse(tokenStr, tokenTypeAccess)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role, StoreID: claims.StoreID}, nil
}

func (a *AuthManager) parse(tokenStr string, tokenType string) (*posCustomClaims, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer("kasirinaja"))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		return nil, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("invalid token subject")
	}
	return claims, nil
}

func (a *AuthManager) issue(username string, cred credential) (domain.TokenPair, error) {
	now := a.now().UTC()
	expiresAt := now.Add(a.accessTTL)
	access, err := a.sign(username, cred, tokenTypeAccess, now, expiresAt)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, err := a.sign(username, cred, tokenTypeRefresh, now, now.Add(a.refreshTTL))
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		Username:     username,
		Role:         cred.role,
		StoreID:      cred.storeID,
		ExpiresAt:    expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) sign(username string, cred credential, tokenType string, issuedAt time.Time, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(issuedAt),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "kasirinaja",
		},
		Role:      cred.role,
		StoreID:   cred.storeID,
		TokenType: tokenType,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// VerifySupervisorPIN matches pin against the PINs of active supervisors and
// admins of the store, then against the store-wide PIN.
func (a *AuthManager) VerifySupervisorPIN(ctx context.Context, storeID string, pin string) (domain.PINVerifyResponse, error) {
	input := strings.TrimSpace(pin)
	if input == "" {
		return domain.PINVerifyResponse{}, ErrInvalidPIN
	}
	a.bootstrapUsers(ctx)

	a.mu.RLock()
	candidates := make([]string, 0, len(a.users))
	for username, cred := range a.users {
		if !cred.active || cred.pinHash == "" {
			continue
		}
		if cred.role != domain.RoleSupervisor && cred.role != domain.RoleAdmin {
			continue
		}
		if storeID != "" && cred.storeID != "" && cred.storeID != storeID {
			continue
		}
		candidates = append(candidates, username)
	}
	a.mu.RUnlock()
	sort.Strings(candidates)

	now := a.now().UTC()
	for _, username := range candidates {
		a.mu.RLock()
		cred := a.users[username]
		a.mu.RUnlock()
		if bcrypt.CompareHashAndPassword([]byte(cred.pinHash), []byte(input)) == nil {
			return domain.PINVerifyResponse{
				SupervisorID:   defaultString(cred.id, username),
				SupervisorName: username,
				ApprovedAt:     now,
			}, nil
		}
	}

	if a.storePIN != "" && bcrypt.CompareHashAndPassword([]byte(a.storePIN), []byte(input)) == nil {
		return domain.PINVerifyResponse{
			SupervisorID:   storeSupervisorID,
			SupervisorName: "Supervisor on duty",
			ApprovedAt:     now,
		}, nil
	}
	return domain.PINVerifyResponse{}, ErrInvalidPIN
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserView, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || len(username) < 4 {
		return domain.UserView{}, fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserView{}, fmt.Errorf("username must not contain spaces")
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.UserView{}, fmt.Errorf("password must be at least 6 characters")
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleCashier
	}
	if role != domain.RoleCashier && role != domain.RoleSupervisor && role != domain.RoleAdmin {
		return domain.UserView{}, fmt.Errorf("unsupported role %q", role)
	}
	pin := strings.TrimSpace(req.PIN)
	if pin != "" && !isTerminalPIN(pin) {
		return domain.UserView{}, fmt.Errorf("pin must be exactly 4 digits")
	}
	if role == domain.RoleSupervisor && pin == "" {
		return domain.UserView{}, fmt.Errorf("supervisors need a pin")
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.UserView{}, fmt.Errorf("username already exists")
	}

	now := a.now().UTC()
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("failed to hash password")
	}
	pinHash := ""
	if pin != "" {
		if pinHash, err = hashPassword(pin); err != nil {
			return domain.UserView{}, fmt.Errorf("failed to hash pin")
		}
	}

	account := domain.UserAccount{
		ID:        "usr_" + username,
		Username:  username,
		Password:  passwordHash,
		PINHash:   pinHash,
		Role:      role,
		StoreID:   strings.TrimSpace(req.StoreID),
		Active:    true,
		CreatedAt: now,
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, account); err != nil {
			return domain.UserView{}, err
		}
	}

	cred := credentialFrom(account)
	a.mu.Lock()
	a.users[username] = cred
	a.mu.Unlock()

	return viewOf(username, cred), nil
}

func (a *AuthManager) ListUsers(ctx context.Context) []domain.UserView {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.UserView, 0, len(a.users))
	for username, cred := range a.users {
		result = append(result, viewOf(username, cred))
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache. Legacy plain-text passwords are upgraded to bcrypt hashes
// in the store.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		if !isPasswordHash(user.Password) {
			hashed, err := hashPassword(user.Password)
			if err == nil {
				user.Password = hashed
				_ = a.userStore.UpdateUserPassword(ctx, username, hashed)
			}
		}
		a.users[username] = credentialFrom(user)
	}
}

func credentialFrom(user domain.UserAccount) credential {
	return credential{
		id:       user.ID,
		password: user.Password,
		pinHash:  user.PINHash,
		role:     user.Role,
		storeID:  user.StoreID,
		active:   user.Active,
		created:  user.CreatedAt,
	}
}

func viewOf(username string, cred credential) domain.UserView {
	return domain.UserView{
		Username:  username,
		Role:      cred.role,
		StoreID:   cred.storeID,
		Active:    cred.active,
		HasPIN:    cred.pinHash != "",
		CreatedAt: cred.created,
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

func isTerminalPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
