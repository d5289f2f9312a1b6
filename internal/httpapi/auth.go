package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/store"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
)

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
	logger    *slog.Logger
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	id       int64
	password string
	role     string
	active   bool
	created  time.Time
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role   string `json:"role"`
	UserID int64  `json:"uid"`
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, userStore UserStore, logger *slog.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
		logger:    logger.With("component", "auth"),
	}
	manager.bootstrapUsers(ctx)
	return manager
}

// Login reloads accounts from the store first so users created by another
// process can sign in.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(cred.id, username, cred.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		UserID:      cred.id,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{UserID: claims.UserID, Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(userID int64, username, role string, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "hardwarepos",
		},
		Role:   role,
		UserID: userID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	return a.createUser(ctx, req.Username, req.Password, domain.RoleCashier)
}

// EnsureAdmin creates the admin account when the store holds no users at all.
func (a *AuthManager) EnsureAdmin(ctx context.Context, password string) (bool, error) {
	if a.userStore == nil || strings.TrimSpace(password) == "" {
		return false, nil
	}
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	if len(users) > 0 {
		return false, nil
	}
	if _, err := a.createUser(ctx, "admin", password, domain.RoleAdmin); err != nil {
		return false, err
	}
	return true, nil
}

func (a *AuthManager) createUser(ctx context.Context, username, password, role string) (domain.CashierUser, error) {
	a.bootstrapUsers(ctx)
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || len(username) < 4 {
		return domain.CashierUser{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrInvalidTransaction)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.CashierUser{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidTransaction)
	}
	if strings.TrimSpace(password) == "" || len(password) < 6 {
		return domain.CashierUser{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidTransaction)
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.CashierUser{}, fmt.Errorf("username %w", store.ErrDuplicate)
	}

	passwordHash, err := hashPassword(password)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := domain.User{
		Username:  username,
		Password:  passwordHash,
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.userStore != nil {
		created, err := a.userStore.CreateUser(ctx, user)
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return domain.CashierUser{}, fmt.Errorf("username %w", store.ErrDuplicate)
			}
			return domain.CashierUser{}, err
		}
		user = *created
	}

	a.mu.Lock()
	a.users[username] = credential{
		id:       user.ID,
		password: passwordHash,
		role:     user.Role,
		active:   user.Active,
		created:  user.CreatedAt,
	}
	a.mu.Unlock()

	a.logger.Info("user created", "username", username, "role", role, "user_id", user.ID)
	return domain.CashierUser{
		ID:        user.ID,
		Username:  username,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.CashierUser, 0, len(a.users))
	for username, user := range a.users {
		if user.role != domain.RoleCashier {
			continue
		}
		result = append(result, domain.CashierUser{
			ID:        user.id,
			Username:  username,
			Role:      user.role,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads accounts from the user store into the credential cache
// and upgrades plain-text passwords to bcrypt hashes in the store.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.logger.Warn("failed to load users", "error", err)
		return
	}
	if len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					a.logger.Warn("failed to upgrade password hash", "username", username, "error", err)
				}
			}
		}
		a.users[username] = credential{
			id:       user.ID,
			password: password,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
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
