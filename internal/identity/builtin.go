package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/incidenthub/incidenthub/internal/config"
	"github.com/incidenthub/incidenthub/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Claims is the JWT payload issued by BuiltinProvider.
type Claims struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// BuiltinProvider issues and verifies HMAC-signed bearer tokens, backed by
// a bcrypt password hash stored per user. It implements Provider and
// LoginProvider.
type BuiltinProvider struct {
	store        store.Store
	jwtSecret    []byte
	jwtExpiry    time.Duration
	bcryptCost   int
	initialAdmin *config.InitialAdmin
}

// NewBuiltinProvider constructs a BuiltinProvider from config.
func NewBuiltinProvider(s store.Store, cfg config.AuthConfig) *BuiltinProvider {
	cost := cfg.BcryptCost
	if cost < bcrypt.DefaultCost {
		cost = bcrypt.DefaultCost
	}
	return &BuiltinProvider{
		store:        s,
		jwtSecret:    []byte(cfg.JWTSecret),
		jwtExpiry:    cfg.JWTExpiry.Duration,
		bcryptCost:   cost,
		initialAdmin: cfg.InitialAdmin,
	}
}

func (p *BuiltinProvider) Name() string { return "builtin" }

// Bootstrap creates the initial admin principal if configured and no such
// user exists yet.
func (p *BuiltinProvider) Bootstrap(ctx context.Context) error {
	if p.initialAdmin == nil {
		return nil
	}
	existing, err := p.store.GetUserByEmail(ctx, p.initialAdmin.Email)
	if err != nil {
		return fmt.Errorf("check existing admin: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.initialAdmin.Password), p.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		DisplayName:  p.initialAdmin.DisplayName,
		Email:        p.initialAdmin.Email,
		PasswordHash: string(hash),
		Role:         store.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	return p.store.CreateUser(ctx, user)
}

// Login checks the password hash and, on success, issues a signed token.
func (p *BuiltinProvider) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	user, err := p.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := p.generateToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Register creates a new principal with role viewer (the least-privileged
// default; promotion to responder/admin is an explicit admin action via
// PATCH /users/:id/role).
func (p *BuiltinProvider) Register(ctx context.Context, email, displayName, password string) (*store.User, error) {
	existing, err := p.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: string(hash),
		Role:         store.RoleViewer,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Verify validates a bearer token and resolves the Principal it carries.
func (p *BuiltinProvider) Verify(ctx context.Context, tokenStr string) (*Principal, error) {
	claims, err := p.validateJWT(tokenStr)
	if err != nil {
		return nil, err
	}
	return &Principal{
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
	}, nil
}

func (p *BuiltinProvider) validateJWT(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func (p *BuiltinProvider) generateToken(user *store.User) (string, error) {
	claims := &Claims{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(p.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.jwtSecret)
}
