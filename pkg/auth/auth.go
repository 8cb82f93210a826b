package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

const (
	// TokenTypeAccess marks short-lived bearer tokens
	TokenTypeAccess = "access"
	// TokenTypeRefresh marks long-lived renewal tokens
	TokenTypeRefresh = "refresh"
)

// Claims is the JWT payload for both token flavors
type Claims struct {
	Email     string `json:"email,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Service issues and verifies credentials: bcrypt passwords, HS256
// token pairs, and SHA-256-hashed API keys.
type Service struct {
	store      store.Store
	secretKey  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewService creates an auth service. secretKey must already be
// validated by config (at least 32 characters).
func NewService(st store.Store, secretKey string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		store:      st,
		secretKey:  []byte(secretKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// HashPassword hashes a plaintext password with bcrypt
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against its bcrypt hash
func (s *Service) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateAccessToken issues a short-lived access token for a tenant
func (s *Service) CreateAccessToken(t *types.Tenant) (string, error) {
	return s.sign(&Claims{
		Email:     t.Email,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(t.ID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
}

// CreateRefreshToken issues a long-lived refresh token for a tenant
func (s *Service) CreateRefreshToken(t *types.Tenant) (string, error) {
	return s.sign(&Claims{
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(t.ID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
}

func (s *Service) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a token of the expected type and
// returns the tenant id from its subject.
func (s *Service) VerifyToken(tokenString, tokenType string) (int64, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, errdefs.Wrap(errdefs.KindUnauthenticated, "token has expired", err)
		}
		return 0, errdefs.Wrap(errdefs.KindUnauthenticated, "could not validate credentials", err)
	}
	if !token.Valid || claims.TokenType != tokenType {
		return 0, errdefs.New(errdefs.KindUnauthenticated, "could not validate credentials")
	}
	tenantID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindUnauthenticated, "could not validate credentials", err)
	}
	return tenantID, nil
}

// AuthenticateTenant verifies email and password and returns the
// active tenant.
func (s *Service) AuthenticateTenant(ctx context.Context, email, password string) (*types.Tenant, error) {
	t, err := s.store.GetTenantByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errdefs.New(errdefs.KindUnauthenticated, "invalid email or password")
	}
	if err != nil {
		return nil, err
	}
	if !s.VerifyPassword(password, t.PasswordHash) {
		return nil, errdefs.New(errdefs.KindUnauthenticated, "invalid email or password")
	}
	if !t.Active {
		return nil, errdefs.New(errdefs.KindUnauthenticated, "account is inactive")
	}
	return t, nil
}

// GenerateAPIKey creates a raw API key and stores its SHA-256 hash.
// The raw key is returned once and never persisted.
func (s *Service) GenerateAPIKey(ctx context.Context, tenantID int64, name string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	raw := "pk_" + base64.RawURLEncoding.EncodeToString(buf)

	key := &types.APIKey{
		TenantID: tenantID,
		KeyHash:  HashAPIKey(raw),
		Name:     name,
		Active:   true,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", err
	}
	return raw, nil
}

// VerifyAPIKey resolves a raw API key to its tenant and records the
// use.
func (s *Service) VerifyAPIKey(ctx context.Context, rawKey string) (*types.Tenant, error) {
	key, err := s.store.GetAPIKeyByHash(ctx, HashAPIKey(rawKey))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errdefs.New(errdefs.KindUnauthenticated, "invalid api key")
	}
	if err != nil {
		return nil, err
	}

	t, err := s.store.GetTenant(ctx, key.TenantID)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindUnauthenticated, "invalid api key", err)
	}
	if !t.Active {
		return nil, errdefs.New(errdefs.KindUnauthenticated, "account is inactive")
	}

	if err := s.store.TouchAPIKey(ctx, key.ID, time.Now()); err != nil {
		return nil, err
	}
	return t, nil
}

// HashAPIKey computes the stored hash for a raw API key
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
