// Package auth issues and validates the HS256 access tokens that every
// connection presents, and owns password hashing for the account surface.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
)

// ErrUnauthorized covers every credential failure: missing, malformed,
// expired, unknown user, disabled account. Callers never learn which.
var ErrUnauthorized = errors.New("invalid credential")

type Claims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Tokens mints and verifies access tokens. Users are resolved against
// the store on every verification so revoked or disabled accounts lose
// access without waiting for expiry.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	users  core.UserStore
}

func NewTokens(secret string, ttl time.Duration, users core.UserStore) *Tokens {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, users: users}
}

func (t *Tokens) Mint(user *domain.User) (string, error) {
	claims := Claims{
		UserID:   int64(user.ID),
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate resolves a raw token string to an active user.
func (t *Tokens) Authenticate(ctx context.Context, credential string) (*domain.User, error) {
	if credential == "" {
		return nil, ErrUnauthorized
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(credential, &claims, func(tk *jwt.Token) (any, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tk.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	user, err := t.users.UserByID(ctx, domain.UserID(claims.UserID))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if user.Disabled || user.Username != claims.Username {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// Login verifies a username/password pair and returns the account.
func (t *Tokens) Login(ctx context.Context, username, password string) (*domain.User, error) {
	hash, err := t.users.PasswordHash(ctx, username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !CheckPassword(hash, password) {
		return nil, ErrUnauthorized
	}
	user, err := t.users.UserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, ErrUnauthorized
	}
	return user, nil
}
