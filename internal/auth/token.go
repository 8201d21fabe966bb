package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mealsub-backend/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// Tokens issues and verifies HS256 bearer tokens carrying the actor.
type Tokens struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Tokens{Secret: []byte(secret), TTL: ttl}
}

func (t *Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tokens) Issue(a domain.Actor) (string, error) {
	if len(t.Secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	roles := make([]any, 0, len(a.Roles))
	for _, r := range a.Roles {
		roles = append(roles, r)
	}
	claims := jwt.MapClaims{
		"sub":         a.ID,
		"customer_id": a.CustomerID,
		"roles":       roles,
		"iat":         t.now().Unix(),
		"exp":         t.now().Add(t.TTL).Unix(),
	}
	if a.Email != "" {
		claims["email"] = a.Email
	}
	if a.OpenID != "" {
		claims["openid"] = a.OpenID
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) Verify(token string) (domain.Actor, error) {
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return t.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	m, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Actor{}, ErrInvalidToken
	}
	a := domain.Actor{}
	a.ID, _ = m["sub"].(string)
	a.CustomerID, _ = m["customer_id"].(string)
	a.Email, _ = m["email"].(string)
	a.OpenID, _ = m["openid"].(string)
	if rs, ok := m["roles"].([]any); ok {
		for _, r := range rs {
			if s, ok := r.(string); ok {
				a.Roles = append(a.Roles, s)
			}
		}
	}
	if a.ID == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return a, nil
}

// RoleAccess grants global access to actors holding any of the roles.
type RoleAccess struct {
	Roles []string
}

func (r RoleAccess) HasGlobalAccess(_ context.Context, a domain.Actor) bool {
	for _, role := range r.Roles {
		if a.HasRole(role) {
			return true
		}
	}
	return false
}
