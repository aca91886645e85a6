// Package auth verifies bearer tokens and guards routes by role.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// Token errors.
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Claims carries the portal identity inside a JWT.
type Claims struct {
	jwt.RegisteredClaims
	UserID     int64  `json:"uid"`
	Role       string `json:"role"`
	CustomerID *int64 `json:"cid,omitempty"`
}

// Tokens signs and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens constructs a Tokens helper.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for the principal. Login flows live outside this service;
// Issue backs the operator CLI and tests.
func (t *Tokens) Issue(p shared.Principal) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		UserID:     p.UserID,
		Role:       string(p.Role),
		CustomerID: p.CustomerID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify parses raw and returns the principal it identifies.
func (t *Tokens) Verify(raw string) (shared.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return shared.Principal{}, ErrExpiredToken
		}
		return shared.Principal{}, ErrInvalidToken
	}
	if !token.Valid {
		return shared.Principal{}, ErrInvalidToken
	}
	role, ok := shared.ParseRole(claims.Role)
	if !ok || claims.UserID <= 0 {
		return shared.Principal{}, ErrInvalidClaims
	}
	if role == shared.RoleCustomer && claims.CustomerID == nil {
		return shared.Principal{}, ErrInvalidClaims
	}
	return shared.Principal{
		UserID:     claims.UserID,
		Subject:    claims.Subject,
		Role:       role,
		CustomerID: claims.CustomerID,
	}, nil
}
