// Package auth validates the access tokens issued by the POS auth service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken wraps every reason a desk token is refused.
var ErrInvalidToken = errors.New("invalid access token")

// Roles carried by desk tokens. Only RoleOwner widens access: owners may
// act on any outlet, everyone else on the outlet in their token.
const (
	RoleOwner   = "OWNER"
	RoleCashier = "CASHIER"
)

// clockSkew is tolerated between the auth service and this host.
const clockSkew = 30 * time.Second

// Claims identify the operator at a desk.
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	OutletID uuid.UUID `json:"outlet_id"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

// CanAccess reports whether the token holder may act on outletID.
func (c *Claims) CanAccess(outletID uuid.UUID) bool {
	if c.Role == RoleOwner {
		return true
	}
	return c.OutletID != uuid.Nil && c.OutletID == outletID
}

// GenerateToken signs a desk token. In production tokens come from the auth
// service; the seed tool and tests mint their own.
func GenerateToken(secret string, userID, outletID uuid.UUID, role string, ttl time.Duration) (string, error) {
	issued := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   userID,
		OutletID: outletID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
	}).SignedString([]byte(secret))
}

// ValidateToken accepts only HS256 tokens that carry an expiry. A non-owner
// token must name its outlet.
func ValidateToken(secret, raw string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Role != RoleOwner && c.OutletID == uuid.Nil {
		return nil, fmt.Errorf("%w: no outlet for role %q", ErrInvalidToken, c.Role)
	}
	return &c, nil
}
