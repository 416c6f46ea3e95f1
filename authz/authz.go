// Package authz authenticates the operator tokens required to enter or
// leave the circuit breaker's MANUAL_OVERRIDE state.
package authz

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims is the JWT payload carried by an operator token.
type Claims struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// RoleOverrideOperator is the only role permitted to enter/leave
// MANUAL_OVERRIDE.
const RoleOverrideOperator = "override_operator"

// TokenIssuer mints and verifies operator JWTs.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewTokenIssuer creates an issuer with the given HMAC secret and token
// lifetime.
func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expiry: expiry}
}

// Issue mints a signed token for operatorID with the given role.
func (ti *TokenIssuer) Issue(operatorID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		OperatorID: operatorID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// Verify parses and validates a token, returning its claims.
func (ti *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authz: unexpected signing method %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("authz: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("authz: invalid token")
	}
	return claims, nil
}

// OverrideAuthenticator implements risk.Authenticator: it accepts a bearer
// token and requires the RoleOverrideOperator role before granting
// MANUAL_OVERRIDE entry/exit.
type OverrideAuthenticator struct {
	issuer *TokenIssuer
}

// NewOverrideAuthenticator wraps issuer as a risk.Authenticator.
func NewOverrideAuthenticator(issuer *TokenIssuer) *OverrideAuthenticator {
	return &OverrideAuthenticator{issuer: issuer}
}

// Authenticate reports whether token is a valid, unexpired token carrying
// the override-operator role.
func (a *OverrideAuthenticator) Authenticate(token string) bool {
	claims, err := a.issuer.Verify(token)
	if err != nil {
		return false
	}
	return claims.Role == RoleOverrideOperator
}

// HashPassword bcrypt-hashes an operator password for storage.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("authz: hashing password: %w", err)
	}
	return string(hashed), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
