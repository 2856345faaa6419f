// Package identity issues and verifies the service tokens that carry tenant
// and actor context. Every custody operation is parameterized by tenant id;
// the token is where that id comes from — it is never inferred elsewhere.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CustodyClaims are the JWT claims for a custody service token.
type CustodyClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	ActorID  string `json:"actor_id,omitempty"`
}

// TokenIssuer issues and verifies service tokens signed with HS256.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuerURL — the "iss" claim value; typically the service's base URL.
//	ttl       — token lifetime (default: 1 hour).
func NewTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed token scoped to a tenant and, optionally, an actor.
func (t *TokenIssuer) Issue(tenantID uuid.UUID, actorID *uuid.UUID) (string, error) {
	now := time.Now().UTC()
	claims := CustodyClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   tenantID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		TenantID: tenantID.String(),
	}
	if actorID != nil {
		claims.ActorID = actorID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a service token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*CustodyClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&CustodyClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*CustodyClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if _, err := uuid.Parse(claims.TenantID); err != nil {
		return nil, fmt.Errorf("invalid tenant_id claim: %w", err)
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }
