// Package serviceauth issues and verifies the HS256 tokens internal callers
// present on operator endpoints such as payment execution.
package serviceauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ServiceTokenHeader carries the token.
	ServiceTokenHeader = "X-Service-Token"

	// DefaultServiceTokenExpiry is used when no expiry is given.
	DefaultServiceTokenExpiry = time.Hour

	issuer = "frog"
)

// ServiceClaims identifies the calling service.
type ServiceClaims struct {
	ServiceID string `json:"service_id"`
	jwt.RegisteredClaims
}

// TokenGenerator signs service tokens.
type TokenGenerator struct {
	secret    []byte
	serviceID string
	expiry    time.Duration
	now       func() time.Time
}

// NewTokenGenerator creates a generator for serviceID.
func NewTokenGenerator(secret []byte, serviceID string, expiry time.Duration) *TokenGenerator {
	if expiry <= 0 {
		expiry = DefaultServiceTokenExpiry
	}
	return &TokenGenerator{secret: secret, serviceID: serviceID, expiry: expiry, now: time.Now}
}

// GenerateToken returns a freshly signed token.
func (g *TokenGenerator) GenerateToken() (string, error) {
	now := g.now()
	claims := &ServiceClaims{
		ServiceID: g.serviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.expiry)),
			Issuer:    issuer,
			Subject:   g.serviceID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// ErrMissingServiceID is returned for tokens without a service_id claim.
var ErrMissingServiceID = errors.New("missing service_id claim")

// ParseToken verifies a token signed with secret and returns its claims.
func ParseToken(secret []byte, token string) (*ServiceClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &ServiceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*ServiceClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ServiceID == "" {
		return nil, ErrMissingServiceID
	}
	return claims, nil
}
