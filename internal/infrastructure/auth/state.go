// Package auth holds the provider OAuth2 client and the signer of the
// authorization state tokens that bind a callback to a tenant.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const statePurpose = "provider_authorization"

// ErrWeakStateSecret is returned when the signing secret is too short
var ErrWeakStateSecret = errors.New("auth: state secret too short")

// StateClaims are the claims of an authorization state token
type StateClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Purpose  string `json:"purpose"`
}

// JWTStateSigner signs state tokens with HS256
type JWTStateSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTStateSigner creates a signer; secret must be at least 16 bytes
func NewJWTStateSigner(secret, issuer string, ttl time.Duration) (*JWTStateSigner, error) {
	if len(secret) < 16 {
		return nil, ErrWeakStateSecret
	}
	return &JWTStateSigner{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue mints a state token bound to tenantID with a fresh nonce
func (s *JWTStateSigner) Issue(tenantID uuid.UUID) (*integration.OAuthState, error) {
	now := s.now()
	nonce := uuid.NewString()
	expiresAt := now.Add(s.ttl)

	claims := &StateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Issuer:    s.issuer,
			Subject:   tenantID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		TenantID: tenantID.String(),
		Purpose:  statePurpose,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: sign state: %w", err)
	}
	return &integration.OAuthState{
		Value:     signed,
		TenantID:  tenantID,
		Nonce:     nonce,
		ExpiresAt: expiresAt.Truncate(time.Second),
	}, nil
}

// Verify validates the token and returns its content
func (s *JWTStateSigner) Verify(token string) (*integration.OAuthState, error) {
	claims := &StateClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrInvalidState, err)
	}
	if !parsed.Valid || claims.Purpose != statePurpose || claims.ID == "" {
		return nil, integration.ErrInvalidState
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil || tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: bad tenant claim", integration.ErrInvalidState)
	}
	return &integration.OAuthState{
		Value:     token,
		TenantID:  tenantID,
		Nonce:     claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
