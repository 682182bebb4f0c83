package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dealflow/dealflow/pkg/tenancy"
)

var ErrInvalidToken = errors.New("invalid token")

// AccessClaims is the payload of the bearer tokens accepted by the API.
type AccessClaims struct {
	jwt.RegisteredClaims
	TenantID       string   `json:"tenant_id"`
	OrganizationID string   `json:"organization_id,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	Permissions    []string `json:"permissions,omitempty"`
}

type TokenManager struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
}

func NewTokenManager(signingKey []byte, ttl time.Duration, issuer string) *TokenManager {
	return &TokenManager{signingKey: signingKey, ttl: ttl, issuer: issuer}
}

func (m *TokenManager) GenerateAccessToken(rc tenancy.RequestContext) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   rc.UserID.String(),
			Issuer:    m.issuer,
		},
		TenantID:    rc.TenantID.String(),
		Roles:       rc.Roles,
		Permissions: rc.Permissions,
	}
	if rc.HasOrganization() {
		claims.OrganizationID = rc.OrganizationID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *TokenManager) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// RequestContext converts validated claims into the tenancy scope of a request.
func (c *AccessClaims) RequestContext() (tenancy.RequestContext, error) {
	tenantID, err := uuid.Parse(c.TenantID)
	if err != nil {
		return tenancy.RequestContext{}, fmt.Errorf("%w: tenant_id", ErrInvalidToken)
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return tenancy.RequestContext{}, fmt.Errorf("%w: sub", ErrInvalidToken)
	}

	rc := tenancy.RequestContext{
		TenantID:    tenantID,
		UserID:      userID,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}
	if c.OrganizationID != "" {
		orgID, err := uuid.Parse(c.OrganizationID)
		if err != nil {
			return tenancy.RequestContext{}, fmt.Errorf("%w: organization_id", ErrInvalidToken)
		}
		rc.OrganizationID = orgID
	}
	return rc, nil
}

func (c *AccessClaims) HasPermission(required string) bool {
	for _, permission := range c.Permissions {
		if permission == required {
			return true
		}
	}
	return false
}
