// Package auth implements the authorization collaborator gating
// privileged ledger mutations. The ledger core treats it as opaque: any
// error it returns aborts the operation and propagates unmodified.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	dErrors "demura/pkg/domain-errors"
	"demura/pkg/requestcontext"
)

// Roles carried in the "role" claim.
const (
	RoleRateSetter = "rate-setter"
	RoleTreasury   = "treasury"
)

// JWTAuthorizer validates HS256 bearer tokens taken from the request
// context and checks the role claim.
type JWTAuthorizer struct {
	signingKey []byte
}

// NewJWT creates an authorizer verifying tokens with the given key.
func NewJWT(signingKey string) *JWTAuthorizer {
	return &JWTAuthorizer{signingKey: []byte(signingKey)}
}

// AuthorizeRateChange permits callers holding the rate-setter role.
func (a *JWTAuthorizer) AuthorizeRateChange(ctx context.Context) error {
	return a.requireRole(ctx, RoleRateSetter)
}

// AuthorizeSupplyChange permits callers holding the treasury role.
func (a *JWTAuthorizer) AuthorizeSupplyChange(ctx context.Context) error {
	return a.requireRole(ctx, RoleTreasury)
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (a *JWTAuthorizer) requireRole(ctx context.Context, role string) error {
	tokenString := requestcontext.BearerToken(ctx)
	if tokenString == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "bearer token required")
	}

	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.Newf(dErrors.CodeUnauthorized, "unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil || !token.Valid {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid bearer token")
	}
	if c.Role != role {
		return dErrors.Newf(dErrors.CodeUnauthorized, "%s role required", role)
	}
	return nil
}

// AllowAll authorizes every caller. Used in tests and single-operator
// deployments without token infrastructure.
type AllowAll struct{}

func (AllowAll) AuthorizeRateChange(ctx context.Context) error { return nil }

func (AllowAll) AuthorizeSupplyChange(ctx context.Context) error { return nil }

// Deny returns a static unauthorized error for every caller. Useful in
// tests asserting error propagation.
type Deny struct{}

func (Deny) AuthorizeRateChange(ctx context.Context) error {
	return dErrors.New(dErrors.CodeUnauthorized, "rate changes are not permitted")
}

func (Deny) AuthorizeSupplyChange(ctx context.Context) error {
	return dErrors.New(dErrors.CodeUnauthorized, "supply changes are not permitted")
}
