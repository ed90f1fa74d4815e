package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "demura/pkg/domain-errors"
	"demura/pkg/requestcontext"
)

const testKey = "unit-test-signing-key"

func signedToken(t *testing.T, role string, key string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@example",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestJWTAuthorizer(t *testing.T) {
	a := NewJWT(testKey)

	t.Run("missing token is unauthorized", func(t *testing.T) {
		err := a.AuthorizeRateChange(context.Background())
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	t.Run("valid rate-setter token authorizes rate changes", func(t *testing.T) {
		ctx := requestcontext.WithBearerToken(context.Background(), signedToken(t, RoleRateSetter, testKey))
		require.NoError(t, a.AuthorizeRateChange(ctx))
	})

	t.Run("rate-setter cannot change supply", func(t *testing.T) {
		ctx := requestcontext.WithBearerToken(context.Background(), signedToken(t, RoleRateSetter, testKey))
		err := a.AuthorizeSupplyChange(ctx)
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	t.Run("treasury token authorizes mint and burn", func(t *testing.T) {
		ctx := requestcontext.WithBearerToken(context.Background(), signedToken(t, RoleTreasury, testKey))
		require.NoError(t, a.AuthorizeSupplyChange(ctx))
	})

	t.Run("wrong signing key is unauthorized", func(t *testing.T) {
		ctx := requestcontext.WithBearerToken(context.Background(), signedToken(t, RoleRateSetter, "other-key"))
		err := a.AuthorizeRateChange(ctx)
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	t.Run("expired token is unauthorized", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
			Role: RoleRateSetter,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})
		signed, err := token.SignedString([]byte(testKey))
		require.NoError(t, err)

		ctx := requestcontext.WithBearerToken(context.Background(), signed)
		err = a.AuthorizeRateChange(ctx)
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	})
}
