package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthService(testSecret, time.Hour, "admin", string(hash))
}

func TestAuthenticate(t *testing.T) {
	a := newTestAuth(t)

	role, err := a.Authenticate("admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	_, err = a.Authenticate("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.Authenticate("root", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	disabled := NewAuthService(testSecret, time.Hour, "admin", "")
	_, err = disabled.Authenticate("admin", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenRoundTrip(t *testing.T) {
	a := newTestAuth(t)
	token, expires, err := a.GenerateToken("admin", RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestValidateTokenRejects(t *testing.T) {
	a := newTestAuth(t)

	t.Run("expired", func(t *testing.T) {
		past := time.Now().Add(-2 * time.Hour)
		a.now = func() time.Time { return past }
		token, _, err := a.GenerateToken("admin", RoleAdmin)
		require.NoError(t, err)
		a.now = time.Now

		_, err = a.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewAuthService("another-secret-that-is-long-enough-too", time.Hour, "", "")
		token, _, err := other.GenerateToken("admin", RoleAdmin)
		require.NoError(t, err)
		_, err = a.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "admin", "role": RoleAdmin})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = a.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		token, _, err := a.GenerateToken("", RoleAdmin)
		require.NoError(t, err)
		_, err = a.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestMissingRoleDefaultsToOperator(t *testing.T) {
	a := newTestAuth(t)
	token, _, err := a.GenerateToken("svc", "")
	require.NoError(t, err)
	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, claims.Role)
}
