package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-test-secret-that-is-at-least-32-bytes-long"

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthService(testSecret, time.Hour)
	token, err := auth.GenerateToken(42)
	require.NoError(t, err)

	userID, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestValidateTokenRejects(t *testing.T) {
	auth := NewAuthService(testSecret, time.Hour)
	token, err := auth.GenerateToken(42)
	require.NoError(t, err)

	_, err = NewAuthService("another-secret-that-is-at-least-32-bytes", time.Hour).ValidateToken(token)
	assert.Error(t, err)

	expired := NewAuthService(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.GenerateToken(42)
	require.NoError(t, err)
	_, err = auth.ValidateToken(old)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.ValidateToken(noSubject)
	assert.ErrorContains(t, err, "'sub' claim missing")

	_, err = auth.ValidateToken("not-a-token")
	assert.Error(t, err)
}
