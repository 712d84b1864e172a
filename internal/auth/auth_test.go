package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionToken_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "sozdaibota", time.Hour)

	token, err := svc.GenerateSessionToken("s1")
	require.NoError(t, err)

	claims, err := svc.ValidateSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, "s1", claims.Subject)
}

func TestSessionToken_Rejects(t *testing.T) {
	svc := NewJWTService("secret", "sozdaibota", time.Hour)
	token, err := svc.GenerateSessionToken("s1")
	require.NoError(t, err)

	_, err = NewJWTService("other", "sozdaibota", time.Hour).ValidateSessionToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTService("secret", "someone-else", time.Hour).ValidateSessionToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateSessionToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionToken_Expired(t *testing.T) {
	svc := NewJWTService("secret", "sozdaibota", time.Hour)
	past := time.Now().Add(-2 * time.Hour)
	claims := SessionClaims{
		SessionID: "s1",
		TokenType: tokenTypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "sozdaibota",
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.ValidateSessionToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestExtractTokenFromBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractTokenFromBearer("Bearer abc"))
	assert.Equal(t, "", ExtractTokenFromBearer("Basic abc"))
	assert.Equal(t, "", ExtractTokenFromBearer(""))
}

func TestAdminKey(t *testing.T) {
	_, err := HashAdminKey("short")
	assert.ErrorIs(t, err, ErrAdminKeyTooShort)

	hash, err := HashAdminKey("a-very-long-admin-key")
	require.NoError(t, err)
	assert.True(t, CheckAdminKey("a-very-long-admin-key", hash))
	assert.False(t, CheckAdminKey("wrong-key-wrong-key", hash))
	assert.False(t, CheckAdminKey("a-very-long-admin-key", ""))
}
