package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestValidator(t *testing.T) *HMACValidator {
	t.Helper()
	v, err := NewHMACValidator(testSecret, "")
	require.NoError(t, err)
	return v
}

func TestNewHMACValidator_RequiresSecret(t *testing.T) {
	_, err := NewHMACValidator("", "")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestValidateToken_Valid(t *testing.T) {
	v := newTestValidator(t)
	token, err := v.IssueToken("ops@example.com", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)
}

func TestValidateToken_Expired(t *testing.T) {
	v := newTestValidator(t)
	token, err := v.IssueToken("ops", "admin", -time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	other, err := NewHMACValidator("another-secret-another-secret-xx", "")
	require.NoError(t, err)
	token, err := other.IssueToken("ops", "admin", time.Hour)
	require.NoError(t, err)

	_, err = newTestValidator(t).ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	other, err := NewHMACValidator(testSecret, "someone-else")
	require.NoError(t, err)
	token, err := other.IssueToken("ops", "admin", time.Hour)
	require.NoError(t, err)

	_, err = newTestValidator(t).ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidIssuer)
}

func TestValidateToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "admin",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = newTestValidator(t).ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_RequiresExpiry(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: DefaultIssuer}, Role: "admin"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = newTestValidator(t).ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Garbage(t *testing.T) {
	_, err := newTestValidator(t).ValidateToken(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
