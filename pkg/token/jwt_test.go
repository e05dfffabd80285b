package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("nightly-sync")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "nightly-sync", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
}

func TestVerifyRejectsWrongSecretAndExpired(t *testing.T) {
	tok, err := NewJWTManager("secret", 1).GenerateToken("ops")
	require.NoError(t, err)
	_, err = NewJWTManager("other", 1).VerifyToken(tok)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, OperatorClaims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewJWTManager("secret", 1).VerifyToken(signed)
	assert.Error(t, err)
}

func TestVerifyRejectsOtherRoles(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, OperatorClaims{Role: "user"})
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewJWTManager("secret", 1).VerifyToken(signed)
	assert.Error(t, err)
}

func TestGenerateRequiresSubject(t *testing.T) {
	_, err := NewJWTManager("secret", 1).GenerateToken("")
	assert.Error(t, err)
}
