package jwtutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	token, err := GenerateToken("s3cret", time.Hour, Identity{
		UserID: 3, Username: "department_head", Role: "Departmental Head", Department: "Finance",
	})
	require.NoError(t, err)

	claims, err := ParseToken("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, uint(3), claims.UserID)
	assert.Equal(t, "Departmental Head", claims.Role)
	assert.Equal(t, "Finance", claims.Department)
	assert.Equal(t, "3", claims.Subject)
}

func TestRejectsWrongSecretAndExpired(t *testing.T) {
	token, err := GenerateToken("a", time.Hour, Identity{UserID: 1})
	require.NoError(t, err)
	_, err = ParseToken("b", token)
	assert.Error(t, err)

	expired, err := GenerateToken("a", -time.Minute, Identity{UserID: 1})
	require.NoError(t, err)
	_, err = ParseToken("a", expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestRejectsOtherAlgorithms(t *testing.T) {
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken("a", unsigned)
	assert.Error(t, err)
}
