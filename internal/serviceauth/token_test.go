package serviceauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	secret := []byte("test-secret")
	token, err := NewTokenGenerator(secret, "settlement", time.Minute).GenerateToken()
	require.NoError(t, err)

	claims, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "settlement", claims.ServiceID)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenGenerator([]byte("a"), "ops", time.Minute).GenerateToken()
	require.NoError(t, err)

	_, err = ParseToken([]byte("b"), token)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	gen := NewTokenGenerator([]byte("a"), "ops", time.Minute)
	gen.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := gen.GenerateToken()
	require.NoError(t, err)

	_, err = ParseToken([]byte("a"), token)
	assert.Error(t, err)
}

func TestParseRejectsMissingServiceID(t *testing.T) {
	token, err := NewTokenGenerator([]byte("a"), "", time.Minute).GenerateToken()
	require.NoError(t, err)

	_, err = ParseToken([]byte("a"), token)
	assert.ErrorIs(t, err, ErrMissingServiceID)
}
