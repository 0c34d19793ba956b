package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePair_ClaimsRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", 1, 7)

	access, refresh, err := m.GeneratePair("kid-1", RoleKid, "parent-1")
	require.NoError(t, err)

	claims, err := m.VerifyAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, "kid-1", claims.UserID)
	assert.Equal(t, "kid-1", claims.Subject)
	assert.Equal(t, RoleKid, claims.Role)
	assert.Equal(t, "parent-1", claims.ParentID)

	rclaims, err := m.VerifyToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, TypeRefresh, rclaims.TokenType)
	assert.True(t, rclaims.ExpiresAt.After(claims.ExpiresAt.Time))
}

func TestVerifyAccessToken_RejectsRefreshToken(t *testing.T) {
	m := NewJWTManager("test-secret", 1, 7)
	refresh, err := m.GenerateRefreshToken("p-1", RoleParent, "p-1")
	require.NoError(t, err)

	_, err = m.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	signer := NewJWTManager("secret-a", 1, 7)
	verifier := NewJWTManager("secret-b", 1, 7)

	tok, err := signer.GenerateToken("p-1", RoleParent, "p-1")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyToken_Expired(t *testing.T) {
	m := NewJWTManager("test-secret", -1, 0)
	tok, err := m.GenerateToken("p-1", RoleParent, "p-1")
	require.NoError(t, err)

	_, err = m.VerifyToken(tok)
	assert.Error(t, err)
}
