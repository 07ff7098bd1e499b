package utils_test

import (
	"strings"
	"testing"
	"time"

	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenManager() *utils.TokenManager {
	return utils.NewTokenManager(utils.TokenConfig{
		AccessSecret:  strings.Repeat("a", 32),
		RefreshSecret: strings.Repeat("r", 32),
		ActionSecret:  strings.Repeat("x", 32),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
}

func TestAccessToken(t *testing.T) {
	tm := newTokenManager()

	t.Run("Success - Claims round trip", func(t *testing.T) {
		token, err := tm.IssueAccessToken("user-1", models.RoleEmployee, "alice@x.com")
		require.NoError(t, err)

		claims, err := tm.VerifyAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, models.RoleEmployee, claims.Role)
		assert.Equal(t, "alice@x.com", claims.UserName)
	})

	t.Run("Success - Payload carries no secrets", func(t *testing.T) {
		token, err := tm.IssueAccessToken("user-1", models.RoleEmployee, "alice@x.com")
		require.NoError(t, err)

		parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
		require.NoError(t, err)
		claims := parsed.Claims.(jwt.MapClaims)
		assert.NotContains(t, claims, "password")
		assert.NotContains(t, claims, "twoFactorSecret")
	})

	t.Run("Error - Expired is distinguishable", func(t *testing.T) {
		past := tm.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
		token, err := past.IssueAccessToken("user-1", models.RoleEmployee, "alice@x.com")
		require.NoError(t, err)

		_, err = tm.VerifyAccessToken(token)
		assert.ErrorIs(t, err, utils.ErrTokenExpired)
		assert.NotErrorIs(t, err, utils.ErrTokenInvalid)
	})

	t.Run("Error - Bad signature is invalid", func(t *testing.T) {
		token, err := tm.IssueAccessToken("user-1", models.RoleEmployee, "alice@x.com")
		require.NoError(t, err)

		tampered := token[:len(token)-2] + "xx"
		_, err = tm.VerifyAccessToken(tampered)
		assert.ErrorIs(t, err, utils.ErrTokenInvalid)
	})

	t.Run("Error - Garbage is invalid", func(t *testing.T) {
		_, err := tm.VerifyAccessToken("not.a.jwt")
		assert.ErrorIs(t, err, utils.ErrTokenInvalid)

		_, err = tm.VerifyAccessToken("")
		assert.ErrorIs(t, err, utils.ErrTokenInvalid)
	})
}

func TestRefreshToken(t *testing.T) {
	tm := newTokenManager()

	t.Run("Success - Distinct values per issue", func(t *testing.T) {
		a, expA, err := tm.IssueRefreshToken("user-1", models.RoleAdmin, "admin@x.com")
		require.NoError(t, err)
		b, _, err := tm.IssueRefreshToken("user-1", models.RoleAdmin, "admin@x.com")
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
		assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), expA, 5*time.Second)
	})

	t.Run("Error - Secrets are not interchangeable", func(t *testing.T) {
		refresh, _, err := tm.IssueRefreshToken("user-1", models.RoleAdmin, "admin@x.com")
		require.NoError(t, err)
		access, err := tm.IssueAccessToken("user-1", models.RoleAdmin, "admin@x.com")
		require.NoError(t, err)

		_, err = tm.VerifyAccessToken(refresh)
		assert.ErrorIs(t, err, utils.ErrTokenInvalid)
		_, err = tm.VerifyRefreshToken(access)
		assert.ErrorIs(t, err, utils.ErrTokenInvalid)

		claims, err := tm.VerifyRefreshToken(refresh)
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, claims.Role)
	})
}

func TestActionToken(t *testing.T) {
	tm := newTokenManager()

	token, _, err := tm.IssueActionToken("user-9", utils.PurposePasswordReset, 15*time.Minute)
	require.NoError(t, err)

	userID, err := tm.VerifyActionToken(token, utils.PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, "user-9", userID)

	_, err = tm.VerifyActionToken(token, utils.PurposeEmailVerification)
	assert.ErrorIs(t, err, utils.ErrTokenInvalid)

	expired, _, err := tm.IssueActionToken("user-9", utils.PurposePasswordReset, -time.Minute)
	require.NoError(t, err)
	_, err = tm.VerifyActionToken(expired, utils.PurposePasswordReset)
	assert.ErrorIs(t, err, utils.ErrTokenExpired)
}
