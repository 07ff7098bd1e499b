package user_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/testutils"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profileBase = "/user/user-profile"

// ========== PROFILE ==========

func TestGetProfileHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	u := testutils.CreateTestUser(t, ta.DB, "alice@test.com", testutils.TestPassword, models.RoleEmployee)
	token := testutils.GetAuthToken(t, ta.Server.Tokens, u)

	resp, err := testutils.MakeRequest(ta.App, http.MethodGet, profileBase+"/get-user-profile", nil, token)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)

	env := testutils.AssertSuccess(t, resp)
	assert.Equal(t, "User profile retrieved successfully", env.Message)

	result := env.ResultMap()
	assert.Equal(t, "alice@test.com", result["email"])
	assert.Equal(t, "EMPLOYEE", result["role"])
	assert.NotContains(t, result, "password")
	assert.NotContains(t, result, "twoFactorSecret")

	profile, ok := result["profile"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Leeds", profile["city"])
}

func TestUpdatePasswordHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	u := testutils.CreateTestUser(t, ta.DB, "bob@test.com", testutils.TestPassword, models.RoleEmployee)

	client := ta.NewClient(t)
	client.FetchCSRF()
	resp := client.Do(http.MethodPost, "/auth/login", map[string]interface{}{
		"userName": u.Email, "password": testutils.TestPassword,
	}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	token := testutils.AssertSuccess(t, resp).ResultMap()["accessToken"].(string)

	require.NoError(t, ta.DB.Create(&models.RefreshToken{
		Token: "other-device", UserID: u.ID, Role: u.Role, ExpiresAt: time.Now().Add(time.Hour),
	}).Error)

	t.Run("Error - Wrong current password", func(t *testing.T) {
		resp := client.Do(http.MethodPost, profileBase+"/update-user-password", map[string]interface{}{
			"currentPassword": "wrong", "newPassword": "BetterPass99",
		}, token)
		testutils.AssertError(t, resp, http.StatusBadRequest, "Current password is incorrect.")
	})

	t.Run("Error - Weak new password", func(t *testing.T) {
		resp := client.Do(http.MethodPost, profileBase+"/update-user-password", map[string]interface{}{
			"currentPassword": testutils.TestPassword, "newPassword": "short",
		}, token)
		testutils.AssertError(t, resp, http.StatusBadRequest, "Validation failed")
	})

	t.Run("Success - Password changed, other sessions revoked", func(t *testing.T) {
		current := client.Cookie("jwt")

		resp := client.Do(http.MethodPost, profileBase+"/update-user-password", map[string]interface{}{
			"currentPassword": testutils.TestPassword, "newPassword": "BetterPass99",
		}, token)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "Password updated successfully.", testutils.AssertSuccess(t, resp).Message)

		var tokens []models.RefreshToken
		require.NoError(t, ta.DB.Where("user_id = ?", u.ID).Find(&tokens).Error)
		require.Len(t, tokens, 1)
		assert.Equal(t, current, tokens[0].Token)

		resp = client.Do(http.MethodPost, "/auth/login", map[string]interface{}{
			"userName": u.Email, "password": "BetterPass99",
		}, "")
		assert.Equal(t, http.StatusOK, resp.Code)
	})
}

func TestResendVerificationHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	u := testutils.CreateTestUser(t, ta.DB, "cy@test.com", testutils.TestPassword, models.RoleEmployee)
	token := testutils.GetAuthToken(t, ta.Server.Tokens, u)

	resp, err := testutils.MakeRequest(ta.App, http.MethodPost, profileBase+"/resend-verification", nil, token)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, ta.Mailer.Count())
	assert.Contains(t, ta.Mailer.Last().Body, "http://api.test/public-services/verify-email?token=")

	require.NoError(t, ta.DB.Model(u).Update("is_email_verified", true).Error)

	resp, err = testutils.MakeRequest(ta.App, http.MethodPost, profileBase+"/resend-verification", nil, token)
	require.NoError(t, err)
	testutils.AssertError(t, resp, http.StatusBadRequest, "Email is already verified.")
}

func TestDeleteAccountHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	mod := testutils.CreateTestUser(t, ta.DB, "mod@test.com", testutils.TestPassword, models.RoleModerator)
	emp := testutils.CreateTestUser(t, ta.DB, "emp@test.com", testutils.TestPassword, models.RoleEmployee)

	t.Run("Error - Moderator cannot self delete", func(t *testing.T) {
		resp, err := testutils.MakeRequest(ta.App, http.MethodDelete, profileBase+"/delete-account", nil,
			testutils.GetAuthToken(t, ta.Server.Tokens, mod))
		require.NoError(t, err)
		testutils.AssertError(t, resp, http.StatusForbidden, "Admins and moderators cannot delete their own account.")
	})

	t.Run("Success - Employee deletes own account", func(t *testing.T) {
		token := testutils.GetAuthToken(t, ta.Server.Tokens, emp)

		resp, err := testutils.MakeRequest(ta.App, http.MethodDelete, profileBase+"/delete-account", nil, token)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "Account deleted successfully.", testutils.AssertSuccess(t, resp).Message)

		resp, err = testutils.MakeRequest(ta.App, http.MethodGet, profileBase+"/get-user-profile", nil, token)
		require.NoError(t, err)
		testutils.AssertError(t, resp, http.StatusNotFound, "User not found.")
	})
}

// ========== TWO FACTOR ==========

func TestTwoFactorHandlers(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	u := testutils.CreateTestUser(t, ta.DB, "dee@test.com", testutils.TestPassword, models.RoleEmployee)
	token := testutils.GetAuthToken(t, ta.Server.Tokens, u)

	post := func(path string, body interface{}) *testutils.Envelope {
		t.Helper()
		resp, err := testutils.MakeRequest(ta.App, http.MethodPost, profileBase+"/2fa"+path, body, token)
		require.NoError(t, err)
		env := testutils.ParseEnvelope(t, resp)
		env.Code = resp.Code
		return &env
	}

	t.Run("Error - Verify before setup", func(t *testing.T) {
		env := post("/verify", map[string]interface{}{"token": "123456"})
		assert.Equal(t, http.StatusBadRequest, env.Code)
		assert.Equal(t, "2FA setup has not been initiated.", env.Message)
	})

	env := post("/setup", nil)
	require.Equal(t, http.StatusOK, env.Code, env.Message)
	qr, _ := env.ResultMap()["qrCode"].(string)
	assert.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))

	key, err := otp.NewKeyFromURL(env.ResultMap()["otpauthUrl"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Portal Test", key.Issuer())

	t.Run("Error - Malformed token", func(t *testing.T) {
		env := post("/verify", map[string]interface{}{"token": "12ab56"})
		assert.Equal(t, http.StatusBadRequest, env.Code)
		assert.Equal(t, "Token must be a 6-digit code.", env.Message)
	})

	t.Run("Success - Enable with current code", func(t *testing.T) {
		code, err := totp.GenerateCode(key.Secret(), time.Now())
		require.NoError(t, err)

		env := post("/verify", map[string]interface{}{"token": code})
		assert.Equal(t, http.StatusOK, env.Code)
		assert.Equal(t, "2FA has been enabled successfully.", env.Message)

		var stored models.User
		require.NoError(t, ta.DB.First(&stored, "id = ?", u.ID).Error)
		assert.True(t, stored.TwoFactorEnabled)
		assert.NotContains(t, stored.TwoFactorSecret, key.Secret(), "secret is stored encrypted")
	})

	t.Run("Error - Setup while enabled", func(t *testing.T) {
		env := post("/setup", nil)
		assert.Equal(t, http.StatusBadRequest, env.Code)
		assert.Equal(t, "2FA is already enabled.", env.Message)
	})

	t.Run("Success - Reset", func(t *testing.T) {
		env := post("/reset", nil)
		assert.Equal(t, http.StatusOK, env.Code)
		assert.Equal(t, "2FA has been reset.", env.Message)

		var stored models.User
		require.NoError(t, ta.DB.First(&stored, "id = ?", u.ID).Error)
		assert.False(t, stored.TwoFactorEnabled)
		assert.Empty(t, stored.TwoFactorSecret)
	})
}

// ========== BACKUP CODES ==========

func TestBackupCodeHandlers(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	u := testutils.CreateTestUser(t, ta.DB, "eve@test.com", testutils.TestPassword, models.RoleEmployee)
	token := testutils.GetAuthToken(t, ta.Server.Tokens, u)

	call := func(path string, body interface{}) (int, testutils.Envelope) {
		t.Helper()
		resp, err := testutils.MakeRequest(ta.App, http.MethodPost, profileBase+"/backup"+path, body, token)
		require.NoError(t, err)
		return resp.Code, testutils.ParseEnvelope(t, resp)
	}
	codesOf := func(env testutils.Envelope) []string {
		raw, _ := env.ResultMap()["backupCodes"].([]interface{})
		codes := make([]string, len(raw))
		for i, c := range raw {
			codes[i] = c.(string)
		}
		return codes
	}

	t.Run("Error - No codes issued yet", func(t *testing.T) {
		status, env := call("/verify-backup", map[string]interface{}{"code": "AAAA BBBB CCCC DDDD EEEE"})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "No backup codes available.", env.Message)
	})

	status, env := call("/generate-backup", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	codes := codesOf(env)
	require.Len(t, codes, ta.Config.Auth.BackupCodeCount)
	assert.Len(t, strings.ReplaceAll(codes[0], " ", ""), 20)

	t.Run("Error - Wrong length", func(t *testing.T) {
		status, env := call("/verify-backup", map[string]interface{}{"code": "ABC"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Backup code must be exactly 20 characters.", env.Message)
	})

	t.Run("Success - Code accepted once", func(t *testing.T) {
		status, env := call("/verify-backup", map[string]interface{}{"code": strings.ToLower(codes[0])})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Backup code verified.", env.Message)
		assert.Equal(t, float64(len(codes)-1), env.ResultMap()["remaining"])

		status, env = call("/verify-backup", map[string]interface{}{"code": codes[0]})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "Invalid or already used backup code.", env.Message)
	})

	t.Run("Success - Revoke replaces every code", func(t *testing.T) {
		status, env := call("/revoke-backup", nil)
		require.Equal(t, http.StatusOK, status)
		fresh := codesOf(env)
		require.Len(t, fresh, len(codes))

		status, _ = call("/verify-backup", map[string]interface{}{"code": codes[1]})
		assert.Equal(t, http.StatusUnauthorized, status, "old codes are gone")

		status, _ = call("/verify-backup", map[string]interface{}{"code": fresh[1]})
		assert.Equal(t, http.StatusOK, status)
	})
}
