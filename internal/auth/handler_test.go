package auth_test

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/testutils"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countRefreshTokens(t *testing.T, ta *testutils.TestApp, userID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, ta.DB.Model(&models.RefreshToken{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func login(t *testing.T, c *testutils.Client, email, password string) testutils.Envelope {
	t.Helper()
	resp := c.Do(http.MethodPost, "/auth/login", map[string]interface{}{
		"userName": email,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	return testutils.AssertSuccess(t, resp)
}

func TestCSRFTokenHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	client := ta.NewClient(t)

	resp := client.Do(http.MethodGet, "/csrf-token", nil, "")
	assert.Equal(t, http.StatusOK, resp.Code)

	env := testutils.AssertSuccess(t, resp)
	assert.Equal(t, "CSRF token issued", env.Message)
	assert.NotEmpty(t, env.ResultMap()["csrfToken"])
	assert.Equal(t, env.ResultMap()["csrfToken"], client.Cookie("csrf_"))
}

func TestCSRFProtection(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	testutils.CreateTestUser(t, ta.DB, "csrf@example.com", testutils.TestPassword, models.RoleEmployee)
	body := map[string]interface{}{"userName": "csrf@example.com", "password": testutils.TestPassword}

	t.Run("Error - No token at all", func(t *testing.T) {
		client := ta.NewClient(t)
		resp := client.Do(http.MethodPost, "/auth/login", body, "")
		testutils.AssertError(t, resp, http.StatusForbidden, "Form tampered with")
	})

	t.Run("Error - Header without cookie", func(t *testing.T) {
		client := ta.NewClient(t)
		client.FetchCSRF()
		client.DropCookie("csrf_")

		resp := client.Do(http.MethodPost, "/auth/login", body, "")
		testutils.AssertError(t, resp, http.StatusForbidden, "Form tampered with")
	})

	t.Run("Error - Header does not match cookie", func(t *testing.T) {
		client := ta.NewClient(t)
		client.FetchCSRF()
		client.CSRFToken = "forged-token"

		resp := client.Do(http.MethodPost, "/auth/register", testutils.RegisterBody("forged@example.com", models.RoleEmployee), "")
		testutils.AssertError(t, resp, http.StatusForbidden, "Form tampered with")

		var users int64
		ta.DB.Model(&models.User{}).Where("email = ?", "forged@example.com").Count(&users)
		assert.Zero(t, users)
	})

	t.Run("Success - Matching header and cookie", func(t *testing.T) {
		client := ta.NewClient(t)
		client.FetchCSRF()
		login(t, client, "csrf@example.com", testutils.TestPassword)
	})

	t.Run("Success - Login rotates the token", func(t *testing.T) {
		client := ta.NewClient(t)
		sent := client.FetchCSRF()

		issued := login(t, client, "csrf@example.com", testutils.TestPassword).ResultMap()["csrfToken"]
		require.NotEmpty(t, issued)
		assert.NotEqual(t, sent, issued)
		assert.Equal(t, issued, client.Cookie("csrf_"))

		replay := ta.NewClient(t)
		replay.SetCookie("csrf_", sent)
		replay.CSRFToken = sent
		resp := replay.Do(http.MethodPost, "/auth/login", body, "")
		testutils.AssertError(t, resp, http.StatusForbidden, "Form tampered with")

		client.CSRFToken = issued.(string)
		resp = client.Do(http.MethodPost, "/auth/refresh", nil, "")
		assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	})
}

func TestRegisterHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	client := ta.NewClient(t)
	client.FetchCSRF()

	t.Run("Success - Register new employee", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/register", testutils.RegisterBody("alice@example.com", "employee"), "")
		assert.Equal(t, http.StatusCreated, resp.Code)

		env := testutils.AssertSuccess(t, resp)
		assert.Equal(t, "Registration successful", env.Message)

		result := env.ResultMap()
		assert.NotEmpty(t, result["accessToken"])
		assert.Equal(t, "EMPLOYEE", result["role"])
		assert.Equal(t, false, result["isEmailVerified"])
		assert.Equal(t, client.Cookie("csrf_"), result["csrfToken"])
		assert.NotEmpty(t, client.Cookie("jwt"), "refresh cookie must be set")

		assert.Equal(t, 1, ta.Mailer.Count())
		assert.Equal(t, "alice@example.com", ta.Mailer.Last().To)

		userID, _ := result["userId"].(string)
		assert.Equal(t, int64(1), countRefreshTokens(t, ta, userID))
	})

	t.Run("Error - Duplicate email", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/register", testutils.RegisterBody("ALICE@example.com", models.RoleModerator), "")
		testutils.AssertError(t, resp, http.StatusConflict, "A user with this email already exists.")
	})

	t.Run("Error - Admin role", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/register", testutils.RegisterBody("root@example.com", models.RoleAdmin), "")
		testutils.AssertError(t, resp, http.StatusConflict, "An admin already exists.")

		var rogue int64
		ta.DB.Model(&models.AuditLog{}).Where("action = ?", models.AuditRogueAdminRegister).Count(&rogue)
		assert.Equal(t, int64(1), rogue)
	})

	t.Run("Error - Missing required fields", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/register", map[string]interface{}{"email": "x@example.com"}, "")
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		env := testutils.ParseEnvelope(t, resp)
		assert.Equal(t, "error", env.Status)
	})

	t.Run("Error - Weak password", func(t *testing.T) {
		body := testutils.RegisterBody("weak@example.com", models.RoleEmployee)
		body["password"] = "short"
		resp := client.Do(http.MethodPost, "/auth/register", body, "")
		testutils.AssertError(t, resp, http.StatusBadRequest, "Validation failed")
	})

	t.Run("Warning - Verification email not delivered", func(t *testing.T) {
		ta.Mailer.Err = errors.New("smtp unavailable")
		defer func() { ta.Mailer.Err = nil }()

		resp := client.Do(http.MethodPost, "/auth/register", testutils.RegisterBody("bob@example.com", models.RoleEmployee), "")
		assert.Equal(t, http.StatusCreated, resp.Code)

		env := testutils.ParseEnvelope(t, resp)
		assert.Equal(t, "warning", env.Status)
		assert.Equal(t, "User registered but failed to send verification email. Please contact support.", env.Message)
		assert.NotEmpty(t, env.ResultMap()["accessToken"])
	})
}

func TestLoginHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	user := testutils.CreateTestUser(t, ta.DB, "test@example.com", testutils.TestPassword, models.RoleModerator)
	client := ta.NewClient(t)
	client.FetchCSRF()

	t.Run("Success - Valid credentials", func(t *testing.T) {
		sent := client.CSRFToken
		env := login(t, client, "test@example.com", testutils.TestPassword)
		assert.Equal(t, "Login successful", env.Message)

		result := env.ResultMap()
		assert.NotEmpty(t, result["accessToken"])
		assert.Equal(t, "MODERATOR", result["role"])
		assert.Equal(t, user.ID, result["userId"])
		assert.NotEqual(t, sent, result["csrfToken"])
		assert.Equal(t, client.CSRFToken, result["csrfToken"])
		assert.NotEmpty(t, client.Cookie("jwt"))
	})

	t.Run("Error - Wrong password", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/login", map[string]interface{}{
			"userName": "test@example.com",
			"password": "wrongpassword",
		}, "")
		testutils.AssertError(t, resp, http.StatusUnauthorized, "Invalid username or password.")
	})

	t.Run("Error - Unknown user", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/login", map[string]interface{}{
			"userName": "nobody@example.com",
			"password": testutils.TestPassword,
		}, "")
		testutils.AssertError(t, resp, http.StatusUnauthorized, "Invalid username or password.")
	})

	t.Run("Error - Missing password", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/login", map[string]interface{}{"userName": "test@example.com"}, "")
		testutils.AssertError(t, resp, http.StatusBadRequest, "Wrong or missing data")
	})

	t.Run("Success - Second login replaces the session", func(t *testing.T) {
		login(t, client, "test@example.com", testutils.TestPassword)
		assert.Equal(t, int64(1), countRefreshTokens(t, ta, user.ID))
	})
}

func TestLoginTwoFactorHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	user := testutils.CreateTestUser(t, ta.DB, "carol@example.com", testutils.TestPassword, models.RoleEmployee)
	token := testutils.GetAuthToken(t, ta.Server.Tokens, user)
	client := ta.NewClient(t)
	client.FetchCSRF()

	resp := client.Do(http.MethodPost, "/user/user-profile/2fa/setup", nil, token)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	key, err := otp.NewKeyFromURL(testutils.AssertSuccess(t, resp).ResultMap()["otpauthUrl"].(string))
	require.NoError(t, err)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)
	resp = client.Do(http.MethodPost, "/user/user-profile/2fa/verify", map[string]interface{}{"token": code}, token)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	t.Run("Partial - Token required", func(t *testing.T) {
		client.DropCookie("jwt")
		resp := client.Do(http.MethodPost, "/auth/login", map[string]interface{}{
			"userName": user.Email,
			"password": testutils.TestPassword,
		}, "")
		assert.Equal(t, http.StatusPartialContent, resp.Code)

		env := testutils.ParseEnvelope(t, resp)
		assert.Equal(t, "warning", env.Status)
		assert.Equal(t, "2FA required", env.Message)
		assert.Equal(t, true, env.ResultMap()["requires2FA"])
		assert.Equal(t, client.CSRFToken, env.ResultMap()["csrfToken"])
		assert.Nil(t, env.ResultMap()["accessToken"])
		assert.Empty(t, client.Cookie("jwt"))
		assert.Equal(t, int64(0), countRefreshTokens(t, ta, user.ID))
	})

	t.Run("Partial - Blank token", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/login", map[string]interface{}{
			"userName": user.Email,
			"password": testutils.TestPassword,
			"token":    "   ",
		}, "")
		assert.Equal(t, http.StatusPartialContent, resp.Code, resp.Body.String())
		assert.Equal(t, true, testutils.ParseEnvelope(t, resp).ResultMap()["requires2FA"])
	})

	t.Run("Error - Malformed token", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/login", map[string]interface{}{
			"userName": user.Email,
			"password": testutils.TestPassword,
			"token":    "12345",
		}, "")
		testutils.AssertError(t, resp, http.StatusBadRequest,
			"Token must be exactly 6 characters (TOTP) or 20 characters (Backup Code).")
	})

	t.Run("Error - Unknown backup code", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/login", map[string]interface{}{
			"userName": user.Email,
			"password": testutils.TestPassword,
			"token":    "AAAA BBBB CCCC DDDD EEEE",
		}, "")
		testutils.AssertError(t, resp, http.StatusUnauthorized, "No backup codes available.")
	})

	t.Run("Success - Valid TOTP", func(t *testing.T) {
		code, err := totp.GenerateCode(key.Secret(), time.Now())
		require.NoError(t, err)

		resp := client.Do(http.MethodPost, "/auth/login", map[string]interface{}{
			"userName": user.Email,
			"password": testutils.TestPassword,
			"token":    code,
		}, "")
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.NotEmpty(t, testutils.AssertSuccess(t, resp).ResultMap()["accessToken"])
		assert.NotEmpty(t, client.Cookie("jwt"))
	})
}

func TestRefreshHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	user := testutils.CreateTestUser(t, ta.DB, "dan@example.com", testutils.TestPassword, models.RoleEmployee)
	client := ta.NewClient(t)
	client.FetchCSRF()

	t.Run("Error - No cookie", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/refresh", nil, "")
		testutils.AssertError(t, resp, http.StatusUnauthorized, "Unauthorized")
	})

	login(t, client, user.Email, testutils.TestPassword)
	original := client.Cookie("jwt")
	require.NotEmpty(t, original)

	t.Run("Success - Rotates the refresh token", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/refresh", nil, "")
		assert.Equal(t, http.StatusOK, resp.Code)

		env := testutils.AssertSuccess(t, resp)
		assert.Equal(t, "Token refreshed successfully.", env.Message)
		assert.NotEmpty(t, env.ResultMap()["accessToken"])
		assert.NotEqual(t, original, client.Cookie("jwt"))
		assert.Equal(t, int64(1), countRefreshTokens(t, ta, user.ID))
	})

	t.Run("Error - Reused token is rejected and cleared", func(t *testing.T) {
		client.SetCookie("jwt", original)
		resp := client.Do(http.MethodPost, "/auth/refresh", nil, "")
		testutils.AssertError(t, resp, http.StatusForbidden, "Forbidden")
		assert.Empty(t, client.Cookie("jwt"))
	})

	t.Run("Error - Garbage cookie", func(t *testing.T) {
		client.SetCookie("jwt", "garbage")
		resp := client.Do(http.MethodPost, "/auth/refresh", nil, "")
		testutils.AssertError(t, resp, http.StatusForbidden, "Forbidden")
	})
}

func TestLogoutHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	user := testutils.CreateTestUser(t, ta.DB, "erin@example.com", testutils.TestPassword, models.RoleEmployee)
	client := ta.NewClient(t)
	client.FetchCSRF()
	login(t, client, user.Email, testutils.TestPassword)

	resp := client.Do(http.MethodPost, "/auth/logout", nil, "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Successfully logged out.", testutils.AssertSuccess(t, resp).Message)
	assert.Empty(t, client.Cookie("jwt"))
	assert.Equal(t, int64(0), countRefreshTokens(t, ta, user.ID))

	t.Run("Success - Logout without a session", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/logout", nil, "")
		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("Error - Refresh after logout", func(t *testing.T) {
		resp := client.Do(http.MethodPost, "/auth/refresh", nil, "")
		testutils.AssertError(t, resp, http.StatusUnauthorized, "Unauthorized")
	})
}

func TestForgotPasswordHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	testutils.CreateTestUser(t, ta.DB, "fay@example.com", testutils.TestPassword, models.RoleEmployee)
	const generic = "If your account exists, you will receive an email shortly."

	t.Run("Success - Unknown email looks the same", func(t *testing.T) {
		resp, err := testutils.MakeRequest(ta.App, http.MethodPost, "/auth/forgot-password",
			map[string]interface{}{"email": "nobody@example.com"}, "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, generic, testutils.AssertSuccess(t, resp).Message)
		assert.Zero(t, ta.Mailer.Count())
	})

	t.Run("Success - Reset email sent", func(t *testing.T) {
		resp, err := testutils.MakeRequest(ta.App, http.MethodPost, "/auth/forgot-password",
			map[string]interface{}{"email": "fay@example.com"}, "")
		require.NoError(t, err)
		assert.Equal(t, generic, testutils.AssertSuccess(t, resp).Message)
		assert.Equal(t, 1, ta.Mailer.Count())
		assert.Contains(t, ta.Mailer.Last().Body, "http://frontend.test/reset-password?token=")
	})

	t.Run("Error - Request limit reached", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			resp, err := testutils.MakeRequest(ta.App, http.MethodPost, "/auth/forgot-password",
				map[string]interface{}{"email": "fay@example.com"}, "")
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.Code)
		}

		resp, err := testutils.MakeRequest(ta.App, http.MethodPost, "/auth/forgot-password",
			map[string]interface{}{"email": "fay@example.com"}, "")
		require.NoError(t, err)
		testutils.AssertError(t, resp, http.StatusTooManyRequests,
			"You have reached the limit for password resets. Please wait before trying again.")
	})
}

func TestResetPasswordHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	user := testutils.CreateTestUser(t, ta.DB, "gil@example.com", testutils.TestPassword, models.RoleEmployee)

	client := ta.NewClient(t)
	client.FetchCSRF()
	login(t, client, user.Email, testutils.TestPassword)

	_, err := testutils.MakeRequest(ta.App, http.MethodPost, "/auth/forgot-password",
		map[string]interface{}{"email": user.Email}, "")
	require.NoError(t, err)
	token := ta.Mailer.LastToken(t)

	t.Run("Error - Weak password", func(t *testing.T) {
		resp, err := testutils.MakeRequest(ta.App, http.MethodPost, "/auth/reset-password",
			map[string]interface{}{"token": token, "newPassword": "weak"}, "")
		require.NoError(t, err)
		testutils.AssertError(t, resp, http.StatusBadRequest, "Validation failed")
	})

	t.Run("Success - Password reset", func(t *testing.T) {
		resp, err := testutils.MakeRequest(ta.App, http.MethodPost, "/auth/reset-password",
			map[string]interface{}{"token": token, "newPassword": "NewPassword456"}, "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "Password reset successfully.", testutils.AssertSuccess(t, resp).Message)
		assert.Equal(t, int64(0), countRefreshTokens(t, ta, user.ID), "sessions are revoked")

		login(t, client, user.Email, "NewPassword456")
	})

	t.Run("Error - Token already used", func(t *testing.T) {
		resp, err := testutils.MakeRequest(ta.App, http.MethodPost, "/auth/reset-password",
			map[string]interface{}{"token": token, "newPassword": "AnotherPass789"}, "")
		require.NoError(t, err)
		testutils.AssertError(t, resp, http.StatusBadRequest, "Invalid or expired token.")
	})

	t.Run("Error - Missing token", func(t *testing.T) {
		resp, err := testutils.MakeRequest(ta.App, http.MethodPost, "/auth/reset-password",
			map[string]interface{}{"newPassword": "AnotherPass789"}, "")
		require.NoError(t, err)
		testutils.AssertError(t, resp, http.StatusBadRequest, "Invalid or expired token.")
	})
}

func TestVerifyEmailHandler(t *testing.T) {
	ta := testutils.SetupTestApp(t)
	client := ta.NewClient(t)
	client.FetchCSRF()

	resp := client.Do(http.MethodPost, "/auth/register", testutils.RegisterBody("hal@example.com", models.RoleEmployee), "")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	token := ta.Mailer.LastToken(t)

	t.Run("Error - Bad token redirects with error", func(t *testing.T) {
		resp, err := testutils.MakeRequest(ta.App, http.MethodGet, "/public-services/verify-email?token=bad", nil, "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, resp.Code)
		assert.Equal(t, "http://frontend.test/verification?status=error", resp.Header().Get("Location"))
	})

	t.Run("Success - Account verified", func(t *testing.T) {
		resp, err := testutils.MakeRequest(ta.App, http.MethodGet,
			"/public-services/verify-email?token="+url.QueryEscape(token), nil, "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, resp.Code)
		assert.Equal(t, "http://frontend.test/verification?status=success", resp.Header().Get("Location"))

		var u models.User
		require.NoError(t, ta.DB.Where("email = ?", "hal@example.com").First(&u).Error)
		assert.True(t, u.IsEmailVerified)
	})
}
