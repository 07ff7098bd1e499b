package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gingernanny/portal-api/internal/config"
	"github.com/gingernanny/portal-api/internal/mail"
	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/server"
	"github.com/gingernanny/portal-api/internal/testutils/testdb"
	"github.com/gingernanny/portal-api/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const TestPassword = "Password123"

// TestConfig uses generous rate limits because every app.Test request comes
// from the same address.
func TestConfig() *config.Config {
	generous := config.Rule{Max: 1000, Window: time.Minute}
	return &config.Config{
		Env:             config.EnvDevelopment,
		ServerAddr:      ":0",
		LogLevel:        "error",
		AllowedOrigins:  []string{"http://frontend.test"},
		FrontendBaseURL: "http://frontend.test",
		APIBaseURL:      "http://api.test",
		ProjectName:     "Portal Test",
		Auth: config.AuthConfig{
			AccessTokenSecret:    "test-access-secret-0123456789abcdef",
			RefreshTokenSecret:   "test-refresh-secret-0123456789abcdef",
			ActionTokenSecret:    "test-action-secret-0123456789abcdef",
			AccessTokenTTL:       15 * time.Minute,
			RefreshTokenTTL:      7 * 24 * time.Hour,
			ResetTokenTTL:        15 * time.Minute,
			VerificationTokenTTL: 24 * time.Hour,
			EncryptionKey:        "test-encryption-passphrase-0123456789",
			EncryptionSalt:       "test-salt",
			BackupCodeCount:      5,
			ResetRequestLimit:    3,
			ResetRequestWindow:   24 * time.Hour,
		},
		Limits: config.LimitsConfig{
			Login:          generous,
			Register:       generous,
			Refresh:        generous,
			ForgotPassword: generous,
			TwoFactor:      generous,
			BackupCode:     generous,
		},
		CleanupInterval: time.Hour,
	}
}

type TestApp struct {
	App    *fiber.App
	DB     *gorm.DB
	Server *server.Server
	Mailer *RecordingMailer
	Config *config.Config
}

func SetupTestApp(t *testing.T) *TestApp {
	return SetupTestAppWithConfig(t, TestConfig())
}

func SetupTestAppWithConfig(t *testing.T, cfg *config.Config) *TestApp {
	t.Helper()
	utils.PasswordCost = bcrypt.MinCost

	db := testdb.New(t)
	mailer := &RecordingMailer{}

	srv, err := server.New(server.Deps{
		Config:           cfg,
		DB:               db,
		Log:              zap.NewNop(),
		Mailer:           mailer,
		DisableAccessLog: true,
	})
	require.NoError(t, err, "Failed to build test server")

	return &TestApp{App: srv.App, DB: db, Server: srv, Mailer: mailer, Config: cfg}
}

// ========== MAIL ==========

type RecordingMailer struct {
	mu       sync.Mutex
	Messages []mail.Message
	Err      error
}

func (m *RecordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *RecordingMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

func (m *RecordingMailer) Last() mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return mail.Message{}
	}
	return m.Messages[len(m.Messages)-1]
}

var tokenParam = regexp.MustCompile(`token=([^\s]+)`)

// LastToken extracts the token query parameter from the last message's link.
func (m *RecordingMailer) LastToken(t *testing.T) string {
	t.Helper()
	match := tokenParam.FindStringSubmatch(m.Last().Body)
	require.Len(t, match, 2, "no token link in last email")
	token, err := url.QueryUnescape(match[1])
	require.NoError(t, err)
	return token
}

// ========== FIXTURES ==========

func CreateTestUser(t *testing.T, db *gorm.DB, email, password string, role models.Role) *models.User {
	t.Helper()
	hashedPassword, err := utils.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{
		Email:     email,
		Password:  hashedPassword,
		FirstName: "Test",
		LastName:  "User",
		Role:      role,
		Profile:   &models.Profile{City: "Leeds"},
	}
	require.NoError(t, db.Create(user).Error, "Failed to create test user")
	return user
}

func GetAuthToken(t *testing.T, tokens *utils.TokenManager, user *models.User) string {
	t.Helper()
	token, err := tokens.IssueAccessToken(user.ID, user.Role, user.Email)
	require.NoError(t, err, "Failed to generate test token")
	return token
}

func RegisterBody(email string, role models.Role) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"password": TestPassword,
		"role":     string(role),
		"generalInfo": map[string]interface{}{
			"firstName":  "Alice",
			"lastName":   "Walker",
			"title":      "Ms",
			"fullNumber": "+447700900123",
			"address1":   "1 High Street",
			"city":       "Leeds",
			"region":     "West Yorkshire",
			"zipCode":    "LS1 1AA",
			"country":    "GB",
			"dob":        "1990-04-12",
			"gender":     "female",
		},
	}
}

// ========== REQUESTS ==========

// Client keeps cookies between requests and sends the CSRF header once a
// token has been fetched. Rotated tokens are picked up from the csrf cookie.
type Client struct {
	t         *testing.T
	app       *fiber.App
	cookies   map[string]*http.Cookie
	CSRFToken string
}

func (ta *TestApp) NewClient(t *testing.T) *Client {
	return &Client{t: t, app: ta.App, cookies: map[string]*http.Cookie{}}
}

func (c *Client) FetchCSRF() string {
	c.t.Helper()
	resp := c.Do(http.MethodGet, "/csrf-token", nil, "")
	require.Equal(c.t, http.StatusOK, resp.Code, resp.Body.String())

	var env Envelope
	ParseResponse(c.t, resp, &env)
	token, _ := env.ResultMap()["csrfToken"].(string)
	require.NotEmpty(c.t, token, "csrf token missing")
	c.CSRFToken = token
	return token
}

func (c *Client) Cookie(name string) string {
	if ck, ok := c.cookies[name]; ok {
		return ck.Value
	}
	return ""
}

func (c *Client) SetCookie(name, value string) {
	c.cookies[name] = &http.Cookie{Name: name, Value: value}
}

func (c *Client) DropCookie(name string) {
	delete(c.cookies, name)
}

func (c *Client) Do(method, target string, body interface{}, token string) *httptest.ResponseRecorder {
	c.t.Helper()

	req := newJSONRequest(method, target, body, token)
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	if c.CSRFToken != "" {
		req.Header.Set("X-CSRF-Token", c.CSRFToken)
	}

	resp, err := c.app.Test(req, -1)
	require.NoError(c.t, err)

	for _, ck := range resp.Cookies() {
		expired := ck.MaxAge < 0 || (!ck.Expires.IsZero() && ck.Expires.Before(time.Now()))
		if ck.Value == "" || expired {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = &http.Cookie{Name: ck.Name, Value: ck.Value}
		if ck.Name == "csrf_" && c.CSRFToken != "" {
			c.CSRFToken = ck.Value
		}
	}

	return record(resp)
}

func MakeRequest(app *fiber.App, method, target string, body interface{}, token string) (*httptest.ResponseRecorder, error) {
	resp, err := app.Test(newJSONRequest(method, target, body, token), -1)
	if err != nil {
		return httptest.NewRecorder(), err
	}
	return record(resp), nil
}

func newJSONRequest(method, target string, body interface{}, token string) *http.Request {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req := httptest.NewRequest(method, target, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func record(resp *http.Response) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	rec.Code = resp.StatusCode
	for k, v := range resp.Header {
		for _, val := range v {
			rec.Header().Add(k, val)
		}
	}
	_, _ = io.Copy(rec.Body, resp.Body)
	_ = resp.Body.Close()
	return rec
}

// ========== ASSERTIONS ==========

type Envelope struct {
	Code    int         `json:"code"`
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Result  interface{} `json:"result"`
}

func (e Envelope) ResultMap() map[string]interface{} {
	m, _ := e.Result.(map[string]interface{})
	return m
}

// ParseResponse decodes without draining resp so it can be parsed again.
func ParseResponse(t *testing.T, resp *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if resp.Body.Len() == 0 {
		t.Log("Warning: Response body is empty")
		return
	}
	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Logf("Response body: %s", resp.Body.String())
		assert.NoError(t, err, "Failed to parse response")
	}
}

func ParseEnvelope(t *testing.T, resp *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	ParseResponse(t, resp, &env)
	return env
}

func AssertSuccess(t *testing.T, resp *httptest.ResponseRecorder) Envelope {
	t.Helper()
	env := ParseEnvelope(t, resp)
	assert.Equal(t, "success", env.Status, "Expected success response: %s", resp.Body.String())
	assert.Equal(t, resp.Code, env.Code, "Envelope code mismatch")
	return env
}

func AssertError(t *testing.T, resp *httptest.ResponseRecorder, expectedCode int, expectedMessage string) Envelope {
	t.Helper()
	env := ParseEnvelope(t, resp)
	assert.Equal(t, expectedCode, resp.Code, "Status mismatch: %s", resp.Body.String())
	assert.Equal(t, "error", env.Status, "Expected error response")
	assert.Equal(t, expectedCode, env.Code)
	if expectedMessage != "" {
		assert.Equal(t, expectedMessage, env.Message, "Error message mismatch")
	}
	return env
}
