package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gingernanny/portal-api/internal/errorlog"
	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/response"
	"github.com/gingernanny/portal-api/internal/twofactor"
	"github.com/gingernanny/portal-api/internal/utils"

	"github.com/gofiber/fiber/v2"
)

const (
	RefreshCookieName = "jwt"
	csrfLocalsKey     = "csrf"

	msgTokenFormat   = "Token must be exactly 6 characters (TOTP) or 20 characters (Backup Code)."
	msgInvalid2FA    = "Invalid 2FA token."
	msgInvalidBackup = "Invalid or already used backup code."
	msgNoBackupCodes = "No backup codes available."
	msgInvalidLogin  = "Invalid username or password."
	msgGenericReset  = "If your account exists, you will receive an email shortly."
	MsgEmailDegraded = "User registered but failed to send verification email. Please contact support."
)

type HandlerConfig struct {
	SecureCookie    bool
	FrontendBaseURL string
}

type Handler struct {
	svc    *Service
	errlog *errorlog.Service
	cfg    HandlerConfig
}

func NewHandler(svc *Service, errlog *errorlog.Service, cfg HandlerConfig) *Handler {
	return &Handler{svc: svc, errlog: errlog, cfg: cfg}
}

type loginRequest struct {
	UserName string `json:"userName" validate:"required"`
	Password string `json:"password" validate:"required"`
	Token    string `json:"token"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var body loginRequest
	if err := c.BodyParser(&body); err != nil {
		return response.BadRequest(c, "Wrong or missing data", nil)
	}
	if errs := utils.ValidateStruct(body); errs != nil {
		return response.BadRequest(c, "Wrong or missing data", errs)
	}

	sess, err := h.svc.Login(c.UserContext(), LoginInput{
		UserName:  body.UserName,
		Password:  body.Password,
		Token:     body.Token,
		IPAddress: c.IP(),
	})
	if err != nil {
		return h.loginFailed(c, err)
	}

	h.setRefreshCookie(c, sess)
	return response.Success(c, h.sessionResult(c, sess), "Login successful")
}

func (h *Handler) loginFailed(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return response.Unauthorized(c, msgInvalidLogin)
	case errors.Is(err, ErrTwoFactorRequired):
		return response.Warning(c, fiber.StatusPartialContent, fiber.Map{
			"requires2FA": true,
			"csrfToken":   CSRFTokenFrom(c),
		}, "2FA required")
	case errors.Is(err, twofactor.ErrTokenFormat):
		return response.BadRequest(c, msgTokenFormat, nil)
	case errors.Is(err, twofactor.ErrInvalidToken):
		return response.Unauthorized(c, msgInvalid2FA)
	case errors.Is(err, twofactor.ErrInvalidBackupCode):
		return response.Unauthorized(c, msgInvalidBackup)
	case errors.Is(err, twofactor.ErrNoBackupCodes):
		return response.Unauthorized(c, msgNoBackupCodes)
	case errors.Is(err, twofactor.ErrSecretCorrupt):
		h.errlog.Record(c.UserContext(), errorlog.Entry{Code: "LOGIN_DECRYPT_ERROR", Err: err, Context: requestContext(c)})
		return response.InternalError(c, "Internal Server Error.")
	default:
		h.errlog.Record(c.UserContext(), errorlog.Entry{Code: "LOGIN", Err: err, Context: requestContext(c)})
		return response.InternalError(c, "An error occurred during login")
	}
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	sess, err := h.svc.Refresh(c.UserContext(), c.Cookies(RefreshCookieName))
	switch {
	case err == nil:
	case errors.Is(err, ErrNoRefreshToken):
		return response.Unauthorized(c, "Unauthorized")
	case errors.Is(err, ErrSessionInvalid):
		h.clearRefreshCookie(c)
		return response.Forbidden(c, "Forbidden")
	case errors.Is(err, ErrRotationExhausted):
		h.errlog.Record(c.UserContext(), errorlog.Entry{
			Code:     "REFRESH_ROTATION_EXHAUSTED",
			Err:      err,
			Severity: models.SeverityCritical,
			Context:  requestContext(c),
		})
		return response.InternalError(c, "Internal server error.")
	default:
		h.errlog.Record(c.UserContext(), errorlog.Entry{Code: "REFRESH", Err: err, Context: requestContext(c)})
		return response.InternalError(c, "Internal server error.")
	}

	h.setRefreshCookie(c, sess)
	return response.Success(c, h.sessionResult(c, sess), "Token refreshed successfully.")
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	if err := h.svc.Logout(c.UserContext(), c.Cookies(RefreshCookieName), c.IP()); err != nil {
		h.errlog.Record(c.UserContext(), errorlog.Entry{Code: "LOGOUT", Err: err, Context: requestContext(c)})
		return response.InternalError(c, "Internal server error.")
	}
	h.clearRefreshCookie(c)
	return response.Success(c, nil, "Successfully logged out.")
}

func (h *Handler) Register(c *fiber.Ctx) error {
	var body RegisterInput
	if err := c.BodyParser(&body); err != nil {
		return response.BadRequest(c, "All required fields must be provided", nil)
	}
	body.Role = strings.ToUpper(strings.TrimSpace(body.Role))
	if errs := utils.ValidateStruct(body); errs != nil {
		return response.ValidationError(c, errs)
	}

	reg, err := h.svc.Register(c.UserContext(), body, c.IP())
	switch {
	case err == nil:
	case errors.Is(err, ErrAdminRegistration):
		return response.Conflict(c, "An admin already exists.")
	case errors.Is(err, ErrEmailTaken):
		return response.Conflict(c, "A user with this email already exists.")
	default:
		h.errlog.Record(c.UserContext(), errorlog.Entry{Code: "REGISTER", Err: err, Context: requestContext(c)})
		return response.InternalError(c, "An error occurred during registration")
	}

	h.setRefreshCookie(c, reg.Session)
	result := h.sessionResult(c, reg.Session)
	if !reg.EmailSent {
		return response.Warning(c, fiber.StatusCreated, result, MsgEmailDegraded)
	}
	return response.Created(c, result, "Registration successful")
}

func (h *Handler) ForgotPassword(c *fiber.Ctx) error {
	var body struct {
		Email string `json:"email"`
	}
	_ = c.BodyParser(&body)

	err := h.svc.ForgotPassword(c.UserContext(), body.Email, c.IP())
	if errors.Is(err, ErrResetLimit) {
		return response.TooManyRequests(c, "You have reached the limit for password resets. Please wait before trying again.")
	}
	if err != nil {
		h.errlog.Record(c.UserContext(), errorlog.Entry{Code: "FORGOT_PASSWORD", Err: err, Context: requestContext(c)})
	}
	return response.Success(c, nil, msgGenericReset)
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,strongpassword"`
}

func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var body resetPasswordRequest
	if err := c.BodyParser(&body); err != nil {
		return response.BadRequest(c, "Invalid or expired token.", nil)
	}
	if body.Token == "" {
		return response.BadRequest(c, "Invalid or expired token.", nil)
	}
	if errs := utils.ValidateStruct(body); errs != nil {
		return response.ValidationError(c, errs)
	}

	err := h.svc.ResetPassword(c.UserContext(), body.Token, body.NewPassword, c.IP())
	switch {
	case err == nil:
		return response.Success(c, nil, "Password reset successfully.")
	case errors.Is(err, ErrInvalidResetToken):
		return response.BadRequest(c, "Invalid or expired token.", nil)
	case errors.Is(err, ErrUserNotFound):
		return response.NotFound(c, "User not found.")
	default:
		h.errlog.Record(c.UserContext(), errorlog.Entry{Code: "RESET_PASSWORD", Err: err, Context: requestContext(c)})
		return response.InternalError(c, "Internal server error.")
	}
}

// VerifyEmail is the link target of the verification email. It redirects to
// the frontend with the outcome.
func (h *Handler) VerifyEmail(c *fiber.Ctx) error {
	target := h.cfg.FrontendBaseURL + "/verification?status="
	if err := h.svc.VerifyEmail(c.UserContext(), c.Query("token"), c.IP()); err != nil {
		if !errors.Is(err, ErrInvalidVerification) && !errors.Is(err, ErrUserNotFound) {
			h.errlog.Record(c.UserContext(), errorlog.Entry{Code: "VERIFY_EMAIL", Err: err, Context: requestContext(c)})
		}
		return c.Redirect(target+"error", fiber.StatusFound)
	}
	return c.Redirect(target+"success", fiber.StatusFound)
}

// CSRFToken hands out the token the csrf middleware bound to this client.
func (h *Handler) CSRFToken(c *fiber.Ctx) error {
	return response.Success(c, fiber.Map{"csrfToken": CSRFTokenFrom(c)}, "CSRF token issued")
}

func CSRFTokenFrom(c *fiber.Ctx) string {
	token, _ := c.Locals(csrfLocalsKey).(string)
	return token
}

func (h *Handler) sessionResult(c *fiber.Ctx, sess *Session) fiber.Map {
	return fiber.Map{
		"accessToken":     sess.AccessToken,
		"isEmailVerified": sess.User.IsEmailVerified,
		"role":            sess.User.Role,
		"userId":          sess.User.ID,
		"csrfToken":       CSRFTokenFrom(c),
	}
}

func (h *Handler) setRefreshCookie(c *fiber.Ctx, sess *Session) {
	c.Cookie(&fiber.Cookie{
		Name:     RefreshCookieName,
		Value:    sess.RefreshToken,
		Path:     "/",
		MaxAge:   int(h.svc.tokens.RefreshTTL().Seconds()),
		Expires:  sess.RefreshExpiresAt,
		HTTPOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

// ClearRefreshCookie expires the refresh cookie with the attributes it was set with.
func ClearRefreshCookie(c *fiber.Ctx, secure bool) {
	c.Cookie(&fiber.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(c *fiber.Ctx) {
	ClearRefreshCookie(c, h.cfg.SecureCookie)
}

func requestContext(c *fiber.Ctx) map[string]interface{} {
	return map[string]interface{}{
		"method": c.Method(),
		"path":   c.Path(),
		"ip":     c.IP(),
	}
}
