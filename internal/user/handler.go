package user

import (
	"errors"

	"github.com/gingernanny/portal-api/internal/audit"
	"github.com/gingernanny/portal-api/internal/auth"
	"github.com/gingernanny/portal-api/internal/errorlog"
	"github.com/gingernanny/portal-api/internal/metrics"
	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/response"
	"github.com/gingernanny/portal-api/internal/twofactor"
	"github.com/gingernanny/portal-api/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// Handler serves the self-service routes under /user/user-profile.
type Handler struct {
	accounts     *auth.Service
	twoFactor    *twofactor.Engine
	backup       *twofactor.BackupManager
	audit        *audit.Logger
	errlog       *errorlog.Service
	metrics      *metrics.Metrics
	secureCookie bool
}

type Deps struct {
	Accounts     *auth.Service
	TwoFactor    *twofactor.Engine
	Backup       *twofactor.BackupManager
	Audit        *audit.Logger
	ErrorLog     *errorlog.Service
	Metrics      *metrics.Metrics
	SecureCookie bool
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		accounts:     d.Accounts,
		twoFactor:    d.TwoFactor,
		backup:       d.Backup,
		audit:        d.Audit,
		errlog:       d.ErrorLog,
		metrics:      d.Metrics,
		secureCookie: d.SecureCookie,
	}
}

func (h *Handler) GetProfile(c *fiber.Ctx) error {
	claims := auth.CurrentUser(c)
	u, err := h.accounts.Profile(c.UserContext(), claims.UserID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return response.NotFound(c, "User not found.")
	}
	if err != nil {
		return h.internal(c, "GET_USER_PROFILE", err)
	}
	return response.Success(c, u, "User profile retrieved successfully")
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,strongpassword"`
}

func (h *Handler) UpdatePassword(c *fiber.Ctx) error {
	var body updatePasswordRequest
	if err := c.BodyParser(&body); err != nil {
		return response.BadRequest(c, "Invalid request body", nil)
	}
	if errs := utils.ValidateStruct(body); errs != nil {
		return response.ValidationError(c, errs)
	}

	claims := auth.CurrentUser(c)
	err := h.accounts.ChangePassword(c.UserContext(), claims.UserID, body.CurrentPassword, body.NewPassword,
		c.Cookies(auth.RefreshCookieName), c.IP())
	switch {
	case err == nil:
		return response.Success(c, nil, "Password updated successfully.")
	case errors.Is(err, auth.ErrWrongPassword):
		return response.BadRequest(c, "Current password is incorrect.", nil)
	case errors.Is(err, auth.ErrWeakPassword):
		return response.ValidationError(c, map[string]string{"newPassword": "newPassword is too weak"})
	case errors.Is(err, auth.ErrUserNotFound):
		return response.NotFound(c, "User not found.")
	default:
		return h.internal(c, "UPDATE_PASSWORD", err)
	}
}

func (h *Handler) ResendVerification(c *fiber.Ctx) error {
	err := h.accounts.ResendVerification(c.UserContext(), auth.CurrentUser(c).UserID)
	switch {
	case err == nil:
		return response.Success(c, nil, "Verification email sent.")
	case errors.Is(err, auth.ErrAlreadyVerified):
		return response.BadRequest(c, "Email is already verified.", nil)
	case errors.Is(err, auth.ErrUserNotFound):
		return response.NotFound(c, "User not found.")
	case errors.Is(err, auth.ErrEmailDelivery):
		return response.InternalError(c, "Failed to send verification email.")
	default:
		return h.internal(c, "RESEND_VERIFICATION", err)
	}
}

func (h *Handler) DeleteAccount(c *fiber.Ctx) error {
	err := h.accounts.DeleteAccount(c.UserContext(), auth.CurrentUser(c).UserID, c.IP())
	switch {
	case err == nil:
		auth.ClearRefreshCookie(c, h.secureCookie)
		return response.Success(c, nil, "Account deleted successfully.")
	case errors.Is(err, auth.ErrProtectedAccount):
		return response.Forbidden(c, "Admins and moderators cannot delete their own account.")
	case errors.Is(err, auth.ErrUserNotFound):
		return response.NotFound(c, "User not found.")
	default:
		return h.internal(c, "DELETE_ACCOUNT", err)
	}
}

func (h *Handler) internal(c *fiber.Ctx, code string, err error) error {
	var userID string
	if claims := auth.CurrentUser(c); claims != nil {
		userID = claims.UserID
	}
	h.errlog.Record(c.UserContext(), errorlog.Entry{
		Code:    code,
		Err:     err,
		UserID:  userID,
		Context: map[string]interface{}{"path": c.Path(), "method": c.Method()},
	})
	return response.InternalError(c, "Internal server error.")
}

func (h *Handler) auditEntry(c *fiber.Ctx, action models.AuditAction, details map[string]interface{}) audit.Entry {
	userID := auth.CurrentUser(c).UserID
	return audit.Entry{
		Action:    action,
		UserID:    userID,
		Entity:    "User",
		EntityID:  userID,
		IPAddress: c.IP(),
		Details:   details,
	}
}
