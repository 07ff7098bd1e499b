package user

import (
	"errors"

	"github.com/gingernanny/portal-api/internal/auth"
	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/response"
	"github.com/gingernanny/portal-api/internal/twofactor"
	"github.com/gingernanny/portal-api/internal/utils"

	"github.com/gofiber/fiber/v2"
)

func (h *Handler) SetupTwoFactor(c *fiber.Ctx) error {
	setup, err := h.twoFactor.BeginSetup(c.UserContext(), auth.CurrentUser(c).UserID)
	switch {
	case err == nil:
		return response.Success(c, fiber.Map{
			"qrCode":     setup.QRCode,
			"otpauthUrl": setup.ProvisioningURL,
		}, "Scan the QR code with your authenticator app.")
	case errors.Is(err, twofactor.ErrAlreadyEnabled):
		return response.BadRequest(c, "2FA is already enabled.", nil)
	case errors.Is(err, twofactor.ErrUserNotFound):
		return response.NotFound(c, "User not found.")
	default:
		return h.internal(c, "SETUP_2FA", err)
	}
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *Handler) VerifyTwoFactor(c *fiber.Ctx) error {
	var body tokenRequest
	if err := c.BodyParser(&body); err != nil || body.Token == "" {
		return response.BadRequest(c, "Token is required.", nil)
	}

	err := h.twoFactor.ConfirmSetup(c.UserContext(), auth.CurrentUser(c).UserID, body.Token)
	switch {
	case err == nil:
		h.metrics.TwoFactorChecks.WithLabelValues("totp", "success").Inc()
		h.audit.RecordBestEffort(c.UserContext(), h.auditEntry(c, models.AuditTwoFactorEnable, nil))
		return response.Success(c, nil, "2FA has been enabled successfully.")
	case errors.Is(err, twofactor.ErrTOTPFormat):
		return response.BadRequest(c, "Token must be a 6-digit code.", nil)
	case errors.Is(err, twofactor.ErrNotInitiated):
		return response.BadRequest(c, "2FA setup has not been initiated.", nil)
	case errors.Is(err, twofactor.ErrInvalidToken):
		h.metrics.TwoFactorChecks.WithLabelValues("totp", "failure").Inc()
		return response.Unauthorized(c, "Invalid 2FA token.")
	case errors.Is(err, twofactor.ErrUserNotFound):
		return response.NotFound(c, "User not found.")
	default:
		return h.internal(c, "VERIFY_2FA", err)
	}
}

func (h *Handler) ResetTwoFactor(c *fiber.Ctx) error {
	err := h.twoFactor.Reset(c.UserContext(), auth.CurrentUser(c).UserID)
	switch {
	case err == nil:
		h.audit.RecordBestEffort(c.UserContext(), h.auditEntry(c, models.AuditTwoFactorReset, nil))
		return response.Success(c, nil, "2FA has been reset.")
	case errors.Is(err, twofactor.ErrUserNotFound):
		return response.NotFound(c, "User not found.")
	default:
		return h.internal(c, "RESET_2FA", err)
	}
}

func (h *Handler) GenerateBackupCodes(c *fiber.Ctx) error {
	return h.issueBackupCodes(c, "generate", "Backup codes generated. Store them somewhere safe.")
}

func (h *Handler) RevokeBackupCodes(c *fiber.Ctx) error {
	return h.issueBackupCodes(c, "revoke", "Previous backup codes revoked. Store the new codes somewhere safe.")
}

func (h *Handler) issueBackupCodes(c *fiber.Ctx, op, message string) error {
	userID := auth.CurrentUser(c).UserID

	var (
		codes []string
		err   error
	)
	if op == "revoke" {
		codes, err = h.backup.Revoke(c.UserContext(), userID)
	} else {
		codes, err = h.backup.Generate(c.UserContext(), userID)
	}
	if err != nil {
		return h.internal(c, "BACKUP_CODES_"+op, err)
	}

	formatted := make([]string, len(codes))
	for i, code := range codes {
		formatted[i] = utils.FormatBackupCode(code)
	}

	h.audit.RecordBestEffort(c.UserContext(), h.auditEntry(c, models.AuditBackupCodes,
		map[string]interface{}{"operation": op, "count": len(codes)}))
	return response.Success(c, fiber.Map{"backupCodes": formatted}, message)
}

type backupCodeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) VerifyBackupCode(c *fiber.Ctx) error {
	var body backupCodeRequest
	if err := c.BodyParser(&body); err != nil || body.Code == "" {
		return response.BadRequest(c, "Backup code is required.", nil)
	}

	userID := auth.CurrentUser(c).UserID
	err := h.backup.VerifyAndConsume(c.UserContext(), userID, body.Code)
	switch {
	case err == nil:
	case errors.Is(err, twofactor.ErrBackupCodeFormat):
		return response.BadRequest(c, "Backup code must be exactly 20 characters.", nil)
	case errors.Is(err, twofactor.ErrNoBackupCodes):
		h.metrics.TwoFactorChecks.WithLabelValues("backup", "failure").Inc()
		return response.Unauthorized(c, "No backup codes available.")
	case errors.Is(err, twofactor.ErrInvalidBackupCode):
		h.metrics.TwoFactorChecks.WithLabelValues("backup", "failure").Inc()
		return response.Unauthorized(c, "Invalid or already used backup code.")
	default:
		return h.internal(c, "VERIFY_BACKUP", err)
	}

	h.metrics.TwoFactorChecks.WithLabelValues("backup", "success").Inc()
	h.metrics.BackupCodesUsed.Inc()

	remaining, err := h.backup.Remaining(c.UserContext(), userID)
	if err != nil {
		return h.internal(c, "VERIFY_BACKUP", err)
	}
	return response.Success(c, fiber.Map{"remaining": remaining}, "Backup code verified.")
}
