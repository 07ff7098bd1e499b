package admin

import (
	"errors"
	"strings"
	"time"

	"github.com/gingernanny/portal-api/internal/auth"
	"github.com/gingernanny/portal-api/internal/errorlog"
	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/response"
	"github.com/gingernanny/portal-api/internal/utils"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	accounts *auth.Service
	errlog   *errorlog.Service
}

func NewHandler(accounts *auth.Service, errlog *errorlog.Service) *Handler {
	return &Handler{accounts: accounts, errlog: errlog}
}

func (h *Handler) RegisterNewUser(c *fiber.Ctx) error {
	var body auth.RegisterInput
	if err := c.BodyParser(&body); err != nil {
		return response.BadRequest(c, "Invalid request body", nil)
	}
	body.Role = strings.ToUpper(strings.TrimSpace(body.Role))
	if errs := utils.ValidateStruct(body); errs != nil {
		return response.ValidationError(c, errs)
	}

	claims := auth.CurrentUser(c)
	created, err := h.accounts.CreateUser(c.UserContext(), claims.UserID, body, c.IP())
	switch {
	case err == nil:
		if !created.EmailSent {
			return response.Warning(c, fiber.StatusCreated, created.User, auth.MsgEmailDegraded)
		}
		return response.Created(c, created.User, "User registered successfully.")
	case errors.Is(err, auth.ErrEmailTaken):
		return response.Conflict(c, "A user with this email already exists.")
	default:
		h.errlog.Record(c.UserContext(), errorlog.Entry{Code: "ADMIN_REGISTER_USER", Err: err, UserID: claims.UserID})
		return response.InternalError(c, "Internal server error.")
	}
}

func (h *Handler) ErrorLogs(c *fiber.Ctx) error {
	f := errorlog.Filter{
		UserID: c.Query("userId"),
		Limit:  c.QueryInt("limit", 100),
	}

	if s := c.Query("severity"); s != "" {
		sev := models.Severity(strings.ToUpper(s))
		if !sev.Valid() {
			return response.BadRequest(c, "Invalid severity level.", nil)
		}
		f.Severity = sev
	}

	var err error
	if f.From, err = parseDate(c.Query("startDate")); err != nil {
		return response.BadRequest(c, "Invalid startDate.", nil)
	}
	if f.To, err = parseDate(c.Query("endDate")); err != nil {
		return response.BadRequest(c, "Invalid endDate.", nil)
	}

	logs, err := h.errlog.List(c.UserContext(), f)
	if err != nil {
		return response.InternalError(c, "Failed to fetch error logs.")
	}
	return response.Success(c, logs, "Error logs retrieved successfully")
}

func (h *Handler) DeleteUser(c *fiber.Ctx) error {
	claims := auth.CurrentUser(c)
	err := h.accounts.SoftDeleteUser(c.UserContext(), claims.UserID, c.Params("id"), c.IP())
	switch {
	case err == nil:
		return response.Success(c, nil, "User deleted successfully.")
	case errors.Is(err, auth.ErrProtectedAccount):
		return response.Forbidden(c, "Admin accounts cannot be deleted.")
	case errors.Is(err, auth.ErrUserNotFound):
		return response.NotFound(c, "User not found.")
	default:
		h.errlog.Record(c.UserContext(), errorlog.Entry{Code: "ADMIN_DELETE_USER", Err: err, UserID: claims.UserID})
		return response.InternalError(c, "Internal server error.")
	}
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
