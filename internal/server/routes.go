package server

import (
	"github.com/gingernanny/portal-api/internal/admin"
	"github.com/gingernanny/portal-api/internal/auth"
	"github.com/gingernanny/portal-api/internal/config"
	"github.com/gingernanny/portal-api/internal/middleware"
	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/response"
	"github.com/gingernanny/portal-api/internal/user"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

type handlers struct {
	auth  *auth.Handler
	user  *user.Handler
	admin *admin.Handler
}

func (s *Server) limit(name string, rule config.Rule) fiber.Handler {
	return middleware.RateLimit(name, rule, s.storage, s.Metrics)
}

func (s *Server) routes(h handlers) {
	app := s.App
	limits := s.cfg.Limits

	csrf := middleware.CSRF(middleware.CSRFConfig{
		Secure:  s.secure,
		Storage: s.storage,
	}, s.Metrics, s.log)

	app.Get("/health", func(c *fiber.Ctx) error {
		return response.Success(c, fiber.Map{"status": "ok"}, s.cfg.ProjectName+" API is running")
	})
	app.Get("/metrics", adaptor.HTTPHandler(s.Metrics.Handler()))
	app.Get("/csrf-token", csrf, h.auth.CSRFToken)

	// ==========================================
	// AUTH ROUTES (public)
	// ==========================================
	authGroup := app.Group("/auth")
	authGroup.Post("/login", csrf, s.limit("login", limits.Login), h.auth.Login)
	authGroup.Post("/register", csrf, s.limit("register", limits.Register), h.auth.Register)
	authGroup.Post("/refresh", csrf, s.limit("refresh", limits.Refresh), h.auth.Refresh)
	authGroup.Post("/logout", h.auth.Logout)
	authGroup.Post("/forgot-password", s.limit("forgot-password", limits.ForgotPassword), h.auth.ForgotPassword)
	authGroup.Post("/reset-password", h.auth.ResetPassword)

	app.Get("/public-services/verify-email", h.auth.VerifyEmail)

	active := middleware.AccountActive(s.db, s.ErrorLog)

	// ==========================================
	// SELF SERVICE (any role)
	// ==========================================
	profile := app.Group("/user/user-profile", auth.JWTProtected(s.Tokens), active)
	profile.Get("/get-user-profile", h.user.GetProfile)
	profile.Post("/update-user-password", h.user.UpdatePassword)
	profile.Post("/resend-verification", h.user.ResendVerification)
	profile.Delete("/delete-account", h.user.DeleteAccount)

	twoFA := profile.Group("/2fa", s.limit("2fa", limits.TwoFactor))
	twoFA.Post("/setup", h.user.SetupTwoFactor)
	twoFA.Post("/verify", h.user.VerifyTwoFactor)
	twoFA.Post("/reset", h.user.ResetTwoFactor)

	backup := profile.Group("/backup", s.limit("backup", limits.BackupCode))
	backup.Post("/generate-backup", h.user.GenerateBackupCodes)
	backup.Post("/verify-backup", h.user.VerifyBackupCode)
	backup.Post("/revoke-backup", h.user.RevokeBackupCodes)

	// ==========================================
	// ROLE AREAS
	// ==========================================
	adminGroup := app.Group("/admin", auth.JWTProtected(s.Tokens, models.RoleAdmin), active)
	adminGroup.Get("/profile", h.user.GetProfile)
	adminGroup.Post("/register-new-user", h.admin.RegisterNewUser)
	adminGroup.Get("/error-logs", h.admin.ErrorLogs)
	adminGroup.Delete("/users/:id", h.admin.DeleteUser)

	moderator := app.Group("/moderator", auth.JWTProtected(s.Tokens, models.RoleAdmin, models.RoleModerator), active)
	moderator.Get("/profile", h.user.GetProfile)

	employees := app.Group("/employees", auth.JWTProtected(s.Tokens, models.RoleEmployee), active)
	employees.Get("/profile", h.user.GetProfile)
}
