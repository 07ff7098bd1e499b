package middleware

import (
	"github.com/gingernanny/portal-api/internal/auth"
	"github.com/gingernanny/portal-api/internal/errorlog"
	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/response"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// AccountActive rejects tokens whose account no longer exists or was soft
// deleted. It must run after auth.JWTProtected.
func AccountActive(db *gorm.DB, errlog *errorlog.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := auth.CurrentUser(c)
		if claims == nil {
			return response.Unauthorized(c, "Unauthorized")
		}

		var count int64
		err := db.WithContext(c.UserContext()).Model(&models.User{}).Where("id = ?", claims.UserID).Count(&count).Error
		if err != nil {
			errlog.Record(c.UserContext(), errorlog.Entry{Code: "CHECK_USER_EXISTS", Err: err, UserID: claims.UserID})
			return response.InternalError(c, "Internal server error.")
		}
		if count == 0 {
			errlog.Record(c.UserContext(), errorlog.Entry{
				Code:     "USER_NOT_FOUND",
				Message:  "token presented for a missing or deleted account",
				UserID:   claims.UserID,
				Severity: models.SeverityWarning,
				Context:  map[string]interface{}{"path": c.Path(), "ip": c.IP()},
			})
			return response.NotFound(c, "User not found.")
		}

		return c.Next()
	}
}
