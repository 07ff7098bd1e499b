package middleware

import (
	"time"

	"github.com/gingernanny/portal-api/internal/metrics"
	"github.com/gingernanny/portal-api/internal/response"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"go.uber.org/zap"
)

const (
	CSRFHeader     = "X-CSRF-Token"
	CSRFCookieName = "csrf_"
)

type CSRFConfig struct {
	Secure     bool
	Expiration time.Duration
	Storage    fiber.Storage
}

// CSRF binds a token to a cookie and requires it back in the X-CSRF-Token
// header on unsafe methods. A token is consumed by the request that presents
// it; the replacement is set in the cookie and stored under the "csrf" local.
func CSRF(cfg CSRFConfig, m *metrics.Metrics, log *zap.Logger) fiber.Handler {
	if cfg.Expiration <= 0 {
		cfg.Expiration = time.Hour
	}

	return csrf.New(csrf.Config{
		KeyLookup:      "header:" + CSRFHeader,
		CookieName:     CSRFCookieName,
		CookieSameSite: "Strict",
		CookieHTTPOnly: true,
		CookieSecure:   cfg.Secure,
		Expiration:     cfg.Expiration,
		SingleUseToken: true,
		ContextKey:     "csrf",
		Storage:        cfg.Storage,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			m.CSRFRejects.Inc()
			log.Warn("csrf validation failed",
				zap.Error(err),
				zap.String("origin", c.Get(fiber.HeaderOrigin)),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
				zap.Bool("header_present", c.Get(CSRFHeader) != ""),
			)
			return response.Forbidden(c, "Form tampered with")
		},
	})
}
