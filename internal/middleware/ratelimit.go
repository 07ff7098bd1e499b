package middleware

import (
	"github.com/gingernanny/portal-api/internal/config"
	"github.com/gingernanny/portal-api/internal/metrics"
	"github.com/gingernanny/portal-api/internal/response"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimit allows rule.Max requests per client IP within a sliding
// rule.Window. name keeps the counters of different limiters apart.
func RateLimit(name string, rule config.Rule, store fiber.Storage, m *metrics.Metrics) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               rule.Max,
		Expiration:        rule.Window,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           store,
		KeyGenerator: func(c *fiber.Ctx) string {
			return name + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			m.RateLimitRejects.WithLabelValues(name).Inc()
			return response.TooManyRequests(c, "Too many requests from this IP, please try again later.")
		},
	})
}
