package auth

import (
	"errors"
	"strings"

	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/response"
	"github.com/gingernanny/portal-api/internal/utils"

	"github.com/gofiber/fiber/v2"
)

const userLocalsKey = "user"

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrForbidden     = errors.New("forbidden")
)

// RoleSet is a route's allow-list. A nil set admits every role.
type RoleSet map[models.Role]struct{}

func Roles(roles ...models.Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

func (s RoleSet) Allows(r models.Role) bool {
	if !r.Valid() {
		return false
	}
	if s == nil {
		return true
	}
	_, ok := s[r]
	return ok
}

// Authorize checks an Authorization header against allowed without touching
// storage. It returns ErrMissingBearer, utils.ErrTokenExpired or ErrForbidden.
func Authorize(tokens *utils.TokenManager, header string, allowed RoleSet) (*utils.UserClaims, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, ErrMissingBearer
	}

	claims, err := tokens.VerifyAccessToken(strings.TrimSpace(raw))
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return nil, utils.ErrTokenExpired
		}
		return nil, ErrForbidden
	}

	if !allowed.Allows(claims.Role) {
		return nil, ErrForbidden
	}
	return claims, nil
}

// JWTProtected authenticates the bearer token and stores its claims for
// later handlers. Pass roles to restrict the route.
func JWTProtected(tokens *utils.TokenManager, roles ...models.Role) fiber.Handler {
	var allowed RoleSet
	if len(roles) > 0 {
		allowed = Roles(roles...)
	}

	return func(c *fiber.Ctx) error {
		claims, err := Authorize(tokens, c.Get(fiber.HeaderAuthorization), allowed)
		if err != nil {
			return denied(c, err)
		}
		c.Locals(userLocalsKey, claims)
		return c.Next()
	}
}

// RoleProtected must run after JWTProtected.
func RoleProtected(roles ...models.Role) fiber.Handler {
	allowed := Roles(roles...)
	return func(c *fiber.Ctx) error {
		claims := CurrentUser(c)
		if claims == nil {
			return response.Unauthorized(c, "Unauthorized")
		}
		if !allowed.Allows(claims.Role) {
			return response.Forbidden(c, "Forbidden")
		}
		return c.Next()
	}
}

func CurrentUser(c *fiber.Ctx) *utils.UserClaims {
	claims, _ := c.Locals(userLocalsKey).(*utils.UserClaims)
	return claims
}

func denied(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrMissingBearer):
		return response.Unauthorized(c, "Unauthorized")
	case errors.Is(err, utils.ErrTokenExpired):
		return response.Unauthorized(c, "Access token expired")
	default:
		return response.Forbidden(c, "Forbidden")
	}
}
