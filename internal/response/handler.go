package response

import (
	"github.com/gofiber/fiber/v2"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
)

// Envelope wraps every response body.
type Envelope struct {
	Code    int         `json:"code"`
	Status  Status      `json:"status"`
	Message string      `json:"message"`
	Result  interface{} `json:"result"`
}

func Send(c *fiber.Ctx, code int, status Status, message string, result interface{}) error {
	return c.Status(code).JSON(Envelope{
		Code:    code,
		Status:  status,
		Message: message,
		Result:  result,
	})
}

func Success(c *fiber.Ctx, data interface{}, message string) error {
	return Send(c, fiber.StatusOK, StatusSuccess, message, data)
}

func Created(c *fiber.Ctx, data interface{}, message string) error {
	return Send(c, fiber.StatusCreated, StatusSuccess, message, data)
}

// Warning reports a request that succeeded with a caveat.
func Warning(c *fiber.Ctx, code int, data interface{}, message string) error {
	return Send(c, code, StatusWarning, message, data)
}

func Error(c *fiber.Ctx, code int, message string, details interface{}) error {
	return Send(c, code, StatusError, message, details)
}

func BadRequest(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, message, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, message, nil)
}

func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, message, nil)
}

func TooManyRequests(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusTooManyRequests, message, nil)
}

func ValidationError(c *fiber.Ctx, errors interface{}) error {
	return Error(c, fiber.StatusBadRequest, "Validation failed", errors)
}

func InternalError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message, nil)
}
