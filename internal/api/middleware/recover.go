package middleware

import (
	"log/slog"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// Recover turns a panic in a handler into the INTERNAL_ERROR envelope
func Recover(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("panic recovered",
				slog.Any("panic", r),
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("request_id", RequestID(c)),
				slog.String("stack", string(debug.Stack())),
			)
			err = c.Status(fiber.StatusInternalServerError).JSON(
				errorBody(domain.ErrInternal.Code, "An unexpected error occurred", domain.CategoryInternal))
		}()
		return c.Next()
	}
}
