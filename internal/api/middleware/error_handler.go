package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// ErrorHandler renders every failure as {"error":{"code","message","category"}}
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		// Check if it's a Fiber error
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			category := domain.CategoryInvalidRequest
			if fiberErr.Code >= 500 {
				category = domain.CategoryInternal
			}
			return c.Status(fiberErr.Code).JSON(errorBody("HTTP_ERROR", fiberErr.Message, category))
		}

		// Check if it's our AppError
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			if appErr.StatusCode >= 500 {
				logger.Error("analysis unavailable",
					slog.String("code", appErr.Code),
					slog.String("message", appErr.Message),
					slog.Any("error", appErr.Err),
					slog.String("path", c.Path()),
				)
			}

			return c.Status(appErr.StatusCode).JSON(errorBody(appErr.Code, appErr.Message, appErr.Category))
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return c.Status(fiber.StatusGatewayTimeout).JSON(
				errorBody("TIMEOUT", "The analysis did not finish in time", domain.CategoryServiceUnavailable))
		}

		// The client went away or the server is shutting down mid-analysis
		if errors.Is(err, context.Canceled) {
			logger.Debug("request canceled", slog.String("path", c.Path()))
			return c.Status(fiber.StatusServiceUnavailable).JSON(
				errorBody("REQUEST_CANCELED", "The analysis was canceled before it finished", domain.CategoryServiceUnavailable))
		}

		// Unknown error - log and return generic message
		logger.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Path()),
		)

		return c.Status(fiber.StatusInternalServerError).JSON(
			errorBody("INTERNAL_ERROR", "An unexpected error occurred", domain.CategoryInternal))
	}
}

func errorBody(code, message string, category domain.ErrorCategory) fiber.Map {
	return fiber.Map{
		"error": fiber.Map{
			"code":     code,
			"message":  message,
			"category": category,
		},
	}
}
