// Package httputil holds the response envelope and the single translation
// point from domain errors to HTTP status codes.
package httputil

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/suffus/reedi-media-service/internal/apperr"
	"github.com/suffus/reedi-media-service/internal/metrics"
)

func JSONSuccess(c *fiber.Ctx, status int, payload interface{}) error {
	return c.Status(status).JSON(fiber.Map{"status": "ok", "data": payload})
}

func JSONError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"status": "error", "message": msg})
}

// Error maps a domain error onto the response envelope. Messages stay safe
// for client display; internals are never leaked.
func Error(c *fiber.Ctx, err error) error {
	var perm *apperr.PermissionError
	switch {
	case errors.As(err, &perm):
		metrics.PermissionDenialsTotal.Inc()
		return JSONError(c, fiber.StatusForbidden, perm.Reason)
	case errors.Is(err, apperr.ErrPermissionDenied):
		metrics.PermissionDenialsTotal.Inc()
		return JSONError(c, fiber.StatusForbidden, "permission denied")
	case errors.Is(err, apperr.ErrNotFound):
		return JSONError(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrUnauthenticated):
		return JSONError(c, fiber.StatusUnauthorized, "authentication required")
	case errors.Is(err, apperr.ErrUnsupportedMediaType):
		return JSONError(c, fiber.StatusUnsupportedMediaType, "unsupported media type")
	case errors.Is(err, apperr.ErrUploadSession):
		return JSONError(c, fiber.StatusNotFound, "upload session not found or already finalized")
	case errors.Is(err, apperr.ErrIncompleteParts),
		errors.Is(err, apperr.ErrChecksumMismatch):
		return JSONError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrInvalidState):
		return JSONError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrValidation):
		return JSONError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrDependencyUnavailable):
		return JSONError(c, fiber.StatusServiceUnavailable, "a dependency is unavailable, try again later")
	}
	return JSONError(c, fiber.StatusInternalServerError, "internal error")
}
