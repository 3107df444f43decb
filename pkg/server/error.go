package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/argus-labs/arena/pkg/errs"
)

type ErrorResponse struct {
	Error Error `json:"error"`
}

type Error struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch errs.Kind(err) {
	case errs.ErrNotFound:
		return fiber.StatusNotFound
	case errs.ErrUnauthorized:
		return fiber.StatusForbidden
	case errs.ErrInvalidState, errs.ErrNonceMismatch:
		return fiber.StatusConflict
	case errs.ErrValidationFailed:
		return fiber.StatusBadRequest
	case errs.ErrSignatureInvalid:
		return fiber.StatusUnauthorized
	case errs.ErrExhausted:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := StatusOf(err)
	body := Error{Message: err.Error()}
	if kind := errs.Kind(err); kind != nil {
		body.Kind = kind.Error()
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Request failed")
		if errs.Kind(err) == nil {
			body.Message = "internal server error"
		}
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(code).JSON(ErrorResponse{Error: body})
}
