package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/net-tools/mailqueue"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Failures []string `json:"failures,omitempty"`
}

func statusFor(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, mailqueue.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, mailqueue.ErrEmptyQueue):
		return fiber.StatusConflict
	case errors.Is(err, mailqueue.ErrInvalidSortKey),
		errors.Is(err, mailqueue.ErrMalformedData),
		errors.Is(err, mailqueue.ErrInvalidID):
		return fiber.StatusBadRequest
	case errors.Is(err, mailqueue.ErrBatchFailed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(logger mailqueue.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)
		if code >= fiber.StatusInternalServerError {
			logger.Error("mailqueue http request failed", "method", c.Method(), "path", c.Path(), "err", err)
		}

		resp := ErrorResponse{Error: err.Error()}
		var sendErr *mailqueue.SendError
		if errors.As(err, &sendErr) {
			resp.Failures = sendErr.Failures
		}

		return c.Status(code).JSON(resp)
	}
}
