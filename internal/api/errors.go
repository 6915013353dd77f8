package api

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"

	"metatable/internal/apperr"
	"metatable/internal/store"
)

// ErrorHandler renders every error a route returns as {"error": {...}}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrUniqueViolation) {
		msg := "A record with this value already exists"
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			msg = pgErr.Detail
		}
		return respondError(c, &apperr.Error{
			Kind:    apperr.InvalidArgument,
			Code:    "CONFLICT",
			Status:  fiber.StatusConflict,
			Message: msg,
		})
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if appErr.Status >= fiber.StatusInternalServerError {
			log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), err)
		}
		return respondError(c, appErr)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return respondError(c, &apperr.Error{
			Code:    "HTTP_ERROR",
			Status:  fiberErr.Code,
			Message: fiberErr.Message,
		})
	}

	log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), err)
	return respondError(c, apperr.New(apperr.Internal, "Internal server error"))
}

func respondError(c *fiber.Ctx, appErr *apperr.Error) error {
	status := appErr.Status
	if status == 0 {
		status = appErr.Kind.Status()
	}
	return c.Status(status).JSON(apperr.ErrorResponse{Error: appErr})
}

func invalidPayload() error {
	return apperr.InvalidArgumentf("Invalid JSON body")
}
