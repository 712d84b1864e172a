package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/approval"
	"github.com/artempl88/sozdaibota-sub000/internal/notify"
	"github.com/artempl88/sozdaibota-sub000/internal/repository"
	"github.com/artempl88/sozdaibota-sub000/internal/services"
)

// respondError maps service errors to HTTP responses. Internal details are
// logged, never returned.
func respondError(c *fiber.Ctx, logger *logrus.Logger, err error) error {
	var verr *services.ValidationError
	var ignored *notify.IgnoredError
	switch {
	case errors.As(err, &ignored):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": ignored.Ack,
		})
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "Проверьте заполнение полей",
			"fields": verr.Fields,
		})
	case errors.Is(err, repository.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	case errors.Is(err, approval.ErrUnknownEstimate):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "No pending estimate with this id",
		})
	case errors.Is(err, approval.ErrInvalidEdit):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	logger.WithError(err).WithField("path", c.Path()).Error("Request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
	})
}
