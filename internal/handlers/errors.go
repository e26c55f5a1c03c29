package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/un-fck/webtv.unfck.org/internal/pipeline"
	"github.com/un-fck/webtv.unfck.org/internal/store"
)

// writeError maps pipeline errors to HTTP statuses. Every failure becomes a
// well-formed body with an error field, never a silent hang.
func writeError(c *fiber.Ctx, log *logrus.Entry, err error) error {
	status := fiber.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, pipeline.ErrResolutionFailed):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrPipelineBusy):
		status = fiber.StatusConflict
	case errors.Is(err, pipeline.ErrNoStatements):
		status = fiber.StatusConflict
	case errors.Is(err, pipeline.ErrTranscriptionTimeout):
		status = fiber.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrTranscriptionFailed):
		status = fiber.StatusBadGateway
	}

	if status == fiber.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	} else {
		log.WithError(err).Debug("request rejected")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
