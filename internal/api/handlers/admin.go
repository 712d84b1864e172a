package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/api/middleware"
	apimodels "github.com/artempl88/sozdaibota-sub000/internal/api/models"
	"github.com/artempl88/sozdaibota-sub000/internal/approval"
	"github.com/artempl88/sozdaibota-sub000/internal/notify"
	"github.com/artempl88/sozdaibota-sub000/internal/services"
)

const defaultAuditLimit = 100

// AdminGetSession returns the full session including the pending estimate
func AdminGetSession(svc *services.Services, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := svc.Intake.Session(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(session)
	}
}

// AdminSessionAudit lists the audit trail of a session
func AdminSessionAudit(svc *services.Services, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultAuditLimit)
		if limit <= 0 || limit > 1000 {
			limit = defaultAuditLimit
		}

		events, err := svc.Audit.SessionEvents(c.UserContext(), c.Params("id"), limit)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(fiber.Map{
			"events": events,
			"total":  len(events),
		})
	}
}

// AdminEditEstimate replaces the components of the pending estimate
func AdminEditEstimate(svc *services.Services, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var edit approval.EstimateEdit
		if err := c.BodyParser(&edit); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		edit.Editor = actor(c)

		updated, err := svc.Workflow.EditPending(c.UserContext(), c.Params("id"), edit)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(updated)
	}
}

// AdminDecision applies approve, reject or edit outside the chat channel
func AdminDecision(svc *services.Services, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req apimodels.DecisionRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		action, ok := notify.ParseAction(req.Action)
		if !ok || strings.TrimSpace(req.EstimateID) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "action must be approve, edit or reject and estimate_id is required",
			})
		}

		ack, err := svc.Decisions.HandleDecision(c.UserContext(), notify.Decision{
			Action:     action,
			SessionID:  c.Params("id"),
			EstimateID: req.EstimateID,
			Reviewer:   actor(c),
		})
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(fiber.Map{"message": ack})
	}
}

func actor(c *fiber.Ctx) string {
	if a, ok := c.Locals(middleware.LocalActor).(string); ok && a != "" {
		return a
	}
	return "admin"
}
