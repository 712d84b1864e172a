package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/api/middleware"
	apimodels "github.com/artempl88/sozdaibota-sub000/internal/api/models"
	"github.com/artempl88/sozdaibota-sub000/internal/auth"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/services"
)

// SubmitIntake opens a session from the intake form and issues its token
func SubmitIntake(svc *services.Services, jwtService *auth.JWTService, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req apimodels.IntakeRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		flow := models.FlowGuided
		if req.Flow != "" {
			flow = models.Flow(req.Flow)
		}

		result, err := svc.Intake.SubmitIntake(c.UserContext(), services.IntakeRequest{
			Profile: req.Profile(),
			Flow:    flow,
		})
		if err != nil {
			return respondError(c, logger, err)
		}

		token, err := jwtService.GenerateSessionToken(result.SessionID)
		if err != nil {
			return respondError(c, logger, err)
		}

		return c.Status(fiber.StatusCreated).JSON(apimodels.IntakeResponse{
			SessionID: result.SessionID,
			Token:     token,
			Welcome:   result.Welcome,
			LeadScore: result.LeadScore,
		})
	}
}

// PostMessage handles one client chat message
func PostMessage(svc *services.Services, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req apimodels.MessageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		result, err := svc.Intake.PostMessage(c.UserContext(), middleware.GetSessionID(c), req.Text)
		if err != nil {
			return respondError(c, logger, err)
		}

		return c.JSON(apimodels.MessageResponse{
			Reply:            result.Reply,
			HasEstimate:      result.HasEstimate,
			ApprovedEstimate: result.ApprovedEstimate,
			Status:           result.Status,
		})
	}
}

// GetHistory returns the client-visible transcript
func GetHistory(svc *services.Services, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := svc.Intake.GetHistory(c.UserContext(), middleware.GetSessionID(c))
		if err != nil {
			return respondError(c, logger, err)
		}

		return c.JSON(apimodels.HistoryResponse{
			Profile:   result.Profile,
			Turns:     apimodels.NewTurns(result.Turns),
			LeadScore: result.LeadScore,
			Status:    result.Status,
		})
	}
}
