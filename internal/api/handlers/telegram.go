package handlers

import (
	"crypto/subtle"
	"encoding/json"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/notify"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramWebhook receives reviewer button presses pushed by Telegram
func TelegramWebhook(tg *notify.Telegram, decisions notify.DecisionHandler, secret string, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret != "" && subtle.ConstantTimeCompare([]byte(c.Get(telegramSecretHeader)), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid webhook secret",
			})
		}

		var update tgbotapi.Update
		if err := json.Unmarshal(c.Body(), &update); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid update",
			})
		}

		if err := tg.HandleUpdate(c.UserContext(), update, decisions); err != nil {
			logger.WithError(err).WithField("update_id", update.UpdateID).Error("Failed to handle telegram update")
			// Non-2xx makes Telegram redeliver the update
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Decision not stored",
			})
		}
		return c.SendStatus(fiber.StatusOK)
	}
}
