package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/artempl88/sozdaibota-sub000/internal/auth"
)

const (
	// LocalSessionID holds the session id proven by the client token
	LocalSessionID = "session_id"
	// LocalActor names who made an admin request
	LocalActor = "actor"

	adminKeyHeader = "X-Admin-Key"
)

// SessionToken extracts the client token from the Authorization header or
// the token query parameter (browsers cannot set headers on websockets)
func SessionToken(c *fiber.Ctx) string {
	if token := auth.ExtractTokenFromBearer(c.Get(fiber.HeaderAuthorization)); token != "" {
		return token
	}
	return c.Query("token")
}

// SessionAuth requires a valid session token. When the route has an :id
// parameter the token must belong to that session.
func SessionAuth(jwtService *auth.JWTService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := SessionToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Not authenticated",
			})
		}

		claims, err := jwtService.ValidateSessionToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		if id := c.Params("id"); id != "" && id != claims.SessionID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Token does not belong to this session",
			})
		}

		c.Locals(LocalSessionID, claims.SessionID)
		return c.Next()
	}
}

// AdminAuth requires the admin key whose bcrypt hash is configured.
// With no hash configured every admin request is refused.
func AdminAuth(adminKeyHash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(adminKeyHeader)
		if key == "" {
			key = auth.ExtractTokenFromBearer(c.Get(fiber.HeaderAuthorization))
		}
		if !auth.CheckAdminKey(key, adminKeyHash) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Admin key required",
			})
		}
		c.Locals(LocalActor, "admin")
		return c.Next()
	}
}

// GetSessionID returns the session id set by SessionAuth
func GetSessionID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalSessionID).(string)
	return id
}
