package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/artempl88/sozdaibota-sub000/internal/audit"
)

// AdminAudit records every admin API call in the audit trail
func AdminAudit(auditService *audit.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		actor, _ := c.Locals(LocalActor).(string)
		if actor == "" {
			actor = "anonymous"
		}

		event := audit.NewEvent(audit.EventAdminRequest, c.Params("id"), "", actor).
			With("method", c.Method()).
			With("path", c.Path()).
			With("status", c.Response().StatusCode()).
			With("duration_ms", time.Since(start).Milliseconds()).
			With("ip", c.IP())
		event.Resource = "session"
		event.ResourceID = c.Params("id")
		if err != nil || c.Response().StatusCode() >= 400 {
			event.Result = audit.ResultFailure
			if err != nil {
				event.Error = err.Error()
			} else {
				event.Error = fmt.Sprintf("HTTP %d", c.Response().StatusCode())
			}
		}

		// The request context is recycled by fiber once the handler returns
		auditService.Record(context.Background(), event)
		return err
	}
}
