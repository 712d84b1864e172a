package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/api/middleware"
	apimodels "github.com/artempl88/sozdaibota-sub000/internal/api/models"
	"github.com/artempl88/sozdaibota-sub000/internal/services"
)

// StreamHandler pushes the approved estimate to a connected client as soon
// as the reviewer approves it
type StreamHandler struct {
	intake   *services.IntakeService
	interval time.Duration
	logger   *logrus.Logger
}

// NewStreamHandler creates the delivery stream handler
func NewStreamHandler(intake *services.IntakeService, interval time.Duration, logger *logrus.Logger) *StreamHandler {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &StreamHandler{intake: intake, interval: interval, logger: logger}
}

// Stream serves one websocket connection until the client leaves
func (h *StreamHandler) Stream(c *websocket.Conn) {
	defer c.Close()

	sessionID, _ := c.Locals(middleware.LocalSessionID).(string)
	if sessionID == "" {
		_ = c.WriteJSON(apimodels.StreamEvent{Type: "error", Message: "not authenticated"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reads only detect the close; clients send nothing
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := h.logger.WithField("session_id", sessionID)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if done := h.push(ctx, c, sessionID, log); done {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// push delivers a waiting estimate; it reports true when the connection is finished
func (h *StreamHandler) push(ctx context.Context, c *websocket.Conn, sessionID string, log *logrus.Entry) bool {
	content, ok, err := h.intake.PollDelivery(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		log.WithError(err).Warn("Delivery poll failed")
		return false
	}
	if !ok {
		return false
	}
	if err := c.WriteJSON(apimodels.StreamEvent{
		Type:    "approved_estimate",
		Message: content,
		Status:  "estimate_delivered",
	}); err != nil {
		log.WithError(err).Warn("Client left before the estimate was pushed; it stays in history")
		return true
	}
	return false
}
