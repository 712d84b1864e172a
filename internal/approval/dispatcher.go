package approval

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/llm"
	"github.com/artempl88/sozdaibota-sub000/internal/notify"
)

// Dispatcher retries decisions that failed to persist before surfacing the
// failure to the notification channel
type Dispatcher struct {
	handler notify.DecisionHandler
	policy  llm.RetryPolicy
	logger  *logrus.Logger
}

// NewDispatcher wraps a decision handler with retry
func NewDispatcher(handler notify.DecisionHandler, policy llm.RetryPolicy, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{handler: handler, policy: policy, logger: logger}
}

// HandleDecision implements notify.DecisionHandler
func (d *Dispatcher) HandleDecision(ctx context.Context, dec notify.Decision) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= d.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			d.logger.WithFields(logrus.Fields{
				"session_id": dec.SessionID,
				"action":     dec.Action,
				"attempt":    attempt + 1,
			}).WithError(lastErr).Warn("Retrying reviewer decision")
			if err := d.policy.Wait(ctx, attempt); err != nil {
				return "", lastErr
			}
		}

		ack, err := d.handler.HandleDecision(ctx, dec)
		if err == nil {
			return ack, nil
		}
		if !errors.Is(err, ErrPersistence) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}
