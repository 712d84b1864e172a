// Package notify publishes estimates to the human reviewer and turns the
// reviewer's button presses back into decisions.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

// ErrSendFailure means the reviewer was not reached
var ErrSendFailure = errors.New("notification send failure")

// Action is a reviewer decision
type Action string

const (
	ActionApprove Action = "approve"
	ActionEdit    Action = "edit"
	ActionReject  Action = "reject"
)

// ParseAction validates an action name
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionEdit, ActionReject:
		return a, true
	}
	return "", false
}

// Review is everything the reviewer sees about a pending estimate
type Review struct {
	SessionID string
	Profile   models.IntakeProfile
	LeadScore float64
	Estimate  *models.Estimate
	Turns     []models.Turn
}

// Decision is a reviewer's answer to a Review
type Decision struct {
	Action     Action
	SessionID  string
	EstimateID string
	Reviewer   string
}

// Notifier delivers reviews to the reviewer
type Notifier interface {
	SendReview(ctx context.Context, r Review) error
}

// DecisionHandler applies a decision and returns the acknowledgement text
type DecisionHandler interface {
	HandleDecision(ctx context.Context, d Decision) (string, error)
}

// IgnoredError is returned by a DecisionHandler for a decision that was
// understood but changed nothing, such as one for a superseded estimate.
// Ack is still shown to the reviewer; the update must not be redelivered.
type IgnoredError struct {
	Ack string
}

func (e *IgnoredError) Error() string {
	return "decision ignored: " + e.Ack
}

// Ignored wraps an acknowledgement for a decision without effect
func Ignored(ack string) error {
	return &IgnoredError{Ack: ack}
}

// maxCallbackData is Telegram's limit on callback payloads
const maxCallbackData = 64

// EncodeCallback packs a decision into action:sessionId:estimateId
func EncodeCallback(action Action, sessionID, estimateID string) (string, error) {
	data := string(action) + ":" + sessionID + ":" + estimateID
	if len(data) > maxCallbackData {
		return "", fmt.Errorf("callback data exceeds %d bytes", maxCallbackData)
	}
	return data, nil
}

// DecodeCallback unpacks callback data produced by EncodeCallback
func DecodeCallback(data string) (Decision, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return Decision{}, fmt.Errorf("malformed callback data %q", data)
	}
	action, ok := ParseAction(parts[0])
	if !ok {
		return Decision{}, fmt.Errorf("unknown action %q", parts[0])
	}
	if parts[1] == "" || parts[2] == "" {
		return Decision{}, fmt.Errorf("callback data %q lacks identifiers", data)
	}
	return Decision{Action: action, SessionID: parts[1], EstimateID: parts[2]}, nil
}

// LogNotifier writes reviews to the log. It is used when no reviewer
// channel is configured; decisions then arrive through the admin API.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendReview logs the composed review
func (n *LogNotifier) SendReview(_ context.Context, r Review) error {
	n.logger.WithFields(logrus.Fields{
		"session_id":  r.SessionID,
		"estimate_id": r.Estimate.ID,
	}).Info("Estimate awaiting review:\n" + ComposeReview(r))
	return nil
}
