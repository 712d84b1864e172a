package models

import (
	"strings"
	"time"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

// IntakeRequest is the intake form as posted by the web widget
type IntakeRequest struct {
	Name            string   `json:"name"`
	Role            string   `json:"role"`
	Industry        string   `json:"industry"`
	Budget          string   `json:"budget"`
	Timeline        string   `json:"timeline"`
	ContactChannels []string `json:"contact_channels"`
	ContactDetails  string   `json:"contact_details"`
	Flow            string   `json:"flow,omitempty"`
}

// Profile converts the form into an intake profile. Budget and timeline
// accept either the band code or its display label; unknown values are
// passed through so validation can report them.
func (r IntakeRequest) Profile() models.IntakeProfile {
	p := models.IntakeProfile{
		Name:           strings.TrimSpace(r.Name),
		Role:           strings.TrimSpace(r.Role),
		Industry:       strings.TrimSpace(r.Industry),
		Budget:         models.BudgetBand(r.Budget),
		Timeline:       models.TimelineBand(r.Timeline),
		ContactDetails: strings.TrimSpace(r.ContactDetails),
	}
	if b, ok := models.ParseBudgetBand(r.Budget); ok {
		p.Budget = b
	}
	if t, ok := models.ParseTimelineBand(r.Timeline); ok {
		p.Timeline = t
	}
	for _, raw := range r.ContactChannels {
		c, _ := models.ParseContactChannel(raw)
		p.ContactChannels = append(p.ContactChannels, c)
	}
	return p
}

// IntakeResponse is returned after a successful intake
type IntakeResponse struct {
	SessionID string  `json:"session_id"`
	Token     string  `json:"token"`
	Welcome   string  `json:"welcome_message"`
	LeadScore float64 `json:"lead_score"`
}

// MessageRequest carries one client message
type MessageRequest struct {
	Text string `json:"text"`
}

// MessageResponse is the reply to a client message
type MessageResponse struct {
	Reply            string `json:"reply"`
	HasEstimate      bool   `json:"has_estimate"`
	ApprovedEstimate string `json:"approved_estimate,omitempty"`
	Status           string `json:"status"`
}

// Turn is a chat turn as shown to the client
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryResponse is the client-facing view of a session
type HistoryResponse struct {
	Profile   models.IntakeProfile `json:"profile"`
	Turns     []Turn               `json:"turns"`
	LeadScore float64              `json:"lead_score"`
	Status    string               `json:"status"`
}

// NewTurns converts session turns for the client
func NewTurns(turns []models.Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = Turn{
			Role:      string(t.Role),
			Content:   t.Content,
			Kind:      string(t.Kind),
			Timestamp: t.Timestamp,
		}
	}
	return out
}

// DecisionRequest is a reviewer decision posted through the admin API
type DecisionRequest struct {
	Action     string `json:"action"`
	EstimateID string `json:"estimate_id"`
}

// StreamEvent is pushed over the delivery websocket
type StreamEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}
