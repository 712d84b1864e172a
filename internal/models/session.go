package models

import (
	"time"
)

// Role identifies who authored a turn
type Role string

const (
	RoleClient    Role = "client"
	RoleAssistant Role = "assistant"
)

// MessageKind tags what a turn carries
type MessageKind string

const (
	KindText             MessageKind = "text"
	KindFormSubmission   MessageKind = "form-submission"
	KindApprovedEstimate MessageKind = "approved-estimate"
	KindSystem           MessageKind = "system"
)

// Flow selects how the conversation is steered
type Flow string

const (
	FlowGuided Flow = "guided"
	FlowFree   Flow = "free"
)

// ReviewStatus is the approval workflow state of the current estimate cycle
type ReviewStatus string

const (
	ReviewNone      ReviewStatus = "none"
	ReviewPending   ReviewStatus = "pending_review"
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewDelivered ReviewStatus = "delivered"
)

// Turn is one message exchanged within a session
type Turn struct {
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
}

// Session is a single client engagement from intake to estimate delivery
type Session struct {
	ID        string        `json:"id"`
	Version   int64         `json:"version"`
	Flow      Flow          `json:"flow"`
	Profile   IntakeProfile `json:"profile"`
	Turns     []Turn        `json:"turns"`
	LeadScore float64       `json:"lead_score"`

	ReviewStatus        ReviewStatus `json:"review_status"`
	EstimateSent        bool         `json:"estimate_sent"`
	EstimateSentAt      *time.Time   `json:"estimate_sent_at,omitempty"`
	EstimatePayload     *Estimate    `json:"estimate_payload,omitempty"`
	EstimateApproved    bool         `json:"estimate_approved"`
	EstimateApprovedAt  *time.Time   `json:"estimate_approved_at,omitempty"`
	ApprovedEstimateRef string       `json:"approved_estimate_ref,omitempty"`
	DeliveredToClient   bool         `json:"delivered_to_client"`
	DeliveredAt         *time.Time   `json:"delivered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPendingEstimate reports whether an estimate is sent but undecided
func (s *Session) HasPendingEstimate() bool {
	return s.ReviewStatus == ReviewPending
}

// CanStartEstimate reports whether a new estimate cycle may begin.
// An approved estimate must be delivered before another one is generated.
func (s *Session) CanStartEstimate() bool {
	switch s.ReviewStatus {
	case "", ReviewNone, ReviewRejected, ReviewDelivered:
		return true
	default:
		return false
	}
}

// AwaitingDelivery reports whether an approved estimate has not reached the client yet
func (s *Session) AwaitingDelivery() bool {
	return s.EstimateApproved && !s.DeliveredToClient
}

// ClientTurns returns the number of turns written by the client
func (s *Session) ClientTurns() int {
	return CountClientTurns(s.Turns)
}

// AppendTurn adds a turn stamped with the given time
func (s *Session) AppendTurn(role Role, kind MessageKind, content string, at time.Time) Turn {
	turn := Turn{Role: role, Content: content, Kind: kind, Timestamp: at}
	s.Turns = append(s.Turns, turn)
	return turn
}

// LastTurnOfKind returns the most recent turn tagged with kind
func (s *Session) LastTurnOfKind(kind MessageKind) (Turn, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Kind == kind {
			return s.Turns[i], true
		}
	}
	return Turn{}, false
}

// Status is the coarse status surfaced to the client
func (s *Session) Status() string {
	switch s.ReviewStatus {
	case ReviewPending:
		return "awaiting_approval"
	case ReviewApproved:
		return "estimate_approved"
	case ReviewDelivered:
		return "estimate_delivered"
	default:
		return "chatting"
	}
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Profile = s.Profile.clone()
	c.Turns = append([]Turn(nil), s.Turns...)
	c.EstimateSentAt = cloneTime(s.EstimateSentAt)
	c.EstimateApprovedAt = cloneTime(s.EstimateApprovedAt)
	c.DeliveredAt = cloneTime(s.DeliveredAt)
	if s.EstimatePayload != nil {
		c.EstimatePayload = s.EstimatePayload.Clone()
	}
	return &c
}

// CountClientTurns counts client-authored turns in a history
func CountClientTurns(turns []Turn) int {
	n := 0
	for _, t := range turns {
		if t.Role == RoleClient {
			n++
		}
	}
	return n
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TranscriptLines renders turns as speaker-prefixed lines for prompts.
// System turns are skipped.
func TranscriptLines(turns []Turn) []string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleClient:
			if t.Kind == KindSystem {
				continue
			}
			lines = append(lines, "Клиент: "+t.Content)
		case RoleAssistant:
			if t.Kind == KindSystem {
				continue
			}
			lines = append(lines, "Консультант: "+t.Content)
		}
	}
	return lines
}
