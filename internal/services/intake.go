package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/approval"
	"github.com/artempl88/sozdaibota-sub000/internal/audit"
	"github.com/artempl88/sozdaibota-sub000/internal/llm"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/stage"
)

const (
	replyTemporaryFailure = "Извините, возникла временная проблема с ИИ-ассистентом. Пожалуйста, отправьте сообщение ещё раз через минуту."
	replyEstimateQueued   = "Спасибо! Я собрал ваши требования и подготовил расчёт. Сейчас его проверяет менеджер, и как только он будет согласован, смета появится здесь, в чате."
	replyRestateRequest   = "Не получилось передать ваш запрос на расчёт менеджеру. Пожалуйста, повторите просьбу о расчёте чуть позже, мы ничего не потеряли из вашего описания."
	maxMessageRunes       = 4000
)

// Completer is the slice of the reasoning gateway the intake uses
type Completer interface {
	Complete(ctx context.Context, kind llm.CallKind, messages []llm.Message, opts ...llm.CallOption) (string, error)
}

// Gatekeeper answers the intent and readiness questions
type Gatekeeper interface {
	WantsEstimate(ctx context.Context, turns []models.Turn, latest string) bool
	HasEnoughDetail(ctx context.Context, turns []models.Turn) bool
}

// Reviews is the approval workflow as seen from the chat path
type Reviews interface {
	RequestReview(ctx context.Context, sessionID string) (approval.Outcome, error)
	Deliver(ctx context.Context, sessionID string) (*models.Turn, error)
}

// IntakeRequest is the first submission of a client
type IntakeRequest struct {
	Profile models.IntakeProfile
	Flow    models.Flow
}

// IntakeResult is returned by SubmitIntake
type IntakeResult struct {
	SessionID string
	Welcome   string
	LeadScore float64
}

// MessageResult is returned by PostMessage
type MessageResult struct {
	Reply            string
	HasEstimate      bool
	ApprovedEstimate string
	Status           string
}

// HistoryResult is returned by GetHistory
type HistoryResult struct {
	Profile   models.IntakeProfile
	Turns     []models.Turn
	LeadScore float64
	Status    string
}

// IntakeService runs the client-facing conversation
type IntakeService struct {
	store   *SessionStore
	llm     Completer
	oracle  Gatekeeper
	reviews Reviews
	audit   *audit.Service
	now     func() time.Time
	logger  *logrus.Logger
}

// NewIntakeService creates the intake service
func NewIntakeService(store *SessionStore, c Completer, oracle Gatekeeper, reviews Reviews, auditSvc *audit.Service, logger *logrus.Logger) *IntakeService {
	return &IntakeService{
		store:   store,
		llm:     c,
		oracle:  oracle,
		reviews: reviews,
		audit:   auditSvc,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// SubmitIntake validates the profile and opens a session
func (s *IntakeService) SubmitIntake(ctx context.Context, req IntakeRequest) (*IntakeResult, error) {
	problems := req.Profile.Validate()
	flow := req.Flow
	switch flow {
	case "":
		flow = models.FlowGuided
	case models.FlowGuided, models.FlowFree:
	default:
		if problems == nil {
			problems = make(map[string]string)
		}
		problems["flow"] = "неизвестный режим диалога"
	}
	if problems != nil {
		return nil, &ValidationError{Fields: problems}
	}

	now := s.now()
	session := &models.Session{
		ID:           uuid.NewString(),
		Flow:         flow,
		Profile:      req.Profile,
		ReviewStatus: models.ReviewNone,
		CreatedAt:    now,
	}
	session.AppendTurn(models.RoleClient, models.KindFormSubmission, formSummary(req.Profile), now)
	welcome := welcomeMessage(req.Profile)
	session.AppendTurn(models.RoleAssistant, models.KindText, welcome, now)
	session.LeadScore = LeadScore(session.Profile, session.Turns)

	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}

	ev := audit.NewEvent(audit.EventSessionCreate, session.ID, "", "client").With("lead_score", session.LeadScore)
	ev.Resource = "session"
	s.audit.Record(ctx, ev)

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"flow":       flow,
		"lead_score": session.LeadScore,
	}).Info("Intake submitted")

	return &IntakeResult{SessionID: session.ID, Welcome: welcome, LeadScore: session.LeadScore}, nil
}

// PostMessage answers a client message and, when the client asks for an
// estimate and the conversation is detailed enough, sends one for review
func (s *IntakeService) PostMessage(ctx context.Context, sessionID, text string) (*MessageResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ValidationError{Fields: map[string]string{"text": "сообщение не может быть пустым"}}
	}
	if len([]rune(text)) > maxMessageRunes {
		return nil, &ValidationError{Fields: map[string]string{"text": "сообщение слишком длинное"}}
	}

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log := s.logger.WithField("session_id", sessionID)
	result := &MessageResult{}

	if turn := s.deliver(ctx, sessionID); turn != nil {
		result.ApprovedEstimate = turn.Content
	}

	clientTurn := models.Turn{Role: models.RoleClient, Kind: models.KindText, Content: text, Timestamp: s.now()}
	if updated, err := s.appendTurns(ctx, sessionID, clientTurn); err != nil {
		log.WithError(err).Warn("Failed to persist client turn")
		session.Turns = append(session.Turns, clientTurn)
	} else {
		session = updated
	}

	reply, err := s.llm.Complete(ctx, llm.KindChat, chatMessages(session), llm.WithLabel("chat"))
	if err != nil {
		log.WithError(err).Warn("Chat completion failed")
		result.Reply = replyTemporaryFailure
		result.Status = session.Status()
		return result, nil
	}
	reply = strings.TrimSpace(reply)

	if session.CanStartEstimate() && s.estimateRequested(ctx, session.Turns, text) {
		outcome, err := s.reviews.RequestReview(ctx, sessionID)
		switch {
		case err != nil:
			log.WithError(err).Error("Estimate review request failed")
			reply = replyRestateRequest
		case outcome == approval.OutcomeRequested:
			reply = replyEstimateQueued
			result.HasEstimate = true
		case outcome == approval.OutcomeNotifyFailed:
			reply = replyRestateRequest
		}
	}
	result.Reply = reply

	assistantTurn := models.Turn{Role: models.RoleAssistant, Kind: models.KindText, Content: reply, Timestamp: s.now()}
	if updated, err := s.appendTurns(ctx, sessionID, assistantTurn); err != nil {
		log.WithError(err).Warn("Failed to persist assistant turn")
	} else {
		session = updated
	}

	result.Status = session.Status()
	return result, nil
}

// GetHistory returns the conversation. Reading it surfaces a freshly
// approved estimate, which is marked delivered.
func (s *IntakeService) GetHistory(ctx context.Context, sessionID string) (*HistoryResult, error) {
	s.deliver(ctx, sessionID)

	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	turns := make([]models.Turn, 0, len(session.Turns))
	for _, t := range session.Turns {
		if t.Kind != models.KindSystem {
			turns = append(turns, t)
		}
	}
	return &HistoryResult{
		Profile:   session.Profile,
		Turns:     turns,
		LeadScore: session.LeadScore,
		Status:    session.Status(),
	}, nil
}

// PollDelivery returns the approved estimate message the first time it is
// polled after approval
func (s *IntakeService) PollDelivery(ctx context.Context, sessionID string) (string, bool, error) {
	turn, err := s.reviews.Deliver(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	if turn == nil {
		return "", false, nil
	}
	return turn.Content, true, nil
}

// Session returns the full session record
func (s *IntakeService) Session(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.store.Load(ctx, sessionID)
}

func (s *IntakeService) estimateRequested(ctx context.Context, turns []models.Turn, latest string) bool {
	if !s.oracle.WantsEstimate(ctx, turns, latest) {
		return false
	}
	return s.oracle.HasEnoughDetail(ctx, turns)
}

func (s *IntakeService) deliver(ctx context.Context, sessionID string) *models.Turn {
	turn, err := s.reviews.Deliver(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("Estimate delivery check failed")
		}
		return nil
	}
	return turn
}

func (s *IntakeService) appendTurns(ctx context.Context, sessionID string, turns ...models.Turn) (*models.Session, error) {
	return s.store.Mutate(ctx, sessionID, func(sess *models.Session) error {
		sess.Turns = append(sess.Turns, turns...)
		sess.LeadScore = LeadScore(sess.Profile, sess.Turns)
		return nil
	})
}

func chatMessages(session *models.Session) []llm.Message {
	messages := []llm.Message{llm.System(stage.PromptFor(session.Flow, session.Turns, session.Profile))}
	for _, t := range session.Turns {
		if t.Kind == models.KindSystem {
			continue
		}
		if t.Role == models.RoleClient {
			messages = append(messages, llm.User(t.Content))
		} else {
			messages = append(messages, llm.Assistant(t.Content))
		}
	}
	return messages
}

func formSummary(p models.IntakeProfile) string {
	channels := make([]string, len(p.ContactChannels))
	for i, c := range p.ContactChannels {
		channels[i] = string(c)
	}
	lines := []string{
		"Анкета:",
		"Имя: " + p.Name,
	}
	if p.Role != "" {
		lines = append(lines, "Должность: "+p.Role)
	}
	lines = append(lines,
		"Сфера: "+p.Industry,
		"Бюджет: "+p.Budget.Label(),
		"Сроки: "+p.Timeline.Label(),
		fmt.Sprintf("Связь: %s (%s)", strings.Join(channels, ", "), p.ContactDetails),
	)
	return strings.Join(lines, "\n")
}

func welcomeMessage(p models.IntakeProfile) string {
	return fmt.Sprintf("Здравствуйте, %s! Я помогу подготовить расчёт Telegram-бота для вашего бизнеса в сфере «%s». "+
		"Расскажите, какие задачи бот должен решать в первую очередь?", strings.TrimSpace(p.Name), strings.TrimSpace(p.Industry))
}
