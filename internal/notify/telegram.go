package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/config"
)

// Telegram delivers reviews to a reviewer chat with inline action buttons
type Telegram struct {
	bot         *tgbotapi.BotAPI
	chatID      int64
	allowed     map[int64]bool
	editURLBase string
	logger      *logrus.Logger
}

// TelegramOption configures the Telegram notifier
type TelegramOption func(*telegramOptions)

type telegramOptions struct {
	endpoint string
}

// WithAPIEndpoint points the bot at a different Bot API server
func WithAPIEndpoint(endpoint string) TelegramOption {
	return func(o *telegramOptions) { o.endpoint = endpoint }
}

// NewTelegram connects to the Bot API and verifies the token
func NewTelegram(cfg config.TelegramConfig, logger *logrus.Logger, opts ...TelegramOption) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if cfg.ReviewerChatID == 0 {
		return nil, fmt.Errorf("telegram reviewer chat id is required")
	}

	o := telegramOptions{endpoint: tgbotapi.APIEndpoint}
	for _, opt := range opts {
		opt(&o)
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, o.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}

	allowed := make(map[int64]bool, len(cfg.AllowedReviewerIDs))
	for _, id := range cfg.AllowedReviewerIDs {
		allowed[id] = true
	}

	if len(allowed) == 0 {
		logger.WithField("chat_id", cfg.ReviewerChatID).
			Warn("telegram.allowed_reviewer_ids is empty; every member of the reviewer chat can approve estimates")
	}
	logger.WithField("bot", bot.Self.UserName).Info("Telegram reviewer channel ready")

	return &Telegram{
		bot:         bot,
		chatID:      cfg.ReviewerChatID,
		allowed:     allowed,
		editURLBase: strings.TrimRight(cfg.EditURLBase, "/"),
		logger:      logger,
	}, nil
}

// SendReview posts the review with approve, edit and reject buttons
func (t *Telegram) SendReview(ctx context.Context, r Review) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	if r.Estimate == nil {
		return fmt.Errorf("%w: review without estimate", ErrSendFailure)
	}

	keyboard, err := reviewKeyboard(r.SessionID, r.Estimate.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}

	msg := tgbotapi.NewMessage(t.chatID, ComposeReview(r))
	msg.ReplyMarkup = keyboard
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	return nil
}

func reviewKeyboard(sessionID, estimateID string) (tgbotapi.InlineKeyboardMarkup, error) {
	buttons := []struct {
		label  string
		action Action
	}{
		{"✅ Одобрить", ActionApprove},
		{"✏️ Изменить", ActionEdit},
		{"❌ Отклонить", ActionReject},
	}

	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		data, err := EncodeCallback(b.action, sessionID, estimateID)
		if err != nil {
			return tgbotapi.InlineKeyboardMarkup{}, err
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.label, data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row), nil
}

// HandleUpdate applies a reviewer button press. A non-nil error means the
// decision was not durably applied and the update should be redelivered.
func (t *Telegram) HandleUpdate(ctx context.Context, update tgbotapi.Update, h DecisionHandler) error {
	cq := update.CallbackQuery
	if cq == nil {
		return nil
	}

	log := t.logger.WithField("callback_id", cq.ID)

	if cq.From == nil || !t.reviewerAllowed(cq.From.ID) {
		log.Warn("Callback from unauthorized user ignored")
		t.answer(cq.ID, "Нет доступа")
		return nil
	}

	decision, err := DecodeCallback(cq.Data)
	if err != nil {
		log.WithError(err).Warn("Malformed callback ignored")
		t.answer(cq.ID, "Неизвестное действие")
		return nil
	}
	decision.Reviewer = reviewerName(cq.From)

	ack, err := h.HandleDecision(ctx, decision)
	var ignored *IgnoredError
	if errors.As(err, &ignored) {
		log.WithField("session_id", decision.SessionID).Info("Decision had no effect")
		t.answer(cq.ID, ignored.Ack)
		return nil
	}
	if err != nil {
		log.WithError(err).WithField("session_id", decision.SessionID).Error("Reviewer decision not applied")
		t.answer(cq.ID, "Не удалось сохранить решение, попробуйте ещё раз")
		return err
	}
	t.answer(cq.ID, ack)

	if cq.Message == nil || cq.Message.Chat == nil {
		return nil
	}
	chatID := cq.Message.Chat.ID

	switch decision.Action {
	case ActionEdit:
		link := fmt.Sprintf("%s/sessions/%s", t.editURLBase, decision.SessionID)
		t.send(tgbotapi.NewMessage(chatID, "Редактирование сметы: "+link))
	case ActionApprove, ActionReject:
		status := "✅ Одобрено"
		if decision.Action == ActionReject {
			status = "❌ Отклонено"
		}
		edit := tgbotapi.NewEditMessageText(chatID, cq.Message.MessageID,
			truncateRunes(cq.Message.Text+"\n\n"+status+" — "+decision.Reviewer, MaxMessageRunes))
		t.send(edit)
	}
	return nil
}

// Poll long-polls the Bot API until ctx is done
func (t *Telegram) Poll(ctx context.Context, h DecisionHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"callback_query"}

	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := t.HandleUpdate(ctx, update, h); err != nil {
				t.logger.WithError(err).Error("Failed to handle telegram update")
			}
		}
	}
}

func (t *Telegram) reviewerAllowed(userID int64) bool {
	if len(t.allowed) == 0 {
		return true
	}
	return t.allowed[userID]
}

func (t *Telegram) answer(callbackID, text string) {
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		t.logger.WithError(err).Warn("Failed to answer callback query")
	}
}

func (t *Telegram) send(c tgbotapi.Chattable) {
	if _, err := t.bot.Send(c); err != nil {
		t.logger.WithError(err).Warn("Failed to send telegram message")
	}
}

func reviewerName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return "id:" + strconv.FormatInt(u.ID, 10)
	}
	return name
}
