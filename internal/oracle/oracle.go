// Package oracle answers the two yes/no questions that gate estimate
// generation by delegating them to the reasoning service.
package oracle

import (
	"context"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/llm"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

// Completer is the slice of the gateway the oracle needs
type Completer interface {
	Complete(ctx context.Context, kind llm.CallKind, messages []llm.Message, opts ...llm.CallOption) (string, error)
}

// Recorder observes oracle answers
type Recorder interface {
	ObserveOracle(question string, affirmative bool, failed bool)
}

const (
	QuestionIntent    = "intent"
	QuestionReadiness = "readiness"
)

// Oracle asks the intent and readiness questions
type Oracle struct {
	llm              Completer
	counter          *llm.TokenCounter
	transcriptBudget int
	recorder         Recorder
	logger           *logrus.Logger
}

// Option configures an Oracle
type Option func(*Oracle)

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(o *Oracle) { o.recorder = r }
}

// WithTranscriptBudget caps the transcript sent with each question, in tokens
func WithTranscriptBudget(counter *llm.TokenCounter, budget int) Option {
	return func(o *Oracle) {
		o.counter = counter
		o.transcriptBudget = budget
	}
}

// New creates an Oracle over a completer
func New(c Completer, logger *logrus.Logger, opts ...Option) *Oracle {
	o := &Oracle{llm: c, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WantsEstimate reports whether the latest client message asks for or
// agrees to a cost estimate. Failures and ambiguity answer false.
func (o *Oracle) WantsEstimate(ctx context.Context, turns []models.Turn, latest string) bool {
	user := "Диалог:\n" + o.transcript(turns) + "\n\nПоследнее сообщение клиента:\n" + latest + "\n\nОтвет (ДА или НЕТ):"
	return o.ask(ctx, QuestionIntent, intentPrompt, user)
}

// HasEnoughDetail reports whether the conversation carries enough concrete
// requirements for a credible estimate. Failures and ambiguity answer false.
func (o *Oracle) HasEnoughDetail(ctx context.Context, turns []models.Turn) bool {
	user := "Диалог:\n" + o.transcript(turns) + "\n\nОтвет (ДА или НЕТ):"
	return o.ask(ctx, QuestionReadiness, readinessPrompt, user)
}

func (o *Oracle) ask(ctx context.Context, question, system, user string) bool {
	raw, err := o.llm.Complete(ctx, llm.KindIntent,
		[]llm.Message{llm.System(system), llm.User(user)},
		llm.WithLabel(question),
		llm.WithTemperature(0),
		llm.WithMaxTokens(5),
	)
	if err != nil {
		o.logger.WithError(err).WithField("question", question).Warn("Oracle call failed, answering no")
		o.observe(question, false, true)
		return false
	}

	yes := IsAffirmative(raw)
	o.logger.WithFields(logrus.Fields{
		"question": question,
		"raw":      raw,
		"answer":   yes,
	}).Debug("Oracle answered")
	o.observe(question, yes, false)
	return yes
}

func (o *Oracle) observe(question string, yes, failed bool) {
	if o.recorder != nil {
		o.recorder.ObserveOracle(question, yes, failed)
	}
}

func (o *Oracle) transcript(turns []models.Turn) string {
	lines := models.TranscriptLines(turns)
	if o.counter != nil {
		lines = o.counter.TailWithin(lines, o.transcriptBudget)
	}
	if len(lines) == 0 {
		return "(пусто)"
	}
	return strings.Join(lines, "\n")
}

var affirmatives = map[string]bool{
	"да": true, "yes": true, "y": true, "true": true, "ага": true, "конечно": true, "д": true,
}

// IsAffirmative normalizes a classification reply and matches a yes.
// Anything it cannot read as yes is no.
func IsAffirmative(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range []string{"ответ:", "answer:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return false
	}
	return affirmatives[fields[0]]
}
