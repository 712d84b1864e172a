package estimate

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/artempl88/sozdaibota-sub000/internal/llm"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

// Strategy is one tier of the fallback ladder
type Strategy interface {
	Name() models.GeneratedBy
	Estimate(ctx context.Context, in Input) (*models.Estimate, error)
}

// Completer is the slice of the gateway the reasoned tier needs
type Completer interface {
	Complete(ctx context.Context, kind llm.CallKind, messages []llm.Message, opts ...llm.CallOption) (string, error)
}

// ReasonedStrategy asks the reasoning service for a full breakdown
type ReasonedStrategy struct {
	llm     Completer
	catalog *Catalog
	counter *llm.TokenCounter
	budget  int
}

// NewReasonedStrategy creates the first tier. budget caps the transcript in tokens.
func NewReasonedStrategy(c Completer, catalog *Catalog, counter *llm.TokenCounter, budget int) *ReasonedStrategy {
	return &ReasonedStrategy{llm: c, catalog: catalog, counter: counter, budget: budget}
}

func (s *ReasonedStrategy) Name() models.GeneratedBy { return models.GeneratedByReasoned }

func (s *ReasonedStrategy) Estimate(ctx context.Context, in Input) (*models.Estimate, error) {
	lines := models.TranscriptLines(in.Turns)
	if s.counter != nil {
		lines = s.counter.TailWithin(lines, s.budget)
	}

	messages := []llm.Message{
		llm.System(estimationPrompt(s.catalog)),
		llm.User(requirementsMessage(in.Profile, lines)),
	}

	raw, err := s.llm.Complete(ctx, llm.KindFunctionality, messages,
		llm.WithLabel("estimate"),
		llm.WithTemperature(0.2),
		llm.WithMaxTokens(3000),
	)
	if err != nil {
		return nil, err
	}

	est, err := ParseEstimate(raw)
	if err != nil {
		return nil, err
	}
	if est.Industry == "" {
		est.Industry = in.Profile.Industry
	}
	return est, nil
}

// HeuristicStrategy prices the baseline, detected features and a flat
// allowance for everything not analyzed
type HeuristicStrategy struct {
	catalog        *Catalog
	allowanceHours float64
}

// NewHeuristicStrategy creates the second tier
func NewHeuristicStrategy(catalog *Catalog, allowanceHours float64) *HeuristicStrategy {
	return &HeuristicStrategy{catalog: catalog, allowanceHours: allowanceHours}
}

func (s *HeuristicStrategy) Name() models.GeneratedBy { return models.GeneratedByHeuristic }

func (s *HeuristicStrategy) Estimate(_ context.Context, in Input) (*models.Estimate, error) {
	if s.catalog == nil || len(s.catalog.Baseline) == 0 {
		return nil, fmt.Errorf("heuristic estimate: no catalog")
	}

	components := append([]models.Component(nil), s.catalog.Baseline...)
	components = append(components, s.catalog.Detect(clientText(in))...)
	if s.allowanceHours > 0 {
		components = append(components, models.Component{
			Name:        "Доработка под задачи клиента",
			Description: "Резерв на функциональность, которую нужно разобрать детально",
			Hours:       s.allowanceHours,
			Category:    "custom",
			Complexity:  "medium",
		})
	}

	est := &models.Estimate{
		ProjectName: projectName(in.Profile),
		Industry:    in.Profile.Industry,
		Components:  components,
		Timeline:    timelineFor(sumHours(components)),
		Risks: []string{
			"Оценка предварительная: требования ещё не разобраны детально",
		},
		Recommendations: []string{
			"Обсудить требования с менеджером, чтобы уточнить состав работ и стоимость",
		},
	}
	est.Metadata.Approximate = true
	if risk, ok := s.catalog.RiskFor(in.Profile.Industry); ok {
		est.Risks = append(est.Risks, "Отрасль с повышенными требованиями: "+risk.Note)
	}
	return est, nil
}

// MinimalStrategy returns a single fixed line item
type MinimalStrategy struct {
	hours float64
}

// NewMinimalStrategy creates the last tier
func NewMinimalStrategy(hours float64) *MinimalStrategy {
	return &MinimalStrategy{hours: hours}
}

func (s *MinimalStrategy) Name() models.GeneratedBy { return models.GeneratedByMinimal }

func (s *MinimalStrategy) Estimate(_ context.Context, in Input) (*models.Estimate, error) {
	return minimalEstimate(in, s.hours), nil
}

func minimalEstimate(in Input, hours float64) *models.Estimate {
	if hours <= 0 || math.IsNaN(hours) {
		hours = defaultMinimalHours
	}
	est := &models.Estimate{
		ProjectName: projectName(in.Profile),
		Industry:    in.Profile.Industry,
		Components: []models.Component{{
			Name:        "Базовый Telegram-бот",
			Description: "Каркас, меню, приём заявок, панель администратора, развёртывание",
			Hours:       hours,
			Category:    "core",
			Complexity:  "medium",
		}},
		Timeline:        timelineFor(hours),
		Risks:           []string{"Минимальная оценка: состав работ будет уточнён менеджером"},
		Recommendations: []string{"Созвониться с менеджером для детального расчёта"},
	}
	est.Metadata.Approximate = true
	return est
}

func clientText(in Input) string {
	var b strings.Builder
	b.WriteString(in.Profile.Industry)
	for _, t := range in.Turns {
		if t.Role == models.RoleClient {
			b.WriteByte('\n')
			b.WriteString(t.Content)
		}
	}
	return b.String()
}

func projectName(p models.IntakeProfile) string {
	if strings.TrimSpace(p.Industry) == "" {
		return "Telegram-бот"
	}
	return "Telegram-бот: " + p.Industry
}

func sumHours(components []models.Component) float64 {
	var h float64
	for _, c := range components {
		h += c.Hours
	}
	return h
}

// hoursPerWeek is the productive capacity of one developer
const hoursPerWeek = 25

func timelineFor(hours float64) string {
	weeks := int(math.Ceil(hours / hoursPerWeek))
	if weeks < 1 {
		weeks = 1
	}
	return fmt.Sprintf("ориентировочно %d–%d нед.", weeks, weeks+1)
}
