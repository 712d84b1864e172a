// Package estimate turns a conversation into a priced estimate. Build
// always returns a valid estimate: tiers are tried in order and the
// last one cannot fail.
package estimate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/config"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

const defaultMinimalHours = 40

// Input is what an estimate is built from
type Input struct {
	SessionID string
	Profile   models.IntakeProfile
	Turns     []models.Turn
}

// Recorder observes which tier produced each estimate
type Recorder interface {
	ObserveEstimate(tier models.GeneratedBy, elapsed time.Duration)
}

// Engine runs the strategy ladder
type Engine struct {
	strategies   []Strategy
	pricing      models.Pricing
	minimalHours float64
	recorder     Recorder
	logger       *logrus.Logger
	now          func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine trying strategies in the given order
func NewEngine(cfg config.EstimateConfig, logger *logrus.Logger, strategies []Strategy, opts ...Option) *Engine {
	e := &Engine{
		strategies: strategies,
		pricing: models.Pricing{
			HourlyRate:  cfg.HourlyRate,
			MinimumCost: cfg.MinimumProjectCost,
			Currency:    cfg.Currency,
		},
		minimalHours: cfg.MinimalHours,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewDefaultEngine wires the reasoned, heuristic and minimal tiers
func NewDefaultEngine(cfg config.EstimateConfig, reasoned *ReasonedStrategy, catalog *Catalog, logger *logrus.Logger, opts ...Option) *Engine {
	var strategies []Strategy
	if reasoned != nil {
		strategies = append(strategies, reasoned)
	}
	strategies = append(strategies,
		NewHeuristicStrategy(catalog, cfg.CustomAllowanceHours),
		NewMinimalStrategy(cfg.MinimalHours),
	)
	return NewEngine(cfg, logger, strategies, opts...)
}

// Build produces a priced, validated estimate. It never returns nil.
func (e *Engine) Build(ctx context.Context, in Input) *models.Estimate {
	start := e.now()
	log := e.logger.WithField("session_id", in.SessionID)

	for _, s := range e.strategies {
		if s == nil {
			continue
		}
		est, err := s.Estimate(ctx, in)
		if err != nil {
			log.WithError(err).WithField("tier", s.Name()).Warn("Estimate tier failed, falling back")
			continue
		}
		if est == nil {
			continue
		}

		e.finish(est, s.Name())
		if err := est.Validate(e.pricing.MinimumCost); err != nil {
			log.WithError(err).WithField("tier", s.Name()).Warn("Estimate tier produced an invalid document")
			continue
		}

		e.observe(est.Metadata.GeneratedBy, start)
		log.WithFields(logrus.Fields{
			"tier":        est.Metadata.GeneratedBy,
			"estimate_id": est.ID,
			"total_cost":  est.TotalCost,
			"total_hours": est.TotalHours,
		}).Info("Estimate built")
		return est
	}

	// Every configured tier failed; the built-in minimal line still applies.
	est := minimalEstimate(in, e.minimalHours)
	e.finish(est, models.GeneratedByMinimal)
	e.observe(models.GeneratedByMinimal, start)
	log.WithField("estimate_id", est.ID).Warn("All estimate tiers failed, using built-in minimal estimate")
	return est
}

// Reprice applies the rate card to an edited estimate
func (e *Engine) Reprice(est *models.Estimate) error {
	est.Price(e.pricing)
	return est.Validate(e.pricing.MinimumCost)
}

func (e *Engine) finish(est *models.Estimate, tier models.GeneratedBy) {
	est.ID = NewID()
	est.Price(e.pricing)
	est.Metadata.GeneratedBy = tier
	est.Metadata.GeneratedAt = e.now().UTC()
	if tier != models.GeneratedByReasoned {
		est.Metadata.Approximate = true
	}
}

func (e *Engine) observe(tier models.GeneratedBy, start time.Time) {
	if e.recorder != nil {
		e.recorder.ObserveEstimate(tier, e.now().Sub(start))
	}
}

// NewID returns a 12-character hex estimate identifier
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
