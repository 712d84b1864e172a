package services

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/approval"
	"github.com/artempl88/sozdaibota-sub000/internal/audit"
	"github.com/artempl88/sozdaibota-sub000/internal/config"
	"github.com/artempl88/sozdaibota-sub000/internal/estimate"
	"github.com/artempl88/sozdaibota-sub000/internal/llm"
	"github.com/artempl88/sozdaibota-sub000/internal/metrics"
	"github.com/artempl88/sozdaibota-sub000/internal/notify"
	"github.com/artempl88/sozdaibota-sub000/internal/oracle"
	"github.com/artempl88/sozdaibota-sub000/internal/repository"
)

// Repositories groups the storage the services run on
type Repositories struct {
	Sessions repository.SessionRepository
	Audit    repository.AuditLogRepository
}

// Services holds all service instances
type Services struct {
	Sessions  *SessionStore
	Intake    *IntakeService
	Workflow  *approval.Workflow
	Decisions *approval.Dispatcher
	Audit     *audit.Service
	Gateway   *llm.Gateway
	Metrics   *metrics.PrometheusRecorder

	cache *CacheService
}

// NewServices wires the reasoning gateway, oracle, estimate engine,
// approval workflow and intake service together
func NewServices(
	cfg *config.Config,
	repos Repositories,
	provider llm.Provider,
	notifier notify.Notifier,
	recorder *metrics.PrometheusRecorder,
	logger *logrus.Logger,
) (*Services, error) {
	if recorder == nil {
		recorder = metrics.NewPrometheusRecorder()
	}

	counter := llm.NewTokenCounter()
	gateway := llm.NewGateway(provider, cfg.LLM, logger,
		llm.WithCircuitBreaker(llm.NewCircuitBreaker(cfg.LLM.Breaker.FailureThreshold, cfg.LLM.Breaker.Cooldown, logger)),
		llm.WithRecorder(recorder),
		llm.WithMiddleware(
			llm.NewLoggingMiddleware(logger),
			llm.NewTokenBudgetMiddleware(counter, cfg.LLM.MaxPromptTokens),
		),
	)

	gate := oracle.New(gateway, logger,
		oracle.WithRecorder(recorder),
		oracle.WithTranscriptBudget(counter, cfg.LLM.MaxPromptTokens/2),
	)

	catalog, err := estimate.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load estimate catalog: %w", err)
	}
	engine := estimate.NewDefaultEngine(cfg.Estimate,
		estimate.NewReasonedStrategy(gateway, catalog, counter, cfg.LLM.MaxPromptTokens),
		catalog, logger, estimate.WithRecorder(recorder))

	auditSvc := audit.NewService(repos.Audit, logger)
	cache := NewCacheService(cfg.Cache.TTL)
	store := NewSessionStore(repos.Sessions, cache, logger)

	workflow := approval.NewWorkflow(store, engine, notifier, logger,
		approval.WithAudit(auditSvc),
		approval.WithRecorder(recorder),
	)

	return &Services{
		Sessions:  store,
		Intake:    NewIntakeService(store, gateway, gate, workflow, auditSvc, logger),
		Workflow:  workflow,
		Decisions: approval.NewDispatcher(workflow, llm.NewRetryPolicy(cfg.LLM.Retry), logger),
		Audit:     auditSvc,
		Gateway:   gateway,
		Metrics:   recorder,
		cache:     cache,
	}, nil
}

// Close stops background work
func (s *Services) Close() {
	s.cache.Close()
}
