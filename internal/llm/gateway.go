package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/config"
)

// Recorder receives one observation per Complete call
type Recorder interface {
	ObserveCall(kind CallKind, label, outcome string, attempts int, elapsed time.Duration)
}

// Gateway is the single entry point for reasoning-service calls.
// It is safe for concurrent use.
type Gateway struct {
	provider    Provider
	timeouts    map[CallKind]time.Duration
	retry       RetryPolicy
	breaker     *CircuitBreaker
	middleware  []Middleware
	recorder    Recorder
	logger      *logrus.Logger
	maxTokens   int
	temperature float32
	sleep       func(context.Context, time.Duration) error
}

// GatewayOption is a functional option for configuring the Gateway
type GatewayOption func(*Gateway)

// WithMiddleware adds middleware to the gateway
func WithMiddleware(mw ...Middleware) GatewayOption {
	return func(g *Gateway) {
		g.middleware = append(g.middleware, mw...)
	}
}

// WithCircuitBreaker replaces the circuit breaker; nil disables it
func WithCircuitBreaker(cb *CircuitBreaker) GatewayOption {
	return func(g *Gateway) {
		g.breaker = cb
	}
}

// WithRecorder configures metrics collection
func WithRecorder(r Recorder) GatewayOption {
	return func(g *Gateway) {
		g.recorder = r
	}
}

// WithRetryPolicy overrides the configured retry policy
func WithRetryPolicy(p RetryPolicy) GatewayOption {
	return func(g *Gateway) {
		g.retry = p
	}
}

// WithTimeout overrides the timeout of one call kind
func WithTimeout(kind CallKind, d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.timeouts[kind] = d
	}
}

// NewGateway creates a gateway in front of provider
func NewGateway(provider Provider, cfg config.LLMConfig, logger *logrus.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider: provider,
		timeouts: map[CallKind]time.Duration{
			KindChat:          cfg.Timeouts.Chat,
			KindTranscription: cfg.Timeouts.Transcription,
			KindSpeech:        cfg.Timeouts.Speech,
			KindIntent:        cfg.Timeouts.Intent,
			KindFunctionality: cfg.Timeouts.Functionality,
		},
		retry:       NewRetryPolicy(cfg.Retry),
		breaker:     NewCircuitBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown, logger),
		recorder:    nopRecorder{},
		logger:      logger,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		sleep:       sleepContext,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.recorder == nil {
		g.recorder = nopRecorder{}
	}

	return g
}

// Complete sends messages to the reasoning service under the timeout and
// retry policy of kind. Errors are *UpstreamError values matching one of
// ErrUpstreamTimeout, ErrUpstreamRejected, ErrUpstreamUnavailable or
// ErrEmptyResponse.
func (g *Gateway) Complete(ctx context.Context, kind CallKind, messages []Message, opts ...CallOption) (string, error) {
	start := time.Now()

	req := &Request{
		Kind:        kind,
		Label:       string(kind),
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}
	for _, opt := range opts {
		opt(req)
	}

	if err := req.Validate(); err != nil {
		return "", &UpstreamError{Kind: ErrUpstreamRejected, CallKind: kind, Err: err}
	}

	for _, mw := range g.middleware {
		var err error
		ctx, req, err = mw.PreProcess(ctx, req)
		if err != nil {
			return "", &UpstreamError{Kind: ErrUpstreamRejected, CallKind: kind, Err: err}
		}
	}

	text, attempts, err := g.execute(ctx, req)

	for i := len(g.middleware) - 1; i >= 0; i-- {
		text, err = g.middleware[i].PostProcess(ctx, req, text, err)
	}

	g.recorder.ObserveCall(kind, req.Label, outcomeOf(err), attempts, time.Since(start))

	return text, err
}

func (g *Gateway) execute(ctx context.Context, req *Request) (string, int, error) {
	key := g.provider.Name() + ":" + string(req.Kind)

	for attempt := 1; ; attempt++ {
		if err := g.breaker.Allow(key); err != nil {
			return "", attempt - 1, &UpstreamError{
				Kind: ErrUpstreamUnavailable, CallKind: req.Kind, Attempts: attempt - 1, Err: err,
			}
		}

		text, err := g.attempt(ctx, req)
		if err == nil {
			g.breaker.RecordSuccess(key)
			return text, attempt, nil
		}

		ue := err.(*UpstreamError)
		ue.CallKind = req.Kind
		ue.Attempts = attempt

		if errors.Is(ue, ErrUpstreamTimeout) || errors.Is(ue, ErrUpstreamUnavailable) {
			g.breaker.RecordFailure(key)
		} else {
			g.breaker.RecordSuccess(key)
		}

		if !ue.Retryable() || attempt > g.retry.MaxRetries {
			return "", attempt, ue
		}

		delay := g.retry.Delay(attempt)
		g.logger.WithFields(logrus.Fields{
			"kind":    req.Kind,
			"label":   req.Label,
			"attempt": attempt,
			"status":  ue.StatusCode,
			"delay":   delay,
		}).Warn("Reasoning call failed, retrying")

		if err := g.sleep(ctx, delay); err != nil {
			return "", attempt, ue
		}
	}
}

// attempt runs one provider call under the per-kind timeout
func (g *Gateway) attempt(ctx context.Context, req *Request) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeoutFor(req.Kind))
	defer cancel()

	text, err := g.provider.Complete(attemptCtx, req)
	if err != nil {
		ue := *classify(err, attemptCtx)
		return "", &ue
	}
	if strings.TrimSpace(text) == "" {
		return "", &UpstreamError{Kind: ErrEmptyResponse, Err: ErrEmptyResponse}
	}
	return text, nil
}

func (g *Gateway) timeoutFor(kind CallKind) time.Duration {
	if d := g.timeouts[kind]; d > 0 {
		return d
	}
	return 30 * time.Second
}

// Outcome labels used by Recorder implementations
const (
	OutcomeSuccess     = "success"
	OutcomeTimeout     = "timeout"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeEmpty       = "empty"
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrUpstreamTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrUpstreamRejected):
		return OutcomeRejected
	case errors.Is(err, ErrEmptyResponse):
		return OutcomeEmpty
	default:
		return OutcomeUnavailable
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveCall(CallKind, string, string, int, time.Duration) {}
