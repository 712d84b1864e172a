package llm

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Middleware interface for request/response processing
type Middleware interface {
	// PreProcess is called before the request is sent to the provider
	PreProcess(ctx context.Context, req *Request) (context.Context, *Request, error)

	// PostProcess is called after the provider call, including all retries
	PostProcess(ctx context.Context, req *Request, text string, err error) (string, error)
}

// BaseMiddleware provides a default implementation
type BaseMiddleware struct{}

func (m *BaseMiddleware) PreProcess(ctx context.Context, req *Request) (context.Context, *Request, error) {
	return ctx, req, nil
}

func (m *BaseMiddleware) PostProcess(ctx context.Context, req *Request, text string, err error) (string, error) {
	return text, err
}

// LoggingMiddleware logs requests and responses
type LoggingMiddleware struct {
	BaseMiddleware
	logger *logrus.Logger
}

func NewLoggingMiddleware(logger *logrus.Logger) Middleware {
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) PreProcess(ctx context.Context, req *Request) (context.Context, *Request, error) {
	m.logger.WithFields(logrus.Fields{
		"kind":     req.Kind,
		"label":    req.Label,
		"messages": len(req.Messages),
	}).Debug("Reasoning request")
	return ctx, req, nil
}

func (m *LoggingMiddleware) PostProcess(ctx context.Context, req *Request, text string, err error) (string, error) {
	fields := logrus.Fields{"kind": req.Kind, "label": req.Label}
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Warn("Reasoning request failed")
	} else {
		m.logger.WithFields(fields).WithField("chars", len(text)).Debug("Reasoning response")
	}
	return text, err
}

// TokenBudgetMiddleware drops the oldest conversation messages until the
// prompt fits the token budget
type TokenBudgetMiddleware struct {
	BaseMiddleware
	counter *TokenCounter
	budget  int
}

func NewTokenBudgetMiddleware(counter *TokenCounter, budget int) Middleware {
	return &TokenBudgetMiddleware{counter: counter, budget: budget}
}

func (m *TokenBudgetMiddleware) PreProcess(ctx context.Context, req *Request) (context.Context, *Request, error) {
	if m.budget <= 0 {
		return ctx, req, nil
	}
	trimmed := *req
	trimmed.Messages = m.counter.Fit(req.Messages, m.budget)
	return ctx, &trimmed, nil
}
