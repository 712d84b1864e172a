package llm

import (
	"context"
	"sync"
	"time"
)

// StubReply is one scripted provider outcome
type StubReply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// StubProvider replays scripted replies. It backs tests and the
// offline mode used when no API key is configured.
type StubProvider struct {
	mu       sync.Mutex
	script   []StubReply
	byLabel  map[string][]StubReply
	fallback StubReply
	calls    []Request
}

// NewStubProvider creates a provider that answers fallback once the
// script is exhausted
func NewStubProvider(fallback string, script ...StubReply) *StubProvider {
	return &StubProvider{
		script:   script,
		byLabel:  make(map[string][]StubReply),
		fallback: StubReply{Text: fallback},
	}
}

// Name returns the provider name
func (s *StubProvider) Name() string {
	return "stub"
}

// Enqueue appends replies to the shared script
func (s *StubProvider) Enqueue(replies ...StubReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, replies...)
}

// EnqueueFor appends replies consumed only by calls with the given label
func (s *StubProvider) EnqueueFor(label string, replies ...StubReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byLabel[label] = append(s.byLabel[label], replies...)
}

// Calls returns a copy of every request received
func (s *StubProvider) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// CallsWithLabel counts requests carrying label
func (s *StubProvider) CallsWithLabel(label string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Label == label {
			n++
		}
	}
	return n
}

// Complete returns the next scripted reply
func (s *StubProvider) Complete(ctx context.Context, req *Request) (string, error) {
	reply := s.next(req)

	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	return reply.Text, reply.Err
}

func (s *StubProvider) next(req *Request) StubReply {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *req
	cp.Messages = append([]Message(nil), req.Messages...)
	s.calls = append(s.calls, cp)

	if queue := s.byLabel[req.Label]; len(queue) > 0 {
		s.byLabel[req.Label] = queue[1:]
		return queue[0]
	}
	if len(s.script) > 0 {
		reply := s.script[0]
		s.script = s.script[1:]
		return reply
	}
	return s.fallback
}
