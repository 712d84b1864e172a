package llm

import (
	"fmt"
)

// CallKind selects the timeout policy of a reasoning-service call
type CallKind string

const (
	KindChat          CallKind = "chat"
	KindTranscription CallKind = "transcription"
	KindSpeech        CallKind = "speech"
	KindIntent        CallKind = "intent"
	KindFunctionality CallKind = "functionality"
)

// Valid reports whether k is a known call kind
func (k CallKind) Valid() bool {
	switch k {
	case KindChat, KindTranscription, KindSpeech, KindIntent, KindFunctionality:
		return true
	}
	return false
}

// Message roles understood by the reasoning service
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged message sent to the reasoning service
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System builds a system message
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Request is what a Provider receives for one attempt
type Request struct {
	Kind        CallKind
	Label       string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Validate checks the request before it is sent
func (r *Request) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown call kind %q", r.Kind)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
	}
	return nil
}

// CallOption customizes a single Complete call
type CallOption func(*Request)

// WithMaxTokens overrides the completion token limit
func WithMaxTokens(n int) CallOption {
	return func(r *Request) { r.MaxTokens = n }
}

// WithTemperature overrides the sampling temperature
func WithTemperature(t float32) CallOption {
	return func(r *Request) { r.Temperature = t }
}

// WithLabel tags the call for logs and metrics (e.g. "intent", "estimate")
func WithLabel(label string) CallOption {
	return func(r *Request) { r.Label = label }
}
