package model

import "context"

// Well-known intents and agents. Definition files may register more; these
// exist so the fallback path always has somewhere to land.
const (
	IntentUnknown = "unknown"

	AgentFallback = "general-assistant"
)

// Message is an inbound natural-language request from a client.
type Message struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ConversationContext carries prior turns and accumulated facts the router
// may consult during classification. It is read-only to the router.
type ConversationContext struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	RecentTurns    []string       `json:"recent_turns,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// RouteDecision is the immutable result of classifying a message. It is
// produced by the router and consumed by the caller; never persisted.
type RouteDecision struct {
	Intent      string  `json:"intent"`
	Confidence  float64 `json:"confidence"`
	TargetAgent string  `json:"target_agent"`
	// Rationale records which rule or fallback produced the decision, so
	// routing behavior is explainable after the fact.
	Rationale string `json:"rationale"`
}

// AgentResult is the uniform output of an agent invocation.
type AgentResult struct {
	Text string         `json:"text"`
	Data map[string]any `json:"data,omitempty"`
}

// Agent is the uniform contract every agent implementation exposes. The core
// is agnostic to agent internals; an agent may call the model gateway, a
// backend system, or nothing at all.
type Agent interface {
	// Name returns the agent's registry key.
	Name() string

	// Execute handles a classified request. The attrs map carries
	// conversation attributes plus any router-provided hints.
	Execute(ctx context.Context, intent string, attrs map[string]any) (AgentResult, error)
}
