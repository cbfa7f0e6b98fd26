package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/model"
)

// MessageRouter classifies a message to an intent and target agent.
type MessageRouter interface {
	Route(ctx context.Context, msg model.Message, conv model.ConversationContext) model.RouteDecision
}

// AgentSource resolves agents by name.
type AgentSource interface {
	Agent(name string) (model.Agent, bool)
}

// MessageResponse is the JSON response for a routed and executed message.
type MessageResponse struct {
	Intent     string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Agent      string         `json:"agent"`
	Rationale  string         `json:"rationale"`
	Reply      string         `json:"reply"`
	Data       map[string]any `json:"data,omitempty"`
}

func handleMessage(rt MessageRouter, agents AgentSource, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Text           string         `json:"text"`
			ConversationID string         `json:"conversation_id"`
			RecentTurns    []string       `json:"recent_turns"`
			Attributes     map[string]any `json:"attributes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Text == "" {
			WriteError(w, model.NewBadRequestError("text is required"))
			return
		}

		msg := model.Message{Text: body.Text, ConversationID: body.ConversationID}
		conv := model.ConversationContext{
			ConversationID: body.ConversationID,
			RecentTurns:    body.RecentTurns,
			Attributes:     body.Attributes,
		}

		decision := rt.Route(r.Context(), msg, conv)

		agent, ok := agents.Agent(decision.TargetAgent)
		if !ok {
			// A rule may name an agent that was never registered; the
			// fallback agent is always present.
			agent, ok = agents.Agent(model.AgentFallback)
			if !ok {
				logger.Error("fallback agent not registered",
					zap.String("target_agent", decision.TargetAgent),
				)
				WriteError(w, model.NewInternalError())
				return
			}
		}

		attrs := make(map[string]any, len(conv.Attributes)+1)
		for k, v := range conv.Attributes {
			attrs[k] = v
		}
		attrs["message"] = body.Text

		result, err := agent.Execute(r.Context(), decision.Intent, attrs)
		if err != nil {
			WriteError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, MessageResponse{
			Intent:     decision.Intent,
			Confidence: decision.Confidence,
			Agent:      agent.Name(),
			Rationale:  decision.Rationale,
			Reply:      result.Text,
			Data:       result.Data,
		})
	}
}
