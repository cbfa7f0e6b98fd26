package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stewardhq/steward/model"
)

// Invoker is the slice of the model gateway an agent needs.
type Invoker interface {
	Invoke(ctx context.Context, req model.ModelRequest) (model.ModelResponse, error)
}

// GatewayAgent answers requests by generating a response through the model
// gateway. It is the default handler for conversational intents and the
// fallback agent when routing cannot place a message.
type GatewayAgent struct {
	name    string
	system  string
	invoker Invoker
}

// NewGatewayAgent creates an agent that generates responses with the given
// system prompt.
func NewGatewayAgent(name, system string, invoker Invoker) *GatewayAgent {
	return &GatewayAgent{name: name, system: system, invoker: invoker}
}

// Name returns the agent's registry key.
func (a *GatewayAgent) Name() string { return a.name }

// Execute generates a response for the request. Conversation attributes are
// serialized into the prompt so the model sees accumulated facts.
func (a *GatewayAgent) Execute(ctx context.Context, intent string, attrs map[string]any) (model.AgentResult, error) {
	resp, err := a.invoker.Invoke(ctx, model.ModelRequest{
		TaskType: model.TaskGeneration,
		System:   a.system,
		Prompt:   buildPrompt(intent, attrs),
	})
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Text: resp.Text}, nil
}

func buildPrompt(intent string, attrs map[string]any) string {
	var b strings.Builder
	if intent != "" && intent != model.IntentUnknown {
		fmt.Fprintf(&b, "Intent: %s\n", intent)
	}
	if msg, ok := attrs["message"].(string); ok && msg != "" {
		fmt.Fprintf(&b, "Request: %s\n", msg)
	}
	rest := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if k == "message" {
			continue
		}
		rest[k] = v
	}
	if len(rest) > 0 {
		if data, err := json.Marshal(rest); err == nil {
			fmt.Fprintf(&b, "Context: %s\n", data)
		}
	}
	return b.String()
}

// EchoAgent returns its input unchanged. For tests and wiring checks.
type EchoAgent struct {
	name string
}

// NewEchoAgent creates an echo agent with the given name.
func NewEchoAgent(name string) *EchoAgent {
	return &EchoAgent{name: name}
}

// Name returns the agent's registry key.
func (a *EchoAgent) Name() string { return a.name }

// Execute echoes the intent and message back.
func (a *EchoAgent) Execute(_ context.Context, intent string, attrs map[string]any) (model.AgentResult, error) {
	msg, _ := attrs["message"].(string)
	return model.AgentResult{
		Text: fmt.Sprintf("echo[%s]: %s", intent, msg),
		Data: map[string]any{"intent": intent},
	}, nil
}
