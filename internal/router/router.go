// Package router classifies inbound messages to an intent and a target
// agent. Deterministic priority rules run first; only unmatched messages fall
// through to model-based classification, and a model outage degrades routing
// to the general assistant rather than failing the request.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/model"
)

// Invoker is the slice of the model gateway the router needs.
type Invoker interface {
	Invoke(ctx context.Context, req model.ModelRequest) (model.ModelResponse, error)
}

// RuleSource supplies the current rule set. Backed by the definition registry
// so rule changes take effect without restarting the router.
type RuleSource interface {
	Rules() *RuleSet
}

// Recorder receives routing decisions for metrics. Implementations must not
// block.
type Recorder interface {
	RecordRouteDecision(method, intent string)
}

// Router turns a message into a RouteDecision.
type Router struct {
	rules    RuleSource
	invoker  Invoker
	recorder Recorder
	logger   *zap.Logger

	// minConfidence is the floor below which a model classification is
	// treated as unknown and degraded to the fallback agent.
	minConfidence float64
}

// Options configures a Router.
type Options struct {
	Rules         RuleSource
	Invoker       Invoker
	Recorder      Recorder
	Logger        *zap.Logger
	MinConfidence float64
}

// New creates a Router from the given options.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	minConfidence := opts.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	return &Router{
		rules:         opts.Rules,
		invoker:       opts.Invoker,
		recorder:      opts.Recorder,
		logger:        logger,
		minConfidence: minConfidence,
	}
}

// Route classifies the message. It always returns a usable decision: rules
// first, then model classification, and the general assistant when neither
// can place the message. Routing itself never fails a request.
func (r *Router) Route(ctx context.Context, msg model.Message, conv model.ConversationContext) model.RouteDecision {
	rules := r.rules.Rules()

	if decision, ok := rules.Match(msg.Text); ok {
		r.record("rule", decision.Intent)
		return decision
	}

	decision, err := r.classify(ctx, rules, msg, conv)
	if err != nil {
		r.logger.Warn("model classification unavailable, degrading to fallback agent",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err),
		)
		r.record("degraded", model.IntentUnknown)
		return model.RouteDecision{
			Intent:      model.IntentUnknown,
			Confidence:  0,
			TargetAgent: model.AgentFallback,
			Rationale:   "classification unavailable",
		}
	}

	r.record("llm", decision.Intent)
	return decision
}

// classification is the wire shape the model is instructed to return.
type classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func (r *Router) classify(ctx context.Context, rules *RuleSet, msg model.Message, conv model.ConversationContext) (model.RouteDecision, error) {
	resp, err := r.invoker.Invoke(ctx, model.ModelRequest{
		TaskType: model.TaskClassification,
		System:   classifierSystemPrompt(rules),
		Prompt:   classifierPrompt(msg, conv),
	})
	if err != nil {
		return model.RouteDecision{}, err
	}

	var parsed classification
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &parsed); err != nil {
		return model.RouteDecision{}, fmt.Errorf("router: unparseable classification %q: %w", resp.Text, err)
	}

	if parsed.Intent == "" || parsed.Intent == model.IntentUnknown || parsed.Confidence < r.minConfidence {
		return model.RouteDecision{
			Intent:      model.IntentUnknown,
			Confidence:  parsed.Confidence,
			TargetAgent: model.AgentFallback,
			Rationale:   "model could not classify with confidence",
		}, nil
	}

	return model.RouteDecision{
		Intent:      parsed.Intent,
		Confidence:  parsed.Confidence,
		TargetAgent: rules.AgentFor(parsed.Intent),
		Rationale:   "model classification",
	}, nil
}

func classifierSystemPrompt(rules *RuleSet) string {
	intents := make([]string, 0, len(rules.agentByIntent))
	for intent := range rules.agentByIntent {
		intents = append(intents, intent)
	}
	sort.Strings(intents)
	return fmt.Sprintf(
		`You classify HR requests into intents. Known intents: %s. `+
			`Respond with only a JSON object: {"intent": "<name or unknown>", "confidence": <0..1>}.`,
		strings.Join(intents, ", "),
	)
}

func classifierPrompt(msg model.Message, conv model.ConversationContext) string {
	var b strings.Builder
	if len(conv.RecentTurns) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range conv.RecentTurns {
			b.WriteString(turn)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Message: ")
	b.WriteString(msg.Text)
	return b.String()
}

// extractJSON pulls the first JSON object out of model output that may be
// wrapped in prose or code fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

func (r *Router) record(method, intent string) {
	if r.recorder != nil {
		r.recorder.RecordRouteDecision(method, intent)
	}
}
