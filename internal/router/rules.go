package router

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/model"
)

// compiledRule is an IntentRule with its patterns pre-compiled and its
// registration position retained for deterministic tie-breaking.
type compiledRule struct {
	intent     string
	agent      string
	priority   int
	confidence float64
	keywords   []string
	patterns   []*regexp.Regexp
	position   int
}

// RuleSet holds priority-ordered intent rules. Evaluation order is fixed at
// construction: higher priority first, registration order on ties, so the
// same message always matches the same rule.
type RuleSet struct {
	rules []compiledRule
	// agentByIntent resolves an intent name to its target agent when the
	// match came from the model rather than a rule.
	agentByIntent map[string]string
}

// NewRuleSet compiles and orders the given rules. Rules with patterns that do
// not compile are skipped with a warning rather than failing the whole set;
// a bad rule should not take routing down.
func NewRuleSet(rules []model.IntentRule, logger *zap.Logger) *RuleSet {
	if logger == nil {
		logger = zap.NewNop()
	}

	compiled := make([]compiledRule, 0, len(rules))
	agentByIntent := make(map[string]string, len(rules))
	for i, r := range rules {
		cr := compiledRule{
			intent:     r.Intent,
			agent:      r.Agent,
			priority:   r.Priority,
			confidence: r.Confidence,
			position:   i,
		}
		if cr.confidence <= 0 {
			cr.confidence = 0.9
		}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, strings.ToLower(kw))
		}
		ok := true
		for _, p := range r.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				logger.Warn("skipping intent rule with invalid pattern",
					zap.String("intent", r.Intent),
					zap.String("pattern", p),
					zap.Error(err),
				)
				ok = false
				break
			}
			cr.patterns = append(cr.patterns, re)
		}
		if !ok {
			continue
		}
		compiled = append(compiled, cr)
		if _, exists := agentByIntent[r.Intent]; !exists {
			agentByIntent[r.Intent] = r.Agent
		}
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].priority != compiled[j].priority {
			return compiled[i].priority > compiled[j].priority
		}
		return compiled[i].position < compiled[j].position
	})

	return &RuleSet{rules: compiled, agentByIntent: agentByIntent}
}

// Match evaluates rules in order and returns the decision of the first rule
// whose keywords or patterns hit the message.
func (s *RuleSet) Match(text string) (model.RouteDecision, bool) {
	lower := strings.ToLower(text)
	for _, r := range s.rules {
		if r.matches(lower, text) {
			return model.RouteDecision{
				Intent:      r.intent,
				Confidence:  r.confidence,
				TargetAgent: r.agent,
				Rationale:   "matched intent rule",
			}, true
		}
	}
	return model.RouteDecision{}, false
}

// AgentFor resolves the configured agent for an intent, falling back to the
// general assistant for intents no rule declares.
func (s *RuleSet) AgentFor(intent string) string {
	if agent, ok := s.agentByIntent[intent]; ok {
		return agent
	}
	return model.AgentFallback
}

// Len returns the number of usable rules.
func (s *RuleSet) Len() int { return len(s.rules) }

func (r *compiledRule) matches(lowerText, text string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(lowerText, kw) {
			return true
		}
	}
	for _, re := range r.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
