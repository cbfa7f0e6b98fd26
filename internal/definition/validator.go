package definition

import (
	"fmt"
	"regexp"
	"time"

	"github.com/stewardhq/steward/internal/workflow"
	"github.com/stewardhq/steward/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks definitions structurally and referentially before they are
// admitted to the registry: transitions only reference declared states,
// guards parse, intent rules are well-formed. A definition that fails
// validation never reaches the engine.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definition files and returns every error found.
func (v *Validator) Validate(defs []model.DefinitionFile) []VError {
	var errs []VError
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateFile(prefix, def)...)
	}
	return errs
}

func (v *Validator) validateFile(prefix string, def model.DefinitionFile) []VError {
	var errs []VError

	if def.Domain == "" {
		errs = append(errs, VError{Path: prefix + ".domain", Code: "REQUIRED", Message: "domain is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}

	for i, w := range def.Workflows {
		wp := fmt.Sprintf("%s.workflows[%d]", prefix, i)
		errs = append(errs, v.validateWorkflow(wp, w)...)
	}
	for i, rule := range def.Intents {
		ip := fmt.Sprintf("%s.intents[%d]", prefix, i)
		errs = append(errs, v.validateIntentRule(ip, rule)...)
	}

	return errs
}

func (v *Validator) validateWorkflow(prefix string, w model.WorkflowDefinition) []VError {
	var errs []VError

	if w.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if w.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if w.InitialState == "" {
		errs = append(errs, VError{Path: prefix + ".initial_state", Code: "REQUIRED", Message: "initial_state is required"})
	}
	if len(w.TerminalStates) == 0 {
		errs = append(errs, VError{Path: prefix + ".terminal_states", Code: "REQUIRED", Message: "at least one terminal state is required"})
	}
	if len(w.States) < 2 {
		errs = append(errs, VError{Path: prefix + ".states", Code: "REQUIRED", Message: "at least two states required (initial + terminal)"})
	}

	stateIDs := make(map[string]bool)
	for i, s := range w.States {
		sp := fmt.Sprintf("%s.states[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "state id is required"})
			continue
		}
		if stateIDs[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate state id %q", s.ID)})
		}
		stateIDs[s.ID] = true
	}

	if w.InitialState != "" && !stateIDs[w.InitialState] {
		errs = append(errs, VError{
			Path:    prefix + ".initial_state",
			Code:    "REF_NOT_FOUND",
			Message: fmt.Sprintf("initial_state %q not found in states", w.InitialState),
		})
	}
	for i, ts := range w.TerminalStates {
		if !stateIDs[ts] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.terminal_states[%d]", prefix, i),
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("terminal state %q not found in states", ts),
			})
		}
	}

	if w.Timeout != "" {
		if _, err := time.ParseDuration(w.Timeout); err != nil {
			errs = append(errs, VError{
				Path:    prefix + ".timeout",
				Code:    "INVALID_DURATION",
				Message: fmt.Sprintf("timeout %q is not a valid duration", w.Timeout),
			})
		}
	}

	for i, tr := range w.Transitions {
		tp := fmt.Sprintf("%s.transitions[%d]", prefix, i)
		if tr.From != "" && !stateIDs[tr.From] {
			errs = append(errs, VError{Path: tp + ".from", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("state %q not found", tr.From)})
		}
		if tr.To != "" && !stateIDs[tr.To] {
			errs = append(errs, VError{Path: tp + ".to", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("state %q not found", tr.To)})
		}
		if tr.Event == "" {
			errs = append(errs, VError{Path: tp + ".event", Code: "REQUIRED", Message: "transition event is required"})
		}
		if tr.Guard != "" {
			if _, err := workflow.ParseGuard(tr.Guard); err != nil {
				errs = append(errs, VError{
					Path:    tp + ".guard",
					Code:    "INVALID_GUARD",
					Message: err.Error(),
				})
			}
		}
	}

	return errs
}

func (v *Validator) validateIntentRule(prefix string, rule model.IntentRule) []VError {
	var errs []VError

	if rule.Intent == "" {
		errs = append(errs, VError{Path: prefix + ".intent", Code: "REQUIRED", Message: "intent is required"})
	}
	if rule.Agent == "" {
		errs = append(errs, VError{Path: prefix + ".agent", Code: "REQUIRED", Message: "agent is required"})
	}
	if rule.Confidence < 0 || rule.Confidence > 1 {
		errs = append(errs, VError{Path: prefix + ".confidence", Code: "RANGE", Message: "confidence must be within [0, 1]"})
	}
	if len(rule.Keywords) == 0 && len(rule.Patterns) == 0 {
		errs = append(errs, VError{
			Path:    prefix,
			Code:    "REQUIRED",
			Message: "at least one keyword or pattern is required",
		})
	}
	for i, p := range rule.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.patterns[%d]", prefix, i),
				Code:    "INVALID_PATTERN",
				Message: err.Error(),
			})
		}
	}

	return errs
}
