package model

// DefinitionFile is the root structure of a definition file. Each file may
// declare workflow definitions and intent rules for one HR domain.
type DefinitionFile struct {
	Domain    string               `yaml:"domain"    json:"domain"`
	Version   string               `yaml:"version"   json:"version"`
	Workflows []WorkflowDefinition `yaml:"workflows" json:"workflows,omitempty"`
	Intents   []IntentRule         `yaml:"intents"   json:"intents,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// WorkflowDefinition describes a multi-step HR process as data. Read-only
// after load.
type WorkflowDefinition struct {
	ID             string                 `yaml:"id"              json:"id"`
	Name           string                 `yaml:"name"            json:"name"`
	InitialState   string                 `yaml:"initial_state"   json:"initial_state"`
	TerminalStates []string               `yaml:"terminal_states" json:"terminal_states"`
	Timeout        string                 `yaml:"timeout"         json:"timeout,omitempty"`
	States         []StateDefinition      `yaml:"states"          json:"states"`
	Transitions    []TransitionDefinition `yaml:"transitions"     json:"transitions"`
}

// IsTerminal reports whether the given state is a terminal state of this
// definition.
func (d WorkflowDefinition) IsTerminal(state string) bool {
	for _, s := range d.TerminalStates {
		if s == state {
			return true
		}
	}
	return false
}

// StateDefinition describes a single named state. A state may bind an agent
// step that runs when a transition enters it.
type StateDefinition struct {
	ID   string `yaml:"id"   json:"id"`
	Name string `yaml:"name" json:"name"`
	// Agent, when set, names the agent invoked on entering this state. The
	// transition into the state does not commit if the invocation fails.
	Agent  string `yaml:"agent"  json:"agent,omitempty"`
	Intent string `yaml:"intent" json:"intent,omitempty"`
}

// TransitionDefinition describes a transition between workflow states.
// Guard is a serializable boolean expression over context fields, evaluated
// against the instance context merged with the event payload. Candidates for
// the same (from, event) pair are evaluated in declaration order.
type TransitionDefinition struct {
	From  string `yaml:"from"  json:"from"`
	To    string `yaml:"to"    json:"to"`
	Event string `yaml:"event" json:"event"`
	Guard string `yaml:"guard" json:"guard,omitempty"`
}

// IntentRule is a deterministic routing rule: if any keyword or pattern
// matches the message, the rule proposes its intent and agent at the given
// confidence. Priority makes ordering explicit rather than an accident of
// load order; higher values win, and declaration order breaks ties.
type IntentRule struct {
	Intent     string   `yaml:"intent"     json:"intent"`
	Agent      string   `yaml:"agent"      json:"agent"`
	Priority   int      `yaml:"priority"   json:"priority"`
	Confidence float64  `yaml:"confidence" json:"confidence"`
	Keywords   []string `yaml:"keywords"   json:"keywords,omitempty"`
	Patterns   []string `yaml:"patterns"   json:"patterns,omitempty"`
}
