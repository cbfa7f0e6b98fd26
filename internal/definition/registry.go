package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/stewardhq/steward/model"
)

// snapshot is an immutable collection of all definitions indexed by ID.
type snapshot struct {
	files     map[string]model.DefinitionFile
	workflows map[string]model.WorkflowDefinition
	rules     []model.IntentRule
	checksum  string
}

// Registry is a read-optimized, thread-safe store of all loaded definitions.
// It uses atomic pointer swap for lock-free concurrent reads; Replace builds
// a fresh snapshot so in-flight readers keep a consistent view.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definition files.
func NewRegistry(defs []model.DefinitionFile) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definition files. Intent rules keep their per-file
// declaration order, with files applied in source-path order so the combined
// order is deterministic.
func (r *Registry) Replace(defs []model.DefinitionFile) {
	sorted := make([]model.DefinitionFile, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SourceFile < sorted[j].SourceFile
	})

	s := &snapshot{
		files:     make(map[string]model.DefinitionFile, len(sorted)),
		workflows: make(map[string]model.WorkflowDefinition),
	}

	var checksumParts []string
	for _, def := range sorted {
		s.files[def.Domain] = def
		checksumParts = append(checksumParts, def.Checksum)

		for _, w := range def.Workflows {
			s.workflows[w.ID] = w
		}
		s.rules = append(s.rules, def.Intents...)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Workflow returns the workflow definition with the given ID.
func (r *Registry) Workflow(workflowID string) (model.WorkflowDefinition, bool) {
	w, ok := r.current().workflows[workflowID]
	return w, ok
}

// AllWorkflows returns all workflow definitions sorted by ID.
func (r *Registry) AllWorkflows() []model.WorkflowDefinition {
	s := r.current()
	defs := make([]model.WorkflowDefinition, 0, len(s.workflows))
	for _, w := range s.workflows {
		defs = append(defs, w)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// IntentRules returns all intent rules in deterministic declaration order.
func (r *Registry) IntentRules() []model.IntentRule {
	return r.current().rules
}

// Domain returns the definition file for the given domain.
func (r *Registry) Domain(domain string) (model.DefinitionFile, bool) {
	d, ok := r.current().files[domain]
	return d, ok
}

// Checksum returns the combined checksum of all loaded definitions. Changes
// whenever any definition file changes; rule and workflow consumers use it to
// detect reloads cheaply.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
