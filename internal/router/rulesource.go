package router

import (
	"sync"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/model"
)

// RuleProvider is the slice of the definition registry the router consumes.
type RuleProvider interface {
	IntentRules() []model.IntentRule
	Checksum() string
}

// RegistryRules adapts a definition registry to RuleSource, recompiling the
// rule set only when the registry checksum changes so the hot path stays a
// cheap comparison.
type RegistryRules struct {
	provider RuleProvider
	logger   *zap.Logger

	mu       sync.Mutex
	checksum string
	set      *RuleSet
}

// NewRegistryRules creates a RuleSource backed by the given provider.
func NewRegistryRules(provider RuleProvider, logger *zap.Logger) *RegistryRules {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryRules{provider: provider, logger: logger}
}

// Rules returns the compiled rule set for the registry's current contents.
func (r *RegistryRules) Rules() *RuleSet {
	checksum := r.provider.Checksum()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set == nil || r.checksum != checksum {
		r.set = NewRuleSet(r.provider.IntentRules(), r.logger)
		r.checksum = checksum
	}
	return r.set
}
