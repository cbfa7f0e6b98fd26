package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stewardhq/steward/model"
)

// MemoryStore is an in-memory Store. The default for tests and single-node
// deployments without postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]model.WorkflowInstance
	history   map[string][]model.HistoryRecord
}

// NewMemoryStore creates an empty in-memory workflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]model.WorkflowInstance),
		history:   make(map[string][]model.HistoryRecord),
	}
}

// Create persists a new workflow instance.
func (s *MemoryStore) Create(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q already exists", inst.ID),
		)
	}
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// Get retrieves a workflow instance by ID, scoped to a client.
func (s *MemoryStore) Get(_ context.Context, clientID, instanceID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[instanceID]
	if !exists || inst.ClientID != clientID {
		return model.WorkflowInstance{}, model.NewUnknownInstanceError(instanceID)
	}
	return cloneInstance(inst), nil
}

// Update persists an updated instance with optimistic locking.
func (s *MemoryStore) Update(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.instances[inst.ID]
	if !exists {
		return model.NewUnknownInstanceError(inst.ID)
	}
	if existing.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d, got %d)",
				inst.ID, inst.Version, existing.Version),
		)
	}

	inst.Version++
	inst.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// AppendHistory adds a transition record to the instance's audit trail.
// UpdateWithHistory commits the instance update and the history record under
// one lock section, so a version conflict leaves the audit trail untouched.
func (s *MemoryStore) UpdateWithHistory(_ context.Context, inst model.WorkflowInstance, rec model.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.instances[inst.ID]
	if !exists {
		return model.NewUnknownInstanceError(inst.ID)
	}
	if existing.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d, got %d)",
				inst.ID, inst.Version, existing.Version),
		)
	}

	inst.Version++
	inst.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = cloneInstance(inst)
	s.history[rec.InstanceID] = append(s.history[rec.InstanceID], rec)
	return nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, rec model.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[rec.InstanceID] = append(s.history[rec.InstanceID], rec)
	return nil
}

// History returns all transition records for an instance in commit order.
func (s *MemoryStore) History(_ context.Context, clientID, instanceID string) ([]model.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[instanceID]
	if !exists || inst.ClientID != clientID {
		return nil, model.NewUnknownInstanceError(instanceID)
	}

	records := s.history[instanceID]
	result := make([]model.HistoryRecord, len(records))
	copy(result, records)
	return result, nil
}

// Find returns instances for a client matching the filters, newest first.
func (s *MemoryStore) Find(_ context.Context, clientID string, filters Filters) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.ClientID != clientID {
			continue
		}
		if filters.DefinitionID != "" && inst.DefinitionID != filters.DefinitionID {
			continue
		}
		if filters.Status != "" && inst.Status != filters.Status {
			continue
		}
		result = append(result, cloneInstance(inst))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.WorkflowInstance{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

// FindExpired returns running instances past their expiration time.
func (s *MemoryStore) FindExpired(_ context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Status != model.WorkflowStatusRunning {
			continue
		}
		if inst.ExpiresAt == nil || !inst.ExpiresAt.Before(cutoff) {
			continue
		}
		result = append(result, cloneInstance(inst))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	return result, nil
}

// Delete removes an instance and its history.
func (s *MemoryStore) Delete(_ context.Context, clientID, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[instanceID]
	if !exists || inst.ClientID != clientID {
		return model.NewUnknownInstanceError(instanceID)
	}
	delete(s.instances, instanceID)
	delete(s.history, instanceID)
	return nil
}

// Len returns the total number of instances. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// cloneInstance copies the instance so callers cannot mutate stored context
// maps behind the store's back.
func cloneInstance(inst model.WorkflowInstance) model.WorkflowInstance {
	if inst.Context != nil {
		cloned := make(map[string]any, len(inst.Context))
		for k, v := range inst.Context {
			cloned[k] = v
		}
		inst.Context = cloned
	}
	return inst
}
