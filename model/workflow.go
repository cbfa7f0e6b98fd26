package model

import "time"

// Workflow instance status constants.
const (
	WorkflowStatusRunning   = "running"
	WorkflowStatusCompleted = "completed"
	WorkflowStatusFailed    = "failed"
	WorkflowStatusCancelled = "cancelled"
)

// WorkflowInstance is one running execution of a workflow definition, e.g.
// one employee's onboarding. Mutated only through the engine's Advance; the
// Version field backs optimistic locking in the store.
type WorkflowInstance struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id"`
	ClientID     string         `json:"client_id"`
	CurrentState string         `json:"current_state"`
	Status       string         `json:"status"`
	Context      map[string]any `json:"context,omitempty"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
}

// HistoryRecord is one committed transition in an instance's audit trail.
// Records for a given instance form a total order.
type HistoryRecord struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	FromState  string    `json:"from_state"`
	Event      string    `json:"event"`
	ToState    string    `json:"to_state"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
}

// WorkflowSummary is a lightweight representation of a workflow instance used
// in list views.
type WorkflowSummary struct {
	ID           string    `json:"id"`
	DefinitionID string    `json:"definition_id"`
	Name         string    `json:"name"`
	CurrentState string    `json:"current_state"`
	Status       string    `json:"status"`
	ClientID     string    `json:"client_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WorkflowFilters describes filters for listing workflow instances.
type WorkflowFilters struct {
	DefinitionID string `json:"definition_id,omitempty"`
	Status       string `json:"status,omitempty"`
	Page         int    `json:"page"`
	PageSize     int    `json:"page_size"`
}
