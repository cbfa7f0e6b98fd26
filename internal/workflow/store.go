package workflow

import (
	"context"
	"time"

	"github.com/stewardhq/steward/model"
)

// Store persists workflow instances and their history. Implementations must
// surface UNKNOWN_INSTANCE for missing or foreign-client instances, CONFLICT
// for optimistic-lock version mismatches, and STORAGE_ERROR for
// infrastructure failures.
type Store interface {
	// Create persists a new workflow instance.
	Create(ctx context.Context, instance model.WorkflowInstance) error

	// Get retrieves a workflow instance by ID, scoped to a client.
	Get(ctx context.Context, clientID, instanceID string) (model.WorkflowInstance, error)

	// Update persists an updated instance. The version must match the stored
	// version; the store increments it on success.
	Update(ctx context.Context, instance model.WorkflowInstance) error

	// UpdateWithHistory persists an updated instance and its transition
	// record as one atomic commit: either both land or neither does. The
	// same version rules as Update apply.
	UpdateWithHistory(ctx context.Context, instance model.WorkflowInstance, record model.HistoryRecord) error

	// AppendHistory adds a transition record to the instance's audit trail.
	AppendHistory(ctx context.Context, record model.HistoryRecord) error

	// History returns all transition records for an instance in commit order.
	History(ctx context.Context, clientID, instanceID string) ([]model.HistoryRecord, error)

	// Find returns instances for a client matching the filters, newest first.
	Find(ctx context.Context, clientID string, filters Filters) ([]model.WorkflowInstance, error)

	// FindExpired returns running instances whose expires_at is before cutoff.
	FindExpired(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error)

	// Delete removes an instance and its history.
	Delete(ctx context.Context, clientID, instanceID string) error
}

// Filters are optional filters for listing workflow instances.
type Filters struct {
	DefinitionID string
	Status       string
	Limit        int
	Offset       int
}
