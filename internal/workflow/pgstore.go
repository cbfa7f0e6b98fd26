package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stewardhq/steward/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. Infrastructure failures
// surface as STORAGE_ERROR so callers can tell a broken database apart from
// workflow-level rejections.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL workflow store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Create inserts a new workflow instance.
func (s *PgStore) Create(ctx context.Context, inst model.WorkflowInstance) error {
	contextJSON, err := json.Marshal(inst.Context)
	if err != nil {
		return model.NewStorageError(fmt.Sprintf("marshal context: %v", err))
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_instances (
			id, definition_id, client_id,
			current_state, status, context, version,
			created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inst.ID, inst.DefinitionID, inst.ClientID,
		inst.CurrentState, inst.Status, contextJSON, inst.Version,
		inst.CreatedAt, inst.UpdatedAt, inst.ExpiresAt,
	)
	if err != nil {
		return model.NewStorageError(fmt.Sprintf("insert workflow instance: %v", err))
	}
	return nil
}

// Get retrieves a workflow instance by ID, scoped to a client.
func (s *PgStore) Get(ctx context.Context, clientID, instanceID string) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	var contextJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, definition_id, client_id,
		       current_state, status, context, version,
		       created_at, updated_at, expires_at
		FROM workflow_instances
		WHERE id = $1 AND client_id = $2`,
		instanceID, clientID,
	).Scan(
		&inst.ID, &inst.DefinitionID, &inst.ClientID,
		&inst.CurrentState, &inst.Status, &contextJSON, &inst.Version,
		&inst.CreatedAt, &inst.UpdatedAt, &inst.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowInstance{}, model.NewUnknownInstanceError(instanceID)
	}
	if err != nil {
		return model.WorkflowInstance{}, model.NewStorageError(
			fmt.Sprintf("query workflow instance: %v", err),
		)
	}

	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &inst.Context); err != nil {
			return model.WorkflowInstance{}, model.NewStorageError(
				fmt.Sprintf("unmarshal context: %v", err),
			)
		}
	}
	return inst, nil
}

// Update persists an updated instance with optimistic locking.
func (s *PgStore) Update(ctx context.Context, inst model.WorkflowInstance) error {
	contextJSON, err := json.Marshal(inst.Context)
	if err != nil {
		return model.NewStorageError(fmt.Sprintf("marshal context: %v", err))
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances SET
			current_state = $1,
			status = $2,
			context = $3,
			version = $4,
			updated_at = $5,
			expires_at = $6
		WHERE id = $7 AND version = $8`,
		inst.CurrentState, inst.Status, contextJSON, inst.Version+1,
		time.Now().UTC(), inst.ExpiresAt,
		inst.ID, inst.Version,
	)
	if err != nil {
		return model.NewStorageError(fmt.Sprintf("update workflow instance: %v", err))
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}
	return nil
}

// AppendHistory adds a transition record to the instance's audit trail.
// UpdateWithHistory commits the instance update and the history record in one
// transaction, so a failure on either statement rolls back both.
func (s *PgStore) UpdateWithHistory(ctx context.Context, inst model.WorkflowInstance, rec model.HistoryRecord) error {
	contextJSON, err := json.Marshal(inst.Context)
	if err != nil {
		return model.NewStorageError(fmt.Sprintf("marshal context: %v", err))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.NewStorageError(fmt.Sprintf("begin transition commit: %v", err))
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE workflow_instances SET
			current_state = $1,
			status = $2,
			context = $3,
			version = $4,
			updated_at = $5,
			expires_at = $6
		WHERE id = $7 AND version = $8`,
		inst.CurrentState, inst.Status, contextJSON, inst.Version+1,
		time.Now().UTC(), inst.ExpiresAt,
		inst.ID, inst.Version,
	)
	if err != nil {
		return model.NewStorageError(fmt.Sprintf("update workflow instance: %v", err))
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO workflow_history (
			id, instance_id, from_state, event, to_state, actor, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.InstanceID, rec.FromState, rec.Event, rec.ToState,
		rec.Actor, rec.Timestamp,
	); err != nil {
		return model.NewStorageError(fmt.Sprintf("insert history record: %v", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return model.NewStorageError(fmt.Sprintf("commit transition: %v", err))
	}
	return nil
}

func (s *PgStore) AppendHistory(ctx context.Context, rec model.HistoryRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_history (
			id, instance_id, from_state, event, to_state, actor, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.InstanceID, rec.FromState, rec.Event, rec.ToState,
		rec.Actor, rec.Timestamp,
	)
	if err != nil {
		return model.NewStorageError(fmt.Sprintf("insert history record: %v", err))
	}
	return nil
}

// History returns all transition records for an instance in commit order.
func (s *PgStore) History(ctx context.Context, clientID, instanceID string) ([]model.HistoryRecord, error) {
	if _, err := s.Get(ctx, clientID, instanceID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, from_state, event, to_state, actor, created_at
		FROM workflow_history
		WHERE instance_id = $1
		ORDER BY created_at ASC, id ASC`,
		instanceID,
	)
	if err != nil {
		return nil, model.NewStorageError(fmt.Sprintf("query history: %v", err))
	}
	defer rows.Close()

	var records []model.HistoryRecord
	for rows.Next() {
		var rec model.HistoryRecord
		if err := rows.Scan(
			&rec.ID, &rec.InstanceID, &rec.FromState, &rec.Event, &rec.ToState,
			&rec.Actor, &rec.Timestamp,
		); err != nil {
			return nil, model.NewStorageError(fmt.Sprintf("scan history record: %v", err))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError(fmt.Sprintf("iterate history: %v", err))
	}
	return records, nil
}

// Find returns instances for a client matching the filters, newest first.
func (s *PgStore) Find(ctx context.Context, clientID string, filters Filters) ([]model.WorkflowInstance, error) {
	query := `SELECT id, definition_id, client_id,
	                 current_state, status, context, version,
	                 created_at, updated_at, expires_at
	          FROM workflow_instances
	          WHERE client_id = $1`
	args := []any{clientID}
	argIdx := 2

	if filters.DefinitionID != "" {
		query += fmt.Sprintf(" AND definition_id = $%d", argIdx)
		args = append(args, filters.DefinitionID)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id ASC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	return s.queryInstances(ctx, query, args...)
}

// FindExpired returns running instances past their expiration time.
func (s *PgStore) FindExpired(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	query := `SELECT id, definition_id, client_id,
	                 current_state, status, context, version,
	                 created_at, updated_at, expires_at
	          FROM workflow_instances
	          WHERE status = 'running' AND expires_at IS NOT NULL AND expires_at < $1
	          ORDER BY expires_at ASC`
	return s.queryInstances(ctx, query, cutoff)
}

// Delete removes an instance and its history.
func (s *PgStore) Delete(ctx context.Context, clientID, instanceID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM workflow_history
		WHERE instance_id = $1
		AND instance_id IN (SELECT id FROM workflow_instances WHERE client_id = $2)`,
		instanceID, clientID,
	)
	if err != nil {
		return model.NewStorageError(fmt.Sprintf("delete history: %v", err))
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM workflow_instances
		WHERE id = $1 AND client_id = $2`,
		instanceID, clientID,
	)
	if err != nil {
		return model.NewStorageError(fmt.Sprintf("delete workflow instance: %v", err))
	}
	if tag.RowsAffected() == 0 {
		return model.NewUnknownInstanceError(instanceID)
	}
	return nil
}

// HealthCheck verifies database connectivity.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) queryInstances(ctx context.Context, query string, args ...any) ([]model.WorkflowInstance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError(fmt.Sprintf("query workflow instances: %v", err))
	}
	defer rows.Close()

	var instances []model.WorkflowInstance
	for rows.Next() {
		var inst model.WorkflowInstance
		var contextJSON []byte
		if err := rows.Scan(
			&inst.ID, &inst.DefinitionID, &inst.ClientID,
			&inst.CurrentState, &inst.Status, &contextJSON, &inst.Version,
			&inst.CreatedAt, &inst.UpdatedAt, &inst.ExpiresAt,
		); err != nil {
			return nil, model.NewStorageError(fmt.Sprintf("scan workflow instance: %v", err))
		}
		if contextJSON != nil {
			_ = json.Unmarshal(contextJSON, &inst.Context)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError(fmt.Sprintf("iterate workflow instances: %v", err))
	}
	return instances, nil
}
