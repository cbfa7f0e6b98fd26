// Package workflow runs declarative state machines over persisted instances.
// Definitions are data: named states, event-triggered transitions with guard
// expressions, and terminal states. The engine serializes concurrent advances
// per instance and commits each step atomically or not at all.
package workflow

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/model"
)

// DefinitionSource resolves workflow definitions by ID. Backed by the
// definition registry.
type DefinitionSource interface {
	Workflow(id string) (model.WorkflowDefinition, bool)
}

// AgentSource resolves agents bound to workflow states.
type AgentSource interface {
	Agent(name string) (model.Agent, bool)
}

// Recorder receives transition outcomes for metrics. Implementations must
// not block.
type Recorder interface {
	RecordWorkflowTransition(definitionID, event, outcome string)
}

// Engine manages the lifecycle of workflow instances.
type Engine struct {
	definitions DefinitionSource
	store       Store
	agents      AgentSource
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time

	// locks serializes advances per instance. Striped so the set of held
	// mutexes stays bounded regardless of instance count; two instances
	// sharing a stripe contend but never deadlock.
	locks [256]sync.Mutex
}

// Options configures an Engine.
type Options struct {
	Definitions DefinitionSource
	Store       Store
	Agents      AgentSource
	Recorder    Recorder
	Logger      *zap.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		definitions: opts.Definitions,
		store:       opts.Store,
		agents:      opts.Agents,
		recorder:    opts.Recorder,
		logger:      logger,
		now:         time.Now,
	}
}

func (e *Engine) lockFor(instanceID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(instanceID))
	return &e.locks[h.Sum32()%uint32(len(e.locks))]
}

// Start creates a new instance of the given definition in its initial state.
func (e *Engine) Start(
	ctx context.Context,
	rctx *model.RequestContext,
	definitionID string,
	input map[string]any,
) (model.WorkflowInstance, error) {
	def, ok := e.definitions.Workflow(definitionID)
	if !ok {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow definition %q not found", definitionID),
		)
	}

	now := e.now().UTC()
	var expiresAt *time.Time
	if def.Timeout != "" {
		if dur, err := time.ParseDuration(def.Timeout); err == nil {
			exp := now.Add(dur)
			expiresAt = &exp
		}
	}

	instanceCtx := make(map[string]any, len(input))
	for k, v := range input {
		instanceCtx[k] = v
	}

	inst := model.WorkflowInstance{
		ID:           uuid.New().String(),
		DefinitionID: definitionID,
		ClientID:     rctx.ClientID,
		CurrentState: def.InitialState,
		Status:       model.WorkflowStatusRunning,
		Context:      instanceCtx,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    expiresAt,
	}

	if err := e.store.Create(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	if err := e.appendHistory(ctx, inst.ID, "", "started", def.InitialState, rctx.SubjectID); err != nil {
		return model.WorkflowInstance{}, err
	}

	e.logger.Info("workflow started",
		zap.String("instance_id", inst.ID),
		zap.String("definition_id", definitionID),
		zap.String("client_id", rctx.ClientID),
	)
	return inst, nil
}

// Advance applies an event to the instance's current state. Candidate
// transitions are evaluated in declaration order against the instance
// context merged with the event payload; the first whose guard passes wins.
// The step commits atomically: on any failure — unknown event, failed
// guards, failed agent invocation, storage error — the instance is left
// exactly as it was. Advances on the same instance are serialized, so
// concurrent callers observe a total order and a repeated event fails with
// INVALID_TRANSITION rather than double-applying.
func (e *Engine) Advance(
	ctx context.Context,
	rctx *model.RequestContext,
	instanceID string,
	event string,
	payload map[string]any,
) (model.WorkflowInstance, error) {
	mu := e.lockFor(instanceID)
	mu.Lock()
	defer mu.Unlock()

	inst, err := e.store.Get(ctx, rctx.ClientID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	if inst.Status != model.WorkflowStatusRunning {
		e.record(inst.DefinitionID, event, "invalid")
		return model.WorkflowInstance{}, model.NewInvalidTransitionError(
			fmt.Sprintf("workflow instance %q is %s, not running", instanceID, inst.Status),
		)
	}

	def, ok := e.definitions.Workflow(inst.DefinitionID)
	if !ok {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow definition %q not found", inst.DefinitionID),
		)
	}

	// Guards see the stored context with the event payload layered on top.
	merged := make(map[string]any, len(inst.Context)+len(payload))
	for k, v := range inst.Context {
		merged[k] = v
	}
	for k, v := range payload {
		merged[k] = v
	}

	transition, err := e.selectTransition(def, inst.CurrentState, event, merged)
	if err != nil {
		e.record(inst.DefinitionID, event, errOutcome(err))
		return model.WorkflowInstance{}, err
	}

	// Run the agent bound to the target state, if any, before committing.
	// A failed invocation aborts the whole step.
	additions, err := e.runStateAgent(ctx, def, transition.To, merged)
	if err != nil {
		e.record(inst.DefinitionID, event, "agent_failed")
		e.logger.Warn("agent step failed, transition aborted",
			zap.String("instance_id", instanceID),
			zap.String("event", event),
			zap.String("to_state", transition.To),
			zap.Error(err),
		)
		return model.WorkflowInstance{}, err
	}
	for k, v := range additions {
		merged[k] = v
	}

	fromState := inst.CurrentState
	inst.Context = merged
	inst.CurrentState = transition.To
	inst.UpdatedAt = e.now().UTC()
	if def.IsTerminal(transition.To) {
		inst.Status = model.WorkflowStatusCompleted
	}

	rec := e.newHistoryRecord(inst.ID, fromState, event, transition.To, rctx.SubjectID)
	if err := e.store.UpdateWithHistory(ctx, inst, rec); err != nil {
		return model.WorkflowInstance{}, err
	}
	inst.Version++

	e.record(inst.DefinitionID, event, "committed")
	return inst, nil
}

// selectTransition picks the first declared transition matching (from, event)
// whose guard passes. No match on the event at all is INVALID_TRANSITION; a
// match whose guards all reject is GUARD_FAILED.
func (e *Engine) selectTransition(
	def model.WorkflowDefinition,
	from, event string,
	ctx map[string]any,
) (model.TransitionDefinition, error) {
	matched := false
	for _, t := range def.Transitions {
		if t.From != from || t.Event != event {
			continue
		}
		matched = true

		guard, err := ParseGuard(t.Guard)
		if err != nil {
			// The validator rejects unparseable guards at load time; hitting
			// one here means the definition changed underneath us.
			e.logger.Error("skipping transition with unparseable guard",
				zap.String("definition_id", def.ID),
				zap.String("from", t.From),
				zap.String("event", t.Event),
				zap.Error(err),
			)
			continue
		}
		if guard.Eval(ctx) {
			return t, nil
		}
	}

	if matched {
		return model.TransitionDefinition{}, model.NewGuardFailedError(
			fmt.Sprintf("no guard passed for event %q in state %q", event, from),
		)
	}
	return model.TransitionDefinition{}, model.NewInvalidTransitionError(
		fmt.Sprintf("no transition from state %q with event %q", from, event),
	)
}

// runStateAgent invokes the agent bound to the target state, if any, and
// returns the context additions from its result.
func (e *Engine) runStateAgent(
	ctx context.Context,
	def model.WorkflowDefinition,
	stateID string,
	instanceCtx map[string]any,
) (map[string]any, error) {
	var state *model.StateDefinition
	for i := range def.States {
		if def.States[i].ID == stateID {
			state = &def.States[i]
			break
		}
	}
	if state == nil || state.Agent == "" {
		return nil, nil
	}
	if e.agents == nil {
		return nil, model.NewInternalError()
	}

	agent, ok := e.agents.Agent(state.Agent)
	if !ok {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("agent %q bound to state %q not registered", state.Agent, stateID),
		)
	}

	result, err := agent.Execute(ctx, state.Intent, instanceCtx)
	if err != nil {
		return nil, err
	}

	additions := make(map[string]any, len(result.Data)+1)
	for k, v := range result.Data {
		additions[k] = v
	}
	if result.Text != "" {
		additions[stateID+"_message"] = result.Text
	}
	return additions, nil
}

// Cancel cancels a running workflow instance.
func (e *Engine) Cancel(
	ctx context.Context,
	rctx *model.RequestContext,
	instanceID string,
	reason string,
) error {
	mu := e.lockFor(instanceID)
	mu.Lock()
	defer mu.Unlock()

	inst, err := e.store.Get(ctx, rctx.ClientID, instanceID)
	if err != nil {
		return err
	}
	if inst.Status != model.WorkflowStatusRunning {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("workflow instance %q is %s, cannot cancel", instanceID, inst.Status),
		)
	}

	inst.Status = model.WorkflowStatusCancelled
	if reason != "" {
		inst.Context["cancel_reason"] = reason
	}
	inst.UpdatedAt = e.now().UTC()

	rec := e.newHistoryRecord(inst.ID, inst.CurrentState, "cancelled", inst.CurrentState, rctx.SubjectID)
	return e.store.UpdateWithHistory(ctx, inst, rec)
}

// Get returns an instance and its transition history.
func (e *Engine) Get(
	ctx context.Context,
	rctx *model.RequestContext,
	instanceID string,
) (model.WorkflowInstance, []model.HistoryRecord, error) {
	inst, err := e.store.Get(ctx, rctx.ClientID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, nil, err
	}
	history, err := e.store.History(ctx, rctx.ClientID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, nil, err
	}
	return inst, history, nil
}

// List returns workflow summaries for the calling client.
func (e *Engine) List(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.WorkflowFilters,
) ([]model.WorkflowSummary, int, error) {
	storeFilters := Filters{
		DefinitionID: filters.DefinitionID,
		Status:       filters.Status,
		Limit:        filters.PageSize,
		Offset:       (filters.Page - 1) * filters.PageSize,
	}
	if storeFilters.Limit <= 0 {
		storeFilters.Limit = 20
	}
	if storeFilters.Offset < 0 {
		storeFilters.Offset = 0
	}

	instances, err := e.store.Find(ctx, rctx.ClientID, storeFilters)
	if err != nil {
		return nil, 0, err
	}

	all, err := e.store.Find(ctx, rctx.ClientID, Filters{
		DefinitionID: filters.DefinitionID,
		Status:       filters.Status,
	})
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]model.WorkflowSummary, 0, len(instances))
	for _, inst := range instances {
		name := inst.DefinitionID
		if def, ok := e.definitions.Workflow(inst.DefinitionID); ok {
			name = def.Name
		}
		summaries = append(summaries, model.WorkflowSummary{
			ID:           inst.ID,
			DefinitionID: inst.DefinitionID,
			Name:         name,
			CurrentState: inst.CurrentState,
			Status:       inst.Status,
			ClientID:     inst.ClientID,
			CreatedAt:    inst.CreatedAt,
			UpdatedAt:    inst.UpdatedAt,
		})
	}
	return summaries, len(all), nil
}

// ProcessTimeouts fails running instances past their expiration. Returns the
// number of instances it timed out.
func (e *Engine) ProcessTimeouts(ctx context.Context) (int, error) {
	expired, err := e.store.FindExpired(ctx, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("find expired workflows: %w", err)
	}

	processed := 0
	for _, inst := range expired {
		if err := e.timeoutInstance(ctx, inst); err != nil {
			e.logger.Warn("failed to time out workflow instance",
				zap.String("instance_id", inst.ID),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	return processed, nil
}

func (e *Engine) timeoutInstance(ctx context.Context, stale model.WorkflowInstance) error {
	mu := e.lockFor(stale.ID)
	mu.Lock()
	defer mu.Unlock()

	// Reload under the lock; the instance may have advanced or completed
	// since the sweep query ran.
	inst, err := e.store.Get(ctx, stale.ClientID, stale.ID)
	if err != nil {
		return err
	}
	if inst.Status != model.WorkflowStatusRunning {
		return nil
	}
	if inst.ExpiresAt == nil || !inst.ExpiresAt.Before(e.now().UTC()) {
		return nil
	}

	inst.Status = model.WorkflowStatusFailed
	inst.UpdatedAt = e.now().UTC()
	rec := e.newHistoryRecord(inst.ID, inst.CurrentState, "timeout", inst.CurrentState, "system")
	return e.store.UpdateWithHistory(ctx, inst, rec)
}

func (e *Engine) appendHistory(ctx context.Context, instanceID, from, event, to, actor string) error {
	return e.store.AppendHistory(ctx, e.newHistoryRecord(instanceID, from, event, to, actor))
}

func (e *Engine) newHistoryRecord(instanceID, from, event, to, actor string) model.HistoryRecord {
	return model.HistoryRecord{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		FromState:  from,
		Event:      event,
		ToState:    to,
		Actor:      actor,
		Timestamp:  e.now().UTC(),
	}
}

func (e *Engine) record(definitionID, event, outcome string) {
	if e.recorder != nil {
		e.recorder.RecordWorkflowTransition(definitionID, event, outcome)
	}
}

func errOutcome(err error) string {
	if model.IsCode(err, model.ErrGuardFailed) {
		return "guard_failed"
	}
	return "invalid"
}
