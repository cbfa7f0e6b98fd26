package integration

import (
	"net/http"
	"testing"

	"github.com/stewardhq/steward/model"
)

func startLeaveRequest(t *testing.T, h *TestHarness, token string, days int) model.WorkflowInstance {
	t.Helper()
	resp := h.POST("/v1/workflows", map[string]any{
		"definition_id": "leave-request",
		"input":         map[string]any{"days": days},
	}, token)

	var inst model.WorkflowInstance
	h.AssertJSON(t, resp, http.StatusCreated, &inst)
	return inst
}

func advance(t *testing.T, h *TestHarness, token, instanceID, event string) *http.Response {
	t.Helper()
	return h.POST("/v1/workflows/"+instanceID+"/advance", map[string]any{
		"event": event,
	}, token)
}

func TestWorkflowLifecycle_shortLeaveApproval(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EmployeeClaims())

	inst := startLeaveRequest(t, h, token, 5)
	if inst.CurrentState != "submitted" {
		t.Fatalf("initial state = %q, want submitted", inst.CurrentState)
	}
	if inst.Status != model.WorkflowStatusRunning {
		t.Fatalf("status = %q, want running", inst.Status)
	}

	// 5 days routes to manager review, not HR.
	var updated model.WorkflowInstance
	h.AssertJSON(t, advance(t, h, token, inst.ID, "submit"), http.StatusOK, &updated)
	if updated.CurrentState != "manager_review" {
		t.Fatalf("state after submit = %q, want manager_review", updated.CurrentState)
	}

	h.AssertJSON(t, advance(t, h, token, inst.ID, "approve"), http.StatusOK, &updated)
	if updated.CurrentState != "approved" {
		t.Errorf("state after approve = %q, want approved", updated.CurrentState)
	}
	if updated.Status != model.WorkflowStatusCompleted {
		t.Errorf("final status = %q, want completed", updated.Status)
	}
}

func TestWorkflowLifecycle_longLeaveRoutesToHR(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EmployeeClaims())

	inst := startLeaveRequest(t, h, token, 30)

	// The days > 25 guard sends the request straight to HR review.
	var updated model.WorkflowInstance
	h.AssertJSON(t, advance(t, h, token, inst.ID, "submit"), http.StatusOK, &updated)
	if updated.CurrentState != "hr_review" {
		t.Fatalf("state after submit = %q, want hr_review", updated.CurrentState)
	}

	h.AssertJSON(t, advance(t, h, token, inst.ID, "reject"), http.StatusOK, &updated)
	if updated.CurrentState != "rejected" {
		t.Errorf("state after reject = %q, want rejected", updated.CurrentState)
	}
	if updated.Status != model.WorkflowStatusCompleted {
		t.Errorf("final status = %q, want completed", updated.Status)
	}
}

func TestWorkflowLifecycle_invalidEvent(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EmployeeClaims())

	inst := startLeaveRequest(t, h, token, 5)

	// approve is only valid from a review state.
	resp := advance(t, h, token, inst.ID, "approve")
	h.AssertErrorCode(t, resp, http.StatusUnprocessableEntity, model.ErrInvalidTransition)
}

func TestWorkflowLifecycle_advanceAfterTerminal(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EmployeeClaims())

	inst := startLeaveRequest(t, h, token, 5)
	h.ReadBody(advance(t, h, token, inst.ID, "submit"))
	h.ReadBody(advance(t, h, token, inst.ID, "approve"))

	resp := advance(t, h, token, inst.ID, "approve")
	h.AssertErrorCode(t, resp, http.StatusUnprocessableEntity, model.ErrInvalidTransition)
}

func TestWorkflowLifecycle_cancel(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EmployeeClaims())

	inst := startLeaveRequest(t, h, token, 5)

	resp := h.POST("/v1/workflows/"+inst.ID+"/cancel", map[string]any{
		"reason": "plans changed",
	}, token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	var body struct {
		Instance model.WorkflowInstance `json:"instance"`
	}
	h.AssertJSON(t, h.GET("/v1/workflows/"+inst.ID, token), http.StatusOK, &body)
	if body.Instance.Status != model.WorkflowStatusCancelled {
		t.Errorf("status = %q, want cancelled", body.Instance.Status)
	}
	if body.Instance.Context["cancel_reason"] != "plans changed" {
		t.Errorf("cancel reason = %v", body.Instance.Context["cancel_reason"])
	}

	// A cancelled instance cannot advance.
	resp = advance(t, h, token, inst.ID, "submit")
	h.AssertErrorCode(t, resp, http.StatusUnprocessableEntity, model.ErrInvalidTransition)
}

func TestWorkflowLifecycle_historyIsOrdered(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EmployeeClaims())

	inst := startLeaveRequest(t, h, token, 5)
	h.ReadBody(advance(t, h, token, inst.ID, "submit"))
	h.ReadBody(advance(t, h, token, inst.ID, "approve"))

	var body struct {
		Instance model.WorkflowInstance `json:"instance"`
		History  []model.HistoryRecord  `json:"history"`
	}
	h.AssertJSON(t, h.GET("/v1/workflows/"+inst.ID, token), http.StatusOK, &body)

	events := make([]string, len(body.History))
	for i, rec := range body.History {
		events[i] = rec.Event
	}
	want := []string{"started", "submit", "approve"}
	if len(events) != len(want) {
		t.Fatalf("history events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, events[i], want[i])
		}
	}
	for _, rec := range body.History {
		if rec.Actor != "user-employee" {
			t.Errorf("actor = %q, want user-employee", rec.Actor)
		}
	}
}

func TestWorkflowLifecycle_listAndFilter(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EmployeeClaims())

	first := startLeaveRequest(t, h, token, 5)
	startLeaveRequest(t, h, token, 10)

	h.ReadBody(advance(t, h, token, first.ID, "submit"))
	h.ReadBody(advance(t, h, token, first.ID, "approve"))

	var body struct {
		Data       []model.WorkflowSummary `json:"data"`
		TotalCount int                     `json:"total_count"`
	}
	h.AssertJSON(t, h.GET("/v1/workflows?status=running", token), http.StatusOK, &body)
	if body.TotalCount != 1 {
		t.Errorf("running count = %d, want 1", body.TotalCount)
	}

	h.AssertJSON(t, h.GET("/v1/workflows?status=completed", token), http.StatusOK, &body)
	if body.TotalCount != 1 {
		t.Errorf("completed count = %d, want 1", body.TotalCount)
	}
	if len(body.Data) == 1 && body.Data[0].ID != first.ID {
		t.Errorf("completed instance = %q, want %q", body.Data[0].ID, first.ID)
	}

	h.AssertJSON(t, h.GET("/v1/workflows?definition_id=leave-request", token), http.StatusOK, &body)
	if body.TotalCount != 2 {
		t.Errorf("leave-request count = %d, want 2", body.TotalCount)
	}
	if len(body.Data) > 0 && body.Data[0].Name != "Leave Request" {
		t.Errorf("summary name = %q, want Leave Request", body.Data[0].Name)
	}
}

func TestWorkflowLifecycle_clientIsolation(t *testing.T) {
	h := NewTestHarness(t)
	portalToken := h.GenerateToken(EmployeeClaims())
	backofficeToken := h.GenerateToken(HRClaims())

	inst := startLeaveRequest(t, h, portalToken, 5)

	// Another client cannot see or advance the instance.
	resp := h.GET("/v1/workflows/"+inst.ID, backofficeToken)
	h.AssertErrorCode(t, resp, http.StatusNotFound, model.ErrUnknownInstance)

	resp = advance(t, h, backofficeToken, inst.ID, "submit")
	h.AssertErrorCode(t, resp, http.StatusNotFound, model.ErrUnknownInstance)

	var body struct {
		TotalCount int `json:"total_count"`
	}
	h.AssertJSON(t, h.GET("/v1/workflows", backofficeToken), http.StatusOK, &body)
	if body.TotalCount != 0 {
		t.Errorf("other client sees %d instances, want 0", body.TotalCount)
	}
}

func TestWorkflowLifecycle_unknownDefinition(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EmployeeClaims())

	resp := h.POST("/v1/workflows", map[string]any{
		"definition_id": "no-such-process",
	}, token)
	h.AssertErrorCode(t, resp, http.StatusNotFound, model.ErrNotFound)
}

func TestWorkflowLifecycle_onboardingGuards(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(HRClaims())

	resp := h.POST("/v1/workflows", map[string]any{
		"definition_id": "employee-onboarding",
		"input":         map[string]any{"employee_id": "E-1001"},
	}, token)
	var inst model.WorkflowInstance
	h.AssertJSON(t, resp, http.StatusCreated, &inst)

	// exists(employee_id) guard passes.
	var updated model.WorkflowInstance
	h.AssertJSON(t, advance(t, h, token, inst.ID, "begin"), http.StatusOK, &updated)
	if updated.CurrentState != "paperwork" {
		t.Fatalf("state = %q, want paperwork", updated.CurrentState)
	}

	// contract_signed == true guard fails until the payload supplies it.
	failed := advance(t, h, token, inst.ID, "paperwork_done")
	h.AssertErrorCode(t, failed, http.StatusUnprocessableEntity, model.ErrGuardFailed)

	resp = h.POST("/v1/workflows/"+inst.ID+"/advance", map[string]any{
		"event":   "paperwork_done",
		"payload": map[string]any{"contract_signed": true},
	}, token)
	h.AssertJSON(t, resp, http.StatusOK, &updated)
	if updated.CurrentState != "equipment_setup" {
		t.Errorf("state = %q, want equipment_setup", updated.CurrentState)
	}
}
