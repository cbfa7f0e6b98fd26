package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stewardhq/steward/internal/workflow"
	"github.com/stewardhq/steward/model"
)

func handleWorkflowStart(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			DefinitionID string         `json:"definition_id"`
			Input        map[string]any `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.DefinitionID == "" {
			WriteError(w, model.NewBadRequestError("definition_id is required"))
			return
		}

		inst, err := engine.Start(r.Context(), rctx, body.DefinitionID, body.Input)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, inst)
	}
}

func handleWorkflowAdvance(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		var body struct {
			Event   string         `json:"event"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Event == "" {
			WriteError(w, model.NewBadRequestError("event is required"))
			return
		}

		inst, err := engine.Advance(r.Context(), rctx, instanceID, body.Event, body.Payload)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleWorkflowGet(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		inst, history, err := engine.Get(r.Context(), rctx, instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"instance": inst,
			"history":  history,
		})
	}
}

func handleWorkflowCancel(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		if err := engine.Cancel(r.Context(), rctx, instanceID, body.Reason); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func handleWorkflowList(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		filters := model.WorkflowFilters{
			DefinitionID: r.URL.Query().Get("definition_id"),
			Status:       r.URL.Query().Get("status"),
			Page:         queryInt(r, "page", 1),
			PageSize:     queryInt(r, "page_size", 20),
		}

		summaries, totalCount, err := engine.List(r.Context(), rctx, filters)
		if err != nil {
			WriteError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        summaries,
			"total_count": totalCount,
			"page":        filters.Page,
			"page_size":   filters.PageSize,
		})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
