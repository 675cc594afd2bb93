package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/canopy-network/spendq/pkg/engine"
	"github.com/canopy-network/spendq/pkg/refresh/activity"
	"github.com/canopy-network/spendq/pkg/refresh/workflow"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AskRequest is the body of POST /tenants/{tenant}/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// Outcome is the body returned when a question did not produce an answer.
type Outcome struct {
	Outcome  string `json:"outcome"`
	Template string `json:"template,omitempty"`
	Slot     string `json:"slot,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HandleAsk resolves and answers one natural-language question.
func (c *Controller) HandleAsk(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := c.App.Engine.Ask(r.Context(), tenant, req.Question)
	if err == nil {
		writeJSON(w, http.StatusOK, answer)
		return
	}

	var incomplete *engine.IncompleteBindingError
	switch {
	case errors.Is(err, engine.ErrUnresolvedQuery):
		writeJSON(w, http.StatusUnprocessableEntity, Outcome{Outcome: "unresolved"})
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusUnprocessableEntity, Outcome{
			Outcome:  "incomplete",
			Template: incomplete.Template,
			Slot:     incomplete.Slot,
			Reason:   string(incomplete.Reason),
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, Outcome{Outcome: "cancelled", Error: err.Error()})
	default:
		// details are already logged by the engine
		writeJSON(w, http.StatusInternalServerError, Outcome{Outcome: "internal", Error: engine.ErrInternal.Error()})
	}
}

// HandleFactsCommitted triggers a tenant rebuild. With Temporal enabled the
// rebuild runs as a durable workflow and the call returns once it is started.
func (c *Controller) HandleFactsCommitted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := mux.Vars(r)["tenant"]

	if c.App.TemporalClient != nil {
		run, err := c.App.TemporalClient.StartRefresh(ctx, workflow.RefreshTenantWorkflowName, tenant,
			activity.RebuildTenantInput{TenantID: tenant, Reason: "http"})
		if err != nil {
			c.App.Logger.Error("Failed to start refresh workflow", zap.String("tenant_id", tenant), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start refresh")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": run.GetID(), "run_id": run.GetRunID()})
		return
	}

	report, err := c.App.Scheduler.FactsCommitted(ctx, tenant)
	if err != nil && (len(report.Tables) == 0 || report.Failed == len(report.Tables)) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleTemplates lists the template catalog.
func (c *Controller) HandleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.App.Catalog.All())
}
