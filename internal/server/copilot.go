package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"plcgate/internal/copilot"
	"plcgate/internal/domain"
	"plcgate/internal/engine"
	"plcgate/internal/engine/auth"
	"plcgate/internal/repo"
)

func registerCopilot(api huma.API, c copilot.Copilot) {
	huma.Register(api, huma.Operation{
		OperationID: "copilot-message",
		Method:      http.MethodPost,
		Path:        "/copilot/message",
		Summary:     "Turn a message into an action plan without executing it",
	}, func(ctx context.Context, input *struct {
		Body CopilotMessageRequest `json:"body"`
	}) (*struct {
		Body copilot.Proposal `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Message) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "message is required", nil)
		}
		p, err := c.Propose(ctx, actor, input.Body.Message, input.Body.Context)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body copilot.Proposal `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "copilot-execute",
		Method:      http.MethodPost,
		Path:        "/copilot/execute",
		Summary:     "Execute a confirmed action plan",
		Description: "Each action runs independently; a failure is reported in its result and later actions still run.",
	}, func(ctx context.Context, input *struct {
		Body CopilotExecuteRequest `json:"body"`
	}) (*struct {
		Body CopilotExecuteResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.RequireMutate(actor); err != nil {
			return nil, handleError(err)
		}
		results := c.Execute(ctx, input.Body.ActionPlan, actor)
		return &struct {
			Body CopilotExecuteResponse `json:"body"`
		}{Body: CopilotExecuteResponse{Results: results}}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Audit log, newest first unless after_id is given",
	}, func(ctx context.Context, input *struct {
		ObjectType string `query:"object_type"`
		ObjectID   string `query:"object_id"`
		ActionType string `query:"action_type"`
		AfterID    int64  `query:"after_id" doc:"Return rows with a larger id in ascending order"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.AuditEvent `json:"body"`
	}, error) {
		if _, authErr := currentUser(ctx); authErr != nil {
			return nil, authErr
		}
		events, err := e.Repo.ListAuditEvents(ctx, repo.AuditFilters{
			ObjectType: input.ObjectType,
			ObjectID:   input.ObjectID,
			ActionType: input.ActionType,
			AfterID:    input.AfterID,
			Ascending:  input.AfterID > 0,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEvent `json:"body"`
		}{Body: events}, nil
	})
}
