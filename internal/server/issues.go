package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"plcgate/internal/domain"
	"plcgate/internal/engine"
	"plcgate/internal/repo"
)

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		if _, authErr := currentUser(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-project",
		Method:      http.MethodPost,
		Path:        "/projects",
		Summary:     "Create project",
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, &actor, input.Body.Name, input.Body.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{key}",
		Summary:     "Get project by key",
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if _, authErr := currentUser(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProjectByKey(ctx, nil, input.Key)
		if err != nil {
			return nil, handleError(fmt.Errorf("project %s: %w", strings.ToUpper(input.Key), err))
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/projects/{key}/issues",
		Summary:     "List issues in a project",
	}, func(ctx context.Context, input *struct {
		Key        string `path:"key"`
		Stage      string `query:"stage" doc:"PLC stage, case-insensitive"`
		Status     string `query:"status"`
		Type       string `query:"type"`
		AssigneeID int64  `query:"assignee_id"`
		Q          string `query:"q" doc:"Free text over summary and description"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Issue `json:"body"`
	}, error) {
		if _, authErr := currentUser(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProjectByKey(ctx, nil, input.Key)
		if err != nil {
			return nil, handleError(fmt.Errorf("project %s: %w", strings.ToUpper(input.Key), err))
		}
		f := repo.IssueFilters{ProjectID: p.ID, Query: input.Q, Limit: normalizeLimit(input.Limit)}
		if input.Stage != "" {
			st, ok := domain.ParseStage(input.Stage)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid stage %q", input.Stage), nil)
			}
			f.Stage = st
		}
		if input.Status != "" {
			s, err := domain.ParseIssueStatus(input.Status)
			if err != nil {
				return nil, handleError(err)
			}
			f.Status = s
		}
		if input.Type != "" {
			t, err := domain.ParseIssueType(input.Type)
			if err != nil {
				return nil, handleError(err)
			}
			f.Type = t
		}
		if input.AssigneeID != 0 {
			id := input.AssigneeID
			f.AssigneeID = &id
		}
		items, err := e.Repo.ListIssues(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Issue `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-issue",
		Method:      http.MethodPost,
		Path:        "/projects/{key}/issues",
		Summary:     "Create issue; the key is allocated as PROJECT-N",
	}, func(ctx context.Context, input *struct {
		Key  string             `path:"key"`
		Body CreateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.CreateIssue(ctx, actor, engine.IssueCreateOptions{
			ProjectKey:        input.Key,
			Type:              domain.IssueType(input.Body.Type),
			Summary:           input.Body.Summary,
			Description:       input.Body.Description,
			Priority:          domain.Priority(input.Body.Priority),
			RegulatoryImpact:  domain.RegulatoryLevel(input.Body.RegulatoryImpact),
			AssigneeID:        input.Body.AssigneeID,
			StageExitCriteria: input.Body.StageExitCriteria,
			EvidenceLinks:     input.Body.EvidenceLinks,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{key}",
		Summary:     "Get issue by key",
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		if _, authErr := currentUser(ctx); authErr != nil {
			return nil, authErr
		}
		is, err := e.Repo.GetIssueByKey(ctx, nil, input.Key)
		if err != nil {
			return nil, handleError(fmt.Errorf("issue %s: %w", strings.ToUpper(input.Key), err))
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{key}",
		Summary:     "Update issue fields",
	}, func(ctx context.Context, input *struct {
		Key  string             `path:"key"`
		Body UpdateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		patch, err := issuePatch(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		if raw, ok := rawBodyMap(ctx)["assignee_id"]; ok && isNullRaw(raw) {
			patch.ClearAssignee = true
		}
		is, err := e.UpdateIssue(ctx, actor, input.Key, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{key}/assign",
		Summary:     "Assign or unassign an issue",
	}, func(ctx context.Context, input *struct {
		Key  string             `path:"key"`
		Body AssignIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.AssignIssue(ctx, actor, input.Key, input.Body.AssigneeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{key}/transition",
		Summary:     "Move an issue to another PLC stage",
		Description: "A stage gate block is reported with blocked=true and the missing requirements, not as an error status.",
	}, func(ctx context.Context, input *struct {
		Key  string            `path:"key"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.TransitionIssue(ctx, actor, input.Key, input.Body.TargetStage, input.Body.OverrideReason)
		if err != nil {
			return nil, handleError(err)
		}
		out := TransitionResponse{From: res.From}
		if res.Decision.Allowed {
			out.OK = true
			out.Issue = &res.Issue
		} else {
			out.Blocked = true
			out.Message = "Stage gate not satisfied"
			out.MissingRequirements = res.Decision.Missing
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-gate",
		Method:      http.MethodGet,
		Path:        "/issues/{key}/gate",
		Summary:     "Evaluate a stage gate without moving the issue",
	}, func(ctx context.Context, input *struct {
		Key            string `path:"key"`
		Target         string `query:"target" required:"true"`
		OverrideReason string `query:"override_reason"`
	}) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, d, err := e.CheckGate(ctx, actor, input.Key, input.Target, input.OverrideReason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: GateResponse{
			IssueKey:            is.Key,
			CurrentStage:        is.PLCStage,
			TargetStage:         input.Target,
			Allowed:             d.Allowed,
			MissingRequirements: d.Missing,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-audit",
		Method:      http.MethodGet,
		Path:        "/issues/{key}/audit",
		Summary:     "Audit trail of an issue, newest first",
	}, func(ctx context.Context, input *struct {
		Key   string `path:"key"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body []domain.AuditEvent `json:"body"`
	}, error) {
		if _, authErr := currentUser(ctx); authErr != nil {
			return nil, authErr
		}
		is, err := e.Repo.GetIssueByKey(ctx, nil, input.Key)
		if err != nil {
			return nil, handleError(fmt.Errorf("issue %s: %w", strings.ToUpper(input.Key), err))
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 100
		}
		events, err := e.Repo.ListAuditEvents(ctx, repo.AuditFilters{
			ObjectType: "issue",
			ObjectID:   is.Key,
			Limit:      normalizeLimit(limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEvent `json:"body"`
		}{Body: events}, nil
	})
}

func issuePatch(in UpdateIssueRequest) (engine.IssuePatch, error) {
	patch := engine.IssuePatch{
		Summary:           in.Summary,
		Description:       in.Description,
		AssigneeID:        in.AssigneeID,
		StageExitCriteria: in.StageExitCriteria,
		EvidenceLinks:     in.EvidenceLinks,
	}
	if in.Type != nil {
		t, err := domain.ParseIssueType(*in.Type)
		if err != nil {
			return patch, err
		}
		patch.Type = &t
	}
	if in.Status != nil {
		s, err := domain.ParseIssueStatus(*in.Status)
		if err != nil {
			return patch, err
		}
		patch.Status = &s
	}
	if in.Priority != nil {
		p, err := domain.ParsePriority(*in.Priority)
		if err != nil {
			return patch, err
		}
		patch.Priority = &p
	}
	if in.RegulatoryImpact != nil {
		l, err := domain.ParseRegulatoryLevel(*in.RegulatoryImpact)
		if err != nil {
			return patch, err
		}
		patch.RegulatoryImpact = &l
	}
	return patch, nil
}
