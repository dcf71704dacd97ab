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

func registerArtifacts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/projects/{key}/artifacts",
		Summary:     "List artifacts in a project",
	}, func(ctx context.Context, input *struct {
		Key    string `path:"key"`
		Kind   string `query:"kind"`
		Status string `query:"status"`
	}) (*struct {
		Body []domain.Artifact `json:"body"`
	}, error) {
		if _, authErr := currentUser(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProjectByKey(ctx, nil, input.Key)
		if err != nil {
			return nil, handleError(fmt.Errorf("project %s: %w", strings.ToUpper(input.Key), err))
		}
		f := repo.ArtifactFilters{ProjectID: p.ID, Status: domain.ArtifactStatus(input.Status)}
		if input.Kind != "" {
			kind, err := domain.ParseArtifactKind(input.Kind)
			if err != nil {
				return nil, handleError(err)
			}
			f.Kind = kind
		}
		items, err := e.Repo.ListArtifacts(ctx, nil, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Artifact `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-artifact",
		Method:      http.MethodPost,
		Path:        "/artifacts",
		Summary:     "Generate an artifact for an issue or project",
	}, func(ctx context.Context, input *struct {
		Body CreateArtifactRequest `json:"body"`
	}) (*struct {
		Body domain.Artifact `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.IssueKey) == "" && strings.TrimSpace(input.Body.ProjectKey) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "issue_key or project_key required", nil)
		}
		a, err := e.GenerateArtifact(ctx, actor, engine.ArtifactCreateOptions{
			Kind:       domain.ArtifactKind(input.Body.Kind),
			IssueKey:   input.Body.IssueKey,
			ProjectKey: input.Body.ProjectKey,
			Title:      input.Body.Title,
			Content:    input.Body.Content,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Artifact `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact",
		Method:      http.MethodGet,
		Path:        "/artifacts/{id}",
		Summary:     "Get artifact",
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Artifact `json:"body"`
	}, error) {
		if _, authErr := currentUser(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetArtifact(ctx, nil, input.ID)
		if err != nil {
			return nil, handleError(fmt.Errorf("artifact %d: %w", input.ID, err))
		}
		return &struct {
			Body domain.Artifact `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/artifacts/{id}/approvals",
		Summary:     "List approvals of an artifact",
	}, func(ctx context.Context, input *struct {
		ID     int64  `path:"id"`
		Status string `query:"status" doc:"pending, approved or rejected"`
	}) (*struct {
		Body []domain.Approval `json:"body"`
	}, error) {
		if _, authErr := currentUser(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListApprovals(ctx, nil, input.ID, domain.ApprovalStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Approval `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-approval",
		Method:      http.MethodPost,
		Path:        "/artifacts/{id}/request-approval",
		Summary:     "Open a pending approval for an artifact",
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Approval `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ap, err := e.RequestApproval(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Approval `json:"body"`
		}{Body: ap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/decide",
		Summary:     "Approve or reject; decisions are final",
	}, func(ctx context.Context, input *struct {
		ID   int64                 `path:"id"`
		Body DecideApprovalRequest `json:"body"`
	}) (*struct {
		Body domain.Approval `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var approve bool
		switch domain.ApprovalStatus(input.Body.Status) {
		case domain.ApprovalApproved:
			approve = true
		case domain.ApprovalRejected:
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status must be approved or rejected", nil)
		}
		ap, err := e.DecideApproval(ctx, actor, input.ID, approve, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Approval `json:"body"`
		}{Body: ap}, nil
	})
}
