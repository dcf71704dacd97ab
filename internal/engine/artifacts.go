package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"plcgate/internal/audit"
	"plcgate/internal/domain"
	"plcgate/internal/engine/auth"
	"plcgate/internal/templates"
)

// ArtifactCreateOptions selects the owning issue or project. IssueKey wins
// when both are set. Content overrides the rendered template.
type ArtifactCreateOptions struct {
	Kind       domain.ArtifactKind
	IssueKey   string
	ProjectKey string
	Title      string
	Content    *string
}

// GenerateArtifact creates a draft artifact. The body is rendered from the
// kind's template only when an issue is attached; a project-level artifact
// starts empty.
func (e Engine) GenerateArtifact(ctx context.Context, actor domain.User, opts ArtifactCreateOptions) (domain.Artifact, error) {
	if err := auth.RequireMutate(actor); err != nil {
		return domain.Artifact{}, err
	}
	kind, err := domain.ParseArtifactKind(string(opts.Kind))
	if err != nil {
		return domain.Artifact{}, err
	}
	a := domain.Artifact{
		Kind:      kind,
		Title:     strings.TrimSpace(opts.Title),
		Status:    domain.ArtifactDraft,
		CreatedBy: actorID(&actor),
		CreatedAt: e.timestamp(),
	}
	if a.Title == "" {
		a.Title = kind.Title()
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		var issue *domain.Issue
		switch {
		case strings.TrimSpace(opts.IssueKey) != "":
			is, err := e.Repo.GetIssueByKey(ctx, tx, opts.IssueKey)
			if err != nil {
				return fmt.Errorf("issue %s: %w", strings.ToUpper(opts.IssueKey), err)
			}
			issue = &is
			a.ProjectID = is.ProjectID
			a.IssueID = &is.ID
		case strings.TrimSpace(opts.ProjectKey) != "":
			p, err := e.Repo.GetProjectByKey(ctx, tx, opts.ProjectKey)
			if err != nil {
				return fmt.Errorf("project %s: %w", strings.ToUpper(opts.ProjectKey), err)
			}
			a.ProjectID = p.ID
		default:
			return fmt.Errorf("issue_key or project_key required: %w", domain.ErrNotFound)
		}
		switch {
		case opts.Content != nil:
			a.Content = *opts.Content
		case issue != nil:
			body, err := templates.Render(kind, *issue)
			if err != nil {
				return err
			}
			a.Content = body
		}
		id, err := e.Repo.InsertArtifact(ctx, tx, a)
		if err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
		a.ID = id
		payload := audit.Payload{"kind": kind}
		if issue != nil {
			payload["issue_key"] = issue.Key
		}
		_, err = e.auditLog().Append(ctx, tx, actorID(&actor), audit.ArtifactGenerated, "artifact", fmt.Sprint(id), payload)
		return err
	})
	if err != nil {
		return domain.Artifact{}, err
	}
	return a, nil
}

// RequestApproval opens a pending approval and moves a draft artifact to
// in_review.
func (e Engine) RequestApproval(ctx context.Context, actor domain.User, artifactID int64) (domain.Approval, error) {
	if err := auth.RequireMutate(actor); err != nil {
		return domain.Approval{}, err
	}
	ap := domain.Approval{
		ArtifactID:  artifactID,
		RequestedBy: actor.ID,
		Status:      domain.ApprovalPending,
		CreatedAt:   e.timestamp(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		a, err := e.Repo.GetArtifact(ctx, tx, artifactID)
		if err != nil {
			return fmt.Errorf("artifact %d: %w", artifactID, err)
		}
		id, err := e.Repo.InsertApproval(ctx, tx, ap)
		if err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
		ap.ID = id
		if a.Status == domain.ArtifactDraft {
			if err := e.Repo.UpdateArtifactStatus(ctx, tx, a.ID, domain.ArtifactInReview); err != nil {
				return err
			}
		}
		_, err = e.auditLog().Append(ctx, tx, actorID(&actor), audit.ApprovalRequested, "approval", fmt.Sprint(id), audit.Payload{"artifact_id": artifactID})
		return err
	})
	if err != nil {
		return domain.Approval{}, err
	}
	return ap, nil
}

// DecideApproval records a terminal decision. Deciding twice returns
// ErrInvalidState. Approving advances the artifact to approved.
func (e Engine) DecideApproval(ctx context.Context, actor domain.User, approvalID int64, approve bool, comment string) (domain.Approval, error) {
	if err := auth.RequireMutate(actor); err != nil {
		return domain.Approval{}, err
	}
	var ap domain.Approval
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		ap, err = e.Repo.GetApproval(ctx, tx, approvalID)
		if err != nil {
			return fmt.Errorf("approval %d: %w", approvalID, err)
		}
		if ap.Status != domain.ApprovalPending {
			return fmt.Errorf("approval %d already %s: %w", approvalID, ap.Status, domain.ErrInvalidState)
		}
		ap.Status = domain.ApprovalRejected
		if approve {
			ap.Status = domain.ApprovalApproved
		}
		now := e.timestamp()
		ap.ApproverID = actorID(&actor)
		ap.Comment = comment
		ap.DecidedAt = &now
		if err := e.Repo.DecideApproval(ctx, tx, ap); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				return fmt.Errorf("approval %d already decided: %w", approvalID, err)
			}
			return err
		}
		if approve {
			if err := e.Repo.UpdateArtifactStatus(ctx, tx, ap.ArtifactID, domain.ArtifactApproved); err != nil {
				return err
			}
		}
		_, err = e.auditLog().Append(ctx, tx, actorID(&actor), audit.ApprovalDecided, "approval", fmt.Sprint(ap.ID), audit.Payload{
			"artifact_id": ap.ArtifactID,
			"status":      ap.Status,
			"comment":     comment,
		})
		return err
	})
	if err != nil {
		return domain.Approval{}, err
	}
	return ap, nil
}
