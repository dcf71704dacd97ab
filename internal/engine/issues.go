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
	"plcgate/internal/gate"
	"plcgate/internal/metrics"
	"plcgate/internal/repo"
)

// IssueCreateOptions are parameters for creating an issue. Zero values take
// the defaults: Task, open, P2, low regulatory impact, Introduction.
type IssueCreateOptions struct {
	ProjectKey        string
	Type              domain.IssueType
	Summary           string
	Description       string
	Priority          domain.Priority
	RegulatoryImpact  domain.RegulatoryLevel
	AssigneeID        *int64
	StageExitCriteria []domain.ExitCriterion
	EvidenceLinks     []domain.EvidenceLink
}

// CreateIssue allocates the next PROJECT-N key and inserts the issue. The
// count and the insert share a write transaction and issues.key is UNIQUE,
// so a racing creator fails with ErrConflict instead of reusing a key.
func (e Engine) CreateIssue(ctx context.Context, actor domain.User, opts IssueCreateOptions) (domain.Issue, error) {
	if err := auth.RequireMutate(actor); err != nil {
		return domain.Issue{}, err
	}
	if opts.Type == "" {
		opts.Type = domain.IssueTask
	}
	typ, err := domain.ParseIssueType(string(opts.Type))
	if err != nil {
		return domain.Issue{}, err
	}
	opts.Type = typ
	if opts.Priority == "" {
		opts.Priority = domain.PriorityP2
	}
	if opts.Priority, err = domain.ParsePriority(string(opts.Priority)); err != nil {
		return domain.Issue{}, err
	}
	if opts.RegulatoryImpact == "" {
		opts.RegulatoryImpact = domain.RegulatoryLow
	}
	if opts.RegulatoryImpact, err = domain.ParseRegulatoryLevel(string(opts.RegulatoryImpact)); err != nil {
		return domain.Issue{}, err
	}
	summary := strings.TrimSpace(opts.Summary)
	if summary == "" {
		return domain.Issue{}, errors.New("summary is required")
	}
	now := e.timestamp()
	is := domain.Issue{
		Type:              opts.Type,
		Summary:           summary,
		Description:       opts.Description,
		Status:            domain.StatusOpen,
		PLCStage:          domain.StageIntroduction,
		AssigneeID:        opts.AssigneeID,
		ReporterID:        actorID(&actor),
		Priority:          opts.Priority,
		RegulatoryImpact:  opts.RegulatoryImpact,
		StageExitCriteria: nonNilCriteria(opts.StageExitCriteria),
		EvidenceLinks:     nonNilLinks(opts.EvidenceLinks),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectByKey(ctx, tx, opts.ProjectKey)
		if err != nil {
			return fmt.Errorf("project %s: %w", strings.ToUpper(opts.ProjectKey), err)
		}
		n, err := e.Repo.CountIssuesInProject(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		is.ProjectID = p.ID
		is.Key = fmt.Sprintf("%s-%d", p.Key, n+1)
		id, err := e.Repo.InsertIssue(ctx, tx, is)
		if err != nil {
			if repo.IsUniqueViolation(err) {
				return fmt.Errorf("issue key %s already allocated: %w", is.Key, domain.ErrConflict)
			}
			return fmt.Errorf("insert issue: %w", err)
		}
		is.ID = id
		_, err = e.auditLog().Append(ctx, tx, actorID(&actor), audit.IssueCreated, "issue", is.Key, audit.Payload{
			"summary": is.Summary,
			"type":    is.Type,
		})
		return err
	})
	if err != nil {
		return domain.Issue{}, err
	}
	return is, nil
}

// IssuePatch lists the fields an update may change. Nil means unchanged;
// ClearAssignee removes the assignee.
type IssuePatch struct {
	Type              *domain.IssueType
	Summary           *string
	Description       *string
	Status            *domain.IssueStatus
	Priority          *domain.Priority
	RegulatoryImpact  *domain.RegulatoryLevel
	AssigneeID        *int64
	ClearAssignee     bool
	StageExitCriteria *[]domain.ExitCriterion
	EvidenceLinks     *[]domain.EvidenceLink
}

// apply copies the set fields onto is and returns their previous and new
// values for the audit payload.
func (p IssuePatch) apply(is *domain.Issue) (before, after audit.Payload, err error) {
	before, after = audit.Payload{}, audit.Payload{}
	if p.Type != nil {
		t, err := domain.ParseIssueType(string(*p.Type))
		if err != nil {
			return nil, nil, err
		}
		before["type"], after["type"] = is.Type, t
		is.Type = t
	}
	if p.Summary != nil {
		s := strings.TrimSpace(*p.Summary)
		if s == "" {
			return nil, nil, errors.New("summary cannot be empty")
		}
		before["summary"], after["summary"] = is.Summary, s
		is.Summary = s
	}
	if p.Description != nil {
		before["description"], after["description"] = is.Description, *p.Description
		is.Description = *p.Description
	}
	if p.Status != nil {
		st, err := domain.ParseIssueStatus(string(*p.Status))
		if err != nil {
			return nil, nil, err
		}
		before["status"], after["status"] = is.Status, st
		is.Status = st
	}
	if p.Priority != nil {
		pr, err := domain.ParsePriority(string(*p.Priority))
		if err != nil {
			return nil, nil, err
		}
		before["priority"], after["priority"] = is.Priority, pr
		is.Priority = pr
	}
	if p.RegulatoryImpact != nil {
		lvl, err := domain.ParseRegulatoryLevel(string(*p.RegulatoryImpact))
		if err != nil {
			return nil, nil, err
		}
		before["regulatory_impact"], after["regulatory_impact"] = is.RegulatoryImpact, lvl
		is.RegulatoryImpact = lvl
	}
	if p.ClearAssignee || p.AssigneeID != nil {
		var prev any
		if is.AssigneeID != nil {
			prev = *is.AssigneeID
		}
		before["assignee_id"] = prev
		if p.ClearAssignee {
			is.AssigneeID = nil
			after["assignee_id"] = nil
		} else {
			id := *p.AssigneeID
			is.AssigneeID = &id
			after["assignee_id"] = id
		}
	}
	if p.StageExitCriteria != nil {
		before["stage_exit_criteria"] = is.StageExitCriteria
		is.StageExitCriteria = nonNilCriteria(*p.StageExitCriteria)
		after["stage_exit_criteria"] = is.StageExitCriteria
	}
	if p.EvidenceLinks != nil {
		before["evidence_links"] = is.EvidenceLinks
		is.EvidenceLinks = nonNilLinks(*p.EvidenceLinks)
		after["evidence_links"] = is.EvidenceLinks
	}
	return before, after, nil
}

// UpdateIssue applies patch to the issue with key. The stage is not part of
// the patch; use TransitionIssue.
func (e Engine) UpdateIssue(ctx context.Context, actor domain.User, key string, patch IssuePatch) (domain.Issue, error) {
	if err := auth.RequireMutate(actor); err != nil {
		return domain.Issue{}, err
	}
	var is domain.Issue
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		is, err = e.Repo.GetIssueByKey(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("issue %s: %w", strings.ToUpper(key), err)
		}
		before, after, err := patch.apply(&is)
		if err != nil {
			return err
		}
		if patch.AssigneeID != nil && !patch.ClearAssignee {
			if _, err := e.Repo.GetUser(ctx, tx, *patch.AssigneeID); err != nil {
				return fmt.Errorf("assignee %d: %w", *patch.AssigneeID, err)
			}
		}
		is.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateIssue(ctx, tx, is); err != nil {
			return err
		}
		_, err = e.auditLog().Append(ctx, tx, actorID(&actor), audit.IssueUpdated, "issue", is.Key, audit.Payload{
			"before": before,
			"after":  after,
		})
		return err
	})
	if err != nil {
		return domain.Issue{}, err
	}
	return is, nil
}

// AssignIssue sets or clears (nil assignee) the issue's assignee.
func (e Engine) AssignIssue(ctx context.Context, actor domain.User, key string, assigneeID *int64) (domain.Issue, error) {
	return e.UpdateIssue(ctx, actor, key, IssuePatch{AssigneeID: assigneeID, ClearAssignee: assigneeID == nil})
}

// evidence loads the artifact and approval snapshot for one issue.
func (e Engine) evidence(ctx context.Context, tx *sql.Tx, issueID int64) (gate.Evidence, error) {
	artifacts, err := e.Repo.ListArtifacts(ctx, tx, repo.ArtifactFilters{IssueID: issueID})
	if err != nil {
		return gate.Evidence{}, err
	}
	return gate.CollectEvidence(artifacts, func(artifactID int64) ([]domain.Approval, error) {
		return e.Repo.ListApprovals(ctx, tx, artifactID, "")
	})
}

func (e Engine) decide(is domain.Issue, target string, ev gate.Evidence, overrideReason string, actor domain.User) gate.Decision {
	d := e.Gate.Check(is, target, ev, overrideReason, actor.IsAdmin())
	label := target
	if st, ok := domain.ParseStage(target); ok {
		label = string(st)
	}
	switch {
	case !d.Allowed:
		e.Metrics.ObserveGate(label, metrics.OutcomeBlocked)
	case overrideReason != "" && !e.Gate.Check(is, target, ev, "", false).Allowed:
		e.Metrics.ObserveGate(label, metrics.OutcomeOverridden)
	default:
		e.Metrics.ObserveGate(label, metrics.OutcomeAllowed)
	}
	return d
}

// CheckGate is a dry run of TransitionIssue; it never mutates.
func (e Engine) CheckGate(ctx context.Context, actor domain.User, key, target, overrideReason string) (domain.Issue, gate.Decision, error) {
	is, err := e.Repo.GetIssueByKey(ctx, nil, key)
	if err != nil {
		return domain.Issue{}, gate.Decision{}, fmt.Errorf("issue %s: %w", strings.ToUpper(key), err)
	}
	ev, err := e.evidence(ctx, nil, is.ID)
	if err != nil {
		return domain.Issue{}, gate.Decision{}, err
	}
	return is, e.decide(is, target, ev, overrideReason, actor), nil
}

// TransitionResult carries the gate decision and the issue after the move.
// When the gate blocks, Issue is unchanged and nothing is written.
type TransitionResult struct {
	Issue    domain.Issue  `json:"issue"`
	From     domain.Stage  `json:"from"`
	Decision gate.Decision `json:"decision"`
}

// TransitionIssue moves the issue to target when the gate allows it. A
// blocked gate is reported in the result, not as an error.
func (e Engine) TransitionIssue(ctx context.Context, actor domain.User, key, target, overrideReason string) (TransitionResult, error) {
	if err := auth.RequireMutate(actor); err != nil {
		return TransitionResult{}, err
	}
	var res TransitionResult
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		is, err := e.Repo.GetIssueByKey(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("issue %s: %w", strings.ToUpper(key), err)
		}
		ev, err := e.evidence(ctx, tx, is.ID)
		if err != nil {
			return err
		}
		res.From = is.PLCStage
		res.Decision = e.decide(is, target, ev, overrideReason, actor)
		res.Issue = is
		if !res.Decision.Allowed {
			return nil
		}
		to, _ := domain.ParseStage(target)
		is.PLCStage = to
		is.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateIssue(ctx, tx, is); err != nil {
			return err
		}
		payload := audit.Payload{"from": res.From, "to": to}
		if overrideReason != "" {
			payload["override_reason"] = overrideReason
		}
		if _, err := e.auditLog().Append(ctx, tx, actorID(&actor), audit.IssueTransitioned, "issue", is.Key, payload); err != nil {
			return err
		}
		res.Issue = is
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return res, nil
}

// SearchResult is the read-only issue digest returned to the copilot.
type SearchResult struct {
	Key                string             `json:"key"`
	Summary            string             `json:"summary"`
	Type               domain.IssueType   `json:"type"`
	Status             domain.IssueStatus `json:"status"`
	PLCStage           domain.Stage       `json:"plc_stage"`
	DescriptionExcerpt string             `json:"description_excerpt"`
}

// SearchIssue looks an issue up by key and truncates its description.
func (e Engine) SearchIssue(ctx context.Context, key string) (SearchResult, error) {
	is, err := e.Repo.GetIssueByKey(ctx, nil, key)
	if err != nil {
		return SearchResult{}, fmt.Errorf("issue %s: %w", strings.ToUpper(key), err)
	}
	return SearchResult{
		Key:                is.Key,
		Summary:            is.Summary,
		Type:               is.Type,
		Status:             is.Status,
		PLCStage:           is.PLCStage,
		DescriptionExcerpt: Truncate(is.Description, e.cfg.Copilot.SearchExcerptChars),
	}, nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func nonNilCriteria(v []domain.ExitCriterion) []domain.ExitCriterion {
	if v == nil {
		return []domain.ExitCriterion{}
	}
	return v
}

func nonNilLinks(v []domain.EvidenceLink) []domain.EvidenceLink {
	if v == nil {
		return []domain.EvidenceLink{}
	}
	return v
}
