package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"plcgate/internal/audit"
	"plcgate/internal/domain"
	"plcgate/internal/engine"
	"plcgate/internal/gate"
	"plcgate/internal/metrics"
)

// Backend is the slice of the engine the copilot drives.
type Backend interface {
	CreateIssue(ctx context.Context, actor domain.User, opts engine.IssueCreateOptions) (domain.Issue, error)
	UpdateIssue(ctx context.Context, actor domain.User, key string, patch engine.IssuePatch) (domain.Issue, error)
	TransitionIssue(ctx context.Context, actor domain.User, key, target, overrideReason string) (engine.TransitionResult, error)
	CheckGate(ctx context.Context, actor domain.User, key, target, overrideReason string) (domain.Issue, gate.Decision, error)
	SearchIssue(ctx context.Context, key string) (engine.SearchResult, error)
	GenerateArtifact(ctx context.Context, actor domain.User, opts engine.ArtifactCreateOptions) (domain.Artifact, error)
	RecordToolCall(ctx context.Context, actor domain.User, objectType, objectID string, payload audit.Payload) error
}

// ToolResult is the outcome of one action. A blocked transition has
// OK=false and Blocked=true with the gate's missing requirements.
type ToolResult struct {
	Tool                Tool                        `json:"tool"`
	OK                  bool                        `json:"ok"`
	Result              any                         `json:"result,omitempty"`
	Error               string                      `json:"error,omitempty"`
	Blocked             bool                        `json:"blocked,omitempty"`
	MissingRequirements []domain.MissingRequirement `json:"missing_requirements,omitempty"`
}

type Copilot struct {
	Backend           Backend
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
	TraceSummaryChars int
}

func (c Copilot) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Proposal is returned by Propose for the caller to review.
type Proposal struct {
	MessageID string     `json:"message_id"`
	Plan      ActionPlan `json:"action_plan"`
}

// Propose classifies message and compiles a plan. For transitions with a
// known issue the gate is consulted so the plan shows what is missing.
func (c Copilot) Propose(ctx context.Context, actor domain.User, message string, cc Context) (Proposal, error) {
	intent, params := Classify(message, cc)
	c.Metrics.ObserveIntent(string(intent))

	var missing []domain.MissingRequirement
	if intent == IntentTransitionIssue && params.IssueKey != "" {
		_, d, err := c.Backend.CheckGate(ctx, actor, params.IssueKey, params.TargetStage, "")
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return Proposal{}, err
		case !d.Allowed:
			missing = d.Missing
		}
	}
	plan, err := Compile(intent, params, missing)
	if err != nil {
		return Proposal{}, err
	}
	id := uuid.NewString()
	c.logger().Debug("copilot plan proposed", "message_id", id, "intent", intent, "user_id", actor.ID, "missing", len(plan.MissingRequirements))
	return Proposal{MessageID: id, Plan: plan}, nil
}

// Execute runs every action in order. A failing action is reported in its
// result and does not stop later actions.
func (c Copilot) Execute(ctx context.Context, plan ActionPlan, actor domain.User) []ToolResult {
	results := make([]ToolResult, 0, len(plan.Actions))
	for _, action := range plan.Actions {
		res := c.run(ctx, action, actor)
		outcome := metrics.OutcomeOK
		if !res.OK {
			outcome = metrics.OutcomeError
			c.logger().Info("copilot tool failed", "tool", action.Tool, "user_id", actor.ID, "blocked", res.Blocked, "error", res.Error)
		}
		c.Metrics.ObserveTool(string(action.Tool), outcome)
		results = append(results, res)
	}
	return results
}

func (c Copilot) run(ctx context.Context, action Action, actor domain.User) ToolResult {
	res := ToolResult{Tool: action.Tool}
	if action.Args == nil || action.Args.Tool() != action.Tool {
		res.Error = "Unknown tool"
		return res
	}
	var (
		out        any
		objectType = "issue"
		objectID   string
		trace      audit.Payload
		err        error
	)
	switch args := action.Args.(type) {
	case CreateIssueArgs:
		out, objectID, err = c.createIssue(ctx, actor, args)
	case UpdateIssueArgs:
		out, objectID, err = c.updateIssue(ctx, actor, args)
	case AssignIssueArgs:
		out, objectID, err = c.assignIssue(ctx, actor, args)
	case TransitionIssueArgs:
		var tr engine.TransitionResult
		tr, err = c.Backend.TransitionIssue(ctx, actor, args.IssueKey, args.TargetStage, args.OverrideReason)
		if err == nil && !tr.Decision.Allowed {
			res.Blocked = true
			res.MissingRequirements = tr.Decision.Missing
			res.Result = map[string]any{"blocked": true, "missing_requirements": tr.Decision.Missing}
			return res
		}
		if err == nil {
			out = map[string]any{"key": tr.Issue.Key, "plc_stage": tr.Issue.PLCStage}
			objectID = tr.Issue.Key
		}
	case SearchIssuesArgs:
		var summary string
		out, summary, err = c.searchIssues(ctx, args)
		objectID = strings.ToUpper(args.IssueKey)
		trace = audit.Payload{"tool": action.Tool, "result_summary": engine.Truncate(summary, c.traceChars())}
	case GenerateArtifactArgs:
		var a domain.Artifact
		a, err = c.Backend.GenerateArtifact(ctx, actor, engine.ArtifactCreateOptions{Kind: args.Kind, IssueKey: args.IssueKey, ProjectKey: args.ProjectKey})
		if err == nil {
			out = map[string]any{"id": a.ID, "kind": a.Kind, "title": a.Title}
			objectType, objectID = "artifact", fmt.Sprint(a.ID)
		}
	default:
		res.Error = "Unknown tool"
		return res
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	res.Result = out
	if trace == nil {
		trace = audit.Payload{"tool": action.Tool, "args": action.Args, "result": out}
	}
	if err := c.Backend.RecordToolCall(ctx, actor, objectType, objectID, trace); err != nil {
		c.logger().Error("copilot trace write failed", "tool", action.Tool, "object_id", objectID, "error", err)
	}
	return res
}

func (c Copilot) traceChars() int {
	if c.TraceSummaryChars > 0 {
		return c.TraceSummaryChars
	}
	return 200
}

func (c Copilot) createIssue(ctx context.Context, actor domain.User, args CreateIssueArgs) (any, string, error) {
	if strings.TrimSpace(args.ProjectKey) == "" {
		return nil, "", fmt.Errorf("project_key required: %w", domain.ErrNotFound)
	}
	summary := args.Summary
	if strings.TrimSpace(summary) == "" {
		summary = "New issue"
	}
	is, err := c.Backend.CreateIssue(ctx, actor, engine.IssueCreateOptions{ProjectKey: args.ProjectKey, Type: args.Type, Summary: summary})
	if err != nil {
		return nil, "", err
	}
	return map[string]any{"key": is.Key, "id": is.ID}, is.Key, nil
}

func (c Copilot) updateIssue(ctx context.Context, actor domain.User, args UpdateIssueArgs) (any, string, error) {
	is, err := c.Backend.UpdateIssue(ctx, actor, args.IssueKey, engine.IssuePatch{
		Summary:     args.Summary,
		Description: args.Description,
		Priority:    args.Priority,
		Status:      args.Status,
	})
	if err != nil {
		return nil, "", err
	}
	return map[string]any{"key": is.Key}, is.Key, nil
}

// assignIssue leaves the assignee untouched when the plan carries none.
func (c Copilot) assignIssue(ctx context.Context, actor domain.User, args AssignIssueArgs) (any, string, error) {
	is, err := c.Backend.UpdateIssue(ctx, actor, args.IssueKey, engine.IssuePatch{AssigneeID: args.AssigneeID})
	if err != nil {
		return nil, "", err
	}
	return map[string]any{"key": is.Key, "assignee_id": is.AssigneeID}, is.Key, nil
}

func (c Copilot) searchIssues(ctx context.Context, args SearchIssuesArgs) (any, string, error) {
	if strings.TrimSpace(args.IssueKey) == "" {
		const msg = "No issue key provided."
		return map[string]any{"summary": msg}, msg, nil
	}
	r, err := c.Backend.SearchIssue(ctx, args.IssueKey)
	if errors.Is(err, domain.ErrNotFound) {
		const msg = "Issue not found."
		return map[string]any{"summary": msg, "key": strings.ToUpper(strings.TrimSpace(args.IssueKey))}, msg, nil
	}
	if err != nil {
		return nil, "", err
	}
	return r, r.Summary, nil
}
