package copilot

import (
	"encoding/json"
	"fmt"

	"plcgate/internal/domain"
)

type Tool string

const (
	ToolCreateIssue      Tool = "create_issue"
	ToolUpdateIssue      Tool = "update_issue"
	ToolAssignIssue      Tool = "assign_issue"
	ToolTransitionIssue  Tool = "transition_issue"
	ToolSearchIssues     Tool = "search_issues"
	ToolGenerateArtifact Tool = "generate_artifact"
)

// ToolArgs is implemented by the typed argument record of each tool.
type ToolArgs interface {
	Tool() Tool
}

type CreateIssueArgs struct {
	Summary    string           `json:"summary"`
	Type       domain.IssueType `json:"type"`
	ProjectKey string           `json:"project_key"`
}

type UpdateIssueArgs struct {
	IssueKey    string              `json:"issue_key"`
	Summary     *string             `json:"summary,omitempty"`
	Description *string             `json:"description,omitempty"`
	Priority    *domain.Priority    `json:"priority,omitempty"`
	Status      *domain.IssueStatus `json:"status,omitempty"`
}

type AssignIssueArgs struct {
	IssueKey   string `json:"issue_key"`
	AssigneeID *int64 `json:"assignee_id"`
}

type TransitionIssueArgs struct {
	IssueKey       string `json:"issue_key"`
	TargetStage    string `json:"target_stage"`
	OverrideReason string `json:"override_reason,omitempty"`
}

type SearchIssuesArgs struct {
	IssueKey string `json:"issue_key"`
}

type GenerateArtifactArgs struct {
	Kind       domain.ArtifactKind `json:"kind"`
	IssueKey   string              `json:"issue_key"`
	ProjectKey string              `json:"project_key,omitempty"`
}

func (CreateIssueArgs) Tool() Tool      { return ToolCreateIssue }
func (UpdateIssueArgs) Tool() Tool      { return ToolUpdateIssue }
func (AssignIssueArgs) Tool() Tool      { return ToolAssignIssue }
func (TransitionIssueArgs) Tool() Tool  { return ToolTransitionIssue }
func (SearchIssuesArgs) Tool() Tool     { return ToolSearchIssues }
func (GenerateArtifactArgs) Tool() Tool { return ToolGenerateArtifact }

// Action is one tool invocation. Args is nil only for a tool name this
// build does not know, which the executor reports as Unknown tool.
type Action struct {
	Tool Tool     `json:"tool"`
	Args ToolArgs `json:"args"`
}

// NewAction tags args with its tool name.
func NewAction(args ToolArgs) Action {
	return Action{Tool: args.Tool(), Args: args}
}

type wireAction struct {
	Tool Tool            `json:"tool"`
	Args json.RawMessage `json:"args"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage = []byte("{}")
	if a.Args != nil {
		if a.Args.Tool() != a.Tool {
			return nil, fmt.Errorf("action tool %q carries %q args", a.Tool, a.Args.Tool())
		}
		data, err := json.Marshal(a.Args)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(wireAction{Tool: a.Tool, Args: raw})
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	args := argsFor(w.Tool)
	if args == nil {
		*a = Action{Tool: w.Tool}
		return nil
	}
	if len(w.Args) > 0 && string(w.Args) != "null" {
		if err := json.Unmarshal(w.Args, args); err != nil {
			return fmt.Errorf("%s args: %w", w.Tool, err)
		}
	}
	*a = Action{Tool: w.Tool, Args: deref(args)}
	return nil
}

func argsFor(t Tool) any {
	switch t {
	case ToolCreateIssue:
		return &CreateIssueArgs{}
	case ToolUpdateIssue:
		return &UpdateIssueArgs{}
	case ToolAssignIssue:
		return &AssignIssueArgs{}
	case ToolTransitionIssue:
		return &TransitionIssueArgs{}
	case ToolSearchIssues:
		return &SearchIssuesArgs{}
	case ToolGenerateArtifact:
		return &GenerateArtifactArgs{}
	}
	return nil
}

func deref(v any) ToolArgs {
	switch a := v.(type) {
	case *CreateIssueArgs:
		return *a
	case *UpdateIssueArgs:
		return *a
	case *AssignIssueArgs:
		return *a
	case *TransitionIssueArgs:
		return *a
	case *SearchIssuesArgs:
		return *a
	case *GenerateArtifactArgs:
		return *a
	}
	return nil
}

// ActionPlan is the reviewable output of Compile and the input of Execute.
// It is never persisted.
type ActionPlan struct {
	Intent               Intent                      `json:"intent"`
	RequiresConfirmation bool                        `json:"requires_confirmation"`
	Actions              []Action                    `json:"actions"`
	UserMessage          string                      `json:"user_message"`
	MissingRequirements  []domain.MissingRequirement `json:"missing_requirements"`
}
