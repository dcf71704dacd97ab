package server

import (
	"plcgate/internal/copilot"
	"plcgate/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role" enum:"admin,pm,viewer"`
	Password string `json:"password"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateProjectRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

type CreateIssueRequest struct {
	Type              string                 `json:"type,omitempty" enum:"Epic,Story,Task,Bug,Decision,Risk,Experiment"`
	Summary           string                 `json:"summary"`
	Description       string                 `json:"description,omitempty"`
	Priority          string                 `json:"priority,omitempty" enum:"P0,P1,P2,P3"`
	RegulatoryImpact  string                 `json:"regulatory_impact,omitempty" enum:"low,med,high"`
	AssigneeID        *int64                 `json:"assignee_id,omitempty"`
	StageExitCriteria []domain.ExitCriterion `json:"stage_exit_criteria,omitempty"`
	EvidenceLinks     []domain.EvidenceLink  `json:"evidence_links,omitempty"`
}

// UpdateIssueRequest is a partial update; absent fields are left alone and
// "assignee_id": null clears the assignee.
type UpdateIssueRequest struct {
	Type              *string                 `json:"type,omitempty" enum:"Epic,Story,Task,Bug,Decision,Risk,Experiment"`
	Summary           *string                 `json:"summary,omitempty"`
	Description       *string                 `json:"description,omitempty"`
	Status            *string                 `json:"status,omitempty" enum:"open,in_progress,done"`
	Priority          *string                 `json:"priority,omitempty" enum:"P0,P1,P2,P3"`
	RegulatoryImpact  *string                 `json:"regulatory_impact,omitempty" enum:"low,med,high"`
	AssigneeID        *int64                  `json:"assignee_id,omitempty"`
	StageExitCriteria *[]domain.ExitCriterion `json:"stage_exit_criteria,omitempty"`
	EvidenceLinks     *[]domain.EvidenceLink  `json:"evidence_links,omitempty"`
}

type AssignIssueRequest struct {
	AssigneeID *int64 `json:"assignee_id,omitempty" doc:"Omit to unassign"`
}

type TransitionRequest struct {
	TargetStage    string `json:"target_stage" example:"Growth"`
	OverrideReason string `json:"override_reason,omitempty"`
}

type CreateArtifactRequest struct {
	Kind       string  `json:"kind" enum:"launch_checklist,decision_memo"`
	IssueKey   string  `json:"issue_key,omitempty"`
	ProjectKey string  `json:"project_key,omitempty"`
	Title      string  `json:"title,omitempty"`
	Content    *string `json:"content,omitempty"`
}

type DecideApprovalRequest struct {
	Status  string `json:"status" enum:"approved,rejected"`
	Comment string `json:"comment,omitempty"`
}

type CopilotMessageRequest struct {
	Message string          `json:"message"`
	Context copilot.Context `json:"context,omitempty"`
}

type CopilotExecuteRequest struct {
	ActionPlan copilot.ActionPlan `json:"action_plan"`
}

// Responses

type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   string      `json:"expires_at" format:"date-time"`
	User        domain.User `json:"user"`
}

type APIKeyResponse struct {
	Key    domain.APIKey `json:"key"`
	Secret string        `json:"secret,omitempty" doc:"Only returned at creation"`
}

type TransitionResponse struct {
	OK                  bool                        `json:"ok"`
	Blocked             bool                        `json:"blocked,omitempty"`
	Message             string                      `json:"message,omitempty"`
	MissingRequirements []domain.MissingRequirement `json:"missing_requirements,omitempty"`
	From                domain.Stage                `json:"from,omitempty"`
	Issue               *domain.Issue               `json:"issue,omitempty"`
}

type GateResponse struct {
	IssueKey            string                      `json:"issue_key"`
	CurrentStage        domain.Stage                `json:"current_stage"`
	TargetStage         string                      `json:"target_stage"`
	Allowed             bool                        `json:"allowed"`
	MissingRequirements []domain.MissingRequirement `json:"missing_requirements"`
}

type CopilotExecuteResponse struct {
	Results []copilot.ToolResult `json:"results"`
}
