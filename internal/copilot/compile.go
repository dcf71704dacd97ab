package copilot

import (
	"fmt"

	"plcgate/internal/domain"
)

// Compile maps an intent to its single-action plan. missing carries a prior
// gate check and is only meaningful for transition_issue. Compile never
// touches the store.
func Compile(intent Intent, p Params, missing []domain.MissingRequirement) (ActionPlan, error) {
	plan := ActionPlan{
		Intent:               intent,
		RequiresConfirmation: intent != IntentSummarizeIssue,
		MissingRequirements:  []domain.MissingRequirement{},
	}
	if len(missing) > 0 {
		plan.MissingRequirements = append(plan.MissingRequirements, missing...)
	}
	switch intent {
	case IntentCreateIssue:
		plan.Actions = []Action{NewAction(CreateIssueArgs{Summary: "New issue", Type: domain.IssueTask, ProjectKey: p.ProjectKey})}
		plan.UserMessage = "Create a new issue with details from your message."
	case IntentUpdateIssue:
		plan.Actions = []Action{NewAction(UpdateIssueArgs{IssueKey: p.IssueKey})}
		plan.UserMessage = "Update the issue with the requested changes."
	case IntentAssignIssue:
		plan.Actions = []Action{NewAction(AssignIssueArgs{IssueKey: p.IssueKey})}
		plan.UserMessage = "Assign the issue to the specified user."
	case IntentTransitionIssue:
		stage := p.TargetStage
		if stage == "" {
			stage = "target"
		}
		plan.Actions = []Action{NewAction(TransitionIssueArgs{IssueKey: p.IssueKey, TargetStage: p.TargetStage})}
		plan.UserMessage = fmt.Sprintf("Transition issue to %s stage.", stage)
	case IntentSummarizeIssue:
		plan.Actions = []Action{NewAction(SearchIssuesArgs{IssueKey: p.IssueKey})}
		plan.UserMessage = "Retrieve and summarize the issue or epic."
	case IntentGenerateLaunchChecklist:
		plan.Actions = []Action{NewAction(GenerateArtifactArgs{Kind: domain.ArtifactLaunchChecklist, IssueKey: p.IssueKey, ProjectKey: p.ProjectKey})}
		plan.UserMessage = "Generate a Launch Checklist artifact for the issue."
	case IntentGenerateDecisionMemo:
		plan.Actions = []Action{NewAction(GenerateArtifactArgs{Kind: domain.ArtifactDecisionMemo, IssueKey: p.IssueKey, ProjectKey: p.ProjectKey})}
		plan.UserMessage = "Generate a Decision Memo artifact for the issue."
	default:
		return ActionPlan{}, fmt.Errorf("intent %q: %w", intent, domain.ErrUnknownTool)
	}
	return plan, nil
}
